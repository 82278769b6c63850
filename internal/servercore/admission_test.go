package servercore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmissionConnectionCeiling(t *testing.T) {
	a := NewAdmission(2, 0)
	require.True(t, a.AdmitConnection())
	a.connections.Add(1)
	require.True(t, a.AdmitConnection())
	a.connections.Add(1)
	assert.False(t, a.AdmitConnection())
}

func TestAdmissionUnlimitedConnections(t *testing.T) {
	a := NewAdmission(0, 0)
	a.connections.Add(1000)
	assert.True(t, a.AdmitConnection())
}

func TestAdmissionBandwidthCeiling(t *testing.T) {
	a := NewAdmission(0, 1000)
	assert.True(t, a.AdmitBandwidth(500))
	a.ReserveBandwidth(500)
	assert.True(t, a.AdmitBandwidth(500))
	assert.False(t, a.AdmitBandwidth(501))
}

func TestAdmissionReleaseBandwidth(t *testing.T) {
	a := NewAdmission(0, 1000)
	a.ReserveBandwidth(800)
	require.Equal(t, uint64(800), a.BandwidthInUse())
	a.ReleaseBandwidth(300)
	assert.Equal(t, uint64(500), a.BandwidthInUse())
}
