package corestream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTransportUDP(t *testing.T) {
	spec, err := parseTransport("RTP/AVP;unicast;client_port=8000-8001")
	require.NoError(t, err)
	assert.False(t, spec.interleaved)
	assert.Equal(t, 8000, spec.clientRTPPort)
	assert.Equal(t, 8001, spec.clientRTCPPort)
}

func TestParseTransportInterleaved(t *testing.T) {
	spec, err := parseTransport("RTP/AVP/TCP;unicast;interleaved=0-1")
	require.NoError(t, err)
	assert.True(t, spec.interleaved)
	assert.Equal(t, byte(0), spec.rtpChannel)
	assert.Equal(t, byte(1), spec.rtcpChannel)
}

func TestParseTransportEmpty(t *testing.T) {
	_, err := parseTransport("")
	assert.Error(t, err)
}

func TestParsePortPairSingle(t *testing.T) {
	lo, hi, err := parsePortPair("7000")
	require.NoError(t, err)
	assert.Equal(t, 7000, lo)
	assert.Equal(t, 7001, hi)
}

func TestParsePortPairBad(t *testing.T) {
	_, _, err := parsePortPair("not-a-port")
	assert.Error(t, err)
}

func TestBuildTransportResponseUDP(t *testing.T) {
	spec := transportSpec{clientRTPPort: 8000, clientRTCPPort: 8001}
	header := buildTransportResponse(spec, 9000, 9001, 0xDEADBEEF)
	assert.Equal(t, "RTP/AVP;unicast;client_port=8000-8001;server_port=9000-9001;ssrc=DEADBEEF", header)
}

func TestBuildTransportResponseInterleaved(t *testing.T) {
	spec := transportSpec{interleaved: true, rtpChannel: 0, rtcpChannel: 1}
	header := buildTransportResponse(spec, 0, 0, 0x12345678)
	assert.Equal(t, "RTP/AVP/TCP;unicast;interleaved=0-1;ssrc=12345678", header)
}
