package servercore

import (
	"testing"

	"github.com/gtfodev/rtspcore/internal/rtpsession"
	"github.com/gtfodev/rtspcore/internal/rtspsession"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRTPRegistryResolveRetains(t *testing.T) {
	reg := newRTPRegistry()
	sess := rtpsession.New("rtp-1")
	reg.add(sess)

	got, ok := reg.resolve("rtp-1")
	require.True(t, ok)
	assert.Equal(t, sess, got)

	// Releasing the resolve's reference alone must not tear the
	// session down: the registry still holds its own baseline
	// reference from add.
	reg.release(got)
	_, stillThere := reg.byID["rtp-1"]
	assert.True(t, stillThere)

	// Only remove gives back the registry's own baseline reference.
	reg.remove("rtp-1")
	assert.False(t, reg.exists("rtp-1"))
}

func TestRTPRegistryCount(t *testing.T) {
	reg := newRTPRegistry()
	assert.Equal(t, 0, reg.count())
	reg.add(rtpsession.New("a"))
	reg.add(rtpsession.New("b"))
	assert.Equal(t, 2, reg.count())
}

func TestRTSPRegistryAddRemove(t *testing.T) {
	reg := newRTSPRegistry()
	assert.Equal(t, 0, reg.count())
	assert.False(t, reg.exists("s-1"))

	reg.add(rtspsession.New("s-1", nil, nil, nil, nil))
	assert.True(t, reg.exists("s-1"))
	assert.Equal(t, 1, reg.count())

	reg.remove("s-1")
	assert.False(t, reg.exists("s-1"))
	assert.Equal(t, 0, reg.count())
}
