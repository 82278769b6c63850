package corestream

import (
	"testing"

	"github.com/gtfodev/rtspcore/internal/rtpstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticSourcePublishDescribe(t *testing.T) {
	src := NewStaticSource()
	medias := []rtpstream.MediaDescriptor{{MediaType: "video", PayloadType: 96, Encoding: "H264", ClockRateHz: 90000}}
	src.Publish("/cam1", "camera one", medias, nil)

	name, got, ok := src.Describe("/cam1")
	require.True(t, ok)
	assert.Equal(t, "camera one", name)
	assert.Equal(t, medias, got)
}

func TestStaticSourceDescribeMissing(t *testing.T) {
	src := NewStaticSource()
	_, _, ok := src.Describe("/missing")
	assert.False(t, ok)
}

func TestStaticSourceUnpublish(t *testing.T) {
	src := NewStaticSource()
	src.Publish("/cam1", "camera one", nil, nil)
	src.Unpublish("/cam1")
	_, _, ok := src.Describe("/cam1")
	assert.False(t, ok)
}

func TestStaticSourceSenderNilByDefault(t *testing.T) {
	src := NewStaticSource()
	assert.Nil(t, src.Sender("/nowhere"))
}
