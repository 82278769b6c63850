package rtpstream

import (
	"fmt"
	"time"

	"github.com/pion/sdp/v3"
)

// MediaDescriptor describes one media substream for a DESCRIBE body;
// the Request role's default handler populates one of these per RTP
// Stream a preprocessor/file-reader collaborator has announced.
type MediaDescriptor struct {
	MediaType   string // "audio" or "video"
	PayloadType uint8
	Encoding    string // e.g. "H264", "MPA"
	ClockRateHz uint32
	Control     string // relative control URL, e.g. "trackID=0"
	BitrateBPS  uint64 // nominal bitrate, used for bandwidth admission (BuildSDP emits no b= line for it); 0 if unknown
}

// BuildSDP constructs the SDP body the Request role's default DESCRIBE
// handler sends, using
// github.com/pion/sdp/v3 rather than hand-formatted text, mirroring
// the inverse operation the teacher's pkg/rtsp/client.go parseSDP
// already performs on the client side.
func BuildSDP(sessionName, contentBase string, origin string, medias []MediaDescriptor) ([]byte, error) {
	now := uint64(time.Now().Unix())

	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      now,
			SessionVersion: now,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: origin,
		},
		SessionName: sdp.SessionName(sessionName),
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}
	desc = desc.WithPropertyAttribute("tool", "rtspcore").
		WithPropertyAttribute("type", "broadcast").
		WithPropertyAttribute("control", contentBase)

	for _, m := range medias {
		md := &sdp.MediaDescription{
			MediaName: sdp.MediaName{
				Media:   m.MediaType,
				Port:    sdp.RangedPort{Value: 0},
				Protos:  []string{"RTP", "AVP"},
				Formats: []string{fmt.Sprintf("%d", m.PayloadType)},
			},
		}
		md = md.WithAttribute("rtpmap", fmt.Sprintf("%d %s/%d", m.PayloadType, m.Encoding, m.ClockRateHz)).
			WithAttribute("control", m.Control)
		desc.MediaDescriptions = append(desc.MediaDescriptions, md)
	}

	return desc.Marshal()
}
