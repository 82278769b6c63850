// Package rtpstream provides the wire-level helpers shared by RTP
// Streams: interleaved TCP framing (RFC 2326 §10.12) and SDP body
// construction for DESCRIBE responses. Framing is grounded on the
// teacher's pkg/rtsp/client.go channel/interleave handling in
// ReadPackets (the client-side mirror of what a server must write);
// packet types come from github.com/pion/rtp and
// github.com/pion/rtcp, matching the teacher's go.mod.
package rtpstream

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pion/rtp"
)

// InterleavedMagic is the '$' byte that introduces an interleaved
// frame (RFC 2326 §10.12).
const InterleavedMagic = '$'

// Frame is one interleaved RTP/RTCP frame: $<channel:1><len:2><data>.
type Frame struct {
	Channel byte
	Data    []byte
}

// WriteFrame writes an interleaved frame to w.
func WriteFrame(w io.Writer, channel byte, data []byte) error {
	if len(data) > 0xFFFF {
		return fmt.Errorf("rtpstream: interleaved payload too large: %d bytes", len(data))
	}
	hdr := [4]byte{InterleavedMagic, channel}
	binary.BigEndian.PutUint16(hdr[2:], uint16(len(data)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write interleaved header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write interleaved payload: %w", err)
	}
	return nil
}

// ReadFrame reads one interleaved frame from r. Malformed framing
// (anything other than the '$' magic at the expected position) is a
// transport-fatal condition and is reported as an error;
// the caller converts it to session termination.
func ReadFrame(r *bufio.Reader) (*Frame, error) {
	hdr := make([]byte, 4)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}
	if hdr[0] != InterleavedMagic {
		return nil, fmt.Errorf("rtpstream: malformed interleaved frame: got 0x%02x, want '$'", hdr[0])
	}
	length := binary.BigEndian.Uint16(hdr[2:])
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read interleaved payload: %w", err)
	}
	return &Frame{Channel: hdr[1], Data: data}, nil
}

// MarshalRTP serializes an RTP packet for interleaved or UDP delivery.
func MarshalRTP(pkt *rtp.Packet) ([]byte, error) {
	return pkt.Marshal()
}

// UnmarshalRTP parses the interleaved/UDP payload of an RTP packet.
func UnmarshalRTP(data []byte) (*rtp.Packet, error) {
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("unmarshal rtp packet: %w", err)
	}
	return pkt, nil
}
