package corestream

import (
	"fmt"
	"strconv"
	"strings"
)

// transportSpec is one SETUP request's Transport header, parsed just
// far enough to pick UDP vs. interleaved delivery and the channel or
// client-port pair, mirroring the subset of RFC 2326 §12.39 the
// original server's RTPTransportParser actually consumes.
type transportSpec struct {
	interleaved      bool
	rtpChannel       byte
	rtcpChannel      byte
	clientRTPPort    int
	clientRTCPPort   int
}

func parseTransport(header string) (transportSpec, error) {
	var spec transportSpec
	fields := strings.Split(header, ";")
	if strings.TrimSpace(header) == "" {
		return spec, fmt.Errorf("corestream: empty Transport header")
	}

	for _, f := range fields[1:] {
		f = strings.TrimSpace(f)
		switch {
		case f == "TCP":
			spec.interleaved = true
		case strings.HasPrefix(f, "interleaved="):
			spec.interleaved = true
			lo, hi, err := parsePortPair(strings.TrimPrefix(f, "interleaved="))
			if err != nil {
				return spec, err
			}
			spec.rtpChannel, spec.rtcpChannel = byte(lo), byte(hi)
		case strings.HasPrefix(f, "client_port="):
			lo, hi, err := parsePortPair(strings.TrimPrefix(f, "client_port="))
			if err != nil {
				return spec, err
			}
			spec.clientRTPPort, spec.clientRTCPPort = lo, hi
		}
	}
	if strings.Contains(fields[0], "/TCP") {
		spec.interleaved = true
	}
	return spec, nil
}

func parsePortPair(s string) (int, int, error) {
	parts := strings.SplitN(s, "-", 2)
	lo, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("corestream: bad port pair %q: %w", s, err)
	}
	hi := lo + 1
	if len(parts) == 2 {
		if hi, err = strconv.Atoi(parts[1]); err != nil {
			return 0, 0, fmt.Errorf("corestream: bad port pair %q: %w", s, err)
		}
	}
	return lo, hi, nil
}

// buildTransportResponse renders the Transport header SETUP's 200
// response answers with, echoing the client's own delivery choice.
func buildTransportResponse(spec transportSpec, serverRTPPort, serverRTCPPort int, ssrc uint32) string {
	if spec.interleaved {
		return fmt.Sprintf("RTP/AVP/TCP;unicast;interleaved=%d-%d;ssrc=%08X",
			spec.rtpChannel, spec.rtcpChannel, ssrc)
	}
	return fmt.Sprintf("RTP/AVP;unicast;client_port=%d-%d;server_port=%d-%d;ssrc=%08X",
		spec.clientRTPPort, spec.clientRTCPPort, serverRTPPort, serverRTCPPort, ssrc)
}
