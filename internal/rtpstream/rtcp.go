package rtpstream

import (
	"fmt"

	"github.com/pion/rtcp"
)

// ReceiverStats summarizes one client receiver report, used by the RTP
// Session to update its late-packet aggregate counters.
type ReceiverStats struct {
	SSRC           uint32
	FractionLost   uint8
	PacketsLost    int32
	HighestSeqSeen uint32
	Jitter         uint32
}

// ParseReceiverReports unmarshals an RTCP compound packet and extracts
// every ReceptionReport it carries, grounded on the teacher's go.mod
// dependency on github.com/pion/rtcp (declared there but, like
// zerolog, never exercised in the teacher's WebRTC bridge code path —
// this is where it earns an actual caller).
func ParseReceiverReports(data []byte) ([]ReceiverStats, error) {
	packets, err := rtcp.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal rtcp: %w", err)
	}

	var out []ReceiverStats
	for _, p := range packets {
		switch rr := p.(type) {
		case *rtcp.ReceiverReport:
			for _, report := range rr.Reports {
				out = append(out, ReceiverStats{
					SSRC:           report.SSRC,
					FractionLost:   report.FractionLost,
					PacketsLost:    report.TotalLost,
					HighestSeqSeen: report.LastSequenceNumber,
					Jitter:         report.Jitter,
				})
			}
		case *rtcp.SenderReport:
			for _, report := range rr.Reports {
				out = append(out, ReceiverStats{
					SSRC:           report.SSRC,
					FractionLost:   report.FractionLost,
					PacketsLost:    report.TotalLost,
					HighestSeqSeen: report.LastSequenceNumber,
					Jitter:         report.Jitter,
				})
			}
		}
	}
	return out, nil
}
