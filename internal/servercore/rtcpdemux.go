package servercore

import (
	"fmt"
	"net"

	"github.com/gtfodev/rtspcore/internal/corelog"
	"github.com/gtfodev/rtspcore/internal/poller"
	"github.com/gtfodev/rtspcore/internal/rtpsession"
	"github.com/gtfodev/rtspcore/internal/rtpstream"
	"github.com/gtfodev/rtspcore/internal/socketpool"
)

// rtcpHandler implements poller.Handler for one UDP Socket Pair's
// RTCP half: receiver/sender reports arrive asynchronously from the
// media flow, so they are demultiplexed through the event poller
// rather than a blocking per-stream goroutine.
type rtcpHandler struct {
	pair   *socketpool.Pair
	lookup func(ssrc uint32) (*rtpsession.Stream, bool)
	log    *corelog.Logger
}

func (h *rtcpHandler) OnReadable() {
	buf := make([]byte, 2048)
	for {
		n, err := h.pair.RTCPConn.Read(buf)
		if err != nil {
			return // would-block (edge-triggered: drain until the kernel says so) or a real socket error
		}
		stats, err := rtpstream.ParseReceiverReports(buf[:n])
		if err != nil {
			h.log.Debugc(corelog.CategoryRTP, "malformed rtcp packet", "err", err.Error())
			continue
		}
		for _, st := range stats {
			if stream, ok := h.lookup(st.SSRC); ok {
				stream.RecordReceiverReport(st.FractionLost, st.PacketsLost)
			}
		}
	}
}

func (h *rtcpHandler) OnWritable() {}

// RegisterRTCPDemux arms pair's RTCP socket on the core's event
// poller, routing parsed receiver reports to lookup. Called by
// whatever Preprocessor module handles SETUP, once it has acquired a
// UDP Socket Pair for the new stream.
func (c *Core) RegisterRTCPDemux(pair *socketpool.Pair, lookup func(ssrc uint32) (*rtpsession.Stream, bool)) error {
	fd, err := rawFD(pair.RTCPConn)
	if err != nil {
		return fmt.Errorf("servercore: rtcp demux: %w", err)
	}
	h := &rtcpHandler{pair: pair, lookup: lookup, log: c.log}
	return c.poll.Register(fd, poller.Readable, h)
}

// UnregisterRTCPDemux disarms pair's RTCP socket, called when its last
// holder releases it back to the UDP Socket Pool.
func (c *Core) UnregisterRTCPDemux(pair *socketpool.Pair) error {
	fd, err := rawFD(pair.RTCPConn)
	if err != nil {
		return fmt.Errorf("servercore: rtcp demux: %w", err)
	}
	c.poll.Unregister(fd)
	return nil
}

func rawFD(conn *net.UDPConn) (int, error) {
	sc, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int
	ctrlErr := sc.Control(func(f uintptr) { fd = int(f) })
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	return fd, nil
}
