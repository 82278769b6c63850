package servercore

import (
	"net"
	"testing"
	"time"

	"github.com/gtfodev/rtspcore/internal/corelog"
	"github.com/gtfodev/rtspcore/internal/poller"
	"github.com/gtfodev/rtspcore/internal/rtpsession"
	"github.com/gtfodev/rtspcore/internal/socketpool"
	"github.com/pion/rtcp"
	"github.com/stretchr/testify/require"
)

func TestRegisterRTCPDemuxDeliversReceiverReports(t *testing.T) {
	p, err := poller.New()
	require.NoError(t, err)
	defer p.Close()
	go p.Run()

	pool := socketpool.NewUDPPool(43000, 64*1024, corelog.Default())
	pair, err := pool.Acquire("127.0.0.1")
	require.NoError(t, err)
	defer pool.Release(pair)

	core := &Core{log: corelog.Default(), poll: p}

	stream := rtpsession.NewUDPStream(0xCAFEBABE, pair, rtpsession.PayloadInfo{})
	lookup := func(ssrc uint32) (*rtpsession.Stream, bool) {
		if ssrc == stream.SSRC {
			return stream, true
		}
		return nil, false
	}
	require.NoError(t, core.RegisterRTCPDemux(pair, lookup))
	defer core.UnregisterRTCPDemux(pair)

	pkt := &rtcp.ReceiverReport{
		SSRC: 1,
		Reports: []rtcp.ReceptionReport{
			{SSRC: stream.SSRC, FractionLost: 9, TotalLost: 17},
		},
	}
	raw, err := pkt.Marshal()
	require.NoError(t, err)

	peer, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: pair.RTCPPort})
	require.NoError(t, err)
	defer peer.Close()
	_, err = peer.Write(raw)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s := stream.Snapshot()
		return s.PacketsLost == 17
	}, time.Second, 10*time.Millisecond)
}
