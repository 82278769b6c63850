package socketpool

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/gtfodev/rtspcore/internal/corelog"
	"golang.org/x/time/rate"
)

const (
	minRTCPBufferFloor = 32 * 1024 // ENOBUFS halving floor
	maxBindAttempts    = 64
)

// pairKey keys the pool by local ip and the RTP (even) port.
type pairKey struct {
	ip  string
	rtp int
}

// Pair is a shared RTP (even port, outgoing) + RTCP (odd port,
// incoming demuxer) UDP socket pair, refcounted across every RTP
// Stream that shares it.
type Pair struct {
	LocalIP  string
	RTPPort  int
	RTCPPort int

	RTPConn  *net.UDPConn
	RTCPConn *net.UDPConn

	mu       sync.Mutex
	refcount int
}

func (p *Pair) retain() { p.mu.Lock(); p.refcount++; p.mu.Unlock() }

func (p *Pair) release() int {
	p.mu.Lock()
	p.refcount--
	n := p.refcount
	p.mu.Unlock()
	return n
}

// UDPPool is the factory and owner of UDP Socket Pairs, keyed by
// (local-ip, rtp-port).
type UDPPool struct {
	log *corelog.Logger

	basePort      int
	rtcpBufSize   int
	bindLimiter   *rate.Limiter // paces bind-retry attempts under contention
	mu            sync.Mutex
	pairs         map[pairKey]*Pair
}

// NewUDPPool creates a pool that probes for free port pairs starting at
// basePort and requests rtcpBufSize for each RTCP socket's receive
// buffer. The bind-retry limiter is grounded on the teacher's
// golang.org/x/time/rate usage in pkg/nest/queue.go and
// pkg/bridge/pacer.go's leaky-bucket pacing, reused here to avoid a
// hot retry loop hammering the kernel when ports are scarce.
func NewUDPPool(basePort, rtcpBufSize int, log *corelog.Logger) *UDPPool {
	if log == nil {
		log = corelog.Default()
	}
	if rtcpBufSize <= 0 {
		rtcpBufSize = 256 * 1024
	}
	return &UDPPool{
		log:         log,
		basePort:    basePort,
		rtcpBufSize: rtcpBufSize,
		bindLimiter: rate.NewLimiter(rate.Limit(200), 10),
		pairs:       make(map[pairKey]*Pair),
	}
}

// Acquire returns the shared pair for localIP, creating one if none
// exists. Every call must be matched by a Release.
func (u *UDPPool) Acquire(localIP string) (*Pair, error) {
	u.mu.Lock()
	for _, pair := range u.pairs {
		if pair.LocalIP == localIP {
			pair.retain()
			u.mu.Unlock()
			return pair, nil
		}
	}
	u.mu.Unlock()

	pair, err := u.bind(localIP)
	if err != nil {
		return nil, err
	}
	pair.retain()

	u.mu.Lock()
	u.pairs[pairKey{ip: localIP, rtp: pair.RTPPort}] = pair
	u.mu.Unlock()
	return pair, nil
}

// Release decrements pair's refcount and destroys it at zero.
func (u *UDPPool) Release(pair *Pair) {
	if pair.release() > 0 {
		return
	}
	u.mu.Lock()
	delete(u.pairs, pairKey{ip: pair.LocalIP, rtp: pair.RTPPort})
	u.mu.Unlock()

	pair.RTPConn.Close()
	pair.RTCPConn.Close()
}

// bind probes for an even RTP port p (and odd RTCP port p+1), retrying
// with p+2 when the kernel assigns an odd RTP port or the RTCP port is
// already taken.
func (u *UDPPool) bind(localIP string) (*Pair, error) {
	port := u.basePort
	if port <= 0 {
		port = 6970
	}
	if port%2 != 0 {
		port++
	}

	bufSize := u.rtcpBufSize
	for attempt := 0; attempt < maxBindAttempts; attempt++ {
		_ = u.bindLimiter.Wait(context.Background())

		rtpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(localIP), Port: port})
		if err != nil {
			port += 2
			continue
		}
		if rtpConn.LocalAddr().(*net.UDPAddr).Port%2 != 0 {
			rtpConn.Close()
			port += 2
			continue
		}

		rtcpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(localIP), Port: port + 1})
		if err != nil {
			rtpConn.Close()
			port += 2
			continue
		}

		bufSize = u.setRTCPBuffer(rtcpConn, bufSize)

		return &Pair{
			LocalIP:  localIP,
			RTPPort:  port,
			RTCPPort: port + 1,
			RTPConn:  rtpConn,
			RTCPConn: rtcpConn,
		}, nil
	}
	return nil, fmt.Errorf("socketpool: no free UDP port pair found near base %d after %d attempts", u.basePort, maxBindAttempts)
}

// setRTCPBuffer requests bufSize for conn's receive buffer, halving
// down to minRTCPBufferFloor on failure.
func (u *UDPPool) setRTCPBuffer(conn *net.UDPConn, bufSize int) int {
	size := bufSize
	for size >= minRTCPBufferFloor {
		if err := conn.SetReadBuffer(size); err == nil {
			return size
		}
		size /= 2
	}
	_ = conn.SetReadBuffer(minRTCPBufferFloor)
	u.log.Warn("RTCP receive buffer reduced to floor", "floor", minRTCPBufferFloor)
	return minRTCPBufferFloor
}
