package servercore

import "sync/atomic"

// Admission implements the resource-exhaustion checks that surface as
// qtsserr.KindResourceExhaustion: a hard connection-count ceiling and
// a soft bandwidth ceiling, grounded on original_source/QTSServer.cpp's
// fNumUDPSockets/fMaxBandwidthInBits admission checks carried out
// before a new session is allowed to proceed.
type Admission struct {
	maxConnections int
	maxBandwidth   uint64

	connections atomic.Int64
	bandwidth   atomic.Uint64
}

// NewAdmission builds an Admission with the given ceilings; zero means
// unlimited.
func NewAdmission(maxConnections int, maxBandwidthBPS uint64) *Admission {
	return &Admission{maxConnections: maxConnections, maxBandwidth: maxBandwidthBPS}
}

// AdmitConnection reports whether one more TCP connection may be
// accepted; it does not itself increment the live count, since the
// caller only knows the connection survived accept() after this
// check, and must decrement on its own teardown path too.
func (a *Admission) AdmitConnection() bool {
	if a.maxConnections <= 0 {
		return true
	}
	return a.connections.Load() < int64(a.maxConnections)
}

// AdmitBandwidth reports whether an additional additionalBPS of
// outgoing bitrate would keep the server under its configured ceiling.
func (a *Admission) AdmitBandwidth(additionalBPS uint64) bool {
	if a.maxBandwidth == 0 {
		return true
	}
	return a.bandwidth.Load()+additionalBPS <= a.maxBandwidth
}

// ReserveBandwidth records additionalBPS as committed, e.g. when a
// SETUP succeeds.
func (a *Admission) ReserveBandwidth(additionalBPS uint64) { a.bandwidth.Add(additionalBPS) }

// ReleaseBandwidth gives back bandwidth reserved by ReserveBandwidth.
func (a *Admission) ReleaseBandwidth(bps uint64) { a.bandwidth.Add(^(bps - 1)) }

// ConnectionCount returns the current live connection count.
func (a *Admission) ConnectionCount() int64 { return a.connections.Load() }

// BandwidthInUse returns the current reserved bandwidth.
func (a *Admission) BandwidthInUse() uint64 { return a.bandwidth.Load() }
