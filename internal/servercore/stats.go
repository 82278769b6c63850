package servercore

import (
	"context"
	"encoding/xml"
	"os"
	"time"

	"github.com/gtfodev/rtspcore/internal/corelog"
	"github.com/gtfodev/rtspcore/internal/scheduler"
)

// statusPlist is the periodic server-status file: an XML snapshot
// written every N seconds. The shape is a plain struct rather than
// Apple's actual <plist><dict> element soup, since nothing downstream
// of this core is expected to be a real plutil consumer — only the
// top-level element name is kept for the format marker.
type statusPlist struct {
	XMLName      xml.Name `xml:"plist"`
	Version      string   `xml:"version,attr"`
	GeneratedAt  string   `xml:"generated_at"`
	UptimeSecs   int64    `xml:"uptime_seconds"`
	RTSPSessions int      `xml:"rtsp_sessions"`
	RTPSessions  int      `xml:"rtp_sessions"`
	Connections  int64    `xml:"connections"`
	BandwidthBPS uint64   `xml:"bandwidth_bps"`
}

// statsTask is a scheduler.Runnable that writes statusPlist to disk on
// a fixed interval, exercising the Task Scheduler's reschedule
// contract instead of a bare goroutine+time.Sleep loop.
type statsTask struct {
	core      *Core
	path      string
	interval  time.Duration
	startedAt time.Time
	task      *scheduler.Task
	sched     *scheduler.Scheduler
}

func newStatsTask(core *Core, path string, interval time.Duration) *statsTask {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &statsTask{core: core, path: path, interval: interval, startedAt: time.Now()}
}

func (st *statsTask) start(ctx context.Context, sched *scheduler.Scheduler) {
	st.sched = sched
	st.task = scheduler.NewTask("status-file", st)
	sched.Signal(st.task, scheduler.EventSignal)
}

func (st *statsTask) stop() {
	if st.task == nil {
		return
	}
	st.sched.Kill(st.task)
	st.task.Release()
}

// Run writes one snapshot and reschedules itself after the configured
// interval; a write failure is logged but never terminates the task,
// since a missing status file is diagnostic-only, not session-fatal.
func (st *statsTask) Run(events scheduler.EventFlags) scheduler.RunResult {
	if events&scheduler.EventKill != 0 {
		return scheduler.Terminate
	}

	if st.path != "" {
		if err := st.write(); err != nil {
			st.core.log.Debugc(corelog.CategoryRTSP, "status file write failed", "path", st.path, "err", err.Error())
		}
	}
	st.core.metrics.SetRTPSessions(st.core.rtpSessions.count())
	st.core.metrics.SetBandwidth(st.core.admission.BandwidthInUse())

	return scheduler.IdleFor(st.interval.Microseconds())
}

func (st *statsTask) write() error {
	snap := statusPlist{
		Version:      "1.0",
		GeneratedAt:  time.Now().UTC().Format(time.RFC3339),
		UptimeSecs:   int64(time.Since(st.startedAt).Seconds()),
		RTSPSessions: st.core.rtspSessions.count(),
		RTPSessions:  st.core.rtpSessions.count(),
		Connections:  st.core.admission.ConnectionCount(),
		BandwidthBPS: st.core.admission.BandwidthInUse(),
	}

	f, err := os.CreateTemp(parentDir(st.path), ".status-*.xml")
	if err != nil {
		return err
	}
	enc := xml.NewEncoder(f)
	enc.Indent("", "  ")
	if err := enc.Encode(snap); err != nil {
		f.Close()
		os.Remove(f.Name())
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return err
	}
	// Atomic rename so a concurrent reader never observes a
	// half-written file.
	return os.Rename(f.Name(), st.path)
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
