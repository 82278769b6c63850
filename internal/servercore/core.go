// Package servercore wires the standalone subsystems (scheduler,
// poller, socket pool, module registry, RTSP session state machine)
// into one running server: session registries, admission control, the
// periodic status file, and startup/shutdown sequencing. Grounded on
// the teacher's pkg/api/server.go, the one file in the teacher that
// plays the same "own every subsystem, expose Start/Shutdown" role,
// generalized from an HTTP status API to the whole RTSP core.
package servercore

import (
	"context"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gtfodev/rtspcore/internal/accesslog"
	"github.com/gtfodev/rtspcore/internal/auth"
	"github.com/gtfodev/rtspcore/internal/corelog"
	"github.com/gtfodev/rtspcore/internal/corestream"
	"github.com/gtfodev/rtspcore/internal/module"
	"github.com/gtfodev/rtspcore/internal/poller"
	"github.com/gtfodev/rtspcore/internal/prefs"
	"github.com/gtfodev/rtspcore/internal/qtsserr"
	"github.com/gtfodev/rtspcore/internal/rtpsession"
	"github.com/gtfodev/rtspcore/internal/rtspsession"
	"github.com/gtfodev/rtspcore/internal/scheduler"
	"github.com/gtfodev/rtspcore/internal/sessionid"
	"github.com/gtfodev/rtspcore/internal/socketpool"
	"github.com/gtfodev/rtspcore/internal/tunnel"
)

// Config bundles the prefs-derived values Core needs at construction;
// everything else is read from the live prefs.Store on reload.
type Config struct {
	ListenAddrs     []socketpool.Addr
	UDPBasePort     int
	RTCPBufferBytes int
	SchedulerWorkers int
	StatsInterval   time.Duration
	StatusFilePath  string
	MaxConnections  int
	MaxBandwidthBPS uint64

	AuthEnabled bool
	AuthScheme  string            // "basic" or "digest" (default)
	AuthUsers   map[string]string // username -> password (possibly already one-way-hashed)
}

// Core owns every long-lived subsystem of the running server.
type Core struct {
	log   *corelog.Logger
	prefs *prefs.Store

	registry  *module.Registry
	sched     *scheduler.Scheduler
	poll      *poller.Poller
	udpPool   *socketpool.UDPPool
	listeners *socketpool.ListenerSet
	tunnels   *tunnel.Map
	ids       *sessionid.Generator
	access    *accesslog.Writer

	rtspSessions *rtspRegistry
	rtpSessions  *rtpRegistry
	streamSource *corestream.StaticSource
	authModule   *auth.Module

	admission *Admission
	metrics   *Metrics
	stats     *statsTask

	cfg Config

	mu       sync.Mutex
	shutdown bool
}

// New wires every subsystem but does not start accepting connections;
// call Start for that.
func New(cfg Config, store *prefs.Store, log *corelog.Logger) *Core {
	if log == nil {
		log = corelog.Default()
	}
	c := &Core{
		log:          log,
		prefs:        store,
		registry:     module.New(log),
		sched:        scheduler.New(cfg.SchedulerWorkers, log),
		udpPool:      socketpool.NewUDPPool(cfg.UDPBasePort, cfg.RTCPBufferBytes, log),
		tunnels:      tunnel.New(),
		ids:          sessionid.NewGenerator(),
		access:       accesslog.New(os.Stdout),
		rtspSessions: newRTSPRegistry(),
		rtpSessions:  newRTPRegistry(),
		cfg:          cfg,
	}
	c.admission = NewAdmission(cfg.MaxConnections, cfg.MaxBandwidthBPS)
	c.metrics = NewMetrics()
	c.listeners = socketpool.NewListenerSet(c.acceptRTSP, log)

	c.streamSource = corestream.NewStaticSource()
	corestream.New(c, c.streamSource, log).Register(c.registry)

	if cfg.AuthEnabled {
		scheme := auth.SchemeDigest
		if strings.EqualFold(cfg.AuthScheme, "basic") {
			scheme = auth.SchemeBasic
		}
		users := cfg.AuthUsers
		lookup := func(user string) (ha1, basicSecret string, ok bool) {
			pass, exists := users[user]
			if !exists {
				return "", "", false
			}
			return auth.HashA1(user, auth.Realm, pass), pass, true
		}
		c.authModule = auth.New(lookup, scheme, nil, log)
		c.authModule.Register(c.registry)
	}

	return c
}

// Start brings the core up: scheduler workers, the listener set bound
// to cfg.ListenAddrs, and the periodic stats task.
func (c *Core) Start(ctx context.Context) error {
	c.sched.Start(ctx)

	p, err := poller.New()
	if err != nil {
		return qtsserr.StartupFatal("create event poller", err)
	}
	c.poll = p
	go func() {
		if err := c.poll.Run(); err != nil {
			c.log.Debugc(corelog.CategorySocketPool, "poller stopped", "err", err.Error())
		}
	}()

	if err := c.listeners.Rebuild(c.cfg.ListenAddrs); err != nil {
		return qtsserr.StartupFatal("bind listeners", err)
	}
	if len(c.listeners.Addrs()) == 0 {
		return qtsserr.StartupFatal("no listener bound", nil)
	}

	c.stats = newStatsTask(c, c.cfg.StatusFilePath, c.cfg.StatsInterval)
	c.stats.start(ctx, c.sched)

	c.log.Debugc(corelog.CategoryRTSP, "server core started", "listeners", len(c.listeners.Addrs()))
	return nil
}

// Shutdown stops accepting new work and tears down every subsystem.
// Idempotent.
func (c *Core) Shutdown() {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return
	}
	c.shutdown = true
	c.mu.Unlock()

	if c.stats != nil {
		c.stats.stop()
	}
	c.listeners.Close()
	if c.poll != nil {
		c.poll.Close()
	}
	c.sched.Stop()
}

// RereadPrefs reloads the on-disk prefs file into the prefs store,
// under the store's own lock. Nothing fixed at New is rebuilt (the
// listener set, admission limits and the rest of Config keep their
// values); only values read from the store on use see the new file.
func (c *Core) RereadPrefs(path string) error {
	if err := c.prefs.Reread(path); err != nil {
		return err
	}
	c.log.Debugc(corelog.CategoryRTSP, "prefs reread", "path", path)
	return nil
}

// Registry exposes the module role table for server setup code to
// register built-in and plugin modules into before Start.
func (c *Core) Registry() *module.Registry { return c.registry }

// Source exposes the built-in stream module's in-memory track
// publisher, so deployment code can Publish paths before Start.
func (c *Core) Source() *corestream.StaticSource { return c.streamSource }

// The methods below satisfy corestream.Registries, keeping
// internal/corestream free of any import back into this package.

func (c *Core) NextRTPSessionID() string {
	return c.ids.Next(sessionid.LiveStats{}, c.rtpSessions.serverCounters(), c.rtpSessions.exists)
}

func (c *Core) AddRTPSession(sess *rtpsession.Session) { c.rtpSessions.add(sess) }

func (c *Core) ResolveRTPSession(id string) (*rtpsession.Session, bool) {
	return c.rtpSessions.resolve(id)
}

func (c *Core) ReleaseRTPSession(sess *rtpsession.Session) { c.rtpSessions.release(sess) }

func (c *Core) RemoveRTPSession(id string) { c.rtpSessions.remove(id) }

func (c *Core) AcquireUDPPair(localIP string) (*socketpool.Pair, error) {
	return c.udpPool.Acquire(localIP)
}

func (c *Core) ReleaseUDPPair(pair *socketpool.Pair) { c.udpPool.Release(pair) }

func (c *Core) AdmitBandwidth(additionalBPS uint64) bool { return c.admission.AdmitBandwidth(additionalBPS) }

func (c *Core) ReserveBandwidth(additionalBPS uint64) { c.admission.ReserveBandwidth(additionalBPS) }

func (c *Core) ReleaseBandwidth(bps uint64) { c.admission.ReleaseBandwidth(bps) }

// acceptRTSP is the socketpool.AcceptFunc bound to every listener: it
// admits or rejects the connection, builds a fresh RTSP Session, wires
// its core-method keepalive hook to this Core's RTP session registry
// (the dynamic-rate hooks are set to nil), and runs it on its own
// goroutine.
func (c *Core) acceptRTSP(conn net.Conn, local, remote socketpool.Addr) {
	if !c.admission.AdmitConnection() {
		c.log.Debugc(corelog.CategoryRTSP, "connection rejected: over limit", "remote", remote.String())
		refusal := qtsserr.ServiceUnavailable("maximum connections reached")
		_, _ = rtspsession.WriteResponse(conn, rtspsession.NewResponse(nil, refusal.Status, ""))
		conn.Close()
		return
	}

	id := c.ids.Next(sessionid.LiveStats{}, c.rtpSessions.serverCounters(), c.rtspSessions.exists)
	sess := rtspsession.New(id, conn, c.registry, c.tunnels, c.log)
	sess.SetKeepAliveHook(func(rtpSessionID string) error {
		rs, ok := c.rtpSessions.resolve(rtpSessionID)
		if !ok {
			return qtsserr.SessionNotFound("no such RTP session: " + rtpSessionID)
		}
		defer c.rtpSessions.release(rs)
		rs.RefreshTimeout(c.sessionTimeout())
		return nil
	})
	sess.SetDynamicRateHooks(nil, nil) // a connection may SETUP more than one RTP Session; correlating the probe's CSeq back to the right one is left for a future Preprocessor enrichment

	sess.SetAccessLogHook(func(e rtspsession.RequestLogEntry) {
		c.access.Log(accesslog.Entry{
			RemoteAddr:   remote.String(),
			SessionID:    sess.ID(),
			Method:       e.Method,
			Path:         e.Path,
			CSeq:         e.CSeq,
			Status:       e.Status,
			BytesWritten: e.BytesWritten,
			Duration:     e.Duration,
		})
		c.metrics.ObserveRequest(e.Method, e.Status, e.Duration)
	})

	c.rtspSessions.add(sess)
	c.admission.connections.Add(1)

	go func() {
		defer func() {
			c.rtspSessions.remove(sess.ID())
			c.admission.connections.Add(-1)
			if c.authModule != nil {
				c.authModule.Forget(sess.ID())
			}
		}()
		if err := sess.Run(context.Background()); err != nil {
			c.log.Debugc(corelog.CategoryRTSP, "session ended", "session", sess.ID(), "err", err.Error())
		}
	}()
}

func (c *Core) sessionTimeout() time.Duration {
	seconds := c.prefs.GetInt("rtp_session_timeout", 60)
	return time.Duration(seconds) * time.Second
}
