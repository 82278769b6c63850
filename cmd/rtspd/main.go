package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gtfodev/rtspcore/internal/corelog"
	"github.com/gtfodev/rtspcore/internal/prefs"
	"github.com/gtfodev/rtspcore/internal/servercore"
	"github.com/gtfodev/rtspcore/internal/socketpool"
)

func main() {
	fs := flag.NewFlagSet("rtspd", flag.ExitOnError)
	logFlags := corelog.RegisterFlags(fs)

	prefsPath := fs.String("prefs", "/etc/rtspd.conf", "Path to the prefs file")
	port := fs.Int("port", 0, "Override the rtsp_port prefs key")
	statsInterval := fs.Duration("stats-interval", 0, "Override the status-file write interval (e.g. 30s)")
	pidFile := fs.String("pid-file", "", "Write the running process id to this path")
	foreground := fs.Bool("foreground", true, "Run attached to the terminal; false is accepted but has no effect (the process never forks)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "RTSP streaming media server\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		corelog.PrintUsageExamples()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %v\n", err)
		os.Exit(1)
	}

	logConfig, err := logFlags.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error configuring logger: %v\n", err)
		os.Exit(1)
	}

	log, err := corelog.New(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	if !*foreground {
		log.Info("foreground=false has no effect under this runtime: daemonizing is left to the process supervisor (systemd, launchd)")
	}

	store, err := prefs.Load(*prefsPath)
	if err != nil {
		log.Error("failed to load prefs", "path", *prefsPath, "error", err)
		os.Exit(1)
	}
	log.Info("prefs loaded", "path", *prefsPath)

	cfg := buildConfig(store, *port, *statsInterval)

	core := servercore.New(cfg, store, log)

	if *pidFile != "" {
		if err := writePidFile(*pidFile); err != nil {
			log.Error("failed to write pid file", "path", *pidFile, "error", err)
			os.Exit(1)
		}
		defer removePidFile(*pidFile)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := core.Start(ctx); err != nil {
		log.Error("server failed to start", "error", err)
		os.Exit(1)
	}
	log.Info("rtspd started", "listeners", cfg.ListenAddrs)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigCh {
		switch sig {
		case syscall.SIGHUP:
			log.Info("received SIGHUP, rereading prefs", "path", *prefsPath)
			if err := core.RereadPrefs(*prefsPath); err != nil {
				log.Error("prefs reread failed", "error", err)
			}
		default:
			log.Info("received shutdown signal", "signal", sig)
			core.Shutdown()
			cancel()
			log.Info("graceful shutdown complete")
			return
		}
	}
}

// buildConfig turns the prefs store into a servercore.Config, letting
// -port and -stats-interval flags override their prefs-file
// counterparts the way the original server's command-line always won
// over its prefs file.
func buildConfig(store *prefs.Store, portOverride int, statsOverride time.Duration) servercore.Config {
	rtspPort := store.GetInt("rtsp_port", 554)
	if portOverride != 0 {
		rtspPort = portOverride
	}

	var addrs []socketpool.Addr
	n := store.NumValues("bind_ip_addr")
	if n == 0 {
		addrs = append(addrs, socketpool.Addr{IP: "0.0.0.0", Port: rtspPort})
	} else {
		for i := 0; i < n; i++ {
			addrs = append(addrs, socketpool.Addr{IP: store.Get("bind_ip_addr", i), Port: rtspPort})
		}
	}

	statsInterval := statsOverride
	if statsInterval == 0 {
		statsInterval = time.Duration(store.GetInt("total_bytes_update", 30)) * time.Second
	}

	users := map[string]string{}
	for i := 0; i < store.NumValues("auth_user_name"); i++ {
		name := store.Get("auth_user_name", i)
		if name != "" {
			users[name] = store.Get("auth_user_password", i)
		}
	}

	return servercore.Config{
		ListenAddrs:      addrs,
		UDPBasePort:      store.GetInt("rtsp_min_udp_port", 6970),
		RTCPBufferBytes:  store.GetInt("rtcp_recv_buf_size", 64*1024),
		SchedulerWorkers: store.GetInt("scheduler_workers", 0),
		StatsInterval:    statsInterval,
		StatusFilePath:   store.GetWithDefault("status_file_path", "/var/run/rtspd/status.xml"),
		MaxConnections:   store.GetInt("maximum_connections", 0),
		MaxBandwidthBPS:  uint64(store.GetInt("maximum_bandwidth_kbits", 0)) * 1000,
		AuthEnabled:      store.GetInt("auth_enabled", 0) != 0,
		AuthScheme:       store.GetWithDefault("auth_scheme", "digest"),
		AuthUsers:        users,
	}
}

func writePidFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

func removePidFile(path string) {
	_ = os.Remove(path)
}
