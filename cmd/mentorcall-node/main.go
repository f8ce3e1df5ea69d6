package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	ossignal "os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"mentorcall/internal/auth"
	"mentorcall/internal/call"
	"mentorcall/internal/config"
	"mentorcall/internal/group"
	"mentorcall/internal/history"
	"mentorcall/internal/httpserver"
	"mentorcall/internal/media"
	"mentorcall/internal/peer"
	"mentorcall/internal/signal"
	"mentorcall/internal/turnrest"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	src, err := media.NewDeviceSource(logger)
	if err != nil {
		logger.Error("failed to open media devices", "err", err)
		os.Exit(2)
	}

	// Construct the WebRTC API early so misconfigurations are caught on startup.
	// This does not start any networking; ICE sockets are only created once we
	// start creating PeerConnections.
	api, err := peer.NewAPI(cfg, src, logger)
	if err != nil {
		logger.Error("failed to configure webrtc", "err", err)
		os.Exit(2)
	}

	logger.Info("starting mentorcall-node",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"self_id", cfg.SelfID,
		"signaling_host", safeURLHost(cfg.SignalingURL),
		"auth_mode", cfg.AuthMode,
		"ring_timeout", cfg.RingTimeout,
		"history_db_path", cfg.HistoryDBPath,
		"turn_rest_enabled", cfg.TURNREST.Enabled(),
	)

	logStartupWarnings(logger, cfg)

	tokens, err := auth.NewProvider(cfg)
	if err != nil {
		logger.Error("failed to configure signaling auth", "err", err)
		os.Exit(2)
	}
	token, err := tokens.Token()
	if err != nil {
		logger.Error("failed to mint signaling token", "err", err)
		os.Exit(2)
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ws, err := signal.DialWS(ctx, signal.WSClientOptions{
		URL:                  cfg.SignalingURL,
		PeerID:               cfg.SelfID,
		Token:                token,
		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		PingInterval:         cfg.SignalingWSPingInterval,
		IdleTimeout:          cfg.SignalingWSIdleTimeout,
		MaxMessagesPerSecond: int64(cfg.MaxSignalingMessagesPerSecond),
		Logger:               logger,
	})
	if err != nil {
		logger.Error("failed to connect to signaling server", "err", err)
		os.Exit(1)
	}
	defer ws.Close()

	peers := peer.NewManager(api, peerConnectionICEServers(cfg), logger)

	engine, err := call.NewEngine(call.Options{
		SelfID:      cfg.SelfID,
		SelfName:    cfg.SelfName,
		Transport:   ws,
		Connect:     func(key signal.CallKey) (call.Connection, error) { return peers.Create(key) },
		Source:      src,
		RingTimeout: cfg.RingTimeout,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to build call engine", "err", err)
		os.Exit(2)
	}
	// Sessions close their Connection on teardown; the manager still tracks
	// the slot until the key is released here.
	engine.OnStateChange(func(change call.StateChange) {
		if change.To == call.StateEnded {
			peers.Destroy(change.Key)
		}
	})

	notifier := call.NewNotifier(engine, logger)

	coordinator, err := group.NewCoordinator(group.Options{
		SelfID:    cfg.SelfID,
		SelfName:  cfg.SelfName,
		Engine:    engine,
		Transport: ws,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to build group coordinator", "err", err)
		os.Exit(2)
	}

	store, err := history.Open(cfg.HistoryDBPath, logger)
	if err != nil {
		logger.Error("failed to open call history", "err", err)
		os.Exit(2)
	}
	defer store.Close()
	store.Attach(engine)

	var turnGen *turnrest.Generator
	if cfg.TURNREST.Enabled() {
		turnGen, err = turnrest.NewGenerator(cfg.TURNREST)
		if err != nil {
			logger.Error("failed to configure TURN REST credentials", "err", err)
			os.Exit(2)
		}
	}

	engine.Start()
	coordinator.Start()
	defer engine.Close()
	defer coordinator.Close()

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)

	srv := httpserver.New(httpserver.Options{
		Config:      cfg,
		Logger:      logger,
		Build:       httpserver.BuildInfo{Commit: commit, BuildTime: built},
		Engine:      engine,
		Notifier:    notifier,
		Coordinator: coordinator,
		History:     store,
		TURNREST:    turnGen,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}

func safeURLHost(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return u.Host
}
