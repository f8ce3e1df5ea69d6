// Package httpserver exposes the node's local HTTP API: health and
// readiness, Prometheus metrics, ICE configuration, live call control, group
// rooms, and call history.
package httpserver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mentorcall/internal/call"
	"mentorcall/internal/config"
	"mentorcall/internal/group"
	"mentorcall/internal/history"
	"mentorcall/internal/turnrest"
)

var ErrServerClosed = http.ErrServerClosed

type BuildInfo struct {
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

type Options struct {
	Config config.Config
	Logger *slog.Logger
	Build  BuildInfo

	Engine      *call.Engine
	Notifier    *call.Notifier
	Coordinator *group.Coordinator
	History     *history.Store
	// TURNREST mints ephemeral credentials into /v1/ice responses when set.
	TURNREST *turnrest.Generator
}

type Server struct {
	log   *slog.Logger
	cfg   config.Config
	build BuildInfo

	engine      *call.Engine
	notifier    *call.Notifier
	coordinator *group.Coordinator
	history     *history.Store
	turnrest    *turnrest.Generator
	events      *eventStream

	ready atomic.Bool

	mux *http.ServeMux
	srv *http.Server
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		log:         logger.With(slog.String("component", "http")),
		cfg:         opts.Config,
		build:       opts.Build,
		engine:      opts.Engine,
		notifier:    opts.Notifier,
		coordinator: opts.Coordinator,
		history:     opts.History,
		turnrest:    opts.TURNREST,
		events:      newEventStream(),
		mux:         http.NewServeMux(),
	}
	s.events.attach(opts.Engine, opts.Coordinator)

	s.registerRoutes()

	handler := chain(s.mux,
		recoverMiddleware(s.log),
		requestIDMiddleware(),
		requestLoggerMiddleware(s.log),
	)

	s.srv = &http.Server{
		Addr:              opts.Config.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Serve(l net.Listener) error {
	s.ready.Store(true)
	s.log.Info("http server serving", "addr", l.Addr().String())
	return s.srv.Serve(l)
}

func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	return s.srv.Shutdown(ctx)
}

func (s *Server) Close() error {
	s.ready.Store(false)
	return s.srv.Close()
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	s.mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"ready": true})
	})

	s.mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, s.build)
	})

	s.mux.Handle("GET /metrics", promhttp.Handler())

	s.mux.HandleFunc("GET /v1/ice", s.handleICE)

	s.mux.HandleFunc("GET /v1/calls", s.handleListCalls)
	s.mux.HandleFunc("POST /v1/calls", s.handleStartCall)
	s.mux.HandleFunc("POST /v1/calls/{key}/accept", s.handleAccept)
	s.mux.HandleFunc("POST /v1/calls/{key}/decline", s.handleDecline)
	s.mux.HandleFunc("POST /v1/calls/{key}/end", s.handleEnd)
	s.mux.HandleFunc("POST /v1/calls/{key}/audio", s.handleSetAudio)
	s.mux.HandleFunc("POST /v1/calls/{key}/video", s.handleSetVideo)
	s.mux.HandleFunc("GET /v1/pending", s.handlePending)
	s.mux.HandleFunc("GET /v1/events", s.handleEvents)

	s.mux.HandleFunc("GET /v1/rooms", s.handleListRooms)
	s.mux.HandleFunc("POST /v1/rooms/{roomId}/start", s.handleStartRoom)
	s.mux.HandleFunc("POST /v1/rooms/{roomId}/join", s.handleJoinRoom)
	s.mux.HandleFunc("POST /v1/rooms/{roomId}/end", s.handleEndRoom)

	s.mux.HandleFunc("GET /v1/history", s.handleHistory)
}

type Middleware func(http.Handler) http.Handler

func chain(handler http.Handler, middlewares ...Middleware) http.Handler {
	h := handler
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

func recoverMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic in http handler", "recover", rec, "stack", string(debug.Stack()))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func requestIDMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				var buf [16]byte
				if _, err := rand.Read(buf[:]); err == nil {
					reqID = hex.EncodeToString(buf[:])
				}
			}
			if reqID != "" {
				r.Header.Set("X-Request-ID", reqID)
				w.Header().Set("X-Request-ID", reqID)
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying writer, which the
// event stream needs for flushing.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func requestLoggerMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(sw, r)

			logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
				"request_id", r.Header.Get("X-Request-ID"),
			)
		})
	}
}

// WriteJSON writes a JSON response body and sets the Content-Type header.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}
