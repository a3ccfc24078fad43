// Package server wires the HTTP surface: the streaming websocket endpoint,
// session introspection, health probes, metrics and MCP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/realtime-stt-lab/internal/logging"
	"github.com/realtime-stt-lab/internal/mcp"
	"github.com/realtime-stt-lab/internal/voice"
)

// Server serves the gateway's HTTP routes.
type Server struct {
	registry *voice.Registry
	defaults voice.SessionConfig
	upgrader websocket.Upgrader
	baseCtx  context.Context
	version  string

	draining atomic.Bool
}

// New returns a server creating sessions in registry from defaults. baseCtx
// bounds background work such as MCP sessions.
func New(baseCtx context.Context, registry *voice.Registry, defaults voice.SessionConfig, version string) *Server {
	return &Server{
		registry: registry,
		defaults: defaults,
		baseCtx:  baseCtx,
		version:  version,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 << 10,
			WriteBufferSize: 16 << 10,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/mcp/ws", mcp.Handler(s.baseCtx, mcp.NewServer(s.registry, s.version)))

	r.Get("/audio", s.handleAudio)
	r.Get("/audio/sessions", s.handleSessions)
	return r
}

// Drain makes /readyz fail and refuses new streaming sessions.
func (s *Server) Drain() { s.draining.Store(true) }

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "shutting down"})
		return
	}
	if s.registry.Full() {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: voice.ErrTooManySessions.Error()})
		return
	}
	cfg, err := s.defaults.WithQuery(r.URL.Query())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("audio: ws upgrade failed", "err", err, "remote", r.RemoteAddr)
		return
	}
	ctx := logging.WithFields(r.Context(), "remote", r.RemoteAddr, "request_id", chimw.GetReqID(r.Context()))
	if err := s.registry.Serve(ctx, voice.NewWSTransport(conn), cfg); err != nil {
		if errors.Is(err, voice.ErrTooManySessions) {
			logging.InfowCtx(ctx, "audio: session rejected at capacity")
			return
		}
		logging.WarnwCtx(ctx, "audio: session ended with error", "err", err)
	}
}

type sessionsBody struct {
	ActiveSessions int `json:"active_sessions"`
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, sessionsBody{ActiveSessions: s.registry.ActiveCount()})
}

type statusBody struct {
	Status string `json:"status"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusBody{Status: "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.draining.Load() {
		writeJSON(w, http.StatusServiceUnavailable, statusBody{Status: "draining"})
		return
	}
	writeJSON(w, http.StatusOK, statusBody{Status: "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debugw("write json response failed", "err", err)
	}
}
