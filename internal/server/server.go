// Package server exposes the control surface: the REST endpoints the stream
// deck and dashboard call, the overlay websocket that carries microphone
// audio in and avatar state plus synthesized speech out, and the usual
// operational endpoints (health, readiness, Prometheus metrics).
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/emberworks/ember/internal/health"
	"github.com/emberworks/ember/internal/observe"
	"github.com/emberworks/ember/internal/state"
	"github.com/emberworks/ember/internal/turn"
)

// Submitter accepts turn requests from the voice path and manual chat ingest.
type Submitter interface {
	Submit(req turn.Request) error
}

// ChatIngress is the chat pipeline entry point used by manual ingest. The
// return value reports whether the message became a turn.
type ChatIngress interface {
	HandleMessage(user, text string) bool
}

// Config holds the HTTP server configuration.
type Config struct {
	// ListenAddr is the address to bind, e.g. ":8080".
	ListenAddr string

	// ControlKey guards the control endpoints and the overlay socket. Clients
	// send it in the X-Control-Key header (or as a "key" query parameter for
	// websocket clients that cannot set headers). Empty disables auth; only
	// do that when the server is bound to localhost.
	ControlKey string
}

// Server is the control-plane HTTP server. Safe for concurrent use.
type Server struct {
	cfg     Config
	state   *state.State
	arbiter Submitter
	chat    ChatIngress
	overlay *overlayHub
	health  *health.Handler
	metrics *observe.Metrics
	log     *slog.Logger
	handler http.Handler
	httpSrv *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithChatIngress enables the manual chat ingest endpoint.
func WithChatIngress(c ChatIngress) Option {
	return func(s *Server) { s.chat = c }
}

// WithHealth attaches a health handler for /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics attaches a metrics instance. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New creates a Server. The overlay hub subscribes to st so every state
// change is mirrored to connected overlay clients.
func New(cfg Config, st *state.State, arbiter Submitter, voice *VoicePipeline, opts ...Option) (*Server, error) {
	if st == nil || arbiter == nil {
		return nil, fmt.Errorf("server: state and arbiter must not be nil")
	}
	s := &Server{
		cfg:     cfg,
		state:   st,
		arbiter: arbiter,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.health == nil {
		s.health = health.New()
	}

	s.overlay = newOverlayHub(st, voice, s.metrics, s.log)
	st.Subscribe(s.overlay.onStateEvent)

	mux := http.NewServeMux()
	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	control := http.NewServeMux()
	control.HandleFunc("POST /api/listen/start", s.handleListenStart)
	control.HandleFunc("POST /api/listen/stop", s.handleListenStop)
	control.HandleFunc("POST /api/listen/toggle", s.handleListenToggle)
	control.HandleFunc("POST /api/mood", s.handleMood)
	control.HandleFunc("POST /api/force-state", s.handleForceState)
	control.HandleFunc("POST /api/chat", s.handleChat)
	control.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	control.HandleFunc("GET /ws/overlay", s.overlay.handleConnect)
	mux.Handle("/api/", s.requireKey(control))
	mux.Handle("/ws/", s.requireKey(control))

	s.handler = observe.Middleware(s.metrics)(mux)
	s.httpSrv = &http.Server{Addr: cfg.ListenAddr, Handler: s.handler}
	return s, nil
}

// Handler returns the assembled HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// BroadcastAudio sends a synthesized speech chunk to all overlay clients.
// Wire it as the response pipeline's audio sink.
func (s *Server) BroadcastAudio(chunk []byte) { s.overlay.BroadcastAudio(chunk) }

// ListenAndServe runs the HTTP server until Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info("control server listening", slog.String("addr", s.cfg.ListenAddr))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server and disconnects overlay clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.overlay.closeAll()
	return s.httpSrv.Shutdown(ctx)
}

// requireKey rejects requests missing the control key. Websocket clients may
// pass the key as a query parameter since browsers cannot set headers on
// websocket upgrades.
func (s *Server) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.ControlKey != "" {
			key := r.Header.Get("X-Control-Key")
			if key == "" {
				key = r.URL.Query().Get("key")
			}
			if key != s.cfg.ControlKey {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing or invalid control key"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleListenStart(w http.ResponseWriter, _ *http.Request) {
	s.state.SetMode(state.ModeListening)
	writeJSON(w, http.StatusOK, map[string]string{"mode": string(s.state.Mode())})
}

func (s *Server) handleListenStop(w http.ResponseWriter, _ *http.Request) {
	s.state.SetMode(state.ModeIdle)
	writeJSON(w, http.StatusOK, map[string]string{"mode": string(s.state.Mode())})
}

func (s *Server) handleListenToggle(w http.ResponseWriter, _ *http.Request) {
	mode := s.state.ToggleMode()
	writeJSON(w, http.StatusOK, map[string]string{"mode": string(mode)})
}

func (s *Server) handleMood(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mood string `json:"mood"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Mood == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be {\"mood\": \"...\"}"})
		return
	}
	s.state.SetMood(body.Mood)
	writeJSON(w, http.StatusOK, map[string]string{"mood": body.Mood})
}

func (s *Server) handleForceState(w http.ResponseWriter, r *http.Request) {
	var body struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be {\"state\": \"...\"}"})
		return
	}
	// An empty state releases the pin.
	s.state.SetForcedState(body.State)
	writeJSON(w, http.StatusOK, map[string]string{"forced_state": body.State})
}

// handleChat injects a chat message by hand, running it through the same
// trigger, cooldown, and duplicate checks as messages from the platforms.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "chat ingest not configured"})
		return
	}
	var body struct {
		User string `json:"user"`
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be {\"user\": \"...\", \"text\": \"...\"}"})
		return
	}
	if body.User == "" {
		body.User = "manual"
	}
	accepted := s.chat.HandleMessage(body.User, body.Text)
	writeJSON(w, http.StatusOK, map[string]bool{"accepted": accepted})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}
