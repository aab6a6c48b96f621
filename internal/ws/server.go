// Package ws is the transport layer of the sync server: websocket attach
// and receive loops, the event router, and the HTTP API around them.
package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sonicline/backend/internal/action"
	"github.com/sonicline/backend/internal/chatlog"
	"github.com/sonicline/backend/internal/config"
	"github.com/sonicline/backend/internal/health"
	"github.com/sonicline/backend/internal/metrics"
	"github.com/sonicline/backend/internal/protocol"
	"github.com/sonicline/backend/internal/session"
)

// DefaultSession is assumed when a connection supplies no session id.
const DefaultSession = "default"

type Server struct {
	cfg      *config.Config
	registry *session.Registry
	router   *Router
	actions  *action.Registry
	chat     *chatlog.Log
	probe    *health.Probe
	log      zerolog.Logger

	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
	startedAt      time.Time
}

func NewServer(cfg *config.Config, registry *session.Registry, actions *action.Registry, chat *chatlog.Log, probe *health.Probe, log zerolog.Logger) *Server {
	s := &Server{
		cfg:            cfg,
		registry:       registry,
		router:         NewRouter(registry, log),
		actions:        actions,
		chat:           chat,
		probe:          probe,
		log:            log.With().Str("component", "server").Logger(),
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      cfg.Server.AuthToken,
		startedAt:      time.Now(),
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

// Routes builds the full HTTP surface.
func (s *Server) Routes() *chi.Mux {
	r := chi.NewRouter()

	r.Get("/", s.handleStatus)
	r.Get("/ws", s.handleWS)
	r.Get("/ws/{session}", s.handleWS)
	r.Get("/api/sessions", s.handleSessions)
	r.Post("/api/sessions/{session}/actions", s.handleAction)
	r.Get("/communication-logs", s.handleChatLog)
	r.Get("/api/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sessionID := chi.URLParam(r, "session")
	if sessionID == "" {
		sessionID = DefaultSession
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	c := newClient(conn, sessionID, s.cfg.WS.SendBuffer, s.log)
	metrics.ConnectionsActive.Inc()
	s.log.Info().Str("remote", r.RemoteAddr).Str("session", sessionID).Str("conn", c.id).Msg("client connected")

	s.registry.Attach(sessionID, c)
	s.readLoop(c)
}

// readLoop pumps inbound frames into the router until the transport reports
// disconnect. Any panic inside frame handling is contained here and treated
// as a disconnect; it never reaches other connections.
func (s *Server) readLoop(c *client) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("connection loop panicked")
		}
		s.registry.Detach(c.sessionID, c)
		c.close()
		metrics.ConnectionsActive.Dec()
		c.log.Info().Msg("client disconnected")
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		s.router.HandleFrame(c.sessionID, c, raw)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"service":       "sonicline-sync",
		"status":        "running",
		"sessions":      s.registry.Len(),
		"uptimeSeconds": time.Since(s.startedAt).Seconds(),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, s.registry.Summaries())
}

type actionRequest struct {
	Connection string `json:"connection"`
	Action     string `json:"action"`
	Params     any    `json:"params"`
}

// handleAction executes an action from the table and injects the result
// into the session as an action_used event. The result is forwarded
// verbatim; the router stores it in action history and fans it out like any
// client-sent action.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sessionID := chi.URLParam(r, "session")
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Action == "" {
		http.Error(w, "action is required", http.StatusBadRequest)
		return
	}

	result, err := s.actions.Perform(r.Context(), req.Connection, req.Action, req.Params)
	if err != nil {
		if errors.Is(err, action.ErrUnknownAction) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		s.chat.Append(fmt.Sprintf("Action %s failed: %v", req.Action, err), false, "")
		writeJSONStatus(w, http.StatusInternalServerError, map[string]any{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}

	frame, err := protocol.Encode(protocol.EventActionUsed, result)
	if err != nil {
		http.Error(w, "unencodable action result", http.StatusInternalServerError)
		return
	}
	s.router.HandleFrame(sessionID, nil, frame)
	s.chat.Append(fmt.Sprintf("Executed action %s on session %s", req.Action, sessionID), false, "")

	writeJSON(w, map[string]any{
		"status": "success",
		"result": result,
	})
}

func (s *Server) handleChatLog(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, map[string]any{"logs": s.chat.Entries()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.probe.Check(r.Context()))
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	if r.URL.Query().Get("token") == s.authToken {
		return true
	}
	if r.Header.Get("X-Sonicline-Token") == s.authToken {
		return true
	}
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken
}

// checkOrigin allows same-host and loopback upgrades by default; with a
// configured allow-list only listed origins pass.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := parsed.Host
	if host == "" {
		return false
	}
	if host == r.Host {
		return true
	}
	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}
	return false
}
