// Package server provides HTTP and WebSocket handlers
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	apperrors "github.com/GriffinCanCode/tetris-recorder/internal/errors"
	"github.com/GriffinCanCode/tetris-recorder/internal/game"
	"github.com/GriffinCanCode/tetris-recorder/internal/journal"
	"github.com/GriffinCanCode/tetris-recorder/internal/pipeline"
	"github.com/GriffinCanCode/tetris-recorder/internal/store"
	"github.com/GriffinCanCode/tetris-recorder/internal/trace"
)

// Recorder is the view of the running pipelines used by the handlers.
type Recorder interface {
	Statuses() []pipeline.Status
	Reset(source string) error
	ApplyPlayer(source string, slot game.Slot, p game.Player) error
	ClearPlayers(source string) error
	RecentEvents(n int) []journal.Event
	Events() <-chan journal.Event
}

// GameLister returns recorded games, newest first.
type GameLister interface {
	RecentGames(ctx context.Context, limit int) ([]store.GameRecord, error)
}

// Message types.
type Message struct {
	Type string `json:"type"`
}

type SourcesMessage struct {
	Type    string            `json:"type"`
	Sources []pipeline.Status `json:"sources"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type PlayerRequest struct {
	Slot   string      `json:"slot"`
	Player game.Player `json:"player"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	// Prune old timestamps
	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	rec        Recorder
	games      GameLister
	metrics    http.Handler
	mu         sync.RWMutex
	conns      map[*websocket.Conn]struct{}
	rateLimits map[*websocket.Conn]*rateLimiter
}

// New creates a server and starts broadcasting journal events. games and
// metrics may be nil.
func New(rec Recorder, games GameLister, metrics http.Handler) *Server {
	s := &Server{
		rec:        rec,
		games:      games,
		metrics:    metrics,
		conns:      make(map[*websocket.Conn]struct{}),
		rateLimits: make(map[*websocket.Conn]*rateLimiter),
	}

	go s.broadcastEvents()

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API
	mux.HandleFunc("GET /api/sources", s.handleSources)
	mux.HandleFunc("POST /api/sources/{name}/reset", s.handleReset)
	mux.HandleFunc("POST /api/sources/{name}/players", s.handleApplyPlayer)
	mux.HandleFunc("DELETE /api/sources/{name}/players", s.handleClearPlayers)
	mux.HandleFunc("GET /api/games", s.handleGames)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps AppError codes to HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, apperrors.CodeInternal.String()
	msg := err.Error()
	if appErr, ok := apperrors.As(err); ok {
		status, code, msg = appErr.HTTPStatus(), appErr.Code.String(), appErr.Message
	}
	if status >= http.StatusInternalServerError {
		trace.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}

// limitParam reads ?limit=, falling back to def and capping at MaxListLimit.
func limitParam(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, apperrors.Newf(apperrors.CodeInvalidArgument, "invalid limit %q", raw)
	}
	return min(n, MaxListLimit), nil
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sources": s.rec.Statuses()})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.rec.Reset(name); err != nil {
		writeError(w, r, err)
		return
	}
	trace.Logger(trace.WithSource(r.Context(), name)).Info("source reset requested")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "source": name})
}

func (s *Server) handleApplyPlayer(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req PlayerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes)).Decode(&req); err != nil {
		writeError(w, r, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "invalid player request"))
		return
	}
	slot, err := game.ParseSlot(req.Slot)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.rec.ApplyPlayer(name, slot, req.Player); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "applied", "source": name, "slot": slot, "player": req.Player})
}

func (s *Server) handleClearPlayers(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.rec.ClearPlayers(name); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared", "source": name})
}

func (s *Server) handleGames(w http.ResponseWriter, r *http.Request) {
	if s.games == nil {
		writeError(w, r, apperrors.New(apperrors.CodeUnavailable, "results store disabled"))
		return
	}
	limit, err := limitParam(r, DefaultGamesLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	games, err := s.games.RecentGames(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if games == nil {
		games = []store.GameRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"games": games})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r, DefaultEventsLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": s.rec.RecentEvents(limit)})
}

// handleHealth is healthy while at least one source is running.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	running := 0
	statuses := s.rec.Statuses()
	for _, st := range statuses {
		if st.Running {
			running++
		}
	}
	status, text := http.StatusOK, "ok"
	if running == 0 {
		status, text = http.StatusServiceUnavailable, "unavailable"
	}
	writeJSON(w, status, map[string]any{"status": text, "running": running, "sources": len(statuses)})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		trace.Logger(r.Context()).Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.rateLimits[conn] = &rateLimiter{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		delete(s.rateLimits, conn)
		s.mu.Unlock()
	}()

	baseCtx := r.Context()
	log := trace.Logger(baseCtx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	_ = wsjson.Write(baseCtx, conn, SourcesMessage{Type: "sources", Sources: s.rec.Statuses()})

	for {
		var msg json.RawMessage
		if err := wsjson.Read(baseCtx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		// Check rate limit
		s.mu.RLock()
		rl := s.rateLimits[conn]
		s.mu.RUnlock()

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			_ = wsjson.Write(baseCtx, conn, ErrorMessage{Type: "error", Message: "rate limit exceeded"})
			continue
		}

		var base Message
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}

		switch base.Type {
		case "sources":
			_ = wsjson.Write(baseCtx, conn, SourcesMessage{Type: "sources", Sources: s.rec.Statuses()})
		case "ping":
			_ = wsjson.Write(baseCtx, conn, Message{Type: "pong"})
		default:
			_ = wsjson.Write(baseCtx, conn, ErrorMessage{Type: "error", Message: "unknown message type " + strconv.Quote(base.Type)})
		}
	}
}

// broadcastEvents forwards journal events to every connection. Events carry
// their kind in the "type" field.
func (s *Server) broadcastEvents() {
	for evt := range s.rec.Events() {
		s.mu.RLock()
		for conn := range s.conns {
			go func(c *websocket.Conn) {
				ctx, cancel := context.WithTimeout(context.Background(), WriteTimeout)
				defer cancel()
				_ = wsjson.Write(ctx, c, evt)
			}(conn)
		}
		s.mu.RUnlock()
	}
}
