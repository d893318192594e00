package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	apperrors "github.com/GriffinCanCode/tetris-recorder/internal/errors"
	"github.com/GriffinCanCode/tetris-recorder/internal/game"
	"github.com/GriffinCanCode/tetris-recorder/internal/journal"
	"github.com/GriffinCanCode/tetris-recorder/internal/pipeline"
	"github.com/GriffinCanCode/tetris-recorder/internal/store"
)

// mockRecorder for testing.
type mockRecorder struct {
	mu       sync.Mutex
	statuses []pipeline.Status
	resets   []string
	applied  map[string]game.Player
	locked   bool
	events   []journal.Event
	eventsCh chan journal.Event
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{
		statuses: []pipeline.Status{
			{Source: "device:0", Running: true, Game: game.Snapshot{State: game.Menu}, P1Name: "P1", P2Name: "P2"},
		},
		applied:  make(map[string]game.Player),
		events:   []journal.Event{{Kind: journal.KindSource, Source: "device:0", Message: "started"}},
		eventsCh: make(chan journal.Event, 10),
	}
}

func (m *mockRecorder) known(source string) error {
	for _, s := range m.statuses {
		if s.Source == source {
			return nil
		}
	}
	return apperrors.Newf(apperrors.CodeNotFound, "unknown source %q", source)
}

func (m *mockRecorder) Statuses() []pipeline.Status { return m.statuses }

func (m *mockRecorder) Reset(source string) error {
	if err := m.known(source); err != nil {
		return err
	}
	m.mu.Lock()
	m.resets = append(m.resets, source)
	m.mu.Unlock()
	return nil
}

func (m *mockRecorder) ApplyPlayer(source string, slot game.Slot, p game.Player) error {
	if err := m.known(source); err != nil {
		return err
	}
	if m.locked {
		return apperrors.New(apperrors.CodeRosterLocked, "game already started")
	}
	m.mu.Lock()
	m.applied[string(slot)] = p
	m.mu.Unlock()
	return nil
}

func (m *mockRecorder) ClearPlayers(source string) error {
	if err := m.known(source); err != nil {
		return err
	}
	if m.locked {
		return apperrors.New(apperrors.CodeRosterLocked, "game already started")
	}
	clear(m.applied)
	return nil
}

func (m *mockRecorder) RecentEvents(int) []journal.Event { return m.events }
func (m *mockRecorder) Events() <-chan journal.Event   { return m.eventsCh }

type mockGames struct {
	games []store.GameRecord
	err   error
	limit int
}

func (g *mockGames) RecentGames(_ context.Context, limit int) ([]store.GameRecord, error) {
	g.limit = limit
	return g.games, g.err
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Test OPTIONS request
	req := httptest.NewRequest("OPTIONS", "/test", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("OPTIONS status = %d, want %d", rec.Code, http.StatusOK)
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("CORS origin = %q, want %q", v, "*")
	}
	if v := rec.Header().Get("Access-Control-Allow-Methods"); v != "GET, POST, DELETE, OPTIONS" {
		t.Errorf("CORS methods = %q, want %q", v, "GET, POST, DELETE, OPTIONS")
	}

	// Test regular request
	req = httptest.NewRequest("GET", "/test", http.NoBody)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("GET status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := &rateLimiter{}
	for i := 0; i < RateLimitMessages; i++ {
		if !rl.allow() {
			t.Fatalf("message %d rejected, want allowed", i)
		}
	}
	if rl.allow() {
		t.Error("message over the limit allowed, want rejected")
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSourcesEndpoint(t *testing.T) {
	s := New(newMockRecorder(), nil, nil)
	rec := do(t, s.Handler(), "GET", "/api/sources", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp struct {
		Sources []struct {
			Source string `json:"source"`
			Game   struct {
				State string `json:"state"`
			} `json:"game"`
		} `json:"sources"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json.Unmarshal error: %v", err)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].Source != "device:0" {
		t.Fatalf("sources = %+v, want device:0", resp.Sources)
	}
	if resp.Sources[0].Game.State != "MENU" {
		t.Errorf("state = %q, want MENU", resp.Sources[0].Game.State)
	}
}

func TestResetEndpoint(t *testing.T) {
	m := newMockRecorder()
	h := New(m, nil, nil).Handler()

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"known source", "/api/sources/device:0/reset", http.StatusOK},
		{"unknown source", "/api/sources/nope/reset", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, h, "POST", tt.path, ""); rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
	if len(m.resets) != 1 || m.resets[0] != "device:0" {
		t.Errorf("resets = %v, want [device:0]", m.resets)
	}
}

func TestPlayersEndpoint(t *testing.T) {
	tests := []struct {
		name   string
		method string
		body   string
		locked bool
		status int
		code   string
	}{
		{"apply", "POST", `{"slot":"p1","player":{"id":7,"username":"ana"}}`, false, http.StatusOK, ""},
		{"bad slot", "POST", `{"slot":"p3","player":{"id":7}}`, false, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"bad json", "POST", `{"slot":`, false, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"locked", "POST", `{"slot":"p2","player":{"id":8}}`, true, http.StatusConflict, "ROSTER_LOCKED"},
		{"clear", "DELETE", "", false, http.StatusOK, ""},
		{"clear locked", "DELETE", "", true, http.StatusConflict, "ROSTER_LOCKED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMockRecorder()
			m.locked = tt.locked
			rec := do(t, New(m, nil, nil).Handler(), tt.method, "/api/sources/device:0/players", tt.body)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
			if tt.code != "" {
				var resp map[string]string
				if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
					t.Fatalf("json.Unmarshal error: %v", err)
				}
				if resp["code"] != tt.code {
					t.Errorf("code = %q, want %q", resp["code"], tt.code)
				}
			}
		})
	}
}

func TestPlayerApplied(t *testing.T) {
	m := newMockRecorder()
	do(t, New(m, nil, nil).Handler(), "POST", "/api/sources/device:0/players", `{"slot":"p2","player":{"id":9,"first_name":"Bo"}}`)

	p, ok := m.applied["p2"]
	if !ok {
		t.Fatal("player not applied to p2")
	}
	if p.ID != 9 || p.FirstName != "Bo" {
		t.Errorf("player = %+v, want id 9 Bo", p)
	}
}

func TestGamesEndpoint(t *testing.T) {
	ended := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	games := &mockGames{games: []store.GameRecord{{ID: "g1", Source: "device:0", P1Score: 100, P2Score: 50, EndedAt: ended}}}
	h := New(newMockRecorder(), games, nil).Handler()

	rec := do(t, h, "GET", "/api/games?limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if games.limit != 5 {
		t.Errorf("limit = %d, want 5", games.limit)
	}
	var resp struct {
		Games []store.GameRecord `json:"games"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json.Unmarshal error: %v", err)
	}
	if len(resp.Games) != 1 || resp.Games[0].P1Score != 100 {
		t.Errorf("games = %+v, want g1 with 100", resp.Games)
	}

	if rec := do(t, h, "GET", "/api/games?limit=x", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	games.err = apperrors.New(apperrors.CodeStore, "db down")
	if rec := do(t, h, "GET", "/api/games", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("store error status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if games.limit != DefaultGamesLimit {
		t.Errorf("default limit = %d, want %d", games.limit, DefaultGamesLimit)
	}

	noStore := New(newMockRecorder(), nil, nil).Handler()
	if rec := do(t, noStore, "GET", "/api/games", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("no store status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHealthEndpoint(t *testing.T) {
	m := newMockRecorder()
	h := New(m, nil, nil).Handler()

	if rec := do(t, h, "GET", "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("running status = %d, want %d", rec.Code, http.StatusOK)
	}

	m.statuses[0].Running = false
	if rec := do(t, h, "GET", "/healthz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("stopped status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("tetris_recorder_up 1\n"))
	})
	rec := do(t, New(newMockRecorder(), nil, metrics).Handler(), "GET", "/metrics", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "tetris_recorder_up") {
		t.Errorf("body = %q, want metrics exposition", rec.Body.String())
	}
}

func TestWebSocketStream(t *testing.T) {
	m := newMockRecorder()
	srv := httptest.NewServer(New(m, nil, nil).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("websocket.Dial error: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	var hello SourcesMessage
	if err := wsjson.Read(ctx, conn, &hello); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if hello.Type != "sources" || len(hello.Sources) != 1 {
		t.Fatalf("hello = %+v, want one source", hello)
	}

	if err := wsjson.Write(ctx, conn, Message{Type: "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	var pong Message
	if err := wsjson.Read(ctx, conn, &pong); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if pong.Type != "pong" {
		t.Errorf("reply type = %q, want pong", pong.Type)
	}

	m.eventsCh <- journal.Event{Kind: journal.KindGameFinished, Source: "device:0", Message: "recorded"}
	var evt struct {
		Type    string `json:"type"`
		Source  string `json:"source"`
		Message string `json:"message"`
	}
	if err := wsjson.Read(ctx, conn, &evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if evt.Type != "game_finished" || evt.Source != "device:0" {
		t.Errorf("event = %+v, want game_finished from device:0", evt)
	}
}
