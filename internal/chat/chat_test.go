package chat_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/cashoutai/tradedesk/internal/chat"
	"github.com/cashoutai/tradedesk/internal/model"
	"github.com/cashoutai/tradedesk/internal/store"
)

// presence records SetOnline calls.
type presence struct {
	mu    sync.Mutex
	state map[string]bool
}

func (p *presence) SetOnline(_ context.Context, userID string, online bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state[userID] = online
	return nil
}

func (p *presence) online(userID string) (bool, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.state[userID]
	return v, ok
}

type testEnv struct {
	svc      *chat.Service
	hub      *chat.Hub
	store    *store.MemoryStore
	presence *presence
	router   chi.Router
}

func newTestEnv(t *testing.T, historyLimit int) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	p := &presence{state: make(map[string]bool)}
	hub := chat.NewHub(p)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	svc := chat.NewService(ms, hub, historyLimit)
	r := chi.NewRouter()
	h := chat.NewHandler(svc, hub)
	r.Route("/api", func(r chi.Router) {
		h.Routes(r)
		h.WSRoutes(r)
	})

	return &testEnv{svc: svc, hub: hub, store: ms, presence: p, router: r}
}

func seedUser(t *testing.T, ms *store.MemoryStore, id string, status model.UserStatus) {
	t.Helper()
	if err := ms.CreateUser(context.Background(), &model.User{
		ID: id, Username: "user-" + id, RealName: "User " + id, Status: status,
		CreatedAt: time.Now().UTC(), LastSeen: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func TestPostMessage_HighlightsTickers(t *testing.T) {
	env := newTestEnv(t, 0)
	seedUser(t, env.store, "u1", model.StatusApproved)

	m, err := env.svc.PostMessage(context.Background(), "u1", chat.PostInput{
		Content: "  Loading $tsla and $NVDA, trimming $TSLA  ",
	})
	if err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if got := strings.Join(m.HighlightedTickers, ","); got != "TSLA,NVDA" {
		t.Errorf("tickers: got %q, want TSLA,NVDA", got)
	}
	if m.Content != "Loading $tsla and $NVDA, trimming $TSLA" {
		t.Errorf("content should be trimmed, got %q", m.Content)
	}
	if m.MessageType != chat.TypeText || m.Username != "user-u1" {
		t.Errorf("unexpected message: %+v", m)
	}
}

func TestPostMessage_Rejections(t *testing.T) {
	env := newTestEnv(t, 0)
	seedUser(t, env.store, "u1", model.StatusApproved)
	seedUser(t, env.store, "p1", model.StatusPending)
	ctx := context.Background()

	if _, err := env.svc.PostMessage(ctx, "p1", chat.PostInput{Content: "hi"}); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("pending user: expected ErrInvalidState, got %v", err)
	}
	if _, err := env.svc.PostMessage(ctx, "ghost", chat.PostInput{Content: "hi"}); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("unknown user: expected ErrNotFound, got %v", err)
	}
	if _, err := env.svc.PostMessage(ctx, "u1", chat.PostInput{Content: "   "}); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("empty message: expected ErrInvalidState, got %v", err)
	}
	if _, err := env.svc.PostMessage(ctx, "u1", chat.PostInput{ImageURL: "http://evil.example/x.png"}); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("foreign image url: expected ErrInvalidState, got %v", err)
	}

	m, err := env.svc.PostMessage(ctx, "u1", chat.PostInput{ImageURL: "data:image/png;base64,AAAA"})
	if err != nil {
		t.Fatalf("image message: %v", err)
	}
	if m.MessageType != chat.TypeImage {
		t.Errorf("message type: got %q, want image", m.MessageType)
	}
}

func TestListMessages_LatestOldestFirst(t *testing.T) {
	env := newTestEnv(t, 3)
	seedUser(t, env.store, "u1", model.StatusApproved)

	for _, text := range []string{"one", "two", "three", "four", "five"} {
		if _, err := env.svc.PostMessage(context.Background(), "u1", chat.PostInput{Content: text}); err != nil {
			t.Fatal(err)
		}
		time.Sleep(time.Millisecond)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/chat/messages", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var msgs []model.Message
	json.Unmarshal(w.Body.Bytes(), &msgs)

	var got []string
	for _, m := range msgs {
		got = append(got, m.Content)
	}
	if strings.Join(got, ",") != "three,four,five" {
		t.Errorf("history: got %v, want [three four five]", got)
	}
}

func TestPostMessage_HTTP(t *testing.T) {
	env := newTestEnv(t, 0)
	seedUser(t, env.store, "u1", model.StatusApproved)

	body, _ := json.Marshal(chat.PostInput{Content: "$AAPL breaking out"})
	req := httptest.NewRequest(http.MethodPost, "/api/chat/messages?user_id=u1", bytes.NewReader(body))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/chat/messages", bytes.NewReader(body))
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing user_id: expected 400, got %d", w.Code)
	}
}

func dial(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env map[string]any
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return env
}

func TestHub_BroadcastsAndTracksPresence(t *testing.T) {
	env := newTestEnv(t, 0)
	seedUser(t, env.store, "u1", model.StatusApproved)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dial(t, srv, "u1")
	eventually(t, func() bool { return env.hub.OnlineCount() == 1 })
	eventually(t, func() bool { on, ok := env.presence.online("u1"); return ok && on })
	if users := env.hub.OnlineUsers(); len(users) != 1 || users[0] != "u1" {
		t.Errorf("online users: got %v", users)
	}

	if _, err := env.svc.PostMessage(context.Background(), "u1", chat.PostInput{Content: "$MSFT"}); err != nil {
		t.Fatal(err)
	}
	frame := readEnvelope(t, conn)
	if frame["type"] != "new_message" {
		t.Fatalf("expected new_message, got %v", frame["type"])
	}

	env.hub.Publish("position_closed", "u1", map[string]string{"symbol": "TSLA"})
	frame = readEnvelope(t, conn)
	if frame["type"] != "position_closed" || frame["user_id"] != "u1" {
		t.Errorf("unexpected engine event frame: %v", frame)
	}

	conn.WriteMessage(websocket.TextMessage, []byte("ping from client"))
	frame = readEnvelope(t, conn)
	if frame["type"] != "ack" || frame["data"] != "ping from client" {
		t.Errorf("unexpected ack: %v", frame)
	}

	conn.Close()
	eventually(t, func() bool { return env.hub.OnlineCount() == 0 })
	eventually(t, func() bool { on, ok := env.presence.online("u1"); return ok && !on })
}

// slowPresence takes longer to mark a user online than offline and keeps
// the order calls were applied in.
type slowPresence struct {
	mu    sync.Mutex
	calls []bool
}

func (p *slowPresence) SetOnline(_ context.Context, _ string, online bool) error {
	if online {
		time.Sleep(50 * time.Millisecond)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, online)
	return nil
}

func (p *slowPresence) applied() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.calls...)
}

func TestHub_PresenceAppliedInConnectOrder(t *testing.T) {
	ms := store.NewMemoryStore()
	seedUser(t, ms, "u1", model.StatusApproved)
	p := &slowPresence{}
	hub := chat.NewHub(p)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	r := chi.NewRouter()
	r.Route("/api", chat.NewHandler(chat.NewService(ms, hub, 0), hub).WSRoutes)
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn := dial(t, srv, "u1")
	eventually(t, func() bool { return hub.OnlineCount() == 1 })
	conn.Close()
	eventually(t, func() bool { return hub.OnlineCount() == 0 })
	eventually(t, func() bool { return len(p.applied()) == 2 })

	if got := p.applied(); !got[0] || got[1] {
		t.Errorf("presence applied as %v, want [true false]", got)
	}
}

func TestServeWS_RejectsUnapproved(t *testing.T) {
	env := newTestEnv(t, 0)
	seedUser(t, env.store, "p1", model.StatusPending)

	req := httptest.NewRequest(http.MethodGet, "/api/ws/p1", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}
