package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/school-parliament/portal/internal/achievements"
	"github.com/school-parliament/portal/internal/domain"
)

// dialTestWS creates a test HTTP server that upgrades to WebSocket and
// returns the server-side and client-side connections. Both are closed
// with the server at test cleanup.
func dialTestWS(t *testing.T) (server, clientConn *websocket.Conn) {
	t.Helper()

	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		connCh <- c
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { clientConn.Close() })

	select {
	case server = <-connCh:
		return server, clientConn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server-side WebSocket connection")
		return nil, nil
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return msg
}

// expectSilence asserts nothing arrives on conn within a short window.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Fatalf("unexpected message %s", data)
	}
}

func connect(t *testing.T, b *Broadcaster, user uuid.UUID) *websocket.Conn {
	t.Helper()
	server, clientConn := dialTestWS(t)
	if _, err := b.AddClient(server, user); err != nil {
		t.Fatal(err)
	}
	if msg := readMessage(t, clientConn); msg.Type != MsgHello {
		t.Fatalf("first message = %s, want hello", msg.Type)
	}
	return clientConn
}

func TestUserScopedDelivery(t *testing.T) {
	b := NewBroadcaster(8, 0, achievements.DefaultRegistry(), nil)
	defer b.Close()
	anna, boris := uuid.New(), uuid.New()
	annaConn := connect(t, b, anna)
	borisConn := connect(t, b, boris)

	b.Handle(context.Background(), domain.Event{
		Type:        domain.EventAchievementUnlocked,
		UserID:      anna,
		Achievement: "first_task",
		At:          time.Now(),
	})

	msg := readMessage(t, annaConn)
	if msg.Type != MsgAchievementUnlocked {
		t.Fatalf("type = %s, want achievement_unlocked", msg.Type)
	}
	payload := msg.Payload.(map[string]interface{})
	if payload["id"] != "first_task" || payload["name"] != "Первый шаг" || payload["rewardEp"] != float64(10) {
		t.Errorf("payload = %v", payload)
	}
	expectSilence(t, borisConn)
}

func TestTopAwardGoesToEveryone(t *testing.T) {
	b := NewBroadcaster(8, 0, nil, nil)
	defer b.Close()
	a := connect(t, b, uuid.New())
	c := connect(t, b, uuid.New())

	task := uuid.New()
	b.Handle(context.Background(), domain.Event{Type: domain.EventTopAwarded, TaskID: task, Positions: []uuid.UUID{uuid.New()}})

	for _, conn := range []*websocket.Conn{a, c} {
		if msg := readMessage(t, conn); msg.Type != MsgTopAwarded {
			t.Errorf("type = %s, want top_awarded", msg.Type)
		}
	}
}

func TestEventTranslation(t *testing.T) {
	b := NewBroadcaster(8, 0, nil, nil)
	user := uuid.New()
	entry := &domain.LedgerEntry{ID: uuid.New(), UserID: user, Currency: domain.EP, Amount: 50, Reason: "task:x"}

	tests := []struct {
		name string
		ev   domain.Event
		want MessageType
		ok   bool
	}{
		{"reward", domain.Event{Type: domain.EventRewardGranted, UserID: user, Entry: entry}, MsgRewardGranted, true},
		{"reward without entry", domain.Event{Type: domain.EventRewardGranted, UserID: user}, "", false},
		{"task approved", domain.Event{Type: domain.EventTaskTransitioned, UserID: user, Action: "approve"}, MsgTaskApproved, true},
		{"instance rejected", domain.Event{Type: domain.EventInstanceTransitioned, UserID: user, Action: "reject", Feedback: "blurry"}, MsgTaskRejected, true},
		{"task started", domain.Event{Type: domain.EventTaskTransitioned, UserID: user, Action: "start"}, "", false},
		{"unassigned task", domain.Event{Type: domain.EventTaskTransitioned, Action: "approve"}, "", false},
		{"selection", domain.Event{Type: domain.EventTopSelected}, "", false},
		{"activity", domain.Event{Type: domain.EventActivityChanged, UserID: user}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, ok := b.message(tt.ev)
			if ok != tt.ok || got != tt.want {
				t.Errorf("message() = %q, %v; want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestSlowClientDropped(t *testing.T) {
	b := NewBroadcaster(1, 0, nil, nil)
	defer b.Close()
	server, _ := dialTestWS(t)
	user := uuid.New()

	// Registered without a writer so the queue fills up.
	c := &client{conn: server, b: b, userID: user, send: make(chan []byte, 1)}
	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	ev := domain.Event{Type: domain.EventTopAwarded, TaskID: uuid.New()}
	b.Handle(context.Background(), ev)
	if b.ClientCount() != 1 {
		t.Fatal("client dropped before its queue was full")
	}
	b.Handle(context.Background(), ev)
	if b.ClientCount() != 0 {
		t.Errorf("slow client still registered")
	}
	// A second removal is harmless.
	b.RemoveClient(c)
}

func TestAddClientMaxConnections(t *testing.T) {
	const maxConns = 2
	b := NewBroadcaster(8, maxConns, nil, nil)
	defer b.Close()

	var clients []*client
	for i := 0; i < maxConns; i++ {
		server, _ := dialTestWS(t)
		c, err := b.AddClient(server, uuid.New())
		if err != nil {
			t.Fatalf("AddClient[%d]: unexpected error: %v", i, err)
		}
		clients = append(clients, c)
	}

	server, _ := dialTestWS(t)
	if _, err := b.AddClient(server, uuid.New()); !errors.Is(err, ErrTooManyConnections) {
		t.Fatalf("expected ErrTooManyConnections, got %v", err)
	}

	b.RemoveClient(clients[0])
	server2, _ := dialTestWS(t)
	if _, err := b.AddClient(server2, uuid.New()); err != nil {
		t.Fatalf("AddClient after removal: unexpected error: %v", err)
	}
	if got := b.ClientCount(); got != maxConns {
		t.Fatalf("expected %d clients after re-add, got %d", maxConns, got)
	}
}

// TestWritePumpRemovesClientOnWriteError verifies that a write error
// unregisters the dead client.
func TestWritePumpRemovesClientOnWriteError(t *testing.T) {
	server, _ := dialTestWS(t)
	b := NewBroadcaster(8, 0, nil, nil)
	defer b.Close()

	c := &client{conn: server, b: b, send: make(chan []byte, 8)}
	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	server.Close()
	c.send <- []byte(`{"type":"test"}`)
	go c.writePump()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.ClientCount() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("client not removed after write error; ClientCount = %d", b.ClientCount())
}
