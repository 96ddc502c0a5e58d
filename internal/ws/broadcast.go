package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/school-parliament/portal/internal/achievements"
	"github.com/school-parliament/portal/internal/domain"
	"github.com/school-parliament/portal/internal/logger"
	"github.com/school-parliament/portal/internal/metrics"
)

// ErrTooManyConnections is returned by AddClient when the connection limit
// is reached.
var ErrTooManyConnections = errors.New("too many notification connections")

const writeWait = 10 * time.Second

type client struct {
	conn   *websocket.Conn
	b      *Broadcaster
	userID uuid.UUID
	send   chan []byte
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			return
		}
	}
}

// Broadcaster delivers domain events to connected notification clients.
// User-scoped events reach only that user's clients; top awards reach
// everyone.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	buffer   int
	maxConns int
	defs     map[string]achievements.Definition
	log      *logger.Logger
}

// NewBroadcaster creates a broadcaster with a per-client queue of buffer
// messages. maxConns <= 0 means unlimited.
func NewBroadcaster(buffer, maxConns int, defs []achievements.Definition, log *logger.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = 64
	}
	if log == nil {
		log = logger.Nop()
	}
	b := &Broadcaster{
		clients:  make(map[*client]bool),
		buffer:   buffer,
		maxConns: maxConns,
		defs:     make(map[string]achievements.Definition, len(defs)),
		log:      log.Named("notifications"),
	}
	for _, d := range defs {
		b.defs[d.ID] = d
	}
	return b
}

// AddClient registers conn for userID's notifications and starts its writer.
func (b *Broadcaster) AddClient(conn *websocket.Conn, userID uuid.UUID) (*client, error) {
	c := &client{
		conn:   conn,
		b:      b,
		userID: userID,
		send:   make(chan []byte, b.buffer),
	}
	if data, err := encode(MsgHello, HelloPayload{UserID: userID}, time.Now().UTC()); err == nil {
		c.send <- data
	}

	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	b.clients[c] = true
	b.mu.Unlock()
	metrics.WSClients.Inc()

	go c.writePump()
	return c, nil
}

// RemoveClient unregisters c and closes its queue. It is safe to call twice.
func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
		metrics.WSClients.Dec()
	}
	b.mu.Unlock()
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close disconnects every client.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	for c := range b.clients {
		delete(b.clients, c)
		close(c.send)
		metrics.WSClients.Dec()
	}
	b.mu.Unlock()
}

// Handle is an events.Handler translating committed events into
// notifications.
func (b *Broadcaster) Handle(_ context.Context, ev domain.Event) {
	typ, payload, ok := b.message(ev)
	if !ok {
		return
	}
	data, err := encode(typ, payload, ev.At)
	if err != nil {
		b.log.Error("notification marshal failed", "type", typ, "error", err)
		return
	}
	if typ == MsgTopAwarded {
		b.deliver(data, func(*client) bool { return true })
		return
	}
	b.deliver(data, func(c *client) bool { return c.userID == ev.UserID })
}

func (b *Broadcaster) message(ev domain.Event) (MessageType, interface{}, bool) {
	switch ev.Type {
	case domain.EventRewardGranted:
		if ev.Entry == nil || ev.UserID == uuid.Nil {
			return "", nil, false
		}
		return MsgRewardGranted, RewardPayload{
			EntryID:     ev.Entry.ID,
			Currency:    ev.Entry.Currency,
			Amount:      ev.Entry.Amount,
			Reason:      ev.Entry.Reason,
			Achievement: ev.Achievement,
		}, true
	case domain.EventTaskTransitioned, domain.EventInstanceTransitioned:
		if ev.UserID == uuid.Nil {
			return "", nil, false
		}
		p := ReviewPayload{TaskID: ev.TaskID, InstanceID: ev.InstanceID, Status: ev.Status, Feedback: ev.Feedback}
		switch ev.Action {
		case "approve":
			return MsgTaskApproved, p, true
		case "reject":
			return MsgTaskRejected, p, true
		}
	case domain.EventAchievementUnlocked:
		p := AchievementUnlockedPayload{ID: ev.Achievement, Name: ev.Achievement}
		if d, ok := b.defs[ev.Achievement]; ok {
			p.Name = d.Name
			p.Description = d.Description
			p.Rarity = string(d.Rarity)
			p.RewardXP = d.Reward.XP
			p.RewardEP = d.Reward.EP
		}
		return MsgAchievementUnlocked, p, ev.UserID != uuid.Nil
	case domain.EventTopAwarded:
		return MsgTopAwarded, TopAwardedPayload{TaskID: ev.TaskID, Instances: ev.Positions}, true
	}
	return "", nil, false
}

func (b *Broadcaster) deliver(data []byte, match func(*client) bool) {
	b.mu.RLock()
	targets := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		if match(c) {
			targets = append(targets, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range targets {
		if !b.trySend(c, data) {
			// Client can't keep up, disconnect it
			metrics.NotificationsDropped.Inc()
			b.log.Warn("notification client too slow, disconnecting", "user", c.userID)
			b.RemoveClient(c)
		}
	}
}

// trySend queues data without blocking. A client removed concurrently has
// a closed queue; the send is then skipped.
func (b *Broadcaster) trySend(c *client, data []byte) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.clients[c] {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func encode(typ MessageType, payload interface{}, at time.Time) ([]byte, error) {
	return json.Marshal(WSMessage{Type: typ, Payload: payload, At: at})
}
