package broadcast

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event types pushed to subscribers
const (
	EventSignupPending   = "signup.pending"
	EventSignupConfirmed = "signup.confirmed"
	EventSignupDeclined  = "signup.declined"
	EventSignupCanceled  = "signup.canceled"
	EventHeartbeat       = "heartbeat"
)

// Event is an immutable fact about one state transition, for delivery only
type Event struct {
	Type           string    `json:"type"`
	ShiftID        string    `json:"shift_id,omitempty"`
	SignupID       string    `json:"signup_id,omitempty"`
	GroupBookingID string    `json:"group_booking_id,omitempty"`
	OldStatus      string    `json:"old_status,omitempty"`
	NewStatus      string    `json:"new_status,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Connection is one live subscriber stream. Events arrive on C until the
// connection is unsubscribed, after which C is closed.
type Connection struct {
	ID     string
	UserID string
	C      chan Event

	stopHeartbeat chan struct{}
}

const shardCount = 32

// bucket holds the connections of the users hashed to one shard
type bucket struct {
	mu          sync.RWMutex
	connections map[string]map[string]*Connection // userID -> connID -> conn
}

// Hub is the per-user connection registry. Construct with NewHub and tear
// down with Close; instances share no state.
type Hub struct {
	buckets           [shardCount]*bucket
	heartbeatInterval time.Duration
	bufferSize        int
	logger            *zap.Logger

	closed   chan struct{}
	closeOne sync.Once
}

// NewHub creates a hub that heartbeats every open connection on the given interval
func NewHub(heartbeatInterval time.Duration, logger *zap.Logger) *Hub {
	h := &Hub{
		heartbeatInterval: heartbeatInterval,
		bufferSize:        16,
		logger:            logger,
		closed:            make(chan struct{}),
	}
	for i := range h.buckets {
		h.buckets[i] = &bucket{connections: make(map[string]map[string]*Connection)}
	}
	return h
}

func (h *Hub) bucketFor(userID string) *bucket {
	var sum uint32
	for i := 0; i < len(userID); i++ {
		sum = sum*31 + uint32(userID[i])
	}
	return h.buckets[sum%shardCount]
}

// Subscribe registers a new connection for the user. Callers must pair every
// Subscribe with an Unsubscribe when the transport closes.
func (h *Hub) Subscribe(userID string) *Connection {
	conn := &Connection{
		ID:            uuid.New().String(),
		UserID:        userID,
		C:             make(chan Event, h.bufferSize),
		stopHeartbeat: make(chan struct{}),
	}

	b := h.bucketFor(userID)
	b.mu.Lock()
	if b.connections[userID] == nil {
		b.connections[userID] = make(map[string]*Connection)
	}
	b.connections[userID][conn.ID] = conn
	b.mu.Unlock()

	go h.heartbeatLoop(conn)

	h.logger.Debug("connection subscribed",
		zap.String("user_id", userID),
		zap.String("conn_id", conn.ID))
	return conn
}

// Unsubscribe removes the connection and closes its event channel. Safe to
// call more than once for the same connection.
func (h *Hub) Unsubscribe(conn *Connection) {
	b := h.bucketFor(conn.UserID)
	b.mu.Lock()
	conns, ok := b.connections[conn.UserID]
	if ok {
		if _, live := conns[conn.ID]; !live {
			ok = false
		}
		delete(conns, conn.ID)
		if len(conns) == 0 {
			delete(b.connections, conn.UserID)
		}
	}
	b.mu.Unlock()

	if !ok {
		return
	}
	close(conn.stopHeartbeat)
	close(conn.C)

	h.logger.Debug("connection unsubscribed",
		zap.String("user_id", conn.UserID),
		zap.String("conn_id", conn.ID))
}

// Publish delivers the event to every live connection of the user.
// Delivery is at-most-once: a connection whose buffer is full is pruned and
// the event for it is dropped, never queued.
func (h *Hub) Publish(userID string, event Event) {
	b := h.bucketFor(userID)
	b.mu.RLock()
	conns := make([]*Connection, 0, len(b.connections[userID]))
	for _, conn := range b.connections[userID] {
		conns = append(conns, conn)
	}
	b.mu.RUnlock()

	for _, conn := range conns {
		if !h.trySend(conn, event) {
			h.logger.Warn("dropping event for stalled connection",
				zap.String("user_id", userID),
				zap.String("conn_id", conn.ID),
				zap.String("event_type", event.Type))
			h.Unsubscribe(conn)
		}
	}
}

// trySend attempts a non-blocking delivery. The send happens under the
// bucket's read lock and only while the connection is still registered:
// Unsubscribe removes the connection under the write lock before closing C,
// so nothing can send on a closed channel.
func (h *Hub) trySend(conn *Connection, event Event) bool {
	b := h.bucketFor(conn.UserID)
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, live := b.connections[conn.UserID][conn.ID]; !live {
		return false
	}
	select {
	case conn.C <- event:
		return true
	default:
		return false
	}
}

func (h *Hub) heartbeatLoop(conn *Connection) {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-conn.stopHeartbeat:
			return
		case <-h.closed:
			return
		case <-ticker.C:
			if !h.trySend(conn, Event{Type: EventHeartbeat, OccurredAt: time.Now().UTC()}) {
				h.logger.Debug("heartbeat failed, pruning connection",
					zap.String("user_id", conn.UserID),
					zap.String("conn_id", conn.ID))
				h.Unsubscribe(conn)
				return
			}
		}
	}
}

// Close unsubscribes every connection and stops all heartbeats
func (h *Hub) Close() {
	h.closeOne.Do(func() {
		close(h.closed)
	})
	for _, b := range h.buckets {
		b.mu.Lock()
		conns := make([]*Connection, 0)
		for _, userConns := range b.connections {
			for _, conn := range userConns {
				conns = append(conns, conn)
			}
		}
		b.mu.Unlock()
		for _, conn := range conns {
			h.Unsubscribe(conn)
		}
	}
}
