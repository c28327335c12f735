// Package hub maintains the live-connection registry and fans events out
// to the connections of every authorized user. Delivery is fire-and-forget:
// the mutating request never waits on a push, and users with no live
// connection are silently skipped.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parlorchat/parlor-server/internal/store"
)

// Sender is the abstract push side of one live connection. The hub is
// agnostic to the wire protocol behind it.
type Sender interface {
	Send(event string, payload []byte) error
	Close() error
}

// Connection is an ephemeral handle for one live connection of one user.
// A user may hold any number of them at once.
type Connection struct {
	ID     uuid.UUID
	UserID int64
	sender Sender
}

// Hub is the connection registry and broadcaster. Register/Unregister may
// race with broadcasts; the registry is guarded by an RWMutex and
// broadcasts iterate over a snapshot taken under the read lock.
type Hub struct {
	store  store.Store
	logger *zap.Logger
	bridge *Bridge

	mu     sync.RWMutex
	byUser map[int64]map[uuid.UUID]*Connection

	// All notifications flow through one queue consumed by one worker,
	// which both keeps event order stable and draws the persist/notify
	// boundary explicitly.
	queue chan func(ctx context.Context)
	done  chan struct{}
}

// Option configures a Hub.
type Option func(*Hub)

// WithBridge attaches a cross-instance event bridge.
func WithBridge(b *Bridge) Option {
	return func(h *Hub) { h.bridge = b }
}

// NewHub creates the hub and starts its dispatch worker.
func NewHub(st store.Store, logger *zap.Logger, opts ...Option) *Hub {
	h := &Hub{
		store:  st,
		logger: logger,
		byUser: make(map[int64]map[uuid.UUID]*Connection),
		queue:  make(chan func(ctx context.Context), 256),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	go h.worker()
	return h
}

func (h *Hub) worker() {
	defer close(h.done)
	for task := range h.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		task(ctx)
		cancel()
	}
}

// Close stops the dispatch worker after draining queued notifications.
func (h *Hub) Close() {
	close(h.queue)
	<-h.done
}

// enqueue hands a notification task to the worker. A full queue drops the
// notification rather than stalling the caller: pushes are droppable and
// the durable record is re-fetchable.
func (h *Hub) enqueue(task func(ctx context.Context)) {
	select {
	case h.queue <- task:
	default:
		h.logger.Warn("notification queue full, dropping event")
	}
}

// Flush blocks until every notification enqueued before the call has been
// dispatched. Intended for tests and shutdown.
func (h *Hub) Flush() {
	ch := make(chan struct{})
	h.queue <- func(context.Context) { close(ch) }
	<-ch
}

// Register adds a live connection for the user and returns its handle.
func (h *Hub) Register(userID int64, sender Sender) *Connection {
	conn := &Connection{ID: uuid.New(), UserID: userID, sender: sender}

	h.mu.Lock()
	conns, ok := h.byUser[userID]
	if !ok {
		conns = make(map[uuid.UUID]*Connection)
		h.byUser[userID] = conns
	}
	conns[conn.ID] = conn
	h.mu.Unlock()

	h.logger.Debug("connection registered",
		zap.Int64("user_id", userID),
		zap.String("connection_id", conn.ID.String()),
	)
	return conn
}

// Unregister removes a live connection. Safe to call twice.
func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	if conns, ok := h.byUser[conn.UserID]; ok {
		delete(conns, conn.ID)
		if len(conns) == 0 {
			delete(h.byUser, conn.UserID)
		}
	}
	h.mu.Unlock()

	h.logger.Debug("connection unregistered",
		zap.Int64("user_id", conn.UserID),
		zap.String("connection_id", conn.ID.String()),
	)
}

// ConnectionCount reports the live connections held by a user.
func (h *Hub) ConnectionCount(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

// Broadcast pushes an event to all live connections of each target user
// and relays it through the bridge for other instances. Send failures are
// logged and dropped; they never fail the originating mutation.
func (h *Hub) Broadcast(ctx context.Context, event string, payload any, targets map[int64]struct{}) {
	if len(targets) == 0 {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to marshal event payload",
			zap.String("event", event), zap.Error(err))
		return
	}

	ids := make([]int64, 0, len(targets))
	for id := range targets {
		ids = append(ids, id)
	}
	h.deliverLocal(event, data, ids)

	if h.bridge != nil {
		if err := h.bridge.Publish(ctx, event, data, ids); err != nil {
			h.logger.Warn("failed to relay event to bridge",
				zap.String("event", event), zap.Error(err))
		}
	}
}

// deliverLocal sends to connections registered in this process.
func (h *Hub) deliverLocal(event string, data []byte, targets []int64) {
	h.mu.RLock()
	var snapshot []*Connection
	for _, userID := range targets {
		for _, conn := range h.byUser[userID] {
			snapshot = append(snapshot, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range snapshot {
		if err := conn.sender.Send(event, data); err != nil {
			h.logger.Debug("dropping push to dead connection",
				zap.Int64("user_id", conn.UserID),
				zap.String("connection_id", conn.ID.String()),
				zap.Error(err),
			)
		}
	}
}
