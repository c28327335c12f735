package hub

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Bridge relays event envelopes between instances over redis pub/sub, so
// a user connected to one instance still receives events originating on
// another. Without a bridge the hub is purely in-process.
type Bridge struct {
	rdb      *redis.Client
	channel  string
	originID string
	logger   *zap.Logger
}

// envelope is the wire form of one relayed event.
type envelope struct {
	Origin  string          `json:"origin"`
	Event   string          `json:"event"`
	Targets []int64         `json:"targets"`
	Data    json.RawMessage `json:"data"`
}

// NewBridge creates a bridge publishing on the given redis channel.
func NewBridge(rdb *redis.Client, channel string, logger *zap.Logger) *Bridge {
	return &Bridge{
		rdb:      rdb,
		channel:  channel,
		originID: uuid.NewString(),
		logger:   logger,
	}
}

// Publish relays one event envelope to the other instances.
func (b *Bridge) Publish(ctx context.Context, event string, data []byte, targets []int64) error {
	env := envelope{
		Origin:  b.originID,
		Event:   event,
		Targets: targets,
		Data:    data,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// Run subscribes to the bridge channel and delivers foreign envelopes to
// the hub's local connections until ctx is cancelled. Envelopes published
// by this instance are skipped: local delivery already happened.
func (h *Hub) RunBridge(ctx context.Context) {
	if h.bridge == nil {
		return
	}
	b := h.bridge
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("discarding malformed bridge envelope", zap.Error(err))
				continue
			}
			if env.Origin == b.originID {
				continue
			}
			h.deliverLocal(env.Event, env.Data, env.Targets)
		}
	}
}
