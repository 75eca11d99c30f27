package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"taskdeck/internal/normalize"
)

// Redis delivers broadcast events over Redis pub/sub. Each
// subscription runs its own receive loop and reconnects when the
// pubsub channel closes under it.
type Redis struct {
	rc  *redis.Client
	log *logrus.Logger

	mu     sync.Mutex
	cancel []context.CancelFunc
	closed bool
}

// NewRedis wraps an existing Redis client. The caller owns rc's
// lifecycle except that Close stops all receive loops.
func NewRedis(rc *redis.Client, log *logrus.Logger) *Redis {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Redis{rc: rc, log: log}
}

// Subscribe starts a receive loop filtering for one event kind.
func (r *Redis) Subscribe(channel, event string, h Handler) (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = append(r.cancel, cancel)
	go r.receive(ctx, channel, event, h)
	return &Subscription{cancel: cancel}, nil
}

func (r *Redis) receive(ctx context.Context, channel, event string, h Handler) {
	for {
		sub := r.rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	inner:
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break inner
				}
				ev, ok := decodeEvent([]byte(msg.Payload))
				if !ok {
					r.log.WithField("channel", channel).Warn("undecodable push payload, dropping")
					continue
				}
				if event != "" && ev.Kind != event {
					continue
				}
				h(ev)
			}
		}
		sub.Close()
		if ctx.Err() != nil {
			return
		}
		r.log.WithField("channel", channel).Error("pubsub channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}

// Close stops every receive loop started by this channel.
func (r *Redis) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for _, cancel := range r.cancel {
		cancel()
	}
	r.cancel = nil
	return nil
}

// decodeEvent parses the wire envelope {"event":..., "task":{...}}.
// The task object goes through the normalizer like any other payload.
func decodeEvent(payload []byte) (Event, bool) {
	var envelope struct {
		Event string          `json:"event"`
		Task  json.RawMessage `json:"task"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.Event == "" {
		return Event{}, false
	}
	ev := Event{Kind: envelope.Event}
	if len(envelope.Task) > 0 {
		ev.Task = normalize.TaskFromJSON(envelope.Task)
	}
	return ev, true
}
