// Package events publishes task broadcast events to the pub/sub
// channel the clients subscribe on.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"taskdeck/internal/domain"
	"taskdeck/internal/realtime"
)

// Publisher fans out task events over Redis. A nil RC disables
// publishing, so the dev server runs fine without a broker.
type Publisher struct {
	RC      *redis.Client
	Channel string
	Log     *logrus.Logger
}

func (p Publisher) logger() *logrus.Logger {
	if p.Log != nil {
		return p.Log
	}
	return logrus.StandardLogger()
}

// TaskEvent publishes one event carrying the full task record.
func (p Publisher) TaskEvent(ctx context.Context, kind string, t domain.Task) error {
	if p.RC == nil {
		return nil
	}
	channel := p.Channel
	if channel == "" {
		channel = realtime.DefaultChannel
	}
	payload, err := json.Marshal(realtime.Event{Kind: kind, Task: t})
	if err != nil {
		return fmt.Errorf("marshal task event: %w", err)
	}
	if err := p.RC.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", kind, err)
	}
	p.logger().WithFields(logrus.Fields{"event": kind, "task": t.ID}).Debug("published task event")
	return nil
}
