package realtime_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"taskdeck/internal/domain"
	"taskdeck/internal/realtime"
)

func TestMemoryDispatchAndFilter(t *testing.T) {
	m := realtime.NewMemory()
	defer m.Close()

	var created, all []realtime.Event
	if _, err := m.Subscribe("tasks-channel", realtime.TaskCreatedEvent, func(ev realtime.Event) {
		created = append(created, ev)
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := m.Subscribe("tasks-channel", "", func(ev realtime.Event) {
		all = append(all, ev)
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	m.Publish("tasks-channel", realtime.Event{Kind: realtime.TaskCreatedEvent, Task: domain.Task{ID: "t-1"}})
	m.Publish("tasks-channel", realtime.Event{Kind: realtime.TaskUpdatedEvent, Task: domain.Task{ID: "t-1"}})
	m.Publish("other-channel", realtime.Event{Kind: realtime.TaskCreatedEvent, Task: domain.Task{ID: "t-2"}})

	if len(created) != 1 || created[0].Task.ID != "t-1" {
		t.Fatalf("expected one filtered event, got %+v", created)
	}
	if len(all) != 2 {
		t.Fatalf("expected wildcard subscriber to see both, got %d", len(all))
	}
}

func TestMemoryUnsubscribeStopsDelivery(t *testing.T) {
	m := realtime.NewMemory()
	defer m.Close()

	var got int
	sub, err := m.Subscribe("tasks-channel", "", func(realtime.Event) { got++ })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	m.Publish("tasks-channel", realtime.Event{Kind: realtime.TaskCreatedEvent})
	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent
	m.Publish("tasks-channel", realtime.Event{Kind: realtime.TaskCreatedEvent})
	if got != 1 {
		t.Fatalf("expected one delivery, got %d", got)
	}
}

func TestMemoryCloseDropsSubscriptions(t *testing.T) {
	m := realtime.NewMemory()
	var got int
	if _, err := m.Subscribe("tasks-channel", "", func(realtime.Event) { got++ }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	m.Close()
	m.Publish("tasks-channel", realtime.Event{Kind: realtime.TaskCreatedEvent})
	if got != 0 {
		t.Fatalf("expected no delivery after close, got %d", got)
	}
}

func TestRedisDeliversNormalizedEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rc.Close()

	ch := realtime.NewRedis(rc, nil)
	defer ch.Close()

	events := make(chan realtime.Event, 4)
	if _, err := ch.Subscribe("tasks-channel", "", func(ev realtime.Event) {
		events <- ev
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	payload := `{"event":"TaskCreatedEvent","task":{"id":"t-1","title":"Ship","status":"pending","revision":1,"assigned_users":"[{\"id\":\"u-1\",\"name\":\"Ana\"}]"}}`
	publishUntilReceived(t, rc, "tasks-channel", payload)

	select {
	case ev := <-events:
		if ev.Kind != realtime.TaskCreatedEvent {
			t.Fatalf("unexpected kind %q", ev.Kind)
		}
		if ev.Task.ID != "t-1" || len(ev.Task.AssignedUsers) != 1 {
			t.Fatalf("expected normalized task, got %+v", ev.Task)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
}

func TestRedisDropsUndecodablePayloads(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rc.Close()

	ch := realtime.NewRedis(rc, nil)
	defer ch.Close()

	events := make(chan realtime.Event, 4)
	if _, err := ch.Subscribe("tasks-channel", "", func(ev realtime.Event) {
		events <- ev
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	publishUntilReceived(t, rc, "tasks-channel", "not json at all")
	publishUntilReceived(t, rc, "tasks-channel", `{"event":"TaskUpdatedEvent","task":{"id":"t-2"}}`)

	select {
	case ev := <-events:
		if ev.Task.ID != "t-2" {
			t.Fatalf("expected only the valid event, got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
}

func TestRedisSubscribeAfterClose(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rc.Close()

	ch := realtime.NewRedis(rc, nil)
	ch.Close()
	if _, err := ch.Subscribe("tasks-channel", "", func(realtime.Event) {}); err != realtime.ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

// publishUntilReceived retries until the subscriber loop is attached;
// pub/sub delivery starts only after the SUBSCRIBE lands.
func publishUntilReceived(t *testing.T, rc *redis.Client, channel, payload string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, err := rc.Publish(context.Background(), channel, payload).Result()
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
		if n > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no subscriber attached to %s", channel)
}
