package realtime

import "sync"

// Memory is an in-process Channel. It backs tests and the local dev
// loop where no broker is running.
type Memory struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]subscriber // channel -> id -> subscriber
	closed bool
}

type subscriber struct {
	event   string
	handler Handler
}

// NewMemory creates an empty in-memory channel.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[int]subscriber)}
}

// Subscribe registers a handler for one event kind.
func (m *Memory) Subscribe(channel, event string, h Handler) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs[channel] == nil {
		m.subs[channel] = make(map[int]subscriber)
	}
	id := m.nextID
	m.nextID++
	m.subs[channel][id] = subscriber{event: event, handler: h}
	return &Subscription{cancel: func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs[channel], id)
	}}, nil
}

// Publish dispatches an event to every matching subscriber,
// synchronously and in subscription order.
func (m *Memory) Publish(channel string, ev Event) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	var handlers []Handler
	ids := make([]int, 0, len(m.subs[channel]))
	for id := range m.subs[channel] {
		ids = append(ids, id)
	}
	// map order is random; deliver in subscription order
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if ids[j] < ids[i] {
				ids[i], ids[j] = ids[j], ids[i]
			}
		}
	}
	for _, id := range ids {
		sub := m.subs[channel][id]
		if sub.event == "" || sub.event == ev.Kind {
			handlers = append(handlers, sub.handler)
		}
	}
	m.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

// Close drops all subscriptions.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = make(map[string]map[int]subscriber)
	return nil
}
