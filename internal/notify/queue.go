// Package notify keeps a bounded ring of recent human-readable alerts
// derived from store mutations. It holds no task state of its own.
package notify

import (
	"fmt"
	"sync"
	"time"

	"taskdeck/internal/domain"
	"taskdeck/internal/store"
)

// Capacity is the fixed queue bound; the oldest entry is evicted on
// overflow.
const Capacity = 10

// Queue is a most-recent-first notification buffer.
type Queue struct {
	mu    sync.Mutex
	items []domain.Notification
	now   func() time.Time
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{now: time.Now}
}

// Push appends a notification, evicting the oldest past Capacity.
func (q *Queue) Push(n domain.Notification) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n.Timestamp.IsZero() {
		n.Timestamp = q.now()
	}
	q.items = append([]domain.Notification{n}, q.items...)
	if len(q.items) > Capacity {
		q.items = q.items[:Capacity]
	}
}

// List returns the notifications, newest first.
func (q *Queue) List() []domain.Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.Notification, len(q.items))
	copy(out, q.items)
	return out
}

// Len returns the current queue size.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Observe translates a store mutation into a notification. Wire it
// with store.Subscribe(queue.Observe).
func (q *Queue) Observe(m store.Mutation) {
	if n, ok := Render(m); ok {
		q.Push(n)
	}
}

// Render maps a mutation kind to its template message. Snapshot
// replacements produce no notification.
func Render(m store.Mutation) (domain.Notification, bool) {
	var (
		message  string
		severity domain.Severity
	)
	switch m.Kind {
	case store.MutationCreated:
		message = fmt.Sprintf("Task created: %q", m.Task.Title)
		severity = domain.SeveritySuccess
	case store.MutationUpdated:
		message = fmt.Sprintf("Task updated: %q", m.Task.Title)
		severity = domain.SeveritySuccess
	case store.MutationSoftDeleted:
		message = fmt.Sprintf("Task deactivated: %q", m.Task.Title)
		severity = domain.SeverityWarning
	case store.MutationRemoved:
		message = fmt.Sprintf("Task deleted: %q", m.Task.Title)
		severity = domain.SeverityWarning
	case store.MutationAssigned:
		message = fmt.Sprintf("Assignments updated: %q", m.Task.Title)
		severity = domain.SeveritySuccess
	case store.MutationRemoteCreated:
		message = fmt.Sprintf("New task created: %q", m.Task.Title)
		severity = domain.SeveritySuccess
	case store.MutationRemoteUpdated:
		message = fmt.Sprintf("Task updated: %q", m.Task.Title)
		severity = domain.SeverityInfo
	case store.MutationRemoteDeleted:
		message = fmt.Sprintf("Task deleted: %q", m.Task.Title)
		severity = domain.SeverityWarning
	case store.MutationFailed:
		title := m.Task.Title
		if title == "" {
			title = m.Task.ID
		}
		message = fmt.Sprintf("Operation failed on %q: %v", title, m.Err)
		severity = domain.SeverityError
	default:
		return domain.Notification{}, false
	}
	return domain.Notification{Message: message, Severity: severity}, true
}
