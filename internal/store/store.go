// Package store holds the authoritative client-side task collection
// and reconciles it against the server of record. Local mutations are
// applied optimistically and rolled back on failure; remote push
// events are merged last-writer-wins by revision, with events for an
// id that has an unconfirmed local mutation deferred until that
// mutation resolves.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"taskdeck/internal/domain"
	"taskdeck/internal/transport"
)

// API is the slice of the task API the store drives. *transport.Client
// satisfies it.
type API interface {
	ListTasks(ctx context.Context) ([]domain.Task, error)
	CreateTask(ctx context.Context, title, description string) (domain.Task, error)
	UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error)
	SoftDeleteTask(ctx context.Context, id string) (domain.Task, error)
	DeleteTask(ctx context.Context, id string) error
	AssignTask(ctx context.Context, id string, userIDs []string) (domain.Task, error)
}

// MutationKind tags a store change for observers.
type MutationKind string

const (
	MutationLoaded        MutationKind = "loaded"
	MutationCreated       MutationKind = "created"
	MutationUpdated       MutationKind = "updated"
	MutationSoftDeleted   MutationKind = "soft_deleted"
	MutationRemoved       MutationKind = "removed"
	MutationAssigned      MutationKind = "assigned"
	MutationRemoteCreated MutationKind = "remote_created"
	MutationRemoteUpdated MutationKind = "remote_updated"
	MutationRemoteDeleted MutationKind = "remote_deleted"
	MutationFailed        MutationKind = "failed"
)

// Mutation describes one store change. For MutationFailed, Err holds
// the surfaced failure and Task the record the operation targeted.
type Mutation struct {
	Kind MutationKind
	Task domain.Task
	Err  error
}

// RemoteKind is the reconciliation type of a push event.
type RemoteKind string

const (
	RemoteCreated RemoteKind = "created"
	RemoteUpdated RemoteKind = "updated"
	RemoteDeleted RemoteKind = "deleted"
)

type remoteEvent struct {
	kind RemoteKind
	task domain.Task
}

// Store is safe for concurrent use. The lock is released while a REST
// call is in flight, so independent ids can mutate in parallel; the
// defer/replay rule keeps same-id races consistent.
type Store struct {
	api API
	log *logrus.Logger

	mu        sync.Mutex
	tasks     map[string]domain.Task
	pending   map[string]bool
	deferred  map[string][]remoteEvent
	listeners []func(Mutation)
}

// New creates an empty store driving the given API.
func New(api API, log *logrus.Logger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{
		api:      api,
		log:      log,
		tasks:    make(map[string]domain.Task),
		pending:  make(map[string]bool),
		deferred: make(map[string][]remoteEvent),
	}
}

// Subscribe registers a mutation observer. Observers run after the
// store lock is released and must not be assumed to run on any
// particular goroutine.
func (s *Store) Subscribe(fn func(Mutation)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// LoadAll replaces the snapshot with the server's task collection in a
// single assignment; readers never observe a partial replace.
func (s *Store) LoadAll(ctx context.Context) error {
	tasks, err := s.api.ListTasks(ctx)
	if err != nil {
		return err
	}
	next := make(map[string]domain.Task, len(tasks))
	for _, t := range tasks {
		next[t.ID] = t
	}
	s.mu.Lock()
	s.tasks = next
	s.pending = make(map[string]bool)
	s.deferred = make(map[string][]remoteEvent)
	s.mu.Unlock()
	s.emit(Mutation{Kind: MutationLoaded})
	return nil
}

// Create optimistically inserts a provisional record under a local
// temporary id, then reconciles with the server response. A failed
// create leaves no trace in the store.
func (s *Store) Create(ctx context.Context, title, description string) (domain.Task, error) {
	if strings.TrimSpace(title) == "" {
		return domain.Task{}, transport.NewValidationError("title is required")
	}
	temp := domain.Task{
		ID:          "tmp-" + uuid.NewString(),
		Title:       title,
		Description: description,
		Status:      domain.StatusPending,
		Pending:     true,
	}
	s.mu.Lock()
	s.tasks[temp.ID] = temp
	s.pending[temp.ID] = true
	s.mu.Unlock()

	created, err := s.api.CreateTask(ctx, title, description)

	s.mu.Lock()
	delete(s.tasks, temp.ID)
	delete(s.pending, temp.ID)
	delete(s.deferred, temp.ID)
	if err != nil {
		s.mu.Unlock()
		s.emit(Mutation{Kind: MutationFailed, Task: temp, Err: err})
		return domain.Task{}, err
	}
	created.Pending = false
	// A push event for our own create may have landed first; keep the
	// higher revision.
	if cur, ok := s.tasks[created.ID]; !ok || created.Revision >= cur.Revision {
		s.tasks[created.ID] = created
	}
	result := s.tasks[created.ID]
	s.mu.Unlock()
	s.emit(Mutation{Kind: MutationCreated, Task: result})
	return result, nil
}

// Update optimistically merges patch into the record, then replaces it
// with the server response, or rolls back to the exact pre-mutation
// record on failure.
func (s *Store) Update(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	s.mu.Lock()
	prev, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return domain.Task{}, &transport.Error{Kind: transport.KindNotFound, Message: "unknown task " + id}
	}
	snapshot := prev.Clone()
	merged := patch.Apply(prev)
	merged.Pending = true
	s.tasks[id] = merged
	s.pending[id] = true
	s.mu.Unlock()

	updated, err := s.api.UpdateTask(ctx, id, patch)
	return s.resolve(id, snapshot, updated, MutationUpdated, err)
}

// SoftDelete marks the task deleted. When the server lacks the
// soft-delete endpoint (NotFound or MethodNotAllowed), it degrades to
// a hard delete and removes the record entirely.
func (s *Store) SoftDelete(ctx context.Context, id string) (domain.Task, error) {
	s.mu.Lock()
	prev, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return domain.Task{}, &transport.Error{Kind: transport.KindNotFound, Message: "unknown task " + id}
	}
	snapshot := prev.Clone()
	marked := prev.Clone()
	marked.Status = domain.StatusDeleted
	marked.Pending = true
	s.tasks[id] = marked
	s.pending[id] = true
	s.mu.Unlock()

	deleted, err := s.api.SoftDeleteTask(ctx, id)
	if kind := transport.KindOf(err); kind == transport.KindNotFound || kind == transport.KindMethodNotAllowed {
		s.log.WithField("task", id).Warn("soft-delete endpoint unavailable, falling back to hard delete")
		if derr := s.api.DeleteTask(ctx, id); derr != nil {
			return s.resolve(id, snapshot, domain.Task{}, MutationSoftDeleted, derr)
		}
		s.mu.Lock()
		delete(s.tasks, id)
		delete(s.pending, id)
		delete(s.deferred, id)
		s.mu.Unlock()
		s.emit(Mutation{Kind: MutationRemoved, Task: snapshot})
		return domain.Task{}, nil
	}
	return s.resolve(id, snapshot, deleted, MutationSoftDeleted, err)
}

// Assign replaces the assigned-users set. There is no optimistic
// apply: partial assignment lists are unsafe to guess locally, so the
// store only changes on server confirmation.
func (s *Store) Assign(ctx context.Context, id string, userIDs []string) (domain.Task, error) {
	assigned, err := s.api.AssignTask(ctx, id, userIDs)
	if err != nil {
		s.mu.Lock()
		target := s.tasks[id]
		s.mu.Unlock()
		s.emit(Mutation{Kind: MutationFailed, Task: target, Err: err})
		return domain.Task{}, err
	}
	s.mu.Lock()
	if cur, ok := s.tasks[id]; !ok || assigned.Revision >= cur.Revision {
		s.tasks[id] = assigned
	}
	result := s.tasks[id]
	s.mu.Unlock()
	s.emit(Mutation{Kind: MutationAssigned, Task: result})
	return result, nil
}

// resolve finishes an optimistic mutation: commit the server record or
// roll back to the snapshot, then replay any buffered remote events
// against the now-confirmed revision.
func (s *Store) resolve(id string, snapshot, confirmed domain.Task, kind MutationKind, err error) (domain.Task, error) {
	var muts []Mutation
	s.mu.Lock()
	delete(s.pending, id)
	if err != nil {
		s.tasks[id] = snapshot
	} else {
		confirmed.Pending = false
		s.tasks[id] = confirmed
	}
	buffered := s.deferred[id]
	delete(s.deferred, id)
	for _, ev := range buffered {
		if m, applied := s.applyRemoteLocked(ev.kind, ev.task); applied {
			muts = append(muts, m)
		}
	}
	result := s.tasks[id]
	s.mu.Unlock()

	if err != nil {
		s.emit(Mutation{Kind: MutationFailed, Task: snapshot, Err: err})
	} else {
		s.emit(Mutation{Kind: kind, Task: result})
	}
	for _, m := range muts {
		s.emit(m)
	}
	if err != nil {
		return domain.Task{}, err
	}
	return result, nil
}

// ApplyRemoteEvent merges a push event. Events for an id with a
// pending local mutation are buffered and replayed when it resolves;
// otherwise last-writer-wins by revision, regardless of arrival order.
func (s *Store) ApplyRemoteEvent(kind RemoteKind, task domain.Task) {
	s.mu.Lock()
	if s.pending[task.ID] {
		s.deferred[task.ID] = append(s.deferred[task.ID], remoteEvent{kind: kind, task: task})
		s.mu.Unlock()
		return
	}
	m, applied := s.applyRemoteLocked(kind, task)
	s.mu.Unlock()
	if applied {
		s.emit(m)
	}
}

func (s *Store) applyRemoteLocked(kind RemoteKind, task domain.Task) (Mutation, bool) {
	cur, exists := s.tasks[task.ID]
	if exists && task.Revision < cur.Revision {
		s.log.WithFields(logrus.Fields{
			"task": task.ID, "event_revision": task.Revision, "store_revision": cur.Revision,
		}).Debug("discarding stale remote event")
		return Mutation{}, false
	}
	task.Pending = false
	switch kind {
	case RemoteDeleted:
		// Soft state: keep the record, excluded from default views.
		task.Status = domain.StatusDeleted
		s.tasks[task.ID] = task
		return Mutation{Kind: MutationRemoteDeleted, Task: task}, true
	case RemoteCreated:
		s.tasks[task.ID] = task
		return Mutation{Kind: MutationRemoteCreated, Task: task}, true
	default:
		s.tasks[task.ID] = task
		return Mutation{Kind: MutationRemoteUpdated, Task: task}, true
	}
}

// Get returns a copy of one record.
func (s *Store) Get(id string) (domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, false
	}
	return t.Clone(), true
}

// Snapshot returns copies of all records, ordered by creation time
// then id for stable output.
func (s *Store) Snapshot() []domain.Task {
	s.mu.Lock()
	out := make([]domain.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		ti, tj := parseTime(out[i].CreatedAt), parseTime(out[j].CreatedAt)
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of records, pending and deleted included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Store) emit(m Mutation) {
	s.mu.Lock()
	listeners := make([]func(Mutation), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(m)
	}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
