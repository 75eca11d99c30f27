package domain

import "time"

// Status is the lifecycle state of a task. Deleted is a terminal
// soft-state: the record stays in the store but is hidden from the
// default views.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusDeleted    Status = "deleted"
)

// ValidStatus reports whether s is one of the known task statuses.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusDeleted:
		return true
	}
	return false
}

// Action is the kind of a history event.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionDeleted   Action = "deleted"
	ActionAssigned  Action = "assigned"
	ActionCompleted Action = "completed"
)

// Severity classifies a notification for display.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	TaskCount int    `json:"task_count,omitempty"`
}

// Task is the canonical client-side task record. Revision orders
// conflicting updates to the same id; the store keeps the record with
// the highest revision it has seen. Pending marks an in-flight local
// mutation that the server has not confirmed yet and is never sent on
// the wire.
type Task struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"description,omitempty"`
	Status        Status `json:"status"`
	AssignedUsers []User `json:"assigned_users,omitempty"`
	CreatedBy     *User  `json:"created_by,omitempty"`
	Revision      int64  `json:"revision"`
	AssignedToMe  bool   `json:"assigned_to_me,omitempty"`
	CreatedByMe   bool   `json:"created_by_me,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`
	UpdatedAt     string `json:"updated_at,omitempty"`
	Pending       bool   `json:"-"`
}

// Clone returns a deep copy so rollback snapshots cannot alias the
// live record.
func (t Task) Clone() Task {
	c := t
	if t.AssignedUsers != nil {
		c.AssignedUsers = make([]User, len(t.AssignedUsers))
		copy(c.AssignedUsers, t.AssignedUsers)
	}
	if t.CreatedBy != nil {
		u := *t.CreatedBy
		c.CreatedBy = &u
	}
	return c
}

// TaskPatch carries the fields of a partial task update. Nil fields
// are left untouched.
type TaskPatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *Status `json:"status,omitempty"`
}

// Apply merges the patch into a copy of t.
func (p TaskPatch) Apply(t Task) Task {
	out := t.Clone()
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	return out
}

// TaskRef is the slim task reference embedded in history events.
type TaskRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// HistoryEvent is an append-only activity record. Once received it is
// never mutated.
type HistoryEvent struct {
	ID        string  `json:"id"`
	Task      TaskRef `json:"task"`
	User      User    `json:"user"`
	Action    Action  `json:"action"`
	Timestamp string  `json:"ts"`
	Detail    string  `json:"detail,omitempty"`
}

// Notification is a derived, ephemeral alert. It is never persisted.
type Notification struct {
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}
