package normalize_test

import (
	"testing"

	"taskdeck/internal/domain"
	"taskdeck/internal/normalize"
)

func TestTaskStringEncodedAssignedUsers(t *testing.T) {
	raw := map[string]any{
		"id":             "t-1",
		"title":          "Ship it",
		"status":         "in_progress",
		"revision":       float64(3),
		"assigned_users": `[{"id":"u-1","name":"Ana","email":"ana@example.com"}]`,
		"assigned_to_me": float64(1),
		"created_by_me":  "0",
	}
	task := normalize.Task(raw)
	if task.ID != "t-1" || task.Status != domain.StatusInProgress || task.Revision != 3 {
		t.Fatalf("unexpected task: %+v", task)
	}
	if len(task.AssignedUsers) != 1 || task.AssignedUsers[0].Name != "Ana" {
		t.Fatalf("expected decoded assignee, got %+v", task.AssignedUsers)
	}
	if !task.AssignedToMe {
		t.Fatalf("expected assigned_to_me coerced from 1")
	}
	if task.CreatedByMe {
		t.Fatalf("expected created_by_me coerced from \"0\"")
	}
}

func TestTaskStructuredFields(t *testing.T) {
	raw := map[string]any{
		"id":     "t-2",
		"title":  "Plain",
		"status": "completed",
		"assigned_users": []any{
			map[string]any{"id": "u-1", "name": "Ana"},
			map[string]any{"id": "u-2", "name": "Bo"},
		},
		"created_by":     map[string]any{"id": "u-3", "name": "Cy"},
		"assigned_to_me": true,
	}
	task := normalize.Task(raw)
	if len(task.AssignedUsers) != 2 {
		t.Fatalf("expected 2 assignees, got %d", len(task.AssignedUsers))
	}
	if task.CreatedBy == nil || task.CreatedBy.ID != "u-3" {
		t.Fatalf("expected structured created_by, got %+v", task.CreatedBy)
	}
	if !task.AssignedToMe {
		t.Fatalf("expected real bool preserved")
	}
}

func TestTaskMalformedFieldsFallBack(t *testing.T) {
	raw := map[string]any{
		"id":             float64(42),
		"status":         "bogus-status",
		"revision":       "not-a-number",
		"assigned_users": "{broken json",
		"created_by":     "also {broken",
		"assigned_to_me": []any{"nope"},
	}
	task := normalize.Task(raw)
	if task.ID != "42" {
		t.Fatalf("numeric id should stringify, got %q", task.ID)
	}
	if task.Revision != 0 {
		t.Fatalf("unparseable revision should be 0, got %d", task.Revision)
	}
	if task.AssignedUsers != nil {
		t.Fatalf("broken assigned_users should be nil, got %+v", task.AssignedUsers)
	}
	if task.CreatedBy != nil {
		t.Fatalf("broken created_by should be nil")
	}
	if task.AssignedToMe {
		t.Fatalf("non-boolean flag should be false")
	}
}

func TestTaskEmptyStatusDefaultsPending(t *testing.T) {
	task := normalize.Task(map[string]any{"id": "t-3"})
	if task.Status != domain.StatusPending {
		t.Fatalf("expected pending default, got %q", task.Status)
	}
}

func TestTaskFromJSONUndecodable(t *testing.T) {
	task := normalize.TaskFromJSON([]byte("not json"))
	if task.ID != "" || task.Title != "" {
		t.Fatalf("expected zero task, got %+v", task)
	}
}

func TestHistoryStringEncodedReferences(t *testing.T) {
	raw := map[string]any{
		"id":     "h-1",
		"task":   `{"id":"t-1","title":"Ship it"}`,
		"user":   `{"id":"u-1","name":"Ana","email":"ana@example.com"}`,
		"action": "CREATED",
		"ts":     "2026-01-02T03:04:05Z",
		"detail": "task created",
	}
	ev := normalize.History(raw)
	if ev.Task.ID != "t-1" || ev.Task.Title != "Ship it" {
		t.Fatalf("expected decoded task ref, got %+v", ev.Task)
	}
	if ev.User.Name != "Ana" {
		t.Fatalf("expected decoded user, got %+v", ev.User)
	}
	if ev.Action != domain.ActionCreated {
		t.Fatalf("expected lowercased action, got %q", ev.Action)
	}
	if ev.Timestamp != "2026-01-02T03:04:05Z" {
		t.Fatalf("unexpected timestamp %q", ev.Timestamp)
	}
}

func TestHistoryTimestampFallback(t *testing.T) {
	ev := normalize.History(map[string]any{"id": "h-2", "timestamp": "2026-01-01T00:00:00Z"})
	if ev.Timestamp != "2026-01-01T00:00:00Z" {
		t.Fatalf("expected timestamp fallback, got %q", ev.Timestamp)
	}
}

func TestUsersSkipsEmptyObjects(t *testing.T) {
	users := normalize.Users([]any{
		map[string]any{"id": "u-1", "name": "Ana"},
		map[string]any{},
		"not an object",
	})
	if len(users) != 1 || users[0].ID != "u-1" {
		t.Fatalf("expected single valid user, got %+v", users)
	}
}
