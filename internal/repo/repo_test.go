package repo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskdeck/internal/db"
	"taskdeck/internal/domain"
	"taskdeck/internal/migrate"
	"taskdeck/internal/repo"
)

func newTestRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func seedUser(t *testing.T, r repo.Repo, id, name, email string) domain.User {
	t.Helper()
	u := domain.User{ID: id, Name: name, Email: email}
	if err := r.InsertUser(context.Background(), u, repo.HashPassword("pw")); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	return u
}

func seedTask(t *testing.T, r repo.Repo, id string, creator domain.User) domain.Task {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	task := domain.Task{
		ID: id, Title: "Task " + id, Status: domain.StatusPending, Revision: 1,
		CreatedBy: &creator, CreatedAt: now, UpdatedAt: now,
	}
	if err := r.InsertTask(context.Background(), task); err != nil {
		t.Fatalf("insert task: %v", err)
	}
	return task
}

func TestUserRoundTrip(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedUser(t, r, "u-1", "Ana", "ana@example.com")

	u, err := r.GetUser(ctx, "u-1")
	if err != nil || u.Name != "Ana" {
		t.Fatalf("get user: %v %+v", err, u)
	}
	u, hash, err := r.GetUserByEmail(ctx, "ana@example.com")
	if err != nil || u.ID != "u-1" {
		t.Fatalf("get by email: %v", err)
	}
	if hash != repo.HashPassword("pw") {
		t.Fatalf("hash mismatch")
	}
	if _, err := r.GetUser(ctx, "nope"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDuplicateEmailRejected(t *testing.T) {
	r := newTestRepo(t)
	seedUser(t, r, "u-1", "Ana", "ana@example.com")
	err := r.InsertUser(context.Background(), domain.User{ID: "u-2", Name: "Other", Email: "ana@example.com"}, "h")
	if !errors.Is(err, repo.ErrDuplicateEmail) {
		t.Fatalf("expected duplicate email error, got %v", err)
	}
}

func TestUpdateTaskBumpsRevision(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	creator := seedUser(t, r, "u-1", "Ana", "ana@example.com")
	seedTask(t, r, "t-1", creator)

	title := "Renamed"
	got, err := r.UpdateTask(ctx, "t-1", domain.TaskPatch{Title: &title})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Title != "Renamed" || got.Revision != 2 {
		t.Fatalf("unexpected record: %+v", got)
	}
	st := domain.StatusCompleted
	got, err = r.UpdateTask(ctx, "t-1", domain.TaskPatch{Status: &st})
	if err != nil || got.Revision != 3 || got.Status != domain.StatusCompleted {
		t.Fatalf("second update: %v %+v", err, got)
	}
	if _, err := r.UpdateTask(ctx, "nope", domain.TaskPatch{Title: &title}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSetAssigneesReplacesAndBumps(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	creator := seedUser(t, r, "u-1", "Ana", "ana@example.com")
	seedUser(t, r, "u-2", "Bo", "bo@example.com")
	seedUser(t, r, "u-3", "Cy", "cy@example.com")
	seedTask(t, r, "t-1", creator)

	got, err := r.SetAssignees(ctx, "t-1", []string{"u-2", "u-3"})
	if err != nil {
		t.Fatalf("set assignees: %v", err)
	}
	if len(got.AssignedUsers) != 2 || got.Revision != 2 {
		t.Fatalf("unexpected record: %+v", got)
	}
	// wholesale replacement, not a merge
	got, err = r.SetAssignees(ctx, "t-1", []string{"u-3"})
	if err != nil || len(got.AssignedUsers) != 1 || got.AssignedUsers[0].ID != "u-3" {
		t.Fatalf("expected replacement: %v %+v", err, got)
	}
	// empty set clears
	got, err = r.SetAssignees(ctx, "t-1", nil)
	if err != nil || len(got.AssignedUsers) != 0 {
		t.Fatalf("expected cleared assignees: %v %+v", err, got)
	}
	if _, err := r.SetAssignees(ctx, "nope", []string{"u-2"}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListUsersDerivesTaskCounts(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	creator := seedUser(t, r, "u-1", "Ana", "ana@example.com")
	seedUser(t, r, "u-2", "Bo", "bo@example.com")
	seedTask(t, r, "t-1", creator)
	seedTask(t, r, "t-2", creator)
	if _, err := r.SetAssignees(ctx, "t-1", []string{"u-2"}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.SetAssignees(ctx, "t-2", []string{"u-2"}); err != nil {
		t.Fatal(err)
	}
	users, err := r.ListUsers(ctx)
	if err != nil || len(users) != 2 {
		t.Fatalf("list users: %v %+v", err, users)
	}
	counts := map[string]int{}
	for _, u := range users {
		counts[u.ID] = u.TaskCount
	}
	if counts["u-1"] != 0 || counts["u-2"] != 2 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestDeleteTaskCascadesAssignees(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	creator := seedUser(t, r, "u-1", "Ana", "ana@example.com")
	seedUser(t, r, "u-2", "Bo", "bo@example.com")
	seedTask(t, r, "t-1", creator)
	if _, err := r.SetAssignees(ctx, "t-1", []string{"u-2"}); err != nil {
		t.Fatal(err)
	}
	if err := r.DeleteTask(ctx, "t-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.GetTask(ctx, "t-1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected task gone, got %v", err)
	}
	users, err := r.ListUsers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, u := range users {
		if u.TaskCount != 0 {
			t.Fatalf("expected assignments removed with task, got %+v", u)
		}
	}
}

func TestHistoryAppendOnlyOrdered(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	actor := domain.User{ID: "u-1", Name: "Ana", Email: "ana@example.com"}
	for i, ts := range []string{"2026-01-02T00:00:00Z", "2026-01-01T00:00:00Z"} {
		ev := domain.HistoryEvent{
			ID:        string(rune('a' + i)),
			Task:      domain.TaskRef{ID: "t-1", Title: "Ship"},
			User:      actor,
			Action:    domain.ActionUpdated,
			Timestamp: ts,
		}
		if err := r.AppendHistory(ctx, ev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	events, err := r.ListHistory(ctx)
	if err != nil || len(events) != 2 {
		t.Fatalf("list: %v %+v", err, events)
	}
	if events[0].Timestamp != "2026-01-01T00:00:00Z" {
		t.Fatalf("expected timestamp order, got %+v", events)
	}
	if events[0].Task.Title != "Ship" || events[0].User.Name != "Ana" {
		t.Fatalf("expected denormalized references, got %+v", events[0])
	}
}

func TestCredentialSlot(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	if _, err := r.GetCredential(ctx, repo.TokenKey); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := r.SetCredential(ctx, repo.TokenKey, "tok-1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := r.SetCredential(ctx, repo.TokenKey, "tok-2"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := r.GetCredential(ctx, repo.TokenKey)
	if err != nil || got != "tok-2" {
		t.Fatalf("expected latest value, got %q err=%v", got, err)
	}
	if err := r.DeleteCredential(ctx, repo.TokenKey); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := r.DeleteCredential(ctx, repo.TokenKey); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}
