// Package repo is the SQLite persistence layer: the client's durable
// credential slot plus the dev API server's users, tasks, and history.
package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskdeck/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

// HashPassword returns a stable SHA-256 hex digest. Good enough for
// the local dev server; not a production password scheme.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// --- users ---

func (r Repo) InsertUser(ctx context.Context, u domain.User, passwordHash string) error {
	if u.ID == "" || u.Email == "" {
		return errors.New("id and email required")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,name,email,password_hash,created_at) VALUES (?,?,?,?,?)`,
		u.ID, u.Name, u.Email, passwordHash, now)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "unique") {
		return ErrDuplicateEmail
	}
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,name,email FROM users WHERE id=?`, id)
	var u domain.User
	err := row.Scan(&u.ID, &u.Name, &u.Email)
	if err == sql.ErrNoRows {
		return domain.User{}, ErrNotFound
	}
	return u, err
}

// GetUserByEmail returns the user and its password hash.
func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, string, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,name,email,password_hash FROM users WHERE email=?`, email)
	var (
		u    domain.User
		hash string
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &hash)
	if err == sql.ErrNoRows {
		return domain.User{}, "", ErrNotFound
	}
	return u, hash, err
}

// ListUsers returns all users with their derived assigned-task counts.
func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT u.id, u.name, u.email, COUNT(a.task_id)
FROM users u LEFT JOIN task_assignees a ON a.user_id = u.id
GROUP BY u.id, u.name, u.email
ORDER BY u.created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.TaskCount); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// --- tasks ---

func (r Repo) InsertTask(ctx context.Context, t domain.Task) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO tasks(id,title,description,status,revision,created_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, nullable(t.Description), string(t.Status), t.Revision, t.CreatedBy.ID, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `
SELECT t.id, t.title, COALESCE(t.description,''), t.status, t.revision, t.created_at, t.updated_at,
       u.id, u.name, u.email
FROM tasks t JOIN users u ON u.id = t.created_by
WHERE t.id=?`, id)
	var (
		t       domain.Task
		creator domain.User
	)
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Status, &t.Revision, &t.CreatedAt, &t.UpdatedAt,
		&creator.ID, &creator.Name, &creator.Email)
	if err == sql.ErrNoRows {
		return domain.Task{}, ErrNotFound
	}
	if err != nil {
		return domain.Task{}, err
	}
	t.CreatedBy = &creator
	t.AssignedUsers, err = r.listAssignees(ctx, t.ID)
	return t, err
}

func (r Repo) ListTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT t.id, t.title, COALESCE(t.description,''), t.status, t.revision, t.created_at, t.updated_at,
       u.id, u.name, u.email
FROM tasks t JOIN users u ON u.id = t.created_by
ORDER BY t.created_at, t.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tasks []domain.Task
	for rows.Next() {
		var (
			t       domain.Task
			creator domain.User
		)
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.Status, &t.Revision, &t.CreatedAt, &t.UpdatedAt,
			&creator.ID, &creator.Name, &creator.Email); err != nil {
			return nil, err
		}
		t.CreatedBy = &creator
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range tasks {
		if tasks[i].AssignedUsers, err = r.listAssignees(ctx, tasks[i].ID); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

// UpdateTask applies non-empty fields, bumps the revision, and returns
// the stored record.
func (r Repo) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	var (
		fields []string
		args   []any
	)
	if patch.Title != nil {
		fields = append(fields, "title=?")
		args = append(args, *patch.Title)
	}
	if patch.Description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*patch.Description))
	}
	if patch.Status != nil {
		fields = append(fields, "status=?")
		args = append(args, string(*patch.Status))
	}
	fields = append(fields, "revision=revision+1", "updated_at=?")
	args = append(args, time.Now().UTC().Format(time.RFC3339), id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE tasks SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return domain.Task{}, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return domain.Task{}, ErrNotFound
	}
	return r.GetTask(ctx, id)
}

func (r Repo) DeleteTask(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAssignees replaces the assignee set and bumps the revision.
func (r Repo) SetAssignees(ctx context.Context, taskID string, userIDs []string) (domain.Task, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	// bump first: it doubles as the existence check, so a missing task
	// surfaces as ErrNotFound rather than a foreign key violation
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET revision=revision+1, updated_at=? WHERE id=?`, now, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return domain.Task{}, ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_assignees WHERE task_id=?`, taskID); err != nil {
		return domain.Task{}, err
	}
	for _, uid := range userIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_assignees(task_id,user_id) VALUES (?,?)`, taskID, uid); err != nil {
			return domain.Task{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return r.GetTask(ctx, taskID)
}

func (r Repo) listAssignees(ctx context.Context, taskID string) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT u.id, u.name, u.email
FROM task_assignees a JOIN users u ON u.id = a.user_id
WHERE a.task_id=? ORDER BY u.id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// --- history ---

// AppendHistory records one activity row. History is append-only.
func (r Repo) AppendHistory(ctx context.Context, ev domain.HistoryEvent) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO task_history(id,task_id,task_title,user_id,user_name,user_email,action,ts,detail) VALUES (?,?,?,?,?,?,?,?,?)`,
		ev.ID, ev.Task.ID, ev.Task.Title, ev.User.ID, ev.User.Name, ev.User.Email, string(ev.Action), ev.Timestamp, nullable(ev.Detail))
	return err
}

func (r Repo) ListHistory(ctx context.Context) ([]domain.HistoryEvent, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT id, task_id, task_title, user_id, user_name, user_email, action, ts, COALESCE(detail,'')
FROM task_history ORDER BY ts, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []domain.HistoryEvent
	for rows.Next() {
		var ev domain.HistoryEvent
		if err := rows.Scan(&ev.ID, &ev.Task.ID, &ev.Task.Title, &ev.User.ID, &ev.User.Name, &ev.User.Email,
			&ev.Action, &ev.Timestamp, &ev.Detail); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
