package server

import (
	"encoding/json"

	"taskdeck/internal/domain"
)

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
}

type CreateTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type UpdateTaskRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
}

type SoftDeleteRequest struct {
	Status string `json:"status,omitempty"`
}

type AssignRequest struct {
	UserIDs []string `json:"user_ids"`
}

// TaskResponse is the structured single-task shape.
type TaskResponse struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	Description   string        `json:"description,omitempty"`
	Status        string        `json:"status"`
	Revision      int64         `json:"revision"`
	AssignedUsers []domain.User `json:"assigned_users,omitempty"`
	CreatedBy     *domain.User  `json:"created_by,omitempty"`
	CreatedAt     string        `json:"created_at"`
	UpdatedAt     string        `json:"updated_at"`
}

// TaskListItem is the list shape. It keeps the legacy API's quirks:
// assigned_users is a JSON-encoded string and the per-viewer flags are
// 0/1 integers, which is exactly what the client normalizer undoes.
type TaskListItem struct {
	ID            string       `json:"id"`
	Title         string       `json:"title"`
	Description   string       `json:"description,omitempty"`
	Status        string       `json:"status"`
	Revision      int64        `json:"revision"`
	AssignedUsers string       `json:"assigned_users"`
	CreatedBy     *domain.User `json:"created_by,omitempty"`
	AssignedToMe  int          `json:"assigned_to_me"`
	CreatedByMe   int          `json:"created_by_me"`
	CreatedAt     string       `json:"created_at"`
	UpdatedAt     string       `json:"updated_at"`
}

// HistoryItem string-encodes the user and task references, matching
// the legacy wire format.
type HistoryItem struct {
	ID     string `json:"id"`
	Task   string `json:"task"`
	User   string `json:"user"`
	Action string `json:"action"`
	TS     string `json:"ts"`
	Detail string `json:"detail,omitempty"`
}

func toTaskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:            t.ID,
		Title:         t.Title,
		Description:   t.Description,
		Status:        string(t.Status),
		Revision:      t.Revision,
		AssignedUsers: t.AssignedUsers,
		CreatedBy:     t.CreatedBy,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

func toTaskListItem(t domain.Task, viewer domain.User) TaskListItem {
	assigned, _ := json.Marshal(t.AssignedUsers)
	item := TaskListItem{
		ID:            t.ID,
		Title:         t.Title,
		Description:   t.Description,
		Status:        string(t.Status),
		Revision:      t.Revision,
		AssignedUsers: string(assigned),
		CreatedBy:     t.CreatedBy,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
	for _, u := range t.AssignedUsers {
		if u.ID == viewer.ID {
			item.AssignedToMe = 1
			break
		}
	}
	if t.CreatedBy != nil && t.CreatedBy.ID == viewer.ID {
		item.CreatedByMe = 1
	}
	return item
}

func toHistoryItem(ev domain.HistoryEvent) HistoryItem {
	task, _ := json.Marshal(ev.Task)
	user, _ := json.Marshal(domain.User{ID: ev.User.ID, Name: ev.User.Name, Email: ev.User.Email})
	return HistoryItem{
		ID:     ev.ID,
		Task:   string(task),
		User:   string(user),
		Action: string(ev.Action),
		TS:     ev.Timestamp,
		Detail: ev.Detail,
	}
}
