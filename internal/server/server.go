// Package server is a development implementation of the task API the
// client consumes: bearer-authenticated REST over huma/chi, sqlite
// storage, per-update revision bumps, append-only history, and task
// events broadcast to the pub/sub channel.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"taskdeck/internal/domain"
	"taskdeck/internal/events"
	"taskdeck/internal/realtime"
	"taskdeck/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Repo      repo.Repo
	Auth      AuthConfig
	Publisher events.Publisher
	BasePath  string
	// DisableSoftDelete drops the soft-delete route so clients exercise
	// their hard-delete fallback.
	DisableSoftDelete bool
	Log               *logrus.Logger
	Now               func() time.Time
}

type apiError struct {
	status  int
	Message string `json:"message"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Message }

func newAPIError(status int, message string) huma.StatusError {
	return &apiError{status: status, Message: message}
}

type server struct {
	repo repo.Repo
	auth AuthConfig
	pub  events.Publisher
	log  *logrus.Logger
	now  func() time.Time
}

// New returns an HTTP handler exposing the task API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &server{repo: cfg.Repo, auth: cfg.Auth, pub: cfg.Publisher, log: cfg.Log, now: cfg.Now}

	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, msg)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Taskdeck API", "0.1.0")
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	s.registerAuth(group)
	s.registerTasks(group, cfg.DisableSoftDelete)
	s.registerUsers(group)
	s.registerHistory(group)

	return router, nil
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, err.Error())
	}
	return newAPIError(http.StatusInternalServerError, "internal error")
}

func (s *server) registerAuth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "register",
		Method:        http.MethodPost,
		Path:          "/register",
		Summary:       "Register a user",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body RegisterRequest `json:"body"`
	}) (*struct {
		Body TokenResponse `json:"body"`
	}, error) {
		if input.Body.Name == "" || input.Body.Email == "" || input.Body.Password == "" {
			return nil, newAPIError(http.StatusBadRequest, "name, email and password are required")
		}
		u := domain.User{ID: uuid.NewString(), Name: input.Body.Name, Email: input.Body.Email}
		if err := s.repo.InsertUser(ctx, u, repo.HashPassword(input.Body.Password)); err != nil {
			if errors.Is(err, repo.ErrDuplicateEmail) {
				return nil, newAPIError(http.StatusBadRequest, err.Error())
			}
			return nil, handleError(err)
		}
		token, err := issueToken(s.auth, u, s.now())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TokenResponse `json:"body"`
		}{Body: TokenResponse{AccessToken: token}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/login",
		Summary:     "Log in",
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body TokenResponse `json:"body"`
	}, error) {
		u, hash, err := s.repo.GetUserByEmail(ctx, input.Body.Email)
		if err != nil || hash != repo.HashPassword(input.Body.Password) {
			return nil, newAPIError(http.StatusUnauthorized, "invalid credentials")
		}
		token, err := issueToken(s.auth, u, s.now())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TokenResponse `json:"body"`
		}{Body: TokenResponse{AccessToken: token}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		viewer, herr := currentUser(ctx)
		if herr != nil {
			return nil, herr
		}
		u, err := s.repo.GetUser(ctx, viewer.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})
}

func (s *server) registerTasks(api huma.API, disableSoftDelete bool) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []TaskListItem `json:"body"`
	}, error) {
		viewer, herr := currentUser(ctx)
		if herr != nil {
			return nil, herr
		}
		tasks, err := s.repo.ListTasks(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		items := make([]TaskListItem, 0, len(tasks))
		for _, t := range tasks {
			items = append(items, toTaskListItem(t, viewer))
		}
		return &struct {
			Body []TaskListItem `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		viewer, herr := currentUser(ctx)
		if herr != nil {
			return nil, herr
		}
		if strings.TrimSpace(input.Body.Title) == "" {
			return nil, newAPIError(http.StatusBadRequest, "title is required")
		}
		now := s.now().UTC().Format(time.RFC3339)
		t := domain.Task{
			ID:          uuid.NewString(),
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Status:      domain.StatusPending,
			Revision:    1,
			CreatedBy:   &domain.User{ID: viewer.ID, Name: viewer.Name, Email: viewer.Email},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.repo.InsertTask(ctx, t); err != nil {
			return nil, handleError(err)
		}
		s.record(ctx, t, viewer, domain.ActionCreated, "task created")
		s.broadcast(ctx, realtime.TaskCreatedEvent, t)
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: toTaskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPut,
		Path:        "/tasks/{id}",
		Summary:     "Update task",
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		viewer, herr := currentUser(ctx)
		if herr != nil {
			return nil, herr
		}
		patch := domain.TaskPatch{Title: input.Body.Title, Description: input.Body.Description}
		if input.Body.Status != nil {
			st := domain.Status(strings.ToLower(*input.Body.Status))
			if !domain.ValidStatus(st) {
				return nil, newAPIError(http.StatusBadRequest, "invalid status")
			}
			patch.Status = &st
		}
		if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
			return nil, newAPIError(http.StatusBadRequest, "title is required")
		}
		t, err := s.repo.UpdateTask(ctx, input.ID, patch)
		if err != nil {
			return nil, handleError(err)
		}
		action := domain.ActionUpdated
		detail := "task updated"
		if patch.Status != nil && *patch.Status == domain.StatusCompleted {
			action = domain.ActionCompleted
			detail = "task completed"
		}
		s.record(ctx, t, viewer, action, detail)
		s.broadcast(ctx, realtime.TaskUpdatedEvent, t)
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: toTaskResponse(t)}, nil
	})

	if !disableSoftDelete {
		huma.Register(api, huma.Operation{
			OperationID: "soft-delete-task",
			Method:      http.MethodPut,
			Path:        "/tasks/{id}/soft-delete",
			Summary:     "Soft-delete task",
		}, func(ctx context.Context, input *struct {
			ID   string            `path:"id"`
			Body SoftDeleteRequest `json:"body"`
		}) (*struct {
			Body TaskResponse `json:"body"`
		}, error) {
			viewer, herr := currentUser(ctx)
			if herr != nil {
				return nil, herr
			}
			deleted := domain.StatusDeleted
			t, err := s.repo.UpdateTask(ctx, input.ID, domain.TaskPatch{Status: &deleted})
			if err != nil {
				return nil, handleError(err)
			}
			s.record(ctx, t, viewer, domain.ActionDeleted, "task deactivated")
			s.broadcast(ctx, realtime.TaskDeletedEvent, t)
			return &struct {
				Body TaskResponse `json:"body"`
			}{Body: toTaskResponse(t)}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{id}",
		Summary:       "Delete task",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		viewer, herr := currentUser(ctx)
		if herr != nil {
			return nil, herr
		}
		t, err := s.repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := s.repo.DeleteTask(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		t.Status = domain.StatusDeleted
		t.Revision++
		s.record(ctx, t, viewer, domain.ActionDeleted, "task deleted")
		s.broadcast(ctx, realtime.TaskDeletedEvent, t)
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/assign",
		Summary:     "Assign users to task",
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body AssignRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		viewer, herr := currentUser(ctx)
		if herr != nil {
			return nil, herr
		}
		for _, uid := range input.Body.UserIDs {
			if _, err := s.repo.GetUser(ctx, uid); err != nil {
				return nil, newAPIError(http.StatusBadRequest, "unknown user "+uid)
			}
		}
		t, err := s.repo.SetAssignees(ctx, input.ID, input.Body.UserIDs)
		if err != nil {
			return nil, handleError(err)
		}
		s.record(ctx, t, viewer, domain.ActionAssigned, "assignments replaced")
		s.broadcast(ctx, realtime.TaskUpdatedEvent, t)
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: toTaskResponse(t)}, nil
	})
}

func (s *server) registerUsers(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users with task counts",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.User `json:"body"`
	}, error) {
		users, err := s.repo.ListUsers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.User `json:"body"`
		}{Body: users}, nil
	})
}

func (s *server) registerHistory(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "task-history",
		Method:      http.MethodGet,
		Path:        "/task-history",
		Summary:     "Activity timeline",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []HistoryItem `json:"body"`
	}, error) {
		events, err := s.repo.ListHistory(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		items := make([]HistoryItem, 0, len(events))
		for _, ev := range events {
			items = append(items, toHistoryItem(ev))
		}
		return &struct {
			Body []HistoryItem `json:"body"`
		}{Body: items}, nil
	})
}

// record appends a history row; failures are logged, not surfaced, so
// a full history table never blocks a mutation.
func (s *server) record(ctx context.Context, t domain.Task, actor domain.User, action domain.Action, detail string) {
	ev := domain.HistoryEvent{
		ID:        uuid.NewString(),
		Task:      domain.TaskRef{ID: t.ID, Title: t.Title},
		User:      domain.User{ID: actor.ID, Name: actor.Name, Email: actor.Email},
		Action:    action,
		Timestamp: s.now().UTC().Format(time.RFC3339),
		Detail:    detail,
	}
	if err := s.repo.AppendHistory(ctx, ev); err != nil {
		s.log.WithError(err).Warn("append history")
	}
}

func (s *server) broadcast(ctx context.Context, kind string, t domain.Task) {
	if err := s.pub.TaskEvent(ctx, kind, t); err != nil {
		s.log.WithError(err).Warn("broadcast task event")
	}
}
