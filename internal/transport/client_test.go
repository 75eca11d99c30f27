package transport_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"taskdeck/internal/domain"
	"taskdeck/internal/transport"
)

func TestSendAttachesBearerCredential(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{"id": "u-1"})
	}))
	defer srv.Close()

	c := transport.New(srv.URL, "tok-123")
	if _, err := c.Me(context.Background()); err != nil {
		t.Fatalf("me: %v", err)
	}
	if got != "Bearer tok-123" {
		t.Fatalf("expected bearer header, got %q", got)
	}
}

func TestSendOmitsHeaderWithoutCredential(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(transport.Credentials{AccessToken: "issued"})
	}))
	defer srv.Close()

	c := transport.New(srv.URL, "")
	creds, err := c.Login(context.Background(), "a@b.c", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got != "" {
		t.Fatalf("expected no auth header, got %q", got)
	}
	if creds.AccessToken != "issued" {
		t.Fatalf("expected token, got %q", creds.AccessToken)
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		kind   transport.ErrorKind
	}{
		{http.StatusUnauthorized, transport.KindUnauthorized},
		{http.StatusNotFound, transport.KindNotFound},
		{http.StatusMethodNotAllowed, transport.KindMethodNotAllowed},
		{http.StatusBadRequest, transport.KindValidation},
		{http.StatusUnprocessableEntity, transport.KindValidation},
		{http.StatusInternalServerError, transport.KindServerError},
		{http.StatusBadGateway, transport.KindServerError},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			json.NewEncoder(w).Encode(map[string]string{"message": "nope"})
		}))
		c := transport.New(srv.URL, "tok")
		_, err := c.Me(context.Background())
		srv.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		var terr *transport.Error
		if !errors.As(err, &terr) {
			t.Fatalf("status %d: expected *transport.Error, got %T", tc.status, err)
		}
		if terr.Kind != tc.kind {
			t.Fatalf("status %d: expected kind %s, got %s", tc.status, tc.kind, terr.Kind)
		}
		if terr.Status != tc.status || terr.Message != "nope" {
			t.Fatalf("status %d: unexpected error %+v", tc.status, terr)
		}
	}
}

func TestErrorMessageEnvelopes(t *testing.T) {
	bodies := []string{
		`{"message":"flat"}`,
		`{"error":{"message":"flat"}}`,
	}
	for _, body := range bodies {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(body))
		}))
		c := transport.New(srv.URL, "tok")
		_, err := c.CreateTask(context.Background(), "x", "")
		srv.Close()
		var terr *transport.Error
		if !errors.As(err, &terr) || terr.Message != "flat" {
			t.Fatalf("body %s: expected extracted message, got %v", body, err)
		}
	}
}

func TestTimeoutMapsToNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := transport.New(srv.URL, "tok")
	c.HTTPClient.Timeout = 20 * time.Millisecond
	_, err := c.ListTasks(context.Background())
	if transport.KindOf(err) != transport.KindNetworkError {
		t.Fatalf("expected network error kind, got %v", err)
	}
}

func TestConnectionRefusedMapsToNetworkError(t *testing.T) {
	c := transport.New("http://127.0.0.1:1", "tok")
	c.HTTPClient.Timeout = 200 * time.Millisecond
	_, err := c.Me(context.Background())
	if transport.KindOf(err) != transport.KindNetworkError {
		t.Fatalf("expected network error kind, got %v", err)
	}
}

func TestConcurrentSendsOnOneClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := transport.New(srv.URL, "tok")
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.ListTasks(context.Background())
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
}

func TestListTasksNormalizesWirePayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{
			"id":"t-1","title":"Ship","status":"pending","revision":2,
			"assigned_users":"[{\"id\":\"u-1\",\"name\":\"Ana\"}]",
			"assigned_to_me":1,"created_by_me":0
		}]`))
	}))
	defer srv.Close()

	c := transport.New(srv.URL, "tok")
	tasks, err := c.ListTasks(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected one task, got %d", len(tasks))
	}
	task := tasks[0]
	if task.Revision != 2 || !task.AssignedToMe || task.CreatedByMe {
		t.Fatalf("unexpected normalization: %+v", task)
	}
	if len(task.AssignedUsers) != 1 || task.AssignedUsers[0].Name != "Ana" {
		t.Fatalf("expected decoded assignees, got %+v", task.AssignedUsers)
	}
}

func TestAssignSendsUserIDs(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]any{"id": "t-1", "title": "x", "status": "pending"})
	}))
	defer srv.Close()

	c := transport.New(srv.URL, "tok")
	if _, err := c.AssignTask(context.Background(), "t-1", []string{"u-1", "u-2"}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	ids, ok := body["user_ids"].([]any)
	if !ok || len(ids) != 2 {
		t.Fatalf("expected user_ids payload, got %+v", body)
	}
}

func TestDeleteTaskSendsNoBodyDecode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := transport.New(srv.URL, "tok")
	if err := c.DeleteTask(context.Background(), "t-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestListHistoryNormalizesReferences(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{
			"id":"h-1",
			"task":"{\"id\":\"t-1\",\"title\":\"Ship\"}",
			"user":"{\"id\":\"u-1\",\"name\":\"Ana\"}",
			"action":"created","ts":"2026-01-01T00:00:00Z"
		}]`))
	}))
	defer srv.Close()

	c := transport.New(srv.URL, "tok")
	events, err := c.ListHistory(context.Background())
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(events) != 1 || events[0].Task.Title != "Ship" || events[0].User.Name != "Ana" {
		t.Fatalf("unexpected events: %+v", events)
	}
	if events[0].Action != domain.ActionCreated {
		t.Fatalf("unexpected action %q", events[0].Action)
	}
}
