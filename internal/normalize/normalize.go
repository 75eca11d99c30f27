// Package normalize converts heterogeneous wire payloads into canonical
// domain records. Some servers string-encode nested fields (assigned
// users, the user/task references on history rows) and send presence
// flags as 0/1, so every decode here is defensive: unparseable input
// degrades to zero values instead of failing.
package normalize

import (
	"encoding/json"
	"strconv"
	"strings"

	"taskdeck/internal/domain"
)

// Task builds a canonical task record from a decoded JSON object.
// It is total: missing or malformed fields fall back to zero values.
func Task(raw map[string]any) domain.Task {
	t := domain.Task{
		ID:            str(raw["id"]),
		Title:         str(raw["title"]),
		Description:   str(raw["description"]),
		Status:        status(raw["status"]),
		Revision:      integer(raw["revision"]),
		AssignedToMe:  boolean(raw["assigned_to_me"]),
		CreatedByMe:   boolean(raw["created_by_me"]),
		CreatedAt:     str(raw["created_at"]),
		UpdatedAt:     str(raw["updated_at"]),
		AssignedUsers: Users(raw["assigned_users"]),
	}
	if u, ok := userFrom(raw["created_by"]); ok {
		t.CreatedBy = &u
	}
	return t
}

// TaskFromJSON decodes bytes and normalizes them. Undecodable input
// yields a zero task.
func TaskFromJSON(data []byte) domain.Task {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.Task{}
	}
	return Task(raw)
}

// History builds a canonical history event from a decoded JSON object.
// The user and task fields may arrive either structured or as JSON
// strings requiring a second decode.
func History(raw map[string]any) domain.HistoryEvent {
	ev := domain.HistoryEvent{
		ID:        str(raw["id"]),
		Action:    domain.Action(strings.ToLower(str(raw["action"]))),
		Timestamp: str(raw["ts"]),
		Detail:    str(raw["detail"]),
	}
	if ev.Timestamp == "" {
		ev.Timestamp = str(raw["timestamp"])
	}
	if u, ok := userFrom(raw["user"]); ok {
		ev.User = u
	}
	if obj, ok := objectFrom(raw["task"]); ok {
		ev.Task = domain.TaskRef{ID: str(obj["id"]), Title: str(obj["title"])}
	}
	return ev
}

// Users decodes an assigned-users field that is either a JSON array or
// a JSON-encoded string containing one. Anything else yields nil.
func Users(v any) []domain.User {
	switch val := v.(type) {
	case []any:
		var users []domain.User
		for _, item := range val {
			if u, ok := userFrom(item); ok {
				users = append(users, u)
			}
		}
		return users
	case string:
		var arr []any
		if err := json.Unmarshal([]byte(val), &arr); err != nil {
			return nil
		}
		return Users(arr)
	}
	return nil
}

func userFrom(v any) (domain.User, bool) {
	obj, ok := objectFrom(v)
	if !ok {
		return domain.User{}, false
	}
	u := domain.User{
		ID:        str(obj["id"]),
		Name:      str(obj["name"]),
		Email:     str(obj["email"]),
		TaskCount: int(integer(obj["task_count"])),
	}
	if u.ID == "" && u.Name == "" && u.Email == "" {
		return domain.User{}, false
	}
	return u, true
}

// objectFrom accepts a JSON object either structured or string-encoded.
func objectFrom(v any) (map[string]any, bool) {
	switch val := v.(type) {
	case map[string]any:
		return val, true
	case string:
		var obj map[string]any
		if err := json.Unmarshal([]byte(val), &obj); err != nil {
			return nil, false
		}
		return obj, true
	}
	return nil, false
}

func str(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	}
	return ""
}

// integer tolerates JSON numbers, numeric strings, and bools.
func integer(v any) int64 {
	switch val := v.(type) {
	case float64:
		return int64(val)
	case json.Number:
		n, _ := val.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		return n
	case int64:
		return val
	case int:
		return int64(val)
	}
	return 0
}

// boolean coerces presence flags (true, 1, "1", "true") to a real bool.
func boolean(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case float64:
		return val != 0
	case string:
		s := strings.TrimSpace(strings.ToLower(val))
		return s == "1" || s == "true"
	}
	return false
}

func status(v any) domain.Status {
	s := domain.Status(strings.ToLower(strings.TrimSpace(str(v))))
	if domain.ValidStatus(s) {
		return s
	}
	if s == "" {
		return domain.StatusPending
	}
	return s
}
