// Package views derives filtered, grouped, and sorted projections from
// a store snapshot. Everything here is a pure function: inputs are
// never mutated.
package views

import (
	"sort"
	"strings"
	"time"

	"taskdeck/internal/domain"
)

// Tab selects one of the task list tabs.
type Tab int

const (
	TabAll Tab = iota // everything except deleted
	TabPending
	TabCompleted
	TabDeleted
	TabAssignedToMe
	TabCreatedByMe
)

// TaskFilter narrows the task list by tab and text. Search matches
// title and description case-insensitively.
type TaskFilter struct {
	Search string
	Tab    Tab
}

// Tasks returns the tasks matching the filter, preserving input order.
func Tasks(tasks []domain.Task, f TaskFilter) []domain.Task {
	term := strings.ToLower(strings.TrimSpace(f.Search))
	var out []domain.Task
	for _, t := range tasks {
		if term != "" &&
			!strings.Contains(strings.ToLower(t.Title), term) &&
			!strings.Contains(strings.ToLower(t.Description), term) {
			continue
		}
		if !matchesTab(t, f.Tab) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func matchesTab(t domain.Task, tab Tab) bool {
	switch tab {
	case TabPending:
		return t.Status != domain.StatusCompleted && t.Status != domain.StatusDeleted
	case TabCompleted:
		return t.Status == domain.StatusCompleted
	case TabDeleted:
		return t.Status == domain.StatusDeleted
	case TabAssignedToMe:
		return t.AssignedToMe && t.Status != domain.StatusDeleted
	case TabCreatedByMe:
		return t.CreatedByMe && t.Status != domain.StatusDeleted
	default:
		return t.Status != domain.StatusDeleted
	}
}

// HistoryFilter narrows the activity timeline. Zero fields match
// everything; From/To bound the event timestamp inclusively.
type HistoryFilter struct {
	Search string
	Action domain.Action
	UserID string
	From   time.Time
	To     time.Time
}

// HistoryGroup is the timeline for one task, most recent first.
type HistoryGroup struct {
	Task   domain.TaskRef
	Events []domain.HistoryEvent
}

// History filters events and groups them by task. Within a group,
// events are ordered by timestamp descending; ties keep original
// arrival order. Groups are ordered by their newest event, descending.
func History(events []domain.HistoryEvent, f HistoryFilter) []HistoryGroup {
	term := strings.ToLower(strings.TrimSpace(f.Search))
	byTask := make(map[string][]domain.HistoryEvent)
	var order []string
	for _, ev := range events {
		if !matchesHistory(ev, f, term) {
			continue
		}
		if _, seen := byTask[ev.Task.ID]; !seen {
			order = append(order, ev.Task.ID)
		}
		byTask[ev.Task.ID] = append(byTask[ev.Task.ID], ev)
	}

	groups := make([]HistoryGroup, 0, len(order))
	for _, id := range order {
		evs := byTask[id]
		sort.SliceStable(evs, func(i, j int) bool {
			return eventTime(evs[i]).After(eventTime(evs[j]))
		})
		groups = append(groups, HistoryGroup{Task: evs[0].Task, Events: evs})
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return eventTime(groups[i].Events[0]).After(eventTime(groups[j].Events[0]))
	})
	return groups
}

func matchesHistory(ev domain.HistoryEvent, f HistoryFilter, term string) bool {
	if term != "" &&
		!strings.Contains(strings.ToLower(ev.Task.Title), term) &&
		!strings.Contains(strings.ToLower(ev.User.Name), term) &&
		!strings.Contains(strings.ToLower(ev.Detail), term) {
		return false
	}
	if f.Action != "" && ev.Action != f.Action {
		return false
	}
	if f.UserID != "" && ev.User.ID != f.UserID {
		return false
	}
	ts := eventTime(ev)
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	return true
}

// eventTime parses the event timestamp; malformed timestamps sort last.
func eventTime(ev domain.HistoryEvent) time.Time {
	t, err := time.Parse(time.RFC3339, ev.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}
