// Package task defines the work item model and its status state machine.
//
// A task is stored as a record payload under the "task/" key prefix; the
// queue in internal/taskqueue layers claim semantics on top.
package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is a task's position in its lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
)

// Valid reports whether s names a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusBlocked:
		return true
	}
	return false
}

// Terminal reports whether no further transitions leave s.
func (s Status) Terminal() bool { return s == StatusCompleted }

// Priority orders tasks within a status.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Valid reports whether p names a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Rank returns a sort weight, lower is more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	}
	return 4
}

// ErrInvalidTransition is returned when a status change is not allowed by
// the state machine. Use errors.Is to test for it.
var ErrInvalidTransition = errors.New("invalid status transition")

// transitions is the full state machine. Pending is the only initial
// state, completed is terminal, and blocked recovers back to in_progress.
var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress},
	StatusInProgress: {StatusCompleted, StatusBlocked},
	StatusBlocked:    {StatusInProgress},
	StatusCompleted:  {},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Task is one unit of work.
type Task struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      Status   `json:"status"`
	Priority    Priority `json:"priority"`
	Assignee    string   `json:"assignee,omitempty"`
	Labels      []string `json:"labels,omitempty"`

	// BlockedReason explains a blocked status; cleared on resume.
	BlockedReason string `json:"blocked_reason,omitempty"`

	// AcceptanceCriteria is an ordered checklist for completion.
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`

	// LinkedPR and LinkedIssue are opaque references, never resolved
	// pointers: looking them up goes through the record store.
	LinkedPR    string `json:"linked_pr,omitempty"`
	LinkedIssue string `json:"linked_issue,omitempty"`

	// Metadata is an open mapping for callers to stash extra fields.
	Metadata map[string]any `json:"metadata,omitempty"`

	Due         *time.Time `json:"due,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// New creates a pending task with a fresh ID and default priority.
func New(title string) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:        uuid.NewString(),
		Title:     title,
		Status:    StatusPending,
		Priority:  PriorityMedium,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Key returns the record key the task is stored under.
func (t *Task) Key() string { return Key(t.ID) }

// Key maps a task ID to its record key.
func Key(id string) string { return "task/" + id }

// Validate checks structural invariants. Call before persisting.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task ID is required")
	}
	if t.Title == "" {
		return fmt.Errorf("task %s: title is required", t.ID)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("task %s: unknown status %q", t.ID, t.Status)
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("task %s: unknown priority %q", t.ID, t.Priority)
	}
	if t.Status == StatusBlocked && t.BlockedReason == "" {
		return fmt.Errorf("task %s: blocked status requires a reason", t.ID)
	}
	return nil
}

// Touch advances the update timestamp. Successive calls move it forward
// even within the clock's resolution, so every mutation is ordered.
func (t *Task) Touch() {
	now := time.Now().UTC()
	if !now.After(t.UpdatedAt) {
		now = t.UpdatedAt.Add(time.Nanosecond)
	}
	t.UpdatedAt = now
}

// Transition moves the task to a new status, enforcing the state machine
// and maintaining the status-dependent fields.
func (t *Task) Transition(to Status) error {
	if !to.Valid() {
		return fmt.Errorf("task %s: unknown status %q", t.ID, to)
	}
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("task %s: %s -> %s: %w", t.ID, t.Status, to, ErrInvalidTransition)
	}

	now := time.Now().UTC()
	switch to {
	case StatusInProgress:
		if t.ClaimedAt == nil {
			t.ClaimedAt = &now
		}
		t.BlockedReason = ""
	case StatusCompleted:
		t.CompletedAt = &now
	}
	t.Status = to
	t.Touch()
	return nil
}

// Overdue reports whether the task has a due date in the past and is not
// completed.
func (t *Task) Overdue(now time.Time) bool {
	return t.Due != nil && t.Due.Before(now) && t.Status != StatusCompleted
}

// Payload converts the task to a record payload.
func (t *Task) Payload() (map[string]any, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task %s: %w", t.ID, err)
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to encode task %s: %w", t.ID, err)
	}
	return payload, nil
}

// FromPayload reconstructs a task from a record payload.
func FromPayload(payload map[string]any) (*Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode task payload: %w", err)
	}
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode task payload: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}
