package task

import (
	"errors"
	"testing"
	"time"
)

func TestNewDefaults(t *testing.T) {
	tk := New("write release notes")
	if tk.ID == "" {
		t.Error("New did not assign an ID")
	}
	if tk.Status != StatusPending {
		t.Errorf("Status = %s, want pending", tk.Status)
	}
	if tk.Priority != PriorityMedium {
		t.Errorf("Priority = %s, want medium", tk.Priority)
	}
	if err := tk.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestTransitions(t *testing.T) {
	// The legal edges, exhaustively: pending starts, completed is
	// terminal, blocked recovers to in_progress. Everything else fails.
	legal := map[Status]map[Status]bool{
		StatusPending:    {StatusInProgress: true},
		StatusInProgress: {StatusCompleted: true, StatusBlocked: true},
		StatusBlocked:    {StatusInProgress: true},
	}
	all := []Status{StatusPending, StatusInProgress, StatusCompleted, StatusBlocked}
	for _, from := range all {
		for _, to := range all {
			want := legal[from][to]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTransitionMaintainsFields(t *testing.T) {
	tk := New("deploy")
	tk.Assignee = "alice"

	if err := tk.Transition(StatusInProgress); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if tk.ClaimedAt == nil {
		t.Error("ClaimedAt not set on claim")
	}

	if err := tk.Transition(StatusCompleted); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if tk.CompletedAt == nil {
		t.Error("CompletedAt not set on completion")
	}

	err := tk.Transition(StatusPending)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("transition out of completed: err = %v, want ErrInvalidTransition", err)
	}
}

func TestResumeKeepsClaim(t *testing.T) {
	tk := New("investigate flake")
	tk.Assignee = "bob"
	if err := tk.Transition(StatusInProgress); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	tk.BlockedReason = "waiting on upstream fix"
	if err := tk.Transition(StatusBlocked); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := tk.Transition(StatusInProgress); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if tk.Assignee != "bob" || tk.ClaimedAt == nil {
		t.Errorf("resume dropped the claim: %+v", tk)
	}
	if tk.BlockedReason != "" {
		t.Errorf("resume left BlockedReason %q", tk.BlockedReason)
	}
}

func TestUpdatedStrictlyIncreases(t *testing.T) {
	tk := New("track freshness")
	seen := tk.UpdatedAt
	for _, to := range []Status{StatusInProgress, StatusBlocked, StatusInProgress, StatusCompleted} {
		if to == StatusBlocked {
			tk.BlockedReason = "blocked on review"
		}
		if err := tk.Transition(to); err != nil {
			t.Fatalf("Transition(%s): %v", to, err)
		}
		if !tk.UpdatedAt.After(seen) {
			t.Fatalf("UpdatedAt did not advance on %s: %v -> %v", to, seen, tk.UpdatedAt)
		}
		seen = tk.UpdatedAt
	}

	// Touch moves forward even inside the clock's resolution.
	for i := 0; i < 3; i++ {
		tk.Touch()
		if !tk.UpdatedAt.After(seen) {
			t.Fatalf("Touch did not advance UpdatedAt: %v -> %v", seen, tk.UpdatedAt)
		}
		seen = tk.UpdatedAt
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Task)
	}{
		{"empty title", func(tk *Task) { tk.Title = "" }},
		{"unknown status", func(tk *Task) { tk.Status = "paused" }},
		{"unknown priority", func(tk *Task) { tk.Priority = "urgent" }},
		{"blocked without reason", func(tk *Task) { tk.Status = StatusBlocked }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := New("x")
			tt.mutate(tk)
			if err := tk.Validate(); err == nil {
				t.Error("Validate accepted an invalid task")
			}
		})
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	due := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tk := New("rotate credentials")
	tk.Priority = PriorityCritical
	tk.Labels = []string{"security", "ops"}
	tk.AcceptanceCriteria = []string{"old keys revoked", "services restarted"}
	tk.LinkedIssue = "SEC-204"
	tk.Metadata = map[string]any{"rotation": "quarterly"}
	tk.Due = &due

	payload, err := tk.Payload()
	if err != nil {
		t.Fatalf("Payload: %v", err)
	}
	got, err := FromPayload(payload)
	if err != nil {
		t.Fatalf("FromPayload: %v", err)
	}
	if got.ID != tk.ID || got.Title != tk.Title || got.Priority != tk.Priority {
		t.Errorf("round trip lost fields: %+v", got)
	}
	if got.Due == nil || !got.Due.Equal(due) {
		t.Errorf("Due = %v, want %v", got.Due, due)
	}
	if len(got.Labels) != 2 {
		t.Errorf("Labels = %v", got.Labels)
	}
	if len(got.AcceptanceCriteria) != 2 || got.AcceptanceCriteria[0] != "old keys revoked" {
		t.Errorf("AcceptanceCriteria = %v", got.AcceptanceCriteria)
	}
	if got.LinkedIssue != "SEC-204" {
		t.Errorf("LinkedIssue = %q", got.LinkedIssue)
	}
	if got.Metadata["rotation"] != "quarterly" {
		t.Errorf("Metadata = %v", got.Metadata)
	}
	if !got.UpdatedAt.Equal(tk.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, tk.UpdatedAt)
	}
}

func TestOverdue(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	tk := New("expired")
	tk.Due = &past
	if !tk.Overdue(now) {
		t.Error("task past its due date should be overdue")
	}

	tk.Status = StatusCompleted
	if tk.Overdue(now) {
		t.Error("completed tasks are never overdue")
	}

	if New("no due date").Overdue(now) {
		t.Error("task without due date should not be overdue")
	}
}

func TestPriorityRank(t *testing.T) {
	order := []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}
	for i := 1; i < len(order); i++ {
		if order[i-1].Rank() >= order[i].Rank() {
			t.Errorf("%s should rank before %s", order[i-1], order[i])
		}
	}
}
