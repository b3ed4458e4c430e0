// Package taskqueue layers claim semantics over the sync coordinator.
//
// Every mutation follows the same discipline: read the task, remember the
// digest observed, mutate, and write with that digest as the
// compare-and-swap base. Two workers racing for the same task therefore
// cannot both win; the loser's write conflicts and is rejected.
package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/blackroad/statesync/internal/syncer"
	"github.com/blackroad/statesync/internal/task"
)

var (
	// ErrAlreadyClaimed is returned when claiming a task that is already
	// in progress.
	ErrAlreadyClaimed = errors.New("task already claimed")

	// ErrClaimConflict is returned when a hash-guarded write loses the
	// race: the task changed between read and write. The caller should
	// re-read and retry if still appropriate.
	ErrClaimConflict = errors.New("task changed concurrently")
)

// Queue manages tasks stored under the task/ key prefix.
type Queue struct {
	coord  *syncer.Coordinator
	logger *log.Logger
}

// New creates a Queue over the given coordinator. A nil logger gets a
// default writing to stderr.
func New(coord *syncer.Coordinator, logger *log.Logger) *Queue {
	if logger == nil {
		logger = log.New(os.Stderr, "[queue] ", log.LstdFlags)
	}
	return &Queue{coord: coord, logger: logger}
}

// Create persists a new task to all backends.
func (q *Queue) Create(ctx context.Context, t *task.Task) (*syncer.WriteResult, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	payload, err := t.Payload()
	if err != nil {
		return nil, err
	}
	res, err := q.coord.Write(ctx, t.Key(), payload)
	if err != nil {
		return nil, err
	}
	if !res.FullySynced() {
		q.logger.Printf("task %s created with partial sync: unavailable=%v", t.ID, res.Unavailable)
	}
	return res, nil
}

// Get returns the task with the given ID.
func (q *Queue) Get(ctx context.Context, id string) (*task.Task, error) {
	rec, err := q.coord.Read(ctx, task.Key(id))
	if err != nil {
		return nil, err
	}
	return task.FromPayload(rec.Payload)
}

// Claim assigns a pending task to assignee and moves it to in_progress.
//
// The claim is guarded by the digest observed at read time: if any other
// writer touched the task in between, the claim fails with
// ErrClaimConflict and nothing is written. Any task no longer pending
// fails with ErrAlreadyClaimed.
func (q *Queue) Claim(ctx context.Context, id, assignee string) (*task.Task, error) {
	if assignee == "" {
		return nil, fmt.Errorf("assignee is required")
	}
	return q.mutate(ctx, id, func(t *task.Task) error {
		if t.Status != task.StatusPending {
			if t.Assignee != "" {
				return fmt.Errorf("task %s is %s, held by %s: %w", t.ID, t.Status, t.Assignee, ErrAlreadyClaimed)
			}
			return fmt.Errorf("task %s is %s: %w", t.ID, t.Status, ErrAlreadyClaimed)
		}
		t.Assignee = assignee
		return t.Transition(task.StatusInProgress)
	})
}

// Complete moves an in-progress task to completed. A non-empty linkedPr
// is recorded on the task as the pull request that finished the work.
func (q *Queue) Complete(ctx context.Context, id, linkedPr string) (*task.Task, error) {
	return q.mutate(ctx, id, func(t *task.Task) error {
		if linkedPr != "" {
			t.LinkedPR = linkedPr
		}
		return t.Transition(task.StatusCompleted)
	})
}

// Block moves an in-progress task to blocked with a reason.
func (q *Queue) Block(ctx context.Context, id, reason string) (*task.Task, error) {
	if reason == "" {
		return nil, fmt.Errorf("a blocked task requires a reason")
	}
	return q.mutate(ctx, id, func(t *task.Task) error {
		t.BlockedReason = reason
		return t.Transition(task.StatusBlocked)
	})
}

// Resume puts a blocked task back in progress with its claim intact.
func (q *Queue) Resume(ctx context.Context, id string) (*task.Task, error) {
	return q.mutate(ctx, id, func(t *task.Task) error {
		return t.Transition(task.StatusInProgress)
	})
}

// mutate is the read-mutate-CAS-write cycle every status change uses.
func (q *Queue) mutate(ctx context.Context, id string, fn func(*task.Task) error) (*task.Task, error) {
	rec, err := q.coord.Read(ctx, task.Key(id))
	if err != nil {
		return nil, err
	}
	t, err := task.FromPayload(rec.Payload)
	if err != nil {
		return nil, err
	}
	if err := fn(t); err != nil {
		return nil, err
	}
	payload, err := t.Payload()
	if err != nil {
		return nil, err
	}

	res, err := q.coord.WriteWith(ctx, t.Key(), payload, syncer.WriteOptions{BaseDigest: rec.Digest})
	if err != nil {
		return nil, err
	}
	if len(res.Conflicts) > 0 {
		return nil, fmt.Errorf("task %s: %w", t.ID, ErrClaimConflict)
	}
	if len(res.Unavailable) > 0 {
		q.logger.Printf("task %s updated with partial sync: unavailable=%v", t.ID, res.Unavailable)
	}
	return t, nil
}

// List returns tasks ordered by priority then creation time. A non-empty
// status restricts the result to that status.
func (q *Queue) List(ctx context.Context, status task.Status) ([]*task.Task, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("unknown status %q", status)
	}

	keys, err := q.coord.Keys(ctx, "task/")
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	var tasks []*task.Task
	for _, key := range keys {
		rec, err := q.coord.Read(ctx, key)
		if err != nil {
			q.logger.Printf("skipping unreadable task record %s: %v", key, err)
			continue
		}
		t, err := task.FromPayload(rec.Payload)
		if err != nil {
			q.logger.Printf("skipping malformed task record %s: %v", key, err)
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		tasks = append(tasks, t)
	}

	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Priority.Rank() != tasks[j].Priority.Rank() {
			return tasks[i].Priority.Rank() < tasks[j].Priority.Rank()
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// Partition groups all tasks by status for board-style views.
func (q *Queue) Partition(ctx context.Context) (map[task.Status][]*task.Task, error) {
	tasks, err := q.List(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make(map[task.Status][]*task.Task)
	for _, t := range tasks {
		out[t.Status] = append(out[t.Status], t)
	}
	return out, nil
}
