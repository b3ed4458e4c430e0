package taskqueue

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/blackroad/statesync/internal/store"
	"github.com/blackroad/statesync/internal/syncer"
	"github.com/blackroad/statesync/internal/task"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	coord, err := syncer.New(syncer.Config{
		Primary:     store.NewMemory("file"),
		Secondaries: []store.Store{store.NewMemory("kv")},
		BaseBackoff: time.Millisecond,
		Logger:      log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("syncer.New: %v", err)
	}
	t.Cleanup(func() { coord.Close() })
	return New(coord, log.New(io.Discard, "", 0))
}

func mustCreate(t *testing.T, q *Queue, title string) *task.Task {
	t.Helper()
	tk := task.New(title)
	if _, err := q.Create(context.Background(), tk); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return tk
}

func TestCreateAndGet(t *testing.T) {
	q := newTestQueue(t)
	tk := mustCreate(t, q, "index the archive")

	got, err := q.Get(context.Background(), tk.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "index the archive" || got.Status != task.StatusPending {
		t.Errorf("Get = %+v", got)
	}
}

func TestGetMissing(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Get(context.Background(), "no-such-id")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestClaimLifecycle(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	tk := mustCreate(t, q, "ship the build")

	claimed, err := q.Claim(ctx, tk.ID, "alice")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claimed.Status != task.StatusInProgress || claimed.Assignee != "alice" {
		t.Fatalf("claimed = %+v", claimed)
	}
	if claimed.ClaimedAt == nil {
		t.Error("ClaimedAt not set")
	}

	done, err := q.Complete(ctx, tk.ID, "builds/pr-118")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.Status != task.StatusCompleted || done.CompletedAt == nil {
		t.Fatalf("completed = %+v", done)
	}
	if done.LinkedPR != "builds/pr-118" {
		t.Errorf("LinkedPR = %q, want builds/pr-118", done.LinkedPR)
	}

	got, err := q.Get(ctx, tk.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LinkedPR != "builds/pr-118" {
		t.Errorf("persisted LinkedPR = %q, want builds/pr-118", got.LinkedPR)
	}
}

func TestUpdatedAdvancesAcrossMutations(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	tk := mustCreate(t, q, "trace the regression")
	seen := tk.UpdatedAt

	claimed, err := q.Claim(ctx, tk.ID, "alice")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !claimed.UpdatedAt.After(seen) {
		t.Fatalf("claim did not advance UpdatedAt: %v -> %v", seen, claimed.UpdatedAt)
	}
	seen = claimed.UpdatedAt

	done, err := q.Complete(ctx, tk.ID, "")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !done.UpdatedAt.After(seen) {
		t.Fatalf("complete did not advance UpdatedAt: %v -> %v", seen, done.UpdatedAt)
	}
}

func TestClaimAlreadyClaimed(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	t.Run("in progress", func(t *testing.T) {
		tk := mustCreate(t, q, "restart the ingest")
		if _, err := q.Claim(ctx, tk.ID, "alice"); err != nil {
			t.Fatalf("Claim: %v", err)
		}
		_, err := q.Claim(ctx, tk.ID, "bob")
		if !errors.Is(err, ErrAlreadyClaimed) {
			t.Fatalf("second claim err = %v, want ErrAlreadyClaimed", err)
		}
	})

	t.Run("completed", func(t *testing.T) {
		tk := mustCreate(t, q, "already shipped")
		if _, err := q.Claim(ctx, tk.ID, "alice"); err != nil {
			t.Fatalf("Claim: %v", err)
		}
		if _, err := q.Complete(ctx, tk.ID, ""); err != nil {
			t.Fatalf("Complete: %v", err)
		}
		_, err := q.Claim(ctx, tk.ID, "bob")
		if !errors.Is(err, ErrAlreadyClaimed) {
			t.Fatalf("claim of completed task err = %v, want ErrAlreadyClaimed", err)
		}
	})

	t.Run("blocked", func(t *testing.T) {
		tk := mustCreate(t, q, "stuck on upstream")
		if _, err := q.Claim(ctx, tk.ID, "alice"); err != nil {
			t.Fatalf("Claim: %v", err)
		}
		if _, err := q.Block(ctx, tk.ID, "upstream outage"); err != nil {
			t.Fatalf("Block: %v", err)
		}
		_, err := q.Claim(ctx, tk.ID, "bob")
		if !errors.Is(err, ErrAlreadyClaimed) {
			t.Fatalf("claim of blocked task err = %v, want ErrAlreadyClaimed", err)
		}
	})
}

func TestConcurrentClaimsOneWinner(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	tk := mustCreate(t, q, "rebuild the cache")

	workers := []string{"alice", "bob", "carol", "dave"}
	errs := make([]error, len(workers))
	var wg sync.WaitGroup
	for i, w := range workers {
		wg.Add(1)
		go func(i int, w string) {
			defer wg.Done()
			_, errs[i] = q.Claim(ctx, tk.ID, w)
		}(i, w)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrAlreadyClaimed) || errors.Is(err, ErrClaimConflict):
		default:
			t.Errorf("unexpected claim error: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("%d claims succeeded, want exactly 1", won)
	}

	got, err := q.Get(ctx, tk.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != task.StatusInProgress || got.Assignee == "" {
		t.Fatalf("post-race task = %+v", got)
	}
}

func TestCompleteRequiresClaim(t *testing.T) {
	q := newTestQueue(t)
	tk := mustCreate(t, q, "never claimed")

	_, err := q.Complete(context.Background(), tk.ID, "")
	if !errors.Is(err, task.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestBlockAndResume(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	tk := mustCreate(t, q, "migrate the schema")

	if _, err := q.Claim(ctx, tk.ID, "alice"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	blocked, err := q.Block(ctx, tk.ID, "waiting on the CRM export")
	if err != nil {
		t.Fatalf("Block: %v", err)
	}
	if blocked.Status != task.StatusBlocked || blocked.BlockedReason == "" {
		t.Fatalf("blocked = %+v", blocked)
	}

	if _, err := q.Block(ctx, tk.ID, ""); err == nil {
		t.Error("Block without reason should fail")
	}

	resumed, err := q.Resume(ctx, tk.ID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Status != task.StatusInProgress || resumed.BlockedReason != "" {
		t.Fatalf("resumed = %+v", resumed)
	}
	if resumed.Assignee != "alice" {
		t.Errorf("resume dropped the claim, assignee = %q", resumed.Assignee)
	}

	// Resuming leaves the task held, so it can still be completed.
	if _, err := q.Complete(ctx, tk.ID, ""); err != nil {
		t.Fatalf("Complete after resume: %v", err)
	}
}

func TestResumeRequiresBlocked(t *testing.T) {
	q := newTestQueue(t)
	tk := mustCreate(t, q, "was never blocked")

	_, err := q.Resume(context.Background(), tk.ID)
	if !errors.Is(err, task.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestListFiltersAndOrders(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	low := task.New("someday")
	low.Priority = task.PriorityLow
	critical := task.New("on fire")
	critical.Priority = task.PriorityCritical
	medium := task.New("normal work")

	for _, tk := range []*task.Task{low, critical, medium} {
		if _, err := q.Create(ctx, tk); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if _, err := q.Claim(ctx, medium.ID, "alice"); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	pending, err := q.List(ctx, task.StatusPending)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d tasks, want 2", len(pending))
	}
	if pending[0].ID != critical.ID {
		t.Errorf("critical task should sort first, got %q", pending[0].Title)
	}

	all, err := q.List(ctx, "")
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all = %d tasks, want 3", len(all))
	}

	if _, err := q.List(ctx, "bogus"); err == nil {
		t.Error("List with unknown status should fail")
	}
}

func TestPartition(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	a := mustCreate(t, q, "a")
	mustCreate(t, q, "b")
	if _, err := q.Claim(ctx, a.ID, "alice"); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	parts, err := q.Partition(ctx)
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}
	if len(parts[task.StatusPending]) != 1 || len(parts[task.StatusInProgress]) != 1 {
		t.Fatalf("partition = %v", parts)
	}
}
