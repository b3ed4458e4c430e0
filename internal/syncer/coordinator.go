package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/blackroad/statesync/internal/hashing"
	"github.com/blackroad/statesync/internal/store"
)

// ConflictAuditor receives every detected conflict for the audit trail.
type ConflictAuditor interface {
	LogConflict(report *ConflictReport) error
}

// Config configures a Coordinator.
type Config struct {
	// Primary is the source-of-record backend (the file store in the
	// standard topology). Required.
	Primary store.Store

	// Secondaries are the remaining replicas (KV cache, CRM store).
	Secondaries []store.Store

	// Policy is the default conflict resolution policy. Defaults to
	// PolicyManual.
	Policy Policy

	// MaxAttempts bounds retries for transient backend failures
	// (default 3 total attempts).
	MaxAttempts int

	// BaseBackoff is the initial retry backoff (default 100ms); it
	// doubles per attempt with jitter.
	BaseBackoff time.Duration

	// Logger receives coordinator activity. If nil, a default logger
	// writing to stderr is used.
	Logger *log.Logger

	// Audit, when set, receives every detected conflict.
	Audit ConflictAuditor

	// EventSink, when set, receives coordinator events (used by the live
	// dashboard). Must not block.
	EventSink func(Event)
}

// WriteOptions tunes a single coordinated write.
type WriteOptions struct {
	// BaseDigest, when non-empty, is used as the CAS base for every
	// backend instead of the snapshot table. Task claims pass the digest
	// observed at read time here, making the claim a compare-and-swap.
	BaseDigest string

	// Policy overrides the coordinator's default conflict policy for
	// this write.
	Policy Policy

	// force skips conflict detection entirely; used internally by
	// explicit conflict resolution and read-repair.
	force bool
}

// Coordinator maintains a consistent view of records across the configured
// backends. Construct with New; the zero value is not usable.
type Coordinator struct {
	primary  store.Store
	backends []store.Store // primary first
	policy   Policy
	retry    retryConfig
	logger   *log.Logger
	audit    ConflictAuditor
	events   func(Event)

	snaps *snapshotTable
	locks keyLocks

	pendingMu sync.Mutex
	pending   map[snapKey]*ConflictReport

	wg sync.WaitGroup
}

// New creates a Coordinator over the given backends.
//
// Example:
//
//	files, _ := filestore.New(".statesync/records")
//	kv, _ := kvstore.Open(".statesync/kv.db")
//	coord, err := syncer.New(syncer.Config{
//	    Primary:     files,
//	    Secondaries: []store.Store{kv},
//	})
func New(cfg Config) (*Coordinator, error) {
	if cfg.Primary == nil {
		return nil, fmt.Errorf("primary backend is required")
	}
	policy := cfg.Policy
	if policy == "" {
		policy = PolicyManual
	}
	if !policy.Valid() {
		return nil, fmt.Errorf("unknown conflict policy %q", policy)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}

	names := make(map[string]bool)
	backends := append([]store.Store{cfg.Primary}, cfg.Secondaries...)
	for _, b := range backends {
		if names[b.Name()] {
			return nil, fmt.Errorf("duplicate backend name %q", b.Name())
		}
		names[b.Name()] = true
	}

	return &Coordinator{
		primary:  cfg.Primary,
		backends: backends,
		policy:   policy,
		retry:    retryConfig{maxAttempts: cfg.MaxAttempts, baseBackoff: cfg.BaseBackoff},
		logger:   logger,
		audit:    cfg.Audit,
		events:   cfg.EventSink,
		snaps:    newSnapshotTable(),
		pending:  make(map[snapKey]*ConflictReport),
	}, nil
}

// Close waits for background read-repair passes to finish.
func (c *Coordinator) Close() error {
	c.wg.Wait()
	return nil
}

// BackendNames returns the configured backend names, primary first.
func (c *Coordinator) BackendNames() []string {
	names := make([]string, len(c.backends))
	for i, b := range c.backends {
		names[i] = b.Name()
	}
	return names
}

func (c *Coordinator) emit(ev Event) {
	if c.events == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	c.events(ev)
}

// backendRead is one backend's state observed during the read fan-out.
type backendRead struct {
	backend store.Store
	rec     *store.Record // nil when the backend has no record
	err     error         // non-nil when the backend could not be read
}

// fanOutReads reads the key from every backend concurrently, so total
// latency is bounded by the slowest backend. NotFound is not an error
// here; it reports as a nil record.
func (c *Coordinator) fanOutReads(ctx context.Context, key string) []backendRead {
	out := make([]backendRead, len(c.backends))
	var wg sync.WaitGroup
	for i, b := range c.backends {
		wg.Add(1)
		go func(i int, b store.Store) {
			defer wg.Done()
			var rec *store.Record
			err := withRetry(ctx, c.retry, func() error {
				r, err := b.Get(ctx, key)
				if err != nil {
					return err
				}
				rec = r
				return nil
			})
			if errors.Is(err, store.ErrNotFound) {
				err = nil
			}
			out[i] = backendRead{backend: b, rec: rec, err: err}
		}(i, b)
	}
	wg.Wait()
	return out
}

// Write propagates a payload for key to every backend, detecting
// divergence against the snapshot table. See WriteWith.
func (c *Coordinator) Write(ctx context.Context, key string, payload map[string]any) (*WriteResult, error) {
	return c.WriteWith(ctx, key, payload, WriteOptions{})
}

// WriteWith is Write with per-call options.
//
// The only error returned is a fatal one (unencodable payload, invalid
// options); every expected failure mode - unreachable backends, conflicts
// - is reported in the WriteResult, which callers must inspect.
func (c *Coordinator) WriteWith(ctx context.Context, key string, payload map[string]any, opts WriteOptions) (*WriteResult, error) {
	if key == "" {
		return nil, fmt.Errorf("key is required")
	}
	if opts.Policy != "" && !opts.Policy.Valid() {
		return nil, fmt.Errorf("unknown conflict policy %q", opts.Policy)
	}

	mu := c.locks.lock(key)
	defer mu.Unlock()
	return c.writeLocked(ctx, key, payload, opts)
}

// writeLocked is the write path. The caller holds the key lock.
func (c *Coordinator) writeLocked(ctx context.Context, key string, payload map[string]any, opts WriteOptions) (*WriteResult, error) {
	policy := opts.Policy
	if policy == "" {
		policy = c.policy
	}

	// Validate the payload up front; an unencodable payload is fatal
	// before any backend is touched.
	if _, err := hashing.Sum(payload); err != nil {
		return nil, err
	}

	reads := c.fanOutReads(ctx, key)

	// Settle the final payload: absorb clean one-sided remote changes,
	// apply the policy to true conflicts, or block conflicted backends.
	final := payload
	conflicted := make(map[string]*ConflictReport)
	var unavailable []string

	for _, r := range reads {
		name := r.backend.Name()
		if r.err != nil {
			unavailable = append(unavailable, name)
			continue
		}
		if opts.force {
			continue
		}

		baseDigest, basePayload := c.baseFor(key, name, opts.BaseDigest)

		finalDigest, err := hashing.Sum(final)
		if err != nil {
			return nil, err
		}

		var remotePayload map[string]any
		switch {
		case r.rec == nil:
			if baseDigest == "" {
				continue // fresh create, nothing to compare
			}
			// We held a base but the record is gone: delete-vs-modify
			// at the record level. An empty remote payload makes the
			// merge treat every base field as remotely deleted.
			remotePayload = map[string]any{}
		case r.rec.Digest == finalDigest || r.rec.Digest == baseDigest:
			continue // unchanged externally, or already converged
		default:
			remotePayload = r.rec.Payload
		}

		outcome := Merge(basePayload, final, remotePayload)
		if outcome.Clean() {
			final = outcome.Merged
			continue
		}

		if policy == PolicyManual {
			report := &ConflictReport{
				Key:        key,
				Backend:    name,
				Base:       basePayload,
				Local:      final,
				Remote:     remotePayload,
				Divergent:  outcome.Divergent,
				Suggested:  PolicyManual,
				DetectedAt: time.Now(),
			}
			conflicted[name] = report
			c.recordConflict(report)
			continue
		}
		final = resolveDivergent(outcome, policy)
	}

	finalDigest, err := hashing.Sum(final)
	if err != nil {
		return nil, err
	}

	rec := &store.Record{
		Key:       key,
		Payload:   final,
		Digest:    finalDigest,
		Version:   nextVersion(reads),
		UpdatedAt: time.Now().UTC(),
	}

	result := &WriteResult{
		Key:         key,
		Digest:      finalDigest,
		Payload:     final,
		Unavailable: unavailable,
	}
	for _, report := range conflicted {
		result.Conflicts = append(result.Conflicts, report)
	}
	sort.Slice(result.Conflicts, func(i, j int) bool {
		return result.Conflicts[i].Backend < result.Conflicts[j].Backend
	})

	// Fan out the writes to every backend that is reachable and not
	// blocked on a conflict. Backends already holding the final digest
	// are counted synced without a write.
	type writeOutcome struct {
		name      string
		unchanged bool
		err       error
	}
	outcomes := make([]writeOutcome, len(reads))
	var wg sync.WaitGroup
	for i, r := range reads {
		name := r.backend.Name()
		if r.err != nil {
			outcomes[i] = writeOutcome{name: name, err: r.err}
			continue
		}
		if _, blocked := conflicted[name]; blocked {
			outcomes[i] = writeOutcome{name: name}
			continue
		}
		if r.rec != nil && r.rec.Digest == finalDigest {
			outcomes[i] = writeOutcome{name: name, unchanged: true}
			continue
		}

		wg.Add(1)
		go func(i int, b store.Store) {
			defer wg.Done()
			err := withRetry(ctx, c.retry, func() error {
				return b.Put(ctx, rec)
			})
			outcomes[i] = writeOutcome{name: b.Name(), err: err}
		}(i, r.backend)
	}
	wg.Wait()

	for i, o := range outcomes {
		if _, blocked := conflicted[o.name]; blocked {
			continue
		}
		switch {
		case o.err != nil:
			if reads[i].err == nil {
				// Write-time failure, not already counted from the read.
				unavailable = append(unavailable, o.name)
			}
			c.logger.Printf("write %s to backend %s failed: %v", key, o.name, o.err)
		case o.unchanged:
			result.Synced = append(result.Synced, o.name)
			result.Unchanged = append(result.Unchanged, o.name)
			c.snaps.set(key, o.name, finalDigest, rec.Clone().Payload)
		default:
			result.Synced = append(result.Synced, o.name)
			c.snaps.set(key, o.name, finalDigest, rec.Clone().Payload)
		}
	}
	result.Unavailable = unavailable
	sort.Strings(result.Synced)
	sort.Strings(result.Unavailable)

	if result.FullySynced() {
		c.emit(Event{Type: EventWriteSynced, Key: key})
	} else {
		c.emit(Event{Type: EventWritePartial, Key: key,
			Detail: fmt.Sprintf("unavailable=%d conflicts=%d", len(result.Unavailable), len(result.Conflicts))})
	}
	return result, nil
}

// baseFor returns the CAS base digest and payload for one backend. An
// explicit override digest uses the snapshot payload only when the
// snapshot agrees with the override.
func (c *Coordinator) baseFor(key, backend, override string) (string, map[string]any) {
	snap, ok := c.snaps.get(key, backend)
	if override != "" {
		if ok && snap.digest == override {
			return override, snap.payload
		}
		return override, nil
	}
	if !ok {
		return "", nil
	}
	return snap.digest, snap.payload
}

// nextVersion picks the successor of the highest version observed across
// backends; backends additionally enforce their own monotonic bump.
func nextVersion(reads []backendRead) int64 {
	var max int64
	for _, r := range reads {
		if r.rec != nil && r.rec.Version > max {
			max = r.rec.Version
		}
	}
	return max + 1
}

// Read returns the record for key from the primary backend.
//
// When a secondary disagrees with the primary and no conflict is pending,
// a background read-repair pass reconciles it; the caller is never
// blocked on secondaries.
func (c *Coordinator) Read(ctx context.Context, key string) (*store.Record, error) {
	var rec *store.Record
	err := withRetry(ctx, c.retry, func() error {
		r, err := c.primary.Get(ctx, key)
		if err != nil {
			return err
		}
		rec = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.snaps.set(key, c.primary.Name(), rec.Digest, rec.Clone().Payload)

	if len(c.backends) > 1 {
		repairRec := rec.Clone()
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			repairCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			c.readRepair(repairCtx, repairRec)
		}()
	}
	return rec, nil
}

// readRepair reconciles secondaries that disagree with the primary's
// record. Divergence explainable as "secondary never saw the update" is
// repaired in place; anything else becomes a pending conflict.
func (c *Coordinator) readRepair(ctx context.Context, primaryRec *store.Record) {
	key := primaryRec.Key
	mu := c.locks.lock(key)
	defer mu.Unlock()

	for _, b := range c.backends[1:] {
		name := b.Name()
		if c.hasPending(key, name) {
			continue
		}

		remote, err := b.Get(ctx, key)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			continue // unreachable; next sync pass will catch up
		}
		if remote != nil && remote.Digest == primaryRec.Digest {
			c.snaps.set(key, name, remote.Digest, remote.Payload)
			continue
		}

		snap, _ := c.snaps.get(key, name)
		if remote == nil || remote.Digest == snap.digest {
			// Secondary is simply behind; push the primary's state.
			if err := b.Put(ctx, primaryRec); err != nil {
				c.logger.Printf("read-repair of %s on %s failed: %v", key, name, err)
				continue
			}
			c.snaps.set(key, name, primaryRec.Digest, primaryRec.Clone().Payload)
			c.emit(Event{Type: EventReadRepair, Key: key, Backend: name})
			continue
		}

		// The secondary changed independently of both the base and the
		// primary; surface it rather than guessing.
		outcome := Merge(snap.payload, primaryRec.Payload, remote.Payload)
		if outcome.Clean() {
			merged := outcome.Merged
			digest, err := hashing.Sum(merged)
			if err != nil {
				continue
			}
			mergedRec := &store.Record{
				Key:       key,
				Payload:   merged,
				Digest:    digest,
				Version:   remote.Version + 1,
				UpdatedAt: time.Now().UTC(),
			}
			if err := b.Put(ctx, mergedRec); err != nil {
				c.logger.Printf("read-repair of %s on %s failed: %v", key, name, err)
				continue
			}
			c.snaps.set(key, name, digest, mergedRec.Clone().Payload)
			c.emit(Event{Type: EventReadRepair, Key: key, Backend: name})
			continue
		}

		c.recordConflict(&ConflictReport{
			Key:        key,
			Backend:    name,
			Base:       snap.payload,
			Local:      primaryRec.Payload,
			Remote:     remote.Payload,
			Divergent:  outcome.Divergent,
			Suggested:  PolicyManual,
			DetectedAt: time.Now(),
		})
	}
}

// Probe checks that the named backend is reachable.
func (c *Coordinator) Probe(ctx context.Context, name string) error {
	for _, b := range c.backends {
		if b.Name() != name {
			continue
		}
		if _, err := b.ListKeys(ctx, ""); err != nil {
			return fmt.Errorf("backend %s unreachable: %w", name, err)
		}
		return nil
	}
	return fmt.Errorf("unknown backend %q", name)
}

// Keys lists the keys under prefix on the primary backend.
func (c *Coordinator) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := withRetry(ctx, c.retry, func() error {
		ks, err := c.primary.ListKeys(ctx, prefix)
		if err != nil {
			return err
		}
		keys = ks
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Delete removes the key from every backend. Missing records are not an
// error; the result lists backends that could not be reached.
func (c *Coordinator) Delete(ctx context.Context, key string) (*WriteResult, error) {
	mu := c.locks.lock(key)
	defer mu.Unlock()

	result := &WriteResult{Key: key}
	var wg sync.WaitGroup
	errs := make([]error, len(c.backends))
	for i, b := range c.backends {
		wg.Add(1)
		go func(i int, b store.Store) {
			defer wg.Done()
			err := withRetry(ctx, c.retry, func() error {
				return b.Delete(ctx, key)
			})
			if errors.Is(err, store.ErrNotFound) {
				err = nil
			}
			errs[i] = err
		}(i, b)
	}
	wg.Wait()

	for i, b := range c.backends {
		name := b.Name()
		if errs[i] != nil {
			result.Unavailable = append(result.Unavailable, name)
			continue
		}
		result.Synced = append(result.Synced, name)
		c.snaps.drop(key, name)
		c.clearPending(key, name)
	}
	return result, nil
}

// SyncAll reconciles every known key across all backends.
//
// For each key the primary's record is authoritative when present;
// otherwise the highest-versioned replica seeds the others. The pass is
// idempotent: a second run with no intervening changes performs zero
// writes.
func (c *Coordinator) SyncAll(ctx context.Context) (*SyncReport, error) {
	start := time.Now()
	report := &SyncReport{}

	keySet := make(map[string]bool)
	for _, b := range c.backends {
		var keys []string
		err := withRetry(ctx, c.retry, func() error {
			ks, err := b.ListKeys(ctx, "")
			if err != nil {
				return err
			}
			keys = ks
			return nil
		})
		if err != nil {
			report.Unavailable = append(report.Unavailable, b.Name())
			c.logger.Printf("sync: failed to list keys on %s: %v", b.Name(), err)
			continue
		}
		for _, k := range keys {
			keySet[k] = true
		}
	}

	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("sync cancelled: %w", err)
		}
		res, err := c.syncKey(ctx, key)
		if err != nil {
			c.logger.Printf("sync: key %s failed: %v", key, err)
			continue
		}
		report.KeysScanned++
		report.Writes += len(res.Synced) - len(res.Unchanged)
		report.Conflicts += len(res.Conflicts)
	}

	report.Duration = time.Since(start)
	c.logger.Printf("sync complete: keys=%d writes=%d conflicts=%d unavailable=%d in %v",
		report.KeysScanned, report.Writes, report.Conflicts, len(report.Unavailable),
		report.Duration.Round(time.Millisecond))
	c.emit(Event{Type: EventSyncComplete,
		Detail: fmt.Sprintf("keys=%d writes=%d conflicts=%d", report.KeysScanned, report.Writes, report.Conflicts)})
	return report, nil
}

// syncKey reconciles one key using the primary (or, failing that, the
// highest-versioned replica) as the authoritative payload.
func (c *Coordinator) syncKey(ctx context.Context, key string) (*WriteResult, error) {
	mu := c.locks.lock(key)
	defer mu.Unlock()

	reads := c.fanOutReads(ctx, key)

	var authoritative *store.Record
	if reads[0].rec != nil {
		authoritative = reads[0].rec
	} else {
		for _, r := range reads[1:] {
			if r.rec != nil && (authoritative == nil || r.rec.Version > authoritative.Version) {
				authoritative = r.rec
			}
		}
	}
	if authoritative == nil {
		return &WriteResult{Key: key}, nil
	}

	return c.writeLocked(ctx, key, authoritative.Payload, WriteOptions{})
}

// DetectConflicts scans all keys and returns every conflict currently
// blocking convergence, without mutating any backend.
func (c *Coordinator) DetectConflicts(ctx context.Context) ([]*ConflictReport, error) {
	keySet := make(map[string]bool)
	for _, b := range c.backends {
		keys, err := b.ListKeys(ctx, "")
		if err != nil {
			c.logger.Printf("conflict scan: failed to list keys on %s: %v", b.Name(), err)
			continue
		}
		for _, k := range keys {
			keySet[k] = true
		}
	}

	var reports []*ConflictReport
	for key := range keySet {
		reads := c.fanOutReads(ctx, key)
		primary := reads[0].rec
		if primary == nil {
			continue
		}
		for _, r := range reads[1:] {
			if r.err != nil || r.rec == nil || r.rec.Digest == primary.Digest {
				continue
			}
			snap, _ := c.snaps.get(key, r.backend.Name())
			if r.rec.Digest == snap.digest {
				continue // secondary merely behind; read-repair territory
			}
			outcome := Merge(snap.payload, primary.Payload, r.rec.Payload)
			if outcome.Clean() {
				continue
			}
			report := &ConflictReport{
				Key:        key,
				Backend:    r.backend.Name(),
				Base:       snap.payload,
				Local:      primary.Payload,
				Remote:     r.rec.Payload,
				Divergent:  outcome.Divergent,
				Suggested:  PolicyManual,
				DetectedAt: time.Now(),
			}
			c.recordConflict(report)
			reports = append(reports, report)
		}
	}

	sort.Slice(reports, func(i, j int) bool {
		if reports[i].Key != reports[j].Key {
			return reports[i].Key < reports[j].Key
		}
		return reports[i].Backend < reports[j].Backend
	})
	return reports, nil
}

// PendingConflicts returns the unresolved conflicts this coordinator has
// detected, sorted by key then backend.
func (c *Coordinator) PendingConflicts() []*ConflictReport {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	out := make([]*ConflictReport, 0, len(c.pending))
	for _, r := range c.pending {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].Backend < out[j].Backend
	})
	return out
}

// Resolve applies an explicit resolution to a pending conflict and
// propagates the chosen payload to every backend.
func (c *Coordinator) Resolve(ctx context.Context, key, backend string, policy Policy) (*WriteResult, error) {
	if policy != PolicyPreferLocal && policy != PolicyPreferRemote {
		return nil, fmt.Errorf("resolution requires prefer_local or prefer_remote, got %q", policy)
	}

	c.pendingMu.Lock()
	report, ok := c.pending[snapKey{key, backend}]
	c.pendingMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no pending conflict for key %s on backend %s", key, backend)
	}

	outcome := Merge(report.Base, report.Local, report.Remote)
	resolved := resolveDivergent(outcome, policy)

	mu := c.locks.lock(key)
	result, err := c.writeLocked(ctx, key, resolved, WriteOptions{force: true})
	mu.Unlock()
	if err != nil {
		return nil, err
	}

	c.clearPending(key, backend)
	c.logger.Printf("conflict on %s/%s resolved with %s", key, backend, policy)
	c.emit(Event{Type: EventConflictResolved, Key: key, Backend: backend, Detail: string(policy)})
	return result, nil
}

func (c *Coordinator) recordConflict(report *ConflictReport) {
	c.pendingMu.Lock()
	c.pending[snapKey{report.Key, report.Backend}] = report
	c.pendingMu.Unlock()

	c.logger.Printf("conflict detected on %s/%s: fields %v", report.Key, report.Backend, report.Fields())
	if c.audit != nil {
		if err := c.audit.LogConflict(report); err != nil {
			c.logger.Printf("failed to audit conflict: %v", err)
		}
	}
	c.emit(Event{Type: EventConflictDetected, Key: report.Key, Backend: report.Backend})
}

func (c *Coordinator) hasPending(key, backend string) bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	_, ok := c.pending[snapKey{key, backend}]
	return ok
}

func (c *Coordinator) clearPending(key, backend string) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	delete(c.pending, snapKey{key, backend})
}
