package syncer

import (
	"hash/fnv"
	"sync"
	"time"
)

// snapshot records the last state this coordinator observed agreeing with
// one backend for one key. The digest is the CAS base for the next write;
// the payload is kept so the three-way merge has its base side. Snapshots
// are owned exclusively by the coordinator and never exposed to callers.
type snapshot struct {
	digest     string
	payload    map[string]any
	observedAt time.Time
}

type snapKey struct {
	key     string
	backend string
}

// snapshotTable is the coordinator's only mutable shared state.
type snapshotTable struct {
	mu    sync.RWMutex
	snaps map[snapKey]snapshot
}

func newSnapshotTable() *snapshotTable {
	return &snapshotTable{snaps: make(map[snapKey]snapshot)}
}

func (t *snapshotTable) get(key, backend string) (snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.snaps[snapKey{key, backend}]
	return s, ok
}

func (t *snapshotTable) set(key, backend, digest string, payload map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snaps[snapKey{key, backend}] = snapshot{
		digest:     digest,
		payload:    payload,
		observedAt: time.Now(),
	}
}

func (t *snapshotTable) drop(key, backend string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.snaps, snapKey{key, backend})
}

// keyLocks serializes writes per key within this process, so two writes to
// the same key never race their CAS checks against the same base digest.
// Lock striping keeps operations on unrelated keys from contending.
type keyLocks struct {
	stripes [64]sync.Mutex
}

func (l *keyLocks) lock(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	m := &l.stripes[h.Sum32()%uint32(len(l.stripes))]
	m.Lock()
	return m
}
