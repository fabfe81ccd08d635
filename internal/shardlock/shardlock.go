// Package shardlock provides sharded reader/writer locks keyed on a handle,
// reducing contention compared to a single global mutex.
//
// Each of L1's TypeSequenceManagers (one per entity type, since sequences
// never span types) owns a Manager whose shards are keyed by handle; L3's
// sparse tag map shards by handle the same way, since a single mutex
// around the whole sparse map would serialize unrelated entities' tag
// writes.
package shardlock

import (
	"sync"
	"time"

	"github.com/judajake/meshdb/logger"
)

// LockType selects a read or write acquisition.
type LockType int

const (
	ReadLock LockType = iota
	WriteLock
)

func (t LockType) String() string {
	if t == ReadLock {
		return "read"
	}
	return "write"
}

// Stats tracks aggregate lock wait behavior, surfaced through diagnostics.
// It is a plain value type; callers get a consistent snapshot via
// Manager.Stats rather than by locking a Stats value directly.
type Stats struct {
	ReadLocks  int64
	WriteLocks int64
	WaitTime   time.Duration
}

type statsTracker struct {
	mu    sync.Mutex
	stats Stats
}

func (s *statsTracker) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *statsTracker) record(lockType LockType, wait time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lockType == ReadLock {
		s.stats.ReadLocks++
	} else {
		s.stats.WriteLocks++
	}
	s.stats.WaitTime += wait
}

// Manager is a fixed-width array of sharded RWMutexes addressed by a
// handle's low bits, plus one global structural lock for operations (split,
// merge, allocate) that must serialize against every shard.
type Manager struct {
	name       string
	shards     []sync.RWMutex
	structural sync.Mutex
	stats      statsTracker
}

// NewNamed creates a Manager with the given number of shards; name
// identifies this lock set in trace output (e.g. the entity type whose
// sequences it guards). shardCount should be a power of two; it is
// rounded up to one if zero.
func NewNamed(name string, shardCount int) *Manager {
	if shardCount <= 0 {
		shardCount = 1
	}
	return &Manager{name: name, shards: make([]sync.RWMutex, shardCount)}
}

func (m *Manager) shardFor(handle uint64) *sync.RWMutex {
	return &m.shards[handle%uint64(len(m.shards))]
}

// Acquire locks the shard owning handle.
func (m *Manager) Acquire(handle uint64, lockType LockType) {
	start := time.Now()
	lock := m.shardFor(handle)
	if lockType == ReadLock {
		lock.RLock()
	} else {
		lock.Lock()
	}
	m.stats.record(lockType, time.Since(start))
}

// Release unlocks the shard owning handle.
func (m *Manager) Release(handle uint64, lockType LockType) {
	lock := m.shardFor(handle)
	if lockType == ReadLock {
		lock.RUnlock()
	} else {
		lock.Unlock()
	}
}

// AcquireMany locks the shards for a batch of handles in ascending shard
// order, so two callers contending for overlapping handle sets can never
// deadlock against each other.
func (m *Manager) AcquireMany(handles []uint64, lockType LockType) {
	logger.LogLockOperation("", lockType.String(), m.name, "acquire_many")
	seen := make(map[int]bool, len(handles))
	shards := make([]int, 0, len(handles))
	for _, h := range handles {
		idx := int(h % uint64(len(m.shards)))
		if !seen[idx] {
			seen[idx] = true
			shards = append(shards, idx)
		}
	}
	for i := 0; i < len(shards); i++ {
		for j := i + 1; j < len(shards); j++ {
			if shards[i] > shards[j] {
				shards[i], shards[j] = shards[j], shards[i]
			}
		}
	}
	for _, idx := range shards {
		if lockType == ReadLock {
			m.shards[idx].RLock()
		} else {
			m.shards[idx].Lock()
		}
	}
}

// ReleaseMany releases the shards locked by a prior AcquireMany call with
// the same handle set.
func (m *Manager) ReleaseMany(handles []uint64, lockType LockType) {
	logger.LogLockOperation("", lockType.String(), m.name, "release_many")
	seen := make(map[int]bool, len(handles))
	for _, h := range handles {
		idx := int(h % uint64(len(m.shards)))
		if seen[idx] {
			continue
		}
		seen[idx] = true
		if lockType == ReadLock {
			m.shards[idx].RUnlock()
		} else {
			m.shards[idx].Unlock()
		}
	}
}

// AcquireStructural serializes allocate/split/merge operations, which must
// not interleave with each other even though they may touch disjoint
// shards, because they mutate the manager's sequence index.
func (m *Manager) AcquireStructural() {
	logger.LogLockOperation("", "write", m.name, "acquire_structural")
	m.structural.Lock()
}

// ReleaseStructural releases the structural lock.
func (m *Manager) ReleaseStructural() {
	m.structural.Unlock()
	logger.LogLockOperation("", "write", m.name, "release_structural")
}

// Stats returns a snapshot of lock wait statistics.
func (m *Manager) Stats() Stats { return m.stats.snapshot() }
