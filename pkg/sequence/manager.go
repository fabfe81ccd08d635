package sequence

import (
	"sort"
	"sync"

	"github.com/judajake/meshdb/internal/merr"
	"github.com/judajake/meshdb/internal/shardlock"
	"github.com/judajake/meshdb/pkg/handle"
	"github.com/judajake/meshdb/pkg/meshtype"
)

// TypeSequenceManager owns every EntitySequence for one entity type,
// kept as an ordered, non-overlapping list sorted by Start handle. It
// provides allocation of new handle ranges, O(log n) lookup by handle,
// and a range-intersection iterator (Iterate).
//
// Locking is sharded (internal/shardlock): concurrent lookups hit a
// shard keyed by handle, while allocate/split/merge take the manager's
// structural lock to keep the ordered slice consistent.
type TypeSequenceManager struct {
	entityType meshtype.Type
	codec      *handle.Codec

	mu        sync.RWMutex // protects sequences slice ordering
	sequences []*EntitySequence

	locks *shardlock.Manager

	nextID uint64 // next unallocated id for this type
}

// NewTypeSequenceManager creates an empty manager for entityType, using
// codec for handle packing and lockShards sharded locks keyed by handle
// (config.SequenceLockShards).
func NewTypeSequenceManager(entityType meshtype.Type, codec *handle.Codec, lockShards int) *TypeSequenceManager {
	return &TypeSequenceManager{
		entityType: entityType,
		codec:      codec,
		locks:      shardlock.NewNamed("seq-"+entityType.String(), lockShards),
		nextID:     handle.StartID,
	}
}

// Allocate reserves count contiguous new handles of this manager's type,
// creates a backing SequenceData (or vertex/variable-index data) sized
// for them, wraps it in a new EntitySequence, and returns it.
// nodesPerElement is 0 for vertices, entity sets, and variable-arity
// types.
func (m *TypeSequenceManager) Allocate(count int, nodesPerElement int) (*EntitySequence, error) {
	return m.AllocateHinted(count, nodesPerElement, 0)
}

// AllocateHinted is Allocate with a preferred start id: the block starts
// at startIDHint if that id (and the count-1 after it) is still
// unallocated, and at the next free id otherwise. Freed ids are never
// reused within a session, so "next free" only ever moves forward.
func (m *TypeSequenceManager) AllocateHinted(count int, nodesPerElement int, startIDHint uint64) (*EntitySequence, error) {
	m.locks.AcquireStructural()
	defer m.locks.ReleaseStructural()

	startID := m.nextID
	if startIDHint > startID {
		startID = startIDHint
	}
	endID := startID + uint64(count) - 1
	if endID > m.codec.MaxID() {
		return nil, merr.New(merr.MemoryAllocationFailed, "entity type id space exhausted")
	}

	start, err := m.codec.Make(m.entityType, startID)
	if err != nil {
		return nil, err
	}
	end, err := m.codec.Make(m.entityType, endID)
	if err != nil {
		return nil, err
	}

	var data *SequenceData
	switch {
	case m.entityType == meshtype.Vertex:
		data, err = NewVertexData(start, end)
	case m.entityType.VariableArity():
		data, err = NewVariableData(start, end)
	default:
		data, err = New(start, end, nodesPerElement)
	}
	if err != nil {
		return nil, err
	}

	seq, err := NewEntitySequence(m.entityType, data, start, end)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.insertLocked(seq)
	m.mu.Unlock()

	m.nextID = endID + 1
	return seq, nil
}

func (m *TypeSequenceManager) insertLocked(seq *EntitySequence) {
	i := sort.Search(len(m.sequences), func(i int) bool {
		return m.sequences[i].Start > seq.Start
	})
	m.sequences = append(m.sequences, nil)
	copy(m.sequences[i+1:], m.sequences[i:])
	m.sequences[i] = seq
}

// Find returns the EntitySequence containing h, or ErrEntityNotFound.
func (m *TypeSequenceManager) Find(h handle.Handle) (*EntitySequence, error) {
	m.locks.Acquire(uint64(h), shardlock.ReadLock)
	defer m.locks.Release(uint64(h), shardlock.ReadLock)

	m.mu.RLock()
	defer m.mu.RUnlock()

	i := sort.Search(len(m.sequences), func(i int) bool {
		return m.sequences[i].End >= h
	})
	if i < len(m.sequences) && m.sequences[i].Contains(h) {
		return m.sequences[i], nil
	}
	return nil, merr.ErrEntityNotFound
}

// Contains reports whether h is allocated in this manager.
func (m *TypeSequenceManager) Contains(h handle.Handle) bool {
	_, err := m.Find(h)
	return err == nil
}

// Free removes h's owning EntitySequence's reference to h by splitting
// it out, shrinking or splitting the sequence as needed. It does not
// reclaim the SequenceData storage and does not touch h's adjacency or
// tag state.
func (m *TypeSequenceManager) Free(h handle.Handle) error {
	m.locks.AcquireStructural()
	defer m.locks.ReleaseStructural()

	m.mu.Lock()
	defer m.mu.Unlock()

	for idx, seq := range m.sequences {
		if !seq.Contains(h) {
			continue
		}
		switch {
		case seq.Start == seq.End:
			m.sequences = append(m.sequences[:idx], m.sequences[idx+1:]...)
		case h == seq.Start:
			seq.Start++
		case h == seq.End:
			seq.End--
		default:
			tail, err := seq.Split(h)
			if err != nil {
				return err
			}
			tail.Start++
			m.sequences = append(m.sequences, nil)
			copy(m.sequences[idx+2:], m.sequences[idx+1:])
			m.sequences[idx+1] = tail
		}
		return nil
	}
	return merr.ErrEntityNotFound
}

// FreeRange frees every allocated handle in [start,end], skipping holes.
func (m *TypeSequenceManager) FreeRange(start, end handle.Handle) error {
	for h := start; h <= end; h++ {
		if err := m.Free(h); err != nil && !merrIsNotFound(err) {
			return err
		}
	}
	return nil
}

func merrIsNotFound(err error) bool {
	return merr.CodeOf(err) == merr.EntityNotFound
}

// MergeAdjacent combines every pair of neighboring sequences that share
// the same backing SequenceData and element shape into one, undoing
// fragmentation left behind by Split. Pieces separated by a freed handle
// are not contiguous and stay separate.
func (m *TypeSequenceManager) MergeAdjacent() {
	m.locks.AcquireStructural()
	defer m.locks.ReleaseStructural()

	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.sequences[:0]
	for _, seq := range m.sequences {
		if n := len(out); n > 0 {
			prev := out[n-1]
			if prev.Data == seq.Data && prev.End+1 == seq.Start && prev.NodesPerElement == seq.NodesPerElement {
				prev.End = seq.End
				continue
			}
		}
		out = append(out, seq)
	}
	m.sequences = out
}

// Range is one contiguous run of handles returned by the
// range-intersection iterator, naming the sequence it came from so
// callers can reach into Connectivity/Coordinates/tag storage directly.
type Range struct {
	Seq   *EntitySequence
	Start handle.Handle
	End   handle.Handle
}

// Iterate walks every sequence intersecting [start,end] in ascending
// handle order, yielding one Range per sequence's overlap: a restartable
// finite sequence of contiguous runs.
func (m *TypeSequenceManager) Iterate(start, end handle.Handle, fn func(Range) error) error {
	m.mu.RLock()
	sequences := append([]*EntitySequence(nil), m.sequences...)
	m.mu.RUnlock()

	i := sort.Search(len(sequences), func(i int) bool {
		return sequences[i].End >= start
	})
	for ; i < len(sequences); i++ {
		seq := sequences[i]
		if seq.Start > end {
			break
		}
		rStart := seq.Start
		if start > rStart {
			rStart = start
		}
		rEnd := seq.End
		if end < rEnd {
			rEnd = end
		}
		if err := fn(Range{Seq: seq, Start: rStart, End: rEnd}); err != nil {
			return err
		}
	}
	return nil
}

// All returns every sequence currently registered, in ascending handle
// order. Used by diagnostics and by whole-type tag operations.
func (m *TypeSequenceManager) All() []*EntitySequence {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*EntitySequence(nil), m.sequences...)
}

// Count returns the total number of allocated entities of this type.
func (m *TypeSequenceManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, seq := range m.sequences {
		total += seq.Size()
	}
	return total
}

// LockStats exposes the sharded lock manager's contention counters for
// the diagnostics endpoint.
func (m *TypeSequenceManager) LockStats() shardlock.Stats {
	return m.locks.Stats()
}
