// Package meshset implements the L4 meshset service: named, orderable
// collections of entities supporting both duplicate-preserving ordered
// storage and merged-range compressed storage, with parent/child set
// relationships.
//
// The two storage shapes are represented as a sum type selected by the
// Storage field rather than two structs behind an interface; nothing
// else about a set varies by shape, so dynamic dispatch would buy only
// indirection.
package meshset

import (
	"sort"

	"github.com/judajake/meshdb/internal/merr"
	"github.com/judajake/meshdb/pkg/handle"
	"github.com/judajake/meshdb/pkg/meshtype"
)

// Storage selects a MeshSet's internal entity-list representation.
type Storage int

const (
	// Ordered preserves insertion order and duplicate entries, at the
	// cost of O(n) membership tests.
	Ordered Storage = iota
	// Compressed stores entities as a sorted list of merged [begin,end]
	// ranges, rejecting duplicates and supporting fast set algebra, at
	// the cost of losing insertion order.
	Compressed
)

// span is one inclusive [Begin,End] run in a Compressed set.
type span struct {
	Begin, End handle.Handle
}

// Set is one meshset: its member entities (in one of two shapes per
// Storage), its parent/child relationships to other sets, and whether it
// tracks back-references (TrackOwners) from its members to itself.
type Set struct {
	Handle      handle.Handle
	Storage     Storage
	TrackOwners bool

	ordered    []handle.Handle
	compressed []span

	parents  []handle.Handle
	children []handle.Handle
}

// New creates an empty Set with the given storage shape and owner
// tracking flag. h is the handle already allocated for this set by the
// storage engine (meshsets are themselves entities of type
// meshtype.EntitySet).
func New(h handle.Handle, storage Storage, trackOwners bool) *Set {
	return &Set{Handle: h, Storage: storage, TrackOwners: trackOwners}
}

// Add inserts entities into the set. Ordered sets append in order,
// duplicates included; Compressed sets merge entities into the sorted
// range list.
func (s *Set) Add(entities ...handle.Handle) {
	switch s.Storage {
	case Ordered:
		s.ordered = append(s.ordered, entities...)
	case Compressed:
		for _, e := range entities {
			s.insertCompressed(e)
		}
	}
}

func (s *Set) insertCompressed(h handle.Handle) {
	i := sort.Search(len(s.compressed), func(i int) bool {
		return s.compressed[i].End >= h
	})
	if i < len(s.compressed) && s.compressed[i].Begin <= h && h <= s.compressed[i].End {
		return // already present
	}
	merged := span{Begin: h, End: h}
	lo, hi := i, i
	if lo > 0 && s.compressed[lo-1].End+1 == h {
		merged.Begin = s.compressed[lo-1].Begin
		lo--
	}
	if hi < len(s.compressed) && s.compressed[hi].Begin == h+1 {
		merged.End = s.compressed[hi].End
		hi++
	} else if hi < len(s.compressed) && s.compressed[hi].Begin <= h {
		hi++
	}
	tail := append([]span(nil), s.compressed[hi:]...)
	s.compressed = append(s.compressed[:lo], merged)
	s.compressed = append(s.compressed, tail...)
}

// Remove deletes entities from the set. Ordered sets drop every matching
// entry; Compressed sets split or shrink ranges as needed.
func (s *Set) Remove(entities ...handle.Handle) {
	switch s.Storage {
	case Ordered:
		for _, e := range entities {
			s.removeOrdered(e)
		}
	case Compressed:
		for _, e := range entities {
			s.removeCompressed(e)
		}
	}
}

func (s *Set) removeOrdered(h handle.Handle) {
	out := s.ordered[:0]
	for _, e := range s.ordered {
		if e != h {
			out = append(out, e)
		}
	}
	s.ordered = out
}

func (s *Set) removeCompressed(h handle.Handle) {
	for i, sp := range s.compressed {
		if h < sp.Begin || h > sp.End {
			continue
		}
		var repl []span
		if sp.Begin < h {
			repl = append(repl, span{Begin: sp.Begin, End: h - 1})
		}
		if h < sp.End {
			repl = append(repl, span{Begin: h + 1, End: sp.End})
		}
		s.compressed = append(s.compressed[:i], append(repl, s.compressed[i+1:]...)...)
		return
	}
}

// Contains reports whether h is a member of the set.
func (s *Set) Contains(h handle.Handle) bool {
	switch s.Storage {
	case Ordered:
		for _, e := range s.ordered {
			if e == h {
				return true
			}
		}
		return false
	case Compressed:
		i := sort.Search(len(s.compressed), func(i int) bool { return s.compressed[i].End >= h })
		return i < len(s.compressed) && s.compressed[i].Begin <= h
	}
	return false
}

// ContainsMode selects the semantics of a multi-handle membership test.
type ContainsMode int

const (
	// Union: true if any queried handle is a member.
	Union ContainsMode = iota
	// Intersect: true iff every queried handle is a member.
	Intersect
)

// ContainsEntities tests multiple handles for membership at once: Union
// returns true if any handle is present, Intersect only if all are.
func (s *Set) ContainsEntities(handles []handle.Handle, mode ContainsMode) bool {
	for _, h := range handles {
		in := s.Contains(h)
		if mode == Union && in {
			return true
		}
		if mode == Intersect && !in {
			return false
		}
	}
	return mode == Intersect
}

// Size returns the number of member entities, counting duplicates in an
// Ordered set.
func (s *Set) Size() int {
	switch s.Storage {
	case Ordered:
		return len(s.ordered)
	case Compressed:
		n := 0
		for _, sp := range s.compressed {
			n += int(sp.End-sp.Begin) + 1
		}
		return n
	}
	return 0
}

// Entities returns the flat membership list. Ordered sets return their
// insertion order with duplicates; Compressed sets return entities in
// ascending handle order.
func (s *Set) Entities() []handle.Handle {
	switch s.Storage {
	case Ordered:
		return append([]handle.Handle(nil), s.ordered...)
	case Compressed:
		out := make([]handle.Handle, 0, s.Size())
		for _, sp := range s.compressed {
			for h := sp.Begin; h <= sp.End; h++ {
				out = append(out, h)
			}
		}
		return out
	}
	return nil
}

// EntitiesByType returns members whose handle decodes to t, using typeOf
// (the handle codec's decoder, passed in so this package stays free of a
// codec dependency).
func (s *Set) EntitiesByType(t meshtype.Type, typeOf func(handle.Handle) meshtype.Type) []handle.Handle {
	var out []handle.Handle
	for _, e := range s.Entities() {
		if typeOf(e) == t {
			out = append(out, e)
		}
	}
	return out
}

// EntitiesByDimension returns members whose type has the given
// topological dimension.
func (s *Set) EntitiesByDimension(dim int, typeOf func(handle.Handle) meshtype.Type) []handle.Handle {
	var out []handle.Handle
	for _, e := range s.Entities() {
		if typeOf(e).Dimension() == dim {
			out = append(out, e)
		}
	}
	return out
}

// NumEntitiesByType counts members of type t without materializing the
// full membership list for a Compressed set.
func (s *Set) NumEntitiesByType(t meshtype.Type, typeOf func(handle.Handle) meshtype.Type) int {
	switch s.Storage {
	case Ordered:
		n := 0
		for _, e := range s.ordered {
			if typeOf(e) == t {
				n++
			}
		}
		return n
	case Compressed:
		n := 0
		for _, sp := range s.compressed {
			// A span never crosses a type boundary in practice (handles of
			// one type are numerically contiguous), so checking one end
			// suffices unless the span straddles types; split the count
			// conservatively by walking ends only when they disagree.
			if typeOf(sp.Begin) == t && typeOf(sp.End) == t {
				n += int(sp.End-sp.Begin) + 1
			} else {
				for h := sp.Begin; h <= sp.End; h++ {
					if typeOf(h) == t {
						n++
					}
				}
			}
		}
		return n
	}
	return 0
}

// NumEntitiesByDimension counts members whose type has the given
// dimension.
func (s *Set) NumEntitiesByDimension(dim int, typeOf func(handle.Handle) meshtype.Type) int {
	n := 0
	for _, e := range s.Entities() {
		if typeOf(e).Dimension() == dim {
			n++
		}
	}
	return n
}

// AddParent/AddChild/Parents/Children maintain the set DAG. A set may
// have multiple parents and multiple children; cycle prevention is the
// caller's (Interface facade's) responsibility since detecting a cycle
// requires walking the whole DAG, not just this set's edges.

// AddParent records parent as a parent of s.
func (s *Set) AddParent(parent handle.Handle) {
	s.parents = appendUniqueHandle(s.parents, parent)
}

// AddChild records child as a child of s.
func (s *Set) AddChild(child handle.Handle) {
	s.children = appendUniqueHandle(s.children, child)
}

// RemoveParent/RemoveChild drop a single DAG edge.
func (s *Set) RemoveParent(parent handle.Handle) { s.parents = removeHandle(s.parents, parent) }
func (s *Set) RemoveChild(child handle.Handle)   { s.children = removeHandle(s.children, child) }

// Parents returns this set's direct parents.
func (s *Set) Parents() []handle.Handle { return append([]handle.Handle(nil), s.parents...) }

// Children returns this set's direct children.
func (s *Set) Children() []handle.Handle { return append([]handle.Handle(nil), s.children...) }

// ParentsAtDepth returns the transitive closure of s's parents out to
// depth hops (depth <= 0 means unbounded), with cycle protection.
func (s *Set) ParentsAtDepth(resolve func(handle.Handle) (*Set, error), depth int) ([]handle.Handle, error) {
	return s.relativesAtDepth(resolve, depth, func(set *Set) []handle.Handle { return set.parents })
}

// ChildrenAtDepth returns the transitive closure of s's children out to
// depth hops (depth <= 0 means unbounded), with cycle protection.
func (s *Set) ChildrenAtDepth(resolve func(handle.Handle) (*Set, error), depth int) ([]handle.Handle, error) {
	return s.relativesAtDepth(resolve, depth, func(set *Set) []handle.Handle { return set.children })
}

func (s *Set) relativesAtDepth(resolve func(handle.Handle) (*Set, error), depth int, edges func(*Set) []handle.Handle) ([]handle.Handle, error) {
	visited := map[handle.Handle]bool{s.Handle: true}
	var out []handle.Handle
	frontier := []*Set{s}
	for level := 0; len(frontier) > 0 && (depth <= 0 || level < depth); level++ {
		var next []*Set
		for _, cur := range frontier {
			for _, rel := range edges(cur) {
				if visited[rel] {
					continue
				}
				visited[rel] = true
				out = append(out, rel)
				relSet, err := resolve(rel)
				if err != nil {
					return nil, err
				}
				next = append(next, relSet)
			}
		}
		frontier = next
	}
	return out, nil
}

// GetEntitiesRecursive returns every entity in s and, if recursive is
// true, every entity in its descendant sets, with cycle protection via a
// visited-set bitset (a map here, since set handles are sparse).
func (s *Set) GetEntitiesRecursive(resolve func(handle.Handle) (*Set, error), recursive bool) ([]handle.Handle, error) {
	if !recursive {
		return s.Entities(), nil
	}
	visited := make(map[handle.Handle]bool)
	var out []handle.Handle
	var walk func(cur *Set) error
	walk = func(cur *Set) error {
		if visited[cur.Handle] {
			return nil
		}
		visited[cur.Handle] = true
		out = append(out, cur.Entities()...)
		for _, childHandle := range cur.children {
			child, err := resolve(childHandle)
			if err != nil {
				return err
			}
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(s); err != nil {
		return nil, err
	}
	return out, nil
}

// Unite returns a new set, shaped like a (boolean ops produce their
// result in the first operand's shape), containing every entity in a or
// b once.
func Unite(a, b *Set, resultHandle handle.Handle) *Set {
	out := New(resultHandle, a.Storage, false)
	seen := make(map[handle.Handle]bool)
	for _, src := range [][]handle.Handle{a.Entities(), b.Entities()} {
		for _, e := range src {
			if !seen[e] {
				seen[e] = true
				out.Add(e)
			}
		}
	}
	return out
}

// IntersectSets returns a new set, shaped like a, containing only entities
// present in both a and b.
func IntersectSets(a, b *Set, resultHandle handle.Handle) *Set {
	out := New(resultHandle, a.Storage, false)
	bSet := make(map[handle.Handle]bool)
	for _, e := range b.Entities() {
		bSet[e] = true
	}
	for _, e := range a.Entities() {
		if bSet[e] {
			out.Add(e)
		}
	}
	return out
}

// Subtract returns a new set, shaped like a, containing entities in a
// that are not in b.
func Subtract(a, b *Set, resultHandle handle.Handle) *Set {
	out := New(resultHandle, a.Storage, false)
	bSet := make(map[handle.Handle]bool)
	for _, e := range b.Entities() {
		bSet[e] = true
	}
	for _, e := range a.Entities() {
		if !bSet[e] {
			out.Add(e)
		}
	}
	return out
}

func appendUniqueHandle(list []handle.Handle, h handle.Handle) []handle.Handle {
	for _, e := range list {
		if e == h {
			return list
		}
	}
	return append(list, h)
}

func removeHandle(list []handle.Handle, h handle.Handle) []handle.Handle {
	for i, e := range list {
		if e == h {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// ErrCycle is returned by the Interface facade (not this package) when
// adding a parent/child edge would create a cycle in the set DAG.
var ErrCycle = merr.New(merr.UnsupportedOperation, "meshset parent/child relationship would form a cycle")
