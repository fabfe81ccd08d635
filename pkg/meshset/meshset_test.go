package meshset

import (
	"reflect"
	"sort"
	"testing"

	"github.com/judajake/meshdb/pkg/handle"
	"github.com/judajake/meshdb/pkg/meshtype"
)

func sortedHandles(hs []handle.Handle) []handle.Handle {
	out := append([]handle.Handle(nil), hs...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Ordered and compressed storage agree on membership for the
// same input entities, and a compressed set's ranges are strictly
// increasing, non-overlapping, and non-adjacent (fully merged).
func TestOrderedCompressedContainsEquivalence(t *testing.T) {
	entities := []handle.Handle{5, 6, 7, 10, 11, 20}

	ordered := New(1, Ordered, false)
	ordered.Add(entities...)
	compressed := New(2, Compressed, false)
	compressed.Add(entities...)

	for _, h := range []handle.Handle{4, 5, 7, 8, 10, 11, 19, 20, 21} {
		if ordered.Contains(h) != compressed.Contains(h) {
			t.Errorf("Contains(%d): ordered=%v compressed=%v disagree", h, ordered.Contains(h), compressed.Contains(h))
		}
	}

	if !reflect.DeepEqual(sortedHandles(ordered.Entities()), sortedHandles(compressed.Entities())) {
		t.Errorf("ordered and compressed entity sets differ: %v vs %v", ordered.Entities(), compressed.Entities())
	}

	ranges := compressed.compressed
	for i := 1; i < len(ranges); i++ {
		if ranges[i].Begin <= ranges[i-1].End+1 {
			t.Errorf("ranges %v and %v are not strictly separated", ranges[i-1], ranges[i])
		}
	}
	for _, r := range ranges {
		if r.Begin > r.End {
			t.Errorf("invalid range %v", r)
		}
	}
}

func TestCompressedMergesAdjacentRanges(t *testing.T) {
	s := New(1, Compressed, false)
	s.Add(1, 2, 3, 4, 5)
	if len(s.compressed) != 1 {
		t.Fatalf("expected a single merged range, got %v", s.compressed)
	}
	if s.compressed[0] != (span{Begin: 1, End: 5}) {
		t.Errorf("got range %v, want [1,5]", s.compressed[0])
	}
}

// subtract(A,B) ∪ intersect(A,B) == A, and
// unite(A,B) == (A∖B) ∪ B.
func TestSetAlgebraIdentities(t *testing.T) {
	a := New(1, Ordered, false)
	a.Add(1, 2, 3, 4, 5)
	b := New(2, Ordered, false)
	b.Add(3, 4, 5, 6, 7)

	sub := Subtract(a, b, 10)
	inter := IntersectSets(a, b, 11)
	recombined := append(append([]handle.Handle(nil), sub.Entities()...), inter.Entities()...)
	if !reflect.DeepEqual(sortedHandles(recombined), sortedHandles(a.Entities())) {
		t.Errorf("subtract ∪ intersect = %v, want %v", sortedHandles(recombined), sortedHandles(a.Entities()))
	}

	united := Unite(a, b, 12)
	aMinusB := append(append([]handle.Handle(nil), sub.Entities()...), b.Entities()...)
	if !reflect.DeepEqual(sortedHandles(united.Entities()), sortedHandles(dedupeHandles(aMinusB))) {
		t.Errorf("unite(A,B) = %v, want (A∖B)∪B = %v", sortedHandles(united.Entities()), sortedHandles(dedupeHandles(aMinusB)))
	}
}

func dedupeHandles(hs []handle.Handle) []handle.Handle {
	seen := make(map[handle.Handle]bool)
	var out []handle.Handle
	for _, h := range hs {
		if !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}
	return out
}

func TestGetEntitiesRecursiveCycleProtection(t *testing.T) {
	setA := New(1, Ordered, false)
	setA.Add(100)
	setB := New(2, Ordered, false)
	setB.Add(200)

	setA.AddChild(2)
	setB.AddChild(1) // cycle: A -> B -> A

	byHandle := map[handle.Handle]*Set{1: setA, 2: setB}
	resolve := func(h handle.Handle) (*Set, error) { return byHandle[h], nil }

	out, err := setA.GetEntitiesRecursive(resolve, true)
	if err != nil {
		t.Fatal(err)
	}
	got := sortedHandles(out)
	want := sortedHandles([]handle.Handle{100, 200})
	if !reflect.DeepEqual(got, want) {
		t.Errorf("recursive entities = %v, want %v (cycle should not duplicate or infinite-loop)", got, want)
	}
}

func TestRemoveCompressedSplitsRange(t *testing.T) {
	s := New(1, Compressed, false)
	s.Add(1, 2, 3, 4, 5)
	s.Remove(3)
	if s.Contains(3) {
		t.Error("3 should have been removed")
	}
	if !s.Contains(1) || !s.Contains(5) {
		t.Error("removing the middle of a range should preserve both ends")
	}
	if s.Size() != 4 {
		t.Errorf("Size() = %d, want 4", s.Size())
	}
}

func TestContainsEntitiesUnionIntersect(t *testing.T) {
	for _, storage := range []Storage{Ordered, Compressed} {
		s := New(1, storage, false)
		s.Add(11, 12, 13, 14, 15)

		if !s.ContainsEntities([]handle.Handle{15, 35, 55}, Union) {
			t.Errorf("%v: union with one member present should be true", storage)
		}
		if s.ContainsEntities([]handle.Handle{35, 55}, Union) {
			t.Errorf("%v: union with no members present should be false", storage)
		}
		if !s.ContainsEntities([]handle.Handle{11, 13, 15}, Intersect) {
			t.Errorf("%v: intersect with all members present should be true", storage)
		}
		if s.ContainsEntities([]handle.Handle{11, 99}, Intersect) {
			t.Errorf("%v: intersect with a missing member should be false", storage)
		}
		if !s.ContainsEntities(nil, Intersect) {
			t.Errorf("%v: empty intersect query is vacuously true", storage)
		}
	}
}

func TestParentsChildrenAtDepth(t *testing.T) {
	// grandparent -> parent -> child chain.
	sets := map[handle.Handle]*Set{
		1: New(1, Ordered, false),
		2: New(2, Ordered, false),
		3: New(3, Ordered, false),
	}
	resolve := func(h handle.Handle) (*Set, error) { return sets[h], nil }
	sets[1].AddChild(2)
	sets[2].AddParent(1)
	sets[2].AddChild(3)
	sets[3].AddParent(2)

	direct, err := sets[3].ParentsAtDepth(resolve, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(direct) != 1 || direct[0] != 2 {
		t.Errorf("depth-1 parents = %v, want [2]", direct)
	}
	all, err := sets[3].ParentsAtDepth(resolve, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("unbounded parents = %v, want [2 1]", all)
	}
	kids, err := sets[1].ChildrenAtDepth(resolve, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(kids) != 2 {
		t.Errorf("depth-2 children = %v, want [2 3]", kids)
	}

	// Closing a cycle must not loop the traversal.
	sets[3].AddChild(1)
	sets[1].AddParent(3)
	cyc, err := sets[3].ParentsAtDepth(resolve, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(cyc) != 2 {
		t.Errorf("cyclic parents closure = %v, want two distinct sets", cyc)
	}
}

func TestEntitiesByTypeAndDimension(t *testing.T) {
	// Map low handles to vertices, high handles to triangles, the way a
	// codec's type field partitions the handle space.
	typeOf := func(h handle.Handle) meshtype.Type {
		if h < 100 {
			return meshtype.Vertex
		}
		return meshtype.Triangle
	}
	s := New(1, Compressed, false)
	s.Add(10, 11, 12, 100, 101)

	verts := s.EntitiesByType(meshtype.Vertex, typeOf)
	if len(verts) != 3 {
		t.Errorf("EntitiesByType(Vertex) = %v, want the 3 low handles", verts)
	}
	if n := s.NumEntitiesByType(meshtype.Triangle, typeOf); n != 2 {
		t.Errorf("NumEntitiesByType(Triangle) = %d, want 2", n)
	}
	if n := s.NumEntitiesByDimension(0, typeOf); n != 3 {
		t.Errorf("NumEntitiesByDimension(0) = %d, want 3", n)
	}
	faces := s.EntitiesByDimension(2, typeOf)
	if len(faces) != 2 {
		t.Errorf("EntitiesByDimension(2) = %v, want the 2 triangles", faces)
	}
}
