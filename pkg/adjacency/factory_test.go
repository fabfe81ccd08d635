package adjacency

import (
	"testing"

	"github.com/judajake/meshdb/pkg/handle"
	"github.com/judajake/meshdb/pkg/meshtype"
)

// fakeSource is a minimal ConnectivitySource for testing adjacency
// derivation without pulling in the full sequence/meshdb stack.
type fakeSource struct {
	types        map[handle.Handle]meshtype.Type
	connectivity map[handle.Handle][]handle.Handle
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		types:        make(map[handle.Handle]meshtype.Type),
		connectivity: make(map[handle.Handle][]handle.Handle),
	}
}

func (f *fakeSource) addVertex(h handle.Handle) {
	f.types[h] = meshtype.Vertex
}

func (f *fakeSource) addElement(h handle.Handle, t meshtype.Type, conn []handle.Handle) {
	f.types[h] = t
	f.connectivity[h] = conn
}

func (f *fakeSource) Connectivity(h handle.Handle) ([]handle.Handle, error) {
	return f.connectivity[h], nil
}

func (f *fakeSource) TypeOf(h handle.Handle) meshtype.Type {
	return f.types[h]
}

func (f *fakeSource) Exists(h handle.Handle) bool {
	_, ok := f.types[h]
	return ok
}

// Three vertices, one triangle, then a second triangle sharing an edge:
// the smallest mesh where down- and up-adjacency are both observable.
func TestTriangleAdjacencyScenario(t *testing.T) {
	src := newFakeSource()
	v0, v1, v2, v3 := handle.Handle(1), handle.Handle(2), handle.Handle(3), handle.Handle(4)
	src.addVertex(v0)
	src.addVertex(v1)
	src.addVertex(v2)
	src.addVertex(v3)

	tri1 := handle.Handle(100)
	src.addElement(tri1, meshtype.Triangle, []handle.Handle{v0, v1, v2})

	f := New(src)
	f.CreateVertElemAdjacencies()
	if err := f.NotifyCreateEntity(tri1, []handle.Handle{v0, v1, v2}); err != nil {
		t.Fatal(err)
	}

	// Downward to vertices: the three vertices come back in
	// the order supplied.
	downAdj, err := f.GetAdjacencies(tri1, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	want := []handle.Handle{v0, v1, v2}
	if len(downAdj) != len(want) {
		t.Fatalf("got %v, want %v", downAdj, want)
	}
	for i := range want {
		if downAdj[i] != want[i] {
			t.Errorf("downAdj[%d] = %d, want %d", i, downAdj[i], want[i])
		}
	}

	// Upward from a corner vertex finds the triangle.
	upAdj, err := f.GetAdjacencies(v0, 2, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(upAdj) != 1 || upAdj[0] != tri1 {
		t.Errorf("upAdj = %v, want [%d]", upAdj, tri1)
	}

	// A second triangle shares the edge v1-v2; querying v1 upward
	// returns both triangles.
	tri2 := handle.Handle(101)
	src.addElement(tri2, meshtype.Triangle, []handle.Handle{v1, v2, v3})
	if err := f.NotifyCreateEntity(tri2, []handle.Handle{v1, v2, v3}); err != nil {
		t.Fatal(err)
	}
	both, err := f.GetAdjacencies(v1, 2, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(both) != 2 {
		t.Fatalf("expected both triangles adjacent to v1, got %v", both)
	}
}

// After NotifyCreateEntity, e is in every vertex's adjacency list;
// after NotifyDeleteEntity, the converse holds.
func TestNotifyCreateDeleteSymmetry(t *testing.T) {
	src := newFakeSource()
	v0, v1 := handle.Handle(1), handle.Handle(2)
	src.addVertex(v0)
	src.addVertex(v1)
	edge := handle.Handle(50)
	src.addElement(edge, meshtype.Edge, []handle.Handle{v0, v1})

	f := New(src)
	f.CreateVertElemAdjacencies()
	if err := f.NotifyCreateEntity(edge, []handle.Handle{v0, v1}); err != nil {
		t.Fatal(err)
	}

	for _, v := range []handle.Handle{v0, v1} {
		adj, err := f.GetAdjacencies(v, 1, false)
		if err != nil {
			t.Fatal(err)
		}
		found := false
		for _, e := range adj {
			if e == edge {
				found = true
			}
		}
		if !found {
			t.Errorf("edge not found in vertex %d's adjacency list after create", v)
		}
	}

	if err := f.NotifyDeleteEntity(edge); err != nil {
		t.Fatal(err)
	}
	for _, v := range []handle.Handle{v0, v1} {
		adj, err := f.GetAdjacencies(v, 1, false)
		if err != nil {
			t.Fatal(err)
		}
		for _, e := range adj {
			if e == edge {
				t.Errorf("edge still present in vertex %d's adjacency list after delete", v)
			}
		}
	}
}

func TestExplicitAdjacencyAddRemove(t *testing.T) {
	src := newFakeSource()
	a, b := handle.Handle(1), handle.Handle(2)
	src.addVertex(a)
	src.addVertex(b)
	f := New(src)

	if err := f.AddAdjacency(a, b, true); err != nil {
		t.Fatal(err)
	}
	if !f.ExplicitlyAdjacent(a, b) || !f.ExplicitlyAdjacent(b, a) {
		t.Error("expected both-ways adjacency to be recorded symmetrically")
	}
	if err := f.RemoveAdjacency(a, b); err != nil {
		t.Fatal(err)
	}
	if f.ExplicitlyAdjacent(a, b) {
		t.Error("adjacency still present after removal")
	}
	if !f.ExplicitlyAdjacent(b, a) {
		t.Error("reverse adjacency should not be affected by one-directional removal")
	}
}

type fakeCreator struct {
	src  *fakeSource
	f    *Factory
	next handle.Handle
}

func (c *fakeCreator) CreateSide(t meshtype.Type, conn []handle.Handle) (handle.Handle, error) {
	h := c.next
	c.next++
	c.src.addElement(h, t, append([]handle.Handle(nil), conn...))
	if err := c.f.NotifyCreateEntity(h, conn); err != nil {
		return 0, err
	}
	return h, nil
}

func TestDownAdjacencyCreatesMissingSides(t *testing.T) {
	src := newFakeSource()
	v := []handle.Handle{1, 2, 3}
	for _, h := range v {
		src.addVertex(h)
	}
	tri := handle.Handle(100)
	src.addElement(tri, meshtype.Triangle, v)

	f := New(src)
	f.CreateVertElemAdjacencies()
	creator := &fakeCreator{src: src, f: f, next: 200}
	f.SetCreator(creator)
	if err := f.NotifyCreateEntity(tri, v); err != nil {
		t.Fatal(err)
	}

	// No edges exist yet: a non-creating query yields nothing.
	edges, err := f.GetAdjacencies(tri, 1, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 0 {
		t.Fatalf("expected no edges before creation, got %v", edges)
	}

	edges, err = f.GetAdjacencies(tri, 1, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 3 {
		t.Fatalf("expected the triangle's 3 edges to be created, got %v", edges)
	}

	// A second query finds the same edges without creating duplicates.
	again, err := f.GetAdjacencies(tri, 1, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 3 {
		t.Fatalf("repeat query found %v, want the same 3 edges", again)
	}
	if creator.next != 203 {
		t.Errorf("creator allocated %d sides, want exactly 3", creator.next-200)
	}
}

func TestPolyhedronVertexUnion(t *testing.T) {
	src := newFakeSource()
	verts := []handle.Handle{1, 2, 3, 4}
	for _, h := range verts {
		src.addVertex(h)
	}
	f1, f2 := handle.Handle(20), handle.Handle(21)
	src.addElement(f1, meshtype.Triangle, []handle.Handle{1, 2, 3})
	src.addElement(f2, meshtype.Triangle, []handle.Handle{1, 3, 4})
	poly := handle.Handle(50)
	src.addElement(poly, meshtype.Polyhedron, []handle.Handle{f1, f2})

	f := New(src)
	got, err := f.GetAdjacencies(poly, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	want := []handle.Handle{1, 2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("polyhedron vertices = %v, want union %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("vertex[%d] = %d, want %d (first-seen order)", i, got[i], want[i])
		}
	}
}

func TestSameDimensionReturnsSelf(t *testing.T) {
	src := newFakeSource()
	src.addVertex(1)
	src.addVertex(2)
	edge := handle.Handle(10)
	src.addElement(edge, meshtype.Edge, []handle.Handle{1, 2})

	f := New(src)
	got, err := f.GetAdjacencies(edge, 1, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != edge {
		t.Errorf("equal-dimension adjacency = %v, want just the entity itself", got)
	}
}
