package meshdb

import (
	"testing"

	"github.com/judajake/meshdb/config"
	"github.com/judajake/meshdb/pkg/handle"
	"github.com/judajake/meshdb/pkg/meshset"
	"github.com/judajake/meshdb/pkg/meshtype"
	"github.com/judajake/meshdb/pkg/tagserver"
)

func testConfig() *config.Config {
	cfg := config.Load()
	cfg.SequenceLockShards = 2
	cfg.SparseTagLockShards = 2
	cfg.BitTagPageSize = 64
	return cfg
}

// Build a triangle from three vertices
// and query its adjacencies through Interface.
func TestCreateTriangleAndQueryAdjacencies(t *testing.T) {
	iface, err := Open(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer iface.Close()

	v0, err := iface.CreateVertex([3]float64{0, 0, 0})
	if err != nil {
		t.Fatal(err)
	}
	v1, err := iface.CreateVertex([3]float64{1, 0, 0})
	if err != nil {
		t.Fatal(err)
	}
	v2, err := iface.CreateVertex([3]float64{0, 1, 0})
	if err != nil {
		t.Fatal(err)
	}

	tri, err := iface.CreateElement(meshtype.Triangle, []handle.Handle{v0, v1, v2}, 3)
	if err != nil {
		t.Fatal(err)
	}

	down, err := iface.GetAdjacencies(tri, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(down) != 3 {
		t.Fatalf("expected 3 downward adjacencies, got %v", down)
	}
}

func TestDeleteEntityRemovesAdjacencies(t *testing.T) {
	iface, err := Open(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer iface.Close()

	v0, _ := iface.CreateVertex([3]float64{0, 0, 0})
	v1, _ := iface.CreateVertex([3]float64{1, 0, 0})
	v2, _ := iface.CreateVertex([3]float64{0, 1, 0})
	tri, err := iface.CreateElement(meshtype.Triangle, []handle.Handle{v0, v1, v2}, 3)
	if err != nil {
		t.Fatal(err)
	}

	if err := iface.DeleteEntity(tri); err != nil {
		t.Fatal(err)
	}

	up, err := iface.GetAdjacencies(v0, 2, false)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range up {
		if e == tri {
			t.Error("deleted triangle still present in vertex adjacency list")
		}
	}
}

func TestTagRoundTripThroughInterface(t *testing.T) {
	iface, err := Open(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer iface.Close()

	v, err := iface.CreateVertex([3]float64{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := iface.CreateTag("owner", tagserver.Sparse, 4, nil); err != nil {
		t.Fatal(err)
	}
	if err := iface.SetTagData("owner", v, []byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	got, err := iface.TagData("owner", v)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "\x01\x02\x03\x04" {
		t.Errorf("TagData = %v, want 1,2,3,4", got)
	}
}

func TestMeshSetParentChildCycleRejected(t *testing.T) {
	iface, err := Open(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer iface.Close()

	a, err := iface.CreateMeshSet(meshset.Ordered, false)
	if err != nil {
		t.Fatal(err)
	}
	b, err := iface.CreateMeshSet(meshset.Ordered, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := iface.AddParentChild(a, b); err != nil {
		t.Fatal(err)
	}
	if err := iface.AddParentChild(b, a); err == nil {
		t.Error("expected cycle rejection when closing the loop b -> a")
	}
}

// Rollback/journal behavior: entities created after Checkpoint are removed
// by Rollback; entities created before it survive.
func TestRollbackDiscardsEntitiesSinceCheckpoint(t *testing.T) {
	iface, err := Open(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer iface.Close()

	surviving, err := iface.CreateVertex([3]float64{0, 0, 0})
	if err != nil {
		t.Fatal(err)
	}
	iface.Checkpoint()

	doomed, err := iface.CreateVertex([3]float64{1, 1, 1})
	if err != nil {
		t.Fatal(err)
	}

	if err := iface.Rollback(); err != nil {
		t.Fatal(err)
	}

	mgr := iface.managers[meshtype.Vertex]
	if !mgr.Contains(surviving) {
		t.Error("vertex created before checkpoint should survive rollback")
	}
	if mgr.Contains(doomed) {
		t.Error("vertex created after checkpoint should be discarded by rollback")
	}
}

func TestOpenAllocatesRootSet(t *testing.T) {
	iface, err := Open(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer iface.Close()

	root := iface.RootSet()
	if _, err := iface.MeshSet(root); err != nil {
		t.Errorf("root set %d should be a registered Set: %v", root, err)
	}
}

func TestSetConnectivityPatchesVertexAdjacency(t *testing.T) {
	iface, err := Open(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer iface.Close()

	v0, _ := iface.CreateVertex([3]float64{0, 0, 0})
	v1, _ := iface.CreateVertex([3]float64{1, 0, 0})
	v2, _ := iface.CreateVertex([3]float64{0, 1, 0})
	v3, _ := iface.CreateVertex([3]float64{1, 1, 0})
	tri, err := iface.CreateElement(meshtype.Triangle, []handle.Handle{v0, v1, v2}, 3)
	if err != nil {
		t.Fatal(err)
	}

	if err := iface.SetConnectivity(tri, []handle.Handle{v0, v1, v3}); err != nil {
		t.Fatal(err)
	}

	conn, err := iface.Connectivity(tri)
	if err != nil {
		t.Fatal(err)
	}
	if conn[2] != v3 {
		t.Errorf("connectivity after SetConnectivity = %v, want third node %d", conn, v3)
	}

	// v2 departed; v3 joined.
	up2, err := iface.GetAdjacencies(v2, 2, false)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range up2 {
		if e == tri {
			t.Error("departed vertex v2 still lists the triangle")
		}
	}
	up3, err := iface.GetAdjacencies(v3, 2, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(up3) != 1 || up3[0] != tri {
		t.Errorf("joined vertex v3 adjacency = %v, want [%d]", up3, tri)
	}
}

func TestTrackOwnersCascadesEntityDeletion(t *testing.T) {
	iface, err := Open(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer iface.Close()

	v, err := iface.CreateVertex([3]float64{0, 0, 0})
	if err != nil {
		t.Fatal(err)
	}
	setHandle, err := iface.CreateMeshSet(meshset.Ordered, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := iface.AddEntitiesToSet(setHandle, v); err != nil {
		t.Fatal(err)
	}
	set, err := iface.MeshSet(setHandle)
	if err != nil {
		t.Fatal(err)
	}
	if !set.Contains(v) {
		t.Fatal("set should contain the vertex after AddEntitiesToSet")
	}

	if err := iface.DeleteEntity(v); err != nil {
		t.Fatal(err)
	}
	if set.Contains(v) {
		t.Error("deleting a tracked entity should cascade its removal from the set")
	}
}

func TestAssignIDsGlobalIDsRoundTrip(t *testing.T) {
	iface, err := Open(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer iface.Close()

	req, err := iface.GetNodeArrays(4, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := iface.AssignIDs("GLOBAL_ID", req.FirstHandle, req.Count, 1000); err != nil {
		t.Fatal(err)
	}

	handles := make([]handle.Handle, req.Count)
	for i := range handles {
		handles[i] = req.FirstHandle + handle.Handle(i)
	}
	ids, err := iface.GlobalIDs("GLOBAL_ID", handles)
	if err != nil {
		t.Fatal(err)
	}
	for i, h := range handles {
		if ids[h] != 1000+uint64(i) {
			t.Errorf("GlobalIDs[%d] = %d, want %d", h, ids[h], 1000+uint64(i))
		}
	}
}

func TestCreatePolygonConnectivity(t *testing.T) {
	iface, err := Open(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer iface.Close()

	var verts []handle.Handle
	for i := 0; i < 5; i++ {
		v, err := iface.CreateVertex([3]float64{float64(i), 0, 0})
		if err != nil {
			t.Fatal(err)
		}
		verts = append(verts, v)
	}
	poly, err := iface.CreatePolygon(verts)
	if err != nil {
		t.Fatal(err)
	}

	conn, err := iface.Connectivity(poly)
	if err != nil {
		t.Fatal(err)
	}
	if len(conn) != 5 {
		t.Fatalf("polygon connectivity length = %d, want 5", len(conn))
	}
	for i := range verts {
		if conn[i] != verts[i] {
			t.Errorf("conn[%d] = %d, want %d", i, conn[i], verts[i])
		}
	}
}

func TestGetAdjacenciesCreatesMissingEdges(t *testing.T) {
	iface, err := Open(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer iface.Close()

	v0, _ := iface.CreateVertex([3]float64{0, 0, 0})
	v1, _ := iface.CreateVertex([3]float64{1, 0, 0})
	v2, _ := iface.CreateVertex([3]float64{0, 1, 0})
	tri, err := iface.CreateElement(meshtype.Triangle, []handle.Handle{v0, v1, v2}, 3)
	if err != nil {
		t.Fatal(err)
	}

	edges, err := iface.GetAdjacencies(tri, 1, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 3 {
		t.Fatalf("expected 3 created edges, got %v", edges)
	}
	for _, e := range edges {
		if iface.EntityType(e) != meshtype.Edge {
			t.Errorf("created side %d has type %v, want Edge", e, iface.EntityType(e))
		}
		conn, err := iface.Connectivity(e)
		if err != nil {
			t.Fatal(err)
		}
		if len(conn) != 2 {
			t.Errorf("edge %d connectivity = %v, want 2 vertices", e, conn)
		}
	}
}
