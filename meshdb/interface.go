// Package meshdb is the L5 public facade: Interface ties together the
// handle codec, storage engine, adjacency factory, tag server, and
// meshset service behind the operations a reader/writer/caller actually
// uses, and owns rank-local state (last-error string, session journal)
// that none of the lower layers know about individually.
package meshdb

import (
	"fmt"
	"sync"

	"github.com/judajake/meshdb/config"
	"github.com/judajake/meshdb/internal/diag"
	"github.com/judajake/meshdb/internal/merr"
	"github.com/judajake/meshdb/logger"
	"github.com/judajake/meshdb/pkg/adjacency"
	"github.com/judajake/meshdb/pkg/handle"
	"github.com/judajake/meshdb/pkg/meshset"
	"github.com/judajake/meshdb/pkg/meshtype"
	"github.com/judajake/meshdb/pkg/sequence"
	"github.com/judajake/meshdb/pkg/tagserver"
)

// Interface is one mesh database instance: one rank's full L1-L5 state.
// Mutation is single-threaded per rank: it is not safe for concurrent
// use from multiple goroutines. ParallelComm (L6) is the only layer that
// coordinates across ranks, and it does so between phases, never
// concurrently with Interface calls.
type Interface struct {
	cfg   *config.Config
	codec *handle.Codec

	mu      sync.Mutex // guards lastErrors; not a concurrency primitive for mesh ops
	managers map[meshtype.Type]*sequence.TypeSequenceManager
	adj      *adjacency.Factory
	tags     *tagserver.Server
	sets     map[handle.Handle]*meshset.Set
	rootSet  handle.Handle

	// lastErrors is a bounded ring of recent failure messages, newest
	// last; LastError serves the most recent one and RecentErrors the
	// whole window, giving parallel-phase failures enough context to be
	// actionable.
	lastErrors []string
	journal    *SessionJournal

	diag *diag.Server
}

// denseBridge adapts this Interface's TypeSequenceManagers to
// tagserver.DenseAllocator, resolving a handle to its owning
// SequenceData to create/read dense tag columns.
type denseBridge struct {
	iface *Interface
}

func (d denseBridge) sequenceDataFor(h handle.Handle) (*sequence.SequenceData, error) {
	mgr, ok := d.iface.managers[d.iface.codec.TypeOf(h)]
	if !ok {
		return nil, merr.ErrEntityNotFound
	}
	seq, err := mgr.Find(h)
	if err != nil {
		return nil, err
	}
	return seq.Data, nil
}

func (d denseBridge) CreateDenseColumn(h handle.Handle, tagID uint32, bytesPerEnt int, initial []byte) error {
	data, err := d.sequenceDataFor(h)
	if err != nil {
		return err
	}
	if _, err := data.EntityTagSlot(sequence.DenseTagID(tagID), h); err == nil {
		return nil
	}
	data.CreateTagData(sequence.DenseTagID(tagID), bytesPerEnt, initial)
	return nil
}

func (d denseBridge) DenseSlot(h handle.Handle, tagID uint32) ([]byte, error) {
	data, err := d.sequenceDataFor(h)
	if err != nil {
		return nil, err
	}
	return data.EntityTagSlot(sequence.DenseTagID(tagID), h)
}

func (d denseBridge) ReleaseDenseColumn(tagID uint32) error {
	for _, mgr := range d.iface.managers {
		for _, seq := range mgr.All() {
			seq.Data.ReleaseTagData(sequence.DenseTagID(tagID))
		}
	}
	return nil
}

// connectivitySource adapts Interface to adjacency.ConnectivitySource.
type connectivitySource struct {
	iface *Interface
}

func (c connectivitySource) Connectivity(h handle.Handle) ([]handle.Handle, error) {
	mgr, ok := c.iface.managers[c.iface.codec.TypeOf(h)]
	if !ok {
		return nil, merr.ErrEntityNotFound
	}
	seq, err := mgr.Find(h)
	if err != nil {
		return nil, err
	}
	if seq.Type.VariableArity() {
		return seq.VariableConnectivity(h)
	}
	return seq.Connectivity(h)
}

func (c connectivitySource) TypeOf(h handle.Handle) meshtype.Type {
	return c.iface.codec.TypeOf(h)
}

func (c connectivitySource) Exists(h handle.Handle) bool {
	mgr, ok := c.iface.managers[c.iface.codec.TypeOf(h)]
	return ok && mgr.Contains(h)
}

// sideCreator adapts Interface to adjacency.SideCreator, materializing
// missing edges/faces during GetAdjacencies calls with create set.
type sideCreator struct {
	iface *Interface
}

func (c sideCreator) CreateSide(t meshtype.Type, conn []handle.Handle) (handle.Handle, error) {
	return c.iface.CreateElement(t, conn, len(conn))
}

// Open constructs a new Interface from cfg, ready for a reader to
// populate it or for direct programmatic mesh construction.
func Open(cfg *config.Config) (*Interface, error) {
	codec, err := handle.NewCodec(cfg.HandleBits)
	if err != nil {
		return nil, err
	}
	iface := &Interface{
		cfg:      cfg,
		codec:    codec,
		managers: make(map[meshtype.Type]*sequence.TypeSequenceManager),
		sets:     make(map[handle.Handle]*meshset.Set),
		journal:  newSessionJournal(),
	}
	for t := meshtype.Vertex; t < meshtype.MaxType; t++ {
		iface.managers[t] = sequence.NewTypeSequenceManager(t, codec, cfg.SequenceLockShards)
	}
	iface.adj = adjacency.New(connectivitySource{iface: iface})
	iface.adj.SetCreator(sideCreator{iface: iface})
	iface.adj.CreateVertElemAdjacencies()
	iface.tags = tagserver.New(denseBridge{iface: iface}, cfg.SparseTagLockShards, cfg.BitTagPageSize)

	root, err := iface.managers[meshtype.EntitySet].Allocate(1, 0)
	if err != nil {
		return nil, err
	}
	iface.rootSet = root.Start
	iface.sets[iface.rootSet] = meshset.New(iface.rootSet, meshset.Compressed, false)

	if cfg.DiagAddr != "" {
		iface.diag = diag.New(cfg.DiagAddr, iface)
		iface.diag.Start()
	}

	logger.Info("mesh database interface opened (handle_bits=%d)", cfg.HandleBits)
	return iface, nil
}

// Close releases every L1-L4 resource owned by this Interface, in
// reverse construction order, and stops the diagnostics server if one
// was started. Callers must not use iface after Close.
func (iface *Interface) Close() error {
	if iface.diag != nil {
		if err := iface.diag.Stop(); err != nil {
			return err
		}
	}
	iface.sets = nil
	iface.tags = nil
	iface.adj = nil
	iface.managers = nil
	return nil
}

// RootSet returns the handle of the mesh-wide root set that readers must
// add every created entity to.
func (iface *Interface) RootSet() handle.Handle { return iface.rootSet }

// errorRingSize bounds how many recent failure messages the Interface
// retains for diagnostics.
const errorRingSize = 16

// LastError returns the most recent failure's message, or "" if nothing
// has failed yet. The string is rank-local.
func (iface *Interface) LastError() string {
	iface.mu.Lock()
	defer iface.mu.Unlock()
	if len(iface.lastErrors) == 0 {
		return ""
	}
	return iface.lastErrors[len(iface.lastErrors)-1]
}

// RecentErrors returns the retained failure messages, oldest first.
func (iface *Interface) RecentErrors() []string {
	iface.mu.Lock()
	defer iface.mu.Unlock()
	return append([]string(nil), iface.lastErrors...)
}

func (iface *Interface) fail(err error) error {
	iface.mu.Lock()
	iface.lastErrors = append(iface.lastErrors, err.Error())
	if len(iface.lastErrors) > errorRingSize {
		iface.lastErrors = iface.lastErrors[len(iface.lastErrors)-errorRingSize:]
	}
	iface.mu.Unlock()
	logger.Warn("mesh operation failed: %s", err)
	return err
}

// CreateVertex allocates a new vertex at the given coordinates, journals
// it for rollback, and returns its handle.
func (iface *Interface) CreateVertex(xyz [3]float64) (handle.Handle, error) {
	mgr := iface.managers[meshtype.Vertex]
	seq, err := mgr.Allocate(1, 0)
	if err != nil {
		return 0, iface.fail(err)
	}
	h := seq.Start
	if err := seq.SetCoordinates(h, xyz); err != nil {
		return 0, iface.fail(err)
	}
	iface.journal.recordCreate(h)
	return h, nil
}

// CreateElement allocates count contiguous elements of t with the given
// flat connectivity (nodesPerElement handles per entity), notifies L2,
// and returns the first handle.
func (iface *Interface) CreateElement(t meshtype.Type, nodes []handle.Handle, nodesPerElement int) (handle.Handle, error) {
	if t == meshtype.Vertex || t == meshtype.EntitySet {
		return 0, iface.fail(merr.New(merr.UnsupportedOperation, "use CreateVertex or CreateMeshSet for this type"))
	}
	if nodesPerElement <= 0 || len(nodes)%nodesPerElement != 0 {
		return 0, iface.fail(merr.ErrInvalidSize)
	}
	count := len(nodes) / nodesPerElement
	mgr := iface.managers[t]
	seq, err := mgr.Allocate(count, nodesPerElement)
	if err != nil {
		return 0, iface.fail(err)
	}
	for i := 0; i < count; i++ {
		h := seq.Start + handle.Handle(i)
		elemNodes := nodes[i*nodesPerElement : (i+1)*nodesPerElement]
		if err := seq.SetConnectivity(h, elemNodes); err != nil {
			return 0, iface.fail(err)
		}
		if err := iface.adj.NotifyCreateEntity(h, elemNodes); err != nil {
			return 0, iface.fail(err)
		}
		iface.journal.recordCreate(h)
	}
	return seq.Start, nil
}

// SetConnectivity replaces an element's node connectivity, notifying L2
// to patch the vertex-to-element index with the symmetric difference.
func (iface *Interface) SetConnectivity(h handle.Handle, nodes []handle.Handle) error {
	t := iface.codec.TypeOf(h)
	mgr, ok := iface.managers[t]
	if !ok {
		return iface.fail(merr.ErrTypeOutOfRange)
	}
	seq, err := mgr.Find(h)
	if err != nil {
		return iface.fail(err)
	}
	oldNodes, err := seq.Connectivity(h)
	if err != nil {
		return iface.fail(err)
	}
	oldCopy := append([]handle.Handle(nil), oldNodes...)
	if err := seq.SetConnectivity(h, nodes); err != nil {
		return iface.fail(err)
	}
	if err := iface.adj.NotifyChangeConnectivity(h, oldCopy, nodes); err != nil {
		return iface.fail(err)
	}
	return nil
}

// CreatePolygon allocates one polygon with the given vertex handles.
func (iface *Interface) CreatePolygon(vertices []handle.Handle) (handle.Handle, error) {
	return iface.createVariable(meshtype.Polygon, vertices)
}

// CreatePolyhedron allocates one polyhedron bounded by the given face
// handles; its vertex connectivity is derived by unioning the faces'.
func (iface *Interface) CreatePolyhedron(faces []handle.Handle) (handle.Handle, error) {
	return iface.createVariable(meshtype.Polyhedron, faces)
}

func (iface *Interface) createVariable(t meshtype.Type, conn []handle.Handle) (handle.Handle, error) {
	if len(conn) == 0 {
		return 0, iface.fail(merr.ErrInvalidSize)
	}
	mgr := iface.managers[t]
	seq, err := mgr.Allocate(1, 0)
	if err != nil {
		return 0, iface.fail(err)
	}
	h := seq.Start
	if err := seq.SetVariableConnectivity(h, conn); err != nil {
		return 0, iface.fail(err)
	}
	if err := iface.adj.NotifyCreateEntity(h, conn); err != nil {
		return 0, iface.fail(err)
	}
	iface.journal.recordCreate(h)
	return h, nil
}

// DeleteEntity removes h, first cascading h out of every owner-tracking
// set it belongs to, then notifying L2 to drop its adjacency references.
func (iface *Interface) DeleteEntity(h handle.Handle) error {
	if tracked, err := iface.adj.GetAdjacencies(h, meshtype.DimensionSet, false); err == nil {
		for _, setHandle := range tracked {
			if set, ok := iface.sets[setHandle]; ok && set.TrackOwners {
				set.Remove(h)
			}
		}
	}
	if err := iface.adj.NotifyDeleteEntity(h); err != nil {
		return iface.fail(err)
	}
	mgr, ok := iface.managers[iface.codec.TypeOf(h)]
	if !ok {
		return iface.fail(merr.ErrTypeOutOfRange)
	}
	if err := mgr.Free(h); err != nil {
		return iface.fail(err)
	}
	delete(iface.sets, h)
	iface.journal.recordDelete(h)
	return nil
}

// GetAdjacencies returns entities of toDimension adjacent to entity, via
// L2.
func (iface *Interface) GetAdjacencies(entity handle.Handle, toDimension int, createIfMissing bool) ([]handle.Handle, error) {
	out, err := iface.adj.GetAdjacencies(entity, toDimension, createIfMissing)
	if err != nil {
		return nil, iface.fail(err)
	}
	return out, nil
}

// CreateTag registers a new tag via L3.
func (iface *Interface) CreateTag(name string, class tagserver.StorageClass, bytesPerEnt int, defaultValue []byte) (*tagserver.Tag, error) {
	t, err := iface.tags.CreateTag(name, class, bytesPerEnt, defaultValue)
	if err != nil {
		return nil, iface.fail(err)
	}
	return t, nil
}

// SetTagData stores value for h under the named tag.
func (iface *Interface) SetTagData(tagName string, h handle.Handle, value []byte) error {
	tag, err := iface.tags.GetTag(tagName)
	if err != nil {
		return iface.fail(err)
	}
	if err := iface.tags.SetData(tag, h, value); err != nil {
		return iface.fail(err)
	}
	return nil
}

// TagDataMany retrieves a batch of entities' values for the named tag
// through L3's bulk path.
func (iface *Interface) TagDataMany(tagName string, handles []handle.Handle) ([][]byte, error) {
	tag, err := iface.tags.GetTag(tagName)
	if err != nil {
		return nil, iface.fail(err)
	}
	out, err := iface.tags.DataMany(tag, handles)
	if err != nil {
		return nil, iface.fail(err)
	}
	return out, nil
}

// TagData retrieves h's value for the named tag.
func (iface *Interface) TagData(tagName string, h handle.Handle) ([]byte, error) {
	tag, err := iface.tags.GetTag(tagName)
	if err != nil {
		return nil, iface.fail(err)
	}
	v, err := iface.tags.Data(tag, h)
	if err != nil {
		return nil, iface.fail(err)
	}
	return v, nil
}

// CreateMeshSet allocates a new entity-set handle and registers an empty
// Set with the given storage shape, returning the handle.
func (iface *Interface) CreateMeshSet(storage meshset.Storage, trackOwners bool) (handle.Handle, error) {
	mgr := iface.managers[meshtype.EntitySet]
	seq, err := mgr.Allocate(1, 0)
	if err != nil {
		return 0, iface.fail(err)
	}
	h := seq.Start
	iface.sets[h] = meshset.New(h, storage, trackOwners)
	iface.journal.recordCreate(h)
	return h, nil
}

// MeshSet returns the Set registered for h.
func (iface *Interface) MeshSet(h handle.Handle) (*meshset.Set, error) {
	s, ok := iface.sets[h]
	if !ok {
		return nil, iface.fail(merr.ErrEntityNotFound)
	}
	return s, nil
}

// AddEntitiesToSet inserts entities into the set at setHandle; when the
// set tracks owners, each entity gains a back-reference to the set via
// L2 so deletion can cascade without scanning all sets.
func (iface *Interface) AddEntitiesToSet(setHandle handle.Handle, entities ...handle.Handle) error {
	set, err := iface.MeshSet(setHandle)
	if err != nil {
		return err
	}
	set.Add(entities...)
	if set.TrackOwners {
		for _, e := range entities {
			if err := iface.adj.AddAdjacency(e, setHandle, false); err != nil {
				return iface.fail(err)
			}
		}
	}
	return nil
}

// RemoveEntitiesFromSet removes entities from the set at setHandle,
// dropping owner-tracking back-references when present.
func (iface *Interface) RemoveEntitiesFromSet(setHandle handle.Handle, entities ...handle.Handle) error {
	set, err := iface.MeshSet(setHandle)
	if err != nil {
		return err
	}
	set.Remove(entities...)
	if set.TrackOwners {
		for _, e := range entities {
			if err := iface.adj.RemoveAdjacency(e, setHandle); err != nil && merr.CodeOf(err) != merr.EntityNotFound {
				return iface.fail(err)
			}
		}
	}
	return nil
}

// AddParentChild links parent and child in the set DAG, rejecting the
// edge if it would create a cycle.
func (iface *Interface) AddParentChild(parent, child handle.Handle) error {
	parentSet, err := iface.MeshSet(parent)
	if err != nil {
		return err
	}
	childSet, err := iface.MeshSet(child)
	if err != nil {
		return err
	}
	if iface.wouldCycle(parent, child) {
		return iface.fail(meshset.ErrCycle)
	}
	parentSet.AddChild(child)
	childSet.AddParent(parent)
	return nil
}

func (iface *Interface) wouldCycle(parent, child handle.Handle) bool {
	if parent == child {
		return true
	}
	visited := make(map[handle.Handle]bool)
	var walk func(h handle.Handle) bool
	walk = func(h handle.Handle) bool {
		if h == parent {
			return true
		}
		if visited[h] {
			return false
		}
		visited[h] = true
		set, ok := iface.sets[h]
		if !ok {
			return false
		}
		for _, c := range set.Children() {
			if walk(c) {
				return true
			}
		}
		return false
	}
	return walk(child)
}

// String renders a short diagnostic summary, used by internal/diag.
func (iface *Interface) String() string {
	var total int
	for _, mgr := range iface.managers {
		total += mgr.Count()
	}
	return fmt.Sprintf("meshdb.Interface{entities=%d, sets=%d, tags=%d}", total, len(iface.sets), len(iface.tags.AllTags()))
}

// Rollback discards every entity created since the last checkpoint, the
// failure path a Load invokes when its reader errors partway through
// populating the mesh. Only entities are journaled: tags registered since
// the checkpoint stay registered.
func (iface *Interface) Rollback() error {
	created := iface.journal.createdSinceCheckpoint()
	for i := len(created) - 1; i >= 0; i-- {
		if err := iface.DeleteEntity(created[i]); err != nil {
			return err
		}
	}
	iface.journal.checkpoint()
	return nil
}

// Checkpoint marks the current state as the rollback baseline, called by
// a reader before it starts populating the mesh.
func (iface *Interface) Checkpoint() {
	iface.journal.checkpoint()
}
