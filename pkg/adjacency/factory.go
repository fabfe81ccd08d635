// Package adjacency implements the L2 topology engine: AEntityFactory,
// which derives element-to-element adjacency from shared vertices and
// layers explicit adjacency lists on top for entities that need them
// (entity sets, up-adjacencies beyond vertex-element).
//
// Down-adjacency (element -> lower-dimension sides) is derived from
// connectivity; up-adjacency (vertex -> elements that reference it) is
// maintained incrementally via the Notify* hooks, since recomputing it
// from scratch on every query would be O(n) per call.
package adjacency

import (
	"sort"

	"github.com/judajake/meshdb/internal/merr"
	"github.com/judajake/meshdb/pkg/handle"
	"github.com/judajake/meshdb/pkg/meshtype"
)

// ConnectivitySource is the subset of the storage engine AEntityFactory
// needs: connectivity lookup and type/existence checks, by handle. The
// public Interface facade supplies the concrete TypeSequenceManager-backed
// implementation.
type ConnectivitySource interface {
	Connectivity(h handle.Handle) ([]handle.Handle, error)
	TypeOf(h handle.Handle) meshtype.Type
	Exists(h handle.Handle) bool
}

// SideCreator materializes a missing side entity (an edge or face of an
// existing element) during a GetAdjacencies call with createIfMissing
// set. The Interface facade supplies the implementation, since entity
// allocation belongs to the storage engine, not this package.
type SideCreator interface {
	CreateSide(t meshtype.Type, conn []handle.Handle) (handle.Handle, error)
}

// Factory derives and stores adjacency relationships between entities.
// It requires a ConnectivitySource to resolve element connectivity for
// down-adjacency derivation; its own state is the incremental
// vertex-to-element up-adjacency index plus explicit adjacency lists
// set directly via AddAdjacency.
type Factory struct {
	source ConnectivitySource

	vertElemAdj     bool
	vertexToElement map[handle.Handle][]handle.Handle

	explicit map[handle.Handle][]handle.Handle

	creator SideCreator
}

// New creates a Factory reading connectivity from source.
func New(source ConnectivitySource) *Factory {
	return &Factory{
		source:          source,
		vertexToElement: make(map[handle.Handle][]handle.Handle),
		explicit:        make(map[handle.Handle][]handle.Handle),
	}
}

// SetCreator installs the side-entity creation callback used when a
// GetAdjacencies call asks for missing sides to be materialized.
func (f *Factory) SetCreator(c SideCreator) {
	f.creator = c
}

// CreateVertElemAdjacencies turns on vertex-to-element up-adjacency
// tracking. Once enabled, every NotifyCreateEntity/NotifyChangeConnectivity/
// NotifyDeleteEntity call maintains the index incrementally.
func (f *Factory) CreateVertElemAdjacencies() {
	f.vertElemAdj = true
}

// VertElemAdjacencies reports whether vertex-to-element adjacencies are
// being tracked.
func (f *Factory) VertElemAdjacencies() bool {
	return f.vertElemAdj
}

// AddAdjacency records an explicit adjacency from fromEnt to toEnt. If
// bothWays is true, the reverse edge is recorded too.
func (f *Factory) AddAdjacency(fromEnt, toEnt handle.Handle, bothWays bool) error {
	f.addOne(fromEnt, toEnt)
	if bothWays {
		f.addOne(toEnt, fromEnt)
	}
	return nil
}

func (f *Factory) addOne(from, to handle.Handle) {
	list := f.explicit[from]
	for _, e := range list {
		if e == to {
			return
		}
	}
	f.explicit[from] = append(list, to)
}

// RemoveAdjacency deletes a single explicit adjacency entry.
func (f *Factory) RemoveAdjacency(baseEntity, adjToRemove handle.Handle) error {
	list := f.explicit[baseEntity]
	for i, e := range list {
		if e == adjToRemove {
			f.explicit[baseEntity] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return merr.ErrEntityNotFound
}

// RemoveAllAdjacencies deletes every explicit adjacency entry for
// baseEntity. If deleteAdjList is true the underlying list is dropped
// entirely rather than left as an empty slice.
func (f *Factory) RemoveAllAdjacencies(baseEntity handle.Handle, deleteAdjList bool) error {
	if deleteAdjList {
		delete(f.explicit, baseEntity)
	} else {
		f.explicit[baseEntity] = nil
	}
	if f.vertElemAdj {
		delete(f.vertexToElement, baseEntity)
	}
	return nil
}

// ExplicitlyAdjacent reports whether ent1 has an explicit adjacency
// entry pointing to ent2.
func (f *Factory) ExplicitlyAdjacent(ent1, ent2 handle.Handle) bool {
	for _, e := range f.explicit[ent1] {
		if e == ent2 {
			return true
		}
	}
	return false
}

// GetAdjacencies returns entities of toDimension adjacent to entity.
// toDimension 0-3 selects element dimensions; meshtype.DimensionSet (4)
// selects entity sets the entity belongs to via explicit adjacency.
// When createIfMissing is set and a down-adjacency query finds no
// existing side entity for one of the source's canonical sub-facets, the
// side is materialized through the installed SideCreator.
func (f *Factory) GetAdjacencies(entity handle.Handle, toDimension int, createIfMissing bool) ([]handle.Handle, error) {
	if !f.source.Exists(entity) {
		return nil, merr.ErrEntityNotFound
	}

	if toDimension == meshtype.DimensionSet {
		return f.getAssociatedMeshSets(entity)
	}

	srcType := f.source.TypeOf(entity)
	srcDim := srcType.Dimension()

	switch {
	case toDimension < srcDim:
		return f.downAdjacent(entity, toDimension, createIfMissing)
	case toDimension > srcDim:
		return f.upAdjacent(entity, toDimension)
	default:
		// Equal dimensions: the entity is its own only same-dimension
		// adjacency.
		return []handle.Handle{entity}, nil
	}
}

// downAdjacent derives lower-dimension sides from entity's connectivity.
// Vertex queries copy the connectivity directly (unioning face
// connectivities for a polyhedron); intermediate dimensions enumerate
// the source type's canonical sub-facets and look each one up among the
// entities sharing its vertices, creating missing sides when asked.
func (f *Factory) downAdjacent(entity handle.Handle, toDimension int, createIfMissing bool) ([]handle.Handle, error) {
	srcType := f.source.TypeOf(entity)
	conn, err := f.source.Connectivity(entity)
	if err != nil {
		return nil, err
	}

	if toDimension == 0 {
		if srcType == meshtype.Polyhedron {
			return f.polyhedronVertices(conn)
		}
		return append([]handle.Handle(nil), conn...), nil
	}

	facets := subFacets(srcType, toDimension)
	if facets == nil {
		// No canonical numbering (variable-arity source): fall back to
		// scanning the vertex-to-element index for entities of the target
		// dimension sharing at least two of the source's vertices.
		return f.sharedVertexCandidates(entity, conn, toDimension), nil
	}

	var out []handle.Handle
	ambiguous := false
	for _, facet := range facets {
		sideConn := make([]handle.Handle, len(facet.Corners))
		for i, c := range facet.Corners {
			if c >= len(conn) {
				return nil, merr.ErrIndexOutOfRange
			}
			sideConn[i] = conn[c]
		}
		side, err := f.GetElement(sideConn, facet.Type, entity)
		switch {
		case err == nil:
			out = append(out, side)
		case merr.CodeOf(err) == merr.MultipleEntitiesFound:
			out = append(out, side)
			ambiguous = true
		case merr.CodeOf(err) == merr.EntityNotFound && createIfMissing:
			if f.creator == nil {
				return nil, merr.New(merr.UnsupportedOperation, "no side-entity creator installed")
			}
			created, cerr := f.creator.CreateSide(facet.Type, sideConn)
			if cerr != nil {
				return nil, cerr
			}
			out = append(out, created)
		case merr.CodeOf(err) == merr.EntityNotFound:
			// side simply does not exist yet; skip
		default:
			return nil, err
		}
	}
	sortHandles(out)
	if ambiguous {
		return out, merr.ErrMultipleEntitiesFound
	}
	return out, nil
}

// polyhedronVertices unions the connectivities of a polyhedron's faces,
// preserving first-seen order.
func (f *Factory) polyhedronVertices(faces []handle.Handle) ([]handle.Handle, error) {
	seen := make(map[handle.Handle]bool)
	var out []handle.Handle
	for _, face := range faces {
		faceConn, err := f.source.Connectivity(face)
		if err != nil {
			return nil, err
		}
		for _, v := range faceConn {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out, nil
}

// sharedVertexCandidates returns entities of the target dimension sharing
// at least two of conn's vertices, drawn from the vertex-to-element
// index.
func (f *Factory) sharedVertexCandidates(entity handle.Handle, conn []handle.Handle, toDimension int) []handle.Handle {
	counts := make(map[handle.Handle]int)
	for _, v := range conn {
		for _, cand := range f.vertexToElement[v] {
			if cand == entity {
				continue
			}
			if f.source.TypeOf(cand).Dimension() != toDimension {
				continue
			}
			counts[cand]++
		}
	}
	var out []handle.Handle
	for cand, n := range counts {
		if n >= 2 {
			out = append(out, cand)
		}
	}
	sortHandles(out)
	return out
}

// upAdjacent returns higher-dimension elements referencing entity: for a
// vertex, the elements in its vertex-to-element index; for an element,
// the elements of toDimension whose connectivity includes every one of
// entity's vertices.
func (f *Factory) upAdjacent(entity handle.Handle, toDimension int) ([]handle.Handle, error) {
	srcType := f.source.TypeOf(entity)
	if srcType == meshtype.Vertex {
		var out []handle.Handle
		for _, cand := range f.vertexToElement[entity] {
			if f.source.TypeOf(cand).Dimension() == toDimension {
				out = append(out, cand)
			}
		}
		sortHandles(out)
		return out, nil
	}

	conn, err := f.source.Connectivity(entity)
	if err != nil {
		return nil, err
	}
	counts := make(map[handle.Handle]int)
	for _, v := range conn {
		for _, cand := range f.vertexToElement[v] {
			if cand == entity || f.source.TypeOf(cand).Dimension() != toDimension {
				continue
			}
			counts[cand]++
		}
	}
	var out []handle.Handle
	for cand, n := range counts {
		if n == len(conn) {
			out = append(out, cand)
		}
	}
	sortHandles(out)
	return out, nil
}

// sameDimensionAdjacent returns entities of the same dimension sharing
// at least one vertex, used for face-face or edge-edge adjacency
// queries.
func (f *Factory) sameDimensionAdjacent(entity handle.Handle) ([]handle.Handle, error) {
	conn, err := f.source.Connectivity(entity)
	if err != nil {
		return nil, err
	}
	dim := f.source.TypeOf(entity).Dimension()
	seen := make(map[handle.Handle]bool)
	var out []handle.Handle
	for _, v := range conn {
		for _, cand := range f.vertexToElement[v] {
			if cand != entity && !seen[cand] && f.source.TypeOf(cand).Dimension() == dim {
				seen[cand] = true
				out = append(out, cand)
			}
		}
	}
	sortHandles(out)
	return out, nil
}

func (f *Factory) getAssociatedMeshSets(entity handle.Handle) ([]handle.Handle, error) {
	list := f.explicit[entity]
	var out []handle.Handle
	for _, e := range list {
		if f.source.TypeOf(e) == meshtype.EntitySet {
			out = append(out, e)
		}
	}
	return out, nil
}

// NotifyCreateEntity updates the vertex-to-element index when a new
// element is created with the given node connectivity.
func (f *Factory) NotifyCreateEntity(entity handle.Handle, nodes []handle.Handle) error {
	if !f.vertElemAdj {
		return nil
	}
	for _, n := range nodes {
		f.vertexToElement[n] = appendUnique(f.vertexToElement[n], entity)
	}
	return nil
}

// NotifyChangeConnectivity updates the vertex-to-element index when an
// entity's connectivity changes from oldNodes to newNodes.
func (f *Factory) NotifyChangeConnectivity(entity handle.Handle, oldNodes, newNodes []handle.Handle) error {
	if !f.vertElemAdj {
		return nil
	}
	for _, n := range oldNodes {
		f.vertexToElement[n] = removeOne(f.vertexToElement[n], entity)
	}
	for _, n := range newNodes {
		f.vertexToElement[n] = appendUnique(f.vertexToElement[n], entity)
	}
	return nil
}

// NotifyDeleteEntity removes all adjacency references to entity,
// including its vertex-to-element index entries if entity is itself a
// vertex, and its own up-adjacency registration if it is an element.
func (f *Factory) NotifyDeleteEntity(entity handle.Handle) error {
	if f.vertElemAdj {
		if conn, err := f.source.Connectivity(entity); err == nil {
			for _, n := range conn {
				f.vertexToElement[n] = removeOne(f.vertexToElement[n], entity)
			}
		}
		delete(f.vertexToElement, entity)
	}
	for from, list := range f.explicit {
		f.explicit[from] = removeOne(list, entity)
	}
	return f.RemoveAllAdjacencies(entity, true)
}

// EntitiesEquivalent reports whether entity's connectivity is a
// permutation of vertexList, i.e. they occupy the same geometric
// location and are candidates for merging.
func (f *Factory) EntitiesEquivalent(entity handle.Handle, vertexList []handle.Handle, targetType meshtype.Type) bool {
	if f.source.TypeOf(entity) != targetType {
		return false
	}
	conn, err := f.source.Connectivity(entity)
	if err != nil || len(conn) != len(vertexList) {
		return false
	}
	a := append([]handle.Handle(nil), conn...)
	b := append([]handle.Handle(nil), vertexList...)
	sortHandles(a)
	sortHandles(b)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// MergeAdjustAdjacencies reassigns adjacency references so entityToKeep
// inherits entityToRemove's explicit adjacency and vertex-element
// entries before the caller physically removes entityToRemove. It also
// checks whether the merge would create an entity topologically
// equivalent to another existing entity, and if so records an explicit
// adjacency between them instead of silently losing the duplicate's
// identity.
func (f *Factory) MergeAdjustAdjacencies(entityToKeep, entityToRemove handle.Handle) error {
	if f.vertElemAdj {
		for v, elems := range f.vertexToElement {
			for i, e := range elems {
				if e == entityToRemove {
					elems[i] = entityToKeep
				}
			}
			f.vertexToElement[v] = dedupe(elems)
		}
	}
	if list, ok := f.explicit[entityToRemove]; ok {
		for _, e := range list {
			f.addOne(entityToKeep, e)
		}
		delete(f.explicit, entityToRemove)
	}
	return f.checkEquivEntities(entityToKeep)
}

// checkEquivEntities scans entities sharing entityToKeep's vertex set
// for a topological duplicate, wiring an explicit adjacency between them
// when found rather than silently discarding the collision. Two distinct
// entities over one vertex set is a legitimate state at material
// interfaces; the explicit adjacency disambiguates them thereafter.
func (f *Factory) checkEquivEntities(entityToKeep handle.Handle) error {
	srcType := f.source.TypeOf(entityToKeep)
	if srcType == meshtype.Vertex {
		return nil
	}
	conn, err := f.source.Connectivity(entityToKeep)
	if err != nil || len(conn) == 0 {
		return nil
	}
	candidates, _ := f.sameDimensionAdjacent(entityToKeep)
	for _, cand := range candidates {
		if f.EntitiesEquivalent(cand, conn, srcType) {
			f.addOne(entityToKeep, cand)
			f.addOne(cand, entityToKeep)
		}
	}
	return nil
}

// GetElement finds an existing entity of targetType whose connectivity
// matches vertexList, breaking ties when more
// than one candidate is topologically equivalent: prefer a candidate
// already explicitly adjacent to sourceEntity (if given), then a
// candidate sharing an intermediate-dimension common entity with the
// others, and otherwise return the first match together with
// ErrMultipleEntitiesFound so the caller can decide how to proceed.
func (f *Factory) GetElement(vertexList []handle.Handle, targetType meshtype.Type, sourceEntity handle.Handle) (handle.Handle, error) {
	if len(vertexList) == 0 {
		return 0, merr.New(merr.InvalidSize, "empty vertex list")
	}
	counts := make(map[handle.Handle]int)
	for _, v := range vertexList {
		for _, cand := range f.vertexToElement[v] {
			if f.source.TypeOf(cand) == targetType {
				counts[cand]++
			}
		}
	}
	var matches []handle.Handle
	for cand, n := range counts {
		if n == len(vertexList) && f.EntitiesEquivalent(cand, vertexList, targetType) {
			matches = append(matches, cand)
		}
	}
	if len(matches) == 0 {
		return 0, merr.ErrEntityNotFound
	}
	sortHandles(matches)
	if len(matches) == 1 {
		return matches[0], nil
	}
	if sourceEntity != 0 {
		for _, m := range matches {
			if f.ExplicitlyAdjacent(sourceEntity, m) {
				return m, nil
			}
		}
		for _, m := range matches {
			if f.sharesIntermediate(m, sourceEntity) {
				return m, nil
			}
		}
	}
	return matches[0], merr.ErrMultipleEntitiesFound
}

// sharesIntermediate reports whether some entity of a dimension strictly
// between match's and source's contains match's vertex set while being a
// side of source (all its vertices among source's). Such an intermediate
// is the only topological hint tying one of several vertex-equivalent
// candidates to the caller's source entity.
func (f *Factory) sharesIntermediate(match, source handle.Handle) bool {
	mDim := f.source.TypeOf(match).Dimension()
	sDim := f.source.TypeOf(source).Dimension()
	if sDim-mDim < 2 {
		return false
	}
	srcConn, err := f.source.Connectivity(source)
	if err != nil {
		return false
	}
	srcVerts := make(map[handle.Handle]bool, len(srcConn))
	for _, v := range srcConn {
		srcVerts[v] = true
	}
	for dim := mDim + 1; dim < sDim; dim++ {
		ups, err := f.upAdjacent(match, dim)
		if err != nil {
			continue
		}
		for _, u := range ups {
			uConn, err := f.source.Connectivity(u)
			if err != nil || len(uConn) == 0 {
				continue
			}
			contained := true
			for _, v := range uConn {
				if !srcVerts[v] {
					contained = false
					break
				}
			}
			if contained {
				return true
			}
		}
	}
	return false
}

func appendUnique(list []handle.Handle, h handle.Handle) []handle.Handle {
	for _, e := range list {
		if e == h {
			return list
		}
	}
	return append(list, h)
}

func removeOne(list []handle.Handle, h handle.Handle) []handle.Handle {
	for i, e := range list {
		if e == h {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func dedupe(list []handle.Handle) []handle.Handle {
	seen := make(map[handle.Handle]bool, len(list))
	out := list[:0]
	for _, e := range list {
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}

func sortHandles(h []handle.Handle) {
	sort.Slice(h, func(i, j int) bool { return h[i] < h[j] })
}
