// Package sequence implements the L1 storage engine: SequenceData (the
// contiguous arena backing a block of handles), EntitySequence (a
// sub-range view typed by entity shape), and TypeSequenceManager (the
// per-type registry of non-overlapping sequences).
//
// Each storage concern gets its own typed slice field on SequenceData,
// plus a map keyed by tag id for dense tag columns, so a sub-range view
// can reach any of them with one offset computation.
package sequence

import (
	"github.com/judajake/meshdb/internal/merr"
	"github.com/judajake/meshdb/pkg/handle"
)

// DenseTagID identifies a dense tag's column within a SequenceData's tag
// storage, assigned by the tag server.
type DenseTagID uint32

// denseArray is one dense tag's per-entity backing store: bytesPerEnt
// bytes for each of (end-start+1) entities, flat-packed.
type denseArray struct {
	bytesPerEnt int
	data        []byte
}

// SequenceData is the arena backing one contiguous block of handles of a
// single entity type. Connectivity, coordinates, polygon/polyhedron
// index data, and dense tag columns all live here so that an
// EntitySequence referencing a sub-range of this arena shares storage
// with its siblings instead of each entity owning independent arrays.
type SequenceData struct {
	start, end handle.Handle

	// Connectivity holds flat node-handle connectivity for fixed-arity
	// element types, stride NodesPerElement(type) per entity. Empty for
	// vertices and for variable-arity types, which use Offsets/Indices
	// instead.
	Connectivity []handle.Handle

	// Coordinates holds flat x,y,z triples for vertex sequences. Empty
	// for non-vertex sequences.
	Coordinates []float64

	// Offsets and Indices together store polygon/polyhedron
	// variable-length connectivity: entity i's nodes are
	// Indices[Offsets[i]:Offsets[i+1]]. varFilled counts how many entities
	// have had their connectivity deposited; deposits must arrive in
	// ascending handle order so the index list stays compact.
	Offsets   []int
	Indices   []handle.Handle
	varFilled int

	// AdjacencyData holds one explicit-adjacency list per entity, lazily
	// allocated by EntityAdjacencies. AEntityFactory keeps its explicit
	// lists in its own maps and does not use this field.
	AdjacencyData [][]handle.Handle

	// MeshSets is indexed the same way as Connectivity. No constructor in
	// this package allocates it; the Interface facade keeps set contents
	// in its own handle-keyed map.
	MeshSets []interface{}

	denseTags map[DenseTagID]*denseArray
}

// New allocates a SequenceData spanning [start,end] (inclusive), sized
// for count = end-start+1 entities. nodesPerElement is 0 for vertices,
// entity sets, and variable-arity types.
func New(start, end handle.Handle, nodesPerElement int) (*SequenceData, error) {
	if end < start {
		return nil, merr.New(merr.InvalidSize, "sequence data end handle precedes start handle")
	}
	count := int(end-start) + 1
	sd := &SequenceData{
		start:     start,
		end:       end,
		denseTags: make(map[DenseTagID]*denseArray),
	}
	if nodesPerElement > 0 {
		sd.Connectivity = make([]handle.Handle, count*nodesPerElement)
	}
	return sd, nil
}

// NewVariableData allocates a SequenceData for a block of polygon or
// polyhedron handles, backed by the Offsets/Indices index-list scheme
// instead of a fixed-stride connectivity array.
func NewVariableData(start, end handle.Handle) (*SequenceData, error) {
	if end < start {
		return nil, merr.New(merr.InvalidSize, "sequence data end handle precedes start handle")
	}
	count := int(end-start) + 1
	return &SequenceData{
		start:     start,
		end:       end,
		Offsets:   make([]int, count+1),
		denseTags: make(map[DenseTagID]*denseArray),
	}, nil
}

// NewVertexData allocates a SequenceData for a block of vertex handles,
// backed by a flat coordinate array instead of connectivity.
func NewVertexData(start, end handle.Handle) (*SequenceData, error) {
	if end < start {
		return nil, merr.New(merr.InvalidSize, "sequence data end handle precedes start handle")
	}
	count := int(end-start) + 1
	return &SequenceData{
		start:      start,
		end:        end,
		Coordinates: make([]float64, count*3),
		denseTags:  make(map[DenseTagID]*denseArray),
	}, nil
}

// StartHandle returns the first handle in this SequenceData.
func (sd *SequenceData) StartHandle() handle.Handle { return sd.start }

// EndHandle returns the last handle in this SequenceData.
func (sd *SequenceData) EndHandle() handle.Handle { return sd.end }

// Size returns the number of entity slots in this SequenceData.
func (sd *SequenceData) Size() int { return int(sd.end-sd.start) + 1 }

// Contains reports whether h falls within this SequenceData's range.
func (sd *SequenceData) Contains(h handle.Handle) bool {
	return h >= sd.start && h <= sd.end
}

// offset returns h's zero-based slot index within this SequenceData.
func (sd *SequenceData) offset(h handle.Handle) int {
	return int(h - sd.start)
}

// CreateTagData allocates (or returns the existing) dense tag column for
// tagID, sized bytesPerEnt per entity. If initial is non-nil it is used
// to fill every entity's slot; otherwise the column is zeroed.
func (sd *SequenceData) CreateTagData(tagID DenseTagID, bytesPerEnt int, initial []byte) []byte {
	if existing, ok := sd.denseTags[tagID]; ok {
		return existing.data
	}
	count := sd.Size()
	data := make([]byte, count*bytesPerEnt)
	if initial != nil {
		for i := 0; i < count; i++ {
			copy(data[i*bytesPerEnt:(i+1)*bytesPerEnt], initial)
		}
	}
	sd.denseTags[tagID] = &denseArray{bytesPerEnt: bytesPerEnt, data: data}
	return data
}

// TagData returns the dense tag column for tagID, or nil if it has not
// been allocated on this SequenceData.
func (sd *SequenceData) TagData(tagID DenseTagID) []byte {
	if da, ok := sd.denseTags[tagID]; ok {
		return da.data
	}
	return nil
}

// EntityTagSlot returns the byte slice within tagID's column
// corresponding to entity h.
func (sd *SequenceData) EntityTagSlot(tagID DenseTagID, h handle.Handle) ([]byte, error) {
	da, ok := sd.denseTags[tagID]
	if !ok {
		return nil, merr.ErrTagNotFound
	}
	off := sd.offset(h)
	return da.data[off*da.bytesPerEnt : (off+1)*da.bytesPerEnt], nil
}

// ReleaseTagData frees a dense tag column, e.g. after the tag is deleted
// mesh-wide.
func (sd *SequenceData) ReleaseTagData(tagID DenseTagID) {
	delete(sd.denseTags, tagID)
}

// EntityAdjacencies returns the explicit adjacency list for h, allocating
// AdjacencyData lazily on first use.
func (sd *SequenceData) EntityAdjacencies(h handle.Handle) []handle.Handle {
	if sd.AdjacencyData == nil {
		sd.AdjacencyData = make([][]handle.Handle, sd.Size())
	}
	return sd.AdjacencyData[sd.offset(h)]
}

// SetEntityAdjacencies replaces the explicit adjacency list for h.
func (sd *SequenceData) SetEntityAdjacencies(h handle.Handle, adj []handle.Handle) {
	if sd.AdjacencyData == nil {
		sd.AdjacencyData = make([][]handle.Handle, sd.Size())
	}
	sd.AdjacencyData[sd.offset(h)] = adj
}
