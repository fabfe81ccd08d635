package sequence

import (
	"github.com/judajake/meshdb/internal/merr"
	"github.com/judajake/meshdb/pkg/handle"
	"github.com/judajake/meshdb/pkg/meshtype"
)

// EntitySequence is an inclusive [Start,End] sub-range of a SequenceData,
// typed by entity shape. Multiple EntitySequences may share one
// SequenceData's storage (e.g. after a split), each owning a disjoint
// slice of its handle range.
type EntitySequence struct {
	Type            meshtype.Type
	Data            *SequenceData
	Start           handle.Handle
	End             handle.Handle
	NodesPerElement int
}

// NewEntitySequence creates a sequence view over [start,end] within data.
func NewEntitySequence(t meshtype.Type, data *SequenceData, start, end handle.Handle) (*EntitySequence, error) {
	if !data.Contains(start) || !data.Contains(end) || end < start {
		return nil, merr.New(merr.InvalidSize, "entity sequence range outside backing sequence data")
	}
	return &EntitySequence{
		Type:            t,
		Data:            data,
		Start:           start,
		End:             end,
		NodesPerElement: meshtype.NodesPerElement(t),
	}, nil
}

// Size returns the number of entities in this sequence.
func (es *EntitySequence) Size() int { return int(es.End-es.Start) + 1 }

// Contains reports whether h falls within this sequence's range.
func (es *EntitySequence) Contains(h handle.Handle) bool {
	return h >= es.Start && h <= es.End
}

// Connectivity returns the node handles for entity h, for fixed-arity
// element types.
func (es *EntitySequence) Connectivity(h handle.Handle) ([]handle.Handle, error) {
	if !es.Contains(h) {
		return nil, merr.ErrEntityNotFound
	}
	if es.NodesPerElement == 0 {
		return nil, merr.New(merr.UnsupportedOperation, "entity type has variable connectivity")
	}
	off := int(h-es.Data.StartHandle()) * es.NodesPerElement
	return es.Data.Connectivity[off : off+es.NodesPerElement], nil
}

// SetConnectivity overwrites the node handles for entity h.
func (es *EntitySequence) SetConnectivity(h handle.Handle, nodes []handle.Handle) error {
	if !es.Contains(h) {
		return merr.ErrEntityNotFound
	}
	if es.NodesPerElement == 0 || len(nodes) != es.NodesPerElement {
		return merr.New(merr.InvalidSize, "connectivity length mismatch for entity type")
	}
	off := int(h-es.Data.StartHandle()) * es.NodesPerElement
	copy(es.Data.Connectivity[off:off+es.NodesPerElement], nodes)
	return nil
}

// VariableConnectivity returns the node handles for entity h in a
// polygon/polyhedron sequence, using the Offsets/Indices scheme.
func (es *EntitySequence) VariableConnectivity(h handle.Handle) ([]handle.Handle, error) {
	if !es.Contains(h) {
		return nil, merr.ErrEntityNotFound
	}
	off := int(h - es.Data.StartHandle())
	if off+1 >= len(es.Data.Offsets) {
		return nil, merr.New(merr.IndexOutOfRange, "no variable connectivity recorded for entity")
	}
	return es.Data.Indices[es.Data.Offsets[off]:es.Data.Offsets[off+1]], nil
}

// SetVariableConnectivity deposits the node (or, for polyhedra, face)
// handles for entity h in a polygon/polyhedron sequence. Deposits must
// arrive in ascending handle order with no gaps, since the index list is
// append-only; an out-of-order deposit is rejected rather than leaving a
// hole in the Offsets table.
func (es *EntitySequence) SetVariableConnectivity(h handle.Handle, nodes []handle.Handle) error {
	if !es.Contains(h) {
		return merr.ErrEntityNotFound
	}
	if len(nodes) == 0 {
		return merr.ErrInvalidSize
	}
	sd := es.Data
	off := int(h - sd.StartHandle())
	if off != sd.varFilled {
		return merr.New(merr.UnsupportedOperation, "variable connectivity must be deposited in ascending handle order")
	}
	sd.Indices = append(sd.Indices, nodes...)
	sd.Offsets[off+1] = len(sd.Indices)
	sd.varFilled++
	return nil
}

// Coordinates returns the x,y,z triple for vertex h.
func (es *EntitySequence) Coordinates(h handle.Handle) ([3]float64, error) {
	var out [3]float64
	if es.Type != meshtype.Vertex {
		return out, merr.New(merr.UnsupportedOperation, "coordinates only valid for vertices")
	}
	if !es.Contains(h) {
		return out, merr.ErrEntityNotFound
	}
	off := int(h-es.Data.StartHandle()) * 3
	copy(out[:], es.Data.Coordinates[off:off+3])
	return out, nil
}

// SetCoordinates overwrites the x,y,z triple for vertex h.
func (es *EntitySequence) SetCoordinates(h handle.Handle, xyz [3]float64) error {
	if es.Type != meshtype.Vertex {
		return merr.New(merr.UnsupportedOperation, "coordinates only valid for vertices")
	}
	if !es.Contains(h) {
		return merr.ErrEntityNotFound
	}
	off := int(h-es.Data.StartHandle()) * 3
	copy(es.Data.Coordinates[off:off+3], xyz[:])
	return nil
}

// UsingEntireData reports whether this sequence exclusively covers its
// whole backing SequenceData, a precondition for operations that resize
// or retype the backing arrays.
func (es *EntitySequence) UsingEntireData() bool {
	return es.Start == es.Data.StartHandle() && es.End == es.Data.EndHandle()
}

// PopFront shrinks the sequence by n entities at the front. The backing
// SequenceData keeps its storage, since sibling sequences may still own
// other parts of it.
func (es *EntitySequence) PopFront(n int) error {
	if n <= 0 || n >= es.Size() {
		return merr.ErrInvalidSize
	}
	es.Start += handle.Handle(n)
	return nil
}

// PopBack shrinks the sequence by n entities at the back.
func (es *EntitySequence) PopBack(n int) error {
	if n <= 0 || n >= es.Size() {
		return merr.ErrInvalidSize
	}
	es.End -= handle.Handle(n)
	return nil
}

// Split divides this sequence into two at h (h becomes the first handle
// of the second half), returning the new trailing sequence. Both halves
// continue to share the same backing SequenceData.
func (es *EntitySequence) Split(h handle.Handle) (*EntitySequence, error) {
	if !es.Contains(h) || h == es.Start {
		return nil, merr.New(merr.InvalidSize, "split point must be strictly within sequence and not the first handle")
	}
	tail, err := NewEntitySequence(es.Type, es.Data, h, es.End)
	if err != nil {
		return nil, err
	}
	es.End = h - 1
	return tail, nil
}
