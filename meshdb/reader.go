package meshdb

import (
	"encoding/binary"

	"github.com/judajake/meshdb/internal/merr"
	"github.com/judajake/meshdb/pkg/handle"
	"github.com/judajake/meshdb/pkg/meshtype"
	"github.com/judajake/meshdb/pkg/tagserver"
)

// ReaderIface is the collaborator a concrete file-format reader
// implements; the core only ever calls it through Load, and the reader
// calls back in for storage. A reader's Read method receives the
// Interface and option-parsed Options, and must add every entity it
// creates to the root set.
type ReaderIface interface {
	Read(iface *Interface, opts *Options) error
}

// NodeArraysRequest is passed to a ReaderIface callback requesting
// storage for count vertices; the reader fills CoordX/CoordY/CoordZ and
// learns the first handle assigned.
type NodeArraysRequest struct {
	Count         int
	StartIDHint   uint64
	FirstHandle   handle.Handle
	CoordX        []float64
	CoordY        []float64
	CoordZ        []float64
}

// GetNodeArrays allocates count vertices and returns writable coordinate
// buffers for the reader to fill.
func (iface *Interface) GetNodeArrays(count int, startIDHint uint64) (*NodeArraysRequest, error) {
	mgr := iface.managers[meshtype.Vertex]
	seq, err := mgr.AllocateHinted(count, 0, startIDHint)
	if err != nil {
		return nil, iface.fail(err)
	}
	for i := 0; i < count; i++ {
		iface.journal.recordCreate(seq.Start + handle.Handle(i))
	}
	return &NodeArraysRequest{
		Count:       count,
		StartIDHint: startIDHint,
		FirstHandle: seq.Start,
		CoordX:      make([]float64, count),
		CoordY:      make([]float64, count),
		CoordZ:      make([]float64, count),
	}, nil
}

// CommitNodeArrays writes the filled coordinate buffers back into
// storage after the reader populates a NodeArraysRequest.
func (iface *Interface) CommitNodeArrays(req *NodeArraysRequest) error {
	mgr := iface.managers[meshtype.Vertex]
	for i := 0; i < req.Count; i++ {
		h := req.FirstHandle + handle.Handle(i)
		seq, err := mgr.Find(h)
		if err != nil {
			return iface.fail(err)
		}
		if err := seq.SetCoordinates(h, [3]float64{req.CoordX[i], req.CoordY[i], req.CoordZ[i]}); err != nil {
			return iface.fail(err)
		}
	}
	return nil
}

// ElementArrayRequest is passed to a ReaderIface callback requesting
// storage for count elements of the given type; the reader fills Conn
// with vertex handles (count * nodesPerElement entries, row-major).
type ElementArrayRequest struct {
	Count           int
	NodesPerElement int
	Type            meshtype.Type
	StartIDHint     uint64
	FirstHandle     handle.Handle
	Conn            []handle.Handle
}

// GetElementArray allocates count elements of t and returns a writable
// connectivity buffer.
func (iface *Interface) GetElementArray(count int, nodesPerElement int, t meshtype.Type, startIDHint uint64) (*ElementArrayRequest, error) {
	mgr := iface.managers[t]
	seq, err := mgr.AllocateHinted(count, nodesPerElement, startIDHint)
	if err != nil {
		return nil, iface.fail(err)
	}
	return &ElementArrayRequest{
		Count:           count,
		NodesPerElement: nodesPerElement,
		Type:            t,
		StartIDHint:     startIDHint,
		FirstHandle:     seq.Start,
		Conn:            make([]handle.Handle, count*nodesPerElement),
	}, nil
}

// CommitElementArray writes the filled connectivity buffer back into
// storage and notifies L2 so vertex-to-element adjacencies stay current.
func (iface *Interface) CommitElementArray(req *ElementArrayRequest) error {
	mgr := iface.managers[req.Type]
	for i := 0; i < req.Count; i++ {
		h := req.FirstHandle + handle.Handle(i)
		seq, err := mgr.Find(h)
		if err != nil {
			return iface.fail(err)
		}
		nodes := req.Conn[i*req.NodesPerElement : (i+1)*req.NodesPerElement]
		if err := seq.SetConnectivity(h, nodes); err != nil {
			return iface.fail(err)
		}
		if err := iface.adj.NotifyCreateEntity(h, nodes); err != nil {
			return iface.fail(err)
		}
		iface.journal.recordCreate(h)
	}
	return nil
}

// AssignIDs populates an id tag (a global-id or file-id tag, by name) on
// a contiguous block of count handles starting at first, with values
// counting up from startID. The tag is registered as a dense 8-byte tag
// on first use.
func (iface *Interface) AssignIDs(tagName string, first handle.Handle, count int, startID uint64) error {
	if _, err := iface.tags.CreateTag(tagName, tagserver.Dense, 8, make([]byte, 8)); err != nil {
		return iface.fail(err)
	}
	var buf [8]byte
	for i := 0; i < count; i++ {
		binary.LittleEndian.PutUint64(buf[:], startID+uint64(i))
		if err := iface.SetTagData(tagName, first+handle.Handle(i), buf[:]); err != nil {
			return err
		}
	}
	return nil
}

// GlobalIDs reads the 8-byte dense id tag tagName for every handle in
// handles, returning the handle-to-id map ParallelComm's resolution
// phase consumes.
func (iface *Interface) GlobalIDs(tagName string, handles []handle.Handle) (map[handle.Handle]uint64, error) {
	out := make(map[handle.Handle]uint64, len(handles))
	for _, h := range handles {
		v, err := iface.TagData(tagName, h)
		if err != nil {
			return nil, err
		}
		if len(v) < 8 {
			return nil, iface.fail(merr.ErrInvalidSize)
		}
		out[h] = binary.LittleEndian.Uint64(v)
	}
	return out, nil
}

// Load runs reader against a fresh checkpoint, rolling back every entity
// created if the reader returns an error. Tags the reader registered are
// not removed.
func (iface *Interface) Load(reader ReaderIface, optionString string) error {
	opts, err := ParseOptions(optionString)
	if err != nil {
		return iface.fail(err)
	}
	iface.Checkpoint()
	if err := reader.Read(iface, opts); err != nil {
		if rerr := iface.Rollback(); rerr != nil {
			return iface.fail(rerr)
		}
		return iface.fail(err)
	}
	return nil
}
