package meshdb

import (
	"github.com/judajake/meshdb/pkg/handle"
	"github.com/judajake/meshdb/pkg/meshtype"
)

// WriterIface is the collaborator a concrete file-format writer
// implements. Dual to ReaderIface: it pulls entities filtered by a set,
// their connectivity, tag data, and sharing data, and produces a byte
// stream a companion reader can later re-ingest. The core never
// interprets that byte stream itself.
type WriterIface interface {
	Write(iface *Interface, opts *Options, rootSet handle.Handle) error
}

// Save runs writer over the entities reachable from rootSet.
func (iface *Interface) Save(writer WriterIface, rootSet handle.Handle, optionString string) error {
	opts, err := ParseOptions(optionString)
	if err != nil {
		return iface.fail(err)
	}
	if err := writer.Write(iface, opts, rootSet); err != nil {
		return iface.fail(err)
	}
	return nil
}

// IterateSet resolves every entity handle in the set rootSet (used by a
// WriterIface to enumerate what it must serialize), recursing into child
// sets when recursive is true.
func (iface *Interface) IterateSet(rootSet handle.Handle, recursive bool) ([]handle.Handle, error) {
	set, err := iface.MeshSet(rootSet)
	if err != nil {
		return nil, err
	}
	out, err := set.GetEntitiesRecursive(iface.MeshSet, recursive)
	if err != nil {
		return nil, iface.fail(err)
	}
	return out, nil
}

// EntityType exposes the handle codec's type decode to writer
// collaborators without giving them the Interface's internal codec
// field directly.
func (iface *Interface) EntityType(h handle.Handle) meshtype.Type {
	return iface.codec.TypeOf(h)
}

// Connectivity exposes an entity's connectivity to writer collaborators.
func (iface *Interface) Connectivity(h handle.Handle) ([]handle.Handle, error) {
	out, err := connectivitySource{iface: iface}.Connectivity(h)
	if err != nil {
		return nil, iface.fail(err)
	}
	return out, nil
}

// Coordinates exposes a vertex's coordinates to writer collaborators.
func (iface *Interface) Coordinates(h handle.Handle) ([3]float64, error) {
	mgr := iface.managers[meshtype.Vertex]
	seq, err := mgr.Find(h)
	if err != nil {
		var zero [3]float64
		return zero, iface.fail(err)
	}
	xyz, err := seq.Coordinates(h)
	if err != nil {
		return xyz, iface.fail(err)
	}
	return xyz, nil
}
