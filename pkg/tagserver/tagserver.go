// Package tagserver implements the L3 tag service: named, typed
// properties attachable to any entity or mesh-wide, in five storage
// classes (dense, sparse, bit, variable-length, mesh-wide).
//
// The split is between dense per-SequenceData columns for tags set on
// most entities of a type, and a sharded sparse map for tags set on a
// scattered minority; bit tags pack 1-8 bit fields into pages, and
// variable-length tags store a sized allocation per entity.
package tagserver

import (
	"sync"

	"github.com/judajake/meshdb/internal/merr"
	"github.com/judajake/meshdb/internal/shardlock"
	"github.com/judajake/meshdb/pkg/handle"
)

// StorageClass selects how a tag's per-entity values are stored.
type StorageClass int

const (
	Dense StorageClass = iota
	Sparse
	Bit
	VariableLength
	MeshWide
)

func (s StorageClass) String() string {
	switch s {
	case Dense:
		return "DENSE"
	case Sparse:
		return "SPARSE"
	case Bit:
		return "BIT"
	case VariableLength:
		return "VARIABLE_LENGTH"
	case MeshWide:
		return "MESH_WIDE"
	default:
		return "UNKNOWN"
	}
}

// DenseAllocator is implemented by the storage engine so the tag server
// can allocate and read dense columns on the SequenceData backing a
// handle, without importing package sequence directly (avoiding an
// import cycle, since sequence has no need to know about tags).
type DenseAllocator interface {
	CreateDenseColumn(h handle.Handle, tagID uint32, bytesPerEnt int, initial []byte) error
	DenseSlot(h handle.Handle, tagID uint32) ([]byte, error)
	ReleaseDenseColumn(tagID uint32) error
}

// Tag describes one registered tag's metadata.
type Tag struct {
	ID           uint32
	Name         string
	Class        StorageClass
	BytesPerEnt  int // 0 for VariableLength
	DefaultValue []byte
}

// Server is the mesh-wide tag registry plus the sparse/bit/variable
// storage backing tags that are not dense-allocated.
type Server struct {
	dense DenseAllocator

	mu       sync.RWMutex
	byName   map[string]*Tag
	byID     map[uint32]*Tag
	nextID   uint32

	sparseLocks *shardlock.Manager
	sparse      map[uint32]map[handle.Handle][]byte

	bitPageSize int
	bit         map[uint32]map[handle.Handle]bitPage

	varData map[uint32]map[handle.Handle][]byte

	meshWide map[uint32][]byte
}

// bitPage packs BitTagPageSize entities' 1-8 bit fields per page,
// keyed by the page's first handle.
type bitPage []byte

// New creates a Server backed by dense, using sparseLockShards shards
// for the sparse tag map (config.SparseTagLockShards) and bitPageSize
// entities per bit-tag page (config.BitTagPageSize).
func New(dense DenseAllocator, sparseLockShards, bitPageSize int) *Server {
	return &Server{
		dense:       dense,
		byName:      make(map[string]*Tag),
		byID:        make(map[uint32]*Tag),
		sparseLocks: shardlock.NewNamed("sparse-tags", sparseLockShards),
		sparse:      make(map[uint32]map[handle.Handle][]byte),
		bitPageSize: bitPageSize,
		bit:         make(map[uint32]map[handle.Handle]bitPage),
		varData:     make(map[uint32]map[handle.Handle][]byte),
		meshWide:    make(map[uint32][]byte),
	}
}

// CreateTag registers a new tag, or returns the existing one if name is
// already registered with an identical class and size, or
// ErrAlreadyAllocated if it is registered with a different shape.
func (s *Server) CreateTag(name string, class StorageClass, bytesPerEnt int, defaultValue []byte) (*Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if class == Bit && (bytesPerEnt < 1 || bytesPerEnt > 8) {
		return nil, merr.ErrInvalidSize
	}

	if existing, ok := s.byName[name]; ok {
		if existing.Class == class && existing.BytesPerEnt == bytesPerEnt {
			return existing, nil
		}
		return nil, merr.ErrAlreadyAllocated
	}

	s.nextID++
	tag := &Tag{
		ID:           s.nextID,
		Name:         name,
		Class:        class,
		BytesPerEnt:  bytesPerEnt,
		DefaultValue: defaultValue,
	}
	s.byName[name] = tag
	s.byID[tag.ID] = tag

	switch class {
	case Sparse:
		s.sparse[tag.ID] = make(map[handle.Handle][]byte)
	case Bit:
		s.bit[tag.ID] = make(map[handle.Handle]bitPage)
	case VariableLength:
		s.varData[tag.ID] = make(map[handle.Handle][]byte)
	}
	return tag, nil
}

// GetTag looks up a tag by name.
func (s *Server) GetTag(name string) (*Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byName[name]
	if !ok {
		return nil, merr.ErrTagNotFound
	}
	return t, nil
}

// RemoveTag deletes a tag's registration and every entity's stored value
// for it.
func (s *Server) RemoveTag(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byName[name]
	if !ok {
		return merr.ErrTagNotFound
	}
	delete(s.byName, name)
	delete(s.byID, t.ID)
	switch t.Class {
	case Dense:
		return s.dense.ReleaseDenseColumn(t.ID)
	case Sparse:
		delete(s.sparse, t.ID)
	case Bit:
		delete(s.bit, t.ID)
	case VariableLength:
		delete(s.varData, t.ID)
	case MeshWide:
		delete(s.meshWide, t.ID)
	}
	return nil
}

// SetData stores value for h under tag, dispatching to the storage
// class's backing structure.
func (s *Server) SetData(tag *Tag, h handle.Handle, value []byte) error {
	switch tag.Class {
	case Dense:
		return s.setDense(tag, h, value)
	case Sparse:
		return s.setSparse(tag, h, value)
	case Bit:
		return s.setBit(tag, h, value)
	case VariableLength:
		return s.setVarData(tag, h, value)
	case MeshWide:
		s.mu.Lock()
		s.meshWide[tag.ID] = append([]byte(nil), value...)
		s.mu.Unlock()
		return nil
	default:
		return merr.New(merr.UnsupportedOperation, "unknown tag storage class")
	}
}

// setDense ensures tag's dense column exists on h's backing SequenceData
// (allocated lazily, initialized to the tag's default for every entity
// already in that sequence), then copies value into h's slot within it.
func (s *Server) setDense(tag *Tag, h handle.Handle, value []byte) error {
	if len(value) != tag.BytesPerEnt {
		return merr.ErrInvalidSize
	}
	if err := s.dense.CreateDenseColumn(h, tag.ID, tag.BytesPerEnt, tag.DefaultValue); err != nil {
		return err
	}
	slot, err := s.dense.DenseSlot(h, tag.ID)
	if err != nil {
		return err
	}
	copy(slot, value)
	return nil
}

func (s *Server) setSparse(tag *Tag, h handle.Handle, value []byte) error {
	if len(value) != tag.BytesPerEnt {
		return merr.ErrInvalidSize
	}
	s.sparseLocks.Acquire(uint64(h), shardlock.WriteLock)
	defer s.sparseLocks.Release(uint64(h), shardlock.WriteLock)
	s.mu.RLock()
	m := s.sparse[tag.ID]
	s.mu.RUnlock()
	m[h] = append([]byte(nil), value...)
	return nil
}

func (s *Server) setVarData(tag *Tag, h handle.Handle, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.varData[tag.ID][h] = append([]byte(nil), value...)
	return nil
}

// pageKey rounds h down to the start of its bit-tag page.
func (s *Server) pageKey(h handle.Handle) handle.Handle {
	return handle.Handle(uint64(h) / uint64(s.bitPageSize) * uint64(s.bitPageSize))
}

// bitWindow reads or writes the tag.BytesPerEnt-wide (1-8 bit) field for
// entity offset idx within page, which may straddle two bytes since a
// field's width need not divide 8.
func bitWindow(page bitPage, idx, width int) (uint16, int, uint) {
	bitOffset := idx * width
	byteIdx := bitOffset / 8
	bitShift := uint(bitOffset % 8)
	window := uint16(page[byteIdx])
	if byteIdx+1 < len(page) {
		window |= uint16(page[byteIdx+1]) << 8
	}
	return window, byteIdx, bitShift
}

func (s *Server) setBit(tag *Tag, h handle.Handle, value []byte) error {
	if len(value) != 1 {
		return merr.ErrInvalidSize
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pages := s.bit[tag.ID]
	key := s.pageKey(h)
	width := tag.BytesPerEnt
	page, ok := pages[key]
	if !ok {
		page = make(bitPage, (s.bitPageSize*width+7)/8+1)
		pages[key] = page
	}
	idx := int(uint64(h) - uint64(key))
	window, byteIdx, bitShift := bitWindow(page, idx, width)
	mask := uint16(1<<uint(width)) - 1
	window &^= mask << bitShift
	window |= (uint16(value[0]) & mask) << bitShift
	page[byteIdx] = byte(window)
	if byteIdx+1 < len(page) {
		page[byteIdx+1] = byte(window >> 8)
	}
	return nil
}

// Data retrieves h's value for tag, falling back to DefaultValue if the
// entity has never had a value set and a default is registered. For bit
// tags the default is returned only while no entity on h's page has been
// written; an unwritten entity on a written page reads as zero.
func (s *Server) Data(tag *Tag, h handle.Handle) ([]byte, error) {
	switch tag.Class {
	case Dense:
		v, err := s.dense.DenseSlot(h, tag.ID)
		if err != nil && merr.CodeOf(err) == merr.TagNotFound && tag.DefaultValue != nil {
			return tag.DefaultValue, nil
		}
		return v, err
	case Sparse:
		return s.getSparse(tag, h)
	case Bit:
		return s.getBit(tag, h)
	case VariableLength:
		return s.getVarData(tag, h)
	case MeshWide:
		s.mu.RLock()
		defer s.mu.RUnlock()
		if v, ok := s.meshWide[tag.ID]; ok {
			return v, nil
		}
		return tag.DefaultValue, nil
	default:
		return nil, merr.New(merr.UnsupportedOperation, "unknown tag storage class")
	}
}

func (s *Server) getSparse(tag *Tag, h handle.Handle) ([]byte, error) {
	s.sparseLocks.Acquire(uint64(h), shardlock.ReadLock)
	defer s.sparseLocks.Release(uint64(h), shardlock.ReadLock)
	s.mu.RLock()
	m := s.sparse[tag.ID]
	s.mu.RUnlock()
	if v, ok := m[h]; ok {
		return v, nil
	}
	if tag.DefaultValue != nil {
		return tag.DefaultValue, nil
	}
	return nil, merr.ErrTagNotFound
}

func (s *Server) getVarData(tag *Tag, h handle.Handle) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.varData[tag.ID][h]; ok {
		return v, nil
	}
	return nil, merr.ErrVariableDataLength
}

func (s *Server) getBit(tag *Tag, h handle.Handle) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pages := s.bit[tag.ID]
	key := s.pageKey(h)
	page, ok := pages[key]
	if !ok {
		if tag.DefaultValue != nil {
			return tag.DefaultValue, nil
		}
		return nil, merr.ErrTagNotFound
	}
	idx := int(uint64(h) - uint64(key))
	window, _, bitShift := bitWindow(page, idx, tag.BytesPerEnt)
	mask := uint16(1<<uint(tag.BytesPerEnt)) - 1
	return []byte{byte((window >> bitShift) & mask)}, nil
}

// DataMany retrieves values for a batch of entities under one tag. For
// sparse tags every affected lock shard is taken once up front
// (deadlock-free ascending order) instead of once per handle, the bulk
// fast path ParallelComm's tag exchange reads through.
func (s *Server) DataMany(tag *Tag, handles []handle.Handle) ([][]byte, error) {
	if tag.Class != Sparse {
		out := make([][]byte, len(handles))
		for i, h := range handles {
			v, err := s.Data(tag, h)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}

	keys := make([]uint64, len(handles))
	for i, h := range handles {
		keys[i] = uint64(h)
	}
	s.sparseLocks.AcquireMany(keys, shardlock.ReadLock)
	defer s.sparseLocks.ReleaseMany(keys, shardlock.ReadLock)

	s.mu.RLock()
	m := s.sparse[tag.ID]
	s.mu.RUnlock()

	out := make([][]byte, len(handles))
	for i, h := range handles {
		switch v, ok := m[h]; {
		case ok:
			out[i] = v
		case tag.DefaultValue != nil:
			out[i] = tag.DefaultValue
		default:
			return nil, merr.ErrTagNotFound
		}
	}
	return out, nil
}

// DeleteData clears h's value for tag. Sparse reads then return the
// default, variable-length reads return ErrVariableDataLength, and a bit
// tag's field is set to zero.
func (s *Server) DeleteData(tag *Tag, h handle.Handle) error {
	switch tag.Class {
	case Sparse:
		s.sparseLocks.Acquire(uint64(h), shardlock.WriteLock)
		defer s.sparseLocks.Release(uint64(h), shardlock.WriteLock)
		s.mu.RLock()
		m := s.sparse[tag.ID]
		s.mu.RUnlock()
		delete(m, h)
		return nil
	case VariableLength:
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.varData[tag.ID], h)
		return nil
	case Bit:
		return s.setBit(tag, h, []byte{0})
	default:
		return merr.New(merr.UnsupportedOperation, "tag storage class does not support per-entity deletion")
	}
}

// AllTags returns every registered tag, for diagnostics and ParallelComm
// tag-exchange enumeration.
func (s *Server) AllTags() []*Tag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Tag, 0, len(s.byID))
	for _, t := range s.byID {
		out = append(out, t)
	}
	return out
}
