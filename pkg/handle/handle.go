// Package handle implements the L0 handle codec: packing an entity type
// and a per-type id into a single integer handle, and unpacking it back.
//
// The high bits carry a fixed-width type field, the low bits carry the
// id, so handles of one type form a contiguous numeric range and plain
// integer comparison orders handles by (type, id). Width is selectable
// at Load() time via config.HandleBits (32 or 64) so a parallel run can
// agree on a narrower handle when memory is tight; every rank in a run
// must use the same width.
package handle

import (
	"github.com/judajake/meshdb/internal/merr"
	"github.com/judajake/meshdb/pkg/meshtype"
)

// TypeWidth is the number of bits reserved for the entity type field.
const TypeWidth = 4

// MaxTypes is the number of distinct type values representable in
// TypeWidth bits.
const MaxTypes = 1 << TypeWidth

// Handle is an opaque packed (type, id) pair. Zero is never a valid
// handle; id numbering starts at StartID.
type Handle uint64

// StartID is the first valid id for any type. Id 0 is reserved so a
// zero Handle is always invalid.
const StartID = 1

// Codec packs and unpacks handles at a fixed bit width. A Codec is
// immutable and safe for concurrent use.
type Codec struct {
	idWidth uint
	idMask  uint64
}

// NewCodec builds a Codec for the given total handle width in bits (32 or
// 64, per config.HandleBits). Any other width is rejected.
func NewCodec(totalBits int) (*Codec, error) {
	if totalBits != 32 && totalBits != 64 {
		return nil, merr.New(merr.InvalidSize, "handle width must be 32 or 64 bits")
	}
	idWidth := uint(totalBits) - TypeWidth
	return &Codec{
		idWidth: idWidth,
		idMask:  (uint64(1) << idWidth) - 1,
	}, nil
}

// MaxID returns the largest id representable by this codec's width.
func (c *Codec) MaxID() uint64 {
	return c.idMask
}

// Make packs a type and id into a Handle. Returns TypeOutOfRange if t is
// not a valid meshtype.Type, or IndexOutOfRange if id exceeds MaxID or is
// below StartID.
func (c *Codec) Make(t meshtype.Type, id uint64) (Handle, error) {
	if t >= meshtype.MaxType {
		return 0, merr.New(merr.TypeOutOfRange, "entity type out of range")
	}
	if id < StartID || id > c.idMask {
		return 0, merr.New(merr.IndexOutOfRange, "id out of range for handle width")
	}
	return Handle(uint64(t)<<c.idWidth | id), nil
}

// TypeOf extracts the entity type from a handle.
func (c *Codec) TypeOf(h Handle) meshtype.Type {
	return meshtype.Type(uint64(h) >> c.idWidth)
}

// IDOf extracts the per-type id from a handle.
func (c *Codec) IDOf(h Handle) uint64 {
	return uint64(h) & c.idMask
}

// FirstHandle returns the smallest valid handle for type t (id ==
// StartID).
func (c *Codec) FirstHandle(t meshtype.Type) (Handle, error) {
	return c.Make(t, StartID)
}

// LastHandle returns the largest representable handle for type t
// (id == MaxID).
func (c *Codec) LastHandle(t meshtype.Type) (Handle, error) {
	return c.Make(t, c.idMask)
}

// Compare orders handles first by type, then by id. Since type occupies
// the high bits, plain integer comparison already gives this order;
// Compare exists so callers don't need to know that.
func (c *Codec) Compare(a, b Handle) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
