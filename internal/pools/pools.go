// Package pools provides reusable sync.Pool-backed buffers, reducing
// per-call allocations on ParallelComm's tuple-routing pack/unpack
// cycle.
package pools

import (
	"bytes"
	"sync"
)

// BufferPool provides reusable byte buffers for general-purpose tuple
// encoding, such as packing resolution's (global-id, handle) pairs.
var BufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// GhostBufferPool provides reusable buffers sized for packed ghost-layer
// exchange payloads (entity definitions, sharing data, tag values),
// which run much larger than a tuple envelope.
var GhostBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 65536))
	},
}

// GetBuffer returns an empty buffer from BufferPool.
func GetBuffer() *bytes.Buffer {
	buf := BufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns a buffer to BufferPool.
func PutBuffer(buf *bytes.Buffer) {
	BufferPool.Put(buf)
}

// GetGhostBuffer returns an empty buffer from GhostBufferPool.
func GetGhostBuffer() *bytes.Buffer {
	buf := GhostBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutGhostBuffer returns a buffer to GhostBufferPool.
func PutGhostBuffer(buf *bytes.Buffer) {
	GhostBufferPool.Put(buf)
}
