// Package bloom provides a probabilistic existence filter for global-id
// membership testing during parallel resolution.
//
// Bloom Filter Theory:
//
//	A Bloom filter is a space-efficient probabilistic data structure used to
//	test whether an element is a member of a set. False positives are
//	possible, false negatives are not: a query returns either "possibly
//	present" or "definitely absent".
//
// Usage in this module:
//
//	Shared-entity resolution gathers the GLOBAL_ID tag of every owned vertex (or
//	bridge-dimension entity) and must, for each id received from a peer,
//	decide whether the local rank holds a matching global id before paying
//	for a full map lookup or tuple sort. A bloom filter keyed on the raw
//	uint64 global-id lets that first pass reject the overwhelming majority
//	of non-matching ids in O(k) with no allocation.
package bloom

import (
	"math"
	"sync"
)

// Filter is a fixed-capacity Bloom filter over uint64 keys (global ids or
// entity handles). It is safe for concurrent use.
type Filter struct {
	mu   sync.RWMutex
	bits []uint64
	k    uint
	m    uint
	n    uint
}

// New creates a filter sized for expectedItems at the given false-positive
// rate (e.g. 0.01 for 1%).
func New(expectedItems uint, falsePositiveRate float64) *Filter {
	if expectedItems == 0 {
		expectedItems = 1
	}
	m := uint(math.Ceil(-float64(expectedItems) * math.Log(falsePositiveRate) / math.Pow(math.Log(2), 2)))
	k := uint(math.Ceil(float64(m) / float64(expectedItems) * math.Log(2)))
	if k == 0 {
		k = 1
	}
	m = (m + 63) / 64 * 64
	if m == 0 {
		m = 64
	}

	return &Filter{
		bits: make([]uint64, m/64),
		k:    k,
		m:    m,
	}
}

// Add inserts a global id / handle into the filter.
func (f *Filter) Add(item uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	h1, h2 := splitMix(item)
	for i := uint(0); i < f.k; i++ {
		pos := uint((h1 + uint64(i)*h2) % uint64(f.m))
		f.bits[pos/64] |= 1 << (pos % 64)
	}
	f.n++
}

// MaybeContains reports whether item might be present. false is a firm
// "definitely not present" answer; true requires a follow-up exact check.
func (f *Filter) MaybeContains(item uint64) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	h1, h2 := splitMix(item)
	for i := uint(0); i < f.k; i++ {
		pos := uint((h1 + uint64(i)*h2) % uint64(f.m))
		if f.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// splitMix derives two independent 64-bit hashes from a single key via
// double hashing, avoiding a per-call allocation from hash/fnv.
func splitMix(x uint64) (uint64, uint64) {
	z := x + 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	h1 := z ^ (z >> 31)

	z2 := x*0xff51afd7ed558ccd + 1
	z2 = (z2 ^ (z2 >> 33)) * 0xc4ceb9fe1a85ec53
	h2 := z2 ^ (z2 >> 33)
	if h2 == 0 {
		h2 = 1
	}
	return h1, h2
}

// EstimateFalsePositiveRate returns the filter's current estimated false
// positive probability given the number of items added so far.
func (f *Filter) EstimateFalsePositiveRate() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return math.Pow(1-math.Exp(-float64(f.k*f.n)/float64(f.m)), float64(f.k))
}

// Reset clears the filter for reuse across resolution phases.
func (f *Filter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.bits {
		f.bits[i] = 0
	}
	f.n = 0
}
