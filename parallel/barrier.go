package parallel

import "sync"

// Barrier is a reusable cyclic barrier synchronizing numRanks goroutines
// at each L6 phase boundary: every phase is a barrier-bracketed
// bulk-synchronous step, so all ranks complete phase k before any moves
// to k+1.
type Barrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	n       int
	waiting int
	gen     int
}

// NewBarrier creates a Barrier for n participating ranks.
func NewBarrier(n int) *Barrier {
	b := &Barrier{n: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// currentGen returns the barrier's generation counter. Every rank
// performs the same sequence of L6 operations, each one bracketed by a
// trailing Wait() call, so all ranks observe the same generation value
// when they start a new operation: the counter only advances once every
// rank has finished the previous one. ParallelComm uses this rendezvous
// property to derive a phase id every rank agrees on without any extra
// messages.
func (b *Barrier) currentGen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gen
}

// Wait blocks until all n ranks have called Wait for the current
// generation, then releases everyone and advances to the next
// generation.
func (b *Barrier) Wait() {
	b.mu.Lock()
	defer b.mu.Unlock()
	gen := b.gen
	b.waiting++
	if b.waiting == b.n {
		b.waiting = 0
		b.gen++
		b.cond.Broadcast()
		return
	}
	for gen == b.gen {
		b.cond.Wait()
	}
}
