// Package parallel implements the L6 parallel resolution and
// ghost-exchange protocol (ParallelComm). Ranks are simulated as
// goroutines connected by channels: each rank's crossbar Send/Recv pair
// plays the role of a tuple-routing alltoallv primitive, and a Barrier
// provides the bulk-synchronous phase boundary every exchange is
// bracketed by.
package parallel

import (
	"strconv"

	"github.com/google/uuid"

	"github.com/judajake/meshdb/internal/merr"
)

// Tuple is one message routed through the crossbar: a destination rank,
// a phase id guarding against interleaved-phase confusion, and an
// opaque payload the caller packs/unpacks.
type Tuple struct {
	From    int
	To      int
	PhaseID string
	Kind    string
	Payload []byte
}

// Crossbar is the all-to-all tuple router shared by shared-entity
// resolution, ghost exchange, and tag exchange, so the three phases use
// one routing abstraction rather than each hand-rolling its own
// point-to-point exchange.
type Crossbar struct {
	inboxes []chan Tuple

	// salt is generated once per communicator at construction time and
	// shared by every rank through this single Crossbar instance, so
	// phase ids derived from it (see ParallelComm.nextPhaseID) cannot
	// collide with a prior or concurrent communicator's phases.
	salt string
}

// NewCrossbar allocates a Crossbar for numRanks ranks, each with a
// buffered inbox so a burst of sends from many peers does not deadlock
// against a single receiver still packing its own outgoing tuples.
func NewCrossbar(numRanks int) *Crossbar {
	cb := &Crossbar{inboxes: make([]chan Tuple, numRanks), salt: uuid.NewString()}
	for i := range cb.inboxes {
		cb.inboxes[i] = make(chan Tuple, numRanks*4)
	}
	return cb
}

// Send routes t to t.To's inbox.
func (cb *Crossbar) Send(t Tuple) error {
	if t.To < 0 || t.To >= len(cb.inboxes) {
		return merr.New(merr.IndexOutOfRange, "tuple destination rank out of range")
	}
	cb.inboxes[t.To] <- t
	return nil
}

// Recv blocks until a tuple matching phaseID arrives for rank, draining
// and discarding any tuple tagged with a stale phase id first (an
// out-of-order receive from a rank still finishing the previous phase).
func (cb *Crossbar) Recv(rank int, phaseID string) (Tuple, error) {
	if rank < 0 || rank >= len(cb.inboxes) {
		return Tuple{}, merr.New(merr.IndexOutOfRange, "rank out of range")
	}
	for t := range cb.inboxes[rank] {
		if t.PhaseID != phaseID {
			continue
		}
		return t, nil
	}
	return Tuple{}, merr.New(merr.Failure, "crossbar inbox closed before matching tuple arrived")
}

// RecvAll drains exactly count tuples matching phaseID for rank, used
// when a rank knows in advance how many peers will send it something
// this phase (e.g. an all-to-all where every other rank participates).
func (cb *Crossbar) RecvAll(rank int, phaseID string, count int) ([]Tuple, error) {
	out := make([]Tuple, 0, count)
	for len(out) < count {
		t, err := cb.Recv(rank, phaseID)
		if err != nil {
			return out, err
		}
		out = append(out, t)
	}
	return out, nil
}

// nextPhaseID derives a phase identifier every rank in this communicator
// agrees on for the current round, by combining the crossbar's
// construction-time salt with the barrier's generation counter (see
// Barrier.currentGen): since every rank executes the same sequence of
// L6 operations, each bracketed by a trailing Barrier.Wait, all ranks
// observe the same generation when they start the next operation and so
// compute the same phase id without exchanging any messages to agree on
// one.
func (pc *ParallelComm) nextPhaseID() string {
	return pc.cb.salt + "-" + strconv.Itoa(pc.barrier.currentGen())
}
