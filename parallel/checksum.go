package parallel

import (
	"strconv"

	"golang.org/x/crypto/blake2b"

	"github.com/judajake/meshdb/internal/merr"
	"github.com/judajake/meshdb/pkg/handle"
)

// HandleChecksum computes a blake2b-256 digest over a shared entity's
// (global id, handle) pair, used by CheckAllSharedHandles to detect a
// corrupted or mismatched round-trip without shipping the full handle
// value back and forth twice.
func HandleChecksum(globalID uint64, h handle.Handle) [32]byte {
	var input [16]byte
	for i := 0; i < 8; i++ {
		input[i] = byte(globalID >> (8 * i))
	}
	v := uint64(h)
	for i := 0; i < 8; i++ {
		input[8+i] = byte(v >> (8 * i))
	}
	return blake2b.Sum256(input[:])
}

// MismatchError reports a shared-handle round-trip that did not
// checksum-match. Protocol errors are always fatal to the current phase;
// the caller must abort the rank.
type MismatchError struct {
	GlobalID uint64
	Rank     int
}

func (e *MismatchError) Error() string {
	return "shared handle round-trip mismatch for global id " +
		strconv.FormatUint(e.GlobalID, 10) + " on peer rank " + strconv.Itoa(e.Rank)
}

// CheckAllSharedHandles is the parallel-state consistency check: every
// rank sends each peer, for each shared entity, a digest of the handle
// it believes that peer holds (learned during resolution), and the peer
// verifies the digest against its actual local handle. A mismatch means
// the two ranks' handle mappings have diverged, and the first one found
// is returned as a detailed error.
func (pc *ParallelComm) CheckAllSharedHandles(entities []SharedEntity) error {
	tc := pc.trace("check_all_shared_handles")
	defer tc.EndTrace()

	phaseID := pc.nextPhaseID()

	tc.StartSpan("tuple_exchange")
	for _, peer := range pc.peers {
		buf := pc.packChecksums(entities, peer)
		if err := pc.cb.Send(Tuple{From: pc.rank, To: peer, PhaseID: phaseID, Kind: "checksum", Payload: buf}); err != nil {
			return err
		}
	}
	received, err := pc.cb.RecvAll(pc.rank, phaseID, len(pc.peers))
	tc.EndSpan("tuple_exchange")
	if err != nil {
		return err
	}

	local := make(map[uint64]handle.Handle, len(entities))
	for _, se := range entities {
		local[se.GlobalID] = se.Local
	}

	for _, tup := range received {
		if mismatch := pc.verifyChecksums(local, tup.Payload); mismatch != nil {
			return merr.New(merr.Failure, (&MismatchError{GlobalID: mismatch.GlobalID, Rank: tup.From}).Error())
		}
	}

	pc.Barrier()
	return nil
}

// packChecksums digests, for each entity shared with peer, the handle
// this rank recorded as peer's copy during resolution. An entity whose
// peer handle was never learned is itself a mapping inconsistency, so a
// zero-handle digest is packed for it rather than skipping it silently:
// the receiver's real handle can never digest equal to handle 0.
func (pc *ParallelComm) packChecksums(entities []SharedEntity, peer int) []byte {
	var buf []byte
	for _, se := range entities {
		owns := false
		for _, r := range se.Owners {
			if r == peer {
				owns = true
				break
			}
		}
		if !owns {
			continue
		}
		sum := HandleChecksum(se.GlobalID, se.RemoteHandles[peer])
		buf = appendUint64(buf, se.GlobalID)
		buf = append(buf, sum[:]...)
	}
	return buf
}

// verifyChecksums recomputes each received digest against this rank's
// own local handle for the same global id; equality proves the sender's
// recorded mapping for this rank is correct.
func (pc *ParallelComm) verifyChecksums(local map[uint64]handle.Handle, payload []byte) *MismatchError {
	i := 0
	for i+40 <= len(payload) {
		gid := readUint64(payload[i : i+8])
		var sum [32]byte
		copy(sum[:], payload[i+8:i+40])
		i += 40
		h, ok := local[gid]
		if !ok {
			continue
		}
		want := HandleChecksum(gid, h)
		if sum != want {
			return &MismatchError{GlobalID: gid}
		}
	}
	return nil
}
