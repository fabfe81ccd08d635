package parallel

import (
	"strconv"

	"github.com/judajake/meshdb/internal/merr"
	"github.com/judajake/meshdb/logger"
	"github.com/judajake/meshdb/meshdb"
	"github.com/judajake/meshdb/pkg/tagserver"
)

// MaxSharedProcs bounds the length of the shared-procs/shared-handles
// wire-format arrays. An entity shared by more ranks than this is still
// tracked correctly for ownership purposes, but only the first
// MaxSharedProcs-1 peers are recorded in the fixed-size tag, which
// terminates with a -1 entry.
const MaxSharedProcs = 16

// Sharing tag names, the persistent wire format for parallel state.
const (
	TagSharedProc    = "shared-proc"
	TagSharedProcs   = "shared-procs"
	TagSharedHandle  = "shared-handle"
	TagSharedHandles = "shared-handles"
	TagStatus        = "status"
)

// StatusFlag is a bit in the `status` sharing tag.
type StatusFlag byte

const (
	StatusShared StatusFlag = 1 << iota
	StatusNotOwned
	StatusInterface
	StatusGhost
	StatusMultiShared
)

// ParallelComm is one rank's L6 state: its local Interface, its
// position in the rank set, and the crossbar/barrier it shares with
// every other rank in this run.
type ParallelComm struct {
	iface *meshdb.Interface
	rank  int
	peers []int // every other rank in this communicator

	cb      *Crossbar
	barrier *Barrier

	ghostCache *GhostCache

	// peerHandles maps a peer rank's handle for a shared or ghost entity
	// to this rank's local handle for the same logical entity. Populated
	// during shared-entity resolution and grown by ghost exchange.
	peerHandles remoteHandleMap
}

// New creates a ParallelComm for iface at the given rank among
// numRanks total ranks, sharing cb and barrier with its peers, and
// registers the sharing tags if they do not already exist.
func New(iface *meshdb.Interface, rank, numRanks int, cb *Crossbar, barrier *Barrier, ghostCacheCapacity int) (*ParallelComm, error) {
	peers := make([]int, 0, numRanks-1)
	for r := 0; r < numRanks; r++ {
		if r != rank {
			peers = append(peers, r)
		}
	}
	pc := &ParallelComm{
		iface:      iface,
		rank:       rank,
		peers:      peers,
		cb:         cb,
		barrier:    barrier,
		ghostCache:  NewGhostCache(ghostCacheCapacity),
		peerHandles: newRemoteHandleMap(),
	}
	if err := pc.registerSharingTags(); err != nil {
		return nil, err
	}
	return pc, nil
}

func (pc *ParallelComm) registerSharingTags() error {
	if _, err := pc.iface.CreateTag(TagSharedProc, tagserver.Sparse, 4, nil); err != nil && err != merr.ErrAlreadyAllocated {
		return err
	}
	if _, err := pc.iface.CreateTag(TagSharedProcs, tagserver.Sparse, 4*MaxSharedProcs, nil); err != nil && err != merr.ErrAlreadyAllocated {
		return err
	}
	if _, err := pc.iface.CreateTag(TagSharedHandle, tagserver.Sparse, 8, nil); err != nil && err != merr.ErrAlreadyAllocated {
		return err
	}
	if _, err := pc.iface.CreateTag(TagSharedHandles, tagserver.Sparse, 8*MaxSharedProcs, nil); err != nil && err != merr.ErrAlreadyAllocated {
		return err
	}
	// status is a byte-wide bitfield (5 flags), the widest a bit tag
	// allows.
	if _, err := pc.iface.CreateTag(TagStatus, tagserver.Bit, 8, []byte{0}); err != nil && err != merr.ErrAlreadyAllocated {
		return err
	}
	return nil
}

// Rank returns this communicator's rank number.
func (pc *ParallelComm) Rank() int { return pc.rank }

// Peers returns every other rank in this communicator.
func (pc *ParallelComm) Peers() []int { return append([]int(nil), pc.peers...) }

// Barrier blocks until every rank in the communicator reaches this call,
// delimiting an L6 phase boundary.
func (pc *ParallelComm) Barrier() { pc.barrier.Wait() }

// trace opens a phase trace; callers defer the returned context's
// EndTrace and may open spans on it for sub-steps (tuple exchanges,
// ghost layers). The context is nil-safe when tracing is disabled.
func (pc *ParallelComm) trace(operation string) *logger.TraceContext {
	return logger.StartTrace(operation, pc.rankInfo())
}

func (pc *ParallelComm) rankInfo() string {
	s := "rank=" + strconv.Itoa(pc.rank) + " peers=["
	for i, p := range pc.peers {
		if i > 0 {
			s += ","
		}
		s += strconv.Itoa(p)
	}
	return s + "]"
}
