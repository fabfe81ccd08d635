package parallel

import (
	"sort"
	"strconv"

	"github.com/judajake/meshdb/internal/bloom"
	"github.com/judajake/meshdb/internal/pools"
	"github.com/judajake/meshdb/pkg/handle"
)

// GlobalIDTag is the tag name shared-entity resolution reads to
// determine cross-rank entity identity.
const GlobalIDTag = "GLOBAL_ID"

// SharedEntity describes one entity resolution determined to be held by
// more than one rank.
type SharedEntity struct {
	Local    handle.Handle
	GlobalID uint64
	Owners   []int // every rank holding this global id, ascending
	Owner    int   // lowest rank in Owners; the entity's owning rank

	// RemoteHandles maps each peer rank in Owners to that rank's local
	// handle for this entity, learned during the resolution exchange.
	RemoteHandles map[int]handle.Handle
}

// ResolveSharedEnts determines which local entities are held by other
// ranks too: it gathers (GLOBAL_ID, local handle) pairs for every owned
// vertex (or bridge-dimension entity), exchanges them pairwise via the
// crossbar's all-to-all, and for every global id seen on two or more
// ranks writes sharing tags and status flags onto the local copy.
// Sharing then propagates to higher-dimensional entities all of whose
// bounding vertices are shared with the same peer set.
//
// localGlobalIDs maps this rank's local handles (of the vertex or
// bridgeDim type being resolved) to their GLOBAL_ID tag values; the
// caller is responsible for having already populated that tag, since
// assigning global ids is a reader/writer concern outside L6.
func (pc *ParallelComm) ResolveSharedEnts(localGlobalIDs map[handle.Handle]uint64) ([]SharedEntity, error) {
	tc := pc.trace("resolve_shared_ents")
	defer tc.EndTrace()

	phaseID := pc.nextPhaseID()

	localIDs := make([]uint64, 0, len(localGlobalIDs))
	idToLocal := make(map[uint64]handle.Handle, len(localGlobalIDs))
	for h, gid := range localGlobalIDs {
		localIDs = append(localIDs, gid)
		idToLocal[gid] = h
	}

	tc.StartSpan("tuple_exchange", "ids="+strconv.Itoa(len(localIDs)))
	packed := packIDHandlePairs(localGlobalIDs)
	for _, peer := range pc.peers {
		if err := pc.cb.Send(Tuple{From: pc.rank, To: peer, PhaseID: phaseID, Kind: "resolve", Payload: packed}); err != nil {
			return nil, err
		}
	}
	received, err := pc.cb.RecvAll(pc.rank, phaseID, len(pc.peers))
	tc.EndSpan("tuple_exchange")
	if err != nil {
		return nil, err
	}

	// A bloom filter pre-filters which of this rank's ids are even
	// worth an exact-match check against an incoming peer's id list,
	// since in the common case most of a large mesh's interior ids
	// appear on no other rank at all.
	filter := bloom.New(uint(len(localIDs)), 0.01)
	for _, id := range localIDs {
		filter.Add(id)
	}

	owners := make(map[uint64][]int)
	remote := make(map[uint64]map[int]handle.Handle)
	for _, id := range localIDs {
		owners[id] = append(owners[id], pc.rank)
	}
	for _, tup := range received {
		pairs := unpackIDHandlePairs(tup.Payload)
		for _, p := range pairs {
			if !filter.MaybeContains(p.gid) {
				continue
			}
			local, ok := idToLocal[p.gid]
			if !ok {
				continue
			}
			owners[p.gid] = appendUniqueRank(owners[p.gid], tup.From)
			if remote[p.gid] == nil {
				remote[p.gid] = make(map[int]handle.Handle)
			}
			remote[p.gid][tup.From] = p.h
			pc.peerHandles.set(tup.From, p.h, local)
		}
	}

	var shared []SharedEntity
	for id, ranks := range owners {
		if len(ranks) < 2 {
			continue
		}
		sort.Ints(ranks)
		se := SharedEntity{
			Local:         idToLocal[id],
			GlobalID:      id,
			Owners:        ranks,
			Owner:         ranks[0],
			RemoteHandles: remote[id],
		}
		shared = append(shared, se)
		if err := pc.writeSharingTags(se); err != nil {
			return nil, err
		}
	}

	if err := pc.propagateSharing(shared); err != nil {
		return nil, err
	}

	pc.Barrier()
	return shared, nil
}

// writeSharingTags records se's peer set on the local entity using the
// scalar shared-proc/shared-handle tags when exactly two ranks hold it,
// or the capped vector shared-procs/shared-handles tags otherwise, and
// sets the shared/interface/not-owned status bits.
func (pc *ParallelComm) writeSharingTags(se SharedEntity) error {
	status := StatusShared | StatusInterface
	if se.Owner != pc.rank {
		status |= StatusNotOwned
	}

	if len(se.Owners) == 2 {
		peer := se.Owners[0]
		if peer == pc.rank {
			peer = se.Owners[1]
		}
		if err := pc.iface.SetTagData(TagSharedProc, se.Local, int32ToBytes(int32(peer))); err != nil {
			return err
		}
		if h, ok := se.RemoteHandles[peer]; ok {
			if err := pc.iface.SetTagData(TagSharedHandle, se.Local, handleToBytes(h)); err != nil {
				return err
			}
		}
	} else {
		status |= StatusMultiShared
		procs := make([]byte, 4*MaxSharedProcs)
		hdls := make([]byte, 8*MaxSharedProcs)
		i := 0
		for _, r := range se.Owners {
			if r == pc.rank || i >= MaxSharedProcs-1 {
				continue
			}
			copy(procs[i*4:i*4+4], int32ToBytes(int32(r)))
			copy(hdls[i*8:i*8+8], handleToBytes(se.RemoteHandles[r]))
			i++
		}
		copy(procs[i*4:i*4+4], int32ToBytes(-1))
		if err := pc.iface.SetTagData(TagSharedProcs, se.Local, procs); err != nil {
			return err
		}
		if err := pc.iface.SetTagData(TagSharedHandles, se.Local, hdls); err != nil {
			return err
		}
	}
	return pc.iface.SetTagData(TagStatus, se.Local, []byte{byte(status)})
}

// propagateSharing marks higher-dimensional entities shared when every
// one of their bounding vertices is shared with the same peer set: such
// an entity necessarily exists on each of those peers too, so its status
// and peer tags can be written without another exchange round.
func (pc *ParallelComm) propagateSharing(shared []SharedEntity) error {
	ownersByVertex := make(map[handle.Handle][]int, len(shared))
	for _, se := range shared {
		ownersByVertex[se.Local] = se.Owners
	}

	visited := make(map[handle.Handle]bool)
	for _, se := range shared {
		for dim := 1; dim <= 3; dim++ {
			ups, err := pc.iface.GetAdjacencies(se.Local, dim, false)
			if err != nil {
				continue
			}
			for _, e := range ups {
				if visited[e] {
					continue
				}
				visited[e] = true
				peerSet, ok := commonPeerSet(pc.iface, e, ownersByVertex)
				if !ok || len(peerSet) < 2 {
					continue
				}
				pse := SharedEntity{
					Local:         e,
					Owners:        peerSet,
					Owner:         peerSet[0],
					RemoteHandles: map[int]handle.Handle{},
				}
				if err := pc.writeSharingTags(pse); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// commonPeerSet intersects the owner sets of e's bounding vertices,
// returning ok=false if any vertex is unshared.
func commonPeerSet(iface ifaceAdjacency, e handle.Handle, ownersByVertex map[handle.Handle][]int) ([]int, bool) {
	verts, err := iface.GetAdjacencies(e, 0, false)
	if err != nil || len(verts) == 0 {
		return nil, false
	}
	var common []int
	for i, v := range verts {
		owners, ok := ownersByVertex[v]
		if !ok {
			return nil, false
		}
		if i == 0 {
			common = append([]int(nil), owners...)
			continue
		}
		common = intersectRanks(common, owners)
		if len(common) < 2 {
			return nil, false
		}
	}
	return common, true
}

// ifaceAdjacency is the slice of meshdb.Interface propagateSharing needs,
// factored out so commonPeerSet is testable without a full communicator.
type ifaceAdjacency interface {
	GetAdjacencies(entity handle.Handle, toDimension int, createIfMissing bool) ([]handle.Handle, error)
}

func intersectRanks(a, b []int) []int {
	inB := make(map[int]bool, len(b))
	for _, r := range b {
		inB[r] = true
	}
	out := a[:0]
	for _, r := range a {
		if inB[r] {
			out = append(out, r)
		}
	}
	return out
}

func appendUniqueRank(list []int, r int) []int {
	for _, e := range list {
		if e == r {
			return list
		}
	}
	return append(list, r)
}

type idHandlePair struct {
	gid uint64
	h   handle.Handle
}

func packIDHandlePairs(m map[handle.Handle]uint64) []byte {
	buf := pools.GetBuffer()
	defer pools.PutBuffer(buf)
	var scratch [8]byte
	for h, gid := range m {
		buf.Write(appendUint64(scratch[:0], gid))
		buf.Write(appendUint64(scratch[:0], uint64(h)))
	}
	return append([]byte(nil), buf.Bytes()...)
}

func unpackIDHandlePairs(payload []byte) []idHandlePair {
	out := make([]idHandlePair, 0, len(payload)/16)
	for i := 0; i+16 <= len(payload); i += 16 {
		out = append(out, idHandlePair{
			gid: readUint64(payload[i : i+8]),
			h:   handle.Handle(readUint64(payload[i+8 : i+16])),
		})
	}
	return out
}

func int32ToBytes(v int32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func handleToBytes(h handle.Handle) []byte {
	return appendUint64(nil, uint64(h))
}
