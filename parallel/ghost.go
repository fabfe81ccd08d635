package parallel

import (
	"math"
	"strconv"

	"github.com/judajake/meshdb/internal/lrucache"
	"github.com/judajake/meshdb/internal/pools"
	"github.com/judajake/meshdb/pkg/handle"
	"github.com/judajake/meshdb/pkg/meshtype"
)

// GhostEntity is a locally materialized copy of an entity owned by a
// remote rank, plus enough information to translate its connectivity
// once the owning rank's handles are known locally.
type GhostEntity struct {
	RemoteHandle handle.Handle
	RemoteRank   int
	Type         meshtype.Type
	RemoteConn   []handle.Handle
	LocalHandle  handle.Handle
}

// GhostCache bounds how many materialized-ghost records a rank keeps
// cached at once, via the ARC policy in internal/lrucache, keyed by a
// (remote rank, remote handle) composite packed into a uint64. Evicting a
// record does not delete the ghost entity from the mesh.
type GhostCache struct {
	cache *lrucache.Cache
}

// NewGhostCache creates a GhostCache with the given entity capacity
// (config.GhostCacheCapacity).
func NewGhostCache(capacity int) *GhostCache {
	return &GhostCache{cache: lrucache.New(capacity)}
}

func ghostKey(remoteRank int, remoteHandle handle.Handle) uint64 {
	return uint64(remoteRank)<<48 ^ uint64(remoteHandle)
}

// Get returns the cached GhostEntity materialized from remoteRank's
// remoteHandle, if still resident.
func (gc *GhostCache) Get(remoteRank int, remoteHandle handle.Handle) (*GhostEntity, bool) {
	v, ok := gc.cache.Get(ghostKey(remoteRank, remoteHandle))
	if !ok {
		return nil, false
	}
	return v.(*GhostEntity), true
}

// Put records g as materialized, possibly evicting a least-valuable
// existing ghost entity per the ARC policy.
func (gc *GhostCache) Put(g *GhostEntity) {
	gc.cache.Put(ghostKey(g.RemoteRank, g.RemoteHandle), g)
}

// Stats returns the underlying cache's hit/miss counters, surfaced
// through internal/diag.
func (gc *GhostCache) Stats() (hits, misses int64) {
	return gc.cache.Stats()
}

// remoteHandleMap translates a remote rank's handles to this rank's
// locally materialized handles for the same logical entities, seeded by
// shared-entity resolution and grown as ghost layers are received.
type remoteHandleMap map[int]map[handle.Handle]handle.Handle

func newRemoteHandleMap() remoteHandleMap {
	return make(remoteHandleMap)
}

func (m remoteHandleMap) set(remoteRank int, remote, local handle.Handle) {
	if m[remoteRank] == nil {
		m[remoteRank] = make(map[handle.Handle]handle.Handle)
	}
	m[remoteRank][remote] = local
}

func (m remoteHandleMap) get(remoteRank int, remote handle.Handle) (handle.Handle, bool) {
	local, ok := m[remoteRank][remote]
	return local, ok
}

// ExchangeGhostCells materializes read-only copies of near-boundary
// remote entities: starting from the shared interface entities resolution produced, it
// computes layer-0 ghost candidates of ghostDim incident (through
// bridgeDim) to interface entities shared with each peer, expands
// numLayers-1 further times, and ships each peer's ghost set as packed
// entity definitions (vertex coordinates, element connectivity in
// sender handles) over the crossbar. Receivers allocate local handles
// through L1, translate connectivity via the per-peer handle map seeded
// during resolution, and mark new entities ghost and not-owned.
func (pc *ParallelComm) ExchangeGhostCells(shared []SharedEntity, ghostDim, bridgeDim, numLayers int) error {
	tc := pc.trace("exchange_ghost_cells")
	defer tc.EndTrace()

	// per-peer frontier of elements already shipped, so layer l+1 only
	// sends what layer l has not.
	sent := make(map[int]map[handle.Handle]bool)
	frontier := make(map[int][]handle.Handle)
	for _, peer := range pc.peers {
		sent[peer] = make(map[handle.Handle]bool)
		for _, se := range shared {
			if !containsRank(se.Owners, peer) {
				continue
			}
			frontier[peer] = append(frontier[peer], se.Local)
		}
	}

	for l := 0; l < numLayers; l++ {
		tc.StartSpan("ghost_layer", "layer="+strconv.Itoa(l))
		phaseID := pc.nextPhaseID()
		for _, peer := range pc.peers {
			elems, err := pc.ghostCandidates(frontier[peer], ghostDim, bridgeDim, l == 0, sent[peer])
			if err != nil {
				return err
			}
			frontier[peer] = elems
			buf, err := pc.packGhostLayer(elems)
			if err != nil {
				return err
			}
			if err := pc.cb.Send(Tuple{From: pc.rank, To: peer, PhaseID: phaseID, Kind: "ghost", Payload: buf}); err != nil {
				return err
			}
		}
		received, err := pc.cb.RecvAll(pc.rank, phaseID, len(pc.peers))
		if err != nil {
			return err
		}
		for _, tup := range received {
			if err := pc.materializeGhostLayer(tup.From, tup.Payload); err != nil {
				return err
			}
		}
		pc.Barrier()
		tc.EndSpan("ghost_layer")
	}
	return nil
}

// ghostCandidates expands one ghost layer: from a frontier of entities
// (interface entities on layer 0, previously shipped elements after),
// derive the locally owned ghostDim elements reachable through
// bridgeDim, excluding anything already shipped to this peer.
func (pc *ParallelComm) ghostCandidates(frontier []handle.Handle, ghostDim, bridgeDim int, first bool, alreadySent map[handle.Handle]bool) ([]handle.Handle, error) {
	var bridges []handle.Handle
	if first {
		bridges = frontier
	} else {
		seen := make(map[handle.Handle]bool)
		for _, e := range frontier {
			down, err := pc.iface.GetAdjacencies(e, bridgeDim, false)
			if err != nil {
				continue
			}
			for _, b := range down {
				if !seen[b] {
					seen[b] = true
					bridges = append(bridges, b)
				}
			}
		}
	}

	var out []handle.Handle
	for _, b := range bridges {
		ups, err := pc.iface.GetAdjacencies(b, ghostDim, false)
		if err != nil {
			continue
		}
		for _, e := range ups {
			if alreadySent[e] || pc.isGhost(e) {
				continue
			}
			alreadySent[e] = true
			out = append(out, e)
		}
	}
	return out, nil
}

// isGhost reports whether e is itself a ghost (not-owned) copy, which
// must never be re-shipped to a third rank.
func (pc *ParallelComm) isGhost(e handle.Handle) bool {
	status, err := pc.iface.TagData(TagStatus, e)
	if err != nil || len(status) == 0 {
		return false
	}
	return StatusFlag(status[0])&StatusGhost != 0
}

// packGhostLayer encodes one peer's ghost elements: first the vertex
// closure (sender handle + coordinates), then the elements (type, sender
// handle, connectivity in sender handles). Vertices the receiver already
// knows are translated through its handle map instead of duplicated.
func (pc *ParallelComm) packGhostLayer(elems []handle.Handle) ([]byte, error) {
	type vtx struct {
		h   handle.Handle
		xyz [3]float64
	}
	var verts []vtx
	seenVert := make(map[handle.Handle]bool)

	type elem struct {
		t    meshtype.Type
		h    handle.Handle
		conn []handle.Handle
	}
	var packedElems []elem

	for _, e := range elems {
		if pc.iface.EntityType(e) == meshtype.Vertex {
			if !seenVert[e] {
				seenVert[e] = true
				xyz, err := pc.iface.Coordinates(e)
				if err != nil {
					return nil, err
				}
				verts = append(verts, vtx{h: e, xyz: xyz})
			}
			continue
		}
		conn, err := pc.iface.GetAdjacencies(e, 0, false)
		if err != nil {
			return nil, err
		}
		for _, v := range conn {
			if seenVert[v] {
				continue
			}
			seenVert[v] = true
			xyz, err := pc.iface.Coordinates(v)
			if err != nil {
				return nil, err
			}
			verts = append(verts, vtx{h: v, xyz: xyz})
		}
		packedElems = append(packedElems, elem{t: pc.iface.EntityType(e), h: e, conn: conn})
	}

	buf := pools.GetGhostBuffer()
	defer pools.PutGhostBuffer(buf)
	var scratch [8]byte
	writeU64 := func(v uint64) { buf.Write(appendUint64(scratch[:0], v)) }

	writeU64(uint64(len(verts)))
	for _, v := range verts {
		writeU64(uint64(v.h))
		for _, c := range v.xyz {
			writeU64(math.Float64bits(c))
		}
	}
	writeU64(uint64(len(packedElems)))
	for _, e := range packedElems {
		buf.WriteByte(byte(e.t))
		writeU64(uint64(e.h))
		writeU64(uint64(len(e.conn)))
		for _, c := range e.conn {
			writeU64(uint64(c))
		}
	}
	return append([]byte(nil), buf.Bytes()...), nil
}

// materializeGhostLayer unpacks a peer's ghost buffer, allocating local
// handles for entities this rank has never seen and marking them ghost
// and not-owned.
func (pc *ParallelComm) materializeGhostLayer(from int, payload []byte) error {
	i := 0
	next := func() (uint64, bool) {
		if i+8 > len(payload) {
			return 0, false
		}
		v := readUint64(payload[i : i+8])
		i += 8
		return v, true
	}

	nverts, ok := next()
	if !ok {
		return nil
	}
	for v := uint64(0); v < nverts; v++ {
		rh64, ok := next()
		if !ok {
			return nil
		}
		remote := handle.Handle(rh64)
		var xyz [3]float64
		for c := 0; c < 3; c++ {
			bits, ok := next()
			if !ok {
				return nil
			}
			xyz[c] = math.Float64frombits(bits)
		}
		if _, ok := pc.peerHandles.get(from, remote); ok {
			continue
		}
		local, err := pc.iface.CreateVertex(xyz)
		if err != nil {
			return err
		}
		if err := pc.markGhost(local); err != nil {
			return err
		}
		pc.peerHandles.set(from, remote, local)
		pc.ghostCache.Put(&GhostEntity{RemoteHandle: remote, RemoteRank: from, Type: meshtype.Vertex, LocalHandle: local})
	}

	nelems, ok := next()
	if !ok {
		return nil
	}
	for e := uint64(0); e < nelems; e++ {
		if i >= len(payload) {
			return nil
		}
		t := meshtype.Type(payload[i])
		i++
		rh64, ok := next()
		if !ok {
			return nil
		}
		remote := handle.Handle(rh64)
		nconn, ok := next()
		if !ok {
			return nil
		}
		conn := make([]handle.Handle, 0, nconn)
		translatable := true
		for c := uint64(0); c < nconn; c++ {
			ch64, ok := next()
			if !ok {
				return nil
			}
			local, found := pc.peerHandles.get(from, handle.Handle(ch64))
			if !found {
				translatable = false
				continue
			}
			conn = append(conn, local)
		}
		if _, ok := pc.peerHandles.get(from, remote); ok || !translatable {
			continue
		}
		var local handle.Handle
		var err error
		switch t {
		case meshtype.Polygon:
			local, err = pc.iface.CreatePolygon(conn)
		case meshtype.Polyhedron:
			// A polyhedron's faces may not be resident on this rank;
			// polyhedron ghosting is not supported over this wire format.
			continue
		default:
			local, err = pc.iface.CreateElement(t, conn, len(conn))
		}
		if err != nil {
			return err
		}
		if err := pc.markGhost(local); err != nil {
			return err
		}
		pc.peerHandles.set(from, remote, local)
		pc.ghostCache.Put(&GhostEntity{RemoteHandle: remote, RemoteRank: from, Type: t, RemoteConn: conn, LocalHandle: local})
	}
	return nil
}

func (pc *ParallelComm) markGhost(local handle.Handle) error {
	return pc.iface.SetTagData(TagStatus, local, []byte{byte(StatusGhost | StatusNotOwned)})
}

func containsRank(ranks []int, r int) bool {
	for _, x := range ranks {
		if x == r {
			return true
		}
	}
	return false
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return append(buf, b[:]...)
}

func readUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
