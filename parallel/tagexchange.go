package parallel

import "github.com/judajake/meshdb/pkg/handle"

// ExchangeTags synchronizes a tag's values across ranks: for each shared
// entity this rank owns, send (global-id, value) to every peer that
// shares it, and overwrite the local value upon receipt of a peer's
// update. Every rank sends exactly one tuple per peer (possibly empty)
// so the phase can use the same bounded RecvAll primitive as resolve and
// ghost exchange.
func (pc *ParallelComm) ExchangeTags(tagName string, entities []SharedEntity) error {
	tc := pc.trace("exchange_tags")
	defer tc.EndTrace()

	phaseID := pc.nextPhaseID()

	tc.StartSpan("tuple_exchange", "tag="+tagName)
	for _, peer := range pc.peers {
		buf, err := pc.packTagValues(tagName, entities, peer)
		if err != nil {
			return err
		}
		if err := pc.cb.Send(Tuple{From: pc.rank, To: peer, PhaseID: phaseID, Kind: "tag:" + tagName, Payload: buf}); err != nil {
			return err
		}
	}

	received, err := pc.cb.RecvAll(pc.rank, phaseID, len(pc.peers))
	tc.EndSpan("tuple_exchange")
	if err != nil {
		return err
	}

	byGlobalID := make(map[uint64]handle.Handle, len(entities))
	for _, se := range entities {
		byGlobalID[se.GlobalID] = se.Local
	}
	for _, tup := range received {
		pc.applyTagValues(tagName, byGlobalID, tup.Payload)
	}

	pc.Barrier()
	return nil
}

func (pc *ParallelComm) packTagValues(tagName string, entities []SharedEntity, peer int) ([]byte, error) {
	var selected []SharedEntity
	var handles []handle.Handle
	for _, se := range entities {
		if se.Owner != pc.rank {
			continue
		}
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
		selected = append(selected, se)
		handles = append(handles, se.Local)
	}
	if len(selected) == 0 {
		return nil, nil
	}

	values, err := pc.iface.TagDataMany(tagName, handles)
	if err != nil {
		return nil, err
	}

	var buf []byte
	for i, se := range selected {
		buf = appendUint64(buf, se.GlobalID)
		buf = appendUint64(buf, uint64(len(values[i])))
		buf = append(buf, values[i]...)
	}
	return buf, nil
}

func (pc *ParallelComm) applyTagValues(tagName string, byGlobalID map[uint64]handle.Handle, payload []byte) {
	i := 0
	for i+16 <= len(payload) {
		gid := readUint64(payload[i : i+8])
		n := int(readUint64(payload[i+8 : i+16]))
		i += 16
		if i+n > len(payload) {
			return
		}
		value := payload[i : i+n]
		i += n
		if local, ok := byGlobalID[gid]; ok {
			_ = pc.iface.SetTagData(tagName, local, value)
		}
	}
}
