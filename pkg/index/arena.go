package index

import (
	"github.com/genomewalker/chitta/internal/encoding"
	"github.com/genomewalker/chitta/pkg/primitive"
)

// Arena-resident per-node structures: edge lists and tag sets. Blocks are
// never freed in place; a rewrite allocates a fresh block and repoints the
// meta offset. Edge targets are stored by slot (slots are stable for the
// lifetime of a file), and resolved back to identifiers on read.

const (
	edgeBlockHeader = 8  // u16 cap, u16 count, 4 reserved
	edgeEntrySize   = 12 // u32 target slot, u8 type, 3 pad, f32 weight
	tagBlockHeader  = 8  // u16 count, 6 reserved
)

// writeEdges replaces slot's edge list with a fresh arena block.
func (ix *Index) writeEdges(slot uint32, edges []Edge) error {
	m := ix.meta(slot)
	if len(edges) == 0 {
		encoding.SetUint64(m, moEdgeOff, 0)
		return nil
	}
	capacity := len(edges)*2 + 2
	off, err := ix.arenaAlloc(uint64(edgeBlockHeader + capacity*edgeEntrySize))
	if err != nil {
		return err
	}
	b := ix.arena(off, uint64(edgeBlockHeader+capacity*edgeEntrySize))
	b[0] = byte(capacity)
	b[1] = byte(capacity >> 8)
	b[2] = byte(len(edges))
	b[3] = byte(len(edges) >> 8)
	for i, e := range edges {
		target, ok := ix.slotOf(e.Target)
		if !ok {
			return ErrUnknownNode
		}
		eo := edgeBlockHeader + i*edgeEntrySize
		encoding.SetUint32(b, eo, target)
		b[eo+4] = byte(e.Type)
		encoding.SetFloat32(b, eo+8, e.Weight)
	}
	// meta may have moved if arenaAlloc resized; re-fetch it.
	encoding.SetUint64(ix.meta(slot), moEdgeOff, off)
	return nil
}

// readEdges materializes slot's outbound edges, skipping targets that
// were since tombstoned.
func (ix *Index) readEdges(slot uint32) []Edge {
	m := ix.meta(slot)
	off := encoding.Uint64(m, moEdgeOff)
	if off == 0 {
		return nil
	}
	head := ix.arena(off, edgeBlockHeader)
	capacity := int(head[0]) | int(head[1])<<8
	count := int(head[2]) | int(head[3])<<8
	b := ix.arena(off, uint64(edgeBlockHeader+capacity*edgeEntrySize))
	edges := make([]Edge, 0, count)
	for i := 0; i < count; i++ {
		eo := edgeBlockHeader + i*edgeEntrySize
		target := encoding.Uint32(b, eo)
		if uint64(target) >= uint64(len(ix.ids)) {
			continue
		}
		if ix.meta(target)[moFlags]&FlagTombstone != 0 {
			continue
		}
		edges = append(edges, Edge{
			Target: ix.ids[target],
			Type:   EdgeType(b[eo+4]),
			Weight: encoding.Float32(b, eo+8),
		})
	}
	return edges
}

// AddEdge upserts one outbound edge; an existing (target, type) pair has
// its weight overwritten. The target must be a known node.
func (ix *Index) AddEdge(id primitive.NodeID, e Edge) error {
	if ix.readOnly {
		return ErrReadOnly
	}
	slot, ok := ix.slotOf(id)
	if !ok {
		return ErrUnknownNode
	}
	targetSlot, ok := ix.slotOf(e.Target)
	if !ok {
		return ErrUnknownNode
	}

	off := encoding.Uint64(ix.meta(slot), moEdgeOff)
	if off != 0 {
		head := ix.arena(off, edgeBlockHeader)
		capacity := int(head[0]) | int(head[1])<<8
		count := int(head[2]) | int(head[3])<<8
		b := ix.arena(off, uint64(edgeBlockHeader+capacity*edgeEntrySize))
		for i := 0; i < count; i++ {
			eo := edgeBlockHeader + i*edgeEntrySize
			if encoding.Uint32(b, eo) == targetSlot && EdgeType(b[eo+4]) == e.Type {
				encoding.SetFloat32(b, eo+8, e.Weight)
				return nil
			}
		}
		if count < capacity {
			eo := edgeBlockHeader + count*edgeEntrySize
			encoding.SetUint32(b, eo, targetSlot)
			b[eo+4] = byte(e.Type)
			encoding.SetFloat32(b, eo+8, e.Weight)
			b[2] = byte(count + 1)
			b[3] = byte((count + 1) >> 8)
			return nil
		}
	}

	// No room (or no block yet): rewrite with the new edge appended.
	edges := append(ix.readEdges(slot), e)
	return ix.writeEdges(slot, edges)
}

// RemoveEdge drops the (target, type) edge if present.
func (ix *Index) RemoveEdge(id, target primitive.NodeID, t EdgeType) error {
	if ix.readOnly {
		return ErrReadOnly
	}
	slot, ok := ix.slotOf(id)
	if !ok {
		return ErrUnknownNode
	}
	edges := ix.readEdges(slot)
	kept := edges[:0]
	for _, e := range edges {
		if e.Target == target && e.Type == t {
			continue
		}
		kept = append(kept, e)
	}
	if len(kept) == len(edges) {
		return nil
	}
	return ix.writeEdges(slot, kept)
}

// EdgeWeight returns the weight of the (id, target, type) edge.
func (ix *Index) EdgeWeight(id, target primitive.NodeID, t EdgeType) (float32, bool) {
	slot, ok := ix.slotOf(id)
	if !ok {
		return 0, false
	}
	for _, e := range ix.readEdges(slot) {
		if e.Target == target && e.Type == t {
			return e.Weight, true
		}
	}
	return 0, false
}

// EdgesOf returns a node's outbound edges.
func (ix *Index) EdgesOf(id primitive.NodeID) ([]Edge, error) {
	slot, ok := ix.slotOf(id)
	if !ok {
		return nil, ErrUnknownNode
	}
	return ix.readEdges(slot), nil
}

// writeTags replaces slot's tag set with a fresh arena block.
func (ix *Index) writeTags(slot uint32, tags []string) error {
	if len(tags) == 0 {
		encoding.SetUint64(ix.meta(slot), moTagOff, 0)
		return nil
	}
	size := tagBlockHeader
	for _, t := range tags {
		size += 2 + len(t)
	}
	off, err := ix.arenaAlloc(uint64(size))
	if err != nil {
		return err
	}
	b := ix.arena(off, uint64(size))
	b[0] = byte(len(tags))
	b[1] = byte(len(tags) >> 8)
	pos := tagBlockHeader
	for _, t := range tags {
		b[pos] = byte(len(t))
		b[pos+1] = byte(len(t) >> 8)
		copy(b[pos+2:], t)
		pos += 2 + len(t)
	}
	encoding.SetUint64(ix.meta(slot), moTagOff, off)
	return nil
}

// readTags materializes slot's tag set.
func (ix *Index) readTags(slot uint32) []string {
	off := encoding.Uint64(ix.meta(slot), moTagOff)
	if off == 0 {
		return nil
	}
	head := ix.arena(off, tagBlockHeader)
	count := int(head[0]) | int(head[1])<<8
	// Walk entries; sizes are self-describing.
	tags := make([]string, 0, count)
	pos := uint64(tagBlockHeader)
	for i := 0; i < count; i++ {
		lenB := ix.arena(off+pos, 2)
		n := uint64(lenB[0]) | uint64(lenB[1])<<8
		tags = append(tags, string(ix.arena(off+pos+2, n)))
		pos += 2 + n
	}
	return tags
}

// AddTag adds one tag; duplicates are no-ops.
func (ix *Index) AddTag(id primitive.NodeID, tag string) error {
	if ix.readOnly {
		return ErrReadOnly
	}
	slot, ok := ix.slotOf(id)
	if !ok {
		return ErrUnknownNode
	}
	tags := ix.readTags(slot)
	for _, t := range tags {
		if t == tag {
			return nil
		}
	}
	return ix.writeTags(slot, append(tags, tag))
}

// RemoveTag drops one tag if present.
func (ix *Index) RemoveTag(id primitive.NodeID, tag string) error {
	if ix.readOnly {
		return ErrReadOnly
	}
	slot, ok := ix.slotOf(id)
	if !ok {
		return ErrUnknownNode
	}
	tags := ix.readTags(slot)
	kept := tags[:0]
	for _, t := range tags {
		if t != tag {
			kept = append(kept, t)
		}
	}
	if len(kept) == len(tags) {
		return nil
	}
	return ix.writeTags(slot, kept)
}

// TagsOf returns a node's tag set.
func (ix *Index) TagsOf(id primitive.NodeID) ([]string, error) {
	slot, ok := ix.slotOf(id)
	if !ok {
		return nil, ErrUnknownNode
	}
	return ix.readTags(slot), nil
}
