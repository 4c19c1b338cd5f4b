package index

import (
	"container/heap"
	"sort"

	"github.com/genomewalker/chitta/internal/encoding"
	"github.com/genomewalker/chitta/pkg/primitive"
)

// Hierarchical ANN graph over the connection-pool arena.
//
// Each node owns one arena block sized by its level at insert time:
//
//	[u8 levels][7 pad]
//	per level l: [u16 count][2 pad][cap_l × (u32 neighbor slot, f32 dist)]
//
// Level 0 holds up to 2M neighbors, higher levels up to M. Levels are
// assigned randomly with exponentially decreasing probability. Search
// greedily descends from the entry point, then runs a bounded beam on
// level 0. Distances are 1 − approximate cosine.

const annMaxLevel = 16

// Candidate is one ANN search result.
type Candidate struct {
	Slot uint32
	ID   primitive.NodeID
	Cos  float32
}

func (ix *Index) annCap(level int) int {
	if level == 0 {
		return ix.opts.M * 2
	}
	return ix.opts.M
}

func (ix *Index) annLevelOff(level int) int {
	off := 8
	for l := 0; l < level; l++ {
		off += 4 + ix.annCap(l)*8
	}
	return off
}

func (ix *Index) annBlockSize(levels int) int {
	return ix.annLevelOff(levels)
}

// selectLevel draws a level with a halving distribution, capped.
func (ix *Index) selectLevel() int {
	level := 0
	for ix.rng.Float64() < 0.5 && level < annMaxLevel {
		level++
	}
	return level
}

func (ix *Index) annOffOf(slot uint32) uint64 {
	return encoding.Uint64(ix.meta(slot), moAnnOff)
}

// annNeighbors reads the neighbor slots at a level.
func (ix *Index) annNeighbors(slot uint32, level int) []uint32 {
	off := ix.annOffOf(slot)
	if off == 0 {
		return nil
	}
	levels := int(ix.arena(off, 1)[0])
	if level >= levels {
		return nil
	}
	lo := uint64(ix.annLevelOff(level))
	capacity := ix.annCap(level)
	b := ix.arena(off+lo, uint64(4+capacity*8))
	count := int(b[0]) | int(b[1])<<8
	out := make([]uint32, count)
	for i := 0; i < count; i++ {
		out[i] = encoding.Uint32(b, 4+i*8)
	}
	return out
}

// annSetNeighbors rewrites a level's neighbor list in place; the block
// capacity is fixed at insert time so the list is truncated to capacity.
func (ix *Index) annSetNeighbors(slot uint32, level int, neighbors []annDist) {
	off := ix.annOffOf(slot)
	if off == 0 {
		return
	}
	capacity := ix.annCap(level)
	if len(neighbors) > capacity {
		neighbors = neighbors[:capacity]
	}
	lo := uint64(ix.annLevelOff(level))
	b := ix.arena(off+lo, uint64(4+capacity*8))
	b[0] = byte(len(neighbors))
	b[1] = byte(len(neighbors) >> 8)
	for i, n := range neighbors {
		encoding.SetUint32(b, 4+i*8, n.slot)
		encoding.SetFloat32(b, 4+i*8+4, n.dist)
	}
}

type annDist struct {
	slot uint32
	dist float32
}

// distSlots computes the distance between two stored vectors.
func (ix *Index) distSlots(a, b uint32) float32 {
	va := ix.vec(a)
	vb := ix.vec(b)
	normA := encoding.Float32(va, 4)
	normB := encoding.Float32(vb, 4)
	if normA == 0 || normB == 0 {
		return 1
	}
	dim := ix.header().dim()
	var dot int32
	for i := 0; i < dim; i++ {
		dot += int32(int8(va[8+i])) * int32(int8(vb[8+i]))
	}
	return 1 - float32(dot)/(normA*normB)
}

func (ix *Index) distToQuery(q primitive.QuantizedVector, slot uint32) float32 {
	return 1 - ix.cosAt(q, slot)
}

// annInsert links a fresh slot into the hierarchy.
func (ix *Index) annInsert(slot uint32, v primitive.QuantizedVector) error {
	level := ix.selectLevel()
	size := ix.annBlockSize(level + 1)
	off, err := ix.arenaAlloc(uint64(size))
	if err != nil {
		return err
	}
	// Zero the block and stamp the level count.
	b := ix.arena(off, uint64(size))
	for i := range b {
		b[i] = 0
	}
	b[0] = byte(level + 1)
	m := ix.meta(slot)
	m[moLevel] = byte(level)
	encoding.SetUint64(m, moAnnOff, off)

	h := ix.header()
	entry := h.entrySlot()
	if entry == NoSlot {
		h.setEntrySlot(slot)
		h.setMaxLevel(level)
		return nil
	}

	maxLevel := h.maxLevel()
	curr := []annDist{{slot: entry, dist: ix.distToQuery(v, entry)}}

	// Greedy descent through layers above the new node's level.
	for lc := maxLevel; lc > level; lc-- {
		curr = ix.searchLayer(v, curr, 1, lc)
	}

	// Connect at each layer from min(level, maxLevel) down to 0.
	start := level
	if start > maxLevel {
		start = maxLevel
	}
	for lc := start; lc >= 0; lc-- {
		candidates := ix.searchLayer(v, curr, ix.opts.EfConstruction, lc)
		m := ix.annCap(lc)
		selected := ix.selectNeighbors(candidates, m)
		ix.annSetNeighbors(slot, lc, selected)

		for _, n := range selected {
			ix.annConnect(n.slot, slot, n.dist, lc)
		}
		curr = selected
	}

	if level > maxLevel {
		h.setEntrySlot(slot)
		h.setMaxLevel(level)
	}
	return nil
}

// annConnect adds a reverse link, pruning the target's list with the
// diversity heuristic when it overflows.
func (ix *Index) annConnect(target, neighbor uint32, dist float32, level int) {
	existing := ix.annNeighbors(target, level)
	for _, s := range existing {
		if s == neighbor {
			return
		}
	}
	capacity := ix.annCap(level)
	list := make([]annDist, 0, len(existing)+1)
	for _, s := range existing {
		list = append(list, annDist{slot: s, dist: ix.distSlots(target, s)})
	}
	list = append(list, annDist{slot: neighbor, dist: dist})
	if len(list) > capacity {
		list = ix.selectNeighbors(list, capacity)
	}
	ix.annSetNeighbors(target, level, list)
}

// selectNeighbors keeps the diverse best m candidates: a candidate is
// kept only if it is closer to the query point than to every already
// selected neighbor, which spreads links across clusters.
func (ix *Index) selectNeighbors(candidates []annDist, m int) []annDist {
	sorted := make([]annDist, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].dist < sorted[j].dist })
	if len(sorted) <= m {
		return sorted
	}

	selected := make([]annDist, 0, m)
	for _, c := range sorted {
		if len(selected) == m {
			break
		}
		diverse := true
		for _, s := range selected {
			if ix.distSlots(c.slot, s.slot) < c.dist {
				diverse = false
				break
			}
		}
		if diverse {
			selected = append(selected, c)
		}
	}
	// Backfill with nearest leftovers if the heuristic was too strict.
	for _, c := range sorted {
		if len(selected) == m {
			break
		}
		found := false
		for _, s := range selected {
			if s.slot == c.slot {
				found = true
				break
			}
		}
		if !found {
			selected = append(selected, c)
		}
	}
	return selected
}

// searchLayer runs a bounded best-first beam at one layer.
func (ix *Index) searchLayer(q primitive.QuantizedVector, entries []annDist, ef, level int) []annDist {
	visited := make(map[uint32]bool, ef*4)
	candidates := &annHeap{}     // min-heap by distance
	results := &annHeap{max: true} // max-heap: worst of the best on top

	for _, e := range entries {
		if visited[e.slot] {
			continue
		}
		visited[e.slot] = true
		heap.Push(candidates, e)
		heap.Push(results, e)
	}

	for candidates.Len() > 0 {
		curr := heap.Pop(candidates).(annDist)
		if results.Len() >= ef && curr.dist > (*results).items[0].dist {
			break
		}
		for _, n := range ix.annNeighbors(curr.slot, level) {
			if visited[n] {
				continue
			}
			visited[n] = true
			d := ix.distToQuery(q, n)
			if results.Len() < ef || d < (*results).items[0].dist {
				heap.Push(candidates, annDist{slot: n, dist: d})
				heap.Push(results, annDist{slot: n, dist: d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]annDist, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(annDist)
	}
	return out
}

// Search returns up to k live candidates by descending cosine.
func (ix *Index) Search(q primitive.QuantizedVector, k, ef int) []Candidate {
	h := ix.header()
	entry := h.entrySlot()
	if entry == NoSlot || k <= 0 {
		return nil
	}
	if ef < k {
		ef = k * 2
	}

	curr := []annDist{{slot: entry, dist: ix.distToQuery(q, entry)}}
	for level := h.maxLevel(); level > 0; level-- {
		curr = ix.searchLayer(q, curr, 1, level)
	}
	found := ix.searchLayer(q, curr, ef, 0)

	out := make([]Candidate, 0, k)
	for _, f := range found {
		if ix.meta(f.slot)[moFlags]&FlagTombstone != 0 {
			continue
		}
		out = append(out, Candidate{
			Slot: f.slot,
			ID:   ix.ids[f.slot],
			Cos:  1 - f.dist,
		})
		if len(out) == k {
			break
		}
	}
	return out
}

// annHeap is a distance-ordered heap over annDist.
type annHeap struct {
	items []annDist
	max   bool
}

func (h *annHeap) Len() int { return len(h.items) }
func (h *annHeap) Less(i, j int) bool {
	if h.max {
		return h.items[i].dist > h.items[j].dist
	}
	return h.items[i].dist < h.items[j].dist
}
func (h *annHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *annHeap) Push(x any)    { h.items = append(h.items, x.(annDist)) }
func (h *annHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}
