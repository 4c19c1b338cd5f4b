package index

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/genomewalker/chitta/internal/encoding"
	"github.com/genomewalker/chitta/pkg/mmapfile"
	"github.com/genomewalker/chitta/pkg/primitive"
)

var (
	// ErrUnknownNode is returned when an id is not present.
	ErrUnknownNode = errors.New("index: unknown node")

	// ErrDimensionMismatch is returned when a vector's lane count does
	// not match the index dimension.
	ErrDimensionMismatch = errors.New("index: vector dimension mismatch")

	// ErrReadOnly is returned for mutations on a read-only index.
	ErrReadOnly = errors.New("index: read-only")
)

// Options tunes index creation.
type Options struct {
	Dim            int // vector dimension D
	InitialSlots   uint64
	M              int // max ANN links per node above level 0 (level 0 uses 2M)
	EfConstruction int
	ReadOnly       bool
}

// DefaultOptions returns the standard configuration.
func DefaultOptions(dim int) Options {
	return Options{
		Dim:            dim,
		InitialSlots:   1024,
		M:              16,
		EfConstruction: 200,
	}
}

// Index is the unified mapped index.
type Index struct {
	region   *mmapfile.Region
	path     string
	opts     Options
	ids      []primitive.NodeID // slot → id cache, rebuilt from the hash
	rng      *rand.Rand
	readOnly bool

	// onResize, when set, is invoked after any remap so callers can
	// refresh cached offsets. Interior pointers are never cached here;
	// every access reslices from the region.
	onResize func()
}

// Create builds a fresh index file at path.
func Create(path string, opts Options) (*Index, error) {
	if opts.Dim <= 0 {
		return nil, fmt.Errorf("index: dimension must be positive, got %d", opts.Dim)
	}
	if opts.InitialSlots == 0 {
		opts.InitialSlots = 1024
	}
	if opts.M == 0 {
		opts.M = 16
	}
	if opts.EfConstruction == 0 {
		opts.EfConstruction = 200
	}

	l := computeLayout(opts.InitialSlots, opts.InitialSlots*hashPerSlot, opts.Dim)
	arenaCap := alignArena(0)
	region, err := mmapfile.Create(path, Magic, FormatVersion, l.fileSize(arenaCap))
	if err != nil {
		return nil, err
	}

	ix := &Index{
		region: region,
		path:   path,
		opts:   opts,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	h := ix.header()
	h.setSlotCap(opts.InitialSlots)
	h.setHashCap(opts.InitialSlots * hashPerSlot)
	h.setDim(opts.Dim)
	h.setEntrySlot(NoSlot)
	h.setArenaCap(arenaCap)
	h.setArenaUsed(8) // offset 0 reserved as the nil arena offset
	ix.ids = make([]primitive.NodeID, 0, opts.InitialSlots)
	return ix, nil
}

// Open maps an existing index file, walking the upgrade chain if the
// stored format version is older than the current one. A newer version
// fails with mmapfile.ErrIncompatibleVersion.
func Open(path string, opts Options) (*Index, error) {
	region, err := mmapfile.Open(path, Magic, FormatVersion)
	if errors.Is(err, mmapfile.ErrIncompatibleVersion) {
		if region.Version() > FormatVersion {
			region.Close()
			return nil, err
		}
		if err := upgrade(region, path); err != nil {
			region.Close()
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	ix := &Index{
		region:   region,
		path:     path,
		opts:     opts,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		readOnly: opts.ReadOnly,
	}
	if opts.M == 0 {
		ix.opts.M = 16
	}
	if opts.EfConstruction == 0 {
		ix.opts.EfConstruction = 200
	}
	h := ix.header()
	if opts.Dim != 0 && h.dim() != opts.Dim {
		region.Close()
		return nil, fmt.Errorf("%w: file has %d, want %d", ErrDimensionMismatch, h.dim(), opts.Dim)
	}
	ix.opts.Dim = h.dim()
	ix.loadIDs()
	return ix, nil
}

// OpenReadOnly opens a snapshot or live file for reading only.
func OpenReadOnly(path string, dim int) (*Index, error) {
	opts := DefaultOptions(dim)
	opts.ReadOnly = true
	return Open(path, opts)
}

// SetResizeCallback registers fn to run after every remap.
func (ix *Index) SetResizeCallback(fn func()) { ix.onResize = fn }

// header returns the accessor view; never cache it across a resize.
func (ix *Index) header() header {
	return header{b: ix.region.Data()[:indexHeaderSize]}
}

func (ix *Index) layout() layout {
	h := ix.header()
	return computeLayout(h.slotCap(), h.hashCap(), h.dim())
}

// loadIDs rebuilds the slot→id cache by scanning the hash table.
func (ix *Index) loadIDs() {
	h := ix.header()
	ix.ids = make([]primitive.NodeID, h.slotCount())
	l := ix.layout()
	data := ix.region.Data()
	for i := uint64(0); i < h.hashCap(); i++ {
		off := l.hashOff + int64(i)*hashEntrySize
		if encoding.Uint32(data, int(off)+20) != hashOccupied {
			continue
		}
		id := primitive.NodeID{
			Hi: encoding.Uint64(data, int(off)),
			Lo: encoding.Uint64(data, int(off)+8),
		}
		slot := encoding.Uint32(data, int(off)+16)
		if uint64(slot) < uint64(len(ix.ids)) {
			ix.ids[slot] = id
		}
	}
}

// hashIndex mixes an id into a table position (splitmix-style finalizer).
func hashIndex(id primitive.NodeID, capacity uint64) uint64 {
	x := id.Hi ^ (id.Lo * 0x9E3779B97F4A7C15)
	x ^= x >> 30
	x *= 0xBF58476D1CE4E5B9
	x ^= x >> 27
	x *= 0x94D049BB133111EB
	x ^= x >> 31
	return x % capacity
}

// slotOf resolves an id through the hash table.
func (ix *Index) slotOf(id primitive.NodeID) (uint32, bool) {
	h := ix.header()
	l := ix.layout()
	data := ix.region.Data()
	capacity := h.hashCap()
	pos := hashIndex(id, capacity)
	for i := uint64(0); i < capacity; i++ {
		off := int(l.hashOff + int64(pos)*hashEntrySize)
		state := encoding.Uint32(data, off+20)
		if state == hashEmpty {
			return NoSlot, false
		}
		if state == hashOccupied &&
			encoding.Uint64(data, off) == id.Hi &&
			encoding.Uint64(data, off+8) == id.Lo {
			return encoding.Uint32(data, off+16), true
		}
		pos = (pos + 1) % capacity
	}
	return NoSlot, false
}

// hashInsert records id→slot. The caller guarantees the id is absent.
func (ix *Index) hashInsert(id primitive.NodeID, slot uint32) {
	h := ix.header()
	l := ix.layout()
	data := ix.region.Data()
	capacity := h.hashCap()
	pos := hashIndex(id, capacity)
	for {
		off := int(l.hashOff + int64(pos)*hashEntrySize)
		state := encoding.Uint32(data, off+20)
		if state != hashOccupied {
			encoding.SetUint64(data, off, id.Hi)
			encoding.SetUint64(data, off+8, id.Lo)
			encoding.SetUint32(data, off+16, slot)
			encoding.SetUint32(data, off+20, hashOccupied)
			return
		}
		pos = (pos + 1) % capacity
	}
}

// hashRemove tombstones the entry for id.
func (ix *Index) hashRemove(id primitive.NodeID) {
	h := ix.header()
	l := ix.layout()
	data := ix.region.Data()
	capacity := h.hashCap()
	pos := hashIndex(id, capacity)
	for i := uint64(0); i < capacity; i++ {
		off := int(l.hashOff + int64(pos)*hashEntrySize)
		state := encoding.Uint32(data, off+20)
		if state == hashEmpty {
			return
		}
		if state == hashOccupied &&
			encoding.Uint64(data, off) == id.Hi &&
			encoding.Uint64(data, off+8) == id.Lo {
			encoding.SetUint32(data, off+20, hashTombstone)
			return
		}
		pos = (pos + 1) % capacity
	}
}

// meta returns the 80-byte NodeMeta record for a slot.
func (ix *Index) meta(slot uint32) []byte {
	l := ix.layout()
	off := l.metaOff + int64(slot)*MetaSize
	return ix.region.Data()[off : off+MetaSize]
}

// vec returns the vector record bytes for a slot.
func (ix *Index) vec(slot uint32) []byte {
	l := ix.layout()
	stride := int64(vecStride(l.dim))
	off := l.vecOff + int64(slot)*stride
	return ix.region.Data()[off : off+stride]
}

func (ix *Index) writeVector(slot uint32, v primitive.QuantizedVector) {
	b := ix.vec(slot)
	encoding.SetFloat32(b, 0, v.Scale)
	encoding.SetFloat32(b, 4, v.Norm)
	for i, lane := range v.Lanes {
		b[8+i] = byte(lane)
	}
}

func (ix *Index) readVector(slot uint32) primitive.QuantizedVector {
	b := ix.vec(slot)
	dim := ix.header().dim()
	v := primitive.QuantizedVector{
		Scale: encoding.Float32(b, 0),
		Norm:  encoding.Float32(b, 4),
		Lanes: make([]int8, dim),
	}
	for i := 0; i < dim; i++ {
		v.Lanes[i] = int8(b[8+i])
	}
	return v
}

// cosAt computes the approximate cosine between a quantized query and the
// vector stored at slot, straight off the mapped bytes.
func (ix *Index) cosAt(q primitive.QuantizedVector, slot uint32) float32 {
	b := ix.vec(slot)
	norm := encoding.Float32(b, 4)
	if norm == 0 || q.Norm == 0 {
		return 0
	}
	var dot int32
	for i, lane := range q.Lanes {
		dot += int32(lane) * int32(int8(b[8+i]))
	}
	return float32(dot) / (q.Norm * norm)
}

// arenaAlloc reserves size bytes in the connection pool, growing the
// region (1.5×, 64 MiB aligned) when exhausted.
func (ix *Index) arenaAlloc(size uint64) (uint64, error) {
	size = (size + 7) &^ 7
	h := ix.header()
	used, capa := h.arenaUsed(), h.arenaCap()
	if used+size > capa {
		newCap := alignArena(maxU64(capa+capa/2, used+size))
		l := ix.layout()
		if err := ix.region.Resize(l.fileSize(newCap)); err != nil {
			return 0, err
		}
		ix.header().setArenaCap(newCap)
		if ix.onResize != nil {
			ix.onResize()
		}
		h = ix.header()
		used = h.arenaUsed()
	}
	h.setArenaUsed(used + size)
	return used, nil
}

// arena returns size bytes at arena-relative offset off.
func (ix *Index) arena(off, size uint64) []byte {
	l := ix.layout()
	base := l.arenaOff + int64(off)
	return ix.region.Data()[base : base+int64(size)]
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// Count returns the number of live nodes.
func (ix *Index) Count() uint64 { return ix.header().liveCount() }

// Dim returns the vector dimension.
func (ix *Index) Dim() int { return ix.header().dim() }

// SlotOf resolves an id to its slot.
func (ix *Index) SlotOf(id primitive.NodeID) (uint32, bool) { return ix.slotOf(id) }

// IDOf returns the id stored at a slot.
func (ix *Index) IDOf(slot uint32) (primitive.NodeID, bool) {
	if uint64(slot) >= uint64(len(ix.ids)) {
		return primitive.NodeID{}, false
	}
	if ix.meta(slot)[moFlags]&FlagTombstone != 0 {
		return primitive.NodeID{}, false
	}
	return ix.ids[slot], true
}

// Contains reports whether id names a live node.
func (ix *Index) Contains(id primitive.NodeID) bool {
	_, ok := ix.slotOf(id)
	return ok
}

// Insert upserts a node. A fresh id allocates a slot and joins the ANN
// graph; a known id is updated in place. Every outgoing edge target must
// already be known or the write is refused.
func (ix *Index) Insert(n *Node) (uint32, error) {
	if ix.readOnly {
		return NoSlot, ErrReadOnly
	}
	if len(n.Vector.Lanes) != ix.header().dim() {
		return NoSlot, fmt.Errorf("%w: got %d lanes, want %d", ErrDimensionMismatch, len(n.Vector.Lanes), ix.header().dim())
	}
	for _, e := range n.Edges {
		if e.Target != n.ID && !ix.Contains(e.Target) {
			return NoSlot, fmt.Errorf("%w: edge target %s", ErrUnknownNode, e.Target)
		}
	}

	if slot, ok := ix.slotOf(n.ID); ok {
		if err := ix.updateInPlace(slot, n); err != nil {
			return NoSlot, err
		}
		return slot, nil
	}

	h := ix.header()
	if h.slotCount() >= h.slotCap() {
		if err := ix.growSlots(); err != nil {
			return NoSlot, err
		}
		h = ix.header()
	}

	slot := uint32(h.slotCount())
	h.setSlotCount(h.slotCount() + 1)
	h.setLiveCount(h.liveCount() + 1)
	ix.ids = append(ix.ids, n.ID)
	ix.hashInsert(n.ID, slot)

	m := ix.meta(slot)
	for i := range m {
		m[i] = 0
	}
	m[moType] = byte(n.Type)
	m[moFlags] = n.Flags &^ FlagTombstone
	encoding.SetFloat32(m, moDecay, n.Decay)
	encoding.SetFloat32(m, moEpsilon, n.Epsilon)
	encoding.SetUint64(m, moCreatedAt, uint64(n.CreatedAt))
	encoding.SetUint64(m, moAccessedAt, uint64(n.AccessedAt))
	encoding.SetUint64(m, moPayloadOff, n.PayloadOff)
	ix.writeConfidence(slot, n.Confidence)
	ix.writeVector(slot, n.Vector)

	if err := ix.writeTags(slot, n.Tags); err != nil {
		return NoSlot, err
	}
	if err := ix.writeEdges(slot, n.Edges); err != nil {
		return NoSlot, err
	}
	if err := ix.annInsert(slot, n.Vector); err != nil {
		return NoSlot, err
	}
	return slot, nil
}

// updateInPlace rewrites a known slot from n.
func (ix *Index) updateInPlace(slot uint32, n *Node) error {
	m := ix.meta(slot)
	m[moType] = byte(n.Type)
	m[moFlags] = n.Flags &^ FlagTombstone
	encoding.SetFloat32(m, moDecay, n.Decay)
	encoding.SetFloat32(m, moEpsilon, n.Epsilon)
	encoding.SetUint64(m, moCreatedAt, uint64(n.CreatedAt))
	encoding.SetUint64(m, moAccessedAt, uint64(n.AccessedAt))
	encoding.SetUint64(m, moPayloadOff, n.PayloadOff)
	ix.writeConfidence(slot, n.Confidence)
	ix.writeVector(slot, n.Vector)
	if err := ix.writeTags(slot, n.Tags); err != nil {
		return err
	}
	return ix.writeEdges(slot, n.Edges)
}

func (ix *Index) writeConfidence(slot uint32, c Confidence) {
	m := ix.meta(slot)
	encoding.SetFloat32(m, moConfMu, c.Mu)
	encoding.SetFloat32(m, moConfVar, c.Var)
	encoding.SetUint32(m, moConfN, c.N)
	encoding.SetUint64(m, moConfT, uint64(c.T))
}

func (ix *Index) readConfidence(slot uint32) Confidence {
	m := ix.meta(slot)
	return Confidence{
		Mu:  encoding.Float32(m, moConfMu),
		Var: encoding.Float32(m, moConfVar),
		N:   encoding.Uint32(m, moConfN),
		T:   int64(encoding.Uint64(m, moConfT)),
	}
}

// Get returns a copy of the node for id, without payload bytes.
func (ix *Index) Get(id primitive.NodeID) (*Node, bool) {
	slot, ok := ix.slotOf(id)
	if !ok {
		return nil, false
	}
	return ix.GetBySlot(slot)
}

// GetBySlot returns a copy of the node at slot, or false for tombstones.
func (ix *Index) GetBySlot(slot uint32) (*Node, bool) {
	h := ix.header()
	if uint64(slot) >= h.slotCount() {
		return nil, false
	}
	m := ix.meta(slot)
	if m[moFlags]&FlagTombstone != 0 {
		return nil, false
	}
	n := &Node{
		ID:         ix.ids[slot],
		Type:       NodeType(m[moType]),
		Flags:      m[moFlags],
		Decay:      encoding.Float32(m, moDecay),
		Epsilon:    encoding.Float32(m, moEpsilon),
		Confidence: ix.readConfidence(slot),
		CreatedAt:  int64(encoding.Uint64(m, moCreatedAt)),
		AccessedAt: int64(encoding.Uint64(m, moAccessedAt)),
		PayloadOff: encoding.Uint64(m, moPayloadOff),
		Vector:     ix.readVector(slot),
		Tags:       ix.readTags(slot),
		Edges:      ix.readEdges(slot),
	}
	return n, true
}

// Touch sets accessed_at.
func (ix *Index) Touch(id primitive.NodeID, accessedAt int64) error {
	if ix.readOnly {
		return ErrReadOnly
	}
	slot, ok := ix.slotOf(id)
	if !ok {
		return ErrUnknownNode
	}
	encoding.SetUint64(ix.meta(slot), moAccessedAt, uint64(accessedAt))
	return nil
}

// SetConfidence stores an absolute confidence tuple.
func (ix *Index) SetConfidence(id primitive.NodeID, c Confidence) error {
	if ix.readOnly {
		return ErrReadOnly
	}
	slot, ok := ix.slotOf(id)
	if !ok {
		return ErrUnknownNode
	}
	ix.writeConfidence(slot, c)
	return nil
}

// SetVector replaces the stored embedding, used by attractor settling.
func (ix *Index) SetVector(id primitive.NodeID, v primitive.QuantizedVector) error {
	if ix.readOnly {
		return ErrReadOnly
	}
	slot, ok := ix.slotOf(id)
	if !ok {
		return ErrUnknownNode
	}
	if len(v.Lanes) != ix.header().dim() {
		return ErrDimensionMismatch
	}
	ix.writeVector(slot, v)
	return nil
}

// SetPayloadRef updates the payload blob offset and residency flags.
func (ix *Index) SetPayloadRef(id primitive.NodeID, off uint64, cold bool) error {
	if ix.readOnly {
		return ErrReadOnly
	}
	slot, ok := ix.slotOf(id)
	if !ok {
		return ErrUnknownNode
	}
	m := ix.meta(slot)
	encoding.SetUint64(m, moPayloadOff, off)
	if cold {
		m[moFlags] |= FlagCold
	} else {
		m[moFlags] &^= FlagCold
	}
	return nil
}

// Remove tombstones a node and drops it from the hash and ANN entry.
func (ix *Index) Remove(id primitive.NodeID) error {
	if ix.readOnly {
		return ErrReadOnly
	}
	slot, ok := ix.slotOf(id)
	if !ok {
		return ErrUnknownNode
	}
	m := ix.meta(slot)
	m[moFlags] |= FlagTombstone
	ix.hashRemove(id)
	h := ix.header()
	if h.liveCount() > 0 {
		h.setLiveCount(h.liveCount() - 1)
	}
	if h.entrySlot() == slot {
		ix.pickNewEntry(slot)
	}
	return nil
}

// pickNewEntry scans for a live slot to become the ANN entry point.
func (ix *Index) pickNewEntry(removed uint32) {
	h := ix.header()
	h.setEntrySlot(NoSlot)
	h.setMaxLevel(0)
	best := NoSlot
	bestLevel := -1
	for s := uint32(0); uint64(s) < h.slotCount(); s++ {
		if s == removed {
			continue
		}
		m := ix.meta(s)
		if m[moFlags]&FlagTombstone != 0 {
			continue
		}
		if int(m[moLevel]) > bestLevel {
			bestLevel = int(m[moLevel])
			best = s
		}
	}
	if best != NoSlot {
		h.setEntrySlot(best)
		h.setMaxLevel(bestLevel)
	}
}

// ForEach visits every live node in slot order until fn returns false.
func (ix *Index) ForEach(fn func(*Node) bool) {
	h := ix.header()
	for s := uint32(0); uint64(s) < h.slotCount(); s++ {
		n, ok := ix.GetBySlot(s)
		if !ok {
			continue
		}
		if !fn(n) {
			return
		}
	}
}

// Check asserts the id→slot map and slot→meta array agree:
// slot(id(slot s)) == s for all occupied slots.
func (ix *Index) Check() error {
	h := ix.header()
	for s := uint32(0); uint64(s) < h.slotCount(); s++ {
		if ix.meta(s)[moFlags]&FlagTombstone != 0 {
			continue
		}
		id := ix.ids[s]
		got, ok := ix.slotOf(id)
		if !ok {
			return fmt.Errorf("index: slot %d id %s missing from hash", s, id)
		}
		if got != s {
			return fmt.Errorf("index: slot %d id %s hashes to slot %d", s, id, got)
		}
	}
	return nil
}

// growSlots doubles slot capacity by rebuilding the file layout. Arena
// offsets are arena-relative, so the arena is copied verbatim; the hash
// is rebuilt clean (dropping tombstones).
func (ix *Index) growSlots() error {
	h := ix.header()
	oldLayout := ix.layout()
	newSlotCap := h.slotCap() * 2
	newHashCap := newSlotCap * hashPerSlot
	newLayout := computeLayout(newSlotCap, newHashCap, h.dim())
	arenaCap := h.arenaCap()

	tmpPath := ix.path + ".grow"
	next, err := mmapfile.Create(tmpPath, Magic, FormatVersion, newLayout.fileSize(arenaCap))
	if err != nil {
		return err
	}

	src := ix.region.Data()
	dst := next.Data()

	// Header fields carry over with the new capacities.
	copy(dst[:indexHeaderSize], src[:indexHeaderSize])
	nh := header{b: dst[:indexHeaderSize]}
	nh.setSlotCap(newSlotCap)
	nh.setHashCap(newHashCap)

	// Meta, vectors, and arena move as flat byte ranges.
	copy(dst[newLayout.metaOff:], src[oldLayout.metaOff:oldLayout.metaOff+int64(h.slotCount())*MetaSize])
	stride := int64(vecStride(h.dim()))
	copy(dst[newLayout.vecOff:], src[oldLayout.vecOff:oldLayout.vecOff+int64(h.slotCount())*stride])
	copy(dst[newLayout.arenaOff:], src[oldLayout.arenaOff:oldLayout.arenaOff+int64(h.arenaUsed())])

	// Snapshot counter carries over with the region header.
	counter := ix.region.SnapshotCounter()
	for counter > next.SnapshotCounter() {
		next.BumpSnapshotCounter()
	}

	// Swap files, then rebuild the hash in the new table.
	oldIDs := ix.ids
	if err := next.Sync(); err != nil {
		next.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := next.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := ix.region.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, ix.path); err != nil {
		return err
	}
	region, err := mmapfile.Open(ix.path, Magic, FormatVersion)
	if err != nil {
		return err
	}
	ix.region = region
	ix.ids = oldIDs
	for slot, id := range oldIDs {
		if ix.meta(uint32(slot))[moFlags]&FlagTombstone != 0 {
			continue
		}
		ix.hashInsert(id, uint32(slot))
	}
	if ix.onResize != nil {
		ix.onResize()
	}
	return nil
}

// Sync flushes the mapped file.
func (ix *Index) Sync() error { return ix.region.Sync() }

// Close flushes and unmaps.
func (ix *Index) Close() error { return ix.region.Close() }

// SnapshotCounter returns the current snapshot counter.
func (ix *Index) SnapshotCounter() uint64 { return ix.region.SnapshotCounter() }

// Stats summarizes occupancy for the vitality metric and the stats tool.
type Stats struct {
	Live      uint64
	SlotCap   uint64
	ArenaUsed uint64
	ArenaCap  uint64
	Dim       int
	MaxLevel  int
}

// StatsSnapshot returns current occupancy numbers.
func (ix *Index) StatsSnapshot() Stats {
	h := ix.header()
	return Stats{
		Live:      h.liveCount(),
		SlotCap:   h.slotCap(),
		ArenaUsed: h.arenaUsed(),
		ArenaCap:  h.arenaCap(),
		Dim:       h.dim(),
		MaxLevel:  h.maxLevel(),
	}
}

// HilbertPrefilter returns up to limit live slots ordered by Hilbert-key
// distance to the query key, a cheap pre-candidate set ahead of ANN
// search over very large stores.
func (ix *Index) HilbertPrefilter(q primitive.QuantizedVector, limit int) []uint32 {
	qKey := primitive.HilbertKey(q)
	type keyed struct {
		slot uint32
		dist uint64
	}
	h := ix.header()
	keys := make([]keyed, 0, h.liveCount())
	for s := uint32(0); uint64(s) < h.slotCount(); s++ {
		if ix.meta(s)[moFlags]&FlagTombstone != 0 {
			continue
		}
		k := primitive.HilbertKey(ix.readVector(s))
		d := k - qKey
		if qKey > k {
			d = qKey - k
		}
		keys = append(keys, keyed{slot: s, dist: d})
	}
	// Ties broken by identifier for determinism.
	sortKeyed(keys, func(a, b keyed) bool {
		if a.dist != b.dist {
			return a.dist < b.dist
		}
		return ix.ids[a.slot].Less(ix.ids[b.slot])
	})
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]uint32, len(keys))
	for i, k := range keys {
		out[i] = k.slot
	}
	return out
}

func sortKeyed[T any](s []T, less func(a, b T) bool) {
	// Insertion sort: prefilter candidate sets are small.
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && less(s[j], s[j-1]); j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// EffectiveConfidenceAt exposes the effective confidence at a slot
// without materializing the node.
func (ix *Index) EffectiveConfidenceAt(slot uint32) float64 {
	return ix.readConfidence(slot).Effective()
}

// AccessedAt returns a slot's last-access timestamp.
func (ix *Index) AccessedAt(slot uint32) int64 {
	return int64(encoding.Uint64(ix.meta(slot), moAccessedAt))
}
