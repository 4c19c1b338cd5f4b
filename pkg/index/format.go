package index

import (
	"github.com/genomewalker/chitta/internal/encoding"
)

// On-disk layout of the .unified file, little-endian, natural alignment.
//
// The region header (pkg/mmapfile, 32 bytes) carries magic, format
// version, payload length, and the snapshot counter. The payload area is:
//
//	[0:64)              index header
//	[hashOff:+24·hashCap)   id→slot open-addressed hash
//	[metaOff:+80·slotCap)   fixed-width NodeMeta array, indexed by slot
//	[vecOff:+stride·slotCap) quantized vector array, same slot index
//	[arenaOff:+arenaCap)    connection-pool arena (edge lists, tag sets,
//	                        ANN neighbor lists); grows independently
//
// All offsets stored inside NodeMeta that reach into the arena are 64-bit
// and arena-relative; offset 0 means "none" (the first 8 arena bytes are
// reserved so no allocation lands there).

const (
	// Magic identifies a unified index file: "CHIT".
	Magic uint32 = 0x54494843

	// FormatVersion is the current on-disk format version. Older files
	// walk the upgrade chain in upgrade.go; newer files refuse to open.
	FormatVersion uint32 = 3

	// MetaSize is the fixed width of one NodeMeta record.
	MetaSize = 80

	// hashEntrySize is hi(8) + lo(8) + slot(4) + state(4).
	hashEntrySize = 24

	indexHeaderSize = 64

	// NoSlot is the reserved invalid slot number.
	NoSlot = ^uint32(0)

	// arena sizing per spec: 1.5× growth, 64 MiB alignment.
	arenaAlign = 64 << 20

	// slot/hash growth factor; hash capacity stays 2× slot capacity so
	// the load factor never exceeds 0.5.
	hashPerSlot = 2
)

// hash entry states.
const (
	hashEmpty uint32 = iota
	hashOccupied
	hashTombstone
)

// NodeMeta field offsets within an 80-byte record.
const (
	moType       = 0  // u8
	moFlags      = 1  // u8
	moLevel      = 2  // u8 ANN level
	moReserved   = 3  // u8
	moDecay      = 4  // f32
	moEpsilon    = 8  // f32
	moConfMu     = 12 // f32
	moConfVar    = 16 // f32
	moConfN      = 20 // u32
	moConfT      = 24 // i64
	moCreatedAt  = 32 // i64
	moAccessedAt = 40 // i64
	moEdgeOff    = 48 // u64 arena-relative, 0 = none
	moTagOff     = 56 // u64 arena-relative, 0 = none
	moAnnOff     = 64 // u64 arena-relative, 0 = none
	moPayloadOff = 72 // u64 into the payload blob, NoPayload = none
)

// index header field offsets within the payload area.
const (
	hoSlotCap   = 0  // u64
	hoSlotCount = 8  // u64 slots ever allocated (tombstones included)
	hoLiveCount = 16 // u64
	hoHashCap   = 24 // u64
	hoDim       = 32 // u32
	hoEntrySlot = 36 // u32 ANN entry point, NoSlot = none
	hoArenaCap  = 40 // u64
	hoArenaUsed = 48 // u64, starts at 8 (offset 0 reserved)
	hoMaxLevel  = 56 // u8
)

// vecStride returns the per-slot vector record size: scale f32, lane-norm
// f32, dim int8 lanes, padded to 8 bytes.
func vecStride(dim int) int {
	return (8 + dim + 7) &^ 7
}

// layout holds the computed section offsets for the current capacities.
type layout struct {
	slotCap  uint64
	hashCap  uint64
	dim      int
	hashOff  int64
	metaOff  int64
	vecOff   int64
	arenaOff int64
}

func computeLayout(slotCap, hashCap uint64, dim int) layout {
	l := layout{slotCap: slotCap, hashCap: hashCap, dim: dim}
	l.hashOff = indexHeaderSize
	l.metaOff = l.hashOff + int64(hashCap)*hashEntrySize
	l.vecOff = l.metaOff + int64(slotCap)*MetaSize
	l.arenaOff = l.vecOff + int64(slotCap)*int64(vecStride(dim))
	return l
}

// fileSize returns the payload capacity needed for this layout plus the
// given arena capacity.
func (l layout) fileSize(arenaCap uint64) int64 {
	return l.arenaOff + int64(arenaCap)
}

// header is a thin accessor view over the index header bytes.
type header struct{ b []byte }

func (h header) slotCap() uint64      { return encoding.Uint64(h.b, hoSlotCap) }
func (h header) slotCount() uint64    { return encoding.Uint64(h.b, hoSlotCount) }
func (h header) liveCount() uint64    { return encoding.Uint64(h.b, hoLiveCount) }
func (h header) hashCap() uint64      { return encoding.Uint64(h.b, hoHashCap) }
func (h header) dim() int             { return int(encoding.Uint32(h.b, hoDim)) }
func (h header) entrySlot() uint32    { return encoding.Uint32(h.b, hoEntrySlot) }
func (h header) arenaCap() uint64     { return encoding.Uint64(h.b, hoArenaCap) }
func (h header) arenaUsed() uint64    { return encoding.Uint64(h.b, hoArenaUsed) }
func (h header) maxLevel() int        { return int(h.b[hoMaxLevel]) }
func (h header) setSlotCap(v uint64)  { encoding.SetUint64(h.b, hoSlotCap, v) }
func (h header) setSlotCount(v uint64) {
	encoding.SetUint64(h.b, hoSlotCount, v)
}
func (h header) setLiveCount(v uint64) {
	encoding.SetUint64(h.b, hoLiveCount, v)
}
func (h header) setHashCap(v uint64)   { encoding.SetUint64(h.b, hoHashCap, v) }
func (h header) setDim(v int)          { encoding.SetUint32(h.b, hoDim, uint32(v)) }
func (h header) setEntrySlot(v uint32) { encoding.SetUint32(h.b, hoEntrySlot, v) }
func (h header) setArenaCap(v uint64)  { encoding.SetUint64(h.b, hoArenaCap, v) }
func (h header) setArenaUsed(v uint64) { encoding.SetUint64(h.b, hoArenaUsed, v) }
func (h header) setMaxLevel(v int)     { h.b[hoMaxLevel] = byte(v) }

// alignArena rounds an arena capacity up to the 64 MiB allocation
// granularity, with a small floor for fresh databases.
func alignArena(n uint64) uint64 {
	const floor = 1 << 20
	if n < floor {
		return floor
	}
	return (n + arenaAlign - 1) &^ uint64(arenaAlign-1)
}
