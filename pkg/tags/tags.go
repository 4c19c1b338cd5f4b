// Package tags maintains the exact-match tag index: for every tag string,
// the set of slots carrying it, held in roaring bitmaps. The index is
// persisted as a compact sidecar file and fully rebuildable from the node
// tags stored in the unified index when the sidecar is missing or corrupt.
//
// Realm membership rides on the same index through reserved "realm:<name>"
// tags; the realm tree itself is persisted in a trailer section.
package tags

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/genomewalker/chitta/internal/encoding"
)

// sidecar magic: "CHTG".
const fileMagic uint32 = 0x47544843

const fileVersion uint32 = 1

// ErrCorrupt signals an undecodable sidecar; callers rebuild from the
// unified index.
var ErrCorrupt = errors.New("tags: corrupt sidecar")

// Index maps tag strings to slot posting sets.
type Index struct {
	path     string
	postings map[string]*roaring.Bitmap

	// realm tree: child → parent. The root realm has parent "".
	realmParents map[string]string
}

// Open loads the sidecar at path; a missing file starts empty, a corrupt
// one returns ErrCorrupt so the caller can rebuild.
func Open(path string) (*Index, error) {
	ix := &Index{
		path:         path,
		postings:     make(map[string]*roaring.Bitmap),
		realmParents: make(map[string]string),
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return ix, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tags: open %s: %w", path, err)
	}
	if err := ix.decode(raw); err != nil {
		return nil, err
	}
	return ix, nil
}

// NewEmpty returns a fresh in-memory index bound to path, used when
// rebuilding after corruption.
func NewEmpty(path string) *Index {
	return &Index{
		path:         path,
		postings:     make(map[string]*roaring.Bitmap),
		realmParents: make(map[string]string),
	}
}

// ClearPostings drops every posting set while keeping the realm tree.
// The engine calls it before rebuilding postings from the unified index,
// which is authoritative; the sidecar is a persisted cache.
func (ix *Index) ClearPostings() {
	ix.postings = make(map[string]*roaring.Bitmap)
}

// Add records that slot carries tag.
func (ix *Index) Add(tag string, slot uint32) {
	bm, ok := ix.postings[tag]
	if !ok {
		bm = roaring.New()
		ix.postings[tag] = bm
	}
	bm.Add(slot)
}

// Remove drops slot from tag's posting set.
func (ix *Index) Remove(tag string, slot uint32) {
	if bm, ok := ix.postings[tag]; ok {
		bm.Remove(slot)
		if bm.IsEmpty() {
			delete(ix.postings, tag)
		}
	}
}

// RemoveSlot drops slot from every posting set, used on node removal.
func (ix *Index) RemoveSlot(slot uint32) {
	for tag, bm := range ix.postings {
		bm.Remove(slot)
		if bm.IsEmpty() {
			delete(ix.postings, tag)
		}
	}
}

// SlotsWithTag returns the posting set for one tag. The returned bitmap
// is a copy and safe to mutate.
func (ix *Index) SlotsWithTag(tag string) *roaring.Bitmap {
	if bm, ok := ix.postings[tag]; ok {
		return bm.Clone()
	}
	return roaring.New()
}

// SlotsWithAllTags intersects the posting sets of every tag.
func (ix *Index) SlotsWithAllTags(tagList []string) *roaring.Bitmap {
	if len(tagList) == 0 {
		return roaring.New()
	}
	out := ix.SlotsWithTag(tagList[0])
	for _, tag := range tagList[1:] {
		bm, ok := ix.postings[tag]
		if !ok {
			return roaring.New()
		}
		out.And(bm)
	}
	return out
}

// TagsForSlot returns every tag carried by slot, sorted.
func (ix *Index) TagsForSlot(slot uint32) []string {
	var out []string
	for tag, bm := range ix.postings {
		if bm.Contains(slot) {
			out = append(out, tag)
		}
	}
	sort.Strings(out)
	return out
}

// HasTag reports whether slot carries tag.
func (ix *Index) HasTag(tag string, slot uint32) bool {
	bm, ok := ix.postings[tag]
	return ok && bm.Contains(slot)
}

// Tags returns all known tags, sorted.
func (ix *Index) Tags() []string {
	out := make([]string, 0, len(ix.postings))
	for tag := range ix.postings {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// DefineRealm records a realm and its parent in the tree.
func (ix *Index) DefineRealm(name, parent string) {
	ix.realmParents[name] = parent
}

// RealmParent returns a realm's parent and whether the realm is known.
func (ix *Index) RealmParent(name string) (string, bool) {
	p, ok := ix.realmParents[name]
	return p, ok
}

// RealmAncestry returns name followed by its ancestors up to the root.
func (ix *Index) RealmAncestry(name string) []string {
	var out []string
	seen := make(map[string]bool)
	for name != "" && !seen[name] {
		seen[name] = true
		out = append(out, name)
		name = ix.realmParents[name]
	}
	return out
}

// Realms returns every defined realm, sorted.
func (ix *Index) Realms() []string {
	out := make([]string, 0, len(ix.realmParents))
	for name := range ix.realmParents {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Sync persists the sidecar atomically.
func (ix *Index) Sync() error {
	buf := make([]byte, 0, 4096)
	buf = encoding.PutUint32(buf, fileMagic)
	buf = encoding.PutUint32(buf, fileVersion)

	tagList := ix.Tags()
	buf = encoding.PutUint32(buf, uint32(len(tagList)))
	for _, tag := range tagList {
		bm := ix.postings[tag]
		bmBytes, err := bm.ToBytes()
		if err != nil {
			return fmt.Errorf("tags: serialize %q: %w", tag, err)
		}
		buf = encoding.PutBytes(buf, []byte(tag))
		buf = encoding.PutBytes(buf, bmBytes)
	}

	realms := ix.Realms()
	buf = encoding.PutUint32(buf, uint32(len(realms)))
	for _, name := range realms {
		buf = encoding.PutBytes(buf, []byte(name))
		buf = encoding.PutBytes(buf, []byte(ix.realmParents[name]))
	}

	tmp := ix.path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o600); err != nil {
		return fmt.Errorf("tags: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, ix.path); err != nil {
		return fmt.Errorf("tags: rename: %w", err)
	}
	return nil
}

func (ix *Index) decode(raw []byte) error {
	if len(raw) < 12 || encoding.Uint32(raw, 0) != fileMagic {
		return ErrCorrupt
	}
	if encoding.Uint32(raw, 4) != fileVersion {
		return fmt.Errorf("%w: version %d", ErrCorrupt, encoding.Uint32(raw, 4))
	}
	off := 8

	count := int(encoding.Uint32(raw, off))
	off += 4
	for i := 0; i < count; i++ {
		tag, next, err := encoding.GetBytes(raw, off)
		if err != nil {
			return ErrCorrupt
		}
		off = next
		bmBytes, next, err := encoding.GetBytes(raw, off)
		if err != nil {
			return ErrCorrupt
		}
		off = next
		bm := roaring.New()
		if err := bm.UnmarshalBinary(bmBytes); err != nil {
			return fmt.Errorf("%w: bitmap for %q", ErrCorrupt, string(tag))
		}
		ix.postings[string(tag)] = bm
	}

	if off+4 > len(raw) {
		return ErrCorrupt
	}
	realmCount := int(encoding.Uint32(raw, off))
	off += 4
	for i := 0; i < realmCount; i++ {
		name, next, err := encoding.GetBytes(raw, off)
		if err != nil {
			return ErrCorrupt
		}
		off = next
		parent, next, err := encoding.GetBytes(raw, off)
		if err != nil {
			return ErrCorrupt
		}
		off = next
		ix.realmParents[string(name)] = string(parent)
	}
	return nil
}
