// Package graphstore implements the dictionary-encoded triplet store:
// subject/predicate/object text triples with weights. Entities and
// predicates are interned into dense 32-bit ids; adjacency is served from
// maps of triplet positions keyed by subject, by object, and by
// predicate, rebuilt lazily after mutation. They are maps of slices, not
// compressed sparse-row arrays.
package graphstore

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/genomewalker/chitta/internal/encoding"
)

// graph file magic: "CHGR".
const fileMagic uint32 = 0x52474843

const fileVersion uint32 = 1

// ErrCorrupt is returned when the persisted graph cannot be decoded.
var ErrCorrupt = errors.New("graphstore: corrupt graph file")

// Triplet is one weighted fact.
type Triplet struct {
	Subject   string  `json:"subject"`
	Predicate string  `json:"predicate"`
	Object    string  `json:"object"`
	Weight    float64 `json:"weight"`
}

// dictionary interns strings to dense ids.
type dictionary struct {
	byName map[string]uint32
	names  []string
}

func newDictionary() *dictionary {
	return &dictionary{byName: make(map[string]uint32)}
}

func (d *dictionary) intern(s string) uint32 {
	if id, ok := d.byName[s]; ok {
		return id
	}
	id := uint32(len(d.names))
	d.byName[s] = id
	d.names = append(d.names, s)
	return id
}

func (d *dictionary) lookup(s string) (uint32, bool) {
	id, ok := d.byName[s]
	return id, ok
}

func (d *dictionary) name(id uint32) string { return d.names[id] }

// triplet is the interned form. A negative weight marks a tombstone.
type triplet struct {
	s, p, o uint32
	weight  float64
}

// Store is the triplet store. Callers serialize access; the engine holds
// its lock across every call.
type Store struct {
	path       string
	entities   *dictionary // subjects and objects share one namespace
	predicates *dictionary

	triplets []triplet
	byKey    map[[3]uint32]int // (s,p,o) → triplet list position

	// Adjacency lists of triplet positions, rebuilt when dirty.
	bySubject   map[uint32][]int
	byObject    map[uint32][]int
	byPredicate map[uint32][]int
	dirty       bool
}

// NewEmpty returns a fresh in-memory store bound to path, used when a
// corrupt file is abandoned in favor of a rebuild.
func NewEmpty(path string) *Store {
	return &Store{
		path:       path,
		entities:   newDictionary(),
		predicates: newDictionary(),
		byKey:      make(map[[3]uint32]int),
		dirty:      true,
	}
}

// Open loads the store at path, starting empty when the file is absent.
func Open(path string) (*Store, error) {
	s := NewEmpty(path)
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("graphstore: open %s: %w", path, err)
	}
	if err := s.decode(raw); err != nil {
		return nil, err
	}
	return s, nil
}

// Connect upserts the (s, p, o) fact. Repeated inserts overwrite the
// weight, making the operation idempotent by key.
func (s *Store) Connect(subject, predicate, object string, weight float64) {
	key := [3]uint32{
		s.entities.intern(subject),
		s.predicates.intern(predicate),
		s.entities.intern(object),
	}
	if pos, ok := s.byKey[key]; ok {
		s.triplets[pos].weight = weight
		return
	}
	s.byKey[key] = len(s.triplets)
	s.triplets = append(s.triplets, triplet{s: key[0], p: key[1], o: key[2], weight: weight})
	s.dirty = true
}

// Remove drops the (s, p, o) fact if present.
func (s *Store) Remove(subject, predicate, object string) bool {
	si, ok1 := s.entities.lookup(subject)
	pi, ok2 := s.predicates.lookup(predicate)
	oi, ok3 := s.entities.lookup(object)
	if !ok1 || !ok2 || !ok3 {
		return false
	}
	key := [3]uint32{si, pi, oi}
	pos, ok := s.byKey[key]
	if !ok {
		return false
	}
	delete(s.byKey, key)
	s.triplets[pos].weight = -1
	s.dirty = true
	return true
}

// Weight returns the stored weight for (s, p, o).
func (s *Store) Weight(subject, predicate, object string) (float64, bool) {
	si, ok1 := s.entities.lookup(subject)
	pi, ok2 := s.predicates.lookup(predicate)
	oi, ok3 := s.entities.lookup(object)
	if !ok1 || !ok2 || !ok3 {
		return 0, false
	}
	pos, ok := s.byKey[[3]uint32{si, pi, oi}]
	if !ok {
		return 0, false
	}
	return s.triplets[pos].weight, true
}

// rebuild refreshes the adjacency maps.
func (s *Store) rebuild() {
	if !s.dirty {
		return
	}
	s.bySubject = make(map[uint32][]int)
	s.byObject = make(map[uint32][]int)
	s.byPredicate = make(map[uint32][]int)
	for i, t := range s.triplets {
		if t.weight < 0 {
			continue
		}
		s.bySubject[t.s] = append(s.bySubject[t.s], i)
		s.byObject[t.o] = append(s.byObject[t.o], i)
		s.byPredicate[t.p] = append(s.byPredicate[t.p], i)
	}
	s.dirty = false
}

// Query returns triplets matching the pattern; empty strings are
// wildcards. The first bound field, checked in subject, object, predicate
// order, drives the scan; results are sorted by descending weight.
func (s *Store) Query(subject, predicate, object string) []Triplet {
	s.rebuild()

	var candidates []int
	switch {
	case subject != "":
		si, ok := s.entities.lookup(subject)
		if !ok {
			return nil
		}
		candidates = s.bySubject[si]
	case object != "":
		oi, ok := s.entities.lookup(object)
		if !ok {
			return nil
		}
		candidates = s.byObject[oi]
	case predicate != "":
		pi, ok := s.predicates.lookup(predicate)
		if !ok {
			return nil
		}
		candidates = s.byPredicate[pi]
	default:
		candidates = make([]int, 0, len(s.triplets))
		for i, t := range s.triplets {
			if t.weight >= 0 {
				candidates = append(candidates, i)
			}
		}
	}

	var out []Triplet
	for _, i := range candidates {
		t := s.triplets[i]
		if t.weight < 0 {
			continue
		}
		if subject != "" && s.entities.name(t.s) != subject {
			continue
		}
		if predicate != "" && s.predicates.name(t.p) != predicate {
			continue
		}
		if object != "" && s.entities.name(t.o) != object {
			continue
		}
		out = append(out, Triplet{
			Subject:   s.entities.name(t.s),
			Predicate: s.predicates.name(t.p),
			Object:    s.entities.name(t.o),
			Weight:    t.weight,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	return out
}

// Count returns the number of live triplets.
func (s *Store) Count() int { return len(s.byKey) }

// Sync persists the store, compacting tombstones away.
func (s *Store) Sync() error {
	buf := s.encode()
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o600); err != nil {
		return fmt.Errorf("graphstore: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("graphstore: rename: %w", err)
	}
	return nil
}

// encode serializes dictionaries and live triplets.
func (s *Store) encode() []byte {
	buf := make([]byte, 0, 4096)
	buf = encoding.PutUint32(buf, fileMagic)
	buf = encoding.PutUint32(buf, fileVersion)

	buf = encoding.PutUint32(buf, uint32(len(s.entities.names)))
	for _, name := range s.entities.names {
		buf = encoding.PutBytes(buf, []byte(name))
	}
	buf = encoding.PutUint32(buf, uint32(len(s.predicates.names)))
	for _, name := range s.predicates.names {
		buf = encoding.PutBytes(buf, []byte(name))
	}

	buf = encoding.PutUint32(buf, uint32(len(s.byKey)))
	for _, t := range s.triplets {
		if t.weight < 0 {
			continue
		}
		buf = encoding.PutUint32(buf, t.s)
		buf = encoding.PutUint32(buf, t.p)
		buf = encoding.PutUint32(buf, t.o)
		buf = encoding.PutFloat32(buf, float32(t.weight))
	}
	return buf
}

func (s *Store) decode(raw []byte) error {
	if len(raw) < 8 || encoding.Uint32(raw, 0) != fileMagic {
		return ErrCorrupt
	}
	if encoding.Uint32(raw, 4) != fileVersion {
		return fmt.Errorf("%w: version %d", ErrCorrupt, encoding.Uint32(raw, 4))
	}
	off := 8

	readDict := func(d *dictionary) error {
		if off+4 > len(raw) {
			return ErrCorrupt
		}
		count := int(encoding.Uint32(raw, off))
		off += 4
		for i := 0; i < count; i++ {
			name, next, err := encoding.GetBytes(raw, off)
			if err != nil {
				return ErrCorrupt
			}
			d.intern(string(name))
			off = next
		}
		return nil
	}
	if err := readDict(s.entities); err != nil {
		return err
	}
	if err := readDict(s.predicates); err != nil {
		return err
	}

	if off+4 > len(raw) {
		return ErrCorrupt
	}
	count := int(encoding.Uint32(raw, off))
	off += 4
	for i := 0; i < count; i++ {
		if off+16 > len(raw) {
			return ErrCorrupt
		}
		t := triplet{
			s:      encoding.Uint32(raw, off),
			p:      encoding.Uint32(raw, off+4),
			o:      encoding.Uint32(raw, off+8),
			weight: float64(encoding.Float32(raw, off+12)),
		}
		off += 16
		s.byKey[[3]uint32{t.s, t.p, t.o}] = len(s.triplets)
		s.triplets = append(s.triplets, t)
	}
	s.dirty = true
	return nil
}
