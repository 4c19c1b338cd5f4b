// Package tier manages payload residency across three tiers: hot (recent,
// in memory), warm (the append-only .payloads blob), and cold (compressed
// rows in a SQLite archive). The unified index is never touched by
// migration; only payload location and residency flags change, and reads
// stay O(log n) regardless of tier.
package tier

import (
	"bytes"
	"compress/flate"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	_ "modernc.org/sqlite" // SQLite driver for the cold archive

	"github.com/genomewalker/chitta/internal/encoding"
	"github.com/genomewalker/chitta/pkg/primitive"
)

// NoOffset marks a node without warm-tier bytes.
const NoOffset = ^uint64(0)

var (
	// ErrNotFound is returned when no tier holds the payload.
	ErrNotFound = errors.New("tier: payload not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("tier: store is closed")
)

// Config tunes tier capacities and thresholds.
type Config struct {
	// BasePath is the database base path; the store derives
	// BasePath+".payloads" and BasePath+".cold".
	BasePath string

	// HotMaxEntries bounds the hot cache by count.
	HotMaxEntries int

	// HotMaxBytes bounds the hot cache by total payload bytes.
	HotMaxBytes int64

	// ColdAfterMs is the idle age after which payloads belong in the cold
	// archive. The store does not read it; callers choose which payloads
	// to pass to MigrateCold.
	ColdAfterMs int64
}

// DefaultConfig returns the standard tier thresholds.
func DefaultConfig(basePath string) Config {
	return Config{
		BasePath:      basePath,
		HotMaxEntries: 4096,
		HotMaxBytes:   64 << 20,
		ColdAfterMs:   14 * 24 * 3600 * 1000,
	}
}

// Store orchestrates the three tiers.
type Store struct {
	cfg  Config
	warm *os.File
	size int64

	hot      map[primitive.NodeID][]byte
	hotOrder []primitive.NodeID // FIFO eviction order
	hotBytes int64

	cold   *sql.DB
	closed bool
}

// Open prepares the warm blob and the cold archive.
func Open(cfg Config) (*Store, error) {
	warm, err := os.OpenFile(cfg.BasePath+".payloads", os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("tier: open payloads: %w", err)
	}
	info, err := warm.Stat()
	if err != nil {
		warm.Close()
		return nil, fmt.Errorf("tier: stat payloads: %w", err)
	}

	cold, err := sql.Open("sqlite", cfg.BasePath+".cold?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		warm.Close()
		return nil, fmt.Errorf("tier: open cold archive: %w", err)
	}
	if _, err := cold.ExecContext(context.Background(), `
		CREATE TABLE IF NOT EXISTS cold_payloads (
			id TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			stored_at INTEGER NOT NULL
		);
	`); err != nil {
		warm.Close()
		cold.Close()
		return nil, fmt.Errorf("tier: init cold schema: %w", err)
	}

	return &Store{
		cfg:  cfg,
		warm: warm,
		size: info.Size(),
		hot:  make(map[primitive.NodeID][]byte),
		cold: cold,
	}, nil
}

// Put appends payload to the warm blob and caches it hot, returning the
// blob offset to store in NodeMeta.
func (s *Store) Put(id primitive.NodeID, payload []byte) (uint64, error) {
	if s.closed {
		return NoOffset, ErrClosed
	}
	off := uint64(s.size)
	frame := make([]byte, 0, 4+len(payload))
	frame = encoding.PutUint32(frame, uint32(len(payload)))
	frame = append(frame, payload...)
	if _, err := s.warm.WriteAt(frame, s.size); err != nil {
		return NoOffset, fmt.Errorf("tier: append payload: %w", err)
	}
	s.size += int64(len(frame))
	s.cacheHot(id, payload)
	return off, nil
}

// Get fetches payload bytes from the hot cache, or else from the cold
// archive when cold is set and from the warm blob when it is not.
func (s *Store) Get(ctx context.Context, id primitive.NodeID, off uint64, cold bool) ([]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if p, ok := s.hot[id]; ok {
		return p, nil
	}
	if cold {
		return s.getCold(ctx, id)
	}
	if off == NoOffset {
		return nil, ErrNotFound
	}
	p, err := s.readWarm(off)
	if err != nil {
		return nil, err
	}
	s.cacheHot(id, p)
	return p, nil
}

// Validate reports whether off points at a plausible warm record, used by
// WAL replay to decide whether a full-node record's payload bytes need to
// be re-appended.
func (s *Store) Validate(off uint64, wantLen int) bool {
	if off == NoOffset || int64(off)+4 > s.size {
		return false
	}
	var lenBuf [4]byte
	if _, err := s.warm.ReadAt(lenBuf[:], int64(off)); err != nil {
		return false
	}
	n := encoding.Uint32(lenBuf[:], 0)
	return int(n) == wantLen && int64(off)+4+int64(n) <= s.size
}

func (s *Store) readWarm(off uint64) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := s.warm.ReadAt(lenBuf[:], int64(off)); err != nil {
		return nil, fmt.Errorf("tier: read payload header at %d: %w", off, err)
	}
	n := encoding.Uint32(lenBuf[:], 0)
	payload := make([]byte, n)
	if _, err := s.warm.ReadAt(payload, int64(off)+4); err != nil {
		return nil, fmt.Errorf("tier: read payload at %d: %w", off, err)
	}
	return payload, nil
}

func (s *Store) cacheHot(id primitive.NodeID, payload []byte) {
	if old, ok := s.hot[id]; ok {
		s.hotBytes -= int64(len(old))
		s.hot[id] = payload
		s.hotBytes += int64(len(payload))
		return
	}
	s.hot[id] = payload
	s.hotOrder = append(s.hotOrder, id)
	s.hotBytes += int64(len(payload))
}

// TrimHot evicts oldest hot entries until the cache fits its bounds.
// Called from the maintenance tick, never from a query path.
func (s *Store) TrimHot() int {
	evicted := 0
	for len(s.hotOrder) > 0 &&
		(len(s.hot) > s.cfg.HotMaxEntries || s.hotBytes > s.cfg.HotMaxBytes) {
		id := s.hotOrder[0]
		s.hotOrder = s.hotOrder[1:]
		if p, ok := s.hot[id]; ok {
			s.hotBytes -= int64(len(p))
			delete(s.hot, id)
			evicted++
		}
	}
	return evicted
}

// HotOverCapacity reports whether the hot set exceeds its bounds; inserts
// still proceed when it does, migration happens at the next tick.
func (s *Store) HotOverCapacity() bool {
	return len(s.hot) > s.cfg.HotMaxEntries || s.hotBytes > s.cfg.HotMaxBytes
}

// MigrateCold compresses a warm payload into the cold archive. The caller
// flips the node's residency flag afterwards.
func (s *Store) MigrateCold(ctx context.Context, id primitive.NodeID, off uint64, now int64) error {
	if s.closed {
		return ErrClosed
	}
	payload, err := s.Get(ctx, id, off, false)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return fmt.Errorf("tier: compressor: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("tier: compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("tier: compress close: %w", err)
	}

	if _, err := s.cold.ExecContext(ctx, `
		INSERT OR REPLACE INTO cold_payloads (id, data, stored_at)
		VALUES (?, ?, ?)
	`, id.String(), buf.Bytes(), now); err != nil {
		return fmt.Errorf("tier: archive %s: %w", id, err)
	}

	delete(s.hot, id)
	return nil
}

func (s *Store) getCold(ctx context.Context, id primitive.NodeID) ([]byte, error) {
	var compressed []byte
	err := s.cold.QueryRowContext(ctx,
		"SELECT data FROM cold_payloads WHERE id = ?", id.String(),
	).Scan(&compressed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tier: cold lookup %s: %w", id, err)
	}
	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("tier: decompress %s: %w", id, err)
	}
	return payload, nil
}

// DeleteCold drops a payload from the cold archive, used by forget.
func (s *Store) DeleteCold(ctx context.Context, id primitive.NodeID) error {
	_, err := s.cold.ExecContext(ctx,
		"DELETE FROM cold_payloads WHERE id = ?", id.String())
	return err
}

// Forget drops a payload from the hot cache and cold archive. Warm blob
// bytes are unreachable once the index forgets the offset; the blob is
// append-only and is never compacted.
func (s *Store) Forget(ctx context.Context, id primitive.NodeID) error {
	if p, ok := s.hot[id]; ok {
		s.hotBytes -= int64(len(p))
		delete(s.hot, id)
	}
	return s.DeleteCold(ctx, id)
}

// Stats summarizes occupancy.
type Stats struct {
	HotEntries int
	HotBytes   int64
	WarmBytes  int64
	ColdRows   int64
}

// StatsSnapshot returns current tier occupancy.
func (s *Store) StatsSnapshot(ctx context.Context) Stats {
	st := Stats{
		HotEntries: len(s.hot),
		HotBytes:   s.hotBytes,
		WarmBytes:  s.size,
	}
	_ = s.cold.QueryRowContext(ctx, "SELECT COUNT(*) FROM cold_payloads").Scan(&st.ColdRows)
	return st
}

// Sync flushes the warm blob.
func (s *Store) Sync() error {
	if s.closed {
		return ErrClosed
	}
	return s.warm.Sync()
}

// Close releases the warm file and the cold database.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.warm.Sync()
	if cerr := s.warm.Close(); err == nil {
		err = cerr
	}
	if cerr := s.cold.Close(); err == nil {
		err = cerr
	}
	return err
}
