package tier

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/genomewalker/chitta/pkg/primitive"
)

func newTestStore(t *testing.T, cfg func(*Config)) *Store {
	t.Helper()
	c := DefaultConfig(filepath.Join(t.TempDir(), "db"))
	if cfg != nil {
		cfg(&c)
	}
	s, err := Open(c)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	id := primitive.NewNodeID()
	off, err := s.Put(id, []byte("payload bytes"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := s.Get(ctx, id, off, false)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "payload bytes" {
		t.Errorf("payload = %q", got)
	}
}

func TestGetFromWarmAfterHotEviction(t *testing.T) {
	s := newTestStore(t, func(c *Config) { c.HotMaxEntries = 2 })
	ctx := context.Background()

	type entry struct {
		id  primitive.NodeID
		off uint64
	}
	var entries []entry
	for i := 0; i < 10; i++ {
		id := primitive.NewNodeID()
		off, err := s.Put(id, []byte{byte(i), byte(i + 1)})
		if err != nil {
			t.Fatal(err)
		}
		entries = append(entries, entry{id, off})
	}

	s.TrimHot()
	if len(s.hot) > 2 {
		t.Errorf("hot entries after trim = %d", len(s.hot))
	}

	// Evicted payloads come back from the warm blob.
	got, err := s.Get(ctx, entries[0].id, entries[0].off, false)
	if err != nil {
		t.Fatalf("warm read failed: %v", err)
	}
	if got[0] != 0 || got[1] != 1 {
		t.Errorf("warm payload = %v", got)
	}
}

func TestColdMigration(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	id := primitive.NewNodeID()
	text := "a payload that will age out into the compressed archive"
	off, err := s.Put(id, []byte(text))
	if err != nil {
		t.Fatal(err)
	}

	if err := s.MigrateCold(ctx, id, off, 12345); err != nil {
		t.Fatalf("MigrateCold failed: %v", err)
	}

	got, err := s.Get(ctx, id, off, true)
	if err != nil {
		t.Fatalf("cold read failed: %v", err)
	}
	if string(got) != text {
		t.Errorf("cold payload = %q", got)
	}

	st := s.StatsSnapshot(ctx)
	if st.ColdRows != 1 {
		t.Errorf("cold rows = %d", st.ColdRows)
	}
}

func TestValidate(t *testing.T) {
	s := newTestStore(t, nil)

	id := primitive.NewNodeID()
	off, _ := s.Put(id, []byte("four"))

	if !s.Validate(off, 4) {
		t.Error("valid record rejected")
	}
	if s.Validate(off, 5) {
		t.Error("wrong length accepted")
	}
	if s.Validate(uint64(s.size)+100, 4) {
		t.Error("out-of-range offset accepted")
	}
	if s.Validate(NoOffset, 0) {
		t.Error("NoOffset accepted")
	}
}

func TestForget(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	id := primitive.NewNodeID()
	off, _ := s.Put(id, []byte("doomed"))
	if err := s.MigrateCold(ctx, id, off, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.Forget(ctx, id); err != nil {
		t.Fatalf("Forget failed: %v", err)
	}
	if _, err := s.Get(ctx, id, NoOffset, true); err == nil {
		t.Error("forgotten cold payload still readable")
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	base := filepath.Join(t.TempDir(), "db")
	cfg := DefaultConfig(base)
	ctx := context.Background()

	s, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	id := primitive.NewNodeID()
	off, _ := s.Put(id, []byte("survives reopen"))
	if err := s.Sync(); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	got, err := s2.Get(ctx, id, off, false)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if string(got) != "survives reopen" {
		t.Errorf("payload = %q", got)
	}
}
