package mind

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/genomewalker/chitta/pkg/index"
	"github.com/genomewalker/chitta/pkg/primitive"
)

const testDim = 64

// mockEmbedder maps known words to fixed vectors with controlled cosine
// geometry and hashes everything else deterministically.
type mockEmbedder struct {
	vectors map[string][]float32
}

func newMockEmbedder() *mockEmbedder {
	e1 := basis(0)
	// cos(e1, e2) = 0.98, cos(e1, e3) = 0.05.
	e2 := mix(e1, basis(1), 0.98)
	e3 := mix(e1, basis(2), 0.05)
	return &mockEmbedder{vectors: map[string][]float32{
		"red":     e1,
		"crimson": e2,
		"ocean":   e3,
	}}
}

func basis(i int) []float32 {
	v := make([]float32, testDim)
	v[i] = 1
	return v
}

// mix returns cos·a + sqrt(1−cos²)·b for orthonormal a, b.
func mix(a, b []float32, cos float64) []float32 {
	s := math.Sqrt(1 - cos*cos)
	v := make([]float32, testDim)
	for i := range v {
		v[i] = float32(cos)*a[i] + float32(s)*b[i]
	}
	return v
}

func (m *mockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := m.vectors[text]; ok {
		out := make([]float32, len(v))
		copy(out, v)
		return out, nil
	}
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()
	v := make([]float32, testDim)
	for i := range v {
		seed = seed*6364136223846793005 + 1442695040888963407
		v[i] = float32(int64(seed>>32)) / float32(math.MaxInt32)
	}
	return primitive.Normalize(v), nil
}

func (m *mockEmbedder) Dimensions() int { return testDim }

// testClock is an adjustable time source.
type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time            { return c.now }
func (c *testClock) Advance(d time.Duration)   { c.now = c.now.Add(d) }

func openTestMind(t *testing.T, opts ...Option) (*Mind, string) {
	t.Helper()
	base := filepath.Join(t.TempDir(), "soul")
	cfg := DefaultConfig(base)
	cfg.Dim = testDim
	all := append([]Option{WithEmbedder(newMockEmbedder())}, opts...)
	m, err := Open(cfg, all...)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m, base
}

func TestInsertRecallGeometry(t *testing.T) {
	m, _ := openTestMind(t)
	ctx := context.Background()

	redID, err := m.Remember(ctx, "red", index.TypeWisdom, RememberOptions{})
	if err != nil {
		t.Fatalf("remember red: %v", err)
	}
	oceanID, err := m.Remember(ctx, "ocean", index.TypeWisdom, RememberOptions{})
	if err != nil {
		t.Fatalf("remember ocean: %v", err)
	}

	results, err := m.Recall(ctx, "crimson", RecallOptions{K: 2, Mode: ModeDense})
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ID != redID {
		t.Errorf("first result = %s, want red %s", results[0].ID, redID)
	}
	if results[0].Similarity < 0.95 {
		t.Errorf("red similarity = %v, want >= 0.95", results[0].Similarity)
	}
	if results[1].ID != oceanID {
		t.Errorf("second result = %s, want ocean", results[1].ID)
	}
	if results[1].Similarity > 0.1 {
		t.Errorf("ocean similarity = %v, want <= 0.1", results[1].Similarity)
	}
}

func TestRememberDurableBeforeReturn(t *testing.T) {
	// Property: replaying the WAL into a fresh empty index reproduces
	// the live state. Copy only the WAL and payload blob to a second
	// base path; the index there starts empty and is rebuilt by replay.
	m, base := openTestMind(t)
	ctx := context.Background()

	ids := make([]primitive.NodeID, 73)
	for i := range ids {
		id, err := m.Remember(ctx, "wisdom node", index.TypeWisdom, RememberOptions{Tags: []string{"crash"}})
		if err != nil {
			t.Fatalf("remember %d: %v", i, err)
		}
		ids[i] = id
	}

	base2 := filepath.Join(filepath.Dir(base), "recovered")
	copyFile(t, base+".wal", base2+".wal")
	copyFile(t, base+".payloads", base2+".payloads")

	cfg := DefaultConfig(base2)
	cfg.Dim = testDim
	m2, err := Open(cfg, WithEmbedder(newMockEmbedder()))
	if err != nil {
		t.Fatalf("recovery open failed: %v", err)
	}
	defer m2.Close()

	if m2.Size() != 73 {
		t.Fatalf("recovered size = %d, want 73", m2.Size())
	}
	for i, id := range ids {
		view, ok := m2.Get(ctx, id)
		if !ok {
			t.Fatalf("id %d (%s) did not survive recovery", i, id)
		}
		if view.Type != "wisdom" || view.Payload != "wisdom node" {
			t.Errorf("node %d corrupted: %+v", i, view)
		}
		if len(view.Tags) != 1 || view.Tags[0] != "crash" {
			t.Errorf("node %d tags = %v", i, view.Tags)
		}
	}
}

func copyFile(t *testing.T, src, dst string) {
	t.Helper()
	raw, err := os.ReadFile(src)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, raw, 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestHebbianLoopSaturates(t *testing.T) {
	m, _ := openTestMind(t)
	ctx := context.Background()

	texts := []string{"red", "crimson", "scarlet shade of red"}
	ids := make([]primitive.NodeID, len(texts))
	for i, text := range texts {
		id, err := m.Remember(ctx, text, index.TypeWisdom, RememberOptions{})
		if err != nil {
			t.Fatal(err)
		}
		ids[i] = id
	}

	for round := 0; round < 15; round++ {
		res, err := m.Resonate(ctx, "red", 3, 1, 0.1, nil)
		if err != nil {
			t.Fatalf("resonate round %d: %v", round, err)
		}
		if round == 0 {
			if len(res.Results) != 3 {
				t.Fatalf("resonate recalled %d nodes, want 3", len(res.Results))
			}
			for _, a := range res.Activations {
				if a.Level < 0.2 {
					t.Fatalf("activation %v below 0.2 for %s", a.Level, a.ID)
				}
			}
		}
	}

	for _, a := range ids {
		view, ok := m.Get(ctx, a)
		if !ok {
			t.Fatal("node vanished")
		}
		for _, b := range ids {
			if a == b {
				continue
			}
			found := false
			for _, e := range view.Edges {
				if e.Target == b && e.Type == index.EdgeSimilar {
					found = true
					if e.Weight != 1.0 {
						t.Errorf("weight %s→%s = %v, want exactly 1.0", a, b, e.Weight)
					}
				}
			}
			if !found {
				t.Errorf("missing similar edge %s→%s", a, b)
			}
		}
	}
}

func TestDecayPruneAndProtection(t *testing.T) {
	clock := &testClock{now: time.UnixMilli(1700000000000)}
	m, _ := openTestMind(t, WithClock(clock.Now))
	ctx := context.Background()

	decay := float32(0.05)
	wisdomID, err := m.Remember(ctx, "fleeting thought", index.TypeWisdom,
		RememberOptions{Confidence: 0.9, Decay: &decay})
	if err != nil {
		t.Fatal(err)
	}
	invariantID, err := m.Remember(ctx, "eternal truth", index.TypeInvariant,
		RememberOptions{Confidence: 0.9})
	if err != nil {
		t.Fatal(err)
	}

	// Prune detection goes through Size, not Get: reads touch
	// accessed_at and would hold the decay clock at zero.
	pruned := false
	for day := 0; day < 120 && !pruned; day++ {
		clock.Advance(24 * time.Hour)
		if _, err := m.Tick(ctx); err != nil {
			t.Fatalf("tick day %d: %v", day, err)
		}
		pruned = m.Size() == 1
	}
	if !pruned {
		t.Error("decaying wisdom node was never pruned")
	}
	if _, ok := m.Get(ctx, wisdomID); ok {
		t.Error("pruned node still resolvable")
	}

	// The invariant is exempt from decay and prune: μ unchanged.
	view, ok := m.Get(ctx, invariantID)
	if !ok {
		t.Fatal("invariant was removed by an automatic path")
	}
	if math.Abs(view.Mu-0.9) > 1e-6 {
		t.Errorf("invariant mu drifted: %v", view.Mu)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	m, base := openTestMind(t)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		if _, err := m.Remember(ctx, "first batch", index.TypeWisdom, RememberOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	copyBase := filepath.Join(filepath.Dir(base), "copy")
	c1, err := m.SnapshotTo(copyBase)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	for i := 0; i < 50; i++ {
		if _, err := m.Remember(ctx, "second batch", index.TypeWisdom, RememberOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	cfg := DefaultConfig(copyBase)
	cfg.Dim = testDim
	snap, err := Open(cfg, WithReadOnly())
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer snap.Close()

	if snap.Size() != 50 {
		t.Errorf("snapshot size = %d, want 50", snap.Size())
	}
	if m.Size() != 100 {
		t.Errorf("live size = %d, want 100", m.Size())
	}

	c2, err := m.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if c2 <= c1 {
		t.Errorf("snapshot counter not strictly increasing: %d then %d", c1, c2)
	}
}

func TestRecallBoundedDedupedSorted(t *testing.T) {
	m, _ := openTestMind(t)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		if _, err := m.Remember(ctx, "a note about memory engines", index.TypeWisdom, RememberOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	results, err := m.Recall(ctx, "memory engines", RecallOptions{K: 7})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) > 7 {
		t.Fatalf("got %d results, want at most 7", len(results))
	}
	seen := make(map[primitive.NodeID]bool)
	for i, r := range results {
		if seen[r.ID] {
			t.Errorf("duplicate id %s", r.ID)
		}
		seen[r.ID] = true
		if i > 0 && r.Relevance > results[i-1].Relevance {
			t.Error("results not sorted by descending relevance")
		}
	}
}

func TestRealmVisibility(t *testing.T) {
	m, _ := openTestMind(t)
	ctx := context.Background()

	if err := m.RealmCreate("work", ""); err != nil {
		t.Fatal(err)
	}
	rootID, err := m.Remember(ctx, "red", index.TypeWisdom, RememberOptions{})
	if err != nil {
		t.Fatal(err)
	}
	workID, err := m.Remember(ctx, "crimson", index.TypeWisdom, RememberOptions{Realm: "work"})
	if err != nil {
		t.Fatal(err)
	}

	// From the root realm only root nodes are visible.
	results, err := m.Recall(ctx, "red", RecallOptions{K: 10, Mode: ModeDense})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.ID == workID {
			t.Error("work-realm node visible from the root realm")
		}
	}

	// From the work realm both are visible (inheritance downward).
	if err := m.RealmSwitch("work"); err != nil {
		t.Fatal(err)
	}
	results, err = m.Recall(ctx, "red", RecallOptions{K: 10, Mode: ModeDense})
	if err != nil {
		t.Fatal(err)
	}
	foundRoot, foundWork := false, false
	for _, r := range results {
		if r.ID == rootID {
			foundRoot = true
		}
		if r.ID == workID {
			foundWork = true
		}
	}
	if !foundRoot || !foundWork {
		t.Errorf("work realm should see both nodes: root=%v work=%v", foundRoot, foundWork)
	}

	if err := m.RealmSwitch("nonexistent"); !errors.Is(err, ErrUnknownRealm) {
		t.Errorf("switch to unknown realm: %v", err)
	}
}

func TestTagFilters(t *testing.T) {
	m, _ := openTestMind(t)
	ctx := context.Background()

	tagged, _ := m.Remember(ctx, "red", index.TypeWisdom, RememberOptions{Tags: []string{"color"}})
	m.Remember(ctx, "crimson", index.TypeWisdom, RememberOptions{Tags: []string{"avoid"}})

	results, err := m.Recall(ctx, "red", RecallOptions{
		K:    10,
		Mode: ModeDense,
		Filters: Filters{
			RequireTags: []string{"color"},
			ExcludeTags: []string{"avoid"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != tagged {
		t.Errorf("filters wrong: %+v", results)
	}
}

func TestConnectIdempotentAndConflict(t *testing.T) {
	m, _ := openTestMind(t)

	if _, err := m.Connect("tabs", "supports", "readability", 0.9); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Connect("tabs", "supports", "readability", 0.8); err != nil {
		t.Fatal(err)
	}
	got := m.QueryGraph("tabs", "", "")
	if len(got) != 1 {
		t.Fatalf("connect not idempotent: %v", got)
	}
	if got[0].Weight != 0.8 {
		t.Errorf("weight = %v, want 0.8", got[0].Weight)
	}

	// A high-confidence contradictory fact is recorded and annotated,
	// never retracted.
	res, err := m.Connect("tabs", "contradicts", "readability", 0.9)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Conflict {
		t.Error("conflict not annotated")
	}
	if len(m.QueryGraph("tabs", "", "")) != 2 {
		t.Error("both facts should be kept")
	}
}

func TestStrengthenWeakenFeedback(t *testing.T) {
	m, _ := openTestMind(t)
	ctx := context.Background()

	id, _ := m.Remember(ctx, "red", index.TypeWisdom, RememberOptions{Confidence: 0.5})
	before, _ := m.Get(ctx, id)

	if err := m.Strengthen(id, 0.3); err != nil {
		t.Fatal(err)
	}
	after, _ := m.Get(ctx, id)
	if after.Mu <= before.Mu {
		t.Errorf("strengthen did not raise mu: %v -> %v", before.Mu, after.Mu)
	}

	if err := m.Weaken(id, 0.3); err != nil {
		t.Fatal(err)
	}
	weakened, _ := m.Get(ctx, id)
	if weakened.Mu >= after.Mu {
		t.Errorf("weaken did not lower mu: %v -> %v", after.Mu, weakened.Mu)
	}

	if err := m.Strengthen(primitive.NewNodeID(), 0.1); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("strengthen unknown: %v", err)
	}

	// Feedback queues and applies on demand.
	if err := m.Feedback(id, true, "was useful"); err != nil {
		t.Fatal(err)
	}
	preApply, _ := m.Get(ctx, id)
	if applied := m.ApplyFeedback(); applied != 1 {
		t.Fatalf("applied = %d", applied)
	}
	postApply, _ := m.Get(ctx, id)
	if postApply.Mu <= preApply.Mu {
		t.Errorf("helpful feedback did not raise mu")
	}
}

func TestForgetProtectionAndRewire(t *testing.T) {
	m, _ := openTestMind(t)
	ctx := context.Background()

	inv, _ := m.Remember(ctx, "eternal", index.TypeInvariant, RememberOptions{})
	if err := m.Forget(ctx, inv, ForgetOptions{}); !errors.Is(err, ErrProtected) {
		t.Errorf("forget invariant: %v", err)
	}

	// a → mid → c; forgetting mid with rewire bridges a → c.
	a, _ := m.Remember(ctx, "red", index.TypeWisdom, RememberOptions{})
	mid, _ := m.Remember(ctx, "crimson", index.TypeWisdom, RememberOptions{})
	c, _ := m.Remember(ctx, "ocean", index.TypeWisdom, RememberOptions{})
	if err := m.AddEdge(a, index.Edge{Target: mid, Type: index.EdgeSupports, Weight: 0.8}); err != nil {
		t.Fatal(err)
	}
	if err := m.AddEdge(mid, index.Edge{Target: c, Type: index.EdgeSupports, Weight: 0.5}); err != nil {
		t.Fatal(err)
	}

	if err := m.Forget(ctx, mid, ForgetOptions{Cascade: true, Rewire: true}); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Get(ctx, mid); ok {
		t.Error("forgotten node still resolvable")
	}

	view, _ := m.Get(ctx, a)
	bridged := false
	for _, e := range view.Edges {
		if e.Target == c && e.Type == index.EdgeRelatesTo {
			bridged = true
			if math.Abs(float64(e.Weight)-0.4) > 1e-3 {
				t.Errorf("bridge weight = %v, want 0.8*0.5", e.Weight)
			}
		}
	}
	if !bridged {
		t.Error("rewire did not bridge predecessors to successors")
	}
}

func TestQuota(t *testing.T) {
	base := filepath.Join(t.TempDir(), "quota")
	cfg := DefaultConfig(base)
	cfg.Dim = testDim
	cfg.MaxNodes = 2
	m, err := Open(cfg, WithEmbedder(newMockEmbedder()))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	ctx := context.Background()

	m.Remember(ctx, "one", index.TypeWisdom, RememberOptions{})
	m.Remember(ctx, "two", index.TypeWisdom, RememberOptions{})
	if _, err := m.Remember(ctx, "three", index.TypeWisdom, RememberOptions{}); !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("quota not enforced: %v", err)
	}
}

func TestNoEmbedderAndEmptyText(t *testing.T) {
	base := filepath.Join(t.TempDir(), "bare")
	cfg := DefaultConfig(base)
	cfg.Dim = testDim
	m, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	ctx := context.Background()

	if _, err := m.Remember(ctx, "text", index.TypeWisdom, RememberOptions{}); !errors.Is(err, ErrNoEmbedder) {
		t.Errorf("remember without embedder: %v", err)
	}
	if _, err := m.Recall(ctx, "query", RecallOptions{K: 3}); !errors.Is(err, ErrNoEmbedder) {
		t.Errorf("recall without embedder: %v", err)
	}

	// Vector operations still work.
	vec := basis(5)
	id, err := m.RememberVector(vec, index.TypeBelief, RememberOptions{Payload: []byte("vector node")})
	if err != nil {
		t.Fatalf("remember vector: %v", err)
	}
	results, err := m.RecallVector(ctx, basis(5), RecallOptions{K: 1, Mode: ModeDense})
	if err != nil || len(results) != 1 || results[0].ID != id {
		t.Errorf("vector recall: %v %v", results, err)
	}
}

func TestPersistenceAcrossCleanReopen(t *testing.T) {
	base := filepath.Join(t.TempDir(), "reopen")
	cfg := DefaultConfig(base)
	cfg.Dim = testDim
	ctx := context.Background()

	m, err := Open(cfg, WithEmbedder(newMockEmbedder()))
	if err != nil {
		t.Fatal(err)
	}
	id, _ := m.Remember(ctx, "red", index.TypeWisdom, RememberOptions{Tags: []string{"kept"}})
	m.Connect("a", "r", "b", 0.5)
	if _, err := m.Snapshot(); err != nil {
		t.Fatal(err)
	}
	m.Close()

	m2, err := Open(cfg, WithEmbedder(newMockEmbedder()))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer m2.Close()

	view, ok := m2.Get(ctx, id)
	if !ok || view.Payload != "red" || len(view.Tags) != 1 {
		t.Errorf("node after reopen: %+v (ok=%v)", view, ok)
	}
	if got := m2.QueryGraph("a", "", ""); len(got) != 1 {
		t.Errorf("graph after reopen: %v", got)
	}
}

func TestTickReportsHealth(t *testing.T) {
	m, _ := openTestMind(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		m.Remember(ctx, "healthy node", index.TypeWisdom, RememberOptions{})
	}
	report, err := m.Tick(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Coherence < 0 || report.Coherence > 1 {
		t.Errorf("coherence out of range: %v", report.Coherence)
	}
	if report.Vitality < 0 || report.Vitality > 1 {
		t.Errorf("vitality out of range: %v", report.Vitality)
	}

	st := m.StatsSnapshot(ctx)
	if st.Nodes != 5 || st.NodesByType["wisdom"] != 5 {
		t.Errorf("stats = %+v", st)
	}
}
