package dynamics

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/genomewalker/chitta/pkg/index"
	"github.com/genomewalker/chitta/pkg/primitive"
)

const testDim = 16

func newTestIndex(t *testing.T) *index.Index {
	t.Helper()
	ix, err := index.Create(filepath.Join(t.TempDir(), "dyn.unified"), index.DefaultOptions(testDim))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func insertNode(t *testing.T, ix *index.Index, rng *rand.Rand) primitive.NodeID {
	t.Helper()
	v := make([]float32, testDim)
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	n := &index.Node{
		ID:         primitive.NewNodeID(),
		Type:       index.TypeWisdom,
		Vector:     primitive.Quantize(primitive.Normalize(v)),
		Confidence: index.NewConfidence(0.8, 0),
		PayloadOff: index.NoPayload,
	}
	if _, err := ix.Insert(n); err != nil {
		t.Fatal(err)
	}
	return n.ID
}

func TestDecayContractsTowardHalf(t *testing.T) {
	c := index.Confidence{Mu: 0.9, Var: 0.05, N: 1}

	prev := c
	for days := 1.0; days <= 256; days *= 2 {
		got := DecayConfidence(index.Confidence{Mu: 0.9, Var: 0.05, N: 1}, 0.05, days)
		// μ contracts toward 0.5, never crossing it.
		if got.Mu < 0.5 || got.Mu > prev.Mu {
			t.Errorf("days=%v: mu=%v not contracting toward 0.5 (prev %v)", days, got.Mu, prev.Mu)
		}
		// Variance grows monotonically up to the cap.
		if got.Var < prev.Var-1e-6 || got.Var > 0.25 {
			t.Errorf("days=%v: var=%v outside expected growth", days, got.Var)
		}
		prev = got
	}

	// δ=0 and days=0 are both identity.
	if DecayConfidence(c, 0, 100) != c {
		t.Error("zero decay must be identity")
	}
	if DecayConfidence(c, 0.05, 0) != c {
		t.Error("zero elapsed time must be identity")
	}
}

func TestDecayBelowHalfRisesTowardHalf(t *testing.T) {
	got := DecayConfidence(index.Confidence{Mu: 0.1, Var: 0.01}, 0.1, 30)
	if got.Mu <= 0.1 || got.Mu > 0.5 {
		t.Errorf("mu=%v; decay must contract toward 0.5 from below too", got.Mu)
	}
}

func TestCoherenceBounds(t *testing.T) {
	cases := []CoherenceInputs{
		{},
		{ContradictEdges: 10, TotalEdges: 10, MeanVariance: 0.25},
		{TotalEdges: 100, MeanEffective: 1, RecentRatio: 1},
		{ContradictEdges: 5, TotalEdges: 50, MeanEffective: 0.7, MeanVariance: 0.04, RecentRatio: 0.6, StaleRatio: 0.1},
	}
	for i, in := range cases {
		tau := Coherence(in)
		if tau < 0 || tau > 1 {
			t.Errorf("case %d: tau = %v out of [0,1]", i, tau)
		}
	}

	healthy := Coherence(CoherenceInputs{TotalEdges: 100, MeanEffective: 0.9, RecentRatio: 0.8})
	sick := Coherence(CoherenceInputs{ContradictEdges: 90, TotalEdges: 100, MeanVariance: 0.25, StaleRatio: 0.9})
	if healthy <= sick {
		t.Errorf("healthy τ=%v should exceed sick τ=%v", healthy, sick)
	}
}

func TestVitalityBandsAndBounds(t *testing.T) {
	if psi := Vitality(VitalityInputs{1, 1, 1, 1}); psi != 1 {
		t.Errorf("full vitality = %v", psi)
	}
	if VitalityStatus(0.9) != "flourishing" || VitalityStatus(0.05) != "dormant" {
		t.Error("status bands wrong")
	}
}

func TestHebbianMonotoneAndSaturating(t *testing.T) {
	ix := newTestIndex(t)
	rng := rand.New(rand.NewSource(1))

	ids := []primitive.NodeID{
		insertNode(t, ix, rng),
		insertNode(t, ix, rng),
		insertNode(t, ix, rng),
	}

	var prev float32
	for round := 0; round < 15; round++ {
		if _, err := Hebbian(ix, ids, 0.1); err != nil {
			t.Fatal(err)
		}
		w, ok := ix.EdgeWeight(ids[0], ids[1], index.EdgeSimilar)
		if !ok {
			t.Fatal("edge missing after hebbian")
		}
		if w < prev {
			t.Fatalf("round %d: weight %v decreased from %v", round, w, prev)
		}
		prev = w
	}

	// After 15 rounds of η=0.1 every pairwise weight is exactly 1.
	for _, a := range ids {
		for _, b := range ids {
			if a == b {
				continue
			}
			w, ok := ix.EdgeWeight(a, b, index.EdgeSimilar)
			if !ok || w != 1.0 {
				t.Errorf("weight %s→%s = %v, want exactly 1.0", a, b, w)
			}
		}
	}
}

func TestSpreadTerminatesSortedWithinDepth(t *testing.T) {
	ix := newTestIndex(t)
	rng := rand.New(rand.NewSource(2))

	// Chain a→b→c→d with a cycle back d→a.
	ids := make([]primitive.NodeID, 4)
	for i := range ids {
		ids[i] = insertNode(t, ix, rng)
	}
	for i := 0; i < 3; i++ {
		ix.AddEdge(ids[i], index.Edge{Target: ids[i+1], Type: index.EdgeRelatesTo, Weight: 0.9})
	}
	ix.AddEdge(ids[3], index.Edge{Target: ids[0], Type: index.EdgeRelatesTo, Weight: 0.9})

	got := Spread(ix, ids[0], 1.0, 0.8, 2)

	// Depth 2 reaches a, b, c only.
	if len(got) != 3 {
		t.Fatalf("activated %d nodes, want 3 (depth bound)", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Level > got[i-1].Level {
			t.Error("activations not sorted descending")
		}
	}
	if got[0].ID != ids[0] {
		t.Errorf("seed should carry the highest activation")
	}

	// The cycle must not loop forever even with generous depth.
	got = Spread(ix, ids[0], 1.0, 0.9, 50)
	if len(got) == 0 {
		t.Fatal("cycle spread returned nothing")
	}
}

func TestSpreadDropsBelowFloor(t *testing.T) {
	ix := newTestIndex(t)
	rng := rand.New(rand.NewSource(3))

	a := insertNode(t, ix, rng)
	b := insertNode(t, ix, rng)
	ix.AddEdge(a, index.Edge{Target: b, Type: index.EdgeSimilar, Weight: 0.001})

	got := Spread(ix, a, 1.0, 0.5, 3)
	if len(got) != 1 {
		t.Errorf("sub-floor contribution should be dropped, got %d nodes", len(got))
	}
}

func TestSettleMovesTowardNeighborsUnderCap(t *testing.T) {
	ix := newTestIndex(t)

	mk := func(v []float32) primitive.NodeID {
		n := &index.Node{
			ID:         primitive.NewNodeID(),
			Type:       index.TypeWisdom,
			Vector:     primitive.Quantize(primitive.Normalize(v)),
			Confidence: index.NewConfidence(0.8, 0),
			PayloadOff: index.NoPayload,
		}
		if _, err := ix.Insert(n); err != nil {
			t.Fatal(err)
		}
		return n.ID
	}

	va := make([]float32, testDim)
	va[0] = 1
	vb := make([]float32, testDim)
	vb[0], vb[1] = 0.7, 0.7
	a := mk(va)
	b := mk(vb)
	ix.AddEdge(a, index.Edge{Target: b, Type: index.EdgeSimilar, Weight: 1.0})

	shifts := Settle(ix, 2, 0.2, 0.05)
	if len(shifts) != 1 {
		t.Fatalf("shifts = %d, want 1 (only a has outbound edges)", len(shifts))
	}

	before, _ := ix.Get(a)
	origVec := before.Vector.Dequantize()
	target, _ := ix.Get(b)
	targetVec := target.Vector.Dequantize()

	shifted := shifts[0].Vector.Dequantize()
	closenessBefore := primitive.Cosine(origVec, targetVec)
	closenessAfter := primitive.Cosine(shifted, targetVec)
	if closenessAfter <= closenessBefore {
		t.Errorf("settle moved away from neighbor: %v -> %v", closenessBefore, closenessAfter)
	}

	drift := 1 - primitive.Cosine(shifted, origVec)
	if drift > 0.05+0.02 { // quantization slack
		t.Errorf("drift %v exceeds cap", drift)
	}
	if math.Abs(vecNorm(shifted)-1) > 0.02 {
		t.Errorf("shifted vector not unit: %v", vecNorm(shifted))
	}
}

func vecNorm(v []float32) float64 {
	var s float64
	for _, f := range v {
		s += float64(f) * float64(f)
	}
	return math.Sqrt(s)
}
