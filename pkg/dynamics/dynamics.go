// Package dynamics implements the engine's slow processes: confidence
// decay, the prune policy, Hebbian edge strengthening, the coherence and
// vitality health metrics, spreading activation, and attractor settling.
// Everything here is driven from the maintenance tick or from resonate;
// nothing mutates storage directly except through the index interfaces
// the engine hands in.
package dynamics

import (
	"math"
	"sort"

	"github.com/genomewalker/chitta/pkg/index"
	"github.com/genomewalker/chitta/pkg/primitive"
)

// activationFloor bounds spreading-activation work; contributions below
// it are dropped.
const activationFloor = 0.01

// varianceCap is the ceiling decay pushes variance toward.
const varianceCap = 0.25

// DecayConfidence applies the decay contraction for days of elapsed
// inactivity: μ' = 0.5 + (μ−0.5)·e^(−δ·days), and variance grows by
// 0.01·(1−e^(−δ·days)) up to the cap. δ=0 types are exempt upstream.
func DecayConfidence(c index.Confidence, decay float32, days float64) index.Confidence {
	if decay <= 0 || days <= 0 {
		return c
	}
	f := math.Exp(-float64(decay) * days)
	c.Mu = float32(0.5 + (float64(c.Mu)-0.5)*f)
	v := float64(c.Var) + 0.01*(1-f)
	if v > varianceCap {
		v = varianceCap
	}
	c.Var = float32(v)
	return c
}

// CoherenceInputs carries the aggregates the coherence metric mixes.
type CoherenceInputs struct {
	ContradictEdges int
	TotalEdges      int
	MeanEffective   float64 // mean effective confidence over live nodes
	MeanVariance    float64
	RecentRatio     float64 // accessed within the rolling window
	StaleRatio      float64 // unaccessed beyond one
}

// Coherence computes τ = 0.5·local + 0.3·global + 0.2·temporal, clamped
// to [0,1].
func Coherence(in CoherenceInputs) float64 {
	total := in.TotalEdges
	if total < 1 {
		total = 1
	}
	local := 1 - float64(in.ContradictEdges)/float64(total)
	global := in.MeanEffective * (1 - math.Sqrt(in.MeanVariance))
	temporal := 0.5 + 0.3*in.RecentRatio - 0.2*in.StaleRatio
	return clamp01(0.5*local + 0.3*global + 0.2*temporal)
}

// VitalityInputs carries the four vitality components, each in [0,1].
type VitalityInputs struct {
	Structural float64 // connectivity saturation
	Semantic   float64 // mean pairwise similarity among the most confident nodes; activation levels are not used
	Temporal   float64 // activity density
	Capacity   float64 // headroom in index slots and node quota; tiers are not counted
}

// Vitality combines the components into ψ ∈ [0,1].
func Vitality(in VitalityInputs) float64 {
	return clamp01(0.3*in.Structural + 0.3*in.Semantic + 0.2*in.Temporal + 0.2*in.Capacity)
}

// VitalityStatus maps ψ to a human-readable band.
func VitalityStatus(psi float64) string {
	switch {
	case psi >= 0.8:
		return "flourishing"
	case psi >= 0.6:
		return "healthy"
	case psi >= 0.4:
		return "stable"
	case psi >= 0.2:
		return "fading"
	default:
		return "dormant"
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Activation is one spreading-activation result.
type Activation struct {
	ID    primitive.NodeID
	Level float64
}

// Spread performs breadth-first activation from seed: each hop multiplies
// the parent's activation by γ and the edge weight, contributions
// accumulate per node, and anything below the floor is dropped. Expansion
// stops after maxDepth hops. Results are sorted by descending activation,
// ties broken by identifier.
func Spread(ix *index.Index, seed primitive.NodeID, a0, gamma float64, maxDepth int) []Activation {
	if !ix.Contains(seed) || a0 < activationFloor {
		return nil
	}
	levels := map[primitive.NodeID]float64{seed: a0}
	frontier := []primitive.NodeID{seed}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		next := make(map[primitive.NodeID]float64)
		for _, id := range frontier {
			edges, err := ix.EdgesOf(id)
			if err != nil {
				continue
			}
			parent := levels[id]
			for _, e := range edges {
				contribution := parent * gamma * float64(e.Weight)
				if contribution < activationFloor {
					continue
				}
				next[e.Target] += contribution
			}
		}
		frontier = frontier[:0]
		for id, add := range next {
			if _, seen := levels[id]; seen {
				levels[id] += add
				continue
			}
			levels[id] = add
			frontier = append(frontier, id)
		}
	}

	out := make([]Activation, 0, len(levels))
	for id, level := range levels {
		out = append(out, Activation{ID: id, Level: level})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level > out[j].Level
		}
		return out[i].ID.Less(out[j].ID)
	})
	return out
}

// EdgeUpdate is one computed Hebbian strengthening: the absolute new
// weight for a Similar edge from From.
type EdgeUpdate struct {
	From primitive.NodeID
	Edge index.Edge
}

// HebbianUpdates computes the pairwise strengthening for a co-activated
// set without applying it: a missing Similar edge gets weight η, an
// existing one gains η, clamped to 1. The set is bidirectional by
// construction. The engine applies each update and logs it.
func HebbianUpdates(ix *index.Index, ids []primitive.NodeID, eta float32) []EdgeUpdate {
	if eta <= 0 || eta > 0.5 {
		return nil
	}
	var out []EdgeUpdate
	for _, a := range ids {
		for _, b := range ids {
			if a == b {
				continue
			}
			w, ok := ix.EdgeWeight(a, b, index.EdgeSimilar)
			next := eta
			if ok {
				next = w + eta
				if next > 1 {
					next = 1
				}
			}
			out = append(out, EdgeUpdate{
				From: a,
				Edge: index.Edge{Target: b, Type: index.EdgeSimilar, Weight: next},
			})
		}
	}
	return out
}

// Hebbian computes and applies the pairwise strengthening directly.
func Hebbian(ix *index.Index, ids []primitive.NodeID, eta float32) (int, error) {
	updates := HebbianUpdates(ix, ids, eta)
	for i, u := range updates {
		if err := ix.AddEdge(u.From, u.Edge); err != nil {
			return i, err
		}
	}
	return len(updates), nil
}

// VectorShift is one proposed embedding drift from attractor settling.
type VectorShift struct {
	ID     primitive.NodeID
	Vector primitive.QuantizedVector
}

// Settle runs a few iterations nudging each node's vector a fraction
// toward the centroid of its strongest neighbors, capped so no vector
// moves more than maxShift in cosine terms per call. It proposes shifts
// without applying them; the engine applies and WAL-logs each drift.
func Settle(ix *index.Index, iterations int, fraction, maxShift float64) []VectorShift {
	if iterations <= 0 || fraction <= 0 {
		return nil
	}

	current := make(map[primitive.NodeID][]float32)
	ix.ForEach(func(n *index.Node) bool {
		if !n.Vector.IsZero() && len(n.Edges) > 0 {
			current[n.ID] = n.Vector.Dequantize()
		}
		return true
	})

	for iter := 0; iter < iterations; iter++ {
		for id, vec := range current {
			edges, err := ix.EdgesOf(id)
			if err != nil || len(edges) == 0 {
				continue
			}
			sort.Slice(edges, func(i, j int) bool { return edges[i].Weight > edges[j].Weight })
			if len(edges) > 8 {
				edges = edges[:8]
			}

			centroid := make([]float32, len(vec))
			contributors := 0
			for _, e := range edges {
				nv, ok := current[e.Target]
				if !ok {
					if n, found := ix.Get(e.Target); found && !n.Vector.IsZero() {
						nv = n.Vector.Dequantize()
					} else {
						continue
					}
				}
				for i := range centroid {
					centroid[i] += nv[i] * e.Weight
				}
				contributors++
			}
			if contributors == 0 {
				continue
			}
			primitive.Normalize(centroid)

			for i := range vec {
				vec[i] += float32(fraction) * (centroid[i] - vec[i])
			}
			primitive.Normalize(vec)
		}
	}

	var shifts []VectorShift
	ix.ForEach(func(n *index.Node) bool {
		vec, ok := current[n.ID]
		if !ok {
			return true
		}
		drift := 1 - primitive.ExactCosine(vec, n.Vector)
		if drift <= 1e-6 {
			return true
		}
		if drift > maxShift {
			// Pull the drifted vector back onto the cap boundary.
			orig := n.Vector.Dequantize()
			t := float32(maxShift / drift)
			for i := range vec {
				vec[i] = orig[i] + t*(vec[i]-orig[i])
			}
			primitive.Normalize(vec)
		}
		shifts = append(shifts, VectorShift{ID: n.ID, Vector: primitive.Quantize(vec)})
		return true
	})
	return shifts
}
