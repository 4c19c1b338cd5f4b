package mind

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/genomewalker/chitta/pkg/dynamics"
	"github.com/genomewalker/chitta/pkg/index"
	"github.com/genomewalker/chitta/pkg/primitive"
	"github.com/genomewalker/chitta/pkg/wal"
)

// RecallMode selects the retrieval channel mix.
type RecallMode string

const (
	// ModeDense uses ANN vector search only.
	ModeDense RecallMode = "dense"
	// ModeSparse uses the BM25 lexical channel only.
	ModeSparse RecallMode = "sparse"
	// ModeHybrid fuses both channels with reciprocal-rank fusion.
	ModeHybrid RecallMode = "hybrid"
)

// Filters narrows recall candidates before scoring.
type Filters struct {
	RequireTags   []string
	ExcludeTags   []string
	Realm         string // default: current realm; matches it plus ancestors
	MinConfidence float64
	MinEpsilon    float64
}

// RecallOptions tunes one recall call.
type RecallOptions struct {
	K         int
	Threshold float64 // minimum base similarity
	Mode      RecallMode
	Filters   Filters
	Voice     string // optional lens; replaces the weights and adds its tag filters
}

// RecallResult is one ranked recall hit.
type RecallResult struct {
	ID         primitive.NodeID `json:"id"`
	Type       string           `json:"type"`
	Relevance  float64          `json:"relevance"`
	Similarity float64          `json:"similarity"`
	Confidence float64          `json:"confidence"`
	Epsilon    float64          `json:"epsilon"`
	Payload    string           `json:"payload,omitempty"`
	Tags       []string         `json:"tags,omitempty"`
}

// candidate accumulates per-channel evidence during fusion.
type candidate struct {
	slot      uint32
	id        primitive.NodeID
	cos       float64 // dense similarity when seen by the dense channel
	denseRank int     // 1-based; 0 = unseen
	sparseRank int
	base      float64 // fused base similarity s
}

// Recall performs semantic recall over the store. Text queries need an
// embedder unless the mode is sparse. Results are deduplicated by id,
// sorted by soul-aware relevance, and truncated to K.
func (m *Mind) Recall(ctx context.Context, query string, opts RecallOptions) ([]RecallResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, wrapErr("recall", ErrClosed)
	}
	var vec []float32
	if opts.Mode != ModeSparse {
		if m.cfg.Embedder == nil {
			return nil, wrapErr("recall", ErrNoEmbedder)
		}
		voicePrefix := ""
		if v, ok := LookupVoice(opts.Voice); ok && v.QueryPrefix != "" {
			voicePrefix = v.QueryPrefix + " "
		}
		var err error
		vec, err = m.cfg.Embedder.Embed(ctx, voicePrefix+query)
		if err != nil {
			return nil, wrapErr("recall", fmt.Errorf("%w: embed: %v", ErrIoFailure, err))
		}
		primitive.Normalize(vec)
	}
	return m.recallLocked(ctx, query, vec, opts)
}

// RecallVector performs recall from a caller-supplied query vector.
func (m *Mind) RecallVector(ctx context.Context, vec []float32, opts RecallOptions) ([]RecallResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, wrapErr("recall", ErrClosed)
	}
	if opts.Mode == "" {
		opts.Mode = ModeDense
	}
	if opts.Mode != ModeDense {
		return nil, wrapErr("recall", fmt.Errorf("%w: vector queries support dense mode only", ErrInvalidParams))
	}
	primitive.Normalize(vec)
	return m.recallLocked(ctx, "", vec, opts)
}

func (m *Mind) recallLocked(ctx context.Context, query string, vec []float32, opts RecallOptions) ([]RecallResult, error) {
	if opts.K <= 0 {
		opts.K = 10
	}
	if opts.Mode == "" {
		opts.Mode = ModeHybrid
	}

	weights := m.cfg.Weights
	if v, ok := LookupVoice(opts.Voice); ok {
		weights = v.Weights
		opts.Filters.RequireTags = append(opts.Filters.RequireTags, v.RequireTags...)
		opts.Filters.ExcludeTags = append(opts.Filters.ExcludeTags, v.ExcludeTags...)
	}
	for _, tag := range opts.Filters.RequireTags {
		if m.tagIx.SlotsWithTag(tag).IsEmpty() {
			return nil, wrapErr("recall", fmt.Errorf("%w: %s", ErrUnknownTag, tag))
		}
	}

	pool := opts.K * 4
	if pool < 32 {
		pool = 32
	}

	byID := make(map[primitive.NodeID]*candidate)

	if opts.Mode == ModeDense || opts.Mode == ModeHybrid {
		q := primitive.Quantize(vec)
		for rank, c := range m.ix.Search(q, pool, m.cfg.EfSearch) {
			byID[c.ID] = &candidate{
				slot:      c.Slot,
				id:        c.ID,
				cos:       float64(c.Cos),
				denseRank: rank + 1,
			}
		}
	}
	if (opts.Mode == ModeSparse || opts.Mode == ModeHybrid) && query != "" {
		for rank, r := range m.lex.Search(query, pool) {
			id, ok := m.ix.IDOf(r.Slot)
			if !ok {
				continue
			}
			if c, seen := byID[id]; seen {
				c.sparseRank = rank + 1
				continue
			}
			byID[id] = &candidate{
				slot:       r.Slot,
				id:         id,
				sparseRank: rank + 1,
			}
		}
	}

	// Base similarity: dense cosine, lexical rank score, or RRF fusion.
	for _, c := range byID {
		switch opts.Mode {
		case ModeDense:
			c.base = c.cos
		case ModeSparse:
			c.base = 1 / (1 + float64(c.sparseRank-1)/10)
		default:
			rrf := 0.0
			k := float64(m.cfg.RRFRankConstant)
			if c.denseRank > 0 {
				rrf += m.cfg.DenseWeight / (k + float64(c.denseRank))
			}
			if c.sparseRank > 0 {
				rrf += m.cfg.SparseWeight / (k + float64(c.sparseRank))
			}
			// Normalize against the best possible fused score so the
			// threshold keeps meaning across modes.
			best := (m.cfg.DenseWeight + m.cfg.SparseWeight) / (k + 1)
			c.base = rrf / best
			if c.denseRank > 0 && c.cos > c.base {
				c.base = (c.base + c.cos) / 2
			}
		}
	}

	realm := opts.Filters.Realm
	if realm == "" {
		realm = m.realm
	}
	visible := make(map[string]bool)
	for _, r := range m.tagIx.RealmAncestry(realm) {
		visible[r] = true
	}

	now := m.nowMs()
	results := make([]RecallResult, 0, opts.K)
	ordered := make([]*candidate, 0, len(byID))
	for _, c := range byID {
		ordered = append(ordered, c)
	}

	for _, c := range ordered {
		if opts.Threshold > 0 && c.base < opts.Threshold {
			continue
		}
		n, ok := m.ix.GetBySlot(c.slot)
		if !ok {
			continue
		}
		if !m.passesFilters(n, c.slot, opts.Filters, visible) {
			continue
		}

		eff := n.Confidence.Effective()
		ageDays := float64(now-n.AccessedAt) / 86400000.0
		if ageDays < 0 {
			ageDays = 0
		}
		recency := math.Exp(-math.Ln2 * ageDays / m.cfg.RecencyHalfLifeDays)

		rel := c.base*weights.Similarity +
			eff*weights.Confidence +
			recency*weights.Recency +
			float64(n.Epsilon)*weights.Epsilon

		r := RecallResult{
			ID:         n.ID,
			Type:       n.Type.String(),
			Relevance:  rel,
			Similarity: c.base,
			Confidence: eff,
			Epsilon:    float64(n.Epsilon),
		}
		for _, tag := range n.Tags {
			if len(tag) <= len(realmTagPrefix) || tag[:len(realmTagPrefix)] != realmTagPrefix {
				r.Tags = append(r.Tags, tag)
			}
		}
		if n.PayloadOff != index.NoPayload {
			if payload, err := m.tiers.Get(ctx, n.ID, n.PayloadOff, n.Flags&index.FlagCold != 0); err == nil {
				r.Payload = string(payload)
			}
		}
		results = append(results, r)
	}

	// Final ordering is always soul-aware relevance, not raw similarity.
	sort.Slice(results, func(i, j int) bool {
		if results[i].Relevance != results[j].Relevance {
			return results[i].Relevance > results[j].Relevance
		}
		return results[i].ID.Less(results[j].ID)
	})
	if len(results) > opts.K {
		results = results[:opts.K]
	}

	for _, r := range results {
		m.touchLocked(r.ID)
	}
	return results, nil
}

func (m *Mind) passesFilters(n *index.Node, slot uint32, f Filters, visibleRealms map[string]bool) bool {
	nodeRealm := RootRealm
	for _, tag := range n.Tags {
		if len(tag) > len(realmTagPrefix) && tag[:len(realmTagPrefix)] == realmTagPrefix {
			nodeRealm = tag[len(realmTagPrefix):]
			break
		}
	}
	if !visibleRealms[nodeRealm] {
		return false
	}
	for _, tag := range f.RequireTags {
		if !m.tagIx.HasTag(tag, slot) {
			return false
		}
	}
	for _, tag := range f.ExcludeTags {
		if m.tagIx.HasTag(tag, slot) {
			return false
		}
	}
	if f.MinConfidence > 0 && n.Confidence.Effective() < f.MinConfidence {
		return false
	}
	if f.MinEpsilon > 0 && float64(n.Epsilon) < f.MinEpsilon {
		return false
	}
	return true
}

// ResonateResult pairs recall hits with the activation wave they set off.
type ResonateResult struct {
	Results     []RecallResult        `json:"results"`
	Activations []dynamics.Activation `json:"activations"`
	Hebbian     int                   `json:"hebbian_edges"`
}

// Resonate recalls, spreads activation from the hits, and optionally
// applies a Hebbian update to the co-activated set.
func (m *Mind) Resonate(ctx context.Context, query string, k, spreadDepth int, hebbianStrength float64, excludeTags []string) (*ResonateResult, error) {
	results, err := m.Recall(ctx, query, RecallOptions{
		K:       k,
		Mode:    ModeHybrid,
		Filters: Filters{ExcludeTags: excludeTags},
	})
	if err != nil {
		return nil, wrapErr("resonate", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, wrapErr("resonate", ErrClosed)
	}

	// Seed each hit with its similarity, then let the wave run.
	levels := make(map[primitive.NodeID]float64)
	for _, r := range results {
		if r.Similarity > levels[r.ID] {
			levels[r.ID] = r.Similarity
		}
	}
	if spreadDepth > 0 {
		for _, r := range results {
			for _, a := range dynamics.Spread(m.ix, r.ID, r.Similarity, m.cfg.SpreadGamma, spreadDepth) {
				if a.Level > levels[a.ID] {
					levels[a.ID] = a.Level
				}
			}
		}
	}

	activations := make([]dynamics.Activation, 0, len(levels))
	for id, level := range levels {
		activations = append(activations, dynamics.Activation{ID: id, Level: level})
	}
	sort.Slice(activations, func(i, j int) bool {
		if activations[i].Level != activations[j].Level {
			return activations[i].Level > activations[j].Level
		}
		return activations[i].ID.Less(activations[j].ID)
	})

	res := &ResonateResult{Results: results, Activations: activations}

	if hebbianStrength > 0 {
		var coactive []primitive.NodeID
		for _, a := range activations {
			if a.Level >= m.cfg.HebbianActivationFloor {
				coactive = append(coactive, a.ID)
			}
		}
		for _, u := range dynamics.HebbianUpdates(m.ix, coactive, float32(hebbianStrength)) {
			if err := m.appendWAL(wal.KindEdge, index.EncodeEdgeDelta(u.From, u.Edge, true), false); err != nil {
				return nil, wrapErr("resonate", err)
			}
			if err := m.ix.AddEdge(u.From, u.Edge); err != nil {
				return nil, wrapErr("resonate", err)
			}
			res.Hebbian++
		}
		if res.Hebbian > 0 {
			if err := m.wlog.Sync(); err != nil {
				return nil, wrapErr("resonate", fmt.Errorf("%w: %v", ErrIoFailure, err))
			}
		}
	}
	return res, nil
}
