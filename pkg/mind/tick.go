package mind

import (
	"context"
	"math"

	"github.com/genomewalker/chitta/pkg/dynamics"
	"github.com/genomewalker/chitta/pkg/index"
	"github.com/genomewalker/chitta/pkg/primitive"
	"github.com/genomewalker/chitta/pkg/wal"
)

// TickReport summarizes one dynamics cycle.
type TickReport struct {
	Decayed         int     `json:"decayed"`
	Pruned          int     `json:"pruned"`
	FeedbackApplied int     `json:"feedback_applied"`
	Settled         int     `json:"settled"`
	MigratedCold    int     `json:"migrated_cold"`
	HotEvicted      int     `json:"hot_evicted"`
	Coherence       float64 `json:"coherence"`
	Vitality        float64 `json:"vitality"`
	SnapshotTaken   bool    `json:"snapshot_taken"`
	SnapshotCounter uint64  `json:"snapshot_counter"`
}

// Tick runs one dynamics cycle: decay, prune, feedback, attractor
// settling, tier migration, health metrics, and a forced snapshot when
// the WAL exceeds its byte budget. Maintenance never runs during a query;
// the engine lock covers the whole cycle.
func (m *Mind) Tick(ctx context.Context) (*TickReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, wrapErr("tick", ErrClosed)
	}
	if m.cfg.ReadOnly {
		return nil, wrapErr("tick", index.ErrReadOnly)
	}

	report := &TickReport{}
	now := m.nowMs()

	// Decay, then prune below the threshold. Protected types are exempt
	// from both.
	var doomed []primitive.NodeID
	var decays []struct {
		id primitive.NodeID
		c  index.Confidence
	}
	m.ix.ForEach(func(n *index.Node) bool {
		if n.Type.Protected() || n.Decay <= 0 {
			return true
		}
		days := float64(now-n.AccessedAt) / 86400000.0
		if days <= 0 {
			return true
		}
		c := dynamics.DecayConfidence(n.Confidence, n.Decay, days)
		if c != n.Confidence {
			decays = append(decays, struct {
				id primitive.NodeID
				c  index.Confidence
			}{n.ID, c})
		}
		if c.Effective() < m.cfg.PruneThreshold {
			doomed = append(doomed, n.ID)
		}
		return true
	})
	for _, d := range decays {
		if err := m.appendWAL(wal.KindConfidence, index.EncodeConfidence(d.id, d.c), false); err != nil {
			m.log.Error("tick decay wal append failed", "err", err)
			return report, wrapErr("tick", err)
		}
		if err := m.ix.SetConfidence(d.id, d.c); err == nil {
			report.Decayed++
		}
	}
	for _, id := range doomed {
		n, ok := m.ix.Get(id)
		if !ok {
			continue
		}
		if err := m.forgetLocked(ctx, n, ForgetOptions{}); err != nil {
			m.log.Warn("prune failed", "id", id, "err", err)
			continue
		}
		report.Pruned++
	}

	report.FeedbackApplied = m.applyFeedbackLocked()

	// Attractor settling: drift is a logical mutation and is WAL-logged
	// per vector.
	if m.cfg.SettleIterations > 0 {
		shifts := dynamics.Settle(m.ix, m.cfg.SettleIterations, m.cfg.SettleFraction, m.cfg.SettleMaxShift)
		for _, s := range shifts {
			if err := m.appendWAL(wal.KindVector, index.EncodeVectorDelta(s.ID, s.Vector), false); err != nil {
				m.log.Error("tick settle wal append failed", "err", err)
				return report, wrapErr("tick", err)
			}
			if err := m.ix.SetVector(s.ID, s.Vector); err == nil {
				report.Settled++
			}
		}
	}

	// Tier migration runs only here, never during a query.
	report.HotEvicted = m.tiers.TrimHot()
	coldCutoff := now - int64(m.cfg.ColdAfterDays)*86400000
	m.ix.ForEach(func(n *index.Node) bool {
		if n.Flags&index.FlagCold != 0 || n.PayloadOff == index.NoPayload {
			return true
		}
		if n.AccessedAt >= coldCutoff {
			return true
		}
		if err := m.tiers.MigrateCold(ctx, n.ID, n.PayloadOff, now); err != nil {
			m.log.Warn("cold migration failed", "id", n.ID, "err", err)
			return true
		}
		if err := m.ix.SetPayloadRef(n.ID, n.PayloadOff, true); err == nil {
			report.MigratedCold++
		}
		return true
	})

	report.Coherence = m.computeCoherence(now)
	report.Vitality = m.computeVitality()
	m.lastCoherence = report.Coherence
	m.lastVitality = report.Vitality

	if err := m.wlog.Sync(); err != nil {
		return report, wrapErr("tick", err)
	}

	// Back-pressure: a WAL past its budget forces a snapshot.
	if m.wlog.Size() > int64(m.cfg.WALBudget) {
		counter, err := m.snapshotLocked(m.cfg.Path + ".snapshot")
		if err != nil {
			m.log.Error("forced snapshot failed", "err", err)
		} else {
			report.SnapshotTaken = true
			report.SnapshotCounter = counter
		}
	}

	m.log.Debug("tick complete",
		"decayed", report.Decayed,
		"pruned", report.Pruned,
		"coherence", report.Coherence,
		"vitality", report.Vitality)
	return report, nil
}

// computeCoherence gathers τ inputs across the live store.
func (m *Mind) computeCoherence(now int64) float64 {
	const recentWindowMs = 7 * 86400000
	const staleWindowMs = 30 * 86400000

	var in dynamics.CoherenceInputs
	var nodes, recent, stale int
	var sumEff, sumVar float64

	m.ix.ForEach(func(n *index.Node) bool {
		nodes++
		sumEff += n.Confidence.Effective()
		sumVar += float64(n.Confidence.Var)
		for _, e := range n.Edges {
			in.TotalEdges++
			if e.Type == index.EdgeContradicts {
				in.ContradictEdges++
			}
		}
		age := now - n.AccessedAt
		if age <= recentWindowMs {
			recent++
		} else if age > staleWindowMs {
			stale++
		}
		return true
	})
	if nodes == 0 {
		return 1
	}
	in.MeanEffective = sumEff / float64(nodes)
	in.MeanVariance = sumVar / float64(nodes)
	in.RecentRatio = float64(recent) / float64(nodes)
	in.StaleRatio = float64(stale) / float64(nodes)
	return dynamics.Coherence(in)
}

// computeVitality gathers ψ inputs: connectivity saturation, semantic
// cohesion of the 16 most confident nodes, activity density, and capacity
// headroom in index slots and the node quota. Tier occupancy is not
// counted.
func (m *Mind) computeVitality() float64 {
	st := m.ix.StatsSnapshot()
	if st.Live == 0 {
		return 0
	}

	var edgeCount int
	type topNode struct {
		eff float64
		vec primitive.QuantizedVector
	}
	var top []topNode
	m.ix.ForEach(func(n *index.Node) bool {
		edgeCount += len(n.Edges)
		if n.Vector.IsZero() {
			return true
		}
		cand := topNode{eff: n.Confidence.Effective(), vec: n.Vector}
		if len(top) < 16 {
			top = append(top, cand)
			return true
		}
		low := 0
		for i := range top {
			if top[i].eff < top[low].eff {
				low = i
			}
		}
		if cand.eff > top[low].eff {
			top[low] = cand
		}
		return true
	})

	structural := math.Min(float64(edgeCount)/float64(st.Live*4), 1)

	semantic := 0.5
	if len(top) > 1 {
		var sum float64
		var pairs int
		for i := 0; i < len(top); i++ {
			for j := i + 1; j < len(top); j++ {
				sum += float64(primitive.ApproxCosine(top[i].vec, top[j].vec))
				pairs++
			}
		}
		semantic = (sum/float64(pairs) + 1) / 2
	}

	const recentWindowMs = 7 * 86400000
	now := m.nowMs()
	var active uint64
	m.ix.ForEach(func(n *index.Node) bool {
		if now-n.AccessedAt <= recentWindowMs {
			active++
		}
		return true
	})
	temporal := float64(active) / float64(st.Live)

	capacity := 1 - float64(st.Live)/float64(st.SlotCap)
	if m.cfg.MaxNodes > 0 {
		capacity = math.Min(capacity, 1-float64(st.Live)/float64(m.cfg.MaxNodes))
	}
	if capacity < 0 {
		capacity = 0
	}

	return dynamics.Vitality(dynamics.VitalityInputs{
		Structural: structural,
		Semantic:   semantic,
		Temporal:   temporal,
		Capacity:   capacity,
	})
}
