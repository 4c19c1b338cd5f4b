// Package mind is the engine façade: the semantic API (remember, recall,
// resonate, connect, feedback, tick) over the unified index, graph store,
// tag index, sparse index, tiered payloads, WAL, and dynamics. One Mind
// owns one database; all operations are serialized under a single logical
// lock and every mutation reaches the WAL before it is acknowledged.
package mind

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/genomewalker/chitta/pkg/dynamics"
	"github.com/genomewalker/chitta/pkg/graphstore"
	"github.com/genomewalker/chitta/pkg/index"
	"github.com/genomewalker/chitta/pkg/primitive"
	"github.com/genomewalker/chitta/pkg/sparse"
	"github.com/genomewalker/chitta/pkg/tags"
	"github.com/genomewalker/chitta/pkg/tier"
	"github.com/genomewalker/chitta/pkg/wal"
)

// realmTagPrefix is the reserved tag namespace carrying realm membership.
const realmTagPrefix = "realm:"

const unitNormTolerance = 0.02

// feedbackEvent is one queued feedback observation.
type feedbackEvent struct {
	ID      primitive.NodeID
	Helpful bool
	Context string
}

// Mind is the engine instance.
type Mind struct {
	mu  sync.Mutex
	cfg Config
	log Logger

	ix     *index.Index
	wlog   *wal.Log
	tagIx  *tags.Index
	graph  *graphstore.Store
	lex    *sparse.Index
	tiers  *tier.Store
	closed bool

	realm    string
	feedback []feedbackEvent

	// last computed health metrics, refreshed each tick.
	lastCoherence float64
	lastVitality  float64
	openedAt      time.Time
}

// Open opens (or creates) the database at cfg.Path, replays the WAL, and
// returns a consistent engine.
func Open(cfg Config, opts ...Option) (*Mind, error) {
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.fill()
	if cfg.Path == "" {
		return nil, wrapErr("open", fmt.Errorf("%w: empty database path", ErrInvalidParams))
	}

	m := &Mind{
		cfg:      cfg,
		log:      cfg.Logger,
		realm:    RootRealm,
		openedAt: cfg.Clock(),
	}

	unifiedPath := cfg.Path + ".unified"
	ixOpts := index.DefaultOptions(cfg.Dim)
	ixOpts.ReadOnly = cfg.ReadOnly

	var err error
	if _, statErr := os.Stat(unifiedPath); errors.Is(statErr, os.ErrNotExist) {
		if cfg.ReadOnly {
			return nil, wrapErr("open", fmt.Errorf("%w: %s", ErrCorruptHeader, unifiedPath))
		}
		m.ix, err = index.Create(unifiedPath, ixOpts)
	} else {
		m.ix, err = index.Open(unifiedPath, ixOpts)
	}
	if err != nil {
		return nil, wrapErr("open", err)
	}

	m.tiers, err = tier.Open(tier.Config{
		BasePath:      cfg.Path,
		HotMaxEntries: cfg.HotCapacityEntries,
		HotMaxBytes:   int64(cfg.HotCapacityBytes),
		ColdAfterMs:   int64(cfg.ColdAfterDays) * 24 * 3600 * 1000,
	})
	if err != nil {
		m.ix.Close()
		return nil, wrapErr("open", err)
	}

	m.graph, err = graphstore.Open(cfg.Path + ".graph")
	if err != nil {
		m.log.Warn("graph file unreadable, starting empty", "err", err)
		m.graph = graphstore.NewEmpty(cfg.Path + ".graph")
	}

	m.tagIx, err = tags.Open(cfg.Path + ".tags")
	if err != nil {
		m.log.Warn("tag sidecar unreadable, rebuilding from index", "err", err)
		m.tagIx = tags.NewEmpty(cfg.Path + ".tags")
	}
	if _, ok := m.tagIx.RealmParent(RootRealm); !ok {
		m.tagIx.DefineRealm(RootRealm, "")
	}

	if !cfg.ReadOnly {
		m.wlog, err = wal.Open(cfg.Path + ".wal")
		if err != nil {
			m.closeStores()
			return nil, wrapErr("open", err)
		}
		if err := m.replay(); err != nil {
			m.closeStores()
			return nil, wrapErr("open", err)
		}
	}

	// Tag postings and the sparse index are derived state; rebuild both
	// from the authoritative index so they can never drift.
	m.tagIx.ClearPostings()
	m.lex = sparse.New()
	m.rebuildDerived()

	m.log.Info("database open",
		"path", cfg.Path,
		"nodes", m.ix.Count(),
		"dim", m.ix.Dim(),
		"snapshot", m.ix.SnapshotCounter())
	return m, nil
}

// replay applies WAL records to the index. Every record carries absolute
// state, so replaying over a partially flushed image converges; records
// for ids removed later in the log surface ErrUnknownNode and are
// skipped.
func (m *Mind) replay() error {
	ctx := context.Background()
	count := 0
	err := m.wlog.Replay(func(rec wal.Record) error {
		count++
		switch rec.Kind {
		case wal.KindFullNode:
			n, err := index.DecodeNode(rec.Payload)
			if err != nil {
				return err
			}
			if len(n.Payload) > 0 {
				if !m.tiers.Validate(n.PayloadOff, len(n.Payload)) {
					off, err := m.tiers.Put(n.ID, n.Payload)
					if err != nil {
						return err
					}
					n.PayloadOff = off
				}
			} else {
				n.PayloadOff = index.NoPayload
			}
			_, err = m.ix.Insert(n)
			return err
		case wal.KindTouch:
			id, ts, err := m.decodeTouch(rec.Payload)
			if err != nil {
				return err
			}
			if err := m.ix.Touch(id, ts); errors.Is(err, index.ErrUnknownNode) {
				return nil
			} else if err != nil {
				return err
			}
		case wal.KindConfidence:
			id, c, err := index.DecodeConfidence(rec.Payload)
			if err != nil {
				return err
			}
			if err := m.ix.SetConfidence(id, c); !errors.Is(err, index.ErrUnknownNode) && err != nil {
				return err
			}
		case wal.KindEdge:
			id, e, add, err := index.DecodeEdgeDelta(rec.Payload)
			if err != nil {
				return err
			}
			if add {
				err = m.ix.AddEdge(id, e)
			} else {
				err = m.ix.RemoveEdge(id, e.Target, e.Type)
			}
			if err != nil && !errors.Is(err, index.ErrUnknownNode) {
				return err
			}
		case wal.KindTag:
			id, tag, add, err := index.DecodeTagDelta(rec.Payload)
			if err != nil {
				return err
			}
			if add {
				err = m.ix.AddTag(id, tag)
			} else {
				err = m.ix.RemoveTag(id, tag)
			}
			if err != nil && !errors.Is(err, index.ErrUnknownNode) {
				return err
			}
		case wal.KindRemove:
			id, err := index.DecodeRemove(rec.Payload)
			if err != nil {
				return err
			}
			if err := m.ix.Remove(id); err != nil && !errors.Is(err, index.ErrUnknownNode) {
				return err
			}
			_ = m.tiers.Forget(ctx, id)
		case wal.KindVector:
			id, v, err := index.DecodeVectorDelta(rec.Payload)
			if err != nil {
				return err
			}
			if err := m.ix.SetVector(id, v); err != nil && !errors.Is(err, index.ErrUnknownNode) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if count > 0 {
		m.log.Info("wal replayed", "records", count)
	}
	return nil
}

func (m *Mind) decodeTouch(payload []byte) (primitive.NodeID, int64, error) {
	return index.DecodeTouch(payload)
}

// rebuildDerived repopulates tag postings and the sparse index by
// streaming the unified index.
func (m *Mind) rebuildDerived() {
	ctx := context.Background()
	m.ix.ForEach(func(n *index.Node) bool {
		slot, ok := m.ix.SlotOf(n.ID)
		if !ok {
			return true
		}
		for _, tag := range n.Tags {
			m.tagIx.Add(tag, slot)
		}
		if n.PayloadOff != index.NoPayload {
			payload, err := m.tiers.Get(ctx, n.ID, n.PayloadOff, n.Flags&index.FlagCold != 0)
			if err == nil && len(payload) > 0 {
				m.lex.Add(slot, string(payload))
			}
		}
		return true
	})
}

// appendWAL frames a record and makes it durable; commit = WAL fsync.
func (m *Mind) appendWAL(kind wal.Kind, payload []byte, sync bool) error {
	if m.wlog == nil {
		return index.ErrReadOnly
	}
	if err := m.wlog.Append(kind, payload); err != nil {
		return fmt.Errorf("%w: %v", ErrIoFailure, err)
	}
	if sync {
		if err := m.wlog.Sync(); err != nil {
			return fmt.Errorf("%w: %v", ErrIoFailure, err)
		}
	}
	return nil
}

func (m *Mind) nowMs() int64 {
	return m.cfg.Clock().UnixMilli()
}

// RememberOptions carries the optional attributes of an insert.
type RememberOptions struct {
	Confidence float64 // initial μ; default 0.7
	Tags       []string
	Epsilon    float64  // reconstructability bias; default 0.5
	Decay      *float32 // override the per-type default δ
	Realm      string   // default: the engine's current realm
	Edges      []index.Edge
	Payload    []byte           // payload for the vector form (text form stores the text)
	ID         primitive.NodeID // optional explicit id (upsert)
}

// Remember embeds text and stores a node, returning its id. The node is
// durable to the WAL before return.
func (m *Mind) Remember(ctx context.Context, text string, typ index.NodeType, opts RememberOptions) (primitive.NodeID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return primitive.NodeID{}, wrapErr("remember", ErrClosed)
	}
	if text == "" {
		return primitive.NodeID{}, wrapErr("remember", fmt.Errorf("%w: empty text", ErrInvalidParams))
	}
	if m.cfg.Embedder == nil {
		return primitive.NodeID{}, wrapErr("remember", ErrNoEmbedder)
	}
	vec, err := m.cfg.Embedder.Embed(ctx, text)
	if err != nil {
		return primitive.NodeID{}, wrapErr("remember", fmt.Errorf("%w: embed: %v", ErrIoFailure, err))
	}
	primitive.Normalize(vec)
	return m.remember(vec, typ, []byte(text), opts)
}

// RememberVector stores a node from a caller-supplied unit vector.
func (m *Mind) RememberVector(vec []float32, typ index.NodeType, opts RememberOptions) (primitive.NodeID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return primitive.NodeID{}, wrapErr("remember", ErrClosed)
	}
	if err := primitive.ValidateUnit(vec, unitNormTolerance); err != nil {
		return primitive.NodeID{}, wrapErr("remember", fmt.Errorf("%w: %v", ErrInvalidParams, err))
	}
	var payload []byte
	if len(opts.Payload) > 0 {
		payload = opts.Payload
	}
	return m.remember(vec, typ, payload, opts)
}

// remember assembles and commits the node. Caller holds the lock.
func (m *Mind) remember(vec []float32, typ index.NodeType, payload []byte, opts RememberOptions) (primitive.NodeID, error) {
	if err := m.checkQuota(typ); err != nil {
		return primitive.NodeID{}, wrapErr("remember", err)
	}

	now := m.nowMs()
	id := opts.ID
	if id.IsZero() {
		id = primitive.NewNodeID()
	}
	mu := opts.Confidence
	if mu == 0 {
		mu = 0.7
	}
	eps := opts.Epsilon
	if eps == 0 {
		eps = 0.5
	}
	decay := typ.DefaultDecay()
	if opts.Decay != nil {
		decay = *opts.Decay
	}
	if typ.Protected() {
		decay = 0
	}
	realm := opts.Realm
	if realm == "" {
		realm = m.realm
	}
	if _, ok := m.tagIx.RealmParent(realm); !ok {
		return primitive.NodeID{}, wrapErr("remember", fmt.Errorf("%w: %s", ErrUnknownRealm, realm))
	}

	nodeTags := make([]string, 0, len(opts.Tags)+1)
	nodeTags = append(nodeTags, opts.Tags...)
	nodeTags = append(nodeTags, realmTagPrefix+realm)

	n := &index.Node{
		ID:         id,
		Type:       typ,
		Vector:     primitive.Quantize(vec),
		Confidence: index.NewConfidence(mu, now),
		Decay:      decay,
		Epsilon:    float32(eps),
		CreatedAt:  now,
		AccessedAt: now,
		Tags:       nodeTags,
		Edges:      opts.Edges,
		Payload:    payload,
		PayloadOff: index.NoPayload,
	}
	if n.Vector.IsZero() {
		n.Flags |= index.FlagPending
	}
	for _, e := range n.Edges {
		if e.Target != n.ID && !m.ix.Contains(e.Target) {
			return primitive.NodeID{}, wrapErr("remember", fmt.Errorf("%w: edge target %s", ErrUnknownNode, e.Target))
		}
	}

	if len(payload) > 0 {
		off, err := m.tiers.Put(id, payload)
		if err != nil {
			return primitive.NodeID{}, wrapErr("remember", fmt.Errorf("%w: %v", ErrIoFailure, err))
		}
		n.PayloadOff = off
	}

	// Durability first: the write is committed once the record is
	// fsynced, then applied in memory.
	rec, err := index.EncodeNode(n)
	if err != nil {
		return primitive.NodeID{}, wrapErr("remember", err)
	}
	if err := m.appendWAL(wal.KindFullNode, rec, true); err != nil {
		return primitive.NodeID{}, wrapErr("remember", err)
	}

	slot, err := m.ix.Insert(n)
	if err != nil {
		return primitive.NodeID{}, wrapErr("remember", err)
	}
	for _, tag := range nodeTags {
		m.tagIx.Add(tag, slot)
	}
	if len(payload) > 0 {
		m.lex.Add(slot, string(payload))
	}
	if m.tiers.HotOverCapacity() {
		m.log.Debug("hot tier over capacity, migration deferred to next tick")
	}
	m.log.Debug("remembered", "id", id, "type", typ, "realm", realm)
	return id, nil
}

func (m *Mind) checkQuota(typ index.NodeType) error {
	if m.cfg.MaxNodes > 0 && m.ix.Count() >= m.cfg.MaxNodes {
		return fmt.Errorf("%w: global limit %d", ErrQuotaExceeded, m.cfg.MaxNodes)
	}
	limit, ok := m.cfg.MaxPerType[typ.String()]
	if !ok {
		return nil
	}
	var count uint64
	m.ix.ForEach(func(n *index.Node) bool {
		if n.Type == typ {
			count++
		}
		return true
	})
	if count >= limit {
		return fmt.Errorf("%w: type %s limit %d", ErrQuotaExceeded, typ, limit)
	}
	return nil
}

// NodeView is a read-only snapshot of a stored node.
type NodeView struct {
	ID         primitive.NodeID `json:"id"`
	Type       string           `json:"type"`
	Confidence float64          `json:"confidence"`
	Mu         float64          `json:"mu"`
	Variance   float64          `json:"variance"`
	Decay      float64          `json:"decay"`
	Epsilon    float64          `json:"epsilon"`
	CreatedAt  int64            `json:"created_at"`
	AccessedAt int64            `json:"accessed_at"`
	Realm      string           `json:"realm"`
	Tags       []string         `json:"tags"`
	Edges      []index.Edge     `json:"edges"`
	Payload    string           `json:"payload,omitempty"`
	Cold       bool             `json:"cold"`
}

// Get returns a node snapshot, touching accessed_at.
func (m *Mind) Get(ctx context.Context, id primitive.NodeID) (*NodeView, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false
	}
	n, ok := m.ix.Get(id)
	if !ok {
		return nil, false
	}
	view := m.viewOf(ctx, n)
	m.touchLocked(id)
	return view, true
}

func (m *Mind) viewOf(ctx context.Context, n *index.Node) *NodeView {
	view := &NodeView{
		ID:         n.ID,
		Type:       n.Type.String(),
		Confidence: n.Confidence.Effective(),
		Mu:         float64(n.Confidence.Mu),
		Variance:   float64(n.Confidence.Var),
		Decay:      float64(n.Decay),
		Epsilon:    float64(n.Epsilon),
		CreatedAt:  n.CreatedAt,
		AccessedAt: n.AccessedAt,
		Cold:       n.Flags&index.FlagCold != 0,
	}
	for _, tag := range n.Tags {
		if len(tag) > len(realmTagPrefix) && tag[:len(realmTagPrefix)] == realmTagPrefix {
			view.Realm = tag[len(realmTagPrefix):]
			continue
		}
		view.Tags = append(view.Tags, tag)
	}
	view.Edges = n.Edges
	if n.PayloadOff != index.NoPayload {
		if payload, err := m.tiers.Get(ctx, n.ID, n.PayloadOff, view.Cold); err == nil {
			view.Payload = string(payload)
		}
	}
	return view
}

// touchLocked updates accessed_at and logs the delta lazily (no fsync;
// touches ride on the next durable write).
func (m *Mind) touchLocked(id primitive.NodeID) {
	if m.cfg.ReadOnly {
		return
	}
	now := m.nowMs()
	if err := m.ix.Touch(id, now); err != nil {
		return
	}
	_ = m.appendWAL(wal.KindTouch, index.EncodeTouch(id, now), false)
}

// Size returns the live node count.
func (m *Mind) Size() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ix.Count()
}

// Strengthen folds an observation of μ+Δ into a node's confidence.
func (m *Mind) Strengthen(id primitive.NodeID, delta float64) error {
	return m.observe("strengthen", id, delta)
}

// Weaken folds an observation of μ−Δ into a node's confidence.
func (m *Mind) Weaken(id primitive.NodeID, delta float64) error {
	return m.observe("weaken", id, -delta)
}

func (m *Mind) observe(op string, id primitive.NodeID, delta float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return wrapErr(op, ErrClosed)
	}
	n, ok := m.ix.Get(id)
	if !ok {
		return wrapErr(op, ErrUnknownNode)
	}
	now := m.nowMs()
	c := n.Confidence
	c.Observe(float64(c.Mu)+delta, now)
	if err := m.appendWAL(wal.KindConfidence, index.EncodeConfidence(id, c), true); err != nil {
		return wrapErr(op, err)
	}
	if err := m.ix.SetConfidence(id, c); err != nil {
		return wrapErr(op, err)
	}
	return nil
}

// Feedback queues a helpfulness observation; it is applied on
// ApplyFeedback or at the next tick. Overflow drops the oldest entry.
func (m *Mind) Feedback(id primitive.NodeID, helpful bool, context string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return wrapErr("feedback", ErrClosed)
	}
	if !m.ix.Contains(id) {
		return wrapErr("feedback", ErrUnknownNode)
	}
	if len(m.feedback) >= m.cfg.FeedbackQueueSize {
		m.feedback = m.feedback[1:]
		m.log.Warn("feedback queue full, dropping oldest entry")
	}
	m.feedback = append(m.feedback, feedbackEvent{ID: id, Helpful: helpful, Context: context})
	return nil
}

// ApplyFeedback drains the queue into confidence observations and
// returns the number applied.
func (m *Mind) ApplyFeedback() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyFeedbackLocked()
}

func (m *Mind) applyFeedbackLocked() int {
	applied := 0
	for _, ev := range m.feedback {
		n, ok := m.ix.Get(ev.ID)
		if !ok {
			continue
		}
		delta := 0.1
		if !ev.Helpful {
			delta = -0.1
		}
		now := m.nowMs()
		c := n.Confidence
		c.Observe(float64(c.Mu)+delta, now)
		if err := m.appendWAL(wal.KindConfidence, index.EncodeConfidence(ev.ID, c), false); err != nil {
			m.log.Error("feedback wal append failed", "err", err)
			break
		}
		if err := m.ix.SetConfidence(ev.ID, c); err == nil {
			applied++
		}
	}
	m.feedback = m.feedback[:0]
	return applied
}

// ForgetOptions controls removal side effects.
type ForgetOptions struct {
	// Cascade weakens the confidence of direct neighbors.
	Cascade bool
	// Rewire connects predecessors of the removed node to its
	// successors so paths survive the removal.
	Rewire bool
}

// Forget removes a node. Protected types are refused.
func (m *Mind) Forget(ctx context.Context, id primitive.NodeID, opts ForgetOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return wrapErr("forget", ErrClosed)
	}
	n, ok := m.ix.Get(id)
	if !ok {
		return wrapErr("forget", ErrUnknownNode)
	}
	if n.Type.Protected() {
		return wrapErr("forget", fmt.Errorf("%w: %s", ErrProtected, n.Type))
	}
	return m.forgetLocked(ctx, n, opts)
}

func (m *Mind) forgetLocked(ctx context.Context, n *index.Node, opts ForgetOptions) error {
	id := n.ID
	slot, _ := m.ix.SlotOf(id)
	now := m.nowMs()

	// Incoming edges are found by scanning; the index stores outbound
	// lists only.
	type incoming struct {
		from primitive.NodeID
		edge index.Edge
	}
	var preds []incoming
	if opts.Cascade || opts.Rewire {
		m.ix.ForEach(func(other *index.Node) bool {
			if other.ID == id {
				return true
			}
			for _, e := range other.Edges {
				if e.Target == id {
					preds = append(preds, incoming{from: other.ID, edge: e})
				}
			}
			return true
		})
	}

	if opts.Rewire {
		for _, p := range preds {
			for _, succ := range n.Edges {
				if succ.Target == p.from {
					continue
				}
				w := p.edge.Weight * succ.Weight
				if w < 0.01 {
					continue
				}
				if _, exists := m.ix.EdgeWeight(p.from, succ.Target, index.EdgeRelatesTo); exists {
					continue
				}
				e := index.Edge{Target: succ.Target, Type: index.EdgeRelatesTo, Weight: w}
				if err := m.appendWAL(wal.KindEdge, index.EncodeEdgeDelta(p.from, e, true), false); err != nil {
					return wrapErr("forget", err)
				}
				_ = m.ix.AddEdge(p.from, e)
			}
		}
	}

	if opts.Cascade {
		weakened := make(map[primitive.NodeID]bool)
		weaken := func(nid primitive.NodeID) {
			if weakened[nid] || nid == id {
				return
			}
			weakened[nid] = true
			nb, ok := m.ix.Get(nid)
			if !ok {
				return
			}
			c := nb.Confidence
			c.Observe(float64(c.Mu)-0.05, now)
			if err := m.appendWAL(wal.KindConfidence, index.EncodeConfidence(nid, c), false); err != nil {
				return
			}
			_ = m.ix.SetConfidence(nid, c)
		}
		for _, e := range n.Edges {
			weaken(e.Target)
		}
		for _, p := range preds {
			weaken(p.from)
		}
	}

	if err := m.appendWAL(wal.KindRemove, index.EncodeRemove(id), true); err != nil {
		return wrapErr("forget", err)
	}
	if err := m.ix.Remove(id); err != nil {
		return wrapErr("forget", err)
	}
	m.tagIx.RemoveSlot(slot)
	m.lex.Remove(slot)
	if err := m.tiers.Forget(ctx, id); err != nil {
		m.log.Warn("payload cleanup failed", "id", id, "err", err)
	}
	m.log.Debug("forgot", "id", id, "cascade", opts.Cascade, "rewire", opts.Rewire)
	return nil
}

// ConnectResult reports a triplet write.
type ConnectResult struct {
	// Conflict is set when a high-confidence contradictory fact for the
	// same subject/object pair already exists. Both facts are kept; the
	// engine records, it does not retract.
	Conflict bool `json:"conflict"`
}

// Connect upserts a weighted triplet, idempotent by (s, p, o).
func (m *Mind) Connect(subject, predicate, object string, weight float64) (ConnectResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ConnectResult{}, wrapErr("connect", ErrClosed)
	}
	if subject == "" || predicate == "" || object == "" {
		return ConnectResult{}, wrapErr("connect", fmt.Errorf("%w: subject, predicate, object required", ErrInvalidParams))
	}
	if weight <= 0 {
		weight = 1.0
	}

	var res ConnectResult
	opposite := map[string]string{"supports": "contradicts", "contradicts": "supports"}
	if opp, ok := opposite[predicate]; ok {
		if w, found := m.graph.Weight(subject, opp, object); found && w >= 0.7 && weight >= 0.7 {
			res.Conflict = true
			m.log.Warn("conflicting facts recorded",
				"subject", subject, "object", object,
				"predicates", predicate+"/"+opp)
		}
	}

	m.graph.Connect(subject, predicate, object, weight)
	return res, nil
}

// QueryGraph returns triplets matching the pattern; empty strings are
// wildcards.
func (m *Mind) QueryGraph(subject, predicate, object string) []graphstore.Triplet {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	return m.graph.Query(subject, predicate, object)
}

// AddEdge records a typed edge between nodes, WAL-logged.
func (m *Mind) AddEdge(from primitive.NodeID, e index.Edge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return wrapErr("add_edge", ErrClosed)
	}
	if !m.ix.Contains(from) || !m.ix.Contains(e.Target) {
		return wrapErr("add_edge", ErrUnknownNode)
	}
	if err := m.appendWAL(wal.KindEdge, index.EncodeEdgeDelta(from, e, true), true); err != nil {
		return wrapErr("add_edge", err)
	}
	return wrapErr("add_edge", m.ix.AddEdge(from, e))
}

// RealmCreate defines a realm under parent (default: the root realm).
func (m *Mind) RealmCreate(name, parent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return wrapErr("realm_create", ErrClosed)
	}
	if name == "" {
		return wrapErr("realm_create", fmt.Errorf("%w: empty realm name", ErrInvalidParams))
	}
	if parent == "" {
		parent = RootRealm
	}
	if _, ok := m.tagIx.RealmParent(parent); !ok {
		return wrapErr("realm_create", fmt.Errorf("%w: parent %s", ErrUnknownRealm, parent))
	}
	m.tagIx.DefineRealm(name, parent)
	return nil
}

// RealmSwitch changes the engine's current realm.
func (m *Mind) RealmSwitch(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return wrapErr("realm_switch", ErrClosed)
	}
	if _, ok := m.tagIx.RealmParent(name); !ok {
		return wrapErr("realm_switch", fmt.Errorf("%w: %s", ErrUnknownRealm, name))
	}
	m.realm = name
	return nil
}

// CurrentRealm returns the active realm.
func (m *Mind) CurrentRealm() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.realm
}

// Snapshot writes a consistent on-disk image beside the live files and
// truncates the WAL. Returns the new snapshot counter.
func (m *Mind) Snapshot() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(m.cfg.Path + ".snapshot")
}

// SnapshotTo writes the image to an explicit base path; the sibling file
// becomes <base>.unified and may be opened read-only in parallel.
func (m *Mind) SnapshotTo(base string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(base)
}

func (m *Mind) snapshotLocked(base string) (uint64, error) {
	if m.closed {
		return 0, wrapErr("snapshot", ErrClosed)
	}
	if m.cfg.ReadOnly {
		return 0, wrapErr("snapshot", index.ErrReadOnly)
	}
	if err := m.tiers.Sync(); err != nil {
		return 0, wrapErr("snapshot", fmt.Errorf("%w: %v", ErrIoFailure, err))
	}
	counter, err := m.ix.SnapshotTo(base + ".unified")
	if err != nil {
		return 0, wrapErr("snapshot", fmt.Errorf("%w: %v", ErrIoFailure, err))
	}
	if err := m.graph.Sync(); err != nil {
		return 0, wrapErr("snapshot", fmt.Errorf("%w: %v", ErrIoFailure, err))
	}
	if err := m.tagIx.Sync(); err != nil {
		return 0, wrapErr("snapshot", fmt.Errorf("%w: %v", ErrIoFailure, err))
	}
	if err := m.wlog.Reset(); err != nil {
		return 0, wrapErr("snapshot", fmt.Errorf("%w: %v", ErrIoFailure, err))
	}
	m.log.Info("snapshot taken", "counter", counter, "base", base)
	return counter, nil
}

// Stats summarizes engine state for the stats tool.
type Stats struct {
	Nodes           uint64            `json:"nodes"`
	NodesByType     map[string]uint64 `json:"nodes_by_type"`
	Edges           int               `json:"edges"`
	Triplets        int               `json:"triplets"`
	Coherence       float64           `json:"coherence"`
	Vitality        float64           `json:"vitality"`
	VitalityStatus  string            `json:"vitality_status"`
	SnapshotCounter uint64            `json:"snapshot_counter"`
	WALBytes        int64             `json:"wal_bytes"`
	HotEntries      int               `json:"hot_entries"`
	WarmBytes       int64             `json:"warm_bytes"`
	ColdRows        int64             `json:"cold_rows"`
	Realm           string            `json:"realm"`
	UptimeSeconds   int64             `json:"uptime_seconds"`
}

// StatsSnapshot gathers the one-line stats summary.
func (m *Mind) StatsSnapshot(ctx context.Context) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Stats{
		Nodes:           m.ix.Count(),
		NodesByType:     make(map[string]uint64),
		Triplets:        m.graph.Count(),
		Coherence:       m.lastCoherence,
		Vitality:        m.lastVitality,
		VitalityStatus:  dynamics.VitalityStatus(m.lastVitality),
		SnapshotCounter: m.ix.SnapshotCounter(),
		Realm:           m.realm,
		UptimeSeconds:   int64(m.cfg.Clock().Sub(m.openedAt).Seconds()),
	}
	if m.wlog != nil {
		st.WALBytes = m.wlog.Size()
	}
	edges := 0
	m.ix.ForEach(func(n *index.Node) bool {
		st.NodesByType[n.Type.String()]++
		edges += len(n.Edges)
		return true
	})
	st.Edges = edges
	ts := m.tiers.StatsSnapshot(ctx)
	st.HotEntries = ts.HotEntries
	st.WarmBytes = ts.WarmBytes
	st.ColdRows = ts.ColdRows
	return st
}

// Sync flushes every store.
func (m *Mind) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return wrapErr("sync", ErrClosed)
	}
	if m.wlog != nil {
		if err := m.wlog.Sync(); err != nil {
			return wrapErr("sync", err)
		}
	}
	if err := m.ix.Sync(); err != nil {
		return wrapErr("sync", err)
	}
	return wrapErr("sync", m.tiers.Sync())
}

// Close flushes and releases everything; subsequent operations fail.
func (m *Mind) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var firstErr error
	if !m.cfg.ReadOnly {
		if err := m.graph.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := m.tagIx.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if m.wlog != nil {
		if err := m.wlog.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := m.ix.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := m.tiers.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	m.log.Info("database closed", "path", m.cfg.Path)
	return wrapErr("close", firstErr)
}

func (m *Mind) closeStores() {
	if m.wlog != nil {
		m.wlog.Close()
	}
	m.ix.Close()
	m.tiers.Close()
}
