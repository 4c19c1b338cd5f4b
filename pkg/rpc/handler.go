package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/genomewalker/chitta/pkg/graphstore"
	"github.com/genomewalker/chitta/pkg/index"
	"github.com/genomewalker/chitta/pkg/mind"
	"github.com/genomewalker/chitta/pkg/primitive"
)

// JSON-RPC error codes; engine-specific kinds ride in the message.
const (
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
)

// Result carries both renderings of a successful call.
type Result struct {
	Content    []string       `json:"content"`
	Structured map[string]any `json:"structured"`
}

// Error is the typed failure envelope.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Handler dispatches validated tool calls into the engine.
type Handler struct {
	mind *mind.Mind
}

// NewHandler builds a handler over one engine instance.
func NewHandler(m *mind.Mind) *Handler {
	return &Handler{mind: m}
}

// Handle validates args against the tool spec and dispatches. Unknown
// tool names return MethodNotFound; validation failures InvalidParams.
func (h *Handler) Handle(ctx context.Context, name string, args map[string]any) (*Result, *Error) {
	tool, ok := LookupTool(name)
	if !ok {
		return nil, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("unknown tool %q", name)}
	}
	params, err := tool.validate(args)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}

	res, err := h.dispatch(ctx, name, params)
	if err != nil {
		return nil, toRPCError(err)
	}
	return res, nil
}

// toRPCError maps engine error kinds onto the wire codes.
func toRPCError(err error) *Error {
	code := CodeInternal
	if errors.Is(err, mind.ErrInvalidParams) {
		code = CodeInvalidParams
	}
	return &Error{Code: code, Message: err.Error()}
}

func (h *Handler) dispatch(ctx context.Context, name string, p map[string]any) (*Result, error) {
	switch name {
	case "version_check":
		return h.versionCheck(p)
	case "remember":
		return h.remember(ctx, p)
	case "recall":
		return h.recall(ctx, p)
	case "resonate":
		return h.resonate(ctx, p)
	case "get":
		return h.get(ctx, p)
	case "connect":
		return h.connect(p)
	case "query_graph":
		return h.queryGraph(p)
	case "strengthen":
		return h.observe(p, true)
	case "weaken":
		return h.observe(p, false)
	case "feedback":
		return h.feedback(p)
	case "apply_feedback":
		applied := h.mind.ApplyFeedback()
		return &Result{
			Content:    []string{fmt.Sprintf("applied %d feedback events", applied)},
			Structured: map[string]any{"applied": applied},
		}, nil
	case "forget":
		return h.forget(ctx, p)
	case "tick":
		return h.tick(ctx)
	case "snapshot":
		counter, err := h.mind.Snapshot()
		if err != nil {
			return nil, err
		}
		return &Result{
			Content:    []string{fmt.Sprintf("snapshot %d written", counter)},
			Structured: map[string]any{"counter": counter},
		}, nil
	case "stats":
		return h.stats(ctx)
	case "realm_create":
		if err := h.mind.RealmCreate(str(p, "name"), str(p, "parent")); err != nil {
			return nil, err
		}
		return &Result{
			Content:    []string{fmt.Sprintf("realm %q created", str(p, "name"))},
			Structured: map[string]any{"name": str(p, "name")},
		}, nil
	case "realm_switch":
		if err := h.mind.RealmSwitch(str(p, "name")); err != nil {
			return nil, err
		}
		return &Result{
			Content:    []string{fmt.Sprintf("realm switched to %q", str(p, "name"))},
			Structured: map[string]any{"realm": str(p, "name")},
		}, nil
	}
	return nil, fmt.Errorf("%w: tool %s has no dispatch arm", mind.ErrInvalidParams, name)
}

func (h *Handler) versionCheck(p map[string]any) (*Result, error) {
	major := num(p, "major")
	compatible := int(major) == ProtocolMajor
	return &Result{
		Content: []string{fmt.Sprintf("server protocol %d.%d", ProtocolMajor, ProtocolMinor)},
		Structured: map[string]any{
			"major":      ProtocolMajor,
			"minor":      ProtocolMinor,
			"compatible": compatible,
		},
	}, nil
}

func (h *Handler) remember(ctx context.Context, p map[string]any) (*Result, error) {
	typ, err := index.ParseNodeType(str(p, "type"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mind.ErrInvalidParams, err)
	}
	id, err := h.mind.Remember(ctx, str(p, "text"), typ, mind.RememberOptions{
		Confidence: num(p, "confidence"),
		Tags:       strs(p, "tags"),
		Epsilon:    num(p, "epsilon"),
		Realm:      str(p, "realm"),
	})
	if err != nil {
		return nil, err
	}
	return &Result{
		Content:    []string{fmt.Sprintf("remembered %s as %s", id, typ)},
		Structured: map[string]any{"id": id.String(), "type": typ.String()},
	}, nil
}

func (h *Handler) recall(ctx context.Context, p map[string]any) (*Result, error) {
	results, err := h.mind.Recall(ctx, str(p, "query"), mind.RecallOptions{
		K:         int(num(p, "k")),
		Threshold: num(p, "threshold"),
		Mode:      mind.RecallMode(str(p, "mode")),
		Voice:     str(p, "voice"),
		Filters: mind.Filters{
			RequireTags:   strs(p, "tags"),
			ExcludeTags:   strs(p, "exclude_tags"),
			Realm:         str(p, "realm"),
			MinConfidence: num(p, "min_confidence"),
			MinEpsilon:    num(p, "min_epsilon"),
		},
	})
	if err != nil {
		return nil, err
	}
	content := make([]string, 0, len(results)+1)
	content = append(content, fmt.Sprintf("%d memories", len(results)))
	structured := make([]map[string]any, 0, len(results))
	for _, r := range results {
		content = append(content, fmt.Sprintf("  [%.3f] %s %s: %s",
			r.Relevance, r.Type, r.ID, clip(r.Payload, 80)))
		structured = append(structured, map[string]any{
			"id":         r.ID.String(),
			"type":       r.Type,
			"relevance":  r.Relevance,
			"similarity": r.Similarity,
			"confidence": r.Confidence,
			"payload":    r.Payload,
			"tags":       r.Tags,
		})
	}
	return &Result{
		Content:    content,
		Structured: map[string]any{"results": structured},
	}, nil
}

func (h *Handler) resonate(ctx context.Context, p map[string]any) (*Result, error) {
	res, err := h.mind.Resonate(ctx, str(p, "query"),
		int(num(p, "k")), int(num(p, "spread")),
		num(p, "hebbian_strength"), strs(p, "exclude_tags"))
	if err != nil {
		return nil, err
	}
	activations := make([]map[string]any, 0, len(res.Activations))
	for _, a := range res.Activations {
		activations = append(activations, map[string]any{
			"id":         a.ID.String(),
			"activation": a.Level,
		})
	}
	return &Result{
		Content: []string{fmt.Sprintf("%d memories, %d activated, %d edges strengthened",
			len(res.Results), len(res.Activations), res.Hebbian)},
		Structured: map[string]any{
			"results":     len(res.Results),
			"activations": activations,
			"hebbian":     res.Hebbian,
		},
	}, nil
}

func (h *Handler) get(ctx context.Context, p map[string]any) (*Result, error) {
	id, err := primitive.ParseNodeID(str(p, "id"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mind.ErrInvalidParams, err)
	}
	view, ok := h.mind.Get(ctx, id)
	if !ok {
		return nil, mind.ErrUnknownNode
	}
	return &Result{
		Content: []string{fmt.Sprintf("%s %s (confidence %.2f): %s",
			view.Type, view.ID, view.Confidence, clip(view.Payload, 120))},
		Structured: map[string]any{
			"id":         view.ID.String(),
			"type":       view.Type,
			"confidence": view.Confidence,
			"mu":         view.Mu,
			"variance":   view.Variance,
			"epsilon":    view.Epsilon,
			"realm":      view.Realm,
			"tags":       view.Tags,
			"payload":    view.Payload,
			"cold":       view.Cold,
		},
	}, nil
}

func (h *Handler) connect(p map[string]any) (*Result, error) {
	res, err := h.mind.Connect(str(p, "subject"), str(p, "predicate"), str(p, "object"), num(p, "weight"))
	if err != nil {
		return nil, err
	}
	msg := fmt.Sprintf("connected %s --%s--> %s", str(p, "subject"), str(p, "predicate"), str(p, "object"))
	if res.Conflict {
		msg += " (conflicts with an existing fact; both kept)"
	}
	return &Result{
		Content:    []string{msg},
		Structured: map[string]any{"conflict": res.Conflict},
	}, nil
}

func (h *Handler) queryGraph(p map[string]any) (*Result, error) {
	triplets := h.mind.QueryGraph(str(p, "subject"), str(p, "predicate"), str(p, "object"))
	content := make([]string, 0, len(triplets)+1)
	content = append(content, fmt.Sprintf("%d facts", len(triplets)))
	structured := make([]graphstore.Triplet, 0, len(triplets))
	for _, t := range triplets {
		content = append(content, fmt.Sprintf("  %s --%s--> %s (%.2f)",
			t.Subject, t.Predicate, t.Object, t.Weight))
		structured = append(structured, t)
	}
	return &Result{
		Content:    content,
		Structured: map[string]any{"triplets": structured},
	}, nil
}

func (h *Handler) observe(p map[string]any, strengthen bool) (*Result, error) {
	id, err := primitive.ParseNodeID(str(p, "id"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mind.ErrInvalidParams, err)
	}
	delta := num(p, "delta")
	verb := "strengthened"
	if strengthen {
		err = h.mind.Strengthen(id, delta)
	} else {
		verb = "weakened"
		err = h.mind.Weaken(id, delta)
	}
	if err != nil {
		return nil, err
	}
	return &Result{
		Content:    []string{fmt.Sprintf("%s %s by %.2f", verb, id, delta)},
		Structured: map[string]any{"id": id.String(), "delta": delta},
	}, nil
}

func (h *Handler) feedback(p map[string]any) (*Result, error) {
	id, err := primitive.ParseNodeID(str(p, "id"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mind.ErrInvalidParams, err)
	}
	helpful := boolean(p, "helpful")
	if err := h.mind.Feedback(id, helpful, str(p, "context")); err != nil {
		return nil, err
	}
	return &Result{
		Content:    []string{"feedback queued"},
		Structured: map[string]any{"id": id.String(), "helpful": helpful},
	}, nil
}

func (h *Handler) forget(ctx context.Context, p map[string]any) (*Result, error) {
	id, err := primitive.ParseNodeID(str(p, "id"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mind.ErrInvalidParams, err)
	}
	err = h.mind.Forget(ctx, id, mind.ForgetOptions{
		Cascade: boolean(p, "cascade"),
		Rewire:  boolean(p, "rewire"),
	})
	if err != nil {
		return nil, err
	}
	return &Result{
		Content:    []string{fmt.Sprintf("forgot %s", id)},
		Structured: map[string]any{"id": id.String()},
	}, nil
}

func (h *Handler) tick(ctx context.Context) (*Result, error) {
	report, err := h.mind.Tick(ctx)
	if err != nil {
		return nil, err
	}
	return &Result{
		Content: []string{fmt.Sprintf(
			"tick: decayed %d, pruned %d, feedback %d, settled %d, τ=%.2f ψ=%.2f",
			report.Decayed, report.Pruned, report.FeedbackApplied,
			report.Settled, report.Coherence, report.Vitality)},
		Structured: map[string]any{
			"decayed":          report.Decayed,
			"pruned":           report.Pruned,
			"feedback_applied": report.FeedbackApplied,
			"settled":          report.Settled,
			"migrated_cold":    report.MigratedCold,
			"coherence":        report.Coherence,
			"vitality":         report.Vitality,
			"snapshot_taken":   report.SnapshotTaken,
		},
	}, nil
}

func (h *Handler) stats(ctx context.Context) (*Result, error) {
	st := h.mind.StatsSnapshot(ctx)
	return &Result{
		Content: []string{fmt.Sprintf(
			"%d nodes, %d edges, %d facts, τ=%.2f ψ=%.2f (%s), snapshot %d",
			st.Nodes, st.Edges, st.Triplets,
			st.Coherence, st.Vitality, st.VitalityStatus, st.SnapshotCounter)},
		Structured: map[string]any{
			"nodes":            st.Nodes,
			"nodes_by_type":    st.NodesByType,
			"edges":            st.Edges,
			"triplets":         st.Triplets,
			"coherence":        st.Coherence,
			"vitality":         st.Vitality,
			"vitality_status":  st.VitalityStatus,
			"snapshot_counter": st.SnapshotCounter,
			"wal_bytes":        st.WALBytes,
			"hot_entries":      st.HotEntries,
			"warm_bytes":       st.WarmBytes,
			"cold_rows":        st.ColdRows,
			"realm":            st.Realm,
			"uptime_seconds":   st.UptimeSeconds,
		},
	}, nil
}

// Argument coercion helpers. JSON numbers arrive as float64; the CLI may
// send native ints and bools.

func str(p map[string]any, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

func num(p map[string]any, key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func boolean(p map[string]any, key string) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return false
}

func strs(p map[string]any, key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return nil
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
