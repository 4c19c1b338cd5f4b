package rpc

import (
	"context"
	"hash/fnv"
	"math"
	"path/filepath"
	"testing"

	"github.com/genomewalker/chitta/pkg/mind"
	"github.com/genomewalker/chitta/pkg/primitive"
)

type hashEmbedder struct{ dim int }

func (e hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()
	v := make([]float32, e.dim)
	for i := range v {
		seed = seed*6364136223846793005 + 1442695040888963407
		v[i] = float32(int64(seed>>32)) / float32(math.MaxInt32)
	}
	return primitive.Normalize(v), nil
}

func (e hashEmbedder) Dimensions() int { return e.dim }

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	cfg := mind.DefaultConfig(filepath.Join(t.TempDir(), "rpc"))
	cfg.Dim = 32
	m, err := mind.Open(cfg, mind.WithEmbedder(hashEmbedder{dim: 32}))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { m.Close() })
	return NewHandler(m)
}

func TestUnknownToolIsMethodNotFound(t *testing.T) {
	h := newTestHandler(t)
	_, rpcErr := h.Handle(context.Background(), "no_such_tool", nil)
	if rpcErr == nil || rpcErr.Code != CodeMethodNotFound {
		t.Errorf("expected MethodNotFound, got %+v", rpcErr)
	}
}

func TestMissingRequiredParam(t *testing.T) {
	h := newTestHandler(t)
	_, rpcErr := h.Handle(context.Background(), "remember", map[string]any{})
	if rpcErr == nil || rpcErr.Code != CodeInvalidParams {
		t.Errorf("expected InvalidParams, got %+v", rpcErr)
	}
}

func TestUnknownParamRejected(t *testing.T) {
	h := newTestHandler(t)
	_, rpcErr := h.Handle(context.Background(), "stats", map[string]any{"bogus": 1})
	if rpcErr == nil || rpcErr.Code != CodeInvalidParams {
		t.Errorf("expected InvalidParams, got %+v", rpcErr)
	}
}

func TestRememberRecallFlow(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	res, rpcErr := h.Handle(ctx, "remember", map[string]any{
		"text": "prefer table-driven tests",
		"type": "wisdom",
		"tags": []any{"testing"},
	})
	if rpcErr != nil {
		t.Fatalf("remember failed: %+v", rpcErr)
	}
	id, _ := res.Structured["id"].(string)
	if id == "" {
		t.Fatal("remember returned no id")
	}

	res, rpcErr = h.Handle(ctx, "recall", map[string]any{
		"query": "prefer table-driven tests",
		"k":     float64(5),
	})
	if rpcErr != nil {
		t.Fatalf("recall failed: %+v", rpcErr)
	}
	results, _ := res.Structured["results"].([]map[string]any)
	if len(results) == 0 {
		t.Fatal("recall returned nothing")
	}
	if results[0]["id"] != id {
		t.Errorf("top recall = %v, want %s", results[0]["id"], id)
	}
	if len(res.Content) < 2 {
		t.Error("human rendering missing")
	}

	res, rpcErr = h.Handle(ctx, "get", map[string]any{"id": id})
	if rpcErr != nil {
		t.Fatalf("get failed: %+v", rpcErr)
	}
	if res.Structured["payload"] != "prefer table-driven tests" {
		t.Errorf("get payload = %v", res.Structured["payload"])
	}
}

func TestVersionCheck(t *testing.T) {
	h := newTestHandler(t)

	res, rpcErr := h.Handle(context.Background(), "version_check", map[string]any{
		"major": float64(ProtocolMajor),
	})
	if rpcErr != nil {
		t.Fatalf("version_check failed: %+v", rpcErr)
	}
	if res.Structured["compatible"] != true {
		t.Error("matching major should be compatible")
	}

	res, _ = h.Handle(context.Background(), "version_check", map[string]any{
		"major": float64(ProtocolMajor + 1),
	})
	if res.Structured["compatible"] != false {
		t.Error("mismatched major should be incompatible")
	}
}

func TestGraphTools(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	if _, rpcErr := h.Handle(ctx, "connect", map[string]any{
		"subject":   "go",
		"predicate": "is_a",
		"object":    "language",
	}); rpcErr != nil {
		t.Fatalf("connect failed: %+v", rpcErr)
	}

	res, rpcErr := h.Handle(ctx, "query_graph", map[string]any{"subject": "go"})
	if rpcErr != nil {
		t.Fatalf("query_graph failed: %+v", rpcErr)
	}
	if res.Content[0] != "1 facts" {
		t.Errorf("query rendering = %q", res.Content[0])
	}
}

func TestErrorMapping(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	// A well-formed but unknown id maps to an internal engine error.
	_, rpcErr := h.Handle(ctx, "strengthen", map[string]any{
		"id": primitive.NewNodeID().String(),
	})
	if rpcErr == nil || rpcErr.Code != CodeInternal {
		t.Errorf("unknown node should map to internal error, got %+v", rpcErr)
	}

	// A malformed id maps to invalid params.
	_, rpcErr = h.Handle(ctx, "strengthen", map[string]any{"id": "not-hex"})
	if rpcErr == nil || rpcErr.Code != CodeInvalidParams {
		t.Errorf("malformed id should map to invalid params, got %+v", rpcErr)
	}
}

func TestTaxonomyIsSelfConsistent(t *testing.T) {
	seen := make(map[string]bool)
	for _, tool := range Taxonomy() {
		if seen[tool.Name] {
			t.Errorf("duplicate tool %s", tool.Name)
		}
		seen[tool.Name] = true
		params := make(map[string]bool)
		for _, p := range tool.Params {
			if params[p.Name] {
				t.Errorf("tool %s duplicates param %s", tool.Name, p.Name)
			}
			params[p.Name] = true
			if p.Required && p.Default != nil {
				t.Errorf("tool %s param %s is required but has a default", tool.Name, p.Name)
			}
		}
	}
	for _, name := range []string{"remember", "recall", "tick", "version_check", "stats"} {
		if !seen[name] {
			t.Errorf("taxonomy missing %s", name)
		}
	}
}
