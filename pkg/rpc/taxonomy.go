// Package rpc implements the request dispatch layer: a fixed taxonomy of
// tools with typed parameters, argument validation, dispatch into the
// engine, and dual human-readable / structured renderings of results.
package rpc

import "fmt"

// Protocol version. Clients negotiate it via version_check; on a major
// mismatch the chitta CLI asks the daemon to shut down and does not start
// a new one.
const (
	ProtocolMajor = 1
	ProtocolMinor = 0
)

// Param describes one typed tool parameter.
type Param struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // string, float, int, bool, []string
	Required bool   `json:"required"`
	Default  any    `json:"default,omitempty"`
	Help     string `json:"help"`
}

// Tool is one entry in the fixed taxonomy.
type Tool struct {
	Name   string  `json:"name"`
	Help   string  `json:"help"`
	Params []Param `json:"params"`
}

// taxonomy is the complete tool surface. The CLI derives its flag tables
// from the same definitions the handler validates against.
var taxonomy = []Tool{
	{
		Name: "version_check",
		Help: "Negotiate the protocol version with the daemon.",
		Params: []Param{
			{Name: "major", Type: "int", Required: true, Help: "client protocol major"},
			{Name: "minor", Type: "int", Required: false, Default: 0, Help: "client protocol minor"},
		},
	},
	{
		Name: "remember",
		Help: "Store a memory node from text.",
		Params: []Param{
			{Name: "text", Type: "string", Required: true, Help: "payload text to remember"},
			{Name: "type", Type: "string", Required: false, Default: "wisdom", Help: "node type"},
			{Name: "confidence", Type: "float", Required: false, Default: 0.7, Help: "initial confidence mean"},
			{Name: "tags", Type: "[]string", Required: false, Help: "tags to attach"},
			{Name: "epsilon", Type: "float", Required: false, Default: 0.5, Help: "reconstructability bias"},
			{Name: "realm", Type: "string", Required: false, Help: "target realm (default: current)"},
		},
	},
	{
		Name: "recall",
		Help: "Semantic recall sorted by soul-aware relevance.",
		Params: []Param{
			{Name: "query", Type: "string", Required: true, Help: "query text"},
			{Name: "k", Type: "int", Required: false, Default: 10, Help: "maximum results"},
			{Name: "threshold", Type: "float", Required: false, Default: 0.0, Help: "minimum base similarity"},
			{Name: "mode", Type: "string", Required: false, Default: "hybrid", Help: "dense, sparse, or hybrid"},
			{Name: "tags", Type: "[]string", Required: false, Help: "required tags"},
			{Name: "exclude_tags", Type: "[]string", Required: false, Help: "excluded tags"},
			{Name: "min_confidence", Type: "float", Required: false, Default: 0.0, Help: "minimum effective confidence"},
			{Name: "min_epsilon", Type: "float", Required: false, Default: 0.0, Help: "minimum epsilon"},
			{Name: "realm", Type: "string", Required: false, Help: "realm scope (default: current)"},
			{Name: "voice", Type: "string", Required: false, Help: "recall lens: precision, memory, dream"},
		},
	},
	{
		Name: "resonate",
		Help: "Recall plus spreading activation and optional Hebbian update.",
		Params: []Param{
			{Name: "query", Type: "string", Required: true, Help: "query text"},
			{Name: "k", Type: "int", Required: false, Default: 5, Help: "recall seeds"},
			{Name: "spread", Type: "int", Required: false, Default: 2, Help: "activation depth"},
			{Name: "hebbian_strength", Type: "float", Required: false, Default: 0.0, Help: "pairwise strengthening, 0 disables"},
			{Name: "exclude_tags", Type: "[]string", Required: false, Help: "excluded tags"},
		},
	},
	{
		Name: "get",
		Help: "Fetch one node by id.",
		Params: []Param{
			{Name: "id", Type: "string", Required: true, Help: "node identifier"},
		},
	},
	{
		Name: "connect",
		Help: "Record a weighted subject/predicate/object fact.",
		Params: []Param{
			{Name: "subject", Type: "string", Required: true, Help: "subject entity"},
			{Name: "predicate", Type: "string", Required: true, Help: "relation"},
			{Name: "object", Type: "string", Required: true, Help: "object entity"},
			{Name: "weight", Type: "float", Required: false, Default: 1.0, Help: "fact weight"},
		},
	},
	{
		Name: "query_graph",
		Help: "Query triplets; empty fields are wildcards.",
		Params: []Param{
			{Name: "subject", Type: "string", Required: false, Help: "subject filter"},
			{Name: "predicate", Type: "string", Required: false, Help: "predicate filter"},
			{Name: "object", Type: "string", Required: false, Help: "object filter"},
		},
	},
	{
		Name: "strengthen",
		Help: "Fold a positive confidence observation into a node.",
		Params: []Param{
			{Name: "id", Type: "string", Required: true, Help: "node identifier"},
			{Name: "delta", Type: "float", Required: false, Default: 0.1, Help: "observation delta"},
		},
	},
	{
		Name: "weaken",
		Help: "Fold a negative confidence observation into a node.",
		Params: []Param{
			{Name: "id", Type: "string", Required: true, Help: "node identifier"},
			{Name: "delta", Type: "float", Required: false, Default: 0.1, Help: "observation delta"},
		},
	},
	{
		Name: "feedback",
		Help: "Queue helpfulness feedback for a node.",
		Params: []Param{
			{Name: "id", Type: "string", Required: true, Help: "node identifier"},
			{Name: "helpful", Type: "bool", Required: true, Help: "whether the memory helped"},
			{Name: "context", Type: "string", Required: false, Help: "free-form context"},
		},
	},
	{
		Name:   "apply_feedback",
		Help:   "Drain the feedback queue into confidence updates.",
		Params: []Param{},
	},
	{
		Name: "forget",
		Help: "Remove a node; protected types are refused.",
		Params: []Param{
			{Name: "id", Type: "string", Required: true, Help: "node identifier"},
			{Name: "cascade", Type: "bool", Required: false, Default: false, Help: "weaken neighbors"},
			{Name: "rewire", Type: "bool", Required: false, Default: false, Help: "bridge predecessors to successors"},
		},
	},
	{
		Name:   "tick",
		Help:   "Run one dynamics cycle.",
		Params: []Param{},
	},
	{
		Name:   "snapshot",
		Help:   "Write a consistent on-disk image and truncate the WAL.",
		Params: []Param{},
	},
	{
		Name:   "stats",
		Help:   "Engine statistics.",
		Params: []Param{},
	},
	{
		Name: "realm_create",
		Help: "Define a realm in the namespace tree.",
		Params: []Param{
			{Name: "name", Type: "string", Required: true, Help: "realm name"},
			{Name: "parent", Type: "string", Required: false, Help: "parent realm (default: brahman)"},
		},
	},
	{
		Name: "realm_switch",
		Help: "Switch the engine's current realm.",
		Params: []Param{
			{Name: "name", Type: "string", Required: true, Help: "realm name"},
		},
	},
}

// Taxonomy returns the full tool list.
func Taxonomy() []Tool { return taxonomy }

// LookupTool resolves a tool by name.
func LookupTool(name string) (Tool, bool) {
	for _, t := range taxonomy {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

// validate checks args against the tool spec, applying defaults. Unknown
// argument names and missing required parameters are rejected.
func (t Tool) validate(args map[string]any) (map[string]any, error) {
	known := make(map[string]Param, len(t.Params))
	for _, p := range t.Params {
		known[p.Name] = p
	}
	for name := range args {
		if _, ok := known[name]; !ok {
			return nil, fmt.Errorf("unknown parameter %q for tool %s", name, t.Name)
		}
	}
	out := make(map[string]any, len(t.Params))
	for _, p := range t.Params {
		v, present := args[p.Name]
		if !present || v == nil {
			if p.Required {
				return nil, fmt.Errorf("missing required parameter %q for tool %s", p.Name, t.Name)
			}
			if p.Default != nil {
				out[p.Name] = p.Default
			}
			continue
		}
		out[p.Name] = v
	}
	return out, nil
}
