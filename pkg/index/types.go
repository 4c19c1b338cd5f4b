// Package index implements the unified mapped index: one file holding the
// id→slot hash, the fixed-width NodeMeta array, the quantized vector
// array, and the ANN connection-pool arena. It is the authoritative store
// for everything about a node except its payload bytes.
//
// The index performs no locking of its own; the engine serializes all
// access under a single logical lock.
package index

import (
	"fmt"
	"math"

	"github.com/genomewalker/chitta/internal/encoding"
	"github.com/genomewalker/chitta/pkg/primitive"
)

// NodeType drives the default decay rate and the pruning policy.
type NodeType uint8

const (
	TypeWisdom NodeType = iota
	TypeBelief
	TypeFailure
	TypeEpisode
	TypeAspiration
	TypeDream
	TypeTerm
	TypeQuestion
	TypeInvariant
	TypeGap

	numNodeTypes
)

var nodeTypeNames = [numNodeTypes]string{
	"wisdom", "belief", "failure", "episode", "aspiration",
	"dream", "term", "question", "invariant", "gap",
}

// String returns the canonical lowercase name.
func (t NodeType) String() string {
	if int(t) < len(nodeTypeNames) {
		return nodeTypeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// ParseNodeType resolves a canonical name back to its type.
func ParseNodeType(s string) (NodeType, error) {
	for i, name := range nodeTypeNames {
		if name == s {
			return NodeType(i), nil
		}
	}
	return 0, fmt.Errorf("index: unknown node type %q", s)
}

// Protected reports whether the type is exempt from auto-decay and
// auto-prune. Invariants and beliefs are never removed automatically.
func (t NodeType) Protected() bool {
	return t == TypeInvariant || t == TypeBelief
}

// DefaultDecay returns the per-type default decay rate δ.
func (t NodeType) DefaultDecay() float32 {
	switch t {
	case TypeInvariant, TypeBelief:
		return 0
	case TypeEpisode, TypeDream:
		return 0.05
	case TypeFailure, TypeQuestion, TypeGap:
		return 0.02
	default:
		return 0.01
	}
}

// EdgeType tags a directed edge. A Contradicts edge is recorded as a
// fact, not as a retraction.
type EdgeType uint8

const (
	EdgeSimilar EdgeType = iota
	EdgeSupports
	EdgeContradicts
	EdgeAppliedIn
	EdgeEvolvedFrom
	EdgePartOf
	EdgeTriggeredBy
	EdgeRelatesTo

	numEdgeTypes
)

var edgeTypeNames = [numEdgeTypes]string{
	"similar", "supports", "contradicts", "applied_in",
	"evolved_from", "part_of", "triggered_by", "relates_to",
}

// String returns the canonical lowercase name.
func (t EdgeType) String() string {
	if int(t) < len(edgeTypeNames) {
		return edgeTypeNames[t]
	}
	return fmt.Sprintf("edge(%d)", uint8(t))
}

// ParseEdgeType resolves a canonical name back to its type.
func ParseEdgeType(s string) (EdgeType, error) {
	for i, name := range edgeTypeNames {
		if name == s {
			return EdgeType(i), nil
		}
	}
	return 0, fmt.Errorf("index: unknown edge type %q", s)
}

// Edge is one outbound typed link.
type Edge struct {
	Target primitive.NodeID
	Type   EdgeType
	Weight float32
}

// Confidence is the Beta-like estimator carried on every node.
type Confidence struct {
	Mu  float32 // mean
	Var float32 // variance
	N   uint32  // observation count, monotonically non-decreasing
	T   int64   // last update, ms since epoch
}

// NewConfidence seeds the estimator at mean mu with one observation.
// The initial variance follows the Beta moment μ(1−μ)/(n+1).
func NewConfidence(mu float64, now int64) Confidence {
	if mu < 0 {
		mu = 0
	} else if mu > 1 {
		mu = 1
	}
	return Confidence{
		Mu:  float32(mu),
		Var: float32(mu * (1 - mu) / 2),
		N:   1,
		T:   now,
	}
}

// Effective returns μ · max(1 − 2·√σ², 0), the confidence actually used
// for scoring and pruning.
func (c Confidence) Effective() float64 {
	penalty := 1 - 2*math.Sqrt(float64(c.Var))
	if penalty < 0 {
		penalty = 0
	}
	return float64(c.Mu) * penalty
}

// Observe folds one observation of value obs (clamped to [0,1]) into the
// estimator, shrinking variance as evidence accumulates.
func (c *Confidence) Observe(obs float64, now int64) {
	if obs < 0 {
		obs = 0
	} else if obs > 1 {
		obs = 1
	}
	n := float64(c.N)
	mu := (float64(c.Mu)*n + obs) / (n + 1)
	d := obs - mu
	v := (float64(c.Var)*n + d*d) / (n + 1)
	if v > 0.25 {
		v = 0.25
	}
	c.Mu = float32(mu)
	c.Var = float32(v)
	c.N++
	c.T = now
}

// Flag bits carried in NodeMeta.
const (
	FlagTombstone uint8 = 1 << iota // slot removed; hash entry gone
	FlagCold                        // payload lives in the cold archive
	FlagPending                     // vector is the zero sentinel awaiting embedding
)

// NoPayload marks a node without stored payload bytes.
const NoPayload = ^uint64(0)

// Node is the canonical in-memory view of one stored entity.
type Node struct {
	ID         primitive.NodeID
	Type       NodeType
	Flags      uint8
	Vector     primitive.QuantizedVector
	Confidence Confidence
	Decay      float32
	Epsilon    float32
	CreatedAt  int64
	AccessedAt int64
	Tags       []string
	Edges      []Edge
	PayloadOff uint64

	// Payload carries the payload bytes when the caller materialized
	// them (full-node WAL records, remember); it is nil on plain reads.
	Payload []byte
}

// putID appends an id as two little-endian u64 halves.
func putID(buf []byte, id primitive.NodeID) []byte {
	buf = encoding.PutUint64(buf, id.Hi)
	return encoding.PutUint64(buf, id.Lo)
}

// getID reads an id at off.
func getID(buf []byte, off int) (primitive.NodeID, int) {
	return primitive.NodeID{
		Hi: encoding.Uint64(buf, off),
		Lo: encoding.Uint64(buf, off+8),
	}, off + 16
}
