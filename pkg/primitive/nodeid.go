// Package primitive provides the value types the engine is built from:
// 128-bit node identifiers, quantized vectors with approximate and exact
// cosine paths, and the Hilbert ordering key used for candidate pruning.
package primitive

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// NodeID is a 128-bit identifier stored as two 64-bit halves.
// IDs are generated with strong randomness; collision probability is
// negligible at any realistic store size.
type NodeID struct {
	Hi uint64
	Lo uint64
}

// ZeroID is the reserved all-zero identifier. It never names a node.
var ZeroID = NodeID{}

// NewNodeID generates a fresh random identifier.
func NewNodeID() NodeID {
	u := uuid.New()
	return NodeID{
		Hi: binary.LittleEndian.Uint64(u[0:8]),
		Lo: binary.LittleEndian.Uint64(u[8:16]),
	}
}

// IsZero reports whether id is the reserved zero identifier.
func (id NodeID) IsZero() bool {
	return id.Hi == 0 && id.Lo == 0
}

// String renders the identifier as 32 lowercase hex digits.
func (id NodeID) String() string {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:8], id.Hi)
	binary.LittleEndian.PutUint64(b[8:16], id.Lo)
	return hex.EncodeToString(b[:])
}

// ParseNodeID parses the 32-hex-digit form produced by String.
func ParseNodeID(s string) (NodeID, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return NodeID{}, fmt.Errorf("primitive: invalid node id %q: %w", s, err)
	}
	if len(raw) != 16 {
		return NodeID{}, fmt.Errorf("primitive: invalid node id length %d", len(raw))
	}
	return NodeID{
		Hi: binary.LittleEndian.Uint64(raw[0:8]),
		Lo: binary.LittleEndian.Uint64(raw[8:16]),
	}, nil
}

// Less imposes a total order on identifiers, used to break ties
// deterministically in candidate ordering.
func (id NodeID) Less(other NodeID) bool {
	if id.Hi != other.Hi {
		return id.Hi < other.Hi
	}
	return id.Lo < other.Lo
}
