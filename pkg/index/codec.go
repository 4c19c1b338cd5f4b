package index

import (
	"fmt"

	"github.com/genomewalker/chitta/internal/encoding"
	"github.com/genomewalker/chitta/pkg/primitive"
)

// WAL record payload codecs. Every record carries absolute state so that
// replaying a log suffix over a partially flushed image converges.

// EncodeNode serializes a node for a FullNode record, including payload
// bytes so recovery never depends on blob-file ordering.
func EncodeNode(n *Node) ([]byte, error) {
	buf := make([]byte, 0, 128+len(n.Payload)+len(n.Vector.Lanes))
	buf = putID(buf, n.ID)
	buf = append(buf, byte(n.Type), n.Flags)
	buf = encoding.PutFloat32(buf, n.Decay)
	buf = encoding.PutFloat32(buf, n.Epsilon)
	buf = encoding.PutFloat32(buf, n.Confidence.Mu)
	buf = encoding.PutFloat32(buf, n.Confidence.Var)
	buf = encoding.PutUint32(buf, n.Confidence.N)
	buf = encoding.PutUint64(buf, uint64(n.Confidence.T))
	buf = encoding.PutUint64(buf, uint64(n.CreatedAt))
	buf = encoding.PutUint64(buf, uint64(n.AccessedAt))
	buf = encoding.PutFloat32(buf, n.Vector.Scale)
	buf = encoding.PutInt8Slice(buf, n.Vector.Lanes)

	buf = encoding.PutUint32(buf, uint32(len(n.Tags)))
	for _, tag := range n.Tags {
		var err error
		if buf, err = encoding.PutString(buf, tag); err != nil {
			return nil, err
		}
	}

	buf = encoding.PutUint32(buf, uint32(len(n.Edges)))
	for _, e := range n.Edges {
		buf = putID(buf, e.Target)
		buf = append(buf, byte(e.Type), 0, 0, 0)
		buf = encoding.PutFloat32(buf, e.Weight)
	}

	buf = encoding.PutUint64(buf, n.PayloadOff)
	buf = encoding.PutBytes(buf, n.Payload)
	return buf, nil
}

// DecodeNode parses a FullNode record payload.
func DecodeNode(buf []byte) (*Node, error) {
	if len(buf) < 66 {
		return nil, fmt.Errorf("index: full-node record too short: %d bytes", len(buf))
	}
	n := &Node{PayloadOff: NoPayload}
	var off int
	n.ID, off = getID(buf, 0)
	n.Type = NodeType(buf[off])
	n.Flags = buf[off+1]
	off += 2
	n.Decay = encoding.Float32(buf, off)
	n.Epsilon = encoding.Float32(buf, off+4)
	n.Confidence.Mu = encoding.Float32(buf, off+8)
	n.Confidence.Var = encoding.Float32(buf, off+12)
	n.Confidence.N = encoding.Uint32(buf, off+16)
	n.Confidence.T = int64(encoding.Uint64(buf, off+20))
	n.CreatedAt = int64(encoding.Uint64(buf, off+28))
	n.AccessedAt = int64(encoding.Uint64(buf, off+36))
	n.Vector.Scale = encoding.Float32(buf, off+44)
	off += 48

	var err error
	if n.Vector.Lanes, off, err = encoding.GetInt8Slice(buf, off); err != nil {
		return nil, err
	}
	n.Vector.RecomputeNorm()

	tagCount := int(encoding.Uint32(buf, off))
	off += 4
	n.Tags = make([]string, 0, tagCount)
	for i := 0; i < tagCount; i++ {
		var tag string
		if tag, off, err = encoding.GetString(buf, off); err != nil {
			return nil, err
		}
		n.Tags = append(n.Tags, tag)
	}

	edgeCount := int(encoding.Uint32(buf, off))
	off += 4
	n.Edges = make([]Edge, 0, edgeCount)
	for i := 0; i < edgeCount; i++ {
		if off+24 > len(buf) {
			return nil, encoding.ErrShortBuffer
		}
		var e Edge
		e.Target, _ = getID(buf, off)
		e.Type = EdgeType(buf[off+16])
		e.Weight = encoding.Float32(buf, off+20)
		off += 24
		n.Edges = append(n.Edges, e)
	}

	if off+8 > len(buf) {
		return nil, encoding.ErrShortBuffer
	}
	n.PayloadOff = encoding.Uint64(buf, off)
	off += 8
	if n.Payload, _, err = encoding.GetBytes(buf, off); err != nil {
		return nil, err
	}
	return n, nil
}

// EncodeTouch builds a TouchDelta payload: id plus the new accessed_at.
func EncodeTouch(id primitive.NodeID, accessedAt int64) []byte {
	buf := make([]byte, 0, 24)
	buf = putID(buf, id)
	return encoding.PutUint64(buf, uint64(accessedAt))
}

// DecodeTouch parses a TouchDelta payload.
func DecodeTouch(buf []byte) (primitive.NodeID, int64, error) {
	if len(buf) < 24 {
		return primitive.NodeID{}, 0, encoding.ErrShortBuffer
	}
	id, off := getID(buf, 0)
	return id, int64(encoding.Uint64(buf, off)), nil
}

// EncodeConfidence builds a ConfidenceDelta payload with the absolute
// (μ, σ², n, t) tuple.
func EncodeConfidence(id primitive.NodeID, c Confidence) []byte {
	buf := make([]byte, 0, 40)
	buf = putID(buf, id)
	buf = encoding.PutFloat32(buf, c.Mu)
	buf = encoding.PutFloat32(buf, c.Var)
	buf = encoding.PutUint32(buf, c.N)
	return encoding.PutUint64(buf, uint64(c.T))
}

// DecodeConfidence parses a ConfidenceDelta payload.
func DecodeConfidence(buf []byte) (primitive.NodeID, Confidence, error) {
	if len(buf) < 36 {
		return primitive.NodeID{}, Confidence{}, encoding.ErrShortBuffer
	}
	id, off := getID(buf, 0)
	c := Confidence{
		Mu:  encoding.Float32(buf, off),
		Var: encoding.Float32(buf, off+4),
		N:   encoding.Uint32(buf, off+8),
		T:   int64(encoding.Uint64(buf, off+12)),
	}
	return id, c, nil
}

// EncodeEdgeDelta builds an EdgeDelta payload. add=false removes the edge.
func EncodeEdgeDelta(id primitive.NodeID, e Edge, add bool) []byte {
	buf := make([]byte, 0, 40)
	buf = putID(buf, id)
	buf = putID(buf, e.Target)
	op := byte(0)
	if add {
		op = 1
	}
	buf = append(buf, byte(e.Type), op, 0, 0)
	return encoding.PutFloat32(buf, e.Weight)
}

// DecodeEdgeDelta parses an EdgeDelta payload.
func DecodeEdgeDelta(buf []byte) (id primitive.NodeID, e Edge, add bool, err error) {
	if len(buf) < 40 {
		return primitive.NodeID{}, Edge{}, false, encoding.ErrShortBuffer
	}
	id, off := getID(buf, 0)
	e.Target, off = getID(buf, off)
	e.Type = EdgeType(buf[off])
	add = buf[off+1] == 1
	e.Weight = encoding.Float32(buf, off+4)
	return id, e, add, nil
}

// EncodeTagDelta builds a TagDelta payload. add=false removes the tag.
func EncodeTagDelta(id primitive.NodeID, tag string, add bool) ([]byte, error) {
	buf := make([]byte, 0, 24+len(tag))
	buf = putID(buf, id)
	op := byte(0)
	if add {
		op = 1
	}
	buf = append(buf, op)
	return encoding.PutString(buf, tag)
}

// DecodeTagDelta parses a TagDelta payload.
func DecodeTagDelta(buf []byte) (id primitive.NodeID, tag string, add bool, err error) {
	if len(buf) < 17 {
		return primitive.NodeID{}, "", false, encoding.ErrShortBuffer
	}
	id, off := getID(buf, 0)
	add = buf[off] == 1
	tag, _, err = encoding.GetString(buf, off+1)
	return id, tag, add, err
}

// EncodeRemove builds a RemoveNode payload.
func EncodeRemove(id primitive.NodeID) []byte {
	return putID(make([]byte, 0, 16), id)
}

// DecodeRemove parses a RemoveNode payload.
func DecodeRemove(buf []byte) (primitive.NodeID, error) {
	if len(buf) < 16 {
		return primitive.NodeID{}, encoding.ErrShortBuffer
	}
	id, _ := getID(buf, 0)
	return id, nil
}

// EncodeVectorDelta builds a VectorDelta payload with the absolute
// quantized vector, written when attractor settling drifts an embedding.
func EncodeVectorDelta(id primitive.NodeID, v primitive.QuantizedVector) []byte {
	buf := make([]byte, 0, 24+len(v.Lanes))
	buf = putID(buf, id)
	buf = encoding.PutFloat32(buf, v.Scale)
	return encoding.PutInt8Slice(buf, v.Lanes)
}

// DecodeVectorDelta parses a VectorDelta payload.
func DecodeVectorDelta(buf []byte) (primitive.NodeID, primitive.QuantizedVector, error) {
	if len(buf) < 24 {
		return primitive.NodeID{}, primitive.QuantizedVector{}, encoding.ErrShortBuffer
	}
	id, off := getID(buf, 0)
	var v primitive.QuantizedVector
	v.Scale = encoding.Float32(buf, off)
	var err error
	if v.Lanes, _, err = encoding.GetInt8Slice(buf, off+4); err != nil {
		return primitive.NodeID{}, primitive.QuantizedVector{}, err
	}
	v.RecomputeNorm()
	return id, v, nil
}
