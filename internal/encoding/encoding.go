// Package encoding provides little-endian codecs shared by the on-disk
// structures: length-prefixed strings, float vectors, and identifier pairs.
package encoding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrShortBuffer is returned when a decode runs past the end of its input.
var ErrShortBuffer = errors.New("encoding: short buffer")

// PutUint32 appends v to buf in little-endian order.
func PutUint32(buf []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(buf, v)
}

// PutUint64 appends v to buf in little-endian order.
func PutUint64(buf []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(buf, v)
}

// PutFloat32 appends v to buf as its IEEE-754 bits.
func PutFloat32(buf []byte, v float32) []byte {
	return binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
}

// Uint32 reads a little-endian uint32 at off.
func Uint32(buf []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(buf[off:])
}

// Uint64 reads a little-endian uint64 at off.
func Uint64(buf []byte, off int) uint64 {
	return binary.LittleEndian.Uint64(buf[off:])
}

// Float32 reads a little-endian float32 at off.
func Float32(buf []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
}

// SetUint32 writes v at off in place.
func SetUint32(buf []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(buf[off:], v)
}

// SetUint64 writes v at off in place.
func SetUint64(buf []byte, off int, v uint64) {
	binary.LittleEndian.PutUint64(buf[off:], v)
}

// SetFloat32 writes v at off in place.
func SetFloat32(buf []byte, off int, v float32) {
	binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
}

// PutString appends a u16-length-prefixed UTF-8 string.
// Strings longer than 65535 bytes are rejected.
func PutString(buf []byte, s string) ([]byte, error) {
	if len(s) > math.MaxUint16 {
		return nil, fmt.Errorf("encoding: string too long: %d bytes", len(s))
	}
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...), nil
}

// GetString decodes a u16-length-prefixed string at off and returns the
// string together with the offset just past it.
func GetString(buf []byte, off int) (string, int, error) {
	if off+2 > len(buf) {
		return "", 0, ErrShortBuffer
	}
	n := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	if off+n > len(buf) {
		return "", 0, ErrShortBuffer
	}
	return string(buf[off : off+n]), off + n, nil
}

// PutBytes appends a u32-length-prefixed byte sequence.
func PutBytes(buf, b []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

// GetBytes decodes a u32-length-prefixed byte sequence at off.
func GetBytes(buf []byte, off int) ([]byte, int, error) {
	if off+4 > len(buf) {
		return nil, 0, ErrShortBuffer
	}
	n := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if off+n > len(buf) {
		return nil, 0, ErrShortBuffer
	}
	out := make([]byte, n)
	copy(out, buf[off:off+n])
	return out, off + n, nil
}

// PutFloat32Slice appends a u32-count-prefixed float32 vector.
func PutFloat32Slice(buf []byte, v []float32) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v)))
	for _, f := range v {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}
	return buf
}

// GetFloat32Slice decodes a u32-count-prefixed float32 vector at off.
func GetFloat32Slice(buf []byte, off int) ([]float32, int, error) {
	if off+4 > len(buf) {
		return nil, 0, ErrShortBuffer
	}
	n := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if off+4*n > len(buf) {
		return nil, 0, ErrShortBuffer
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
	}
	return out, off, nil
}

// PutInt8Slice appends a u32-count-prefixed int8 lane array.
func PutInt8Slice(buf []byte, v []int8) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v)))
	for _, b := range v {
		buf = append(buf, byte(b))
	}
	return buf
}

// GetInt8Slice decodes a u32-count-prefixed int8 lane array at off.
func GetInt8Slice(buf []byte, off int) ([]int8, int, error) {
	if off+4 > len(buf) {
		return nil, 0, ErrShortBuffer
	}
	n := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if off+n > len(buf) {
		return nil, 0, ErrShortBuffer
	}
	out := make([]int8, n)
	for i := range out {
		out[i] = int8(buf[off+i])
	}
	return out, off + n, nil
}
