package vector

import (
	"encoding/binary"
	"math"
)

// Encode serializes a float32 vector to a binary BLOB using little-endian
// encoding, suitable for storage in a SQLite BLOB column.
func Encode(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// Decode deserializes a binary BLOB back to a float32 vector.
// A nil or empty BLOB decodes to nil, which callers treat as "no vector".
func Decode(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}

	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
