package tensor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrUnsupportedPrecision is returned when values cannot be converted to or
// from a precision.
var ErrUnsupportedPrecision = errors.New("unsupported precision for numeric conversion")

// Encode lays values out little-endian in the given precision. Integer
// precisions truncate toward zero.
func Encode(p Precision, values []float64) ([]byte, error) {
	size := p.Size()
	if size == 0 || p == FP16 {
		return nil, fmt.Errorf("encoding %s: %w", p, ErrUnsupportedPrecision)
	}
	out := make([]byte, size*len(values))
	le := binary.LittleEndian
	for i, v := range values {
		dst := out[i*size:]
		switch p {
		case FP32:
			le.PutUint32(dst, math.Float32bits(float32(v)))
		case FP64:
			le.PutUint64(dst, math.Float64bits(v))
		case U8:
			dst[0] = uint8(v)
		case I8:
			dst[0] = uint8(int8(v))
		case U16:
			le.PutUint16(dst, uint16(v))
		case I16:
			le.PutUint16(dst, uint16(int16(v)))
		case I32:
			le.PutUint32(dst, uint32(int32(v)))
		case I64:
			le.PutUint64(dst, uint64(int64(v)))
		}
	}
	return out, nil
}

// Decode is the inverse of Encode.
func Decode(p Precision, data []byte) ([]float64, error) {
	size := p.Size()
	if size == 0 || p == FP16 {
		return nil, fmt.Errorf("decoding %s: %w", p, ErrUnsupportedPrecision)
	}
	if len(data)%size != 0 {
		return nil, fmt.Errorf("decoding %s: %d bytes is not a multiple of %d", p, len(data), size)
	}
	out := make([]float64, len(data)/size)
	le := binary.LittleEndian
	for i := range out {
		src := data[i*size:]
		switch p {
		case FP32:
			out[i] = float64(math.Float32frombits(le.Uint32(src)))
		case FP64:
			out[i] = math.Float64frombits(le.Uint64(src))
		case U8:
			out[i] = float64(src[0])
		case I8:
			out[i] = float64(int8(src[0]))
		case U16:
			out[i] = float64(le.Uint16(src))
		case I16:
			out[i] = float64(int16(le.Uint16(src)))
		case I32:
			out[i] = float64(int32(le.Uint32(src)))
		case I64:
			out[i] = float64(int64(le.Uint64(src)))
		}
	}
	return out, nil
}
