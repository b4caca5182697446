package codec

import (
	"encoding/binary"
	"math"
	"slices"
)

// Binding converts values of type T to byte strings and back.
type Binding[T any] interface {
	// Append encodes v and appends it to buf.
	Append(buf []byte, v T) []byte
	// Decode parses a byte string produced by Append of the same binding.
	Decode(data []byte) (T, error)
}

// Encode returns the encoding of v as a fresh byte slice.
func Encode[T any](b Binding[T], v T) []byte {
	return b.Append(nil, v)
}

var (
	String  Binding[string]  = stringBinding{}
	Bytes   Binding[[]byte]  = bytesBinding{}
	Bool    Binding[bool]    = boolBinding{}
	Int32   Binding[int32]   = int32Binding{}
	Int64   Binding[int64]   = int64Binding{}
	Uint64  Binding[uint64]  = uint64Binding{}
	Float64 Binding[float64] = float64Binding{}
)

type stringBinding struct{}

func (stringBinding) Append(buf []byte, v string) []byte {
	return append(buf, v...)
}

func (stringBinding) Decode(data []byte) (string, error) {
	return string(data), nil
}

type bytesBinding struct{}

func (bytesBinding) Append(buf []byte, v []byte) []byte {
	return AppendRaw(buf, v)
}

func (bytesBinding) Decode(data []byte) ([]byte, error) {
	return slices.Clone(data), nil
}

type boolBinding struct{}

func (boolBinding) Append(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func (boolBinding) Decode(data []byte) (bool, error) {
	if len(data) != 1 || data[0] > 1 {
		return false, dataErrf(data, 0, nil, "invalid bool")
	}
	return data[0] == 1, nil
}

const signBit64 = 1 << 63

type int32Binding struct{}

func (int32Binding) Append(buf []byte, v int32) []byte {
	return AppendFixedUint32(buf, uint32(v)^(1<<31))
}

func (int32Binding) Decode(data []byte) (int32, error) {
	if len(data) != 4 {
		return 0, dataErrf(data, 0, nil, "int32 wants 4 bytes")
	}
	return int32(binary.BigEndian.Uint32(data) ^ (1 << 31)), nil
}

type int64Binding struct{}

func (int64Binding) Append(buf []byte, v int64) []byte {
	return AppendFixedUint64(buf, uint64(v)^signBit64)
}

func (int64Binding) Decode(data []byte) (int64, error) {
	if len(data) != 8 {
		return 0, dataErrf(data, 0, nil, "int64 wants 8 bytes")
	}
	return int64(binary.BigEndian.Uint64(data) ^ signBit64), nil
}

type uint64Binding struct{}

func (uint64Binding) Append(buf []byte, v uint64) []byte {
	return AppendFixedUint64(buf, v)
}

func (uint64Binding) Decode(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, dataErrf(data, 0, nil, "uint64 wants 8 bytes")
	}
	return binary.BigEndian.Uint64(data), nil
}

// float64Binding flips the sign bit of non-negative values and all bits of
// negative ones, so that byte order equals numeric order (NaN sorts last).
type float64Binding struct{}

func (float64Binding) Append(buf []byte, v float64) []byte {
	bits := math.Float64bits(v)
	if bits&signBit64 != 0 {
		bits = ^bits
	} else {
		bits |= signBit64
	}
	return AppendFixedUint64(buf, bits)
}

func (float64Binding) Decode(data []byte) (float64, error) {
	if len(data) != 8 {
		return 0, dataErrf(data, 0, nil, "float64 wants 8 bytes")
	}
	bits := binary.BigEndian.Uint64(data)
	if bits&signBit64 != 0 {
		bits &^= signBit64
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits), nil
}
