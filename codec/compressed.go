package codec

var (
	CompressedUint64 Binding[uint64] = compressedUint64Binding{}
	CompressedInt64  Binding[int64]  = compressedInt64Binding{}
)

// compressedUint64Binding writes the number of significant bytes, then those
// bytes big-endian. Longer encodings are larger values, so order is kept.
type compressedUint64Binding struct{}

func (compressedUint64Binding) Append(buf []byte, v uint64) []byte {
	n := significantBytes(v)
	off, buf := grow(buf, 1+n)
	buf[off] = byte(n)
	putTail(buf[off+1:], v, n)
	return buf
}

func (compressedUint64Binding) Decode(data []byte) (uint64, error) {
	if len(data) == 0 {
		return 0, dataErrf(data, 0, nil, "compressed uint64: empty")
	}
	n := int(data[0])
	if n > 8 || len(data) != 1+n {
		return 0, dataErrf(data, 0, nil, "compressed uint64: bad length header %d", n)
	}
	return getTail(data[1:]), nil
}

// Header bytes for compressedInt64Binding. Non-negative values use
// int64PosBase+n; negative values use int64NegBase-n where n counts the
// significant bytes of ^v.
const (
	int64PosBase = 0x80
	int64NegBase = 0x7F
)

type compressedInt64Binding struct{}

func (compressedInt64Binding) Append(buf []byte, v int64) []byte {
	if v >= 0 {
		n := significantBytes(uint64(v))
		off, buf := grow(buf, 1+n)
		buf[off] = byte(int64PosBase + n)
		putTail(buf[off+1:], uint64(v), n)
		return buf
	}
	n := significantBytes(^uint64(v))
	off, buf := grow(buf, 1+n)
	buf[off] = byte(int64NegBase - n)
	putTail(buf[off+1:], uint64(v), n)
	return buf
}

func (compressedInt64Binding) Decode(data []byte) (int64, error) {
	if len(data) == 0 {
		return 0, dataErrf(data, 0, nil, "compressed int64: empty")
	}
	h := int(data[0])
	switch {
	case h >= int64PosBase && h <= int64PosBase+8:
		n := h - int64PosBase
		if len(data) != 1+n {
			return 0, dataErrf(data, 0, nil, "compressed int64: length mismatch")
		}
		return int64(getTail(data[1:])), nil
	case h <= int64NegBase && h >= int64NegBase-8:
		n := int64NegBase - h
		if len(data) != 1+n {
			return 0, dataErrf(data, 0, nil, "compressed int64: length mismatch")
		}
		var high uint64
		if n < 8 {
			high = ^uint64(0) << (8 * n)
		}
		return int64(high | getTail(data[1:])), nil
	default:
		return 0, dataErrf(data, 0, nil, "compressed int64: bad header %#x", h)
	}
}

func significantBytes(v uint64) int {
	n := 0
	for v != 0 {
		n++
		v >>= 8
	}
	return n
}

func putTail(buf []byte, v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
}

func getTail(data []byte) uint64 {
	var v uint64
	for _, b := range data {
		v = v<<8 | uint64(b)
	}
	return v
}
