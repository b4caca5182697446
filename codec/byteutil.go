package codec

import (
	"encoding/binary"
	"io"
	"math"
	"slices"
)

// grow extends buf by n bytes and returns the offset of the new bytes.
func grow(buf []byte, n int) (int, []byte) {
	off := len(buf)
	buf = slices.Grow(buf, n)
	return off, buf[:off+n]
}

// AppendRaw appends chunk to buf.
func AppendRaw(buf []byte, chunk []byte) []byte {
	return append(buf, chunk...)
}

func AppendUvarint(buf []byte, v uint64) []byte {
	return binary.AppendUvarint(buf, v)
}

// AppendVarBytes appends v prefixed by its uvarint length.
func AppendVarBytes(buf []byte, v []byte) []byte {
	buf = slices.Grow(buf, binary.MaxVarintLen64+len(v))
	buf = binary.AppendUvarint(buf, uint64(len(v)))
	return append(buf, v...)
}

func AppendFixedUint32(buf []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(buf, v)
}

func AppendFixedUint64(buf []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(buf, v)
}

// Builder is an io.Writer over a growable byte slice; msgpack encoders write
// into it directly.
type Builder struct {
	Buf []byte
}

var _ io.Writer = (*Builder)(nil)

func (bb *Builder) Write(b []byte) (int, error) {
	bb.Buf = AppendRaw(bb.Buf, b)
	return len(b), nil
}

func (bb *Builder) WriteByte(v byte) error {
	bb.Buf = append(bb.Buf, v)
	return nil
}

// Decoder reads a byte string front to back, reporting malformed input as
// *DataError with the offset of the failure.
type Decoder struct {
	Orig []byte
	Buf  []byte
}

func NewDecoder(buf []byte) Decoder {
	return Decoder{buf, buf}
}

func (d *Decoder) Off() int {
	return len(d.Orig) - len(d.Buf)
}

func (d *Decoder) Remaining() int {
	return len(d.Buf)
}

func (d *Decoder) Uvarint() (uint64, error) {
	v, n := binary.Uvarint(d.Buf)
	if n <= 0 {
		return 0, dataErrf(d.Orig, d.Off(), nil, "invalid uvarint")
	}
	d.Buf = d.Buf[n:]
	return v, nil
}

func (d *Decoder) uvarinti() (int, error) {
	v, err := d.Uvarint()
	if err != nil {
		return 0, err
	}
	if v > math.MaxInt {
		return 0, dataErrf(d.Orig, d.Off(), nil, "value does not fit into int: %d", v)
	}
	return int(v), nil
}

func (d *Decoder) Raw(n int) ([]byte, error) {
	if len(d.Buf) < n {
		return nil, dataErrf(d.Orig, d.Off(), nil, "not enough data: %d bytes remaining, %d wanted", len(d.Buf), n)
	}
	v := d.Buf[:n]
	d.Buf = d.Buf[n:]
	return v, nil
}

func (d *Decoder) VarBytes() ([]byte, error) {
	n, err := d.uvarinti()
	if err != nil {
		return nil, err
	}
	return d.Raw(n)
}

func (d *Decoder) FixedUint32() (uint32, error) {
	raw, err := d.Raw(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(raw), nil
}

func (d *Decoder) FixedUint64() (uint64, error) {
	raw, err := d.Raw(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(raw), nil
}

// Inc turns data into the smallest byte string of the same length that is
// greater than every string prefixed by data. Returns false for all-0xFF input.
func Inc(data []byte) bool {
	n := len(data)
	for i := n - 1; i >= 0; i-- {
		if data[i] != 0xFF {
			data[i]++
			for j := i + 1; j < n; j++ {
				data[j] = 0
			}
			return true
		}
	}
	return false
}

// Dec is the inverse of Inc.
func Dec(data []byte) bool {
	n := len(data)
	for i := n - 1; i >= 0; i-- {
		if data[i] != 0 {
			data[i]--
			for j := i + 1; j < n; j++ {
				data[j] = 0xFF
			}
			return true
		}
	}
	return false
}

// PrefixEnd returns the first key that sorts after every key starting with
// prefix, or nil if no such key exists.
func PrefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for len(end) > 0 {
		if end[len(end)-1] != 0xFF {
			end[len(end)-1]++
			return end
		}
		end = end[:len(end)-1]
	}
	return nil
}
