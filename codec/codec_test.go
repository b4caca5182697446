package codec

import (
	"bytes"
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestPlainBindingsPreserveOrder(t *testing.T) {
	checkOrder(t, "Int32", Int32, []int32{math.MinInt32, -70000, -1, 0, 1, 255, 256, math.MaxInt32})
	checkOrder(t, "Int64", Int64, []int64{math.MinInt64, -1 << 40, -2, -1, 0, 1, 1 << 40, math.MaxInt64})
	checkOrder(t, "Uint64", Uint64, []uint64{0, 1, 0x7F, 0x80, 0xFF, 0x100, math.MaxUint64})
	checkOrder(t, "Float64", Float64, []float64{math.Inf(-1), -1e10, -1.5, -0.25, 0, 0.25, 1, 1e10, math.Inf(1)})
	checkOrder(t, "String", String, []string{"", "a", "ab", "b", "\x7f", "\x80", "\xff"})
	checkOrder(t, "Bool", Bool, []bool{false, true})
}

func TestCompressedBindingsPreserveOrder(t *testing.T) {
	checkOrder(t, "CompressedUint64", CompressedUint64, []uint64{0, 1, 0xFF, 0x100, 0xFFFF, 0x10000, 1 << 40, math.MaxUint64})
	checkOrder(t, "CompressedInt64", CompressedInt64, []int64{math.MinInt64, -1 << 40, -257, -256, -255, -2, -1, 0, 1, 255, 256, 1 << 40, math.MaxInt64})
}

func TestCompressedIsShorterForSmallIDs(t *testing.T) {
	if n := len(Encode(CompressedUint64, 42)); n != 2 {
		t.Fatalf("len(CompressedUint64(42)) = %d, wanted 2", n)
	}
	if n := len(Encode(CompressedInt64, 0)); n != 1 {
		t.Fatalf("len(CompressedInt64(0)) = %d, wanted 1", n)
	}
	if n := len(Encode(Int64, 42)); n != 8 {
		t.Fatalf("len(Int64(42)) = %d, wanted 8", n)
	}
}

func TestCompressedAndPlainAreNotCrossDecodable(t *testing.T) {
	if _, err := Int64.Decode(Encode(CompressedInt64, 42)); err == nil {
		t.Fatalf("Int64.Decode(compressed) succeeded, wanted error")
	}
	_, err := CompressedUint64.Decode(Encode(Uint64, 42))
	var de *DataError
	if !errors.As(err, &de) {
		t.Fatalf("CompressedUint64.Decode(plain) err = %v, wanted *DataError", err)
	}
}

func TestMsgpackBinding(t *testing.T) {
	type meta struct {
		Name  string   `msgpack:"n"`
		Flags []string `msgpack:"f"`
	}
	b := Msgpack[meta]()
	in := meta{Name: "java/lang/Object", Flags: []string{"public"}}
	out, err := b.Decode(Encode(b, in))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("got %+v, wanted %+v", out, in)
	}
	if _, err := b.Decode([]byte{0xc1}); err == nil {
		t.Fatalf("Decode(garbage) succeeded, wanted error")
	}
}

func TestIDSet(t *testing.T) {
	s := NewIDSet()
	for _, id := range []uint64{5, 1, 64, 1 << 40, 63, 5} {
		s.Add(id)
	}
	if s.Len() != 5 {
		t.Fatalf("Len = %d, wanted 5", s.Len())
	}
	if !s.Contains(64) || s.Contains(65) {
		t.Fatalf("Contains gave wrong answers")
	}
	if s.Add(1<<40) || !s.Contains(1<<40) || s.Len() != 5 {
		t.Fatalf("re-adding an id changed the set, Len = %d", s.Len())
	}
	var nilSet *IDSet
	if nilSet.Contains(1) || nilSet.Len() != 0 {
		t.Fatalf("nil IDSet should be empty")
	}
}

func TestIncDec(t *testing.T) {
	b := []byte{0x00, 0xFF}
	if !Inc(b) || !bytes.Equal(b, []byte{0x01, 0x00}) {
		t.Fatalf("Inc = %x, wanted 0100", b)
	}
	if !Dec(b) || !bytes.Equal(b, []byte{0x00, 0xFF}) {
		t.Fatalf("Dec = %x, wanted 00ff", b)
	}
	if Inc([]byte{0xFF}) {
		t.Fatalf("Inc(FF) = true, wanted false")
	}
	if got := PrefixEnd([]byte{0x10, 0xFF}); !bytes.Equal(got, []byte{0x11}) {
		t.Fatalf("PrefixEnd = %x, wanted 11", got)
	}
	if got := PrefixEnd([]byte{0xFF}); got != nil {
		t.Fatalf("PrefixEnd(FF) = %x, wanted nil", got)
	}
}

func TestDecoder(t *testing.T) {
	var buf []byte
	buf = AppendUvarint(buf, 300)
	buf = AppendVarBytes(buf, []byte("abc"))
	buf = AppendFixedUint32(buf, 7)
	d := NewDecoder(buf)
	if v, err := d.Uvarint(); err != nil || v != 300 {
		t.Fatalf("Uvarint = %d, %v", v, err)
	}
	if v, err := d.VarBytes(); err != nil || string(v) != "abc" {
		t.Fatalf("VarBytes = %q, %v", v, err)
	}
	if v, err := d.FixedUint32(); err != nil || v != 7 {
		t.Fatalf("FixedUint32 = %d, %v", v, err)
	}
	if _, err := d.Raw(1); err == nil {
		t.Fatalf("Raw past end succeeded, wanted error")
	}
}

func checkOrder[T any](t *testing.T, name string, b Binding[T], values []T) {
	t.Helper()
	var prev []byte
	for i, v := range values {
		enc := Encode(b, v)
		dec, err := b.Decode(enc)
		if err != nil {
			t.Fatalf("%s: Decode(%x) failed: %v", name, enc, err)
		}
		if !reflect.DeepEqual(dec, v) {
			t.Fatalf("%s: Decode(Encode(%v)) = %v", name, v, dec)
		}
		if i > 0 && bytes.Compare(prev, enc) >= 0 {
			t.Fatalf("%s: Encode(%v) = %x does not sort after Encode(%v) = %x", name, v, enc, values[i-1], prev)
		}
		prev = enc
	}
}
