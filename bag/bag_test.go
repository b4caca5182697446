package bag

import (
	"errors"
	"strings"
	"testing"
)

func TestBagGetAndWith(t *testing.T) {
	b := New("tx", 42, Key("name"), "x")
	v, err := Get[int](b, "tx")
	if err != nil || v != 42 {
		t.Fatalf("Get(tx) = %v, %v; wanted 42, nil", v, err)
	}

	b2 := b.With("extra", true)
	if b.Has("extra") {
		t.Fatalf("With mutated the original bag")
	}
	if !MustGet[bool](b2, "extra") {
		t.Fatalf("MustGet(extra) = false, wanted true")
	}
}

func TestBagMissingKeyNamesKey(t *testing.T) {
	b := New("tx", 1)
	_, err := Get[int](b, "interner")
	var mk *MissingKeyError
	if !errors.As(err, &mk) || mk.Key != "interner" {
		t.Fatalf("err = %v, wanted *MissingKeyError for interner", err)
	}
	if !strings.Contains(err.Error(), `"interner"`) || !strings.Contains(err.Error(), "tx") {
		t.Fatalf("err.Error() = %q, wanted it to name the missing and available keys", err.Error())
	}
}

func TestBagWrongType(t *testing.T) {
	b := New("tx", "not a tx")
	_, err := Get[int](b, "tx")
	var wt *WrongTypeError
	if !errors.As(err, &wt) {
		t.Fatalf("err = %v, wanted *WrongTypeError", err)
	}
}
