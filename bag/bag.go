// Package bag carries named context objects (the active transaction, the
// symbol interner, the storage) explicitly through calls made by collaborators
// that must not rely on ambient state.
package bag

import (
	"fmt"
	"slices"
	"strings"
)

// Key names an entry in a Bag.
type Key string

// Bag is immutable once built; With returns a new Bag.
type Bag struct {
	entries map[Key]any
}

// MissingKeyError is returned by Get when the key was never set.
type MissingKeyError struct {
	Key       Key
	Available []Key
}

func (e *MissingKeyError) Error() string {
	names := make([]string, len(e.Available))
	for i, k := range e.Available {
		names[i] = string(k)
	}
	return fmt.Sprintf("context has no %q (available: %s)", e.Key, strings.Join(names, ", "))
}

// WrongTypeError is returned by Get when the entry has an unexpected type.
type WrongTypeError struct {
	Key    Key
	Actual any
	Wanted string
}

func (e *WrongTypeError) Error() string {
	return fmt.Sprintf("context entry %q is %T, wanted %s", e.Key, e.Actual, e.Wanted)
}

// New builds a bag from alternating key, value arguments.
func New(kv ...any) Bag {
	if len(kv)%2 != 0 {
		panic("bag.New: odd number of arguments")
	}
	b := Bag{entries: make(map[Key]any, len(kv)/2)}
	for i := 0; i < len(kv); i += 2 {
		b.entries[toKey(kv[i])] = kv[i+1]
	}
	return b
}

func toKey(v any) Key {
	switch k := v.(type) {
	case Key:
		return k
	case string:
		return Key(k)
	default:
		panic(fmt.Errorf("bag key is %T, wanted bag.Key or string", v))
	}
}

// With returns a copy of b with key set to value.
func (b Bag) With(key Key, value any) Bag {
	m := make(map[Key]any, len(b.entries)+1)
	for k, v := range b.entries {
		m[k] = v
	}
	m[key] = value
	return Bag{entries: m}
}

func (b Bag) Has(key Key) bool {
	_, ok := b.entries[key]
	return ok
}

func (b Bag) Keys() []Key {
	keys := make([]Key, 0, len(b.entries))
	for k := range b.entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Lookup returns the raw entry for key.
func (b Bag) Lookup(key Key) (any, error) {
	v, ok := b.entries[key]
	if !ok {
		return nil, &MissingKeyError{Key: key, Available: b.Keys()}
	}
	return v, nil
}

// Get returns the entry for key as T.
func Get[T any](b Bag, key Key) (T, error) {
	var zero T
	raw, err := b.Lookup(key)
	if err != nil {
		return zero, err
	}
	v, ok := raw.(T)
	if !ok {
		return zero, &WrongTypeError{Key: key, Actual: raw, Wanted: fmt.Sprintf("%T", zero)}
	}
	return v, nil
}

// MustGet is Get that panics.
func MustGet[T any](b Bag, key Key) T {
	v, err := Get[T](b, key)
	if err != nil {
		panic(err)
	}
	return v
}

// Well-known keys shared by the storage layers and their collaborators.
const (
	Tx       Key = "tx"
	Storage  Key = "storage"
	Interner Key = "interner"
)
