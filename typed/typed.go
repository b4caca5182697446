// Package typed gives compile-time typed access to ERS properties, blobs and
// links. Values go through codec bindings; property bindings should preserve
// order, since range queries compare encoded bytes.
package typed

import (
	"fmt"

	"github.com/andreyvit/ersdb/codec"
	"github.com/andreyvit/ersdb/ers"
)

var ErrTypeMismatch = fmt.Errorf("%w: entity type mismatch", ers.ErrStorage)

// TypeMismatchError is returned when an accessor is used on an entity of
// another type.
type TypeMismatchError struct {
	Accessor string
	ID       ers.EntityID
	Actual   string
	Wanted   string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("%v: %s used on %s %v, wanted %s", ErrTypeMismatch, e.Accessor, e.Actual, e.ID, e.Wanted)
}

func (e *TypeMismatchError) Unwrap() error { return ErrTypeMismatch }

// EntityType names a type of entities.
type EntityType struct {
	Name string
}

func NewType(name string) EntityType {
	return EntityType{name}
}

func (t EntityType) String() string { return t.Name }

func (t EntityType) New(txn ers.Txn) (ers.Entity, error) {
	return txn.NewEntity(t.Name)
}

func (t EntityType) All(txn ers.Txn) ers.Iterable {
	return txn.All(t.Name)
}

// Is reports whether e belongs to the type.
func (t EntityType) Is(e ers.Entity) bool {
	return e.Type() == t.Name
}

func (t EntityType) check(accessor string, e ers.Entity) error {
	if actual := e.Type(); actual != t.Name {
		return &TypeMismatchError{Accessor: accessor, ID: e.ID(), Actual: actual, Wanted: t.Name}
	}
	return nil
}

// Property is an indexed property holding values of type T.
type Property[T any] struct {
	Type    EntityType
	Name    string
	Binding codec.Binding[T]
}

func NewProperty[T any](typ EntityType, name string, b codec.Binding[T]) Property[T] {
	return Property[T]{typ, name, b}
}

func (p Property[T]) String() string { return p.Type.Name + "." + p.Name }

// Get returns the value and whether it is set.
func (p Property[T]) Get(e ers.Entity) (T, bool, error) {
	var zero T
	if err := p.Type.check(p.String(), e); err != nil {
		return zero, false, err
	}
	raw, err := e.Property(p.Name)
	if err != nil || raw == nil {
		return zero, false, err
	}
	v, err := p.Binding.Decode(raw)
	if err != nil {
		return zero, false, fmt.Errorf("%s of %v: %w", p, e.ID(), err)
	}
	return v, true, nil
}

// GetOr returns the value, or def when it is not set.
func (p Property[T]) GetOr(e ers.Entity, def T) (T, error) {
	v, ok, err := p.Get(e)
	if err != nil || !ok {
		return def, err
	}
	return v, nil
}

func (p Property[T]) Set(e ers.Entity, v T) (bool, error) {
	if err := p.Type.check(p.String(), e); err != nil {
		return false, err
	}
	return e.SetProperty(p.Name, codec.Encode(p.Binding, v))
}

func (p Property[T]) Delete(e ers.Entity) (bool, error) {
	if err := p.Type.check(p.String(), e); err != nil {
		return false, err
	}
	return e.DeleteProperty(p.Name)
}

func (p Property[T]) Find(txn ers.Txn, v T, mode ers.CompareMode) ers.Iterable {
	return txn.Find(p.Type.Name, p.Name, codec.Encode(p.Binding, v), mode)
}

func (p Property[T]) FindEq(txn ers.Txn, v T) ers.Iterable {
	return p.Find(txn, v, ers.Eq)
}

// First returns one entity whose property equals v, or nil.
func (p Property[T]) First(txn ers.Txn, v T) (ers.Entity, error) {
	for e, err := range p.FindEq(txn, v).Entities() {
		return e, err
	}
	return nil, nil
}

// Blob is an unindexed value of type T.
type Blob[T any] struct {
	Type    EntityType
	Name    string
	Binding codec.Binding[T]
}

func NewBlob[T any](typ EntityType, name string, b codec.Binding[T]) Blob[T] {
	return Blob[T]{typ, name, b}
}

func (b Blob[T]) String() string { return b.Type.Name + "." + b.Name }

func (b Blob[T]) Get(e ers.Entity) (T, bool, error) {
	var zero T
	if err := b.Type.check(b.String(), e); err != nil {
		return zero, false, err
	}
	raw, err := e.Blob(b.Name)
	if err != nil || raw == nil {
		return zero, false, err
	}
	v, err := b.Binding.Decode(raw)
	if err != nil {
		return zero, false, fmt.Errorf("%s of %v: %w", b, e.ID(), err)
	}
	return v, true, nil
}

func (b Blob[T]) Set(e ers.Entity, v T) error {
	if err := b.Type.check(b.String(), e); err != nil {
		return err
	}
	return e.SetBlob(b.Name, codec.Encode(b.Binding, v))
}

func (b Blob[T]) Delete(e ers.Entity) (bool, error) {
	if err := b.Type.check(b.String(), e); err != nil {
		return false, err
	}
	return e.DeleteBlob(b.Name)
}

// Link connects entities of type From to entities of type To.
type Link struct {
	From EntityType
	Name string
	To   EntityType
}

func NewLink(from EntityType, name string, to EntityType) Link {
	return Link{from, name, to}
}

func (l Link) String() string { return l.From.Name + "." + l.Name }

func (l Link) check(src, dst ers.Entity) error {
	if err := l.From.check(l.String(), src); err != nil {
		return err
	}
	if dst != nil {
		return l.To.check(l.String(), dst)
	}
	return nil
}

func (l Link) Add(src, dst ers.Entity) (bool, error) {
	if err := l.check(src, dst); err != nil {
		return false, err
	}
	return src.AddLink(l.Name, dst)
}

func (l Link) Remove(src, dst ers.Entity) (bool, error) {
	if err := l.check(src, dst); err != nil {
		return false, err
	}
	return src.DeleteLink(l.Name, dst)
}

// Set makes dst the only target of src.
func (l Link) Set(src, dst ers.Entity) error {
	if err := l.check(src, dst); err != nil {
		return err
	}
	if err := src.DeleteLinks(l.Name); err != nil {
		return err
	}
	_, err := src.AddLink(l.Name, dst)
	return err
}

func (l Link) Clear(src ers.Entity) error {
	if err := l.check(src, nil); err != nil {
		return err
	}
	return src.DeleteLinks(l.Name)
}

func (l Link) Targets(src ers.Entity) ers.Iterable {
	if err := l.check(src, nil); err != nil {
		return ers.Failed(err)
	}
	return src.Links(l.Name)
}

// Target returns the first target of src, or nil.
func (l Link) Target(src ers.Entity) (ers.Entity, error) {
	for e, err := range l.Targets(src).Entities() {
		return e, err
	}
	return nil, nil
}

// Sources yields the entities of type From that link to dst, in ascending id
// order.
func (l Link) Sources(dst ers.Entity) ers.Iterable {
	if err := l.To.check(l.String(), dst); err != nil {
		return ers.Failed(err)
	}
	return ers.SortedFunc(func(yield func(ers.Entity, error) bool) {
		for e, err := range dst.IncomingLinks(l.Name).Entities() {
			if err != nil {
				yield(nil, err)
				return
			}
			if l.From.Is(e) && !yield(e, nil) {
				return
			}
		}
	})
}
