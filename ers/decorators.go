package ers

import (
	"iter"

	"github.com/andreyvit/ersdb/bag"
)

// Decorate wraps txn so that every iterable obtained through it, directly or
// via its entities, is recomputed on each use, and every call is checked.
// Recomputing is applied first and Checked outermost.
func Decorate(txn Txn) Txn {
	return Check(recompute(txn))
}

// Decorated returns a store whose transactions are decorated.
func Decorated(store Store) Store {
	if _, ok := store.(decoratedStore); ok {
		return store
	}
	return decoratedStore{store}
}

type decoratedStore struct {
	Store
}

func (s decoratedStore) Delegate() Store { return s.Store }

func (s decoratedStore) Begin(readonly bool) (Txn, error) {
	txn, err := s.Store.Begin(readonly)
	if err != nil {
		return nil, err
	}
	return Decorate(txn), nil
}

// Recompute returns an iterable that calls factory at the start of every
// pass, so a query reused after intervening writes sees their effect.
func Recompute(factory func() Iterable) Iterable {
	return recomputed{factory}
}

type recomputed struct {
	factory func() Iterable
}

func (r recomputed) Entities() iter.Seq2[Entity, error] {
	return func(yield func(Entity, error) bool) {
		for e, err := range r.factory().Entities() {
			if !yield(e, err) {
				return
			}
		}
	}
}

func (r recomputed) Ascending() bool {
	return isSorted(r.factory())
}

type recomputingTxn struct {
	Txn
}

func recompute(txn Txn) Txn {
	if _, ok := txn.(*recomputingTxn); ok {
		return txn
	}
	return &recomputingTxn{txn}
}

func (t *recomputingTxn) Delegate() Txn { return t.Txn }

func (t *recomputingTxn) Context() bag.Bag {
	return t.Txn.Context().With(TxnKey, t)
}

func (t *recomputingTxn) wrap(e Entity) Entity {
	if e == nil {
		return nil
	}
	return &recomputingEntity{e, t}
}

func (t *recomputingTxn) NewEntity(typ string) (Entity, error) {
	e, err := t.Txn.NewEntity(typ)
	return t.wrap(e), err
}

func (t *recomputingTxn) Entity(id EntityID) (Entity, error) {
	e, err := t.Txn.Entity(id)
	return t.wrap(e), err
}

func (t *recomputingTxn) EntityUnsafe(id EntityID) Entity {
	return t.wrap(t.Txn.EntityUnsafe(id))
}

func (t *recomputingTxn) iterable(factory func() Iterable) Iterable {
	return Recompute(func() Iterable {
		inner := factory()
		f := func(yield func(Entity, error) bool) {
			for e, err := range inner.Entities() {
				if !yield(t.wrap(e), err) {
					return
				}
			}
		}
		if isSorted(inner) {
			return SortedFunc(f)
		}
		return IterableFunc(f)
	})
}

func (t *recomputingTxn) All(typ string) Iterable {
	return t.iterable(func() Iterable { return t.Txn.All(typ) })
}

func (t *recomputingTxn) Find(typ, property string, value []byte, mode CompareMode) Iterable {
	value = append([]byte(nil), value...)
	return t.iterable(func() Iterable { return t.Txn.Find(typ, property, value, mode) })
}

func (t *recomputingTxn) EntityTypes() ([]string, error) { return EntityTypes(t.Txn) }
func (t *recomputingTxn) PropertyNames(typ string) ([]string, error) {
	return PropertyNames(t.Txn, typ)
}
func (t *recomputingTxn) BlobNames(typ string) ([]string, error) { return BlobNames(t.Txn, typ) }
func (t *recomputingTxn) LinkNames(typ string) ([]string, error) { return LinkNames(t.Txn, typ) }

type recomputingEntity struct {
	Entity
	txn *recomputingTxn
}

func (e *recomputingEntity) Delegate() Entity { return e.Entity }
func (e *recomputingEntity) Txn() Txn         { return e.txn }

func (e *recomputingEntity) Links(name string) Iterable {
	return e.txn.iterable(func() Iterable { return e.Entity.Links(name) })
}

func (e *recomputingEntity) IncomingLinks(name string) Iterable {
	return e.txn.iterable(func() Iterable { return e.Entity.IncomingLinks(name) })
}

// Check wraps txn so that any use after it finishes fails with
// ErrTxFinished, and any use of an entity that no longer exists fails with
// *NonExistingEntityError. AddLink also requires the target to exist.
func Check(txn Txn) Txn {
	if _, ok := txn.(*checkedTxn); ok {
		return txn
	}
	return &checkedTxn{inner: txn}
}

type checkedTxn struct {
	inner Txn
}

func (t *checkedTxn) Delegate() Txn { return t.inner }

func (t *checkedTxn) check() error {
	if t.inner.Finished() {
		return ErrTxFinished
	}
	return nil
}

func (t *checkedTxn) wrap(e Entity) Entity {
	if e == nil {
		return nil
	}
	return &checkedEntity{inner: e, txn: t}
}

func (t *checkedTxn) iterable(inner func() Iterable) Iterable {
	return Recompute(func() Iterable {
		if err := t.check(); err != nil {
			return Failed(err)
		}
		it := inner()
		f := func(yield func(Entity, error) bool) {
			for e, err := range it.Entities() {
				if err == nil {
					err = t.check()
				}
				if err != nil {
					yield(nil, err)
					return
				}
				if !yield(t.wrap(e), nil) {
					return
				}
			}
		}
		if isSorted(it) {
			return SortedFunc(f)
		}
		return IterableFunc(f)
	})
}

func (t *checkedTxn) Store() Store     { return t.inner.Store() }
func (t *checkedTxn) Readonly() bool   { return t.inner.Readonly() }
func (t *checkedTxn) Finished() bool   { return t.inner.Finished() }
func (t *checkedTxn) Context() bag.Bag { return t.inner.Context().With(TxnKey, t) }

func (t *checkedTxn) NewEntity(typ string) (Entity, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	e, err := t.inner.NewEntity(typ)
	return t.wrap(e), err
}

func (t *checkedTxn) Entity(id EntityID) (Entity, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	e, err := t.inner.Entity(id)
	return t.wrap(e), err
}

func (t *checkedTxn) EntityUnsafe(id EntityID) Entity {
	return t.wrap(t.inner.EntityUnsafe(id))
}

func (t *checkedTxn) All(typ string) Iterable {
	return t.iterable(func() Iterable { return t.inner.All(typ) })
}

func (t *checkedTxn) Find(typ, property string, value []byte, mode CompareMode) Iterable {
	return t.iterable(func() Iterable { return t.inner.Find(typ, property, value, mode) })
}

func (t *checkedTxn) EntityTypes() ([]string, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return EntityTypes(t.inner)
}

func (t *checkedTxn) PropertyNames(typ string) ([]string, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return PropertyNames(t.inner, typ)
}

func (t *checkedTxn) BlobNames(typ string) ([]string, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return BlobNames(t.inner, typ)
}

func (t *checkedTxn) LinkNames(typ string) ([]string, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return LinkNames(t.inner, typ)
}

func (t *checkedTxn) DropAll() error {
	if err := t.check(); err != nil {
		return err
	}
	return t.inner.DropAll()
}

func (t *checkedTxn) Commit() (bool, error) {
	if err := t.check(); err != nil {
		return false, err
	}
	return t.inner.Commit()
}

func (t *checkedTxn) Abort() {
	t.inner.Abort()
}

type checkedEntity struct {
	inner Entity
	txn   *checkedTxn
}

func (e *checkedEntity) Delegate() Entity { return e.inner }
func (e *checkedEntity) ID() EntityID     { return e.inner.ID() }
func (e *checkedEntity) Type() string     { return e.inner.Type() }
func (e *checkedEntity) Txn() Txn         { return e.txn }

func (e *checkedEntity) Exists() (bool, error) {
	if err := e.txn.check(); err != nil {
		return false, err
	}
	return e.inner.Exists()
}

func (e *checkedEntity) live() error {
	return mustExist(e.inner, e.txn)
}

func mustExist(e Entity, txn *checkedTxn) error {
	if err := txn.check(); err != nil {
		return err
	}
	ok, err := e.Exists()
	if err != nil {
		return err
	}
	if !ok {
		return &NonExistingEntityError{ID: e.ID()}
	}
	return nil
}

func (e *checkedEntity) Property(name string) ([]byte, error) {
	if err := e.live(); err != nil {
		return nil, err
	}
	return e.inner.Property(name)
}

func (e *checkedEntity) SetProperty(name string, value []byte) (bool, error) {
	if err := e.live(); err != nil {
		return false, err
	}
	return e.inner.SetProperty(name, value)
}

func (e *checkedEntity) DeleteProperty(name string) (bool, error) {
	if err := e.live(); err != nil {
		return false, err
	}
	return e.inner.DeleteProperty(name)
}

func (e *checkedEntity) Blob(name string) ([]byte, error) {
	if err := e.live(); err != nil {
		return nil, err
	}
	return e.inner.Blob(name)
}

func (e *checkedEntity) SetBlob(name string, value []byte) error {
	if err := e.live(); err != nil {
		return err
	}
	return e.inner.SetBlob(name, value)
}

func (e *checkedEntity) DeleteBlob(name string) (bool, error) {
	if err := e.live(); err != nil {
		return false, err
	}
	return e.inner.DeleteBlob(name)
}

func (e *checkedEntity) Links(name string) Iterable {
	return e.txn.iterable(func() Iterable {
		if err := e.live(); err != nil {
			return Failed(err)
		}
		return e.inner.Links(name)
	})
}

func (e *checkedEntity) IncomingLinks(name string) Iterable {
	return e.txn.iterable(func() Iterable {
		if err := e.live(); err != nil {
			return Failed(err)
		}
		return e.inner.IncomingLinks(name)
	})
}

func (e *checkedEntity) AddLink(name string, target Entity) (bool, error) {
	if err := e.live(); err != nil {
		return false, err
	}
	if err := mustExist(target, e.txn); err != nil {
		return false, err
	}
	return e.inner.AddLink(name, target)
}

func (e *checkedEntity) DeleteLink(name string, target Entity) (bool, error) {
	if err := e.live(); err != nil {
		return false, err
	}
	return e.inner.DeleteLink(name, target)
}

func (e *checkedEntity) DeleteLinks(name string) error {
	if err := e.live(); err != nil {
		return err
	}
	return e.inner.DeleteLinks(name)
}

func (e *checkedEntity) Delete() error {
	if err := e.live(); err != nil {
		return err
	}
	return e.inner.Delete()
}
