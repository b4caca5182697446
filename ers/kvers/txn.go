package kvers

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"

	"github.com/andreyvit/ersdb/bag"
	"github.com/andreyvit/ersdb/codec"
	"github.com/andreyvit/ersdb/ers"
	"github.com/andreyvit/ersdb/kv"
	"github.com/andreyvit/ersdb/symbols"
)

type txn struct {
	store *Store
	tx    *kv.Tx

	// unsaved holds the ids of pending symbols this transaction has used.
	unsaved map[int64]struct{}

	gen           uint64
	schemaChanged bool
}

var _ ers.Txn = (*txn)(nil)
var _ ers.Introspector = (*txn)(nil)

func (t *txn) Store() ers.Store { return t.store }
func (t *txn) Readonly() bool   { return !t.tx.Writable() }
func (t *txn) Finished() bool   { return t.tx.Finished() }

// KV returns the underlying kv transaction.
func (t *txn) KV() *kv.Tx { return t.tx }

func (t *txn) Context() bag.Bag {
	return bag.New(
		bag.Tx, t.tx,
		bag.Storage, t.store.storage,
		bag.Interner, t.store.symbols,
		ers.TxnKey, ers.Txn(t),
	)
}

// typeID resolves a type name. Unless create is set, unknown names report
// false instead of allocating an id.
func (t *txn) typeID(typ string, create bool) (int32, bool, error) {
	id, ok := t.nameID(typ, create)
	if !ok {
		return 0, false, nil
	}
	if id > math.MaxInt32 {
		return 0, false, fmt.Errorf("%w: kvers: type id %d of %q does not fit int32", ers.ErrStorage, id, typ)
	}
	return int32(id), true, nil
}

func (t *txn) nameID(name string, create bool) (int64, bool) {
	if create {
		id := t.store.symbols.FindOrNew(name)
		t.use(id)
		return id, true
	}
	id, ok := t.store.symbols.Find(name)
	if ok {
		t.use(id)
	}
	return id, ok
}

// use notes that the transaction may write data referring to symbol id.
func (t *txn) use(id int64) {
	if !t.store.durable || !t.tx.Writable() || !t.store.symbols.IsPending(id) {
		return
	}
	if t.unsaved == nil {
		t.unsaved = make(map[int64]struct{})
	}
	t.unsaved[id] = struct{}{}
}

func (t *txn) typeName(typeID int32) string {
	name, ok := t.store.symbols.Symbol(int64(typeID))
	if !ok {
		return fmt.Sprintf("#%d", typeID)
	}
	return name
}

func (t *txn) mapName(prefix string, typeID int32, nameID int64) string {
	return mapKey{prefix, typeID, nameID}.String()
}

func (t *txn) remember(key []byte) error {
	changed, err := t.tx.Put(schemaMap, key, nil)
	if changed {
		t.schemaChanged = true
	}
	return err
}

func (t *txn) NewEntity(typ string) (ers.Entity, error) {
	if t.Readonly() {
		return nil, kv.ErrReadonly
	}
	typeID, _, err := t.typeID(typ, true)
	if err != nil {
		return nil, err
	}
	if err := t.remember(typeSchemaKey(typ)); err != nil {
		return nil, err
	}
	seqKey := codec.Encode(codec.Int32, typeID)
	var last int64
	if raw, err := t.tx.Get(seqMap, seqKey); err != nil {
		return nil, err
	} else if raw != nil {
		if last, err = codec.Int64.Decode(raw); err != nil {
			return nil, err
		}
	}
	id := ers.EntityID{TypeID: typeID, InstanceID: last + 1}
	if _, err := t.tx.Put(seqMap, seqKey, codec.Encode(codec.Int64, id.InstanceID)); err != nil {
		return nil, err
	}
	e := t.entity(id)
	if _, err := t.tx.Put(t.mapName(entitiesPrefix, typeID, 0), e.key, nil); err != nil {
		return nil, err
	}
	return e, nil
}

func (t *txn) entity(id ers.EntityID) *entity {
	t.use(int64(id.TypeID))
	return &entity{txn: t, id: id, key: instanceKey(id.InstanceID)}
}

func (t *txn) Entity(id ers.EntityID) (ers.Entity, error) {
	e := t.entity(id)
	ok, err := e.Exists()
	if err != nil || !ok {
		return nil, err
	}
	return e, nil
}

func (t *txn) EntityUnsafe(id ers.EntityID) ers.Entity {
	return t.entity(id)
}

func (t *txn) All(typ string) ers.Iterable {
	return ers.SortedFunc(func(yield func(ers.Entity, error) bool) {
		typeID, ok, err := t.typeID(typ, false)
		if err != nil || !ok {
			if err != nil {
				yield(nil, err)
			}
			return
		}
		c, err := t.tx.Navigate(t.mapName(entitiesPrefix, typeID, 0), nil)
		if err != nil {
			yield(nil, err)
			return
		}
		defer c.Close()
		for c.Next() {
			inst, err := codec.CompressedInt64.Decode(c.Key())
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(t.entity(ers.EntityID{TypeID: typeID, InstanceID: inst}), nil) {
				return
			}
		}
		if err := c.Err(); err != nil {
			yield(nil, err)
		}
	})
}

func (t *txn) Find(typ, property string, value []byte, mode ers.CompareMode) ers.Iterable {
	value = append([]byte(nil), value...)
	scan := func(yield func(ers.Entity, error) bool) {
		typeID, ok, err := t.typeID(typ, false)
		if err != nil || !ok {
			if err != nil {
				yield(nil, err)
			}
			return
		}
		propID, ok := t.nameID(property, false)
		if !ok {
			return
		}
		var start []byte
		switch mode {
		case ers.Eq, ers.Gt, ers.EqOrGt:
			start = value
		}
		c, err := t.tx.Navigate(t.mapName(indexPrefix, typeID, propID), start)
		if err != nil {
			yield(nil, err)
			return
		}
		defer c.Close()
		for c.Next() {
			if mode.Before(c.Key(), value) {
				continue
			}
			if mode.Past(c.Key(), value) {
				return
			}
			inst, err := codec.CompressedInt64.Decode(c.Value())
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(t.entity(ers.EntityID{TypeID: typeID, InstanceID: inst}), nil) {
				return
			}
		}
		if err := c.Err(); err != nil {
			yield(nil, err)
		}
	}
	if mode == ers.Eq {
		return ers.SortedFunc(scan)
	}
	return ers.IterableFunc(scan)
}

// names lists the schema records under prefix. Listings are shared through
// the store's schema cache while no schema change is in flight.
func (t *txn) names(prefix []byte) ([]string, error) {
	cacheable := !t.schemaChanged && t.store.schemaStable(t.gen)
	if cacheable {
		if e, ok := t.store.schema.Get(string(prefix)); ok && e.gen == t.gen {
			return slices.Clone(e.names), nil
		}
	}
	result, err := t.scanNames(prefix)
	if err != nil {
		return nil, err
	}
	if cacheable && t.store.schemaStable(t.gen) {
		t.store.schema.Put(string(prefix), schemaNames{t.gen, slices.Clone(result)})
	}
	return result, nil
}

func (t *txn) scanNames(prefix []byte) ([]string, error) {
	c, err := t.tx.Navigate(schemaMap, prefix)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	var result []string
	for c.Next() && hasPrefix(c.Key(), prefix) {
		result = append(result, string(c.Key()[len(prefix):]))
	}
	return result, c.Err()
}

func (t *txn) typeNames(kind byte, typ string) ([]string, error) {
	typeID, ok, err := t.typeID(typ, false)
	if err != nil || !ok {
		return nil, err
	}
	return t.names(schemaPrefix(kind, typeID))
}

func (t *txn) EntityTypes() ([]string, error) {
	return t.names([]byte{kindType})
}

func (t *txn) PropertyNames(typ string) ([]string, error) {
	return t.typeNames(kindProperty, typ)
}

func (t *txn) BlobNames(typ string) ([]string, error) {
	return t.typeNames(kindBlob, typ)
}

func (t *txn) LinkNames(typ string) ([]string, error) {
	return t.typeNames(kindLink, typ)
}

// DropAll removes every entity and the schema. Interned symbols are kept, so
// ids handed out earlier stay valid.
func (t *txn) DropAll() error {
	t.schemaChanged = true
	names, err := t.tx.MapNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == symbols.MapName {
			continue
		}
		if err := t.tx.DropMap(name); err != nil {
			return err
		}
	}
	t.store.logger.LogAttrs(context.Background(), slog.LevelDebug, "kvers: dropped all", slog.Int("maps", len(names)))
	return nil
}

// Commit writes the pending symbols the transaction has used, then commits.
func (t *txn) Commit() (bool, error) {
	if len(t.unsaved) > 0 && !t.tx.Finished() {
		ids := slices.Sorted(maps.Keys(t.unsaved))
		if err := t.store.symbols.Persist(t.tx, ids); err != nil {
			t.tx.Abort()
			return false, err
		}
	}
	if t.schemaChanged {
		t.store.beginSchemaChange()
		defer t.store.endSchemaChange()
	}
	return t.tx.Commit()
}

func (t *txn) Abort() {
	t.tx.Abort()
}
