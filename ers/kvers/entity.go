package kvers

import (
	"bytes"

	"github.com/andreyvit/ersdb/ers"
)

type entity struct {
	txn *txn
	id  ers.EntityID
	key []byte
}

var _ ers.Entity = (*entity)(nil)

func (e *entity) ID() ers.EntityID { return e.id }
func (e *entity) Type() string     { return e.txn.typeName(e.id.TypeID) }
func (e *entity) Txn() ers.Txn     { return e.txn }

func (e *entity) String() string {
	return e.Type() + "#" + e.id.String()
}

func (e *entity) mapName(prefix string, nameID int64) string {
	return e.txn.mapName(prefix, e.id.TypeID, nameID)
}

func (e *entity) Exists() (bool, error) {
	v, err := e.txn.tx.Get(e.mapName(entitiesPrefix, 0), e.key)
	return v != nil, err
}

func (e *entity) Property(name string) ([]byte, error) {
	propID, ok := e.txn.nameID(name, false)
	if !ok {
		return nil, nil
	}
	return e.txn.tx.Get(e.mapName(propsPrefix, 0), rowKey(e.id.InstanceID, propID))
}

// SetProperty stores value and moves the entity to the matching index entry.
func (e *entity) SetProperty(name string, value []byte) (bool, error) {
	tx := e.txn.tx
	propID, _ := e.txn.nameID(name, true)
	if err := e.txn.remember(schemaKey(kindProperty, e.id.TypeID, name)); err != nil {
		return false, err
	}
	if value == nil {
		value = []byte{}
	}
	row := rowKey(e.id.InstanceID, propID)
	propsMap, indexMap := e.mapName(propsPrefix, 0), e.mapName(indexPrefix, propID)
	old, err := tx.Get(propsMap, row)
	if err != nil {
		return false, err
	}
	if old != nil {
		if bytes.Equal(old, value) {
			return false, nil
		}
		if _, err := tx.DeleteValue(indexMap, old, e.key); err != nil {
			return false, err
		}
	}
	if _, err := tx.Put(propsMap, row, value); err != nil {
		return false, err
	}
	if _, err := tx.Put(indexMap, value, e.key); err != nil {
		return false, err
	}
	return true, nil
}

func (e *entity) DeleteProperty(name string) (bool, error) {
	propID, ok := e.txn.nameID(name, false)
	if !ok {
		return false, nil
	}
	return e.deleteProperty(propID)
}

func (e *entity) deleteProperty(propID int64) (bool, error) {
	tx := e.txn.tx
	row := rowKey(e.id.InstanceID, propID)
	propsMap := e.mapName(propsPrefix, 0)
	old, err := tx.Get(propsMap, row)
	if err != nil || old == nil {
		return false, err
	}
	if _, err := tx.Delete(propsMap, row); err != nil {
		return false, err
	}
	if _, err := tx.DeleteValue(e.mapName(indexPrefix, propID), old, e.key); err != nil {
		return false, err
	}
	return true, nil
}

func (e *entity) Blob(name string) ([]byte, error) {
	blobID, ok := e.txn.nameID(name, false)
	if !ok {
		return nil, nil
	}
	return e.txn.tx.Get(e.mapName(blobsPrefix, 0), rowKey(e.id.InstanceID, blobID))
}

func (e *entity) SetBlob(name string, value []byte) error {
	blobID, _ := e.txn.nameID(name, true)
	if err := e.txn.remember(schemaKey(kindBlob, e.id.TypeID, name)); err != nil {
		return err
	}
	_, err := e.txn.tx.Put(e.mapName(blobsPrefix, 0), rowKey(e.id.InstanceID, blobID), value)
	return err
}

func (e *entity) DeleteBlob(name string) (bool, error) {
	blobID, ok := e.txn.nameID(name, false)
	if !ok {
		return false, nil
	}
	return e.txn.tx.Delete(e.mapName(blobsPrefix, 0), rowKey(e.id.InstanceID, blobID))
}

// Links yields link targets in ascending id order.
func (e *entity) Links(name string) ers.Iterable {
	return e.linkedEntities(linksPrefix, name)
}

// IncomingLinks yields link sources in ascending id order, read from the
// reverse link map of this entity's type.
func (e *entity) IncomingLinks(name string) ers.Iterable {
	return e.linkedEntities(reversePrefix, name)
}

func (e *entity) linkedEntities(prefix, name string) ers.Iterable {
	return ers.SortedFunc(func(yield func(ers.Entity, error) bool) {
		linkID, ok := e.txn.nameID(name, false)
		if !ok {
			return
		}
		for id, err := range e.linked(e.mapName(prefix, linkID)) {
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(e.txn.entity(id), nil) {
				return
			}
		}
	})
}

// linked walks the entity ids stored under this entity's key in a link or
// reverse link map.
func (e *entity) linked(mapName string) func(yield func(ers.EntityID, error) bool) {
	return func(yield func(ers.EntityID, error) bool) {
		c, err := e.txn.tx.Navigate(mapName, e.key)
		if err != nil {
			yield(ers.EntityID{}, err)
			return
		}
		defer c.Close()
		for c.Next() && bytes.Equal(c.Key(), e.key) {
			id, err := decodeEntityValue(c.Value())
			if !yield(id, err) || err != nil {
				return
			}
		}
		if err := c.Err(); err != nil {
			yield(ers.EntityID{}, err)
		}
	}
}

func (e *entity) AddLink(name string, target ers.Entity) (bool, error) {
	tx := e.txn.tx
	linkID, _ := e.txn.nameID(name, true)
	tid := target.ID()
	e.txn.use(int64(tid.TypeID))
	if err := e.txn.remember(schemaKey(kindLink, e.id.TypeID, name)); err != nil {
		return false, err
	}
	if err := e.txn.remember(schemaKey(kindIncoming, tid.TypeID, name)); err != nil {
		return false, err
	}
	changed, err := tx.Put(e.mapName(linksPrefix, linkID), e.key, entityValue(tid))
	if err != nil || !changed {
		return false, err
	}
	_, err = tx.Put(e.txn.mapName(reversePrefix, tid.TypeID, linkID), instanceKey(tid.InstanceID), entityValue(e.id))
	return err == nil, err
}

func (e *entity) DeleteLink(name string, target ers.Entity) (bool, error) {
	linkID, ok := e.txn.nameID(name, false)
	if !ok {
		return false, nil
	}
	return e.unlink(linkID, e.id, target.ID())
}

func (e *entity) unlink(linkID int64, source, target ers.EntityID) (bool, error) {
	tx := e.txn.tx
	deleted, err := tx.DeleteValue(e.txn.mapName(linksPrefix, source.TypeID, linkID), instanceKey(source.InstanceID), entityValue(target))
	if err != nil || !deleted {
		return false, err
	}
	_, err = tx.DeleteValue(e.txn.mapName(reversePrefix, target.TypeID, linkID), instanceKey(target.InstanceID), entityValue(source))
	return err == nil, err
}

func (e *entity) DeleteLinks(name string) error {
	linkID, ok := e.txn.nameID(name, false)
	if !ok {
		return nil
	}
	return e.deleteLinks(linkID)
}

func (e *entity) collect(mapName string) ([]ers.EntityID, error) {
	var ids []ers.EntityID
	for id, err := range e.linked(mapName) {
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (e *entity) deleteLinks(linkID int64) error {
	targets, err := e.collect(e.mapName(linksPrefix, linkID))
	if err != nil {
		return err
	}
	for _, target := range targets {
		if _, err := e.unlink(linkID, e.id, target); err != nil {
			return err
		}
	}
	return nil
}

func (e *entity) deleteIncoming(linkID int64) error {
	sources, err := e.collect(e.mapName(reversePrefix, linkID))
	if err != nil {
		return err
	}
	for _, source := range sources {
		if _, err := e.unlink(linkID, source, e.id); err != nil {
			return err
		}
	}
	return nil
}

// rows returns the name ids of the rows this entity has in a props or blobs
// map.
func (e *entity) rows(mapName string) ([]int64, error) {
	c, err := e.txn.tx.Navigate(mapName, e.key)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	var ids []int64
	for c.Next() && hasPrefix(c.Key(), e.key) {
		id, err := rowName(c.Key(), e.key)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, c.Err()
}

func (e *entity) Delete() error {
	tx := e.txn.tx
	props, err := e.rows(e.mapName(propsPrefix, 0))
	if err != nil {
		return err
	}
	for _, propID := range props {
		if _, err := e.deleteProperty(propID); err != nil {
			return err
		}
	}

	blobsMap := e.mapName(blobsPrefix, 0)
	blobs, err := e.rows(blobsMap)
	if err != nil {
		return err
	}
	for _, blobID := range blobs {
		if _, err := tx.Delete(blobsMap, rowKey(e.id.InstanceID, blobID)); err != nil {
			return err
		}
	}

	for _, kind := range []byte{kindLink, kindIncoming} {
		names, err := e.txn.names(schemaPrefix(kind, e.id.TypeID))
		if err != nil {
			return err
		}
		for _, name := range names {
			linkID, ok := e.txn.nameID(name, false)
			if !ok {
				continue
			}
			if kind == kindLink {
				err = e.deleteLinks(linkID)
			} else {
				err = e.deleteIncoming(linkID)
			}
			if err != nil {
				return err
			}
		}
	}

	_, err = tx.Delete(e.mapName(entitiesPrefix, 0), e.key)
	return err
}
