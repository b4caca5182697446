package kv

import "bytes"

// namedMap is the access strategy of one named map: unique keys, native
// duplicate keys, or duplicate keys emulated through composite keys.
type namedMap interface {
	get(key []byte) ([]byte, bool, error)
	put(key, value []byte) (bool, error)
	deleteKey(key []byte) (int, error)
	deletePair(key, value []byte) (bool, error)
	cursor() rawCursor
	// seekKey maps a user key to the engine key that Navigate seeks to.
	seekKey(key []byte) []byte
	decode(k, v []byte) (key, value []byte, err error)
	stats() (MapStats, error)
	duplicates() bool
}

func newNamedMap(b rawBucket, dup bool) namedMap {
	if !dup {
		return uniqueMap{b}
	}
	if mb, ok := b.(multiBucket); ok {
		return nativeMultiMap{mb}
	}
	return compositeMap{b}
}

type uniqueMap struct {
	b rawBucket
}

func (m uniqueMap) duplicates() bool { return false }

func (m uniqueMap) get(key []byte) ([]byte, bool, error) {
	return m.b.Get(key)
}

func (m uniqueMap) put(key, value []byte) (bool, error) {
	old, found, err := m.b.Get(key)
	if err != nil {
		return false, err
	}
	if found && bytes.Equal(old, value) {
		return false, nil
	}
	if value == nil {
		value = []byte{}
	}
	return true, m.b.Put(key, value)
}

func (m uniqueMap) deleteKey(key []byte) (int, error) {
	_, found, err := m.b.Get(key)
	if err != nil || !found {
		return 0, err
	}
	return 1, m.b.Delete(key)
}

func (m uniqueMap) deletePair(key, value []byte) (bool, error) {
	old, found, err := m.b.Get(key)
	if err != nil || !found || !bytes.Equal(old, value) {
		return false, err
	}
	return true, m.b.Delete(key)
}

func (m uniqueMap) cursor() rawCursor                          { return m.b.Cursor() }
func (m uniqueMap) seekKey(key []byte) []byte                  { return key }
func (m uniqueMap) decode(k, v []byte) ([]byte, []byte, error) { return k, v, nil }
func (m uniqueMap) stats() (MapStats, error)                   { return m.b.Stats() }

type nativeMultiMap struct {
	b multiBucket
}

func (m nativeMultiMap) duplicates() bool { return true }

func (m nativeMultiMap) get(key []byte) ([]byte, bool, error) {
	return m.b.Get(key)
}

func (m nativeMultiMap) put(key, value []byte) (bool, error) {
	return m.b.PutPair(key, value)
}

func (m nativeMultiMap) deleteKey(key []byte) (int, error) {
	return m.b.DeleteKey(key)
}

func (m nativeMultiMap) deletePair(key, value []byte) (bool, error) {
	return m.b.DeletePair(key, value)
}

func (m nativeMultiMap) cursor() rawCursor                          { return m.b.Cursor() }
func (m nativeMultiMap) seekKey(key []byte) []byte                  { return key }
func (m nativeMultiMap) decode(k, v []byte) ([]byte, []byte, error) { return k, v, nil }
func (m nativeMultiMap) stats() (MapStats, error)                   { return m.b.Stats() }

type compositeMap struct {
	b rawBucket
}

func (m compositeMap) duplicates() bool { return true }

// get returns the smallest value stored under key.
func (m compositeMap) get(key []byte) ([]byte, bool, error) {
	prefix := compositePrefix(key)
	c := m.b.Cursor()
	defer c.Close()
	k, _ := c.Seek(prefix)
	if k == nil || !bytes.HasPrefix(k, prefix) {
		return nil, false, c.Err()
	}
	return cloneBytes(k[len(prefix):]), true, nil
}

func (m compositeMap) put(key, value []byte) (bool, error) {
	ck := compositeKey(key, value)
	_, found, err := m.b.Get(ck)
	if err != nil || found {
		return false, err
	}
	return true, m.b.Put(ck, compositeMarker)
}

// deleteKey collects the affected keys first; engines don't allow deleting
// under a live cursor uniformly.
func (m compositeMap) deleteKey(key []byte) (int, error) {
	prefix := compositePrefix(key)
	var keys [][]byte
	c := m.b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, cloneBytes(k))
	}
	err := c.Err()
	c.Close()
	if err != nil {
		return 0, err
	}
	for _, k := range keys {
		if err := m.b.Delete(k); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

func (m compositeMap) deletePair(key, value []byte) (bool, error) {
	ck := compositeKey(key, value)
	_, found, err := m.b.Get(ck)
	if err != nil || !found {
		return false, err
	}
	return true, m.b.Delete(ck)
}

func (m compositeMap) cursor() rawCursor         { return m.b.Cursor() }
func (m compositeMap) seekKey(key []byte) []byte { return compositePrefix(key) }
func (m compositeMap) stats() (MapStats, error)  { return m.b.Stats() }

func (m compositeMap) decode(k, _ []byte) ([]byte, []byte, error) {
	return splitCompositeKey(k)
}
