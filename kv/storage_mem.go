package kv

import (
	"bytes"
	"maps"
	"slices"
	"sort"
	"sync"
)

// memStorage keeps maps as sorted slices. Transactions see the snapshot taken
// at begin; writers copy a map on first write and publish it on commit. A
// commit conflicts when another transaction has published any map this one
// wrote since it began.
type memStorage struct {
	mu      sync.Mutex
	buckets map[string]*memBucket
	closed  bool
}

func newMemStorage() rawStorage {
	return &memStorage{buckets: make(map[string]*memBucket)}
}

func (s *memStorage) BeginTx(writable bool) (rawTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStorageClosed
	}
	snap := maps.Clone(s.buckets)
	tx := &memTx{
		base:     s,
		writable: writable,
		orig:     snap,
		buckets:  snap,
	}
	if writable {
		tx.buckets = maps.Clone(snap)
		tx.dirty = make(map[string]bool)
	}
	return tx, nil
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buckets = nil
	return nil
}

type memTx struct {
	base     *memStorage
	writable bool
	orig     map[string]*memBucket
	buckets  map[string]*memBucket
	dirty    map[string]bool
	closed   bool
}

func (tx *memTx) Writable() bool { return tx.writable }

func (tx *memTx) Bucket(name string) (rawBucket, error) {
	if tx.closed {
		return nil, ErrTxFinished
	}
	if tx.buckets[name] == nil {
		return nil, nil
	}
	return memBucketHandle{tx: tx, name: name}, nil
}

func (tx *memTx) CreateBucket(name string) (rawBucket, error) {
	if tx.closed {
		return nil, ErrTxFinished
	}
	if !tx.writable {
		return nil, ErrReadonly
	}
	if tx.buckets[name] == nil {
		tx.buckets[name] = &memBucket{}
		tx.dirty[name] = true
	}
	return memBucketHandle{tx: tx, name: name}, nil
}

func (tx *memTx) DeleteBucket(name string) error {
	if tx.closed {
		return ErrTxFinished
	}
	if !tx.writable {
		return ErrReadonly
	}
	if tx.buckets[name] == nil {
		return ErrMapNotFound
	}
	delete(tx.buckets, name)
	tx.dirty[name] = true
	return nil
}

func (tx *memTx) BucketNames() ([]string, error) {
	return slices.Collect(maps.Keys(tx.buckets)), nil
}

func (tx *memTx) Commit() (bool, error) {
	if tx.closed {
		return false, ErrTxFinished
	}
	tx.closed = true
	if !tx.writable || len(tx.dirty) == 0 {
		return true, nil
	}
	s := tx.base
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrStorageClosed
	}
	for name := range tx.dirty {
		if s.buckets[name] != tx.orig[name] {
			return false, nil
		}
	}
	for name := range tx.dirty {
		if b := tx.buckets[name]; b != nil {
			s.buckets[name] = b
		} else {
			delete(s.buckets, name)
		}
	}
	return true, nil
}

func (tx *memTx) Rollback() {
	tx.closed = true
}

type memBucket struct {
	items []memKV // sorted by key, then by value
}

type memKV struct {
	key   []byte
	value []byte
}

func compareMemKV(a memKV, key, value []byte) int {
	if c := bytes.Compare(a.key, key); c != 0 {
		return c
	}
	return bytes.Compare(a.value, value)
}

// memBucketHandle resolves the bucket through the transaction on every call,
// so that copy-on-write replacement is transparent.
type memBucketHandle struct {
	tx   *memTx
	name string
}

var _ multiBucket = memBucketHandle{}

func (h memBucketHandle) items() []memKV {
	if b := h.tx.buckets[h.name]; b != nil {
		return b.items
	}
	return nil
}

func (h memBucketHandle) mutable() (*memBucket, error) {
	tx := h.tx
	if tx.closed {
		return nil, ErrTxFinished
	}
	if !tx.writable {
		return nil, ErrReadonly
	}
	b := tx.buckets[h.name]
	if b == nil {
		return nil, ErrMapNotFound
	}
	if !tx.dirty[h.name] {
		b = &memBucket{items: slices.Clone(b.items)}
		tx.buckets[h.name] = b
		tx.dirty[h.name] = true
	}
	return b, nil
}

// keyRange returns the [lo, hi) index range of items stored under key.
func keyRange(items []memKV, key []byte) (int, int) {
	lo := sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].key, key) >= 0
	})
	hi := lo
	for hi < len(items) && bytes.Equal(items[hi].key, key) {
		hi++
	}
	return lo, hi
}

func (h memBucketHandle) Get(key []byte) ([]byte, bool, error) {
	items := h.items()
	lo, hi := keyRange(items, key)
	if lo == hi {
		return nil, false, nil
	}
	return items[lo].value, true, nil
}

// Put replaces every value under key with value.
func (h memBucketHandle) Put(key, value []byte) error {
	b, err := h.mutable()
	if err != nil {
		return err
	}
	kv := memKV{key: cloneBytes(key), value: cloneBytes(value)}
	lo, hi := keyRange(b.items, key)
	b.items = slices.Replace(b.items, lo, hi, kv)
	return nil
}

func (h memBucketHandle) Delete(key []byte) error {
	_, err := h.DeleteKey(key)
	return err
}

func (h memBucketHandle) DeleteKey(key []byte) (int, error) {
	lo, hi := keyRange(h.items(), key)
	if lo == hi {
		return 0, nil
	}
	b, err := h.mutable()
	if err != nil {
		return 0, err
	}
	b.items = slices.Delete(b.items, lo, hi)
	return hi - lo, nil
}

func (h memBucketHandle) PutPair(key, value []byte) (bool, error) {
	b, err := h.mutable()
	if err != nil {
		return false, err
	}
	i, found := slices.BinarySearchFunc(b.items, memKV{key, value}, func(a, t memKV) int {
		return compareMemKV(a, t.key, t.value)
	})
	if found {
		return false, nil
	}
	b.items = slices.Insert(b.items, i, memKV{key: cloneBytes(key), value: cloneBytes(value)})
	return true, nil
}

func (h memBucketHandle) DeletePair(key, value []byte) (bool, error) {
	i, found := slices.BinarySearchFunc(h.items(), memKV{key, value}, func(a, t memKV) int {
		return compareMemKV(a, t.key, t.value)
	})
	if !found {
		return false, nil
	}
	b, err := h.mutable()
	if err != nil {
		return false, err
	}
	b.items = slices.Delete(b.items, i, i+1)
	return true, nil
}

func (h memBucketHandle) Cursor() rawCursor {
	return &memCursor{items: h.items(), pos: -1}
}

func (h memBucketHandle) Stats() (MapStats, error) {
	items := h.items()
	st := MapStats{Entries: len(items)}
	for _, kv := range items {
		st.KeyBytes += int64(len(kv.key))
		st.DataBytes += int64(len(kv.value))
	}
	st.Alloc = st.TotalBytes()
	return st, nil
}

// memCursor iterates over the items visible when it was created.
type memCursor struct {
	items []memKV
	pos   int
}

func (c *memCursor) at(i int) ([]byte, []byte) {
	if i < 0 || i >= len(c.items) {
		if i < 0 {
			c.pos = -1
		} else {
			c.pos = len(c.items)
		}
		return nil, nil
	}
	c.pos = i
	kv := c.items[i]
	return kv.key, kv.value
}

func (c *memCursor) First() ([]byte, []byte) { return c.at(0) }

func (c *memCursor) Last() ([]byte, []byte) { return c.at(len(c.items) - 1) }

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	i, _ := keyRange(c.items, seek)
	return c.at(i)
}

func (c *memCursor) Next() ([]byte, []byte) { return c.at(c.pos + 1) }

func (c *memCursor) Prev() ([]byte, []byte) { return c.at(c.pos - 1) }

func (c *memCursor) Err() error { return nil }

func (c *memCursor) Close() { c.items = nil }
