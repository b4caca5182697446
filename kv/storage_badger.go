package kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/andreyvit/ersdb/codec"
)

// Badger keeps all maps in one keyspace:
//
//	00 name             -> empty          map registry
//	01 uvarint(len) name key -> value     map entries
const (
	badgerMetaTag = 0x00
	badgerDataTag = 0x01
)

// badgerStorage relies on Badger's serializable snapshot isolation; a
// conflicting commit fails with ErrConflict and is reported as false.
type badgerStorage struct {
	bdb *badger.DB
}

func openBadger(dir string, settings Settings) (rawStorage, error) {
	opt := badger.DefaultOptions(dir).
		WithLogger(badgerLogger{settings.logger()}).
		WithDetectConflicts(true)
	if dir == "" {
		opt = opt.WithInMemory(true)
	}
	if settings.IsTesting {
		opt = opt.WithMemTableSize(8 << 20).WithNumCompactors(2)
	}
	bdb, err := badger.Open(opt)
	if err != nil {
		return nil, err
	}
	return &badgerStorage{bdb: bdb}, nil
}

func (s *badgerStorage) BeginTx(writable bool) (rawTx, error) {
	if s.bdb.IsClosed() {
		return nil, ErrStorageClosed
	}
	return &badgerTx{txn: s.bdb.NewTransaction(writable), writable: writable}, nil
}

func (s *badgerStorage) Close() error {
	return s.bdb.Close()
}

func badgerMetaKey(name string) []byte {
	return append([]byte{badgerMetaTag}, name...)
}

func badgerDataPrefix(name string) []byte {
	buf := []byte{badgerDataTag}
	buf = codec.AppendUvarint(buf, uint64(len(name)))
	return append(buf, name...)
}

type badgerTx struct {
	txn      *badger.Txn
	writable bool
}

func (tx *badgerTx) Writable() bool { return tx.writable }

func (tx *badgerTx) exists(key []byte) (bool, error) {
	_, err := tx.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (tx *badgerTx) Bucket(name string) (rawBucket, error) {
	ok, err := tx.exists(badgerMetaKey(name))
	if err != nil || !ok {
		return nil, err
	}
	return &badgerBucket{tx: tx, prefix: badgerDataPrefix(name)}, nil
}

func (tx *badgerTx) CreateBucket(name string) (rawBucket, error) {
	meta := badgerMetaKey(name)
	ok, err := tx.exists(meta)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := tx.txn.Set(meta, []byte{}); err != nil {
			return nil, err
		}
	}
	return &badgerBucket{tx: tx, prefix: badgerDataPrefix(name)}, nil
}

func (tx *badgerTx) DeleteBucket(name string) error {
	meta := badgerMetaKey(name)
	ok, err := tx.exists(meta)
	if err != nil {
		return err
	}
	if !ok {
		return ErrMapNotFound
	}
	keys, err := tx.keysWithPrefix(badgerDataPrefix(name))
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := tx.txn.Delete(k); err != nil {
			return err
		}
	}
	return tx.txn.Delete(meta)
}

func (tx *badgerTx) keysWithPrefix(prefix []byte) ([][]byte, error) {
	it := tx.txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	defer it.Close()
	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys, nil
}

func (tx *badgerTx) BucketNames() ([]string, error) {
	prefix := []byte{badgerMetaTag}
	keys, err := tx.keysWithPrefix(prefix)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = string(k[1:])
	}
	return names, nil
}

func (tx *badgerTx) Commit() (bool, error) {
	err := tx.txn.Commit()
	if errors.Is(err, badger.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (tx *badgerTx) Rollback() {
	tx.txn.Discard()
}

type badgerBucket struct {
	tx     *badgerTx
	prefix []byte
}

func (b *badgerBucket) fullKey(key []byte) []byte {
	k := make([]byte, 0, len(b.prefix)+len(key))
	return append(append(k, b.prefix...), key...)
}

func (b *badgerBucket) Get(key []byte) ([]byte, bool, error) {
	item, err := b.tx.txn.Get(b.fullKey(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Put hands Badger fresh slices; it keeps references until commit.
func (b *badgerBucket) Put(key, value []byte) error {
	return b.tx.txn.Set(b.fullKey(key), append([]byte{}, value...))
}

func (b *badgerBucket) Delete(key []byte) error {
	return b.tx.txn.Delete(b.fullKey(key))
}

func (b *badgerBucket) Cursor() rawCursor {
	return &badgerCursor{tx: b.tx, prefix: b.prefix, end: codec.PrefixEnd(b.prefix)}
}

func (b *badgerBucket) Stats() (MapStats, error) {
	it := b.tx.txn.NewIterator(badger.IteratorOptions{Prefix: b.prefix})
	defer it.Close()
	var st MapStats
	for it.Seek(b.prefix); it.ValidForPrefix(b.prefix); it.Next() {
		item := it.Item()
		st.Entries++
		st.KeyBytes += item.KeySize() - int64(len(b.prefix))
		st.DataBytes += item.ValueSize()
		st.Alloc += item.EstimatedSize()
	}
	return st, nil
}

// badgerCursor keeps one iterator per direction of travel and reopens it
// when the direction changes, seeking back to the current key.
type badgerCursor struct {
	tx      *badgerTx
	prefix  []byte
	end     []byte
	it      *badger.Iterator
	reverse bool
	cur     []byte
	err     error
}

func (c *badgerCursor) iterator(reverse bool) *badger.Iterator {
	if c.it != nil && c.reverse == reverse {
		return c.it
	}
	if c.it != nil {
		c.it.Close()
	}
	c.it = c.tx.txn.NewIterator(badger.IteratorOptions{Reverse: reverse})
	c.reverse = reverse
	return c.it
}

func (c *badgerCursor) current() ([]byte, []byte) {
	it := c.it
	if !it.ValidForPrefix(c.prefix) {
		c.cur = nil
		return nil, nil
	}
	item := it.Item()
	k := item.KeyCopy(nil)
	v, err := item.ValueCopy(nil)
	if err != nil {
		c.err = err
		c.cur = nil
		return nil, nil
	}
	c.cur = k
	return k[len(c.prefix):], v
}

func (c *badgerCursor) First() ([]byte, []byte) {
	c.iterator(false).Seek(c.prefix)
	return c.current()
}

func (c *badgerCursor) Last() ([]byte, []byte) {
	it := c.iterator(true)
	if c.end == nil {
		it.Rewind()
	} else {
		it.Seek(c.end)
		for it.Valid() && bytes.Compare(it.Item().Key(), c.end) >= 0 {
			it.Next()
		}
	}
	return c.current()
}

func (c *badgerCursor) Seek(seek []byte) ([]byte, []byte) {
	full := make([]byte, 0, len(c.prefix)+len(seek))
	full = append(append(full, c.prefix...), seek...)
	c.iterator(false).Seek(full)
	return c.current()
}

func (c *badgerCursor) Next() ([]byte, []byte) {
	return c.step(false)
}

func (c *badgerCursor) Prev() ([]byte, []byte) {
	return c.step(true)
}

func (c *badgerCursor) step(reverse bool) ([]byte, []byte) {
	if c.cur == nil {
		return nil, nil
	}
	if c.it != nil && c.reverse == reverse {
		c.it.Next()
		return c.current()
	}
	cur := c.cur
	it := c.iterator(reverse)
	it.Seek(cur)
	if it.Valid() && bytes.Equal(it.Item().Key(), cur) {
		it.Next()
	}
	return c.current()
}

func (c *badgerCursor) Err() error { return c.err }

func (c *badgerCursor) Close() {
	if c.it != nil {
		c.it.Close()
		c.it = nil
	}
	c.cur = nil
}

// badgerLogger routes Badger's own logging into slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) log(level slog.Level, format string, args []any) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}
	l.logger.LogAttrs(ctx, level, "badger: "+strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Errorf(format string, args ...any)   { l.log(slog.LevelError, format, args) }
func (l badgerLogger) Warningf(format string, args ...any) { l.log(slog.LevelWarn, format, args) }
func (l badgerLogger) Infof(format string, args ...any)    { l.log(slog.LevelDebug, format, args) }
func (l badgerLogger) Debugf(format string, args ...any)   { l.log(slog.LevelDebug-4, format, args) }
