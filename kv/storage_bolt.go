package kv

import (
	"bytes"
	"time"

	"go.etcd.io/bbolt"
)

// boltStorage maps every named map to a root bucket. Writers are serialized
// by bbolt, so commits never conflict.
type boltStorage struct {
	bdb *bbolt.DB
}

func openBolt(path string, settings Settings) (rawStorage, error) {
	bopt := *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if settings.LockTimeout != 0 {
		bopt.Timeout = settings.LockTimeout
	}
	if settings.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if settings.MmapSize != 0 {
		bopt.InitialMmapSize = settings.MmapSize
	}
	bdb, err := bbolt.Open(path, 0666, &bopt)
	if err != nil {
		return nil, err
	}
	return &boltStorage{bdb: bdb}, nil
}

func (s *boltStorage) BeginTx(writable bool) (rawTx, error) {
	btx, err := s.bdb.Begin(writable)
	if err != nil {
		return nil, err
	}
	return &boltTx{btx: btx}, nil
}

func (s *boltStorage) Close() error {
	return s.bdb.Close()
}

type boltTx struct {
	btx *bbolt.Tx
}

func (tx *boltTx) Writable() bool { return tx.btx.Writable() }

func (tx *boltTx) Bucket(name string) (rawBucket, error) {
	b := tx.btx.Bucket(unsafeBytesFromString(name))
	if b == nil {
		return nil, nil
	}
	return boltBucket{b: b}, nil
}

func (tx *boltTx) CreateBucket(name string) (rawBucket, error) {
	b, err := tx.btx.CreateBucketIfNotExists([]byte(name))
	if err != nil {
		return nil, err
	}
	return boltBucket{b: b}, nil
}

func (tx *boltTx) DeleteBucket(name string) error {
	err := tx.btx.DeleteBucket(unsafeBytesFromString(name))
	if err == bbolt.ErrBucketNotFound {
		return ErrMapNotFound
	}
	return err
}

func (tx *boltTx) BucketNames() ([]string, error) {
	var names []string
	err := tx.btx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
		names = append(names, string(name))
		return nil
	})
	return names, err
}

func (tx *boltTx) Commit() (bool, error) {
	if err := tx.btx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (tx *boltTx) Rollback() {
	// The only error is ErrTxClosed, which follows a successful Commit.
	_ = tx.btx.Rollback()
}

type boltBucket struct {
	b *bbolt.Bucket
}

func (b boltBucket) Get(key []byte) ([]byte, bool, error) {
	k, v := b.b.Cursor().Seek(key)
	if k == nil || !bytes.Equal(k, key) {
		return nil, false, nil
	}
	return v, true, nil
}

// Put copies value; bbolt keeps a reference to it until commit.
func (b boltBucket) Put(key, value []byte) error {
	return b.b.Put(key, append([]byte{}, value...))
}

func (b boltBucket) Delete(key []byte) error { return b.b.Delete(key) }

func (b boltBucket) Cursor() rawCursor { return boltCursor{c: b.b.Cursor()} }

func (b boltBucket) Stats() (MapStats, error) {
	s := b.b.Stats()
	st := MapStats{
		Entries: s.KeyN,
		Alloc:   int64(s.BranchAlloc + s.LeafAlloc),
	}
	c := b.b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		st.KeyBytes += int64(len(k))
		st.DataBytes += int64(len(v))
	}
	return st, nil
}

type boltCursor struct {
	c *bbolt.Cursor
}

func (c boltCursor) First() ([]byte, []byte) { return c.c.First() }

func (c boltCursor) Last() ([]byte, []byte) { return c.c.Last() }

func (c boltCursor) Seek(seek []byte) ([]byte, []byte) { return c.c.Seek(seek) }

func (c boltCursor) Next() ([]byte, []byte) { return c.c.Next() }

func (c boltCursor) Prev() ([]byte, []byte) { return c.c.Prev() }

func (c boltCursor) Err() error { return nil }

func (c boltCursor) Close() {}
