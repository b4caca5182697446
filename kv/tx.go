package kv

import (
	"context"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Tx is a transaction over a Storage.
//
// A Tx finishes exactly once, by Commit or Abort. After that every operation
// fails with ErrTxFinished, except Abort, which becomes a no-op. Values
// returned by a Tx are copies owned by the caller.
type Tx struct {
	storage   *Storage
	raw       rawTx
	id        uuid.UUID
	writable  bool
	startTime time.Time
	stack     string

	mu        sync.Mutex
	finished  bool
	committed bool
	gen       uint64
	maps      map[string]namedMap
	cursors   []*Cursor
	onFinish  []func(committed bool)
}

func newTx(s *Storage, rtx rawTx, writable bool) *Tx {
	tx := &Tx{
		storage:   s,
		raw:       rtx,
		id:        uuid.New(),
		writable:  writable,
		startTime: time.Now(),
		maps:      make(map[string]namedMap),
	}
	if s.settings.TrackStacks {
		tx.stack = string(debug.Stack())
	}
	return tx
}

func (tx *Tx) ID() uuid.UUID        { return tx.id }
func (tx *Tx) Storage() *Storage    { return tx.storage }
func (tx *Tx) Writable() bool       { return tx.writable }
func (tx *Tx) StartTime() time.Time { return tx.startTime }

func (tx *Tx) Finished() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.finished
}

// Committed reports whether the transaction finished with a successful commit.
func (tx *Tx) Committed() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.committed
}

// OnFinish registers f to run after the transaction commits or aborts. If the
// transaction has already finished, f runs immediately.
func (tx *Tx) OnFinish(f func(committed bool)) {
	tx.mu.Lock()
	if tx.finished {
		committed := tx.committed
		tx.mu.Unlock()
		f(committed)
		return
	}
	tx.onFinish = append(tx.onFinish, f)
	tx.mu.Unlock()
}

func (tx *Tx) resolveLocked(name string, create bool) (namedMap, error) {
	if m := tx.maps[name]; m != nil {
		return m, nil
	}
	b, err := tx.raw.Bucket(name)
	if err != nil {
		return nil, tx.errf(name, nil, err, "open map")
	}
	if b == nil {
		if !create {
			return nil, nil
		}
		b, err = tx.raw.CreateBucket(name)
		if err != nil {
			return nil, tx.errf(name, nil, err, "create map")
		}
	}
	m := newNamedMap(b, tx.storage.Duplicates(name))
	tx.maps[name] = m
	return m, nil
}

func (tx *Tx) checkLocked(write bool) error {
	if tx.finished {
		return ErrTxFinished
	}
	if write && !tx.writable {
		return ErrReadonly
	}
	return nil
}

func (tx *Tx) errf(mapName string, key []byte, err error, format string, args ...any) error {
	return kvErrf(tx.storage.backend, mapName, key, err, format, args...)
}

// Get returns the value stored under key, or nil if there is none. In maps
// with duplicates it returns the smallest value. Present values are never
// nil, even when empty.
func (tx *Tx) Get(mapName string, key []byte) ([]byte, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.checkLocked(false); err != nil {
		return nil, err
	}
	m, err := tx.resolveLocked(mapName, false)
	if err != nil || m == nil {
		return nil, err
	}
	v, found, err := m.get(key)
	if err != nil {
		return nil, tx.errf(mapName, key, err, "get")
	}
	if !found {
		return nil, nil
	}
	if v == nil {
		return []byte{}, nil
	}
	return cloneBytes(v), nil
}

// Put stores value under key, creating the map if needed. It reports whether
// the map changed: false when the key already had this value, or, in maps
// with duplicates, when the pair was already present.
//
// Keys are limited the same way on every backend, see MaxKeySize.
func (tx *Tx) Put(mapName string, key, value []byte) (bool, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.checkLocked(true); err != nil {
		return false, err
	}
	if err := checkKeySize(key, value, tx.storage.Duplicates(mapName)); err != nil {
		return false, tx.errf(mapName, nil, err, "put %d-byte key", len(key))
	}
	m, err := tx.resolveLocked(mapName, true)
	if err != nil {
		return false, err
	}
	changed, err := m.put(key, value)
	if err != nil {
		return false, tx.errf(mapName, key, err, "put")
	}
	if changed {
		tx.gen++
	}
	return changed, nil
}

// Delete removes every value stored under key and reports whether there was any.
func (tx *Tx) Delete(mapName string, key []byte) (bool, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.checkLocked(true); err != nil {
		return false, err
	}
	m, err := tx.resolveLocked(mapName, false)
	if err != nil || m == nil {
		return false, err
	}
	n, err := m.deleteKey(key)
	if err != nil {
		return false, tx.errf(mapName, key, err, "delete")
	}
	if n > 0 {
		tx.gen++
	}
	return n > 0, nil
}

// DeleteValue removes the single (key, value) pair and reports whether it existed.
func (tx *Tx) DeleteValue(mapName string, key, value []byte) (bool, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.checkLocked(true); err != nil {
		return false, err
	}
	m, err := tx.resolveLocked(mapName, false)
	if err != nil || m == nil {
		return false, err
	}
	deleted, err := m.deletePair(key, value)
	if err != nil {
		return false, tx.errf(mapName, key, err, "delete value")
	}
	if deleted {
		tx.gen++
	}
	return deleted, nil
}

// Navigate returns a cursor positioned before the first entry whose key is
// >= key, or before the first entry of the map if key is nil. The cursor
// belongs to the transaction and is closed when it finishes.
func (tx *Tx) Navigate(mapName string, key []byte) (*Cursor, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.checkLocked(false); err != nil {
		return nil, err
	}
	m, err := tx.resolveLocked(mapName, false)
	if err != nil {
		return nil, err
	}
	c := &Cursor{tx: tx, mapName: mapName, gen: tx.gen}
	if key != nil {
		c.start = cloneBytes(key)
	}
	if m == nil {
		c.state = cursorDone
		return c, nil
	}
	c.m = m
	c.raw = m.cursor()
	tx.cursors = append(tx.cursors, c)
	return c, nil
}

// MapNames returns the names of existing maps in sorted order.
func (tx *Tx) MapNames() ([]string, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.checkLocked(false); err != nil {
		return nil, err
	}
	names, err := tx.raw.BucketNames()
	if err != nil {
		return nil, tx.errf("", nil, err, "list maps")
	}
	slices.Sort(names)
	return names, nil
}

// MapStats returns the size of the named map; a missing map has zero stats.
func (tx *Tx) MapStats(mapName string) (MapStats, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.checkLocked(false); err != nil {
		return MapStats{}, err
	}
	m, err := tx.resolveLocked(mapName, false)
	if err != nil || m == nil {
		return MapStats{}, err
	}
	st, err := m.stats()
	if err != nil {
		return MapStats{}, tx.errf(mapName, nil, err, "stats")
	}
	return st, nil
}

// DropMap deletes the named map with all its entries. Dropping a missing map
// is not an error.
func (tx *Tx) DropMap(mapName string) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.checkLocked(true); err != nil {
		return err
	}
	delete(tx.maps, mapName)
	err := tx.raw.DeleteBucket(mapName)
	if err == ErrMapNotFound {
		return nil
	} else if err != nil {
		return tx.errf(mapName, nil, err, "drop map")
	}
	tx.gen++
	return nil
}

// Commit finishes the transaction. It returns false with a nil error when
// the engine detected a conflicting concurrent commit; the changes are then
// discarded. Committing a read-only transaction just releases it.
func (tx *Tx) Commit() (bool, error) {
	tx.mu.Lock()
	if tx.finished {
		tx.mu.Unlock()
		return false, ErrTxFinished
	}
	tx.closeCursorsLocked()
	ok, err := true, error(nil)
	if tx.writable {
		ok, err = tx.raw.Commit()
	}
	tx.raw.Rollback()
	hooks := tx.finishLocked(ok && err == nil)
	tx.mu.Unlock()

	s := tx.storage
	s.removeTx(tx)
	switch {
	case err != nil:
		s.metrics.failures.Inc()
		s.logger.LogAttrs(context.Background(), slog.LevelError, "kv: commit failed", slog.String("backend", s.backend), slog.String("tx", tx.id.String()), slog.Any("err", err))
		err = tx.errf("", nil, err, "commit")
		ok = false
	case !ok:
		s.metrics.conflicts.Inc()
		s.logger.LogAttrs(context.Background(), slog.LevelDebug, "kv: commit conflict", slog.String("backend", s.backend), slog.String("tx", tx.id.String()))
	default:
		s.metrics.commits.Inc()
		s.logger.LogAttrs(context.Background(), slog.LevelDebug, "kv: commit", slog.String("backend", s.backend), slog.String("tx", tx.id.String()))
	}
	runHooks(hooks, ok)
	return ok, err
}

// Abort discards the transaction. Aborting a finished transaction does nothing.
func (tx *Tx) Abort() {
	tx.mu.Lock()
	if tx.finished {
		tx.mu.Unlock()
		return
	}
	tx.closeCursorsLocked()
	tx.raw.Rollback()
	hooks := tx.finishLocked(false)
	tx.mu.Unlock()

	tx.storage.removeTx(tx)
	tx.storage.metrics.aborts.Inc()
	tx.storage.logger.LogAttrs(context.Background(), slog.LevelDebug, "kv: abort", slog.String("backend", tx.storage.backend), slog.String("tx", tx.id.String()))
	runHooks(hooks, false)
}

func (tx *Tx) finishLocked(committed bool) []func(bool) {
	tx.finished = true
	tx.committed = committed
	tx.maps = nil
	hooks := tx.onFinish
	tx.onFinish = nil
	return hooks
}

func runHooks(hooks []func(bool), committed bool) {
	for _, f := range hooks {
		f(committed)
	}
}

func (tx *Tx) closeCursorsLocked() {
	for _, c := range tx.cursors {
		c.err = ErrTxFinished
		c.releaseLocked()
	}
	tx.cursors = nil
}

func (tx *Tx) forgetCursorLocked(c *Cursor) {
	if i := slices.Index(tx.cursors, c); i >= 0 {
		tx.cursors = slices.Delete(tx.cursors, i, i+1)
	}
}
