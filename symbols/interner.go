// Package symbols interns strings as dense, increasing int64 ids.
//
// Both directions are cached in memory. Allocation is atomic and independent
// of storage transactions: an id, once handed out, is never revoked, even if
// the transaction that was meant to persist it aborts. A new symbol stays
// pending until a transaction that wrote it commits, so every transaction
// that uses a pending symbol writes it too (see Persist).
package symbols

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/andreyvit/ersdb/bag"
	"github.com/andreyvit/ersdb/kv"
)

// MapName is the kv map holding persisted symbols: 8-byte big-endian id to
// the symbol's bytes.
const MapName = "ers.symbols"

type Interner struct {
	ids    *xsync.MapOf[string, int64]
	names  *xsync.MapOf[int64, string]
	last   atomic.Int64
	logger *slog.Logger

	pending *xsync.MapOf[int64, string]
}

type Entry struct {
	ID   int64
	Name string
}

func New(logger *slog.Logger) *Interner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interner{
		ids:     xsync.NewMapOf[string, int64](),
		names:   xsync.NewMapOf[int64, string](),
		pending: xsync.NewMapOf[int64, string](),
		logger:  logger,
	}
}

// Open returns an interner preloaded from the storage.
func Open(s *kv.Storage, logger *slog.Logger) (*Interner, error) {
	in := New(logger)
	tx, err := s.BeginReadonly()
	if err != nil {
		return nil, err
	}
	defer tx.Abort()
	if err := in.Load(tx); err != nil {
		return nil, err
	}
	return in, nil
}

// Load adds every persisted symbol to the cache.
func (in *Interner) Load(tx *kv.Tx) error {
	c, err := tx.Navigate(MapName, nil)
	if err != nil {
		return err
	}
	defer c.Close()
	var n int
	for c.Next() {
		if len(c.Key()) != 8 {
			return fmt.Errorf("%w: symbols: bad id %x", kv.ErrStorage, c.Key())
		}
		id := int64(binary.BigEndian.Uint64(c.Key()))
		name := string(c.Value())
		in.ids.Store(name, id)
		in.names.Store(id, name)
		for {
			last := in.last.Load()
			if id <= last || in.last.CompareAndSwap(last, id) {
				break
			}
		}
		n++
	}
	if err := c.Err(); err != nil {
		return err
	}
	in.logger.LogAttrs(context.Background(), slog.LevelDebug, "symbols: loaded", slog.Int("count", n), slog.Int64("last", in.last.Load()))
	return nil
}

// Reset forgets every symbol, including pending ones.
func (in *Interner) Reset() {
	in.ids.Clear()
	in.names.Clear()
	in.pending.Clear()
	in.last.Store(0)
}

// FindOrNew returns the id of s, allocating the next id if s is new.
func (in *Interner) FindOrNew(s string) int64 {
	if id, ok := in.ids.Load(s); ok {
		return id
	}
	id, _ := in.ids.LoadOrCompute(s, func() int64 {
		id := in.last.Add(1)
		in.names.Store(id, s)
		in.pending.Store(id, s)
		return id
	})
	return id
}

// Find returns the id of s without allocating one.
func (in *Interner) Find(s string) (int64, bool) {
	return in.ids.Load(s)
}

// Symbol returns the string interned under id.
func (in *Interner) Symbol(id int64) (string, bool) {
	return in.names.Load(id)
}

func (in *Interner) Len() int {
	return in.ids.Size()
}

// PendingLen returns the number of symbols no committed transaction has
// written yet.
func (in *Interner) PendingLen() int {
	return in.pending.Size()
}

// IsPending reports whether id was allocated but not yet persisted.
func (in *Interner) IsPending(id int64) bool {
	_, ok := in.pending.Load(id)
	return ok
}

// Snapshot returns every symbol ordered by id.
func (in *Interner) Snapshot() []Entry {
	var entries []Entry
	in.names.Range(func(id int64, name string) bool {
		entries = append(entries, Entry{id, name})
		return true
	})
	slices.SortFunc(entries, func(a, b Entry) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
	return entries
}

// Flush writes every pending symbol through the transaction found in ctx
// under bag.Tx. Storages that live in memory only are skipped unless force is
// set.
func (in *Interner) Flush(ctx bag.Bag, force bool) error {
	tx, err := bag.Get[*kv.Tx](ctx, bag.Tx)
	if err != nil {
		return err
	}
	if tx.Storage().InMemory() && !force {
		return nil
	}
	var ids []int64
	in.pending.Range(func(id int64, _ string) bool {
		ids = append(ids, id)
		return true
	})
	slices.Sort(ids)
	return in.Persist(tx, ids)
}

// Persist writes the symbols among ids that are still pending through tx.
// They stop being pending once tx commits; until then, other transactions
// using them write them as well.
func (in *Interner) Persist(tx *kv.Tx, ids []int64) error {
	written := make(map[int64]string)
	var key [8]byte
	for _, id := range ids {
		name, ok := in.pending.Load(id)
		if !ok {
			continue
		}
		binary.BigEndian.PutUint64(key[:], uint64(id))
		if _, err := tx.Put(MapName, key[:], []byte(name)); err != nil {
			return err
		}
		written[id] = name
	}
	if len(written) == 0 {
		return nil
	}
	tx.OnFinish(func(committed bool) {
		if committed {
			in.settle(written)
		}
	})
	in.logger.LogAttrs(context.Background(), slog.LevelDebug, "symbols: persisting", slog.Int("count", len(written)), slog.String("tx", tx.ID().String()))
	return nil
}

// settle drops persisted symbols from the pending set, unless Reset reused
// their ids in the meantime.
func (in *Interner) settle(written map[int64]string) {
	for id, name := range written {
		in.pending.Compute(id, func(old string, loaded bool) (string, bool) {
			return old, !loaded || old == name
		})
	}
}
