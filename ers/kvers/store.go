// Package kvers stores the ERS model in named maps of a kv.Storage.
package kvers

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/andreyvit/ersdb/cache"
	"github.com/andreyvit/ersdb/ers"
	"github.com/andreyvit/ersdb/kv"
	"github.com/andreyvit/ersdb/symbols"
)

const DefaultSchemaCacheSize = 1024

type Options struct {
	Logger *slog.Logger
	// SchemaCache builds the cache of schema listings (property, blob and
	// link names per type). Defaults to cache.LRUProvider.
	SchemaCache cache.Provider
	// SchemaCacheConfig defaults to DefaultSchemaCacheSize entries.
	SchemaCacheConfig cache.Config
}

// Store is an ers.Store over a kv.Storage. It owns the storage and closes it
// on Close.
type Store struct {
	storage *kv.Storage
	symbols *symbols.Interner
	schema  *cache.Cache[string, schemaNames]
	logger  *slog.Logger
	durable bool

	// schemaGen moves on both sides of every commit that changes the
	// schema; cached listings are only trusted within one generation.
	schemaGen     atomic.Uint64
	schemaWriters atomic.Int32
}

type schemaNames struct {
	gen   uint64
	names []string
}

var _ ers.Store = (*Store)(nil)
var _ ers.Dumper = (*Store)(nil)

// Open builds a store over storage. If in is nil, an interner is loaded from
// the storage itself.
func Open(storage *kv.Storage, in *symbols.Interner, opts Options) (*Store, error) {
	if !storage.Duplicates(mapKey{indexPrefix, 1, 1}.String()) {
		return nil, fmt.Errorf("%w: kvers: %v must be opened with kvers.Duplicates", ers.ErrStorage, storage)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if in == nil {
		var err error
		in, err = symbols.Open(storage, logger)
		if err != nil {
			return nil, err
		}
	}
	p := opts.SchemaCache
	if p == nil {
		p = cache.LRUProvider
	}
	cfg := opts.SchemaCacheConfig
	if cfg.MaximumSize == 0 {
		cfg.MaximumSize = DefaultSchemaCacheSize
	}
	schema, err := cache.New[string, schemaNames](p, cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{
		storage: storage,
		symbols: in,
		schema:  schema,
		logger:  logger,
		durable: !storage.InMemory(),
	}
	logger.LogAttrs(context.Background(), slog.LevelDebug, "kvers: opened", slog.String("storage", storage.String()), slog.Int("symbols", in.Len()))
	return s, nil
}

func (s *Store) Name() string                  { return "kv:" + s.storage.String() }
func (s *Store) Storage() *kv.Storage          { return s.storage }
func (s *Store) Symbols() *symbols.Interner    { return s.symbols }
func (s *Store) SchemaCacheStats() cache.Stats { return s.schema.Stats() }

func (s *Store) Close() error {
	return s.storage.Close()
}

// beginSchemaChange and endSchemaChange bracket a commit that may change the
// schema.
func (s *Store) beginSchemaChange() {
	s.schemaWriters.Add(1)
	s.schemaGen.Add(1)
}

func (s *Store) endSchemaChange() {
	s.schemaGen.Add(1)
	s.schemaWriters.Add(-1)
}

func (s *Store) schemaStable(gen uint64) bool {
	return s.schemaWriters.Load() == 0 && s.schemaGen.Load() == gen
}

func (s *Store) Begin(readonly bool) (ers.Txn, error) {
	// Read before the snapshot is taken, so a schema commit racing with
	// Begin leaves this transaction on a stale generation.
	gen := s.schemaGen.Load()
	var tx *kv.Tx
	var err error
	if readonly {
		tx, err = s.storage.BeginReadonly()
	} else {
		tx, err = s.storage.Begin()
	}
	if err != nil {
		return nil, err
	}
	return &txn{store: s, tx: tx, gen: gen}, nil
}

// MapInfo describes one map of the storage.
type MapInfo struct {
	Name string
	kv.MapStats
}

// Maps returns the size of every map in the storage.
func (s *Store) Maps() ([]MapInfo, error) {
	tx, err := s.storage.BeginReadonly()
	if err != nil {
		return nil, err
	}
	defer tx.Abort()
	names, err := tx.MapNames()
	if err != nil {
		return nil, err
	}
	result := make([]MapInfo, 0, len(names))
	for _, name := range names {
		st, err := tx.MapStats(name)
		if err != nil {
			return nil, err
		}
		result = append(result, MapInfo{name, st})
	}
	return result, nil
}
