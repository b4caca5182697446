package ersdb

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/andreyvit/ersdb/bag"
	"github.com/andreyvit/ersdb/cache"
	"github.com/andreyvit/ersdb/config"
	"github.com/andreyvit/ersdb/ers"
	"github.com/andreyvit/ersdb/ers/kvers"
	"github.com/andreyvit/ersdb/kv"
	"github.com/andreyvit/ersdb/provider"
	"github.com/andreyvit/ersdb/symbols"
)

// DefaultAttempts bounds the retries of DB.Write.
const DefaultAttempts = 10

type Options struct {
	// Backend is a kv provider id. Defaults to kv.Mem.
	Backend  string
	Location string

	Logger      *slog.Logger
	IsTesting   bool
	TrackStacks bool
	MmapSize    int
	LockTimeout time.Duration

	// ERSProvider defaults to kvers.ProviderID.
	ERSProvider string
	// Checked decorates every transaction with recomputing iterables and
	// existence checks.
	Checked  bool
	Attempts int

	// CacheProvider builds the schema listing cache. Defaults to cache.LRU.
	CacheProvider string
	Cache         cache.Config

	// Registries default to the built-in providers.
	KVProviders    *provider.Registry[kv.Provider]
	ERSProviders   *provider.Registry[ers.Provider]
	CacheProviders *provider.Registry[cache.Provider]
}

type DB struct {
	storage  *kv.Storage
	symbols  *symbols.Interner
	store    ers.Store
	kvStore  *kvers.Store
	attempts int
	logger   *slog.Logger

	ReadCount  atomic.Uint64
	WriteCount atomic.Uint64
}

// NewERSRegistry returns a registry holding the kv-backed ers provider.
func NewERSRegistry() *provider.Registry[ers.Provider] {
	r := ers.NewRegistry()
	r.RegisterInstance(kvers.ProviderID, kvers.Provider)
	return r
}

func Open(opt Options) (*DB, error) {
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opt.Backend == "" {
		opt.Backend = kv.Mem
	}
	if opt.ERSProvider == "" {
		opt.ERSProvider = kvers.ProviderID
	}
	if opt.CacheProvider == "" {
		opt.CacheProvider = cache.LRU
	}
	if opt.Attempts == 0 {
		opt.Attempts = DefaultAttempts
	}
	if opt.KVProviders == nil {
		opt.KVProviders = kv.NewRegistry()
	}
	if opt.ERSProviders == nil {
		opt.ERSProviders = NewERSRegistry()
	}
	if opt.CacheProviders == nil {
		opt.CacheProviders = cache.NewRegistry()
	}

	cp, err := opt.CacheProviders.Lookup(opt.CacheProvider)
	if err != nil {
		return nil, err
	}
	ep, err := opt.ERSProviders.Lookup(opt.ERSProvider)
	if err != nil {
		return nil, err
	}

	storage, err := kv.Open(opt.KVProviders, opt.Backend, opt.Location, kv.Settings{
		Logger:      logger,
		Duplicates:  kvers.Duplicates,
		TrackStacks: opt.TrackStacks,
		IsTesting:   opt.IsTesting,
		MmapSize:    opt.MmapSize,
		LockTimeout: opt.LockTimeout,
	})
	if err != nil {
		return nil, err
	}
	in, err := symbols.Open(storage, logger)
	if err != nil {
		storage.Close()
		return nil, err
	}

	ctx := bag.New(
		bag.Storage, storage,
		bag.Interner, in,
		kvers.OptionsKey, kvers.Options{Logger: logger, SchemaCache: cp, SchemaCacheConfig: opt.Cache},
	)
	store, err := ep.NewStore(ctx)
	if err != nil {
		storage.Close()
		return nil, err
	}
	db := &DB{
		storage:  storage,
		symbols:  in,
		store:    store,
		attempts: opt.Attempts,
		logger:   logger,
	}
	db.kvStore, _ = store.(*kvers.Store)
	if opt.Checked {
		db.store = ers.Decorated(store)
	}
	logger.LogAttrs(context.Background(), slog.LevelDebug, "ersdb: opened", slog.String("store", store.Name()), slog.Bool("checked", opt.Checked))
	return db, nil
}

// OptionsFromConfig translates a loaded config file.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	ref, err := cache.ParseRefType(cfg.Cache.ValueRef)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Backend:       cfg.Storage.Backend,
		Location:      config.ExpandHome(cfg.Storage.Path),
		TrackStacks:   cfg.Storage.TrackStacks,
		MmapSize:      cfg.Storage.MmapSize,
		LockTimeout:   cfg.Storage.LockTimeout.Duration,
		ERSProvider:   cfg.ERS.Provider,
		Checked:       cfg.ERS.Checked,
		Attempts:      cfg.ERS.Attempts,
		CacheProvider: cfg.Cache.Provider,
		Cache: cache.Config{
			MaximumSize:        cfg.Cache.Size,
			ValueRefType:       ref,
			ExpirationDuration: cfg.Cache.Expiration.Duration,
		},
	}, nil
}

func (db *DB) Store() ers.Store                     { return db.store }
func (db *DB) Storage() *kv.Storage                 { return db.storage }
func (db *DB) Symbols() *symbols.Interner           { return db.symbols }
func (db *DB) Begin(readonly bool) (ers.Txn, error) { return db.store.Begin(readonly) }

// Read runs f in a read-only transaction.
func (db *DB) Read(f func(txn ers.Txn) error) error {
	db.ReadCount.Add(1)
	return ers.Transactional(db.store, true, f)
}

// Write runs f in a writable transaction, rerunning it on commit conflicts.
// f must not have side effects outside the transaction.
func (db *DB) Write(f func(txn ers.Txn) error) error {
	db.WriteCount.Add(1)
	return ers.TransactionalOptimistic(db.store, db.attempts, f)
}

// Dump writes the whole database to w. Stores that cannot be dumped write
// nothing.
func (db *DB) Dump(w io.Writer) error {
	return ers.Dump(db.store, w)
}

// Load replaces the whole database with a stream written by Dump. Stores
// that cannot be loaded ignore it.
func (db *DB) Load(r io.Reader) error {
	return ers.Load(db.store, r)
}

// CanDump reports whether Dump and Load do anything.
func (db *DB) CanDump() bool {
	return ers.CanDump(db.store)
}

type Stats struct {
	Maps        []kvers.MapInfo
	Symbols     int
	OpenTxns    int
	SchemaCache cache.Stats
	Reads       uint64
	Writes      uint64
}

func (db *DB) Stats() (Stats, error) {
	st := Stats{
		Symbols:  db.symbols.Len(),
		OpenTxns: db.storage.OpenTxCount(),
		Reads:    db.ReadCount.Load(),
		Writes:   db.WriteCount.Load(),
	}
	if db.kvStore != nil {
		maps, err := db.kvStore.Maps()
		if err != nil {
			return st, err
		}
		st.Maps = maps
		st.SchemaCache = db.kvStore.SchemaCacheStats()
	}
	return st, nil
}

func (db *DB) DescribeOpenTxns() string {
	return db.storage.DescribeOpenTxns()
}

// Close flushes pending symbols and closes the store and its storage.
func (db *DB) Close() error {
	if !db.storage.InMemory() && db.symbols.PendingLen() > 0 {
		if err := db.flushSymbols(); err != nil {
			db.logger.LogAttrs(context.Background(), slog.LevelWarn, "ersdb: flushing symbols on close", slog.Any("err", err))
		}
	}
	err := db.store.Close()
	if cerr := db.storage.Close(); err == nil {
		err = cerr
	}
	return err
}

func (db *DB) flushSymbols() error {
	tx, err := db.storage.Begin()
	if err != nil {
		return err
	}
	defer tx.Abort()
	if err := db.symbols.Flush(bag.New(bag.Tx, tx), false); err != nil {
		return err
	}
	_, err = tx.Commit()
	return err
}
