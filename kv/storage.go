package kv

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// Settings configure a Storage. The zero value is usable. Whatever the
// backend, Put rejects empty keys and keys over MaxKeySize.
type Settings struct {
	Logger *slog.Logger

	// Duplicates reports whether the named map keeps several values per key.
	// Nil means no map allows duplicates.
	Duplicates func(mapName string) bool

	// TrackStacks records the stack of every Begin for DescribeOpenTxns.
	TrackStacks bool

	// IsTesting trades durability for speed.
	IsTesting bool

	// MmapSize is the initial mmap size of the bolt backend.
	MmapSize int

	// LockTimeout bounds waiting for the file lock of the bolt backend.
	LockTimeout time.Duration
}

func (s Settings) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// Storage is an open key-value engine holding named maps.
//
// A Storage owns every transaction started on it; Close aborts the ones that
// are still open, which invalidates their cursors.
type Storage struct {
	backend  string
	location string
	raw      rawStorage
	inMemory bool
	settings Settings
	logger   *slog.Logger
	metrics  *storageMetrics

	txnsLock sync.Mutex
	txns     []*Tx
	closed   bool
}

func newStorage(backend, location string, raw rawStorage, inMemory bool, settings Settings) *Storage {
	return &Storage{
		backend:  backend,
		location: location,
		raw:      raw,
		inMemory: inMemory,
		settings: settings,
		logger:   settings.logger(),
		metrics:  newStorageMetrics(backend),
	}
}

func (s *Storage) Backend() string  { return s.backend }
func (s *Storage) Location() string { return s.location }

// InMemory reports whether the contents vanish when the storage is closed.
func (s *Storage) InMemory() bool { return s.inMemory }

// Duplicates reports whether the named map keeps several values per key.
func (s *Storage) Duplicates(mapName string) bool {
	return s.settings.Duplicates != nil && s.settings.Duplicates(mapName)
}

func (s *Storage) String() string {
	if s.location == "" {
		return s.backend
	}
	return s.backend + ":" + s.location
}

// Begin starts a read-write transaction.
func (s *Storage) Begin() (*Tx, error) {
	return s.begin(true)
}

// BeginReadonly starts a read-only transaction.
func (s *Storage) BeginReadonly() (*Tx, error) {
	return s.begin(false)
}

func (s *Storage) begin(writable bool) (*Tx, error) {
	if s.isClosed() {
		return nil, ErrStorageClosed
	}
	rtx, err := s.raw.BeginTx(writable)
	if err != nil {
		return nil, kvErrf(s.backend, "", nil, err, "begin")
	}
	tx := newTx(s, rtx, writable)
	if err := s.addTx(tx); err != nil {
		rtx.Rollback()
		return nil, err
	}
	s.metrics.begins.Inc()
	s.logger.LogAttrs(context.Background(), slog.LevelDebug, "kv: begin", slog.String("backend", s.backend), slog.String("tx", tx.id.String()), slog.Bool("writable", writable))
	return tx, nil
}

// Close aborts every open transaction and closes the engine.
func (s *Storage) Close() error {
	s.txnsLock.Lock()
	if s.closed {
		s.txnsLock.Unlock()
		return nil
	}
	s.closed = true
	txns := slices.Clone(s.txns)
	s.txnsLock.Unlock()

	if len(txns) > 0 {
		s.logger.LogAttrs(context.Background(), slog.LevelWarn, "kv: closing with open transactions", slog.String("backend", s.backend), slog.Int("count", len(txns)))
	}
	for _, tx := range txns {
		tx.Abort()
	}
	if err := s.raw.Close(); err != nil {
		return kvErrf(s.backend, "", nil, err, "close")
	}
	return nil
}

func (s *Storage) isClosed() bool {
	s.txnsLock.Lock()
	defer s.txnsLock.Unlock()
	return s.closed
}

func (s *Storage) addTx(tx *Tx) error {
	s.txnsLock.Lock()
	defer s.txnsLock.Unlock()
	if s.closed {
		return ErrStorageClosed
	}
	s.txns = append(s.txns, tx)
	return nil
}

func (s *Storage) removeTx(tx *Tx) {
	s.txnsLock.Lock()
	defer s.txnsLock.Unlock()

	found := slices.Index(s.txns, tx)
	if found < 0 {
		return
	}
	n := len(s.txns)
	s.txns[found] = s.txns[n-1]
	s.txns[n-1] = nil
	s.txns = s.txns[:n-1]
}

// OpenTxCount returns the number of transactions not yet finished.
func (s *Storage) OpenTxCount() int {
	s.txnsLock.Lock()
	defer s.txnsLock.Unlock()
	return len(s.txns)
}

// DescribeOpenTxns lists open transactions, oldest first, with the stacks
// that started them when Settings.TrackStacks is on.
func (s *Storage) DescribeOpenTxns() string {
	s.txnsLock.Lock()
	txns := slices.Clone(s.txns)
	s.txnsLock.Unlock()

	if len(txns) == 0 {
		return "NO OPEN TRANSACTIONS"
	}

	slices.SortFunc(txns, func(a, b *Tx) int {
		return a.startTime.Compare(b.startTime)
	})

	now := time.Now()

	var buf strings.Builder
	fmt.Fprintf(&buf, "%d OPEN TRANSACTIONS:\n", len(txns))
	for _, tx := range txns {
		ms := now.Sub(tx.startTime).Milliseconds()
		mode := "readonly"
		if tx.writable {
			mode = "writable"
		}
		if tx.stack == "" {
			fmt.Fprintf(&buf, "\n---\n%s %s open for %d ms\n", tx.id, mode, ms)
		} else {
			fmt.Fprintf(&buf, "\n---\n%s %s open for %d ms:\n%s", tx.id, mode, ms, tx.stack)
		}
	}
	return buf.String()
}
