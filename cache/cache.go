// Package cache provides bounded caches behind a provider SPI.
//
// Every provider gives the same contract: at most MaximumSize entries,
// approximately least-recently-used eviction, and optional expiry measured
// from the last access. GetOrCompute gives no cross-key atomicity; when two
// callers miss on the same key at once, the last one to store wins.
package cache

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/andreyvit/ersdb/kv"
)

// RefType is how strongly cached values are held under memory pressure.
type RefType int

const (
	Strong RefType = iota
	Soft
	// Weak is best effort; providers that cannot release values early keep
	// them like Strong.
	Weak
)

func (r RefType) String() string {
	switch r {
	case Strong:
		return "strong"
	case Soft:
		return "soft"
	case Weak:
		return "weak"
	default:
		return fmt.Sprintf("RefType(%d)", int(r))
	}
}

// ParseRefType accepts the names returned by RefType.String.
func ParseRefType(s string) (RefType, error) {
	switch s {
	case "", "strong":
		return Strong, nil
	case "soft":
		return Soft, nil
	case "weak":
		return Weak, nil
	default:
		return Strong, &ConfigError{Field: "ValueRefType", Msg: fmt.Sprintf("unknown reference type %q", s)}
	}
}

type Config struct {
	MaximumSize  int
	ValueRefType RefType
	// ExpirationDuration evicts entries not accessed for this long. Zero
	// disables expiry.
	ExpirationDuration time.Duration
}

// ConfigError reports an invalid Config.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return "cache: " + e.Field + ": " + e.Msg
}

func (e *ConfigError) Is(target error) bool {
	return target == kv.ErrStorage
}

func (c Config) Validate() error {
	if c.MaximumSize <= 0 {
		return &ConfigError{Field: "MaximumSize", Msg: fmt.Sprintf("must be positive, got %d", c.MaximumSize)}
	}
	if c.ValueRefType < Strong || c.ValueRefType > Weak {
		return &ConfigError{Field: "ValueRefType", Msg: fmt.Sprintf("unknown reference type %d", int(c.ValueRefType))}
	}
	if c.ExpirationDuration < 0 {
		return &ConfigError{Field: "ExpirationDuration", Msg: "must not be negative"}
	}
	return nil
}

// Stats are cumulative since the cache was created.
type Stats struct {
	RequestCount int64
	HitCount     int64
	MissCount    int64
	Expirations  int64
}

// HitRate is HitCount / RequestCount, or 1 when there were no requests.
func (s Stats) HitRate() float64 {
	if s.RequestCount == 0 {
		return 1
	}
	return float64(s.HitCount) / float64(s.RequestCount)
}

type entry[V any] struct {
	value    V
	accessed atomic.Int64
}

// Cache is a typed view over a provider backend. It is safe for concurrent use.
type Cache[K comparable, V any] struct {
	cfg      Config
	provider string
	backend  Backend
	now      func() time.Time

	requests    atomic.Int64
	hits        atomic.Int64
	expirations atomic.Int64
}

// New validates cfg and builds a cache on the given provider.
func New[K comparable, V any](p Provider, cfg Config) (*Cache[K, V], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b, err := p.NewBackend(cfg)
	if err != nil {
		return nil, fmt.Errorf("cache provider %q: %w", p.ID(), err)
	}
	return &Cache[K, V]{
		cfg:      cfg,
		provider: p.ID(),
		backend:  b,
		now:      time.Now,
	}, nil
}

func (c *Cache[K, V]) Config() Config   { return c.cfg }
func (c *Cache[K, V]) Provider() string { return c.provider }

// SetClock replaces the time source used for expiry.
func (c *Cache[K, V]) SetClock(now func() time.Time) {
	c.now = now
}

func (c *Cache[K, V]) lookup(key K) (*entry[V], bool) {
	raw, ok := c.backend.Get(key)
	if !ok {
		return nil, false
	}
	e := raw.(*entry[V])
	now := c.now().UnixNano()
	if ttl := c.cfg.ExpirationDuration; ttl > 0 && now-e.accessed.Load() > int64(ttl) {
		c.backend.Remove(key)
		c.expirations.Add(1)
		return nil, false
	}
	e.accessed.Store(now)
	return e, true
}

// Get returns the cached value and whether it was present.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.requests.Add(1)
	e, ok := c.lookup(key)
	if !ok {
		var zero V
		return zero, false
	}
	c.hits.Add(1)
	return e.value, true
}

// GetOrCompute returns the cached value, or computes, stores and returns it
// on a miss. Errors from compute are returned and nothing is stored.
func (c *Cache[K, V]) GetOrCompute(key K, compute func(key K) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := compute(key)
	if err != nil {
		return v, err
	}
	c.Put(key, v)
	return v, nil
}

func (c *Cache[K, V]) Put(key K, value V) {
	e := &entry[V]{value: value}
	e.accessed.Store(c.now().UnixNano())
	c.backend.Add(key, e)
}

// Contains checks presence without counting a request or refreshing recency.
func (c *Cache[K, V]) Contains(key K) bool {
	raw, ok := c.backend.Peek(key)
	if !ok {
		return false
	}
	ttl := c.cfg.ExpirationDuration
	return ttl <= 0 || c.now().UnixNano()-raw.(*entry[V]).accessed.Load() <= int64(ttl)
}

func (c *Cache[K, V]) Remove(key K) {
	c.backend.Remove(key)
}

func (c *Cache[K, V]) Len() int {
	return c.backend.Len()
}

func (c *Cache[K, V]) Purge() {
	c.backend.Purge()
}

func (c *Cache[K, V]) Stats() Stats {
	req, hits := c.requests.Load(), c.hits.Load()
	return Stats{
		RequestCount: req,
		HitCount:     hits,
		MissCount:    req - hits,
		Expirations:  c.expirations.Load(),
	}
}
