package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/andreyvit/ersdb/provider"
)

// Provider ids understood by NewRegistry.
const (
	LRU      = "lru"
	TwoQueue = "2q"
)

// Backend is the untyped storage a provider supplies to Cache.
type Backend interface {
	Get(key any) (any, bool)
	Peek(key any) (any, bool)
	Add(key, value any)
	Remove(key any)
	Len() int
	Purge()
}

// Provider builds backends bounded to Config.MaximumSize entries.
type Provider interface {
	ID() string
	NewBackend(cfg Config) (Backend, error)
}

type lruProvider struct{}

func (lruProvider) ID() string { return LRU }

func (lruProvider) NewBackend(cfg Config) (Backend, error) {
	c, err := lru.New[any, any](cfg.MaximumSize)
	if err != nil {
		return nil, err
	}
	return lruBackend{c}, nil
}

type lruBackend struct {
	c *lru.Cache[any, any]
}

func (b lruBackend) Get(key any) (any, bool)  { return b.c.Get(key) }
func (b lruBackend) Peek(key any) (any, bool) { return b.c.Peek(key) }
func (b lruBackend) Add(key, value any)       { b.c.Add(key, value) }
func (b lruBackend) Remove(key any)           { b.c.Remove(key) }
func (b lruBackend) Len() int                 { return b.c.Len() }
func (b lruBackend) Purge()                   { b.c.Purge() }

// twoQueueProvider separates recently added from frequently used entries,
// so one-off scans do not flush the hot set.
type twoQueueProvider struct{}

func (twoQueueProvider) ID() string { return TwoQueue }

func (twoQueueProvider) NewBackend(cfg Config) (Backend, error) {
	c, err := lru.New2Q[any, any](cfg.MaximumSize)
	if err != nil {
		return nil, err
	}
	return twoQueueBackend{c}, nil
}

type twoQueueBackend struct {
	c *lru.TwoQueueCache[any, any]
}

func (b twoQueueBackend) Get(key any) (any, bool)  { return b.c.Get(key) }
func (b twoQueueBackend) Peek(key any) (any, bool) { return b.c.Peek(key) }
func (b twoQueueBackend) Add(key, value any)       { b.c.Add(key, value) }
func (b twoQueueBackend) Remove(key any)           { b.c.Remove(key) }
func (b twoQueueBackend) Len() int                 { return b.c.Len() }
func (b twoQueueBackend) Purge()                   { b.c.Purge() }

var (
	LRUProvider      Provider = lruProvider{}
	TwoQueueProvider Provider = twoQueueProvider{}
)

// NewRegistry returns a registry holding the built-in providers.
func NewRegistry() *provider.Registry[Provider] {
	r := provider.NewRegistry[Provider]("cache")
	r.RegisterInstance(LRU, LRUProvider)
	r.RegisterInstance(TwoQueue, TwoQueueProvider)
	return r
}

// Lookup builds a cache on the provider registered under id.
func Lookup[K comparable, V any](reg *provider.Registry[Provider], id string, cfg Config) (*Cache[K, V], error) {
	p, err := reg.Lookup(id)
	if err != nil {
		return nil, err
	}
	return New[K, V](p, cfg)
}
