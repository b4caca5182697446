package kv

import (
	"github.com/andreyvit/ersdb/provider"
)

// Backend ids understood by NewRegistry.
const (
	Mem    = "mem"
	Bolt   = "bolt"
	Badger = "badger"
)

// Provider creates storages of one backend.
type Provider interface {
	ID() string
	NewStorage(location string, settings Settings) (*Storage, error)
}

type funcProvider struct {
	id       string
	inMemory func(location string) bool
	open     func(location string, settings Settings) (rawStorage, error)
}

func (p *funcProvider) ID() string { return p.id }

func (p *funcProvider) NewStorage(location string, settings Settings) (*Storage, error) {
	raw, err := p.open(location, settings)
	if err != nil {
		return nil, kvErrf(p.id, "", nil, err, "open %q", location)
	}
	return newStorage(p.id, location, raw, p.inMemory(location), settings), nil
}

var (
	MemProvider Provider = &funcProvider{
		id:       Mem,
		inMemory: func(string) bool { return true },
		open: func(string, Settings) (rawStorage, error) {
			return newMemStorage(), nil
		},
	}
	BoltProvider Provider = &funcProvider{
		id:       Bolt,
		inMemory: func(string) bool { return false },
		open:     openBolt,
	}
	// BadgerProvider runs Badger in memory when the location is empty.
	BadgerProvider Provider = &funcProvider{
		id:       Badger,
		inMemory: func(location string) bool { return location == "" },
		open:     openBadger,
	}
)

// NewRegistry returns a registry holding the built-in backends.
func NewRegistry() *provider.Registry[Provider] {
	r := provider.NewRegistry[Provider]("kv")
	for _, p := range []Provider{MemProvider, BoltProvider, BadgerProvider} {
		r.RegisterInstance(p.ID(), p)
	}
	return r
}

// Open looks up the backend by id and opens a storage at location.
func Open(reg *provider.Registry[Provider], id, location string, settings Settings) (*Storage, error) {
	p, err := reg.Lookup(id)
	if err != nil {
		return nil, err
	}
	return p.NewStorage(location, settings)
}

// NewMemStorage returns a transient in-memory storage.
func NewMemStorage(settings Settings) *Storage {
	s, err := MemProvider.NewStorage("", settings)
	if err != nil {
		panic(err)
	}
	return s
}
