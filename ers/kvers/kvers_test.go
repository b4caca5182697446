package kvers_test

import (
	"bytes"
	"errors"
	"path/filepath"
	"reflect"
	"slices"
	"testing"

	"github.com/andreyvit/ersdb/bag"
	"github.com/andreyvit/ersdb/ers"
	"github.com/andreyvit/ersdb/ers/kvers"
	"github.com/andreyvit/ersdb/kv"
)

type opener func(t *testing.T) *kvers.Store

func settings() kv.Settings {
	return kv.Settings{Duplicates: kvers.Duplicates, IsTesting: true}
}

func backends() map[string]opener {
	return map[string]opener{
		"mem": func(t *testing.T) *kvers.Store {
			return openStore(t, kv.NewMemStorage(settings()))
		},
		"bolt": func(t *testing.T) *kvers.Store {
			path := filepath.Join(t.TempDir(), "ers.db")
			return openStore(t, must(kv.BoltProvider.NewStorage(path, settings())))
		},
		"badger": func(t *testing.T) *kvers.Store {
			return openStore(t, must(kv.BadgerProvider.NewStorage("", settings())))
		},
	}
}

func openStore(t *testing.T, s *kv.Storage) *kvers.Store {
	store := must(kvers.Open(s, nil, kvers.Options{}))
	t.Cleanup(func() { store.Close() })
	return store
}

func eachBackend(t *testing.T, f func(t *testing.T, store *kvers.Store)) {
	for _, name := range []string{"mem", "bolt", "badger"} {
		open := backends()[name]
		t.Run(name, func(t *testing.T) {
			f(t, open(t))
		})
	}
}

func write(t *testing.T, store ers.Store, f func(txn ers.Txn)) {
	t.Helper()
	ensure(ers.Transactional(store, false, func(txn ers.Txn) error {
		f(txn)
		return nil
	}))
}

func read(t *testing.T, store ers.Store, f func(txn ers.Txn)) {
	t.Helper()
	ensure(ers.Transactional(store, true, func(txn ers.Txn) error {
		f(txn)
		return nil
	}))
}

func TestEntities(t *testing.T) {
	eachBackend(t, func(t *testing.T, store *kvers.Store) {
		var a, b ers.EntityID
		write(t, store, func(txn ers.Txn) {
			ea := must(txn.NewEntity("Class"))
			eb := must(txn.NewEntity("Class"))
			a, b = ea.ID(), eb.ID()
			if a.TypeID != b.TypeID || b.InstanceID != a.InstanceID+1 {
				t.Errorf("** got ids %v, %v, wanted consecutive instances of one type", a, b)
			}
			if ea.Type() != "Class" {
				t.Errorf("** Type = %q, wanted Class", ea.Type())
			}
			if !must(ea.SetProperty("name", []byte("Foo"))) {
				t.Errorf("** SetProperty = false, wanted true")
			}
			if must(ea.SetProperty("name", []byte("Foo"))) {
				t.Errorf("** SetProperty of the same value = true, wanted false")
			}
			ensure(eb.SetBlob("code", []byte{0xCA, 0xFE}))
		})

		read(t, store, func(txn ers.Txn) {
			ea := must(txn.Entity(a))
			if ea == nil {
				t.Fatalf("** Entity(%v) = nil", a)
			}
			if v := must(ea.Property("name")); string(v) != "Foo" {
				t.Errorf("** name = %q, wanted Foo", v)
			}
			if v := must(ea.Property("missing")); v != nil {
				t.Errorf("** missing property = %q, wanted nil", v)
			}
			eb := txn.EntityUnsafe(b)
			if v := must(eb.Blob("code")); !bytes.Equal(v, []byte{0xCA, 0xFE}) {
				t.Errorf("** code = %x, wanted cafe", v)
			}
			if e := must(txn.Entity(ers.EntityID{TypeID: a.TypeID, InstanceID: 99})); e != nil {
				t.Errorf("** Entity(99) = %v, wanted nil", e)
			}
			deepEqual(t, ids(t, txn.All("Class")), []ers.EntityID{a, b})
			deepEqual(t, must(ers.EntityTypes(txn)), []string{"Class"})
			deepEqual(t, must(ers.PropertyNames(txn, "Class")), []string{"name"})
			deepEqual(t, must(ers.BlobNames(txn, "Class")), []string{"code"})
			if n := must(ers.LinkNames(txn, "Class")); len(n) != 0 {
				t.Errorf("** LinkNames = %v, wanted none", n)
			}
			if n := must(ers.Size(txn.All("Method"))); n != 0 {
				t.Errorf("** Size(All(Method)) = %d, wanted 0", n)
			}
		})
	})
}

func TestFind(t *testing.T) {
	eachBackend(t, func(t *testing.T, store *kvers.Store) {
		byValue := map[string]ers.EntityID{}
		var dup ers.EntityID
		write(t, store, func(txn ers.Txn) {
			for _, v := range []string{"d", "b", "a", "c"} {
				e := must(txn.NewEntity("Field"))
				must(e.SetProperty("name", []byte(v)))
				byValue[v] = e.ID()
			}
			e := must(txn.NewEntity("Field"))
			must(e.SetProperty("name", []byte("b")))
			dup = e.ID()
		})
		read(t, store, func(txn ers.Txn) {
			b := []byte("b")
			deepEqual(t, ids(t, ers.Find(txn, "Field", "name", b)), []ers.EntityID{byValue["b"], dup})
			deepEqual(t, ids(t, ers.FindLt(txn, "Field", "name", b)), []ers.EntityID{byValue["a"]})
			deepEqual(t, ids(t, ers.FindEqOrLt(txn, "Field", "name", b)), []ers.EntityID{byValue["a"], byValue["b"], dup})
			deepEqual(t, ids(t, ers.FindGt(txn, "Field", "name", b)), []ers.EntityID{byValue["c"], byValue["d"]})
			deepEqual(t, ids(t, ers.FindEqOrGt(txn, "Field", "name", []byte("c"))), []ers.EntityID{byValue["c"], byValue["d"]})
			deepEqual(t, ids(t, ers.Find(txn, "Field", "name", []byte("zzz"))), []ers.EntityID(nil))
			deepEqual(t, ids(t, ers.Find(txn, "Field", "owner", b)), []ers.EntityID(nil))
			deepEqual(t, ids(t, ers.Find(txn, "Nope", "name", b)), []ers.EntityID(nil))
		})

		// changing a value moves the entity in the index
		write(t, store, func(txn ers.Txn) {
			must(txn.EntityUnsafe(dup).SetProperty("name", []byte("e")))
			must(txn.EntityUnsafe(byValue["a"]).DeleteProperty("name"))
		})
		read(t, store, func(txn ers.Txn) {
			deepEqual(t, ids(t, ers.Find(txn, "Field", "name", []byte("b"))), []ers.EntityID{byValue["b"]})
			deepEqual(t, ids(t, ers.Find(txn, "Field", "name", []byte("e"))), []ers.EntityID{dup})
			deepEqual(t, ids(t, ers.FindLt(txn, "Field", "name", []byte("b"))), []ers.EntityID(nil))
		})
	})
}

func TestLinks(t *testing.T) {
	eachBackend(t, func(t *testing.T, store *kvers.Store) {
		var cls, m1, m2 ers.EntityID
		write(t, store, func(txn ers.Txn) {
			c := must(txn.NewEntity("Class"))
			a := must(txn.NewEntity("Method"))
			b := must(txn.NewEntity("Method"))
			cls, m1, m2 = c.ID(), a.ID(), b.ID()
			if !must(c.AddLink("methods", b)) || !must(c.AddLink("methods", a)) {
				t.Errorf("** AddLink = false, wanted true")
			}
			if must(c.AddLink("methods", a)) {
				t.Errorf("** second AddLink = true, wanted false")
			}
			must(a.AddLink("owner", c))
			must(a.SetProperty("name", []byte("run")))
		})
		read(t, store, func(txn ers.Txn) {
			c := txn.EntityUnsafe(cls)
			deepEqual(t, ids(t, c.Links("methods")), []ers.EntityID{m1, m2})
			deepEqual(t, must(ers.LinkNames(txn, "Class")), []string{"methods"})
			deepEqual(t, ids(t, c.Links("fields")), []ers.EntityID(nil))
		})

		write(t, store, func(txn ers.Txn) {
			ensure(txn.EntityUnsafe(m1).Delete())
		})
		read(t, store, func(txn ers.Txn) {
			c := txn.EntityUnsafe(cls)
			deepEqual(t, ids(t, c.Links("methods")), []ers.EntityID{m2})
			if ok := must(txn.EntityUnsafe(m1).Exists()); ok {
				t.Errorf("** deleted entity still exists")
			}
			deepEqual(t, ids(t, ers.Find(txn, "Method", "name", []byte("run"))), []ers.EntityID(nil))
		})

		write(t, store, func(txn ers.Txn) {
			c := txn.EntityUnsafe(cls)
			if !must(c.DeleteLink("methods", txn.EntityUnsafe(m2))) {
				t.Errorf("** DeleteLink = false, wanted true")
			}
			must(c.AddLink("methods", txn.EntityUnsafe(m2)))
			ensure(c.DeleteLinks("methods"))
		})
		read(t, store, func(txn ers.Txn) {
			deepEqual(t, ids(t, txn.EntityUnsafe(cls).Links("methods")), []ers.EntityID(nil))
		})
	})
}

func TestIncomingLinks(t *testing.T) {
	eachBackend(t, func(t *testing.T, store *kvers.Store) {
		var cls, m1, m2, f1 ers.EntityID
		write(t, store, func(txn ers.Txn) {
			c := must(txn.NewEntity("Class"))
			a := must(txn.NewEntity("Method"))
			b := must(txn.NewEntity("Method"))
			f := must(txn.NewEntity("Field"))
			cls, m1, m2, f1 = c.ID(), a.ID(), b.ID(), f.ID()
			must(b.AddLink("owner", c))
			must(a.AddLink("owner", c))
			must(f.AddLink("owner", c))
		})
		read(t, store, func(txn ers.Txn) {
			c := txn.EntityUnsafe(cls)
			deepEqual(t, ids(t, c.IncomingLinks("owner")), []ers.EntityID{m1, m2, f1})
			deepEqual(t, ids(t, c.IncomingLinks("parent")), []ers.EntityID(nil))
			deepEqual(t, ids(t, txn.EntityUnsafe(m1).IncomingLinks("owner")), []ers.EntityID(nil))
		})

		write(t, store, func(txn ers.Txn) {
			if !must(txn.EntityUnsafe(m2).DeleteLink("owner", txn.EntityUnsafe(cls))) {
				t.Errorf("** DeleteLink = false, wanted true")
			}
			ensure(txn.EntityUnsafe(f1).Delete())
		})
		read(t, store, func(txn ers.Txn) {
			deepEqual(t, ids(t, txn.EntityUnsafe(cls).IncomingLinks("owner")), []ers.EntityID{m1})
		})

		write(t, store, func(txn ers.Txn) {
			ensure(txn.EntityUnsafe(cls).Delete())
		})
		read(t, store, func(txn ers.Txn) {
			deepEqual(t, ids(t, txn.EntityUnsafe(m1).Links("owner")), []ers.EntityID(nil))
			deepEqual(t, ids(t, txn.EntityUnsafe(cls).IncomingLinks("owner")), []ers.EntityID(nil))
		})

		write(t, store, func(txn ers.Txn) {
			c := must(txn.NewEntity("Class"))
			cls = c.ID()
			must(txn.EntityUnsafe(m1).AddLink("owner", c))
		})
		read(t, store, func(txn ers.Txn) {
			deepEqual(t, ids(t, txn.EntityUnsafe(cls).IncomingLinks("owner")), []ers.EntityID{m1})
		})
	})
}

func TestCommitPersistsSymbolsItUses(t *testing.T) {
	path := t.TempDir()
	store := must(kvers.Open(must(kv.BadgerProvider.NewStorage(path, settings())), nil, kvers.Options{}))

	a := must(store.Begin(false))
	id := must(a.NewEntity("Widget")).ID()
	// Another writer picks up the new symbol but never commits.
	b := must(store.Begin(false))
	ensure(store.Symbols().Flush(b.Context(), false))
	if ok := must(a.Commit()); !ok {
		t.Fatalf("** commit failed")
	}
	b.Abort()
	ensure(store.Close())

	store = openStore(t, must(kv.BadgerProvider.NewStorage(path, settings())))
	read(t, store, func(txn ers.Txn) {
		e := must(txn.Entity(id))
		if e == nil || e.Type() != "Widget" {
			t.Errorf("** got %v after reopening, wanted a Widget", e)
		}
	})
}

func TestSchemaCache(t *testing.T) {
	eachBackend(t, func(t *testing.T, store *kvers.Store) {
		var id ers.EntityID
		write(t, store, func(txn ers.Txn) {
			e := must(txn.NewEntity("Class"))
			id = e.ID()
			must(e.SetProperty("name", []byte("Thread")))
		})
		before := store.SchemaCacheStats()
		for range 3 {
			read(t, store, func(txn ers.Txn) {
				deepEqual(t, must(ers.PropertyNames(txn, "Class")), []string{"name"})
			})
		}
		if hits := store.SchemaCacheStats().HitCount - before.HitCount; hits != 2 {
			t.Errorf("** %d schema cache hits, wanted 2", hits)
		}

		write(t, store, func(txn ers.Txn) {
			must(txn.EntityUnsafe(id).SetProperty("access", []byte{1}))
			deepEqual(t, must(ers.PropertyNames(txn, "Class")), []string{"access", "name"})
		})
		read(t, store, func(txn ers.Txn) {
			deepEqual(t, must(ers.PropertyNames(txn, "Class")), []string{"access", "name"})
		})

		write(t, store, func(txn ers.Txn) {
			ensure(txn.DropAll())
		})
		read(t, store, func(txn ers.Txn) {
			deepEqual(t, must(ers.PropertyNames(txn, "Class")), []string(nil))
		})
	})
}

func TestDropAllKeepsSymbols(t *testing.T) {
	eachBackend(t, func(t *testing.T, store *kvers.Store) {
		var id ers.EntityID
		write(t, store, func(txn ers.Txn) {
			id = must(txn.NewEntity("Class")).ID()
		})
		write(t, store, func(txn ers.Txn) {
			ensure(txn.DropAll())
		})
		read(t, store, func(txn ers.Txn) {
			if n := must(ers.Size(txn.All("Class"))); n != 0 {
				t.Errorf("** %d entities after DropAll, wanted 0", n)
			}
		})
		write(t, store, func(txn ers.Txn) {
			e := must(txn.NewEntity("Class"))
			if e.ID() != id {
				t.Errorf("** got %v after DropAll, wanted %v again", e.ID(), id)
			}
		})
	})
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ers.db")
	store := must(kvers.Open(must(kv.BoltProvider.NewStorage(path, settings())), nil, kvers.Options{}))
	var id ers.EntityID
	write(t, store, func(txn ers.Txn) {
		e := must(txn.NewEntity("Interface"))
		must(e.SetProperty("name", []byte("Runnable")))
		id = e.ID()
	})
	ensure(store.Close())

	store = openStore(t, must(kv.BoltProvider.NewStorage(path, settings())))
	read(t, store, func(txn ers.Txn) {
		e := must(txn.Entity(id))
		if e == nil || e.Type() != "Interface" {
			t.Fatalf("** got %v, wanted an Interface", e)
		}
		deepEqual(t, ids(t, ers.Find(txn, "Interface", "name", []byte("Runnable"))), []ers.EntityID{id})
	})
}

func TestDumpLoad(t *testing.T) {
	src := backends()["mem"](t)
	var cls, m ers.EntityID
	write(t, src, func(txn ers.Txn) {
		c := must(txn.NewEntity("Class"))
		mm := must(txn.NewEntity("Method"))
		must(c.SetProperty("name", []byte("Main")))
		ensure(mm.SetBlob("code", []byte{}))
		must(c.AddLink("methods", mm))
		cls, m = c.ID(), mm.ID()
	})
	var buf bytes.Buffer
	ensure(ers.Dump(src, &buf))
	dump := buf.Bytes()

	for _, name := range []string{"bolt", "badger"} {
		t.Run(name, func(t *testing.T) {
			dst := backends()[name](t)
			write(t, dst, func(txn ers.Txn) {
				must(txn.NewEntity("Junk"))
			})
			ensure(ers.Load(dst, bytes.NewReader(dump)))
			read(t, dst, func(txn ers.Txn) {
				deepEqual(t, must(ers.EntityTypes(txn)), []string{"Class", "Method"})
				c := must(txn.Entity(cls))
				if c == nil || c.Type() != "Class" {
					t.Fatalf("** got %v, wanted the Class", c)
				}
				deepEqual(t, ids(t, c.Links("methods")), []ers.EntityID{m})
				deepEqual(t, ids(t, ers.Find(txn, "Class", "name", []byte("Main"))), []ers.EntityID{cls})
				if v := must(txn.EntityUnsafe(m).Blob("code")); v == nil || len(v) != 0 {
					t.Errorf("** code = %x, wanted empty", v)
				}
			})
		})
	}
}

func TestLoadRejectsCorruptDump(t *testing.T) {
	store := backends()["mem"](t)
	write(t, store, func(txn ers.Txn) {
		must(txn.NewEntity("Class"))
	})
	var buf bytes.Buffer
	ensure(store.Dump(&buf))
	data := slices.Clone(buf.Bytes())
	data[len(data)/2] ^= 0xFF

	err := store.Load(bytes.NewReader(data))
	if !errors.Is(err, kvers.ErrBadDump) || !errors.Is(err, ers.ErrStorage) {
		t.Fatalf("** Load(corrupt) = %v, wanted ErrBadDump", err)
	}
	read(t, store, func(txn ers.Txn) {
		if n := must(ers.Size(txn.All("Class"))); n != 1 {
			t.Errorf("** %d entities after failed load, wanted 1", n)
		}
	})
}

func TestOpenRequiresDuplicates(t *testing.T) {
	s := kv.NewMemStorage(kv.Settings{})
	defer s.Close()
	if _, err := kvers.Open(s, nil, kvers.Options{}); !errors.Is(err, ers.ErrStorage) {
		t.Fatalf("** Open = %v, wanted a storage error", err)
	}
}

func TestProvider(t *testing.T) {
	reg := ers.NewRegistry()
	reg.RegisterInstance(kvers.ProviderID, kvers.Provider)
	p := must(reg.Lookup("kv"))

	_, err := p.NewStore(bag.New())
	var mke *bag.MissingKeyError
	if !errors.As(err, &mke) || mke.Key != bag.Storage {
		t.Fatalf("** NewStore(empty bag) = %v, wanted missing %q", err, bag.Storage)
	}

	store := must(p.NewStore(bag.New(bag.Storage, kv.NewMemStorage(settings()))))
	defer store.Close()
	write(t, store, func(txn ers.Txn) {
		ctx := txn.Context()
		if got := must(bag.Get[ers.Txn](ctx, ers.TxnKey)); got != txn {
			t.Errorf("** context txn = %v, wanted %v", got, txn)
		}
		if _, err := bag.Get[*kv.Tx](ctx, bag.Tx); err != nil {
			t.Errorf("** context has no kv tx: %v", err)
		}
	})
}

func TestReadonlyTxnRejectsWrites(t *testing.T) {
	store := backends()["mem"](t)
	err := ers.Transactional(store, true, func(txn ers.Txn) error {
		_, err := txn.NewEntity("Class")
		return err
	})
	if !errors.Is(err, kv.ErrReadonly) {
		t.Fatalf("** got %v, wanted ErrReadonly", err)
	}
}

func ids(t *testing.T, it ers.Iterable) []ers.EntityID {
	t.Helper()
	var result []ers.EntityID
	for e, err := range it.Entities() {
		if err != nil {
			t.Fatalf("** iteration failed: %v", err)
		}
		result = append(result, e.ID())
	}
	return result
}

func deepEqual[T any](t *testing.T, a, e T) {
	t.Helper()
	if !reflect.DeepEqual(a, e) {
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}
