package kv_test

import (
	"path/filepath"
	"testing"

	"github.com/andreyvit/ersdb/kv"
	"github.com/andreyvit/ersdb/kv/kvtest"
)

func TestMemStorage(t *testing.T) {
	kvtest.RunStorageTests(t, "mem", func(t testing.TB, settings kv.Settings) *kv.Storage {
		return kv.NewMemStorage(settings)
	}, kvtest.Features{Conflicts: true})
}

func TestBoltStorage(t *testing.T) {
	kvtest.RunStorageTests(t, "bolt", func(t testing.TB, settings kv.Settings) *kv.Storage {
		path := filepath.Join(t.TempDir(), "test.db")
		return must(kv.BoltProvider.NewStorage(path, settings))
	}, kvtest.Features{})
}

func TestBadgerStorage(t *testing.T) {
	kvtest.RunStorageTests(t, "badger", func(t testing.TB, settings kv.Settings) *kv.Storage {
		return must(kv.BadgerProvider.NewStorage("", settings))
	}, kvtest.Features{Conflicts: true})
}

func TestBadgerStorageOnDisk(t *testing.T) {
	dir := t.TempDir()
	s := must(kv.BadgerProvider.NewStorage(dir, kv.Settings{IsTesting: true}))
	if s.InMemory() {
		t.Errorf("** InMemory = true for on-disk badger")
	}
	tx := must(s.Begin())
	must(tx.Put("m", []byte("k"), []byte("v")))
	if !must(tx.Commit()) {
		t.Fatal("** Commit = false")
	}
	ensure(s.Close())

	s = must(kv.BadgerProvider.NewStorage(dir, kv.Settings{IsTesting: true}))
	defer s.Close()
	tx = must(s.BeginReadonly())
	defer tx.Abort()
	if v := must(tx.Get("m", []byte("k"))); string(v) != "v" {
		t.Errorf("** got %q, wanted v", v)
	}
}

func TestRegistry(t *testing.T) {
	reg := kv.NewRegistry()
	s := must(kv.Open(reg, kv.Mem, "", kv.Settings{}))
	defer s.Close()
	if s.Backend() != kv.Mem || !s.InMemory() {
		t.Errorf("** got backend %q, in-memory %v", s.Backend(), s.InMemory())
	}
	if _, err := kv.Open(reg, "rocks", "", kv.Settings{}); err == nil {
		t.Errorf("** Open(rocks) succeeded, wanted not found")
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
