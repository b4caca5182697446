package ersdb_test

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/andreyvit/ersdb"
	"github.com/andreyvit/ersdb/config"
	"github.com/andreyvit/ersdb/ers"
	"github.com/andreyvit/ersdb/kv"
	"github.com/andreyvit/ersdb/provider"
)

func setup(t *testing.T, opt ersdb.Options) *ersdb.DB {
	opt.IsTesting = true
	db := must(ersdb.Open(opt))
	t.Cleanup(func() { db.Close() })
	return db
}

func TestReadWrite(t *testing.T) {
	db := setup(t, ersdb.Options{Checked: true})

	var id ers.EntityID
	ensure(db.Write(func(txn ers.Txn) error {
		e, err := txn.NewEntity("User")
		if err != nil {
			return err
		}
		id = e.ID()
		_, err = e.SetProperty("email", []byte("foo@example.com"))
		return err
	}))

	ensure(db.Read(func(txn ers.Txn) error {
		e := must(txn.Entity(id))
		if e == nil {
			t.Fatalf("** entity %v not found", id)
		}
		if v := must(e.Property("email")); string(v) != "foo@example.com" {
			t.Errorf("** email = %q", v)
		}
		found := must(ers.ToSlice(txn.Find("User", "email", []byte("foo@example.com"), ers.Eq)))
		if len(found) != 1 || found[0].ID() != id {
			t.Errorf("** Find returned %d entities", len(found))
		}
		return nil
	}))

	if db.ReadCount.Load() != 1 || db.WriteCount.Load() != 1 {
		t.Errorf("** reads %d, writes %d", db.ReadCount.Load(), db.WriteCount.Load())
	}
}

func TestWriteErrorAborts(t *testing.T) {
	db := setup(t, ersdb.Options{})
	boom := errors.New("boom")
	err := db.Write(func(txn ers.Txn) error {
		must(txn.NewEntity("User"))
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("** Write = %v, wanted boom", err)
	}
	ensure(db.Read(func(txn ers.Txn) error {
		if n := must(ers.Size(txn.All("User"))); n != 0 {
			t.Errorf("** %d users after aborted write", n)
		}
		return nil
	}))
}

func TestCheckedRejectsDeletedEntity(t *testing.T) {
	db := setup(t, ersdb.Options{Checked: true})
	err := db.Write(func(txn ers.Txn) error {
		e := must(txn.NewEntity("User"))
		ensure(e.Delete())
		_, err := e.SetProperty("name", []byte("x"))
		return err
	})
	if !errors.Is(err, ers.ErrNonExistingEntity) {
		t.Errorf("** got %v, wanted ErrNonExistingEntity", err)
	}
}

func TestDumpLoadAcrossBackends(t *testing.T) {
	src := setup(t, ersdb.Options{})
	ensure(src.Write(func(txn ers.Txn) error {
		a := must(txn.NewEntity("Person"))
		b := must(txn.NewEntity("Person"))
		must(a.SetProperty("name", []byte("alice")))
		must(b.SetProperty("name", []byte("bob")))
		must(a.AddLink("friend", b))
		return nil
	}))

	var buf bytes.Buffer
	ensure(src.Dump(&buf))

	dst := setup(t, ersdb.Options{Backend: kv.Bolt, Location: filepath.Join(t.TempDir(), "ers.db")})
	ensure(dst.Load(bytes.NewReader(buf.Bytes())))
	ensure(dst.Read(func(txn ers.Txn) error {
		people := must(ers.ToSlice(txn.All("Person")))
		if len(people) != 2 {
			t.Fatalf("** got %d people, wanted 2", len(people))
		}
		friends := must(ers.ToSlice(people[0].Links("friend")))
		if len(friends) != 1 || string(must(friends[0].Property("name"))) != "bob" {
			t.Errorf("** alice's friends are wrong: %v", friends)
		}
		return nil
	}))
}

func TestReopenBolt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ers.db")
	db := must(ersdb.Open(ersdb.Options{Backend: kv.Bolt, Location: path, IsTesting: true}))
	ensure(db.Write(func(txn ers.Txn) error {
		e := must(txn.NewEntity("Note"))
		_, err := e.SetProperty("text", []byte("hello"))
		return err
	}))
	ensure(db.Close())

	db = setup(t, ersdb.Options{Backend: kv.Bolt, Location: path})
	ensure(db.Read(func(txn ers.Txn) error {
		notes := must(ers.ToSlice(txn.Find("Note", "text", []byte("hello"), ers.Eq)))
		if len(notes) != 1 {
			t.Errorf("** got %d notes after reopen, wanted 1", len(notes))
		}
		return nil
	}))
	if _, ok := db.Symbols().Find("Note"); !ok {
		t.Errorf("** symbol Note not reloaded")
	}
}

func TestStats(t *testing.T) {
	db := setup(t, ersdb.Options{})
	ensure(db.Write(func(txn ers.Txn) error {
		_, err := txn.NewEntity("User")
		return err
	}))
	st := must(db.Stats())
	if len(st.Maps) == 0 {
		t.Errorf("** no maps reported")
	}
	if st.Symbols == 0 {
		t.Errorf("** no symbols reported")
	}
	if st.OpenTxns != 0 {
		t.Errorf("** %d open transactions", st.OpenTxns)
	}
}

func TestIntrospectionThroughDecorators(t *testing.T) {
	db := setup(t, ersdb.Options{Checked: true})
	ensure(db.Write(func(txn ers.Txn) error {
		e := must(txn.NewEntity("User"))
		_, err := e.SetProperty("email", []byte("x"))
		return err
	}))
	ensure(db.Read(func(txn ers.Txn) error {
		types := must(ers.EntityTypes(txn))
		if len(types) != 1 || types[0] != "User" {
			t.Errorf("** EntityTypes = %v, wanted [User]", types)
		}
		props := must(ers.PropertyNames(txn, "User"))
		if len(props) != 1 || props[0] != "email" {
			t.Errorf("** PropertyNames = %v, wanted [email]", props)
		}
		return nil
	}))
}

func TestUnknownProviders(t *testing.T) {
	for _, opt := range []ersdb.Options{
		{Backend: "rocks"},
		{ERSProvider: "sql"},
		{CacheProvider: "arc"},
	} {
		_, err := ersdb.Open(opt)
		var nf *provider.NotFoundError
		if !errors.As(err, &nf) {
			t.Errorf("** Open(%+v) = %v, wanted NotFoundError", opt, err)
		}
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Storage.Backend = "mem"
	cfg.Cache.Size = 16
	cfg.Cache.Expiration = config.Duration{Duration: time.Minute}
	opt := must(ersdb.OptionsFromConfig(cfg))
	if opt.Backend != kv.Mem || opt.Cache.MaximumSize != 16 || opt.Cache.ExpirationDuration != time.Minute {
		t.Errorf("** got %+v", opt)
	}
	if !opt.Checked || opt.Attempts != 10 {
		t.Errorf("** got checked %v, attempts %d", opt.Checked, opt.Attempts)
	}
	db := setup(t, opt)
	ensure(db.Write(func(txn ers.Txn) error {
		_, err := txn.NewEntity("User")
		return err
	}))

	cfg.Cache.ValueRef = "phantom"
	if _, err := ersdb.OptionsFromConfig(cfg); err == nil {
		t.Errorf("** OptionsFromConfig accepted value_ref phantom")
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
