// Package kvtest is a conformance suite run against every kv backend.
package kvtest

import (
	"encoding/hex"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/andreyvit/ersdb/kv"
)

// DupPrefix marks the maps that the suite expects to keep duplicate keys.
const DupPrefix = "dup."

// Factory opens a fresh, empty storage with the given settings.
type Factory func(t testing.TB, settings kv.Settings) *kv.Storage

type Features struct {
	// Conflicts is set for backends that let two writers run concurrently
	// and reject the later commit.
	Conflicts bool
}

// Settings returns the settings the suite passes to the factory.
func Settings() kv.Settings {
	return kv.Settings{
		Duplicates: func(name string) bool {
			return strings.HasPrefix(name, DupPrefix)
		},
		IsTesting:   true,
		TrackStacks: true,
	}
}

// RunStorageTests runs the suite as subtests of t.
func RunStorageTests(t *testing.T, name string, factory Factory, features Features) {
	open := func(t *testing.T) *kv.Storage {
		s := factory(t, Settings())
		t.Cleanup(func() {
			if err := s.Close(); err != nil {
				t.Errorf("Close: %v", err)
			}
		})
		return s
	}
	t.Run(name, func(t *testing.T) {
		t.Run("PutGetDelete", func(t *testing.T) { testPutGetDelete(t, open(t)) })
		t.Run("EmptyValue", func(t *testing.T) { testEmptyValue(t, open(t)) })
		t.Run("Abort", func(t *testing.T) { testAbort(t, open(t)) })
		t.Run("UnsignedOrder", func(t *testing.T) { testUnsignedOrder(t, open(t)) })
		t.Run("Duplicates", func(t *testing.T) { testDuplicates(t, open(t)) })
		t.Run("DuplicateKeysWithZeroBytes", func(t *testing.T) { testDuplicateKeysWithZeroBytes(t, open(t)) })
		t.Run("CursorPositioning", func(t *testing.T) { testCursorPositioning(t, open(t), "plain") })
		t.Run("CursorPositioningDup", func(t *testing.T) { testCursorPositioning(t, open(t), DupPrefix+"plain") })
		t.Run("ReverseScanOfEmptyMap", func(t *testing.T) { testReverseScanOfEmptyMap(t, open(t)) })
		t.Run("KeyLimits", func(t *testing.T) { testKeyLimits(t, open(t)) })
		t.Run("CursorSeesOwnWrites", func(t *testing.T) { testCursorSeesOwnWrites(t, open(t)) })
		t.Run("FinishedTx", func(t *testing.T) { testFinishedTx(t, open(t)) })
		t.Run("Readonly", func(t *testing.T) { testReadonly(t, open(t)) })
		t.Run("SnapshotIsolation", func(t *testing.T) { testSnapshotIsolation(t, open(t)) })
		t.Run("MapNamesAndDrop", func(t *testing.T) { testMapNamesAndDrop(t, open(t)) })
		t.Run("CloseInvalidates", func(t *testing.T) { testCloseInvalidates(t, factory(t, Settings())) })
		if features.Conflicts {
			t.Run("WriteConflict", func(t *testing.T) { testWriteConflict(t, open(t)) })
			t.Run("DisjointWriters", func(t *testing.T) { testDisjointWriters(t, open(t)) })
		}
	})
}

func testPutGetDelete(t *testing.T, s *kv.Storage) {
	write(t, s, func(tx *kv.Tx) {
		changed(t, tx, "m", "k1", "v1", true)
		changed(t, tx, "m", "k1", "v1", false)
		changed(t, tx, "m", "k1", "v2", true)
		changed(t, tx, "m", "k2", "x", true)
	})
	read(t, s, func(tx *kv.Tx) {
		get(t, tx, "m", "k1", "v2")
		get(t, tx, "m", "k2", "x")
		absent(t, tx, "m", "k3")
		absent(t, tx, "nosuchmap", "k1")
	})
	write(t, s, func(tx *kv.Tx) {
		if !must(tx.Delete("m", []byte("k1"))) {
			t.Errorf("** Delete(k1) = false, wanted true")
		}
		if must(tx.Delete("m", []byte("k1"))) {
			t.Errorf("** second Delete(k1) = true, wanted false")
		}
		if must(tx.DeleteValue("m", []byte("k2"), []byte("other"))) {
			t.Errorf("** DeleteValue(k2, other) = true, wanted false")
		}
		if !must(tx.DeleteValue("m", []byte("k2"), []byte("x"))) {
			t.Errorf("** DeleteValue(k2, x) = false, wanted true")
		}
	})
	read(t, s, func(tx *kv.Tx) {
		absent(t, tx, "m", "k1")
		absent(t, tx, "m", "k2")
	})
}

func testEmptyValue(t *testing.T, s *kv.Storage) {
	write(t, s, func(tx *kv.Tx) {
		changed(t, tx, "m", "k", "", true)
		changed(t, tx, "m", "k", "", false)
	})
	read(t, s, func(tx *kv.Tx) {
		v := must(tx.Get("m", []byte("k")))
		if v == nil || len(v) != 0 {
			t.Errorf("** got %v, wanted present empty value", v)
		}
	})
}

func testAbort(t *testing.T, s *kv.Storage) {
	tx := must(s.Begin())
	changed(t, tx, "m", "k", "v", true)
	tx.Abort()
	read(t, s, func(tx *kv.Tx) {
		absent(t, tx, "m", "k")
	})
}

func testUnsignedOrder(t *testing.T, s *kv.Storage) {
	keys := []string{"ff", "01", "80", "7f", "0100", "00ff"}
	write(t, s, func(tx *kv.Tx) {
		for _, k := range keys {
			must(tx.Put("m", x(k), []byte("v")))
		}
	})
	read(t, s, func(tx *kv.Tx) {
		scan(t, tx, "m", nil, "00ff=76", "01=76", "0100=76", "7f=76", "80=76", "ff=76")
		scanBack(t, tx, "m", nil, "ff=76", "80=76", "7f=76", "0100=76", "01=76", "00ff=76")
		scanBack(t, tx, "m", x("80"), "7f=76", "0100=76", "01=76", "00ff=76")
		scanBack(t, tx, "m", x("0101"), "0100=76", "01=76", "00ff=76")
	})
}

func testDuplicates(t *testing.T, s *kv.Storage) {
	const m = DupPrefix + "m"
	write(t, s, func(tx *kv.Tx) {
		changed(t, tx, m, "b", "2", true)
		changed(t, tx, m, "b", "1", true)
		changed(t, tx, m, "b", "3", true)
		changed(t, tx, m, "a", "9", true)
		changed(t, tx, m, "c", "0", true)
	})
	write(t, s, func(tx *kv.Tx) {
		changed(t, tx, m, "b", "2", false)
		if n := must(tx.MapStats(m)).Entries; n != 5 {
			t.Errorf("** Entries = %d, wanted 5", n)
		}
	})
	read(t, s, func(tx *kv.Tx) {
		get(t, tx, m, "b", "1")
		scan(t, tx, m, nil, "61=39", "62=31", "62=32", "62=33", "63=30")
		scan(t, tx, m, []byte("b"), "62=31", "62=32", "62=33", "63=30")
		scanBack(t, tx, m, []byte("c"), "62=33", "62=32", "62=31", "61=39")
		scanBack(t, tx, m, nil, "63=30", "62=33", "62=32", "62=31", "61=39")
		scanBack(t, tx, m, []byte("b"), "61=39")
		scanBack(t, tx, m, []byte("bb"), "62=33", "62=32", "62=31", "61=39")
		scanBack(t, tx, m, []byte("a"))

		c := must(tx.Navigate(m, []byte("b")))
		defer c.Close()
		ensureMove(t, c.Next(), true)
		deepEqual(t, string(c.Value()), "1")
		ensureMove(t, c.Next(), true)
		deepEqual(t, string(c.Value()), "2")
		ensureMove(t, c.Prev(), true)
		deepEqual(t, string(c.Value()), "1")
		ensureMove(t, c.Prev(), true)
		deepEqual(t, string(c.Key()), "a")
	})
	write(t, s, func(tx *kv.Tx) {
		if !must(tx.DeleteValue(m, []byte("b"), []byte("2"))) {
			t.Errorf("** DeleteValue(b, 2) = false, wanted true")
		}
	})
	read(t, s, func(tx *kv.Tx) {
		scan(t, tx, m, nil, "61=39", "62=31", "62=33", "63=30")
	})
	write(t, s, func(tx *kv.Tx) {
		if !must(tx.Delete(m, []byte("b"))) {
			t.Errorf("** Delete(b) = false, wanted true")
		}
	})
	read(t, s, func(tx *kv.Tx) {
		absent(t, tx, m, "b")
		scan(t, tx, m, nil, "61=39", "63=30")
	})
}

func testDuplicateKeysWithZeroBytes(t *testing.T, s *kv.Storage) {
	const m = DupPrefix + "z"
	write(t, s, func(tx *kv.Tx) {
		for _, k := range []string{"6100", "61", "610062", "6162", "00", "0000"} {
			must(tx.Put(m, x(k), x("00")))
			must(tx.Put(m, x(k), x("ff")))
		}
	})
	read(t, s, func(tx *kv.Tx) {
		scan(t, tx, m, nil,
			"00=00", "00=ff", "0000=00", "0000=ff",
			"61=00", "61=ff", "6100=00", "6100=ff", "610062=00", "610062=ff",
			"6162=00", "6162=ff")
		scanBack(t, tx, m, nil,
			"6162=ff", "6162=00",
			"610062=ff", "610062=00", "6100=ff", "6100=00", "61=ff", "61=00",
			"0000=ff", "0000=00", "00=ff", "00=00")
		scanBack(t, tx, m, x("6100"), "61=ff", "61=00", "0000=ff", "0000=00", "00=ff", "00=00")
		get(t, tx, m, "\x61\x00", "\x00")
	})
}

func testCursorPositioning(t *testing.T, s *kv.Storage, m string) {
	write(t, s, func(tx *kv.Tx) {
		for _, k := range []string{"b", "d", "f"} {
			must(tx.Put(m, []byte(k), []byte(strings.ToUpper(k))))
		}
	})
	read(t, s, func(tx *kv.Tx) {
		scan(t, tx, m, []byte("c"), "64=44", "66=46")
		scan(t, tx, m, []byte("d"), "64=44", "66=46")
		scanBack(t, tx, m, []byte("c"), "62=42")
		scanBack(t, tx, m, []byte("d"), "62=42")
		scanBack(t, tx, m, []byte("z"), "66=46", "64=44", "62=42")
		scan(t, tx, m, []byte("z"))
		scanBack(t, tx, m, nil, "66=46", "64=44", "62=42")
		scanBack(t, tx, m, []byte("a"))
		scanBack(t, tx, "nosuchmap", nil)

		c := must(tx.Navigate(m, nil))
		ensureMove(t, c.Prev(), true)
		deepEqual(t, string(c.Key()), "f")
		ensureMove(t, c.Prev(), true)
		deepEqual(t, string(c.Key()), "d")
		ensureMove(t, c.Next(), true)
		deepEqual(t, string(c.Key()), "f")
		ensureMove(t, c.Next(), false)
		c.Close()

		c = must(tx.Navigate(m, []byte("d")))
		ensureMove(t, c.Next(), true)
		deepEqual(t, string(c.Key()), "d")
		ensureMove(t, c.Next(), true)
		deepEqual(t, string(c.Key()), "f")
		ensureMove(t, c.Prev(), true)
		deepEqual(t, string(c.Key()), "d")
		ensureMove(t, c.Prev(), true)
		deepEqual(t, string(c.Key()), "b")
		ensureMove(t, c.Prev(), false)
		ensureMove(t, c.Next(), false)
		if c.Err() != nil {
			t.Errorf("** Err = %v after exhaustion, wanted nil", c.Err())
		}
		assertPanicsWith(t, kv.ErrNoSuchElement, func() { c.Key() })
		assertPanicsWith(t, kv.ErrNoSuchElement, func() { c.Value() })
		c.Close()
		c.Close()
	})
}

func testReverseScanOfEmptyMap(t *testing.T, s *kv.Storage) {
	write(t, s, func(tx *kv.Tx) {
		must(tx.Put("m", []byte("k"), []byte("v")))
		must(tx.Put(DupPrefix+"m", []byte("k"), []byte("v")))
	})
	write(t, s, func(tx *kv.Tx) {
		must(tx.Delete("m", []byte("k")))
		must(tx.Delete(DupPrefix+"m", []byte("k")))
	})
	read(t, s, func(tx *kv.Tx) {
		scanBack(t, tx, "m", nil)
		scanBack(t, tx, DupPrefix+"m", nil)
		scan(t, tx, "m", nil)
	})
}

func testKeyLimits(t *testing.T, s *kv.Storage) {
	const dup = DupPrefix + "m"
	big := []byte(strings.Repeat("k", kv.MaxKeySize))
	write(t, s, func(tx *kv.Tx) {
		isErr(t, kv.ErrEmptyKey, second(tx.Put("m", nil, []byte("v"))))
		isErr(t, kv.ErrEmptyKey, second(tx.Put("m", []byte{}, []byte("v"))))
		isErr(t, kv.ErrKeyTooLarge, second(tx.Put("m", append(big, 'x'), []byte("v"))))
		changed(t, tx, "m", string(big), "v", true)

		changed(t, tx, dup, "", "v", true)
		isErr(t, kv.ErrKeyTooLarge, second(tx.Put(dup, []byte("k"), big)))
		changed(t, tx, dup, "k", string(big[:kv.MaxKeySize-3]), true)
	})
	read(t, s, func(tx *kv.Tx) {
		get(t, tx, "m", string(big), "v")
		get(t, tx, dup, "", "v")
		if v := must(tx.Get(dup, []byte("k"))); len(v) != kv.MaxKeySize-3 {
			t.Errorf("** got %d-byte value, wanted %d", len(v), kv.MaxKeySize-3)
		}
	})
}

func testCursorSeesOwnWrites(t *testing.T, s *kv.Storage) {
	write(t, s, func(tx *kv.Tx) {
		must(tx.Put("m", []byte("a"), []byte("1")))
		must(tx.Put("m", []byte("c"), []byte("3")))
	})
	write(t, s, func(tx *kv.Tx) {
		c := must(tx.Navigate("m", nil))
		defer c.Close()
		ensureMove(t, c.Next(), true)
		deepEqual(t, string(c.Key()), "a")
		must(tx.Put("m", []byte("b"), []byte("2")))
		must(tx.Delete("m", []byte("c")))
		must(tx.Put("m", []byte("d"), []byte("4")))
		ensureMove(t, c.Next(), true)
		deepEqual(t, string(c.Key()), "b")
		ensureMove(t, c.Next(), true)
		deepEqual(t, string(c.Key()), "d")
		ensureMove(t, c.Next(), false)
	})
}

func testFinishedTx(t *testing.T, s *kv.Storage) {
	tx := must(s.Begin())
	var hooks []bool
	tx.OnFinish(func(committed bool) { hooks = append(hooks, committed) })
	must(tx.Put("m", []byte("k"), []byte("v")))
	c := must(tx.Navigate("m", nil))
	if !must(tx.Commit()) {
		t.Fatalf("** Commit = false, wanted true")
	}
	deepEqual(t, hooks, []bool{true})
	if !tx.Finished() || !tx.Committed() {
		t.Errorf("** Finished = %v, Committed = %v, wanted true, true", tx.Finished(), tx.Committed())
	}

	isErr(t, kv.ErrTxFinished, second(tx.Get("m", []byte("k"))))
	isErr(t, kv.ErrTxFinished, second(tx.Put("m", []byte("k"), []byte("w"))))
	isErr(t, kv.ErrTxFinished, second(tx.Delete("m", []byte("k"))))
	isErr(t, kv.ErrTxFinished, second(tx.Navigate("m", nil)))
	isErr(t, kv.ErrTxFinished, second(tx.Commit()))
	tx.Abort()
	deepEqual(t, hooks, []bool{true})

	ensureMove(t, c.Next(), false)
	isErr(t, kv.ErrTxFinished, c.Err())

	tx = must(s.Begin())
	tx.OnFinish(func(committed bool) { hooks = append(hooks, committed) })
	tx.Abort()
	tx.Abort()
	deepEqual(t, hooks, []bool{true, false})
	if !errors.Is(kv.ErrTxFinished, kv.ErrStorage) {
		t.Errorf("** ErrTxFinished does not match ErrStorage")
	}
}

func testReadonly(t *testing.T, s *kv.Storage) {
	tx := must(s.BeginReadonly())
	defer tx.Abort()
	if tx.Writable() {
		t.Errorf("** Writable = true, wanted false")
	}
	isErr(t, kv.ErrReadonly, second(tx.Put("m", []byte("k"), []byte("v"))))
	isErr(t, kv.ErrReadonly, tx.DropMap("m"))
	if !must(tx.Commit()) {
		t.Errorf("** readonly Commit = false, wanted true")
	}
}

func testSnapshotIsolation(t *testing.T, s *kv.Storage) {
	write(t, s, func(tx *kv.Tx) {
		must(tx.Put("m", []byte("k"), []byte("old")))
	})
	rtx := must(s.BeginReadonly())
	defer rtx.Abort()
	write(t, s, func(tx *kv.Tx) {
		must(tx.Put("m", []byte("k"), []byte("new")))
	})
	get(t, rtx, "m", "k", "old")
	read(t, s, func(tx *kv.Tx) {
		get(t, tx, "m", "k", "new")
	})
}

func testMapNamesAndDrop(t *testing.T, s *kv.Storage) {
	write(t, s, func(tx *kv.Tx) {
		must(tx.Put("b", []byte("k"), []byte("v")))
		must(tx.Put("a", []byte("k"), []byte("v")))
		must(tx.Put(DupPrefix+"c", []byte("k"), []byte("v")))
	})
	read(t, s, func(tx *kv.Tx) {
		deepEqual(t, must(tx.MapNames()), []string{"a", "b", DupPrefix + "c"})
	})
	write(t, s, func(tx *kv.Tx) {
		ensure(tx.DropMap("b"))
		ensure(tx.DropMap("nosuchmap"))
	})
	read(t, s, func(tx *kv.Tx) {
		deepEqual(t, must(tx.MapNames()), []string{"a", DupPrefix + "c"})
		absent(t, tx, "b", "k")
	})
}

func testCloseInvalidates(t *testing.T, s *kv.Storage) {
	tx := must(s.BeginReadonly())
	c := must(tx.Navigate("m", nil))
	if n := s.OpenTxCount(); n != 1 {
		t.Errorf("** OpenTxCount = %d, wanted 1", n)
	}
	if d := s.DescribeOpenTxns(); !strings.Contains(d, tx.ID().String()) {
		t.Errorf("** DescribeOpenTxns = %q, wanted it to mention %s", d, tx.ID())
	}
	ensure(s.Close())
	if !tx.Finished() {
		t.Errorf("** tx not finished after storage Close")
	}
	isErr(t, kv.ErrTxFinished, second(tx.Get("m", []byte("k"))))
	ensureMove(t, c.Next(), false)
	isErr(t, kv.ErrStorageClosed, second(s.Begin()))
	ensure(s.Close())
}

func testWriteConflict(t *testing.T, s *kv.Storage) {
	write(t, s, func(tx *kv.Tx) {
		must(tx.Put("m", []byte("k"), []byte("0")))
	})
	tx1 := must(s.Begin())
	tx2 := must(s.Begin())
	get(t, tx2, "m", "k", "0")
	must(tx1.Put("m", []byte("k"), []byte("1")))
	must(tx2.Put("m", []byte("k"), []byte("2")))
	if !must(tx1.Commit()) {
		t.Fatalf("** first Commit = false, wanted true")
	}
	ok, err := tx2.Commit()
	if ok || err != nil {
		t.Fatalf("** second Commit = %v, %v; wanted false, nil", ok, err)
	}
	if !tx2.Finished() || tx2.Committed() {
		t.Errorf("** conflicting tx: Finished = %v, Committed = %v", tx2.Finished(), tx2.Committed())
	}
	read(t, s, func(tx *kv.Tx) {
		get(t, tx, "m", "k", "1")
	})
}

func testDisjointWriters(t *testing.T, s *kv.Storage) {
	tx1 := must(s.Begin())
	tx2 := must(s.Begin())
	must(tx1.Put("m1", []byte("k"), []byte("1")))
	must(tx2.Put("m2", []byte("k"), []byte("2")))
	if !must(tx1.Commit()) || !must(tx2.Commit()) {
		t.Fatalf("** disjoint writers conflicted")
	}
	read(t, s, func(tx *kv.Tx) {
		get(t, tx, "m1", "k", "1")
		get(t, tx, "m2", "k", "2")
	})
}

func write(t testing.TB, s *kv.Storage, f func(tx *kv.Tx)) {
	t.Helper()
	tx := must(s.Begin())
	defer tx.Abort()
	f(tx)
	ok, err := tx.Commit()
	if err != nil || !ok {
		t.Fatalf("** Commit = %v, %v", ok, err)
	}
}

func read(t testing.TB, s *kv.Storage, f func(tx *kv.Tx)) {
	t.Helper()
	tx := must(s.BeginReadonly())
	defer tx.Abort()
	f(tx)
}

func changed(t testing.TB, tx *kv.Tx, m, k, v string, wanted bool) {
	t.Helper()
	if got := must(tx.Put(m, []byte(k), []byte(v))); got != wanted {
		t.Errorf("** Put(%s, %q, %q) = %v, wanted %v", m, k, v, got, wanted)
	}
}

func get(t testing.TB, tx *kv.Tx, m, k, wanted string) {
	t.Helper()
	v := must(tx.Get(m, []byte(k)))
	if v == nil {
		t.Errorf("** Get(%s, %q) = absent, wanted %q", m, k, wanted)
	} else if string(v) != wanted {
		t.Errorf("** Get(%s, %q) = %q, wanted %q", m, k, v, wanted)
	}
}

func absent(t testing.TB, tx *kv.Tx, m, k string) {
	t.Helper()
	if v := must(tx.Get(m, []byte(k))); v != nil {
		t.Errorf("** Get(%s, %q) = %q, wanted absent", m, k, v)
	}
}

func scan(t testing.TB, tx *kv.Tx, m string, from []byte, wanted ...string) {
	t.Helper()
	c := must(tx.Navigate(m, from))
	defer c.Close()
	var got []string
	for c.Next() {
		got = append(got, hex.EncodeToString(c.Key())+"="+hex.EncodeToString(c.Value()))
	}
	ensure(c.Err())
	deepEqual(t, got, nilIfEmpty(wanted))
}

func scanBack(t testing.TB, tx *kv.Tx, m string, from []byte, wanted ...string) {
	t.Helper()
	c := must(tx.Navigate(m, from))
	defer c.Close()
	var got []string
	for c.Prev() {
		got = append(got, hex.EncodeToString(c.Key())+"="+hex.EncodeToString(c.Value()))
	}
	ensure(c.Err())
	deepEqual(t, got, nilIfEmpty(wanted))
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

func ensureMove(t testing.TB, got, wanted bool) {
	t.Helper()
	if got != wanted {
		t.Fatalf("** cursor move = %v, wanted %v", got, wanted)
	}
}

func isErr(t testing.TB, wanted, err error) {
	t.Helper()
	if !errors.Is(err, wanted) {
		t.Errorf("** got error %v, wanted %v", err, wanted)
	}
}

func deepEqual[T any](t testing.TB, a, e T) {
	t.Helper()
	if !reflect.DeepEqual(a, e) {
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func assertPanicsWith(t testing.TB, wanted error, f func()) {
	t.Helper()
	defer func() {
		t.Helper()
		p := recover()
		err, _ := p.(error)
		if !errors.Is(err, wanted) {
			t.Errorf("** got panic %v, wanted %v", p, wanted)
		}
	}()
	f()
}

func second[T any](_ T, err error) error {
	return err
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

func x(data string) []byte {
	data = strings.ReplaceAll(data, " ", "")
	return must(hex.DecodeString(data))
}
