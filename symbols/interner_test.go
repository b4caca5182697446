package symbols

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreyvit/ersdb/bag"
	"github.com/andreyvit/ersdb/kv"
)

func TestFindOrNewIsStable(t *testing.T) {
	in := New(nil)
	a := in.FindOrNew("java/lang/Object")
	b := in.FindOrNew("java/lang/String")
	c := in.FindOrNew("java/lang/Object")

	assert.Equal(t, a, c)
	assert.Less(t, a, b)
	assert.Equal(t, 2, in.Len())
	assert.Equal(t, 2, in.PendingLen())

	id, ok := in.Find("java/lang/String")
	assert.True(t, ok)
	assert.Equal(t, b, id)
	_, ok = in.Find("missing")
	assert.False(t, ok)

	s, ok := in.Symbol(a)
	assert.True(t, ok)
	assert.Equal(t, "java/lang/Object", s)
}

func TestConcurrentAllocationIsDense(t *testing.T) {
	in := New(nil)
	names := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, n := range names {
				in.FindOrNew(n)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, len(names), in.Len())
	for i, e := range in.Snapshot() {
		assert.Equal(t, int64(i+1), e.ID)
	}
}

func TestFlushAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "symbols.db")
	s, err := kv.BoltProvider.NewStorage(path, kv.Settings{IsTesting: true})
	require.NoError(t, err)

	in := New(nil)
	ids := map[string]int64{}
	for _, name := range []string{"Foo", "Bar", "Baz"} {
		ids[name] = in.FindOrNew(name)
	}

	tx, err := s.Begin()
	require.NoError(t, err)
	require.NoError(t, in.Flush(bag.New(bag.Tx, tx), false))
	assert.Equal(t, 3, in.PendingLen())
	ok, err := tx.Commit()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, in.PendingLen())
	require.NoError(t, s.Close())

	s, err = kv.BoltProvider.NewStorage(path, kv.Settings{IsTesting: true})
	require.NoError(t, err)
	defer s.Close()
	fresh, err := Open(s, nil)
	require.NoError(t, err)
	for name, id := range ids {
		got, ok := fresh.Symbol(id)
		assert.True(t, ok)
		assert.Equal(t, name, got)
	}
	assert.Greater(t, fresh.FindOrNew("Qux"), ids["Baz"])
}

func TestFlushKeepsPendingOnAbort(t *testing.T) {
	s, err := kv.BadgerProvider.NewStorage(t.TempDir(), kv.Settings{IsTesting: true})
	require.NoError(t, err)
	defer s.Close()

	in := New(nil)
	id := in.FindOrNew("x")
	tx, err := s.Begin()
	require.NoError(t, err)
	require.NoError(t, in.Flush(bag.New(bag.Tx, tx), false))
	assert.True(t, in.IsPending(id))
	tx.Abort()
	assert.Equal(t, 1, in.PendingLen())
	assert.True(t, in.IsPending(id))
}

func TestPersistIsPerTransaction(t *testing.T) {
	path := t.TempDir()
	s, err := kv.BadgerProvider.NewStorage(path, kv.Settings{IsTesting: true})
	require.NoError(t, err)

	in := New(nil)
	x := in.FindOrNew("x")
	y := in.FindOrNew("y")

	other, err := s.Begin()
	require.NoError(t, err)
	require.NoError(t, in.Flush(bag.New(bag.Tx, other), false))

	tx, err := s.Begin()
	require.NoError(t, err)
	require.NoError(t, in.Persist(tx, []int64{x}))
	other.Abort()
	ok, err := tx.Commit()
	require.NoError(t, err)
	require.True(t, ok)

	assert.False(t, in.IsPending(x))
	assert.True(t, in.IsPending(y))
	require.NoError(t, s.Close())

	s, err = kv.BadgerProvider.NewStorage(path, kv.Settings{IsTesting: true})
	require.NoError(t, err)
	defer s.Close()
	fresh, err := Open(s, nil)
	require.NoError(t, err)
	name, ok := fresh.Symbol(x)
	assert.True(t, ok)
	assert.Equal(t, "x", name)
	_, ok = fresh.Symbol(y)
	assert.False(t, ok)
}

func TestFlushSkipsInMemoryUnlessForced(t *testing.T) {
	s := kv.NewMemStorage(kv.Settings{})
	defer s.Close()
	in := New(nil)
	id := in.FindOrNew("x")

	tx, err := s.Begin()
	require.NoError(t, err)
	require.NoError(t, in.Flush(bag.New(bag.Tx, tx), false))
	assert.Equal(t, 1, in.PendingLen())
	require.NoError(t, in.Flush(bag.New(bag.Tx, tx), true))
	v, err := tx.Get(MapName, idKey(id))
	require.NoError(t, err)
	assert.Equal(t, "x", string(v))
	ok, err := tx.Commit()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, in.PendingLen())
}

func TestFlushNeedsTx(t *testing.T) {
	in := New(nil)
	err := in.Flush(bag.New(), false)
	var mk *bag.MissingKeyError
	require.ErrorAs(t, err, &mk)
	assert.Equal(t, bag.Tx, mk.Key)
}

func idKey(id int64) []byte {
	return []byte{byte(id >> 56), byte(id >> 48), byte(id >> 40), byte(id >> 32), byte(id >> 24), byte(id >> 16), byte(id >> 8), byte(id)}
}
