package typed_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreyvit/ersdb/codec"
	"github.com/andreyvit/ersdb/ers"
	"github.com/andreyvit/ersdb/ers/kvers"
	"github.com/andreyvit/ersdb/kv"
	"github.com/andreyvit/ersdb/typed"
)

type methodInfo struct {
	Descriptor string   `msgpack:"d"`
	Exceptions []string `msgpack:"x"`
}

var (
	Class  = typed.NewType("Class")
	Method = typed.NewType("Method")

	className   = typed.NewProperty(Class, "name", codec.String)
	classAccess = typed.NewProperty(Class, "access", codec.CompressedInt64)
	methodName  = typed.NewProperty(Method, "name", codec.String)
	methodInfoB = typed.NewBlob(Method, "info", codec.Msgpack[methodInfo]())
	methods     = typed.NewLink(Class, "methods", Method)
	owner       = typed.NewLink(Method, "owner", Class)
)

func newStore(t *testing.T) ers.Store {
	s := kv.NewMemStorage(kv.Settings{Duplicates: kvers.Duplicates})
	store, err := kvers.Open(s, nil, kvers.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return ers.Decorated(store)
}

func TestTypedAccessors(t *testing.T) {
	store := newStore(t)
	err := ers.Transactional(store, false, func(txn ers.Txn) error {
		c, err := Class.New(txn)
		require.NoError(t, err)
		m, err := Method.New(txn)
		require.NoError(t, err)

		changed, err := className.Set(c, "java/lang/Thread")
		require.NoError(t, err)
		assert.True(t, changed)
		_, err = classAccess.Set(c, 0x21)
		require.NoError(t, err)
		_, err = methodName.Set(m, "run")
		require.NoError(t, err)
		require.NoError(t, methodInfoB.Set(m, methodInfo{Descriptor: "()V", Exceptions: []string{"java/lang/InterruptedException"}}))
		_, err = methods.Add(c, m)
		require.NoError(t, err)
		require.NoError(t, owner.Set(m, c))

		name, ok, err := className.Get(c)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "java/lang/Thread", name)

		access, err := classAccess.GetOr(c, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(0x21), access)

		_, ok, err = methodName.Get(m)
		require.NoError(t, err)
		assert.True(t, ok)

		info, ok, err := methodInfoB.Get(m)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "()V", info.Descriptor)
		assert.Equal(t, []string{"java/lang/InterruptedException"}, info.Exceptions)

		found, err := className.First(txn, "java/lang/Thread")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, c.ID(), found.ID())

		target, err := owner.Target(m)
		require.NoError(t, err)
		require.NotNil(t, target)
		assert.Equal(t, c.ID(), target.ID())

		n, err := ers.Size(methods.Targets(c))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		return nil
	})
	require.NoError(t, err)
}

func TestLinkSources(t *testing.T) {
	store := newStore(t)
	err := ers.Transactional(store, false, func(txn ers.Txn) error {
		c, err := Class.New(txn)
		require.NoError(t, err)
		m1, err := Method.New(txn)
		require.NoError(t, err)
		m2, err := Method.New(txn)
		require.NoError(t, err)
		f, err := txn.NewEntity("Field")
		require.NoError(t, err)

		require.NoError(t, owner.Set(m2, c))
		require.NoError(t, owner.Set(m1, c))
		_, err = f.AddLink("owner", c)
		require.NoError(t, err)

		var got []ers.EntityID
		for e, err := range owner.Sources(c).Entities() {
			require.NoError(t, err)
			got = append(got, e.ID())
		}
		assert.Equal(t, []ers.EntityID{m1.ID(), m2.ID()}, got)

		n, err := ers.Size(c.IncomingLinks("owner"))
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		require.NoError(t, m1.Delete())
		n, err = ers.Size(owner.Sources(c))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = ers.Size(owner.Sources(m2))
		assert.ErrorIs(t, err, typed.ErrTypeMismatch)
		return nil
	})
	require.NoError(t, err)
}

func TestTypeMismatch(t *testing.T) {
	store := newStore(t)
	err := ers.Transactional(store, false, func(txn ers.Txn) error {
		c, err := Class.New(txn)
		require.NoError(t, err)
		m, err := Method.New(txn)
		require.NoError(t, err)

		_, err = methodName.Set(c, "oops")
		var tme *typed.TypeMismatchError
		require.ErrorAs(t, err, &tme)
		assert.Equal(t, "Class", tme.Actual)
		assert.Equal(t, "Method", tme.Wanted)
		assert.ErrorIs(t, err, ers.ErrStorage)

		_, err = methods.Add(c, c)
		assert.ErrorIs(t, err, typed.ErrTypeMismatch)
		_, err = ers.Size(methods.Targets(m))
		assert.ErrorIs(t, err, typed.ErrTypeMismatch)
		assert.True(t, Method.Is(m))
		assert.False(t, Class.Is(m))
		return nil
	})
	require.NoError(t, err)
}

func TestCompressedRangeQuery(t *testing.T) {
	store := newStore(t)
	err := ers.Transactional(store, false, func(txn ers.Txn) error {
		for _, v := range []int64{-300, -1, 0, 7, 1 << 20} {
			c, err := Class.New(txn)
			require.NoError(t, err)
			_, err = classAccess.Set(c, v)
			require.NoError(t, err)
		}
		var got []int64
		for e, err := range classAccess.Find(txn, 0, ers.EqOrGt).Entities() {
			require.NoError(t, err)
			v, _, err := classAccess.Get(e)
			require.NoError(t, err)
			got = append(got, v)
		}
		assert.Equal(t, []int64{0, 7, 1 << 20}, got)

		n, err := ers.Size(classAccess.Find(txn, 0, ers.Lt))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		_, ok, err := className.Get(must(ers.ToSlice(Class.All(txn)))[0])
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
