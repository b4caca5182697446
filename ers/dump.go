package ers

import "io"

// Dumper is implemented by stores that can export their whole state as an
// opaque byte stream and replace it from one.
type Dumper interface {
	Dump(w io.Writer) error
	Load(r io.Reader) error
}

// Dump writes the state of store to w. It does nothing for stores that do
// not implement Dumper.
func Dump(store Store, w io.Writer) error {
	if d, ok := unwrapStore(store).(Dumper); ok {
		return d.Dump(w)
	}
	return nil
}

// Load replaces the state of store with a stream written by Dump. It does
// nothing for stores that do not implement Dumper.
func Load(store Store, r io.Reader) error {
	if d, ok := unwrapStore(store).(Dumper); ok {
		return d.Load(r)
	}
	return nil
}

// CanDump reports whether Dump and Load do anything for store.
func CanDump(store Store) bool {
	_, ok := unwrapStore(store).(Dumper)
	return ok
}

func unwrapStore(store Store) Store {
	for {
		if _, ok := store.(Dumper); ok {
			return store
		}
		d, ok := store.(interface{ Delegate() Store })
		if !ok {
			return store
		}
		store = d.Delegate()
	}
}
