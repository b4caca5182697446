package ers

import "iter"

// Union yields the entities of a, then those of b, each id once.
func Union(a, b Iterable) Iterable {
	if isSorted(a) && isSorted(b) {
		return mergeUnion(a, b)
	}
	return IterableFunc(func(yield func(Entity, error) bool) {
		seen := NewIDSet()
		for _, it := range [2]Iterable{a, b} {
			for e, err := range it.Entities() {
				if err != nil {
					yield(nil, err)
					return
				}
				if seen.Add(e.ID()) && !yield(e, nil) {
					return
				}
			}
		}
	})
}

// Intersect yields the entities of a whose ids also occur in b. Unless both
// are sorted, b is drained into an id set before a is read.
func Intersect(a, b Iterable) Iterable {
	if isSorted(a) && isSorted(b) {
		return mergeFilter(a, b, true)
	}
	return filterBySet(a, b, true)
}

// Subtract yields the entities of a whose ids do not occur in b.
func Subtract(a, b Iterable) Iterable {
	if isSorted(a) && isSorted(b) {
		return mergeFilter(a, b, false)
	}
	return filterBySet(a, b, false)
}

func filterBySet(a, b Iterable, keep bool) Iterable {
	f := func(yield func(Entity, error) bool) {
		other, err := IDs(b)
		if err != nil {
			yield(nil, err)
			return
		}
		for e, err := range a.Entities() {
			if err != nil {
				yield(nil, err)
				return
			}
			if other.Contains(e.ID()) == keep && !yield(e, nil) {
				return
			}
		}
	}
	if isSorted(a) {
		return SortedFunc(f)
	}
	return IterableFunc(f)
}

// puller walks a sorted iterable one entity at a time.
type puller struct {
	next func() (Entity, error, bool)
	stop func()
	cur  Entity
	err  error
	ok   bool
}

func pull(it Iterable) *puller {
	next, stop := iter.Pull2(it.Entities())
	p := &puller{next: next, stop: stop}
	p.advance()
	return p
}

func (p *puller) advance() {
	p.cur, p.err, p.ok = p.next()
	if p.err != nil {
		p.ok = false
	}
}

// skipDuplicates moves past entities repeating the id just consumed.
func (p *puller) skipDuplicates(id EntityID) {
	for p.ok && p.cur.ID() == id {
		p.advance()
	}
}

func mergeUnion(a, b Iterable) Iterable {
	return SortedFunc(func(yield func(Entity, error) bool) {
		pa, pb := pull(a), pull(b)
		defer pa.stop()
		defer pb.stop()
		for (pa.ok || pb.ok) && pa.err == nil && pb.err == nil {
			var e Entity
			switch {
			case !pb.ok:
				e = pa.cur
			case !pa.ok:
				e = pb.cur
			case pb.cur.ID().Compare(pa.cur.ID()) < 0:
				e = pb.cur
			default:
				e = pa.cur
			}
			id := e.ID()
			pa.skipDuplicates(id)
			pb.skipDuplicates(id)
			if !yield(e, nil) {
				return
			}
		}
		if err := firstErr(pa.err, pb.err); err != nil {
			yield(nil, err)
		}
	})
}

func mergeFilter(a, b Iterable, keep bool) Iterable {
	return SortedFunc(func(yield func(Entity, error) bool) {
		pa, pb := pull(a), pull(b)
		defer pa.stop()
		defer pb.stop()
		for pa.ok {
			id := pa.cur.ID()
			for pb.ok && pb.cur.ID().Compare(id) < 0 {
				pb.advance()
			}
			if pb.err != nil {
				break
			}
			found := pb.ok && pb.cur.ID() == id
			if found == keep && !yield(pa.cur, nil) {
				return
			}
			pa.skipDuplicates(id)
		}
		if err := firstErr(pa.err, pb.err); err != nil {
			yield(nil, err)
		}
	})
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
