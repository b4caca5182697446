package ers

import (
	"iter"

	"github.com/andreyvit/ersdb/codec"
)

// Iterable is a lazy, finite sequence of entities. Each call to Entities
// starts a fresh pass. An error ends the sequence.
type Iterable interface {
	Entities() iter.Seq2[Entity, error]
}

// Sorted is implemented by iterables that can promise ascending id order.
// When both operands of Union, Intersect or Subtract are sorted, the
// operation merges them in a single pass without building id sets.
type Sorted interface {
	Iterable
	Ascending() bool
}

func isSorted(it Iterable) bool {
	s, ok := it.(Sorted)
	return ok && s.Ascending()
}

// IterableFunc adapts a sequence function to Iterable.
type IterableFunc iter.Seq2[Entity, error]

func (f IterableFunc) Entities() iter.Seq2[Entity, error] {
	return iter.Seq2[Entity, error](f)
}

// SortedFunc is an IterableFunc that yields entities in ascending id order.
type SortedFunc iter.Seq2[Entity, error]

func (f SortedFunc) Entities() iter.Seq2[Entity, error] {
	return iter.Seq2[Entity, error](f)
}

func (SortedFunc) Ascending() bool { return true }

// Empty is the iterable with no entities.
var Empty Iterable = SortedFunc(func(func(Entity, error) bool) {})

// Failed returns an iterable that yields only err.
func Failed(err error) Iterable {
	return IterableFunc(func(yield func(Entity, error) bool) {
		yield(nil, err)
	})
}

// IDSet is a set of entity ids, stored as one sparse bitmap per type.
type IDSet struct {
	types map[int32]*codec.IDSet
	n     int
}

func NewIDSet() *IDSet {
	return &IDSet{types: make(map[int32]*codec.IDSet)}
}

// Add reports whether id was not in the set yet.
func (s *IDSet) Add(id EntityID) bool {
	t := s.types[id.TypeID]
	if t == nil {
		t = codec.NewIDSet()
		s.types[id.TypeID] = t
	}
	if !t.Add(uint64(id.InstanceID)) {
		return false
	}
	s.n++
	return true
}

func (s *IDSet) Contains(id EntityID) bool {
	if s == nil {
		return false
	}
	return s.types[id.TypeID].Contains(uint64(id.InstanceID))
}

func (s *IDSet) Len() int {
	if s == nil {
		return 0
	}
	return s.n
}

// IDs drains it into a set.
func IDs(it Iterable) (*IDSet, error) {
	set := NewIDSet()
	for e, err := range it.Entities() {
		if err != nil {
			return nil, err
		}
		set.Add(e.ID())
	}
	return set, nil
}

// Size counts the entities of it.
func Size(it Iterable) (int, error) {
	var n int
	for _, err := range it.Entities() {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

// Contains reports whether it yields an entity with the given id.
func Contains(it Iterable, id EntityID) (bool, error) {
	for e, err := range it.Entities() {
		if err != nil {
			return false, err
		}
		if e.ID() == id {
			return true, nil
		}
	}
	return false, nil
}

// IsEmpty reports whether it yields nothing.
func IsEmpty(it Iterable) (bool, error) {
	for _, err := range it.Entities() {
		return false, err
	}
	return true, nil
}

// ToSlice drains it.
func ToSlice(it Iterable) ([]Entity, error) {
	var result []Entity
	for e, err := range it.Entities() {
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, nil
}

// DeleteAll deletes every entity of it and returns how many were deleted.
// The iterable is drained before the first deletion.
func DeleteAll(it Iterable) (int, error) {
	all, err := ToSlice(it)
	if err != nil {
		return 0, err
	}
	for i, e := range all {
		if err := e.Delete(); err != nil {
			return i, err
		}
	}
	return len(all), nil
}
