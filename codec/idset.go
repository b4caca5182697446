package codec

// IDSet is a sparse set of uint64 ids stored as 64-bit words keyed by
// id/64. Dense runs (like entity instance ids) cost about one bit per id.
type IDSet struct {
	words map[uint64]uint64
	n     int
}

func NewIDSet() *IDSet {
	return &IDSet{words: make(map[uint64]uint64)}
}

// Add inserts id and reports whether it was absent.
func (s *IDSet) Add(id uint64) bool {
	if s.words == nil {
		s.words = make(map[uint64]uint64)
	}
	w, bit := id>>6, uint64(1)<<(id&63)
	old := s.words[w]
	if old&bit != 0 {
		return false
	}
	s.words[w] = old | bit
	s.n++
	return true
}

func (s *IDSet) Contains(id uint64) bool {
	if s == nil {
		return false
	}
	return s.words[id>>6]&(uint64(1)<<(id&63)) != 0
}

func (s *IDSet) Len() int {
	if s == nil {
		return 0
	}
	return s.n
}
