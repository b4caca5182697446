package ers

import "bytes"

// CompareMode selects which property values a Find returns, relative to the
// value searched for.
type CompareMode int

const (
	Eq CompareMode = iota
	Lt
	Gt
	EqOrLt
	EqOrGt
)

var compareModeNames = [...]string{"eq", "lt", "gt", "le", "ge"}

func (m CompareMode) String() string {
	if m >= 0 && int(m) < len(compareModeNames) {
		return compareModeNames[m]
	}
	return "invalid"
}

// Matches reports whether a candidate value c is selected, where
// cmp = bytes.Compare(c, searched).
func (m CompareMode) Matches(cmp int) bool {
	switch m {
	case Eq:
		return cmp == 0
	case Lt:
		return cmp < 0
	case Gt:
		return cmp > 0
	case EqOrLt:
		return cmp <= 0
	case EqOrGt:
		return cmp >= 0
	default:
		return false
	}
}

// Before reports whether the scan, which runs in ascending value order, has
// not reached the selected range yet at candidate c.
func (m CompareMode) Before(c, searched []byte) bool {
	cmp := bytes.Compare(c, searched)
	switch m {
	case Gt:
		return cmp <= 0
	case Eq, EqOrGt:
		return cmp < 0
	default:
		return false
	}
}

// Past reports whether the scan has left the selected range for good.
func (m CompareMode) Past(c, searched []byte) bool {
	cmp := bytes.Compare(c, searched)
	switch m {
	case Eq:
		return cmp > 0
	case Lt:
		return cmp >= 0
	case EqOrLt:
		return cmp > 0
	default:
		return false
	}
}

// Find returns the entities whose property equals value.
func Find(txn Txn, typ, property string, value []byte) Iterable {
	return txn.Find(typ, property, value, Eq)
}

func FindLt(txn Txn, typ, property string, value []byte) Iterable {
	return txn.Find(typ, property, value, Lt)
}

func FindGt(txn Txn, typ, property string, value []byte) Iterable {
	return txn.Find(typ, property, value, Gt)
}

func FindEqOrLt(txn Txn, typ, property string, value []byte) Iterable {
	return txn.Find(typ, property, value, EqOrLt)
}

func FindEqOrGt(txn Txn, typ, property string, value []byte) Iterable {
	return txn.Find(typ, property, value, EqOrGt)
}
