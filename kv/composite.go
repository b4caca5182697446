package kv

import (
	"bytes"
	"fmt"
)

// Composite keys pack (key, value) into a single engine key so that engines
// without duplicate support can keep several values per key. Zero bytes in
// key are escaped as 00 FF and the key is terminated by 00 01, so composite
// keys sort first by key, then by value, with unsigned byte comparison.
const (
	compositeEsc  = 0x00
	compositeZero = 0xFF
	compositeEnd  = 0x01
)

// compositeMarker is stored as the engine value of composite entries.
var compositeMarker = []byte{1}

func appendCompositePrefix(buf, key []byte) []byte {
	for _, b := range key {
		if b == compositeEsc {
			buf = append(buf, compositeEsc, compositeZero)
		} else {
			buf = append(buf, b)
		}
	}
	return append(buf, compositeEsc, compositeEnd)
}

func compositePrefix(key []byte) []byte {
	return appendCompositePrefix(make([]byte, 0, len(key)+2), key)
}

func compositeKey(key, value []byte) []byte {
	buf := appendCompositePrefix(make([]byte, 0, len(key)+len(value)+2), key)
	return append(buf, value...)
}

func splitCompositeKey(ck []byte) (key, value []byte, err error) {
	i := bytes.IndexByte(ck, compositeEsc)
	if i < 0 {
		return nil, nil, fmt.Errorf("composite key %s: missing terminator", hexstr(ck))
	}
	if i+1 < len(ck) && ck[i+1] == compositeEnd {
		return ck[:i:i], ck[i+2:], nil
	}
	key = make([]byte, 0, len(ck))
	for i := 0; i < len(ck); i++ {
		b := ck[i]
		if b != compositeEsc {
			key = append(key, b)
			continue
		}
		if i+1 >= len(ck) {
			break
		}
		switch ck[i+1] {
		case compositeZero:
			key = append(key, 0)
			i++
		case compositeEnd:
			return key, ck[i+2:], nil
		default:
			return nil, nil, fmt.Errorf("composite key %s: bad escape at %d", hexstr(ck), i)
		}
	}
	return nil, nil, fmt.Errorf("composite key %s: missing terminator", hexstr(ck))
}

// MaxKeySize bounds the stored key on every backend; it is the bolt limit.
// In maps with duplicates the stored key holds both key and value, escaped
// as a composite key.
const MaxKeySize = 32768

// checkKeySize rejects keys that some backend cannot store, so that every
// backend accepts the same writes. Empty keys are fine in maps with
// duplicates, whose stored keys are never empty.
func checkKeySize(key, value []byte, dup bool) error {
	if !dup {
		if len(key) == 0 {
			return ErrEmptyKey
		}
		if len(key) > MaxKeySize {
			return ErrKeyTooLarge
		}
		return nil
	}
	if compositeKeyLen(key, value) > MaxKeySize {
		return ErrKeyTooLarge
	}
	return nil
}

func compositeKeyLen(key, value []byte) int {
	return len(key) + bytes.Count(key, []byte{compositeEsc}) + 2 + len(value)
}
