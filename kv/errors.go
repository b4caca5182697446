package kv

import (
	"errors"
	"fmt"
	"strings"
)

// ErrStorage is the root of every error reported by this package; backend
// failures, misuse and exhaustion all match it with errors.Is.
var ErrStorage = errors.New("storage error")

var (
	ErrTxFinished    = fmt.Errorf("%w: transaction already finished", ErrStorage)
	ErrReadonly      = fmt.Errorf("%w: transaction is read-only", ErrStorage)
	ErrStorageClosed = fmt.Errorf("%w: storage closed", ErrStorage)
	ErrNoSuchElement = fmt.Errorf("%w: no such element", ErrStorage)
	ErrMapNotFound   = fmt.Errorf("%w: map not found", ErrStorage)
	ErrEmptyKey      = fmt.Errorf("%w: empty key", ErrStorage)
	ErrKeyTooLarge   = fmt.Errorf("%w: key too large", ErrStorage)
)

// Error describes a backend failure on a particular map and key.
type Error struct {
	Backend string
	Map     string
	Key     []byte
	Msg     string
	Err     error
}

func kvErrf(backend, mapName string, key []byte, err error, format string, args ...any) error {
	return &Error{backend, mapName, key, fmt.Sprintf(format, args...), err}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrStorage
}

func (e *Error) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Backend)
	if e.Map != "" {
		buf.WriteByte(':')
		buf.WriteString(e.Map)
	}
	if e.Key != nil {
		buf.WriteByte('/')
		buf.WriteString(hexstr(e.Key))
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}
