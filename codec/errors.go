package codec

import (
	"errors"
	"fmt"
)

// ErrMalformed is matched by every DataError.
var ErrMalformed = errors.New("malformed data")

// DataError reports a byte string that a binding or decoder could not parse.
// Off is the position where decoding stopped.
type DataError struct {
	Data  []byte
	Off   int
	Cause error
	Msg   string
}

func dataErrf(data []byte, off int, cause error, format string, args ...any) error {
	return &DataError{Data: data, Off: off, Cause: cause, Msg: fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error { return e.Cause }

func (e *DataError) Is(target error) bool { return target == ErrMalformed }

func (e *DataError) Error() string {
	msg := e.Msg
	if e.Off > 0 {
		msg = fmt.Sprintf("%s at offset %d", msg, e.Off)
	}
	if e.Cause != nil {
		msg = msg + ": " + e.Cause.Error()
	}
	return fmt.Sprintf("%s: %d bytes %s", msg, len(e.Data), excerpt(e.Data))
}

// excerpt hex-dumps short data whole and long data as its head and tail.
func excerpt(data []byte) string {
	const head, tail = 48, 16
	if len(data) <= head+tail {
		return fmt.Sprintf("%x", data)
	}
	return fmt.Sprintf("%x...%x", data[:head], data[len(data)-tail:])
}
