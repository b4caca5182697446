package ers

import (
	"fmt"

	"github.com/andreyvit/ersdb/kv"
)

var (
	// ErrStorage is the base of every storage error, kv ones included.
	ErrStorage = kv.ErrStorage
	// ErrTxFinished is returned when a finished transaction is used.
	ErrTxFinished = kv.ErrTxFinished

	ErrConflict          = fmt.Errorf("%w: conflicting transaction", ErrStorage)
	ErrNonExistingEntity = fmt.Errorf("%w: entity does not exist", ErrStorage)
)

// NonExistingEntityError reports access to a deleted or never created entity.
type NonExistingEntityError struct {
	ID EntityID
}

func (e *NonExistingEntityError) Error() string {
	return fmt.Sprintf("%v: %v", ErrNonExistingEntity, e.ID)
}

func (e *NonExistingEntityError) Unwrap() error {
	return ErrNonExistingEntity
}

// ConflictError is returned by TransactionalOptimistic once every attempt
// has conflicted.
type ConflictError struct {
	Attempts int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%v: gave up after %d attempts", ErrConflict, e.Attempts)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

type panicked struct {
	reason any
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}
