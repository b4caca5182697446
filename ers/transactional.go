package ers

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"

	"github.com/VictoriaMetrics/metrics"
)

var (
	optimisticRetries   = metrics.GetOrCreateCounter(`ersdb_ers_optimistic_retries_total`)
	optimisticExhausted = metrics.GetOrCreateCounter(`ersdb_ers_optimistic_exhausted_total`)
)

// Transactional runs body in a new transaction and finishes it: read-only
// transactions and failed bodies are aborted, the rest are committed. A
// panic in body is returned as an error. A commit that loses to a concurrent
// transaction returns ErrConflict.
func Transactional(store Store, readonly bool, body func(txn Txn) error) error {
	txn, err := store.Begin(readonly)
	if err != nil {
		return err
	}
	return finish(txn, safelyCall(body, txn))
}

func finish(txn Txn, bodyErr error) error {
	if txn.Finished() {
		return bodyErr
	}
	if bodyErr != nil || txn.Readonly() {
		txn.Abort()
		return bodyErr
	}
	ok, err := txn.Commit()
	if err != nil {
		txn.Abort()
		return err
	}
	if !ok {
		return ErrConflict
	}
	return nil
}

// TransactionalOptimistic runs body in a read-write transaction, starting
// over whenever the commit conflicts or body returns ErrConflict. After
// attempts tries it returns *ConflictError. Since body may run several
// times, it must not have effects outside the transaction.
func TransactionalOptimistic(store Store, attempts int, body func(txn Txn) error) error {
	if attempts < 1 {
		attempts = 1
	}
	for i := 1; i <= attempts; i++ {
		err := Transactional(store, false, body)
		if !errors.Is(err, ErrConflict) {
			return err
		}
		if i < attempts {
			optimisticRetries.Inc()
			slog.LogAttrs(context.Background(), slog.LevelDebug, "ers: retrying conflicting transaction", slog.String("store", store.Name()), slog.Int("attempt", i))
		}
	}
	optimisticExhausted.Inc()
	return &ConflictError{Attempts: attempts}
}

func safelyCall(fn func(Txn) error, txn Txn) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn(txn)
}
