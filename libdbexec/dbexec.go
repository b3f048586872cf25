// Package libdbexec provides a thin database abstraction used by the relay's
// storage layer. It hides the concrete driver (Postgres in server mode,
// SQLite in local mode) behind DBManager/Exec and translates driver errors
// into a stable sentinel taxonomy so callers can errors.Is against them.
package libdbexec

import (
	"context"
	"database/sql"
	"errors"
)

// Sentinel errors. Driver-specific failures are mapped onto these so that
// store code and HTTP error mapping never inspect driver error types.
var (
	ErrNotFound             = errors.New("libdbexec: not found")
	ErrUniqueViolation      = errors.New("libdbexec: unique constraint violation")
	ErrForeignKeyViolation  = errors.New("libdbexec: foreign key violation")
	ErrNotNullViolation     = errors.New("libdbexec: not null violation")
	ErrCheckViolation       = errors.New("libdbexec: check constraint violation")
	ErrConstraintViolation  = errors.New("libdbexec: constraint violation")
	ErrDeadlockDetected     = errors.New("libdbexec: deadlock detected")
	ErrSerializationFailure = errors.New("libdbexec: serialization failure")
	ErrLockNotAvailable     = errors.New("libdbexec: lock not available")
	ErrQueryCanceled        = errors.New("libdbexec: query canceled")
	ErrDataTruncation       = errors.New("libdbexec: data truncation")
	ErrNumericOutOfRange    = errors.New("libdbexec: numeric value out of range")
	ErrInvalidInputSyntax   = errors.New("libdbexec: invalid input syntax")
	ErrUndefinedColumn      = errors.New("libdbexec: undefined column")
	ErrUndefinedTable       = errors.New("libdbexec: undefined table")
	ErrTxFailed             = errors.New("libdbexec: transaction failed")
	ErrMaxRowsReached       = errors.New("libdbexec: max rows reached")
)

// CommitTx finalizes the transaction returned by WithTransaction.
type CommitTx func(ctx context.Context) error

// ReleaseTx rolls the transaction back unless it was committed.
// Safe to defer unconditionally.
type ReleaseTx func() error

// QueryRower wraps *sql.Row so Scan errors pass through error translation.
type QueryRower interface {
	Scan(dest ...any) error
}

// Exec is the query surface handed to stores. It is satisfied both by the
// raw connection pool and by an open transaction.
type Exec interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) QueryRower
}

// DBManager owns the underlying connection pool.
type DBManager interface {
	// WithoutTransaction returns an executor bound to the pool.
	WithoutTransaction() Exec
	// WithTransaction begins a transaction. The onRollback hooks run if the
	// transaction is released without a commit.
	WithTransaction(ctx context.Context, onRollback ...func()) (Exec, CommitTx, ReleaseTx, error)
	Close() error
}

// txAwareDB implements Exec over either a *sql.DB or a *sql.Tx and funnels
// every error through the driver's translator so sentinel errors like
// ErrUniqueViolation come out the same regardless of the backing engine.
type txAwareDB struct {
	db           *sql.DB
	tx           *sql.Tx
	errTranslate func(error) error
}

func (s *txAwareDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	var err error
	switch {
	case s.tx != nil:
		res, err = s.tx.ExecContext(ctx, query, args...)
	case s.db != nil:
		res, err = s.db.ExecContext(ctx, query, args...)
	default:
		return nil, errors.New("libdbexec: Exec called on uninitialized executor")
	}
	return res, s.errTranslate(err)
}

func (s *txAwareDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	var err error
	switch {
	case s.tx != nil:
		rows, err = s.tx.QueryContext(ctx, query, args...)
	case s.db != nil:
		rows, err = s.db.QueryContext(ctx, query, args...)
	default:
		return nil, errors.New("libdbexec: Query called on uninitialized executor")
	}
	if err != nil {
		return nil, s.errTranslate(err)
	}
	return rows, nil
}

func (s *txAwareDB) QueryRowContext(ctx context.Context, query string, args ...any) QueryRower {
	var r *sql.Row
	switch {
	case s.tx != nil:
		r = s.tx.QueryRowContext(ctx, query, args...)
	case s.db != nil:
		r = s.db.QueryRowContext(ctx, query, args...)
	default:
		return &row{err: errors.New("libdbexec: QueryRow called on uninitialized executor")}
	}
	return &row{inner: r, errTranslate: s.errTranslate}
}

// row wraps *sql.Row so Scan errors are translated.
type row struct {
	inner        *sql.Row
	err          error
	errTranslate func(error) error
}

func (r *row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if r.inner == nil {
		return errors.New("libdbexec: Scan called on nil row wrapper")
	}
	return r.errTranslate(r.inner.Scan(dest...))
}
