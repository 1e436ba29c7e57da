// Package dbexec abstracts query execution so the model layer runs the same
// way against *sql.DB, a transaction, or a sqlmock handle.
package dbexec

import (
	"context"
	"database/sql"
)

// Rows abstracts sql.Rows to allow wrapped cleanup behavior.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Columns() ([]string, error)
	Err() error
	Close() error
}

// QueryExecutor is the database surface the engine needs.
type QueryExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type sqlHandle interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// StandardExecutor executes queries directly against a database handle.
type StandardExecutor struct {
	db sqlHandle
}

// NewStandardExecutor creates an executor that runs queries directly against the database.
func NewStandardExecutor(db *sql.DB) *StandardExecutor {
	if db == nil {
		return &StandardExecutor{}
	}
	return &StandardExecutor{db: db}
}

// NewTxExecutor runs queries inside an open transaction. Migrations use it
// so an up or down script either applies fully or not at all.
func NewTxExecutor(tx *sql.Tx) *StandardExecutor {
	if tx == nil {
		return &StandardExecutor{}
	}
	return &StandardExecutor{db: tx}
}

func (e *StandardExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (e *StandardExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	return e.db.ExecContext(ctx, query, args...)
}
