package dbexec

import (
	"context"
	"database/sql"
	"sync"
)

// TxBeginner opens transactions. *sql.DB satisfies it.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

type txScopeKey struct{}

// TxScope shares one transaction across the resolvers of a request. Any
// resolver may mark it failed; Finalize then rolls back instead of
// committing.
type TxScope struct {
	tx        *sql.Tx
	exec      *StandardExecutor
	failed    bool
	finalized bool
	mu        sync.Mutex
}

// BeginScope opens a transaction and wraps it in a TxScope.
func BeginScope(ctx context.Context, db TxBeginner) (*TxScope, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &TxScope{tx: tx, exec: NewTxExecutor(tx)}, nil
}

// Executor runs statements inside the scope's transaction.
func (s *TxScope) Executor() QueryExecutor {
	return s.exec
}

// MarkFailed makes Finalize roll back.
func (s *TxScope) MarkFailed() {
	s.mu.Lock()
	s.failed = true
	s.mu.Unlock()
}

// Finalize commits, or rolls back when the scope was marked failed. Only
// the first call has an effect.
func (s *TxScope) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return nil
	}
	s.finalized = true
	if s.failed {
		return s.tx.Rollback()
	}
	return s.tx.Commit()
}

// WithTxScope stores scope on the context.
func WithTxScope(ctx context.Context, scope *TxScope) context.Context {
	return context.WithValue(ctx, txScopeKey{}, scope)
}

// TxScopeFromContext returns the scope stored on ctx, or nil.
func TxScopeFromContext(ctx context.Context) *TxScope {
	scope, _ := ctx.Value(txScopeKey{}).(*TxScope)
	return scope
}

// ForContext returns the executor of the transaction scope on ctx, falling
// back to base.
func ForContext(ctx context.Context, base QueryExecutor) QueryExecutor {
	if scope := TxScopeFromContext(ctx); scope != nil {
		return scope.Executor()
	}
	return base
}
