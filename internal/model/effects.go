package model

import (
	"context"
	"log/slog"

	"pg-engine/internal/logging"
)

// Operation names a model operation for effect hooks.
type Operation string

const (
	OpSelect Operation = "select"
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Event is passed to effect hooks.
type Event struct {
	Table     string
	Operation Operation
	Rows      []Row
	Err       error
}

// Hook runs inline after an operation. A returned error fails the
// operation.
type Hook func(ctx context.Context, ev Event) error

// AsyncHook runs in its own goroutine after an operation; its outcome
// does not reach the caller.
type AsyncHook func(ctx context.Context, ev Event)

// Effects are per-table hooks around model operations. OnError and
// OnErrorAsync fire when the operation itself fails.
type Effects struct {
	OnSelect      Hook
	OnInsert      Hook
	OnUpdate      Hook
	OnDelete      Hook
	OnError       Hook
	OnSelectAsync AsyncHook
	OnInsertAsync AsyncHook
	OnUpdateAsync AsyncHook
	OnDeleteAsync AsyncHook
	OnErrorAsync  AsyncHook
}

func (e *Effects) hooks(op Operation) (Hook, AsyncHook) {
	if e == nil {
		return nil, nil
	}
	switch op {
	case OpSelect:
		return e.OnSelect, e.OnSelectAsync
	case OpInsert:
		return e.OnInsert, e.OnInsertAsync
	case OpUpdate:
		return e.OnUpdate, e.OnUpdateAsync
	case OpDelete:
		return e.OnDelete, e.OnDeleteAsync
	}
	return nil, nil
}

// after runs the hooks for op. When opErr is set only the error hooks run
// and opErr is returned unchanged.
func (e *Effects) after(ctx context.Context, table string, op Operation, rows []Row, opErr error) error {
	if e == nil {
		return opErr
	}
	ev := Event{Table: table, Operation: op, Rows: rows, Err: opErr}
	if opErr != nil {
		if e.OnErrorAsync != nil {
			goAsync(ctx, e.OnErrorAsync, ev)
		}
		if e.OnError != nil {
			if err := e.OnError(ctx, ev); err != nil {
				logging.FromContext(ctx).Warn("error hook failed",
					slog.String("table", table),
					slog.String("operation", string(op)),
					slog.String("error", err.Error()),
				)
			}
		}
		return opErr
	}

	sync, async := e.hooks(op)
	if async != nil {
		goAsync(ctx, async, ev)
	}
	if sync != nil {
		return sync(ctx, ev)
	}
	return nil
}

func goAsync(ctx context.Context, hook AsyncHook, ev Event) {
	detached := context.WithoutCancel(ctx)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.FromContext(detached).Error("async hook panicked",
					slog.String("table", ev.Table),
					slog.String("operation", string(ev.Operation)),
					slog.Any("panic", r),
				)
			}
		}()
		hook(detached, ev)
	}()
}
