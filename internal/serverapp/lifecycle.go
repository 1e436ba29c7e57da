package serverapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"pg-engine/internal/logging"
)

const defaultShutdownTimeout = 10 * time.Second

type releaser struct {
	name string
	fn   func(context.Context) error
}

// cleanupStack releases resources in reverse order of acquisition.
type cleanupStack struct {
	items []releaser
}

func (s *cleanupStack) push(name string, fn func(context.Context) error) {
	s.items = append(s.items, releaser{name: name, fn: fn})
}

// run releases every item even when some fail and joins the failures.
func (s *cleanupStack) run(ctx context.Context, logger *logging.Logger) error {
	var errs []error
	for i := len(s.items) - 1; i >= 0; i-- {
		item := s.items[i]
		if logger != nil {
			logger.Debug("releasing " + item.name)
		}
		if err := item.fn(ctx); err != nil {
			if logger != nil {
				logger.Warn("cleanup error",
					slog.String("component", item.name),
					slog.String("error", err.Error()),
				)
			}
			errs = append(errs, fmt.Errorf("%s: %w", item.name, err))
		}
	}
	s.items = nil
	return errors.Join(errs...)
}

// Start binds the listen address and serves in the background. Bind errors
// are returned directly; later serve errors arrive on the channel.
func (a *App) Start() (<-chan error, error) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	if !a.initialized {
		return nil, errors.New("app is not initialized")
	}
	if a.started {
		return a.serverErrors, nil
	}

	ln, err := net.Listen("tcp", a.serverAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", a.serverAddr, err)
	}
	a.listener = ln
	a.serverErrors = startServer(a.cfg, a.logger, a.srv, ln)
	a.started = true
	return a.serverErrors, nil
}

// Addr is the bound address once Start succeeded, otherwise the configured one.
func (a *App) Addr() string {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return a.serverAddr
}

// Run starts the server and blocks until ctx is done or the server fails.
// Either way every resource is released before it returns.
func (a *App) Run(ctx context.Context) error {
	serverErrors, err := a.Start()
	if err != nil {
		return errors.Join(err, a.Shutdown(context.WithoutCancel(ctx)))
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down server gracefully")
	case err, ok := <-serverErrors:
		if ok && err != nil {
			runErr = err
		} else {
			runErr = errors.New("server stopped unexpectedly")
		}
	}

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		return errors.Join(runErr, err)
	}
	if runErr == nil {
		a.logger.Info("server stopped gracefully")
	}
	return runErr
}

// Shutdown releases all acquired resources. Only the first call does work;
// later calls return the same result.
func (a *App) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	a.shutdownOnce.Do(func() {
		a.stateMu.Lock()
		cleanup := a.cleanup
		a.cleanup = cleanupStack{}
		a.started = false
		a.stateMu.Unlock()

		a.shutdownErr = cleanup.run(ctx, a.logger)
	})

	return a.shutdownErr
}
