// Package serverapp owns the lifecycle of the pg-engine server: telemetry,
// the database pool, startup migrations, the generated routes and the HTTP
// listener.
package serverapp

import (
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"

	"pg-engine/internal/config"
	"pg-engine/internal/dbexec"
	"pg-engine/internal/engine"
	"pg-engine/internal/logging"
	"pg-engine/internal/observability"
)

// App owns runtime resources for the pg-engine server lifecycle.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	loggerProvider *observability.LoggerProvider

	meterProvider   *observability.MeterProvider
	engineMetrics   *observability.EngineMetrics
	securityMetrics *observability.SecurityMetrics
	tracerProvider  *observability.TracerProvider

	db         *sql.DB
	dbStatsReg interface{ Unregister() error }

	queryExecutor dbexec.QueryExecutor
	engine        *engine.Engine

	mux     *http.ServeMux
	handler http.Handler

	serverAddr string
	listener   net.Listener
	srv        *http.Server

	cleanup cleanupStack

	stateMu      sync.Mutex
	initialized  bool
	started      bool
	serverErrors <-chan error

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates an App lifecycle wrapper.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &App{
		cfg:        cfg,
		logger:     logger,
		serverAddr: net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
	}, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Engine returns the engine built by Init, or nil before it.
func (a *App) Engine() *engine.Engine {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.engine
}

// Handler returns the fully wrapped HTTP handler built by Init.
func (a *App) Handler() http.Handler {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.handler
}
