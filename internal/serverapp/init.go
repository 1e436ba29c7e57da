package serverapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"pg-engine/internal/dbexec"
	"pg-engine/internal/engine"
	"pg-engine/internal/observability"
)

// telemetry groups the providers and instruments created at startup.
type telemetry struct {
	meterProvider   *observability.MeterProvider
	tracerProvider  *observability.TracerProvider
	engineMetrics   *observability.EngineMetrics
	securityMetrics *observability.SecurityMetrics
}

type database struct {
	db       *sql.DB
	statsReg interface{ Unregister() error }
	exec     dbexec.QueryExecutor
}

// Init connects to Postgres, introspects the schema and assembles the HTTP
// surface. A failed Init releases what it acquired and may be retried.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	if a.initialized {
		a.stateMu.Unlock()
		return nil
	}
	a.stateMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	var cleanup cleanupStack
	ok := false
	defer func() {
		if !ok {
			_ = cleanup.run(context.Background(), a.logger)
		}
	}()

	if a.loggerProvider != nil {
		cleanup.push("logger provider", func(shutdownCtx context.Context) error {
			return a.loggerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	tel, err := a.initTelemetry(&cleanup)
	if err != nil {
		return err
	}
	store, err := a.openDatabase(ctx, &cleanup)
	if err != nil {
		return err
	}
	eng, mux, err := a.assemble(ctx, tel, store)
	if err != nil {
		return err
	}

	handler := wrapHTTPHandler(a.cfg, a.logger, tel.engineMetrics, mux)
	srv := buildServer(a.cfg, handler, a.serverAddr)
	cleanup.push("HTTP server", srv.Shutdown)

	a.stateMu.Lock()
	a.meterProvider = tel.meterProvider
	a.tracerProvider = tel.tracerProvider
	a.engineMetrics = tel.engineMetrics
	a.securityMetrics = tel.securityMetrics
	a.db = store.db
	a.dbStatsReg = store.statsReg
	a.queryExecutor = store.exec
	a.engine = eng
	a.mux = mux
	a.handler = handler
	a.srv = srv
	a.cleanup = cleanup
	a.initialized = true
	a.stateMu.Unlock()

	ok = true
	return nil
}

func (a *App) initTelemetry(cleanup *cleanupStack) (telemetry, error) {
	var tel telemetry
	var err error

	tel.meterProvider, tel.engineMetrics, tel.securityMetrics, err = initMetrics(a.cfg, a.logger)
	if err != nil {
		return tel, fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if mp := tel.meterProvider; mp != nil {
		cleanup.push("meter provider", func(ctx context.Context) error {
			return mp.Shutdown(ctx, a.logger.Logger)
		})
	}

	tel.tracerProvider, err = initTracing(a.cfg, a.logger)
	if err != nil {
		return tel, fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tp := tel.tracerProvider; tp != nil {
		cleanup.push("tracer provider", func(ctx context.Context) error {
			return tp.Shutdown(ctx, a.logger.Logger)
		})
	}
	return tel, nil
}

// openDatabase opens the pool, waits for Postgres and applies startup
// migrations.
func (a *App) openDatabase(ctx context.Context, cleanup *cleanupStack) (database, error) {
	a.logger.Info("connecting to PostgreSQL",
		slog.String("dsn", a.cfg.Database.RedactedDSN()),
		slog.String("schema", a.cfg.Database.EffectiveSchema()),
	)

	db, statsReg, err := connectDB(a.cfg, a.logger)
	if err != nil {
		return database{}, fmt.Errorf("failed to connect to database: %w", err)
	}
	cleanup.push("database", func(context.Context) error {
		if statsReg != nil {
			if err := statsReg.Unregister(); err != nil {
				a.logger.Warn("failed to unregister DB stats metrics", slog.String("error", err.Error()))
			}
		}
		return db.Close()
	})

	if err := configureDatabase(ctx, a.cfg, a.logger, db); err != nil {
		return database{}, fmt.Errorf("failed to verify database connection: %w", err)
	}

	exec := dbexec.NewStandardExecutor(db)
	if err := runMigrations(ctx, a.cfg, a.logger, exec); err != nil {
		return database{}, fmt.Errorf("failed to run startup migrations: %w", err)
	}
	return database{db: db, statsReg: statsReg, exec: exec}, nil
}

// assemble turns the live schema into the engine and its routes.
func (a *App) assemble(ctx context.Context, tel telemetry, store database) (*engine.Engine, *http.ServeMux, error) {
	schema, err := introspect(ctx, a.cfg, a.logger, store.db, tel.engineMetrics)
	if err != nil {
		return nil, nil, err
	}
	reg := buildRegistry(a.cfg, a.logger, schema)

	opts, err := engineOptions(a.cfg, reg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load model options: %w", err)
	}
	eng, err := engine.New(reg, opts, a.logger.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build engine: %w", err)
	}

	authStack, err := buildAuth(ctx, a.cfg, a.logger, eng, store.exec, tel.securityMetrics)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	mux, err := buildRouter(a.cfg, a.logger, routerDeps{
		db:              store.db,
		exec:            store.exec,
		engine:          eng,
		auth:            authStack,
		engineMetrics:   tel.engineMetrics,
		securityMetrics: tel.securityMetrics,
		meterProvider:   tel.meterProvider,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build router: %w", err)
	}
	return eng, mux, nil
}
