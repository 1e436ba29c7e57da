package serverapp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"pg-engine/internal/config"
	"pg-engine/internal/logging"
	"pg-engine/internal/middleware"
	"pg-engine/internal/observability"

	"github.com/XSAM/otelsql"
	"github.com/cenkalti/backoff/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const driverName = "pgx"

func InitLogger(cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logsConfig := cfg.Observability.GetLogsConfig()
	logger.Info("initializing OpenTelemetry logging",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
		slog.String("environment", cfg.Observability.Environment),
		slog.String("otlp_endpoint", logsConfig.Endpoint),
		slog.String("otlp_protocol", logsConfig.Protocol),
		slog.Bool("insecure", logsConfig.Insecure),
	)

	loggerProvider, err := observability.InitLoggerProvider(observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Environment:    cfg.Observability.Environment,
		OTLPConfig:     exporterConfig(logsConfig),
	})
	if err != nil {
		return nil, nil, err
	}

	logger.Info("OpenTelemetry logging initialized successfully")

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	return logger, loggerProvider, nil
}

func exporterConfig(c config.OTLPConfig) observability.OTLPExporterConfig {
	return observability.OTLPExporterConfig{
		Endpoint:          c.Endpoint,
		Protocol:          c.Protocol,
		Insecure:          c.Insecure,
		TLSCertFile:       c.TLSCertFile,
		TLSClientCertFile: c.TLSClientCertFile,
		TLSClientKeyFile:  c.TLSClientKeyFile,
		Headers:           c.Headers,
		Timeout:           c.Timeout,
		Compression:       c.Compression,
		RetryEnabled:      c.RetryEnabled,
		RetryMaxAttempts:  c.RetryMaxAttempts,
	}
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (*observability.MeterProvider, *observability.EngineMetrics, *observability.SecurityMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return nil, nil, nil, nil
	}

	logger.Info("initializing OpenTelemetry metrics",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
		slog.String("environment", cfg.Observability.Environment),
	)

	meterProvider, err := observability.InitMeterProvider(observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Environment:    cfg.Observability.Environment,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	engineMetrics, err := observability.InitMetrics(logger.Logger)
	if err != nil {
		return nil, nil, nil, err
	}

	securityMetrics, err := observability.InitSecurityMetrics()
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Info("OpenTelemetry metrics initialized successfully")

	return meterProvider, engineMetrics, securityMetrics, nil
}

func initTracing(cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	tracesConfig := cfg.Observability.GetTracesConfig()
	logger.Info("initializing OpenTelemetry tracing",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("otlp_endpoint", tracesConfig.Endpoint),
		slog.String("otlp_protocol", tracesConfig.Protocol),
		slog.Float64("sample_ratio", cfg.Observability.TraceSampleRatio),
	)

	tracerProvider, err := observability.InitTracerProvider(observability.Config{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   cfg.Observability.ServiceVersion,
		Environment:      cfg.Observability.Environment,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
		OTLPConfig:       exporterConfig(tracesConfig),
	})
	if err != nil {
		return nil, err
	}

	logger.Info("OpenTelemetry tracing initialized successfully")
	return tracerProvider, nil
}

// connectDB opens the pgx pool, instrumented with otelsql when metrics or
// tracing are on.
func connectDB(cfg *config.Config, logger *logging.Logger) (*sql.DB, interface{ Unregister() error }, error) {
	dsn := cfg.Database.DSN()

	if !cfg.Observability.MetricsEnabled && !cfg.Observability.TracingEnabled {
		db, err := sql.Open(driverName, dsn)
		if err != nil {
			return nil, nil, err
		}
		return db, nil, nil
	}

	opts := []otelsql.Option{
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	}
	if cfg.Observability.TracingEnabled {
		opts = append(opts, otelsql.WithSpanOptions(otelsql.SpanOptions{
			DisableErrSkip: true,
		}))
	}
	if cfg.Observability.SQLCommenterEnabled && cfg.Observability.TracingEnabled {
		opts = append(opts, otelsql.WithSQLCommenter(true))
		logger.Info("SQLCommenter enabled - trace context will be injected into SQL queries")
	} else if cfg.Observability.SQLCommenterEnabled {
		logger.Warn("SQLCommenter requires tracing to be enabled - skipping SQLCommenter")
	}

	db, err := otelsql.Open(driverName, dsn, opts...)
	if err != nil {
		return nil, nil, err
	}

	var dbStatsReg interface{ Unregister() error }
	if cfg.Observability.MetricsEnabled {
		dbStatsReg, err = otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(semconv.DBSystemPostgreSQL))
		if err != nil {
			logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
		}
	}

	logger.Info("database instrumentation enabled",
		slog.Bool("metrics", cfg.Observability.MetricsEnabled),
		slog.Bool("tracing", cfg.Observability.TracingEnabled),
	)
	return db, dbStatsReg, nil
}

func configureDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB) error {
	db.SetMaxOpenConns(cfg.Database.Pool.MaxOpen)
	db.SetMaxIdleConns(cfg.Database.Pool.MaxIdle)
	db.SetConnMaxLifetime(cfg.Database.Pool.MaxLifetime)

	if err := waitForDatabase(ctx, cfg, logger, db); err != nil {
		return err
	}

	logger.Info("connected to database",
		slog.String("dsn", cfg.Database.RedactedDSN()),
		slog.String("schema", cfg.Database.EffectiveSchema()),
		slog.Int("pool_max_open", cfg.Database.Pool.MaxOpen),
		slog.Int("pool_max_idle", cfg.Database.Pool.MaxIdle),
		slog.Duration("pool_max_lifetime", cfg.Database.Pool.MaxLifetime),
	)
	return nil
}

// waitForDatabase pings until the database answers. A zero connection
// timeout tries once; otherwise retries back off exponentially, capped at
// 30s per wait, until the timeout elapses.
func waitForDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB) error {
	timeout := cfg.Database.ConnectionTimeout
	if timeout == 0 {
		return db.PingContext(ctx)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.Database.ConnectionRetryInterval
	policy.MaxInterval = 30 * time.Second
	policy.RandomizationFactor = 0

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		return struct{}{}, db.PingContext(ctx)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxElapsedTime(timeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("database not ready, retrying...",
				slog.Int("attempt", attempt),
				slog.Duration("retry_in", next),
				slog.String("error", err.Error()),
			)
		}),
	)
	if err != nil {
		return fmt.Errorf("database not available after %v: %w", timeout, err)
	}
	if attempt > 1 {
		logger.Info("database connection established", slog.Int("attempts", attempt))
	}
	return nil
}

func wrapHTTPHandler(cfg *config.Config, logger *logging.Logger, metrics *observability.EngineMetrics, handler http.Handler) http.Handler {
	handler = middleware.RecoveryMiddleware()(handler)
	handler = middleware.LoggingMiddleware(logger, metrics, "/health", "/metrics")(handler)

	if cfg.Observability.MetricsEnabled || cfg.Observability.TracingEnabled {
		spanRoutes := knownRoutes(cfg)
		handler = otelhttp.NewHandler(handler, "http.server",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return httpRootSpanName(r, spanRoutes)
			}),
			otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents),
		)
		logger.Info("HTTP instrumentation enabled")
	}

	if cfg.Server.CORSEnabled {
		handler = middleware.CORSMiddleware(middleware.CORSConfig{
			Enabled:          cfg.Server.CORSEnabled,
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   cfg.Server.CORSAllowedMethods,
			AllowedHeaders:   cfg.Server.CORSAllowedHeaders,
			ExposeHeaders:    cfg.Server.CORSExposeHeaders,
			AllowCredentials: cfg.Server.CORSAllowCredentials,
			MaxAge:           cfg.Server.CORSMaxAge,
		})(handler)
	}

	if cfg.Server.RateLimitEnabled {
		handler = middleware.RateLimitMiddleware(middleware.RateLimitConfig{
			Enabled: cfg.Server.RateLimitEnabled,
			RPS:     cfg.Server.RateLimitRPS,
			Burst:   cfg.Server.RateLimitBurst,
		})(handler)
	}

	return handler
}

// spanRoutes are the fixed paths span names keep verbatim, plus the API
// prefix under which every generated route collapses.
type spanRoutes struct {
	fixed  map[string]bool
	prefix string
}

func knownRoutes(cfg *config.Config) spanRoutes {
	prefix := "/" + strings.Trim(cfg.Engine.APIPrefix, "/")
	routes := spanRoutes{
		fixed:  map[string]bool{"/health": true, "/metrics": true},
		prefix: prefix,
	}
	if cfg.GraphQL.Enabled {
		routes.fixed[cfg.GraphQL.Path] = true
	}
	if cfg.Swagger.Enabled {
		routes.fixed[prefix+"/"+strings.Trim(cfg.Swagger.Endpoint, "/")] = true
	}
	return routes
}

func httpRootSpanName(r *http.Request, routes spanRoutes) string {
	if r == nil {
		return "HTTP /*"
	}
	method := strings.TrimSpace(r.Method)
	if method == "" {
		method = "HTTP"
	}
	return method + " " + normalizeHTTPSpanRoute(r.URL.Path, routes)
}

func normalizeHTTPSpanRoute(rawPath string, routes spanRoutes) string {
	if routes.fixed[rawPath] {
		return rawPath
	}
	if routes.prefix != "/" && strings.HasPrefix(rawPath, routes.prefix+"/") {
		return routes.prefix + "/*"
	}
	return "/*"
}

func buildServer(cfg *config.Config, handler http.Handler, serverAddr string) *http.Server {
	return &http.Server{
		Addr:         serverAddr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

// startServer serves on an already bound listener. The returned channel
// receives at most one error and is closed when Serve returns.
func startServer(cfg *config.Config, logger *logging.Logger, srv *http.Server, ln net.Listener) <-chan error {
	serverErrors := make(chan error, 1)
	go func() {
		defer close(serverErrors)
		logAttrs := []any{
			slog.String("address", ln.Addr().String()),
			slog.String("api_prefix", cfg.Engine.APIPrefix),
			slog.String("health_endpoint", "/health"),
			slog.String("log_level", cfg.Observability.Logging.Level),
			slog.String("log_format", cfg.Observability.Logging.Format),
		}
		if cfg.GraphQL.Enabled {
			logAttrs = append(logAttrs,
				slog.String("graphql_endpoint", cfg.GraphQL.Path),
				slog.Int("graphql_max_depth", cfg.GraphQL.MaxDepth),
			)
		}
		if cfg.Observability.MetricsEnabled {
			logAttrs = append(logAttrs, slog.String("metrics_endpoint", "/metrics"))
		}
		if cfg.Server.RateLimitEnabled {
			logAttrs = append(logAttrs,
				slog.Float64("rate_limit_rps", cfg.Server.RateLimitRPS),
				slog.Int("rate_limit_burst", cfg.Server.RateLimitBurst),
			)
		}
		logger.Info("server starting", logAttrs...)

		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("server failed: %w", err)
		}
	}()
	return serverErrors
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}

// healthHandler reports whether the database answers a ping.
func healthHandler(db *sql.DB, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			reqLogger.Error("health check failed",
				slog.String("error", err.Error()),
				slog.String("check", "database"),
			)
			middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "failed"})
			return
		}

		reqLogger.Debug("health check passed")
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy", "database": "ok"})
	}
}
