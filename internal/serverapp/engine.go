package serverapp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"pg-engine/internal/api"
	"pg-engine/internal/auth"
	"pg-engine/internal/config"
	"pg-engine/internal/dbexec"
	"pg-engine/internal/engine"
	"pg-engine/internal/graphqlapi"
	"pg-engine/internal/introspection"
	"pg-engine/internal/logging"
	"pg-engine/internal/migrations"
	"pg-engine/internal/naming"
	"pg-engine/internal/observability"
	"pg-engine/internal/openapi"
	"pg-engine/internal/registry"
)

// runMigrations applies the startup migration policy: reset, additional
// migrations, then pending files. Nothing runs unless apply or reset is set.
func runMigrations(ctx context.Context, cfg *config.Config, logger *logging.Logger, exec dbexec.QueryExecutor) error {
	mc := cfg.Migrations
	if !mc.Apply && !mc.Reset {
		return nil
	}
	additional := make([]migrations.Spec, 0, len(mc.Additional))
	for _, spec := range mc.Additional {
		additional = append(additional, migrations.Spec{Up: spec.Up, Down: spec.Down})
	}
	runner := migrations.New(mc.Dir, exec, logger.Logger)
	logger.Info("running startup migrations",
		slog.String("dir", runner.Dir()),
		slog.Bool("reset", mc.Reset),
		slog.Int("additional", len(additional)),
	)
	return runner.Startup(ctx, migrations.StartupOptions{
		Schema:     cfg.Database.EffectiveSchema(),
		Reset:      mc.Reset,
		Additional: additional,
	})
}

// introspect reads the catalog. Unless strict introspection is on, catalog
// failures are logged, counted and replaced by empty results.
func introspect(ctx context.Context, cfg *config.Config, logger *logging.Logger, db introspection.Queryer, metrics *observability.EngineMetrics) (*introspection.Schema, error) {
	schemaName := cfg.Database.EffectiveSchema()
	opts := introspection.Options{
		Concurrency: cfg.Engine.IntrospectionConcurrency,
		Logger:      logger.Logger,
	}
	if cfg.Engine.StrictIntrospection {
		schema, err := introspection.IntrospectSchema(ctx, db, schemaName, opts)
		if err != nil {
			return nil, fmt.Errorf("introspect schema %s: %w", schemaName, err)
		}
		return schema, nil
	}
	schema, failures := introspection.IntrospectSchemaSoft(ctx, db, schemaName, opts)
	for _, f := range failures {
		metrics.RecordSoftFailure(ctx, "introspection", f.Table)
	}
	return schema, nil
}

// buildRegistry merges declared relations over inferred ones when
// inference is on.
func buildRegistry(cfg *config.Config, logger *logging.Logger, schema *introspection.Schema) *registry.Registry {
	relations := registry.LoadRelationsSoft(cfg.Engine.RelationsFile, logger.Logger)
	if cfg.Engine.InferRelations {
		relations = registry.Merge(registry.InferRelations(schema), relations)
	}
	reg := registry.Build(schema, relations, logger.Logger)
	logger.Info("model registry built",
		slog.String("schema", reg.Schema()),
		slog.Int("tables", len(reg.Tables())),
		slog.Int("dropped_relations", len(reg.Dropped())),
	)
	return reg
}

func engineOptions(cfg *config.Config, reg *registry.Registry) (engine.Options, error) {
	modelsFile, err := engine.LoadModelsFile(cfg.Engine.ModelsFile)
	if err != nil {
		return engine.Options{}, err
	}
	models, err := modelsFile.Options(reg)
	if err != nil {
		return engine.Options{}, err
	}
	return engine.Options{
		APIPrefix:          cfg.Engine.APIPrefix,
		DisableAPIHandlers: cfg.Engine.DisableAPIHandlers,
		Pagination:         cfg.Engine.Pagination,
		DefaultPageSize:    cfg.Engine.DefaultPageSize,
		StrictFilters:      cfg.Engine.StrictFilters,
		Auth: engine.AuthOptions{
			Enabled:          cfg.Auth.Enabled,
			URL:              cfg.Auth.URL,
			Table:            cfg.Auth.Table,
			PrimaryKeys:      cfg.Auth.PrimaryKeys,
			IdentityField:    cfg.Auth.IdentityField,
			CredentialsField: cfg.Auth.CredentialsField,
		},
		Models: models,
	}, nil
}

// authStack is the token machinery shared by the REST and GraphQL routes.
type authStack struct {
	service  *auth.Service
	verifier auth.Verifier
}

// buildAuth creates the signer and service when auth is enabled. Access
// tokens are checked by the OIDC issuer when one is configured and by the
// signer otherwise.
func buildAuth(ctx context.Context, cfg *config.Config, logger *logging.Logger, eng *engine.Engine, exec dbexec.QueryExecutor, metrics *observability.SecurityMetrics) (authStack, error) {
	var stack authStack
	if cfg.Auth.Enabled {
		signer, err := auth.NewSigner(
			auth.TokenConfig{
				Secret:    []byte(cfg.Auth.AccessToken.Secret),
				ExpiresIn: cfg.Auth.AccessToken.ExpiresIn,
				Algorithm: cfg.Auth.AccessToken.Algorithm,
			},
			auth.TokenConfig{
				Secret:    []byte(cfg.Auth.RefreshToken.Secret),
				ExpiresIn: cfg.Auth.RefreshToken.ExpiresIn,
				Algorithm: cfg.Auth.RefreshToken.Algorithm,
			},
		)
		if err != nil {
			return stack, fmt.Errorf("configure token signer: %w", err)
		}
		users, ok := eng.AuthModel(exec)
		if !ok {
			return stack, fmt.Errorf("auth table %q not found", cfg.Auth.Table)
		}
		stack.service = auth.NewService(users, signer, auth.Options{
			IdentityField:    cfg.Auth.IdentityField,
			CredentialsField: cfg.Auth.CredentialsField,
			BcryptCost:       cfg.Auth.BcryptCost,
			Metrics:          metrics,
		})
		stack.verifier = signer
	}

	if cfg.Auth.OIDC.Enabled {
		verifier, err := auth.NewOIDCVerifier(ctx, auth.OIDCConfig{
			IssuerURL:     cfg.Auth.OIDC.IssuerURL,
			Audience:      cfg.Auth.OIDC.Audience,
			ClockSkew:     cfg.Auth.OIDC.ClockSkew,
			SkipTLSVerify: cfg.Auth.OIDC.SkipTLSVerify,
		}, logger, metrics)
		if err != nil {
			return stack, fmt.Errorf("configure oidc verifier: %w", err)
		}
		stack.verifier = verifier
		logger.Info("access tokens verified by OIDC issuer", slog.String("issuer", cfg.Auth.OIDC.IssuerURL))
	}
	return stack, nil
}

// routerDeps are the pieces buildRouter mounts.
type routerDeps struct {
	db              *sql.DB
	exec            dbexec.QueryExecutor
	engine          *engine.Engine
	auth            authStack
	engineMetrics   *observability.EngineMetrics
	securityMetrics *observability.SecurityMetrics
	meterProvider   *observability.MeterProvider
}

func buildRouter(cfg *config.Config, logger *logging.Logger, deps routerDeps) (*http.ServeMux, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler(deps.db, cfg.Server.HealthCheckTimeout))

	if cfg.Observability.MetricsEnabled && deps.meterProvider != nil {
		mux.Handle("GET /metrics", metricsHandler())
		logger.Info("metrics endpoint enabled", slog.String("path", "/metrics"))
	}

	restHandler, err := api.NewHandler(api.Config{
		Engine:          deps.engine,
		Executor:        deps.exec,
		Verifier:        deps.auth.verifier,
		Auth:            deps.auth.service,
		Metrics:         deps.engineMetrics,
		SecurityMetrics: deps.securityMetrics,
	})
	if err != nil {
		return nil, err
	}
	if err := restHandler.Register(mux); err != nil {
		return nil, fmt.Errorf("register routes: %w", err)
	}
	logger.Info("REST routes registered",
		slog.String("prefix", deps.engine.Options().Prefix()),
		slog.Int("tables", len(deps.engine.Routes())),
		slog.Bool("auth", cfg.Auth.Enabled),
	)

	if cfg.Swagger.Enabled {
		if err := mountOpenAPI(cfg, logger, mux, deps.engine); err != nil {
			return nil, err
		}
	}

	if cfg.GraphQL.Enabled {
		if err := mountGraphQL(cfg, logger, mux, deps); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

func mountOpenAPI(cfg *config.Config, logger *logging.Logger, mux *http.ServeMux, eng *engine.Engine) error {
	doc := openapi.Build(eng, openapi.Info{
		Title:        cfg.Swagger.Title,
		Description:  cfg.Swagger.Description,
		Version:      cfg.Swagger.Version,
		ContactName:  cfg.Swagger.ContactName,
		ContactEmail: cfg.Swagger.ContactEmail,
	})
	if err := doc.Validate(context.Background()); err != nil {
		logger.Warn("OpenAPI document is not valid", slog.String("error", err.Error()))
	}
	path := eng.Options().Prefix() + "/" + strings.Trim(cfg.Swagger.Endpoint, "/")
	mux.Handle("GET "+path, openapi.Handler(doc))
	logger.Info("OpenAPI document enabled", slog.String("path", path), slog.String("paths", doc.Summary()))

	if cfg.Swagger.OutputFile != "" {
		if err := openapi.WriteFile(doc, cfg.Swagger.OutputFile); err != nil {
			return err
		}
		logger.Info("OpenAPI document written", slog.String("file", cfg.Swagger.OutputFile))
	}
	return nil
}

func mountGraphQL(cfg *config.Config, logger *logging.Logger, mux *http.ServeMux, deps routerDeps) error {
	schema, err := graphqlapi.BuildSchema(graphqlapi.Config{
		Engine:       deps.engine,
		Executor:     deps.exec,
		DefaultLimit: cfg.GraphQL.DefaultLimit,
		Naming:       naming.DefaultConfig(),
		Logger:       logger.Logger,
	})
	if errors.Is(err, graphqlapi.ErrNoTables) {
		logger.Warn("GraphQL endpoint disabled: no tables to expose")
		return nil
	}
	if err != nil {
		return fmt.Errorf("build GraphQL schema: %w", err)
	}

	hcfg := graphqlapi.HandlerConfig{
		Schema:          schema,
		DB:              deps.db,
		GraphiQL:        cfg.GraphQL.GraphiQLEnabled,
		MaxDepth:        cfg.GraphQL.MaxDepth,
		Metrics:         deps.engineMetrics,
		SecurityMetrics: deps.securityMetrics,
	}
	if cfg.GraphQL.RequireAuth {
		if deps.auth.verifier == nil {
			return errors.New("graphql.require_auth needs auth.enabled or auth.oidc.enabled")
		}
		hcfg.Verifier = deps.auth.verifier
	}
	mux.Handle(cfg.GraphQL.Path, graphqlapi.NewHandler(hcfg))
	logger.Info("GraphQL endpoint enabled",
		slog.String("path", cfg.GraphQL.Path),
		slog.Bool("graphiql", cfg.GraphQL.GraphiQLEnabled),
		slog.Bool("require_auth", cfg.GraphQL.RequireAuth),
	)

	if cfg.GraphQL.SDLPath != "" {
		if err := graphqlapi.WriteSDL(schema, cfg.GraphQL.SDLPath); err != nil {
			return err
		}
		logger.Info("GraphQL SDL written", slog.String("file", cfg.GraphQL.SDLPath))
	}
	return nil
}
