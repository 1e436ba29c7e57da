package graphqlapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"pg-engine/internal/auth"
	"pg-engine/internal/dbexec"
	"pg-engine/internal/logging"
	"pg-engine/internal/middleware"
	"pg-engine/internal/observability"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/handler"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// HandlerConfig wires the GraphQL endpoint.
type HandlerConfig struct {
	Schema graphql.Schema
	// DB opens the transaction a mutation runs in; nil runs each statement
	// on its own.
	DB       dbexec.TxBeginner
	GraphiQL bool
	// MaxDepth rejects deeper operations with 400; 0 disables the check.
	MaxDepth int
	// Verifier, when set, requires a bearer token.
	Verifier        auth.Verifier
	Metrics         *observability.EngineMetrics
	SecurityMetrics *observability.SecurityMetrics
}

// NewHandler builds the endpoint:
// auth -> analysis and depth limit -> tracing -> metrics -> mutation tx -> graphql.
func NewHandler(cfg HandlerConfig) http.Handler {
	gql := handler.New(&handler.Config{
		Schema:     &cfg.Schema,
		Pretty:     true,
		GraphiQL:   cfg.GraphiQL,
		Playground: false,
	})

	var h http.Handler = gql
	if cfg.DB != nil {
		h = mutationTx(cfg.DB)(h)
	}
	if cfg.Metrics != nil {
		h = recordMetrics(cfg.Metrics)(h)
	}
	h = traceExecution()(h)
	h = analyzeOperation(cfg.MaxDepth)(h)
	if cfg.Verifier != nil {
		h = middleware.RequireAuth(cfg.Verifier, cfg.SecurityMetrics)(h)
	}
	return h
}

// analyzeOperation stores the parsed operation on the context and enforces
// the depth limit. Unparseable requests pass through for graphql-go to
// answer.
func analyzeOperation(maxDepth int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			op, err := analyze(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			if maxDepth > 0 && op.Depth > maxDepth {
				logging.FromContext(r.Context()).Warn("graphql operation too deep",
					slog.String("operation", op.Name),
					slog.Int("depth", op.Depth),
					slog.Int("max_depth", maxDepth),
				)
				middleware.WriteError(w, http.StatusBadRequest,
					fmt.Sprintf("Operation depth %d exceeds the limit of %d", op.Depth, maxDepth))
				return
			}
			ctx := withOperation(r.Context(), op)
			logger := logging.FromContext(ctx).WithFields(
				slog.String("graphql_operation", op.Name),
				slog.String("graphql_operation_type", op.Type),
			)
			next.ServeHTTP(w, r.WithContext(logging.WithLogger(ctx, logger)))
		})
	}
}

func traceExecution() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			op := operationFromContext(r.Context())
			if op == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx, span := otel.Tracer("pg-engine/graphql").Start(r.Context(), "graphql.execute")
			defer span.End()
			if span.IsRecording() {
				span.SetAttributes(
					attribute.String("graphql.operation.name", op.Name),
					attribute.String("graphql.operation.type", op.Type),
					attribute.String("graphql.operation.hash", op.Hash),
					attribute.Int("graphql.operation.depth", op.Depth),
					attribute.Int("graphql.operation.fields", op.Fields),
				)
			}
			if sc := span.SpanContext(); sc.IsValid() {
				logger := logging.FromContext(ctx).WithFields(
					slog.String("trace_id", sc.TraceID().String()),
					slog.String("span_id", sc.SpanID().String()),
				)
				ctx = logging.WithLogger(ctx, logger)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// recordMetrics counts GraphQL requests under the table label "graphql"
// and the operation type as verb.
func recordMetrics(metrics *observability.EngineMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			verb := "unknown"
			if op := operationFromContext(r.Context()); op != nil {
				verb = op.Type
			}

			start := time.Now()
			rec := &bodyRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			status := rec.status
			// GraphQL answers execution errors with 200.
			if status < http.StatusBadRequest && hasErrors(rec.body.Bytes()) {
				status = http.StatusUnprocessableEntity
			}
			metrics.RecordRequest(r.Context(), "graphql", verb, status, time.Since(start))
		})
	}
}

// mutationTx runs every field of a mutation in one transaction. Any field
// error rolls the whole operation back.
func mutationTx(db dbexec.TxBeginner) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			op := operationFromContext(r.Context())
			if op == nil || op.Type != "mutation" {
				next.ServeHTTP(w, r)
				return
			}
			scope, err := dbexec.BeginScope(r.Context(), db)
			if err != nil {
				logging.FromContext(r.Context()).Error("failed to start mutation transaction", slog.String("error", err.Error()))
				middleware.WriteError(w, http.StatusInternalServerError, "failed to start transaction")
				return
			}
			defer func() {
				if rec := recover(); rec != nil {
					scope.MarkFailed()
					_ = scope.Finalize()
					panic(rec)
				}
				if err := scope.Finalize(); err != nil {
					logging.FromContext(r.Context()).Error("failed to finish mutation transaction", slog.String("error", err.Error()))
				}
			}()
			next.ServeHTTP(w, r.WithContext(dbexec.WithTxScope(r.Context(), scope)))
		})
	}
}

type bodyRecorder struct {
	http.ResponseWriter
	status  int
	written bool
	body    bytes.Buffer
}

func (w *bodyRecorder) WriteHeader(status int) {
	if !w.written {
		w.status = status
		w.written = true
		w.ResponseWriter.WriteHeader(status)
	}
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func hasErrors(body []byte) bool {
	var payload struct {
		Errors []json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(body), &payload); err != nil {
		return false
	}
	return len(payload.Errors) > 0
}
