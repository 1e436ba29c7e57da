// Package api registers the generated REST routes: CRUD handlers for every
// table route of the engine plus the login, register and refresh-token
// endpoints.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"pg-engine/internal/auth"
	"pg-engine/internal/dbexec"
	"pg-engine/internal/engine"
	"pg-engine/internal/middleware"
	"pg-engine/internal/observability"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Config wires a Handler.
type Config struct {
	Engine   *engine.Engine
	Executor dbexec.QueryExecutor
	// Verifier checks bearer tokens on routes that require auth.
	Verifier auth.Verifier
	// Auth serves the auth endpoints; nil skips them.
	Auth            *auth.Service
	Metrics         *observability.EngineMetrics
	SecurityMetrics *observability.SecurityMetrics
}

// Handler registers and serves the generated routes.
type Handler struct {
	engine          *engine.Engine
	exec            dbexec.QueryExecutor
	verifier        auth.Verifier
	auth            *auth.Service
	metrics         *observability.EngineMetrics
	securityMetrics *observability.SecurityMetrics
}

// NewHandler validates cfg and returns a Handler.
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("api: engine is required")
	}
	if cfg.Executor == nil {
		return nil, errors.New("api: executor is required")
	}
	return &Handler{
		engine:          cfg.Engine,
		exec:            cfg.Executor,
		verifier:        cfg.Verifier,
		auth:            cfg.Auth,
		metrics:         cfg.Metrics,
		securityMetrics: cfg.SecurityMetrics,
	}, nil
}

// Register mounts every route on mux. Routes that require auth fail
// registration when no verifier is configured.
func (h *Handler) Register(mux *http.ServeMux) error {
	opts := h.engine.Options()

	if opts.Auth.Enabled && h.auth != nil {
		h.registerAuth(mux, opts.AuthPrefix())
	}
	if opts.DisableAPIHandlers {
		return nil
	}

	prefix := opts.Prefix()
	for _, route := range h.engine.Routes() {
		base := prefix + route.Path
		item := base + "/{id}"
		hasID := route.Identifier() != "" && route.Schemas.PathParams != nil

		type binding struct {
			method  string
			pattern string
			verb    engine.Verb
			byID    bool
			op      operation
		}
		bindings := []binding{
			{http.MethodGet, base, engine.VerbGet, false, h.list},
			{http.MethodPost, base, engine.VerbPost, false, h.create},
			{http.MethodPut, base, engine.VerbPut, false, h.update},
			{http.MethodDelete, base, engine.VerbDelete, false, h.delete},
		}
		if hasID {
			bindings = append(bindings,
				binding{http.MethodGet, item, engine.VerbGet, true, h.get},
				binding{http.MethodPut, item, engine.VerbPut, true, h.update},
				binding{http.MethodDelete, item, engine.VerbDelete, true, h.delete},
			)
		}

		for _, b := range bindings {
			handler, err := h.routeHandler(route, b.verb, b.byID, b.op)
			if err != nil {
				return err
			}
			mux.Handle(b.method+" "+b.pattern, handler)
		}
	}
	return nil
}

// routeHandler chains the pre-handler steps in front of op: the token gate
// when the verb requires auth, then the request metrics.
func (h *Handler) routeHandler(route *engine.Route, verb engine.Verb, byID bool, op operation) (http.Handler, error) {
	cfg := route.Handlers.For(verb)
	var next http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.serve(w, r, route, verb, cfg, byID, op)
	})
	if cfg.Auth {
		if h.verifier == nil {
			return nil, fmt.Errorf("api: %s %s requires auth but no token verifier is configured", verb, route.Path)
		}
		next = middleware.RequireAuth(h.verifier, h.securityMetrics)(next)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.metrics.RecordRequest(r.Context(), route.Table, string(verb), rec.status, time.Since(start))
	}), nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
