package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"pg-engine/internal/auth"
	"pg-engine/internal/engine"
	"pg-engine/internal/filter"
	"pg-engine/internal/logging"
	"pg-engine/internal/middleware"
	"pg-engine/internal/model"
	"pg-engine/internal/validation"
)

// request is the validated input of one CRUD call.
type request struct {
	ctx    context.Context
	route  *engine.Route
	verb   engine.Verb
	cfg    engine.HandlerConfig
	byID   bool
	model  model.Model
	user   auth.Identity
	logger *logging.Logger

	query  map[string]any
	params map[string]any
	body   map[string]any
	where  filter.Predicate
}

// operation runs a validated request and returns the status and payload,
// or the error to answer with.
type operation func(r *http.Request, req *request) (int, any, *httpError)

type httpError struct {
	status  int
	message string
}

func errorf(status int, format string, args ...any) *httpError {
	return &httpError{status: status, message: fmt.Sprintf(format, args...)}
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, route *engine.Route, verb engine.Verb, cfg engine.HandlerConfig, byID bool, op operation) {
	ctx := r.Context()
	req := &request{
		ctx:    ctx,
		route:  route,
		verb:   verb,
		cfg:    cfg,
		byID:   byID,
		user:   auth.FromContext(ctx),
		logger: logging.FromContext(ctx).WithTable(route.Table, string(verb)),
	}

	if cfg.CanAccess != nil {
		allowed, err := cfg.CanAccess(ctx, req.user, r)
		if err != nil {
			req.logger.Warn("access check failed", slog.String("error", err.Error()))
		}
		if err != nil || !allowed {
			middleware.WriteError(w, http.StatusForbidden, auth.ErrAccessRestricted.Message)
			return
		}
	}

	m, ok := h.engine.Model(route.Table, h.exec)
	if !ok {
		middleware.WriteError(w, http.StatusNotFound, fmt.Sprintf("Model %s not found", route.Table))
		return
	}
	req.model = m

	if herr := h.bind(r, req); herr != nil {
		middleware.WriteError(w, herr.status, herr.message)
		return
	}

	status, data, herr := op(r, req)
	if herr != nil {
		middleware.WriteError(w, herr.status, herr.message)
		return
	}

	if cfg.ResponseFormatter != nil {
		formatted, err := cfg.ResponseFormatter(data, req.user)
		if err != nil {
			h.softFailure(req, "response_formatter", err)
		} else {
			data = formatted
		}
	}
	middleware.WriteJSON(w, status, data)
}

// bind validates the query, path and body of the request, applies the
// input formatters and compiles the filter predicate.
func (h *Handler) bind(r *http.Request, req *request) *httpError {
	route := req.route

	query, err := validateObject(route.Schemas.QueryParams, queryMap(r.URL.Query()))
	if err != nil {
		return validationError("querystring", err)
	}
	req.query = h.format(req, "query_formatter", req.cfg.QueryFormatter, query)

	if req.byID {
		params, err := validateObject(route.Schemas.PathParams, map[string]any{route.Identifier(): r.PathValue("id")})
		if err != nil {
			return validationError("params", err)
		}
		req.params = h.format(req, "params_formatter", req.cfg.ParamsFormatter, params)
	}

	var bodySchema *validation.Schema
	switch req.verb {
	case engine.VerbPost:
		bodySchema = route.Schemas.Insert
	case engine.VerbPut:
		bodySchema = route.Schemas.Update
	}
	if bodySchema != nil {
		raw, herr := decodeBody(r)
		if herr != nil {
			return herr
		}
		body, err := validateObject(bodySchema, raw)
		if err != nil {
			return validationError("body", err)
		}
		req.body = h.format(req, "body_formatter", req.cfg.BodyFormatter, body)
	}

	compiled := filter.Compile(route.Filters, req.query)
	if err := compiled.Err(); err != nil {
		if h.engine.Options().StrictFilters {
			return errorf(http.StatusBadRequest, "Invalid filter: %v", err)
		}
		h.softFailure(req, "filter", err)
	}
	req.where = compiled.OrEmpty()
	if req.where == nil {
		req.where = filter.Predicate{}
	}
	if req.byID {
		for k, v := range req.params {
			req.where[k] = v
		}
	}
	return nil
}

// format runs an input formatter, keeping the raw input when it fails.
func (h *Handler) format(req *request, stage string, fn engine.Formatter, input map[string]any) map[string]any {
	if fn == nil {
		return input
	}
	out, err := fn(input, req.user)
	if err != nil || out == nil {
		if err == nil {
			err = errors.New("formatter returned nil")
		}
		h.softFailure(req, stage, err)
		return input
	}
	return out
}

func (h *Handler) softFailure(req *request, stage string, err error) {
	req.logger.Warn("soft failure", slog.String("stage", stage), slog.String("error", err.Error()))
	h.metrics.RecordSoftFailure(req.ctx, stage, req.route.Table)
}

// includes merges the route's Include function with the include query
// parameter.
func (req *request) includes(r *http.Request) []string {
	var out []string
	if req.cfg.Include != nil {
		out = append(out, req.cfg.Include(r, req.user)...)
	}
	if raw, ok := req.query["include"].(string); ok {
		for _, alias := range strings.Split(raw, ",") {
			alias = strings.TrimSpace(alias)
			if alias != "" && !slices.Contains(out, alias) {
				out = append(out, alias)
			}
		}
	}
	return out
}

// queryMap flattens url.Values: repeated keys become lists.
func queryMap(values url.Values) map[string]any {
	out := make(map[string]any, len(values))
	for key, vals := range values {
		switch len(vals) {
		case 0:
		case 1:
			out[key] = vals[0]
		default:
			list := make([]any, len(vals))
			for i, v := range vals {
				list[i] = v
			}
			out[key] = list
		}
	}
	return out
}

func decodeBody(r *http.Request) (any, *httpError) {
	if r.Body == nil {
		return map[string]any{}, nil
	}
	var body any
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]any{}, nil
		}
		return nil, errorf(http.StatusBadRequest, "Invalid JSON body: %v", err)
	}
	return body, nil
}

func validateObject(schema *validation.Schema, value any) (map[string]any, error) {
	if schema == nil {
		if m, ok := value.(map[string]any); ok {
			return m, nil
		}
		return map[string]any{}, nil
	}
	out, err := schema.Validate(value)
	if err != nil {
		return nil, err
	}
	m, _ := out.(map[string]any)
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

func validationError(part string, err error) *httpError {
	return errorf(http.StatusBadRequest, "%s: %v", part, err)
}
