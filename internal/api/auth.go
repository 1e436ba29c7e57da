package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"pg-engine/internal/auth"
	"pg-engine/internal/logging"
	"pg-engine/internal/middleware"
	"pg-engine/internal/validation"
)

// Auth endpoint paths below the auth prefix.
const (
	LoginPath        = "/login"
	RegisterPath     = "/register"
	RefreshTokenPath = "/refresh-token"
)

func (h *Handler) registerAuth(mux *http.ServeMux, prefix string) {
	schemas := h.engine.Schemas().Auth
	mux.Handle(http.MethodPost+" "+prefix+LoginPath, h.authEndpoint("login", schemas.Login, h.login))
	mux.Handle(http.MethodPost+" "+prefix+RegisterPath, h.authEndpoint("register", schemas.Register, h.register))
	mux.Handle(http.MethodPost+" "+prefix+RefreshTokenPath, h.authEndpoint("refresh-token", schemas.RefreshToken, h.refresh))
}

type authOperation func(r *http.Request, body map[string]any) (int, any, error)

// authEndpoint validates the body against schema and answers auth.Error
// rejections with their own status.
func (h *Handler) authEndpoint(name string, schema *validation.Schema, op authOperation) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			h.metrics.RecordRequest(r.Context(), h.auth.Table(), name, rec.status, time.Since(start))
		}()

		if schema == nil {
			middleware.WriteError(rec, http.StatusInternalServerError, "Auth table is missing its identity or credentials column")
			return
		}
		raw, herr := decodeBody(r)
		if herr != nil {
			middleware.WriteError(rec, herr.status, herr.message)
			return
		}
		body, err := validateObject(schema, raw)
		if err != nil {
			middleware.WriteError(rec, http.StatusBadRequest, "body: "+err.Error())
			return
		}

		status, data, err := op(r, body)
		if err != nil {
			var authErr *auth.Error
			if errors.As(err, &authErr) {
				middleware.WriteError(rec, authErr.Status, authErr.Message)
				return
			}
			if herr := clientError(err); herr != nil {
				middleware.WriteError(rec, herr.status, herr.message)
				return
			}
			logging.FromContext(r.Context()).Error("auth endpoint failed",
				slog.String("endpoint", name),
				slog.String("error", err.Error()),
			)
			middleware.WriteError(rec, http.StatusInternalServerError, "")
			return
		}
		middleware.WriteJSON(rec, status, data)
	})
}

func (h *Handler) login(r *http.Request, body map[string]any) (int, any, error) {
	pair, err := h.auth.Login(r.Context(), body)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, pair, nil
}

func (h *Handler) register(r *http.Request, body map[string]any) (int, any, error) {
	if err := h.auth.Register(r.Context(), body); err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, map[string]string{"message": auth.RegisteredMessage}, nil
}

func (h *Handler) refresh(r *http.Request, body map[string]any) (int, any, error) {
	token, _ := body["refresh_token"].(string)
	pair, err := h.auth.Refresh(r.Context(), token)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, pair, nil
}
