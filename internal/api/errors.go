package api

import (
	"errors"
	"log/slog"
	"net/http"

	"pg-engine/internal/model"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres error codes answered with a client status.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgNotNullViolation    = "23502"
	pgInvalidText         = "22P02"
)

// clientError maps errors caused by the request itself; nil means the
// failure is the server's.
func clientError(err error) *httpError {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		message := pgErr.Message
		if pgErr.Detail != "" {
			message = pgErr.Detail
		}
		switch pgErr.Code {
		case pgUniqueViolation, pgForeignKeyViolation:
			return errorf(http.StatusConflict, "%s", message)
		case pgNotNullViolation, pgInvalidText:
			return errorf(http.StatusBadRequest, "%s", message)
		}
		return nil
	}
	switch {
	case errors.Is(err, model.ErrUnknownColumn),
		errors.Is(err, model.ErrUnknownRelation),
		errors.Is(err, model.ErrInvalidPredicate),
		errors.Is(err, model.ErrNoValues):
		return errorf(http.StatusBadRequest, "%s", err.Error())
	}
	return nil
}

// operationError answers a failed model operation: client errors keep
// their own status, anything else is logged and reported as a 500 naming
// the table and operation.
func (h *Handler) operationError(req *request, err error, format string, args ...any) *httpError {
	if herr := clientError(err); herr != nil {
		return herr
	}
	if err != nil {
		req.logger.Error("operation failed", slog.String("error", err.Error()))
	}
	return errorf(http.StatusInternalServerError, format, args...)
}
