package api

import (
	"net/http"

	"pg-engine/internal/model"
	"pg-engine/internal/pagination"
)

func (h *Handler) list(r *http.Request, req *request) (int, any, *httpError) {
	include := req.includes(r)

	if !req.route.Pagination {
		rows, err := req.model.Find(req.ctx, model.FindOptions{Where: req.where, Include: include})
		if err != nil {
			return 0, nil, h.operationError(req, err, "%s entities failed to be fetched", req.route.Table)
		}
		if rows == nil {
			rows = []model.Row{}
		}
		h.metrics.RecordResultsCount(req.ctx, req.route.Table, string(req.verb), int64(len(rows)))
		return http.StatusOK, rows, nil
	}

	page, _ := req.query["page"].(int64)
	view, _ := req.query["view"].(int64)
	if view <= 0 {
		view = int64(h.engine.Options().DefaultPageSize)
	}
	page, view = pagination.Normalize(page, view)

	env, err := pagination.ForModel(req.ctx, req.model, page, view, req.where, nil, include).Unwrap()
	if err != nil {
		if herr := clientError(err); herr != nil {
			return 0, nil, herr
		}
		h.softFailure(req, "pagination", err)
		env = pagination.Empty(page, view)
	}
	h.metrics.RecordPagination(req.ctx, req.route.Table, env.Total)
	h.metrics.RecordResultsCount(req.ctx, req.route.Table, string(req.verb), int64(len(env.Results)))
	return http.StatusOK, env, nil
}

func (h *Handler) get(r *http.Request, req *request) (int, any, *httpError) {
	row, err := req.model.FindOne(req.ctx, req.where, req.includes(r))
	if err != nil {
		return 0, nil, h.operationError(req, err, "%s entity failed to be fetched", req.route.Table)
	}
	if row == nil {
		return 0, nil, errorf(http.StatusNotFound, "%s entity not found", req.route.Table)
	}
	return http.StatusOK, row, nil
}

func (h *Handler) create(_ *http.Request, req *request) (int, any, *httpError) {
	row, err := req.model.Create(req.ctx, req.body)
	if err != nil || row == nil {
		return 0, nil, h.operationError(req, err, "%s entity failed to be created", req.route.Table)
	}
	return http.StatusCreated, row, nil
}

func (h *Handler) update(_ *http.Request, req *request) (int, any, *httpError) {
	if herr := h.guardBulk(req); herr != nil {
		return 0, nil, herr
	}
	rows, err := req.model.Update(req.ctx, req.where, req.body)
	if err != nil || len(rows) == 0 {
		return 0, nil, h.operationError(req, err, "%s entity/-ies failed to be updated", req.route.Table)
	}
	return h.statement(req, rows)
}

func (h *Handler) delete(_ *http.Request, req *request) (int, any, *httpError) {
	if herr := h.guardBulk(req); herr != nil {
		return 0, nil, herr
	}
	rows, err := req.model.Delete(req.ctx, req.where)
	if err != nil || len(rows) == 0 {
		return 0, nil, h.operationError(req, err, "%s entity/-ies failed to be deleted", req.route.Table)
	}
	return h.statement(req, rows)
}

// statement answers an update or delete that touched at least one row.
func (h *Handler) statement(req *request, rows []model.Row) (int, any, *httpError) {
	h.metrics.RecordResultsCount(req.ctx, req.route.Table, string(req.verb), int64(len(rows)))
	return http.StatusOK, rows, nil
}

// guardBulk rejects PUT and DELETE without an identifier whose predicate
// is empty, when the route opts in.
func (h *Handler) guardBulk(req *request) *httpError {
	if !req.cfg.RejectUnfilteredBulk || req.byID || len(req.where) > 0 {
		return nil
	}
	return errorf(http.StatusBadRequest, "Refusing to %s every %s row without a filter", req.verb, req.route.Table)
}
