// Package pagination wraps list queries in a page envelope.
package pagination

import (
	"context"
	"fmt"

	"pg-engine/internal/filter"
	"pg-engine/internal/model"
	"pg-engine/internal/result"
)

// DefaultView is the page size used when the request does not name one.
const DefaultView = 10

// Envelope is the paginated list response.
type Envelope struct {
	Page    int64       `json:"page"`
	View    int64       `json:"view"`
	Total   int64       `json:"total"`
	Limit   int64       `json:"limit"`
	Skip    int64       `json:"skip"`
	PerPage int64       `json:"per_page"`
	Results []model.Row `json:"results"`
}

// CountFunc counts the rows matching a predicate.
type CountFunc func(ctx context.Context, pred filter.Predicate) (int64, error)

// FetchFunc loads one page of rows.
type FetchFunc func(ctx context.Context, pred filter.Predicate, limit, offset int) ([]model.Row, error)

// Empty is the fallback envelope for a failed aggregation. view is taken
// as given, so callers normalize first.
func Empty(page, view int64) Envelope {
	return Envelope{
		Page:    page,
		View:    view,
		PerPage: view,
		Results: []model.Row{},
	}
}

// Normalize applies the page defaults: page below 1 is 1 and a view of 0
// or less is DefaultView.
func Normalize(page, view int64) (int64, int64) {
	if page < 1 {
		page = 1
	}
	if view <= 0 {
		view = DefaultView
	}
	return page, view
}

// Paginate counts the matching rows and, when there are any, fetches the
// requested page. A zero total skips the fetch but still reports the
// window the page would cover.
func Paginate(ctx context.Context, page, view int64, pred filter.Predicate, count CountFunc, fetch FetchFunc) result.Result[Envelope] {
	page, perPage := Normalize(page, view)

	total, err := count(ctx, pred)
	if err != nil {
		return result.Fail[Envelope](fmt.Errorf("count: %w", err))
	}

	env := Envelope{
		Page:    page,
		View:    perPage,
		Total:   total,
		Limit:   perPage,
		Skip:    (page - 1) * perPage,
		PerPage: perPage,
		Results: []model.Row{},
	}
	if total == 0 {
		return result.Ok(env)
	}

	rows, err := fetch(ctx, pred, int(env.Limit), int(env.Skip))
	if err != nil {
		return result.Fail[Envelope](fmt.Errorf("fetch page %d: %w", page, err))
	}
	if rows != nil {
		env.Results = rows
	}
	return result.Ok(env)
}

// ForModel paginates over a model's Count and Find. Includes are resolved
// on the fetched page only.
func ForModel(ctx context.Context, m model.Model, page, view int64, pred filter.Predicate, orderBy []string, include []string) result.Result[Envelope] {
	count := func(ctx context.Context, pred filter.Predicate) (int64, error) {
		return m.Count(ctx, pred)
	}
	fetch := func(ctx context.Context, pred filter.Predicate, limit, offset int) ([]model.Row, error) {
		return m.Find(ctx, model.FindOptions{
			Where:   pred,
			Limit:   limit,
			Offset:  offset,
			OrderBy: orderBy,
			Include: include,
		})
	}
	return Paginate(ctx, page, view, pred, count, fetch)
}
