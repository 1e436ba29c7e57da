package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"reflect"

	"pg-engine/internal/auth"
	"pg-engine/internal/filter"
	"pg-engine/internal/registry"

	"gopkg.in/yaml.v3"
)

// ModelsFile is the declarative form of per-model options.
//
//	models:
//	  users:
//	    identifier: id
//	    pagination: false
//	    column_filters: true
//	    filters:
//	      - {key: q, column: email, operator: _ilike}
//	    http:
//	      get: {auth: true, include: [posts]}
//	      delete: {auth: true, require_claims: {role: admin}}
type ModelsFile struct {
	Models map[string]ModelEntry `yaml:"models"`
}

// ModelEntry declares the options of one table.
type ModelEntry struct {
	Identifier string `yaml:"identifier"`
	Pagination *bool  `yaml:"pagination"`
	// ColumnFilters registers an equality filter per column, keyed by the
	// column name, ahead of the declared filters.
	ColumnFilters bool                  `yaml:"column_filters"`
	Filters       []filter.Spec         `yaml:"filters"`
	HTTP          map[Verb]HandlerEntry `yaml:"http"`
}

// HandlerEntry declares the configuration of one verb.
type HandlerEntry struct {
	Auth                 bool     `yaml:"auth"`
	Include              []string `yaml:"include"`
	RejectUnfilteredBulk bool     `yaml:"reject_unfiltered_bulk"`
	// RequireClaims restricts access to callers whose token carries every
	// listed claim with the listed value.
	RequireClaims map[string]any `yaml:"require_claims"`
}

// LoadModelsFile reads a models file. An empty path yields an empty file.
func LoadModelsFile(path string) (*ModelsFile, error) {
	if path == "" {
		return &ModelsFile{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read models file: %w", err)
	}
	var mf ModelsFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&mf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse models file %s: %w", path, err)
	}
	for table, entry := range mf.Models {
		for verb := range entry.HTTP {
			switch verb {
			case VerbGet, VerbPost, VerbPut, VerbDelete:
			default:
				return nil, fmt.Errorf("models file: %s: unknown verb %q", table, verb)
			}
		}
	}
	return &mf, nil
}

// Options converts the file into ModelOptions. Column filters need the
// registry to enumerate columns; tables it does not know are passed through
// so the engine can warn about them.
func (mf *ModelsFile) Options(reg *registry.Registry) (map[string]ModelOptions, error) {
	out := make(map[string]ModelOptions, len(mf.Models))
	for table, entry := range mf.Models {
		var specs []filter.Spec
		if entry.ColumnFilters {
			if meta, ok := reg.Meta(table); ok {
				for _, col := range meta.ColumnNames() {
					specs = append(specs, filter.Spec{Key: col, Column: col})
				}
			}
		}
		specs = append(specs, entry.Filters...)
		filters, err := filter.FromSpecs(specs)
		if err != nil {
			return nil, fmt.Errorf("models file: %s: %w", table, err)
		}

		opts := ModelOptions{
			Identifier: entry.Identifier,
			Filters:    filters,
			Pagination: entry.Pagination,
		}
		opts.HTTPHandlers.Get = entry.HTTP[VerbGet].config()
		opts.HTTPHandlers.Post = entry.HTTP[VerbPost].config()
		opts.HTTPHandlers.Put = entry.HTTP[VerbPut].config()
		opts.HTTPHandlers.Delete = entry.HTTP[VerbDelete].config()
		out[table] = opts
	}
	return out, nil
}

func (h HandlerEntry) config() HandlerConfig {
	cfg := HandlerConfig{
		Auth:                 h.Auth,
		RejectUnfilteredBulk: h.RejectUnfilteredBulk,
	}
	if len(h.Include) > 0 {
		include := append([]string(nil), h.Include...)
		cfg.Include = func(*http.Request, auth.Identity) []string { return include }
	}
	if len(h.RequireClaims) > 0 {
		cfg.CanAccess = requireClaims(h.RequireClaims)
	}
	return cfg
}

func requireClaims(want map[string]any) AccessFunc {
	return func(_ context.Context, user auth.Identity, _ *http.Request) (bool, error) {
		for claim, value := range want {
			if !claimEquals(user[claim], value) {
				return false, nil
			}
		}
		return true, nil
	}
}

// claimEquals compares a JSON-decoded claim with a YAML-decoded value; the
// two decoders disagree on integer types.
func claimEquals(got, want any) bool {
	if g, ok := toFloat(got); ok {
		if w, ok := toFloat(want); ok {
			return g == w
		}
	}
	return reflect.DeepEqual(got, want)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
