package model

import (
	"context"
	"fmt"

	"pg-engine/internal/filter"
)

// attachIncludes loads each requested relation with one IN query and
// places the related rows under the relation alias: a row (or nil) for
// object relations and a list for array relations.
func (t *Table) attachIncludes(ctx context.Context, rows []Row, aliases []string) error {
	for _, alias := range aliases {
		rel, ok := t.meta.Relations[alias]
		if !ok {
			return fmt.Errorf("%w: %s.%s", ErrUnknownRelation, t.meta.Table, alias)
		}
		if t.catalog == nil {
			return fmt.Errorf("%w: %s.%s has no catalog", ErrUnknownRelation, t.meta.Table, alias)
		}
		target, ok := t.catalog.Meta(rel.ToTable)
		if !ok {
			return fmt.Errorf("%w: %s.%s targets unknown table %s", ErrUnknownRelation, t.meta.Table, alias, rel.ToTable)
		}

		keys := make([]any, 0, len(rows))
		seen := make(map[string]bool, len(rows))
		for _, row := range rows {
			v := row[rel.FromColumn]
			if v == nil {
				continue
			}
			k := fmt.Sprint(v)
			if !seen[k] {
				seen[k] = true
				keys = append(keys, v)
			}
		}

		index := map[string][]Row{}
		if len(keys) > 0 {
			related := &Table{meta: target, catalog: t.catalog, exec: t.exec}
			found, err := related.find(ctx, FindOptions{
				Where: filter.Predicate{rel.ToColumn: map[string]any{filter.OpIn: keys}},
			})
			if err != nil {
				return fmt.Errorf("include %s: %w", alias, err)
			}
			for _, r := range found {
				k := fmt.Sprint(r[rel.ToColumn])
				index[k] = append(index[k], r)
			}
		}

		for _, row := range rows {
			matches := index[fmt.Sprint(row[rel.FromColumn])]
			if row[rel.FromColumn] == nil {
				matches = nil
			}
			if rel.Type == RelationArray {
				if matches == nil {
					matches = []Row{}
				}
				row[alias] = matches
				continue
			}
			if len(matches) > 0 {
				row[alias] = matches[0]
			} else {
				row[alias] = nil
			}
		}
	}
	return nil
}
