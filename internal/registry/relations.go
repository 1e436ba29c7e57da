package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"pg-engine/internal/introspection"
	"pg-engine/internal/model"
	"pg-engine/internal/naming"
	"pg-engine/internal/result"
)

// LoadRelations reads a relations file: a JSON object mapping table names
// to lists of relation descriptors. An empty path yields no relations.
func LoadRelations(path string) result.Result[Relations] {
	if path == "" {
		return result.Ok(Relations{})
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return result.Fail[Relations](fmt.Errorf("read relations file: %w", err))
	}
	var rels Relations
	if err := json.Unmarshal(data, &rels); err != nil {
		return result.Fail[Relations](fmt.Errorf("parse relations file %s: %w", path, err))
	}
	if rels == nil {
		rels = Relations{}
	}
	for table, list := range rels {
		for i, rel := range list {
			if err := validateRelation(rel); err != nil {
				return result.Fail[Relations](fmt.Errorf("relations file %s: %s[%d]: %w", path, table, i, err))
			}
		}
	}
	return result.Ok(rels)
}

// LoadRelationsSoft is LoadRelations defaulting to no relations. A missing
// file is expected and logged at debug; other failures at warn.
func LoadRelationsSoft(path string, logger *slog.Logger) Relations {
	if logger == nil {
		logger = slog.Default()
	}
	return LoadRelations(path).OrElse(func(err error) Relations {
		if errors.Is(err, os.ErrNotExist) {
			logger.Debug("no relations file", slog.String("path", path))
		} else {
			logger.Warn("ignoring relations file", slog.String("path", path), slog.String("error", err.Error()))
		}
		return Relations{}
	})
}

func validateRelation(rel model.Relation) error {
	switch {
	case strings.TrimSpace(rel.Alias) == "":
		return errors.New("alias is required")
	case rel.ToTable == "":
		return errors.New("to_table is required")
	case rel.FromColumn == "" || rel.ToColumn == "":
		return errors.New("from_column and to_column are required")
	case rel.Type != model.RelationObject && rel.Type != model.RelationArray:
		return fmt.Errorf("type must be %q or %q", model.RelationObject, model.RelationArray)
	}
	return nil
}

// InferRelations derives relations from single-column foreign keys: the
// referencing table gets an object relation named after the key column
// without its _id suffix (or the singular target table), and the
// referenced table gets an array relation named after the plural of the
// referencing table. Names taken by a column are skipped.
func InferRelations(schema *introspection.Schema) Relations {
	rels := Relations{}
	if schema == nil {
		return rels
	}
	namer := naming.Default()
	taken := map[string]map[string]bool{}
	reserve := func(table introspection.Table, alias string) bool {
		if _, isColumn := table.Column(alias); isColumn {
			return false
		}
		if taken[table.Name] == nil {
			taken[table.Name] = map[string]bool{}
		}
		if taken[table.Name][alias] {
			return false
		}
		taken[table.Name][alias] = true
		return true
	}
	byName := map[string]introspection.Table{}
	for _, t := range schema.Tables {
		byName[t.Name] = t
	}

	for _, table := range schema.Tables {
		for _, fk := range introspection.ForeignKeyConstraints(table) {
			if len(fk.ColumnNames) != 1 {
				continue
			}
			target, ok := byName[fk.ReferencedTable]
			if !ok {
				continue
			}
			col, refCol := fk.ColumnNames[0], fk.ReferencedColumns[0]

			alias := strings.TrimSuffix(col, "_id")
			if alias == col {
				alias = namer.Singularize(target.Name)
			}
			if reserve(table, alias) {
				rels[table.Name] = append(rels[table.Name], model.Relation{
					Alias: alias, FromTable: table.Name, FromColumn: col,
					ToTable: target.Name, ToColumn: refCol, Type: model.RelationObject,
				})
			}
			if many := namer.Pluralize(table.Name); reserve(target, many) {
				rels[target.Name] = append(rels[target.Name], model.Relation{
					Alias: many, FromTable: target.Name, FromColumn: refCol,
					ToTable: table.Name, ToColumn: col, Type: model.RelationArray,
				})
			}
		}
	}
	return rels
}

// Merge overlays declared relations on inferred ones; a declared alias
// replaces an inferred relation of the same name.
func Merge(inferred, declared Relations) Relations {
	out := Relations{}
	for table, list := range inferred {
		out[table] = append(out[table], list...)
	}
	for table, list := range declared {
		for _, rel := range list {
			replaced := false
			for i := range out[table] {
				if out[table][i].Alias == rel.Alias {
					out[table][i] = rel
					replaced = true
					break
				}
			}
			if !replaced {
				out[table] = append(out[table], rel)
			}
		}
	}
	return out
}
