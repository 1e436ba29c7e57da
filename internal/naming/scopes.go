package naming

import (
	"log/slog"
	"strconv"
)

const (
	scopeTypes   = "type"
	scopeQueries = "query"
)

func fieldScope(typeName string) string { return "field:" + typeName }

// scopes records which source claimed each name, per GraphQL namespace.
type scopes struct {
	claimed map[string]map[string]string
	logger  *slog.Logger
}

func newScopes(logger *slog.Logger) *scopes {
	return &scopes{claimed: map[string]map[string]string{}, logger: logger}
}

func (s *scopes) taken(scope, name string) bool {
	_, ok := s.claimed[scope][name]
	return ok
}

// claim reserves name for source. When another source already holds it the
// lowest free numeric suffix starting at 2 is used instead.
func (s *scopes) claim(scope, name, source string) string {
	names := s.claimed[scope]
	if names == nil {
		names = map[string]string{}
		s.claimed[scope] = names
	}
	holder, clash := names[name]
	if !clash {
		names[name] = source
		return name
	}

	candidate := name
	for n := 2; ; n++ {
		candidate = name + strconv.Itoa(n)
		if _, used := names[candidate]; !used {
			break
		}
	}
	names[candidate] = source
	s.logger.Warn("naming collision detected, applying suffix",
		slog.String("scope", scope),
		slog.String("name", name),
		slog.String("existing_source", holder),
		slog.String("new_source", source),
		slog.String("renamed", candidate),
	)
	return candidate
}
