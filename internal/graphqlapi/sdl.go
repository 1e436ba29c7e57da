package graphqlapi

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/graphql-go/graphql"
	"github.com/vektah/gqlparser/v2"
	gqlast "github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
)

var builtinScalars = map[string]bool{
	"String": true, "Int": true, "Float": true, "Boolean": true, "ID": true,
}

// SDL renders schema as SDL. The raw rendering is loaded back with
// gqlparser, which validates it, and printed by its formatter.
func SDL(schema graphql.Schema) (string, error) {
	parsed, err := gqlparser.LoadSchema(&gqlast.Source{Name: "schema.graphql", Input: rawSDL(schema)})
	if err != nil {
		return "", fmt.Errorf("parse generated schema: %w", err)
	}
	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatSchema(parsed)
	return buf.String(), nil
}

// WriteSDL writes the SDL of schema to path, creating parent directories.
func WriteSDL(schema graphql.Schema, path string) error {
	sdl, err := SDL(schema)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create sdl directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sdl), 0o644); err != nil {
		return fmt.Errorf("write sdl: %w", err)
	}
	return nil
}

func rawSDL(schema graphql.Schema) string {
	typeMap := schema.TypeMap()
	names := make([]string, 0, len(typeMap))
	for name := range typeMap {
		if strings.HasPrefix(name, "__") || builtinScalars[name] {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		switch t := typeMap[name].(type) {
		case *graphql.Scalar:
			fmt.Fprintf(&b, "scalar %s\n\n", t.Name())
		case *graphql.Object:
			writeObject(&b, t)
		}
	}
	return b.String()
}

func writeObject(b *strings.Builder, obj *graphql.Object) {
	fields := obj.Fields()
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	if desc := obj.Description(); desc != "" {
		fmt.Fprintf(b, "%q\n", desc)
	}
	fmt.Fprintf(b, "type %s {\n", obj.Name())
	for _, name := range names {
		field := fields[name]
		b.WriteString("  " + name)
		if len(field.Args) > 0 {
			args := make([]string, 0, len(field.Args))
			for _, arg := range field.Args {
				args = append(args, fmt.Sprintf("%s: %s", arg.Name(), arg.Type.String()))
			}
			sort.Strings(args)
			b.WriteString("(" + strings.Join(args, ", ") + ")")
		}
		fmt.Fprintf(b, ": %s\n", field.Type.String())
	}
	b.WriteString("}\n\n")
}
