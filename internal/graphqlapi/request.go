package graphqlapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/printer"
	"github.com/graphql-go/graphql/language/source"
)

const anonymousOperation = "<anonymous>"

// operation is what the handler chain learns about a request before
// execution.
type operation struct {
	Name   string
	Type   string
	Depth  int
	Fields int
	// Hash identifies the operation text independent of whitespace.
	Hash string
}

type operationKey struct{}

func withOperation(ctx context.Context, op *operation) context.Context {
	return context.WithValue(ctx, operationKey{}, op)
}

func operationFromContext(ctx context.Context) *operation {
	op, _ := ctx.Value(operationKey{}).(*operation)
	return op
}

// analyze reads the operation of a GraphQL request and rewinds the body
// for the executing handler. A request whose document cannot be read
// returns an error; the handler leaves reporting it to graphql-go.
func analyze(r *http.Request) (*operation, error) {
	query, name, err := readQuery(r)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("request has no query")
	}

	doc, err := parser.Parse(parser.ParseParams{
		Source: source.NewSource(&source.Source{Body: []byte(query), Name: "graphql"}),
	})
	if err != nil {
		return nil, err
	}

	fragments := map[string]*ast.FragmentDefinition{}
	var ops []*ast.OperationDefinition
	for _, def := range doc.Definitions {
		switch d := def.(type) {
		case *ast.FragmentDefinition:
			if d.Name != nil {
				fragments[d.Name.Value] = d
			}
		case *ast.OperationDefinition:
			ops = append(ops, d)
		}
	}

	op, err := pickOperation(ops, name)
	if err != nil {
		return nil, err
	}

	out := &operation{Name: anonymousOperation, Type: op.Operation}
	if op.Name != nil && op.Name.Value != "" {
		out.Name = op.Name.Value
	}
	out.Fields, out.Depth = measure(op.SelectionSet, fragments, 1, map[string]bool{})

	if printed, ok := printer.Print(op).(string); ok {
		sum := sha256.Sum256([]byte(out.Name + "|" + printed))
		out.Hash = hex.EncodeToString(sum[:])
	}
	return out, nil
}

func readQuery(r *http.Request) (query, operationName string, err error) {
	switch r.Method {
	case http.MethodGet:
		return r.URL.Query().Get("query"), r.URL.Query().Get("operationName"), nil
	case http.MethodPost:
	default:
		return "", "", nil
	}
	if r.Body == nil {
		return "", "", nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return "", "", err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/graphql" {
		return string(body), "", nil
	}
	var payload struct {
		Query         string `json:"query"`
		OperationName string `json:"operationName"`
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return "", "", nil
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", "", err
	}
	return payload.Query, payload.OperationName, nil
}

func pickOperation(ops []*ast.OperationDefinition, name string) (*ast.OperationDefinition, error) {
	if name != "" {
		for _, op := range ops {
			if op.Name != nil && op.Name.Value == name {
				return op, nil
			}
		}
		return nil, fmt.Errorf("unknown operation named %q", name)
	}
	switch len(ops) {
	case 0:
		return nil, errors.New("request does not include an operation")
	case 1:
		return ops[0], nil
	}
	return nil, errors.New("operationName is required when request has multiple operations")
}

// measure counts the fields of a selection set and its depth. Fragment
// spreads count at the depth they are spread; a fragment already being
// expanded is skipped so cycles terminate.
func measure(set *ast.SelectionSet, fragments map[string]*ast.FragmentDefinition, depth int, expanding map[string]bool) (fields, maxDepth int) {
	if set == nil {
		return 0, depth - 1
	}
	maxDepth = depth
	merge := func(f, d int) {
		fields += f
		if d > maxDepth {
			maxDepth = d
		}
	}
	for _, sel := range set.Selections {
		switch s := sel.(type) {
		case *ast.Field:
			fields++
			if s.SelectionSet != nil {
				merge(measure(s.SelectionSet, fragments, depth+1, expanding))
			}
		case *ast.InlineFragment:
			merge(measure(s.SelectionSet, fragments, depth, expanding))
		case *ast.FragmentSpread:
			if s.Name == nil || expanding[s.Name.Value] {
				continue
			}
			frag, ok := fragments[s.Name.Value]
			if !ok {
				continue
			}
			expanding[s.Name.Value] = true
			merge(measure(frag.SelectionSet, fragments, depth, expanding))
			delete(expanding, s.Name.Value)
		}
	}
	return fields, maxDepth
}
