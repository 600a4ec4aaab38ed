package query

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

//go:embed schema.graphql
var schemaSource string

var (
	schemaOnce sync.Once
	schema     *ast.Schema
	schemaErr  error
)

// Schema returns the parsed Admin API subset the builder targets.
func Schema() (*ast.Schema, error) {
	schemaOnce.Do(func() {
		s, err := gqlparser.LoadSchema(&ast.Source{Name: "admin.graphql", Input: schemaSource})
		if err != nil {
			schemaErr = fmt.Errorf("load admin schema: %w", err)
			return
		}
		schema = s
	})
	return schema, schemaErr
}

// Validate parses text and checks it against the schema subset.
func Validate(text string) error {
	s, err := Schema()
	if err != nil {
		return err
	}

	_, errs := gqlparser.LoadQuery(s, text)
	if len(errs) > 0 {
		return fmt.Errorf("invalid query document: %w", errs)
	}
	return nil
}
