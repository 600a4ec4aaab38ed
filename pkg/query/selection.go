package query

import (
	"fmt"
	"strconv"
	"strings"
)

// Field is one node of a selection set: a field name, optional arguments in
// render order and an optional nested selection.
type Field struct {
	Name      string
	Args      []Arg
	Selection []Field
}

// Arg is a field argument. Value must be an int, bool or string.
type Arg struct {
	Name  string
	Value any
}

// F is shorthand for a leaf or nested field without arguments.
func F(name string, selection ...Field) Field {
	return Field{Name: name, Selection: selection}
}

// Leaves builds a flat list of scalar fields.
func Leaves(names ...string) []Field {
	out := make([]Field, len(names))
	for i, n := range names {
		out[i] = Field{Name: n}
	}
	return out
}

// Connection wraps node fields in the edges/node shape. When withPageInfo is
// set the cursor and pageInfo block are selected too.
func Connection(name string, args []Arg, node []Field, withPageInfo bool) Field {
	edge := []Field{F("node", node...)}
	if withPageInfo {
		edge = append([]Field{F("cursor")}, edge...)
	}

	sel := []Field{F("edges", edge...)}
	if withPageInfo {
		sel = append(sel, F("pageInfo", Leaves("hasNextPage", "hasPreviousPage", "startCursor", "endCursor")...))
	}

	return Field{Name: name, Args: args, Selection: sel}
}

// Render writes the selection compactly with single spaces between tokens.
func Render(fields []Field) string {
	var b strings.Builder
	writeSelection(&b, fields)
	return b.String()
}

func writeSelection(b *strings.Builder, fields []Field) {
	b.WriteString("{")
	for _, f := range fields {
		b.WriteByte(' ')
		writeField(b, f)
	}
	b.WriteString(" }")
}

func writeField(b *strings.Builder, f Field) {
	b.WriteString(f.Name)
	if len(f.Args) > 0 {
		b.WriteByte('(')
		for i, a := range f.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(a.Name)
			b.WriteString(": ")
			b.WriteString(renderValue(a.Value))
		}
		b.WriteByte(')')
	}
	if len(f.Selection) > 0 {
		b.WriteByte(' ')
		writeSelection(b, f.Selection)
	}
}

func renderValue(v any) string {
	switch val := v.(type) {
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case string:
		return quote(val)
	default:
		panic(fmt.Sprintf("query: unsupported argument type %T", v))
	}
}

// quote renders a GraphQL string literal. Control characters use \u escapes
// since GraphQL has no \x form.
func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&b, `\u%04x`, r)
				continue
			}
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
