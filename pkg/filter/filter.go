// Package filter translates the bridge's small filter grammar, explicit id
// lists and allow-listed passthrough parameters into the Admin API search
// syntax used by the `query:` argument.
//
// Grammar:
//
//	filter := clause { "AND" clause }
//	clause := field op "'" value "'"
//	op     := "=" | ">=" | "<=" | "~"
//
// Clauses naming fields outside the kind's allow-list, or not matching the
// grammar, are dropped unless Options.Strict is set.
package filter

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Sternrassler/shopify-gql-bridge/pkg/apierr"
	"github.com/Sternrassler/shopify-gql-bridge/pkg/resource"
)

// Op is a comparison operator of the grammar.
type Op string

const (
	OpEq       Op = "="
	OpGte      Op = ">="
	OpLte      Op = "<="
	OpContains Op = "~"
)

// Clause is one translated condition.
type Clause struct {
	Field string // upstream search field
	Op    Op
	Value string
}

// String renders the clause in upstream search syntax.
func (c Clause) String() string {
	v := quoteValue(c.Value)
	switch c.Op {
	case OpGte:
		return c.Field + ":>=" + v
	case OpLte:
		return c.Field + ":<=" + v
	case OpContains:
		return c.Field + ":" + quoteValue(c.Value+"*")
	default:
		return c.Field + ":" + v
	}
}

// Args is the normalized filter for one request.
type Args struct {
	Clauses []Clause
	IDs     []int64
}

// Empty reports whether the filter selects everything.
func (a Args) Empty() bool {
	return len(a.Clauses) == 0 && len(a.IDs) == 0
}

// String renders the upstream query string; empty when there is no filter.
func (a Args) String() string {
	if len(a.IDs) > 0 {
		parts := make([]string, len(a.IDs))
		for i, id := range a.IDs {
			parts[i] = "id:" + strconv.FormatInt(id, 10)
		}
		return strings.Join(parts, " OR ")
	}

	parts := make([]string, len(a.Clauses))
	for i, c := range a.Clauses {
		parts[i] = c.String()
	}
	return strings.Join(parts, " AND ")
}

// Options tunes translation.
type Options struct {
	// Strict rejects unknown fields and unparsable clauses with a validation
	// error instead of dropping them.
	Strict bool
}

var (
	clausePattern = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\s*(>=|<=|=|~)\s*'((?:[^'\\]|\\.)*)'\s*$`)
	andPattern    = regexp.MustCompile(`(?i)^\s+AND\s+`)
)

// Translate builds the filter for kind.
//
// A non-empty ids list wins over every other input. Otherwise the filter text
// is parsed first and passthrough parameters on the allow-list are added for
// fields the text did not already constrain, in sorted key order.
func Translate(kind resource.Kind, text string, ids []string, params map[string]string, opts Options) (Args, error) {
	if len(ids) > 0 {
		parsed, err := parseIDs(ids)
		if err != nil {
			return Args{}, err
		}
		if len(parsed) > 0 {
			return Args{IDs: parsed}, nil
		}
	}

	allowed := allowList(kind)

	var args Args
	seen := make(map[string]bool)

	for _, raw := range splitClauses(text) {
		c, ok := parseClause(raw, allowed)
		if !ok {
			if opts.Strict {
				return Args{}, apierr.Validation("unsupported filter clause %q for %s (fields: %s)",
					raw, kind.Plural(), strings.Join(allowedFields(kind), ", "))
			}
			continue
		}
		args.Clauses = append(args.Clauses, c)
		seen[c.Field] = true
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := strings.TrimSpace(params[key])
		if value == "" {
			continue
		}
		rule, op, ok := passthroughField(strings.ToLower(key), allowed)
		if !ok {
			continue
		}
		if seen[rule.upstream] {
			continue
		}
		args.Clauses = append(args.Clauses, Clause{Field: rule.upstream, Op: op, Value: rule.value(value)})
	}

	return args, nil
}

// SplitIDs splits a comma-separated id list, dropping blanks.
func SplitIDs(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseIDs(ids []string) ([]int64, error) {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, raw := range ids {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			return nil, apierr.Validation("invalid id %q: ids must be positive integers", raw)
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out, nil
}

// splitClauses cuts text at AND separators outside quoted values.
func splitClauses(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var (
		out     []string
		start   int
		quoted  bool
		escaped bool
	)
	for i := 0; i < len(text); i++ {
		switch ch := text[i]; {
		case escaped:
			escaped = false
		case quoted && ch == '\\':
			escaped = true
		case ch == '\'':
			quoted = !quoted
		case !quoted && (ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'):
			if loc := andPattern.FindStringIndex(text[i:]); loc != nil {
				out = append(out, text[start:i])
				start = i + loc[1]
				i = start - 1
			}
		}
	}
	return append(out, text[start:])
}

func parseClause(raw string, allowed map[string]fieldRule) (Clause, bool) {
	m := clausePattern.FindStringSubmatch(raw)
	if m == nil {
		return Clause{}, false
	}

	name := strings.ToLower(m[1])
	op := Op(m[2])
	value := unescape(m[3])

	rule, ok := allowed[name]
	if !ok {
		return Clause{}, false
	}
	if (op == OpGte || op == OpLte) && !rule.ranged {
		return Clause{}, false
	}

	return Clause{Field: rule.upstream, Op: op, Value: rule.value(value)}, true
}

// passthroughField maps a passthrough key onto an upstream field. Range
// fields accept the REST style _min and _max suffixes.
func passthroughField(key string, allowed map[string]fieldRule) (fieldRule, Op, bool) {
	for suffix, op := range map[string]Op{"_min": OpGte, "_max": OpLte} {
		if base, ok := strings.CutSuffix(key, suffix); ok {
			if rule, ok := allowed[base]; ok && rule.ranged {
				return rule, op, true
			}
		}
	}

	if rule, ok := allowed[key]; ok && !rule.ranged {
		return rule, OpEq, true
	}
	return fieldRule{}, "", false
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	escaped := false
	for _, r := range s {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func quoteValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
