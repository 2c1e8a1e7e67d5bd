// Package costcategory resolves a namespace to a cost_category_id using
// SQL-LIKE pattern matching (spec.md §4.5, §9, P8): patterns carry '%'
// wildcards only at the two ends, so each pattern compiles to one of
// prefix/suffix/contains/exact instead of a general regex engine.
package costcategory

import (
	"sort"
	"strings"

	"github.com/costmonitor/ocp-cloud-aggregator/internal/model"
)

type kind int

const (
	kindExact kind = iota
	kindPrefix
	kindSuffix
	kindContains
)

// CompiledPattern is a LIKE pattern compiled to a cheap string predicate.
type CompiledPattern struct {
	ID   int64
	kind kind
	body string // the pattern with leading/trailing '%' stripped
}

// Compile turns a LIKE pattern ('%' wildcard at either end only, per
// spec.md §9) into a CompiledPattern.
func Compile(pattern string, id int64) CompiledPattern {
	hasPrefix := strings.HasPrefix(pattern, "%")
	hasSuffix := strings.HasSuffix(pattern, "%")
	body := pattern
	if hasPrefix {
		body = strings.TrimPrefix(body, "%")
	}
	if hasSuffix {
		body = strings.TrimSuffix(body, "%")
	}

	switch {
	case hasPrefix && hasSuffix:
		return CompiledPattern{ID: id, kind: kindContains, body: body}
	case hasSuffix: // "foo%" — foo is a prefix of the namespace
		return CompiledPattern{ID: id, kind: kindPrefix, body: body}
	case hasPrefix: // "%foo" — foo is a suffix of the namespace
		return CompiledPattern{ID: id, kind: kindSuffix, body: body}
	default:
		return CompiledPattern{ID: id, kind: kindExact, body: body}
	}
}

// Matches reports whether namespace satisfies this compiled pattern.
func (c CompiledPattern) Matches(namespace string) bool {
	switch c.kind {
	case kindPrefix:
		return strings.HasPrefix(namespace, c.body)
	case kindSuffix:
		return strings.HasSuffix(namespace, c.body)
	case kindContains:
		return strings.Contains(namespace, c.body)
	default:
		return namespace == c.body
	}
}

// Resolver holds the compiled pattern set fetched once per run from the
// relational sink (C2's fetch_cost_category_patterns) and resolves
// namespaces against it without touching the database again.
type Resolver struct {
	patterns []CompiledPattern
}

// NewResolver compiles the raw (pattern, id) pairs from the metadata table.
func NewResolver(raw []model.CostCategoryPattern) *Resolver {
	compiled := make([]CompiledPattern, 0, len(raw))
	for _, p := range raw {
		compiled = append(compiled, Compile(p.Pattern, p.ID))
	}
	return &Resolver{patterns: compiled}
}

// Resolve returns the winning cost_category_id for namespace: when multiple
// patterns match, max(id) wins (P8); nil when no pattern matches.
func (r *Resolver) Resolve(namespace string) *int64 {
	var matched []int64
	for _, p := range r.patterns {
		if p.Matches(namespace) {
			matched = append(matched, p.ID)
		}
	}
	if len(matched) == 0 {
		return nil
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i] > matched[j] })
	winner := matched[0]
	return &winner
}
