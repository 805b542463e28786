// Package resolver maps a free-text property hint to exactly one property of
// a tenant.
//
// Matching is a case-insensitive substring test against every property name;
// there is no typo tolerance, so every outcome can be explained by pointing
// at the names involved.
package resolver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bdobrica/uklid/internal/uklid/store"
)

// Catalog lists the properties owned by a tenant.
type Catalog interface {
	ListProperties(ctx context.Context, tenantID string) ([]store.Property, error)
}

// NotFoundError means no property name contains the hint.
type NotFoundError struct {
	Hint string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no property matches %q", e.Hint)
}

// AmbiguousError means several property names contain the hint. Candidates
// are sorted.
type AmbiguousError struct {
	Hint       string
	Candidates []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("property hint %q is ambiguous: %s", e.Hint, strings.Join(e.Candidates, ", "))
}

// Resolver resolves property hints against a Catalog.
type Resolver struct {
	catalog Catalog
}

// New returns a Resolver reading from catalog.
func New(catalog Catalog) *Resolver {
	return &Resolver{catalog: catalog}
}

// Resolve returns the single property whose name contains hint. A blank hint
// matches nothing.
func (r *Resolver) Resolve(ctx context.Context, tenantID, hint string) (store.Property, error) {
	needle := strings.ToLower(strings.TrimSpace(hint))
	if needle == "" {
		return store.Property{}, &NotFoundError{Hint: hint}
	}

	props, err := r.catalog.ListProperties(ctx, tenantID)
	if err != nil {
		return store.Property{}, fmt.Errorf("resolver: list properties: %w", err)
	}

	var matches []store.Property
	for _, p := range props {
		if p.TenantID != "" && p.TenantID != tenantID {
			continue
		}
		if strings.Contains(strings.ToLower(p.Name), needle) {
			matches = append(matches, p)
		}
	}

	switch len(matches) {
	case 0:
		return store.Property{}, &NotFoundError{Hint: hint}
	case 1:
		return matches[0], nil
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.Name
		}
		sort.Strings(names)
		return store.Property{}, &AmbiguousError{Hint: hint, Candidates: names}
	}
}
