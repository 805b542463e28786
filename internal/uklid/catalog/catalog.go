// Package catalog seeds the property table from a YAML file.
//
// The file maps tenant IDs to property names:
//
//	tenants:
//	  acme:
//	    - Apartmán 302
//	    - Karlín 15
//
// Seeding is an upsert: existing properties keep their IDs, so the file can
// be applied on every start.
package catalog

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bdobrica/uklid/internal/uklid/store"
)

// File is the parsed seed file.
type File struct {
	Tenants map[string][]string `yaml:"tenants"`
}

// Upserter writes properties.
type Upserter interface {
	UpsertProperty(ctx context.Context, tenantID, name string) (store.Property, error)
}

// Parse decodes and validates a seed file. Blank tenant IDs and blank or
// duplicate property names within a tenant are rejected.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}
	for tenant, names := range f.Tenants {
		if strings.TrimSpace(tenant) == "" {
			return nil, fmt.Errorf("catalog: blank tenant id")
		}
		seen := make(map[string]struct{}, len(names))
		for i, n := range names {
			n = strings.TrimSpace(n)
			if n == "" {
				return nil, fmt.Errorf("catalog: tenant %q: property %d has no name", tenant, i)
			}
			if _, dup := seen[n]; dup {
				return nil, fmt.Errorf("catalog: tenant %q: duplicate property %q", tenant, n)
			}
			seen[n] = struct{}{}
			names[i] = n
		}
	}
	return &f, nil
}

// Load reads and parses the seed file at name inside fsys.
func Load(fsys fs.FS, name string) (*File, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", name, err)
	}
	return Parse(data)
}

// Apply upserts every property in f and returns how many were written.
// Tenants are processed in sorted order.
func Apply(ctx context.Context, u Upserter, f *File) (int, error) {
	tenants := make([]string, 0, len(f.Tenants))
	for t := range f.Tenants {
		tenants = append(tenants, t)
	}
	sort.Strings(tenants)

	n := 0
	for _, tenant := range tenants {
		for _, name := range f.Tenants[tenant] {
			if _, err := u.UpsertProperty(ctx, tenant, name); err != nil {
				return n, fmt.Errorf("catalog: upsert %s/%s: %w", tenant, name, err)
			}
			n++
		}
	}
	return n, nil
}
