package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Property is one rental unit of a tenant.
type Property struct {
	ID        string
	TenantID  string
	Name      string
	CreatedAt time.Time
}

// UpsertProperty returns the tenant's property called name, creating it when
// it does not exist yet. Names are unique per tenant.
func (s *Store) UpsertProperty(ctx context.Context, tenantID, name string) (Property, error) {
	p := Property{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO properties (id, tenant_id, name, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (tenant_id, name) DO NOTHING
	`, p.ID, p.TenantID, p.Name, formatTime(p.CreatedAt))
	if err != nil {
		return Property{}, fmt.Errorf("store: upsert property: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, created_at FROM properties
		WHERE tenant_id = ? AND name = ?
	`, tenantID, name)
	return scanProperty(row)
}

// GetProperty returns a property by ID.
func (s *Store) GetProperty(ctx context.Context, id string) (Property, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, created_at FROM properties WHERE id = ?
	`, id)
	return scanProperty(row)
}

// ListProperties returns every property of the tenant ordered by name.
func (s *Store) ListProperties(ctx context.Context, tenantID string) ([]Property, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, created_at FROM properties
		WHERE tenant_id = ?
		ORDER BY name, id
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("store: list properties: %w", err)
	}
	defer rows.Close()

	var out []Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProperty(row rowScanner) (Property, error) {
	var (
		p         Property
		createdAt string
	)
	if err := row.Scan(&p.ID, &p.TenantID, &p.Name, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Property{}, ErrNotFound
		}
		return Property{}, fmt.Errorf("store: scan property: %w", err)
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return Property{}, err
	}
	p.CreatedAt = t
	return p, nil
}
