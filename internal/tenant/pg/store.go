// Package pg implements the tenant store on PostgreSQL via the pgx
// stdlib driver.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"keybroker/internal/config"
	"keybroker/internal/tenant"
)

// Store is a PostgreSQL-backed tenant store
type Store struct {
	db *sql.DB
}

var _ tenant.Store = (*Store)(nil)

// Open connects to the tenant database and applies pool settings
func Open(cfg config.DatabaseConfig) (*Store, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open tenant database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection, used by tests
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

// Close closes the underlying connection pool
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies database connectivity, used by readiness checks
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// FindByDomain returns the first tenant whose domain matches exactly.
// Uniqueness is not enforced here; the schema may or may not carry a
// unique index on domain.
func (s *Store) FindByDomain(ctx context.Context, domain string) (tenant.Tenant, error) {
	var t tenant.Tenant
	err := s.db.QueryRowContext(ctx,
		`select id, domain from tenants where domain = $1 limit 1`, domain,
	).Scan(&t.ID, &t.Domain)
	if errors.Is(err, sql.ErrNoRows) {
		return tenant.Tenant{}, tenant.ErrNotFound
	}
	if err != nil {
		return tenant.Tenant{}, fmt.Errorf("failed to look up tenant: %w", err)
	}
	return t, nil
}
