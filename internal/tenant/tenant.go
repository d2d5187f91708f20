// Package tenant defines the tenant model and the lookup capability
// used to gate license checkout by email domain.
package tenant

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no tenant matches the requested domain.
var ErrNotFound = errors.New("tenant not found")

// Tenant is an organizational customer identified by its email domain.
// Records are immutable once loaded; the checkout pipeline only reads
// them.
type Tenant struct {
	ID     string `json:"id"`
	Domain string `json:"domain"`
}

// Store is the one-method lookup capability injected into the checkout
// pipeline. Matching is case-sensitive and exact; if multiple rows
// share a domain the store returns the first.
type Store interface {
	FindByDomain(ctx context.Context, domain string) (Tenant, error)
}
