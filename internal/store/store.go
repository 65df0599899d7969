// Package store defines the standing-order storage contract and its SQLite
// implementation.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"tallyman/internal/domain"
)

// ErrNotFound is returned by Get when no standing order exists for the
// instrument id.
var ErrNotFound = errors.New("standing order not found")

// ErrUnavailable wraps failures to reach the backing storage. Callers test
// with errors.Is; a pass-level store outage aborts the reconciliation pass.
var ErrUnavailable = errors.New("order store unavailable")

// OrderStore persists standing orders keyed by instrument id. The store owns
// these records exclusively; there is at most one standing order per
// instrument id.
type OrderStore interface {
	// Get retrieves the standing order for an instrument id, or ErrNotFound.
	Get(ctx context.Context, instrumentID string) (*domain.StandingOrder, error)

	// List returns all standing orders. Order is not significant.
	List(ctx context.Context) ([]domain.StandingOrder, error)

	// Upsert creates the standing order if absent, otherwise overwrites its
	// price and quantity and refreshes updated_at. Atomic per key.
	Upsert(ctx context.Context, instrumentID string, price decimal.Decimal, quantity int64) (*domain.StandingOrder, error)

	// Delete removes the standing order for an instrument id. Deleting an
	// absent key is a no-op, not an error.
	Delete(ctx context.Context, instrumentID string) error
}
