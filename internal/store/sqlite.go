package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tallyman/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ OrderStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS standing_orders (
	instrument_id TEXT PRIMARY KEY,
	price         TEXT    NOT NULL,
	quantity      INTEGER NOT NULL,
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL
);
`

// SQLiteStore implements OrderStore backed by a SQLite database. Prices are
// stored as decimal strings to avoid float rounding.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, ensures the
// schema exists, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", ErrUnavailable, dbPath, err)
	}

	// The interactive front end and a running reconciliation pass may write
	// concurrently; serialize through a single connection so per-key upserts
	// stay atomic under SQLite's single-writer model.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: creating schema: %w", ErrUnavailable, err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get retrieves the standing order for an instrument id, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, instrumentID string) (*domain.StandingOrder, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT instrument_id, price, quantity, created_at, updated_at
		 FROM standing_orders WHERE instrument_id = ?`, instrumentID)

	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("instrument %s: %w", instrumentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: getting %s: %w", ErrUnavailable, instrumentID, err)
	}
	return order, nil
}

// List returns all standing orders.
func (s *SQLiteStore) List(ctx context.Context) ([]domain.StandingOrder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT instrument_id, price, quantity, created_at, updated_at FROM standing_orders`)
	if err != nil {
		return nil, fmt.Errorf("%w: listing orders: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	var orders []domain.StandingOrder
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning order: %w", ErrUnavailable, err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: listing orders: %w", ErrUnavailable, err)
	}
	return orders, nil
}

// Upsert creates the standing order if absent, otherwise overwrites its price
// and quantity. created_at is preserved across updates; updated_at always
// moves. The single INSERT .. ON CONFLICT statement keeps the operation
// atomic per key.
func (s *SQLiteStore) Upsert(ctx context.Context, instrumentID string, price decimal.Decimal, quantity int64) (*domain.StandingOrder, error) {
	order := &domain.StandingOrder{
		InstrumentID: instrumentID,
		Price:        price,
		Quantity:     quantity,
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO standing_orders (instrument_id, price, quantity, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(instrument_id) DO UPDATE SET
			price = excluded.price,
			quantity = excluded.quantity,
			updated_at = excluded.updated_at`,
		instrumentID, price.String(), quantity, now, now)
	if err != nil {
		return nil, fmt.Errorf("%w: upserting %s: %w", ErrUnavailable, instrumentID, err)
	}

	return s.Get(ctx, instrumentID)
}

// Delete removes the standing order for an instrument id; absent is a no-op.
func (s *SQLiteStore) Delete(ctx context.Context, instrumentID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM standing_orders WHERE instrument_id = ?`, instrumentID)
	if err != nil {
		return fmt.Errorf("%w: deleting %s: %w", ErrUnavailable, instrumentID, err)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (*domain.StandingOrder, error) {
	var (
		order    domain.StandingOrder
		priceStr string
	)
	if err := s.Scan(&order.InstrumentID, &priceStr, &order.Quantity, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return nil, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return nil, fmt.Errorf("parsing stored price %q: %w", priceStr, err)
	}
	order.Price = price
	return &order, nil
}
