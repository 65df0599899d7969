// Package domain defines the core data types shared across the tallyman
// system: standing orders, brokerage positions, pending trades, and
// instrument references.
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidOrder marks standing orders that fail validation.
var ErrInvalidOrder = errors.New("invalid standing order")

// TradeStatus is the lifecycle state of a trade at the brokerage.
type TradeStatus string

const (
	// TradeStatusPreSubmitted marks a trade accepted by the brokerage but
	// not yet entered into the exchange book (pre-open orders sit here).
	TradeStatusPreSubmitted TradeStatus = "pre_submitted"
	TradeStatusSubmitted    TradeStatus = "submitted"
	TradeStatusFilled       TradeStatus = "filled"
	TradeStatusCancelled    TradeStatus = "cancelled"
	TradeStatusFailed       TradeStatus = "failed"
)

// StandingOrder is a user-declared intent to buy a fixed quantity of an
// instrument at a fixed limit price. It persists until filled, retired, or
// deleted. At most one standing order exists per instrument id.
type StandingOrder struct {
	InstrumentID string          `json:"instrument_id"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int64           `json:"quantity"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Validate checks the user-supplied fields of a standing order.
func (o *StandingOrder) Validate() error {
	if o.InstrumentID == "" {
		return fmt.Errorf("%w: instrument id is empty", ErrInvalidOrder)
	}
	if !o.Price.IsPositive() {
		return fmt.Errorf("%w: %s: price %s is not positive", ErrInvalidOrder, o.InstrumentID, o.Price)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("%w: %s: quantity %d is not positive", ErrInvalidOrder, o.InstrumentID, o.Quantity)
	}
	return nil
}

// Position is a currently held quantity of an instrument, as reported by the
// brokerage. Positions are snapshots borrowed for one reconciliation pass and
// never persisted.
type Position struct {
	InstrumentID string `json:"instrument_id"`
	Quantity     int64  `json:"quantity"`
}

// PendingTrade is a previously submitted order not yet filled or expired, as
// reported by the brokerage.
type PendingTrade struct {
	TradeID      string          `json:"trade_id"`
	InstrumentID string          `json:"instrument_id"`
	Status       TradeStatus     `json:"status"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int64           `json:"quantity"`
}

// Instrument is a tradeable contract reference resolved through the
// brokerage's catalog.
type Instrument struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Exchange string `json:"exchange"`
}

// TradeReceipt is the brokerage's acknowledgement of a submitted order.
type TradeReceipt struct {
	TradeID      string          `json:"trade_id"`
	InstrumentID string          `json:"instrument_id"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int64           `json:"quantity"`
	Status       TradeStatus     `json:"status"`
}
