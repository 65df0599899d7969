// Package gateway presents the brokerage's blocking, stateful API as an
// async-safe, retry-aware facade. A Gateway opens authenticated Sessions;
// all brokerage operations happen through a Session, which is owned
// exclusively by whoever opened it.
package gateway

import (
	"context"

	"github.com/shopspring/decimal"

	"tallyman/internal/domain"
)

// Credentials authenticates a brokerage session: API key pair plus the
// client-certificate triple required for order placement.
type Credentials struct {
	APIKey    string
	APISecret string

	CAPath     string
	CAPassword string
	CAPersonID string
}

// Gateway opens authenticated sessions against a brokerage.
type Gateway interface {
	// Open authenticates and activates the client certificate, returning a
	// ready Session. Failure of either step is an *AuthError.
	Open(ctx context.Context, creds Credentials) (Session, error)
}

// Session is one authenticated brokerage session. Methods never block the
// caller beyond their context deadline; the underlying transport calls run
// off the caller's control flow. A Session must not be used concurrently
// and must be closed on every exit path.
type Session interface {
	// ListPositions returns the currently held positions. In simulation mode
	// it returns the empty slice without querying the brokerage.
	ListPositions(ctx context.Context) ([]domain.Position, error)

	// ListPendingTrades returns submitted-but-unfilled trades in all
	// statuses. Callers filter to the statuses they care about.
	ListPendingTrades(ctx context.Context) ([]domain.PendingTrade, error)

	// ResolveInstrument looks up a tradeable contract by instrument id. The
	// catalog can be momentarily incomplete right after open, so the lookup
	// is retried up to 3 times; (nil, nil) after that means the id is
	// genuinely unknown, a terminal outcome for that id.
	ResolveInstrument(ctx context.Context, instrumentID string) (*domain.Instrument, error)

	// SubmitOrder places a buy order at the given limit price with day-only
	// time in force. Failure (including a per-call timeout) surfaces as a
	// *RejectError and is never retried by the gateway.
	SubmitOrder(ctx context.Context, instrument *domain.Instrument, price decimal.Decimal, quantity int64) (*domain.TradeReceipt, error)

	// CancelOrder requests best-effort cancellation of a pending trade.
	// Failure surfaces as a *CancelError.
	CancelOrder(ctx context.Context, trade domain.PendingTrade) error

	// Close releases the session. It is idempotent.
	Close() error
}
