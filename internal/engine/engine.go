// Package engine implements the reconciliation pass: the decision logic that
// compares declared standing orders against live brokerage state and submits,
// skips, or retires each one.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"tallyman/internal/domain"
	"tallyman/internal/gateway"
	"tallyman/internal/journal"
	"tallyman/internal/metrics"
	"tallyman/internal/store"
)

// ErrPassInProgress is returned by TryRunPass when a pass already holds the
// engine.
var ErrPassInProgress = errors.New("reconciliation pass already running")

// PassSummary reports one completed pass. Per-order detail goes to the
// operational log and the journal, not to the caller.
type PassSummary struct {
	PassID    string    `json:"pass_id"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
	Submitted int       `json:"submitted"`
	Retired   int       `json:"retired"`
	Skipped   int       `json:"skipped"`
	Rejected  int       `json:"rejected"`
	Dropped   int       `json:"dropped"`
}

// Engine executes reconciliation passes. It is stateless across passes: each
// order's status is derived fresh from the position and pending-trade
// snapshots, so the engine self-heals after crashes and restarts.
type Engine struct {
	store   store.OrderStore
	gateway gateway.Gateway
	creds   gateway.Credentials
	journal journal.Journal
	metrics *metrics.Metrics
	log     *slog.Logger

	// Serializes passes: an overrunning pass delays the next one, and the
	// on-demand trigger is refused while a pass is running.
	mu sync.Mutex
}

// New creates an Engine wired with the given dependencies.
func New(s store.OrderStore, gw gateway.Gateway, creds gateway.Credentials, j journal.Journal, m *metrics.Metrics, log *slog.Logger) *Engine {
	return &Engine{
		store:   s,
		gateway: gw,
		creds:   creds,
		journal: j,
		metrics: m,
		log:     log.With("component", "engine"),
	}
}

// RunPass executes exactly one reconciliation pass, waiting first if another
// pass is still running.
func (e *Engine) RunPass(ctx context.Context) (*PassSummary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runPass(ctx)
}

// TryRunPass executes one pass, or returns ErrPassInProgress immediately if
// one is already running. Used by the on-demand operator trigger.
func (e *Engine) TryRunPass(ctx context.Context) (*PassSummary, error) {
	if !e.mu.TryLock() {
		return nil, ErrPassInProgress
	}
	defer e.mu.Unlock()
	return e.runPass(ctx)
}

func (e *Engine) runPass(ctx context.Context) (*PassSummary, error) {
	summary := &PassSummary{
		PassID:  uuid.NewString(),
		Started: time.Now(),
	}
	log := e.log.With("pass_id", summary.PassID)
	log.Info("reconciliation pass started")

	// Exactly one session per pass; released on every exit path.
	sess, err := e.gateway.Open(ctx, e.creds)
	if err != nil {
		e.metrics.PassFinished("auth_failed", time.Since(summary.Started))
		return nil, fmt.Errorf("opening brokerage session: %w", err)
	}
	defer sess.Close()

	// Both snapshots are fetched once and treated as consistent for the
	// whole pass. The brokerage can change underneath us mid-pass; the next
	// scheduled pass corrects any staleness.
	positions, err := sess.ListPositions(ctx)
	if err != nil {
		e.metrics.PassFinished("snapshot_failed", time.Since(summary.Started))
		return nil, fmt.Errorf("listing positions: %w", err)
	}
	held := make(map[string]struct{}, len(positions))
	for _, p := range positions {
		held[p.InstrumentID] = struct{}{}
	}
	log.Info("position snapshot taken", "count", len(held))

	trades, err := sess.ListPendingTrades(ctx)
	if err != nil {
		e.metrics.PassFinished("snapshot_failed", time.Since(summary.Started))
		return nil, fmt.Errorf("listing pending trades: %w", err)
	}
	// The gateway does not filter; only pre-submitted trades count as
	// in-flight intent.
	inFlight := make(map[string]struct{})
	for _, t := range trades {
		if t.Status == domain.TradeStatusPreSubmitted {
			inFlight[t.InstrumentID] = struct{}{}
		}
	}
	log.Info("pending-trade snapshot taken", "total", len(trades), "pre_submitted", len(inFlight))

	orders, err := e.store.List(ctx)
	if err != nil {
		e.metrics.PassFinished("store_failed", time.Since(summary.Started))
		return nil, fmt.Errorf("listing standing orders: %w", err)
	}

	var entries []journal.Entry
	record := func(o domain.StandingOrder, action journal.Action, detail string) {
		entries = append(entries, journal.FromOutcome(summary.PassID, o, action, detail, time.Now()))
		e.metrics.OrderOutcome(string(action))
	}

	// Orders are evaluated independently, but sequentially: the session is
	// owned by this pass alone and never used concurrently.
	for _, o := range orders {
		if err := ctx.Err(); err != nil {
			e.flushJournal(log, entries)
			e.metrics.PassFinished("cancelled", time.Since(summary.Started))
			return nil, err
		}

		outcome, err := e.reconcileOrder(ctx, sess, o, inFlight, held, log)
		switch {
		case err == nil:
		case errors.Is(err, store.ErrUnavailable):
			// Store outage is fatal for the pass; the session still closes
			// via the deferred Close.
			e.flushJournal(log, entries)
			e.metrics.PassFinished("store_failed", time.Since(summary.Started))
			return nil, err
		default:
			// Contained to this order; it stays in the store and is retried
			// on the next pass.
			log.Error("order reconciliation failed", "instrument_id", o.InstrumentID, "err", err)
			summary.Rejected++
			record(o, journal.ActionRejected, err.Error())
			continue
		}

		switch outcome {
		case journal.ActionSkipped:
			summary.Skipped++
			record(o, journal.ActionSkipped, "pre-submitted trade already in flight")
		case journal.ActionRetired:
			summary.Retired++
			record(o, journal.ActionRetired, "instrument already held")
		case journal.ActionDropped:
			summary.Dropped++
			record(o, journal.ActionDropped, "instrument unknown to brokerage")
		case journal.ActionSubmitted:
			summary.Submitted++
			record(o, journal.ActionSubmitted, "")
		}
	}

	e.flushJournal(log, entries)

	summary.Finished = time.Now()
	e.metrics.PassFinished("ok", summary.Finished.Sub(summary.Started))
	log.Info("reconciliation pass finished",
		"submitted", summary.Submitted,
		"retired", summary.Retired,
		"skipped", summary.Skipped,
		"rejected", summary.Rejected,
		"dropped", summary.Dropped,
	)
	return summary, nil
}

// reconcileOrder decides and applies the action for one standing order:
//
//  1. A pre-submitted trade for the instrument means equivalent intent is
//     already in flight: skip, touching nothing.
//  2. An existing position means the user's intent is satisfied: retire the
//     standing order.
//  3. Otherwise resolve the instrument and submit. An id the brokerage does
//     not know can never become actionable, so the order is dropped.
func (e *Engine) reconcileOrder(ctx context.Context, sess gateway.Session, o domain.StandingOrder, inFlight, held map[string]struct{}, log *slog.Logger) (journal.Action, error) {
	log = log.With("instrument_id", o.InstrumentID)

	if _, ok := inFlight[o.InstrumentID]; ok {
		log.Info("order already in pre-submitted trades, skipping")
		return journal.ActionSkipped, nil
	}

	if _, ok := held[o.InstrumentID]; ok {
		log.Info("instrument already held, retiring standing order")
		if err := e.store.Delete(ctx, o.InstrumentID); err != nil {
			return "", err
		}
		return journal.ActionRetired, nil
	}

	instrument, err := sess.ResolveInstrument(ctx, o.InstrumentID)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", o.InstrumentID, err)
	}
	if instrument == nil {
		// Terminal for this id: delete so it is not retried forever.
		log.Warn("instrument not found after retries, dropping standing order")
		if err := e.store.Delete(ctx, o.InstrumentID); err != nil {
			return "", err
		}
		return journal.ActionDropped, nil
	}

	receipt, err := sess.SubmitOrder(ctx, instrument, o.Price, o.Quantity)
	if err != nil {
		return "", err
	}
	log.Info("order submitted", "trade_id", receipt.TradeID, "price", o.Price.String(), "quantity", o.Quantity)
	return journal.ActionSubmitted, nil
}

// flushJournal writes the collected entries; an audit write failure is logged
// but never fails the pass.
func (e *Engine) flushJournal(log *slog.Logger, entries []journal.Entry) {
	if err := e.journal.Record(entries); err != nil {
		log.Warn("journal write failed", "err", err)
	}
}
