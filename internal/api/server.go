// Package api serves the interactive HTTP front end: standing-order CRUD,
// pending-trade inspection and cancellation, instrument lookup, and the
// on-demand reconciliation trigger. Handlers talk to the store and the
// gateway directly; only the reconcile trigger touches the engine.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"tallyman/internal/domain"
	"tallyman/internal/engine"
	"tallyman/internal/gateway"
	"tallyman/internal/metrics"
	"tallyman/internal/store"
)

// Server is the HTTP front end.
type Server struct {
	store   store.OrderStore
	gateway gateway.Gateway
	creds   gateway.Credentials
	engine  *engine.Engine
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewServer creates the front-end server.
func NewServer(s store.OrderStore, gw gateway.Gateway, creds gateway.Credentials, e *engine.Engine, m *metrics.Metrics, log *slog.Logger) *Server {
	return &Server{
		store:   s,
		gateway: gw,
		creds:   creds,
		engine:  e,
		metrics: m,
		log:     log.With("component", "api"),
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/orders", s.handleListOrders)
	mux.HandleFunc("GET /api/orders/{id}", s.handleGetOrder)
	mux.HandleFunc("PUT /api/orders/{id}", s.handlePutOrder)
	mux.HandleFunc("DELETE /api/orders/{id}", s.handleDeleteOrder)

	mux.HandleFunc("GET /api/trades", s.handleListTrades)
	mux.HandleFunc("POST /api/trades/{id}/cancel", s.handleCancelTrade)

	mux.HandleFunc("GET /api/instruments/{id}", s.handleGetInstrument)

	mux.HandleFunc("POST /api/reconcile", s.handleReconcile)

	mux.Handle("GET /metrics", s.metrics.Handler())

	return mux
}

// ---------------------------------------------------------------------------
// Standing orders
// ---------------------------------------------------------------------------

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.store.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if orders == nil {
		orders = []domain.StandingOrder{}
	}
	s.writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}

type putOrderRequest struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}

func (s *Server) handlePutOrder(w http.ResponseWriter, r *http.Request) {
	var req putOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid body: %v", err), http.StatusBadRequest)
		return
	}

	order, err := s.store.Upsert(r.Context(), r.PathValue("id"), req.Price, req.Quantity)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info("standing order upserted", "instrument_id", order.InstrumentID, "price", order.Price.String(), "quantity", order.Quantity)
	s.writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info("standing order deleted", "instrument_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Pending trades and instruments (gateway pass-throughs)
// ---------------------------------------------------------------------------

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	sess, err := s.gateway.Open(r.Context(), s.creds)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer sess.Close()

	trades, err := sess.ListPendingTrades(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := make([]domain.PendingTrade, 0, len(trades))
		for _, t := range trades {
			if t.Status == domain.TradeStatus(status) {
				filtered = append(filtered, t)
			}
		}
		trades = filtered
	}
	if trades == nil {
		trades = []domain.PendingTrade{}
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleCancelTrade(w http.ResponseWriter, r *http.Request) {
	tradeID := r.PathValue("id")

	sess, err := s.gateway.Open(r.Context(), s.creds)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer sess.Close()

	trades, err := sess.ListPendingTrades(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	for _, t := range trades {
		if t.TradeID != tradeID {
			continue
		}
		if err := sess.CancelOrder(r.Context(), t); err != nil {
			s.writeError(w, err)
			return
		}
		s.log.Info("pending trade cancelled", "trade_id", tradeID)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	http.Error(w, "trade not found", http.StatusNotFound)
}

func (s *Server) handleGetInstrument(w http.ResponseWriter, r *http.Request) {
	sess, err := s.gateway.Open(r.Context(), s.creds)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer sess.Close()

	instrument, err := sess.ResolveInstrument(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if instrument == nil {
		http.Error(w, "instrument not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, instrument)
}

// ---------------------------------------------------------------------------
// On-demand reconciliation
// ---------------------------------------------------------------------------

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	s.log.Info("on-demand reconciliation requested")

	summary, err := s.engine.TryRunPass(r.Context())
	if errors.Is(err, engine.ErrPassInProgress) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encoding response", "err", err)
	}
}

// writeError maps domain errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		authErr   *gateway.AuthError
		cancelErr *gateway.CancelError
	)

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidOrder):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrUnavailable):
		status = http.StatusServiceUnavailable
	case errors.As(err, &authErr), errors.As(err, &cancelErr):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "err", err)
	}
	http.Error(w, err.Error(), status)
}
