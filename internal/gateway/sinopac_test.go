package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tallyman/internal/domain"
)

// brokerStub is a scripted brokerage HTTP server for gateway tests.
type brokerStub struct {
	mux *http.ServeMux

	loginCalls    atomic.Int64
	logoutCalls   atomic.Int64
	positionCalls atomic.Int64
	contractCalls atomic.Int64
	orderCalls    atomic.Int64
}

func newBrokerStub() *brokerStub {
	s := &brokerStub{mux: http.NewServeMux()}

	s.mux.HandleFunc("POST /v1/token", func(w http.ResponseWriter, r *http.Request) {
		s.loginCalls.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
	})
	s.mux.HandleFunc("POST /v1/ca/activate", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.mux.HandleFunc("POST /v1/logout", func(w http.ResponseWriter, r *http.Request) {
		s.logoutCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	s.mux.HandleFunc("POST /v1/trades/refresh", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return s
}

func testGateway(t *testing.T, stub *brokerStub, simulation bool) *SinopacGateway {
	t.Helper()
	srv := httptest.NewServer(stub.mux)
	t.Cleanup(srv.Close)
	log := slog.New(slog.DiscardHandler)
	return NewSinopacGateway(srv.URL, simulation, 2*time.Second, 600, log)
}

func openSession(t *testing.T, gw *SinopacGateway) Session {
	t.Helper()
	sess, err := gw.Open(context.Background(), Credentials{APIKey: "k", APISecret: "s"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

func TestOpenAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	gw := NewSinopacGateway(srv.URL, false, time.Second, 600, slog.New(slog.DiscardHandler))
	_, err := gw.Open(context.Background(), Credentials{APIKey: "bad"})

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Open error = %v, want *AuthError", err)
	}
	if authErr.Stage != "login" {
		t.Errorf("AuthError.Stage = %q, want %q", authErr.Stage, "login")
	}
}

func TestSimulationSkipsPositionQuery(t *testing.T) {
	stub := newBrokerStub()
	stub.mux.HandleFunc("GET /v1/positions", func(w http.ResponseWriter, r *http.Request) {
		stub.positionCalls.Add(1)
		json.NewEncoder(w).Encode([]positionRecord{{Code: "2330", Quantity: 1}})
	})

	gw := testGateway(t, stub, true)
	sess := openSession(t, gw)

	positions, err := sess.ListPositions(context.Background())
	if err != nil {
		t.Fatalf("ListPositions: %v", err)
	}
	if len(positions) != 0 {
		t.Errorf("simulation ListPositions returned %d positions, want 0", len(positions))
	}
	if got := stub.positionCalls.Load(); got != 0 {
		t.Errorf("positions endpoint hit %d times in simulation, want 0", got)
	}
}

func TestListPositionsLive(t *testing.T) {
	stub := newBrokerStub()
	stub.mux.HandleFunc("GET /v1/positions", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			http.Error(w, "no token", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode([]positionRecord{{Code: "2330", Quantity: 2}})
	})

	gw := testGateway(t, stub, false)
	sess := openSession(t, gw)

	positions, err := sess.ListPositions(context.Background())
	if err != nil {
		t.Fatalf("ListPositions: %v", err)
	}
	if len(positions) != 1 || positions[0].InstrumentID != "2330" || positions[0].Quantity != 2 {
		t.Errorf("ListPositions = %+v", positions)
	}
}

func TestListPendingTradesParsesStatus(t *testing.T) {
	stub := newBrokerStub()
	stub.mux.HandleFunc("GET /v1/trades", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]tradeRecord{
			{ID: "t1", Code: "2330", Status: "PreSubmitted", Price: "500", Quantity: 1},
			{ID: "t2", Code: "2317", Status: "Filled", Price: "104.5", Quantity: 2},
		})
	})

	gw := testGateway(t, stub, false)
	sess := openSession(t, gw)

	trades, err := sess.ListPendingTrades(context.Background())
	if err != nil {
		t.Fatalf("ListPendingTrades: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("got %d trades, want 2", len(trades))
	}
	if trades[0].Status != domain.TradeStatusPreSubmitted {
		t.Errorf("trade t1 status = %q, want pre_submitted", trades[0].Status)
	}
	if trades[1].Status != domain.TradeStatusFilled {
		t.Errorf("trade t2 status = %q, want filled", trades[1].Status)
	}
	if !trades[1].Price.Equal(decimal.RequireFromString("104.5")) {
		t.Errorf("trade t2 price = %s, want 104.5", trades[1].Price)
	}
}

func TestResolveInstrumentUnknownAfterRetries(t *testing.T) {
	stub := newBrokerStub()
	stub.mux.HandleFunc("GET /v1/contracts/{id}", func(w http.ResponseWriter, r *http.Request) {
		stub.contractCalls.Add(1)
		http.Error(w, "not found", http.StatusNotFound)
	})

	gw := testGateway(t, stub, false)
	sess := openSession(t, gw)

	inst, err := sess.ResolveInstrument(context.Background(), "9999")
	if err != nil {
		t.Fatalf("ResolveInstrument: %v", err)
	}
	if inst != nil {
		t.Errorf("ResolveInstrument = %+v, want nil for unknown id", inst)
	}
	if got := stub.contractCalls.Load(); got != 3 {
		t.Errorf("catalog lookup attempted %d times, want 3", got)
	}
}

func TestResolveInstrumentRecoversFromSlowCatalog(t *testing.T) {
	stub := newBrokerStub()
	stub.mux.HandleFunc("GET /v1/contracts/{id}", func(w http.ResponseWriter, r *http.Request) {
		// Catalog still loading: first attempt misses, second hits.
		if stub.contractCalls.Add(1) == 1 {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(contractRecord{Code: "2330", Name: "TSMC", Exchange: "TSE"})
	})

	gw := testGateway(t, stub, false)
	sess := openSession(t, gw)

	inst, err := sess.ResolveInstrument(context.Background(), "2330")
	if err != nil {
		t.Fatalf("ResolveInstrument: %v", err)
	}
	if inst == nil || inst.ID != "2330" || inst.Name != "TSMC" {
		t.Errorf("ResolveInstrument = %+v", inst)
	}
}

func TestSubmitOrderRejection(t *testing.T) {
	stub := newBrokerStub()
	stub.mux.HandleFunc("POST /v1/orders", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "insufficient funds", http.StatusBadRequest)
	})

	gw := testGateway(t, stub, false)
	sess := openSession(t, gw)

	_, err := sess.SubmitOrder(context.Background(), &domain.Instrument{ID: "2330"}, decimal.NewFromInt(500), 1)

	var rejectErr *RejectError
	if !errors.As(err, &rejectErr) {
		t.Fatalf("SubmitOrder error = %v, want *RejectError", err)
	}
	if rejectErr.InstrumentID != "2330" {
		t.Errorf("RejectError.InstrumentID = %q, want %q", rejectErr.InstrumentID, "2330")
	}
}

func TestSubmitOrderSendsBuyLimitDayOrder(t *testing.T) {
	stub := newBrokerStub()
	var got orderRequest
	stub.mux.HandleFunc("POST /v1/orders", func(w http.ResponseWriter, r *http.Request) {
		stub.orderCalls.Add(1)
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(tradeRecord{ID: "t9", Status: "PreSubmitted"})
	})

	gw := testGateway(t, stub, false)
	sess := openSession(t, gw)

	receipt, err := sess.SubmitOrder(context.Background(), &domain.Instrument{ID: "2330"}, decimal.RequireFromString("500"), 1)
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if receipt.TradeID != "t9" {
		t.Errorf("TradeID = %q, want %q", receipt.TradeID, "t9")
	}
	if got.Action != "Buy" || got.PriceType != "LMT" || got.OrderType != "ROD" {
		t.Errorf("order request = %+v, want Buy/LMT/ROD", got)
	}
	if got.Price != "500" || got.Quantity != 1 {
		t.Errorf("order request price/qty = %s/%d, want 500/1", got.Price, got.Quantity)
	}
}

func TestSubmitOrderTimeoutIsRejection(t *testing.T) {
	stub := newBrokerStub()
	stub.mux.HandleFunc("POST /v1/orders", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode(tradeRecord{ID: "late"})
	})

	srv := httptest.NewServer(stub.mux)
	t.Cleanup(srv.Close)
	gw := NewSinopacGateway(srv.URL, false, 50*time.Millisecond, 600, slog.New(slog.DiscardHandler))

	// Session open is fast; only the submit is slow.
	sess, err := gw.Open(context.Background(), Credentials{APIKey: "k", APISecret: "s"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	_, err = sess.SubmitOrder(context.Background(), &domain.Instrument{ID: "2330"}, decimal.NewFromInt(500), 1)

	var rejectErr *RejectError
	if !errors.As(err, &rejectErr) {
		t.Fatalf("SubmitOrder error = %v, want *RejectError", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("RejectError should wrap context.DeadlineExceeded, got %v", err)
	}
}

func TestCancelOrderFailure(t *testing.T) {
	stub := newBrokerStub()
	stub.mux.HandleFunc("DELETE /v1/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "already filled", http.StatusConflict)
	})

	gw := testGateway(t, stub, false)
	sess := openSession(t, gw)

	err := sess.CancelOrder(context.Background(), domain.PendingTrade{TradeID: "t1"})

	var cancelErr *CancelError
	if !errors.As(err, &cancelErr) {
		t.Fatalf("CancelOrder error = %v, want *CancelError", err)
	}
	if cancelErr.TradeID != "t1" {
		t.Errorf("CancelError.TradeID = %q, want %q", cancelErr.TradeID, "t1")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	stub := newBrokerStub()
	gw := testGateway(t, stub, false)
	sess := openSession(t, gw)

	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if got := stub.logoutCalls.Load(); got != 1 {
		t.Errorf("logout called %d times, want 1", got)
	}
}
