package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/pkcs12"

	"tallyman/internal/domain"
	"tallyman/internal/util"
)

// Compile-time interface checks.
var _ Gateway = (*SinopacGateway)(nil)
var _ Session = (*sinopacSession)(nil)

// SinopacGateway opens sessions against the SinoPac brokerage OpenAPI. The
// transport is synchronous HTTP; Session methods offload each call so the
// caller only ever waits up to the configured per-call timeout.
type SinopacGateway struct {
	baseURL      string
	simulation   bool
	callTimeout  time.Duration
	orderLimiter *util.RateLimiter
	log          *slog.Logger
}

// NewSinopacGateway creates a gateway for the given endpoint. With simulation
// enabled, position queries are short-circuited to empty so no live holdings
// influence (or are influenced by) a run.
func NewSinopacGateway(baseURL string, simulation bool, callTimeout time.Duration, orderRatePerMin int, log *slog.Logger) *SinopacGateway {
	return &SinopacGateway{
		baseURL:      strings.TrimRight(baseURL, "/"),
		simulation:   simulation,
		callTimeout:  callTimeout,
		orderLimiter: util.NewRateLimiter(orderRatePerMin),
		log:          log.With("component", "gateway"),
	}
}

// Open logs in with the API key pair and activates the client certificate.
// Both steps are authentication; either failing yields an *AuthError and no
// session.
func (g *SinopacGateway) Open(ctx context.Context, creds Credentials) (Session, error) {
	httpClient, err := newHTTPClient(creds)
	if err != nil {
		return nil, &AuthError{Stage: "activate_ca", Err: err}
	}

	client := &sinopacClient{baseURL: g.baseURL, http: httpClient}

	token, err := call(ctx, g.callTimeout, func() (string, error) {
		return client.login(creds.APIKey, creds.APISecret)
	})
	if err != nil {
		return nil, &AuthError{Stage: "login", Err: err}
	}
	client.token = token

	if err := callErr(ctx, g.callTimeout, func() error {
		return client.activateCA(creds.CAPersonID)
	}); err != nil {
		return nil, &AuthError{Stage: "activate_ca", Err: err}
	}

	g.log.Info("session opened", "simulation", g.simulation)
	return &sinopacSession{gw: g, client: client}, nil
}

// newHTTPClient builds the transport, installing the PKCS#12 client
// certificate when a CA path is configured.
func newHTTPClient(creds Credentials) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if creds.CAPath != "" {
		data, err := os.ReadFile(creds.CAPath)
		if err != nil {
			return nil, fmt.Errorf("reading certificate %s: %w", creds.CAPath, err)
		}
		key, cert, err := pkcs12.Decode(data, creds.CAPassword)
		if err != nil {
			return nil, fmt.Errorf("decoding certificate %s: %w", creds.CAPath, err)
		}
		transport.TLSClientConfig = &tls.Config{
			Certificates: []tls.Certificate{{
				Certificate: [][]byte{cert.Raw},
				PrivateKey:  key,
				Leaf:        cert,
			}},
		}
	}

	return &http.Client{Transport: transport}, nil
}

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

type sinopacSession struct {
	gw     *SinopacGateway
	client *sinopacClient

	closeOnce sync.Once
	closeErr  error
}

// ListPositions returns current holdings, or the empty slice in simulation
// mode without touching the brokerage.
func (s *sinopacSession) ListPositions(ctx context.Context) ([]domain.Position, error) {
	if s.gw.simulation {
		return []domain.Position{}, nil
	}
	return call(ctx, s.gw.callTimeout, s.client.listPositions)
}

// ListPendingTrades returns all unfilled trades; no status filtering happens
// here.
func (s *sinopacSession) ListPendingTrades(ctx context.Context) ([]domain.PendingTrade, error) {
	// The brokerage caches trade statuses per session; refresh before
	// listing so pre-open submissions show up.
	if err := callErr(ctx, s.gw.callTimeout, s.client.refreshStatus); err != nil {
		return nil, fmt.Errorf("refreshing trade status: %w", err)
	}
	return call(ctx, s.gw.callTimeout, s.client.listTrades)
}

// ResolveInstrument retries the catalog lookup up to 3 times: the contract
// catalog loads asynchronously after login and can be briefly incomplete.
// (nil, nil) after the retries means the id is genuinely unknown.
func (s *sinopacSession) ResolveInstrument(ctx context.Context, instrumentID string) (*domain.Instrument, error) {
	var (
		instrument *domain.Instrument
		notFound   bool
	)

	err := util.Retry(ctx, 3, 500*time.Millisecond, func() error {
		inst, err := call(ctx, s.gw.callTimeout, func() (*domain.Instrument, error) {
			return s.client.getContract(instrumentID)
		})
		if err != nil {
			notFound = false
			return err
		}
		if inst == nil {
			notFound = true
			return fmt.Errorf("contract %s not in catalog", instrumentID)
		}
		instrument = inst
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if notFound {
			s.gw.log.Warn("instrument unknown to brokerage", "instrument_id", instrumentID)
			return nil, nil
		}
		return nil, fmt.Errorf("resolving instrument %s: %w", instrumentID, err)
	}
	return instrument, nil
}

// SubmitOrder places a buy limit order with ROD (day) time in force. Any
// failure, including a per-call timeout, is a *RejectError; the gateway never
// retries submissions.
func (s *sinopacSession) SubmitOrder(ctx context.Context, instrument *domain.Instrument, price decimal.Decimal, quantity int64) (*domain.TradeReceipt, error) {
	if err := s.gw.orderLimiter.Wait(ctx); err != nil {
		return nil, &RejectError{InstrumentID: instrument.ID, Reason: "rate limit wait cancelled", Err: err}
	}

	receipt, err := call(ctx, s.gw.callTimeout, func() (*domain.TradeReceipt, error) {
		return s.client.placeOrder(instrument.ID, price, quantity)
	})
	if err != nil {
		reason := "submit failed"
		if ctx.Err() != nil {
			reason = "submit timed out"
		}
		return nil, &RejectError{InstrumentID: instrument.ID, Reason: reason, Err: err}
	}
	return receipt, nil
}

// CancelOrder requests best-effort cancellation.
func (s *sinopacSession) CancelOrder(ctx context.Context, trade domain.PendingTrade) error {
	if err := callErr(ctx, s.gw.callTimeout, func() error {
		return s.client.cancelOrder(trade.TradeID)
	}); err != nil {
		return &CancelError{TradeID: trade.TradeID, Err: err}
	}
	return nil
}

// Close logs out and releases the session. Safe to call more than once.
func (s *sinopacSession) Close() error {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.gw.callTimeout)
		defer cancel()
		s.closeErr = callErr(ctx, s.gw.callTimeout, s.client.logout)
		if s.closeErr != nil {
			s.gw.log.Warn("logout failed", "err", s.closeErr)
		} else {
			s.gw.log.Info("session closed")
		}
	})
	return s.closeErr
}

// ---------------------------------------------------------------------------
// Blocking HTTP client
// ---------------------------------------------------------------------------

// sinopacClient speaks the brokerage's synchronous HTTP API. All methods
// block; sessions offload them via call/callErr.
type sinopacClient struct {
	baseURL string
	http    *http.Client
	token   string
}

type loginRequest struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

type loginResponse struct {
	Token string `json:"token"`
}

type positionRecord struct {
	Code     string `json:"code"`
	Quantity int64  `json:"quantity"`
}

type tradeRecord struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	Status   string `json:"status"`
	Price    string `json:"price"`
	Quantity int64  `json:"quantity"`
}

type contractRecord struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Exchange string `json:"exchange"`
}

type orderRequest struct {
	Code      string `json:"code"`
	Price     string `json:"price"`
	Quantity  int64  `json:"quantity"`
	Action    string `json:"action"`
	PriceType string `json:"price_type"`
	OrderType string `json:"order_type"`
}

func (c *sinopacClient) login(apiKey, apiSecret string) (string, error) {
	var resp loginResponse
	err := c.doJSON(http.MethodPost, "/v1/token", loginRequest{APIKey: apiKey, APISecret: apiSecret}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("login returned empty token")
	}
	return resp.Token, nil
}

func (c *sinopacClient) activateCA(personID string) error {
	body := map[string]string{"person_id": personID}
	return c.doJSON(http.MethodPost, "/v1/ca/activate", body, nil)
}

func (c *sinopacClient) listPositions() ([]domain.Position, error) {
	var records []positionRecord
	if err := c.doJSON(http.MethodGet, "/v1/positions", nil, &records); err != nil {
		return nil, err
	}

	positions := make([]domain.Position, 0, len(records))
	for _, r := range records {
		positions = append(positions, domain.Position{InstrumentID: r.Code, Quantity: r.Quantity})
	}
	return positions, nil
}

func (c *sinopacClient) refreshStatus() error {
	return c.doJSON(http.MethodPost, "/v1/trades/refresh", nil, nil)
}

func (c *sinopacClient) listTrades() ([]domain.PendingTrade, error) {
	var records []tradeRecord
	if err := c.doJSON(http.MethodGet, "/v1/trades", nil, &records); err != nil {
		return nil, err
	}

	trades := make([]domain.PendingTrade, 0, len(records))
	for _, r := range records {
		price, err := decimal.NewFromString(r.Price)
		if err != nil {
			return nil, fmt.Errorf("trade %s: parsing price %q: %w", r.ID, r.Price, err)
		}
		trades = append(trades, domain.PendingTrade{
			TradeID:      r.ID,
			InstrumentID: r.Code,
			Status:       parseTradeStatus(r.Status),
			Price:        price,
			Quantity:     r.Quantity,
		})
	}
	return trades, nil
}

// getContract returns (nil, nil) when the catalog has no contract for the id.
func (c *sinopacClient) getContract(instrumentID string) (*domain.Instrument, error) {
	var record contractRecord
	err := c.doJSON(http.MethodGet, "/v1/contracts/"+instrumentID, nil, &record)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &domain.Instrument{ID: record.Code, Name: record.Name, Exchange: record.Exchange}, nil
}

func (c *sinopacClient) placeOrder(instrumentID string, price decimal.Decimal, quantity int64) (*domain.TradeReceipt, error) {
	req := orderRequest{
		Code:      instrumentID,
		Price:     price.String(),
		Quantity:  quantity,
		Action:    "Buy",
		PriceType: "LMT",
		OrderType: "ROD", // rest of day: expires unfilled at session end
	}

	var record tradeRecord
	if err := c.doJSON(http.MethodPost, "/v1/orders", req, &record); err != nil {
		return nil, err
	}

	// The paper-trading environment omits trade ids on acceptance.
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	return &domain.TradeReceipt{
		TradeID:      record.ID,
		InstrumentID: instrumentID,
		Price:        price,
		Quantity:     quantity,
		Status:       parseTradeStatus(record.Status),
	}, nil
}

func (c *sinopacClient) cancelOrder(tradeID string) error {
	return c.doJSON(http.MethodDelete, "/v1/orders/"+tradeID, nil, nil)
}

func (c *sinopacClient) logout() error {
	return c.doJSON(http.MethodPost, "/v1/logout", nil, nil)
}

// apiError carries the HTTP status and the brokerage's reason body.
type apiError struct {
	status int
	reason string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("brokerage returned %d: %s", e.status, e.reason)
}

func (c *sinopacClient) doJSON(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reason, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &apiError{status: resp.StatusCode, reason: strings.TrimSpace(string(reason))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// parseTradeStatus maps brokerage status strings onto the domain enum.
func parseTradeStatus(s string) domain.TradeStatus {
	switch s {
	case "PreSubmitted":
		return domain.TradeStatusPreSubmitted
	case "Submitted", "PendingSubmit":
		return domain.TradeStatusSubmitted
	case "Filled", "PartFilled":
		return domain.TradeStatusFilled
	case "Cancelled":
		return domain.TradeStatusCancelled
	default:
		return domain.TradeStatusFailed
	}
}
