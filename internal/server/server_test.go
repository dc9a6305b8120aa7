package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/upbitbot/internal/domain"
	"github.com/alanyoungcy/upbitbot/internal/platform/upbit"
	"github.com/alanyoungcy/upbitbot/internal/server/handler"
	"github.com/alanyoungcy/upbitbot/internal/stream"
)

type fakeTrader struct {
	mu       sync.Mutex
	active   bool
	markets  []domain.Market
	startErr error
	stops    int
}

func (f *fakeTrader) Start(_ context.Context, markets []domain.Market) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	if f.active {
		return fmt.Errorf("stream: start: %w", domain.ErrAlreadyRunning)
	}
	f.active = true
	f.markets = markets
	return nil
}

func (f *fakeTrader) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = false
	f.stops++
}

func (f *fakeTrader) Status() stream.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := stream.StateDisconnected
	if f.active {
		state = stream.StateStreaming
	}
	return stream.Status{Active: f.active, State: state, Markets: f.markets}
}

func (f *fakeTrader) CurrentPrices() map[domain.Market]float64 {
	return map[domain.Market]float64{"KRW-BTC": 100}
}

func (f *fakeTrader) Notifications() []domain.Notification {
	return []domain.Notification{{ID: "2", Kind: domain.KindSell}, {ID: "1", Kind: domain.KindBuy}}
}

type fakeExchange struct {
	accounts []domain.AccountBalance
	err      error
	bought   []domain.Market
}

func (f *fakeExchange) GetAccounts(context.Context) ([]domain.AccountBalance, error) {
	return f.accounts, f.err
}

func (f *fakeExchange) BuyDistributed(_ context.Context, markets []domain.Market) ([]upbit.DistributedResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.bought = markets
	out := make([]upbit.DistributedResult, len(markets))
	for i, m := range markets {
		out[i] = upbit.DistributedResult{Market: m, Amount: decimal.NewFromInt(9994), OrderID: "o-" + string(m)}
	}
	return out, nil
}

var defaultMarkets = []domain.Market{"KRW-BTC", "KRW-ETH"}

func newTestHandler(t *testing.T, cfg Config) (http.Handler, *fakeTrader, *fakeExchange) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	trader := &fakeTrader{}
	exchange := &fakeExchange{accounts: []domain.AccountBalance{
		{Currency: "KRW", Balance: decimal.NewFromInt(20010)},
	}}
	h := NewHandler(cfg, Handlers{
		Health:   handler.NewHealthHandler("full"),
		Auto:     handler.NewAutoHandler(trader, defaultMarkets, logger),
		Accounts: handler.NewAccountHandler(exchange, defaultMarkets, logger),
		Metrics:  http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { io.WriteString(w, "# metrics") }),
	}, logger)
	return h, trader, exchange
}

func do(h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	h, _, _ := newTestHandler(t, Config{})
	rec := do(h, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "full", body["mode"])
}

func TestAutoLifecycle(t *testing.T) {
	h, trader, _ := newTestHandler(t, Config{})

	rec := do(h, http.MethodPost, "/api/upbit/auto/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultMarkets, trader.markets)

	rec = do(h, http.MethodGet, "/api/upbit/auto/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[stream.Status](t, rec)
	assert.True(t, st.Active)
	assert.Equal(t, stream.StateStreaming, st.State)

	rec = do(h, http.MethodPost, "/api/upbit/auto/start", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(h, http.MethodPost, "/api/upbit/auto/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, trader.Status().Active)

	// Stopping twice is fine.
	rec = do(h, http.MethodPost, "/api/upbit/auto/stop", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, trader.stops)
}

func TestAutoStart_MarketsFromBody(t *testing.T) {
	h, trader, _ := newTestHandler(t, Config{})
	rec := do(h, http.MethodPost, "/api/upbit/auto/start", `{"markets":["krw-xrp"," KRW-XRP ","KRW-DOGE"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []domain.Market{"KRW-XRP", "KRW-DOGE"}, trader.markets)
}

func TestAutoStart_BadBody(t *testing.T) {
	h, trader, _ := newTestHandler(t, Config{})

	rec := do(h, http.MethodPost, "/api/upbit/auto/start", `{"markets":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPost, "/api/upbit/auto/start", `{"markets":["BTC"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, trader.Status().Active)
}

func TestAutoStart_DialFailureIsBadGateway(t *testing.T) {
	h, trader, _ := newTestHandler(t, Config{})
	trader.startErr = fmt.Errorf("stream: start: %w", domain.ErrNetwork)
	rec := do(h, http.MethodPost, "/api/upbit/auto/start", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestPricesAndNotifications(t *testing.T) {
	h, _, _ := newTestHandler(t, Config{})

	rec := do(h, http.MethodGet, "/api/upbit/prices", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]float64{"KRW-BTC": 100}, decode[map[string]float64](t, rec))

	rec = do(h, http.MethodGet, "/api/upbit/notifications", "")
	require.Equal(t, http.StatusOK, rec.Code)
	notes := decode[[]domain.Notification](t, rec)
	require.Len(t, notes, 2)
	assert.Equal(t, "2", notes[0].ID)
}

func TestAccounts(t *testing.T) {
	h, _, exchange := newTestHandler(t, Config{})

	rec := do(h, http.MethodGet, "/api/upbit/accounts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decode[[]map[string]any](t, rec)
	require.Len(t, rows, 1)
	assert.Equal(t, "KRW", rows[0]["currency"])
	assert.Equal(t, "20010", rows[0]["balance"])

	exchange.err = fmt.Errorf("upbit: accounts: %w", domain.ErrNetwork)
	rec = do(h, http.MethodGet, "/api/upbit/accounts", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestPlaceOrders(t *testing.T) {
	h, _, exchange := newTestHandler(t, Config{})

	rec := do(h, http.MethodPost, "/api/upbit/orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultMarkets, exchange.bought)

	body := decode[map[string]any](t, rec)
	results := body["results"].([]any)
	require.Len(t, results, 2)
	assert.Equal(t, "o-KRW-BTC", results[0].(map[string]any)["order_id"])

	exchange.err = fmt.Errorf("upbit: distributed buy: no KRW balance: %w", domain.ErrOrder)
	rec = do(h, http.MethodPost, "/api/upbit/orders", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAuth(t *testing.T) {
	h, _, _ := newTestHandler(t, Config{APIKey: "secret"})

	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/upbit/prices", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/upbit/prices", "", "X-API-Key", "wrong").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/upbit/prices", "", "X-API-Key", "secret").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/upbit/prices", "", "Authorization", "Bearer secret").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/upbit/prices?api_key=secret", "").Code)

	// Probes stay open.
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/health", "").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/metrics", "").Code)
}

func TestCORS(t *testing.T) {
	h, _, _ := newTestHandler(t, Config{CORSOrigins: []string{"http://localhost:5173"}, APIKey: "secret"})

	rec := do(h, http.MethodOptions, "/api/upbit/auto/start", "", "Origin", "http://localhost:5173")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(h, http.MethodGet, "/api/health", "", "Origin", "http://evil.example")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownMethod(t *testing.T) {
	h, _, _ := newTestHandler(t, Config{})
	assert.Equal(t, http.StatusMethodNotAllowed, do(h, http.MethodGet, "/api/upbit/auto/start", "").Code)
}
