package upbit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/upbitbot/internal/domain"
)

// staticSigner returns a fixed token and remembers what it signed.
type staticSigner struct {
	mu     sync.Mutex
	signed []map[string]string
}

func (s *staticSigner) Sign(params map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signed = append(s.signed, params)
	return "Bearer test-token", nil
}

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *staticSigner) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	signer := &staticSigner{}
	c := NewClient(ClientConfig{
		BaseURL:     srv.URL,
		FeeRate:     decimal.RequireFromString("0.0005"),
		MinOrderKRW: decimal.NewFromInt(5000),
	}, signer, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return c, signer
}

func TestGetAccounts_SignedAndParsed(t *testing.T) {
	c, signer := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[
			{"currency":"KRW","balance":"100000.5","locked":"0","avg_buy_price":"0"},
			{"currency":"BTC","balance":"0.01","locked":"0","avg_buy_price":"50000000"},
			{"currency":"XRP","balance":"not-a-number","locked":"","avg_buy_price":"700"}
		]`))
	})

	accounts, err := c.GetAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 3)
	assert.True(t, accounts[0].Balance.Equal(decimal.RequireFromString("100000.5")))
	assert.True(t, accounts[1].AvgBuyPrice.Equal(decimal.NewFromInt(50000000)))
	assert.True(t, accounts[2].Balance.IsZero())

	require.Len(t, signer.signed, 1)
	assert.Empty(t, signer.signed[0])
}

func TestGetAccounts_NonSuccessIsNetworkError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"name":"invalid_access_key","message":"bad key"}}`))
	})

	_, err := c.GetAccounts(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNetwork)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "invalid_access_key", apiErr.Name)
}

func TestGetBalance_AbsentCurrencyIsZero(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"currency":"KRW","balance":"1000","locked":"0","avg_buy_price":"0"}]`))
	})

	b, err := c.GetBalance(context.Background(), "ETH")
	require.NoError(t, err)
	assert.True(t, b.IsZero())

	b, err = c.GetBalance(context.Background(), "krw")
	require.NoError(t, err)
	assert.True(t, b.Equal(decimal.NewFromInt(1000)))
}

func TestGetCandles_Unsigned(t *testing.T) {
	c, signer := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/candles/minutes/1", r.URL.Path)
		assert.Equal(t, "KRW-BTC", r.URL.Query().Get("market"))
		assert.Equal(t, "2", r.URL.Query().Get("count"))
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[
			{"market":"KRW-BTC","candle_date_time_utc":"2024-01-01T00:01:00","candle_date_time_kst":"2024-01-01T09:01:00","opening_price":10,"high_price":12,"low_price":9,"trade_price":11,"timestamp":1704067260000,"candle_acc_trade_price":100,"candle_acc_trade_volume":10},
			{"market":"KRW-BTC","candle_date_time_utc":"2024-01-01T00:00:00","candle_date_time_kst":"2024-01-01T09:00:00","opening_price":9,"high_price":10,"low_price":8,"trade_price":10,"timestamp":1704067200000,"candle_acc_trade_price":90,"candle_acc_trade_volume":9}
		]`))
	})

	candles := c.GetCandles(context.Background(), "KRW-BTC", "minutes/1", 2)
	require.Len(t, candles, 2)
	assert.Equal(t, []float64{11, 10}, domain.Closes(candles))
	assert.Equal(t, 2024, candles[0].TimeUTC.Year())
	assert.True(t, candles[0].TimeUTC.Equal(candles[0].TimeKST))
	assert.Empty(t, signer.signed)
}

func TestGetCandles_FailureYieldsEmpty(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	candles := c.GetCandles(context.Background(), "KRW-BTC", "days", 200)
	assert.NotNil(t, candles)
	assert.Empty(t, candles)
}

func TestPlaceMarketBuy_SignsExactBodyParams(t *testing.T) {
	var body map[string]string
	c, signer := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/orders", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"uuid":"abc","side":"bid","ord_type":"price","price":"9995","state":"wait","market":"KRW-BTC","created_at":"2024-01-01T09:00:00+09:00","executed_volume":"0","paid_fee":"0","trades_count":0}`))
	})

	receipt, err := c.PlaceMarketBuy(context.Background(), "KRW-BTC", decimal.NewFromInt(10000))
	require.NoError(t, err)
	assert.Equal(t, "abc", receipt.UUID)
	assert.Equal(t, domain.OrderSideBid, receipt.Side)
	assert.False(t, receipt.Settled())

	want := map[string]string{"market": "KRW-BTC", "side": "bid", "price": "9995", "ord_type": "price"}
	assert.Equal(t, want, body)
	require.Len(t, signer.signed, 1)
	assert.Equal(t, want, signer.signed[0])
}

func TestPlaceMarketSell_Params(t *testing.T) {
	var body map[string]string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"uuid":"def","side":"ask","ord_type":"market","state":"done","market":"KRW-ETH"}`))
	})

	receipt, err := c.PlaceMarketSell(context.Background(), "KRW-ETH", decimal.RequireFromString("0.12345678"))
	require.NoError(t, err)
	assert.True(t, receipt.Settled())
	assert.Equal(t, map[string]string{
		"market": "KRW-ETH", "side": "ask", "volume": "0.12345678", "ord_type": "market",
	}, body)
}

func TestPlaceOrder_RejectionIsOrderError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"name":"insufficient_funds_bid","message":"not enough KRW"}}`))
	})

	_, err := c.PlaceMarketBuy(context.Background(), "KRW-BTC", decimal.NewFromInt(10000))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrOrder)
	assert.NotErrorIs(t, err, domain.ErrNetwork)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "insufficient_funds_bid")
}

func TestPlaceMarketBuy_RejectsSubUnitAmount(t *testing.T) {
	calls := 0
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { calls++ })

	_, err := c.PlaceMarketBuy(context.Background(), "KRW-BTC", decimal.RequireFromString("0.5"))
	assert.ErrorIs(t, err, domain.ErrOrder)
	assert.Zero(t, calls)
}

func TestGetOrder_SignsUUID(t *testing.T) {
	c, signer := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/order", r.URL.Path)
		assert.Equal(t, "uuid=abc", r.URL.RawQuery)
		_, _ = w.Write([]byte(`{"uuid":"abc","state":"done","executed_volume":"1.5"}`))
	})

	receipt, err := c.GetOrder(context.Background(), "abc")
	require.NoError(t, err)
	assert.True(t, receipt.Settled())
	assert.True(t, receipt.ExecutedVolume.Equal(decimal.RequireFromString("1.5")))
	assert.Equal(t, []map[string]string{{"uuid": "abc"}}, signer.signed)
}

func TestBuyDistributed_SplitsAndSkipsSmallShares(t *testing.T) {
	var mu sync.Mutex
	var buys []map[string]string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/accounts":
			_, _ = w.Write([]byte(`[{"currency":"KRW","balance":"20010","locked":"0","avg_buy_price":"0"}]`))
		case "/v1/orders":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			mu.Lock()
			buys = append(buys, body)
			mu.Unlock()
			_, _ = w.Write([]byte(`{"uuid":"id-` + body["market"] + `","state":"wait"}`))
		}
	})

	results, err := c.BuyDistributed(context.Background(), []domain.Market{"KRW-BTC", "KRW-ETH"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.False(t, r.Skipped)
		assert.Empty(t, r.Error)
	}
	require.Len(t, buys, 2)
	// 20010 * 0.9995 / 2 = 9999.99..., then floor(share * 0.9995) = 9994
	assert.Equal(t, "9994", buys[0]["price"])

	results, err = c.BuyDistributed(context.Background(), []domain.Market{"KRW-BTC", "KRW-ETH", "KRW-XRP", "KRW-SOL", "KRW-ADA"})
	require.NoError(t, err)
	for _, r := range results {
		assert.True(t, r.Skipped)
	}
	assert.Len(t, buys, 2)
}

func TestSplitBudget(t *testing.T) {
	share := SplitBudget(decimal.NewFromInt(100000), decimal.RequireFromString("0.0005"), 4)
	assert.True(t, share.Equal(decimal.RequireFromString("24987.5")))
	assert.True(t, SplitBudget(decimal.NewFromInt(100), decimal.Zero, 0).IsZero())
}

func TestBuyPrice_Floors(t *testing.T) {
	assert.Equal(t, "9995", BuyPrice(decimal.NewFromInt(10000), decimal.RequireFromString("0.0005")).StringFixed(0))
	assert.Equal(t, "4997", BuyPrice(decimal.RequireFromString("4999.99"), decimal.RequireFromString("0.0005")).StringFixed(0))
}
