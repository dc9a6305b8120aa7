// Package upbit is the exchange adapter: signed REST calls and the ticker
// stream transport.
package upbit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/upbitbot/internal/crypto"
	"github.com/alanyoungcy/upbitbot/internal/domain"
	"github.com/alanyoungcy/upbitbot/internal/metrics"
)

// DefaultTimeout bounds every REST call.
const DefaultTimeout = 10 * time.Second

// ClientConfig holds the REST client settings.
type ClientConfig struct {
	BaseURL string
	// FeeRate is reserved from every market buy: price = floor(krw*(1-FeeRate)).
	FeeRate decimal.Decimal
	// MinOrderKRW is the smallest per-market share BuyDistributed will place.
	MinOrderKRW decimal.Decimal
	Timeout     time.Duration
}

// Client is the REST client for the Upbit exchange API. It is safe for
// concurrent use.
type Client struct {
	baseURL    string
	signer     crypto.Signer
	feeRate    decimal.Decimal
	minOrder   decimal.Decimal
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new Upbit REST client.
func NewClient(cfg ClientConfig, signer crypto.Signer, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		signer:   signer,
		feeRate:  cfg.FeeRate,
		minOrder: cfg.MinOrderKRW,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With(slog.String("component", "upbit")),
	}
}

// FeeRate is the fee reserve applied to market buys.
func (c *Client) FeeRate() decimal.Decimal { return c.feeRate }

// GetAccounts returns every currency row of the account.
func (c *Client) GetAccounts(ctx context.Context) ([]domain.AccountBalance, error) {
	body, err := c.doRequest(ctx, request{
		method:   http.MethodGet,
		path:     "/v1/accounts",
		endpoint: "accounts",
		signed:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("upbit: get accounts: %w", err)
	}

	var rows []AccountDTO
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("upbit: decode accounts: %w: %v", domain.ErrNetwork, err)
	}

	out := make([]domain.AccountBalance, len(rows))
	for i, r := range rows {
		out[i] = r.ToDomain()
	}
	return out, nil
}

// GetBalance returns the available balance of currency, or zero when the
// account holds none.
func (c *Client) GetBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	accounts, err := c.GetAccounts(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	row, ok := domain.FindBalance(accounts, currency)
	if !ok {
		return decimal.Zero, nil
	}
	return row.Balance, nil
}

// GetCandles returns up to count bars of the given unit, newest first. Any
// failure is logged and yields an empty series so callers treat it as
// insufficient data.
func (c *Client) GetCandles(ctx context.Context, market domain.Market, unit string, count int) []domain.Candle {
	body, err := c.doRequest(ctx, request{
		method:   http.MethodGet,
		path:     "/v1/candles/" + strings.Trim(unit, "/"),
		endpoint: "candles",
		params: map[string]string{
			"market": string(market),
			"count":  strconv.Itoa(count),
		},
	})
	if err != nil {
		c.logger.WarnContext(ctx, "candle fetch failed",
			slog.String("market", string(market)),
			slog.String("unit", unit),
			slog.String("error", err.Error()),
		)
		return []domain.Candle{}
	}

	var rows []CandleDTO
	if err := json.Unmarshal(body, &rows); err != nil {
		c.logger.WarnContext(ctx, "candle decode failed",
			slog.String("market", string(market)),
			slog.String("error", err.Error()),
		)
		return []domain.Candle{}
	}

	out := make([]domain.Candle, len(rows))
	for i, r := range rows {
		out[i] = r.ToDomain()
	}
	return out
}

// PlaceMarketBuy spends krw on market, minus the fee reserve. The price is
// sent as a whole number of KRW.
func (c *Client) PlaceMarketBuy(ctx context.Context, market domain.Market, krw decimal.Decimal) (domain.OrderReceipt, error) {
	price := BuyPrice(krw, c.feeRate)
	if !price.IsPositive() {
		return domain.OrderReceipt{}, fmt.Errorf("upbit: buy %s: amount %s is below one KRW: %w",
			market, krw.String(), domain.ErrOrder)
	}

	receipt, err := c.placeOrder(ctx, map[string]string{
		"market":   string(market),
		"side":     string(domain.OrderSideBid),
		"price":    price.StringFixed(0),
		"ord_type": string(domain.OrderTypePrice),
	})
	metrics.RecordOrder(string(market), string(domain.OrderSideBid), err)
	if err != nil {
		return domain.OrderReceipt{}, fmt.Errorf("upbit: buy %s: %w", market, err)
	}
	return receipt, nil
}

// PlaceMarketSell sells volume units of market's base currency.
func (c *Client) PlaceMarketSell(ctx context.Context, market domain.Market, volume decimal.Decimal) (domain.OrderReceipt, error) {
	if !volume.IsPositive() {
		return domain.OrderReceipt{}, fmt.Errorf("upbit: sell %s: volume must be positive: %w", market, domain.ErrOrder)
	}

	receipt, err := c.placeOrder(ctx, map[string]string{
		"market":   string(market),
		"side":     string(domain.OrderSideAsk),
		"volume":   volume.String(),
		"ord_type": string(domain.OrderTypeMarket),
	})
	metrics.RecordOrder(string(market), string(domain.OrderSideAsk), err)
	if err != nil {
		return domain.OrderReceipt{}, fmt.Errorf("upbit: sell %s: %w", market, err)
	}
	return receipt, nil
}

// GetOrder fetches the current state of an order.
func (c *Client) GetOrder(ctx context.Context, uuid string) (domain.OrderReceipt, error) {
	body, err := c.doRequest(ctx, request{
		method:   http.MethodGet,
		path:     "/v1/order",
		endpoint: "order",
		params:   map[string]string{"uuid": uuid},
		signed:   true,
	})
	if err != nil {
		return domain.OrderReceipt{}, fmt.Errorf("upbit: get order %s: %w", uuid, err)
	}

	var dto OrderDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		return domain.OrderReceipt{}, fmt.Errorf("upbit: decode order: %w: %v", domain.ErrNetwork, err)
	}
	return dto.ToDomain(), nil
}

// DistributedResult reports the outcome of one leg of BuyDistributed.
type DistributedResult struct {
	Market  domain.Market       `json:"market"`
	Amount  decimal.Decimal     `json:"amount"`
	Receipt domain.OrderReceipt `json:"-"`
	OrderID string              `json:"order_id,omitempty"`
	Skipped bool                `json:"skipped,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// BuyDistributed splits the KRW balance, less the fee reserve, evenly over
// markets and market-buys each share. Shares below the minimum order are
// skipped; a failed leg does not stop the others.
func (c *Client) BuyDistributed(ctx context.Context, markets []domain.Market) ([]DistributedResult, error) {
	if len(markets) == 0 {
		return nil, fmt.Errorf("upbit: distributed buy: no markets: %w", domain.ErrOrder)
	}

	balance, err := c.GetBalance(ctx, domain.QuoteKRW)
	if err != nil {
		return nil, fmt.Errorf("upbit: distributed buy: %w", err)
	}
	if !balance.IsPositive() {
		return nil, fmt.Errorf("upbit: distributed buy: no KRW balance: %w", domain.ErrOrder)
	}

	share := SplitBudget(balance, c.feeRate, len(markets))
	results := make([]DistributedResult, 0, len(markets))
	for _, m := range markets {
		res := DistributedResult{Market: m, Amount: share}
		if share.LessThan(c.minOrder) {
			res.Skipped = true
			results = append(results, res)
			continue
		}
		receipt, err := c.PlaceMarketBuy(ctx, m, share)
		if err != nil {
			c.logger.WarnContext(ctx, "distributed buy leg failed",
				slog.String("market", string(m)),
				slog.String("error", err.Error()),
			)
			res.Error = err.Error()
		} else {
			res.Receipt = receipt
			res.OrderID = receipt.UUID
		}
		results = append(results, res)
	}
	return results, nil
}

// BuyPrice is the whole-KRW price sent for a market buy of krw.
func BuyPrice(krw, feeRate decimal.Decimal) decimal.Decimal {
	return krw.Mul(decimal.NewFromInt(1).Sub(feeRate)).Floor()
}

// SplitBudget reserves the fee from balance and divides the rest into n
// equal shares.
func SplitBudget(balance, feeRate decimal.Decimal, n int) decimal.Decimal {
	if n <= 0 {
		return decimal.Zero
	}
	budget := balance.Mul(decimal.NewFromInt(1).Sub(feeRate))
	return budget.Div(decimal.NewFromInt(int64(n)))
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

type request struct {
	method   string
	path     string
	endpoint string
	// params go in the query string for GET and in the JSON body otherwise.
	params map[string]string
	signed bool
	// kind is the sentinel a non-2xx response wraps. Defaults to ErrNetwork.
	kind error
}

func (c *Client) placeOrder(ctx context.Context, params map[string]string) (domain.OrderReceipt, error) {
	body, err := c.doRequest(ctx, request{
		method:   http.MethodPost,
		path:     "/v1/orders",
		endpoint: "orders",
		params:   params,
		signed:   true,
		kind:     domain.ErrOrder,
	})
	if err != nil {
		return domain.OrderReceipt{}, err
	}

	var dto OrderDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		return domain.OrderReceipt{}, fmt.Errorf("decode order receipt: %w: %v", domain.ErrOrder, err)
	}
	return dto.ToDomain(), nil
}

// doRequest builds, signs, sends and reads one request. The token is bound
// to exactly the params sent, in the canonical form the query string uses.
func (c *Client) doRequest(ctx context.Context, r request) ([]byte, error) {
	fullURL := c.baseURL + r.path

	var bodyReader io.Reader
	if r.method == http.MethodGet {
		if q := crypto.CanonicalQuery(r.params); q != "" {
			fullURL += "?" + q
		}
	} else if len(r.params) > 0 {
		jsonBody, err := json.Marshal(r.params)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	req.Header.Set("Accept", "application/json")

	if r.signed {
		auth, err := c.signer.Sign(r.params)
		if err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
		req.Header.Set("Authorization", auth)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveRequest(r.endpoint, 0, started)
		return nil, fmt.Errorf("http request: %w: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()
	metrics.ObserveRequest(r.endpoint, resp.StatusCode, started)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w: %v", domain.ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind := r.kind
		if kind == nil {
			kind = domain.ErrNetwork
		}
		return nil, newAPIError(resp.StatusCode, respBody, kind)
	}
	return respBody, nil
}
