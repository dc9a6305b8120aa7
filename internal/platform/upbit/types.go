package upbit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/upbitbot/internal/domain"
)

// --------------------------------------------------------------------------
// Upbit REST DTOs
// --------------------------------------------------------------------------

// AccountDTO is one row of GET /v1/accounts. Numeric fields arrive as text.
type AccountDTO struct {
	Currency     string `json:"currency"`
	Balance      string `json:"balance"`
	Locked       string `json:"locked"`
	AvgBuyPrice  string `json:"avg_buy_price"`
	UnitCurrency string `json:"unit_currency"`
}

// ToDomain converts the DTO, treating unparsable numbers as zero.
func (a AccountDTO) ToDomain() domain.AccountBalance {
	return domain.AccountBalance{
		Currency:    a.Currency,
		Balance:     domain.ParseDecimal(a.Balance),
		Locked:      domain.ParseDecimal(a.Locked),
		AvgBuyPrice: domain.ParseDecimal(a.AvgBuyPrice),
	}
}

// CandleDTO is one bar of GET /v1/candles/{unit}.
type CandleDTO struct {
	Market               string  `json:"market"`
	CandleDateTimeUTC    string  `json:"candle_date_time_utc"`
	CandleDateTimeKST    string  `json:"candle_date_time_kst"`
	OpeningPrice         float64 `json:"opening_price"`
	HighPrice            float64 `json:"high_price"`
	LowPrice             float64 `json:"low_price"`
	TradePrice           float64 `json:"trade_price"`
	Timestamp            int64   `json:"timestamp"`
	CandleAccTradePrice  float64 `json:"candle_acc_trade_price"`
	CandleAccTradeVolume float64 `json:"candle_acc_trade_volume"`
}

// candleTimeLayout is the zone-less layout the candle endpoints use.
const candleTimeLayout = "2006-01-02T15:04:05"

var kst = time.FixedZone("KST", 9*60*60)

// ToDomain converts the DTO. Unparsable timestamps are left zero.
func (c CandleDTO) ToDomain() domain.Candle {
	utc, _ := time.ParseInLocation(candleTimeLayout, c.CandleDateTimeUTC, time.UTC)
	local, _ := time.ParseInLocation(candleTimeLayout, c.CandleDateTimeKST, kst)
	return domain.Candle{
		Market:      domain.Market(c.Market),
		TimeUTC:     utc,
		TimeKST:     local,
		Open:        c.OpeningPrice,
		High:        c.HighPrice,
		Low:         c.LowPrice,
		Close:       c.TradePrice,
		AccVolume:   c.CandleAccTradeVolume,
		AccPrice:    c.CandleAccTradePrice,
		TimestampMs: c.Timestamp,
	}
}

// OrderDTO is the body returned by POST /v1/orders and GET /v1/order.
type OrderDTO struct {
	UUID            string `json:"uuid"`
	Side            string `json:"side"`
	OrdType         string `json:"ord_type"`
	Price           string `json:"price"`
	State           string `json:"state"`
	Market          string `json:"market"`
	CreatedAt       string `json:"created_at"`
	Volume          string `json:"volume"`
	RemainingVolume string `json:"remaining_volume"`
	ExecutedVolume  string `json:"executed_volume"`
	PaidFee         string `json:"paid_fee"`
	TradesCount     int    `json:"trades_count"`
}

// ToDomain converts the DTO into an order receipt.
func (o OrderDTO) ToDomain() domain.OrderReceipt {
	created, _ := time.Parse(time.RFC3339, o.CreatedAt)
	return domain.OrderReceipt{
		UUID:           o.UUID,
		Market:         domain.Market(o.Market),
		Side:           domain.OrderSide(o.Side),
		OrdType:        domain.OrderType(o.OrdType),
		State:          o.State,
		Price:          domain.ParseDecimal(o.Price),
		Volume:         domain.ParseDecimal(o.Volume),
		ExecutedVolume: domain.ParseDecimal(o.ExecutedVolume),
		PaidFee:        domain.ParseDecimal(o.PaidFee),
		TradesCount:    o.TradesCount,
		CreatedAt:      created,
	}
}

// ErrorResponse is the exchange error envelope.
type ErrorResponse struct {
	Error struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError is returned for any non-2xx REST response. It wraps
// domain.ErrOrder for order endpoints and domain.ErrNetwork otherwise.
type APIError struct {
	StatusCode int
	Name       string
	Message    string
	Body       string

	kind error
}

func (e *APIError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("upbit: HTTP %d: %s (%s)", e.StatusCode, e.Message, e.Name)
	}
	return fmt.Sprintf("upbit: HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error { return e.kind }

func newAPIError(status int, body []byte, kind error) *APIError {
	var env ErrorResponse
	_ = json.Unmarshal(body, &env)
	return &APIError{
		StatusCode: status,
		Name:       env.Error.Name,
		Message:    env.Error.Message,
		Body:       string(body),
		kind:       kind,
	}
}

// --------------------------------------------------------------------------
// Upbit WebSocket DTOs
// --------------------------------------------------------------------------

// TickerMessage is the subset of a streamed ticker document the bot reads.
type TickerMessage struct {
	Type       string  `json:"type"`
	Code       string  `json:"code"`
	TradePrice float64 `json:"trade_price"`
	Timestamp  int64   `json:"timestamp"`
}

// SubscribeTicket is the first element of a subscribe frame.
type SubscribeTicket struct {
	Ticket string `json:"ticket"`
}

// SubscribeType is the second element of a subscribe frame.
type SubscribeType struct {
	Type  string   `json:"type"`
	Codes []string `json:"codes"`
}

// SubscribeFrame builds `[{"ticket": id}, {"type": "ticker", "codes": [...]}]`.
func SubscribeFrame(ticket string, markets []domain.Market) []any {
	codes := make([]string, len(markets))
	for i, m := range markets {
		codes[i] = string(m)
	}
	return []any{
		SubscribeTicket{Ticket: ticket},
		SubscribeType{Type: "ticker", Codes: codes},
	}
}
