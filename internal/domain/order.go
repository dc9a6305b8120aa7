package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the exchange side code.
type OrderSide string

const (
	OrderSideBid OrderSide = "bid" // buy
	OrderSideAsk OrderSide = "ask" // sell
)

// OrderType is the exchange ord_type code.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypePrice  OrderType = "price"  // market buy sized in quote currency
	OrderTypeMarket OrderType = "market" // market sell sized in base volume
)

// Order states reported by the exchange.
const (
	OrderStateWait   = "wait"
	OrderStateWatch  = "watch"
	OrderStateDone   = "done"
	OrderStateCancel = "cancel"
)

// OrderReceipt is the exchange acknowledgement of a submitted order.
type OrderReceipt struct {
	UUID           string
	Market         Market
	Side           OrderSide
	OrdType        OrderType
	State          string
	Price          decimal.Decimal
	Volume         decimal.Decimal
	ExecutedVolume decimal.Decimal
	PaidFee        decimal.Decimal
	TradesCount    int
	CreatedAt      time.Time
}

// Settled reports whether the order reached a terminal state.
func (r OrderReceipt) Settled() bool {
	return r.State == OrderStateDone || r.State == OrderStateCancel
}
