// Package portfolio watches aggregate unrealized P&L across held assets and,
// past a threshold, liquidates and redistributes the proceeds.
package portfolio

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/upbitbot/internal/domain"
)

// PriceSource returns the latest known trade price of a market.
type PriceSource interface {
	Price(market domain.Market) (float64, bool)
}

// Holding is one position that took part in an evaluation.
type Holding struct {
	Market      domain.Market
	Volume      decimal.Decimal
	Price       decimal.Decimal
	AvgBuyPrice decimal.Decimal
}

// Evaluation is the fee-adjusted value of every priced holding.
type Evaluation struct {
	EvalSum  decimal.Decimal
	CostSum  decimal.Decimal
	Holdings []Holding
}

// PnL returns EvalSum/CostSum - 1. ok is false when CostSum is not positive,
// in which case no decision can be made.
func (e Evaluation) PnL() (pnl decimal.Decimal, ok bool) {
	if !e.CostSum.IsPositive() {
		return decimal.Zero, false
	}
	return e.EvalSum.Div(e.CostSum).Sub(decimal.NewFromInt(1)), true
}

// Triggered reports whether PnL is at or above threshold.
func (e Evaluation) Triggered(threshold decimal.Decimal) bool {
	pnl, ok := e.PnL()
	return ok && pnl.GreaterThanOrEqual(threshold)
}

// Evaluate values every non-quote holding with a positive balance and a
// known price:
//
//	evalSum += price * balance * (1 - feeRate)
//	costSum += avgBuyPrice * balance * (1 + feeRate)
//
// Holdings without a price are left out of both sums.
func Evaluate(accounts []domain.AccountBalance, prices PriceSource, quote string, feeRate decimal.Decimal) Evaluation {
	one := decimal.NewFromInt(1)
	sellFactor := one.Sub(feeRate)
	buyFactor := one.Add(feeRate)

	ev := Evaluation{EvalSum: decimal.Zero, CostSum: decimal.Zero}
	for _, a := range accounts {
		if a.Currency == quote || !a.Balance.IsPositive() {
			continue
		}
		market := domain.MarketFor(quote, a.Currency)
		p, ok := prices.Price(market)
		if !ok || p <= 0 {
			continue
		}
		price := decimal.NewFromFloat(p)
		ev.EvalSum = ev.EvalSum.Add(price.Mul(a.Balance).Mul(sellFactor))
		ev.CostSum = ev.CostSum.Add(a.AvgBuyPrice.Mul(a.Balance).Mul(buyFactor))
		ev.Holdings = append(ev.Holdings, Holding{
			Market:      market,
			Volume:      a.Balance,
			Price:       price,
			AvgBuyPrice: a.AvgBuyPrice,
		})
	}
	return ev
}

// Positions returns every non-quote row with a positive balance, priced or
// not. Only Market and Volume are set.
func Positions(accounts []domain.AccountBalance, quote string) []Holding {
	var out []Holding
	for _, a := range accounts {
		if a.Currency == quote || !a.Balance.IsPositive() {
			continue
		}
		out = append(out, Holding{
			Market:      domain.MarketFor(quote, a.Currency),
			Volume:      a.Balance,
			AvgBuyPrice: a.AvgBuyPrice,
		})
	}
	return out
}

// PriceMap adapts a plain map to PriceSource.
type PriceMap map[domain.Market]float64

// Price implements PriceSource.
func (m PriceMap) Price(market domain.Market) (float64, bool) {
	p, ok := m[market]
	return p, ok
}
