package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// AccountBalance is one currency row of the exchange account. Values are
// fetched fresh for every decision and never cached beyond it.
type AccountBalance struct {
	Currency    string
	Balance     decimal.Decimal // available
	Locked      decimal.Decimal // held by open orders
	AvgBuyPrice decimal.Decimal
}

// ParseDecimal converts exchange text into a decimal. Empty or invalid text
// yields zero.
func ParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// FindBalance returns the row for currency (case-insensitive).
func FindBalance(accounts []AccountBalance, currency string) (AccountBalance, bool) {
	for _, a := range accounts {
		if strings.EqualFold(a.Currency, currency) {
			return a, true
		}
	}
	return AccountBalance{}, false
}
