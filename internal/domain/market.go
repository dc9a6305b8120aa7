package domain

import (
	"strings"
	"time"
)

// QuoteKRW is the quote currency every supported market is priced in.
const QuoteKRW = "KRW"

// Market identifies an exchange market as "QUOTE-BASE", e.g. "KRW-BTC".
type Market string

// MarketFor builds the market code for a base currency priced in quote.
func MarketFor(quote, base string) Market {
	return Market(strings.ToUpper(quote) + "-" + strings.ToUpper(base))
}

// Quote returns the quote currency ("KRW" for "KRW-BTC").
func (m Market) Quote() string {
	quote, _, _ := strings.Cut(string(m), "-")
	return quote
}

// Base returns the base currency ("BTC" for "KRW-BTC"). It returns an empty
// string when the code has no separator.
func (m Market) Base() string {
	_, base, ok := strings.Cut(string(m), "-")
	if !ok {
		return ""
	}
	return base
}

// Valid reports whether the code has both a quote and a base part.
func (m Market) Valid() bool {
	return m.Quote() != "" && m.Base() != ""
}

func (m Market) String() string {
	return string(m)
}

// Markets converts plain strings into market codes, dropping blanks and
// duplicates while keeping the first-seen order.
func Markets(codes []string) []Market {
	seen := make(map[Market]struct{}, len(codes))
	out := make([]Market, 0, len(codes))
	for _, c := range codes {
		m := Market(strings.ToUpper(strings.TrimSpace(c)))
		if m == "" {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// PriceTick is the latest trade price observed for a market on the stream.
type PriceTick struct {
	Market     Market
	TradePrice float64
	ReceivedAt time.Time
}
