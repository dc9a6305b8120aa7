package stream

import (
	"sync"
	"time"

	"github.com/alanyoungcy/upbitbot/internal/domain"
	"github.com/alanyoungcy/upbitbot/internal/portfolio"
	"github.com/alanyoungcy/upbitbot/internal/strategy"
)

// MarketState is the trading state kept for one subscribed market. It
// survives reconnects.
type MarketState struct {
	Price        float64
	PriceAt      time.Time
	LastEvalAt   time.Time
	LastRSI      float64
	HasRSI       bool
	LastBuyPrice float64
	Holding      bool
	Evaluating   bool
}

type entry struct {
	mu sync.Mutex
	st MarketState
}

// Store holds per-market state behind striped locks: the map is guarded by
// an RWMutex and every entry by its own mutex, so ticks for different
// markets never contend.
type Store struct {
	mu      sync.RWMutex
	entries map[domain.Market]*entry
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[domain.Market]*entry)}
}

// Ensure adds an entry for every market that has none. Existing entries are
// kept as they are.
func (s *Store) Ensure(markets []domain.Market) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range markets {
		if _, ok := s.entries[m]; !ok {
			s.entries[m] = &entry{}
		}
	}
}

func (s *Store) get(m domain.Market) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[m]
}

// SetPrice records the latest trade price. It returns false for markets the
// store does not track.
func (s *Store) SetPrice(m domain.Market, price float64, at time.Time) bool {
	e := s.get(m)
	if e == nil {
		return false
	}
	e.mu.Lock()
	e.st.Price = price
	e.st.PriceAt = at
	e.mu.Unlock()
	return true
}

// Price implements portfolio.PriceSource.
func (s *Store) Price(m domain.Market) (float64, bool) {
	e := s.get(m)
	if e == nil {
		return 0, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st.PriceAt.IsZero() {
		return 0, false
	}
	return e.st.Price, true
}

// Prices returns every known price.
func (s *Store) Prices() map[domain.Market]float64 {
	s.mu.RLock()
	entries := make(map[domain.Market]*entry, len(s.entries))
	for m, e := range s.entries {
		entries[m] = e
	}
	s.mu.RUnlock()

	out := make(map[domain.Market]float64, len(entries))
	for m, e := range entries {
		e.mu.Lock()
		if !e.st.PriceAt.IsZero() {
			out[m] = e.st.Price
		}
		e.mu.Unlock()
	}
	return out
}

// Snapshot returns a copy of a market's state.
func (s *Store) Snapshot(m domain.Market) (MarketState, bool) {
	e := s.get(m)
	if e == nil {
		return MarketState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st, true
}

// TryBeginEval atomically checks the market is idle and past its cooldown,
// then marks it evaluating and restarts the cooldown. prev is the previous
// evaluation time for CancelEval.
func (s *Store) TryBeginEval(m domain.Market, now time.Time, cooldown time.Duration) (prev time.Time, ok bool) {
	e := s.get(m)
	if e == nil {
		return time.Time{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st.Evaluating {
		return time.Time{}, false
	}
	if !e.st.LastEvalAt.IsZero() && now.Sub(e.st.LastEvalAt) < cooldown {
		return time.Time{}, false
	}
	prev = e.st.LastEvalAt
	e.st.LastEvalAt = now
	e.st.Evaluating = true
	return prev, true
}

// CancelEval undoes a TryBeginEval whose work never ran.
func (s *Store) CancelEval(m domain.Market, prev time.Time) {
	e := s.get(m)
	if e == nil {
		return
	}
	e.mu.Lock()
	e.st.LastEvalAt = prev
	e.st.Evaluating = false
	e.mu.Unlock()
}

// FinishEval applies a decision and returns the market to idle. An
// insufficient-data decision changes nothing but the idle flag.
func (s *Store) FinishEval(m domain.Market, d strategy.Decision) {
	e := s.get(m)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.st.Evaluating = false
	if !d.HasRSI() {
		return
	}
	e.st.LastRSI = d.RSI
	e.st.HasRSI = true

	switch d.Action {
	case strategy.ActionBuy:
		e.st.Holding = true
		e.st.LastBuyPrice = d.Price
	case strategy.ActionHeld:
		e.st.Holding = true
	case strategy.ActionSell:
		e.st.Holding = false
		e.st.LastBuyPrice = 0
	}
}

// SyncHoldings marks target markets as held, with their average buy price,
// when the account has a positive balance of the base currency.
func (s *Store) SyncHoldings(accounts []domain.AccountBalance, markets []domain.Market) {
	for _, m := range markets {
		e := s.get(m)
		if e == nil {
			continue
		}
		row, ok := domain.FindBalance(accounts, m.Base())
		e.mu.Lock()
		if ok && row.Balance.IsPositive() {
			e.st.Holding = true
			e.st.LastBuyPrice = row.AvgBuyPrice.InexactFloat64()
		} else {
			e.st.Holding = false
			e.st.LastBuyPrice = 0
		}
		e.mu.Unlock()
	}
}

// ApplyRebalance records the holdings a rebalance left behind: markets
// bought back are held at the current price, markets sold but not bought
// back are flat.
func (s *Store) ApplyRebalance(res portfolio.Result) {
	bought := make(map[domain.Market]bool, len(res.Bought))
	for _, m := range res.Bought {
		bought[m] = true
	}
	for _, m := range res.Sold {
		e := s.get(m)
		if e == nil {
			continue
		}
		e.mu.Lock()
		e.st.Holding = bought[m]
		if bought[m] {
			e.st.LastBuyPrice = e.st.Price
		} else {
			e.st.LastBuyPrice = 0
		}
		e.mu.Unlock()
	}
}

var _ portfolio.PriceSource = (*Store)(nil)
