package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/upbitbot/internal/domain"
	"github.com/alanyoungcy/upbitbot/internal/metrics"
)

// LockKey is the distributed lock name held for the length of a run.
const LockKey = "rebalance"

// Exchange is the subset of the exchange client the rebalancer needs.
type Exchange interface {
	GetAccounts(ctx context.Context) ([]domain.AccountBalance, error)
	PlaceMarketBuy(ctx context.Context, market domain.Market, krw decimal.Decimal) (domain.OrderReceipt, error)
	PlaceMarketSell(ctx context.Context, market domain.Market, volume decimal.Decimal) (domain.OrderReceipt, error)
	GetOrder(ctx context.Context, uuid string) (domain.OrderReceipt, error)
}

// Config holds the rebalance policy.
type Config struct {
	Quote     string
	FeeRate   decimal.Decimal
	Threshold decimal.Decimal
	// Cooldown is the minimum time between two triggered rebalances.
	Cooldown time.Duration
	// CheckInterval throttles evaluations so a busy stream does not query the
	// account on every tick.
	CheckInterval time.Duration
	// SettleDelay is waited after the sells before order states are polled.
	SettleDelay time.Duration
	// SettlePolls bounds how many rounds of order-state polling are made.
	SettlePolls        int
	SettlePollInterval time.Duration
	MinOrderKRW        decimal.Decimal
	LockTTL            time.Duration
}

// DefaultConfig returns a 1% take-profit with a 60s cooldown.
func DefaultConfig() Config {
	return Config{
		Quote:              domain.QuoteKRW,
		FeeRate:            decimal.RequireFromString("0.0005"),
		Threshold:          decimal.RequireFromString("0.01"),
		Cooldown:           60 * time.Second,
		CheckInterval:      5 * time.Second,
		SettleDelay:        2 * time.Second,
		SettlePolls:        5,
		SettlePollInterval: time.Second,
		MinOrderKRW:        decimal.NewFromInt(5000),
		LockTTL:            2 * time.Minute,
	}
}

// Outcome classifies a run.
type Outcome string

const (
	OutcomeLocked         Outcome = "locked"          // another process holds the lock
	OutcomeNoPosition     Outcome = "no_position"     // cost basis not positive
	OutcomeBelowThreshold Outcome = "below_threshold" // evaluated, not triggered
	OutcomeTriggered      Outcome = "triggered"       // liquidated and re-bought
)

// Result describes a finished run.
type Result struct {
	Outcome    Outcome
	Evaluation Evaluation
	PnL        decimal.Decimal
	Sold       []domain.Market
	Bought     []domain.Market
	// Unsettled lists sell orders still open when settlement polling gave up.
	Unsettled []string
}

// Rebalancer runs at most one rebalance at a time. Callers gate each run
// with TryBegin and then call Run, usually on another goroutine.
type Rebalancer struct {
	cfg      Config
	exchange Exchange
	prices   PriceSource
	recorder domain.Recorder
	locker   domain.LockManager
	logger   *slog.Logger

	running atomic.Bool

	mu          sync.Mutex
	lastTrigger time.Time
	lastCheck   time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRebalancer creates a Rebalancer. locker may be nil.
func NewRebalancer(cfg Config, exchange Exchange, prices PriceSource, recorder domain.Recorder, locker domain.LockManager, logger *slog.Logger) *Rebalancer {
	return &Rebalancer{
		cfg:      cfg,
		exchange: exchange,
		prices:   prices,
		recorder: recorder,
		locker:   locker,
		logger:   logger.With(slog.String("component", "rebalancer")),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// TryBegin claims the in-progress flag if the cooldown since the last
// trigger and the check interval have both elapsed and no run is active.
// A true result must be followed by exactly one Run. Claims that lose are
// dropped, not queued.
func (r *Rebalancer) TryBegin(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.lastTrigger.IsZero() && now.Sub(r.lastTrigger) < r.cfg.Cooldown {
		return false
	}
	if !r.lastCheck.IsZero() && now.Sub(r.lastCheck) < r.cfg.CheckInterval {
		return false
	}
	if !r.running.CompareAndSwap(false, true) {
		return false
	}
	r.lastCheck = now
	return true
}

// Abort releases a claim taken by TryBegin without running.
func (r *Rebalancer) Abort() {
	r.running.Store(false)
}

// Running reports whether a run holds the flag.
func (r *Rebalancer) Running() bool {
	return r.running.Load()
}

// LastTrigger returns when a rebalance last fired.
func (r *Rebalancer) LastTrigger() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastTrigger
}

// Run evaluates the portfolio and rebalances when P&L reaches the
// threshold. The flag is cleared on return whatever the outcome, and leg
// failures never roll back earlier legs.
func (r *Rebalancer) Run(ctx context.Context) (Result, error) {
	defer r.running.Store(false)

	if r.locker != nil {
		unlock, err := r.locker.Acquire(ctx, LockKey, r.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				r.logger.DebugContext(ctx, "rebalance lock held elsewhere")
				metrics.RecordRebalance(string(OutcomeLocked), 0)
				return Result{Outcome: OutcomeLocked}, nil
			}
			return Result{}, fmt.Errorf("portfolio: acquire lock: %w", err)
		}
		defer unlock()
	}

	accounts, err := r.exchange.GetAccounts(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("portfolio: evaluate: %w", err)
	}

	ev := Evaluate(accounts, r.prices, r.cfg.Quote, r.cfg.FeeRate)
	res := Result{Evaluation: ev}
	pnl, ok := ev.PnL()
	if !ok {
		res.Outcome = OutcomeNoPosition
		metrics.RecordRebalance(string(res.Outcome), 0)
		return res, nil
	}
	res.PnL = pnl

	if !ev.Triggered(r.cfg.Threshold) {
		res.Outcome = OutcomeBelowThreshold
		metrics.RecordRebalance(string(res.Outcome), pnl.InexactFloat64())
		r.logger.DebugContext(ctx, "portfolio below threshold",
			slog.String("pnl", pnl.StringFixed(4)),
		)
		return res, nil
	}

	r.mu.Lock()
	r.lastTrigger = r.now()
	r.mu.Unlock()

	positions := Positions(accounts, r.cfg.Quote)
	res.Outcome = OutcomeTriggered
	metrics.RecordRebalance(string(res.Outcome), pnl.InexactFloat64())
	r.logger.InfoContext(ctx, "rebalance triggered",
		slog.String("pnl", pnl.StringFixed(4)),
		slog.String("eval_sum", ev.EvalSum.StringFixed(0)),
		slog.String("cost_sum", ev.CostSum.StringFixed(0)),
		slog.Int("priced", len(ev.Holdings)),
		slog.Int("holdings", len(positions)),
	)
	r.notify(domain.KindInfo, "", fmt.Sprintf("portfolio P&L %s%% reached, rebalancing %d holdings",
		pnl.Mul(decimal.NewFromInt(100)).StringFixed(2), len(positions)))

	r.execute(ctx, positions, &res)
	return res, nil
}

// execute sells every held market, priced or not, waits for the sells to
// settle and spreads the quote balance evenly back over the markets that
// were sold.
func (r *Rebalancer) execute(ctx context.Context, positions []Holding, res *Result) {
	var orderIDs []string
	for _, h := range positions {
		receipt, err := r.exchange.PlaceMarketSell(ctx, h.Market, h.Volume)
		if err != nil {
			r.logger.ErrorContext(ctx, "rebalance sell failed",
				slog.String("market", string(h.Market)),
				slog.String("error", err.Error()),
			)
			r.notify(domain.KindError, h.Market, fmt.Sprintf("rebalance sell failed: %v", err))
			continue
		}
		res.Sold = append(res.Sold, h.Market)
		if receipt.UUID != "" {
			orderIDs = append(orderIDs, receipt.UUID)
		}
		r.notify(domain.KindSell, h.Market, fmt.Sprintf("rebalance sold %s %s", h.Volume.String(), h.Market.Base()))
	}
	if len(res.Sold) == 0 {
		return
	}

	if err := r.sleep(ctx, r.cfg.SettleDelay); err != nil {
		return
	}
	res.Unsettled = r.awaitSettlement(ctx, orderIDs)
	if len(res.Unsettled) > 0 {
		r.logger.WarnContext(ctx, "sell orders not confirmed, re-buying with current balance",
			slog.Any("orders", res.Unsettled),
		)
		r.notify(domain.KindWarning, "", fmt.Sprintf("%d rebalance sells not confirmed before re-buy", len(res.Unsettled)))
	}

	accounts, err := r.exchange.GetAccounts(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "rebalance balance query failed", slog.String("error", err.Error()))
		r.notify(domain.KindError, "", fmt.Sprintf("rebalance re-buy skipped: %v", err))
		return
	}
	balance := decimal.Zero
	if row, ok := domain.FindBalance(accounts, r.cfg.Quote); ok {
		balance = row.Balance
	}

	budget := balance.Mul(decimal.NewFromInt(1).Sub(r.cfg.FeeRate))
	share := budget.Div(decimal.NewFromInt(int64(len(res.Sold))))
	for _, m := range res.Sold {
		if share.LessThan(r.cfg.MinOrderKRW) {
			r.notify(domain.KindWarning, m, fmt.Sprintf("rebalance share %s KRW below minimum, skipped", share.StringFixed(0)))
			continue
		}
		if _, err := r.exchange.PlaceMarketBuy(ctx, m, share); err != nil {
			r.logger.ErrorContext(ctx, "rebalance buy failed",
				slog.String("market", string(m)),
				slog.String("error", err.Error()),
			)
			r.notify(domain.KindError, m, fmt.Sprintf("rebalance buy failed: %v", err))
			continue
		}
		res.Bought = append(res.Bought, m)
		r.notify(domain.KindBuy, m, fmt.Sprintf("rebalance bought %s KRW", share.StringFixed(0)))
	}
}

// awaitSettlement polls the given orders until each reports a terminal state
// or the poll budget runs out. It returns the IDs still open.
func (r *Rebalancer) awaitSettlement(ctx context.Context, orderIDs []string) []string {
	pending := orderIDs
	for round := 0; round < r.cfg.SettlePolls && len(pending) > 0; round++ {
		if round > 0 {
			if err := r.sleep(ctx, r.cfg.SettlePollInterval); err != nil {
				return pending
			}
		}
		still := pending[:0:0]
		for _, id := range pending {
			receipt, err := r.exchange.GetOrder(ctx, id)
			if err != nil {
				r.logger.WarnContext(ctx, "order status query failed",
					slog.String("order_id", id),
					slog.String("error", err.Error()),
				)
				still = append(still, id)
				continue
			}
			if !receipt.Settled() {
				still = append(still, id)
			}
		}
		pending = still
	}
	return pending
}

func (r *Rebalancer) notify(kind domain.NotificationKind, market domain.Market, msg string) {
	if r.recorder == nil {
		return
	}
	r.recorder.Record(domain.Notification{Kind: kind, Market: market, Message: msg})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
