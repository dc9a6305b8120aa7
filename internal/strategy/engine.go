// Package strategy turns candle history into per-market trading decisions
// using RSI thresholds.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/upbitbot/internal/domain"
	"github.com/alanyoungcy/upbitbot/internal/indicator"
	"github.com/alanyoungcy/upbitbot/internal/metrics"
)

// Exchange is the subset of the exchange client the engine needs.
type Exchange interface {
	GetAccounts(ctx context.Context) ([]domain.AccountBalance, error)
	GetCandles(ctx context.Context, market domain.Market, unit string, count int) []domain.Candle
	PlaceMarketBuy(ctx context.Context, market domain.Market, krw decimal.Decimal) (domain.OrderReceipt, error)
	PlaceMarketSell(ctx context.Context, market domain.Market, volume decimal.Decimal) (domain.OrderReceipt, error)
}

// Action is the outcome of one evaluation.
type Action string

const (
	ActionNone         Action = "none"         // RSI between thresholds, or nothing to sell
	ActionBuy          Action = "buy"          // market buy placed
	ActionSell         Action = "sell"         // market sell placed
	ActionHeld         Action = "held"         // oversold but already holding
	ActionNoFunds      Action = "no_funds"     // oversold but the share is below the minimum order
	ActionInsufficient Action = "insufficient" // not enough candles for RSI
)

// Config holds the RSI policy parameters.
type Config struct {
	Period      int
	Oversold    float64
	Overbought  float64
	CandleUnit  string
	CandleCount int
	MinOrderKRW decimal.Decimal
}

// DefaultConfig returns the stock policy: RSI(14) on 200 one-minute bars,
// buy at or below 40, sell at or above 65, 5,000 KRW minimum order.
func DefaultConfig() Config {
	return Config{
		Period:      indicator.DefaultRSIPeriod,
		Oversold:    40,
		Overbought:  65,
		CandleUnit:  "minutes/1",
		CandleCount: 200,
		MinOrderKRW: decimal.NewFromInt(5000),
	}
}

// Decision describes what an evaluation did.
type Decision struct {
	Market domain.Market
	Action Action
	// RSI is valid unless Action is ActionInsufficient.
	RSI float64
	// Price is the latest candle close seen by the evaluation.
	Price float64
	// Amount is the KRW spent on a buy or the volume sold.
	Amount  decimal.Decimal
	Receipt domain.OrderReceipt
}

// HasRSI reports whether the decision carries a computed RSI.
func (d Decision) HasRSI() bool {
	return d.Action != ActionInsufficient
}

// Engine evaluates one market at a time. It holds no per-market state; the
// caller owns cooldowns and holding flags.
type Engine struct {
	cfg      Config
	exchange Exchange
	recorder domain.Recorder
	logger   *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(cfg Config, exchange Exchange, recorder domain.Recorder, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		exchange: exchange,
		recorder: recorder,
		logger:   logger.With(slog.String("component", "rsi_engine")),
	}
}

// Evaluate fetches candles for market, computes RSI and acts on it.
// marketCount is the number of markets the KRW balance is shared between.
//
// Too few candles is not an error: the decision comes back as
// ActionInsufficient and nothing is traded. Balance and order failures are
// returned after being logged and recorded.
func (e *Engine) Evaluate(ctx context.Context, market domain.Market, marketCount int) (Decision, error) {
	d := Decision{Market: market, Action: ActionNone}
	if marketCount < 1 {
		marketCount = 1
	}

	candles := e.exchange.GetCandles(ctx, market, e.cfg.CandleUnit, e.cfg.CandleCount)
	closes := domain.Closes(candles)
	rsi, err := indicator.RSI(closes, e.cfg.Period)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientData) {
			e.logger.WarnContext(ctx, "not enough candles for rsi",
				slog.String("market", string(market)),
				slog.Int("candles", len(candles)),
				slog.Int("period", e.cfg.Period),
			)
			d.Action = ActionInsufficient
			e.record(d)
			return d, nil
		}
		return d, fmt.Errorf("strategy: rsi %s: %w", market, err)
	}
	d.RSI = rsi
	d.Price = closes[0]

	log := e.logger.With(
		slog.String("market", string(market)),
		slog.Float64("rsi", rsi),
	)

	switch {
	case rsi <= e.cfg.Oversold:
		err = e.onOversold(ctx, log, &d, marketCount)
	case rsi >= e.cfg.Overbought:
		err = e.onOverbought(ctx, log, &d)
	default:
		log.DebugContext(ctx, "rsi within band")
	}
	e.record(d)
	return d, err
}

func (e *Engine) onOversold(ctx context.Context, log *slog.Logger, d *Decision, marketCount int) error {
	accounts, err := e.exchange.GetAccounts(ctx)
	if err != nil {
		log.ErrorContext(ctx, "balance query failed", slog.String("error", err.Error()))
		return fmt.Errorf("strategy: buy %s: %w", d.Market, err)
	}

	if held, ok := domain.FindBalance(accounts, d.Market.Base()); ok && held.Balance.IsPositive() {
		d.Action = ActionHeld
		e.notify(domain.KindInfo, d.Market, fmt.Sprintf("RSI %.2f oversold but %s is already held", d.RSI, d.Market.Base()))
		return nil
	}

	krw := decimal.Zero
	if row, ok := domain.FindBalance(accounts, domain.QuoteKRW); ok {
		krw = row.Balance
	}
	share := krw.Div(decimal.NewFromInt(int64(marketCount)))
	if share.LessThan(e.cfg.MinOrderKRW) {
		d.Action = ActionNoFunds
		e.notify(domain.KindWarning, d.Market, fmt.Sprintf("RSI %.2f oversold but KRW share %s is below the %s minimum",
			d.RSI, share.StringFixed(0), e.cfg.MinOrderKRW.String()))
		return nil
	}

	receipt, err := e.exchange.PlaceMarketBuy(ctx, d.Market, share)
	if err != nil {
		log.ErrorContext(ctx, "market buy failed", slog.String("error", err.Error()))
		e.notify(domain.KindError, d.Market, fmt.Sprintf("buy failed: %v", err))
		return fmt.Errorf("strategy: buy %s: %w", d.Market, err)
	}

	d.Action = ActionBuy
	d.Amount = share
	d.Receipt = receipt
	log.InfoContext(ctx, "market buy placed",
		slog.String("krw", share.StringFixed(0)),
		slog.String("order_id", receipt.UUID),
	)
	e.notify(domain.KindBuy, d.Market, fmt.Sprintf("RSI %.2f: bought %s KRW", d.RSI, share.StringFixed(0)))
	return nil
}

func (e *Engine) onOverbought(ctx context.Context, log *slog.Logger, d *Decision) error {
	accounts, err := e.exchange.GetAccounts(ctx)
	if err != nil {
		log.ErrorContext(ctx, "balance query failed", slog.String("error", err.Error()))
		return fmt.Errorf("strategy: sell %s: %w", d.Market, err)
	}

	held, ok := domain.FindBalance(accounts, d.Market.Base())
	if !ok || !held.Balance.IsPositive() {
		log.DebugContext(ctx, "overbought with nothing to sell")
		return nil
	}

	receipt, err := e.exchange.PlaceMarketSell(ctx, d.Market, held.Balance)
	if err != nil {
		log.ErrorContext(ctx, "market sell failed", slog.String("error", err.Error()))
		e.notify(domain.KindError, d.Market, fmt.Sprintf("sell failed: %v", err))
		return fmt.Errorf("strategy: sell %s: %w", d.Market, err)
	}

	d.Action = ActionSell
	d.Amount = held.Balance
	d.Receipt = receipt
	log.InfoContext(ctx, "market sell placed",
		slog.String("volume", held.Balance.String()),
		slog.String("order_id", receipt.UUID),
	)
	e.notify(domain.KindSell, d.Market, fmt.Sprintf("RSI %.2f: sold %s %s", d.RSI, held.Balance.String(), d.Market.Base()))
	return nil
}

func (e *Engine) notify(kind domain.NotificationKind, market domain.Market, msg string) {
	if e.recorder == nil {
		return
	}
	e.recorder.Record(domain.Notification{Kind: kind, Market: market, Message: msg})
}

func (e *Engine) record(d Decision) {
	metrics.RecordDecision(string(d.Market), string(d.Action), d.RSI, d.HasRSI())
}
