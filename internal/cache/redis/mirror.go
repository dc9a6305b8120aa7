package redis

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/upbitbot/internal/domain"
)

// DefaultMirrorInterval is how often the price mirror flushes.
const DefaultMirrorInterval = time.Second

// PriceSnapshot supplies the latest known price per market.
type PriceSnapshot interface {
	Prices() map[domain.Market]float64
}

// Mirror periodically copies in-process prices into a domain.PriceCache so
// other processes can read them. Writes are batched per interval instead of
// per tick to keep Redis off the ingestion path.
type Mirror struct {
	source   PriceSnapshot
	cache    domain.PriceCache
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewMirror creates a Mirror. A non-positive interval uses
// DefaultMirrorInterval.
func NewMirror(source PriceSnapshot, cache domain.PriceCache, interval time.Duration, logger *slog.Logger) *Mirror {
	if interval <= 0 {
		interval = DefaultMirrorInterval
	}
	return &Mirror{
		source:   source,
		cache:    cache,
		interval: interval,
		logger:   logger.With(slog.String("component", "price_mirror")),
		now:      time.Now,
	}
}

// Run flushes every interval until ctx is cancelled. Flush failures are
// logged and retried on the next tick.
func (m *Mirror) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Flush(ctx); err != nil && ctx.Err() == nil {
				m.logger.WarnContext(ctx, "price mirror flush failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Flush writes the current snapshot once.
func (m *Mirror) Flush(ctx context.Context) error {
	prices := m.source.Prices()
	if len(prices) == 0 {
		return nil
	}
	return m.cache.SetPrices(ctx, prices, m.now())
}
