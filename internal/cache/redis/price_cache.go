package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/upbitbot/internal/domain"
)

// PriceCache implements domain.PriceCache with one hash per market at
// "upbitbot:price:{market}" holding the fields "price" and "ts" (unix nanos).
// Entries expire after ttl so a stopped bot leaves no stale prices behind.
type PriceCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by c. A zero ttl keeps entries
// forever.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(m domain.Market) string {
	return KeyPrefix + "price:" + string(m)
}

func priceFields(price float64, ts time.Time) map[string]any {
	return map[string]any{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
}

// decodePrice reads a stored hash. ok is false when the hash is missing or
// malformed.
func decodePrice(vals map[string]string) (price float64, ts time.Time, ok bool) {
	priceStr, found := vals["price"]
	if !found {
		return 0, time.Time{}, false
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	if tsStr, found := vals["ts"]; found {
		if nanos, err := strconv.ParseInt(tsStr, 10, 64); err == nil {
			ts = time.Unix(0, nanos)
		}
	}
	return price, ts, true
}

// SetPrices writes every price in one pipeline.
func (pc *PriceCache) SetPrices(ctx context.Context, prices map[domain.Market]float64, ts time.Time) error {
	if len(prices) == 0 {
		return nil
	}
	pipe := pc.rdb.Pipeline()
	for m, p := range prices {
		key := priceKey(m)
		pipe.HSet(ctx, key, priceFields(p, ts))
		if pc.ttl > 0 {
			pipe.Expire(ctx, key, pc.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set prices: %w", err)
	}
	return nil
}

// GetPrice returns one market's mirrored price. A missing entry yields
// domain.ErrNotFound.
func (pc *PriceCache) GetPrice(ctx context.Context, m domain.Market) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(m)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", m, err)
	}
	price, ts, ok := decodePrice(vals)
	if !ok {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", m, domain.ErrNotFound)
	}
	return price, ts, nil
}

// GetPrices reads several markets in one pipeline. Missing markets are
// omitted from the result.
func (pc *PriceCache) GetPrices(ctx context.Context, markets []domain.Market) (map[domain.Market]float64, error) {
	out := make(map[domain.Market]float64, len(markets))
	if len(markets) == 0 {
		return out, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[domain.Market]*redis.MapStringStringCmd, len(markets))
	for _, m := range markets {
		cmds[m] = pipe.HGetAll(ctx, priceKey(m))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices: %w", err)
	}

	for m, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		if price, _, ok := decodePrice(vals); ok {
			out[m] = price
		}
	}
	return out, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
