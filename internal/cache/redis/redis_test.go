package redis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/upbitbot/internal/domain"
	"github.com/alanyoungcy/upbitbot/internal/notify"
)

var _ notify.Sender = (*NotificationStream)(nil)

func TestKeys_Namespaced(t *testing.T) {
	assert.Equal(t, "upbitbot:price:KRW-BTC", priceKey("KRW-BTC"))
	assert.Equal(t, "upbitbot:lock:rebalance", lockKey("rebalance"))
}

func TestPriceFields_RoundTripThroughDecode(t *testing.T) {
	ts := time.Unix(1700000000, 123)
	fields := priceFields(91234567.5, ts)

	vals := map[string]string{}
	for k, v := range fields {
		vals[k] = v.(string)
	}
	price, got, ok := decodePrice(vals)
	require.True(t, ok)
	assert.Equal(t, 91234567.5, price)
	assert.True(t, got.Equal(ts))
}

func TestDecodePrice_Malformed(t *testing.T) {
	_, _, ok := decodePrice(map[string]string{})
	assert.False(t, ok)

	_, _, ok = decodePrice(map[string]string{"price": "abc", "ts": "1"})
	assert.False(t, ok)

	price, ts, ok := decodePrice(map[string]string{"price": "10"})
	require.True(t, ok)
	assert.Equal(t, 10.0, price)
	assert.True(t, ts.IsZero())
}

func TestNotificationArgs(t *testing.T) {
	n := domain.Notification{ID: "n1", Kind: domain.KindSell, Market: "KRW-ETH", Message: "sold"}
	args, err := notificationArgs(NotificationStreamKey, n)
	require.NoError(t, err)

	assert.Equal(t, "upbitbot:notifications", args.Stream)
	assert.True(t, args.Approx)
	values := args.Values.(map[string]any)
	assert.Equal(t, "sell", values["kind"])

	var decoded domain.Notification
	require.NoError(t, json.Unmarshal(values["payload"].([]byte), &decoded))
	assert.Equal(t, n.Market, decoded.Market)
	assert.Equal(t, n.Message, decoded.Message)
}

type staticPrices map[domain.Market]float64

func (s staticPrices) Prices() map[domain.Market]float64 { return s }

type recordingCache struct {
	mu    sync.Mutex
	calls []map[domain.Market]float64
	err   error
}

func (c *recordingCache) SetPrices(_ context.Context, prices map[domain.Market]float64, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, prices)
	return c.err
}

func (c *recordingCache) GetPrices(context.Context, []domain.Market) (map[domain.Market]float64, error) {
	return nil, nil
}

func (c *recordingCache) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestMirror_FlushSkipsEmptySnapshot(t *testing.T) {
	cache := &recordingCache{}
	m := NewMirror(staticPrices{}, cache, 0, discard())
	require.NoError(t, m.Flush(context.Background()))
	assert.Zero(t, cache.count())
	assert.Equal(t, DefaultMirrorInterval, m.interval)
}

func TestMirror_RunFlushesUntilCancelled(t *testing.T) {
	cache := &recordingCache{err: errors.New("down")}
	m := NewMirror(staticPrices{"KRW-BTC": 100}, cache, 5*time.Millisecond, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return cache.count() >= 2 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	cache.mu.Lock()
	defer cache.mu.Unlock()
	assert.Equal(t, map[domain.Market]float64{"KRW-BTC": 100}, cache.calls[0])
}
