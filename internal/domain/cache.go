package domain

import (
	"context"
	"time"
)

// PriceCache mirrors the latest stream prices to an external store so other
// processes can read them.
type PriceCache interface {
	SetPrices(ctx context.Context, prices map[Market]float64, ts time.Time) error
	GetPrices(ctx context.Context, markets []Market) (map[Market]float64, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
