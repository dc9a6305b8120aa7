package executor

import (
	"sync"
	"time"
)

// Dedup tracks job keys that are queued or running so the same key is never
// in flight twice. A key that is never released expires after ttl, which
// keeps a stuck job from blocking its key forever. It is safe for concurrent
// use.
type Dedup struct {
	inFlight map[string]time.Time // key -> acquired at
	ttl      time.Duration
	mu       sync.Mutex
	now      func() time.Time
}

// NewDedup creates a Dedup whose claims lapse after ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		inFlight: make(map[string]time.Time),
		ttl:      ttl,
		now:      time.Now,
	}
}

// TryAcquire claims key. It returns false when the key is already claimed and
// the claim has not lapsed.
func (d *Dedup) TryAcquire(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if at, ok := d.inFlight[key]; ok && now.Sub(at) < d.ttl {
		return false
	}
	d.inFlight[key] = now
	return true
}

// Release drops the claim on key.
func (d *Dedup) Release(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inFlight, key)
}

// Cleanup removes lapsed claims. Called periodically by the worker.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for key, at := range d.inFlight {
		if now.Sub(at) >= d.ttl {
			delete(d.inFlight, key)
		}
	}
}

// Len returns the number of live claims.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inFlight)
}
