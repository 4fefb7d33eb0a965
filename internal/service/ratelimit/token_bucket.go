package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	mu       sync.Mutex
	lim      *rate.Limiter
	lastSeen time.Time
	evicted  bool
}

// TokenBucket gives each identity a burst of limit that refills over window.
type TokenBucket struct {
	limit int
	every rate.Limit
	idle  time.Duration
	m     sync.Map // identity -> *bucket
	now   func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

func NewTokenBucket(limit int, window time.Duration, janitor time.Duration) *TokenBucket {
	tb := &TokenBucket{
		limit: limit,
		every: rate.Limit(float64(limit) / window.Seconds()),
		idle:  window,
		now:   time.Now,
		stop:  make(chan struct{}),
	}
	if janitor > 0 {
		go tb.janitor(janitor)
	}
	return tb
}

func (tb *TokenBucket) Allow(_ context.Context, identity string) (bool, error) {
	now := tb.now()
	for {
		v, ok := tb.m.Load(identity)
		if !ok {
			v, _ = tb.m.LoadOrStore(identity, &bucket{lim: rate.NewLimiter(tb.every, tb.limit), lastSeen: now})
		}
		b := v.(*bucket)
		b.mu.Lock()
		if b.evicted {
			// swept between Load and Lock, pick up the replacement
			b.mu.Unlock()
			continue
		}
		b.lastSeen = now
		ok = b.lim.AllowN(now, 1)
		b.mu.Unlock()
		return ok, nil
	}
}

// Sweep drops buckets idle for longer than a full refill; they would be full anyway.
// A bucket is marked evicted under its lock so a concurrent Allow never spends from it.
func (tb *TokenBucket) Sweep() int {
	cutoff := tb.now().Add(-tb.idle)
	n := 0
	tb.m.Range(func(k, v any) bool {
		b := v.(*bucket)
		b.mu.Lock()
		if b.lastSeen.Before(cutoff) && tb.m.CompareAndDelete(k, v) {
			b.evicted = true
			n++
		}
		b.mu.Unlock()
		return true
	})
	return n
}

func (tb *TokenBucket) janitor(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-tb.stop:
			return
		case <-t.C:
			tb.Sweep()
		}
	}
}

func (tb *TokenBucket) Close() error {
	tb.stopOnce.Do(func() { close(tb.stop) })
	return nil
}
