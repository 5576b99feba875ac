// Package ratelimit provides token-bucket limiters built on x/time/rate:
// a keyed limiter for inbound requests and a pacing helper for outbound
// catalog calls.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleTTL is how long an unused key survives before the sweeper drops it.
const idleTTL = 10 * time.Minute

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedRateLimiter keeps an independent bucket per key (client IP, API key).
type KeyedRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	limit    rate.Limit
	burst    int

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a keyed limiter allowing rps requests per second with the
// given burst.
func New(rps float64, burst int) *KeyedRateLimiter {
	if burst < 1 {
		burst = 1
	}
	krl := &KeyedRateLimiter{
		limiters: make(map[string]*entry),
		limit:    rate.Limit(rps),
		burst:    burst,
		done:     make(chan struct{}),
	}
	go krl.sweep(time.Minute)
	return krl
}

// PerInterval converts "n requests per interval" into a keyed limiter whose
// burst equals n.
func PerInterval(n int, interval time.Duration) *KeyedRateLimiter {
	return New(float64(n)/interval.Seconds(), n)
}

// Allow reports whether a request for key may proceed now.
func (krl *KeyedRateLimiter) Allow(key string) bool {
	return krl.get(key).Allow()
}

// Wait blocks until key has a token or ctx ends.
func (krl *KeyedRateLimiter) Wait(ctx context.Context, key string) error {
	return krl.get(key).Wait(ctx)
}

// Len returns the number of tracked keys.
func (krl *KeyedRateLimiter) Len() int {
	krl.mu.Lock()
	defer krl.mu.Unlock()
	return len(krl.limiters)
}

func (krl *KeyedRateLimiter) get(key string) *rate.Limiter {
	krl.mu.Lock()
	defer krl.mu.Unlock()

	e, ok := krl.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(krl.limit, krl.burst)}
		krl.limiters[key] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

// Stop ends the background sweeper.
func (krl *KeyedRateLimiter) Stop() {
	krl.stopOnce.Do(func() { close(krl.done) })
}

func (krl *KeyedRateLimiter) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-krl.done:
			return
		case now := <-ticker.C:
			krl.evictIdle(now)
		}
	}
}

func (krl *KeyedRateLimiter) evictIdle(now time.Time) {
	krl.mu.Lock()
	defer krl.mu.Unlock()
	for k, e := range krl.limiters {
		if now.Sub(e.lastSeen) > idleTTL {
			delete(krl.limiters, k)
		}
	}
}

// Pacer spaces out calls to a shared downstream. A zero rate disables it.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer allows perSecond calls per second with no burst beyond one.
// perSecond <= 0 yields a pacer that never waits.
func NewPacer(perSecond float64) *Pacer {
	if perSecond <= 0 {
		return &Pacer{}
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Limit(perSecond), 1)}
}

// Wait blocks until the next call may start or ctx ends.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || p.limiter == nil {
		return ctx.Err()
	}
	return p.limiter.Wait(ctx)
}
