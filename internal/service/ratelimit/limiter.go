package ratelimit

import (
	"math"
	"sync"
	"time"
)

type bucket struct {
	tokens float64
	last   time.Time
}

// defaultIdle bounds bucket lifetime when the rate never refills.
const defaultIdle = 10 * time.Minute

// Limiter is a per-key token bucket. Every key starts full with burst tokens
// and refills at rate tokens per second. Buckets untouched for the idle TTL
// are dropped on a later Allow.
type Limiter struct {
	mu        sync.Mutex
	m         map[string]*bucket
	burst     float64
	rate      float64
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// New returns a limiter whose idle TTL is the time an empty bucket takes to
// refill, so a dropped key comes back in the state it would have reached.
func New(burst, ratePerSec float64) *Limiter {
	idle := defaultIdle
	if ratePerSec > 0 {
		idle = time.Duration(burst / ratePerSec * float64(time.Second))
	}
	if idle < time.Second {
		idle = time.Second
	}
	return &Limiter{m: make(map[string]*bucket), burst: burst, rate: ratePerSec, idle: idle, now: time.Now}
}

// Len reports how many keys hold a bucket.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

// sweep runs at most once per idle TTL. Callers hold mu.
func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.idle {
		return
	}
	l.lastSweep = now
	for k, b := range l.m {
		if now.Sub(b.last) >= l.idle {
			delete(l.m, k)
		}
	}
}

// Allow consumes one token for key. When none is left it reports how long
// until the next token is available.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(now)

	b, ok := l.m[key]
	if !ok {
		b = &bucket{tokens: l.burst, last: now}
		l.m[key] = b
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = math.Min(l.burst, b.tokens+elapsed*l.rate)
		b.last = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if l.rate <= 0 {
		return false, time.Duration(math.MaxInt64)
	}
	wait := time.Duration((1 - b.tokens) / l.rate * float64(time.Second))
	return false, wait
}
