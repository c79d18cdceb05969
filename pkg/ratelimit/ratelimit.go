package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Pacer enforces a client-side pause between consecutive upstream calls.
// Each pause is drawn uniformly from [min, max]; when min == max the pause is
// fixed. A nil *Pacer never blocks. It is safe for concurrent use.
type Pacer struct {
	min time.Duration
	max time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// Fixed returns a Pacer that always pauses for d.
func Fixed(d time.Duration) *Pacer {
	return Between(d, d)
}

// Between returns a Pacer that pauses for a random duration in [min, max].
// Negative bounds are clamped to zero and swapped bounds are reordered.
func Between(min, max time.Duration) *Pacer {
	if min < 0 {
		min = 0
	}
	if max < 0 {
		max = 0
	}
	if max < min {
		min, max = max, min
	}
	return &Pacer{
		min: min,
		max: max,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Bounds reports the configured pause range.
func (p *Pacer) Bounds() (time.Duration, time.Duration) {
	if p == nil {
		return 0, 0
	}
	return p.min, p.max
}

// Next draws the next pause duration without sleeping.
func (p *Pacer) Next() time.Duration {
	if p == nil || p.max == 0 {
		return 0
	}
	if p.min == p.max {
		return p.min
	}

	p.mu.Lock()
	span := int64(p.max - p.min)
	d := p.min + time.Duration(p.rng.Int63n(span+1))
	p.mu.Unlock()
	return d
}

// Wait blocks for the next pause duration, or until the context is canceled.
// The pause is unconditional: it does not depend on response latency or size.
func (p *Pacer) Wait(ctx context.Context) error {
	d := p.Next()
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
