package ratelimit

import (
	"math/rand"
	"sync"
	"time"
)

// Pacer enforces a fixed delay (plus a little jitter) between successive
// requests to one source. This is deliberate backpressure against abusive
// request rates toward third-party sites, not concurrency control.
type Pacer struct {
	mu          sync.Mutex
	baseDelay   time.Duration
	jitter      time.Duration
	lastRequest time.Time
}

// NewPacer creates a pacer with the given base delay and jitter range.
func NewPacer(baseDelay, jitter time.Duration) *Pacer {
	return &Pacer{
		baseDelay: baseDelay,
		jitter:    jitter,
	}
}

// Wait blocks until the pacing delay since the previous request has passed.
func (p *Pacer) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()

	required := p.baseDelay
	if p.jitter > 0 {
		required += time.Duration(rand.Int63n(int64(p.jitter)))
	}
	if !p.lastRequest.IsZero() {
		if elapsed := time.Since(p.lastRequest); elapsed < required {
			time.Sleep(required - elapsed)
		}
	}
	p.lastRequest = time.Now()
}

// HourlyBudget caps the number of detail-page fetches per rolling hour.
type HourlyBudget struct {
	mu      sync.Mutex
	perHour int
	window  []time.Time
}

// NewHourlyBudget creates an hourly budget; perHour <= 0 disables the cap.
func NewHourlyBudget(perHour int) *HourlyBudget {
	return &HourlyBudget{perHour: perHour}
}

// Allow records a fetch if the rolling-hour budget permits it.
func (b *HourlyBudget) Allow() bool {
	if b.perHour <= 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := time.Now().Add(-time.Hour)
	kept := b.window[:0]
	for _, t := range b.window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.window = kept

	if len(b.window) >= b.perHour {
		return false
	}
	b.window = append(b.window, time.Now())
	return true
}

// Used returns how much of the budget the current hour consumed.
func (b *HourlyBudget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := time.Now().Add(-time.Hour)
	n := 0
	for _, t := range b.window {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
