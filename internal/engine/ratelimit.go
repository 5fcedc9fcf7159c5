package engine

import (
	"context"
	"sync/atomic"
	"time"
)

// Throttle keeps the session-average transmission rate at or below a
// configurable ceiling. Rather than a token bucket it compares the time the
// bits sent so far should have taken against the wall clock and sleeps off
// the difference, which smooths bursts over the whole session.
type Throttle struct {
	ceiling atomic.Int64 // bits per second, <= 0 disables pacing
	start   time.Time
	bits    int64
}

// NewThrottle returns a throttle with the given rate ceiling in bits per
// second. A ceiling of zero or less disables pacing.
func NewThrottle(bitsPerSec int64) *Throttle {
	t := &Throttle{start: time.Now()}
	t.ceiling.Store(bitsPerSec)
	return t
}

// SetCeiling replaces the rate ceiling. Safe to call while another
// goroutine is pacing.
func (t *Throttle) SetCeiling(bitsPerSec int64) {
	t.ceiling.Store(bitsPerSec)
}

// Ceiling returns the current rate ceiling in bits per second.
func (t *Throttle) Ceiling() int64 { return t.ceiling.Load() }

// Pace blocks until transmitting size more bytes keeps the session average
// under the ceiling, then accounts for them. Returns early with the context
// error when cancelled.
func (t *Throttle) Pace(ctx context.Context, size int) error {
	bits := int64(size) * 8
	ceiling := t.ceiling.Load()
	if ceiling <= 0 {
		t.bits += bits
		return nil
	}

	projected := time.Duration(float64(t.bits+bits) / float64(ceiling) * float64(time.Second))
	if wait := projected - time.Since(t.start); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	t.bits += bits
	return nil
}
