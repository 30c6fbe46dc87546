// Package ratelimit provides sliding-window admission control for calls to
// the text generator.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kalambet/msgforge/internal/telemetry"
)

// Limiter admits callers so that at most N acquisitions happen in any
// trailing window.
type Limiter interface {
	// Acquire blocks until the caller is admitted or ctx is done.
	Acquire(ctx context.Context) error
	// Reset forgets all recorded acquisitions.
	Reset()
	// Waiting returns how many callers are currently suspended in Acquire.
	Waiting() int
}

// SlidingWindow is an in-process Limiter. Waiters are not served in order.
type SlidingWindow struct {
	maxRequests int
	window      time.Duration

	mu      sync.Mutex
	stamps  []time.Time
	waiting atomic.Int64
	now     func() time.Time
}

// NewSlidingWindow returns a limiter admitting maxRequests per window.
func NewSlidingWindow(maxRequests int, window time.Duration) *SlidingWindow {
	if maxRequests < 1 {
		maxRequests = 1
	}
	return &SlidingWindow{
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
	}
}

func (l *SlidingWindow) Acquire(ctx context.Context) error {
	suspended := false
	defer func() {
		if suspended {
			l.waiting.Add(-1)
			telemetry.LimiterWaiting.Dec()
		}
	}()

	for {
		wait, ok := l.tryAcquire()
		if ok {
			return nil
		}
		if !suspended {
			suspended = true
			l.waiting.Add(1)
			telemetry.LimiterWaiting.Inc()
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tryAcquire prunes expired stamps and records a new one if there is room.
// Otherwise it returns the remaining lifetime of the oldest stamp.
func (l *SlidingWindow) tryAcquire() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	i := 0
	for i < len(l.stamps) && now.Sub(l.stamps[i]) >= l.window {
		i++
	}
	l.stamps = l.stamps[i:]

	if len(l.stamps) < l.maxRequests {
		l.stamps = append(l.stamps, now)
		return 0, true
	}
	wait := l.stamps[0].Add(l.window).Sub(now)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

func (l *SlidingWindow) Reset() {
	l.mu.Lock()
	l.stamps = nil
	l.mu.Unlock()
}

func (l *SlidingWindow) Waiting() int {
	return int(l.waiting.Load())
}
