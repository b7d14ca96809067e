package common

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// WeightLimiter paces REST calls and backs off when the venue reports the
// per-minute request weight close to its ceiling.
type WeightLimiter struct {
	pacer  *rate.Limiter
	limit  int
	window time.Duration
	log    *zap.Logger

	mu       sync.Mutex
	used     int
	observed time.Time
}

// Saturation above which Wait holds requests until the window rolls.
const saturation = 0.9

// NewWeightLimiter allows limit weight per window and at most perSecond
// requests with the given burst.
func NewWeightLimiter(limit int, window time.Duration, perSecond float64, burst int, log *zap.Logger) *WeightLimiter {
	return &WeightLimiter{
		pacer:  rate.NewLimiter(rate.Limit(perSecond), burst),
		limit:  limit,
		window: window,
		log:    log,
	}
}

// Observe records the X-MBX-USED-WEIGHT-1M header of a response.
func (l *WeightLimiter) Observe(header string) {
	used, err := strconv.Atoi(header)
	if err != nil {
		return
	}
	l.mu.Lock()
	l.used = used
	l.observed = time.Now()
	l.mu.Unlock()

	switch pct := float64(used) / float64(l.limit); {
	case pct >= 0.95:
		l.log.Error("request weight near ban threshold", zap.Int("used", used), zap.Int("limit", l.limit))
	case pct >= 0.8:
		l.log.Warn("request weight high", zap.Int("used", used), zap.Int("limit", l.limit))
	}
}

// Usage returns the weight used in the current window.
func (l *WeightLimiter) Usage() (used, limit int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.usedLocked(), l.limit
}

func (l *WeightLimiter) usedLocked() int {
	if time.Since(l.observed) >= l.window {
		return 0
	}
	return l.used
}

// Saturated reports whether the next request should wait for the window.
func (l *WeightLimiter) Saturated() bool {
	used, limit := l.Usage()
	return float64(used) >= saturation*float64(limit)
}

// Wait blocks until a request may be sent.
func (l *WeightLimiter) Wait(ctx context.Context) error {
	if l.Saturated() {
		l.mu.Lock()
		remaining := l.window - time.Since(l.observed)
		l.mu.Unlock()
		if remaining > 0 {
			t := time.NewTimer(remaining)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
		}
	}
	return l.pacer.Wait(ctx)
}
