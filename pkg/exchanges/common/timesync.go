package common

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ServerClock returns the venue time in unix milliseconds.
type ServerClock func(ctx context.Context) (int64, error)

// TimeSync keeps the offset between the local clock and the venue clock
// so signed requests carry a timestamp the venue accepts.
type TimeSync struct {
	clock    ServerClock
	every    time.Duration
	maxDrift time.Duration
	log      *zap.Logger

	mu     sync.RWMutex
	offset int64 // ms, server - local
	rtt    time.Duration
	synced time.Time
}

// NewTimeSync creates a clock synchronizer that resyncs every 30 minutes.
func NewTimeSync(clock ServerClock, log *zap.Logger) *TimeSync {
	return &TimeSync{
		clock:    clock,
		every:    30 * time.Minute,
		maxDrift: time.Second,
		log:      log,
	}
}

// Start syncs once and then keeps resyncing until ctx is done.
func (ts *TimeSync) Start(ctx context.Context) {
	if err := ts.Sync(ctx); err != nil {
		ts.log.Warn("initial time sync failed", zap.Error(err))
	}

	go func() {
		ticker := time.NewTicker(ts.every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ts.Sync(ctx); err != nil {
					ts.log.Warn("time sync failed", zap.Error(err))
				}
			}
		}
	}()
}

// Sync measures the offset once. The request is assumed to reach the
// venue halfway through the round trip.
func (ts *TimeSync) Sync(ctx context.Context) error {
	sent := time.Now()
	server, err := ts.clock(ctx)
	if err != nil {
		return err
	}
	rtt := time.Since(sent)
	midpoint := sent.Add(rtt / 2).UnixMilli()
	offset := server - midpoint

	ts.mu.Lock()
	ts.offset = offset
	ts.rtt = rtt
	ts.synced = time.Now()
	ts.mu.Unlock()

	if d := time.Duration(offset) * time.Millisecond; d > ts.maxDrift || d < -ts.maxDrift {
		ts.log.Warn("local clock drifts from venue", zap.Int64("offset_ms", offset), zap.Duration("rtt", rtt))
	} else {
		ts.log.Debug("time synced", zap.Int64("offset_ms", offset), zap.Duration("rtt", rtt))
	}
	return nil
}

// Synced reports whether at least one sync succeeded.
func (ts *TimeSync) Synced() bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return !ts.synced.IsZero()
}

// Now returns the venue time in unix milliseconds, or local time before
// the first sync.
func (ts *TimeSync) Now() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return time.Now().UnixMilli() + ts.offset
}

// Offset returns the last measured offset in milliseconds.
func (ts *TimeSync) Offset() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}

// RoundTrip returns the latency of the last sync request.
func (ts *TimeSync) RoundTrip() time.Duration {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.rtt
}
