// Package persistence maps engine state onto the SQLite store and batches
// writes that are off the trading path.
package persistence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// FlushFunc writes one batch.
type FlushFunc[T any] func(ctx context.Context, items []T) error

// BatchWriter buffers items and flushes them in batches, either when
// maxSize items are pending or every interval. Failed batches are kept for
// the next flush up to a bound of maxPending items.
type BatchWriter[T any] struct {
	flush       FlushFunc[T]
	buffer      []T
	mu          sync.Mutex
	flushMu     sync.Mutex
	maxSize     int
	maxPending  int
	flushIntval time.Duration
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
	log         *zap.Logger

	totalWrites  atomic.Uint64
	totalBatches atomic.Uint64
	totalErrors  atomic.Uint64
	totalDropped atomic.Uint64
	lastMu       sync.Mutex
	lastSize     int
	lastFlush    time.Time
}

// BatchWriterMetrics provides statistics about batch operations.
type BatchWriterMetrics struct {
	TotalWrites   uint64    `json:"total_writes"`
	TotalBatches  uint64    `json:"total_batches"`
	TotalErrors   uint64    `json:"total_errors"`
	TotalDropped  uint64    `json:"total_dropped"`
	Pending       int       `json:"pending"`
	LastBatchSize int       `json:"last_batch_size"`
	LastFlushTime time.Time `json:"last_flush_time"`
}

// NewBatchWriter creates a batch writer and starts its flush loop.
// maxSize: max items before auto-flush
// interval: time-based flush interval
func NewBatchWriter[T any](flush FlushFunc[T], maxSize int, interval time.Duration, log *zap.Logger) *BatchWriter[T] {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	bw := &BatchWriter[T]{
		flush:       flush,
		buffer:      make([]T, 0, maxSize),
		maxSize:     maxSize,
		maxPending:  maxSize * 20,
		flushIntval: interval,
		done:        make(chan struct{}),
		log:         log,
	}

	bw.wg.Add(1)
	go bw.backgroundFlush()

	return bw
}

// Enqueue adds an item to the batch.
func (bw *BatchWriter[T]) Enqueue(item T) {
	bw.mu.Lock()
	bw.buffer = append(bw.buffer, item)
	shouldFlush := len(bw.buffer) >= bw.maxSize
	bw.mu.Unlock()

	if shouldFlush {
		go func() {
			if err := bw.Flush(context.Background()); err != nil {
				bw.log.Warn("batch writer size flush failed", zap.Error(err))
			}
		}()
	}
}

// Flush immediately writes all buffered items.
func (bw *BatchWriter[T]) Flush(ctx context.Context) error {
	bw.flushMu.Lock()
	defer bw.flushMu.Unlock()

	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return nil
	}
	items := bw.buffer
	bw.buffer = make([]T, 0, bw.maxSize)
	bw.mu.Unlock()

	bw.totalBatches.Add(1)
	bw.lastMu.Lock()
	bw.lastSize = len(items)
	bw.lastFlush = time.Now()
	bw.lastMu.Unlock()

	if err := bw.flush(ctx, items); err != nil {
		bw.totalErrors.Add(1)
		bw.requeue(items)
		return err
	}
	bw.totalWrites.Add(uint64(len(items)))
	bw.log.Debug("batch flushed", zap.Int("items", len(items)))
	return nil
}

// requeue puts a failed batch back in front of newer items, dropping the
// oldest when the bound is exceeded.
func (bw *BatchWriter[T]) requeue(items []T) {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	merged := append(items, bw.buffer...)
	if over := len(merged) - bw.maxPending; over > 0 {
		bw.totalDropped.Add(uint64(over))
		bw.log.Error("batch writer dropping items", zap.Int("dropped", over))
		merged = merged[over:]
	}
	bw.buffer = merged
}

// backgroundFlush periodically flushes the buffer.
func (bw *BatchWriter[T]) backgroundFlush() {
	defer bw.wg.Done()
	ticker := time.NewTicker(bw.flushIntval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := bw.Flush(context.Background()); err != nil {
				bw.log.Warn("batch writer background flush failed", zap.Error(err))
			}
		case <-bw.done:
			if err := bw.Flush(context.Background()); err != nil {
				bw.log.Error("batch writer final flush failed", zap.Error(err))
			}
			return
		}
	}
}

// Pending returns the number of pending items.
func (bw *BatchWriter[T]) Pending() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// GetMetrics returns the current metrics for the batch writer.
func (bw *BatchWriter[T]) GetMetrics() BatchWriterMetrics {
	bw.lastMu.Lock()
	size, at := bw.lastSize, bw.lastFlush
	bw.lastMu.Unlock()
	return BatchWriterMetrics{
		TotalWrites:   bw.totalWrites.Load(),
		TotalBatches:  bw.totalBatches.Load(),
		TotalErrors:   bw.totalErrors.Load(),
		TotalDropped:  bw.totalDropped.Load(),
		Pending:       bw.Pending(),
		LastBatchSize: size,
		LastFlushTime: at,
	}
}

// Close flushes what is left and stops the flush loop.
func (bw *BatchWriter[T]) Close() error {
	bw.closeOnce.Do(func() { close(bw.done) })
	bw.wg.Wait()
	return nil
}
