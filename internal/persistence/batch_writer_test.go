package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type sink struct {
	mu     sync.Mutex
	items  []int
	fail   bool
	called int
}

func (s *sink) flush(_ context.Context, items []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.called++
	if s.fail {
		return errors.New("disk full")
	}
	s.items = append(s.items, items...)
	return nil
}

func (s *sink) snapshot() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.items...)
}

func TestBatchWriterFlush(t *testing.T) {
	s := &sink{}
	bw := NewBatchWriter(s.flush, 100, time.Hour, zap.NewNop())
	defer bw.Close()

	for i := 0; i < 3; i++ {
		bw.Enqueue(i)
	}
	if got := bw.Pending(); got != 3 {
		t.Fatalf("pending = %d, want 3", got)
	}
	if err := bw.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := s.snapshot(); len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Fatalf("flushed %v", got)
	}
	m := bw.GetMetrics()
	if m.TotalWrites != 3 || m.TotalBatches != 1 || m.Pending != 0 || m.LastBatchSize != 3 {
		t.Fatalf("metrics = %+v", m)
	}
}

func TestBatchWriterRequeuesFailedBatch(t *testing.T) {
	s := &sink{fail: true}
	bw := NewBatchWriter(s.flush, 100, time.Hour, zap.NewNop())
	defer bw.Close()

	bw.Enqueue(1)
	bw.Enqueue(2)
	if err := bw.Flush(context.Background()); err == nil {
		t.Fatal("expected flush error")
	}
	if got := bw.Pending(); got != 2 {
		t.Fatalf("pending after failure = %d, want 2", got)
	}
	bw.Enqueue(3)

	s.mu.Lock()
	s.fail = false
	s.mu.Unlock()
	if err := bw.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	got := s.snapshot()
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("order after retry = %v", got)
	}
	if m := bw.GetMetrics(); m.TotalErrors != 1 {
		t.Fatalf("errors = %d, want 1", m.TotalErrors)
	}
}

func TestBatchWriterDropsOldestBeyondBound(t *testing.T) {
	s := &sink{fail: true}
	bw := NewBatchWriter(s.flush, 1000, time.Hour, zap.NewNop())
	defer bw.Close()
	bw.maxPending = 3

	for i := 0; i < 5; i++ {
		bw.Enqueue(i)
	}
	_ = bw.Flush(context.Background())
	if got := bw.Pending(); got != 3 {
		t.Fatalf("pending = %d, want 3", got)
	}
	if m := bw.GetMetrics(); m.TotalDropped != 2 {
		t.Fatalf("dropped = %d, want 2", m.TotalDropped)
	}
}

func TestBatchWriterCloseFlushes(t *testing.T) {
	s := &sink{}
	bw := NewBatchWriter(s.flush, 100, time.Hour, zap.NewNop())
	bw.Enqueue(7)
	if err := bw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := s.snapshot(); len(got) != 1 || got[0] != 7 {
		t.Fatalf("flushed on close = %v", got)
	}
	// Second close is a no-op.
	if err := bw.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestBatchWriterSizeTrigger(t *testing.T) {
	s := &sink{}
	bw := NewBatchWriter(s.flush, 2, time.Hour, zap.NewNop())
	defer bw.Close()

	bw.Enqueue(1)
	bw.Enqueue(2)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(s.snapshot()) == 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("size-triggered flush did not happen, got %v", s.snapshot())
}
