// Package events dispatches typed engine events to registered handlers on
// a fixed pool of workers.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrStarted is returned when subscribing after the bus started.
var ErrStarted = errors.New("event bus already started")

// Handler reacts to one event.
type Handler func(ctx context.Context, e Event) error

// ErrorFunc is called with every error a handler returns.
type ErrorFunc func(kind Kind, handler string, err error)

// ObserveFunc is called after every handler invocation.
type ObserveFunc func(kind Kind, handler string, took time.Duration, err error)

type route struct {
	name    string
	handler Handler
}

type task struct {
	route route
	event Event
}

// Bus fans each published event out into one task per handler registered
// for its kind. The dispatch table is fixed once Start is called.
type Bus struct {
	mu    sync.RWMutex
	table map[Kind][]route

	tasks   chan task
	workers int
	log     *zap.Logger

	onError ErrorFunc
	observe ObserveFunc

	started atomic.Bool
	dropped atomic.Int64
	wg      sync.WaitGroup
}

// NewBus creates an event bus with workers goroutines and a task queue of
// queueSize.
func NewBus(workers, queueSize int, log *zap.Logger) *Bus {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Bus{
		table:   make(map[Kind][]route),
		tasks:   make(chan task, queueSize),
		workers: workers,
		log:     log,
	}
}

// Subscribe adds handler to the dispatch table for kind.
func (b *Bus) Subscribe(kind Kind, name string, h Handler) error {
	if b.started.Load() {
		return fmt.Errorf("subscribe %s/%s: %w", kind, name, ErrStarted)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.table[kind] = append(b.table[kind], route{name: name, handler: h})
	return nil
}

// OnError sets the callback for handler errors.
func (b *Bus) OnError(fn ErrorFunc) { b.onError = fn }

// Observe sets the callback invoked after each handler run.
func (b *Bus) Observe(fn ObserveFunc) { b.observe = fn }

// Handlers returns the handler names registered for kind.
func (b *Bus) Handlers(kind Kind) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.table[kind]))
	for _, r := range b.table[kind] {
		names = append(names, r.name)
	}
	return names
}

// Publish enqueues e for every handler of its kind. It never blocks: when
// the queue is full the task is dropped and Publish returns false.
func (b *Bus) Publish(e Event) bool {
	b.mu.RLock()
	routes := b.table[e.Kind()]
	b.mu.RUnlock()

	ok := true
	for _, r := range routes {
		select {
		case b.tasks <- task{route: r, event: e}:
		default:
			ok = false
			b.dropped.Add(1)
			b.log.Warn("event dropped, queue full",
				zap.String("kind", string(e.Kind())),
				zap.String("handler", r.name))
		}
	}
	return ok
}

// Dropped returns the number of tasks dropped because the queue was full.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// Pending returns the number of queued tasks.
func (b *Bus) Pending() int { return len(b.tasks) }

// Start launches the workers. They exit when ctx is cancelled.
func (b *Bus) Start(ctx context.Context) {
	if !b.started.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go b.work(ctx)
	}
	b.log.Info("event bus started", zap.Int("workers", b.workers))
}

// Wait blocks until every worker has exited.
func (b *Bus) Wait() { b.wg.Wait() }

func (b *Bus) work(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-b.tasks:
			b.run(ctx, t)
		}
	}
}

func (b *Bus) run(ctx context.Context, t task) {
	kind := t.event.Kind()
	start := time.Now()
	err := b.invoke(ctx, t)
	if b.observe != nil {
		b.observe(kind, t.route.name, time.Since(start), err)
	}
	if err == nil {
		return
	}
	if b.onError != nil {
		b.onError(kind, t.route.name, err)
		return
	}
	b.log.Error("event handler failed",
		zap.String("kind", string(kind)),
		zap.String("handler", t.route.name),
		zap.Error(err))
}

func (b *Bus) invoke(ctx context.Context, t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", t.route.name, r)
		}
	}()
	return t.route.handler(ctx, t.event)
}
