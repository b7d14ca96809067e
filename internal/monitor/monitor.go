// Package monitor counts handler outcomes and raises alerts on invariant
// violations reported at the event bus boundary.
package monitor

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"hammer-trader/internal/decision"
	"hammer-trader/internal/events"
	"hammer-trader/pkg/exchanges/common"
)

// Monitor receives handler errors from the bus and emits alerts.
type Monitor struct {
	Metrics *SystemMetrics
	sinks   []AlertSink
	recent  *ring
	log     *zap.Logger
}

// New creates a monitor. With no sinks alerts go to the logger.
func New(metrics *SystemMetrics, log *zap.Logger, sinks ...AlertSink) *Monitor {
	if len(sinks) == 0 {
		sinks = []AlertSink{NewLogSink(log)}
	}
	return &Monitor{
		Metrics: metrics,
		sinks:   sinks,
		recent:  &ring{size: 100},
		log:     log,
	}
}

// Attach installs the monitor as the bus error and observe callbacks.
func (m *Monitor) Attach(bus *events.Bus) {
	bus.Observe(m.Metrics.ObserveHandler)
	bus.OnError(m.HandleError)
}

// HandleError logs a handler error and alerts on invariant violations. It
// has the shape of events.ErrorFunc.
func (m *Monitor) HandleError(kind events.Kind, handler string, err error) {
	m.Metrics.IncrementErrors()

	var inv *decision.InvariantError
	if errors.As(err, &inv) {
		m.Metrics.IncrementInvariants()
		m.Alert("invariant", fmt.Sprintf("%s/%s: %v", kind, handler, inv))
	}

	var exErr *common.ExchangeError
	if errors.As(err, &exErr) {
		m.log.Error("exchange call failed",
			zap.String("kind", string(kind)),
			zap.String("handler", handler),
			zap.Error(err))
		return
	}
	m.log.Error("event handler failed",
		zap.String("kind", string(kind)),
		zap.String("handler", handler),
		zap.Error(err))
}

// Alert delivers message to every sink.
func (m *Monitor) Alert(kind, message string) {
	m.recent.add(Alert{At: time.Now(), Kind: kind, Message: message})
	for _, s := range m.sinks {
		if err := s.Send(message); err != nil {
			m.log.Warn("alert sink failed", zap.Error(err))
		}
	}
}

// Recent returns the latest alerts, oldest first.
func (m *Monitor) Recent() []Alert {
	return m.recent.list()
}
