package monitor

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(message string) error
}

// Alert is one raised alert.
type Alert struct {
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
}

// LogSink writes alerts to the logger.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink { return &LogSink{log: log} }

func (s *LogSink) Send(message string) error {
	s.log.Error("ALERT", zap.String("message", message))
	return nil
}

// ring keeps the most recent alerts for the API.
type ring struct {
	mu    sync.Mutex
	items []Alert
	size  int
}

func (r *ring) add(a Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) >= r.size {
		r.items = r.items[1:]
	}
	r.items = append(r.items, a)
}

func (r *ring) list() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Alert, len(r.items))
	copy(out, r.items)
	return out
}
