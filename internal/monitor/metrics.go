package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"hammer-trader/internal/decision"
	"hammer-trader/internal/events"
)

// SystemMetrics tracks handler outcomes and latencies.
type SystemMetrics struct {
	mu sync.RWMutex

	// Latency histograms
	OrderLatency   *LatencyHistogram
	HandlerLatency *LatencyHistogram

	outcomes map[string]uint64 // engine|type|outcome
	handlers map[events.Kind]*handlerCounters
	gauges   map[string]int64

	errorsCount     atomic.Uint64
	invariantsCount atomic.Uint64

	startedAt time.Time
}

type handlerCounters struct {
	runs    uint64
	errors  uint64
	latency *LatencyHistogram
}

// LatencyHistogram tracks latency samples with sliding window.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		OrderLatency:   NewLatencyHistogram(1000),
		HandlerLatency: NewLatencyHistogram(1000),
		outcomes:       make(map[string]uint64),
		handlers:       make(map[events.Kind]*handlerCounters),
		gauges:         make(map[string]int64),
		startedAt:      time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99. Results are cached until the
// next Record.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// RecordOutcome counts one decision result. It implements decision.Recorder.
func (m *SystemMetrics) RecordOutcome(engine, strategyType string, o decision.Outcome) {
	key := engine + "|" + strategyType + "|" + string(o)
	m.mu.Lock()
	m.outcomes[key]++
	m.mu.Unlock()
}

// Outcome returns the count recorded for one (engine, type, outcome).
func (m *SystemMetrics) Outcome(engine, strategyType string, o decision.Outcome) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.outcomes[engine+"|"+strategyType+"|"+string(o)]
}

// ObserveHandler records one handler run. It has the shape of
// events.ObserveFunc.
func (m *SystemMetrics) ObserveHandler(kind events.Kind, _ string, took time.Duration, err error) {
	m.HandlerLatency.RecordDuration(took)

	m.mu.Lock()
	hc, ok := m.handlers[kind]
	if !ok {
		hc = &handlerCounters{latency: NewLatencyHistogram(500)}
		m.handlers[kind] = hc
	}
	hc.runs++
	if err != nil {
		hc.errors++
	}
	m.mu.Unlock()

	hc.latency.RecordDuration(took)
}

// IncrementErrors increments error counter.
func (m *SystemMetrics) IncrementErrors() {
	m.errorsCount.Add(1)
}

// IncrementInvariants counts an invariant violation.
func (m *SystemMetrics) IncrementInvariants() {
	m.invariantsCount.Add(1)
}

// SetGauge stores a point-in-time value such as queue depth.
func (m *SystemMetrics) SetGauge(name string, v int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[name] = v
}

// HandlerStats summarizes one event kind.
type HandlerStats struct {
	Runs    uint64       `json:"runs"`
	Errors  uint64       `json:"errors"`
	Latency LatencyStats `json:"latency"`
}

// MetricsSnapshot is a point-in-time view of SystemMetrics.
type MetricsSnapshot struct {
	OrderLatency    LatencyStats                 `json:"order_latency"`
	HandlerLatency  LatencyStats                 `json:"handler_latency"`
	Handlers        map[string]HandlerStats      `json:"handlers"`
	Outcomes        map[string]map[string]uint64 `json:"outcomes"`
	Gauges          map[string]int64             `json:"gauges"`
	ErrorsCount     uint64                       `json:"errors_count"`
	InvariantsCount uint64                       `json:"invariants_count"`
	GoroutineCount  int                          `json:"goroutine_count"`
	HeapAlloc       uint64                       `json:"heap_alloc_bytes"`
	Uptime          string                       `json:"uptime"`
	Timestamp       time.Time                    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot. Outcomes are
// grouped by "engine|type".
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	snap := MetricsSnapshot{
		OrderLatency:    m.OrderLatency.Stats(),
		HandlerLatency:  m.HandlerLatency.Stats(),
		Handlers:        make(map[string]HandlerStats),
		Outcomes:        make(map[string]map[string]uint64),
		Gauges:          make(map[string]int64),
		ErrorsCount:     m.errorsCount.Load(),
		InvariantsCount: m.invariantsCount.Load(),
		GoroutineCount:  runtime.NumGoroutine(),
		HeapAlloc:       memStats.HeapAlloc,
		Uptime:          time.Since(m.startedAt).Truncate(time.Second).String(),
		Timestamp:       time.Now(),
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for kind, hc := range m.handlers {
		snap.Handlers[string(kind)] = HandlerStats{Runs: hc.runs, Errors: hc.errors, Latency: hc.latency.Stats()}
	}
	for key, n := range m.outcomes {
		group, outcome := splitOutcomeKey(key)
		if snap.Outcomes[group] == nil {
			snap.Outcomes[group] = make(map[string]uint64)
		}
		snap.Outcomes[group][outcome] = n
	}
	for k, v := range m.gauges {
		snap.Gauges[k] = v
	}
	return snap
}

func splitOutcomeKey(key string) (group, outcome string) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '|' {
			return key[:i], key[i+1:]
		}
	}
	return "", key
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
