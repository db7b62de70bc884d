package duoflow

import "sync/atomic"

// MetricID identifies one flow counter.
type MetricID uint16

const (
	// MetricPrimaryAuthSuccess counts successful primary credential checks.
	MetricPrimaryAuthSuccess MetricID = iota
	// MetricPrimaryAuthFailure counts failed primary credential checks.
	MetricPrimaryAuthFailure
	// MetricRoleExempt counts logins completed without a second factor
	// because the role does not require one.
	MetricRoleExempt
	// MetricSecondFactorStarted counts redirects to the hosted prompt.
	MetricSecondFactorStarted
	// MetricSecondFactorSuccess counts completed code exchanges.
	MetricSecondFactorSuccess
	// MetricCallbackRejected counts refused provider callbacks: provider
	// errors, missing or unknown state, failed exchanges.
	MetricCallbackRejected
	// MetricFailOpen counts logins allowed without a second factor under
	// fail-open policy.
	MetricFailOpen
	// MetricFailClosed counts logins denied under fail-closed policy.
	MetricFailClosed
	// MetricStateCleared counts auth state cleanups.
	MetricStateCleared
	metricIDCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds the engine's in-process counters. All methods are safe for
// concurrent use.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// NewMetrics builds the counter set; a disabled instance is inert.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled: cfg.Enabled,
	}
}

// Enabled reports whether counters are being recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc adds one to the counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Value reads a single counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter into a map.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}

	s := MetricsSnapshot{
		Counters: make(map[MetricID]uint64, int(metricIDCount)),
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}
