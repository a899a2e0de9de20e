package app

import (
	"sync/atomic"
	"time"
)

// Metrics tracks definition loads and the events they produce.
type Metrics struct {
	loads        atomic.Uint64
	loadFailures atomic.Uint64
	loadTotalNs  atomic.Int64
	lastLoadNs   atomic.Int64

	diagnostics atomic.Uint64
	changes     atomic.Uint64

	startTime time.Time
}

// NewMetrics creates a new metrics tracker.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// RecordLoad records a load attempt and its duration.
func (m *Metrics) RecordLoad(duration time.Duration, err error) {
	if err != nil {
		m.loadFailures.Add(1)
		return
	}
	ns := duration.Nanoseconds()
	m.loads.Add(1)
	m.loadTotalNs.Add(ns)
	m.lastLoadNs.Store(ns)
}

// RecordDiagnostic records a load diagnostic.
func (m *Metrics) RecordDiagnostic() {
	m.diagnostics.Add(1)
}

// RecordChange records a value or unit change.
func (m *Metrics) RecordChange() {
	m.changes.Add(1)
}

// Snapshot returns a snapshot of current metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	loads := m.loads.Load()

	var avgLoadNs int64
	if loads > 0 {
		avgLoadNs = m.loadTotalNs.Load() / int64(loads)
	}

	return MetricsSnapshot{
		Uptime:       time.Since(m.startTime),
		Loads:        loads,
		LoadFailures: m.loadFailures.Load(),
		AvgLoadNs:    avgLoadNs,
		LastLoadNs:   m.lastLoadNs.Load(),
		Diagnostics:  m.diagnostics.Load(),
		Changes:      m.changes.Load(),
	}
}

// MetricsSnapshot is a point-in-time view of metrics.
type MetricsSnapshot struct {
	Uptime       time.Duration
	Loads        uint64
	LoadFailures uint64
	AvgLoadNs    int64
	LastLoadNs   int64
	Diagnostics  uint64
	Changes      uint64
}
