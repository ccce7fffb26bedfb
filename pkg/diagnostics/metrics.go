// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diagnostics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric namespace and subsystem.
const (
	metricsNamespace = "diagreport"
	metricsSubsystem = "reports"
)

// Suppression causes, used as the "cause" label.
const (
	SuppressReentrant   = "reentrant"
	SuppressRateLimited = "rate_limited"
	SuppressOnce        = "once"
)

// Metrics records report pipeline activity.
//
// # Description
//
// Implementations must not block: the Reporter calls them while holding
// the reentrancy guard, sometimes from inside a crash.
type Metrics interface {
	// RecordReport records one delivered report.
	RecordReport(reason Reason, destination string, duration time.Duration, sizeBytes int)

	// RecordSuppressed records a dropped trigger.
	RecordSuppressed(reason Reason, cause string)

	// RecordError records a failure by category, e.g. "sink" or "mirror".
	RecordError(errorType string)

	// RecordPruned adds to the pruned report count.
	RecordPruned(count int)

	// RecordStoredCount sets the number of stored reports.
	RecordStoredCount(count int)
}

// -----------------------------------------------------------------------------
// NoOpMetrics
// -----------------------------------------------------------------------------

// NoOpMetrics counts in memory without exporting anything.
//
// # Thread Safety
//
// NoOpMetrics is safe for concurrent use.
type NoOpMetrics struct {
	reports    atomic.Int64
	suppressed atomic.Int64
	errors     atomic.Int64
	pruned     atomic.Int64
	stored     atomic.Int64
	lastSize   atomic.Int64
}

// NewNoOpMetrics creates an in-memory recorder.
func NewNoOpMetrics() *NoOpMetrics {
	return &NoOpMetrics{}
}

func (m *NoOpMetrics) RecordReport(reason Reason, destination string, duration time.Duration, sizeBytes int) {
	m.reports.Add(1)
	m.lastSize.Store(int64(sizeBytes))
}

func (m *NoOpMetrics) RecordSuppressed(reason Reason, cause string) { m.suppressed.Add(1) }
func (m *NoOpMetrics) RecordError(errorType string)                 { m.errors.Add(1) }
func (m *NoOpMetrics) RecordPruned(count int)                       { m.pruned.Add(int64(count)) }
func (m *NoOpMetrics) RecordStoredCount(count int)                  { m.stored.Store(int64(count)) }

// ReportsTotal returns the number of delivered reports.
func (m *NoOpMetrics) ReportsTotal() int64 { return m.reports.Load() }

// SuppressedTotal returns the number of dropped triggers.
func (m *NoOpMetrics) SuppressedTotal() int64 { return m.suppressed.Load() }

// ErrorsTotal returns the number of recorded errors.
func (m *NoOpMetrics) ErrorsTotal() int64 { return m.errors.Load() }

// PrunedTotal returns the number of pruned reports.
func (m *NoOpMetrics) PrunedTotal() int64 { return m.pruned.Load() }

// StoredCount returns the last stored count.
func (m *NoOpMetrics) StoredCount() int64 { return m.stored.Load() }

// LastSize returns the size of the last delivered report.
func (m *NoOpMetrics) LastSize() int64 { return m.lastSize.Load() }

// -----------------------------------------------------------------------------
// PrometheusMetrics
// -----------------------------------------------------------------------------

// PrometheusMetrics exports pipeline metrics.
//
// # Description
//
// Exported series:
//
//   - diagreport_reports_total{reason,destination}
//   - diagreport_reports_capture_duration_seconds{reason}
//   - diagreport_reports_size_bytes{reason}
//   - diagreport_reports_suppressed_total{reason,cause}
//   - diagreport_reports_errors_total{error_type}
//   - diagreport_reports_pruned_total
//   - diagreport_reports_stored_count
//
// # Thread Safety
//
// PrometheusMetrics is safe for concurrent use.
type PrometheusMetrics struct {
	reportsTotal    *prometheus.CounterVec
	captureDuration *prometheus.HistogramVec
	reportSize      *prometheus.HistogramVec
	suppressedTotal *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	prunedTotal     prometheus.Counter
	storedCount     prometheus.Gauge

	mu         sync.Mutex
	registered bool
}

// NewPrometheusMetrics creates the collectors. Call Register to expose
// them.
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		reportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "total",
				Help:      "Reports delivered, by trigger reason and destination",
			},
			[]string{"reason", "destination"},
		),
		captureDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "capture_duration_seconds",
				Help:      "Time from trigger to delivered report",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"reason"},
		),
		reportSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "size_bytes",
				Help:      "Size of rendered reports in bytes",
				Buckets:   []float64{4096, 16384, 65536, 262144, 1048576, 4194304},
			},
			[]string{"reason"},
		),
		suppressedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "suppressed_total",
				Help:      "Triggers dropped without a report, by reason and cause",
			},
			[]string{"reason", "cause"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "errors_total",
				Help:      "Report pipeline errors by type",
			},
			[]string{"error_type"},
		),
		prunedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "pruned_total",
				Help:      "Report files removed by retention",
			},
		),
		storedCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "stored_count",
				Help:      "Report files currently stored",
			},
		),
	}
}

func (m *PrometheusMetrics) RecordReport(reason Reason, destination string, duration time.Duration, sizeBytes int) {
	r := reason.String()
	m.reportsTotal.WithLabelValues(r, destination).Inc()
	m.captureDuration.WithLabelValues(r).Observe(duration.Seconds())
	m.reportSize.WithLabelValues(r).Observe(float64(sizeBytes))
}

func (m *PrometheusMetrics) RecordSuppressed(reason Reason, cause string) {
	m.suppressedTotal.WithLabelValues(reason.String(), cause).Inc()
}

func (m *PrometheusMetrics) RecordError(errorType string) {
	m.errorsTotal.WithLabelValues(errorType).Inc()
}

func (m *PrometheusMetrics) RecordPruned(count int) {
	m.prunedTotal.Add(float64(count))
}

func (m *PrometheusMetrics) RecordStoredCount(count int) {
	m.storedCount.Set(float64(count))
}

// Register adds the collectors to reg, or to the default registry when
// reg is nil. Calling it again is a no-op.
func (m *PrometheusMetrics) Register(reg prometheus.Registerer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		m.reportsTotal,
		m.captureDuration,
		m.reportSize,
		m.suppressedTotal,
		m.errorsTotal,
		m.prunedTotal,
		m.storedCount,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	m.registered = true
	return nil
}

var (
	_ Metrics = (*NoOpMetrics)(nil)
	_ Metrics = (*PrometheusMetrics)(nil)
)
