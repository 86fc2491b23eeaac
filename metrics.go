package sftpmirror

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "sftpmirror"

// Metrics holds the Prometheus collectors for backup runs.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	filesFetched    prometheus.Counter
	bytesFetched    prometheus.Counter
	filesSkipped    *prometheus.CounterVec
	directories     *prometheus.CounterVec
	attempts        prometheus.Counter
	reconnects      prometheus.Counter
	countMismatches prometheus.Counter
	lastRun         prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		filesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "files_fetched_total",
			Help:      "Files downloaded from the remote host.",
		}),
		bytesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bytes_fetched_total",
			Help:      "Bytes written to local files by downloads.",
		}),
		filesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "files_skipped_total",
			Help:      "Remote files not downloaded, by reason (present, permission).",
		}, []string{"reason"}),
		directories: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "directories_total",
			Help:      "Directories processed, by final status.",
		}, []string{"status"}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "directory_attempts_total",
			Help:      "Directory synchronization attempts, including retries.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconnects_total",
			Help:      "Session reconnects after connection errors.",
		}),
		countMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "count_mismatches_total",
			Help:      "Directories whose local file count differed from the remote one after sync.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last backup run finished.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.filesFetched,
			m.bytesFetched,
			m.filesSkipped,
			m.directories,
			m.attempts,
			m.reconnects,
			m.countMismatches,
			m.lastRun,
		)
	}

	return m
}

func (m *Metrics) fetched(bytes int64) {
	if m == nil {
		return
	}
	m.filesFetched.Inc()
	m.bytesFetched.Add(float64(bytes))
}

func (m *Metrics) skipped(reason string) {
	if m == nil {
		return
	}
	m.filesSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) directoryDone(status DirectoryStatus) {
	if m == nil {
		return
	}
	m.directories.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) attempted() {
	if m == nil {
		return
	}
	m.attempts.Inc()
}

func (m *Metrics) reconnected() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) mismatched() {
	if m == nil {
		return
	}
	m.countMismatches.Inc()
}

func (m *Metrics) finished(at time.Time) {
	if m == nil {
		return
	}
	m.lastRun.Set(float64(at.Unix()))
}
