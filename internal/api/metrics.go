package api

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects in-memory server metrics using atomic counters.
type Metrics struct {
	startTime        time.Time
	requests         atomic.Int64
	serverErrors     atomic.Int64
	clientErrors     atomic.Int64
	reads            atomic.Int64
	notModifiedReads atomic.Int64
	writes           atomic.Int64
	writeConflicts   atomic.Int64
}

// MetricsSnapshot is a point-in-time view of server metrics.
type MetricsSnapshot struct {
	UptimeSeconds    float64 `json:"uptime_seconds"`
	Requests         int64   `json:"requests"`
	ServerErrors     int64   `json:"server_errors"`
	ClientErrors     int64   `json:"client_errors"`
	Reads            int64   `json:"reads"`
	NotModifiedReads int64   `json:"not_modified_reads"`
	Writes           int64   `json:"writes"`
	WriteConflicts   int64   `json:"write_conflicts"`
}

// NewMetrics creates a new Metrics instance with the current time as start.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordRequest increments the total request counter.
func (m *Metrics) RecordRequest() { m.requests.Add(1) }

// RecordError increments the server error (5xx) counter.
func (m *Metrics) RecordError() { m.serverErrors.Add(1) }

// RecordClientError increments the client error (4xx) counter.
func (m *Metrics) RecordClientError() { m.clientErrors.Add(1) }

// RecordRead counts a resource read; notModified marks a 304.
func (m *Metrics) RecordRead(notModified bool) {
	m.reads.Add(1)
	if notModified {
		m.notModifiedReads.Add(1)
	}
}

// RecordWrite counts an accepted resource write.
func (m *Metrics) RecordWrite() { m.writes.Add(1) }

// RecordWriteConflict counts a write rejected for a stale ref.
func (m *Metrics) RecordWriteConflict() { m.writeConflicts.Add(1) }

// Snapshot returns a point-in-time copy of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		UptimeSeconds:    time.Since(m.startTime).Seconds(),
		Requests:         m.requests.Load(),
		ServerErrors:     m.serverErrors.Load(),
		ClientErrors:     m.clientErrors.Load(),
		Reads:            m.reads.Load(),
		NotModifiedReads: m.notModifiedReads.Load(),
		Writes:           m.writes.Load(),
		WriteConflicts:   m.writeConflicts.Load(),
	}
}

// Register exposes the counters on a Prometheus registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	counter := func(name, help string, v *atomic.Int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "settingsync",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v.Load()) })
	}
	collectors := []prometheus.Collector{
		counter("requests_total", "HTTP requests served.", &m.requests),
		counter("server_errors_total", "Responses with a 5xx status.", &m.serverErrors),
		counter("client_errors_total", "Responses with a 4xx status.", &m.clientErrors),
		counter("resource_reads_total", "Resource reads.", &m.reads),
		counter("resource_reads_not_modified_total", "Resource reads answered with 304.", &m.notModifiedReads),
		counter("resource_writes_total", "Accepted resource writes.", &m.writes),
		counter("resource_write_conflicts_total", "Resource writes rejected for a stale ref.", &m.writeConflicts),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "settingsync",
			Name:      "uptime_seconds",
			Help:      "Seconds since the server started.",
		}, func() float64 { return time.Since(m.startTime).Seconds() }),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
