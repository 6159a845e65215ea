package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "jenkdash"

// Metrics contains all Prometheus metrics for jenkdash.
type Metrics struct {
	// Jenkins API.
	JenkinsRequestsTotal   *prometheus.CounterVec
	JenkinsErrorsTotal     *prometheus.CounterVec
	JenkinsRequestDuration *prometheus.HistogramVec
	JenkinsConnected       prometheus.Gauge

	// Jobs.
	JobsByStatus        *prometheus.GaugeVec
	JobStatusChanges    prometheus.Counter
	WatcherLastPollTime prometheus.Gauge

	// HTTP.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// WebSocket.
	WebSocketClients prometheus.Gauge

	// Build info.
	BuildInfo *prometheus.GaugeVec
}

// New creates a new Metrics instance registered on the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates a new Metrics instance registered on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		// Jenkins API.
		JenkinsRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jenkins_requests_total",
				Help:      "Total number of Jenkins API requests",
			},
			[]string{"operation"},
		),
		JenkinsErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jenkins_errors_total",
				Help:      "Total number of failed Jenkins API requests",
			},
			[]string{"operation", "kind"},
		),
		JenkinsRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "jenkins_request_duration_seconds",
				Help:      "Jenkins API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		JenkinsConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "jenkins_connected",
				Help:      "Whether a Jenkins session is active (1) or not (0)",
			},
		),

		// Jobs.
		JobsByStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "jobs",
				Help:      "Number of Jenkins jobs by status",
			},
			[]string{"status"},
		),
		JobStatusChanges: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_status_changes_total",
				Help:      "Total number of observed job status changes",
			},
		),
		WatcherLastPollTime: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "watcher_last_poll_timestamp",
				Help:      "Timestamp of the last successful job poll",
			},
		),

		// HTTP.
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		// WebSocket.
		WebSocketClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_clients",
				Help:      "Number of connected websocket clients",
			},
		),

		// Build info.
		BuildInfo: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "build_info",
				Help:      "Build information",
			},
			[]string{"version", "commit", "date"},
		),
	}

	return m
}

// SetBuildInfo sets the build info metric.
func (m *Metrics) SetBuildInfo(version, commit, date string) {
	m.BuildInfo.WithLabelValues(version, commit, date).Set(1)
}

// RecordJenkinsRequest increments the Jenkins request counter.
func (m *Metrics) RecordJenkinsRequest(op string) {
	m.JenkinsRequestsTotal.WithLabelValues(op).Inc()
}

// RecordJenkinsError increments the Jenkins error counter.
func (m *Metrics) RecordJenkinsError(op, kind string) {
	m.JenkinsErrorsTotal.WithLabelValues(op, kind).Inc()
}

// ObserveJenkinsRequestDuration records the latency of a Jenkins request.
func (m *Metrics) ObserveJenkinsRequestDuration(op string, seconds float64) {
	m.JenkinsRequestDuration.WithLabelValues(op).Observe(seconds)
}

// SetJenkinsConnected sets the connection gauge.
func (m *Metrics) SetJenkinsConnected(connected bool) {
	if connected {
		m.JenkinsConnected.Set(1)

		return
	}

	m.JenkinsConnected.Set(0)
}

// SetJobCounts replaces the jobs-by-status gauge with counts.
func (m *Metrics) SetJobCounts(counts map[string]int) {
	m.JobsByStatus.Reset()

	for status, n := range counts {
		m.JobsByStatus.WithLabelValues(status).Set(float64(n))
	}

	m.WatcherLastPollTime.SetToCurrentTime()
}

// RecordJobStatusChange increments the status change counter.
func (m *Metrics) RecordJobStatusChange() {
	m.JobStatusChanges.Inc()
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// SetWebSocketClients sets the websocket client gauge.
func (m *Metrics) SetWebSocketClients(n int) {
	m.WebSocketClients.Set(float64(n))
}
