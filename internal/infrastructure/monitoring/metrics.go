package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Every method is safe on a nil
// receiver so components can run without instrumentation in tests.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsActive     prometheus.Gauge
	SessionsCreated    *prometheus.CounterVec
	SessionsTerminated *prometheus.CounterVec
	SessionsReaped     prometheus.Counter
	SpawnFailures      *prometheus.CounterVec
	ClientsAttached    prometheus.Gauge

	// Output fan-out metrics
	OutputBytes  prometheus.Counter
	DroppedBytes prometheus.Counter
	LaggedFrames prometheus.Counter

	// IPC metrics
	IPCConnections     prometheus.Gauge
	IPCRejected        *prometheus.CounterVec
	IPCRequests        *prometheus.CounterVec
	IPCRequestDuration *prometheus.HistogramVec
	IPCOversizedFrames prometheus.Counter

	// HTTP gateway metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	WSConnections       prometheus.Gauge
	WSMessages          *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time
}

// NewMetrics creates a metrics collector on its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sessiond_sessions_active",
			Help: "Number of sessions that are not stopped",
		}),
		SessionsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sessiond_sessions_created_total",
			Help: "Total number of sessions created",
		}, []string{"kind"}),
		SessionsTerminated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sessiond_sessions_terminated_total",
			Help: "Total number of sessions stopped",
		}, []string{"reason"}),
		SessionsReaped: factory.NewCounter(prometheus.CounterOpts{
			Name: "sessiond_sessions_reaped_total",
			Help: "Total number of stopped sessions removed by the reaper",
		}),
		SpawnFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sessiond_spawn_failures_total",
			Help: "Total number of endpoint start failures",
		}, []string{"kind"}),
		ClientsAttached: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sessiond_clients_attached",
			Help: "Number of client attachments across all sessions",
		}),

		OutputBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "sessiond_output_bytes_total",
			Help: "Bytes read from session endpoints and published",
		}),
		DroppedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "sessiond_output_dropped_bytes_total",
			Help: "Bytes discarded from slow subscriber queues",
		}),
		LaggedFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "sessiond_output_lagged_frames_total",
			Help: "Frames delivered with a non-zero missed count",
		}),

		IPCConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sessiond_ipc_connections",
			Help: "Open IPC connections",
		}),
		IPCRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sessiond_ipc_rejected_total",
			Help: "IPC connections refused at admission",
		}, []string{"reason"}),
		IPCRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sessiond_ipc_requests_total",
			Help: "IPC requests by method and response code",
		}, []string{"method", "code"}),
		IPCRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sessiond_ipc_request_duration_seconds",
			Help:    "IPC request handling time",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"method"}),
		IPCOversizedFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "sessiond_ipc_oversized_frames_total",
			Help: "Requests rejected for exceeding the message size limit",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sessiond_http_requests_total",
			Help: "Gateway HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sessiond_http_request_duration_seconds",
			Help:    "Gateway HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "path"}),
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sessiond_ws_connections",
			Help: "Open websocket streams",
		}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sessiond_ws_messages_total",
			Help: "Websocket frames by direction",
		}, []string{"direction"}),
	}

	m.Uptime = factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "sessiond_uptime_seconds",
		Help: "Daemon uptime in seconds",
	}, func() float64 { return time.Since(m.startTime).Seconds() })

	return m
}

// Registry exposes the underlying registry for custom collectors and tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus exposition handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Session lifecycle

func (m *Metrics) SessionCreated(kind string) {
	if m == nil {
		return
	}
	m.SessionsCreated.WithLabelValues(kind).Inc()
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionTerminated(reason string) {
	if m == nil {
		return
	}
	m.SessionsTerminated.WithLabelValues(reason).Inc()
	m.SessionsActive.Dec()
}

func (m *Metrics) SessionsRemoved(count int) {
	if m == nil || count == 0 {
		return
	}
	m.SessionsReaped.Add(float64(count))
}

func (m *Metrics) SpawnFailed(kind string) {
	if m == nil {
		return
	}
	m.SpawnFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) ClientAttached() {
	if m == nil {
		return
	}
	m.ClientsAttached.Inc()
}

func (m *Metrics) ClientsDetached(count int) {
	if m == nil || count == 0 {
		return
	}
	m.ClientsAttached.Sub(float64(count))
}

// Output fan-out

func (m *Metrics) OutputPublished(bytes int) {
	if m == nil {
		return
	}
	m.OutputBytes.Add(float64(bytes))
}

func (m *Metrics) OutputDropped(bytes int) {
	if m == nil {
		return
	}
	m.DroppedBytes.Add(float64(bytes))
}

func (m *Metrics) FrameLagged() {
	if m == nil {
		return
	}
	m.LaggedFrames.Inc()
}

// IPC

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.IPCConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.IPCConnections.Dec()
}

func (m *Metrics) ConnectionRejected(reason string) {
	if m == nil {
		return
	}
	m.IPCRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordRequest(method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	m.IPCRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.IPCRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func (m *Metrics) OversizedFrame() {
	if m == nil {
		return
	}
	m.IPCOversizedFrames.Inc()
}

// HTTP gateway

func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (m *Metrics) WSOpened() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

func (m *Metrics) WSClosed() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

func (m *Metrics) RecordWSMessage(direction string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction).Inc()
}
