package servercore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects the Server Core's Prometheus vectors: request
// counts by method/status and a latency histogram. The teacher's
// go.mod declares prometheus/client_golang without ever registering a
// collector; this gives it an exercised home on the one component that
// aggregates process-wide stats.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	rtpSessionsGauge prometheus.Gauge
	bandwidthGauge  prometheus.Gauge
}

// NewMetrics registers and returns the core's collectors against the
// default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rtspcore_requests_total",
			Help: "RTSP requests processed, by method and status code.",
		}, []string{"method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rtspcore_request_duration_seconds",
			Help:    "RTSP request processing latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		rtpSessionsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtspcore_rtp_sessions",
			Help: "Currently live RTP Sessions.",
		}),
		bandwidthGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtspcore_bandwidth_bps",
			Help: "Aggregate reserved outgoing bandwidth in bits per second.",
		}),
	}
	prometheus.MustRegister(m.requestsTotal, m.requestDuration, m.rtpSessionsGauge, m.bandwidthGauge)
	return m
}

// ObserveRequest records one completed request/response exchange.
func (m *Metrics) ObserveRequest(method string, status int, d time.Duration) {
	m.requestsTotal.WithLabelValues(method, statusLabel(status)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(d.Seconds())
}

// SetRTPSessions and SetBandwidth publish the latest gauge snapshots;
// the stats task calls these on its tick alongside writing the status
// file.
func (m *Metrics) SetRTPSessions(n int)          { m.rtpSessionsGauge.Set(float64(n)) }
func (m *Metrics) SetBandwidth(bps uint64)       { m.bandwidthGauge.Set(float64(bps)) }

func statusLabel(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "0xx"
	}
}
