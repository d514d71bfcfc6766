package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus records store metrics as Prometheus collectors:
//
//	<ns>_op_duration_seconds{op}  histogram
//	<ns>_op_errors_total{op}      counter
//	<ns>_op_bytes_total{op}       counter (encoded bytes read or written)
type Prometheus struct {
	latency *prometheus.HistogramVec
	errors  *prometheus.CounterVec
	bytes   *prometheus.CounterVec
}

// NewPrometheus creates the collectors and registers them with reg.
func NewPrometheus(reg prometheus.Registerer, namespace string) (*Prometheus, error) {
	p := &Prometheus{
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "op_duration_seconds",
			Help:      "Latency of store operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"op"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "op_errors_total",
			Help:      "Failed store operations.",
		}, []string{"op"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "op_bytes_total",
			Help:      "Encoded bytes moved by store operations.",
		}, []string{"op"}),
	}
	for _, c := range []prometheus.Collector{p.latency, p.errors, p.bytes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) RecordLatency(op string, d time.Duration) {
	p.latency.WithLabelValues(op).Observe(d.Seconds())
}

func (p *Prometheus) RecordError(op string) {
	p.errors.WithLabelValues(op).Inc()
}

func (p *Prometheus) RecordBytes(op string, n int) {
	p.bytes.WithLabelValues(op).Add(float64(n))
}
