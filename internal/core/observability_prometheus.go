package core

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsRecorder exports command outcomes as Prometheus collectors.
type PrometheusMetricsRecorder struct {
	commands *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewPrometheusMetricsRecorder registers the registry collectors with reg.
// A nil registerer falls back to the default registry.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	rec := &PrometheusMetricsRecorder{
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "creaturecore",
				Subsystem: "registry",
				Name:      "commands_total",
				Help:      "Registry commands by operation and outcome.",
			},
			[]string{"operation", "success"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "creaturecore",
				Subsystem: "registry",
				Name:      "command_duration_seconds",
				Help:      "Registry command duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
	for _, c := range []prometheus.Collector{rec.commands, rec.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	r.commands.WithLabelValues(operation, strconv.FormatBool(success)).Inc()
	r.duration.WithLabelValues(operation).Observe(duration.Seconds())
}
