// Package metrics describes one login attempt as Prometheus metrics. Each
// attempt lives in its own process, so the metrics are written to a
// node-exporter textfile instead of being served.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ssh_with_gh"

// Results are the values of the result label.
var Results = []string{"success", "user-unknown", "service-error"}

// Recorder holds the metrics of a single attempt. A nil *Recorder records
// nothing.
type Recorder struct {
	registry *prometheus.Registry

	LastAttemptResult    *prometheus.GaugeVec
	LastAttemptTimestamp prometheus.Gauge
	LastAttemptDuration  prometheus.Gauge
	StageDuration        *prometheus.GaugeVec
	StageErrors          *prometheus.CounterVec
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		LastAttemptResult: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_attempt_result",
			Help:      "1 for the result of the most recent login attempt, 0 for the others",
		}, []string{"result"}),
		LastAttemptTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_attempt_timestamp_seconds",
			Help:      "Unix time the most recent login attempt finished",
		}),
		LastAttemptDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_attempt_duration_seconds",
			Help:      "Wall time of the most recent login attempt, including operator interaction",
		}),
		StageDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_attempt_stage_duration_seconds",
			Help:      "Time spent in each stage of the most recent login attempt",
		}, []string{"stage"}),
		StageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "last_attempt_stage_errors_total",
			Help:      "Errors per stage and error kind in the most recent login attempt",
		}, []string{"stage", "kind"}),
	}
	r.registry.MustRegister(
		r.LastAttemptResult,
		r.LastAttemptTimestamp,
		r.LastAttemptDuration,
		r.StageDuration,
		r.StageErrors,
	)
	return r
}

// ObserveStage records how long stage took.
func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	if r == nil {
		return
	}
	r.StageDuration.WithLabelValues(stage).Set(d.Seconds())
}

// StageFailed counts an error of kind in stage.
func (r *Recorder) StageFailed(stage, kind string) {
	if r == nil {
		return
	}
	r.StageErrors.WithLabelValues(stage, kind).Inc()
}

// ObserveAttempt records the final result of an attempt that began at start.
func (r *Recorder) ObserveAttempt(result string, start time.Time) {
	if r == nil {
		return
	}
	for _, res := range Results {
		v := 0.0
		if res == result {
			v = 1
		}
		r.LastAttemptResult.WithLabelValues(res).Set(v)
	}
	now := time.Now()
	r.LastAttemptTimestamp.Set(float64(now.UnixNano()) / 1e9)
	r.LastAttemptDuration.Set(now.Sub(start).Seconds())
}

// Gatherer exposes the attempt's registry.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteTextfile atomically replaces path with the current metrics.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
