package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	domrepo "PriceCast/internal/domain/repository"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	jobsTotal   *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	predictions *prometheus.CounterVec
	horizon     prometheus.Histogram
	latency     *prometheus.HistogramVec
}

var _ domrepo.Metrics = (*Recorder)(nil)

// New registers the recorder's collectors with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		jobsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricecast_training_jobs_total",
				Help: "Training jobs by final status",
			},
			[]string{"status"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricecast_errors_total",
				Help: "Errors by kind",
			},
			[]string{"kind"},
		),
		predictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricecast_predictions_total",
				Help: "Prediction requests served per model",
			},
			[]string{"model_id"},
		),
		horizon: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pricecast_prediction_horizon_days",
				Help:    "Requested prediction horizon",
				Buckets: []float64{1, 2, 3, 5, 7, 14, 30},
			},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricecast_operation_duration_seconds",
				Help:    "Duration of lifecycle operations in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 1800},
			},
			[]string{"operation"},
		),
	}
}

// RecordJob counts a job reaching status.
func (r *Recorder) RecordJob(status string) {
	r.jobsTotal.WithLabelValues(status).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordPrediction(modelID string, steps int) {
	r.predictions.WithLabelValues(modelID).Inc()
	r.horizon.Observe(float64(steps))
}

// Nop discards every observation.
type Nop struct{}

var _ domrepo.Metrics = Nop{}

func (Nop) RecordJob(string)              {}
func (Nop) RecordError(string)            {}
func (Nop) RecordLatency(string, float64) {}
func (Nop) RecordPrediction(string, int)  {}
