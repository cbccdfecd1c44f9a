// Package metrics provides Prometheus metrics for occupancy runs.
//
// All recording methods are safe to call on a nil *Metrics, so components
// can take metrics as an optional dependency.
package metrics

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics contains the counters, histograms and gauges of the occupancy pipeline.
type Metrics struct {
	ImagesFound       prometheus.Counter
	ImagesEvaluated   prometheus.Counter
	ImagesSkipped     *prometheus.CounterVec
	TrainingImages    prometheus.Counter
	OperationDuration *prometheus.HistogramVec
	OccupancyRate     *prometheus.GaugeVec
	RunsTotal         *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates the pipeline metrics and registers them with registry.
//
// Arguments:
//   - registry: The registry to register with; nil creates a fresh one.
//
// Returns:
//   - *Metrics: The registered metrics.
//   - error: An error if registration fails.
func New(registry *prometheus.Registry) (*Metrics, error) {
	if registry == nil {
		// A private registry also reports the runtime and process stats.
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m := &Metrics{
		ImagesFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parking_test_images_found_total",
			Help: "Test images found while walking the test tree.",
		}),
		ImagesEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parking_test_images_evaluated_total",
			Help: "Test images that produced an occupancy result.",
		}),
		ImagesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parking_test_images_skipped_total",
			Help: "Test images skipped, partitioned by reason.",
		}, []string{"reason"}),
		TrainingImages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parking_training_updates_total",
			Help: "Background model updates performed during training.",
		}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parking_operation_duration_seconds",
			Help:    "Duration of pipeline operations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"operation"}),
		OccupancyRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "parking_occupancy_rate",
			Help: "Share of occupied regions in the most recent frame of each camera.",
		}, []string{"camera"}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parking_runs_total",
			Help: "Batch runs, partitioned by outcome.",
		}, []string{"status"}),
		registry: registry,
	}

	collectors := []prometheus.Collector{
		m.ImagesFound, m.ImagesEvaluated, m.ImagesSkipped, m.TrainingImages,
		m.OperationDuration, m.OccupancyRate, m.RunsTotal,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, errors.Wrap(err, "failed to register parking metrics")
		}
	}
	return m, nil
}

// Registry returns the registry the metrics were registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// StartOperation starts timing a named operation and returns the function that stops it.
//
// @example
// stop := m.StartOperation("train")
// defer stop()
func (m *Metrics) StartOperation(name string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.OperationDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
}

// ImageFound counts a test image found in the tree.
func (m *Metrics) ImageFound() {
	if m != nil {
		m.ImagesFound.Inc()
	}
}

// ImageSkipped counts a test image that yielded no result.
func (m *Metrics) ImageSkipped(reason string) {
	if m != nil {
		m.ImagesSkipped.WithLabelValues(reason).Inc()
	}
}

// ImageEvaluated records a produced result and the camera's occupancy rate.
func (m *Metrics) ImageEvaluated(camera string, occupancyRate float64) {
	if m == nil {
		return
	}
	m.ImagesEvaluated.Inc()
	m.OccupancyRate.WithLabelValues(camera).Set(occupancyRate)
}

// TrainingUpdates adds n background model updates.
func (m *Metrics) TrainingUpdates(n int) {
	if m != nil && n > 0 {
		m.TrainingImages.Add(float64(n))
	}
}

// RunFinished counts a finished run with its outcome ("ok" or "failed").
func (m *Metrics) RunFinished(status string) {
	if m != nil {
		m.RunsTotal.WithLabelValues(status).Inc()
	}
}
