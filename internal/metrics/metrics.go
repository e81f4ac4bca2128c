// Package metrics holds the Prometheus collectors for the import pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the import pipeline. A nil *Metrics records nothing.
//
// Metrics:
//   - courseimport_jobs_total{status} - jobs reaching a terminal status
//   - courseimport_stage_duration_seconds{stage} - time spent per pipeline stage
//   - courseimport_assets_relocated_total{result} - uploaded, failed or skipped assets
//   - courseimport_content_resolution_total{strategy} - winning resolver strategy, or "miss"
type Metrics struct {
	JobsTotal          *prometheus.CounterVec
	StageDuration      *prometheus.HistogramVec
	AssetsTotal        *prometheus.CounterVec
	ContentResolutions *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		JobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "courseimport_jobs_total",
			Help: "Import jobs by terminal status",
		}, []string{"status"}),

		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "courseimport_stage_duration_seconds",
			Help:    "Duration of each import stage in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
		}, []string{"stage"}),

		AssetsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "courseimport_assets_relocated_total",
			Help: "Package assets by relocation result",
		}, []string{"result"}),

		ContentResolutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "courseimport_content_resolution_total",
			Help: "Item content resolutions by winning strategy",
		}, []string{"strategy"}),
	}
}

func (m *Metrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) AssetRelocated(result string) {
	if m == nil {
		return
	}
	m.AssetsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) AssetsSkipped(n int) {
	if m == nil {
		return
	}
	m.AssetsTotal.WithLabelValues("skipped").Add(float64(n))
}

// ContentResolved records the strategy that supplied an item's content;
// "miss" when none did.
func (m *Metrics) ContentResolved(strategy string) {
	if m == nil {
		return
	}
	m.ContentResolutions.WithLabelValues(strategy).Inc()
}
