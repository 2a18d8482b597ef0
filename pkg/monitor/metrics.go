package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the prometheus instruments of the snapshot layer
type Metrics struct {
	RecordedCalls   *prometheus.CounterVec
	SkippedCalls    *prometheus.CounterVec
	LiveHandles     prometheus.Gauge
	ReplayedTraces  *prometheus.CounterVec
	ReplayDuration  prometheus.Histogram
	Inconsistencies *prometheus.CounterVec
	HungTasks       prometheus.Counter
	SnapshotBytes   *prometheus.HistogramVec
}

// NewMetrics registers the instruments on reg. A nil reg gets a private
// registry so several engines can live in one process.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		RecordedCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vksnap_recorded_calls_total",
			Help: "Intercepted calls recorded by call shape",
		}, []string{"shape"}),
		SkippedCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vksnap_skipped_calls_total",
			Help: "Intercepted calls skipped without recording, by reason",
		}, []string{"reason"}),
		LiveHandles: f.NewGauge(prometheus.GaugeOpts{
			Name: "vksnap_live_handles",
			Help: "Handles currently registered in the handle table",
		}),
		ReplayedTraces: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vksnap_replayed_traces_total",
			Help: "Trace records replayed during load, by kind and status",
		}, []string{"kind", "status"}),
		ReplayDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vksnap_load_duration_seconds",
			Help:    "Duration of snapshot loads including replay",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}),
		Inconsistencies: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vksnap_replay_inconsistencies_total",
			Help: "Inconsistencies found while planning a replay, by kind",
		}, []string{"kind"}),
		HungTasks: f.NewCounter(prometheus.CounterOpts{
			Name: "vksnap_hung_tasks_total",
			Help: "Tasks that went silent for longer than the hang timeout",
		}),
		SnapshotBytes: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vksnap_snapshot_bytes",
			Help:    "Size of saved and loaded snapshot streams",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		}, []string{"direction"}),
	}
}
