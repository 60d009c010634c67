package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/banshee-data/nanotrack/internal/tracks"
)

const namespace = "nanotrack"

// Metrics holds the Prometheus collectors for an analysis run. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Frames              prometheus.Counter
	Detections          prometheus.Counter
	TracksStarted       prometheus.Counter
	TracksFinished      prometheus.Counter
	AmbiguousDetections prometheus.Counter
	DroppedDetections   prometheus.Counter
	Estimates           *prometheus.CounterVec   // by estimator and result
	EstimateSeconds     *prometheus.HistogramVec // by estimator
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_total",
			Help: "Frames passed through the associator.",
		}),
		Detections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "detections_total",
			Help: "Detections received.",
		}),
		TracksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "tracks_started_total",
			Help: "Tracks opened.",
		}),
		TracksFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "tracks_finished_total",
			Help: "Tracks moved to the finished set.",
		}),
		AmbiguousDetections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ambiguous_detections_total",
			Help: "Detections with more than one candidate track.",
		}),
		DroppedDetections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "dropped_detections_total",
			Help: "Ambiguous detections discarded by the drop policy.",
		}),
		Estimates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "estimates_total",
			Help: "Diffusion coefficient estimates by estimator and result.",
		}, []string{"estimator", "result"}),
		EstimateSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "estimate_seconds",
			Help:    "Time to estimate one track.",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, []string{"estimator"}),
	}
	for _, c := range []prometheus.Collector{
		m.Frames, m.Detections, m.TracksStarted, m.TracksFinished,
		m.AmbiguousDetections, m.DroppedDetections, m.Estimates, m.EstimateSeconds,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveFrame records one association pass.
func (m *Metrics) ObserveFrame(s tracks.FrameStats) {
	if m == nil {
		return
	}
	m.Frames.Inc()
	m.Detections.Add(float64(s.Detections))
	m.TracksStarted.Add(float64(s.Started))
	m.TracksFinished.Add(float64(s.Finished))
	m.AmbiguousDetections.Add(float64(s.AmbiguousDetections))
	m.DroppedDetections.Add(float64(s.Dropped))
}

// ObserveFinish records tracks closed at the end of a stream.
func (m *Metrics) ObserveFinish(closed int) {
	if m == nil {
		return
	}
	m.TracksFinished.Add(float64(closed))
}

// ObserveEstimate records one per-track estimate.
func (m *Metrics) ObserveEstimate(estimator string, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Estimates.WithLabelValues(estimator, result).Inc()
	m.EstimateSeconds.WithLabelValues(estimator).Observe(d.Seconds())
}
