package mcnnm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records fit and validation activity. A nil *Metrics records nothing.
type Metrics struct {
	fits       *prometheus.CounterVec
	iterations prometheus.Histogram
	candidates *prometheus.CounterVec
	fallbacks  *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		fits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mcnnm_fits_total",
			Help: "Completed fit loops by terminal status.",
		}, []string{"status"}),
		iterations: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mcnnm_fit_iterations",
			Help:    "Sweeps run per fit loop.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		candidates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mcnnm_validation_candidates_total",
			Help: "Penalty pairs scored, by validation method.",
		}, []string{"method"}),
		fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mcnnm_validation_fallbacks_total",
			Help: "Selections that fell back to the grid midpoint, by validation method.",
		}, []string{"method"}),
	}
}

func (m *Metrics) observeFit(res *FitResult) {
	if m == nil {
		return
	}
	m.fits.WithLabelValues(res.Status.String()).Inc()
	m.iterations.Observe(float64(res.Iterations))
}

func (m *Metrics) observeCandidates(method ValidationMethod, n int) {
	if m == nil {
		return
	}
	m.candidates.WithLabelValues(string(method)).Add(float64(n))
}

func (m *Metrics) observeFallback(method ValidationMethod) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(string(method)).Inc()
}
