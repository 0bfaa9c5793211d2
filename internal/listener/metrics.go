package listener

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	samplesTotal *prometheus.CounterVec
	buildSeconds prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		samplesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "samplerelay",
			Name:      "samples_total",
			Help:      "Total number of samples seen by the listener, by outcome.",
		}, []string{"outcome"}),
		buildSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "samplerelay",
			Name:      "build_seconds",
			Help:      "Time spent turning one sample into a telemetry record.",
			Buckets: []float64{
				0.00001, 0.00005,
				0.0001, 0.0005,
				0.001, 0.005,
				0.01, 0.05, 0.1,
			},
		}),
	}
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return newMetrics(prometheus.DefaultRegisterer)
})

func (m *metrics) observe(outcome Outcome) {
	m.samplesTotal.WithLabelValues(outcome.String()).Inc()
}
