package deployer

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors updated by the Engine.
type Metrics struct {
	futures       *prometheus.CounterVec
	actionSeconds *prometheus.HistogramVec
	journalWrites *prometheus.CounterVec
	inFlight      prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		futures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "deployer",
				Subsystem: "engine",
				Name:      "futures_total",
				Help:      "Futures that reached a state, by kind and state",
			},
			[]string{"kind", "state"},
		),
		actionSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "deployer",
				Subsystem: "engine",
				Name:      "action_duration_seconds",
				Help:      "Time from encoding an action to its resolution",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"kind"},
		),
		journalWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "deployer",
				Subsystem: "journal",
				Name:      "writes_total",
				Help:      "Journal writes, by result",
			},
			[]string{"result"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "deployer",
				Subsystem: "engine",
				Name:      "in_flight",
				Help:      "Futures currently executing",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.futures, m.actionSeconds, m.journalWrites, m.inFlight)
	}
	return m
}

func (m *Metrics) observeState(kind Kind, s State) {
	if m == nil {
		return
	}
	m.futures.WithLabelValues(kind.String(), s.String()).Inc()
}

func (m *Metrics) observeAction(kind Kind, seconds float64) {
	if m == nil {
		return
	}
	m.actionSeconds.WithLabelValues(kind.String()).Observe(seconds)
}

func (m *Metrics) observeJournalWrite(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.journalWrites.WithLabelValues(result).Inc()
}

func (m *Metrics) trackInFlight(delta float64) {
	if m == nil {
		return
	}
	m.inFlight.Add(delta)
}
