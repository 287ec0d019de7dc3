package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers the voting core: ballot outcomes, step-up verification,
// tabulation and lifecycle transitions. A nil *Metrics records nothing.
type Metrics struct {
	BallotsCast          *prometheus.CounterVec
	CastDuration         prometheus.Histogram
	VerificationOutcomes *prometheus.CounterVec
	VerificationDuration *prometheus.HistogramVec
	TabulationDuration   prometheus.Histogram
	TabulationConflicts  prometheus.Counter
	Transitions          *prometheus.CounterVec
	SweepDuration        prometheus.Histogram
}

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// New registers the voting metrics on reg; nil means the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		BallotsCast: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "unionvote_ballots_total",
			Help: "Ballot cast attempts by outcome code",
		}, []string{"outcome"}),
		CastDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "unionvote_cast_ballot_duration_seconds",
			Help:    "Duration of CastBallot including verification",
			Buckets: latencyBuckets,
		}),
		VerificationOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "unionvote_verifications_total",
			Help: "Step-up verification results by method and outcome",
		}, []string{"method", "outcome"}),
		VerificationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "unionvote_verification_duration_seconds",
			Help:    "Verification oracle latency by method",
			Buckets: latencyBuckets,
		}, []string{"method"}),
		TabulationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "unionvote_tabulation_duration_seconds",
			Help:    "Duration of a full tabulation",
			Buckets: latencyBuckets,
		}),
		TabulationConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "unionvote_tabulation_conflicts_total",
			Help: "Tabulations that lost the optimistic version check",
		}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "unionvote_voting_transitions_total",
			Help: "Lifecycle transitions by target status",
		}, []string{"to"}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "unionvote_sweep_duration_seconds",
			Help:    "Duration of one lifecycle sweep",
			Buckets: latencyBuckets,
		}),
	}
}

func (m *Metrics) IncBallot(outcome string) {
	if m == nil {
		return
	}
	m.BallotsCast.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveCast(start time.Time) {
	if m == nil {
		return
	}
	m.CastDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveVerification(method, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.VerificationOutcomes.WithLabelValues(method, outcome).Inc()
	m.VerificationDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveTabulation(start time.Time) {
	if m == nil {
		return
	}
	m.TabulationDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncTabulationConflict() {
	if m == nil {
		return
	}
	m.TabulationConflicts.Inc()
}

func (m *Metrics) IncTransition(to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(to).Inc()
}

func (m *Metrics) ObserveSweep(start time.Time) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(time.Since(start).Seconds())
}
