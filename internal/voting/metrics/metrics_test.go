package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncBallot("accepted")
	m.IncBallot("accepted")
	m.IncBallot("duplicate_vote")
	m.IncTabulationConflict()
	m.IncTransition("ended")
	m.ObserveVerification("password", "verified", time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BallotsCast.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BallotsCast.WithLabelValues("duplicate_vote")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TabulationConflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("ended")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VerificationOutcomes.WithLabelValues("password", "verified")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncBallot("accepted")
		m.ObserveCast(time.Now())
		m.ObserveTabulation(time.Now())
		m.IncTransition("active")
		m.ObserveSweep(time.Now())
	})
}
