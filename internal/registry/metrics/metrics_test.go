package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.IncrementIssued()
	m.IncrementIssued()
	m.IncrementRevoked()
	m.IncrementVerifyOutcome(OutcomeAuthentic)
	m.IncrementRejected("issue", "already_exists")
	m.IncEventPublished("kafka")
	m.ObserveVerify(time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordsIssued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsRevoked))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VerifyOutcomes.WithLabelValues(OutcomeAuthentic)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MutationsRejected.WithLabelValues("issue", "already_exists")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("kafka")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncrementIssued()
		m.IncrementRevoked()
		m.IncrementVerifyOutcome(OutcomeMalformed)
		m.IncCacheHit()
		m.IncEventDropped()
		m.ObserveVerify(time.Now())
	})
}
