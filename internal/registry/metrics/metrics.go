package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Verify outcome labels.
const (
	OutcomeAuthentic    = "authentic"
	OutcomeRevoked      = "revoked"
	OutcomeUnregistered = "unregistered"
	OutcomeWrongSigner  = "wrong_signer"
	OutcomeMalformed    = "malformed"
)

// Metrics provides observability for the registry module.
// All methods are nil-safe so callers can run without metrics.
type Metrics struct {
	RecordsIssued       prometheus.Counter
	RecordsRevoked      prometheus.Counter
	MutationsRejected   *prometheus.CounterVec
	VerifyOutcomes      *prometheus.CounterVec
	VerifyDuration      prometheus.Histogram
	CacheLookups        *prometheus.CounterVec
	EventsPublished     *prometheus.CounterVec
	EventPublishFailure *prometheus.CounterVec
	EventsDropped       prometheus.Counter
}

// New creates a Metrics instance registered with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers against reg so tests can use a private registry.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RecordsIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "notary_records_issued_total",
			Help: "Total number of fingerprints issued",
		}),
		RecordsRevoked: factory.NewCounter(prometheus.CounterOpts{
			Name: "notary_records_revoked_total",
			Help: "Total number of records revoked",
		}),
		MutationsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notary_mutations_rejected_total",
			Help: "Issue and revoke calls rejected, by operation and error code",
		}, []string{"operation", "code"}),
		VerifyOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notary_verify_total",
			Help: "Verification results by outcome",
		}, []string{"outcome"}),
		VerifyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "notary_verify_duration_seconds",
			Help:    "Duration of Verify operations including signer recovery",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notary_record_cache_lookups_total",
			Help: "Record cache lookups by result",
		}, []string{"result"}),
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notary_events_published_total",
			Help: "Registry events delivered, by sink",
		}, []string{"sink"}),
		EventPublishFailure: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notary_event_publish_failures_total",
			Help: "Failed event delivery attempts, by sink",
		}, []string{"sink"}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "notary_events_dropped_total",
			Help: "Events dropped before reaching the dispatcher",
		}),
	}
}

func (m *Metrics) IncrementIssued() {
	if m == nil {
		return
	}
	m.RecordsIssued.Inc()
}

func (m *Metrics) IncrementRevoked() {
	if m == nil {
		return
	}
	m.RecordsRevoked.Inc()
}

func (m *Metrics) IncrementRejected(operation, code string) {
	if m == nil {
		return
	}
	m.MutationsRejected.WithLabelValues(operation, code).Inc()
}

func (m *Metrics) IncrementVerifyOutcome(outcome string) {
	if m == nil {
		return
	}
	m.VerifyOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveVerify records the duration of a Verify operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveVerify(start time.Time) {
	if m == nil {
		return
	}
	m.VerifyDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncCacheHit() {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues("hit").Inc()
}

func (m *Metrics) IncCacheMiss() {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) IncEventPublished(sink string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(sink).Inc()
}

func (m *Metrics) IncEventPublishFailed(sink string) {
	if m == nil {
		return
	}
	m.EventPublishFailure.WithLabelValues(sink).Inc()
}

func (m *Metrics) IncEventDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}
