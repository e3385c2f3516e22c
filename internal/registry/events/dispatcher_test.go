package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notary/internal/registry/models"
	id "notary/pkg/domain"
)

type recordingSink struct {
	mu       sync.Mutex
	name     string
	failures int
	calls    int
	got      []Event
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failures > 0 {
		r.failures--
		return errors.New("sink unavailable")
	}
	r.got = append(r.got, event)
	return nil
}

func (r *recordingSink) events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.got...)
}

type countingMetrics struct {
	mu                         sync.Mutex
	published, failed, dropped int
}

func (m *countingMetrics) IncEventPublished(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published++
}

func (m *countingMetrics) IncEventPublishFailed(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed++
}

func (m *countingMetrics) IncEventDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped++
}

func testRecord(t *testing.T, b byte) *models.Record {
	t.Helper()
	record, err := models.NewRecord(id.Fingerprint{b}, id.Address{0xaa}, id.Address{0x01}, time.Unix(1_700_000_000, 0))
	require.NoError(t, err)
	return record
}

func runDispatcher(t *testing.T, d *Dispatcher) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestDispatcher_DeliversInOrderToEverySink(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b"}
	d := NewDispatcher([]Sink{a, b}, WithRetry(1, 0))
	stop := runDispatcher(t, d)

	ctx := context.Background()
	for i := 1; i <= 20; i++ {
		d.Notify(ctx, Issued(uint64(i), testRecord(t, byte(i))))
	}

	require.Eventually(t, func() bool { return len(b.events()) == 20 }, time.Second, 5*time.Millisecond)
	stop()

	for _, sink := range []*recordingSink{a, b} {
		got := sink.events()
		require.Len(t, got, 20)
		for i, e := range got {
			assert.Equal(t, uint64(i+1), e.Sequence)
		}
	}
}

func TestDispatcher_RetriesFailedSink(t *testing.T) {
	flaky := &recordingSink{name: "flaky", failures: 2}
	metrics := &countingMetrics{}
	d := NewDispatcher([]Sink{flaky}, WithRetry(3, time.Millisecond), WithMetrics(metrics))
	stop := runDispatcher(t, d)

	d.Notify(context.Background(), Issued(1, testRecord(t, 1)))
	require.Eventually(t, func() bool { return len(flaky.events()) == 1 }, time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, 3, flaky.calls)
	assert.Equal(t, 2, metrics.failed)
	assert.Equal(t, 1, metrics.published)
}

func TestDispatcher_AbandonsAfterMaxAttempts(t *testing.T) {
	broken := &recordingSink{name: "broken", failures: 100}
	healthy := &recordingSink{name: "healthy"}
	d := NewDispatcher([]Sink{broken, healthy}, WithRetry(2, time.Millisecond))
	stop := runDispatcher(t, d)

	d.Notify(context.Background(), Issued(1, testRecord(t, 1)))
	require.Eventually(t, func() bool { return len(healthy.events()) == 1 }, time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, 2, broken.calls)
	assert.Empty(t, broken.events())
}

func TestDispatcher_DrainsBufferedEventsOnShutdown(t *testing.T) {
	sink := &recordingSink{name: "sink"}
	d := NewDispatcher([]Sink{sink})

	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		d.Notify(ctx, Issued(uint64(i), testRecord(t, byte(i))))
	}
	assert.Equal(t, 5, d.Pending())

	runCtx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Run(runCtx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Len(t, sink.events(), 5)
	assert.Zero(t, d.Pending())
}

func TestDispatcher_NotifyNeverWaitsForDelivery(t *testing.T) {
	metrics := &countingMetrics{}
	d := NewDispatcher(nil, WithBacklogWarning(1), WithMetrics(metrics))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= 5000; i++ {
			d.Notify(context.Background(), Issued(uint64(i), testRecord(t, byte(i))))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked with no worker running")
	}
	assert.Equal(t, 5000, d.Pending())
	assert.Zero(t, metrics.dropped)
}

func TestDispatcher_DeliversBacklogInOrderOnceWorkerStarts(t *testing.T) {
	sink := &recordingSink{name: "sink"}
	d := NewDispatcher([]Sink{sink}, WithBacklogWarning(1))
	for i := 1; i <= 50; i++ {
		d.Notify(context.Background(), Issued(uint64(i), testRecord(t, byte(i))))
	}

	stop := runDispatcher(t, d)
	require.Eventually(t, func() bool { return len(sink.events()) == 50 }, time.Second, 5*time.Millisecond)
	stop()

	for i, e := range sink.events() {
		assert.Equal(t, uint64(i+1), e.Sequence)
	}
	assert.Zero(t, d.Pending())
}

func TestRevokedEventUsesRevocationTime(t *testing.T) {
	record := testRecord(t, 1)
	at := time.Unix(1_700_000_900, 0).UTC()
	record.ApplyRevocation(at)

	event := Revoked(7, record)
	assert.Equal(t, TypeRevoked, event.Type)
	assert.Equal(t, at, event.Timestamp)
	assert.Nil(t, event.Subject)
	assert.Equal(t, record.Issuer, event.Issuer)
}
