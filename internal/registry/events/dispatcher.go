package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultBacklogWarn = 1024
	defaultMaxAttempts = 5
	defaultBackoff     = 100 * time.Millisecond
	drainTimeout       = 5 * time.Second
)

// Dispatcher fans events out to sinks from a single worker goroutine, so
// every sink sees events in the order they were enqueued.
//
// The queue is unbounded: Notify never waits on delivery, because callers
// hold the registry writer lock while they enqueue.
type Dispatcher struct {
	mu      sync.Mutex
	queue   []Event
	warned  bool
	wake    chan struct{}
	sinks   []Sink
	logger  *slog.Logger
	metrics Metrics

	backlogWarn int
	maxAttempts int
	backoff     time.Duration
}

type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithMetrics(m Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithBacklogWarning sets the queue length at which a slow-sink warning is
// logged. It does not bound the queue.
func WithBacklogWarning(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.backlogWarn = n
		}
	}
}

// WithRetry bounds delivery attempts per sink and the base backoff, which
// doubles after each failure.
func WithRetry(maxAttempts int, backoff time.Duration) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if backoff >= 0 {
			d.backoff = backoff
		}
	}
}

func NewDispatcher(sinks []Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		wake:        make(chan struct{}, 1),
		sinks:       sinks,
		logger:      slog.Default(),
		backlogWarn: defaultBacklogWarn,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify appends event to the delivery queue and returns immediately.
func (d *Dispatcher) Notify(ctx context.Context, event Event) {
	d.mu.Lock()
	d.queue = append(d.queue, event)
	backlog := len(d.queue)
	warn := backlog >= d.backlogWarn && !d.warned
	if warn {
		d.warned = true
	}
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}

	if warn {
		d.logger.WarnContext(ctx, "registry event backlog growing, sinks are slow",
			"pending", backlog,
			"sequence", event.Sequence,
		)
	}
}

// Run delivers events until ctx is cancelled, then drains what is still
// queued with a short grace period.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			d.drain()
			return ctx.Err()
		}
		if event, ok := d.next(); ok {
			d.deliver(ctx, event)
			continue
		}
		select {
		case <-ctx.Done():
		case <-d.wake:
		}
	}
}

// Pending reports the number of queued, undelivered events.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *Dispatcher) next() (Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return Event{}, false
	}
	event := d.queue[0]
	d.queue[0] = Event{}
	d.queue = d.queue[1:]
	if len(d.queue) == 0 {
		d.queue = nil
		d.warned = false
	}
	return event, true
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		event, ok := d.next()
		if !ok {
			return
		}
		if ctx.Err() != nil {
			d.drop(event)
			continue
		}
		d.deliver(ctx, event)
	}
}

func (d *Dispatcher) drop(event Event) {
	d.logger.Error("registry event dropped: shutdown grace period exceeded",
		"event_id", event.ID,
		"sequence", event.Sequence,
		"type", event.Type,
	)
	if d.metrics != nil {
		d.metrics.IncEventDropped()
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event Event) {
	for _, sink := range d.sinks {
		d.publish(ctx, sink, event)
	}
}

func (d *Dispatcher) publish(ctx context.Context, sink Sink, event Event) {
	wait := d.backoff
	for attempt := 1; ; attempt++ {
		err := sink.Publish(ctx, event)
		if err == nil {
			if d.metrics != nil {
				d.metrics.IncEventPublished(sink.Name())
			}
			return
		}
		if d.metrics != nil {
			d.metrics.IncEventPublishFailed(sink.Name())
		}
		if attempt >= d.maxAttempts {
			d.logger.ErrorContext(ctx, "registry event delivery abandoned",
				"sink", sink.Name(),
				"event_id", event.ID,
				"sequence", event.Sequence,
				"attempts", attempt,
				"error", err,
			)
			return
		}
		d.logger.WarnContext(ctx, "registry event delivery failed, retrying",
			"sink", sink.Name(),
			"event_id", event.ID,
			"attempt", attempt,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		wait *= 2
	}
}
