// Package service owns the registry state machine: issuance, revocation and
// authenticity checks.
//
// Mutations are serialized by a single writer lock held across authorization,
// the store write and event sequencing, so notifications leave in the exact
// order the mutations were applied. Reads never take the lock; the store
// guarantees they only see fully applied records.
package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store,Notifier

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"notary/internal/registry/access"
	"notary/internal/registry/binder"
	"notary/internal/registry/events"
	"notary/internal/registry/metrics"
	"notary/internal/registry/models"
	"notary/pkg/crypto/ethsig"
	id "notary/pkg/domain"
	dErrors "notary/pkg/domain-errors"
	"notary/pkg/platform/sentinel"
	"notary/pkg/requestcontext"
)

// MaxBatchSize bounds VerifyBatch.
const MaxBatchSize = 100

type Store interface {
	Create(ctx context.Context, record *models.Record) error
	FindByFingerprint(ctx context.Context, fp id.Fingerprint) (*models.Record, error)
	FindMany(ctx context.Context, fps []id.Fingerprint) (map[id.Fingerprint]*models.Record, error)
	Execute(ctx context.Context, fp id.Fingerprint, validate func(*models.Record) error, mutate func(*models.Record)) (*models.Record, error)
	Count(ctx context.Context) (int, error)
}

// Notifier receives issuance and revocation events. Notify runs under the
// writer lock and must only enqueue, never wait on delivery.
type Notifier interface {
	Notify(ctx context.Context, event events.Event)
}

// Service is the registry. Construct one per registry instance.
type Service struct {
	store    Store
	guard    *access.Guard
	binder   *binder.Binder
	notifier Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer

	mu         sync.Mutex
	seq        uint64
	lastIssued time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// WithStartSequence resumes event numbering, e.g. after a restart.
func WithStartSequence(seq uint64) Option {
	return func(s *Service) {
		s.seq = seq
	}
}

// WithIssuanceFloor seeds the monotonic issuance clock, typically with the
// store's newest issuance time, so timestamps keep increasing across restarts.
func WithIssuanceFloor(t time.Time) Option {
	return func(s *Service) {
		if !t.IsZero() {
			s.lastIssued = toStorePrecision(t)
		}
	}
}

// New constructs a Service.
func New(store Store, guard *access.Guard, b *binder.Binder, opts ...Option) *Service {
	s := &Service{
		store:  store,
		guard:  guard,
		binder: b,
		logger: slog.Default(),
		tracer: otel.Tracer("notary/internal/registry/service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue registers fp for subject on behalf of the calling identity.
func (s *Service) Issue(ctx context.Context, fp id.Fingerprint, subject id.Address) (*models.Record, error) {
	ctx, span := s.tracer.Start(ctx, "registry.Issue", trace.WithAttributes(
		attribute.String("fingerprint", fp.String()),
	))
	defer span.End()

	record, err := s.issue(ctx, fp, subject)
	if err != nil {
		s.reject(ctx, span, "issue", fp, err)
		return nil, err
	}
	s.metrics.IncrementIssued()
	s.logger.InfoContext(ctx, "record issued",
		"fingerprint", record.Fingerprint,
		"subject", record.Subject,
		"issuer", record.Issuer,
		"timestamp", record.Timestamp(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return record, nil
}

func (s *Service) issue(ctx context.Context, fp id.Fingerprint, subject id.Address) (*models.Record, error) {
	caller := requestcontext.Caller(ctx)
	if err := s.guard.Authorize(ctx, caller); err != nil {
		return nil, err
	}
	if fp.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "fingerprint must not be zero")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.issuanceTime(ctx)
	record, err := models.NewRecord(fp, subject, caller, now)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, dErrors.Message(err))
		}
		return nil, err
	}

	if err := s.store.Create(ctx, record); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.New(dErrors.CodeAlreadyExists, "fingerprint already issued")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store record")
	}
	s.lastIssued = record.IssuedAt
	s.emit(ctx, events.Issued(s.nextSeq(), record))
	return record, nil
}

// Revoke permanently invalidates fp. Only the issuer may revoke, and only once.
func (s *Service) Revoke(ctx context.Context, fp id.Fingerprint) (*models.Record, error) {
	ctx, span := s.tracer.Start(ctx, "registry.Revoke", trace.WithAttributes(
		attribute.String("fingerprint", fp.String()),
	))
	defer span.End()

	record, err := s.revoke(ctx, fp)
	if err != nil {
		s.reject(ctx, span, "revoke", fp, err)
		return nil, err
	}
	s.metrics.IncrementRevoked()
	s.logger.InfoContext(ctx, "record revoked",
		"fingerprint", record.Fingerprint,
		"issuer", record.Issuer,
		"request_id", requestcontext.RequestID(ctx),
	)
	return record, nil
}

func (s *Service) revoke(ctx context.Context, fp id.Fingerprint) (*models.Record, error) {
	if err := s.guard.Authorize(ctx, requestcontext.Caller(ctx)); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := toStorePrecision(requestcontext.Now(ctx))
	record, err := s.store.Execute(ctx, fp,
		func(r *models.Record) error { return r.CanRevoke() },
		func(r *models.Record) { r.ApplyRevocation(now) },
	)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeNotFound, "record not found")
		case dErrors.HasCode(err, dErrors.CodeAlreadyRevoked):
			return nil, err
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke record")
		}
	}
	s.emit(ctx, events.Revoked(s.nextSeq(), record))
	return record, nil
}

// Get returns the record for fp, or nil when none exists.
func (s *Service) Get(ctx context.Context, fp id.Fingerprint) (*models.Record, error) {
	ctx, span := s.tracer.Start(ctx, "registry.Get")
	defer span.End()

	record, err := s.store.FindByFingerprint(ctx, fp)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load record")
	}
	return record, nil
}

// Verify answers whether sig is the issuer's signature over (fp, nonce) for
// this registry instance and whether the record is still valid. Domain
// outcomes never produce an error; the error is reserved for storage failure.
func (s *Service) Verify(ctx context.Context, fp id.Fingerprint, nonce id.Nonce, sig []byte) (models.VerifyResult, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "registry.Verify", trace.WithAttributes(
		attribute.String("fingerprint", fp.String()),
	))
	defer span.End()
	defer s.metrics.ObserveVerify(start)

	signer := s.recoverSigner(fp, nonce, sig)

	record, err := s.store.FindByFingerprint(ctx, fp)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
		return models.VerifyResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load record")
	}

	result := models.Evaluate(record, signer)
	s.observeOutcome(span, record, result)
	return result, nil
}

// VerifyItem is one entry of a batch verification.
type VerifyItem struct {
	Fingerprint id.Fingerprint
	Nonce       id.Nonce
	Signature   []byte
}

// VerifyBatch evaluates items with a single store lookup. Results are in
// input order.
func (s *Service) VerifyBatch(ctx context.Context, items []VerifyItem) ([]models.VerifyResult, error) {
	if len(items) == 0 {
		return []models.VerifyResult{}, nil
	}
	if len(items) > MaxBatchSize {
		return nil, dErrors.New(dErrors.CodeValidation, "batch exceeds maximum size")
	}
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "registry.VerifyBatch", trace.WithAttributes(
		attribute.Int("batch_size", len(items)),
	))
	defer span.End()
	defer s.metrics.ObserveVerify(start)

	fps := make([]id.Fingerprint, len(items))
	for i, item := range items {
		fps[i] = item.Fingerprint
	}
	records, err := s.store.FindMany(ctx, fps)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load records")
	}

	results := make([]models.VerifyResult, len(items))
	for i, item := range items {
		record := records[item.Fingerprint]
		results[i] = models.Evaluate(record, s.recoverSigner(item.Fingerprint, item.Nonce, item.Signature))
		s.observeOutcome(nil, record, results[i])
	}
	return results, nil
}

// Message is the canonical signing material for one (fingerprint, nonce).
type Message struct {
	Message  [32]byte
	Digest   [32]byte
	DomainID id.DomainID
}

// ComputeMessage returns the bytes an issuer signs for (fp, nonce).
func (s *Service) ComputeMessage(fp id.Fingerprint, nonce id.Nonce) Message {
	return Message{
		Message:  s.binder.Message(fp, nonce),
		Digest:   s.binder.Digest(fp, nonce),
		DomainID: s.binder.Domain(),
	}
}

// Descriptor is what clients need to bind and verify messages.
type Descriptor struct {
	Issuer   id.Address
	DomainID id.DomainID
	Records  int
}

func (s *Service) Descriptor(ctx context.Context) (Descriptor, error) {
	n, err := s.store.Count(ctx)
	if err != nil {
		return Descriptor{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count records")
	}
	return Descriptor{
		Issuer:   s.guard.Issuer(),
		DomainID: s.binder.Domain(),
		Records:  n,
	}, nil
}

func (s *Service) recoverSigner(fp id.Fingerprint, nonce id.Nonce, sig []byte) id.Address {
	signer, err := ethsig.Recover(s.binder.Digest(fp, nonce), sig)
	if err != nil {
		return id.Address{}
	}
	return signer
}

// issuanceTime returns a timestamp that never precedes the previous issuance.
// Callers hold s.mu.
func (s *Service) issuanceTime(ctx context.Context) time.Time {
	now := toStorePrecision(requestcontext.Now(ctx))
	if now.Before(s.lastIssued) {
		return s.lastIssued
	}
	return now
}

// nextSeq must be called with s.mu held.
func (s *Service) nextSeq() uint64 {
	s.seq++
	return s.seq
}

func (s *Service) emit(ctx context.Context, event events.Event) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, event)
}

func (s *Service) reject(ctx context.Context, span trace.Span, operation string, fp id.Fingerprint, err error) {
	code := dErrors.CodeOf(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(code))
	s.metrics.IncrementRejected(operation, string(code))

	if code == dErrors.CodeInternal {
		s.logger.ErrorContext(ctx, operation+" failed",
			"fingerprint", fp,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return
	}
	s.logger.WarnContext(ctx, operation+" rejected",
		"fingerprint", fp,
		"code", code,
		"caller", requestcontext.Caller(ctx),
		"request_id", requestcontext.RequestID(ctx),
	)
}

func (s *Service) observeOutcome(span trace.Span, record *models.Record, result models.VerifyResult) {
	var outcome string
	switch {
	case result.Authentic:
		outcome = metrics.OutcomeAuthentic
	case result.Signer.IsZero():
		outcome = metrics.OutcomeMalformed
	case record == nil:
		outcome = metrics.OutcomeUnregistered
	case result.Revoked:
		outcome = metrics.OutcomeRevoked
	default:
		outcome = metrics.OutcomeWrongSigner
	}
	s.metrics.IncrementVerifyOutcome(outcome)
	if span != nil {
		span.SetAttributes(attribute.String("outcome", outcome))
	}
}

// toStorePrecision drops sub-microsecond precision so timestamps survive a
// Postgres round trip unchanged.
func toStorePrecision(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
