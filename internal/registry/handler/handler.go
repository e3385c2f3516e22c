package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"notary/internal/registry/events"
	"notary/internal/registry/models"
	"notary/internal/registry/service"
	id "notary/pkg/domain"
	dErrors "notary/pkg/domain-errors"
	"notary/pkg/platform/httputil"
	"notary/pkg/requestcontext"
)

const (
	defaultEventsLimit = 50
	maxEventsLimit     = 1000
)

// Service defines the registry operations exposed over HTTP.
type Service interface {
	Issue(ctx context.Context, fp id.Fingerprint, subject id.Address) (*models.Record, error)
	Revoke(ctx context.Context, fp id.Fingerprint) (*models.Record, error)
	Get(ctx context.Context, fp id.Fingerprint) (*models.Record, error)
	Verify(ctx context.Context, fp id.Fingerprint, nonce id.Nonce, sig []byte) (models.VerifyResult, error)
	VerifyBatch(ctx context.Context, items []service.VerifyItem) ([]models.VerifyResult, error)
	ComputeMessage(fp id.Fingerprint, nonce id.Nonce) service.Message
	Descriptor(ctx context.Context) (service.Descriptor, error)
}

// EventFeed exposes recently emitted registry events.
type EventFeed interface {
	Recent(n int) []events.Event
}

// Handler handles registry endpoints.
type Handler struct {
	service     Service
	feed        EventFeed
	logger      *slog.Logger
	verifyLimit func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithVerifyLimit wraps the public verification routes, typically with a
// per-client rate limiter.
func WithVerifyLimit(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.verifyLimit = mw
	}
}

// New creates a registry Handler. feed may be nil, which disables /events.
func New(svc Service, feed EventFeed, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{service: svc, feed: feed, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the registry routes. Mutations go through requireAuth,
// which establishes the caller identity; reads are public.
func (h *Handler) Register(r chi.Router, requireAuth func(http.Handler) http.Handler) {
	r.Get("/registry", h.handleDescriptor)
	r.Get("/records/{fingerprint}", h.handleGet)
	r.Get("/records/{fingerprint}/message", h.handleMessage)
	r.Group(func(r chi.Router) {
		if h.verifyLimit != nil {
			r.Use(h.verifyLimit)
		}
		r.Post("/verify", h.handleVerify)
		r.Post("/verify/batch", h.handleVerifyBatch)
	})
	if h.feed != nil {
		r.Get("/events", h.handleEvents)
	}

	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Post("/records", h.handleIssue)
		r.Post("/records/{fingerprint}/revoke", h.handleRevoke)
	})
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[IssueRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	record, err := h.service.Issue(ctx, req.fp, req.subject)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toRecordResponse(record))
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	fp, ok := h.fingerprintParam(w, r)
	if !ok {
		return
	}

	record, err := h.service.Revoke(ctx, fp)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(record))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	fp, ok := h.fingerprintParam(w, r)
	if !ok {
		return
	}

	record, err := h.service.Get(ctx, fp)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to get record",
			"fingerprint", fp,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	if record == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "record not found"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(record))
}

func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	fp, ok := h.fingerprintParam(w, r)
	if !ok {
		return
	}
	raw := r.URL.Query().Get("nonce")
	if raw == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "nonce is required"))
		return
	}
	nonce, err := id.ParseNonce(raw)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toMessageResponse(fp, nonce, h.service.ComputeMessage(fp, nonce)))
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[VerifyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.service.Verify(ctx, req.item.Fingerprint, req.item.Nonce, req.item.Signature)
	if err != nil {
		h.logger.ErrorContext(ctx, "verification failed",
			"fingerprint", req.item.Fingerprint,
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toVerifyResponse(result))
}

func (h *Handler) handleVerifyBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[VerifyBatchRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	results, err := h.service.VerifyBatch(ctx, req.items())
	if err != nil {
		h.logger.ErrorContext(ctx, "batch verification failed",
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}
	resp := VerifyBatchResponse{Results: make([]VerifyResponse, len(results))}
	for i, res := range results {
		resp.Results[i] = toVerifyResponse(res)
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleDescriptor(w http.ResponseWriter, r *http.Request) {
	desc, err := h.service.Descriptor(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, DescriptorResponse{
		Issuer:   desc.Issuer,
		DomainID: desc.DomainID,
		Records:  desc.Records,
	})
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxEventsLimit {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "limit must be between 1 and 1000"))
			return
		}
		limit = n
	}
	httputil.WriteJSON(w, http.StatusOK, EventsResponse{Events: h.feed.Recent(limit)})
}

func (h *Handler) fingerprintParam(w http.ResponseWriter, r *http.Request) (id.Fingerprint, bool) {
	fp, err := id.ParseFingerprint(chi.URLParam(r, "fingerprint"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.Fingerprint{}, false
	}
	return fp, true
}
