// Package events carries registry notifications from the service to
// observers. Delivery is ordered and at-least-once; consumers dedupe on ID.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"notary/internal/registry/models"
	id "notary/pkg/domain"
)

type Type string

const (
	TypeIssued  Type = "record.issued"
	TypeRevoked Type = "record.revoked"
)

// Event is an observational notification. Sequence is assigned by the
// registry under its writer lock and is strictly increasing in creation order.
type Event struct {
	ID          uuid.UUID      `json:"id"`
	Sequence    uint64         `json:"sequence"`
	Type        Type           `json:"type"`
	Fingerprint id.Fingerprint `json:"fingerprint"`
	Subject     *id.Address    `json:"subject,omitempty"`
	Issuer      id.Address     `json:"issuer"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Issued builds the issuance notification for record.
func Issued(seq uint64, record *models.Record) Event {
	subject := record.Subject
	return Event{
		ID:          uuid.New(),
		Sequence:    seq,
		Type:        TypeIssued,
		Fingerprint: record.Fingerprint,
		Subject:     &subject,
		Issuer:      record.Issuer,
		Timestamp:   record.IssuedAt,
	}
}

// Revoked builds the revocation notification. The timestamp is the
// revocation time, not the original issuance time.
func Revoked(seq uint64, record *models.Record) Event {
	at := record.IssuedAt
	if record.RevokedAt != nil {
		at = *record.RevokedAt
	}
	return Event{
		ID:          uuid.New(),
		Sequence:    seq,
		Type:        TypeRevoked,
		Fingerprint: record.Fingerprint,
		Issuer:      record.Issuer,
		Timestamp:   at,
	}
}

// Sink receives events from the Dispatcher.
type Sink interface {
	Name() string
	Publish(ctx context.Context, event Event) error
}

// Metrics observes delivery. Implementations must be safe for concurrent use.
type Metrics interface {
	IncEventPublished(sink string)
	IncEventPublishFailed(sink string)
	IncEventDropped()
}
