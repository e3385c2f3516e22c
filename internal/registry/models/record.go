package models

import (
	"time"

	id "notary/pkg/domain"
	dErrors "notary/pkg/domain-errors"
)

// Record is the registry entry for one document fingerprint.
//
// Invariants:
//   - Fingerprint is the identity; at most one Record per fingerprint ever exists
//   - IssuedAt is non-zero and its Unix timestamp is > 0
//   - Revoked only moves false -> true; RevokedAt is set exactly when Revoked is
//   - Records are never deleted
//
// Subject is opaque to the registry and plays no part in authenticity.
// Issuer is the caller that performed issuance and is the expected signer.
type Record struct {
	Fingerprint id.Fingerprint `json:"fingerprint"`
	Subject     id.Address     `json:"subject"`
	Issuer      id.Address     `json:"issuer"`
	IssuedAt    time.Time      `json:"issued_at"`
	Revoked     bool           `json:"revoked"`
	RevokedAt   *time.Time     `json:"revoked_at,omitempty"`
}

// NewRecord validates invariants and returns an active record.
func NewRecord(fp id.Fingerprint, subject, issuer id.Address, issuedAt time.Time) (*Record, error) {
	if fp.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "fingerprint must not be zero")
	}
	if issuer.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "issuer must not be zero")
	}
	if issuedAt.Unix() <= 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "issuance time must be after the epoch")
	}
	return &Record{
		Fingerprint: fp,
		Subject:     subject,
		Issuer:      issuer,
		IssuedAt:    issuedAt.UTC(),
	}, nil
}

// Timestamp is the issuance time in Unix seconds. A nil record reports 0,
// which is reserved for "no record".
func (r *Record) Timestamp() int64 {
	if r == nil {
		return 0
	}
	return r.IssuedAt.Unix()
}

// IsActive reports whether the record exists and is not revoked.
func (r *Record) IsActive() bool {
	return r != nil && !r.Revoked
}

// CanRevoke checks the one-way revocation transition.
// Use with ApplyRevocation in Execute callbacks.
func (r *Record) CanRevoke() error {
	if r.Revoked {
		return dErrors.New(dErrors.CodeAlreadyRevoked, "record already revoked")
	}
	return nil
}

// ApplyRevocation marks the record revoked. Call CanRevoke first.
func (r *Record) ApplyRevocation(now time.Time) {
	at := now.UTC()
	r.Revoked = true
	r.RevokedAt = &at
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.RevokedAt != nil {
		at := *r.RevokedAt
		c.RevokedAt = &at
	}
	return &c
}

// VerifyResult is the tri-part authenticity answer. Signer is the zero
// address when the signature was structurally malformed.
type VerifyResult struct {
	Authentic bool       `json:"authentic"`
	Signer    id.Address `json:"signer"`
	Revoked   bool       `json:"revoked"`
}

// Evaluate combines a recovered signer with the stored record. It is
// authentic only when the record exists, the signer is its issuer and it is
// not revoked.
func Evaluate(record *Record, signer id.Address) VerifyResult {
	if record == nil {
		return VerifyResult{Signer: signer}
	}
	return VerifyResult{
		Authentic: !signer.IsZero() && signer == record.Issuer && !record.Revoked,
		Signer:    signer,
		Revoked:   record.Revoked,
	}
}
