package handler

import (
	"encoding/hex"
	"time"

	"notary/internal/registry/events"
	"notary/internal/registry/models"
	"notary/internal/registry/service"
	id "notary/pkg/domain"
)

type RecordResponse struct {
	Fingerprint id.Fingerprint `json:"fingerprint"`
	Subject     id.Address     `json:"subject"`
	Issuer      id.Address     `json:"issuer"`
	Timestamp   int64          `json:"timestamp"`
	IssuedAt    time.Time      `json:"issued_at"`
	Revoked     bool           `json:"revoked"`
	RevokedAt   *time.Time     `json:"revoked_at,omitempty"`
}

func toRecordResponse(r *models.Record) RecordResponse {
	return RecordResponse{
		Fingerprint: r.Fingerprint,
		Subject:     r.Subject,
		Issuer:      r.Issuer,
		Timestamp:   r.Timestamp(),
		IssuedAt:    r.IssuedAt,
		Revoked:     r.Revoked,
		RevokedAt:   r.RevokedAt,
	}
}

type VerifyResponse struct {
	Authentic bool       `json:"authentic"`
	Signer    id.Address `json:"signer"`
	Revoked   bool       `json:"revoked"`
}

func toVerifyResponse(r models.VerifyResult) VerifyResponse {
	return VerifyResponse{Authentic: r.Authentic, Signer: r.Signer, Revoked: r.Revoked}
}

type VerifyBatchResponse struct {
	Results []VerifyResponse `json:"results"`
}

type MessageResponse struct {
	Fingerprint id.Fingerprint `json:"fingerprint"`
	Nonce       string         `json:"nonce"`
	DomainID    id.DomainID    `json:"domain_id"`
	Message     string         `json:"message"`
	Digest      string         `json:"digest"`
}

func toMessageResponse(fp id.Fingerprint, nonce id.Nonce, m service.Message) MessageResponse {
	return MessageResponse{
		Fingerprint: fp,
		Nonce:       nonce.String(),
		DomainID:    m.DomainID,
		Message:     "0x" + hex.EncodeToString(m.Message[:]),
		Digest:      "0x" + hex.EncodeToString(m.Digest[:]),
	}
}

type DescriptorResponse struct {
	Issuer   id.Address  `json:"issuer"`
	DomainID id.DomainID `json:"domain_id"`
	Records  int         `json:"records"`
}

type EventsResponse struct {
	Events []events.Event `json:"events"`
}
