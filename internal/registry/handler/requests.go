package handler

import (
	"strconv"
	"strings"

	"notary/internal/registry/service"
	"notary/pkg/crypto/ethsig"
	id "notary/pkg/domain"
	dErrors "notary/pkg/domain-errors"
)

// IssueRequest is the body of POST /records.
type IssueRequest struct {
	Fingerprint string `json:"fingerprint"`
	Subject     string `json:"subject"`

	fp      id.Fingerprint
	subject id.Address
}

func (r *IssueRequest) Validate() error {
	if strings.TrimSpace(r.Fingerprint) == "" {
		return dErrors.New(dErrors.CodeValidation, "fingerprint is required")
	}
	if strings.TrimSpace(r.Subject) == "" {
		return dErrors.New(dErrors.CodeValidation, "subject is required")
	}
	fp, err := id.ParseFingerprint(r.Fingerprint)
	if err != nil {
		return err
	}
	// Subjects are opaque directory identities; the zero address is allowed.
	var subject id.Address
	if err := subject.UnmarshalText([]byte(r.Subject)); err != nil {
		return err
	}
	r.fp, r.subject = fp, subject
	return nil
}

// VerifyRequest is the body of POST /verify and one item of a batch.
type VerifyRequest struct {
	Fingerprint string `json:"fingerprint"`
	Nonce       string `json:"nonce"`
	Signature   string `json:"signature"`

	item service.VerifyItem
}

func (r *VerifyRequest) Validate() error {
	if strings.TrimSpace(r.Fingerprint) == "" {
		return dErrors.New(dErrors.CodeValidation, "fingerprint is required")
	}
	if strings.TrimSpace(r.Nonce) == "" {
		return dErrors.New(dErrors.CodeValidation, "nonce is required")
	}
	fp, err := id.ParseFingerprint(r.Fingerprint)
	if err != nil {
		return err
	}
	nonce, err := id.ParseNonce(r.Nonce)
	if err != nil {
		return err
	}
	r.item = service.VerifyItem{Fingerprint: fp, Nonce: nonce, Signature: decodeSignature(r.Signature)}
	return nil
}

// decodeSignature never fails: a malformed signature is a verification
// outcome (no signer), not a request error.
func decodeSignature(raw string) []byte {
	if len(raw) > 2*ethsig.SignatureLength+2 {
		return []byte{}
	}
	sig, err := ethsig.DecodeSignature(raw)
	if err != nil {
		return []byte{}
	}
	return sig
}

// VerifyBatchRequest is the body of POST /verify/batch.
type VerifyBatchRequest struct {
	Items []VerifyRequest `json:"items"`
}

func (r *VerifyBatchRequest) Validate() error {
	if len(r.Items) == 0 {
		return dErrors.New(dErrors.CodeValidation, "items are required")
	}
	if len(r.Items) > service.MaxBatchSize {
		return dErrors.New(dErrors.CodeValidation, "too many items")
	}
	for i := range r.Items {
		if err := r.Items[i].Validate(); err != nil {
			return dErrors.Wrap(err, dErrors.CodeOf(err), "item "+strconv.Itoa(i)+": "+dErrors.Message(err))
		}
	}
	return nil
}

func (r *VerifyBatchRequest) items() []service.VerifyItem {
	out := make([]service.VerifyItem, len(r.Items))
	for i := range r.Items {
		out[i] = r.Items[i].item
	}
	return out
}
