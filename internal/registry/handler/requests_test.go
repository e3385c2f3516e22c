package handler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notary/internal/registry/service"
	dErrors "notary/pkg/domain-errors"
)

const testFP = "0x0101010101010101010101010101010101010101010101010101010101010101"

func TestIssueRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  IssueRequest
		code dErrors.Code
	}{
		{"missing fingerprint", IssueRequest{Subject: "0x" + strings.Repeat("1", 40)}, dErrors.CodeValidation},
		{"missing subject", IssueRequest{Fingerprint: testFP}, dErrors.CodeValidation},
		{"short subject", IssueRequest{Fingerprint: testFP, Subject: "0x12"}, dErrors.CodeInvalidInput},
		{"ok", IssueRequest{Fingerprint: testFP, Subject: "0x" + strings.Repeat("0", 40)}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.code == "" {
				require.NoError(t, err)
				assert.Equal(t, testFP, tt.req.fp.String())
				assert.True(t, tt.req.subject.IsZero())
				return
			}
			assert.True(t, dErrors.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestVerifyBatchRequestValidate(t *testing.T) {
	item := VerifyRequest{Fingerprint: testFP, Nonce: "1", Signature: "0x00"}

	t.Run("too many items", func(t *testing.T) {
		req := VerifyBatchRequest{Items: make([]VerifyRequest, service.MaxBatchSize+1)}
		for i := range req.Items {
			req.Items[i] = item
		}
		assert.True(t, dErrors.HasCode(req.Validate(), dErrors.CodeValidation))
	})

	t.Run("item error names its index", func(t *testing.T) {
		req := VerifyBatchRequest{Items: []VerifyRequest{item, {Fingerprint: testFP, Nonce: "-1"}}}
		err := req.Validate()
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		assert.Contains(t, dErrors.Message(err), "item 1")
	})

	t.Run("items carry parsed values", func(t *testing.T) {
		req := VerifyBatchRequest{Items: []VerifyRequest{item}}
		require.NoError(t, req.Validate())
		items := req.items()
		require.Len(t, items, 1)
		assert.Equal(t, []byte{0x00}, items[0].Signature)
		assert.Equal(t, "1", items[0].Nonce.String())
	})

}

func TestVerifyRequestMalformedSignature(t *testing.T) {
	for name, raw := range map[string]string{
		"oversized": strings.Repeat("a", 200),
		"non-hex":   "0xnothex",
		"odd":       "0xabc",
		"empty":     "",
	} {
		t.Run(name, func(t *testing.T) {
			req := VerifyRequest{Fingerprint: testFP, Nonce: "1", Signature: raw}
			require.NoError(t, req.Validate())
			assert.Empty(t, req.item.Signature)
		})
	}
}
