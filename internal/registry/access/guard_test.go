package access

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "notary/pkg/domain"
	dErrors "notary/pkg/domain-errors"
)

func TestGuard(t *testing.T) {
	issuer := id.Address{0x01}
	guard, err := NewGuard(issuer)
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("issuer is authorized", func(t *testing.T) {
		assert.NoError(t, guard.Authorize(ctx, issuer))
	})

	t.Run("other identity is unauthorized", func(t *testing.T) {
		err := guard.Authorize(ctx, id.Address{0x02})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("anonymous caller is unauthorized", func(t *testing.T) {
		err := guard.Authorize(ctx, id.Address{})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("issuer is fixed", func(t *testing.T) {
		assert.Equal(t, issuer, guard.Issuer())
	})
}

func TestNewGuard_RejectsZeroIssuer(t *testing.T) {
	_, err := NewGuard(id.Address{})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}
