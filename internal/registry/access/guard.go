// Package access holds the single-privileged-identity check shared by every
// mutating registry operation.
package access

import (
	"context"

	id "notary/pkg/domain"
	dErrors "notary/pkg/domain-errors"
)

// Guard authorizes callers against the one privileged identity fixed at
// construction. It has no setters; the issuer cannot change for the lifetime
// of the registry.
type Guard struct {
	issuer id.Address
}

// NewGuard returns a Guard for issuer. A zero issuer is rejected so a
// misconfigured registry cannot be driven by anonymous callers.
func NewGuard(issuer id.Address) (*Guard, error) {
	if issuer.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "issuer address is required")
	}
	return &Guard{issuer: issuer}, nil
}

// Issuer returns the privileged identity.
func (g *Guard) Issuer() id.Address {
	return g.issuer
}

// Authorize fails with CodeUnauthorized unless caller is the issuer.
func (g *Guard) Authorize(_ context.Context, caller id.Address) error {
	if caller.IsZero() {
		return dErrors.New(dErrors.CodeUnauthorized, "caller identity is required")
	}
	if caller != g.issuer {
		return dErrors.New(dErrors.CodeUnauthorized, "caller is not the registry issuer")
	}
	return nil
}
