package sentinel

import "errors"

// Sentinel errors for storage facts. Stores return these (optionally wrapped)
// and services translate them into coded domain errors:
//   - ErrNotFound: no row/key for the requested identity
//   - ErrAlreadyUsed: an identity key is already taken (unique violation)
//   - ErrInvalidState: the row exists but the requested transition is not allowed
//   - ErrUnavailable: backing service temporarily unreachable
//
// Validation failures do not belong here; use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
