package testutil

import (
	"net/http"

	id "notary/pkg/domain"
	"notary/pkg/requestcontext"
)

// WithCaller attaches caller to the request as the auth middleware would.
func WithCaller(req *http.Request, caller id.Address) *http.Request {
	return req.WithContext(requestcontext.WithCaller(req.Context(), caller))
}

// PassThrough stands in for the auth middleware when the caller is
// injected directly with WithCaller.
func PassThrough(next http.Handler) http.Handler {
	return next
}
