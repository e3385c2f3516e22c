package metadata

import (
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"notary/pkg/requestcontext"
)

// Client kinds reported by Classify.
const (
	KindBrowser = "browser"
	KindMobile  = "mobile"
	KindBot     = "bot"
	KindAPI     = "api"
)

// ClientMetadata extracts client IP, User-Agent and a coarse client kind
// from the request and adds them to the context.
// This middleware should be applied early in the chain.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua := r.Header.Get("User-Agent")
		ctx := requestcontext.WithClientMetadata(r.Context(), ClientIPFromRequest(r), ua, Classify(ua))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Classify maps a User-Agent to a client kind. Anything that does not parse
// as a browser (curl, SDKs, services) is "api".
func Classify(ua string) string {
	if ua == "" {
		return KindAPI
	}
	parsed := useragent.New(ua)
	switch {
	case parsed.Bot():
		return KindBot
	case parsed.Mobile():
		return KindMobile
	}
	if name, _ := parsed.Browser(); name != "" && parsed.Platform() != "" {
		return KindBrowser
	}
	return KindAPI
}

// ClientIPFromRequest extracts the real client IP from the request, handling proxies and load balancers.
func ClientIPFromRequest(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs (client, proxy1, proxy2, ...)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// RemoteAddr is "ip:port", or "[::1]:port" for IPv6
	if addr := r.RemoteAddr; addr != "" {
		if idx := strings.LastIndex(addr, ":"); idx != -1 {
			return strings.Trim(addr[:idx], "[]")
		}
		return addr
	}

	return "unknown"
}
