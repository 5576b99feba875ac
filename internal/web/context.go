package web

import (
	"net"
	"net/http"

	"github.com/JonMunkholm/libinventory/internal/core"
)

// withRequestMetadata adds IP and User-Agent to the request context for
// audit logging. It must run after TrustedRealIP.
func withRequestMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := core.WithRequestMeta(r.Context(), core.RequestMeta{
			IPAddress: clientIP(r),
			UserAgent: r.UserAgent(),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientIP returns RemoteAddr without its port.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
