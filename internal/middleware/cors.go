package middleware

import (
	"net/http"
	"strconv"
	"time"
)

// Response headers a browser client needs to read: the request id for
// support, Retry-After from the rate limiter and the archive file name.
const exposedHeaders = "X-Request-ID, Retry-After, Content-Disposition"

// CORS echoes allowed origins. A preflight from an unknown origin gets 403
// so the browser reports a CORS failure instead of a silent empty response;
// other OPTIONS requests are answered with 204.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allow := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allow[origin] = struct{}{}
	}
	maxAge := strconv.Itoa(int((10 * time.Minute).Seconds()))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			_, allowed := allow[origin]
			preflight := r.Method == http.MethodOptions && origin != "" &&
				r.Header.Get("Access-Control-Request-Method") != ""

			if origin != "" {
				w.Header().Add("Vary", "Origin")
			}
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Expose-Headers", exposedHeaders)
			}

			switch {
			case preflight && !allowed:
				w.WriteHeader(http.StatusForbidden)
			case preflight:
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
				w.Header().Set("Access-Control-Max-Age", maxAge)
				w.WriteHeader(http.StatusNoContent)
			case r.Method == http.MethodOptions:
				w.WriteHeader(http.StatusNoContent)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}
