package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"fireflow/internal/infra"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	loggerKey    contextKey = "logger"
)

// RequestID tags the request with a uuid, reusing a valid X-Request-ID, and
// stores a logger carrying that id so handlers log under the same key as the
// access line.
func RequestID(l *infra.Logger) func(http.Handler) http.Handler {
	if l == nil {
		l = infra.NopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rid := r.Header.Get("X-Request-ID")
			// Client ids end up in scratch paths and logs; anything odd is replaced.
			if _, err := uuid.Parse(rid); err != nil {
				rid = uuid.NewString()
			}
			scoped := l.With().Str("request_id", rid).Logger()
			ctx := context.WithValue(r.Context(), requestIDKey, rid)
			ctx = context.WithValue(ctx, loggerKey, &scoped)
			w.Header().Set("X-Request-ID", rid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LoggerFromContext returns the request-scoped logger, or fallback outside
// the RequestID middleware.
func LoggerFromContext(ctx context.Context, fallback *infra.Logger) *infra.Logger {
	if l, ok := ctx.Value(loggerKey).(*infra.Logger); ok {
		return l
	}
	if fallback == nil {
		return infra.NopLogger()
	}
	return fallback
}
