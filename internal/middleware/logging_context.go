package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"tiergate/pkg/logging/logging"
)

// LoggingContext attaches a request-scoped logger to the context and logs one
// access line when the request finishes.
func LoggingContext(baseLogger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			start := time.Now()

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			}
			if reqID := chimw.GetReqID(ctx); reqID != "" {
				fields = append(fields, zap.String("request_id", reqID))
			}
			// RemoteAddr is already rewritten by chi's RealIP when present.
			if r.RemoteAddr != "" {
				fields = append(fields, zap.String("remote_ip", r.RemoteAddr))
			}
			if ua := r.UserAgent(); ua != "" {
				fields = append(fields, zap.String("user_agent", ua))
			}

			reqLogger := baseLogger.With(fields...)
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(logging.WithLogger(ctx, reqLogger)))

			reqLogger.Info("request completed",
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
