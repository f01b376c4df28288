package middleware

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"tiergate/internal/handlers"
	"tiergate/pkg/logging/logging"
)

// Timeout cancels the request context after d and returns 504 if still
// running. The handler writes into a buffer, so it must not stream; mount it
// only on routes with small, bounded responses.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			buf := &bufferedWriter{header: make(http.Header)}
			done := make(chan struct{})
			panicked := make(chan any, 1)

			go func() {
				defer close(done)
				defer func() {
					if p := recover(); p != nil {
						panicked <- p
					}
				}()
				next.ServeHTTP(buf, r.WithContext(ctx))
			}()

			select {
			case <-done:
				select {
				case p := <-panicked:
					panic(p)
				default:
				}
				buf.flushTo(w)
			case <-ctx.Done():
				// context timeout/cancelled
				logging.L(ctx).Warn("request timeout", zap.Duration("timeout", d))
				handlers.WriteError(w, http.StatusGatewayTimeout, handlers.ErrTypeServer,
					"request timed out", "")
			}
		})
	}
}

type bufferedWriter struct {
	header http.Header
	body   bytes.Buffer
	code   int
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(code int) {
	if b.code == 0 {
		b.code = code
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if b.code == 0 {
		b.code = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedWriter) flushTo(w http.ResponseWriter) {
	dst := w.Header()
	for k, v := range b.header {
		dst[k] = v
	}
	if b.code == 0 {
		b.code = http.StatusOK
	}
	w.WriteHeader(b.code)
	_, _ = w.Write(b.body.Bytes())
}
