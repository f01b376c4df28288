package middleware

import (
	"net/http"

	"tiergate/internal/handlers"
)

// MaxBodySize caps request bodies at n bytes. Declared oversize bodies are
// rejected up front; undeclared ones fail on read with *http.MaxBytesError.
func MaxBodySize(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > n {
				handlers.WriteError(w, http.StatusRequestEntityTooLarge, "", "request body too large", "")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}
