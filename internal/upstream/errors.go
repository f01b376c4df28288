package upstream

import (
	"fmt"
	"net/http"
)

// StatusError reports a non-2xx answer from the upstream. Body is kept for
// logging only and must not be relayed to callers.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Upstream returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// truncate limits string length for logging
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
