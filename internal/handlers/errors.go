package handlers

import (
	"encoding/json"
	"net/http"
)

const (
	ErrTypeInvalidRequest = "invalid_request_error"
	ErrTypeAuthentication = "authentication_error"
	ErrTypePermission     = "permission_error"
	ErrTypeRateLimit      = "rate_limit_error"
	ErrTypeServer         = "server_error"
)

type errorEnvelope struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Param   *string `json:"param"`
	Code    *string `json:"code"`
}

// ErrorTypeForStatus derives the envelope type from an HTTP status.
func ErrorTypeForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return ErrTypeAuthentication
	case status == http.StatusForbidden:
		return ErrTypePermission
	case status == http.StatusTooManyRequests:
		return ErrTypeRateLimit
	case status >= 400 && status < 500:
		return ErrTypeInvalidRequest
	default:
		return ErrTypeServer
	}
}

// WriteError sends the OpenAI-style error envelope. An empty errType is
// derived from status; an empty code is rendered as null.
func WriteError(w http.ResponseWriter, status int, errType, message, code string) {
	if errType == "" {
		errType = ErrorTypeForStatus(status)
	}
	body := errorEnvelope{Error: errorDetail{Message: message, Type: errType}}
	if code != "" {
		body.Error.Code = &code
	}
	writeJSON(w, status, body)
}

// NotFound answers unknown paths.
func NotFound(w http.ResponseWriter, _ *http.Request) {
	WriteError(w, http.StatusNotFound, "", "Unknown API endpoint", "unknown_url")
}

func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusMethodNotAllowed, "", "Method "+r.Method+" is not allowed on this endpoint", "")
}

// writeJSON is a small helper to send JSON responses consistently.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
