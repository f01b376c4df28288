package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()

	client, err := NewClient(Config{
		BaseURL:     baseURL,
		MaxRetries:  2,
		BaseBackoff: time.Millisecond,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(Config{}, zaptest.NewLogger(t)); err == nil {
		t.Fatalf("expected validation error for empty BaseURL, got nil")
	}
	if _, err := NewClient(Config{BaseURL: "openrouter.ai"}, zaptest.NewLogger(t)); err == nil {
		t.Fatalf("expected validation error for scheme-less BaseURL, got nil")
	}
}

func TestBaseURLTrimsTrailingSlash(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, "http://example.test/api/v1/")
	if got := client.BaseURL(); got != "http://example.test/api/v1" {
		t.Fatalf("BaseURL = %q", got)
	}
}

func TestChatCompletionsSuccess(t *testing.T) {
	t.Parallel()

	var gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"chatcmpl-1"}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.ChatCompletions(context.Background(), "sk-test", []byte(`{"model":"m"}`))
	if err != nil {
		t.Fatalf("ChatCompletions: %v", err)
	}
	defer resp.Body.Close()

	if gotAuth != "Bearer sk-test" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotBody != `{"model":"m"}` {
		t.Fatalf("body = %q", gotBody)
	}
	raw, _ := io.ReadAll(resp.Body)
	if string(raw) != `{"id":"chatcmpl-1"}` {
		t.Fatalf("response body = %q", raw)
	}
}

func TestChatCompletionsStatusErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":"overloaded"}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.ChatCompletions(context.Background(), "sk-test", []byte(`{}`))

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("StatusCode = %d", statusErr.StatusCode)
	}
	if statusErr.Error() != "Upstream returned 503 Service Unavailable" {
		t.Fatalf("Error() = %q", statusErr.Error())
	}
	if !strings.Contains(statusErr.Body, "overloaded") {
		t.Fatalf("Body = %q", statusErr.Body)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("expected exactly one upstream call, got %d", n)
	}
}

func TestChatCompletionsTransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := newTestClient(t, url)
	_, err := client.ChatCompletions(context.Background(), "sk-test", []byte(`{}`))
	if err == nil {
		t.Fatalf("expected transport error, got nil")
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		t.Fatalf("transport failure must not be a StatusError: %v", err)
	}
}

func TestListModelsRetriesTransientStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"data":[]}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	body, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if string(body) != `{"data":[]}` {
		t.Fatalf("body = %q", body)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("expected 2 calls, got %d", n)
	}
}

func TestListModelsDoesNotRetryClientError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.ListModels(context.Background())

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 StatusError, got %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("expected 1 call, got %d", n)
	}
}

func TestPingReportsStatusAndBody(t *testing.T) {
	t.Parallel()

	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, "slow down")
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	res, err := client.Ping(context.Background(), "sk-probe", "vendor/model:free")
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if res.StatusCode != http.StatusTooManyRequests || res.Body != "slow down" {
		t.Fatalf("unexpected probe result: %+v", res)
	}
	if !strings.Contains(gotBody, `"max_tokens":1`) || !strings.Contains(gotBody, `"model":"vendor/model:free"`) {
		t.Fatalf("unexpected ping payload: %s", gotBody)
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		header string
		want   time.Duration
	}{
		{"", 0},
		{"3", 3 * time.Second},
		{"-1", 0},
		{"99999", maxRetryAfter},
		{"garbage", 0},
	}
	for _, tt := range tests {
		resp := &http.Response{Header: http.Header{}}
		if tt.header != "" {
			resp.Header.Set("Retry-After", tt.header)
		}
		if got := parseRetryAfter(resp); got != tt.want {
			t.Fatalf("parseRetryAfter(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
}

func TestComputeBackoffBounds(t *testing.T) {
	t.Parallel()

	for attempt := 0; attempt < 20; attempt++ {
		d := computeBackoff(100*time.Millisecond, attempt)
		if d < 0 || d > maxBackoff {
			t.Fatalf("attempt %d: backoff %v out of range", attempt, d)
		}
	}
}
