package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap/zaptest"

	"tiergate/internal/catalog"
	"tiergate/internal/idgen"
	"tiergate/internal/responses"
	"tiergate/internal/upstream"
)

const fakeCatalog = `{"data":[
	{"id":"google/gemma-3-27b-it:free","name":"Gemma 3 27B","created":1700000000,"supported_parameters":["tools","stream"]},
	{"id":"stealth/horizon-alpha","name":"Horizon Alpha","description":"A cloaked model"},
	{"id":"openrouter/auto","name":"Auto Router","pricing":{"prompt":"-1","completion":"-1"}},
	{"id":"anthropic/claude","name":"Claude","pricing":{"prompt":"0.000003","completion":"0.000015"}}
]}`

// newTestGateway wires the real router, directory, client and translator
// against a fake aggregation API.
func newTestGateway(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zaptest.NewLogger(t)

	fakeAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/models":
			_, _ = io.WriteString(w, fakeCatalog)
		case "/chat/completions":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"model":"google/gemma-3-27b-it:free","choices":[{"message":{"role":"assistant","content":"pong"},"finish_reason":"stop"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(fakeAPI.Close)

	client, err := upstream.NewClient(upstream.Config{BaseURL: fakeAPI.URL}, logger)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	dir, err := catalog.New(catalog.Config{}, client, nil, logger)
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	if err := dir.FullRefresh(context.Background()); err != nil {
		t.Fatalf("FullRefresh: %v", err)
	}

	clock := func() time.Time { return time.Unix(1_700_000_000, 0) }
	tr := responses.NewTranslator(idgen.New(1, clock), clock, logger)

	r := chi.NewRouter()
	SetupRouter(r, logger, Deps{Directory: dir, Upstream: client, Translator: tr}, Options{MaxBodyBytes: 1024})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestHealthAndStatus(t *testing.T) {
	srv := newTestGateway(t)

	resp, body := get(t, srv.URL+"/health")
	if resp.StatusCode != http.StatusOK || body != "OK" {
		t.Fatalf("unexpected /health: %d %q", resp.StatusCode, body)
	}

	resp, body = get(t, srv.URL+"/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected /status code %d", resp.StatusCode)
	}
	var st map[string]any
	if err := json.Unmarshal([]byte(body), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st["free_models"] != float64(1) || st["stealth_models"] != float64(1) {
		t.Fatalf("unexpected status %v", st)
	}
}

func TestTierModelListings(t *testing.T) {
	srv := newTestGateway(t)

	for tier, want := range map[string]string{"free": "gemma-3-27b-it", "stealth": "horizon-alpha"} {
		resp, body := get(t, srv.URL+"/"+tier+"/v1/models")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: unexpected code %d", tier, resp.StatusCode)
		}
		var list catalog.OpenAIModelList
		if err := json.Unmarshal([]byte(body), &list); err != nil {
			t.Fatalf("%s: decode: %v", tier, err)
		}
		if len(list.Data) != 1 || list.Data[0].ID != want {
			t.Fatalf("%s: unexpected models %+v", tier, list.Data)
		}
	}

	resp, _ := get(t, srv.URL+"/free/v1/models/google/gemma-3-27b-it:free")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("canonical id lookup failed: %d", resp.StatusCode)
	}
}

func TestUnknownURL(t *testing.T) {
	srv := newTestGateway(t)

	resp, body := get(t, srv.URL+"/v2/whatever")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, `"code":"unknown_url"`) {
		t.Fatalf("unexpected body %s", body)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestGateway(t)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/free/v1/responses", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestGateway(t)

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/free/v1/responses", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "authorization,content-type")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		t.Fatalf("preflight rejected: %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestResponsesEndToEnd(t *testing.T) {
	srv := newTestGateway(t)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/free/v1/responses",
		strings.NewReader(`{"model":"gemma-3-27b-it","input":"ping"}`))
	req.Header.Set("Authorization", "Bearer sk-test")
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["status"] != "completed" || out["model"] != "google/gemma-3-27b-it:free" {
		t.Fatalf("unexpected response %v", out)
	}
}

func TestBodyLimit(t *testing.T) {
	srv := newTestGateway(t)

	big := `{"model":"gemma-3-27b-it","input":"` + strings.Repeat("x", 2048) + `"}`
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/free/v1/responses", strings.NewReader(big))
	req.Header.Set("Authorization", "Bearer sk-test")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.StatusCode)
	}
}
