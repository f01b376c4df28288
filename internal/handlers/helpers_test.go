package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"tiergate/internal/catalog"
	"tiergate/internal/idgen"
	"tiergate/internal/responses"
	"tiergate/internal/upstream"
)

var testNow = time.Unix(1_700_000_000, 0)

type fakeDirectory struct {
	tiers  map[catalog.Tier][]catalog.Model
	status catalog.Status
}

func (d *fakeDirectory) Models(tier catalog.Tier) []catalog.Model {
	return d.tiers[tier]
}

func (d *fakeDirectory) Resolve(tier catalog.Tier, id string) (catalog.Model, bool) {
	for _, m := range d.tiers[tier] {
		if m.MatchesDisplayID(id) {
			return m, true
		}
	}
	return catalog.Model{}, false
}

func (d *fakeDirectory) Status() catalog.Status {
	return d.status
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		tiers: map[catalog.Tier][]catalog.Model{
			catalog.TierFree: {
				{ID: "google/gemma-3-27b-it:free", SupportedParameters: []string{"tools", "stream"}},
				{ID: "mistralai/devstral:free"},
			},
			catalog.TierStealth: {
				{ID: "stealth/horizon-alpha"},
			},
		},
	}
}

// recordedRequest is what the fake upstream saw.
type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

type fakeUpstream struct {
	server   *httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
}

// newFakeUpstream starts an httptest server that records every request and
// answers with handler.
func newFakeUpstream(t *testing.T, handler http.HandlerFunc) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.requests = append(f.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Header: r.Header.Clone(),
			Body:   body,
		})
		f.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeUpstream) calls() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func newTestTierHandler(t *testing.T, tier catalog.Tier, up *fakeUpstream) *TierHandler {
	t.Helper()

	client, err := upstream.NewClient(upstream.Config{BaseURL: up.server.URL}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("upstream.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	clock := func() time.Time { return testNow }
	tr := responses.NewTranslator(idgen.New(1, clock), clock, zaptest.NewLogger(t))
	return NewTierHandler(tier, newFakeDirectory(), client, tr)
}

func decodeErrorEnvelope(t *testing.T, rr *httptest.ResponseRecorder) errorDetail {
	t.Helper()

	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected JSON error, got content-type %q", ct)
	}
	var raw map[string]map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, rr.Body.String())
	}
	inner, ok := raw["error"]
	if !ok {
		t.Fatalf("missing error object: %s", rr.Body.String())
	}
	if v, ok := inner["param"]; !ok || v != nil {
		t.Fatalf("param must be present and null: %s", rr.Body.String())
	}
	if _, ok := inner["code"]; !ok {
		t.Fatalf("code must be present: %s", rr.Body.String())
	}

	var env errorEnvelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	return env.Error
}

func codeOf(d errorDetail) string {
	if d.Code == nil {
		return ""
	}
	return *d.Code
}
