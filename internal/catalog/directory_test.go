package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"tiergate/internal/cache"
	"tiergate/internal/upstream"
)

type fakeUpstream struct {
	mu       sync.Mutex
	models   []Model
	listErr  error
	statuses map[string]int // probe status per model; default 200
	pingErrs map[string]error
	pinged   []string
	keys     []string

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeUpstream) setModels(models ...Model) {
	f.mu.Lock()
	f.models = models
	f.mu.Unlock()
}

func (f *fakeUpstream) ListModels(context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return json.Marshal(map[string]any{"data": f.models})
}

func (f *fakeUpstream) Ping(_ context.Context, apiKey, modelID string) (upstream.ProbeResult, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.pinged = append(f.pinged, modelID)
	f.keys = append(f.keys, apiKey)
	if err := f.pingErrs[modelID]; err != nil {
		return upstream.ProbeResult{}, err
	}
	status := http.StatusOK
	if s, ok := f.statuses[modelID]; ok {
		status = s
	}
	return upstream.ProbeResult{StatusCode: status, Body: "probe body"}, nil
}

func (f *fakeUpstream) pingedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pinged...)
}

func newTestDirectory(t *testing.T, cfg Config, up Upstream, store cache.Store) *Directory {
	t.Helper()
	if cfg.ProbeRate == 0 {
		cfg.ProbeRate = 1000
	}
	d, err := New(cfg, up, store, zaptest.NewLogger(t))
	require.NoError(t, err)
	return d
}

func TestNewRequiresUpstream(t *testing.T) {
	_, err := New(Config{}, nil, nil, zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestFullRefreshProbesAndClassifies(t *testing.T) {
	up := &fakeUpstream{
		statuses: map[string]int{
			"a/limited:free": http.StatusTooManyRequests,
			"a/broken:free":  http.StatusInternalServerError,
		},
		pingErrs: map[string]error{"a/offline:free": errors.New("dial tcp: connection refused")},
	}
	up.setModels(
		Model{ID: "a/ok:free"},
		Model{ID: "a/limited:free"},
		Model{ID: "a/broken:free"},
		Model{ID: "a/offline:free"},
		Model{ID: "stealth/ghost"},
		Model{ID: "openrouter/auto", Pricing: &Pricing{Prompt: "0", Completion: "0"}},
		Model{ID: "b/paid", Pricing: &Pricing{Prompt: "1", Completion: "2"}},
	)

	d := newTestDirectory(t, Config{ProbeKey: "sk-probe"}, up, nil)
	require.NoError(t, d.FullRefresh(context.Background()))

	require.Equal(t, []string{"a/ok:free", "a/limited:free"}, ids(d.Models(TierFree)))
	require.Equal(t, []string{"stealth/ghost"}, ids(d.Models(TierStealth)))
	require.ElementsMatch(t,
		[]string{"a/ok:free", "a/limited:free", "a/broken:free", "a/offline:free", "stealth/ghost"},
		up.pingedIDs(),
	)
	for _, k := range up.keys {
		require.Equal(t, "sk-probe", k)
	}

	st := d.Status()
	require.Equal(t, 2, st.FreeModels)
	require.Equal(t, 1, st.StealthModels)
}

func TestFullRefreshWithoutKeySkipsProbes(t *testing.T) {
	up := &fakeUpstream{statuses: map[string]int{"a/dead:free": http.StatusNotFound}}
	up.setModels(Model{ID: "a/dead:free"})

	d := newTestDirectory(t, Config{}, up, nil)
	require.NoError(t, d.FullRefresh(context.Background()))

	require.Equal(t, []string{"a/dead:free"}, ids(d.Models(TierFree)))
	require.Empty(t, up.pingedIDs())
}

func TestProbeConcurrencyIsBounded(t *testing.T) {
	up := &fakeUpstream{}
	var models []Model
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		models = append(models, Model{ID: "v/" + id + ":free"})
	}
	up.setModels(models...)

	d := newTestDirectory(t, Config{ProbeKey: "k", Concurrency: 2}, up, nil)
	require.NoError(t, d.FullRefresh(context.Background()))

	require.Len(t, d.Models(TierFree), len(models))
	require.LessOrEqual(t, up.maxInFlight.Load(), int32(2))
}

func TestFetchFailureKeepsSnapshot(t *testing.T) {
	up := &fakeUpstream{}
	up.setModels(Model{ID: "a/one:free"})

	d := newTestDirectory(t, Config{}, up, nil)
	require.NoError(t, d.FullRefresh(context.Background()))
	before := d.Status().LastRefreshed

	up.mu.Lock()
	up.listErr = errors.New("upstream down")
	up.mu.Unlock()

	require.Error(t, d.DiffRefresh(context.Background()))
	require.Error(t, d.FullRefresh(context.Background()))
	require.Equal(t, []string{"a/one:free"}, ids(d.Models(TierFree)))
	require.Equal(t, before, d.Status().LastRefreshed)
}

func TestDiffRefreshProbesOnlyNewModels(t *testing.T) {
	up := &fakeUpstream{statuses: map[string]int{"a/new-dead:free": http.StatusBadRequest}}
	up.setModels(Model{ID: "a/stays:free"}, Model{ID: "a/goes:free"})

	d := newTestDirectory(t, Config{ProbeKey: "k"}, up, nil)
	require.NoError(t, d.FullRefresh(context.Background()))
	require.Len(t, up.pingedIDs(), 2)

	// a previously admitted model is never re-probed, even if it would now fail
	up.mu.Lock()
	up.statuses["a/stays:free"] = http.StatusInternalServerError
	up.pinged = nil
	up.mu.Unlock()

	up.setModels(Model{ID: "a/stays:free"}, Model{ID: "a/new:free"}, Model{ID: "a/new-dead:free"})
	require.NoError(t, d.DiffRefresh(context.Background()))

	require.Equal(t, []string{"a/stays:free", "a/new:free"}, ids(d.Models(TierFree)))
	require.ElementsMatch(t, []string{"a/new:free", "a/new-dead:free"}, up.pingedIDs())
}

func TestResolve(t *testing.T) {
	up := &fakeUpstream{}
	up.setModels(Model{ID: "google/gemma-3-27b-it:free"}, Model{ID: "stealth/horizon"})

	d := newTestDirectory(t, Config{}, up, nil)
	require.NoError(t, d.FullRefresh(context.Background()))

	m, ok := d.Resolve(TierFree, "gemma-3-27b-it")
	require.True(t, ok)
	require.Equal(t, "google/gemma-3-27b-it:free", m.ID)

	_, ok = d.Resolve(TierFree, "horizon")
	require.False(t, ok, "stealth model must not resolve in the free tier")

	m, ok = d.Resolve(TierStealth, "stealth/horizon")
	require.True(t, ok)
	require.Equal(t, "stealth/horizon", m.ID)
}

func TestSnapshotPersistAndRestore(t *testing.T) {
	store := cache.NewMemoryStore(time.Minute)
	defer store.Close()

	up := &fakeUpstream{}
	up.setModels(Model{ID: "a/one:free", Name: "One"}, Model{ID: "stealth/two"})

	first := newTestDirectory(t, Config{VersionID: "v9"}, up, store)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first.now = func() time.Time { return fixed }
	require.NoError(t, first.FullRefresh(context.Background()))

	_, ok, err := store.Get(context.Background(), "catalog:v9:free")
	require.NoError(t, err)
	require.True(t, ok)

	second := newTestDirectory(t, Config{VersionID: "v9"}, &fakeUpstream{}, store)
	require.True(t, second.Restore(context.Background()))
	require.Equal(t, []string{"a/one:free"}, ids(second.Models(TierFree)))
	require.Equal(t, []string{"stealth/two"}, ids(second.Models(TierStealth)))
	require.True(t, fixed.Equal(second.Status().LastRefreshed))

	other := newTestDirectory(t, Config{VersionID: "v10"}, &fakeUpstream{}, store)
	require.False(t, other.Restore(context.Background()))
	require.Empty(t, other.Models(TierFree))
}

func TestRestoreIgnoresCorruptSnapshot(t *testing.T) {
	store := cache.NewMemoryStore(time.Minute)
	defer store.Close()
	require.NoError(t, store.Set(context.Background(), "catalog:v1:free", []byte("{not json"), 0))

	d := newTestDirectory(t, Config{}, &fakeUpstream{}, store)
	require.False(t, d.Restore(context.Background()))
}

func TestRunStopsOnCancel(t *testing.T) {
	up := &fakeUpstream{}
	up.setModels(Model{ID: "a/one:free"})

	d := newTestDirectory(t, Config{RefreshInterval: 5 * time.Millisecond}, up, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(d.Models(TierFree)) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
