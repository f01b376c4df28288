package responses

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"tiergate/internal/idgen"
)

var testNow = time.Unix(1_700_000_000, 0)

func newTestTranslator(t *testing.T) *Translator {
	t.Helper()
	clock := func() time.Time { return testNow }
	return NewTranslator(idgen.New(1, clock), clock, zaptest.NewLogger(t))
}

func mustTranslate(t *testing.T, tr *Translator, body string) *TranslatedRequest {
	t.Helper()
	req, err := tr.TranslateRequest([]byte(body))
	require.NoError(t, err)
	return req
}

func toMap(t *testing.T, v any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func decodeEvent(t *testing.T, ev Event) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(ev.Data, &out))
	require.Equal(t, ev.Type, out["type"], "payload type must match the SSE event name")
	return out
}
