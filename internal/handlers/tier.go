package handlers

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"tiergate/internal/catalog"
	"tiergate/internal/responses"
)

// ModelDirectory is the read side of the model directory.
type ModelDirectory interface {
	Models(tier catalog.Tier) []catalog.Model
	Resolve(tier catalog.Tier, id string) (catalog.Model, bool)
	Status() catalog.Status
}

// Upstream is what the tier endpoints need from the aggregation API.
type Upstream interface {
	ChatCompletions(ctx context.Context, apiKey string, body []byte) (*http.Response, error)
	Forward(ctx context.Context, method, path string, header http.Header, body []byte) (*http.Response, error)
}

// TierHandler serves one tier's /models, /chat/completions and /responses.
type TierHandler struct {
	Tier       catalog.Tier
	Directory  ModelDirectory
	Upstream   Upstream
	Translator *responses.Translator
}

func NewTierHandler(tier catalog.Tier, dir ModelDirectory, up Upstream, tr *responses.Translator) *TierHandler {
	return &TierHandler{
		Tier:       tier,
		Directory:  dir,
		Upstream:   up,
		Translator: tr,
	}
}

func (h *TierHandler) logFields() zap.Field {
	return zap.String("tier", string(h.Tier))
}

func modelNotFound(w http.ResponseWriter, id string) {
	WriteError(w, http.StatusNotFound, ErrTypeInvalidRequest,
		"The model '"+id+"' does not exist", "model_not_found")
}

// bearerToken returns the key from "Authorization: Bearer <key>".
func bearerToken(r *http.Request) string {
	key, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(key)
}
