package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"tiergate/pkg/logging/logging"
)

var forwardedHeaders = map[string]struct{}{
	"content-type":    {},
	"accept":          {},
	"accept-encoding": {},
	"authorization":   {},
	"user-agent":      {},
	"http-referer":    {},
	"x-title":         {},
}

var hopByHopHeaders = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-connection":    {},
	"transfer-encoding":   {},
	"te":                  {},
	"trailer":             {},
	"upgrade":             {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
}

const copyBufferSize = 32 * 1024

// ChatCompletions handles POST /chat/completions by relaying the request to
// the upstream. A display model id is rewritten to the canonical one; a model
// outside the tier is rejected before anything is sent upstream.
func (h *TierHandler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := logging.WithFields(r.Context(), h.logFields())
	logger := logging.L(ctx)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBodyReadError(w, err)
		return
	}

	if model := gjson.GetBytes(body, "model"); model.Type == gjson.String && gjson.ValidBytes(body) {
		m, ok := h.Directory.Resolve(h.Tier, model.String())
		if !ok {
			logger.Info("pass-through model not in tier", zap.String("model", model.String()))
			modelNotFound(w, model.String())
			return
		}
		if m.ID != model.String() {
			if body, err = sjson.SetBytes(body, "model", m.ID); err != nil {
				WriteError(w, http.StatusInternalServerError, "", "failed to rewrite model", "")
				return
			}
		}
	}

	path := "/chat/completions"
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	resp, err := h.Upstream.Forward(ctx, r.Method, path, forwardHeaders(r.Header), body)
	if err != nil {
		logger.Warn("pass-through upstream failed", zap.Error(err))
		WriteError(w, http.StatusBadGateway, "", err.Error(), "")
		return
	}
	defer resp.Body.Close()

	for name, values := range resp.Header {
		if _, hop := hopByHopHeaders[strings.ToLower(name)]; hop {
			continue
		}
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	if err := copyFlushing(w, resp.Body); err != nil && ctx.Err() == nil {
		logger.Warn("pass-through body copy interrupted", zap.Error(err))
	}
}

func forwardHeaders(in http.Header) http.Header {
	out := make(http.Header, len(in))
	for name, values := range in {
		lower := strings.ToLower(name)
		if _, ok := forwardedHeaders[lower]; ok || strings.HasPrefix(lower, "x-") {
			out[name] = append([]string(nil), values...)
		}
	}
	return out
}

// copyFlushing streams src to w, flushing after every chunk so SSE bodies
// reach the client as they arrive.
func copyFlushing(w http.ResponseWriter, src io.Reader) error {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, copyBufferSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func writeBodyReadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		WriteError(w, http.StatusRequestEntityTooLarge, "", "request body too large", "")
		return
	}
	WriteError(w, http.StatusBadRequest, "", "failed to read body: "+err.Error(), "")
}
