package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"tiergate/internal/metrics"
	"tiergate/internal/responses"
	"tiergate/internal/upstream"
	"tiergate/pkg/logging/logging"
)

const (
	modeStream    = "stream"
	modeNonStream = "non_stream"
)

// Responses handles POST /responses: validates and resolves the request
// locally, translates it to Chat Completions, makes exactly one upstream call
// and translates the answer back, streamed or whole.
func (h *TierHandler) Responses(w http.ResponseWriter, r *http.Request) {
	// Cancelling this context tears down the upstream call and the stream
	// producer, whichever side gives up first.
	ctx, cancel := context.WithCancel(logging.WithFields(r.Context(), h.logFields()))
	defer cancel()

	logger := logging.L(ctx)
	start := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBodyReadError(w, err)
		return
	}
	if !gjson.ValidBytes(body) {
		WriteError(w, http.StatusBadRequest, ErrTypeInvalidRequest, "invalid JSON body", "")
		return
	}

	model := gjson.GetBytes(body, "model")
	if model.Type != gjson.String || model.String() == "" {
		WriteError(w, http.StatusBadRequest, ErrTypeInvalidRequest,
			"missing required parameter: model", "missing_parameter")
		return
	}

	m, ok := h.Directory.Resolve(h.Tier, model.String())
	if !ok {
		modelNotFound(w, model.String())
		return
	}

	apiKey := bearerToken(r)
	if apiKey == "" {
		WriteError(w, http.StatusUnauthorized, ErrTypeAuthentication,
			"Missing API key in Authorization header", "missing_api_key")
		return
	}

	if body, err = sjson.SetBytes(body, "model", m.ID); err != nil {
		WriteError(w, http.StatusInternalServerError, ErrTypeServer, "failed to rewrite model", "")
		return
	}

	req, err := h.Translator.TranslateRequest(body)
	if err != nil {
		if errors.Is(err, responses.ErrMissingModel) {
			WriteError(w, http.StatusBadRequest, ErrTypeInvalidRequest,
				"missing required parameter: model", "missing_parameter")
			return
		}
		WriteError(w, http.StatusBadRequest, ErrTypeInvalidRequest, err.Error(), "")
		return
	}

	mode := modeNonStream
	if req.IsStream {
		mode = modeStream
	}
	logger = logger.With(
		zap.String("response_id", req.ResponseID),
		zap.String("model", req.Model),
		zap.String("mode", mode),
	)

	resp, err := h.Upstream.ChatCompletions(ctx, apiKey, req.CCBody)
	if err != nil {
		metrics.ResponsesRequestsTotal.WithLabelValues(string(h.Tier), mode, "upstream_error").Inc()
		writeUpstreamError(w, err)
		logger.Warn("responses upstream call failed",
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return
	}

	var outcome string
	if req.IsStream {
		outcome = h.streamResponse(ctx, cancel, w, resp, req, logger)
	} else {
		outcome = h.completeResponse(w, resp, req, logger)
	}

	metrics.ResponsesRequestsTotal.WithLabelValues(string(h.Tier), mode, outcome).Inc()
	logger.Info("responses call finished",
		zap.String("outcome", outcome),
		zap.Duration("duration", time.Since(start)),
	)
}

func (h *TierHandler) completeResponse(
	w http.ResponseWriter,
	resp *http.Response,
	req *responses.TranslatedRequest,
	logger *zap.Logger,
) string {
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.UpstreamErrorsTotal.WithLabelValues("transport").Inc()
		logger.Warn("reading upstream body failed", zap.Error(err))
		WriteError(w, http.StatusBadGateway, ErrTypeServer, "upstream error: "+err.Error(), "")
		return "upstream_error"
	}

	out, err := h.Translator.TranslateResponse(raw, req)
	if err != nil {
		metrics.UpstreamErrorsTotal.WithLabelValues("decode").Inc()
		logger.Warn("upstream body is not valid JSON", zap.Int("bytes", len(raw)), zap.Error(err))
		WriteError(w, http.StatusBadGateway, ErrTypeServer, err.Error(), "")
		return "decode_error"
	}

	writeJSON(w, http.StatusOK, out)
	return out.Status
}

// streamResponse relays lifecycle events as SSE frames. The producer is the
// only writer of events and this loop the only reader; the loop always runs
// until the producer closes the channel.
func (h *TierHandler) streamResponse(
	ctx context.Context,
	cancel context.CancelFunc,
	w http.ResponseWriter,
	resp *http.Response,
	req *responses.TranslatedRequest,
	logger *zap.Logger,
) string {
	events := h.Translator.Stream(ctx, resp.Body, req)

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	outcome := "abandoned"
	writeFailed := false
	for ev := range events {
		if writeFailed {
			continue
		}
		if _, err := w.Write(ev.Frame()); err != nil {
			logger.Info("client went away mid-stream",
				zap.Int64("sequence", ev.Sequence),
				zap.Error(err),
			)
			writeFailed = true
			cancel()
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
		metrics.ResponsesStreamEventsTotal.WithLabelValues(ev.Type).Inc()

		switch ev.Type {
		case responses.EventCompleted:
			outcome = responses.StatusCompleted
		case responses.EventIncomplete:
			outcome = responses.StatusIncomplete
		}
	}
	return outcome
}

// writeUpstreamError maps a failed upstream call onto the error envelope.
// Upstream bodies are never relayed.
func writeUpstreamError(w http.ResponseWriter, err error) {
	var statusErr *upstream.StatusError
	if errors.As(err, &statusErr) {
		status := statusErr.StatusCode
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		WriteError(w, status, ErrTypeServer, statusErr.Error(), "")
		return
	}
	WriteError(w, http.StatusBadGateway, ErrTypeServer, err.Error(), "")
}
