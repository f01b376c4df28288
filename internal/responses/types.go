package responses

import (
	"encoding/json"
	"errors"
)

var (
	// ErrMissingModel is returned when the inbound body has no string model.
	ErrMissingModel = errors.New("missing `model`")
	// ErrUpstreamDecode is returned when a complete upstream object is not JSON.
	ErrUpstreamDecode = errors.New("failed to parse upstream response")
)

const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusIncomplete = "incomplete"

	finishLength = "length"
	finishStop   = "stop"
)

var (
	rawNull      = json.RawMessage("null")
	rawOne       = json.RawMessage("1")
	rawTrue      = json.RawMessage("true")
	rawAuto      = json.RawMessage(`"auto"`)
	rawEmptyList = json.RawMessage("[]")
)

// TranslatedRequest is produced once per call and never modified afterwards.
// Every echoed value is replayed verbatim into each emitted object.
type TranslatedRequest struct {
	CCBody     []byte
	ResponseID string
	Model      string

	ToolsEcho         json.RawMessage
	Instructions      json.RawMessage
	Temperature       json.RawMessage
	TopP              json.RawMessage
	ToolChoice        json.RawMessage
	ParallelToolCalls json.RawMessage
	MaxOutputTokens   json.RawMessage

	IsStream bool
}

// Response is the Responses-protocol response object.
type Response struct {
	ID                 string             `json:"id"`
	Object             string             `json:"object"`
	CreatedAt          int64              `json:"created_at"`
	Status             string             `json:"status"`
	CompletedAt        *int64             `json:"completed_at"`
	Error              json.RawMessage    `json:"error"`
	IncompleteDetails  *IncompleteDetails `json:"incomplete_details"`
	Instructions       json.RawMessage    `json:"instructions"`
	MaxOutputTokens    json.RawMessage    `json:"max_output_tokens"`
	Model              string             `json:"model"`
	Output             []OutputItem       `json:"output"`
	ParallelToolCalls  json.RawMessage    `json:"parallel_tool_calls"`
	PreviousResponseID *string            `json:"previous_response_id"`
	Temperature        json.RawMessage    `json:"temperature"`
	Text               TextConfig         `json:"text"`
	ToolChoice         json.RawMessage    `json:"tool_choice"`
	Tools              json.RawMessage    `json:"tools"`
	TopP               json.RawMessage    `json:"top_p"`
	Truncation         string             `json:"truncation"`
	Usage              *Usage             `json:"usage"`
	Metadata           struct{}           `json:"metadata"`
}

type IncompleteDetails struct {
	Reason string `json:"reason"`
}

type TextConfig struct {
	Format TextFormat `json:"format"`
}

type TextFormat struct {
	Type string `json:"type"`
}

type Usage struct {
	InputTokens         int64               `json:"input_tokens"`
	OutputTokens        int64               `json:"output_tokens"`
	OutputTokensDetails OutputTokensDetails `json:"output_tokens_details"`
	TotalTokens         int64               `json:"total_tokens"`
}

type OutputTokensDetails struct {
	ReasoningTokens int64 `json:"reasoning_tokens"`
}

// OutputItem is either a *MessageItem or a *FunctionCallItem.
type OutputItem interface {
	itemID() string
}

type MessageItem struct {
	ID      string       `json:"id"`
	Type    string       `json:"type"`
	Role    string       `json:"role"`
	Status  string       `json:"status"`
	Content []OutputText `json:"content"`
}

func (m *MessageItem) itemID() string { return m.ID }

type FunctionCallItem struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

func (f *FunctionCallItem) itemID() string { return f.ID }

type OutputText struct {
	Type        string            `json:"type"`
	Text        string            `json:"text"`
	Annotations []json.RawMessage `json:"annotations"`
}

func newOutputText(text string) OutputText {
	return OutputText{Type: "output_text", Text: text, Annotations: []json.RawMessage{}}
}

func newMessageItem(id, status, text string) *MessageItem {
	return &MessageItem{
		ID:      id,
		Type:    "message",
		Role:    "assistant",
		Status:  status,
		Content: []OutputText{newOutputText(text)},
	}
}

// envelope builds the response object shared by every path; only status,
// timestamps, output, usage and incomplete details vary.
func envelope(req *TranslatedRequest, model string, createdAt int64) *Response {
	return &Response{
		ID:                req.ResponseID,
		Object:            "response",
		CreatedAt:         createdAt,
		Status:            StatusInProgress,
		Error:             rawNull,
		Instructions:      orNull(req.Instructions),
		MaxOutputTokens:   orNull(req.MaxOutputTokens),
		Model:             model,
		Output:            []OutputItem{},
		ParallelToolCalls: orNull(req.ParallelToolCalls),
		Temperature:       orNull(req.Temperature),
		Text:              TextConfig{Format: TextFormat{Type: "text"}},
		ToolChoice:        orNull(req.ToolChoice),
		Tools:             orEmptyList(req.ToolsEcho),
		TopP:              orNull(req.TopP),
		Truncation:        "disabled",
	}
}

// finish applies the terminal status derived from the upstream finish reason.
func (r *Response) finish(finishReason string, completedAt int64) {
	r.CompletedAt = &completedAt
	if finishReason == finishLength {
		r.Status = StatusIncomplete
		r.IncompleteDetails = &IncompleteDetails{Reason: "max_output_tokens"}
		return
	}
	r.Status = StatusCompleted
	r.IncompleteDetails = nil
}

func itemStatus(finishReason string) string {
	if finishReason == finishLength {
		return StatusIncomplete
	}
	return StatusCompleted
}

func orNull(v json.RawMessage) json.RawMessage {
	if len(v) == 0 {
		return rawNull
	}
	return v
}

func orEmptyList(v json.RawMessage) json.RawMessage {
	if len(v) == 0 {
		return rawEmptyList
	}
	return v
}
