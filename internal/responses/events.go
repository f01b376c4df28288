package responses

import (
	"encoding/json"
	"fmt"
)

// Lifecycle event types emitted on the streaming path.
const (
	EventCreated           = "response.created"
	EventInProgress        = "response.in_progress"
	EventCompleted         = "response.completed"
	EventIncomplete        = "response.incomplete"
	EventOutputItemAdded   = "response.output_item.added"
	EventOutputItemDone    = "response.output_item.done"
	EventContentPartAdded  = "response.content_part.added"
	EventContentPartDone   = "response.content_part.done"
	EventOutputTextDelta   = "response.output_text.delta"
	EventOutputTextDone    = "response.output_text.done"
	EventFunctionArgsDelta = "response.function_call_arguments.delta"
	EventFunctionArgsDone  = "response.function_call_arguments.done"
)

// Event is one encoded SSE frame ready for the HTTP writer.
type Event struct {
	Type     string
	Sequence int64
	Data     json.RawMessage
}

// Frame renders the event in SSE wire form.
func (e Event) Frame() []byte {
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", e.Type, e.Data))
}

type eventHeader struct {
	Type string `json:"type"`
}

func (h eventHeader) eventType() string { return h.Type }

type sequenced struct {
	SequenceNumber int64 `json:"sequence_number"`
}

func (s *sequenced) setSequence(n int64) { s.SequenceNumber = n }

type lifecycleEvent interface {
	eventType() string
	setSequence(n int64)
}

type responseEvent struct {
	eventHeader
	Response *Response `json:"response"`
	sequenced
}

type outputItemEvent struct {
	eventHeader
	OutputIndex int        `json:"output_index"`
	Item        OutputItem `json:"item"`
	sequenced
}

type contentPartEvent struct {
	eventHeader
	ItemID       string     `json:"item_id"`
	OutputIndex  int        `json:"output_index"`
	ContentIndex int        `json:"content_index"`
	Part         OutputText `json:"part"`
	sequenced
}

type textDeltaEvent struct {
	eventHeader
	ItemID       string `json:"item_id"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	Delta        string `json:"delta"`
	sequenced
}

type textDoneEvent struct {
	eventHeader
	ItemID       string `json:"item_id"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	Text         string `json:"text"`
	sequenced
}

type argumentsDeltaEvent struct {
	eventHeader
	ItemID      string `json:"item_id"`
	OutputIndex int    `json:"output_index"`
	Delta       string `json:"delta"`
	sequenced
}

type argumentsDoneEvent struct {
	eventHeader
	ItemID      string `json:"item_id"`
	OutputIndex int    `json:"output_index"`
	Name        string `json:"name"`
	Arguments   string `json:"arguments"`
	sequenced
}

func header(t string) eventHeader { return eventHeader{Type: t} }
