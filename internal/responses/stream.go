package responses

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"tiergate/internal/idgen"
)

const (
	// StreamQueueSize bounds the events buffered between producer and writer.
	StreamQueueSize = 64

	readChunkSize = 32 * 1024
)

type streamPhase int

const (
	phaseStarting streamPhase = iota
	phaseOpen
	phaseDraining
	phaseClosed
)

var errStreamClosed = errors.New("responses: emit after stream closed")

type toolCallAccumulator struct {
	callID    string
	itemID    string
	name      string
	arguments strings.Builder
	announced bool
}

func (a *toolCallAccumulator) item(status, arguments string) *FunctionCallItem {
	return &FunctionCallItem{
		ID:        a.itemID,
		Type:      "function_call",
		Status:    status,
		CallID:    a.callID,
		Name:      a.name,
		Arguments: arguments,
	}
}

type streamState struct {
	t      *Translator
	req    *TranslatedRequest
	out    chan<- Event
	logger *zap.Logger

	phase     streamPhase
	seq       int64
	msgID     string
	createdAt int64

	text strings.Builder

	// toolCalls is keyed by upstream tool-call index; order holds the keys
	// ascending.
	toolCalls map[int64]*toolCallAccumulator
	order     []int64

	finishReason string
	usage        Usage
	usageSeen    bool
}

// Stream translates an upstream Chat Completions SSE body into Responses
// lifecycle events. The producer goroutine owns body and closes it. The
// returned channel is closed once the terminal event has been queued, or
// early and without a terminal event when ctx is cancelled. An upstream read
// failure ends the input and drains what was received.
func (t *Translator) Stream(ctx context.Context, body io.ReadCloser, req *TranslatedRequest) <-chan Event {
	out := make(chan Event, StreamQueueSize)
	s := &streamState{
		t:            t,
		req:          req,
		out:          out,
		logger:       t.logger.With(zap.String("response_id", req.ResponseID), zap.String("model", req.Model)),
		msgID:        t.ids.Next(idgen.PrefixMessage),
		createdAt:    t.epoch(),
		toolCalls:    make(map[int64]*toolCallAccumulator),
		finishReason: finishStop,
	}

	go func() {
		defer close(out)
		defer body.Close()

		if err := s.run(ctx, body); err != nil {
			s.logger.Info("response stream abandoned",
				zap.Int64("sequence", s.seq),
				zap.Error(err),
			)
			return
		}
		s.logger.Debug("response stream closed", zap.Int64("events", s.seq))
	}()

	return out
}

func (s *streamState) run(ctx context.Context, body io.Reader) error {
	if err := s.start(ctx); err != nil {
		return err
	}
	s.phase = phaseOpen

	var parser FrameParser
	buf := make([]byte, readChunkSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			for _, payload := range parser.Feed(buf[:n]) {
				if err := s.handlePayload(ctx, payload); err != nil {
					return err
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("upstream stream read error, finishing early", zap.Error(err))
			break
		}
	}
	if pending := parser.Pending(); pending > 0 {
		s.logger.Debug("discarding unterminated upstream frame", zap.Int("bytes", pending))
	}

	s.phase = phaseDraining
	if err := s.drain(ctx); err != nil {
		return err
	}
	s.phase = phaseClosed
	return nil
}

func (s *streamState) emit(ctx context.Context, ev lifecycleEvent) error {
	if s.phase == phaseClosed {
		return errStreamClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.seq++
	ev.setSequence(s.seq)
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	select {
	case s.out <- Event{Type: ev.eventType(), Sequence: s.seq, Data: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *streamState) inProgress() *Response {
	return envelope(s.req, s.req.Model, s.createdAt)
}

// start emits the fixed opening sequence before any upstream data is read.
func (s *streamState) start(ctx context.Context) error {
	opening := []lifecycleEvent{
		&responseEvent{eventHeader: header(EventCreated), Response: s.inProgress()},
		&responseEvent{eventHeader: header(EventInProgress), Response: s.inProgress()},
		&outputItemEvent{
			eventHeader: header(EventOutputItemAdded),
			OutputIndex: 0,
			Item: &MessageItem{
				ID:      s.msgID,
				Type:    "message",
				Role:    "assistant",
				Status:  StatusInProgress,
				Content: []OutputText{},
			},
		},
		&contentPartEvent{
			eventHeader: header(EventContentPartAdded),
			ItemID:      s.msgID,
			Part:        newOutputText(""),
		},
	}
	for _, ev := range opening {
		if err := s.emit(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *streamState) handlePayload(ctx context.Context, payload gjson.Result) error {
	if u := payload.Get("usage"); u.IsObject() {
		s.usageSeen = true
		if v := u.Get("prompt_tokens"); v.Exists() {
			s.usage.InputTokens = v.Int()
		}
		if v := u.Get("completion_tokens"); v.Exists() {
			s.usage.OutputTokens = v.Int()
		}
		if v := u.Get("total_tokens"); v.Exists() {
			s.usage.TotalTokens = v.Int()
		}
	}

	choices := payload.Get("choices")
	if !choices.IsArray() {
		return nil
	}
	for _, choice := range choices.Array() {
		if fr := choice.Get("finish_reason"); fr.Type == gjson.String {
			s.finishReason = fr.String()
		}

		delta := choice.Get("delta")
		if !delta.Exists() {
			continue
		}

		if content := delta.Get("content"); content.Type == gjson.String && content.String() != "" {
			fragment := content.String()
			s.text.WriteString(fragment)
			if err := s.emit(ctx, &textDeltaEvent{
				eventHeader: header(EventOutputTextDelta),
				ItemID:      s.msgID,
				Delta:       fragment,
			}); err != nil {
				return err
			}
		}

		if calls := delta.Get("tool_calls"); calls.IsArray() {
			for _, tc := range calls.Array() {
				if err := s.handleToolCallDelta(ctx, tc); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (s *streamState) handleToolCallDelta(ctx context.Context, tc gjson.Result) error {
	idx := toolCallIndex(tc.Get("index"))
	acc := s.accumulator(idx)

	if id := tc.Get("id"); id.Type == gjson.String && id.String() != "" {
		acc.callID = id.String()
	}

	fn := tc.Get("function")
	if name := fn.Get("name"); name.Type == gjson.String {
		acc.name += name.String()
	}

	args := fn.Get("arguments")
	if args.Type != gjson.String {
		return nil
	}
	if !acc.announced && acc.name != "" {
		if err := s.announce(ctx, idx, acc); err != nil {
			return err
		}
	}
	fragment := args.String()
	acc.arguments.WriteString(fragment)
	return s.emit(ctx, &argumentsDeltaEvent{
		eventHeader: header(EventFunctionArgsDelta),
		ItemID:      acc.itemID,
		OutputIndex: outputIndex(idx),
		Delta:       fragment,
	})
}

// accumulator finds or creates the slot for a tool-call index.
func (s *streamState) accumulator(idx int64) *toolCallAccumulator {
	if acc, ok := s.toolCalls[idx]; ok {
		return acc
	}
	acc := &toolCallAccumulator{itemID: s.t.ids.Next(idgen.PrefixFunctionCall)}
	s.toolCalls[idx] = acc

	pos := sort.Search(len(s.order), func(i int) bool { return s.order[i] >= idx })
	s.order = append(s.order, 0)
	copy(s.order[pos+1:], s.order[pos:])
	s.order[pos] = idx
	return acc
}

func (s *streamState) announce(ctx context.Context, idx int64, acc *toolCallAccumulator) error {
	acc.announced = true
	return s.emit(ctx, &outputItemEvent{
		eventHeader: header(EventOutputItemAdded),
		OutputIndex: outputIndex(idx),
		Item:        acc.item(StatusInProgress, ""),
	})
}

// drain finalizes the message item and every tool call, then emits the
// terminal event carrying the synthesized response.
func (s *streamState) drain(ctx context.Context) error {
	text := s.text.String()
	hasToolCalls := len(s.order) > 0

	switch {
	case text != "":
		if err := s.emit(ctx, &textDoneEvent{
			eventHeader: header(EventOutputTextDone),
			ItemID:      s.msgID,
			Text:        text,
		}); err != nil {
			return err
		}
		if err := s.emitContentPartDone(ctx, text); err != nil {
			return err
		}
	case hasToolCalls:
		if err := s.emitContentPartDone(ctx, ""); err != nil {
			return err
		}
	}

	output := make([]OutputItem, 0, len(s.order)+1)

	if text != "" || !hasToolCalls {
		item := newMessageItem(s.msgID, itemStatus(s.finishReason), text)
		if err := s.emit(ctx, &outputItemEvent{
			eventHeader: header(EventOutputItemDone),
			OutputIndex: 0,
			Item:        item,
		}); err != nil {
			return err
		}
		output = append(output, item)
	}

	for _, idx := range s.order {
		acc := s.toolCalls[idx]
		if !acc.announced {
			if err := s.announce(ctx, idx, acc); err != nil {
				return err
			}
		}

		arguments := acc.arguments.String()
		if err := s.emit(ctx, &argumentsDoneEvent{
			eventHeader: header(EventFunctionArgsDone),
			ItemID:      acc.itemID,
			OutputIndex: outputIndex(idx),
			Name:        acc.name,
			Arguments:   arguments,
		}); err != nil {
			return err
		}

		item := acc.item(StatusCompleted, arguments)
		if err := s.emit(ctx, &outputItemEvent{
			eventHeader: header(EventOutputItemDone),
			OutputIndex: outputIndex(idx),
			Item:        item,
		}); err != nil {
			return err
		}
		output = append(output, item)
	}

	final := envelope(s.req, s.req.Model, s.createdAt)
	final.Output = output
	if s.usageSeen {
		usage := s.usage
		final.Usage = &usage
	}
	final.finish(s.finishReason, s.t.epoch())

	terminal := EventCompleted
	if final.Status == StatusIncomplete {
		terminal = EventIncomplete
	}
	return s.emit(ctx, &responseEvent{eventHeader: header(terminal), Response: final})
}

func (s *streamState) emitContentPartDone(ctx context.Context, text string) error {
	return s.emit(ctx, &contentPartEvent{
		eventHeader: header(EventContentPartDone),
		ItemID:      s.msgID,
		Part:        newOutputText(text),
	})
}

// toolCallIndex reads an upstream tool-call index. Missing, non-integer and
// negative values fall back to 0.
func toolCallIndex(v gjson.Result) int64 {
	if v.Type != gjson.Number {
		return 0
	}
	n := v.Int()
	if n < 0 || float64(n) != v.Float() {
		return 0
	}
	return n
}

// outputIndex offsets tool calls past the message item at index 0.
func outputIndex(toolCallIndex int64) int {
	return int(toolCallIndex) + 1
}
