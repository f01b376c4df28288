package responses

import (
	"github.com/tidwall/gjson"

	"tiergate/internal/idgen"
)

// TranslateResponse maps one complete Chat Completions response body onto a
// Responses object. All choices are flattened into a single output list.
func (t *Translator) TranslateResponse(ccBody []byte, req *TranslatedRequest) (*Response, error) {
	if !gjson.ValidBytes(ccBody) {
		return nil, ErrUpstreamDecode
	}
	root := gjson.ParseBytes(ccBody)
	now := t.epoch()

	model := req.Model
	if m := root.Get("model"); m.Type == gjson.String {
		model = m.String()
	}
	resp := envelope(req, model, now)

	choices := root.Get("choices")
	if choices.IsArray() {
		for _, choice := range choices.Array() {
			msg := choice.Get("message")
			if !msg.Exists() {
				continue
			}

			if calls := msg.Get("tool_calls"); calls.IsArray() {
				for _, tc := range calls.Array() {
					resp.Output = append(resp.Output, &FunctionCallItem{
						ID:        t.ids.Next(idgen.PrefixFunctionCall),
						Type:      "function_call",
						Status:    StatusCompleted,
						CallID:    tc.Get("id").String(),
						Name:      tc.Get("function.name").String(),
						Arguments: tc.Get("function.arguments").String(),
					})
				}
			}

			if content := msg.Get("content"); content.Type == gjson.String && content.String() != "" {
				resp.Output = append(resp.Output,
					newMessageItem(t.ids.Next(idgen.PrefixMessage), StatusCompleted, content.String()))
			}
		}
	}

	if u := root.Get("usage"); u.IsObject() {
		resp.Usage = &Usage{
			InputTokens:  u.Get("prompt_tokens").Int(),
			OutputTokens: u.Get("completion_tokens").Int(),
			TotalTokens:  u.Get("total_tokens").Int(),
		}
	}

	finishReason := finishStop
	if fr := root.Get("choices.0.finish_reason"); fr.Type == gjson.String {
		finishReason = fr.String()
	}
	resp.finish(finishReason, now)

	return resp, nil
}
