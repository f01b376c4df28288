package responses

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"tiergate/internal/idgen"
)

// TranslateRequest maps a Responses request body onto a Chat Completions
// body and captures the values that must be echoed back to the caller.
func (t *Translator) TranslateRequest(body []byte) (*TranslatedRequest, error) {
	root := gjson.ParseBytes(body)

	model := root.Get("model")
	if model.Type != gjson.String {
		return nil, ErrMissingModel
	}
	isStream := root.Get("stream").Type == gjson.True

	var messages []string
	if instr := root.Get("instructions"); instr.Type == gjson.String {
		messages = append(messages, textMessage("developer", instr.String()))
	}

	switch input := root.Get("input"); {
	case input.Type == gjson.String:
		messages = append(messages, textMessage("user", input.String()))
	case input.IsArray():
		for _, item := range input.Array() {
			if msg, ok := translateInputItem(item); ok {
				messages = append(messages, msg)
			}
		}
	}

	cc := `{}`
	cc, _ = sjson.Set(cc, "model", model.String())
	cc, _ = sjson.SetRaw(cc, "messages", "["+strings.Join(messages, ",")+"]")

	if tools := translateTools(root.Get("tools")); len(tools) > 0 {
		cc, _ = sjson.SetRaw(cc, "tools", "["+strings.Join(tools, ",")+"]")
	}

	for _, p := range [][2]string{
		{"temperature", "temperature"},
		{"top_p", "top_p"},
		{"max_output_tokens", "max_tokens"},
	} {
		if v := root.Get(p[0]); v.Exists() {
			cc, _ = sjson.SetRaw(cc, p[1], v.Raw)
		}
	}
	if v := root.Get("tool_choice"); v.Exists() {
		cc, _ = sjson.SetRaw(cc, "tool_choice", translateToolChoice(v))
	}
	if v := root.Get("parallel_tool_calls"); v.Exists() {
		cc, _ = sjson.SetRaw(cc, "parallel_tool_calls", v.Raw)
	}
	if rf, ok := translateTextFormat(root.Get("text.format")); ok {
		cc, _ = sjson.SetRaw(cc, "response_format", rf)
	}
	if isStream {
		cc, _ = sjson.Set(cc, "stream", true)
	}

	return &TranslatedRequest{
		CCBody:            []byte(cc),
		ResponseID:        t.ids.Next(idgen.PrefixResponse),
		Model:             model.String(),
		ToolsEcho:         rawOr(root.Get("tools"), rawEmptyList),
		Instructions:      rawOr(root.Get("instructions"), rawNull),
		Temperature:       rawOr(root.Get("temperature"), rawOne),
		TopP:              rawOr(root.Get("top_p"), rawOne),
		ToolChoice:        rawOr(root.Get("tool_choice"), rawAuto),
		ParallelToolCalls: rawOr(root.Get("parallel_tool_calls"), rawTrue),
		MaxOutputTokens:   rawOr(root.Get("max_output_tokens"), rawNull),
		IsStream:          isStream,
	}, nil
}

func translateInputItem(item gjson.Result) (string, bool) {
	switch str(item.Get("type")) {
	case "message":
		role := chatRole(str(item.Get("role")), "user")
		content := item.Get("content")
		switch {
		case content.IsArray():
			parts := translateContentParts(content)
			if len(parts) == 1 && gjson.Get(parts[0], "type").String() == "text" {
				return rawMessage(role, gjson.Get(parts[0], "text").Raw), true
			}
			return rawMessage(role, "["+strings.Join(parts, ",")+"]"), true
		case content.Type == gjson.String:
			return rawMessage(role, content.Raw), true
		}
		return "", false

	case "function_call_output":
		msg := `{"role":"tool"}`
		msg, _ = sjson.SetRaw(msg, "tool_call_id", rawOrString(item.Get("call_id"), "null"))
		msg, _ = sjson.SetRaw(msg, "content", rawOrString(item.Get("output"), `""`))
		return msg, true

	case "":
		role := item.Get("role")
		if role.Type != gjson.String {
			return "", false
		}
		return rawMessage(chatRole(role.String(), ""), rawOrString(item.Get("content"), "null")), true
	}
	return "", false
}

func translateContentParts(content gjson.Result) []string {
	var parts []string
	for _, part := range content.Array() {
		switch str(part.Get("type")) {
		case "input_text":
			p := `{"type":"text"}`
			p, _ = sjson.SetRaw(p, "text", rawOrString(part.Get("text"), "null"))
			parts = append(parts, p)
		case "input_image":
			url := part.Get("image_url")
			if url.Type != gjson.String {
				continue
			}
			p := `{"type":"image_url"}`
			p, _ = sjson.Set(p, "image_url.url", url.String())
			parts = append(parts, p)
		default:
			if text := part.Get("text"); text.Exists() {
				p := `{"type":"text"}`
				p, _ = sjson.SetRaw(p, "text", text.Raw)
				parts = append(parts, p)
			}
		}
	}
	return parts
}

func translateTools(tools gjson.Result) []string {
	if !tools.IsArray() {
		return nil
	}
	var out []string
	for _, tool := range tools.Array() {
		if str(tool.Get("type")) != "function" {
			continue
		}
		fn := `{"type":"function","function":{}}`
		fn, _ = sjson.SetRaw(fn, "function.name", rawOrString(tool.Get("name"), "null"))
		fn, _ = sjson.SetRaw(fn, "function.description", rawOrString(tool.Get("description"), "null"))
		fn, _ = sjson.SetRaw(fn, "function.parameters", rawOrString(tool.Get("parameters"), "{}"))
		fn, _ = sjson.SetRaw(fn, "function.strict", rawOrString(tool.Get("strict"), "null"))
		out = append(out, fn)
	}
	return out
}

func translateToolChoice(v gjson.Result) string {
	switch {
	case v.Type == gjson.String:
		return v.Raw
	case v.IsObject() && str(v.Get("type")) == "function":
		tc := `{"type":"function","function":{}}`
		tc, _ = sjson.SetRaw(tc, "function.name", rawOrString(v.Get("name"), "null"))
		return tc
	}
	return string(rawAuto)
}

func translateTextFormat(format gjson.Result) (string, bool) {
	if !format.Exists() {
		return "", false
	}
	switch str(format.Get("type")) {
	case "json_object":
		return `{"type":"json_object"}`, true
	case "json_schema":
		rf := `{"type":"json_schema","json_schema":{}}`
		rf, _ = sjson.SetRaw(rf, "json_schema.name", rawOrString(format.Get("name"), `"response"`))
		rf, _ = sjson.SetRaw(rf, "json_schema.schema", rawOrString(format.Get("schema"), "{}"))
		rf, _ = sjson.SetRaw(rf, "json_schema.strict", rawOrString(format.Get("strict"), "true"))
		return rf, true
	}
	return "", false
}

// chatRole maps Responses roles onto Chat Completions roles.
func chatRole(role, fallback string) string {
	switch role {
	case "developer":
		return "system"
	case "":
		return fallback
	}
	return role
}

func textMessage(role, text string) string {
	msg, _ := sjson.Set(`{}`, "role", role)
	msg, _ = sjson.Set(msg, "content", text)
	return msg
}

func rawMessage(role, rawContent string) string {
	msg, _ := sjson.Set(`{}`, "role", role)
	msg, _ = sjson.SetRaw(msg, "content", rawContent)
	return msg
}

func str(r gjson.Result) string {
	if r.Type != gjson.String {
		return ""
	}
	return r.String()
}

func rawOrString(r gjson.Result, def string) string {
	if !r.Exists() {
		return def
	}
	return r.Raw
}

func rawOr(r gjson.Result, def json.RawMessage) json.RawMessage {
	if !r.Exists() {
		return def
	}
	return json.RawMessage(r.Raw)
}
