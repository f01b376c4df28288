package catalog

import (
	"strings"
)

// Tier is a client-visible slice of the upstream catalog.
type Tier string

const (
	TierFree    Tier = "free"
	TierStealth Tier = "stealth"
)

// Tiers lists every tier the gateway serves.
var Tiers = []Tier{TierFree, TierStealth}

var metaRouterIDs = map[string]struct{}{
	"openrouter/auto":        {},
	"openrouter/free":        {},
	"openrouter/bodybuilder": {},
	"switchpoint/router":     {},
}

// Model mirrors one entry of the upstream /models listing.
type Model struct {
	ID                  string        `json:"id"`
	Name                string        `json:"name"`
	Created             int64         `json:"created"`
	Description         string        `json:"description,omitempty"`
	ContextLength       *uint64       `json:"context_length,omitempty"`
	Pricing             *Pricing      `json:"pricing,omitempty"`
	Architecture        *Architecture `json:"architecture,omitempty"`
	TopProvider         *TopProvider  `json:"top_provider,omitempty"`
	SupportedParameters []string      `json:"supported_parameters,omitempty"`
}

type Pricing struct {
	Prompt     string `json:"prompt,omitempty"`
	Completion string `json:"completion,omitempty"`
	Request    string `json:"request,omitempty"`
	Image      string `json:"image,omitempty"`
}

type Architecture struct {
	Modality     string `json:"modality,omitempty"`
	Tokenizer    string `json:"tokenizer,omitempty"`
	InstructType string `json:"instruct_type,omitempty"`
}

type TopProvider struct {
	ContextLength       *uint64 `json:"context_length,omitempty"`
	MaxCompletionTokens *uint64 `json:"max_completion_tokens,omitempty"`
	IsModerated         *bool   `json:"is_moderated,omitempty"`
}

// IsFree reports a ":free" variant or a zero prompt and completion price.
func (m Model) IsFree() bool {
	if strings.HasSuffix(m.ID, ":free") {
		return true
	}
	return m.Pricing != nil && m.Pricing.Prompt == "0" && m.Pricing.Completion == "0"
}

func (m Model) IsStealth() bool {
	return hasStealthKeyword(m.Description) ||
		hasStealthKeyword(m.Name) ||
		strings.HasPrefix(m.ID, "stealth/")
}

func hasStealthKeyword(s string) bool {
	l := strings.ToLower(s)
	return strings.Contains(l, "cloaked") || strings.Contains(l, "stealth")
}

// IsMetaRouter reports routing pseudo-models that never belong in a tier.
func (m Model) IsMetaRouter() bool {
	if _, ok := metaRouterIDs[m.ID]; ok {
		return true
	}
	return m.Pricing != nil && (m.Pricing.Prompt == "-1" || m.Pricing.Completion == "-1")
}

func (m Model) HasParam(name string) bool {
	for _, p := range m.SupportedParameters {
		if p == name {
			return true
		}
	}
	return false
}

func (m Model) SupportsVision() bool {
	return m.Architecture != nil && strings.Contains(m.Architecture.Modality, "image")
}

type Capabilities struct {
	Tools             bool `json:"tools"`
	ToolChoice        bool `json:"tool_choice"`
	ParallelToolCalls bool `json:"parallel_tool_calls"`
	JSONMode          bool `json:"json_mode"`
	Streaming         bool `json:"streaming"`
	Vision            bool `json:"vision"`
}

func (m Model) Capabilities() Capabilities {
	return Capabilities{
		Tools:             m.HasParam("tools"),
		ToolChoice:        m.HasParam("tool_choice"),
		ParallelToolCalls: m.HasParam("parallel_tool_calls"),
		JSONMode:          m.HasParam("response_format"),
		Streaming:         m.HasParam("stream"),
		Vision:            m.SupportsVision(),
	}
}

// DisplayID is the short id clients see: ":free" stripped, vendor prefix dropped.
//
//	"meta-llama/llama-3.3-70b-instruct:free" -> "llama-3.3-70b-instruct"
func (m Model) DisplayID() string {
	id := strings.TrimSuffix(m.ID, ":free")
	if i := strings.LastIndexByte(id, '/'); i >= 0 {
		id = id[i+1:]
	}
	return id
}

// MatchesDisplayID accepts either the canonical or the display id.
func (m Model) MatchesDisplayID(id string) bool {
	return m.ID == id || m.DisplayID() == id
}

func (m Model) provider() string {
	provider, _, _ := strings.Cut(m.ID, "/")
	return provider
}

// OpenAIModel is the model object served by GET /models.
type OpenAIModel struct {
	ID                  string         `json:"id"`
	Object              string         `json:"object"`
	Created             int64          `json:"created"`
	OwnedBy             string         `json:"owned_by"`
	ContextLength       *uint64        `json:"context_length,omitempty"`
	MaxCompletionTokens *uint64        `json:"max_completion_tokens,omitempty"`
	Capabilities        Capabilities   `json:"capabilities"`
	Pricing             *OpenAIPricing `json:"pricing,omitempty"`
}

type OpenAIPricing struct {
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
}

type OpenAIModelList struct {
	Object string        `json:"object"`
	Data   []OpenAIModel `json:"data"`
}

func (m Model) ToOpenAI() OpenAIModel {
	out := OpenAIModel{
		ID:            m.DisplayID(),
		Object:        "model",
		Created:       m.Created,
		OwnedBy:       m.provider(),
		ContextLength: m.ContextLength,
		Capabilities:  m.Capabilities(),
	}
	if m.TopProvider != nil {
		out.MaxCompletionTokens = m.TopProvider.MaxCompletionTokens
	}
	if m.Pricing != nil {
		out.Pricing = &OpenAIPricing{Prompt: m.Pricing.Prompt, Completion: m.Pricing.Completion}
	}
	return out
}

// NewModelList renders models as an OpenAI list object.
func NewModelList(models []Model) OpenAIModelList {
	data := make([]OpenAIModel, 0, len(models))
	for _, m := range models {
		data = append(data, m.ToOpenAI())
	}
	return OpenAIModelList{Object: "list", Data: data}
}

// Classify splits the raw catalog into tiers. Meta routers are excluded and
// a model may land in both tiers.
func Classify(all []Model) (free, stealth []Model) {
	free = []Model{}
	stealth = []Model{}
	for _, m := range all {
		if m.IsMetaRouter() {
			continue
		}
		if m.IsFree() {
			free = append(free, m)
		}
		if m.IsStealth() {
			stealth = append(stealth, m)
		}
	}
	return free, stealth
}

// Filter is the ?supports=a,b capability filter. Unknown names match.
type Filter struct {
	Supports []string
}

// ParseFilter reads a comma-separated capability list; empty means no filter.
func ParseFilter(supports string) Filter {
	if strings.TrimSpace(supports) == "" {
		return Filter{}
	}
	var f Filter
	for _, c := range strings.Split(supports, ",") {
		f.Supports = append(f.Supports, strings.TrimSpace(c))
	}
	return f
}

func (f Filter) Matches(m Model) bool {
	for _, c := range f.Supports {
		var ok bool
		switch c {
		case "tools":
			ok = m.HasParam("tools")
		case "tool_choice":
			ok = m.HasParam("tool_choice")
		case "json_mode":
			ok = m.HasParam("response_format")
		case "streaming":
			ok = m.HasParam("stream")
		case "vision":
			ok = m.SupportsVision()
		default:
			ok = true
		}
		if !ok {
			return false
		}
	}
	return true
}

// Apply returns the models matching f, in order.
func (f Filter) Apply(models []Model) []Model {
	out := make([]Model, 0, len(models))
	for _, m := range models {
		if f.Matches(m) {
			out = append(out, m)
		}
	}
	return out
}
