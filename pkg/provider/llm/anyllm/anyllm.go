// Package anyllm serves the chat endpoint from any backend known to
// github.com/mozilla-ai/any-llm-go. It is how a deployment swaps Gemini for
// Anthropic, a hosted open-weights model or a local llama server:
//
//	p, err := anyllm.New("anthropic", "", anyllmlib.WithAPIKey(key))
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/searmo/yeiya/pkg/provider/llm"
)

type backend struct {
	open func(...anyllmlib.Option) (anyllmlib.Provider, error)
	// model is used when the config names none. Empty means the model
	// must be given.
	model string
}

func wrap[P anyllmlib.Provider](fn func(...anyllmlib.Option) (P, error)) func(...anyllmlib.Option) (anyllmlib.Provider, error) {
	return func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) { return fn(opts...) }
}

var backends = map[string]backend{
	"anthropic": {wrap(anthropic.New), "claude-3-5-haiku-latest"},
	"deepseek":  {wrap(deepseek.New), "deepseek-chat"},
	"gemini":    {wrap(gemini.New), "gemini-2.0-flash"},
	"groq":      {wrap(groq.New), "llama-3.1-8b-instant"},
	"llamacpp":  {wrap(llamacpp.New), ""},
	"llamafile": {wrap(llamafile.New), ""},
	"mistral":   {wrap(mistral.New), "mistral-small-latest"},
	"ollama":    {wrap(ollama.New), "llama3.2"},
	"openai":    {wrap(anyllmoai.New), "gpt-4o-mini"},
}

// Supported returns the accepted backend names in sorted order.
func Supported() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Provider is an [llm.Provider] on top of one any-llm-go backend.
type Provider struct {
	client anyllmlib.Provider
	name   string
	model  string
}

var _ llm.Provider = (*Provider)(nil)

// New opens the backend called name. An empty model selects the backend's
// default. Without an API key option the backend reads its usual
// environment variable.
func New(name, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if name == "" {
		return nil, errors.New("anyllm: backend name is required")
	}
	name = strings.ToLower(name)
	b, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported backend %q; supported: %s", name, strings.Join(Supported(), ", "))
	}
	if model == "" {
		model = b.model
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: %s needs an explicit model", name)
	}

	client, err := b.open(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: open %s: %w", name, err)
	}
	return &Provider{client: client, name: name, model: model}, nil
}

// Name returns the lower-cased backend name.
func (p *Provider) Name() string { return p.name }

// Model returns the model requests are sent to.
func (p *Provider) Model() string { return p.model }

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.client.Completion(ctx, p.params(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s/%s: %w", p.name, p.model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %s/%s returned no choices", p.name, p.model)
	}

	out := &llm.CompletionResponse{Content: strings.TrimSpace(resp.Choices[0].Message.ContentString())}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return out, nil
}

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() llm.ModelCapabilities { return capabilitiesFor(p.model) }

func (p *Provider) params(req llm.CompletionRequest) anyllmlib.CompletionParams {
	msgs := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, turn(m))
	}

	params := anyllmlib.CompletionParams{Model: p.model, Messages: msgs}
	if req.Temperature != 0 {
		params.Temperature = &req.Temperature
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = &req.MaxTokens
	}
	return params
}

// turn sends everything that is not an assistant turn as visitor input.
func turn(m llm.Message) anyllmlib.Message {
	if m.Role == llm.RoleAssistant {
		return anyllmlib.Message{Role: llm.RoleAssistant, Content: m.Content}
	}
	return anyllmlib.Message{Role: llm.RoleUser, Content: m.Content}
}

// modelLimits is checked in order; a family matches when the lower-cased
// model name contains it.
var modelLimits = []struct {
	family string
	caps   llm.ModelCapabilities
}{
	{"gpt-4o", llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 16_384}},
	{"gpt-3.5-turbo", llm.ModelCapabilities{ContextWindow: 16_385, MaxOutputTokens: 4_096}},
	{"claude", llm.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 8_192}},
	{"gemini-2.0-flash", llm.ModelCapabilities{ContextWindow: 1_048_576, MaxOutputTokens: 8_192}},
	{"gemini-1.5-flash", llm.ModelCapabilities{ContextWindow: 1_048_576, MaxOutputTokens: 8_192}},
	{"gemini-1.5-pro", llm.ModelCapabilities{ContextWindow: 2_097_152, MaxOutputTokens: 8_192}},
	{"gemini", llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 8_192}},
	{"deepseek", llm.ModelCapabilities{ContextWindow: 64_000, MaxOutputTokens: 8_192}},
}

func capabilitiesFor(model string) llm.ModelCapabilities {
	lower := strings.ToLower(model)
	for _, l := range modelLimits {
		if strings.Contains(lower, l.family) {
			return l.caps
		}
	}
	return llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}
}
