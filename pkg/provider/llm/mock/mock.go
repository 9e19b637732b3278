// Package mock is an in-memory [llm.Provider] for tests of the chat path.
//
// A Provider answers from a script of replies, then from a canned response,
// and records every request it saw:
//
//	p := &mock.Provider{Replies: []string{"¡Hola!", "¿Tu correo?"}}
package mock

import (
	"context"
	"sync"

	"github.com/searmo/yeiya/pkg/provider/llm"
)

// CompleteCall is one recorded request.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider implements [llm.Provider]. The zero value answers (nil, nil).
//
// Complete picks its answer from the first of these that is set:
// CompleteFunc, the next unused entry of Replies, then
// CompleteResponse and CompleteErr.
type Provider struct {
	mu sync.Mutex

	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// Replies are returned in order, one per call, until used up.
	Replies []string

	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	ModelCapabilities llm.ModelCapabilities

	// CompleteCalls holds every request in arrival order. Prefer [Provider.Calls]
	// while the provider is in use.
	CompleteCalls []CompleteCall
}

var _ llm.Provider = (*Provider)(nil)

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	if fn := p.CompleteFunc; fn != nil {
		p.mu.Unlock()
		return fn(ctx, req)
	}
	if len(p.Replies) > 0 {
		text := p.Replies[0]
		p.Replies = p.Replies[1:]
		p.mu.Unlock()
		return &llm.CompletionResponse{Content: text}, nil
	}
	resp, err := p.CompleteResponse, p.CompleteErr
	p.mu.Unlock()
	return resp, err
}

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// Calls returns a copy of the recorded requests.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]CompleteCall(nil), p.CompleteCalls...)
}

// LastRequest returns the most recent request and whether there was one.
func (p *Provider) LastRequest() (llm.CompletionRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.CompleteCalls) == 0 {
		return llm.CompletionRequest{}, false
	}
	return p.CompleteCalls[len(p.CompleteCalls)-1].Req, true
}

// Reset forgets the recorded requests. Remaining Replies are kept.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
}
