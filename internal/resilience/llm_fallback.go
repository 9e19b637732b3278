package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/searmo/yeiya/pkg/provider/llm"
)

// ErrAttemptTimeout is the failure recorded for a chat backend that did not
// answer within its attempt budget.
var ErrAttemptTimeout = errors.New("chat backend timed out")

// LLMFallback is an [llm.Provider] that walks a chain of chat backends,
// each behind its own circuit breaker, until one answers.
type LLMFallback struct {
	group   *FallbackGroup[llm.Provider]
	attempt time.Duration
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback starts a chain with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a backend to the chain.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// SetAttemptTimeout bounds each backend's share of a request so a stalled
// primary still leaves time for the next one. Zero disables the bound.
// It must be called before the chain is shared.
func (f *LLMFallback) SetAttemptTimeout(d time.Duration) { f.attempt = d }

// Names returns the chain in failover order.
func (f *LLMFallback) Names() []string { return f.group.Names() }

// Complete sends req down the chain and returns the first reply.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		if f.attempt <= 0 {
			return p.Complete(ctx, req)
		}
		actx, cancel := context.WithTimeout(ctx, f.attempt)
		defer cancel()
		resp, err := p.Complete(actx, req)
		if err != nil && ctx.Err() == nil && actx.Err() != nil {
			// Only the attempt expired; the walk goes on.
			return nil, fmt.Errorf("%w after %s", ErrAttemptTimeout, f.attempt)
		}
		return resp, err
	})
}

// Capabilities reports the tightest limits in the chain, so a request sized
// for them fits whichever backend serves it.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	var caps llm.ModelCapabilities
	for i, p := range f.group.Values() {
		c := p.Capabilities()
		if i == 0 {
			caps = c
			continue
		}
		caps.ContextWindow = tighter(caps.ContextWindow, c.ContextWindow)
		caps.MaxOutputTokens = tighter(caps.MaxOutputTokens, c.MaxOutputTokens)
	}
	return caps
}

// tighter returns the smaller limit. Zero means unknown and loses.
func tighter(a, b int) int {
	switch {
	case a == 0:
		return b
	case b == 0:
		return a
	}
	return min(a, b)
}
