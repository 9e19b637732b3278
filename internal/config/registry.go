package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/searmo/yeiya/pkg/provider/llm"
	"github.com/searmo/yeiya/pkg/provider/s2s"
)

// ErrProviderNotRegistered is returned when a config entry names a provider
// no factory was registered for.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Provider kinds accepted by [Registry.Names].
const (
	KindLLM = "llm"
	KindS2S = "s2s"
)

// factories holds the constructors of one provider kind.
type factories[P any] struct {
	kind string
	m    map[string]func(ProviderEntry) (P, error)
}

// create runs the factory for entry outside of mu.
func (f factories[P]) create(mu *sync.RWMutex, entry ProviderEntry) (P, error) {
	mu.RLock()
	build, ok := f.m[entry.Name]
	mu.RUnlock()
	if !ok {
		var zero P
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return build(entry)
}

// Registry turns [ProviderEntry] values into live providers. Factories are
// registered once at startup; it is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm factories[llm.Provider]
	s2s factories[s2s.Provider]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm: factories[llm.Provider]{kind: KindLLM, m: map[string]func(ProviderEntry) (llm.Provider, error){}},
		s2s: factories[s2s.Provider]{kind: KindS2S, m: map[string]func(ProviderEntry) (s2s.Provider, error){}},
	}
}

// RegisterLLM sets the chat provider factory for name, replacing any
// earlier one.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	r.llm.m[name] = factory
	r.mu.Unlock()
}

// RegisterS2S sets the live speech provider factory for name.
func (r *Registry) RegisterS2S(name string, factory func(ProviderEntry) (s2s.Provider, error)) {
	r.mu.Lock()
	r.s2s.m[name] = factory
	r.mu.Unlock()
}

// CreateLLM builds the chat provider entry names.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return r.llm.create(&r.mu, entry)
}

// CreateS2S builds the live speech provider entry names.
func (r *Registry) CreateS2S(entry ProviderEntry) (s2s.Provider, error) {
	return r.s2s.create(&r.mu, entry)
}

// Names returns the sorted provider names registered for kind. An unknown
// kind yields nil.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case KindLLM:
		return slices.Sorted(maps.Keys(r.llm.m))
	case KindS2S:
		return slices.Sorted(maps.Keys(r.s2s.m))
	}
	return nil
}
