package live

import (
	"context"
	"sync"

	"github.com/searmo/yeiya/pkg/avatar"
)

// Factory builds the Env and Config for a new Session. It is called once per
// Start so every session gets its own device, clock and sink.
type Factory func() (Env, Config)

// Manager keeps at most one live Session. Starting a new one fully tears
// down the previous one first. All methods are safe for concurrent use.
type Manager struct {
	factory Factory
	opts    []Option

	// startMu serialises Start so two callers cannot both supersede.
	startMu sync.Mutex

	mu      sync.Mutex
	current *Session
}

// NewManager returns a Manager that builds sessions with factory. opts are
// applied to every session.
func NewManager(factory Factory, opts ...Option) *Manager {
	return &Manager{factory: factory, opts: opts}
}

// Start closes the current session, waits for its teardown and starts a new
// one. The new session is returned even when Start fails, so callers can
// read its error detail.
func (m *Manager) Start(ctx context.Context, opts ...Option) (*Session, error) {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	m.mu.Lock()
	prev := m.current
	m.current = nil
	m.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
		<-prev.Done()
	}

	env, cfg := m.factory()
	all := append(append([]Option(nil), m.opts...), opts...)
	s := NewSession(env, cfg, all...)

	m.mu.Lock()
	m.current = s
	m.mu.Unlock()

	return s, s.Start(ctx)
}

// Current returns the latest session, which may already have ended, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Stop closes the current session, if any, and waits for its teardown.
func (m *Manager) Stop() error {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()
	if s == nil {
		return nil
	}
	err := s.Close()
	<-s.Done()
	return err
}

// Render advances the current session by one frame and returns its avatar
// inputs, or the idle pose when there is none.
func (m *Manager) Render() (bool, float64) {
	s := m.Current()
	if s == nil {
		return false, avatar.IdleVolume
	}
	speaking, volume, _ := s.Render()
	return speaking, volume
}
