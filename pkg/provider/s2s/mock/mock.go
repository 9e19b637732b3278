// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions. Use
// Session to push inbound audio, end the session remotely and inspect what
// the caller sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Deliver(pcm)
//	sess.End(&s2s.CloseError{Code: s2s.StatusAbnormalClosure})
package mock

import (
	"context"
	"sync"

	"github.com/searmo/yeiya/pkg/provider/s2s"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect
	// returns a fresh Session from NewSession.
	Session s2s.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectFunc, if set, replaces the default Connect behaviour.
	ConnectFunc func(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error)

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities s2s.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	// Sessions holds every session handed out by the default Connect path.
	Sessions []*Session
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	fn := p.ConnectFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, cfg)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	s := NewSession()
	p.Sessions = append(p.Sessions, s)
	return s, nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() s2s.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// Calls returns the number of Connect invocations so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// Ensure Provider implements s2s.Provider at compile time.
var _ s2s.Provider = (*Provider)(nil)

// Session is a mock implementation of s2s.SessionHandle.
type Session struct {
	audioCh     chan []byte
	transcripts chan s2s.TranscriptEntry
	done        chan struct{}
	endOnce     sync.Once

	mu sync.Mutex

	// SendAudioErr, if non-nil, is returned by SendAudio while the session
	// is open.
	SendAudioErr error

	sent       [][]byte
	closeCalls int
	err        error
}

// NewSession returns an open session with buffered channels.
func NewSession() *Session {
	return &Session{
		audioCh:     make(chan []byte, 64),
		transcripts: make(chan s2s.TranscriptEntry, 16),
		done:        make(chan struct{}),
	}
}

// Deliver pushes one inbound frame as if the model had spoken. It reports
// false once the session has ended.
func (s *Session) Deliver(pcm []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return false
	default:
	}
	s.audioCh <- pcm
	return true
}

// Transcript pushes one transcript entry.
func (s *Session) Transcript(e s2s.TranscriptEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
	case s.transcripts <- e:
	default:
	}
}

// End terminates the session remotely with the given cause. Idempotent.
func (s *Session) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.end(err)
}

func (s *Session) end(err error) {
	s.endOnce.Do(func() {
		s.err = err
		close(s.audioCh)
		close(s.transcripts)
		close(s.done)
	})
}

// SendAudio records a copy of chunk. After the session ended it is a no-op.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return nil
	default:
	}
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	s.sent = append(s.sent, append([]byte(nil), chunk...))
	return nil
}

// Sent returns copies of every chunk passed to SendAudio.
func (s *Session) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

// Audio implements s2s.SessionHandle.
func (s *Session) Audio() <-chan []byte { return s.audioCh }

// Transcripts implements s2s.SessionHandle.
func (s *Session) Transcripts() <-chan s2s.TranscriptEntry { return s.transcripts }

// Done implements s2s.SessionHandle.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err implements s2s.SessionHandle.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the session locally and counts the call.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	s.end(nil)
	return nil
}

// CloseCalls returns how many times Close was called.
func (s *Session) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// Ensure Session implements s2s.SessionHandle at compile time.
var _ s2s.SessionHandle = (*Session)(nil)
