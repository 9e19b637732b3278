package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/searmo/yeiya/pkg/provider/s2s"
)

const (
	speakerUser  = "user"
	speakerModel = "model"
)

// session is one open Live connection. The read loop owns the outbound
// channels and closes them, together with done, when it exits.
type session struct {
	conn *websocket.Conn

	audio       chan []byte
	transcripts chan s2s.TranscriptEntry
	done        chan struct{}

	// ctx ends with a local Close.
	ctx    context.Context
	cancel context.CancelFunc

	closed atomic.Bool

	errOnce sync.Once
	err     error
}

var _ s2s.SessionHandle = (*session)(nil)

func newSession(conn *websocket.Conn) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		conn:        conn,
		audio:       make(chan []byte, 64),
		transcripts: make(chan s2s.TranscriptEntry, 16),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (s *session) send(ctx context.Context, f clientFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("gemini: encode frame: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// handshake sends the setup frame and reads until the endpoint acknowledges
// it. Content that arrives before the acknowledgement is discarded.
func (s *session) handshake(ctx context.Context, setup clientFrame) error {
	if err := s.send(ctx, setup); err != nil {
		return err
	}
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("waiting for setupComplete: %w", ctx.Err())
			}
			return closeError(err)
		}
		var f serverFrame
		if json.Unmarshal(data, &f) != nil {
			continue
		}
		switch {
		case f.Error != nil:
			return f.Error.serverError()
		case f.SetupComplete != nil:
			return nil
		}
	}
}

func (s *session) run() {
	go s.ping()
	s.read()
}

func (s *session) read() {
	defer func() {
		close(s.audio)
		close(s.transcripts)
		close(s.done)
	}()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				s.fail(closeError(err))
			}
			return
		}
		var f serverFrame
		if json.Unmarshal(data, &f) != nil {
			continue
		}
		if f.Error != nil {
			s.fail(f.Error.serverError())
			_ = s.conn.Close(websocket.StatusNormalClosure, "server error")
			return
		}
		if f.ServerContent == nil {
			continue
		}
		for _, d := range f.ServerContent.deliveries() {
			if !d.speech {
				s.transcript(d.speaker, d.text)
				continue
			}
			select {
			case s.audio <- d.pcm:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

// transcript drops the entry when the consumer is behind; speech frames
// are never dropped.
func (s *session) transcript(speaker, text string) {
	select {
	case s.transcripts <- s2s.TranscriptEntry{Speaker: speaker, Text: text, Timestamp: time.Now()}:
	default:
	}
}

func (s *session) ping() {
	t := time.NewTicker(keepaliveInterval)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(ctx)
			cancel()
		}
	}
}

func (s *session) fail(err error) {
	s.errOnce.Do(func() { s.err = err })
}

// closeError turns a websocket read failure into *s2s.CloseError. A failure
// without a close frame is an abnormal closure.
func closeError(err error) error {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return &s2s.CloseError{Code: int(ce.Code), Reason: ce.Reason}
	}
	return &s2s.CloseError{Code: s2s.StatusAbnormalClosure}
}

// SendAudio implements [s2s.SessionHandle]. Only an encoding failure is
// returned. A failed write means the connection is gone, so the chunk is
// dropped like any chunk sent after the end; the read loop records the
// cause for Err.
func (s *session) SendAudio(chunk []byte) error {
	if len(chunk) == 0 || s.closed.Load() {
		return nil
	}
	select {
	case <-s.done:
		return nil
	default:
	}
	data, err := json.Marshal(audioFrame(chunk))
	if err != nil {
		return fmt.Errorf("gemini: encode audio: %w", err)
	}
	_ = s.conn.Write(s.ctx, websocket.MessageText, data)
	return nil
}

func (s *session) Audio() <-chan []byte                    { return s.audio }
func (s *session) Transcripts() <-chan s2s.TranscriptEntry { return s.transcripts }
func (s *session) Done() <-chan struct{}                   { return s.done }

// Err implements [s2s.SessionHandle]. It is nil after a local Close.
func (s *session) Err() error {
	select {
	case <-s.done:
	default:
		return nil
	}
	return s.err
}

// Close implements [s2s.SessionHandle].
func (s *session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()
	_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
