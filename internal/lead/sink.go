package lead

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/searmo/yeiya/internal/observe"
)

// Sink stores or forwards a lead. Implementations must be safe for
// concurrent use.
type Sink interface {
	// Name labels the sink in logs and metrics.
	Name() string

	// Save delivers l. It must return promptly when ctx is cancelled.
	Save(ctx context.Context, l Lead) error
}

// DefaultDeliveryTimeout bounds a single sink delivery.
const DefaultDeliveryTimeout = 10 * time.Second

// Dispatcher fans leads out to its sinks without blocking the caller.
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
	metrics *observe.Metrics
	log     *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithTimeout overrides DefaultDeliveryTimeout.
func WithTimeout(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) { disp.timeout = d }
}

// WithMetrics sets the metrics sink. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) DispatcherOption {
	return func(disp *Dispatcher) { disp.metrics = m }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(disp *Dispatcher) { disp.log = l }
}

// WithNow overrides the clock used for CapturedAt.
func WithNow(now func() time.Time) DispatcherOption {
	return func(disp *Dispatcher) { disp.now = now }
}

// NewDispatcher returns a Dispatcher delivering to sinks.
func NewDispatcher(sinks []Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sinks:   sinks,
		timeout: DefaultDeliveryTimeout,
		now:     time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	d.log = d.log.With("component", "lead")
	return d
}

// Sinks returns the configured sink names.
func (d *Dispatcher) Sinks() []string {
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	return names
}

// Dispatch stamps l with an ID and capture time if missing and delivers it
// to every sink in the background. It never blocks on delivery and never
// reports failures; after Close it drops the lead.
func (d *Dispatcher) Dispatch(l Lead) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CapturedAt.IsZero() {
		l.CapturedAt = d.now().UTC()
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.Warn("lead dropped after shutdown", "lead_id", l.ID)
		return
	}
	d.wg.Add(len(d.sinks))
	d.mu.Unlock()

	d.log.Info("lead captured", "lead_id", l.ID, "source", l.Source, "sinks", len(d.sinks))
	for _, s := range d.sinks {
		go d.deliver(s, l)
	}
}

func (d *Dispatcher) deliver(s Sink, l Lead) {
	defer d.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := s.Save(ctx, l); err != nil {
		d.metrics.RecordLead(ctx, s.Name(), "error")
		d.log.Warn("lead delivery failed", "sink", s.Name(), "lead_id", l.ID, "err", err)
		return
	}
	d.metrics.RecordLead(ctx, s.Name(), "ok")
	d.log.Debug("lead delivered", "sink", s.Name(), "lead_id", l.ID)
}

// Close stops accepting leads and waits for in-flight deliveries, or until
// ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
