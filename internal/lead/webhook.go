package lead

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/searmo/yeiya/internal/resilience"
)

// DefaultWebhookURL is the spreadsheet intake script leads are posted to.
const DefaultWebhookURL = "https://script.google.com/macros/s/AKfycbymSivlfLruY44ySQZiHmahuYodzTRRTDB7UYW5eCIHKGCp_vkiJ4ANskuaDBhnKVj6/exec"

// WebhookSink POSTs each lead as JSON to an HTTP endpoint. Calls go through
// a circuit breaker so a dead endpoint is skipped instead of tying up a
// goroutine per lead.
type WebhookSink struct {
	url     string
	client  *http.Client
	breaker *resilience.CircuitBreaker
}

var _ Sink = (*WebhookSink)(nil)

// WebhookOption configures a WebhookSink.
type WebhookOption func(*WebhookSink)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *WebhookSink) { w.client = c }
}

// WithBreaker replaces the default breaker.
func WithBreaker(cb *resilience.CircuitBreaker) WebhookOption {
	return func(w *WebhookSink) { w.breaker = cb }
}

// NewWebhookSink returns a sink posting to url, or DefaultWebhookURL when
// url is empty.
func NewWebhookSink(url string, opts ...WebhookOption) *WebhookSink {
	if url == "" {
		url = DefaultWebhookURL
	}
	w := &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(w)
	}
	if w.breaker == nil {
		w.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "lead-webhook"})
	}
	return w
}

// Name implements Sink.
func (w *WebhookSink) Name() string { return "webhook" }

// URL returns the target endpoint.
func (w *WebhookSink) URL() string { return w.url }

// Breaker returns the circuit breaker guarding the endpoint.
func (w *WebhookSink) Breaker() *resilience.CircuitBreaker { return w.breaker }

// Save implements Sink. Any status of 400 or above is an error.
func (w *WebhookSink) Save(ctx context.Context, l Lead) error {
	body, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("lead: webhook: marshal: %w", err)
	}

	return w.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("lead: webhook: new request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			return fmt.Errorf("lead: webhook: post: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("lead: webhook: unexpected status %d", resp.StatusCode)
		}
		return nil
	})
}
