// Package chat serves the site's text assistant at POST /api/chat.
//
// A request carries the visitor's new message and the conversation so far.
// The handler forwards both to the configured chat provider with the persona
// prompt, strips any lead block out of the reply, hands the lead to the
// dispatcher and answers with the cleaned text.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/searmo/yeiya/internal/lead"
	"github.com/searmo/yeiya/internal/observe"
	"github.com/searmo/yeiya/pkg/provider/llm"
)

// Replies used when the model output cannot be shown as is.
const (
	// LeadConfirmation replaces a reply that held nothing but the lead block.
	LeadConfirmation = "¡Excelente! He sincronizado tus datos en nuestro ecosistema. Pronto nos pondremos en contacto."

	// EmptyReply replaces an empty model reply.
	EmptyReply = "La frecuencia es inestable. ¿Podrías repetir?"
)

// DefaultTemperature is the sampling temperature sent with every request.
const DefaultTemperature = 0.7

const maxBodyBytes = 1 << 20

// Part is one text fragment of a history entry.
type Part struct {
	Text string `json:"text"`
}

// HistoryEntry is one prior turn, in the shape the site's widget sends.
// Role is "user" or "model".
type HistoryEntry struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Request is the POST body.
type Request struct {
	Message             string         `json:"message"`
	ConversationHistory []HistoryEntry `json:"conversationHistory"`
}

// Response is the success body.
type Response struct {
	Response string `json:"response"`
	Success  bool   `json:"success"`
}

// ErrorResponse is the failure body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// LeadDispatcher receives leads found in replies.
type LeadDispatcher interface {
	Dispatch(l lead.Lead)
}

// Handler implements http.Handler for the chat endpoint.
type Handler struct {
	provider    llm.Provider
	leads       LeadDispatcher
	temperature float64
	maxTokens   int
	metrics     *observe.Metrics
	log         *slog.Logger
	persona     atomic.Pointer[string]
}

// Option configures a Handler.
type Option func(*Handler)

// WithLeads sets the lead dispatcher. Without one, leads are still stripped
// from replies but go nowhere.
func WithLeads(d LeadDispatcher) Option {
	return func(h *Handler) { h.leads = d }
}

// WithPersona sets the assistant name used in the system prompt.
func WithPersona(name string) Option {
	return func(h *Handler) { h.SetPersona(name) }
}

// WithTemperature overrides DefaultTemperature.
func WithTemperature(t float64) Option {
	return func(h *Handler) { h.temperature = t }
}

// WithMaxTokens caps the reply length. Zero leaves it to the provider.
func WithMaxTokens(n int) Option {
	return func(h *Handler) { h.maxTokens = n }
}

// WithMetrics sets the metrics sink. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// NewHandler returns a chat handler backed by provider. A nil provider means
// no credential is configured; every request then fails with 500.
func NewHandler(provider llm.Provider, opts ...Option) *Handler {
	h := &Handler{provider: provider, temperature: DefaultTemperature}
	h.SetPersona(DefaultPersona)
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	if h.log == nil {
		h.log = slog.Default()
	}
	h.log = h.log.With("component", "chat")
	return h
}

// SetPersona changes the assistant name for subsequent requests.
func (h *Handler) SetPersona(name string) {
	if name == "" {
		name = DefaultPersona
	}
	h.persona.Store(&name)
}

// Persona returns the current assistant name.
func (h *Handler) Persona() string { return *h.persona.Load() }

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "Method not allowed"})
		return
	}

	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Details: err.Error()})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Message is required"})
		return
	}
	if h.provider == nil {
		h.metrics.RecordChat(r.Context(), "unconfigured", 0)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "API key not configured"})
		return
	}

	reply, err := h.Reply(r.Context(), req)
	if err != nil {
		observe.LoggerFrom(r.Context(), h.log).Error("chat completion failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "Error processing request",
			Details: err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, Response{Response: reply, Success: true})
}

// Reply runs one chat turn and returns the text to show the visitor. A lead
// found in the model output is dispatched and removed from the reply.
func (h *Handler) Reply(ctx context.Context, req Request) (string, error) {
	ctx, span := observe.StartSpan(ctx, "chat.complete")
	defer span.End()
	span.SetAttributes(attribute.Int("chat.history_len", len(req.ConversationHistory)))

	start := time.Now()
	resp, err := h.provider.Complete(ctx, llm.CompletionRequest{
		Messages:     toMessages(req),
		SystemPrompt: SystemInstruction(h.Persona()),
		Temperature:  h.temperature,
		MaxTokens:    h.maxTokens,
	})
	elapsed := time.Since(start).Seconds()
	if err != nil {
		observe.FailSpan(span, err)
		h.metrics.RecordChat(ctx, "error", elapsed)
		return "", err
	}
	h.metrics.RecordChat(ctx, "ok", elapsed)

	text := ""
	if resp != nil {
		text = resp.Content
	}
	if text == "" {
		return EmptyReply, nil
	}

	l, cleaned, ok := lead.Extract(text)
	if !ok {
		return text, nil
	}
	span.SetAttributes(attribute.Bool("chat.lead_captured", true))
	if h.leads != nil {
		l.Source = lead.SourceChat
		h.leads.Dispatch(l)
	}
	if cleaned == "" {
		cleaned = LeadConfirmation
	}
	return cleaned, nil
}

// toMessages flattens the widget's history and appends the new message.
func toMessages(req Request) []llm.Message {
	msgs := make([]llm.Message, 0, len(req.ConversationHistory)+1)
	for _, e := range req.ConversationHistory {
		var sb strings.Builder
		for _, p := range e.Parts {
			sb.WriteString(p.Text)
		}
		role := llm.RoleUser
		if e.Role == "model" || e.Role == llm.RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: sb.String()})
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: req.Message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
