package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/searmo/yeiya/internal/resilience"
)

func readyz(t *testing.T, h *Handler) (int, result) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "broken", Check: func(context.Context) error { return errors.New("down") }})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	ok := func(context.Context) error { return nil }
	fail := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "all pass",
			checkers:   []Checker{{Name: "credential", Check: ok}, {Name: "lead_store", Check: ok}},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"credential": "ok", "lead_store": "ok"},
		},
		{
			name:       "required fails",
			checkers:   []Checker{{Name: "lead_store", Check: fail}, {Name: "credential", Check: ok}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"lead_store": "fail: connection refused", "credential": "ok"},
		},
		{
			name:       "optional fails",
			checkers:   []Checker{{Name: "webhook", Check: fail, Optional: true}, {Name: "credential", Check: ok}},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
			wantChecks: map[string]string{"webhook": "degraded: connection refused", "credential": "ok"},
		},
		{
			name: "required failure wins over degraded",
			checkers: []Checker{
				{Name: "webhook", Check: fail, Optional: true},
				{Name: "credential", Check: fail},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			code, body := readyz(t, New(tc.checkers...))
			if code != tc.wantCode {
				t.Errorf("code = %d, want %d", code, tc.wantCode)
			}
			if body.Status != tc.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tc.wantStatus)
			}
			for name, want := range tc.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("check %s = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestCredential(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key  string
		want error
	}{
		{key: "AIza-real", want: nil},
		{key: "", want: ErrCredentialMissing},
		{key: "undefined", want: ErrCredentialMissing},
		{key: "tu_api_key_aqui", want: ErrCredentialMissing},
	}
	for _, tc := range tests {
		c := Credential("credential", func() string { return tc.key })
		if err := c.Check(context.Background()); !errors.Is(err, tc.want) {
			t.Errorf("key %q: err = %v, want %v", tc.key, err, tc.want)
		}
	}
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestPing(t *testing.T) {
	t.Parallel()

	down := errors.New("db down")
	if err := Ping("db", fakePinger{}).Check(context.Background()); err != nil {
		t.Errorf("healthy ping: %v", err)
	}
	if err := Ping("db", fakePinger{err: down}).Check(context.Background()); !errors.Is(err, down) {
		t.Errorf("failing ping: %v", err)
	}
}

func TestBreaker(t *testing.T) {
	t.Parallel()

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "webhook",
		MaxFailures:  1,
		ResetTimeout: time.Hour,
	})
	c := Breaker("webhook", cb)
	if !c.Optional {
		t.Error("breaker checker should be optional")
	}
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("closed breaker: %v", err)
	}

	_ = cb.Execute(func() error { return errors.New("fail") })
	if err := c.Check(context.Background()); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("open breaker: %v", err)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "test", Check: func(context.Context) error { return nil }})

	r := chi.NewRouter()
	h.Register(r)

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, rec.Code)
		}
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
