package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func decode(t *testing.T, rec *httptest.ResponseRecorder) result {
	t.Helper()
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		opts       []Option
		wantActive *bool
	}{
		{"plain", nil, nil},
		{"idle", []Option{WithSessionState(func() bool { return false })}, new(bool)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			New(nil, tt.opts...).Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
				t.Errorf("Content-Type = %q", ct)
			}
			body := decode(t, rec)
			if body.Status != "ok" {
				t.Errorf("status = %q, want ok", body.Status)
			}
			if (body.Session == nil) != (tt.wantActive == nil) {
				t.Fatalf("session_active = %v, want %v", body.Session, tt.wantActive)
			}
			if body.Session != nil && *body.Session != *tt.wantActive {
				t.Errorf("session_active = %v, want %v", *body.Session, *tt.wantActive)
			}
		})
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	okPing := pingerFunc(func(context.Context) error { return nil })
	badPing := pingerFunc(func(context.Context) error { return errors.New("connection refused") })

	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
		},
		{
			name:       "all pass",
			checkers:   []Checker{PingCheck("store", okPing), BreakerCheck("llm", func() bool { return true })},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"store": "ok", "llm": "ok"},
		},
		{
			name:       "store down",
			checkers:   []Checker{PingCheck("store", badPing), BreakerCheck("llm", func() bool { return true })},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"store": "fail: connection refused", "llm": "ok"},
		},
		{
			name:       "breaker open",
			checkers:   []Checker{BreakerCheck("llm", func() bool { return false })},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"llm": "fail: " + ErrBreakerOpen.Error()},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			New(tt.checkers).Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			body := decode(t, rec)
			for k, want := range tt.wantChecks {
				if got := body.Checks[k]; got != want {
					t.Errorf("check %q = %q, want %q", k, got, want)
				}
			}
		})
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	New([]Checker{{Name: "test", Check: func(context.Context) error { return nil }}}).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, rec.Code)
		}
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()
	h := New([]Checker{{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
