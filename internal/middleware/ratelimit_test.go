package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiter_BudgetPerIP(t *testing.T) {
	rl := NewRateLimiter(5, 15*time.Minute)
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	fire := func(addr string) int {
		req := httptest.NewRequest("POST", "/api/auth/login", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 5; i++ {
		if code := fire("10.0.0.1:1234"); code != http.StatusOK {
			t.Fatalf("attempt %d = %d, want 200", i+1, code)
		}
	}
	if code := fire("10.0.0.1:1234"); code != http.StatusTooManyRequests {
		t.Errorf("6th attempt = %d, want 429", code)
	}

	// A different IP has its own budget.
	if code := fire("10.0.0.2:1234"); code != http.StatusOK {
		t.Errorf("fresh IP = %d, want 200", code)
	}
}

func TestTimeout_ExpiredRequestGets408(t *testing.T) {
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
			w.WriteHeader(http.StatusOK)
		}
	})

	h := Timeout(50 * time.Millisecond)(slow)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusRequestTimeout {
		t.Errorf("status = %d, want 408", rec.Code)
	}
}

func TestTimeout_FastRequestUntouched(t *testing.T) {
	h := Timeout(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", rec.Code)
	}
}

func TestRequestID_IssuedAndEchoed(t *testing.T) {
	var sawHeader string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawHeader = w.Header().Get("X-Request-ID")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if sawHeader == "" {
		t.Error("no request ID issued")
	}

	// Inbound ID preserved.
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-ID") != "fixed-id" {
		t.Errorf("inbound ID replaced: %q", rec.Header().Get("X-Request-ID"))
	}
}
