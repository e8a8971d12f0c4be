package auth

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func signedRequest(t *testing.T, v *HMACValidator, body []byte, at time.Time) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/internal/recovery/sweep", bytes.NewReader(body))
	timestamp := strconv.FormatInt(at.Unix(), 10)
	req.Header.Set(defaultTimestampHeader, timestamp)
	req.Header.Set(defaultSignatureHeader, v.Sign(http.MethodPost, "/internal/recovery/sweep", body, timestamp))
	return req
}

func TestRequireHMACAcceptsValidSignature(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	validator := NewHMACValidator("internal-secret", WithHMACClock(fixedClock(now)))

	var called bool
	handler := validator.RequireHMAC()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))

	body := []byte(`{"limit":10}`)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, validator, body, now))

	if !called {
		t.Fatal("expected handler to be invoked")
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}

func TestRequireHMACRejectsTamperedBody(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	validator := NewHMACValidator("internal-secret", WithHMACClock(fixedClock(now)))

	handler := validator.RequireHMAC()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run for a bad signature")
	}))

	req := signedRequest(t, validator, []byte(`{"limit":10}`), now)
	req.Body = http.NoBody
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireHMACRejectsStaleTimestamp(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	validator := NewHMACValidator("internal-secret", WithHMACClock(fixedClock(now)))

	handler := validator.RequireHMAC()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run for a stale timestamp")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, validator, nil, now.Add(-time.Hour)))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireHMACRejectsMissingHeaders(t *testing.T) {
	validator := NewHMACValidator("internal-secret")

	handler := validator.RequireHMAC()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without a signature")
	}))

	req := httptest.NewRequest(http.MethodPost, "/internal/recovery/sweep", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
