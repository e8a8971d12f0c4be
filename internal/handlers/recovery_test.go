package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domain "github.com/pressdeck/api/internal/domain"
	"github.com/pressdeck/api/internal/platform/auth"
	"github.com/pressdeck/api/internal/services"
)

type fakeRecoveryService struct {
	sweep     services.ReminderSweepResult
	sweepErr  error
	lastLimit int
	purged    int
}

func (s *fakeRecoveryService) TrackAbandonment(context.Context, services.TrackAbandonmentCommand) (domain.AbandonedCart, error) {
	return domain.AbandonedCart{}, nil
}

func (s *fakeRecoveryService) SendDueReminders(_ context.Context, limit int) (services.ReminderSweepResult, error) {
	if s.sweepErr != nil {
		return services.ReminderSweepResult{}, s.sweepErr
	}
	s.lastLimit = limit
	return s.sweep, nil
}

func (s *fakeRecoveryService) MarkRecovered(context.Context, string, time.Time) (int, error) {
	return 0, nil
}

func (s *fakeRecoveryService) PurgeExpired(context.Context, time.Time) (int, error) {
	return s.purged, nil
}

func newRecoveryTestServer(svc services.RecoveryService, secret string) http.Handler {
	validator := auth.NewHMACValidator(secret)
	return NewRouter(
		WithInternalRoutes(NewRecoveryHandlers(svc).Routes),
		WithInternalMiddlewares(validator.RequireHMAC()),
	)
}

func signedInternalRequest(t *testing.T, secret, path, body string) *http.Request {
	t.Helper()
	validator := auth.NewHMACValidator(secret)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(body)))
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	req.Header.Set("X-Signature", validator.Sign(http.MethodPost, path, []byte(body), timestamp))
	req.Header.Set("X-Signature-Timestamp", timestamp)
	return req
}

func TestRecoverySweepRequiresSignature(t *testing.T) {
	router := newRecoveryTestServer(&fakeRecoveryService{}, "internal-secret")

	req := httptest.NewRequest(http.MethodPost, "/internal/recovery/sweep", strings.NewReader(`{"limit":10}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRecoverySweepRunsWithValidSignature(t *testing.T) {
	svc := &fakeRecoveryService{sweep: services.ReminderSweepResult{Examined: 5, Sent: 2, Expired: 1}}
	router := newRecoveryTestServer(svc, "internal-secret")

	req := signedInternalRequest(t, "internal-secret", "/internal/recovery/sweep", `{"limit":25}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload sweepResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if payload.Sent != 2 || payload.Expired != 1 || payload.Examined != 5 {
		t.Errorf("unexpected payload: %+v", payload)
	}
	if svc.lastLimit != 25 {
		t.Errorf("limit not forwarded, got %d", svc.lastLimit)
	}
}

func TestRecoverySweepAllowsEmptyBody(t *testing.T) {
	svc := &fakeRecoveryService{}
	router := newRecoveryTestServer(svc, "internal-secret")

	req := signedInternalRequest(t, "internal-secret", "/internal/recovery/sweep", "")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.lastLimit != 0 {
		t.Errorf("expected default limit 0, got %d", svc.lastLimit)
	}
}

func TestRecoveryPurge(t *testing.T) {
	svc := &fakeRecoveryService{purged: 3}
	router := newRecoveryTestServer(svc, "internal-secret")

	req := signedInternalRequest(t, "internal-secret", "/internal/recovery/purge", `{"before":"2026-03-01T00:00:00Z"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload purgeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if payload.Deleted != 3 {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestRecoveryPurgeRejectsBadTimestamp(t *testing.T) {
	router := newRecoveryTestServer(&fakeRecoveryService{}, "internal-secret")

	req := signedInternalRequest(t, "internal-secret", "/internal/recovery/purge", `{"before":"yesterday"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}
