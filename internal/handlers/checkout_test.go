package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domain "github.com/pressdeck/api/internal/domain"
	"github.com/pressdeck/api/internal/payments"
	"github.com/pressdeck/api/internal/platform/auth"
	"github.com/pressdeck/api/internal/services"
)

type fakeCheckoutService struct {
	handle  services.SessionHandle
	err     error
	lastCmd services.CreateSessionCommand
}

func (s *fakeCheckoutService) ValidateCart([]domain.CartItem) []services.Violation { return nil }

func (s *fakeCheckoutService) CreateSession(_ context.Context, cmd services.CreateSessionCommand) (services.SessionHandle, error) {
	s.lastCmd = cmd
	if s.err != nil {
		return services.SessionHandle{}, s.err
	}
	return s.handle, nil
}

type fakeProcessor struct {
	result    services.ProcessingResult
	verify    services.VerificationResult
	verifyErr error
}

func (p *fakeProcessor) Process(context.Context, payments.Event) services.ProcessingResult {
	return p.result
}

func (p *fakeProcessor) VerifySession(context.Context, string) (services.VerificationResult, error) {
	if p.verifyErr != nil {
		return services.VerificationResult{}, p.verifyErr
	}
	return p.verify, nil
}

func newCheckoutTestServer(svc services.CheckoutService, proc services.WebhookProcessor) http.Handler {
	return NewRouter(
		WithMiddlewares(auth.IdentityMiddleware()),
		WithCheckoutRoutes(NewCheckoutHandlers(svc, proc).Routes),
	)
}

func TestCheckoutCreateSession(t *testing.T) {
	svc := &fakeCheckoutService{handle: services.SessionHandle{
		SessionID:   "cs_1",
		OrderNumber: "01HZXK3V5T",
		RedirectURL: "https://pay.example/cs_1",
		Subtotal:    25_000,
		VAT:         6_250,
		Total:       31_250,
		Currency:    "EUR",
		ExpiresAt:   time.Date(2026, time.March, 15, 9, 30, 0, 0, time.UTC),
	}}
	router := newCheckoutTestServer(svc, &fakeProcessor{})

	body := `{"billing":{"email":"buyer@example.com","country":"DE"},"successUrl":"https://app.example/ok","cancelUrl":"https://app.example/cancel"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/session", strings.NewReader(body))
	req.Header.Set(auth.UserIDHeader, "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload checkoutSessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if payload.SessionID != "cs_1" || payload.Total != 31_250 {
		t.Errorf("unexpected payload: %+v", payload)
	}
	if svc.lastCmd.UserID != "user-1" || svc.lastCmd.Billing.Email != "buyer@example.com" {
		t.Errorf("unexpected command: %+v", svc.lastCmd)
	}
}

func TestCheckoutCreateSessionRequiresIdentity(t *testing.T) {
	router := newCheckoutTestServer(&fakeCheckoutService{}, &fakeProcessor{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/session", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCheckoutCreateSessionValidationFailure(t *testing.T) {
	svc := &fakeCheckoutService{err: &services.ValidationError{Violations: []services.Violation{
		{Field: "items", Code: "cart_empty", Message: "cart has no checkout-eligible lines"},
	}}}
	router := newCheckoutTestServer(svc, &fakeProcessor{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/session", strings.NewReader(`{"successUrl":"https://a","cancelUrl":"https://b"}`))
	req.Header.Set(auth.UserIDHeader, "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if payload["error"] != "cart_invalid" {
		t.Errorf("unexpected error code: %v", payload["error"])
	}
	violations, ok := payload["violations"].([]any)
	if !ok || len(violations) != 1 {
		t.Errorf("expected violation list in response, got %v", payload)
	}
}

func TestCheckoutCreateSessionGatewayDown(t *testing.T) {
	svc := &fakeCheckoutService{err: services.ErrCheckoutGatewayUnavailable}
	router := newCheckoutTestServer(svc, &fakeProcessor{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/session", strings.NewReader(`{"successUrl":"https://a","cancelUrl":"https://b"}`))
	req.Header.Set(auth.UserIDHeader, "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestCheckoutVerifySession(t *testing.T) {
	proc := &fakeProcessor{verify: services.VerificationResult{
		SessionID:   "cs_1",
		Status:      domain.SessionStatusPaid,
		OrderNumber: "01HZXK3V5T",
		OrderIDs:    []string{"cs_1_outlet-1"},
	}}
	router := newCheckoutTestServer(&fakeCheckoutService{}, proc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/verify", strings.NewReader(`{"sessionId":"cs_1"}`))
	req.Header.Set(auth.UserIDHeader, "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload verifySessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if payload.Status != "paid" || len(payload.OrderIDs) != 1 {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestCheckoutVerifyUnknownSession(t *testing.T) {
	proc := &fakeProcessor{verifyErr: services.ErrSessionNotFound}
	router := newCheckoutTestServer(&fakeCheckoutService{}, proc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/verify", strings.NewReader(`{"sessionId":"cs_missing"}`))
	req.Header.Set(auth.UserIDHeader, "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCheckoutVerifyRequiresSessionID(t *testing.T) {
	router := newCheckoutTestServer(&fakeCheckoutService{}, &fakeProcessor{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/verify", strings.NewReader(`{}`))
	req.Header.Set(auth.UserIDHeader, "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
