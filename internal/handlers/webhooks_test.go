package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pressdeck/api/internal/payments"
	"github.com/pressdeck/api/internal/services"
)

type fakeGateway struct {
	parseFn func(payload []byte, signature string) (payments.Event, error)
}

func (g *fakeGateway) CreateSession(context.Context, payments.CreateSessionRequest) (payments.Session, error) {
	return payments.Session{}, errors.New("not implemented")
}

func (g *fakeGateway) RetrieveSession(context.Context, string) (payments.SessionDetails, error) {
	return payments.SessionDetails{}, errors.New("not implemented")
}

func (g *fakeGateway) ParseWebhookEvent(payload []byte, signature string) (payments.Event, error) {
	return g.parseFn(payload, signature)
}

func newWebhookTestServer(gateway payments.Gateway, proc services.WebhookProcessor) http.Handler {
	return NewRouter(
		WithWebhookRoutes(NewWebhookHandlers(gateway, proc).Routes),
	)
}

func TestWebhookAcceptsValidEvent(t *testing.T) {
	gateway := &fakeGateway{parseFn: func(payload []byte, signature string) (payments.Event, error) {
		if signature != "sig" {
			t.Errorf("signature header not forwarded, got %q", signature)
		}
		return payments.Event{ID: "evt_1", Type: payments.EventSessionCompleted}, nil
	}}
	proc := &fakeProcessor{result: services.ProcessingResult{Success: true, OrdersCreated: 2}}
	router := newWebhookTestServer(gateway, proc)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "sig")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload webhookResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !payload.Received || payload.OrdersCreated != 2 {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	gateway := &fakeGateway{parseFn: func([]byte, string) (payments.Event, error) {
		return payments.Event{}, payments.ErrInvalidSignature
	}}
	router := newWebhookTestServer(gateway, &fakeProcessor{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "invalid_signature") {
		t.Errorf("expected invalid_signature code, got %s", rec.Body.String())
	}
}

func TestWebhookDuplicateIsAcknowledged(t *testing.T) {
	gateway := &fakeGateway{parseFn: func([]byte, string) (payments.Event, error) {
		return payments.Event{ID: "evt_1", Type: payments.EventSessionCompleted}, nil
	}}
	proc := &fakeProcessor{result: services.ProcessingResult{Success: true, Duplicate: true}}
	router := newWebhookTestServer(gateway, proc)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("duplicates must be acknowledged with 200, got %d", rec.Code)
	}
	var payload webhookResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !payload.Duplicate {
		t.Error("duplicate flag not set")
	}
}

func TestWebhookRetryableFailureReturns500(t *testing.T) {
	gateway := &fakeGateway{parseFn: func([]byte, string) (payments.Event, error) {
		return payments.Event{ID: "evt_1", Type: payments.EventSessionCompleted}, nil
	}}
	proc := &fakeProcessor{result: services.ProcessingResult{Retryable: true, Err: errors.New("store down")}}
	router := newWebhookTestServer(gateway, proc)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 so the provider retries, got %d", rec.Code)
	}
}
