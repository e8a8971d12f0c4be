package payments

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var mockTestTime = time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)

func newTestMockGateway() *MockGateway {
	return NewMockGateway("mock-webhook-secret", func() time.Time { return mockTestTime })
}

func mockSessionRequest() CreateSessionRequest {
	return CreateSessionRequest{
		UserID:      "user-1",
		OrderNumber: "01HZXK3V5T",
		Currency:    "eur",
		Lines: []SessionLine{
			{Name: "TechDaily placement", Amount: 12_500, Quantity: 1},
			{Name: "FinanceWeekly placement", Amount: 7_500, Quantity: 2},
		},
		VATAmount:  6_875,
		SuccessURL: "https://app.example/ok",
		CancelURL:  "https://app.example/cancel",
		Metadata:   map[string]string{"order_number": "01HZXK3V5T"},
	}
}

func TestMockGatewayCreateCompleteRetrieve(t *testing.T) {
	g := newTestMockGateway()
	ctx := context.Background()

	session, err := g.CreateSession(ctx, mockSessionRequest())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.ID != "cs_mock_000001" || session.IntentID != "pi_mock_000001" {
		t.Errorf("unexpected ids: %+v", session)
	}
	if session.RedirectURL != "https://pay.mock.invalid/cs_mock_000001" {
		t.Errorf("unexpected redirect url %q", session.RedirectURL)
	}
	if want := mockTestTime.Add(24 * time.Hour); !session.ExpiresAt.Equal(want) {
		t.Errorf("expires at %v, want %v", session.ExpiresAt, want)
	}

	details, err := g.RetrieveSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("retrieve session: %v", err)
	}
	if details.Status != SessionOpen || details.PaymentStatus != PaymentUnpaid {
		t.Errorf("fresh session should be open and unpaid, got %+v", details)
	}
	if details.AmountTotal != 34_375 {
		t.Errorf("amount total %d, want 34375", details.AmountTotal)
	}
	if details.Currency != "EUR" {
		t.Errorf("currency %q, want EUR", details.Currency)
	}
	if details.Metadata["order_number"] != "01HZXK3V5T" {
		t.Errorf("metadata not carried over: %+v", details.Metadata)
	}

	if err := g.CompletePayment(session.ID); err != nil {
		t.Fatalf("complete payment: %v", err)
	}
	details, err = g.RetrieveSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("retrieve completed session: %v", err)
	}
	if details.Status != SessionComplete || details.PaymentStatus != PaymentPaid {
		t.Errorf("completed session should be paid, got %+v", details)
	}
	if details.PaymentMethodSummary == "" {
		t.Error("expected a payment method summary after completion")
	}
}

func TestMockGatewaySequentialIDs(t *testing.T) {
	g := newTestMockGateway()
	ctx := context.Background()

	first, err := g.CreateSession(ctx, mockSessionRequest())
	if err != nil {
		t.Fatalf("create first session: %v", err)
	}
	second, err := g.CreateSession(ctx, mockSessionRequest())
	if err != nil {
		t.Fatalf("create second session: %v", err)
	}
	if first.ID != "cs_mock_000001" || second.ID != "cs_mock_000002" {
		t.Errorf("ids not sequential: %q then %q", first.ID, second.ID)
	}
}

func TestMockGatewayRejectsEmptyCart(t *testing.T) {
	g := newTestMockGateway()

	req := mockSessionRequest()
	req.Lines = nil
	_, err := g.CreateSession(context.Background(), req)
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if gwErr.Retryable {
		t.Error("empty cart must not be retryable")
	}
}

func TestMockGatewayLazyExpiry(t *testing.T) {
	now := mockTestTime
	g := NewMockGateway("mock-webhook-secret", func() time.Time { return now })
	ctx := context.Background()

	session, err := g.CreateSession(ctx, mockSessionRequest())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	now = now.Add(25 * time.Hour)
	details, err := g.RetrieveSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("retrieve session: %v", err)
	}
	if details.Status != SessionExpired {
		t.Errorf("session past its deadline should read expired, got %q", details.Status)
	}
}

func TestMockGatewayFailPayment(t *testing.T) {
	g := newTestMockGateway()
	ctx := context.Background()

	session, err := g.CreateSession(ctx, mockSessionRequest())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := g.FailPayment(session.ID, "card_declined", "insufficient funds"); err != nil {
		t.Fatalf("fail payment: %v", err)
	}

	details, err := g.RetrieveSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("retrieve session: %v", err)
	}
	if details.PaymentStatus != PaymentUnpaid {
		t.Errorf("declined session must stay unpaid, got %q", details.PaymentStatus)
	}
	if details.FailureCode != "card_declined" || details.FailureMessage != "insufficient funds" {
		t.Errorf("failure details not recorded: %+v", details)
	}
}

func TestMockGatewayRetrieveUnknownSession(t *testing.T) {
	g := newTestMockGateway()

	_, err := g.RetrieveSession(context.Background(), "cs_mock_999999")
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
}

func TestMockGatewayParsesSessionCompletedEvent(t *testing.T) {
	g := newTestMockGateway()

	payload := []byte(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_mock_000001",
			"payment_intent": "pi_mock_000001",
			"payment_status": "paid",
			"amount_total": 34375,
			"currency": "eur",
			"metadata": {"order_number": "01HZXK3V5T"}
		}}
	}`)

	event, err := g.ParseWebhookEvent(payload, g.SignPayload(payload))
	if err != nil {
		t.Fatalf("parse webhook event: %v", err)
	}
	if event.ID != "evt_1" || event.Type != EventSessionCompleted {
		t.Errorf("unexpected envelope: %+v", event)
	}
	completed, ok := event.Payload.(SessionCompletedPayload)
	if !ok {
		t.Fatalf("expected SessionCompletedPayload, got %T", event.Payload)
	}
	if completed.SessionID != "cs_mock_000001" || completed.IntentID != "pi_mock_000001" {
		t.Errorf("unexpected ids: %+v", completed)
	}
	if completed.PaymentStatus != PaymentPaid {
		t.Errorf("payment status %q, want paid", completed.PaymentStatus)
	}
	if completed.Currency != "EUR" || completed.AmountTotal != 34_375 {
		t.Errorf("unexpected totals: %+v", completed)
	}
	if completed.Metadata["order_number"] != "01HZXK3V5T" {
		t.Errorf("metadata dropped: %+v", completed.Metadata)
	}
}

func TestMockGatewayParsesIntentFailedEvent(t *testing.T) {
	g := newTestMockGateway()

	payload := []byte(`{
		"id": "evt_2",
		"type": "payment_intent.payment_failed",
		"data": {"object": {
			"id": "pi_mock_000001",
			"last_payment_error": {
				"decline_code": "insufficient_funds",
				"message": "Your card has insufficient funds."
			},
			"metadata": {"order_number": "01HZXK3V5T"}
		}}
	}`)

	event, err := g.ParseWebhookEvent(payload, g.SignPayload(payload))
	if err != nil {
		t.Fatalf("parse webhook event: %v", err)
	}
	failed, ok := event.Payload.(IntentFailedPayload)
	if !ok {
		t.Fatalf("expected IntentFailedPayload, got %T", event.Payload)
	}
	if failed.IntentID != "pi_mock_000001" {
		t.Errorf("unexpected intent id %q", failed.IntentID)
	}
	if failed.FailureCode != "insufficient_funds" {
		t.Errorf("failure code %q, want insufficient_funds", failed.FailureCode)
	}
	if failed.FailureMessage != "Your card has insufficient funds." {
		t.Errorf("failure message %q", failed.FailureMessage)
	}
}

func TestMockGatewayParsesUnknownEventType(t *testing.T) {
	g := newTestMockGateway()

	payload := []byte(`{"id": "evt_3", "type": "invoice.finalized", "data": {"object": {}}}`)
	event, err := g.ParseWebhookEvent(payload, g.SignPayload(payload))
	if err != nil {
		t.Fatalf("parse webhook event: %v", err)
	}
	unknown, ok := event.Payload.(UnknownPayload)
	if !ok {
		t.Fatalf("expected UnknownPayload, got %T", event.Payload)
	}
	if unknown.RawType != "invoice.finalized" {
		t.Errorf("raw type %q", unknown.RawType)
	}
}

func TestMockGatewayRejectsBadSignatures(t *testing.T) {
	g := newTestMockGateway()
	payload := []byte(`{"id": "evt_4", "type": "checkout.session.completed", "data": {"object": {"id": "cs_1"}}}`)

	cases := []struct {
		name      string
		signature string
	}{
		{"not hex", "not-a-signature"},
		{"wrong key", fmt.Sprintf("%064d", 0)},
		{"tampered payload", NewMockGateway("other-secret", nil).SignPayload(payload)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := g.ParseWebhookEvent(payload, tc.signature)
			if !errors.Is(err, ErrInvalidSignature) {
				t.Fatalf("expected ErrInvalidSignature, got %v", err)
			}
		})
	}
}
