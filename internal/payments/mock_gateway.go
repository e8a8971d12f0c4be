package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/stripe/stripe-go/v78"
)

// MockGateway is the deterministic Gateway used in development and tests. It
// never talks to the network: sessions are held in memory, ids are sequential,
// and webhook signatures are a plain HMAC of the payload.
type MockGateway struct {
	secret []byte
	clock  func() time.Time

	mu       sync.Mutex
	seq      int
	sessions map[string]*mockSession
}

type mockSession struct {
	details SessionDetails
	expires time.Time
}

// NewMockGateway constructs the deterministic gateway.
func NewMockGateway(webhookSecret string, clock func() time.Time) *MockGateway {
	if clock == nil {
		clock = time.Now
	}
	return &MockGateway{
		secret:   []byte(webhookSecret),
		clock:    func() time.Time { return clock().UTC() },
		sessions: make(map[string]*mockSession),
	}
}

// CreateSession records an open session and hands back a deterministic handle.
func (g *MockGateway) CreateSession(_ context.Context, req CreateSessionRequest) (Session, error) {
	if g == nil {
		return Session{}, errors.New("mock gateway: not initialised")
	}
	if len(req.Lines) == 0 {
		return Session{}, &GatewayError{Op: "create session", Err: errors.New("no line items")}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.seq++
	id := fmt.Sprintf("cs_mock_%06d", g.seq)
	intentID := fmt.Sprintf("pi_mock_%06d", g.seq)

	var total int64
	for _, line := range req.Lines {
		quantity := line.Quantity
		if quantity < 1 {
			quantity = 1
		}
		total += line.Amount * quantity
	}
	total += req.VATAmount

	expiresAt := req.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = g.clock().Add(24 * time.Hour)
	}

	metadata := make(map[string]string, len(req.Metadata))
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	g.sessions[id] = &mockSession{
		details: SessionDetails{
			ID:            id,
			Status:        SessionOpen,
			PaymentStatus: PaymentUnpaid,
			IntentID:      intentID,
			AmountTotal:   total,
			Currency:      strings.ToUpper(req.Currency),
			Metadata:      metadata,
		},
		expires: expiresAt,
	}

	return Session{
		ID:          id,
		IntentID:    intentID,
		RedirectURL: "https://pay.mock.invalid/" + id,
		ExpiresAt:   expiresAt,
	}, nil
}

// RetrieveSession returns the recorded session state, expiring it lazily.
func (g *MockGateway) RetrieveSession(_ context.Context, sessionID string) (SessionDetails, error) {
	if g == nil {
		return SessionDetails{}, errors.New("mock gateway: not initialised")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	sess, ok := g.sessions[strings.TrimSpace(sessionID)]
	if !ok {
		return SessionDetails{}, &GatewayError{Op: "retrieve session", Err: fmt.Errorf("unknown session %q", sessionID)}
	}
	if sess.details.Status == SessionOpen && g.clock().After(sess.expires) {
		sess.details.Status = SessionExpired
	}
	return sess.details, nil
}

// CompletePayment marks a session paid so tests and local flows can simulate
// the customer finishing checkout.
func (g *MockGateway) CompletePayment(sessionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	sess, ok := g.sessions[strings.TrimSpace(sessionID)]
	if !ok {
		return fmt.Errorf("mock gateway: unknown session %q", sessionID)
	}
	sess.details.Status = SessionComplete
	sess.details.PaymentStatus = PaymentPaid
	sess.details.PaymentMethodSummary = "visa ****4242"
	return nil
}

// FailPayment marks a session declined.
func (g *MockGateway) FailPayment(sessionID, code, message string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	sess, ok := g.sessions[strings.TrimSpace(sessionID)]
	if !ok {
		return fmt.Errorf("mock gateway: unknown session %q", sessionID)
	}
	sess.details.Status = SessionOpen
	sess.details.PaymentStatus = PaymentUnpaid
	sess.details.FailureCode = code
	sess.details.FailureMessage = message
	return nil
}

// ParseWebhookEvent verifies the hex HMAC-SHA256 signature and decodes the
// payload, which uses the same envelope shape as the live provider.
func (g *MockGateway) ParseWebhookEvent(payload []byte, signatureHeader string) (Event, error) {
	if g == nil {
		return Event{}, errors.New("mock gateway: not initialised")
	}

	signature, err := hex.DecodeString(strings.TrimSpace(signatureHeader))
	if err != nil {
		return Event{}, fmt.Errorf("%w: signature must be hex encoded", ErrInvalidSignature)
	}
	mac := hmac.New(sha256.New, g.secret)
	_, _ = mac.Write(payload)
	if !hmac.Equal(signature, mac.Sum(nil)) {
		return Event{}, fmt.Errorf("%w: signature mismatch", ErrInvalidSignature)
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, fmt.Errorf("mock gateway: decode event: %w", err)
	}
	return decodeStripeEvent(event)
}

// SignPayload produces the signature header expected by ParseWebhookEvent.
func (g *MockGateway) SignPayload(payload []byte) string {
	mac := hmac.New(sha256.New, g.secret)
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

var _ Gateway = (*MockGateway)(nil)
var _ Gateway = (*StripeGateway)(nil)
