package payments

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidSignature is returned when an inbound webhook fails authenticity
// verification. Events carrying it must never be processed.
var ErrInvalidSignature = errors.New("payments: invalid webhook signature")

// GatewayError wraps provider failures with a retryability hint so callers can
// distinguish "try again" from "contact support".
type GatewayError struct {
	Op        string
	Retryable bool
	Err       error
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("payments: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying provider error.
func (e *GatewayError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// SessionLine describes a single provider line item, amounts in minor units.
type SessionLine struct {
	Name        string
	Description string
	Amount      int64 // unit amount, pre-VAT
	Quantity    int64
}

// CreateSessionRequest carries everything needed to open a hosted payment page.
type CreateSessionRequest struct {
	UserID         string
	OrderNumber    string
	CustomerEmail  string
	Currency       string
	Lines          []SessionLine
	VATAmount      int64 // added as its own line so per-line amounts stay pre-VAT
	SuccessURL     string
	CancelURL      string
	Metadata       map[string]string
	IdempotencyKey string
	ExpiresAt      time.Time
}

// Session is the provider handle returned after session creation.
type Session struct {
	ID          string
	IntentID    string
	RedirectURL string
	ExpiresAt   time.Time
}

// SessionStatus normalises the provider's session lifecycle states.
type SessionStatus string

const (
	SessionOpen     SessionStatus = "open"
	SessionComplete SessionStatus = "complete"
	SessionExpired  SessionStatus = "expired"
)

// PaymentStatus normalises whether funds were captured for a session.
type PaymentStatus string

const (
	PaymentPaid   PaymentStatus = "paid"
	PaymentUnpaid PaymentStatus = "unpaid"
)

// SessionDetails is the normalised result of a verify-by-session-id poll.
type SessionDetails struct {
	ID                   string
	Status               SessionStatus
	PaymentStatus        PaymentStatus
	IntentID             string
	AmountTotal          int64
	Currency             string
	PaymentMethodSummary string
	FailureCode          string
	FailureMessage       string
	Metadata             map[string]string
}

// Gateway is the payment-provider contract consumed by the checkout core.
// Exactly one implementation is selected at startup; business logic never
// branches on the provider.
type Gateway interface {
	CreateSession(ctx context.Context, req CreateSessionRequest) (Session, error)
	RetrieveSession(ctx context.Context, sessionID string) (SessionDetails, error)
	// ParseWebhookEvent verifies the payload signature and decodes it into the
	// closed event union. Returns ErrInvalidSignature on authenticity failure.
	ParseWebhookEvent(payload []byte, signatureHeader string) (Event, error)
}
