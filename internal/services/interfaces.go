package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	domain "github.com/pressdeck/api/internal/domain"
	"github.com/pressdeck/api/internal/payments"
)

// Violation describes one validation failure. Validation always collects every
// violation before reporting so the client can fix the cart in one pass.
type Violation struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationError carries the full violation list for a rejected request.
type ValidationError struct {
	Violations []Violation
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e == nil || len(e.Violations) == 0 {
		return "validation failed"
	}
	codes := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		codes = append(codes, v.Code)
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(codes, ", "))
}

// LinePricing is the deterministic price breakdown for a single cart line.
type LinePricing struct {
	UnitPrice int64 // base x multiplier + surcharge, pre-VAT
	Surcharge int64
	LineTotal int64 // unit x quantity
}

// PricedLine pairs a cart item with its computed pricing.
type PricedLine struct {
	Item    domain.CartItem
	Pricing LinePricing
}

// CartPricing is the priced view of an entire cart.
type CartPricing struct {
	Lines    []PricedLine
	Subtotal int64
	VAT      int64
	Total    int64
	Currency string
}

// PricingEngine computes deterministic prices in minor currency units.
type PricingEngine interface {
	PriceLine(item domain.CartItem) (LinePricing, error)
	PriceCart(items []domain.CartItem) (CartPricing, error)
}

// UpsertCartItemCommand adds or replaces a cart line for a user.
type UpsertCartItemCommand struct {
	UserID        string
	ItemID        string // empty on add
	OutletID      string
	OutletName    string
	Category      string
	BasePrice     int64
	Currency      string
	NicheID       string
	Multiplier    float64
	ContentOption string
	Quantity      int
}

// UpdateCartItemCommand changes the mutable fields of an existing line.
type UpdateCartItemCommand struct {
	UserID        string
	ItemID        string
	Quantity      int
	ContentOption string
}

// CartService owns the live cart lines of a user.
type CartService interface {
	ListItems(ctx context.Context, userID string) ([]domain.CartItem, error)
	AddItem(ctx context.Context, cmd UpsertCartItemCommand) (domain.CartItem, error)
	UpdateItem(ctx context.Context, cmd UpdateCartItemCommand) (domain.CartItem, error)
	RemoveItem(ctx context.Context, userID, itemID string) error
	Clear(ctx context.Context, userID string) error
}

// CreateSessionCommand starts a checkout attempt for a user's current cart.
type CreateSessionCommand struct {
	UserID     string
	Billing    domain.BillingInfo
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// SessionHandle is what the client needs to send the customer to payment.
type SessionHandle struct {
	SessionID   string
	OrderNumber string
	RedirectURL string
	Subtotal    int64
	VAT         int64
	Total       int64
	Currency    string
	ExpiresAt   time.Time
}

// CheckoutService validates carts and opens payment sessions. It never
// mutates the live cart and never creates orders; those happen only when a
// payment outcome arrives.
type CheckoutService interface {
	ValidateCart(items []domain.CartItem) []Violation
	CreateSession(ctx context.Context, cmd CreateSessionCommand) (SessionHandle, error)
}

// ProcessingResult reports the outcome of one webhook delivery.
type ProcessingResult struct {
	Success       bool
	Duplicate     bool
	OrdersCreated int
	Retryable     bool
	Err           error
}

// VerificationResult is the converged session state after a verify poll.
type VerificationResult struct {
	SessionID   string
	Status      domain.CheckoutSessionStatus
	OrderNumber string
	OrderIDs    []string
}

// WebhookProcessor applies signed payment events and the verify-poll fallback.
// Both paths converge on the same terminal session state; replays and
// reordered deliveries are no-ops.
type WebhookProcessor interface {
	Process(ctx context.Context, event payments.Event) ProcessingResult
	VerifySession(ctx context.Context, sessionID string) (VerificationResult, error)
}

// TrackAbandonmentCommand snapshots a failed checkout for recovery.
type TrackAbandonmentCommand struct {
	UserID        string
	SessionID     string
	Items         []domain.SessionLineItem
	Billing       domain.BillingInfo
	FailureCode   string
	FailureReason string
}

// ReminderSweepResult summarises one recovery sweep run.
type ReminderSweepResult struct {
	Examined int
	Sent     int
	Expired  int
}

// RecoveryService tracks abandoned carts and drives staged reminders.
type RecoveryService interface {
	TrackAbandonment(ctx context.Context, cmd TrackAbandonmentCommand) (domain.AbandonedCart, error)
	SendDueReminders(ctx context.Context, limit int) (ReminderSweepResult, error)
	MarkRecovered(ctx context.Context, userID string, at time.Time) (int, error)
	PurgeExpired(ctx context.Context, before time.Time) (int, error)
}

// ReminderJobMessage is the payload published for each due recovery reminder.
type ReminderJobMessage struct {
	CartID      string `json:"cartId"`
	UserID      string `json:"userId"`
	Email       string `json:"email"`
	Stage       int    `json:"stage"`
	RecoveryURL string `json:"recoveryUrl"`
	FailureCode string `json:"failureCode,omitempty"`
}

// ReminderPublisher hands reminder jobs to the delivery pipeline.
type ReminderPublisher interface {
	PublishReminder(ctx context.Context, message ReminderJobMessage) (string, error)
}

// NotificationMessage is the payload published when a checkout reaches a
// terminal state. Delivery is best effort and never blocks order creation.
type NotificationMessage struct {
	Type        string   `json:"type"`
	UserID      string   `json:"userId"`
	Email       string   `json:"email,omitempty"`
	SessionID   string   `json:"sessionId"`
	OrderNumber string   `json:"orderNumber,omitempty"`
	OrderIDs    []string `json:"orderIds,omitempty"`
	FailureCode string   `json:"failureCode,omitempty"`
}

// NotificationPublisher hands checkout notifications to the delivery pipeline.
type NotificationPublisher interface {
	PublishNotification(ctx context.Context, message NotificationMessage) (string, error)
}

// CustomerSyncMessage carries the buyer-profile fields propagated to the
// customer record pipeline after a payment outcome or a provider customer
// event.
type CustomerSyncMessage struct {
	UserID     string `json:"userId,omitempty"`
	Email      string `json:"email,omitempty"`
	CustomerID string `json:"customerId,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`
}

// CustomerSync keeps the downstream customer record in step with checkout
// outcomes. Sync is best effort: failures are logged and never block order
// creation.
type CustomerSync interface {
	SyncCustomer(ctx context.Context, message CustomerSyncMessage) error
}
