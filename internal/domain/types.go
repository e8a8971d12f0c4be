package domain

import (
	"strings"
	"time"
)

// CurrencyEUR is the single currency the marketplace transacts in.
const CurrencyEUR = "EUR"

// ContentOption selects who authors the placement content for a cart line.
type ContentOption string

const (
	// ContentSelfProvided means the buyer supplies the article themselves.
	ContentSelfProvided ContentOption = "self_provided"
	// ContentProfessional means the platform's writers produce the article for a fixed surcharge.
	ContentProfessional ContentOption = "professional"
)

// ParseContentOption normalises a raw content option value, defaulting to self-provided.
func ParseContentOption(raw string) (ContentOption, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(ContentSelfProvided):
		return ContentSelfProvided, true
	case string(ContentProfessional):
		return ContentProfessional, true
	default:
		return "", false
	}
}

// CartItem is a single purchasable placement in a user's cart. Unit totals are
// always recomputed from (base price, multiplier, content option); they are
// never persisted as cached values.
type CartItem struct {
	ID            string
	UserID        string
	OutletID      string
	OutletName    string
	Category      string
	BasePrice     int64 // minor units (cents), pre-VAT
	Currency      string
	NicheID       string
	Multiplier    float64 // 0 means the default 1.0
	ContentOption ContentOption
	Quantity      int
	ReadOnly      bool // backup/imported lines excluded from checkout
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// BillingInfo is the billing snapshot captured at checkout and carried onto
// sessions and abandoned carts.
type BillingInfo struct {
	Name      string
	Email     string
	Company   string
	VATNumber string
	Street    string
	City      string
	PostCode  string
	Country   string
}

// SessionLineItem is one line of the immutable cart snapshot taken when a
// checkout session is created. The live cart may change afterwards; the
// snapshot must not.
type SessionLineItem struct {
	OutletID      string
	OutletName    string
	Category      string
	BasePrice     int64
	Multiplier    float64
	ContentOption ContentOption
	UnitPrice     int64 // base x multiplier + surcharge, pre-VAT
	Quantity      int
	LineTotal     int64
}

// CheckoutSessionStatus enumerates the payment-attempt state machine.
type CheckoutSessionStatus string

const (
	SessionStatusCreated CheckoutSessionStatus = "created"
	SessionStatusPaid    CheckoutSessionStatus = "paid"
	SessionStatusFailed  CheckoutSessionStatus = "failed"
	SessionStatusExpired CheckoutSessionStatus = "expired"
)

// Terminal reports whether the status permits no further transitions.
func (s CheckoutSessionStatus) Terminal() bool {
	switch s {
	case SessionStatusPaid, SessionStatusFailed, SessionStatusExpired:
		return true
	default:
		return false
	}
}

// CheckoutSession is one in-flight payment attempt. Created by the checkout
// orchestrator, transitioned only by the webhook/verification processor.
// Terminal states are immutable.
type CheckoutSession struct {
	ID            string // provider session id
	UserID        string
	OrderNumber   string
	Items         []SessionLineItem
	Subtotal      int64
	VAT           int64
	Total         int64
	Currency      string
	Billing       BillingInfo
	Status        CheckoutSessionStatus
	IntentID      string // provider payment intent, when known
	FailureCode   string
	FailureReason string
	RedirectURL   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ExpiresAt     time.Time
}

// OrderStatus enumerates the post-payment fulfilment lifecycle of a placement.
type OrderStatus string

const (
	OrderStatusRequested       OrderStatus = "requested"
	OrderStatusAccepted        OrderStatus = "accepted"
	OrderStatusContentReceived OrderStatus = "content_received"
	OrderStatusPublished       OrderStatus = "published"
	OrderStatusVerified        OrderStatus = "verified"
	OrderStatusPaymentFailed   OrderStatus = "payment_failed"
)

// Order is one paid placement. A paid session fans out into one order per
// snapshot line; the (session id, outlet id) pair is the idempotency key.
type Order struct {
	ID            string // deterministic: sessionID + "_" + outletID
	OrderNumber   string
	BuyerID       string
	OutletID      string
	OutletName    string
	Category      string
	Amount        int64 // pre-VAT line total actually charged
	Currency      string
	Quantity      int
	ContentOption ContentOption
	SessionID     string
	Status        OrderStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OrderID derives the deterministic document id used for conflict-ignore inserts.
func OrderID(sessionID, outletID string) string {
	return strings.TrimSpace(sessionID) + "_" + strings.TrimSpace(outletID)
}

// AbandonedCartStatus enumerates the recovery lifecycle of a failed checkout.
type AbandonedCartStatus string

const (
	AbandonedStatusAbandoned    AbandonedCartStatus = "abandoned"
	AbandonedStatusRecoverySent AbandonedCartStatus = "recovery_sent"
	AbandonedStatusRecovered    AbandonedCartStatus = "recovered"
	AbandonedStatusExpired      AbandonedCartStatus = "expired"
)

// AbandonedCart is the snapshot taken when a payment fails. It drives staged
// recovery reminders and expires after the retention window.
type AbandonedCart struct {
	ID            string
	UserID        string
	SessionID     string
	Items         []SessionLineItem
	Billing       BillingInfo
	FailureCode   string
	FailureReason string
	Status        AbandonedCartStatus
	NextStage     int // index into the reminder schedule; len(schedule) means done
	StagesSentAt  []time.Time
	RecoveryToken string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
