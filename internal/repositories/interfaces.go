package repositories

import (
	"context"
	"time"

	domain "github.com/pressdeck/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with the categories the
// services branch on. Conflict covers both optimistic-lock failures and
// duplicate inserts; Unavailable marks transient backend outages worth retrying.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CartRepository owns the live cart lines for a user. Only the user's own
// actions and the post-payment clear mutate it.
type CartRepository interface {
	ListItems(ctx context.Context, userID string) ([]domain.CartItem, error)
	GetItem(ctx context.Context, userID, itemID string) (domain.CartItem, error)
	UpsertItem(ctx context.Context, item domain.CartItem) (domain.CartItem, error)
	RemoveItem(ctx context.Context, userID, itemID string) error
	Clear(ctx context.Context, userID string) error
}

// SessionTransitionUpdate carries the optional fields written alongside a
// status transition.
type SessionTransitionUpdate struct {
	IntentID      string
	FailureCode   string
	FailureReason string
	UpdatedAt     time.Time
}

// CheckoutSessionRepository persists payment attempts. TransitionStatus must
// be a conditional update ("set status=to where status=from"): it reports
// applied=false without error when the session already left the expected
// state, which callers treat as idempotent duplicate delivery.
type CheckoutSessionRepository interface {
	Insert(ctx context.Context, session domain.CheckoutSession) error
	Get(ctx context.Context, sessionID string) (domain.CheckoutSession, error)
	FindByIntentID(ctx context.Context, intentID string) (domain.CheckoutSession, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (domain.CheckoutSession, error)
	TransitionStatus(ctx context.Context, sessionID string, from, to domain.CheckoutSessionStatus, update SessionTransitionUpdate) (bool, domain.CheckoutSession, error)
}

// OrderRepository persists materialised orders. CreateIfAbsent relies on the
// store's native insert-if-not-exists semantics keyed by the deterministic
// order id; created=false means the row already existed (replayed webhook).
type OrderRepository interface {
	CreateIfAbsent(ctx context.Context, order domain.Order) (bool, error)
	Get(ctx context.Context, orderID string) (domain.Order, error)
	ListBySession(ctx context.Context, sessionID string) ([]domain.Order, error)
	ListByBuyer(ctx context.Context, buyerID string, limit int) ([]domain.Order, error)
	TransitionStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, at time.Time) (bool, error)
}

// StageAdvance records one reminder stage send.
type StageAdvance struct {
	SentAt    time.Time
	NewStatus domain.AbandonedCartStatus
}

// AbandonedCartRepository persists failed-checkout snapshots and their
// recovery progress. AdvanceStage is conditional on the expected stage index
// so a stage is never sent twice.
type AbandonedCartRepository interface {
	Insert(ctx context.Context, cart domain.AbandonedCart) error
	Get(ctx context.Context, id string) (domain.AbandonedCart, error)
	FindOpenByUser(ctx context.Context, userID string) ([]domain.AbandonedCart, error)
	ListOpen(ctx context.Context, limit int) ([]domain.AbandonedCart, error)
	AdvanceStage(ctx context.Context, id string, fromStage int, advance StageAdvance) (bool, error)
	SetStatus(ctx context.Context, id string, from []domain.AbandonedCartStatus, to domain.AbandonedCartStatus, at time.Time) (bool, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error)
}
