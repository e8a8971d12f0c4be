package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/pressdeck/api/internal/domain"
	platform "github.com/pressdeck/api/internal/platform/firestore"
	"github.com/pressdeck/api/internal/repositories"
)

const checkoutSessionsCollection = "checkout_sessions"

type sessionLineDoc struct {
	OutletID      string  `firestore:"outletId"`
	OutletName    string  `firestore:"outletName"`
	Category      string  `firestore:"category"`
	BasePrice     int64   `firestore:"basePrice"`
	Multiplier    float64 `firestore:"multiplier"`
	ContentOption string  `firestore:"contentOption"`
	UnitPrice     int64   `firestore:"unitPrice"`
	Quantity      int     `firestore:"quantity"`
	LineTotal     int64   `firestore:"lineTotal"`
}

type billingDoc struct {
	Name      string `firestore:"name,omitempty"`
	Email     string `firestore:"email,omitempty"`
	Company   string `firestore:"company,omitempty"`
	VATNumber string `firestore:"vatNumber,omitempty"`
	Street    string `firestore:"street,omitempty"`
	City      string `firestore:"city,omitempty"`
	PostCode  string `firestore:"postCode,omitempty"`
	Country   string `firestore:"country,omitempty"`
}

type checkoutSessionDoc struct {
	SessionID     string           `firestore:"sessionId"`
	UserID        string           `firestore:"userId"`
	OrderNumber   string           `firestore:"orderNumber"`
	Items         []sessionLineDoc `firestore:"items"`
	Subtotal      int64            `firestore:"subtotal"`
	VAT           int64            `firestore:"vat"`
	Total         int64            `firestore:"total"`
	Currency      string           `firestore:"currency"`
	Billing       billingDoc       `firestore:"billing"`
	Status        string           `firestore:"status"`
	IntentID      string           `firestore:"intentId,omitempty"`
	FailureCode   string           `firestore:"failureCode,omitempty"`
	FailureReason string           `firestore:"failureReason,omitempty"`
	RedirectURL   string           `firestore:"redirectUrl,omitempty"`
	CreatedAt     time.Time        `firestore:"createdAt"`
	UpdatedAt     time.Time        `firestore:"updatedAt"`
	ExpiresAt     time.Time        `firestore:"expiresAt"`
}

// CheckoutSessionRepository persists payment attempts in Firestore, keyed by
// the provider session id.
type CheckoutSessionRepository struct {
	base *platform.BaseRepository[checkoutSessionDoc]
}

// NewCheckoutSessionRepository constructs the repository bound to the provider.
func NewCheckoutSessionRepository(provider *platform.Provider) *CheckoutSessionRepository {
	return &CheckoutSessionRepository{
		base: platform.NewBaseRepository[checkoutSessionDoc](provider, checkoutSessionsCollection),
	}
}

// Insert creates the session record; a duplicate id is a conflict.
func (r *CheckoutSessionRepository) Insert(ctx context.Context, session domain.CheckoutSession) error {
	return r.base.Create(ctx, session.ID, encodeSession(session))
}

// Get fetches a session by provider session id.
func (r *CheckoutSessionRepository) Get(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	doc, err := r.base.Get(ctx, sessionID)
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	return decodeSession(doc.Data), nil
}

// FindByIntentID looks a session up by its payment intent.
func (r *CheckoutSessionRepository) FindByIntentID(ctx context.Context, intentID string) (domain.CheckoutSession, error) {
	return r.findOne(ctx, "intentId", intentID)
}

// FindByOrderNumber looks a session up by its order number.
func (r *CheckoutSessionRepository) FindByOrderNumber(ctx context.Context, orderNumber string) (domain.CheckoutSession, error) {
	return r.findOne(ctx, "orderNumber", orderNumber)
}

// TransitionStatus conditionally moves the session from one status to another
// inside a transaction. It reports applied=false without error when the
// session has already left the expected state, so replayed and reordered
// webhook deliveries converge without clobbering terminal outcomes.
func (r *CheckoutSessionRepository) TransitionStatus(ctx context.Context, sessionID string, from, to domain.CheckoutSessionStatus, update repositories.SessionTransitionUpdate) (bool, domain.CheckoutSession, error) {
	ref, err := r.base.DocumentRef(ctx, sessionID)
	if err != nil {
		return false, domain.CheckoutSession{}, err
	}

	applied := false
	var result checkoutSessionDoc
	err = r.base.Provider().RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc checkoutSessionDoc
		if err := snapshot.DataTo(&doc); err != nil {
			return err
		}

		if domain.CheckoutSessionStatus(doc.Status) != from {
			applied = false
			result = doc
			return nil
		}

		doc.Status = string(to)
		if update.IntentID != "" {
			doc.IntentID = update.IntentID
		}
		if update.FailureCode != "" {
			doc.FailureCode = update.FailureCode
		}
		if update.FailureReason != "" {
			doc.FailureReason = update.FailureReason
		}
		if !update.UpdatedAt.IsZero() {
			doc.UpdatedAt = update.UpdatedAt
		}

		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		applied = true
		result = doc
		return nil
	})
	if err != nil {
		return false, domain.CheckoutSession{}, err
	}
	return applied, decodeSession(result), nil
}

func (r *CheckoutSessionRepository) findOne(ctx context.Context, field, value string) (domain.CheckoutSession, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where(field, "==", value).Limit(1)
	})
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	if len(docs) == 0 {
		return domain.CheckoutSession{}, notFoundError(checkoutSessionsCollection + ".query")
	}
	return decodeSession(docs[0].Data), nil
}

// notFoundError builds a repository not-found error for empty query results,
// which Firestore itself reports only on direct document gets.
func notFoundError(op string) error {
	return platform.WrapError(op, status.Error(codes.NotFound, "document not found"))
}

func encodeSession(session domain.CheckoutSession) checkoutSessionDoc {
	items := make([]sessionLineDoc, 0, len(session.Items))
	for _, line := range session.Items {
		items = append(items, sessionLineDoc{
			OutletID:      line.OutletID,
			OutletName:    line.OutletName,
			Category:      line.Category,
			BasePrice:     line.BasePrice,
			Multiplier:    line.Multiplier,
			ContentOption: string(line.ContentOption),
			UnitPrice:     line.UnitPrice,
			Quantity:      line.Quantity,
			LineTotal:     line.LineTotal,
		})
	}
	return checkoutSessionDoc{
		SessionID:     session.ID,
		UserID:        session.UserID,
		OrderNumber:   session.OrderNumber,
		Items:         items,
		Subtotal:      session.Subtotal,
		VAT:           session.VAT,
		Total:         session.Total,
		Currency:      session.Currency,
		Billing:       encodeBilling(session.Billing),
		Status:        string(session.Status),
		IntentID:      session.IntentID,
		FailureCode:   session.FailureCode,
		FailureReason: session.FailureReason,
		RedirectURL:   session.RedirectURL,
		CreatedAt:     session.CreatedAt,
		UpdatedAt:     session.UpdatedAt,
		ExpiresAt:     session.ExpiresAt,
	}
}

func decodeSession(doc checkoutSessionDoc) domain.CheckoutSession {
	items := make([]domain.SessionLineItem, 0, len(doc.Items))
	for _, line := range doc.Items {
		items = append(items, domain.SessionLineItem{
			OutletID:      line.OutletID,
			OutletName:    line.OutletName,
			Category:      line.Category,
			BasePrice:     line.BasePrice,
			Multiplier:    line.Multiplier,
			ContentOption: domain.ContentOption(line.ContentOption),
			UnitPrice:     line.UnitPrice,
			Quantity:      line.Quantity,
			LineTotal:     line.LineTotal,
		})
	}
	return domain.CheckoutSession{
		ID:            doc.SessionID,
		UserID:        doc.UserID,
		OrderNumber:   doc.OrderNumber,
		Items:         items,
		Subtotal:      doc.Subtotal,
		VAT:           doc.VAT,
		Total:         doc.Total,
		Currency:      doc.Currency,
		Billing:       decodeBilling(doc.Billing),
		Status:        domain.CheckoutSessionStatus(doc.Status),
		IntentID:      doc.IntentID,
		FailureCode:   doc.FailureCode,
		FailureReason: doc.FailureReason,
		RedirectURL:   doc.RedirectURL,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
		ExpiresAt:     doc.ExpiresAt,
	}
}

func encodeBilling(b domain.BillingInfo) billingDoc {
	return billingDoc{
		Name:      b.Name,
		Email:     b.Email,
		Company:   b.Company,
		VATNumber: b.VATNumber,
		Street:    b.Street,
		City:      b.City,
		PostCode:  b.PostCode,
		Country:   b.Country,
	}
}

func decodeBilling(b billingDoc) domain.BillingInfo {
	return domain.BillingInfo{
		Name:      b.Name,
		Email:     b.Email,
		Company:   b.Company,
		VATNumber: b.VATNumber,
		Street:    b.Street,
		City:      b.City,
		PostCode:  b.PostCode,
		Country:   b.Country,
	}
}

var _ repositories.CheckoutSessionRepository = (*CheckoutSessionRepository)(nil)
