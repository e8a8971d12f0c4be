package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/pressdeck/api/internal/domain"
	platform "github.com/pressdeck/api/internal/platform/firestore"
	"github.com/pressdeck/api/internal/repositories"
)

const abandonedCartsCollection = "abandoned_carts"

// openStatuses are the states a cart can still be recovered from.
var openStatuses = []string{
	string(domain.AbandonedStatusAbandoned),
	string(domain.AbandonedStatusRecoverySent),
}

type abandonedCartDoc struct {
	CartID        string           `firestore:"cartId"`
	UserID        string           `firestore:"userId"`
	SessionID     string           `firestore:"sessionId"`
	Items         []sessionLineDoc `firestore:"items"`
	Billing       billingDoc       `firestore:"billing"`
	FailureCode   string           `firestore:"failureCode,omitempty"`
	FailureReason string           `firestore:"failureReason,omitempty"`
	Status        string           `firestore:"status"`
	NextStage     int              `firestore:"nextStage"`
	StagesSentAt  []time.Time      `firestore:"stagesSentAt,omitempty"`
	RecoveryToken string           `firestore:"recoveryToken"`
	CreatedAt     time.Time        `firestore:"createdAt"`
	UpdatedAt     time.Time        `firestore:"updatedAt"`
}

// AbandonedCartRepository persists failed-checkout snapshots in Firestore.
type AbandonedCartRepository struct {
	base *platform.BaseRepository[abandonedCartDoc]
}

// NewAbandonedCartRepository constructs the repository bound to the provider.
func NewAbandonedCartRepository(provider *platform.Provider) *AbandonedCartRepository {
	return &AbandonedCartRepository{
		base: platform.NewBaseRepository[abandonedCartDoc](provider, abandonedCartsCollection),
	}
}

// Insert creates the snapshot; a duplicate id is a conflict.
func (r *AbandonedCartRepository) Insert(ctx context.Context, cart domain.AbandonedCart) error {
	return r.base.Create(ctx, cart.ID, encodeAbandonedCart(cart))
}

// Get fetches one snapshot by id.
func (r *AbandonedCartRepository) Get(ctx context.Context, id string) (domain.AbandonedCart, error) {
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.AbandonedCart{}, err
	}
	return decodeAbandonedCart(doc.Data), nil
}

// FindOpenByUser returns the user's carts still in a recoverable state.
func (r *AbandonedCartRepository) FindOpenByUser(ctx context.Context, userID string) ([]domain.AbandonedCart, error) {
	return r.list(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", userID).Where("status", "in", openStatuses)
	})
}

// ListOpen returns up to limit recoverable carts, oldest first so the sweep
// reaches overdue stages before fresh ones.
func (r *AbandonedCartRepository) ListOpen(ctx context.Context, limit int) ([]domain.AbandonedCart, error) {
	return r.list(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("status", "in", openStatuses).OrderBy("createdAt", firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
}

// AdvanceStage moves the reminder pointer forward only when it still sits at
// fromStage, so concurrent sweeps send each stage at most once.
func (r *AbandonedCartRepository) AdvanceStage(ctx context.Context, id string, fromStage int, advance repositories.StageAdvance) (bool, error) {
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return false, err
	}

	applied := false
	err = r.base.Provider().RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc abandonedCartDoc
		if err := snapshot.DataTo(&doc); err != nil {
			return err
		}
		if doc.NextStage != fromStage || !isOpenStatus(doc.Status) {
			applied = false
			return nil
		}
		applied = true
		return tx.Update(ref, []firestore.Update{
			{Path: "nextStage", Value: fromStage + 1},
			{Path: "stagesSentAt", Value: firestore.ArrayUnion(advance.SentAt)},
			{Path: "status", Value: string(advance.NewStatus)},
			{Path: "updatedAt", Value: advance.SentAt},
		})
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// SetStatus conditionally moves the cart between recovery states.
func (r *AbandonedCartRepository) SetStatus(ctx context.Context, id string, from []domain.AbandonedCartStatus, to domain.AbandonedCartStatus, at time.Time) (bool, error) {
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return false, err
	}

	applied := false
	err = r.base.Provider().RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc abandonedCartDoc
		if err := snapshot.DataTo(&doc); err != nil {
			return err
		}
		matched := false
		for _, s := range from {
			if doc.Status == string(s) {
				matched = true
				break
			}
		}
		if !matched {
			applied = false
			return nil
		}
		applied = true
		return tx.Update(ref, []firestore.Update{
			{Path: "status", Value: string(to)},
			{Path: "updatedAt", Value: at},
		})
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// DeleteExpiredBefore removes expired snapshots older than the cutoff and
// returns the number deleted.
func (r *AbandonedCartRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.
			Where("status", "==", string(domain.AbandonedStatusExpired)).
			Where("createdAt", "<", cutoff)
	})
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, doc := range docs {
		if err := r.base.Delete(ctx, doc.ID); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func (r *AbandonedCartRepository) list(ctx context.Context, build platform.QueryBuilder) ([]domain.AbandonedCart, error) {
	docs, err := r.base.Query(ctx, build)
	if err != nil {
		return nil, err
	}
	carts := make([]domain.AbandonedCart, 0, len(docs))
	for _, doc := range docs {
		carts = append(carts, decodeAbandonedCart(doc.Data))
	}
	return carts, nil
}

func isOpenStatus(status string) bool {
	for _, s := range openStatuses {
		if status == s {
			return true
		}
	}
	return false
}

func encodeAbandonedCart(cart domain.AbandonedCart) abandonedCartDoc {
	items := make([]sessionLineDoc, 0, len(cart.Items))
	for _, line := range cart.Items {
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
	return abandonedCartDoc{
		CartID:        cart.ID,
		UserID:        cart.UserID,
		SessionID:     cart.SessionID,
		Items:         items,
		Billing:       encodeBilling(cart.Billing),
		FailureCode:   cart.FailureCode,
		FailureReason: cart.FailureReason,
		Status:        string(cart.Status),
		NextStage:     cart.NextStage,
		StagesSentAt:  cart.StagesSentAt,
		RecoveryToken: cart.RecoveryToken,
		CreatedAt:     cart.CreatedAt,
		UpdatedAt:     cart.UpdatedAt,
	}
}

func decodeAbandonedCart(doc abandonedCartDoc) domain.AbandonedCart {
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
	return domain.AbandonedCart{
		ID:            doc.CartID,
		UserID:        doc.UserID,
		SessionID:     doc.SessionID,
		Items:         items,
		Billing:       decodeBilling(doc.Billing),
		FailureCode:   doc.FailureCode,
		FailureReason: doc.FailureReason,
		Status:        domain.AbandonedCartStatus(doc.Status),
		NextStage:     doc.NextStage,
		StagesSentAt:  doc.StagesSentAt,
		RecoveryToken: doc.RecoveryToken,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}
}

var _ repositories.AbandonedCartRepository = (*AbandonedCartRepository)(nil)
