package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/pressdeck/api/internal/domain"
	platform "github.com/pressdeck/api/internal/platform/firestore"
	"github.com/pressdeck/api/internal/repositories"
)

const ordersCollection = "orders"

type orderDoc struct {
	OrderID       string    `firestore:"orderId"`
	OrderNumber   string    `firestore:"orderNumber"`
	BuyerID       string    `firestore:"buyerId"`
	OutletID      string    `firestore:"outletId"`
	OutletName    string    `firestore:"outletName"`
	Category      string    `firestore:"category"`
	Amount        int64     `firestore:"amount"`
	Currency      string    `firestore:"currency"`
	Quantity      int       `firestore:"quantity"`
	ContentOption string    `firestore:"contentOption"`
	SessionID     string    `firestore:"sessionId"`
	Status        string    `firestore:"status"`
	CreatedAt     time.Time `firestore:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

// OrderRepository persists materialised orders in Firestore. Documents are
// keyed by the deterministic order id so duplicate webhook deliveries collide
// on insert instead of creating extra orders.
type OrderRepository struct {
	base *platform.BaseRepository[orderDoc]
}

// NewOrderRepository constructs an OrderRepository bound to the provider.
func NewOrderRepository(provider *platform.Provider) *OrderRepository {
	return &OrderRepository{
		base: platform.NewBaseRepository[orderDoc](provider, ordersCollection),
	}
}

// CreateIfAbsent inserts the order; created=false means it already existed.
func (r *OrderRepository) CreateIfAbsent(ctx context.Context, order domain.Order) (bool, error) {
	err := r.base.Create(ctx, order.ID, encodeOrder(order))
	if err == nil {
		return true, nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsConflict() {
		return false, nil
	}
	return false, err
}

// Get fetches one order by id.
func (r *OrderRepository) Get(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.Data), nil
}

// ListBySession returns every order created from one checkout session.
func (r *OrderRepository) ListBySession(ctx context.Context, sessionID string) ([]domain.Order, error) {
	return r.list(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("sessionId", "==", sessionID)
	})
}

// ListByBuyer returns the buyer's most recent orders.
func (r *OrderRepository) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]domain.Order, error) {
	return r.list(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("buyerId", "==", buyerID).OrderBy("createdAt", firestore.Desc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
}

// TransitionStatus conditionally advances the fulfilment state inside a
// transaction; applied=false means the order already moved on.
func (r *OrderRepository) TransitionStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, at time.Time) (bool, error) {
	ref, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return false, err
	}

	applied := false
	err = r.base.Provider().RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc orderDoc
		if err := snapshot.DataTo(&doc); err != nil {
			return err
		}
		if domain.OrderStatus(doc.Status) != from {
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

func (r *OrderRepository) list(ctx context.Context, build platform.QueryBuilder) ([]domain.Order, error) {
	docs, err := r.base.Query(ctx, build)
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, decodeOrder(doc.Data))
	}
	return orders, nil
}

func encodeOrder(order domain.Order) orderDoc {
	return orderDoc{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		BuyerID:       order.BuyerID,
		OutletID:      order.OutletID,
		OutletName:    order.OutletName,
		Category:      order.Category,
		Amount:        order.Amount,
		Currency:      order.Currency,
		Quantity:      order.Quantity,
		ContentOption: string(order.ContentOption),
		SessionID:     order.SessionID,
		Status:        string(order.Status),
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}
}

func decodeOrder(doc orderDoc) domain.Order {
	return domain.Order{
		ID:            doc.OrderID,
		OrderNumber:   doc.OrderNumber,
		BuyerID:       doc.BuyerID,
		OutletID:      doc.OutletID,
		OutletName:    doc.OutletName,
		Category:      doc.Category,
		Amount:        doc.Amount,
		Currency:      doc.Currency,
		Quantity:      doc.Quantity,
		ContentOption: domain.ContentOption(doc.ContentOption),
		SessionID:     doc.SessionID,
		Status:        domain.OrderStatus(doc.Status),
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
