package firestore

import (
	"context"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/pressdeck/api/internal/domain"
	platform "github.com/pressdeck/api/internal/platform/firestore"
	"github.com/pressdeck/api/internal/repositories"
)

const cartItemsCollection = "cart_items"

// cartItemDoc is the Firestore representation of a cart line. Documents are
// keyed by userID_itemID so a user's lines cluster under one prefix.
type cartItemDoc struct {
	ItemID        string    `firestore:"itemId"`
	UserID        string    `firestore:"userId"`
	OutletID      string    `firestore:"outletId"`
	OutletName    string    `firestore:"outletName"`
	Category      string    `firestore:"category"`
	BasePrice     int64     `firestore:"basePrice"`
	Currency      string    `firestore:"currency"`
	NicheID       string    `firestore:"nicheId,omitempty"`
	Multiplier    float64   `firestore:"multiplier"`
	ContentOption string    `firestore:"contentOption"`
	Quantity      int       `firestore:"quantity"`
	ReadOnly      bool      `firestore:"readOnly"`
	CreatedAt     time.Time `firestore:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

// CartRepository persists live cart lines in Firestore.
type CartRepository struct {
	base *platform.BaseRepository[cartItemDoc]
}

// NewCartRepository constructs a CartRepository bound to the provider.
func NewCartRepository(provider *platform.Provider) *CartRepository {
	return &CartRepository{
		base: platform.NewBaseRepository[cartItemDoc](provider, cartItemsCollection),
	}
}

// ListItems returns every line in the user's cart ordered by creation time.
func (r *CartRepository) ListItems(ctx context.Context, userID string) ([]domain.CartItem, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", userID).OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}

	items := make([]domain.CartItem, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeCartItem(doc.Data))
	}
	return items, nil
}

// GetItem fetches one cart line.
func (r *CartRepository) GetItem(ctx context.Context, userID, itemID string) (domain.CartItem, error) {
	doc, err := r.base.Get(ctx, cartItemDocID(userID, itemID))
	if err != nil {
		return domain.CartItem{}, err
	}
	return decodeCartItem(doc.Data), nil
}

// UpsertItem writes the line, replacing any previous version.
func (r *CartRepository) UpsertItem(ctx context.Context, item domain.CartItem) (domain.CartItem, error) {
	if err := r.base.Set(ctx, cartItemDocID(item.UserID, item.ID), encodeCartItem(item)); err != nil {
		return domain.CartItem{}, err
	}
	return item, nil
}

// RemoveItem deletes one line. Removing a missing line reports not found so
// callers can distinguish a no-op from a successful delete.
func (r *CartRepository) RemoveItem(ctx context.Context, userID, itemID string) error {
	id := cartItemDocID(userID, itemID)
	if _, err := r.base.Get(ctx, id); err != nil {
		return err
	}
	return r.base.Delete(ctx, id)
}

// Clear deletes every line in the user's cart.
func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", userID)
	})
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := r.base.Delete(ctx, doc.ID); err != nil {
			return err
		}
	}
	return nil
}

func cartItemDocID(userID, itemID string) string {
	return strings.TrimSpace(userID) + "_" + strings.TrimSpace(itemID)
}

func encodeCartItem(item domain.CartItem) cartItemDoc {
	return cartItemDoc{
		ItemID:        item.ID,
		UserID:        item.UserID,
		OutletID:      item.OutletID,
		OutletName:    item.OutletName,
		Category:      item.Category,
		BasePrice:     item.BasePrice,
		Currency:      item.Currency,
		NicheID:       item.NicheID,
		Multiplier:    item.Multiplier,
		ContentOption: string(item.ContentOption),
		Quantity:      item.Quantity,
		ReadOnly:      item.ReadOnly,
		CreatedAt:     item.CreatedAt,
		UpdatedAt:     item.UpdatedAt,
	}
}

func decodeCartItem(doc cartItemDoc) domain.CartItem {
	return domain.CartItem{
		ID:            doc.ItemID,
		UserID:        doc.UserID,
		OutletID:      doc.OutletID,
		OutletName:    doc.OutletName,
		Category:      doc.Category,
		BasePrice:     doc.BasePrice,
		Currency:      doc.Currency,
		NicheID:       doc.NicheID,
		Multiplier:    doc.Multiplier,
		ContentOption: domain.ContentOption(doc.ContentOption),
		Quantity:      doc.Quantity,
		ReadOnly:      doc.ReadOnly,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}
}

var _ repositories.CartRepository = (*CartRepository)(nil)
