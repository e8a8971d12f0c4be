package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/pressdeck/api/internal/domain"
	"github.com/pressdeck/api/internal/repositories"
)

var (
	// ErrCartInvalidInput indicates the caller supplied invalid cart data.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartItemNotFound indicates the referenced cart line does not exist.
	ErrCartItemNotFound = errors.New("cart: item not found")
	// ErrCartItemReadOnly indicates the line is locked against modification.
	ErrCartItemReadOnly = errors.New("cart: item is read-only")
	// ErrCartUnavailable indicates the cart store is currently unavailable.
	ErrCartUnavailable = errors.New("cart: unavailable")
)

// CartServiceDeps wires the dependencies required by the cart service.
type CartServiceDeps struct {
	Items  repositories.CartRepository
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
	IDGen  func() string
}

type cartService struct {
	items  repositories.CartRepository
	now    func() time.Time
	logger func(ctx context.Context, event string, fields map[string]any)
	newID  func() string
}

// NewCartService constructs a CartService validating required dependencies.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Items == nil {
		return nil, errors.New("cart service: item repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	newID := deps.IDGen
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}

	return &cartService{
		items: deps.Items,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
		newID:  newID,
	}, nil
}

// ListItems returns the user's cart lines.
func (s *cartService) ListItems(ctx context.Context, userID string) ([]domain.CartItem, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrCartInvalidInput
	}
	items, err := s.items.ListItems(ctx, userID)
	if err != nil {
		return nil, s.translateError(err)
	}
	return items, nil
}

// AddItem validates and stores a new cart line.
func (s *cartService) AddItem(ctx context.Context, cmd UpsertCartItemCommand) (domain.CartItem, error) {
	item, err := s.buildItem(cmd)
	if err != nil {
		return domain.CartItem{}, err
	}

	now := s.now()
	item.ID = s.newID()
	item.CreatedAt = now
	item.UpdatedAt = now

	stored, err := s.items.UpsertItem(ctx, item)
	if err != nil {
		return domain.CartItem{}, s.translateError(err)
	}

	s.logger(ctx, "cart.item_added", map[string]any{
		"userId":   stored.UserID,
		"itemId":   stored.ID,
		"outletId": stored.OutletID,
	})
	return stored, nil
}

// UpdateItem changes quantity or content option on an existing line.
func (s *cartService) UpdateItem(ctx context.Context, cmd UpdateCartItemCommand) (domain.CartItem, error) {
	userID := strings.TrimSpace(cmd.UserID)
	itemID := strings.TrimSpace(cmd.ItemID)
	if userID == "" || itemID == "" {
		return domain.CartItem{}, ErrCartInvalidInput
	}
	if cmd.Quantity < MinQuantity || cmd.Quantity > MaxQuantity {
		return domain.CartItem{}, ErrCartInvalidInput
	}
	option, ok := domain.ParseContentOption(cmd.ContentOption)
	if !ok {
		return domain.CartItem{}, ErrCartInvalidInput
	}

	item, err := s.items.GetItem(ctx, userID, itemID)
	if err != nil {
		return domain.CartItem{}, s.translateError(err)
	}
	if item.ReadOnly {
		return domain.CartItem{}, ErrCartItemReadOnly
	}

	item.Quantity = cmd.Quantity
	item.ContentOption = option
	item.UpdatedAt = s.now()

	stored, err := s.items.UpsertItem(ctx, item)
	if err != nil {
		return domain.CartItem{}, s.translateError(err)
	}
	return stored, nil
}

// RemoveItem deletes a single line from the user's cart.
func (s *cartService) RemoveItem(ctx context.Context, userID, itemID string) error {
	userID = strings.TrimSpace(userID)
	itemID = strings.TrimSpace(itemID)
	if userID == "" || itemID == "" {
		return ErrCartInvalidInput
	}
	if err := s.items.RemoveItem(ctx, userID, itemID); err != nil {
		return s.translateError(err)
	}
	return nil
}

// Clear removes every line from the user's cart.
func (s *cartService) Clear(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrCartInvalidInput
	}
	if err := s.items.Clear(ctx, userID); err != nil {
		return s.translateError(err)
	}
	s.logger(ctx, "cart.cleared", map[string]any{"userId": userID})
	return nil
}

func (s *cartService) buildItem(cmd UpsertCartItemCommand) (domain.CartItem, error) {
	userID := strings.TrimSpace(cmd.UserID)
	outletID := strings.TrimSpace(cmd.OutletID)
	category := strings.TrimSpace(cmd.Category)
	if userID == "" || outletID == "" || category == "" {
		return domain.CartItem{}, ErrCartInvalidInput
	}
	if cmd.BasePrice <= 0 {
		return domain.CartItem{}, ErrCartInvalidInput
	}
	if cmd.Quantity < MinQuantity || cmd.Quantity > MaxQuantity {
		return domain.CartItem{}, ErrCartInvalidInput
	}
	if cmd.Multiplier < 0 {
		return domain.CartItem{}, ErrCartInvalidInput
	}
	option, ok := domain.ParseContentOption(cmd.ContentOption)
	if !ok {
		return domain.CartItem{}, ErrCartInvalidInput
	}
	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = domain.CurrencyEUR
	}
	if currency != domain.CurrencyEUR {
		return domain.CartItem{}, ErrCartInvalidInput
	}

	return domain.CartItem{
		UserID:        userID,
		OutletID:      outletID,
		OutletName:    strings.TrimSpace(cmd.OutletName),
		Category:      category,
		BasePrice:     cmd.BasePrice,
		Currency:      currency,
		NicheID:       strings.TrimSpace(cmd.NicheID),
		Multiplier:    cmd.Multiplier,
		ContentOption: option,
		Quantity:      cmd.Quantity,
	}, nil
}

func (s *cartService) translateError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCartItemNotFound
		case repoErr.IsUnavailable():
			return ErrCartUnavailable
		}
	}
	return ErrCartUnavailable
}
