package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/pressdeck/api/internal/domain"
	"github.com/pressdeck/api/internal/payments"
	"github.com/pressdeck/api/internal/repositories"
)

const defaultSessionTTL = 24 * time.Hour

// Metadata keys attached to every payment session. The webhook processor uses
// them to correlate provider events back to our session and user.
const (
	MetaUserID      = "user_id"
	MetaOrderNumber = "order_number"
	MetaCartHash    = "cart_hash"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutGatewayUnavailable indicates the payment provider failed transiently; retry later.
	ErrCheckoutGatewayUnavailable = errors.New("checkout: payment gateway unavailable")
	// ErrCheckoutPaymentFailed indicates the provider rejected the session outright.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment session failed")
)

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Carts      repositories.CartRepository
	Sessions   repositories.CheckoutSessionRepository
	Gateway    payments.Gateway
	Pricing    PricingEngine
	Recovery   RecoveryService
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
	SessionTTL time.Duration
	SuccessURL string
	CancelURL  string
}

type checkoutService struct {
	carts      repositories.CartRepository
	sessions   repositories.CheckoutSessionRepository
	gateway    payments.Gateway
	pricing    PricingEngine
	recovery   RecoveryService
	now        func() time.Time
	logger     func(ctx context.Context, event string, fields map[string]any)
	sessionTTL time.Duration
	successURL string
	cancelURL  string
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart repository is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("checkout service: session repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("checkout service: payment gateway is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("checkout service: pricing engine is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	ttl := deps.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}

	return &checkoutService{
		carts:    deps.Carts,
		sessions: deps.Sessions,
		gateway:  deps.Gateway,
		pricing:  deps.Pricing,
		recovery: deps.Recovery,
		now: func() time.Time {
			return clock().UTC()
		},
		logger:     logger,
		sessionTTL: ttl,
		successURL: strings.TrimSpace(deps.SuccessURL),
		cancelURL:  strings.TrimSpace(deps.CancelURL),
	}, nil
}

// ValidateCart checks every checkout precondition and returns the complete
// violation list. It never stops at the first problem.
func (s *checkoutService) ValidateCart(items []domain.CartItem) []Violation {
	var violations []Violation

	checkable := 0
	for i, item := range items {
		if item.ReadOnly {
			violations = append(violations, Violation{
				Field:   fmt.Sprintf("items[%d]", i),
				Code:    "item_read_only",
				Message: "read-only lines cannot be checked out",
			})
			continue
		}
		checkable++
	}

	if checkable == 0 {
		violations = append(violations, Violation{
			Field:   "items",
			Code:    "cart_empty",
			Message: "cart has no checkout-eligible lines",
		})
		return violations
	}
	if checkable > MaxCartLines {
		violations = append(violations, Violation{
			Field:   "items",
			Code:    "too_many_lines",
			Message: fmt.Sprintf("cart exceeds %d lines", MaxCartLines),
		})
	}

	// Violation fields index the submitted slice, so skipped read-only lines
	// must not shift the positions reported for later lines.
	for i, item := range items {
		if item.ReadOnly {
			continue
		}
		field := fmt.Sprintf("items[%d]", i)

		if strings.TrimSpace(item.OutletID) == "" {
			violations = append(violations, Violation{Field: field + ".outletId", Code: "outlet_missing", Message: "outlet id is required"})
		}
		if strings.TrimSpace(item.Category) == "" {
			violations = append(violations, Violation{Field: field + ".category", Code: "category_missing", Message: "category is required"})
		}
		if currency := strings.ToUpper(strings.TrimSpace(item.Currency)); currency != "" && currency != domain.CurrencyEUR {
			violations = append(violations, Violation{Field: field + ".currency", Code: "currency_unsupported", Message: "only EUR is supported"})
		}
		if item.Quantity < MinQuantity || item.Quantity > MaxQuantity {
			violations = append(violations, Violation{Field: field + ".quantity", Code: "quantity_out_of_bounds", Message: fmt.Sprintf("quantity must be between %d and %d", MinQuantity, MaxQuantity)})
		}

		line, err := s.pricing.PriceLine(item)
		if err != nil {
			violations = append(violations, Violation{Field: field + ".basePrice", Code: "price_invalid", Message: "line cannot be priced"})
			continue
		}
		if line.UnitPrice < MinUnitPrice || line.UnitPrice > MaxUnitPrice {
			violations = append(violations, Violation{
				Field:   field + ".basePrice",
				Code:    "price_out_of_bounds",
				Message: fmt.Sprintf("unit price must be between %s and %s EUR", domain.FormatMajor(MinUnitPrice), domain.FormatMajor(MaxUnitPrice)),
			})
		}
	}

	return violations
}

// CreateSession validates and prices the cart, opens a payment session, and
// persists the pending attempt. The live cart is left untouched.
func (s *checkoutService) CreateSession(ctx context.Context, cmd CreateSessionCommand) (SessionHandle, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return SessionHandle{}, ErrCheckoutInvalidInput
	}

	successURL := firstNonEmpty(strings.TrimSpace(cmd.SuccessURL), s.successURL)
	cancelURL := firstNonEmpty(strings.TrimSpace(cmd.CancelURL), s.cancelURL)
	if successURL == "" || cancelURL == "" {
		return SessionHandle{}, ErrCheckoutInvalidInput
	}

	items, err := s.carts.ListItems(ctx, userID)
	if err != nil {
		return SessionHandle{}, s.translateStoreError(err)
	}

	if violations := s.ValidateCart(items); len(violations) > 0 {
		return SessionHandle{}, &ValidationError{Violations: violations}
	}

	eligible := make([]domain.CartItem, 0, len(items))
	for _, item := range items {
		if !item.ReadOnly {
			eligible = append(eligible, item)
		}
	}

	pricing, err := s.pricing.PriceCart(eligible)
	if err != nil {
		// ValidateCart passed, so this is a programming error, not user input.
		s.logger(ctx, "checkout.pricing_failed", map[string]any{"userId": userID, "error": err.Error()})
		return SessionHandle{}, ErrCheckoutUnavailable
	}

	now := s.now()
	orderNumber := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	cartHash := snapshotHash(userID, pricing)
	expiresAt := now.Add(s.sessionTTL)

	metadata := map[string]string{
		MetaUserID:      userID,
		MetaOrderNumber: orderNumber,
		MetaCartHash:    cartHash,
	}
	for k, v := range cmd.Metadata {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		if _, reserved := metadata[k]; !reserved {
			metadata[k] = v
		}
	}

	session, err := s.gateway.CreateSession(ctx, payments.CreateSessionRequest{
		UserID:         userID,
		OrderNumber:    orderNumber,
		CustomerEmail:  strings.TrimSpace(cmd.Billing.Email),
		Currency:       domain.CurrencyEUR,
		Lines:          gatewayLines(pricing),
		VATAmount:      pricing.VAT,
		SuccessURL:     successURL,
		CancelURL:      cancelURL,
		Metadata:       metadata,
		IdempotencyKey: cartHash,
		ExpiresAt:      expiresAt,
	})
	if err != nil {
		return SessionHandle{}, s.translateGatewayError(ctx, userID, err)
	}

	record := domain.CheckoutSession{
		ID:          session.ID,
		UserID:      userID,
		OrderNumber: orderNumber,
		Items:       snapshotLines(pricing),
		Subtotal:    pricing.Subtotal,
		VAT:         pricing.VAT,
		Total:       pricing.Total,
		Currency:    domain.CurrencyEUR,
		Billing:     cmd.Billing,
		Status:      domain.SessionStatusCreated,
		IntentID:    session.IntentID,
		RedirectURL: session.RedirectURL,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   expiresAt,
	}
	if err := s.sessions.Insert(ctx, record); err != nil {
		return SessionHandle{}, s.translateStoreError(err)
	}

	s.markRecoveredIfNeeded(ctx, userID, now)

	s.logger(ctx, "checkout.session_created", map[string]any{
		"userId":      userID,
		"sessionId":   session.ID,
		"orderNumber": orderNumber,
		"total":       pricing.Total,
	})

	return SessionHandle{
		SessionID:   session.ID,
		OrderNumber: orderNumber,
		RedirectURL: session.RedirectURL,
		Subtotal:    pricing.Subtotal,
		VAT:         pricing.VAT,
		Total:       pricing.Total,
		Currency:    domain.CurrencyEUR,
		ExpiresAt:   expiresAt,
	}, nil
}

// markRecoveredIfNeeded closes any open abandoned carts for the user. Best
// effort: a failure here never blocks the new session.
func (s *checkoutService) markRecoveredIfNeeded(ctx context.Context, userID string, now time.Time) {
	if s.recovery == nil {
		return
	}
	if _, err := s.recovery.MarkRecovered(ctx, userID, now); err != nil {
		s.logger(ctx, "checkout.mark_recovered_failed", map[string]any{
			"userId": userID,
			"error":  err.Error(),
		})
	}
}

func (s *checkoutService) translateGatewayError(ctx context.Context, userID string, err error) error {
	s.logger(ctx, "checkout.payment_session_failed", map[string]any{
		"userId": userID,
		"error":  err.Error(),
	})
	var gwErr *payments.GatewayError
	if errors.As(err, &gwErr) && gwErr.Retryable {
		return ErrCheckoutGatewayUnavailable
	}
	return ErrCheckoutPaymentFailed
}

func (s *checkoutService) translateStoreError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
		return ErrCheckoutUnavailable
	}
	return ErrCheckoutUnavailable
}

func gatewayLines(pricing CartPricing) []payments.SessionLine {
	lines := make([]payments.SessionLine, 0, len(pricing.Lines))
	for _, priced := range pricing.Lines {
		name := strings.TrimSpace(priced.Item.OutletName)
		if name == "" {
			name = priced.Item.OutletID
		}
		lines = append(lines, payments.SessionLine{
			Name:        name,
			Description: strings.TrimSpace(priced.Item.Category),
			Amount:      priced.Pricing.UnitPrice,
			Quantity:    int64(priced.Item.Quantity),
		})
	}
	return lines
}

func snapshotLines(pricing CartPricing) []domain.SessionLineItem {
	lines := make([]domain.SessionLineItem, 0, len(pricing.Lines))
	for _, priced := range pricing.Lines {
		lines = append(lines, domain.SessionLineItem{
			OutletID:      priced.Item.OutletID,
			OutletName:    priced.Item.OutletName,
			Category:      priced.Item.Category,
			BasePrice:     priced.Item.BasePrice,
			Multiplier:    priced.Item.Multiplier,
			ContentOption: priced.Item.ContentOption,
			UnitPrice:     priced.Pricing.UnitPrice,
			Quantity:      priced.Item.Quantity,
			LineTotal:     priced.Pricing.LineTotal,
		})
	}
	return lines
}

// snapshotHash derives a stable fingerprint of the priced cart. It doubles as
// the provider idempotency key: the same user with the same cart contents
// retries into the same provider session.
func snapshotHash(userID string, pricing CartPricing) string {
	var b strings.Builder
	b.WriteString(userID)
	for _, priced := range pricing.Lines {
		fmt.Fprintf(&b, "|%s:%d:%d:%s", priced.Item.OutletID, priced.Pricing.UnitPrice, priced.Item.Quantity, priced.Item.ContentOption)
	}
	fmt.Fprintf(&b, "|%d", pricing.Total)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
