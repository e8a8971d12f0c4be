package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/pressdeck/api/internal/domain"
	"github.com/pressdeck/api/internal/payments"
	"github.com/pressdeck/api/internal/repositories"
)

var (
	// ErrSessionNotFound indicates no checkout session matches the reference.
	ErrSessionNotFound = errors.New("webhook: session not found")
	// ErrWebhookUnavailable indicates the session store or provider is down; retry later.
	ErrWebhookUnavailable = errors.New("webhook: unavailable")
)

// WebhookProcessorDeps wires the dependencies required by the webhook processor.
type WebhookProcessorDeps struct {
	Sessions      repositories.CheckoutSessionRepository
	Orders        repositories.OrderRepository
	Carts         repositories.CartRepository
	Gateway       payments.Gateway
	Recovery      RecoveryService
	Notifications NotificationPublisher
	Customers     CustomerSync
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type webhookProcessor struct {
	sessions      repositories.CheckoutSessionRepository
	orders        repositories.OrderRepository
	carts         repositories.CartRepository
	gateway       payments.Gateway
	recovery      RecoveryService
	notifications NotificationPublisher
	customers     CustomerSync
	now           func() time.Time
	logger        func(ctx context.Context, event string, fields map[string]any)
}

// NewWebhookProcessor constructs a WebhookProcessor validating required dependencies.
func NewWebhookProcessor(deps WebhookProcessorDeps) (WebhookProcessor, error) {
	if deps.Sessions == nil {
		return nil, errors.New("webhook processor: session repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("webhook processor: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("webhook processor: cart repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("webhook processor: payment gateway is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &webhookProcessor{
		sessions:      deps.Sessions,
		orders:        deps.Orders,
		carts:         deps.Carts,
		gateway:       deps.Gateway,
		recovery:      deps.Recovery,
		notifications: deps.Notifications,
		customers:     deps.Customers,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Process applies one verified webhook event. Replays and out-of-order
// deliveries resolve to duplicate successes; only transient store failures
// are reported as retryable.
func (p *webhookProcessor) Process(ctx context.Context, event payments.Event) ProcessingResult {
	switch payload := event.Payload.(type) {
	case payments.SessionCompletedPayload:
		if payload.PaymentStatus != payments.PaymentPaid {
			// Async payment methods complete the session before funds settle.
			// The intent event carries the final outcome.
			p.logger(ctx, "webhook.session_completed_unpaid", map[string]any{"sessionId": payload.SessionID})
			return ProcessingResult{Success: true}
		}
		session, res, ok := p.resolveSession(ctx, payload.SessionID, "", payload.Metadata)
		if !ok {
			return res
		}
		return p.applyPaid(ctx, session, payload.IntentID)

	case payments.IntentSucceededPayload:
		session, res, ok := p.resolveSession(ctx, "", payload.IntentID, payload.Metadata)
		if !ok {
			return res
		}
		return p.applyPaid(ctx, session, payload.IntentID)

	case payments.IntentFailedPayload:
		session, res, ok := p.resolveSession(ctx, "", payload.IntentID, payload.Metadata)
		if !ok {
			return res
		}
		return p.applyFailed(ctx, session, payload.IntentID, payload.FailureCode, payload.FailureMessage)

	case payments.SessionExpiredPayload:
		session, res, ok := p.resolveSession(ctx, payload.SessionID, "", payload.Metadata)
		if !ok {
			return res
		}
		return p.applyExpired(ctx, session)

	case payments.CustomerCreatedPayload:
		p.logger(ctx, "webhook.customer_created", map[string]any{"customerId": payload.CustomerID})
		p.syncCustomer(ctx, CustomerSyncMessage{
			CustomerID: payload.CustomerID,
			Email:      payload.Email,
		})
		return ProcessingResult{Success: true}

	default:
		p.logger(ctx, "webhook.event_ignored", map[string]any{"eventId": event.ID, "type": string(event.Type)})
		return ProcessingResult{Success: true}
	}
}

// VerifySession polls the provider for the session's current state and
// converges the local record through the same transitions webhooks use.
func (p *webhookProcessor) VerifySession(ctx context.Context, sessionID string) (VerificationResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return VerificationResult{}, ErrSessionNotFound
	}

	session, err := p.sessions.Get(ctx, sessionID)
	if err != nil {
		return VerificationResult{}, p.translateStoreError(err)
	}

	if session.Status.Terminal() {
		return verificationResult(session), nil
	}

	details, err := p.gateway.RetrieveSession(ctx, sessionID)
	if err != nil {
		p.logger(ctx, "verify.gateway_failed", map[string]any{"sessionId": sessionID, "error": err.Error()})
		return VerificationResult{}, ErrWebhookUnavailable
	}

	switch {
	case details.Status == payments.SessionComplete && details.PaymentStatus == payments.PaymentPaid:
		res := p.applyPaid(ctx, session, details.IntentID)
		if res.Err != nil {
			return VerificationResult{}, res.Err
		}
	case details.Status == payments.SessionExpired:
		if res := p.applyExpired(ctx, session); res.Err != nil {
			return VerificationResult{}, res.Err
		}
	case !session.ExpiresAt.IsZero() && p.now().After(session.ExpiresAt):
		// The provider never delivered an expiry event; expire lazily.
		if res := p.applyExpired(ctx, session); res.Err != nil {
			return VerificationResult{}, res.Err
		}
	}

	refreshed, err := p.sessions.Get(ctx, session.ID)
	if err != nil {
		return VerificationResult{}, p.translateStoreError(err)
	}
	return verificationResult(refreshed), nil
}

// resolveSession finds the session an event refers to, trying the session id,
// the payment intent id, and the order number duplicated into the provider
// metadata, in that order.
func (p *webhookProcessor) resolveSession(ctx context.Context, sessionID, intentID string, metadata map[string]string) (domain.CheckoutSession, ProcessingResult, bool) {
	if sessionID != "" {
		session, err := p.sessions.Get(ctx, sessionID)
		if err == nil {
			return session, ProcessingResult{}, true
		}
		if !isNotFound(err) {
			return domain.CheckoutSession{}, p.retryable(err), false
		}
	}

	if intentID != "" {
		session, err := p.sessions.FindByIntentID(ctx, intentID)
		if err == nil {
			return session, ProcessingResult{}, true
		}
		if !isNotFound(err) {
			return domain.CheckoutSession{}, p.retryable(err), false
		}
	}

	// Intent events can arrive before the intent id is written to the session.
	// The order number is duplicated into the intent metadata for this case.
	if orderNumber := metadata[MetaOrderNumber]; orderNumber != "" {
		session, err := p.sessions.FindByOrderNumber(ctx, orderNumber)
		if err == nil {
			return session, ProcessingResult{}, true
		}
		if !isNotFound(err) {
			return domain.CheckoutSession{}, p.retryable(err), false
		}
	}

	p.logger(ctx, "webhook.session_unmatched", map[string]any{
		"sessionId": sessionID,
		"intentId":  intentID,
	})
	return domain.CheckoutSession{}, ProcessingResult{Success: true}, false
}

func (p *webhookProcessor) applyPaid(ctx context.Context, session domain.CheckoutSession, intentID string) ProcessingResult {
	if session.Status.Terminal() && session.Status != domain.SessionStatusPaid {
		// Conflicting event after a terminal outcome; the first writer wins.
		p.logger(ctx, "webhook.terminal_conflict", map[string]any{
			"sessionId": session.ID,
			"status":    string(session.Status),
			"incoming":  "paid",
		})
		return ProcessingResult{Success: true, Duplicate: true}
	}

	applied := false
	if session.Status == domain.SessionStatusCreated {
		var err error
		var updated domain.CheckoutSession
		applied, updated, err = p.sessions.TransitionStatus(ctx, session.ID, domain.SessionStatusCreated, domain.SessionStatusPaid, repositories.SessionTransitionUpdate{
			IntentID:  intentID,
			UpdatedAt: p.now(),
		})
		if err != nil {
			return p.retryable(err)
		}
		if applied {
			session = updated
		}
	}

	// Orders are ensured on every paid delivery so a crash between the status
	// write and the fan-out heals on the provider's retry.
	created, err := p.ensureOrders(ctx, session)
	if err != nil {
		return p.retryable(err)
	}

	// The clear is idempotent, so it runs on every paid delivery; a crash
	// between the status write and the clear heals on the provider's retry.
	if err := p.carts.Clear(ctx, session.UserID); err != nil {
		p.logger(ctx, "webhook.cart_clear_failed", map[string]any{
			"sessionId": session.ID,
			"userId":    session.UserID,
			"error":     err.Error(),
		})
	}

	if applied {
		p.syncCustomer(ctx, CustomerSyncMessage{
			UserID:    session.UserID,
			Email:     session.Billing.Email,
			SessionID: session.ID,
		})
		p.publish(ctx, NotificationMessage{
			Type:        "checkout.paid",
			UserID:      session.UserID,
			Email:       session.Billing.Email,
			SessionID:   session.ID,
			OrderNumber: session.OrderNumber,
			OrderIDs:    orderIDs(session),
		})
		p.logger(ctx, "webhook.session_paid", map[string]any{
			"sessionId":     session.ID,
			"orderNumber":   session.OrderNumber,
			"ordersCreated": created,
		})
	}

	return ProcessingResult{Success: true, Duplicate: !applied, OrdersCreated: created}
}

func (p *webhookProcessor) applyFailed(ctx context.Context, session domain.CheckoutSession, intentID, failureCode, failureReason string) ProcessingResult {
	if session.Status.Terminal() {
		return ProcessingResult{Success: true, Duplicate: true}
	}

	applied, updated, err := p.sessions.TransitionStatus(ctx, session.ID, domain.SessionStatusCreated, domain.SessionStatusFailed, repositories.SessionTransitionUpdate{
		IntentID:      intentID,
		FailureCode:   failureCode,
		FailureReason: failureReason,
		UpdatedAt:     p.now(),
	})
	if err != nil {
		return p.retryable(err)
	}
	if !applied {
		return ProcessingResult{Success: true, Duplicate: true}
	}
	session = updated

	if p.recovery != nil {
		if _, err := p.recovery.TrackAbandonment(ctx, TrackAbandonmentCommand{
			UserID:        session.UserID,
			SessionID:     session.ID,
			Items:         session.Items,
			Billing:       session.Billing,
			FailureCode:   failureCode,
			FailureReason: failureReason,
		}); err != nil {
			p.logger(ctx, "webhook.track_abandonment_failed", map[string]any{
				"sessionId": session.ID,
				"error":     err.Error(),
			})
		}
	}

	p.publish(ctx, NotificationMessage{
		Type:        "checkout.failed",
		UserID:      session.UserID,
		Email:       session.Billing.Email,
		SessionID:   session.ID,
		FailureCode: failureCode,
	})
	p.logger(ctx, "webhook.session_failed", map[string]any{
		"sessionId":   session.ID,
		"failureCode": failureCode,
	})
	return ProcessingResult{Success: true}
}

func (p *webhookProcessor) applyExpired(ctx context.Context, session domain.CheckoutSession) ProcessingResult {
	if session.Status.Terminal() {
		return ProcessingResult{Success: true, Duplicate: true}
	}

	applied, _, err := p.sessions.TransitionStatus(ctx, session.ID, domain.SessionStatusCreated, domain.SessionStatusExpired, repositories.SessionTransitionUpdate{
		UpdatedAt: p.now(),
	})
	if err != nil {
		return p.retryable(err)
	}
	if !applied {
		return ProcessingResult{Success: true, Duplicate: true}
	}
	p.logger(ctx, "webhook.session_expired", map[string]any{"sessionId": session.ID})
	return ProcessingResult{Success: true}
}

// ensureOrders creates one order per snapshot line using insert-if-absent on
// the deterministic id, so replays never duplicate orders.
func (p *webhookProcessor) ensureOrders(ctx context.Context, session domain.CheckoutSession) (int, error) {
	now := p.now()
	created := 0
	for _, line := range session.Items {
		order := domain.Order{
			ID:            domain.OrderID(session.ID, line.OutletID),
			OrderNumber:   session.OrderNumber,
			BuyerID:       session.UserID,
			OutletID:      line.OutletID,
			OutletName:    line.OutletName,
			Category:      line.Category,
			Amount:        line.LineTotal,
			Currency:      session.Currency,
			Quantity:      line.Quantity,
			ContentOption: line.ContentOption,
			SessionID:     session.ID,
			Status:        domain.OrderStatusRequested,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		wasCreated, err := p.orders.CreateIfAbsent(ctx, order)
		if err != nil {
			return created, err
		}
		if wasCreated {
			created++
		}
	}
	return created, nil
}

func verificationResult(session domain.CheckoutSession) VerificationResult {
	result := VerificationResult{
		SessionID:   session.ID,
		Status:      session.Status,
		OrderNumber: session.OrderNumber,
	}
	if session.Status == domain.SessionStatusPaid {
		result.OrderIDs = orderIDs(session)
	}
	return result
}

func (p *webhookProcessor) syncCustomer(ctx context.Context, msg CustomerSyncMessage) {
	if p.customers == nil {
		return
	}
	if err := p.customers.SyncCustomer(ctx, msg); err != nil {
		p.logger(ctx, "webhook.customer_sync_failed", map[string]any{
			"userId":     msg.UserID,
			"customerId": msg.CustomerID,
			"error":      err.Error(),
		})
	}
}

func (p *webhookProcessor) publish(ctx context.Context, msg NotificationMessage) {
	if p.notifications == nil {
		return
	}
	if _, err := p.notifications.PublishNotification(ctx, msg); err != nil {
		p.logger(ctx, "webhook.notification_failed", map[string]any{
			"sessionId": msg.SessionID,
			"type":      msg.Type,
			"error":     err.Error(),
		})
	}
}

func (p *webhookProcessor) retryable(err error) ProcessingResult {
	return ProcessingResult{Retryable: true, Err: err}
}

func (p *webhookProcessor) translateStoreError(err error) error {
	if isNotFound(err) {
		return ErrSessionNotFound
	}
	return ErrWebhookUnavailable
}

func orderIDs(session domain.CheckoutSession) []string {
	ids := make([]string, 0, len(session.Items))
	for _, line := range session.Items {
		ids = append(ids, domain.OrderID(session.ID, line.OutletID))
	}
	return ids
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
