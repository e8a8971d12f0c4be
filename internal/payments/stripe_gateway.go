package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

// StripeLogger is the logging hook used by the Stripe gateway.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeGatewayConfig configures the StripeGateway.
type StripeGatewayConfig struct {
	APIKey        string
	WebhookSecret string
	Backends      *stripe.Backends
	Logger        StripeLogger
	Clock         func() time.Time
	Sessions      stripeSessionAPI // test seam; defaults to the live client
}

// StripeGateway implements Gateway on top of Stripe Checkout.
type StripeGateway struct {
	sessions      stripeSessionAPI
	webhookSecret string
	clock         func() time.Time
	logger        StripeLogger
}

// NewStripeGateway constructs a Stripe-backed Gateway.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Sessions == nil {
		return nil, errors.New("stripe: api key is required")
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}

	sessions := cfg.Sessions
	if sessions == nil {
		sc := client.New(apiKey, cfg.Backends)
		sessions = sc.CheckoutSessions
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeGateway{
		sessions:      sessions,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateSession opens a Stripe Checkout session for the snapshot lines.
func (g *StripeGateway) CreateSession(ctx context.Context, req CreateSessionRequest) (Session, error) {
	if g == nil {
		return Session{}, errors.New("stripe: gateway is nil")
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	if !req.ExpiresAt.IsZero() {
		params.ExpiresAt = stripe.Int64(req.ExpiresAt.Unix())
	}

	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Lines)+1)
	for _, line := range req.Lines {
		quantity := line.Quantity
		if quantity < 1 {
			quantity = 1
		}
		item := &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(quantity),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(line.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(line.Name),
				},
			},
		}
		if line.Description != "" {
			item.PriceData.ProductData.Description = stripe.String(line.Description)
		}
		lineItems = append(lineItems, item)
	}
	if req.VATAmount > 0 {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(req.VATAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("VAT"),
				},
			},
		})
	}
	params.LineItems = lineItems

	if len(req.Metadata) > 0 {
		params.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			params.Metadata[k] = v
		}
		// Intent-level metadata lets payment_intent.* events be correlated back
		// to the session even when they arrive before checkout.session.completed.
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: make(map[string]string, len(req.Metadata)),
		}
		for k, v := range req.Metadata {
			params.PaymentIntentData.Metadata[k] = v
		}
	}

	session, err := g.sessions.New(params)
	if err != nil {
		return Session{}, g.wrapError("create session", err)
	}

	intentID := ""
	if session.PaymentIntent != nil {
		intentID = session.PaymentIntent.ID
	}

	g.logger(ctx, "payments.stripe.session_created", map[string]any{
		"sessionId":     session.ID,
		"paymentIntent": intentID,
		"currency":      session.Currency,
	})

	expiresAt := req.ExpiresAt
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	if expiresAt.IsZero() {
		expiresAt = g.clock().Add(24 * time.Hour)
	}

	return Session{
		ID:          session.ID,
		IntentID:    intentID,
		RedirectURL: session.URL,
		ExpiresAt:   expiresAt,
	}, nil
}

// RetrieveSession polls the provider for the session's current state.
func (g *StripeGateway) RetrieveSession(ctx context.Context, sessionID string) (SessionDetails, error) {
	if g == nil {
		return SessionDetails{}, errors.New("stripe: gateway is nil")
	}
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return SessionDetails{}, errors.New("stripe: session id is required")
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")

	session, err := g.sessions.Get(id, params)
	if err != nil {
		return SessionDetails{}, g.wrapError("retrieve session", err)
	}
	return stripeSessionDetails(session), nil
}

// ParseWebhookEvent verifies the Stripe signature and decodes the payload into
// the closed event union.
func (g *StripeGateway) ParseWebhookEvent(payload []byte, signatureHeader string) (Event, error) {
	if g == nil {
		return Event{}, errors.New("stripe: gateway is nil")
	}

	event, err := webhook.ConstructEvent(payload, signatureHeader, g.webhookSecret)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return decodeStripeEvent(event)
}

func decodeStripeEvent(event stripe.Event) (Event, error) {
	out := Event{ID: event.ID, Type: EventType(event.Type)}

	switch out.Type {
	case EventSessionCompleted, EventSessionExpired:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return Event{}, fmt.Errorf("stripe: decode checkout session event: %w", err)
		}
		intentID := ""
		if sess.PaymentIntent != nil {
			intentID = sess.PaymentIntent.ID
		}
		if out.Type == EventSessionExpired {
			out.Payload = SessionExpiredPayload{SessionID: sess.ID, Metadata: sess.Metadata}
			return out, nil
		}
		paymentStatus := PaymentUnpaid
		if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid || sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired {
			paymentStatus = PaymentPaid
		}
		out.Payload = SessionCompletedPayload{
			SessionID:     sess.ID,
			IntentID:      intentID,
			PaymentStatus: paymentStatus,
			AmountTotal:   sess.AmountTotal,
			Currency:      strings.ToUpper(string(sess.Currency)),
			Metadata:      sess.Metadata,
		}
	case EventIntentSucceeded, EventIntentFailed:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return Event{}, fmt.Errorf("stripe: decode payment intent event: %w", err)
		}
		if out.Type == EventIntentSucceeded {
			out.Payload = IntentSucceededPayload{
				IntentID: intent.ID,
				Amount:   intent.Amount,
				Currency: strings.ToUpper(string(intent.Currency)),
				Metadata: intent.Metadata,
			}
			return out, nil
		}
		code := ""
		message := ""
		if intent.LastPaymentError != nil {
			code = string(intent.LastPaymentError.DeclineCode)
			if code == "" {
				code = string(intent.LastPaymentError.Code)
			}
			message = intent.LastPaymentError.Msg
		}
		if code == "" {
			code = "payment_failed"
		}
		out.Payload = IntentFailedPayload{
			IntentID:       intent.ID,
			FailureCode:    code,
			FailureMessage: message,
			Metadata:       intent.Metadata,
		}
	case EventCustomerCreated:
		var customer stripe.Customer
		if err := json.Unmarshal(event.Data.Raw, &customer); err != nil {
			return Event{}, fmt.Errorf("stripe: decode customer event: %w", err)
		}
		out.Payload = CustomerCreatedPayload{CustomerID: customer.ID, Email: customer.Email}
	default:
		out.Payload = UnknownPayload{RawType: string(event.Type)}
	}
	return out, nil
}

func stripeSessionDetails(session *stripe.CheckoutSession) SessionDetails {
	if session == nil {
		return SessionDetails{}
	}

	details := SessionDetails{
		ID:          session.ID,
		AmountTotal: session.AmountTotal,
		Currency:    strings.ToUpper(string(session.Currency)),
		Metadata:    session.Metadata,
	}

	switch session.Status {
	case stripe.CheckoutSessionStatusComplete:
		details.Status = SessionComplete
	case stripe.CheckoutSessionStatusExpired:
		details.Status = SessionExpired
	default:
		details.Status = SessionOpen
	}

	details.PaymentStatus = PaymentUnpaid
	if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid || session.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired {
		details.PaymentStatus = PaymentPaid
	}

	if intent := session.PaymentIntent; intent != nil {
		details.IntentID = intent.ID
		if intent.LastPaymentError != nil {
			details.FailureCode = string(intent.LastPaymentError.DeclineCode)
			if details.FailureCode == "" {
				details.FailureCode = string(intent.LastPaymentError.Code)
			}
			details.FailureMessage = intent.LastPaymentError.Msg
		}
		if pm := intent.PaymentMethod; pm != nil && pm.Card != nil {
			details.PaymentMethodSummary = fmt.Sprintf("%s ****%s", pm.Card.Brand, pm.Card.Last4)
		}
	}

	return details
}

func (g *StripeGateway) wrapError(op string, err error) error {
	retryable := false

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.HTTPStatusCode >= 500:
			retryable = true
		case stripeErr.Type == stripe.ErrorTypeAPI:
			retryable = true
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		retryable = true
	}

	return &GatewayError{Op: op, Retryable: retryable, Err: err}
}
