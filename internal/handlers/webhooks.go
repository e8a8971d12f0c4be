package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pressdeck/api/internal/payments"
	"github.com/pressdeck/api/internal/platform/httpx"
	"github.com/pressdeck/api/internal/services"
)

// Provider webhook payloads are larger than API requests; Stripe documents a
// maximum well under this.
const maxWebhookBody = 1 << 20

const defaultSignatureHeader = "Stripe-Signature"

// WebhookHandlers receives signed payment provider events.
type WebhookHandlers struct {
	gateway         payments.Gateway
	processor       services.WebhookProcessor
	signatureHeader string
}

// WebhookOption customises the webhook handlers.
type WebhookOption func(*WebhookHandlers)

// WithSignatureHeader overrides the header carrying the payload signature.
func WithSignatureHeader(header string) WebhookOption {
	return func(h *WebhookHandlers) {
		if header != "" {
			h.signatureHeader = header
		}
	}
}

// NewWebhookHandlers constructs webhook handlers.
func NewWebhookHandlers(gateway payments.Gateway, processor services.WebhookProcessor, opts ...WebhookOption) *WebhookHandlers {
	h := &WebhookHandlers{
		gateway:         gateway,
		processor:       processor,
		signatureHeader: defaultSignatureHeader,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers webhook endpoints under the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payment", h.handlePaymentEvent)
}

type webhookResponse struct {
	Received      bool `json:"received"`
	Duplicate     bool `json:"duplicate,omitempty"`
	OrdersCreated int  `json:"ordersCreated,omitempty"`
}

// handlePaymentEvent verifies and applies one provider delivery. Replays and
// unknown event types are acknowledged with 200 so the provider stops
// retrying; only transient processing failures return 5xx.
func (h *WebhookHandlers) handlePaymentEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "failed to read webhook payload", http.StatusBadRequest))
		return
	}

	event, err := h.gateway.ParseWebhookEvent(body, r.Header.Get(h.signatureHeader))
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "webhook payload could not be parsed", http.StatusBadRequest))
		return
	}

	result := h.processor.Process(ctx, event)
	if result.Retryable {
		httpx.WriteError(ctx, w, httpx.NewError("processing_failed", "event processing failed; retry later", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, webhookResponse{
		Received:      true,
		Duplicate:     result.Duplicate,
		OrdersCreated: result.OrdersCreated,
	})
}
