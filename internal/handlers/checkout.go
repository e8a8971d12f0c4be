package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/pressdeck/api/internal/domain"
	"github.com/pressdeck/api/internal/platform/auth"
	"github.com/pressdeck/api/internal/platform/httpx"
	"github.com/pressdeck/api/internal/services"
)

const maxCheckoutRequestBody = 8 * 1024

// CheckoutHandlers exposes checkout session creation and verification.
type CheckoutHandlers struct {
	checkout services.CheckoutService
	verifier services.WebhookProcessor
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(checkout services.CheckoutService, verifier services.WebhookProcessor) *CheckoutHandlers {
	return &CheckoutHandlers{
		checkout: checkout,
		verifier: verifier,
	}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r.With(auth.RequireUser)
	group.Post("/session", h.createSession)
	group.Post("/verify", h.verifySession)
}

type billingRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Company   string `json:"company"`
	VATNumber string `json:"vatNumber"`
	Street    string `json:"street"`
	City      string `json:"city"`
	PostCode  string `json:"postCode"`
	Country   string `json:"country"`
}

type checkoutSessionRequest struct {
	Billing    billingRequest    `json:"billing"`
	SuccessURL string            `json:"successUrl"`
	CancelURL  string            `json:"cancelUrl"`
	Metadata   map[string]string `json:"metadata"`
}

type checkoutSessionResponse struct {
	SessionID   string `json:"sessionId"`
	OrderNumber string `json:"orderNumber"`
	URL         string `json:"url"`
	Subtotal    int64  `json:"subtotal"`
	VAT         int64  `json:"vat"`
	Total       int64  `json:"total"`
	Currency    string `json:"currency"`
	ExpiresAt   string `json:"expiresAt,omitempty"`
}

type verifySessionRequest struct {
	SessionID string `json:"sessionId"`
}

type verifySessionResponse struct {
	SessionID   string   `json:"sessionId"`
	Status      string   `json:"status"`
	OrderNumber string   `json:"orderNumber,omitempty"`
	OrderIDs    []string `json:"orderIds,omitempty"`
}

func (h *CheckoutHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := auth.UserID(ctx)

	var req checkoutSessionRequest
	if !decodeBody(ctx, w, r, maxCheckoutRequestBody, &req) {
		return
	}

	metadata := make(map[string]string, len(req.Metadata))
	for k, v := range req.Metadata {
		key := strings.TrimSpace(k)
		value := strings.TrimSpace(v)
		if key == "" || value == "" {
			continue
		}
		metadata[key] = value
	}

	handle, err := h.checkout.CreateSession(ctx, services.CreateSessionCommand{
		UserID: userID,
		Billing: domain.BillingInfo{
			Name:      strings.TrimSpace(req.Billing.Name),
			Email:     strings.TrimSpace(req.Billing.Email),
			Company:   strings.TrimSpace(req.Billing.Company),
			VATNumber: strings.TrimSpace(req.Billing.VATNumber),
			Street:    strings.TrimSpace(req.Billing.Street),
			City:      strings.TrimSpace(req.Billing.City),
			PostCode:  strings.TrimSpace(req.Billing.PostCode),
			Country:   strings.TrimSpace(req.Billing.Country),
		},
		SuccessURL: strings.TrimSpace(req.SuccessURL),
		CancelURL:  strings.TrimSpace(req.CancelURL),
		Metadata:   metadata,
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, checkoutSessionResponse{
		SessionID:   handle.SessionID,
		OrderNumber: handle.OrderNumber,
		URL:         handle.RedirectURL,
		Subtotal:    handle.Subtotal,
		VAT:         handle.VAT,
		Total:       handle.Total,
		Currency:    handle.Currency,
		ExpiresAt:   formatTime(handle.ExpiresAt),
	})
}

func (h *CheckoutHandlers) verifySession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req verifySessionRequest
	if !decodeBody(ctx, w, r, maxCheckoutRequestBody, &req) {
		return
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "sessionId is required", http.StatusBadRequest))
		return
	}

	result, err := h.verifier.VerifySession(ctx, sessionID)
	if err != nil {
		writeVerifyError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, verifySessionResponse{
		SessionID:   result.SessionID,
		Status:      string(result.Status),
		OrderNumber: result.OrderNumber,
		OrderIDs:    result.OrderIDs,
	})
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	var vErr *services.ValidationError
	switch {
	case errors.As(err, &vErr):
		httpx.WriteError(ctx, w, httpx.
			NewError("cart_invalid", "cart failed checkout validation", http.StatusBadRequest).
			WithDetails(map[string]any{"violations": vErr.Violations}))
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "checkout request is invalid", http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutGatewayUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("gateway_unavailable", "payment provider is temporarily unavailable", http.StatusBadGateway))
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", "payment session could not be created", http.StatusBadGateway))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}

func writeVerifyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("session_not_found", "checkout session not found", http.StatusNotFound))
	case errors.Is(err, services.ErrWebhookUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("verify_unavailable", "session verification unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("verify_error", "failed to verify session", http.StatusInternalServerError))
	}
}
