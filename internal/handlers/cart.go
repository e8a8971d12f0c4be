package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/pressdeck/api/internal/domain"
	"github.com/pressdeck/api/internal/platform/auth"
	"github.com/pressdeck/api/internal/platform/httpx"
	"github.com/pressdeck/api/internal/services"
)

const maxCartRequestBody = 16 * 1024

// CartHandlers exposes the cart endpoints for authenticated users.
type CartHandlers struct {
	cart services.CartService
}

// NewCartHandlers constructs cart handlers.
func NewCartHandlers(cart services.CartService) *CartHandlers {
	return &CartHandlers{cart: cart}
}

// Routes registers cart endpoints under the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r.With(auth.RequireUser)
	group.Get("/", h.listItems)
	group.Post("/items", h.addItem)
	group.Patch("/items/{itemId}", h.updateItem)
	group.Delete("/items/{itemId}", h.removeItem)
	group.Delete("/", h.clear)
}

type cartItemRequest struct {
	OutletID      string  `json:"outletId"`
	OutletName    string  `json:"outletName"`
	Category      string  `json:"category"`
	BasePrice     int64   `json:"basePrice"`
	Currency      string  `json:"currency"`
	NicheID       string  `json:"nicheId"`
	Multiplier    float64 `json:"multiplier"`
	ContentOption string  `json:"contentOption"`
	Quantity      int     `json:"quantity"`
}

type cartItemUpdateRequest struct {
	Quantity      int    `json:"quantity"`
	ContentOption string `json:"contentOption"`
}

type cartItemResponse struct {
	ID            string  `json:"id"`
	OutletID      string  `json:"outletId"`
	OutletName    string  `json:"outletName,omitempty"`
	Category      string  `json:"category"`
	BasePrice     int64   `json:"basePrice"`
	Currency      string  `json:"currency"`
	NicheID       string  `json:"nicheId,omitempty"`
	Multiplier    float64 `json:"multiplier,omitempty"`
	ContentOption string  `json:"contentOption"`
	Quantity      int     `json:"quantity"`
	ReadOnly      bool    `json:"readOnly,omitempty"`
	CreatedAt     string  `json:"createdAt,omitempty"`
	UpdatedAt     string  `json:"updatedAt,omitempty"`
}

type cartResponse struct {
	Items []cartItemResponse `json:"items"`
	Count int                `json:"count"`
}

func (h *CartHandlers) listItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := auth.UserID(ctx)

	items, err := h.cart.ListItems(ctx, userID)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}

	payload := cartResponse{Items: make([]cartItemResponse, 0, len(items)), Count: len(items)}
	for _, item := range items {
		payload.Items = append(payload.Items, toCartItemResponse(item))
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := auth.UserID(ctx)

	var req cartItemRequest
	if !decodeBody(ctx, w, r, maxCartRequestBody, &req) {
		return
	}

	item, err := h.cart.AddItem(ctx, services.UpsertCartItemCommand{
		UserID:        userID,
		OutletID:      strings.TrimSpace(req.OutletID),
		OutletName:    strings.TrimSpace(req.OutletName),
		Category:      strings.TrimSpace(req.Category),
		BasePrice:     req.BasePrice,
		Currency:      strings.TrimSpace(req.Currency),
		NicheID:       strings.TrimSpace(req.NicheID),
		Multiplier:    req.Multiplier,
		ContentOption: strings.TrimSpace(req.ContentOption),
		Quantity:      req.Quantity,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, toCartItemResponse(item))
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := auth.UserID(ctx)

	var req cartItemUpdateRequest
	if !decodeBody(ctx, w, r, maxCartRequestBody, &req) {
		return
	}

	item, err := h.cart.UpdateItem(ctx, services.UpdateCartItemCommand{
		UserID:        userID,
		ItemID:        chi.URLParam(r, "itemId"),
		Quantity:      req.Quantity,
		ContentOption: strings.TrimSpace(req.ContentOption),
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, toCartItemResponse(item))
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := auth.UserID(ctx)

	if err := h.cart.RemoveItem(ctx, userID, chi.URLParam(r, "itemId")); err != nil {
		writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) clear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := auth.UserID(ctx)

	if err := h.cart.Clear(ctx, userID); err != nil {
		writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toCartItemResponse(item domain.CartItem) cartItemResponse {
	return cartItemResponse{
		ID:            item.ID,
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
		CreatedAt:     formatTime(item.CreatedAt),
		UpdatedAt:     formatTime(item.UpdatedAt),
	}
}

// decodeBody reads and unmarshals the request body, writing the error response
// itself when the body is missing, oversized, or malformed.
func decodeBody(ctx context.Context, w http.ResponseWriter, r *http.Request, limit int64, dest any) bool {
	body, err := readLimitedBody(r, limit)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return false
	}
	if err := json.Unmarshal(body, dest); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "cart item data is invalid", http.StatusBadRequest))
	case errors.Is(err, services.ErrCartItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("item_not_found", "cart item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartItemReadOnly):
		httpx.WriteError(ctx, w, httpx.NewError("item_read_only", "cart item cannot be modified", http.StatusConflict))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_unavailable", "cart service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to process cart request", http.StatusInternalServerError))
	}
}
