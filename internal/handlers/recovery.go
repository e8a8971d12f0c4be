package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pressdeck/api/internal/platform/httpx"
	"github.com/pressdeck/api/internal/services"
)

const maxRecoveryRequestBody = 4 * 1024

// RecoveryHandlers exposes the internal cart-recovery maintenance endpoints,
// called by the scheduler. The router mounts them behind the HMAC guard.
type RecoveryHandlers struct {
	recovery services.RecoveryService
}

// NewRecoveryHandlers constructs recovery handlers.
func NewRecoveryHandlers(recovery services.RecoveryService) *RecoveryHandlers {
	return &RecoveryHandlers{recovery: recovery}
}

// Routes registers recovery endpoints under the provided router.
func (h *RecoveryHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/recovery/sweep", h.sweep)
	r.Post("/recovery/purge", h.purge)
}

type sweepRequest struct {
	Limit int `json:"limit"`
}

type sweepResponse struct {
	Examined int `json:"examined"`
	Sent     int `json:"sent"`
	Expired  int `json:"expired"`
}

type purgeRequest struct {
	Before string `json:"before"`
}

type purgeResponse struct {
	Deleted int `json:"deleted"`
}

func (h *RecoveryHandlers) sweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req sweepRequest
	if body, err := readLimitedBody(r, maxRecoveryRequestBody); err == nil {
		if !unmarshalBody(ctx, w, body, &req) {
			return
		}
	} else if !errors.Is(err, errEmptyBody) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.recovery.SendDueReminders(ctx, req.Limit)
	if err != nil {
		writeRecoveryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, sweepResponse{
		Examined: result.Examined,
		Sent:     result.Sent,
		Expired:  result.Expired,
	})
}

func (h *RecoveryHandlers) purge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req purgeRequest
	if body, err := readLimitedBody(r, maxRecoveryRequestBody); err == nil {
		if !unmarshalBody(ctx, w, body, &req) {
			return
		}
	} else if !errors.Is(err, errEmptyBody) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	var before time.Time
	if req.Before != "" {
		parsed, err := time.Parse(time.RFC3339, req.Before)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "before must be RFC 3339", http.StatusBadRequest))
			return
		}
		before = parsed
	}

	deleted, err := h.recovery.PurgeExpired(ctx, before)
	if err != nil {
		writeRecoveryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, purgeResponse{Deleted: deleted})
}

func writeRecoveryError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrRecoveryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "recovery request is invalid", http.StatusBadRequest))
	case errors.Is(err, services.ErrRecoveryUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("recovery_unavailable", "recovery store unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("recovery_error", "failed to process recovery request", http.StatusInternalServerError))
	}
}
