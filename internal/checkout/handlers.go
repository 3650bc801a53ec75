package checkout

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/farmanova/backend-pos/internal/common"
	"github.com/farmanova/backend-pos/internal/money"
)

// Handler exposes the checkout endpoints.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

func (h *Handler) validate(v any) error {
	if h.Validate == nil {
		return nil
	}
	return h.Validate.Struct(v)
}

// Checkout handles POST /api/v1/checkout.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	var payload Request
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.validate(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid checkout payload", err.Error())
		return
	}
	t, err := h.Svc.Create(r.Context(), payload)
	if err != nil {
		common.WriteAppError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": map[string]any{
		"sale":           t,
		"formattedTotal": money.FormatMXN(t.Total),
	}})
}

// PriceLine handles POST /api/v1/cart/price-line: the live preview of one
// scanned line, including any free units the quantity earns.
func (h *Handler) PriceLine(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	var payload PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.validate(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid preview payload", err.Error())
		return
	}
	lines, totals, err := h.Svc.Preview(r.Context(), payload)
	if err != nil {
		common.WriteAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"lines":  lines,
		"totals": totals,
	}})
}

// GetSale handles GET /api/v1/sales/{folio}.
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	t, err := h.Svc.GetSale(r.Context(), chi.URLParam(r, "folio"))
	if err != nil {
		common.WriteAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": t})
}
