package returns

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/farmanova/backend-pos/internal/common"
)

// Handler exposes the reversal endpoints.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

// Return handles POST /api/v1/sales/{folio}/return.
func (h *Handler) Return(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "returns service not configured", nil)
		return
	}
	var payload Request
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(payload); err != nil {
			common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid return payload", err.Error())
			return
		}
	}
	receipt, err := h.Svc.Return(r.Context(), chi.URLParam(r, "folio"), payload)
	if err != nil {
		common.WriteAppError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": receipt})
}

type cancelRequest struct {
	CustomerID *uuid.UUID `json:"customerId,omitempty"`
}

// Cancel handles POST /api/v1/sales/{folio}/cancel. The body is optional and
// only carries a customer to attach when the anonymous sale needs one for the
// wallet component.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "returns service not configured", nil)
		return
	}
	var payload cancelRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
			return
		}
	}
	receipt, err := h.Svc.Cancel(r.Context(), chi.URLParam(r, "folio"), payload.CustomerID)
	if err != nil {
		common.WriteAppError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": receipt})
}
