package customer

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/farmanova/backend-pos/internal/common"
)

// Handler exposes customer and wallet endpoints.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(service *Service, validate *validator.Validate) *Handler {
	if validate == nil {
		validate = validator.New()
	}
	return &Handler{service: service, validate: validate}
}

type createRequest struct {
	Name  string `json:"name" validate:"required,min=2,max=120"`
	Phone string `json:"phone" validate:"omitempty,min=7,max=20"`
}

// Create handles POST /api/v1/customers.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body", nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid customer payload", err.Error())
		return
	}
	profile, err := h.service.Create(r.Context(), req.Name, req.Phone)
	if err != nil {
		common.WriteAppError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": profile})
}

// Get handles GET /api/v1/customers/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid customer id", nil)
		return
	}
	profile, err := h.service.Get(r.Context(), id)
	if err != nil {
		common.WriteAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": profile})
}

// Lookup handles GET /api/v1/customers/lookup?phone=...
func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	profile, err := h.service.LookupByPhone(r.Context(), r.URL.Query().Get("phone"))
	if err != nil {
		common.WriteAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": profile})
}

// Wallet handles GET /api/v1/customers/{id}/wallet: the balance plus a page
// of ledger entries, newest first.
func (h *Handler) Wallet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid customer id", nil)
		return
	}
	profile, err := h.service.Get(r.Context(), id)
	if err != nil {
		common.WriteAppError(w, err)
		return
	}
	page, perPage := common.ParsePagination(r, 20)
	offset := common.AtoiDefault(r.URL.Query().Get("offset"), (page-1)*perPage)
	entries, err := h.service.WalletEntries(r.Context(), id, perPage, offset)
	if err != nil {
		common.WriteAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"balance": profile.WalletBalance,
		"entries": entries,
	}})
}
