package catalog

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/farmanova/backend-pos/internal/common"
	"github.com/farmanova/backend-pos/internal/money"
	"github.com/farmanova/backend-pos/internal/pricing"
	"github.com/farmanova/backend-pos/internal/promo"
)

// Handler exposes product pricing context endpoints for the register UI.
type Handler struct {
	service *Service
	now     func() time.Time
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service *Service
	Now     func() time.Time
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{service: cfg.Service, now: now}
}

type priceContextResponse struct {
	ProductID      uuid.UUID    `json:"productId"`
	Name           string       `json:"name"`
	Category       string       `json:"category"`
	BasePrice      money.Amount `json:"basePrice"`
	SeniorEligible bool         `json:"seniorEligible"`
	Promotion      *promoView   `json:"promotion,omitempty"`
	UnitPriceFinal money.Amount `json:"unitPriceFinal"`
	AccrualPerUnit money.Amount `json:"accrualPerUnit"`
}

type promoView struct {
	Label          string       `json:"label"`
	Pct            money.Amount `json:"pct"`
	WalletEligible bool         `json:"walletEligible"`
	IsQuantity     bool         `json:"isQuantity"`
	RequiredCount  int          `json:"requiredCount,omitempty"`
	SeniorApplied  bool         `json:"seniorApplied"`
}

// PriceContext handles GET /api/v1/products/{id}/price-context. Query
// parameters: date (YYYY-MM-DD, defaults to today), senior (INAPAM confirmed),
// customer (a customer record is attached).
func (h *Handler) PriceContext(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid product id", nil)
		return
	}
	date := h.now()
	if v := strings.TrimSpace(r.URL.Query().Get("date")); v != "" {
		parsed, err := time.Parse(dateLayout, v)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "date must be YYYY-MM-DD", nil)
			return
		}
		date = parsed
	}
	senior := queryBool(r, "senior")
	customerKnown := queryBool(r, "customer")

	pc, err := h.service.PriceContext(r.Context(), id)
	if err != nil {
		common.WriteAppError(w, err)
		return
	}

	eff, ok := promo.Resolve(promo.Input{
		Category:        pc.Category,
		SeniorEligible:  pc.SeniorEligible,
		Rules:           pc.Rules,
		Date:            date,
		CustomerKnown:   customerKnown,
		SeniorConfirmed: senior,
	})
	resp := priceContextResponse{
		ProductID:      pc.ProductID,
		Name:           pc.Name,
		Category:       pc.Category,
		BasePrice:      pc.BasePrice,
		SeniorEligible: pc.SeniorEligible,
	}
	resp.UnitPriceFinal, resp.AccrualPerUnit = pricing.Unit(pc.BasePrice, eff)
	if ok {
		resp.Promotion = &promoView{
			Label:          eff.Label,
			Pct:            eff.Pct,
			WalletEligible: eff.WalletEligible,
			IsQuantity:     eff.IsQuantity,
			RequiredCount:  eff.RequiredCount,
			SeniorApplied:  eff.SeniorApplied,
		}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": resp})
}

// InvalidatePriceContext handles DELETE /api/v1/products/{id}/price-context.
// Back-office promotion edits call it so registers stop quoting stale rules
// before the cache TTL runs out.
func (h *Handler) InvalidatePriceContext(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid product id", nil)
		return
	}
	if err := h.service.InvalidatePriceContext(r.Context(), id); err != nil {
		common.WriteAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stock handles GET /api/v1/pharmacies/{pharmacyId}/products/{id}/stock.
func (h *Handler) Stock(w http.ResponseWriter, r *http.Request) {
	pharmacyID, err := uuid.Parse(chi.URLParam(r, "pharmacyId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid pharmacy id", nil)
		return
	}
	productID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid product id", nil)
		return
	}
	onHand, err := h.service.AvailableStock(r.Context(), pharmacyID, productID)
	if err != nil {
		common.WriteAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"productId":  productID,
		"pharmacyId": pharmacyID,
		"onHand":     onHand,
	}})
}

func queryBool(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get(name)))
	return err == nil && v
}
