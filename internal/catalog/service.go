// Package catalog loads products with their promotion rules and guards
// inventory. Stored promotion rows are loosely shaped; this package is the
// validation boundary that turns them into a well-formed rule set, so the
// promotion resolver downstream never sees malformed input.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/farmanova/backend-pos/internal/common"
	"github.com/farmanova/backend-pos/internal/money"
	"github.com/farmanova/backend-pos/internal/promo"
	"github.com/farmanova/backend-pos/internal/repo"
)

const dateLayout = "2006-01-02"

// Store is the subset of repo.Queries the catalog needs.
type Store interface {
	GetProduct(ctx context.Context, id uuid.UUID) (repo.Product, error)
	ListPromotions(ctx context.Context, productID uuid.UUID) ([]repo.PromotionRow, error)
	GetAvailableStock(ctx context.Context, pharmacyID, productID uuid.UUID) (int, error)
}

var _ Store = (*repo.Queries)(nil)

// PriceContext is everything needed to price one product: the catalog row
// plus its validated promotion rules.
type PriceContext struct {
	ProductID      uuid.UUID     `json:"productId"`
	Name           string        `json:"name"`
	Category       string        `json:"category"`
	BasePrice      money.Amount  `json:"basePrice"`
	SeniorEligible bool          `json:"seniorEligible"`
	Rules          promo.RuleSet `json:"rules"`
}

// Service orchestrates product loading, rule validation, and caching.
type Service struct {
	store Store
	cache *Cache
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Store Store
	Cache *Cache
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("catalog: store is required")
	}
	return &Service{store: cfg.Store, cache: cfg.Cache}, nil
}

// PriceContext loads a product and its validated rule set, read-through
// cached. Malformed stored rules surface as a validation error rather than
// a silently skipped promotion.
func (s *Service) PriceContext(ctx context.Context, productID uuid.UUID) (PriceContext, error) {
	key := contextCacheKey(productID)
	if s.cache != nil {
		var cached PriceContext
		ok, err := s.cache.GetJSON(ctx, key, &cached)
		if err == nil && ok {
			return cached, nil
		}
	}

	product, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return PriceContext{}, &common.AppError{Code: "NOT_FOUND", Message: "product not found", HTTPStatus: http.StatusNotFound, Err: err}
		}
		return PriceContext{}, fmt.Errorf("get product: %w", err)
	}
	rows, err := s.store.ListPromotions(ctx, productID)
	if err != nil {
		return PriceContext{}, fmt.Errorf("list promotions: %w", err)
	}
	rules, err := BuildRuleSet(rows)
	if err != nil {
		return PriceContext{}, &common.AppError{
			Code:       "VALIDATION_ERROR",
			Message:    "product has malformed promotion rules",
			HTTPStatus: http.StatusUnprocessableEntity,
			Err:        err,
			Details:    map[string]any{"productId": productID.String()},
		}
	}
	pc := PriceContext{
		ProductID:      product.ID,
		Name:           product.Name,
		Category:       product.Category,
		BasePrice:      product.BasePrice,
		SeniorEligible: product.SeniorEligible,
		Rules:          rules,
	}
	if s.cache != nil {
		_ = s.cache.SetJSON(ctx, key, pc)
	}
	return pc, nil
}

// InvalidatePriceContext evicts the cached context after promotion edits. The
// next read rebuilds and revalidates the rule set from the stored rows.
func (s *Service) InvalidatePriceContext(ctx context.Context, productID uuid.UUID) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(ctx, contextCacheKey(productID))
}

// AvailableStock returns units on hand at a pharmacy.
func (s *Service) AvailableStock(ctx context.Context, pharmacyID, productID uuid.UUID) (int, error) {
	return s.store.GetAvailableStock(ctx, pharmacyID, productID)
}

// BuildRuleSet validates loose stored promotion rows into a rule set. A
// product holds at most one day rule per weekday, one seasonal rule, and one
// quantity rule; duplicates are a data fault, not a precedence question.
func BuildRuleSet(rows []repo.PromotionRow) (promo.RuleSet, error) {
	rs := promo.RuleSet{}
	for _, row := range rows {
		start, end, err := parseWindow(row.StartsOn, row.EndsOn)
		if err != nil {
			return promo.RuleSet{}, fmt.Errorf("promotion %s: %w", row.ID, err)
		}
		switch row.Kind {
		case "day":
			if row.Weekday == nil || *row.Weekday < 0 || *row.Weekday > 6 {
				return promo.RuleSet{}, fmt.Errorf("promotion %s: day rule needs a weekday 0..6", row.ID)
			}
			if row.Pct == nil {
				return promo.RuleSet{}, fmt.Errorf("promotion %s: day rule needs a percentage", row.ID)
			}
			day := time.Weekday(*row.Weekday)
			if rs.Days == nil {
				rs.Days = make(map[time.Weekday]promo.DayRule)
			}
			if _, dup := rs.Days[day]; dup {
				return promo.RuleSet{}, fmt.Errorf("promotion %s: duplicate day rule for %s", row.ID, day)
			}
			rs.Days[day] = promo.DayRule{
				Day:            day,
				Pct:            *row.Pct,
				Start:          start,
				End:            end,
				WalletEligible: row.WalletEligible,
			}
		case "seasonal":
			if row.Pct == nil {
				return promo.RuleSet{}, fmt.Errorf("promotion %s: seasonal rule needs a percentage", row.ID)
			}
			if rs.Seasonal != nil {
				return promo.RuleSet{}, fmt.Errorf("promotion %s: duplicate seasonal rule", row.ID)
			}
			rs.Seasonal = &promo.SeasonalRule{
				Pct:            *row.Pct,
				Start:          start,
				End:            end,
				WalletEligible: row.WalletEligible,
			}
		case "quantity":
			if row.RequiredCount == nil {
				return promo.RuleSet{}, fmt.Errorf("promotion %s: quantity rule needs a required count", row.ID)
			}
			if rs.Quantity != nil {
				return promo.RuleSet{}, fmt.Errorf("promotion %s: duplicate quantity rule", row.ID)
			}
			rs.Quantity = &promo.QuantityRule{
				RequiredCount: *row.RequiredCount,
				Start:         start,
				End:           end,
			}
		default:
			return promo.RuleSet{}, fmt.Errorf("promotion %s: unknown kind %q", row.ID, row.Kind)
		}
	}
	if err := rs.Validate(); err != nil {
		return promo.RuleSet{}, err
	}
	return rs, nil
}

func parseWindow(startsOn, endsOn *string) (time.Time, time.Time, error) {
	var start, end time.Time
	if startsOn != nil && *startsOn != "" {
		t, err := time.Parse(dateLayout, *startsOn)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid starts_on %q", *startsOn)
		}
		start = t
	}
	if endsOn != nil && *endsOn != "" {
		t, err := time.Parse(dateLayout, *endsOn)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid ends_on %q", *endsOn)
		}
		end = t
	}
	return start, end, nil
}

func contextCacheKey(productID uuid.UUID) string {
	return "catalog:price-context:" + productID.String()
}
