package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/farmanova/backend-pos/internal/common"
	"github.com/farmanova/backend-pos/internal/money"
	"github.com/farmanova/backend-pos/internal/repo"
)

type fakeStore struct {
	products   map[uuid.UUID]repo.Product
	promotions map[uuid.UUID][]repo.PromotionRow
	stock      map[uuid.UUID]int
}

func (f *fakeStore) GetProduct(_ context.Context, id uuid.UUID) (repo.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return repo.Product{}, repo.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) ListPromotions(_ context.Context, productID uuid.UUID) ([]repo.PromotionRow, error) {
	return f.promotions[productID], nil
}

func (f *fakeStore) GetAvailableStock(_ context.Context, _, productID uuid.UUID) (int, error) {
	return f.stock[productID], nil
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
func pctPtr(s string) *money.Amount {
	v := money.MustFromString(s)
	return &v
}

func TestBuildRuleSetFull(t *testing.T) {
	productID := uuid.New()
	rows := []repo.PromotionRow{
		{ID: uuid.New(), ProductID: productID, Kind: "day", Weekday: intPtr(2), Pct: pctPtr("10"), WalletEligible: true},
		{ID: uuid.New(), ProductID: productID, Kind: "seasonal", Pct: pctPtr("15"), StartsOn: strPtr("2026-08-01"), EndsOn: strPtr("2026-08-31")},
		{ID: uuid.New(), ProductID: productID, Kind: "quantity", RequiredCount: intPtr(3)},
	}
	rs, err := BuildRuleSet(rows)
	if err != nil {
		t.Fatalf("BuildRuleSet: %v", err)
	}
	day, ok := rs.Days[time.Tuesday]
	if !ok {
		t.Fatal("missing tuesday rule")
	}
	if !day.WalletEligible || day.Pct.StringFixed(0) != "10" {
		t.Fatalf("tuesday rule = %+v", day)
	}
	if rs.Seasonal == nil || rs.Seasonal.Start.Format("2006-01-02") != "2026-08-01" {
		t.Fatalf("seasonal rule = %+v", rs.Seasonal)
	}
	if rs.Quantity == nil || rs.Quantity.RequiredCount != 3 {
		t.Fatalf("quantity rule = %+v", rs.Quantity)
	}
}

func TestBuildRuleSetRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		row  repo.PromotionRow
	}{
		{"unknown kind", repo.PromotionRow{ID: uuid.New(), Kind: "bogo"}},
		{"day without weekday", repo.PromotionRow{ID: uuid.New(), Kind: "day", Pct: pctPtr("10")}},
		{"day weekday out of range", repo.PromotionRow{ID: uuid.New(), Kind: "day", Weekday: intPtr(9), Pct: pctPtr("10")}},
		{"seasonal without pct", repo.PromotionRow{ID: uuid.New(), Kind: "seasonal"}},
		{"quantity without count", repo.PromotionRow{ID: uuid.New(), Kind: "quantity"}},
		{"quantity count too low", repo.PromotionRow{ID: uuid.New(), Kind: "quantity", RequiredCount: intPtr(1)}},
		{"pct above hundred", repo.PromotionRow{ID: uuid.New(), Kind: "seasonal", Pct: pctPtr("101")}},
		{"bad window date", repo.PromotionRow{ID: uuid.New(), Kind: "seasonal", Pct: pctPtr("10"), StartsOn: strPtr("08/01/2026")}},
		{"inverted window", repo.PromotionRow{ID: uuid.New(), Kind: "seasonal", Pct: pctPtr("10"), StartsOn: strPtr("2026-09-01"), EndsOn: strPtr("2026-08-01")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := BuildRuleSet([]repo.PromotionRow{tc.row}); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestBuildRuleSetRejectsDuplicates(t *testing.T) {
	if _, err := BuildRuleSet([]repo.PromotionRow{
		{ID: uuid.New(), Kind: "day", Weekday: intPtr(2), Pct: pctPtr("10")},
		{ID: uuid.New(), Kind: "day", Weekday: intPtr(2), Pct: pctPtr("20")},
	}); err == nil {
		t.Fatal("duplicate day rule accepted")
	}
	if _, err := BuildRuleSet([]repo.PromotionRow{
		{ID: uuid.New(), Kind: "seasonal", Pct: pctPtr("10")},
		{ID: uuid.New(), Kind: "seasonal", Pct: pctPtr("20")},
	}); err == nil {
		t.Fatal("duplicate seasonal rule accepted")
	}
}

func TestPriceContextNotFound(t *testing.T) {
	svc, err := NewService(ServiceConfig{Store: &fakeStore{products: map[uuid.UUID]repo.Product{}}})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	_, err = svc.PriceContext(context.Background(), uuid.New())
	var appErr *common.AppError
	if !errors.As(err, &appErr) || appErr.Code != "NOT_FOUND" {
		t.Fatalf("err = %v, want NOT_FOUND app error", err)
	}
}

func TestPriceContextMalformedRulesSurface(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{
		products: map[uuid.UUID]repo.Product{
			id: {ID: id, Name: "Ibuprofeno 400mg", Category: "Analgésicos", BasePrice: money.MustFromString("45.00")},
		},
		promotions: map[uuid.UUID][]repo.PromotionRow{
			id: {{ID: uuid.New(), ProductID: id, Kind: "bogo"}},
		},
	}
	svc, err := NewService(ServiceConfig{Store: store})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	_, err = svc.PriceContext(context.Background(), id)
	var appErr *common.AppError
	if !errors.As(err, &appErr) || appErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("err = %v, want VALIDATION_ERROR app error", err)
	}
}

func TestPriceContextLoadsProductWithRules(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{
		products: map[uuid.UUID]repo.Product{
			id: {ID: id, Name: "Omeprazol 20mg", Category: "Gastro", BasePrice: money.MustFromString("89.50"), SeniorEligible: true},
		},
		promotions: map[uuid.UUID][]repo.PromotionRow{
			id: {{ID: uuid.New(), ProductID: id, Kind: "seasonal", Pct: pctPtr("15"), WalletEligible: true}},
		},
	}
	svc, err := NewService(ServiceConfig{Store: store})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	pc, err := svc.PriceContext(context.Background(), id)
	if err != nil {
		t.Fatalf("PriceContext: %v", err)
	}
	if pc.Name != "Omeprazol 20mg" || !pc.SeniorEligible {
		t.Fatalf("context = %+v", pc)
	}
	if pc.Rules.Seasonal == nil || !pc.Rules.Seasonal.WalletEligible {
		t.Fatalf("rules = %+v", pc.Rules)
	}
}

func TestInvalidatePriceContextEvictsCache(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	id := uuid.New()
	store := &fakeStore{
		products: map[uuid.UUID]repo.Product{
			id: {ID: id, Name: "Ibuprofeno 400mg", BasePrice: money.MustFromString("50.00")},
		},
	}
	svc, err := NewService(ServiceConfig{Store: store, Cache: NewCache(client, time.Minute)})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()
	if _, err := svc.PriceContext(ctx, id); err != nil {
		t.Fatalf("PriceContext: %v", err)
	}
	if !mr.Exists(contextCacheKey(id)) {
		t.Fatal("price context was not cached")
	}

	// A promotion or price edit is invisible while the cached copy lives.
	store.products[id] = repo.Product{ID: id, Name: "Ibuprofeno 400mg", BasePrice: money.MustFromString("45.00")}
	pc, err := svc.PriceContext(ctx, id)
	if err != nil {
		t.Fatalf("PriceContext: %v", err)
	}
	if !pc.BasePrice.Equal(money.MustFromString("50.00")) {
		t.Fatalf("base price = %s, want the cached 50.00", pc.BasePrice)
	}

	if err := svc.InvalidatePriceContext(ctx, id); err != nil {
		t.Fatalf("InvalidatePriceContext: %v", err)
	}
	pc, err = svc.PriceContext(ctx, id)
	if err != nil {
		t.Fatalf("PriceContext after eviction: %v", err)
	}
	if !pc.BasePrice.Equal(money.MustFromString("45.00")) {
		t.Fatalf("base price = %s, want the fresh 45.00", pc.BasePrice)
	}
}

func TestInvalidatePriceContextWithoutCache(t *testing.T) {
	svc, err := NewService(ServiceConfig{Store: &fakeStore{}})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.InvalidatePriceContext(context.Background(), uuid.New()); err != nil {
		t.Fatalf("InvalidatePriceContext without cache: %v", err)
	}
}
