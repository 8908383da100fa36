package pricing

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"caseclosed/backend/internal/domain"
	"caseclosed/backend/internal/store/memory"
)

func TestSellingPriceRoundsOnce(t *testing.T) {
	// 0.5*10 + 0.75*12 = 14, *1.3 = 18.2
	got := SellingPrice(decimal.RequireFromString("0.5"), decimal.RequireFromString("0.75"), decimal.NewFromInt(10), decimal.NewFromInt(12), decimal.RequireFromString("1.3"))
	if !got.Equal(decimal.NewFromInt(18)) {
		t.Fatalf("expected 18, got %s", got)
	}
}

func TestSellingPriceHasFloor(t *testing.T) {
	got := SellingPrice(decimal.Zero, decimal.Zero, decimal.NewFromInt(10), decimal.NewFromInt(10), decimal.RequireFromString("1.3"))
	if !got.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected floor price 1, got %s", got)
	}
}

func TestCalculatorUsesPurchaseHistory(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	if _, err := repo.ReplaceEquipmentParameters(ctx, domain.EquipmentParameters{PlasticRatio: 100, AluminiumRatio: 150, ProductionRate: 200}); err != nil {
		t.Fatalf("set equipment: %v", err)
	}
	_, err := repo.CreateExternalOrder(ctx, domain.ExternalOrder{
		OrderReference: "po-plastic",
		OrderType:      domain.ExternalOrderMaterial,
		Items:          []domain.ExternalOrderItem{{StockType: domain.StockPlastic, OrderedUnits: 1000, PerUnitCost: decimal.NewFromInt(20)}},
	})
	if err != nil {
		t.Fatalf("create external order: %v", err)
	}

	calc := NewCalculator(repo, decimal.RequireFromString("1.3"), decimal.NewFromInt(10), decimal.NewFromInt(12))
	price, err := calc.UnitPrice(ctx)
	if err != nil {
		t.Fatalf("unit price: %v", err)
	}
	// plastic 0.5kg at 20 (history) + aluminium 0.75kg at 12 (default) = 19, *1.3 = 24.7
	if !price.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("expected 25, got %s", price)
	}
}
