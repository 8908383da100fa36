package pricing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"caseclosed/backend/internal/domain"
)

// RecentPurchases is the number of latest purchases per material that feed the cost average.
const RecentPurchases = 10

type CostSource interface {
	MaterialCostAverages(ctx context.Context, recent int) (map[domain.StockType]decimal.Decimal, error)
	GetEquipmentParameters(ctx context.Context) (domain.EquipmentParameters, error)
}

// Calculator prices a case from what its materials recently cost us.
type Calculator struct {
	source   CostSource
	markup   decimal.Decimal
	defaults map[domain.StockType]decimal.Decimal
}

func NewCalculator(source CostSource, markup decimal.Decimal, plasticCost decimal.Decimal, aluminiumCost decimal.Decimal) *Calculator {
	if !markup.IsPositive() {
		markup = decimal.RequireFromString("1.3")
	}
	return &Calculator{
		source: source,
		markup: markup,
		defaults: map[domain.StockType]decimal.Decimal{
			domain.StockPlastic:   plasticCost,
			domain.StockAluminium: aluminiumCost,
		},
	}
}

// UnitPrice returns the selling price of one case, rounded once to a whole
// currency unit and never below one.
func (c *Calculator) UnitPrice(ctx context.Context) (decimal.Decimal, error) {
	params, err := c.source.GetEquipmentParameters(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("load equipment parameters: %w", err)
	}
	averages, err := c.source.MaterialCostAverages(ctx, RecentPurchases)
	if err != nil {
		return decimal.Zero, fmt.Errorf("load material costs: %w", err)
	}

	plasticPerCase, aluminiumPerCase := params.MaterialPerCase()
	return SellingPrice(plasticPerCase, aluminiumPerCase, c.cost(averages, domain.StockPlastic), c.cost(averages, domain.StockAluminium), c.markup), nil
}

func (c *Calculator) cost(averages map[domain.StockType]decimal.Decimal, material domain.StockType) decimal.Decimal {
	if avg, ok := averages[material]; ok && avg.IsPositive() {
		return avg
	}
	return c.defaults[material]
}

// SellingPrice is the deterministic core of the pricing function.
func SellingPrice(plasticPerCase, aluminiumPerCase, plasticCost, aluminiumCost, markup decimal.Decimal) decimal.Decimal {
	unitCost := plasticPerCase.Mul(plasticCost).Add(aluminiumPerCase.Mul(aluminiumCost))
	price := unitCost.Mul(markup).Round(0)
	if price.LessThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return price
}
