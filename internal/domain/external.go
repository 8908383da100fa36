package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ExternalOrderType string

const (
	ExternalOrderMaterial ExternalOrderType = "material"
	ExternalOrderMachine  ExternalOrderType = "machine"
)

// ExternalOrder is an inbound purchase of materials or machines from a supplier.
type ExternalOrder struct {
	ID                int64               `json:"id" db:"id"`
	OrderReference    string              `json:"order_reference" db:"order_reference"`
	Supplier          string              `json:"supplier" db:"supplier"`
	TotalCost         decimal.Decimal     `json:"total_cost" db:"total_cost"`
	OrderType         ExternalOrderType   `json:"order_type" db:"order_type"`
	ShipmentReference string              `json:"shipment_reference,omitempty" db:"shipment_reference"`
	OrderedAt         SimDate             `json:"ordered_at" db:"ordered_at"`
	ReceivedAt        *time.Time          `json:"received_at,omitempty" db:"received_at"`
	Items             []ExternalOrderItem `json:"items" db:"-"`
}

func (o ExternalOrder) Received() bool {
	return o.ReceivedAt != nil
}

type ExternalOrderItem struct {
	StockType    StockType       `json:"stock_type" db:"stock_type"`
	OrderedUnits int             `json:"ordered_units" db:"ordered_units"`
	PerUnitCost  decimal.Decimal `json:"per_unit_cost" db:"per_unit_cost"`
}

// StockAdjustment is a signed change to a single ledger row.
type StockAdjustment struct {
	Type  StockType `json:"stock_type"`
	Units int       `json:"units"`
}

// BankDetails caches the company's own bank account as last seen.
type BankDetails struct {
	AccountNumber  string          `json:"account_number" db:"account_number"`
	AccountBalance decimal.Decimal `json:"account_balance" db:"account_balance"`
}
