package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"caseclosed/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrNoStockAvailable   = errors.New("no stock available")
	ErrInvalidTransition  = errors.New("invalid order status transition")
	ErrQuantityExceeded   = errors.New("quantity exceeds outstanding order quantity")
	ErrAlreadyReceived    = errors.New("external order already received")
	ErrInvalidTransaction = errors.New("invalid transaction")
)

// StockLedger holds the on-hand units for every stock type.
type StockLedger interface {
	GetStock(ctx context.Context, stockType domain.StockType) (domain.StockLevel, error)
	ListStock(ctx context.Context) ([]domain.StockLevel, error)
	IncreaseStock(ctx context.Context, stockType domain.StockType, units int) (domain.StockLevel, error)
	// DecrementStock removes units. A flexible decrement clamps to what is on hand
	// and reports how many units were actually removed.
	DecrementStock(ctx context.Context, stockType domain.StockType, units int, flexible bool) (domain.StockLevel, int, error)
	GetCaseReservation(ctx context.Context) (domain.CaseReservation, error)
	// ApplyProduction consumes materials and adds cases in one step.
	ApplyProduction(ctx context.Context, batch domain.ProductionBatch) error
}

type CaseOrderStore interface {
	// CreateCaseOrder re-checks case availability atomically with the insert.
	CreateCaseOrder(ctx context.Context, order domain.CaseOrder) (*domain.CaseOrder, error)
	GetCaseOrder(ctx context.Context, id int64) (*domain.CaseOrder, error)
	// ListCaseOrders returns newest first. A zero status lists every order.
	ListCaseOrders(ctx context.Context, status domain.OrderStatus, limit int) ([]domain.CaseOrder, error)
	ListCaseOrdersOrderedBefore(ctx context.Context, status domain.OrderStatus, cutoff domain.SimDate) ([]domain.CaseOrder, error)
	TransitionCaseOrder(ctx context.Context, id int64, from domain.OrderStatus, to domain.OrderStatus) (*domain.CaseOrder, error)
	// ApplyPayment adds amount to the order and promotes it to pickup_pending once fully paid.
	// A cancelled order is left untouched and returned with ErrInvalidTransition.
	ApplyPayment(ctx context.Context, id int64, account string, amount decimal.Decimal) (*domain.CaseOrder, bool, error)
	// RecordPickup ships units out of case stock and completes the order once fully delivered.
	RecordPickup(ctx context.Context, id int64, units int) (*domain.CaseOrder, error)
}

type ExternalOrderStore interface {
	CreateExternalOrder(ctx context.Context, order domain.ExternalOrder) (*domain.ExternalOrder, error)
	GetExternalOrderByReference(ctx context.Context, orderReference string) (*domain.ExternalOrder, error)
	GetExternalOrderByShipment(ctx context.Context, shipmentReference string) (*domain.ExternalOrder, error)
	SetShipmentReference(ctx context.Context, orderReference string, shipmentReference string) error
	ReceiveExternalOrder(ctx context.Context, shipmentReference string, adjustment domain.StockAdjustment, at time.Time) (*domain.ExternalOrder, error)
	// MaterialCostAverages returns the unit-weighted cost over the most recent purchases per material.
	MaterialCostAverages(ctx context.Context, recent int) (map[domain.StockType]decimal.Decimal, error)
}

type SettingsStore interface {
	GetEquipmentParameters(ctx context.Context) (domain.EquipmentParameters, error)
	ReplaceEquipmentParameters(ctx context.Context, params domain.EquipmentParameters) (domain.EquipmentParameters, error)
	GetBankDetails(ctx context.Context) (*domain.BankDetails, error)
	SaveBankDetails(ctx context.Context, details domain.BankDetails) error
}

type Repository interface {
	StockLedger
	CaseOrderStore
	ExternalOrderStore
	SettingsStore
}

// PlanDecrement returns how many units a decrement actually removes from onHand.
func PlanDecrement(onHand int, units int, flexible bool) (int, error) {
	if flexible {
		if onHand <= 0 {
			return 0, ErrNoStockAvailable
		}
		if units > onHand {
			return onHand, nil
		}
		return units, nil
	}
	if onHand < units {
		return 0, ErrInsufficientStock
	}
	return units, nil
}
