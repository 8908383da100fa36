package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

func init() {
	// Money fields go over the wire as JSON numbers, not quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// OrderStatus is compared by id only; the name is derived from the registry.
type OrderStatus int

const (
	StatusPaymentPending OrderStatus = 1
	StatusPickupPending  OrderStatus = 2
	StatusOrderComplete  OrderStatus = 3
	StatusOrderCancelled OrderStatus = 4
)

var orderStatusNames = map[OrderStatus]string{
	StatusPaymentPending: "payment_pending",
	StatusPickupPending:  "pickup_pending",
	StatusOrderComplete:  "order_complete",
	StatusOrderCancelled: "order_cancelled",
}

type OrderStatusInfo struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func OrderStatuses() []OrderStatusInfo {
	out := make([]OrderStatusInfo, 0, len(orderStatusNames))
	for _, s := range []OrderStatus{StatusPaymentPending, StatusPickupPending, StatusOrderComplete, StatusOrderCancelled} {
		out = append(out, OrderStatusInfo{ID: int(s), Name: s.Name()})
	}
	return out
}

func ParseOrderStatus(name string) (OrderStatus, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for status, statusName := range orderStatusNames {
		if statusName == name {
			return status, nil
		}
	}
	return 0, fmt.Errorf("unknown order status %q", name)
}

func (s OrderStatus) Name() string {
	if name, ok := orderStatusNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s OrderStatus) Valid() bool {
	_, ok := orderStatusNames[s]
	return ok
}

// Open orders still hold a reservation against case stock.
func (s OrderStatus) Open() bool {
	return s == StatusPaymentPending || s == StatusPickupPending
}

func (s OrderStatus) Terminal() bool {
	return s == StatusOrderComplete || s == StatusOrderCancelled
}

func (s OrderStatus) String() string {
	return s.Name()
}

type CaseOrder struct {
	ID                int64           `json:"id" db:"id"`
	Status            OrderStatus     `json:"order_status_id" db:"order_status_id"`
	Quantity          int             `json:"quantity" db:"quantity"`
	QuantityDelivered int             `json:"quantity_delivered" db:"quantity_delivered"`
	TotalPrice        decimal.Decimal `json:"total_price" db:"total_price"`
	AmountPaid        decimal.Decimal `json:"amount_paid" db:"amount_paid"`
	AccountNumber     string          `json:"account_number,omitempty" db:"account_number"`
	OrderedAt         SimDate         `json:"ordered_at" db:"ordered_at"`
}

// MarshalJSON adds the resolved status name next to the id.
func (o CaseOrder) MarshalJSON() ([]byte, error) {
	type plain CaseOrder
	return json.Marshal(struct {
		plain
		StatusName string `json:"status"`
	}{plain: plain(o), StatusName: o.Status.Name()})
}

func (o CaseOrder) Outstanding() int {
	return o.Quantity - o.QuantityDelivered
}

func (o CaseOrder) FullyDelivered() bool {
	return o.QuantityDelivered >= o.Quantity
}

func (o CaseOrder) FullyPaid() bool {
	return o.AmountPaid.GreaterThanOrEqual(o.TotalPrice)
}

// Reserved is the number of case units this order still holds back from sale.
func (o CaseOrder) Reserved() int {
	if !o.Status.Open() {
		return 0
	}
	if out := o.Outstanding(); out > 0 {
		return out
	}
	return 0
}

// PaymentResult describes what a payment notification did to an order.
type PaymentResult struct {
	Order     *CaseOrder       `json:"order,omitempty"`
	Message   string           `json:"message"`
	Completed bool             `json:"-"`
	Refunded  *decimal.Decimal `json:"refunded,omitempty"`
}
