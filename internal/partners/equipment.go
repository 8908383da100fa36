package partners

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"caseclosed/backend/internal/domain"
)

// MachineOffer is a machine model listed by the equipment catalog.
type MachineOffer struct {
	Name       string
	Price      decimal.Decimal
	Available  int
	Parameters domain.EquipmentParameters
}

type EquipmentCatalog interface {
	MachinesForSale(ctx context.Context) ([]MachineOffer, error)
	OrderMachine(ctx context.Context, name string, quantity int) (PurchaseOrder, error)
}

type EquipmentClient struct {
	httpClient
}

func NewEquipmentClient(baseURL string, retry Retry, logger logrus.FieldLogger) *EquipmentClient {
	return &EquipmentClient{httpClient: newHTTPClient(baseURL, retry, logger)}
}

type machineListing struct {
	MachineName    string          `json:"machineName"`
	Quantity       int             `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
	Weight         int             `json:"weight"`
	PlasticRatio   int             `json:"plasticRatio"`
	AluminiumRatio int             `json:"aluminiumRatio"`
	ProductionRate int             `json:"productionRate"`
}

func (c *EquipmentClient) MachinesForSale(ctx context.Context) ([]MachineOffer, error) {
	var resp struct {
		Machines []machineListing `json:"machines"`
	}
	if err := c.call(ctx, http.MethodGet, "/machines", nil, &resp); err != nil {
		return nil, err
	}
	offers := make([]MachineOffer, 0, len(resp.Machines))
	for _, m := range resp.Machines {
		offers = append(offers, MachineOffer{
			Name:      m.MachineName,
			Price:     m.Price,
			Available: m.Quantity,
			Parameters: domain.EquipmentParameters{
				PlasticRatio:      m.PlasticRatio,
				AluminiumRatio:    m.AluminiumRatio,
				ProductionRate:    m.ProductionRate,
				CaseMachineWeight: m.Weight,
			},
		})
	}
	return offers, nil
}

func (c *EquipmentClient) OrderMachine(ctx context.Context, name string, quantity int) (PurchaseOrder, error) {
	var resp struct {
		OrderID     any             `json:"orderId"`
		TotalPrice  decimal.Decimal `json:"totalPrice"`
		BankAccount string          `json:"bankAccount"`
	}
	err := c.call(ctx, http.MethodPost, "/machines", map[string]any{
		"machineName": name,
		"quantity":    quantity,
	}, &resp)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if resp.OrderID == nil {
		return PurchaseOrder{}, ErrMalformed
	}
	return PurchaseOrder{
		OrderReference: fmt.Sprintf("equipment-%v", resp.OrderID),
		Supplier:       "equipment",
		AccountNumber:  resp.BankAccount,
		TotalPrice:     resp.TotalPrice,
		PickupFrom:     "equipment",
	}, nil
}
