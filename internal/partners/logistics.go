package partners

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const CompanyName = "case-supplier"

type PickupItem struct {
	Name     string `json:"itemName"`
	Quantity int    `json:"quantity"`
}

// PickupRequest asks logistics to collect goods we bought and bring them to us.
type PickupRequest struct {
	OrderReference string       `json:"originalExternalOrderId"`
	Origin         string       `json:"originCompany"`
	Destination    string       `json:"destinationCompany"`
	Items          []PickupItem `json:"items"`
}

type PickupConfirmation struct {
	ShipmentReference string
	Cost              decimal.Decimal
	AccountNumber     string
}

type Logistics interface {
	CreatePickupRequest(ctx context.Context, req PickupRequest) (PickupConfirmation, error)
}

type LogisticsClient struct {
	httpClient
}

func NewLogisticsClient(baseURL string, retry Retry, logger logrus.FieldLogger) *LogisticsClient {
	return &LogisticsClient{httpClient: newHTTPClient(baseURL, retry, logger)}
}

// CreatePickupRequest makes a single attempt; the queue worker owns retries.
func (c *LogisticsClient) CreatePickupRequest(ctx context.Context, req PickupRequest) (PickupConfirmation, error) {
	var resp struct {
		PickupRequestID   any             `json:"pickupRequestId"`
		Cost              decimal.Decimal `json:"cost"`
		BankAccountNumber string          `json:"bankAccountNumber"`
	}
	if err := c.once(ctx, http.MethodPost, "/pickup-request", req, &resp); err != nil {
		return PickupConfirmation{}, err
	}
	if resp.PickupRequestID == nil {
		return PickupConfirmation{}, ErrMalformed
	}
	return PickupConfirmation{
		ShipmentReference: fmt.Sprint(resp.PickupRequestID),
		Cost:              resp.Cost,
		AccountNumber:     resp.BankAccountNumber,
	}, nil
}
