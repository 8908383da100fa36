package domain

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

type CreateOrderRequest struct {
	Quantity int `json:"quantity"`
}

type CreateOrderResponse struct {
	Order         *CaseOrder `json:"order"`
	AccountNumber string     `json:"account_number"`
}

// PaymentNotification is posted by the bank for every transfer into our account.
// Description carries the case order id.
type PaymentNotification struct {
	Description FlexibleID      `json:"description"`
	From        string          `json:"from"`
	To          string          `json:"to,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	Reference   string          `json:"reference,omitempty"`
	Timestamp   any             `json:"timestamp,omitempty"`
}

const PaymentStatusSuccess = "success"

// FlexibleID accepts either a JSON string or a JSON number.
type FlexibleID string

func (id *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FlexibleID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = FlexibleID(n.String())
	return nil
}

const (
	LogisticsDelivery = "DELIVERY"
	LogisticsPickup   = "PICKUP"
)

type LogisticsNotification struct {
	ID    FlexibleID      `json:"id" validate:"required"`
	Type  string          `json:"type" validate:"required,oneof=DELIVERY PICKUP"`
	Items []LogisticsItem `json:"items" validate:"len=1,dive"`
}

type LogisticsItem struct {
	Name     string `json:"name" validate:"required"`
	Quantity int    `json:"quantity" validate:"gte=0"`
}

type LogisticsResult struct {
	Message string     `json:"message"`
	Order   *CaseOrder `json:"order,omitempty"`
	Units   int        `json:"units,omitempty"`
}

type MachineFailureRequest struct {
	MachineName     string `json:"machineName" validate:"required"`
	FailureQuantity int    `json:"failureQuantity" validate:"gte=0"`
	SimulationDate  string `json:"simulationDate"`
	SimulationTime  string `json:"simulationTime"`
}

type MachineFailureResult struct {
	Message        string `json:"message"`
	UnitsRemoved   int    `json:"units_removed"`
	MachinesOnHand int    `json:"machines_on_hand"`
}

type ResumeSimulationRequest struct {
	Date string `json:"date" validate:"required"`
}

type SimulationStatus struct {
	Running        bool    `json:"running"`
	Date           SimDate `json:"date"`
	DaysSinceStart int     `json:"days_since_start"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}
