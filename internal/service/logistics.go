package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"caseclosed/backend/internal/domain"
	"caseclosed/backend/internal/store"
)

// HandleLogistics applies a DELIVERY (goods we bought arrive) or PICKUP
// (a customer's cases leave) notification.
func (s *Service) HandleLogistics(ctx context.Context, note domain.LogisticsNotification) (domain.LogisticsResult, error) {
	if len(note.Items) != 1 {
		return domain.LogisticsResult{}, store.ErrInvalidTransaction
	}
	item := note.Items[0]

	switch strings.ToUpper(note.Type) {
	case domain.LogisticsDelivery:
		return s.handleDelivery(ctx, string(note.ID), item)
	case domain.LogisticsPickup:
		id, err := parseOrderID(string(note.ID))
		if err != nil {
			return domain.LogisticsResult{}, err
		}
		return s.handlePickup(ctx, id, item.Quantity)
	}
	return domain.LogisticsResult{}, store.ErrInvalidTransaction
}

func (s *Service) handleDelivery(ctx context.Context, shipmentReference string, item domain.LogisticsItem) (domain.LogisticsResult, error) {
	order, err := s.repo.GetExternalOrderByShipment(ctx, shipmentReference)
	if err != nil {
		return domain.LogisticsResult{}, err
	}
	if order.Received() {
		return domain.LogisticsResult{}, store.ErrAlreadyReceived
	}

	var adjustment domain.StockAdjustment
	switch order.OrderType {
	case domain.ExternalOrderMachine:
		params, err := s.repo.GetEquipmentParameters(ctx)
		if err != nil {
			return domain.LogisticsResult{}, err
		}
		adjustment = domain.StockAdjustment{Type: domain.StockMachine, Units: params.MachinesForWeight(item.Quantity)}
	default:
		material, err := domain.ParseStockType(item.Name)
		if err != nil || !material.IsMaterial() {
			return domain.LogisticsResult{}, fmt.Errorf("%q: %w", item.Name, ErrUnknownItem)
		}
		adjustment = domain.StockAdjustment{Type: material, Units: item.Quantity}
	}

	if _, err := s.repo.ReceiveExternalOrder(ctx, shipmentReference, adjustment, s.now()); err != nil {
		return domain.LogisticsResult{}, err
	}
	s.logger.WithFields(logrus.Fields{
		"shipment_reference": shipmentReference,
		"stock_type":         adjustment.Type,
		"units":              adjustment.Units,
	}).Info("delivery received")
	return domain.LogisticsResult{Message: "Delivery received", Units: adjustment.Units}, nil
}

func (s *Service) handlePickup(ctx context.Context, id int64, quantity int) (domain.LogisticsResult, error) {
	if quantity <= 0 {
		return domain.LogisticsResult{}, store.ErrInvalidTransaction
	}
	order, err := s.repo.RecordPickup(ctx, id, quantity)
	if err != nil {
		return domain.LogisticsResult{}, err
	}

	message := "Pickup recorded"
	if order.Status == domain.StatusOrderComplete {
		message = "Order complete"
	}
	s.logger.WithFields(logrus.Fields{
		"order_id":           order.ID,
		"units":              quantity,
		"quantity_delivered": order.QuantityDelivered,
	}).Info("pickup recorded")
	return domain.LogisticsResult{Message: message, Order: order, Units: quantity}, nil
}

// ReportMachineFailure removes broken machines from stock. The reported count
// is clamped to what is on hand.
func (s *Service) ReportMachineFailure(ctx context.Context, req domain.MachineFailureRequest) (domain.MachineFailureResult, error) {
	if strings.ToLower(strings.TrimSpace(req.MachineName)) != s.machineName {
		return domain.MachineFailureResult{}, fmt.Errorf("%q: %w", req.MachineName, ErrUnknownMachine)
	}
	if req.FailureQuantity < 0 {
		return domain.MachineFailureResult{}, store.ErrInvalidTransaction
	}

	level, removed, err := s.repo.DecrementStock(ctx, domain.StockMachine, req.FailureQuantity, true)
	if errors.Is(err, store.ErrNoStockAvailable) {
		return domain.MachineFailureResult{Message: "No machines in stock"}, nil
	}
	if err != nil {
		return domain.MachineFailureResult{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"reported": req.FailureQuantity,
		"removed":  removed,
		"on_hand":  level.TotalUnits,
	}).Warn("machine failure recorded")
	return domain.MachineFailureResult{
		Message:        "Machine failure recorded",
		UnitsRemoved:   removed,
		MachinesOnHand: level.TotalUnits,
	}, nil
}
