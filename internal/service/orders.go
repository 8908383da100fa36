package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"caseclosed/backend/internal/domain"
	"caseclosed/backend/internal/logging"
	"caseclosed/backend/internal/store"
)

func (s *Service) CreateOrder(ctx context.Context, quantity int) (domain.CreateOrderResponse, error) {
	if quantity <= 0 || quantity%CaseLotSize != 0 {
		return domain.CreateOrderResponse{}, ErrInvalidQuantity
	}

	available, err := s.AvailableCaseUnits(ctx)
	if err != nil {
		return domain.CreateOrderResponse{}, err
	}
	if quantity > available {
		return domain.CreateOrderResponse{}, store.ErrInsufficientStock
	}

	unitPrice, err := s.pricer.UnitPrice(ctx)
	if err != nil {
		return domain.CreateOrderResponse{}, fmt.Errorf("price order: %w", err)
	}
	accountNumber, err := s.accounts.AccountNumber(ctx)
	if err != nil {
		return domain.CreateOrderResponse{}, err
	}

	// The store re-checks availability inside the insert.
	created, err := s.repo.CreateCaseOrder(ctx, domain.CaseOrder{
		Quantity:   quantity,
		TotalPrice: unitPrice.Mul(decimal.NewFromInt(int64(quantity))),
		OrderedAt:  s.calendar.Today(),
	})
	if err != nil {
		return domain.CreateOrderResponse{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"order_id":    created.ID,
		"quantity":    created.Quantity,
		"total_price": created.TotalPrice.String(),
	}).Info("case order created")
	return domain.CreateOrderResponse{Order: created, AccountNumber: accountNumber}, nil
}

func (s *Service) GetOrder(ctx context.Context, id int64) (*domain.CaseOrder, error) {
	return s.repo.GetCaseOrder(ctx, id)
}

// ListOrders filters by status name; an empty name lists every order.
func (s *Service) ListOrders(ctx context.Context, statusName string, limit int) ([]domain.CaseOrder, error) {
	var status domain.OrderStatus
	if strings.TrimSpace(statusName) != "" {
		parsed, err := domain.ParseOrderStatus(statusName)
		if err != nil {
			return nil, store.ErrInvalidTransaction
		}
		status = parsed
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListCaseOrders(ctx, status, limit)
}

// CancelUnpaidOrder cancels a payment_pending order and refunds part of
// whatever was already paid. Refund failures do not undo the cancellation.
func (s *Service) CancelUnpaidOrder(ctx context.Context, id int64) (*domain.CaseOrder, error) {
	cancelled, err := s.repo.TransitionCaseOrder(ctx, id, domain.StatusPaymentPending, domain.StatusOrderCancelled)
	if err != nil {
		return nil, err
	}
	s.logger.WithField("order_id", id).Info("case order cancelled")

	if cancelled.AmountPaid.IsPositive() && cancelled.AccountNumber != "" {
		s.refund(ctx, cancelled.AccountNumber, cancelled.AmountPaid, cancelled.ID, "CancelUnpaidOrder")
	}
	return cancelled, nil
}

// MarkPaid settles the outstanding balance of a payment_pending order.
func (s *Service) MarkPaid(ctx context.Context, id int64) (*domain.CaseOrder, error) {
	order, err := s.repo.GetCaseOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.StatusPaymentPending {
		return nil, store.ErrInvalidTransition
	}

	remaining := order.TotalPrice.Sub(order.AmountPaid)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	updated, completed, err := s.repo.ApplyPayment(ctx, id, order.AccountNumber, remaining)
	if err != nil {
		return nil, err
	}
	if !completed {
		return s.repo.TransitionCaseOrder(ctx, id, domain.StatusPaymentPending, domain.StatusPickupPending)
	}
	return updated, nil
}

// MarkPickedUp ships everything still outstanding on a pickup_pending order.
func (s *Service) MarkPickedUp(ctx context.Context, id int64) (*domain.CaseOrder, error) {
	order, err := s.repo.GetCaseOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.StatusPickupPending || order.Outstanding() <= 0 {
		return nil, store.ErrInvalidTransition
	}
	return s.repo.RecordPickup(ctx, id, order.Outstanding())
}

// refund pays back RefundRate of paid. ok is false when the bank refused, in
// which case nothing was refunded.
func (s *Service) refund(ctx context.Context, account string, paid decimal.Decimal, orderID int64, funcName string) (amount decimal.Decimal, ok bool) {
	amount = paid.Mul(RefundRate).Round(2)
	description := fmt.Sprintf("Refund for order %d", orderID)
	if err := s.bank.MakePayment(ctx, account, amount, description); err != nil {
		logging.LogError(s.logger, moduleName, funcName, "refund failed", map[string]any{
			"order_id": orderID,
			"account":  account,
			"amount":   amount.String(),
		}, err)
		return decimal.Zero, false
	}
	s.logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"amount":   amount.String(),
	}).Info("refund issued")
	return amount, true
}
