package service

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"caseclosed/backend/internal/domain"
	"caseclosed/backend/internal/store"
)

const (
	MessagePaymentComplete = "Complete payment received"
	MessagePaymentPartial  = "Partial payment received"
	MessageCancelledRefund = "Order cancelled, refund issued"
)

// HandlePayment applies a bank payment notification. Notifications whose
// status is not "success" are ignored and return a nil result.
func (s *Service) HandlePayment(ctx context.Context, note domain.PaymentNotification) (*domain.PaymentResult, error) {
	if !strings.EqualFold(strings.TrimSpace(note.Status), domain.PaymentStatusSuccess) {
		return nil, nil
	}
	if note.Amount.IsNegative() {
		return nil, ErrInvalidAmount
	}

	id, err := parseOrderID(string(note.Description))
	if err != nil {
		return nil, store.ErrNotFound
	}
	// ApplyPayment rejects cancelled orders within the same write.
	updated, completed, err := s.repo.ApplyPayment(ctx, id, strings.TrimSpace(note.From), note.Amount)
	if errors.Is(err, store.ErrInvalidTransition) && updated != nil && updated.Status == domain.StatusOrderCancelled {
		return s.refundCancelledPayment(ctx, updated, note), nil
	}
	if err != nil {
		return nil, err
	}

	message := MessagePaymentPartial
	if updated.FullyPaid() {
		message = MessagePaymentComplete
	}
	s.logger.WithFields(logrus.Fields{
		"order_id":    updated.ID,
		"amount":      note.Amount.String(),
		"amount_paid": updated.AmountPaid.String(),
		"promoted":    completed,
	}).Info("payment applied")
	return &domain.PaymentResult{Order: updated, Message: message, Completed: completed}, nil
}

func (s *Service) refundCancelledPayment(ctx context.Context, order *domain.CaseOrder, note domain.PaymentNotification) *domain.PaymentResult {
	result := &domain.PaymentResult{Order: order, Message: MessageCancelledRefund}
	if note.From == "" || !note.Amount.IsPositive() {
		return result
	}
	if refunded, ok := s.refund(ctx, note.From, note.Amount, order.ID, "HandlePayment"); ok {
		result.Refunded = &refunded
	}
	return result
}

func parseOrderID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id < 1 {
		return 0, store.ErrNotFound
	}
	return id, nil
}
