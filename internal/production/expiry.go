package production

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"caseclosed/backend/internal/domain"
	"caseclosed/backend/internal/logging"
	"caseclosed/backend/internal/store"
)

type OrderCanceller interface {
	CancelUnpaidOrder(ctx context.Context, id int64) (*domain.CaseOrder, error)
}

type OrderLister interface {
	ListCaseOrdersOrderedBefore(ctx context.Context, status domain.OrderStatus, cutoff domain.SimDate) ([]domain.CaseOrder, error)
}

// ExpiryJob cancels payment_pending orders older than the window.
type ExpiryJob struct {
	orders     OrderLister
	canceller  OrderCanceller
	windowDays int
	logger     logrus.FieldLogger
}

func NewExpiryJob(orders OrderLister, canceller OrderCanceller, windowDays int, logger logrus.FieldLogger) *ExpiryJob {
	if windowDays < 1 {
		windowDays = 7
	}
	return &ExpiryJob{
		orders:     orders,
		canceller:  canceller,
		windowDays: windowDays,
		logger:     logger.WithField("component", "order-expiry"),
	}
}

func (j *ExpiryJob) Name() string {
	return "order-expiry"
}

// Run keeps going when a single order fails and reports every failure at the end.
func (j *ExpiryJob) Run(ctx context.Context, today domain.SimDate) error {
	cutoff := today.AddDays(-j.windowDays)
	expired, err := j.orders.ListCaseOrdersOrderedBefore(ctx, domain.StatusPaymentPending, cutoff)
	if err != nil {
		return fmt.Errorf("list expired orders: %w", err)
	}

	var errs []error
	cancelled := 0
	for _, order := range expired {
		if _, err := j.canceller.CancelUnpaidOrder(ctx, order.ID); err != nil {
			if errors.Is(err, store.ErrInvalidTransition) {
				continue
			}
			logging.LogError(j.logger, moduleName, "ExpiryJob.Run", "cancel expired order failed", order.ID, err)
			errs = append(errs, fmt.Errorf("order %d: %w", order.ID, err))
			continue
		}
		cancelled++
	}

	if cancelled > 0 {
		j.logger.WithFields(logrus.Fields{
			"date":      today.String(),
			"cutoff":    cutoff.String(),
			"cancelled": cancelled,
		}).Info("expired orders cancelled")
	}
	return errors.Join(errs...)
}
