package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"caseclosed/backend/internal/logging"
	"caseclosed/backend/internal/partners"
	"caseclosed/backend/internal/store"
	"caseclosed/backend/internal/xid"
)

const moduleName = "queue"

// MaxRedeliveries bounds how many times a message is put back after its
// in-process retries are exhausted.
const MaxRedeliveries = 3

type Worker struct {
	queue     Queue
	orders    store.ExternalOrderStore
	logistics partners.Logistics
	bank      partners.Bank
	retry     partners.Retry
	logger    logrus.FieldLogger
	now       func() time.Time
}

func NewWorker(q Queue, orders store.ExternalOrderStore, logistics partners.Logistics, bank partners.Bank, retry partners.Retry, logger logrus.FieldLogger) *Worker {
	return &Worker{
		queue:     q,
		orders:    orders,
		logistics: logistics,
		bank:      bank,
		retry:     retry,
		logger:    logger.WithField("component", "pickup-worker"),
		now:       time.Now,
	}
}

// Run polls until ctx is cancelled or the queue closes.
func (w *Worker) Run(ctx context.Context) error {
	failures := 0
	for {
		delivery, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				return nil
			}
			failures++
			wait := partners.Backoff(time.Second, failures)
			logging.LogError(w.logger, moduleName, "Run", "receive failed", map[string]any{"wait": wait.String()}, err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			continue
		}
		failures = 0

		if err := w.Handle(ctx, delivery.Message); err != nil {
			logging.LogError(w.logger, moduleName, "Run", "pickup request failed", delivery.Message.OrderReference, err)
			w.redeliver(ctx, delivery.Message)
		}
		if err := delivery.Ack(ctx); err != nil {
			logging.LogError(w.logger, moduleName, "Run", "ack failed", delivery.Message.OrderReference, err)
		}
	}
}

// Handle books a pickup for one message. Orders that already carry a
// shipment reference are skipped, which makes redelivery harmless.
func (w *Worker) Handle(ctx context.Context, msg PickupMessage) error {
	order, err := w.orders.GetExternalOrderByReference(ctx, msg.OrderReference)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			w.logger.WithField("order_reference", msg.OrderReference).Warn("pickup message for unknown external order dropped")
			return nil
		}
		return err
	}
	if order.ShipmentReference != "" {
		w.logger.WithField("order_reference", msg.OrderReference).Debug("pickup already booked")
		return nil
	}

	req := partners.PickupRequest{
		OrderReference: msg.OrderReference,
		Origin:         msg.Origin,
		Destination:    partners.CompanyName,
		Items:          msg.Items,
	}
	var confirmation partners.PickupConfirmation
	err = partners.Do(ctx, w.retry, w.logger, "logistics.CreatePickupRequest", func(ctx context.Context) error {
		var err error
		confirmation, err = w.logistics.CreatePickupRequest(ctx, req)
		return err
	})
	if err != nil {
		return fmt.Errorf("create pickup request: %w", err)
	}

	if err := w.orders.SetShipmentReference(ctx, msg.OrderReference, confirmation.ShipmentReference); err != nil {
		return fmt.Errorf("store shipment reference: %w", err)
	}

	if w.bank != nil && confirmation.AccountNumber != "" && confirmation.Cost.IsPositive() {
		if err := w.bank.MakePayment(ctx, confirmation.AccountNumber, confirmation.Cost, confirmation.ShipmentReference); err != nil {
			logging.LogError(w.logger, moduleName, "Handle", "logistics payment failed", confirmation.ShipmentReference, err)
		}
	}

	w.logger.WithFields(logrus.Fields{
		"order_reference":    msg.OrderReference,
		"shipment_reference": confirmation.ShipmentReference,
	}).Info("pickup booked")
	return nil
}

func (w *Worker) redeliver(ctx context.Context, msg PickupMessage) {
	if msg.Redelivery >= MaxRedeliveries {
		w.logger.WithField("order_reference", msg.OrderReference).Error("pickup message dropped after redeliveries")
		return
	}
	msg.Redelivery++
	msg.EnqueuedAt = w.now()
	msg.DedupKey = xid.DedupKey(fmt.Sprintf("%s-r%d", msg.OrderReference, msg.Redelivery), msg.EnqueuedAt.UnixMilli())
	if err := w.queue.Enqueue(ctx, msg); err != nil {
		logging.LogError(w.logger, moduleName, "redeliver", "requeue failed", msg.OrderReference, err)
	}
}
