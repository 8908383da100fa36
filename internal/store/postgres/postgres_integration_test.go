package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"caseclosed/backend/internal/domain"
	"caseclosed/backend/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("CASECLOSED_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set CASECLOSED_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return s
}

func TestPaymentAndPickupCompleteOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	before, err := s.GetStock(ctx, domain.StockCase)
	if err != nil {
		t.Fatalf("get case stock: %v", err)
	}
	if _, err := s.IncreaseStock(ctx, domain.StockCase, 1000); err != nil {
		t.Fatalf("seed case stock: %v", err)
	}

	order, err := s.CreateCaseOrder(ctx, domain.CaseOrder{
		Quantity:   1000,
		TotalPrice: decimal.NewFromInt(20000),
		OrderedAt:  domain.SimEpoch,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM case_orders WHERE id = $1`, order.ID)
	})
	if order.Status != domain.StatusPaymentPending {
		t.Fatalf("expected payment_pending, got %s", order.Status)
	}

	partial, completed, err := s.ApplyPayment(ctx, order.ID, "ACC-IT", decimal.NewFromInt(5000))
	if err != nil {
		t.Fatalf("partial payment: %v", err)
	}
	if completed || partial.Status != domain.StatusPaymentPending {
		t.Fatalf("partial payment must not promote order, got %s", partial.Status)
	}

	paid, completed, err := s.ApplyPayment(ctx, order.ID, "ACC-IT", decimal.NewFromInt(15000))
	if err != nil {
		t.Fatalf("final payment: %v", err)
	}
	if !completed || paid.Status != domain.StatusPickupPending {
		t.Fatalf("expected pickup_pending after full payment, got %s", paid.Status)
	}
	if !paid.AmountPaid.Equal(decimal.NewFromInt(20000)) {
		t.Fatalf("expected amount paid 20000, got %s", paid.AmountPaid)
	}

	if _, err := s.RecordPickup(ctx, order.ID, 1001); !errors.Is(err, store.ErrQuantityExceeded) {
		t.Fatalf("expected ErrQuantityExceeded, got %v", err)
	}

	done, err := s.RecordPickup(ctx, order.ID, 1000)
	if err != nil {
		t.Fatalf("record pickup: %v", err)
	}
	if done.Status != domain.StatusOrderComplete || done.QuantityDelivered != 1000 {
		t.Fatalf("unexpected order after pickup: %+v", done)
	}

	after, err := s.GetStock(ctx, domain.StockCase)
	if err != nil {
		t.Fatalf("get case stock: %v", err)
	}
	if after.TotalUnits != before.TotalUnits {
		t.Fatalf("expected case stock back to %d, got %d", before.TotalUnits, after.TotalUnits)
	}
}

func TestReceiveExternalOrderOnlyOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	orderRef := fmt.Sprintf("it-material-%d", stamp)
	shipmentRef := fmt.Sprintf("it-shipment-%d", stamp)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM external_order_items WHERE order_id IN (SELECT id FROM external_orders WHERE order_reference = $1)`, orderRef)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM external_orders WHERE order_reference = $1`, orderRef)
		_, _, _ = s.DecrementStock(ctx, domain.StockPlastic, 500, true)
	})

	if _, err := s.CreateExternalOrder(ctx, domain.ExternalOrder{
		OrderReference: orderRef,
		Supplier:       "integration",
		TotalCost:      decimal.NewFromInt(5000),
		OrderType:      domain.ExternalOrderMaterial,
		OrderedAt:      domain.SimEpoch,
		Items: []domain.ExternalOrderItem{{
			StockType:    domain.StockPlastic,
			OrderedUnits: 500,
			PerUnitCost:  decimal.NewFromInt(10),
		}},
	}); err != nil {
		t.Fatalf("create external order: %v", err)
	}
	if err := s.SetShipmentReference(ctx, orderRef, shipmentRef); err != nil {
		t.Fatalf("set shipment reference: %v", err)
	}

	adj := domain.StockAdjustment{Type: domain.StockPlastic, Units: 500}
	received, err := s.ReceiveExternalOrder(ctx, shipmentRef, adj, time.Now())
	if err != nil {
		t.Fatalf("receive external order: %v", err)
	}
	if !received.Received() || len(received.Items) != 1 {
		t.Fatalf("unexpected received order: %+v", received)
	}
	if _, err := s.ReceiveExternalOrder(ctx, shipmentRef, adj, time.Now()); !errors.Is(err, store.ErrAlreadyReceived) {
		t.Fatalf("expected ErrAlreadyReceived, got %v", err)
	}
	if _, err := s.GetExternalOrderByShipment(ctx, "missing-"+shipmentRef); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func createTestOrder(t *testing.T, s *Store, total int64) *domain.CaseOrder {
	t.Helper()
	ctx := context.Background()
	if _, err := s.IncreaseStock(ctx, domain.StockCase, 1000); err != nil {
		t.Fatalf("seed case stock: %v", err)
	}
	order, err := s.CreateCaseOrder(ctx, domain.CaseOrder{Quantity: 1000, TotalPrice: decimal.NewFromInt(total), OrderedAt: domain.SimEpoch})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM case_orders WHERE id = $1`, order.ID)
		_, _, _ = s.DecrementStock(ctx, domain.StockCase, 1000, true)
	})
	return order
}

func TestConcurrentPaymentsAreAllApplied(t *testing.T) {
	s := openTestStore(t)
	order := createTestOrder(t, s, 100000)

	const payers = 8
	var wg sync.WaitGroup
	errs := make(chan error, payers)
	for i := 0; i < payers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.ApplyPayment(context.Background(), order.ID, "ACC-IT", decimal.NewFromInt(1000))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent payment failed: %v", err)
		}
	}

	got, err := s.GetCaseOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if !got.AmountPaid.Equal(decimal.NewFromInt(payers * 1000)) {
		t.Fatalf("expected amount paid %d, got %s", payers*1000, got.AmountPaid)
	}
}

func TestPaymentOnCancelledOrderIsRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	order := createTestOrder(t, s, 20000)

	if _, err := s.TransitionCaseOrder(ctx, order.ID, domain.StatusPaymentPending, domain.StatusOrderCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	current, completed, err := s.ApplyPayment(ctx, order.ID, "ACC-IT", decimal.NewFromInt(20000))
	if !errors.Is(err, store.ErrInvalidTransition) || completed {
		t.Fatalf("expected ErrInvalidTransition, got %v completed=%v", err, completed)
	}
	if current == nil || current.Status != domain.StatusOrderCancelled || !current.AmountPaid.IsZero() {
		t.Fatalf("cancelled order must be returned untouched, got %+v", current)
	}
}
