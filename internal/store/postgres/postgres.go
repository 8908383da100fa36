package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"caseclosed/backend/internal/domain"
	"caseclosed/backend/internal/store"
)

//go:embed schema.sql
var schemaSQL string

const caseOrderColumns = `
	id, order_status_id, quantity, quantity_delivered, total_price, amount_paid,
	COALESCE(account_number, '') AS account_number, ordered_at`

const externalOrderColumns = `
	o.id, o.order_reference, o.supplier, o.total_cost, t.name AS order_type,
	COALESCE(o.shipment_reference, '') AS shipment_reference, o.ordered_at, o.received_at`

type Store struct {
	db *sqlx.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureSchema creates missing tables and reference rows.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

func (s *Store) beginSerializable(ctx context.Context) (*sqlx.Tx, error) {
	return s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
}

// beginReadCommitted is for single-row read-modify-write statements, where
// the row lock taken by UPDATE already orders concurrent writers.
func (s *Store) beginReadCommitted(ctx context.Context) (*sqlx.Tx, error) {
	return s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
}

const serializableAttempts = 5

// retrySerializable reruns fn while Postgres aborts it with a serialization
// failure or a deadlock. fn must open and finish its own transaction.
func retrySerializable(ctx context.Context, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !isSerializationFailure(err) || attempt >= serializableAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt*attempt) * 5 * time.Millisecond):
		}
	}
}

func (s *Store) GetStock(ctx context.Context, stockType domain.StockType) (domain.StockLevel, error) {
	var level domain.StockLevel
	err := s.db.GetContext(ctx, &level, `
		SELECT st.name, s.total_units, s.ordered_units
		FROM stock s
		JOIN stock_types st ON st.id = s.stock_type_id
		WHERE st.name = $1
	`, stockType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockLevel{}, store.ErrNotFound
		}
		return domain.StockLevel{}, err
	}
	return s.withOrderedUnits(ctx, s.db, level)
}

func (s *Store) ListStock(ctx context.Context) ([]domain.StockLevel, error) {
	levels := make([]domain.StockLevel, 0, len(domain.StockTypes))
	err := s.db.SelectContext(ctx, &levels, `
		SELECT st.name, s.total_units, s.ordered_units
		FROM stock s
		JOIN stock_types st ON st.id = s.stock_type_id
		ORDER BY st.id
	`)
	if err != nil {
		return nil, err
	}
	for i := range levels {
		level, err := s.withOrderedUnits(ctx, s.db, levels[i])
		if err != nil {
			return nil, err
		}
		levels[i] = level
	}
	return levels, nil
}

func (s *Store) IncreaseStock(ctx context.Context, stockType domain.StockType, units int) (domain.StockLevel, error) {
	if units < 0 {
		return domain.StockLevel{}, store.ErrInvalidTransaction
	}
	var level domain.StockLevel
	err := s.db.GetContext(ctx, &level, `
		UPDATE stock s
		SET total_units = s.total_units + $2
		FROM stock_types st
		WHERE st.id = s.stock_type_id AND st.name = $1
		RETURNING st.name, s.total_units, s.ordered_units
	`, stockType, units)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockLevel{}, store.ErrNotFound
		}
		return domain.StockLevel{}, err
	}
	return s.withOrderedUnits(ctx, s.db, level)
}

func (s *Store) DecrementStock(ctx context.Context, stockType domain.StockType, units int, flexible bool) (level domain.StockLevel, removed int, err error) {
	err = retrySerializable(ctx, func() error {
		var attemptErr error
		level, removed, attemptErr = s.decrementStockOnce(ctx, stockType, units, flexible)
		return attemptErr
	})
	return level, removed, err
}

func (s *Store) decrementStockOnce(ctx context.Context, stockType domain.StockType, units int, flexible bool) (domain.StockLevel, int, error) {
	if units < 0 {
		return domain.StockLevel{}, 0, store.ErrInvalidTransaction
	}
	tx, err := s.beginSerializable(ctx)
	if err != nil {
		return domain.StockLevel{}, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	onHand, err := lockStockUnits(ctx, tx, stockType)
	if err != nil {
		return domain.StockLevel{}, 0, err
	}
	removed, err := store.PlanDecrement(onHand, units, flexible)
	if err != nil {
		return domain.StockLevel{Type: stockType, TotalUnits: onHand}, 0, err
	}

	var level domain.StockLevel
	err = tx.GetContext(ctx, &level, `
		UPDATE stock s
		SET total_units = s.total_units - $2
		FROM stock_types st
		WHERE st.id = s.stock_type_id AND st.name = $1
		RETURNING st.name, s.total_units, s.ordered_units
	`, stockType, removed)
	if err != nil {
		return domain.StockLevel{}, 0, err
	}
	level, err = s.withOrderedUnits(ctx, tx, level)
	if err != nil {
		return domain.StockLevel{}, 0, err
	}
	if err := tx.Commit(); err != nil {
		return domain.StockLevel{}, 0, err
	}
	return level, removed, nil
}

func (s *Store) GetCaseReservation(ctx context.Context) (domain.CaseReservation, error) {
	return caseReservation(ctx, s.db)
}

func (s *Store) ApplyProduction(ctx context.Context, batch domain.ProductionBatch) error {
	return retrySerializable(ctx, func() error {
		return s.applyProductionOnce(ctx, batch)
	})
}

func (s *Store) applyProductionOnce(ctx context.Context, batch domain.ProductionBatch) error {
	if batch.Batches <= 0 || batch.PlasticUsed < 0 || batch.AluminiumUsed < 0 || batch.CasesProduced < 0 {
		return store.ErrInvalidTransaction
	}
	tx, err := s.beginSerializable(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, use := range []domain.StockAdjustment{
		{Type: domain.StockPlastic, Units: batch.PlasticUsed},
		{Type: domain.StockAluminium, Units: batch.AluminiumUsed},
	} {
		onHand, err := lockStockUnits(ctx, tx, use.Type)
		if err != nil {
			return err
		}
		if onHand < use.Units {
			return store.ErrInsufficientStock
		}
	}

	for _, adj := range []domain.StockAdjustment{
		{Type: domain.StockPlastic, Units: -batch.PlasticUsed},
		{Type: domain.StockAluminium, Units: -batch.AluminiumUsed},
		{Type: domain.StockCase, Units: batch.CasesProduced},
	} {
		if err := adjustStock(ctx, tx, adj); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) CreateCaseOrder(ctx context.Context, order domain.CaseOrder) (created *domain.CaseOrder, err error) {
	err = retrySerializable(ctx, func() error {
		var attemptErr error
		created, attemptErr = s.createCaseOrderOnce(ctx, order)
		return attemptErr
	})
	return created, err
}

func (s *Store) createCaseOrderOnce(ctx context.Context, order domain.CaseOrder) (*domain.CaseOrder, error) {
	if order.Quantity <= 0 {
		return nil, store.ErrInvalidTransaction
	}
	tx, err := s.beginSerializable(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Locking the case row serializes concurrent order creation.
	if _, err := lockStockUnits(ctx, tx, domain.StockCase); err != nil {
		return nil, err
	}
	reservation, err := caseReservation(ctx, tx)
	if err != nil {
		return nil, err
	}
	if order.Quantity > reservation.Available() {
		return nil, store.ErrInsufficientStock
	}

	var created domain.CaseOrder
	err = tx.GetContext(ctx, &created, `
		INSERT INTO case_orders (order_status_id, quantity, quantity_delivered, total_price, amount_paid, account_number, ordered_at)
		VALUES ($1, $2, 0, $3, 0, NULL, $4)
		RETURNING `+caseOrderColumns,
		domain.StatusPaymentPending, order.Quantity, order.TotalPrice, order.OrderedAt)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *Store) GetCaseOrder(ctx context.Context, id int64) (*domain.CaseOrder, error) {
	var order domain.CaseOrder
	err := s.db.GetContext(ctx, &order, `SELECT `+caseOrderColumns+` FROM case_orders WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (s *Store) ListCaseOrders(ctx context.Context, status domain.OrderStatus, limit int) ([]domain.CaseOrder, error) {
	if limit < 1 {
		limit = 100
	}
	orders := make([]domain.CaseOrder, 0, limit)
	var err error
	if status == 0 {
		err = s.db.SelectContext(ctx, &orders, `
			SELECT `+caseOrderColumns+`
			FROM case_orders
			ORDER BY id DESC
			LIMIT $1
		`, limit)
	} else {
		err = s.db.SelectContext(ctx, &orders, `
			SELECT `+caseOrderColumns+`
			FROM case_orders
			WHERE order_status_id = $1
			ORDER BY id DESC
			LIMIT $2
		`, status, limit)
	}
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) ListCaseOrdersOrderedBefore(ctx context.Context, status domain.OrderStatus, cutoff domain.SimDate) ([]domain.CaseOrder, error) {
	candidates := make([]domain.CaseOrder, 0, 16)
	err := s.db.SelectContext(ctx, &candidates, `
		SELECT `+caseOrderColumns+`
		FROM case_orders
		WHERE order_status_id = $1
		ORDER BY id
	`, status)
	if err != nil {
		return nil, err
	}

	// ordered_at is a simulated date with 30-day months, so compare day numbers rather than SQL dates.
	orders := candidates[:0]
	for _, order := range candidates {
		if order.OrderedAt.DayNumber() < cutoff.DayNumber() {
			orders = append(orders, order)
		}
	}
	return orders, nil
}

func (s *Store) TransitionCaseOrder(ctx context.Context, id int64, from domain.OrderStatus, to domain.OrderStatus) (*domain.CaseOrder, error) {
	var order domain.CaseOrder
	err := s.db.GetContext(ctx, &order, `
		UPDATE case_orders
		SET order_status_id = $3
		WHERE id = $1 AND order_status_id = $2
		RETURNING `+caseOrderColumns,
		id, from, to)
	if err == nil {
		return &order, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if _, err := s.GetCaseOrder(ctx, id); err != nil {
		return nil, err
	}
	return nil, store.ErrInvalidTransition
}

func (s *Store) ApplyPayment(ctx context.Context, id int64, account string, amount decimal.Decimal) (order *domain.CaseOrder, completed bool, err error) {
	err = retrySerializable(ctx, func() error {
		var attemptErr error
		order, completed, attemptErr = s.applyPaymentOnce(ctx, id, account, amount)
		return attemptErr
	})
	return order, completed, err
}

func (s *Store) applyPaymentOnce(ctx context.Context, id int64, account string, amount decimal.Decimal) (*domain.CaseOrder, bool, error) {
	tx, err := s.beginReadCommitted(ctx)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	var order domain.CaseOrder
	err = tx.GetContext(ctx, &order, `
		UPDATE case_orders
		SET amount_paid = amount_paid + $2::numeric, account_number = COALESCE(NULLIF($3::text, ''), account_number)
		WHERE id = $1 AND order_status_id <> $4
		RETURNING `+caseOrderColumns,
		id, amount, account, domain.StatusOrderCancelled)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, false, err
		}
		var current domain.CaseOrder
		if err := tx.GetContext(ctx, &current, `SELECT `+caseOrderColumns+` FROM case_orders WHERE id = $1`, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, false, store.ErrNotFound
			}
			return nil, false, err
		}
		return &current, false, store.ErrInvalidTransition
	}

	completed := false
	var promoted domain.CaseOrder
	err = tx.GetContext(ctx, &promoted, `
		UPDATE case_orders
		SET order_status_id = $2
		WHERE id = $1 AND order_status_id = $3 AND amount_paid >= total_price
		RETURNING `+caseOrderColumns,
		id, domain.StatusPickupPending, domain.StatusPaymentPending)
	switch {
	case err == nil:
		order = promoted
		completed = true
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return &order, completed, nil
}

func (s *Store) RecordPickup(ctx context.Context, id int64, units int) (order *domain.CaseOrder, err error) {
	err = retrySerializable(ctx, func() error {
		var attemptErr error
		order, attemptErr = s.recordPickupOnce(ctx, id, units)
		return attemptErr
	})
	return order, err
}

func (s *Store) recordPickupOnce(ctx context.Context, id int64, units int) (*domain.CaseOrder, error) {
	if units <= 0 {
		return nil, store.ErrInvalidTransaction
	}
	tx, err := s.beginSerializable(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var order domain.CaseOrder
	err = tx.GetContext(ctx, &order, `SELECT `+caseOrderColumns+` FROM case_orders WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if order.Status != domain.StatusPickupPending {
		return nil, store.ErrInvalidTransition
	}
	if order.QuantityDelivered+units > order.Quantity {
		return nil, store.ErrQuantityExceeded
	}

	onHand, err := lockStockUnits(ctx, tx, domain.StockCase)
	if err != nil {
		return nil, err
	}
	if onHand < units {
		return nil, store.ErrInsufficientStock
	}
	if err := adjustStock(ctx, tx, domain.StockAdjustment{Type: domain.StockCase, Units: -units}); err != nil {
		return nil, err
	}

	var updated domain.CaseOrder
	err = tx.GetContext(ctx, &updated, `
		UPDATE case_orders
		SET quantity_delivered = quantity_delivered + $2,
			order_status_id = CASE WHEN quantity_delivered + $2::int >= quantity THEN $3::int ELSE order_status_id END
		WHERE id = $1
		RETURNING `+caseOrderColumns,
		id, units, domain.StatusOrderComplete)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Store) CreateExternalOrder(ctx context.Context, order domain.ExternalOrder) (created *domain.ExternalOrder, err error) {
	err = retrySerializable(ctx, func() error {
		var attemptErr error
		created, attemptErr = s.createExternalOrderOnce(ctx, order)
		return attemptErr
	})
	return created, err
}

func (s *Store) createExternalOrderOnce(ctx context.Context, order domain.ExternalOrder) (*domain.ExternalOrder, error) {
	if order.OrderReference == "" || len(order.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	tx, err := s.beginSerializable(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.GetContext(ctx, &id, `
		INSERT INTO external_orders (order_reference, supplier, total_cost, order_type_id, shipment_reference, ordered_at, received_at)
		VALUES ($1, $2, $3, (SELECT id FROM external_order_types WHERE name = $4), NULLIF($5, ''), $6, NULL)
		RETURNING id
	`, order.OrderReference, order.Supplier, order.TotalCost, order.OrderType, order.ShipmentReference, order.OrderedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}

	for _, item := range order.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO external_order_items (order_id, stock_type_id, ordered_units, per_unit_cost)
			VALUES ($1, (SELECT id FROM stock_types WHERE name = $2), $3, $4)
		`, id, item.StockType, item.OrderedUnits, item.PerUnitCost)
		if err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	order.ID = id
	order.ReceivedAt = nil
	return &order, nil
}

func (s *Store) GetExternalOrderByReference(ctx context.Context, orderReference string) (*domain.ExternalOrder, error) {
	return s.findExternalOrder(ctx, "o.order_reference", orderReference)
}

func (s *Store) GetExternalOrderByShipment(ctx context.Context, shipmentReference string) (*domain.ExternalOrder, error) {
	if shipmentReference == "" {
		return nil, store.ErrNotFound
	}
	return s.findExternalOrder(ctx, "o.shipment_reference", shipmentReference)
}

func (s *Store) findExternalOrder(ctx context.Context, column string, value string) (*domain.ExternalOrder, error) {
	var order domain.ExternalOrder
	err := s.db.GetContext(ctx, &order, fmt.Sprintf(`
		SELECT %s
		FROM external_orders o
		JOIN external_order_types t ON t.id = o.order_type_id
		WHERE %s = $1
	`, externalOrderColumns, column), value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	items := make([]domain.ExternalOrderItem, 0, 2)
	err = s.db.SelectContext(ctx, &items, `
		SELECT st.name AS stock_type, i.ordered_units, i.per_unit_cost
		FROM external_order_items i
		JOIN stock_types st ON st.id = i.stock_type_id
		WHERE i.order_id = $1
	`, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	if order.ReceivedAt != nil {
		at := order.ReceivedAt.UTC()
		order.ReceivedAt = &at
	}
	return &order, nil
}

func (s *Store) SetShipmentReference(ctx context.Context, orderReference string, shipmentReference string) error {
	if shipmentReference == "" {
		return store.ErrInvalidTransaction
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE external_orders
		SET shipment_reference = $2
		WHERE order_reference = $1
	`, orderReference, shipmentReference)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidTransaction
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ReceiveExternalOrder(ctx context.Context, shipmentReference string, adjustment domain.StockAdjustment, at time.Time) (order *domain.ExternalOrder, err error) {
	err = retrySerializable(ctx, func() error {
		var attemptErr error
		order, attemptErr = s.receiveExternalOrderOnce(ctx, shipmentReference, adjustment, at)
		return attemptErr
	})
	return order, err
}

func (s *Store) receiveExternalOrderOnce(ctx context.Context, shipmentReference string, adjustment domain.StockAdjustment, at time.Time) (*domain.ExternalOrder, error) {
	if adjustment.Units < 0 {
		return nil, store.ErrInvalidTransaction
	}
	tx, err := s.beginSerializable(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var received struct {
		ID         int64      `db:"id"`
		ReceivedAt *time.Time `db:"received_at"`
	}
	err = tx.GetContext(ctx, &received, `
		SELECT id, received_at
		FROM external_orders
		WHERE shipment_reference = $1
		FOR UPDATE
	`, shipmentReference)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if received.ReceivedAt != nil {
		return nil, store.ErrAlreadyReceived
	}

	if err := adjustStock(ctx, tx, adjustment); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE external_orders SET received_at = $2 WHERE id = $1`, received.ID, at.UTC()); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetExternalOrderByShipment(ctx, shipmentReference)
}

func (s *Store) MaterialCostAverages(ctx context.Context, recent int) (map[domain.StockType]decimal.Decimal, error) {
	if recent < 1 {
		recent = 10
	}
	rows := make([]struct {
		StockType domain.StockType    `db:"stock_type"`
		Average   decimal.NullDecimal `db:"average_cost"`
	}, 0, 2)
	err := s.db.SelectContext(ctx, &rows, `
		SELECT stock_type, SUM(ordered_units * per_unit_cost) / NULLIF(SUM(ordered_units), 0) AS average_cost
		FROM (
			SELECT st.name AS stock_type, i.ordered_units, i.per_unit_cost,
				ROW_NUMBER() OVER (PARTITION BY i.stock_type_id ORDER BY o.id DESC) AS rn
			FROM external_order_items i
			JOIN external_orders o ON o.id = i.order_id
			JOIN stock_types st ON st.id = i.stock_type_id
			WHERE st.name IN ('plastic', 'aluminium') AND i.ordered_units > 0
		) recent
		WHERE rn <= $1
		GROUP BY stock_type
	`, recent)
	if err != nil {
		return nil, err
	}

	averages := make(map[domain.StockType]decimal.Decimal, len(rows))
	for _, row := range rows {
		if row.Average.Valid {
			averages[row.StockType] = row.Average.Decimal
		}
	}
	return averages, nil
}

func (s *Store) GetEquipmentParameters(ctx context.Context) (domain.EquipmentParameters, error) {
	var params domain.EquipmentParameters
	err := s.db.GetContext(ctx, &params, `
		SELECT plastic_ratio, aluminium_ratio, production_rate, case_machine_weight
		FROM equipment_parameters
		WHERE id = 1
	`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.DefaultEquipmentParameters, nil
		}
		return domain.EquipmentParameters{}, err
	}
	return params, nil
}

func (s *Store) ReplaceEquipmentParameters(ctx context.Context, params domain.EquipmentParameters) (next domain.EquipmentParameters, err error) {
	err = retrySerializable(ctx, func() error {
		var attemptErr error
		next, attemptErr = s.replaceEquipmentParametersOnce(ctx, params)
		return attemptErr
	})
	return next, err
}

func (s *Store) replaceEquipmentParametersOnce(ctx context.Context, params domain.EquipmentParameters) (domain.EquipmentParameters, error) {
	if !params.Valid() {
		return domain.EquipmentParameters{}, store.ErrInvalidTransaction
	}
	tx, err := s.beginSerializable(ctx)
	if err != nil {
		return domain.EquipmentParameters{}, err
	}
	defer func() { _ = tx.Rollback() }()

	current := domain.DefaultEquipmentParameters
	err = tx.GetContext(ctx, &current, `
		SELECT plastic_ratio, aluminium_ratio, production_rate, case_machine_weight
		FROM equipment_parameters
		WHERE id = 1
		FOR UPDATE
	`)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.EquipmentParameters{}, err
	}

	next := current.Merge(params)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO equipment_parameters (id, plastic_ratio, aluminium_ratio, production_rate, case_machine_weight)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			plastic_ratio = EXCLUDED.plastic_ratio,
			aluminium_ratio = EXCLUDED.aluminium_ratio,
			production_rate = EXCLUDED.production_rate,
			case_machine_weight = EXCLUDED.case_machine_weight
	`, next.PlasticRatio, next.AluminiumRatio, next.ProductionRate, next.CaseMachineWeight)
	if err != nil {
		return domain.EquipmentParameters{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.EquipmentParameters{}, err
	}
	return next, nil
}

func (s *Store) GetBankDetails(ctx context.Context) (*domain.BankDetails, error) {
	var details domain.BankDetails
	err := s.db.GetContext(ctx, &details, `SELECT account_number, account_balance FROM bank_details WHERE id = 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &details, nil
}

func (s *Store) SaveBankDetails(ctx context.Context, details domain.BankDetails) error {
	if details.AccountNumber == "" {
		return store.ErrInvalidTransaction
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bank_details (id, account_number, account_balance)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET
			account_number = EXCLUDED.account_number,
			account_balance = EXCLUDED.account_balance
	`, details.AccountNumber, details.AccountBalance)
	return err
}

func (s *Store) withOrderedUnits(ctx context.Context, q sqlx.QueryerContext, level domain.StockLevel) (domain.StockLevel, error) {
	if level.Type != domain.StockCase {
		return level, nil
	}
	reservation, err := caseReservation(ctx, q)
	if err != nil {
		return domain.StockLevel{}, err
	}
	level.OrderedUnits = reservation.ReservedUnits
	return level, nil
}

func caseReservation(ctx context.Context, q sqlx.QueryerContext) (domain.CaseReservation, error) {
	var reservation domain.CaseReservation
	err := sqlx.GetContext(ctx, q, &reservation, `
		SELECT
			(SELECT s.total_units FROM stock s JOIN stock_types st ON st.id = s.stock_type_id WHERE st.name = 'case') AS total_units,
			COALESCE((
				SELECT SUM(quantity - quantity_delivered)
				FROM case_orders
				WHERE order_status_id IN ($1, $2)
			), 0) AS reserved_units
	`, domain.StatusPaymentPending, domain.StatusPickupPending)
	return reservation, err
}

func lockStockUnits(ctx context.Context, tx *sqlx.Tx, stockType domain.StockType) (int, error) {
	var units int
	err := tx.GetContext(ctx, &units, `
		SELECT s.total_units
		FROM stock s
		JOIN stock_types st ON st.id = s.stock_type_id
		WHERE st.name = $1
		FOR UPDATE OF s
	`, stockType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}
	return units, nil
}

func adjustStock(ctx context.Context, tx *sqlx.Tx, adj domain.StockAdjustment) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE stock
		SET total_units = total_units + $2
		WHERE stock_type_id = (SELECT id FROM stock_types WHERE name = $1)
	`, adj.Type, adj.Units)
	if err != nil {
		if isCheckViolation(err) {
			return store.ErrInsufficientStock
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23514"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
