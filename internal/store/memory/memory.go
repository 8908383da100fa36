package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"caseclosed/backend/internal/domain"
	"caseclosed/backend/internal/store"
)

// Store is an in-memory Repository. A single mutex serializes writers, which
// gives every multi-row mutation the same all-or-nothing behaviour as a
// database transaction.
type Store struct {
	mu             sync.RWMutex
	stock          map[domain.StockType]domain.StockLevel
	orders         map[int64]*domain.CaseOrder
	nextOrderID    int64
	externalByRef  map[string]*domain.ExternalOrder
	nextExternalID int64
	equipment      domain.EquipmentParameters
	bank           *domain.BankDetails
}

// New returns an empty ledger with default equipment parameters.
func New() *Store {
	stock := make(map[domain.StockType]domain.StockLevel, len(domain.StockTypes))
	for _, t := range domain.StockTypes {
		stock[t] = domain.StockLevel{Type: t}
	}
	return &Store{
		stock:          stock,
		orders:         make(map[int64]*domain.CaseOrder),
		nextOrderID:    1,
		externalByRef:  make(map[string]*domain.ExternalOrder),
		nextExternalID: 1,
		equipment:      domain.DefaultEquipmentParameters,
	}
}

// NewSeeded returns a store with demo inventory and a short purchase history so
// that pricing has material costs to work from.
func NewSeeded() *Store {
	s := New()
	s.stock[domain.StockPlastic] = domain.StockLevel{Type: domain.StockPlastic, TotalUnits: 4000}
	s.stock[domain.StockAluminium] = domain.StockLevel{Type: domain.StockAluminium, TotalUnits: 7000}
	s.stock[domain.StockMachine] = domain.StockLevel{Type: domain.StockMachine, TotalUnits: 2}
	s.stock[domain.StockCase] = domain.StockLevel{Type: domain.StockCase, TotalUnits: 5000}

	receivedAt := time.Date(2050, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, seed := range []struct {
		ref   string
		typ   domain.StockType
		units int
		cost  int64
	}{
		{"seed-plastic", domain.StockPlastic, 4000, 10},
		{"seed-aluminium", domain.StockAluminium, 7000, 12},
	} {
		at := receivedAt
		s.externalByRef[seed.ref] = &domain.ExternalOrder{
			ID:             s.nextExternalID,
			OrderReference: seed.ref,
			Supplier:       "seed",
			TotalCost:      decimal.NewFromInt(seed.cost * int64(seed.units)),
			OrderType:      domain.ExternalOrderMaterial,
			OrderedAt:      domain.SimEpoch,
			ReceivedAt:     &at,
			Items: []domain.ExternalOrderItem{{
				StockType:    seed.typ,
				OrderedUnits: seed.units,
				PerUnitCost:  decimal.NewFromInt(seed.cost),
			}},
		}
		s.nextExternalID++
	}
	return s
}

// SetStock overwrites the on-hand units of a ledger row. Used for seeding and stock counts.
func (s *Store) SetStock(_ context.Context, stockType domain.StockType, units int) error {
	if units < 0 {
		return store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	level, ok := s.stock[stockType]
	if !ok {
		return store.ErrNotFound
	}
	level.TotalUnits = units
	s.stock[stockType] = level
	return nil
}

func (s *Store) GetStock(_ context.Context, stockType domain.StockType) (domain.StockLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	level, ok := s.stock[stockType]
	if !ok {
		return domain.StockLevel{}, store.ErrNotFound
	}
	return s.withOrderedUnits(level), nil
}

func (s *Store) ListStock(_ context.Context) ([]domain.StockLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	levels := make([]domain.StockLevel, 0, len(domain.StockTypes))
	for _, t := range domain.StockTypes {
		levels = append(levels, s.withOrderedUnits(s.stock[t]))
	}
	return levels, nil
}

func (s *Store) IncreaseStock(_ context.Context, stockType domain.StockType, units int) (domain.StockLevel, error) {
	if units < 0 {
		return domain.StockLevel{}, store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	level, ok := s.stock[stockType]
	if !ok {
		return domain.StockLevel{}, store.ErrNotFound
	}
	level.TotalUnits += units
	s.stock[stockType] = level
	return s.withOrderedUnits(level), nil
}

func (s *Store) DecrementStock(_ context.Context, stockType domain.StockType, units int, flexible bool) (domain.StockLevel, int, error) {
	if units < 0 {
		return domain.StockLevel{}, 0, store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	level, ok := s.stock[stockType]
	if !ok {
		return domain.StockLevel{}, 0, store.ErrNotFound
	}
	removed, err := store.PlanDecrement(level.TotalUnits, units, flexible)
	if err != nil {
		return s.withOrderedUnits(level), 0, err
	}
	level.TotalUnits -= removed
	s.stock[stockType] = level
	return s.withOrderedUnits(level), removed, nil
}

func (s *Store) GetCaseReservation(_ context.Context) (domain.CaseReservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caseReservationLocked(), nil
}

func (s *Store) ApplyProduction(_ context.Context, batch domain.ProductionBatch) error {
	if batch.Batches <= 0 || batch.PlasticUsed < 0 || batch.AluminiumUsed < 0 || batch.CasesProduced < 0 {
		return store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	plastic := s.stock[domain.StockPlastic]
	aluminium := s.stock[domain.StockAluminium]
	cases := s.stock[domain.StockCase]
	if plastic.TotalUnits < batch.PlasticUsed || aluminium.TotalUnits < batch.AluminiumUsed {
		return store.ErrInsufficientStock
	}

	plastic.TotalUnits -= batch.PlasticUsed
	aluminium.TotalUnits -= batch.AluminiumUsed
	cases.TotalUnits += batch.CasesProduced
	s.stock[domain.StockPlastic] = plastic
	s.stock[domain.StockAluminium] = aluminium
	s.stock[domain.StockCase] = cases
	return nil
}

func (s *Store) CreateCaseOrder(_ context.Context, order domain.CaseOrder) (*domain.CaseOrder, error) {
	if order.Quantity <= 0 {
		return nil, store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.Quantity > s.caseReservationLocked().Available() {
		return nil, store.ErrInsufficientStock
	}

	order.ID = s.nextOrderID
	s.nextOrderID++
	order.Status = domain.StatusPaymentPending
	order.QuantityDelivered = 0
	order.AmountPaid = decimal.Zero
	order.AccountNumber = ""

	saved := order
	s.orders[order.ID] = &saved
	created := saved
	return &created, nil
}

func (s *Store) GetCaseOrder(_ context.Context, id int64) (*domain.CaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := *order
	return &found, nil
}

func (s *Store) ListCaseOrders(_ context.Context, status domain.OrderStatus, limit int) ([]domain.CaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.CaseOrder, 0, len(s.orders))
	for _, order := range s.orders {
		if status != 0 && order.Status != status {
			continue
		}
		orders = append(orders, *order)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID > orders[j].ID })
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (s *Store) ListCaseOrdersOrderedBefore(_ context.Context, status domain.OrderStatus, cutoff domain.SimDate) ([]domain.CaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.CaseOrder, 0, 8)
	for _, order := range s.orders {
		if order.Status != status {
			continue
		}
		if order.OrderedAt.DayNumber() < cutoff.DayNumber() {
			orders = append(orders, *order)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	return orders, nil
}

func (s *Store) TransitionCaseOrder(_ context.Context, id int64, from domain.OrderStatus, to domain.OrderStatus) (*domain.CaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if order.Status != from {
		return nil, store.ErrInvalidTransition
	}
	order.Status = to
	updated := *order
	return &updated, nil
}

func (s *Store) ApplyPayment(_ context.Context, id int64, account string, amount decimal.Decimal) (*domain.CaseOrder, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, false, store.ErrNotFound
	}
	if order.Status == domain.StatusOrderCancelled {
		current := *order
		return &current, false, store.ErrInvalidTransition
	}
	order.AmountPaid = order.AmountPaid.Add(amount)
	if account != "" {
		order.AccountNumber = account
	}

	completed := false
	if order.Status == domain.StatusPaymentPending && order.FullyPaid() {
		order.Status = domain.StatusPickupPending
		completed = true
	}
	updated := *order
	return &updated, completed, nil
}

func (s *Store) RecordPickup(_ context.Context, id int64, units int) (*domain.CaseOrder, error) {
	if units <= 0 {
		return nil, store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if order.Status != domain.StatusPickupPending {
		return nil, store.ErrInvalidTransition
	}
	if order.QuantityDelivered+units > order.Quantity {
		return nil, store.ErrQuantityExceeded
	}
	cases := s.stock[domain.StockCase]
	if cases.TotalUnits < units {
		return nil, store.ErrInsufficientStock
	}

	cases.TotalUnits -= units
	s.stock[domain.StockCase] = cases
	order.QuantityDelivered += units
	if order.FullyDelivered() {
		order.Status = domain.StatusOrderComplete
	}
	updated := *order
	return &updated, nil
}

func (s *Store) CreateExternalOrder(_ context.Context, order domain.ExternalOrder) (*domain.ExternalOrder, error) {
	if order.OrderReference == "" || len(order.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.externalByRef[order.OrderReference]; exists {
		return nil, store.ErrInvalidTransaction
	}
	order.ID = s.nextExternalID
	s.nextExternalID++
	order.ReceivedAt = nil
	saved := cloneExternalOrder(order)
	s.externalByRef[order.OrderReference] = &saved
	created := cloneExternalOrder(saved)
	return &created, nil
}

func (s *Store) GetExternalOrderByReference(_ context.Context, orderReference string) (*domain.ExternalOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.externalByRef[orderReference]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := cloneExternalOrder(*order)
	return &found, nil
}

func (s *Store) GetExternalOrderByShipment(_ context.Context, shipmentReference string) (*domain.ExternalOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order := s.findByShipmentLocked(shipmentReference)
	if order == nil {
		return nil, store.ErrNotFound
	}
	found := cloneExternalOrder(*order)
	return &found, nil
}

func (s *Store) SetShipmentReference(_ context.Context, orderReference string, shipmentReference string) error {
	if shipmentReference == "" {
		return store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.externalByRef[orderReference]
	if !ok {
		return store.ErrNotFound
	}
	order.ShipmentReference = shipmentReference
	return nil
}

func (s *Store) ReceiveExternalOrder(_ context.Context, shipmentReference string, adjustment domain.StockAdjustment, at time.Time) (*domain.ExternalOrder, error) {
	if adjustment.Units < 0 {
		return nil, store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	order := s.findByShipmentLocked(shipmentReference)
	if order == nil {
		return nil, store.ErrNotFound
	}
	if order.Received() {
		return nil, store.ErrAlreadyReceived
	}
	level, ok := s.stock[adjustment.Type]
	if !ok {
		return nil, store.ErrNotFound
	}

	level.TotalUnits += adjustment.Units
	s.stock[adjustment.Type] = level
	receivedAt := at.UTC()
	order.ReceivedAt = &receivedAt

	received := cloneExternalOrder(*order)
	return &received, nil
}

func (s *Store) MaterialCostAverages(_ context.Context, recent int) (map[domain.StockType]decimal.Decimal, error) {
	if recent < 1 {
		recent = 10
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	type purchase struct {
		orderID int64
		item    domain.ExternalOrderItem
	}
	byType := make(map[domain.StockType][]purchase)
	for _, order := range s.externalByRef {
		for _, item := range order.Items {
			if !item.StockType.IsMaterial() || item.OrderedUnits <= 0 {
				continue
			}
			byType[item.StockType] = append(byType[item.StockType], purchase{orderID: order.ID, item: item})
		}
	}

	averages := make(map[domain.StockType]decimal.Decimal, len(byType))
	for stockType, purchases := range byType {
		sort.Slice(purchases, func(i, j int) bool { return purchases[i].orderID > purchases[j].orderID })
		if len(purchases) > recent {
			purchases = purchases[:recent]
		}
		totalCost := decimal.Zero
		totalUnits := int64(0)
		for _, p := range purchases {
			totalCost = totalCost.Add(p.item.PerUnitCost.Mul(decimal.NewFromInt(int64(p.item.OrderedUnits))))
			totalUnits += int64(p.item.OrderedUnits)
		}
		if totalUnits > 0 {
			averages[stockType] = totalCost.Div(decimal.NewFromInt(totalUnits))
		}
	}
	return averages, nil
}

func (s *Store) GetEquipmentParameters(_ context.Context) (domain.EquipmentParameters, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.equipment, nil
}

func (s *Store) ReplaceEquipmentParameters(_ context.Context, params domain.EquipmentParameters) (domain.EquipmentParameters, error) {
	if !params.Valid() {
		return domain.EquipmentParameters{}, store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.equipment = s.equipment.Merge(params)
	return s.equipment, nil
}

func (s *Store) GetBankDetails(_ context.Context) (*domain.BankDetails, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.bank == nil {
		return nil, store.ErrNotFound
	}
	details := *s.bank
	return &details, nil
}

func (s *Store) SaveBankDetails(_ context.Context, details domain.BankDetails) error {
	if details.AccountNumber == "" {
		return store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := details
	s.bank = &saved
	return nil
}

func (s *Store) caseReservationLocked() domain.CaseReservation {
	reserved := 0
	for _, order := range s.orders {
		reserved += order.Reserved()
	}
	return domain.CaseReservation{
		TotalUnits:    s.stock[domain.StockCase].TotalUnits,
		ReservedUnits: reserved,
	}
}

func (s *Store) withOrderedUnits(level domain.StockLevel) domain.StockLevel {
	if level.Type == domain.StockCase {
		level.OrderedUnits = s.caseReservationLocked().ReservedUnits
	}
	return level
}

func (s *Store) findByShipmentLocked(shipmentReference string) *domain.ExternalOrder {
	if shipmentReference == "" {
		return nil
	}
	for _, order := range s.externalByRef {
		if order.ShipmentReference == shipmentReference {
			return order
		}
	}
	return nil
}

func cloneExternalOrder(order domain.ExternalOrder) domain.ExternalOrder {
	out := order
	out.Items = append([]domain.ExternalOrderItem(nil), order.Items...)
	if order.ReceivedAt != nil {
		at := *order.ReceivedAt
		out.ReceivedAt = &at
	}
	return out
}
