package partners

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"caseclosed/backend/internal/domain"
	"caseclosed/backend/internal/xid"
)

// SimulatedBank is an in-process bank used when BANK_URL is unset and in tests.
type SimulatedBank struct {
	mu       sync.Mutex
	account  string
	balance  decimal.Decimal
	loans    decimal.Decimal
	Payments []Payment
	FailWith error
}

type Payment struct {
	To          string
	Amount      decimal.Decimal
	Description string
}

func NewSimulatedBank() *SimulatedBank {
	return &SimulatedBank{}
}

func (b *SimulatedBank) GetMyAccount(_ context.Context) (domain.BankDetails, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailWith != nil {
		return domain.BankDetails{}, b.FailWith
	}
	if b.account == "" {
		return domain.BankDetails{}, ErrNoAccount
	}
	return domain.BankDetails{AccountNumber: b.account, AccountBalance: b.balance}, nil
}

func (b *SimulatedBank) CreateAccount(_ context.Context) (domain.BankDetails, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailWith != nil {
		return domain.BankDetails{}, b.FailWith
	}
	if b.account == "" {
		b.account = xid.New("acc")
	}
	return domain.BankDetails{AccountNumber: b.account, AccountBalance: b.balance}, nil
}

func (b *SimulatedBank) GetBalance(_ context.Context) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailWith != nil {
		return decimal.Zero, b.FailWith
	}
	return b.balance, nil
}

func (b *SimulatedBank) GetOutstandingLoans(_ context.Context) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailWith != nil {
		return decimal.Zero, b.FailWith
	}
	return b.loans, nil
}

func (b *SimulatedBank) TakeLoan(_ context.Context, amount decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailWith != nil {
		return b.FailWith
	}
	if b.account == "" {
		return ErrNoAccount
	}
	b.balance = b.balance.Add(amount)
	b.loans = b.loans.Add(amount)
	return nil
}

func (b *SimulatedBank) MakePayment(_ context.Context, toAccount string, amount decimal.Decimal, description string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailWith != nil {
		return b.FailWith
	}
	if amount.GreaterThan(b.balance) {
		return fmt.Errorf("insufficient funds: balance %s, payment %s", b.balance, amount)
	}
	b.balance = b.balance.Sub(amount)
	b.Payments = append(b.Payments, Payment{To: toAccount, Amount: amount, Description: description})
	return nil
}

// Deposit credits the account, as an incoming customer transfer would.
func (b *SimulatedBank) Deposit(amount decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balance = b.balance.Add(amount)
}

func (b *SimulatedBank) PaymentsMade() []Payment {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Payment(nil), b.Payments...)
}

// SimulatedSupplier sells fixed-price materials from an unlimited stockpile.
type SimulatedSupplier struct {
	SupplierName string
	Prices       map[domain.StockType]decimal.Decimal
	Available    int
}

func (s *SimulatedSupplier) Name() string {
	return s.SupplierName
}

func (s *SimulatedSupplier) Quote(_ context.Context, material domain.StockType) (Quote, error) {
	price, ok := s.Prices[material]
	if !ok {
		return Quote{}, ErrNotFound
	}
	return Quote{Supplier: s.SupplierName, Material: material, PricePerKg: price, Available: s.Available}, nil
}

func (s *SimulatedSupplier) Order(_ context.Context, material domain.StockType, quantity int) (PurchaseOrder, error) {
	price, ok := s.Prices[material]
	if !ok {
		return PurchaseOrder{}, ErrNotFound
	}
	return PurchaseOrder{
		OrderReference: xid.New(s.SupplierName),
		Supplier:       s.SupplierName,
		AccountNumber:  s.SupplierName + "-account",
		TotalPrice:     price.Mul(decimal.NewFromInt(int64(quantity))),
		PickupFrom:     s.SupplierName,
	}, nil
}

type SimulatedCatalog struct {
	Offers []MachineOffer
}

func (c *SimulatedCatalog) MachinesForSale(_ context.Context) ([]MachineOffer, error) {
	return append([]MachineOffer(nil), c.Offers...), nil
}

func (c *SimulatedCatalog) OrderMachine(_ context.Context, name string, quantity int) (PurchaseOrder, error) {
	for _, offer := range c.Offers {
		if offer.Name == name {
			return PurchaseOrder{
				OrderReference: xid.New("equipment"),
				Supplier:       "equipment",
				AccountNumber:  "equipment-account",
				TotalPrice:     offer.Price.Mul(decimal.NewFromInt(int64(quantity))),
				PickupFrom:     "equipment",
			}, nil
		}
	}
	return PurchaseOrder{}, ErrNotFound
}

// SimulatedLogistics accepts every pickup request. Failures, when set, are
// returned for the first N calls.
type SimulatedLogistics struct {
	mu       sync.Mutex
	Failures int
	FailWith error
	Requests []PickupRequest
}

func (l *SimulatedLogistics) CreatePickupRequest(_ context.Context, req PickupRequest) (PickupConfirmation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Failures > 0 {
		l.Failures--
		return PickupConfirmation{}, l.FailWith
	}
	l.Requests = append(l.Requests, req)
	return PickupConfirmation{ShipmentReference: xid.New("shipment")}, nil
}

func (l *SimulatedLogistics) RequestCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Requests)
}
