package decision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"caseclosed/backend/internal/config"
	"caseclosed/backend/internal/domain"
	"caseclosed/backend/internal/logging"
	"caseclosed/backend/internal/partners"
	"caseclosed/backend/internal/queue"
	"caseclosed/backend/internal/store/memory"
)

type recorder struct {
	remembered []domain.BankDetails
}

func (r *recorder) Remember(_ context.Context, details domain.BankDetails) {
	r.remembered = append(r.remembered, details)
}

type fixture struct {
	repo     *memory.Store
	bank     *partners.SimulatedBank
	accounts *recorder
	pickups  *queue.MemoryQueue
	catalog  *partners.SimulatedCatalog
	engine   *Engine
}

var thresholds = config.DecisionThresholds{
	LoanAmount:          decimal.NewFromInt(1_000_000),
	LowCash:             decimal.NewFromInt(50_000),
	ExcessCash:          decimal.NewFromInt(5_000_000),
	MaterialMinimum:     5000,
	DemandRatio:         decimal.RequireFromString("0.5"),
	MachineMinimum:      1,
	MaterialOrderRounds: 1000,
}

func newFixture(t *testing.T, suppliers ...partners.Supplier) *fixture {
	t.Helper()
	f := &fixture{
		repo:     memory.New(),
		bank:     partners.NewSimulatedBank(),
		accounts: &recorder{},
		pickups:  queue.NewMemoryQueue(8),
		catalog: &partners.SimulatedCatalog{Offers: []partners.MachineOffer{{
			Name:       "case_machine",
			Price:      decimal.NewFromInt(5000),
			Available:  3,
			Parameters: domain.EquipmentParameters{PlasticRatio: 5, AluminiumRatio: 6, ProductionRate: 100},
		}}},
	}
	f.engine = NewEngine(Deps{
		Ledger:      f.repo,
		Bank:        f.bank,
		Accounts:    f.accounts,
		Suppliers:   suppliers,
		Catalog:     f.catalog,
		Pickups:     f.pickups,
		MachineName: "case_machine",
		Logger:      logging.Discard(),
		Now:         func() time.Time { return time.Unix(1_700_000_000, 0) },
	}, thresholds)
	return f
}

func (f *fixture) fund(t *testing.T, amount int64) {
	t.Helper()
	if _, err := f.bank.CreateAccount(context.Background()); err != nil {
		t.Fatalf("create account: %v", err)
	}
	f.bank.Deposit(decimal.NewFromInt(amount))
}

func kinds(report Report) []string {
	out := make([]string, 0, len(report.Actions))
	for _, action := range report.Actions {
		out = append(out, action.Kind)
	}
	return out
}

func TestOpensAccountAndTakesLoanOnFirstDay(t *testing.T) {
	f := newFixture(t)
	report := f.engine.Evaluate(context.Background(), domain.SimEpoch)

	got := kinds(report)
	if len(got) != 2 || got[0] != ActionOpenAccount || got[1] != ActionTakeLoan {
		t.Fatalf("unexpected actions %v", got)
	}
	if len(report.Failed()) != 0 {
		t.Fatalf("unexpected failures %+v", report.Failed())
	}
	balance, _ := f.bank.GetBalance(context.Background())
	if !balance.Equal(thresholds.LoanAmount) {
		t.Fatalf("expected loan to be credited, balance %s", balance)
	}
	if len(f.accounts.remembered) != 1 {
		t.Fatalf("new account should be remembered")
	}
}

func TestLowCashOnlyBorrows(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 10_000)

	report := f.engine.Evaluate(context.Background(), domain.SimEpoch)
	got := kinds(report)
	if len(got) != 1 || got[0] != ActionTakeLoan {
		t.Fatalf("expected a single loan, got %v", got)
	}
	if f.pickups.Len() != 0 {
		t.Fatalf("no purchases expected on a low-cash day")
	}
}

func TestBuysMaterialFromCheapestSupplierUnderDemand(t *testing.T) {
	ctx := context.Background()
	expensive := &partners.SimulatedSupplier{SupplierName: "pricey", Available: 100000, Prices: map[domain.StockType]decimal.Decimal{domain.StockPlastic: decimal.NewFromInt(9)}}
	cheap := &partners.SimulatedSupplier{SupplierName: "thrifty", Available: 100000, Prices: map[domain.StockType]decimal.Decimal{domain.StockPlastic: decimal.NewFromInt(2)}}
	f := newFixture(t, expensive, cheap)
	f.fund(t, 100_000)

	_ = f.repo.SetStock(ctx, domain.StockPlastic, 1000)
	_ = f.repo.SetStock(ctx, domain.StockAluminium, 6000)
	_ = f.repo.SetStock(ctx, domain.StockMachine, 2)
	_ = f.repo.SetStock(ctx, domain.StockCase, 2000)
	if _, err := f.repo.CreateCaseOrder(ctx, domain.CaseOrder{Quantity: 1000, TotalPrice: decimal.NewFromInt(20000), OrderedAt: domain.SimEpoch}); err != nil {
		t.Fatalf("create order: %v", err)
	}

	report := f.engine.Evaluate(ctx, domain.SimEpoch.AddDays(1))
	if len(report.Actions) != 1 {
		t.Fatalf("expected one purchase, got %+v", report.Actions)
	}
	action := report.Actions[0]
	if action.Err != nil || action.StockType != domain.StockPlastic || action.Quantity != 4000 {
		t.Fatalf("unexpected action %+v", action)
	}
	if !action.Cost.Equal(decimal.NewFromInt(8000)) {
		t.Fatalf("expected the cheaper quote, cost %s", action.Cost)
	}

	order, err := f.repo.GetExternalOrderByReference(ctx, action.Reference)
	if err != nil {
		t.Fatalf("external order not recorded: %v", err)
	}
	if order.Supplier != "thrifty" || order.OrderType != domain.ExternalOrderMaterial {
		t.Fatalf("unexpected external order %+v", order)
	}

	payments := f.bank.PaymentsMade()
	if len(payments) != 1 || payments[0].To != "thrifty-account" {
		t.Fatalf("supplier should be paid once, got %+v", payments)
	}

	delivery, err := f.pickups.Receive(ctx)
	if err != nil {
		t.Fatalf("receive pickup: %v", err)
	}
	if delivery.Message.OrderReference != action.Reference || delivery.Message.Items[0].Quantity != 4000 {
		t.Fatalf("unexpected pickup message %+v", delivery.Message)
	}
	if delivery.Message.DedupKey == "" {
		t.Fatalf("pickup message needs a dedup key")
	}
}

func TestNoDemandMeansNoMaterialPurchase(t *testing.T) {
	ctx := context.Background()
	supplier := &partners.SimulatedSupplier{SupplierName: "thrifty", Available: 100000, Prices: map[domain.StockType]decimal.Decimal{domain.StockPlastic: decimal.NewFromInt(2)}}
	f := newFixture(t, supplier)
	f.fund(t, 100_000)
	_ = f.repo.SetStock(ctx, domain.StockPlastic, 1000)
	_ = f.repo.SetStock(ctx, domain.StockAluminium, 6000)
	_ = f.repo.SetStock(ctx, domain.StockMachine, 1)

	report := f.engine.Evaluate(ctx, domain.SimEpoch)
	if len(report.Actions) != 0 {
		t.Fatalf("expected no actions, got %v", kinds(report))
	}
}

func TestMachinePurchaseSurvivesMaterialFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, 6_000_000)
	_ = f.repo.SetStock(ctx, domain.StockPlastic, 0)
	_ = f.repo.SetStock(ctx, domain.StockAluminium, 0)

	report := f.engine.Evaluate(ctx, domain.SimEpoch)
	failed := report.Failed()
	if len(failed) != 2 {
		t.Fatalf("both material purchases should fail without suppliers, got %+v", report.Actions)
	}
	for _, action := range failed {
		if !errors.Is(action.Err, partners.ErrNoSupplier) {
			t.Fatalf("unexpected failure %v", action.Err)
		}
	}

	last := report.Actions[len(report.Actions)-1]
	if last.Kind != ActionBuyMachine || last.Err != nil {
		t.Fatalf("machine purchase should still succeed, got %+v", last)
	}
	params, _ := f.repo.GetEquipmentParameters(ctx)
	if params.PlasticRatio != 5 || params.ProductionRate != 100 {
		t.Fatalf("equipment parameters not synced: %+v", params)
	}
	if params.CaseMachineWeight != domain.DefaultEquipmentParameters.CaseMachineWeight {
		t.Fatalf("machine weight should be kept, got %d", params.CaseMachineWeight)
	}
	order, err := f.repo.GetExternalOrderByReference(ctx, last.Reference)
	if err != nil || order.OrderType != domain.ExternalOrderMachine {
		t.Fatalf("machine order not recorded: %+v %v", order, err)
	}
}

func TestUnpaidPurchaseIsNotQueued(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, 60_000)
	_ = f.repo.SetStock(ctx, domain.StockPlastic, 5000)
	_ = f.repo.SetStock(ctx, domain.StockAluminium, 5000)
	f.catalog.Offers[0].Price = decimal.NewFromInt(70_000)

	report := f.engine.Evaluate(ctx, domain.SimEpoch)
	if len(report.Failed()) != 1 {
		t.Fatalf("expected the machine payment to fail, got %+v", report.Actions)
	}
	if f.pickups.Len() != 0 {
		t.Fatalf("unpaid purchase must not be queued for pickup")
	}
}

func TestOrderQuantityRoundsDown(t *testing.T) {
	cases := []struct{ minimum, onHand, want int }{
		{5000, 1000, 4000},
		{5000, 1500, 3000},
		{5000, 4500, 0},
		{5000, 6000, 0},
	}
	for _, tc := range cases {
		if got := OrderQuantity(tc.minimum, tc.onHand, 1000); got != tc.want {
			t.Fatalf("OrderQuantity(%d, %d) = %d, want %d", tc.minimum, tc.onHand, got, tc.want)
		}
	}
}

func TestDemandRatio(t *testing.T) {
	if !DemandRatio(domain.CaseReservation{TotalUnits: 3000, ReservedUnits: 1000}).Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("expected 0.5")
	}
	if !DemandRatio(domain.CaseReservation{TotalUnits: 1000, ReservedUnits: 1000}).IsZero() {
		t.Fatalf("expected zero when nothing is sellable")
	}
}
