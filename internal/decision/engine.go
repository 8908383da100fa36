package decision

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"caseclosed/backend/internal/config"
	"caseclosed/backend/internal/domain"
	"caseclosed/backend/internal/logging"
	"caseclosed/backend/internal/partners"
	"caseclosed/backend/internal/queue"
	"caseclosed/backend/internal/xid"
)

const moduleName = "decision"

const (
	ActionOpenAccount = "open_account"
	ActionTakeLoan    = "take_loan"
	ActionBuyMaterial = "buy_material"
	ActionBuyMachine  = "buy_machine"
	ActionReadState   = "read_state"
)

type Ledger interface {
	GetStock(ctx context.Context, stockType domain.StockType) (domain.StockLevel, error)
	GetCaseReservation(ctx context.Context) (domain.CaseReservation, error)
	CreateExternalOrder(ctx context.Context, order domain.ExternalOrder) (*domain.ExternalOrder, error)
	ReplaceEquipmentParameters(ctx context.Context, params domain.EquipmentParameters) (domain.EquipmentParameters, error)
}

type AccountRecorder interface {
	Remember(ctx context.Context, details domain.BankDetails)
}

// Action is one thing the engine tried during a tick.
type Action struct {
	Kind      string
	StockType domain.StockType
	Quantity  int
	Reference string
	Cost      decimal.Decimal
	Err       error
}

type Report struct {
	Date    domain.SimDate
	Balance decimal.Decimal
	Loans   decimal.Decimal
	Demand  decimal.Decimal
	Actions []Action
}

func (r Report) Failed() []Action {
	failed := make([]Action, 0, len(r.Actions))
	for _, action := range r.Actions {
		if action.Err != nil {
			failed = append(failed, action)
		}
	}
	return failed
}

type Deps struct {
	Ledger      Ledger
	Bank        partners.Bank
	Accounts    AccountRecorder
	Suppliers   []partners.Supplier
	Catalog     partners.EquipmentCatalog
	Pickups     queue.Queue
	MachineName string
	Logger      logrus.FieldLogger
	Now         func() time.Time
}

// Engine is the procurement policy run once per simulated day.
type Engine struct {
	ledger      Ledger
	bank        partners.Bank
	accounts    AccountRecorder
	suppliers   []partners.Supplier
	catalog     partners.EquipmentCatalog
	pickups     queue.Queue
	machineName string
	thresholds  config.DecisionThresholds
	logger      logrus.FieldLogger
	now         func() time.Time
}

func NewEngine(deps Deps, thresholds config.DecisionThresholds) *Engine {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if thresholds.MaterialOrderRounds < 1 {
		thresholds.MaterialOrderRounds = 1000
	}
	return &Engine{
		ledger:      deps.Ledger,
		bank:        deps.Bank,
		accounts:    deps.Accounts,
		suppliers:   deps.Suppliers,
		catalog:     deps.Catalog,
		pickups:     deps.Pickups,
		machineName: deps.MachineName,
		thresholds:  thresholds,
		logger:      deps.Logger.WithField("component", "decision"),
		now:         deps.Now,
	}
}

func (e *Engine) Name() string {
	return "decision"
}

// Run evaluates the policy. Failed actions are logged and never abort the tick.
func (e *Engine) Run(ctx context.Context, today domain.SimDate) error {
	report := e.Evaluate(ctx, today)
	for _, action := range report.Actions {
		fields := logrus.Fields{
			"date":       today.String(),
			"action":     action.Kind,
			"stock_type": action.StockType,
			"quantity":   action.Quantity,
			"reference":  action.Reference,
		}
		if action.Err != nil {
			logging.LogError(e.logger, moduleName, "Run", "decision action failed", fields, action.Err)
			continue
		}
		e.logger.WithFields(fields).Info("decision action done")
	}
	return nil
}

func (e *Engine) Evaluate(ctx context.Context, today domain.SimDate) Report {
	report := Report{Date: today}

	account, err := e.bank.GetMyAccount(ctx)
	if errors.Is(err, partners.ErrNoAccount) {
		report.Actions = append(report.Actions, e.openAccount(ctx)...)
		return report
	}
	if err != nil {
		report.Actions = append(report.Actions, Action{Kind: ActionReadState, Err: fmt.Errorf("read account: %w", err)})
		return report
	}
	e.accounts.Remember(ctx, account)
	report.Balance = account.AccountBalance

	if loans, err := e.bank.GetOutstandingLoans(ctx); err == nil {
		report.Loans = loans
	} else {
		e.logger.WithField("error", err.Error()).Warn("outstanding loans unavailable")
	}

	if report.Balance.LessThan(e.thresholds.LowCash) {
		report.Actions = append(report.Actions, e.takeLoan(ctx))
		return report
	}

	reservation, err := e.ledger.GetCaseReservation(ctx)
	if err != nil {
		report.Actions = append(report.Actions, Action{Kind: ActionReadState, Err: fmt.Errorf("read case reservation: %w", err)})
		return report
	}
	report.Demand = DemandRatio(reservation)
	excessCash := report.Balance.GreaterThan(e.thresholds.ExcessCash)

	for _, material := range []domain.StockType{domain.StockPlastic, domain.StockAluminium} {
		level, err := e.ledger.GetStock(ctx, material)
		if err != nil {
			report.Actions = append(report.Actions, Action{Kind: ActionReadState, StockType: material, Err: err})
			continue
		}
		low := level.TotalUnits < e.thresholds.MaterialMinimum && report.Demand.GreaterThan(e.thresholds.DemandRatio)
		if !low && !excessCash {
			continue
		}
		quantity := OrderQuantity(e.thresholds.MaterialMinimum, level.TotalUnits, e.thresholds.MaterialOrderRounds)
		if quantity <= 0 {
			continue
		}
		report.Actions = append(report.Actions, e.buyMaterial(ctx, today, material, quantity))
	}

	machines, err := e.ledger.GetStock(ctx, domain.StockMachine)
	if err != nil {
		report.Actions = append(report.Actions, Action{Kind: ActionReadState, StockType: domain.StockMachine, Err: err})
		return report
	}
	if machines.TotalUnits < e.thresholds.MachineMinimum || excessCash {
		report.Actions = append(report.Actions, e.buyMachine(ctx, today))
	}
	return report
}

// DemandRatio is reserved cases over sellable cases, zero when nothing is sellable.
func DemandRatio(reservation domain.CaseReservation) decimal.Decimal {
	available := reservation.Available()
	if available <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(reservation.ReservedUnits)).Div(decimal.NewFromInt(int64(available)))
}

// OrderQuantity tops stock up towards minimum in whole rounds.
func OrderQuantity(minimum int, onHand int, round int) int {
	if round < 1 {
		round = 1
	}
	shortfall := minimum - onHand
	if shortfall <= 0 {
		return 0
	}
	return (shortfall / round) * round
}

func (e *Engine) openAccount(ctx context.Context) []Action {
	account, err := e.bank.CreateAccount(ctx)
	if err != nil {
		return []Action{{Kind: ActionOpenAccount, Err: err}}
	}
	e.accounts.Remember(ctx, account)
	return []Action{
		{Kind: ActionOpenAccount, Reference: account.AccountNumber},
		e.takeLoan(ctx),
	}
}

func (e *Engine) takeLoan(ctx context.Context) Action {
	action := Action{Kind: ActionTakeLoan, Cost: e.thresholds.LoanAmount}
	action.Err = e.bank.TakeLoan(ctx, e.thresholds.LoanAmount)
	return action
}

func (e *Engine) buyMaterial(ctx context.Context, today domain.SimDate, material domain.StockType, quantity int) Action {
	action := Action{Kind: ActionBuyMaterial, StockType: material, Quantity: quantity}

	supplier, quote, err := partners.CheapestQuote(ctx, e.suppliers, material, quantity, e.logger)
	if err != nil {
		action.Err = err
		return action
	}
	purchase, err := supplier.Order(ctx, material, quantity)
	if err != nil {
		action.Err = fmt.Errorf("order from %s: %w", supplier.Name(), err)
		return action
	}
	if purchase.TotalPrice.IsZero() {
		purchase.TotalPrice = quote.PricePerKg.Mul(decimal.NewFromInt(int64(quantity)))
	}
	action.Reference = purchase.OrderReference
	action.Cost = purchase.TotalPrice

	order := domain.ExternalOrder{
		OrderReference: purchase.OrderReference,
		Supplier:       purchase.Supplier,
		TotalCost:      purchase.TotalPrice,
		OrderType:      domain.ExternalOrderMaterial,
		OrderedAt:      today,
		Items: []domain.ExternalOrderItem{{
			StockType:    material,
			OrderedUnits: quantity,
			PerUnitCost:  purchase.TotalPrice.Div(decimal.NewFromInt(int64(quantity))).Round(2),
		}},
	}
	action.Err = e.settle(ctx, order, purchase, []partners.PickupItem{{Name: string(material), Quantity: quantity}})
	return action
}

func (e *Engine) buyMachine(ctx context.Context, today domain.SimDate) Action {
	action := Action{Kind: ActionBuyMachine, StockType: domain.StockMachine, Quantity: 1}
	if e.catalog == nil {
		action.Err = partners.ErrNotConfigured
		return action
	}

	offers, err := e.catalog.MachinesForSale(ctx)
	if err != nil {
		action.Err = err
		return action
	}
	offer, ok := pickMachine(offers, e.machineName)
	if !ok {
		action.Err = fmt.Errorf("%s: %w", e.machineName, partners.ErrNoSupplier)
		return action
	}
	purchase, err := e.catalog.OrderMachine(ctx, offer.Name, 1)
	if err != nil {
		action.Err = fmt.Errorf("order machine %s: %w", offer.Name, err)
		return action
	}
	if purchase.TotalPrice.IsZero() {
		purchase.TotalPrice = offer.Price
	}
	action.Reference = purchase.OrderReference
	action.Cost = purchase.TotalPrice

	if offer.Parameters.Valid() {
		if _, err := e.ledger.ReplaceEquipmentParameters(ctx, offer.Parameters); err != nil {
			logging.LogError(e.logger, moduleName, "buyMachine", "equipment sync failed", offer.Name, err)
		}
	}

	order := domain.ExternalOrder{
		OrderReference: purchase.OrderReference,
		Supplier:       purchase.Supplier,
		TotalCost:      purchase.TotalPrice,
		OrderType:      domain.ExternalOrderMachine,
		OrderedAt:      today,
		Items: []domain.ExternalOrderItem{{
			StockType:    domain.StockMachine,
			OrderedUnits: 1,
			PerUnitCost:  purchase.TotalPrice,
		}},
	}
	action.Err = e.settle(ctx, order, purchase, []partners.PickupItem{{Name: offer.Name, Quantity: 1}})
	return action
}

// settle records the purchase, pays the seller and queues the pickup. An
// unpaid order is left recorded without a pickup.
func (e *Engine) settle(ctx context.Context, order domain.ExternalOrder, purchase partners.PurchaseOrder, items []partners.PickupItem) error {
	if _, err := e.ledger.CreateExternalOrder(ctx, order); err != nil {
		return fmt.Errorf("record external order: %w", err)
	}
	if err := e.bank.MakePayment(ctx, purchase.AccountNumber, purchase.TotalPrice, purchase.OrderReference); err != nil {
		return fmt.Errorf("pay %s: %w", purchase.Supplier, err)
	}

	now := e.now()
	msg := queue.PickupMessage{
		OrderReference: purchase.OrderReference,
		Origin:         purchase.PickupFrom,
		Items:          items,
		DedupKey:       xid.DedupKey(purchase.OrderReference, now.UnixMilli()),
		EnqueuedAt:     now,
	}
	if err := e.pickups.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("queue pickup: %w", err)
	}
	return nil
}

// pickMachine prefers the configured model, otherwise the cheapest one in stock.
func pickMachine(offers []partners.MachineOffer, preferred string) (partners.MachineOffer, bool) {
	inStock := make([]partners.MachineOffer, 0, len(offers))
	for _, offer := range offers {
		if offer.Available < 1 {
			continue
		}
		if offer.Name == preferred {
			return offer, true
		}
		inStock = append(inStock, offer)
	}
	if len(inStock) == 0 {
		return partners.MachineOffer{}, false
	}
	sort.SliceStable(inStock, func(i, j int) bool { return inStock[i].Price.LessThan(inStock[j].Price) })
	return inStock[0], true
}
