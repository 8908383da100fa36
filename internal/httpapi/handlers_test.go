package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"caseclosed/backend/internal/cache"
	"caseclosed/backend/internal/domain"
	"caseclosed/backend/internal/logging"
	"caseclosed/backend/internal/partners"
	"caseclosed/backend/internal/pricing"
	"caseclosed/backend/internal/service"
	"caseclosed/backend/internal/simclock"
	"caseclosed/backend/internal/store/memory"
)

type testEnv struct {
	api       *API
	handler   http.Handler
	repo      *memory.Store
	bank      *partners.SimulatedBank
	scheduler *simclock.Scheduler
}

// newTestEnv builds a full API with an in-memory store, a real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	repo := memory.NewSeeded()
	bank := partners.NewSimulatedBank()
	if _, err := bank.CreateAccount(ctx); err != nil {
		t.Fatalf("create account: %v", err)
	}
	bank.Deposit(decimal.NewFromInt(1_000_000))

	logger := logging.Discard()
	clock := simclock.NewClock()
	accounts := service.NewAccountDirectory(bank, cache.NoopAccountCache{}, repo, time.Minute, logger)
	calculator := pricing.NewCalculator(repo, decimal.RequireFromString("1.3"), decimal.NewFromInt(10), decimal.NewFromInt(12))
	svc := service.New(repo, calculator, accounts, bank, clock, service.Options{MachineName: "case_machine", Logger: logger})
	scheduler := simclock.NewScheduler(clock, time.Hour, cache.NewLocalLocker(), logger)
	t.Cleanup(scheduler.Stop)

	auth := NewAuthManager("test-secret-key", time.Hour, "operator", "operator-pass")
	api := New(svc, scheduler, auth, Options{AllowedOrigin: "*", Logger: logger})
	return &testEnv{api: api, handler: api.Handler(), repo: repo, bank: bank, scheduler: scheduler}
}

func (e *testEnv) do(t *testing.T, method string, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/auth/login", domain.LoginRequest{Username: "operator", Password: "operator-pass"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return resp.AccessToken
}

func (e *testEnv) createOrder(t *testing.T, quantity int) map[string]any {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/orders", map[string]int{"quantity": quantity}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create order: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Order         map[string]any `json:"order"`
		AccountNumber string         `json:"account_number"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode order: %v", err)
	}
	if body.AccountNumber == "" {
		t.Fatalf("expected account number in response")
	}
	return body.Order
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v (%s)", err, rec.Body.String())
	}
	return body
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decodeMap(t, rec); body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHealthReportsUnavailableStore(t *testing.T) {
	env := newTestEnv(t)
	env.api.ready = func(context.Context) error { return fmt.Errorf("connection refused") }

	rec := env.do(t, http.MethodGet, "/healthz", nil, "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestCreateAndFetchOrder(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, 1000)

	if order["status"] != "payment_pending" || order["quantity_delivered"].(float64) != 0 {
		t.Fatalf("unexpected order %v", order)
	}
	if order["total_price"].(float64) != 1000 {
		t.Fatalf("expected unit price 1 from seeded costs, got %v", order["total_price"])
	}

	rec := env.do(t, http.MethodGet, fmt.Sprintf("/orders/%v", order["id"]), nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if fetched := decodeMap(t, rec); fetched["order_status_id"].(float64) != float64(domain.StatusPaymentPending) {
		t.Fatalf("unexpected status %v", fetched["order_status_id"])
	}
}

func TestCreateOrderRejectsBadQuantities(t *testing.T) {
	env := newTestEnv(t)
	for _, quantity := range []int{0, 1500, 10000} {
		rec := env.do(t, http.MethodPost, "/orders", map[string]int{"quantity": quantity}, "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("quantity %d: expected 400, got %d", quantity, rec.Code)
		}
	}
}

func TestGetUnknownOrderIs404(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(t, http.MethodGet, "/orders/999", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/orders/abc", nil, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a non-numeric id, got %d", rec.Code)
	}
}

func TestCancelOrderTwice(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, 1000)
	path := fmt.Sprintf("/orders/%v", order["id"])

	if rec := env.do(t, http.MethodDelete, path, nil, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, path, nil, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("second cancel: expected 400, got %d", rec.Code)
	}
}

func TestPaymentFlow(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, 1000)
	id := fmt.Sprintf("%v", order["id"])

	partial := map[string]any{"description": id, "from": "customer-1", "amount": 400, "status": "success"}
	rec := env.do(t, http.MethodPost, "/payment", partial, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if body := decodeMap(t, rec); body["message"] != "Partial payment received" {
		t.Fatalf("unexpected message %v", body["message"])
	}

	rest := map[string]any{"description": id, "from": "customer-1", "amount": 600, "status": "success"}
	rec = env.do(t, http.MethodPost, "/payment", rest, "")
	if body := decodeMap(t, rec); body["message"] != "Complete payment received" {
		t.Fatalf("unexpected message %v", body["message"])
	}
}

func TestPaymentIgnoresFailedAndMalformedNotifications(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, 1000)

	failed := map[string]any{"description": fmt.Sprintf("%v", order["id"]), "amount": 1000, "status": "failed"}
	rec := env.do(t, http.MethodPost, "/payment", failed, "")
	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Fatalf("expected empty 200, got %d %q", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/payment", bytes.NewReader([]byte("{not json")))
	raw := httptest.NewRecorder()
	env.handler.ServeHTTP(raw, req)
	if raw.Code != http.StatusOK || raw.Body.Len() != 0 {
		t.Fatalf("expected empty 200 for malformed body, got %d %q", raw.Code, raw.Body.String())
	}

	stored, _ := env.repo.GetCaseOrder(context.Background(), int64(order["id"].(float64)))
	if !stored.AmountPaid.IsZero() {
		t.Fatalf("ignored notifications must not change the order")
	}
}

func TestPaymentForUnknownOrderIs404(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/payment", map[string]any{"description": "4242", "amount": 10, "status": "success"}, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestPaymentRejectsNegativeAmount(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, 1000)
	rec := env.do(t, http.MethodPost, "/payment", map[string]any{"description": fmt.Sprintf("%v", order["id"]), "amount": -5, "status": "success"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDeliveryForUnknownShipment(t *testing.T) {
	env := newTestEnv(t)
	note := map[string]any{"id": "ship-missing", "type": "DELIVERY", "items": []map[string]any{{"name": "plastic", "quantity": 100}}}

	rec := env.do(t, http.MethodPost, "/logistics", note, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if body := decodeMap(t, rec); body["error"] != "Delivery order not found" {
		t.Fatalf("unexpected error %v", body["error"])
	}
	level, _ := env.repo.GetStock(context.Background(), domain.StockPlastic)
	if level.TotalUnits != 4000 {
		t.Fatalf("ledger must not change, plastic %d", level.TotalUnits)
	}
}

func TestLogisticsValidation(t *testing.T) {
	env := newTestEnv(t)
	twoItems := map[string]any{"id": 1, "type": "PICKUP", "items": []map[string]any{{"name": "case", "quantity": 1}, {"name": "case", "quantity": 1}}}
	if rec := env.do(t, http.MethodPost, "/logistics", twoItems, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for two items, got %d", rec.Code)
	}
	badType := map[string]any{"id": 1, "type": "TELEPORT", "items": []map[string]any{{"name": "case", "quantity": 1}}}
	if rec := env.do(t, http.MethodPost, "/logistics", badType, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown type, got %d", rec.Code)
	}
}

func TestPickupCompletesOrder(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)
	order := env.createOrder(t, 1000)
	id := order["id"]

	if rec := env.do(t, http.MethodPost, fmt.Sprintf("/orders/%v/paid", id), nil, token); rec.Code != http.StatusOK {
		t.Fatalf("mark paid: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	pickup := map[string]any{"id": id, "type": "pickup", "items": []map[string]any{{"name": "case", "quantity": 1000}}}
	rec := env.do(t, http.MethodPost, "/logistics", pickup, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if body := decodeMap(t, rec); body["message"] != "Order complete" {
		t.Fatalf("unexpected message %v", body["message"])
	}
	level, _ := env.repo.GetStock(context.Background(), domain.StockCase)
	if level.TotalUnits != 4000 {
		t.Fatalf("expected 4000 cases left, got %d", level.TotalUnits)
	}
}

func TestMachineFailure(t *testing.T) {
	env := newTestEnv(t)

	unknown := map[string]any{"machineName": "laser_cutter", "failureQuantity": 1}
	if rec := env.do(t, http.MethodPost, "/machines/failure", unknown, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown machine, got %d", rec.Code)
	}

	clamp := map[string]any{"machineName": "case_machine", "failureQuantity": 10, "simulationDate": "2050-01-02", "simulationTime": "10:00"}
	rec := env.do(t, http.MethodPost, "/machines/failure", clamp, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	level, _ := env.repo.GetStock(context.Background(), domain.StockMachine)
	if level.TotalUnits != 0 {
		t.Fatalf("machine stock should clamp to zero, got %d", level.TotalUnits)
	}
}

func TestListOrdersByStatus(t *testing.T) {
	env := newTestEnv(t)
	env.createOrder(t, 1000)
	second := env.createOrder(t, 1000)
	env.do(t, http.MethodDelete, fmt.Sprintf("/orders/%v", second["id"]), nil, "")

	rec := env.do(t, http.MethodGet, "/orders?status=order_cancelled", nil, "")
	var body struct {
		Orders []map[string]any `json:"orders"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Orders) != 1 || body.Orders[0]["id"] != second["id"] {
		t.Fatalf("expected only the cancelled order, got %v", body.Orders)
	}

	if rec := env.do(t, http.MethodGet, "/orders?status=lost", nil, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rec.Code)
	}
}

func TestStockReportAndStatuses(t *testing.T) {
	env := newTestEnv(t)
	env.createOrder(t, 1000)

	rec := env.do(t, http.MethodGet, "/stock", nil, "")
	var report domain.StockReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.ReservedCases != 1000 || report.AvailableCases != 4000 {
		t.Fatalf("unexpected report %+v", report)
	}

	rec = env.do(t, http.MethodGet, "/order-statuses", nil, "")
	var statuses struct {
		Statuses []domain.OrderStatusInfo `json:"statuses"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&statuses); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(statuses.Statuses) != 4 || statuses.Statuses[0].Name != "payment_pending" {
		t.Fatalf("unexpected statuses %+v", statuses.Statuses)
	}
}

func TestSimulationLifecycle(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	rec := env.do(t, http.MethodPost, "/simulation", nil, token)
	if rec.Code != http.StatusOK || decodeMap(t, rec)["started"] != true {
		t.Fatalf("expected simulation to start")
	}
	rec = env.do(t, http.MethodPost, "/simulation", nil, token)
	if decodeMap(t, rec)["started"] != false {
		t.Fatalf("second start must be a no-op")
	}

	rec = env.do(t, http.MethodPost, "/simulation/resume", domain.ResumeSimulationRequest{Date: "2050-02-10"}, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("resume: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var status domain.SimulationStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !status.Running || status.Date.String() != "2050-02-10" || status.DaysSinceStart != 39 {
		t.Fatalf("unexpected status %+v", status)
	}

	if rec := env.do(t, http.MethodPost, "/simulation/resume", domain.ResumeSimulationRequest{Date: "2050-13-01"}, token); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid date, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, "/simulation", nil, token)
	if decodeMap(t, rec)["running"] != false {
		t.Fatalf("expected simulation to stop")
	}
}

func TestPaymentAcceptsNumericOrderID(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, 1000)

	// the bank may send the order id as a JSON number
	note := map[string]any{"description": order["id"], "from": "customer-1", "amount": 1000000, "status": "success"}
	rec := env.do(t, http.MethodPost, "/payment", note, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if body := decodeMap(t, rec); body["message"] != "Complete payment received" {
		t.Fatalf("unexpected message %v", body["message"])
	}

	stored, _ := env.repo.GetCaseOrder(context.Background(), int64(order["id"].(float64)))
	if stored.Status != domain.StatusPickupPending || !stored.AmountPaid.Equal(decimal.NewFromInt(1000000)) {
		t.Fatalf("numeric order id payment was not applied: %+v", stored)
	}
}
