package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"caseclosed/backend/internal/domain"
	"caseclosed/backend/internal/logging"
	"caseclosed/backend/internal/partners"
	"caseclosed/backend/internal/service"
	"caseclosed/backend/internal/store"
)

const moduleName = "httpapi"

// Simulation is the scheduler surface exposed over HTTP.
type Simulation interface {
	Start(ctx context.Context) bool
	Stop()
	Resume(ctx context.Context, date domain.SimDate)
	Status() domain.SimulationStatus
}

type Options struct {
	AllowedOrigin string
	Logger        logrus.FieldLogger
	// Ready reports whether backing stores are reachable; nil means always ready.
	Ready func(ctx context.Context) error
}

type API struct {
	service       *service.Service
	simulation    Simulation
	auth          *AuthManager
	validate      *validator.Validate
	logger        logrus.FieldLogger
	allowedOrigin string
	ready         func(ctx context.Context) error
	loginLimiter  *attemptLimiter
}

func New(svc *service.Service, simulation Simulation, auth *AuthManager, opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "*"
	}
	return &API{
		service:       svc,
		simulation:    simulation,
		auth:          auth,
		validate:      validator.New(),
		logger:        opts.Logger.WithField("component", "http"),
		allowedOrigin: opts.AllowedOrigin,
		ready:         opts.Ready,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(a.withMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.handleHealth)
	r.Post("/auth/login", a.handleLogin)
	r.Get("/order-statuses", a.handleOrderStatuses)
	r.Get("/stock", a.handleStock)

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", a.handleCreateOrder)
		r.Get("/", a.handleListOrders)
		r.Get("/{id}", a.handleGetOrder)
		r.Delete("/{id}", a.handleCancelOrder)
		r.With(a.requireAuth(RoleOperator)).Post("/{id}/paid", a.handleMarkPaid)
		r.With(a.requireAuth(RoleOperator)).Post("/{id}/picked-up", a.handleMarkPickedUp)
	})

	r.Post("/payment", a.handlePayment)
	r.Post("/logistics", a.handleLogistics)
	r.Post("/machines/failure", a.handleMachineFailure)

	r.Route("/simulation", func(r chi.Router) {
		r.Get("/", a.handleSimulationStatus)
		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(RoleOperator))
			r.Post("/", a.handleSimulationStart)
			r.Delete("/", a.handleSimulationStop)
			r.Post("/resume", a.handleSimulationResume)
		})
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) { writeMethodNotAllowed(w) })
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	})
	return r
}

func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}

			token := strings.TrimSpace(authorization[len("Bearer "):])
			actor, err := a.auth.ParseToken(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err)
				return
			}
			if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
				writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}
			next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		if err := a.ready(r.Context()); err != nil {
			logging.LogError(a.logger, moduleName, "handleHealth", "readiness check failed", nil, err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"at":         time.Now().UTC().Format(time.RFC3339),
		"simulation": a.simulation.Status(),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeValidationError(w, err)
		return
	}

	resp, err := a.auth.Login(req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleOrderStatuses(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"statuses": a.service.OrderStatuses()})
}

func (a *API) handleStock(w http.ResponseWriter, r *http.Request) {
	report, err := a.service.StockReport(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.CreateOrder(r.Context(), req.Quantity)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleListOrders(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	orders, err := a.service.ListOrders(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	order, err := a.service.GetOrder(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	if _, err := a.service.CancelUnpaidOrder(r.Context(), id); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMarkPaid(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	order, err := a.service.MarkPaid(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleMarkPickedUp(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	order, err := a.service.MarkPickedUp(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// handlePayment answers 200 with an empty body for notifications it ignores,
// including ones it cannot parse, so the bank does not keep retrying them.
func (a *API) handlePayment(w http.ResponseWriter, r *http.Request) {
	var note domain.PaymentNotification
	if err := decodePartnerJSON(r, &note); err != nil {
		a.logger.WithField("error", err.Error()).Warn("ignoring unreadable payment notification")
		w.WriteHeader(http.StatusOK)
		return
	}

	result, err := a.service.HandlePayment(r.Context(), note)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "Order not found"})
			return
		}
		a.writeServiceError(w, r, err)
		return
	}
	if result == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleLogistics(w http.ResponseWriter, r *http.Request) {
	var note domain.LogisticsNotification
	if err := decodePartnerJSON(r, &note); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	note.Type = strings.ToUpper(strings.TrimSpace(note.Type))
	if err := a.validate.Struct(note); err != nil {
		writeValidationError(w, err)
		return
	}

	result, err := a.service.HandleLogistics(r.Context(), note)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			message := "Order not found"
			if note.Type == domain.LogisticsDelivery {
				message = "Delivery order not found"
			}
			writeJSON(w, http.StatusNotFound, map[string]any{"error": message})
			return
		}
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleMachineFailure(w http.ResponseWriter, r *http.Request) {
	var req domain.MachineFailureRequest
	if err := decodePartnerJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeValidationError(w, err)
		return
	}

	result, err := a.service.ReportMachineFailure(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleSimulationStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.simulation.Status())
}

func (a *API) handleSimulationStart(w http.ResponseWriter, r *http.Request) {
	started := a.simulation.Start(r.Context())
	a.logger.WithFields(logrus.Fields{"actor": actorName(r.Context()), "started": started}).Info("simulation start requested")
	writeJSON(w, http.StatusOK, map[string]any{
		"started":    started,
		"simulation": a.simulation.Status(),
	})
}

func (a *API) handleSimulationStop(w http.ResponseWriter, r *http.Request) {
	a.simulation.Stop()
	a.logger.WithField("actor", actorName(r.Context())).Info("simulation stop requested")
	writeJSON(w, http.StatusOK, a.simulation.Status())
}

func (a *API) handleSimulationResume(w http.ResponseWriter, r *http.Request) {
	var req domain.ResumeSimulationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeValidationError(w, err)
		return
	}
	date, err := domain.ParseSimDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	a.simulation.Resume(r.Context(), date)
	a.logger.WithFields(logrus.Fields{"actor": actorName(r.Context()), "date": date.String()}).Info("simulation resumed")
	writeJSON(w, http.StatusOK, a.simulation.Status())
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodDelete {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"latency_ms": time.Since(startedAt).Milliseconds(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Info("request")
	})
}

// writeServiceError maps domain errors to status codes. Anything unrecognised
// is a 500 and is logged here.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		logging.LogError(a.logger, moduleName, "writeServiceError", r.Method+" "+r.URL.Path, middleware.GetReqID(r.Context()), err)
	}
	writeError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrAlreadyReceived):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrUnknownMachine),
		errors.Is(err, service.ErrUnknownItem),
		errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrInvalidTransition),
		errors.Is(err, store.ErrQuantityExceeded),
		errors.Is(err, store.ErrNoStockAvailable),
		errors.Is(err, store.ErrInvalidTransaction):
		return http.StatusBadRequest
	case errors.Is(err, partners.ErrNoAccount):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func actorName(ctx context.Context) string {
	if actor, ok := service.ActorFromContext(ctx); ok {
		return actor.Username
	}
	return ""
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, errors.New("invalid order id"))
		return 0, false
	}
	return id, true
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

// decodePartnerJSON tolerates fields we do not model; partner payloads grow.
func decodePartnerJSON(r *http.Request, dest any) error {
	return json.NewDecoder(r.Body).Decode(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeValidationError(w http.ResponseWriter, err error) {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	fields := make(map[string]string, len(validationErrors))
	for _, ve := range validationErrors {
		fields[ve.Field()] = ve.Tag()
	}
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":  "validation failed",
		"fields": fields,
	})
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; 4xx messages are meant for the caller.
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
