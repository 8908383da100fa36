package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"caseclosed/backend/internal/domain"
	"caseclosed/backend/internal/partners"
	"caseclosed/backend/internal/store"
)

const moduleName = "service"

var (
	ErrInvalidQuantity = errors.New("quantity must be a positive multiple of 1000")
	ErrInvalidAmount   = errors.New("payment amount must not be negative")
	ErrUnknownMachine  = errors.New("unknown machine")
	ErrUnknownItem     = errors.New("unknown delivery item")
)

// CaseLotSize is the unit case orders are sold in.
const CaseLotSize = 1000

// RefundRate is the share of a payment returned on cancellation; the rest is kept as a fee.
var RefundRate = decimal.RequireFromString("0.8")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Calendar reports the current simulated date.
type Calendar interface {
	Today() domain.SimDate
}

type Pricer interface {
	UnitPrice(ctx context.Context) (decimal.Decimal, error)
}

type Options struct {
	MachineName string
	Logger      logrus.FieldLogger
	Now         func() time.Time
}

type Service struct {
	repo        store.Repository
	pricer      Pricer
	accounts    *AccountDirectory
	bank        partners.Bank
	calendar    Calendar
	machineName string
	logger      logrus.FieldLogger
	now         func() time.Time
}

func New(repo store.Repository, pricer Pricer, accounts *AccountDirectory, bank partners.Bank, calendar Calendar, opts Options) *Service {
	if opts.MachineName == "" {
		opts.MachineName = "case_machine"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Service{
		repo:        repo,
		pricer:      pricer,
		accounts:    accounts,
		bank:        bank,
		calendar:    calendar,
		machineName: strings.ToLower(strings.TrimSpace(opts.MachineName)),
		logger:      logger.WithField("component", moduleName),
		now:         opts.Now,
	}
}

func (s *Service) StockReport(ctx context.Context) (domain.StockReport, error) {
	levels, err := s.repo.ListStock(ctx)
	if err != nil {
		return domain.StockReport{}, err
	}
	reservation, err := s.repo.GetCaseReservation(ctx)
	if err != nil {
		return domain.StockReport{}, err
	}
	return domain.StockReport{
		Stock:          levels,
		AvailableCases: reservation.Available(),
		ReservedCases:  reservation.ReservedUnits,
	}, nil
}

func (s *Service) AvailableCaseUnits(ctx context.Context) (int, error) {
	reservation, err := s.repo.GetCaseReservation(ctx)
	if err != nil {
		return 0, err
	}
	return reservation.Available(), nil
}

func (s *Service) OrderStatuses() []domain.OrderStatusInfo {
	return domain.OrderStatuses()
}
