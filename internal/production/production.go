package production

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"caseclosed/backend/internal/domain"
	"caseclosed/backend/internal/logging"
	"caseclosed/backend/internal/store"
)

const moduleName = "production"

type Ledger interface {
	GetStock(ctx context.Context, stockType domain.StockType) (domain.StockLevel, error)
	GetEquipmentParameters(ctx context.Context) (domain.EquipmentParameters, error)
	ApplyProduction(ctx context.Context, batch domain.ProductionBatch) error
}

// Simulator turns materials into cases once per simulated day. Each machine
// runs one batch per day; a batch consumes PlasticRatio kg of plastic and
// AluminiumRatio kg of aluminium and yields ProductionRate cases.
type Simulator struct {
	ledger Ledger
	logger logrus.FieldLogger
}

func NewSimulator(ledger Ledger, logger logrus.FieldLogger) *Simulator {
	return &Simulator{ledger: ledger, logger: logger.WithField("component", "production")}
}

func (s *Simulator) Name() string {
	return "production"
}

func (s *Simulator) Run(ctx context.Context, today domain.SimDate) error {
	batch, err := s.Produce(ctx)
	if err != nil {
		logging.LogError(s.logger, moduleName, "Run", "production failed", today.String(), err)
		return err
	}
	if batch.Batches == 0 {
		return nil
	}
	s.logger.WithFields(logrus.Fields{
		"date":           today.String(),
		"batches":        batch.Batches,
		"cases_produced": batch.CasesProduced,
	}).Info("production run complete")
	return nil
}

// Produce plans and applies one day's production. A zero batch means nothing ran.
func (s *Simulator) Produce(ctx context.Context) (domain.ProductionBatch, error) {
	params, err := s.ledger.GetEquipmentParameters(ctx)
	if err != nil {
		return domain.ProductionBatch{}, fmt.Errorf("load equipment parameters: %w", err)
	}

	levels := make(map[domain.StockType]int, 3)
	for _, stockType := range []domain.StockType{domain.StockMachine, domain.StockPlastic, domain.StockAluminium} {
		level, err := s.ledger.GetStock(ctx, stockType)
		if err != nil {
			return domain.ProductionBatch{}, fmt.Errorf("read %s stock: %w", stockType, err)
		}
		levels[stockType] = level.TotalUnits
	}

	batch := Plan(params, levels[domain.StockMachine], levels[domain.StockPlastic], levels[domain.StockAluminium])
	if batch.Batches == 0 {
		s.logger.WithFields(logrus.Fields{
			"machines":  levels[domain.StockMachine],
			"plastic":   levels[domain.StockPlastic],
			"aluminium": levels[domain.StockAluminium],
		}).Debug("production skipped")
		return batch, nil
	}

	if err := s.ledger.ApplyProduction(ctx, batch); err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			// Materials moved between the read and the write; try again tomorrow.
			s.logger.Warn("production skipped, materials changed during run")
			return domain.ProductionBatch{}, nil
		}
		return domain.ProductionBatch{}, err
	}
	return batch, nil
}

// Plan computes how many batches the current stock allows.
func Plan(params domain.EquipmentParameters, machines int, plastic int, aluminium int) domain.ProductionBatch {
	if machines <= 0 || !params.Valid() {
		return domain.ProductionBatch{}
	}
	casesPerBatch := params.ProductionRate
	capacity := machines * params.ProductionRate

	batches := capacity / casesPerBatch
	batches = min(batches, plastic/params.PlasticRatio, aluminium/params.AluminiumRatio)
	if batches <= 0 {
		return domain.ProductionBatch{}
	}
	return domain.ProductionBatch{
		Batches:       batches,
		PlasticUsed:   batches * params.PlasticRatio,
		AluminiumUsed: batches * params.AluminiumRatio,
		CasesProduced: batches * casesPerBatch,
	}
}
