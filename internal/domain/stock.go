package domain

import (
	"fmt"
	"strings"
)

type StockType string

const (
	StockPlastic   StockType = "plastic"
	StockAluminium StockType = "aluminium"
	StockMachine   StockType = "machine"
	StockCase      StockType = "case"
)

// StockTypes lists every ledger row in stock_types id order.
var StockTypes = []StockType{StockPlastic, StockAluminium, StockMachine, StockCase}

func ParseStockType(raw string) (StockType, error) {
	switch StockType(strings.ToLower(strings.TrimSpace(raw))) {
	case StockPlastic:
		return StockPlastic, nil
	case StockAluminium, "aluminum":
		return StockAluminium, nil
	case StockMachine:
		return StockMachine, nil
	case StockCase, "cases":
		return StockCase, nil
	}
	return "", fmt.Errorf("unknown stock type %q", raw)
}

func (t StockType) IsMaterial() bool {
	return t == StockPlastic || t == StockAluminium
}

type StockLevel struct {
	Type         StockType `json:"stock_type" db:"name"`
	TotalUnits   int       `json:"total_units" db:"total_units"`
	OrderedUnits int       `json:"ordered_units" db:"ordered_units"`
}

// CaseReservation splits on-hand case stock into units already promised to open
// orders and units that can still be sold.
type CaseReservation struct {
	TotalUnits    int `json:"total_units"`
	ReservedUnits int `json:"reserved_units"`
}

func (r CaseReservation) Available() int {
	available := r.TotalUnits - r.ReservedUnits
	if available < 0 {
		return 0
	}
	return available
}

// ProductionBatch is one atomic production run: materials out, cases in.
type ProductionBatch struct {
	Batches       int `json:"batches"`
	PlasticUsed   int `json:"plastic_used"`
	AluminiumUsed int `json:"aluminium_used"`
	CasesProduced int `json:"cases_produced"`
}

type StockReport struct {
	Stock          []StockLevel `json:"stock"`
	AvailableCases int          `json:"available_cases"`
	ReservedCases  int          `json:"reserved_cases"`
}
