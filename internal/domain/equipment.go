package domain

import "github.com/shopspring/decimal"

// EquipmentParameters describes the current machine model. Ratios are kg of
// material consumed per production cycle; ProductionRate is cases per cycle.
type EquipmentParameters struct {
	PlasticRatio      int `json:"plastic_ratio" db:"plastic_ratio"`
	AluminiumRatio    int `json:"aluminium_ratio" db:"aluminium_ratio"`
	ProductionRate    int `json:"production_rate" db:"production_rate"`
	CaseMachineWeight int `json:"case_machine_weight" db:"case_machine_weight"`
}

var DefaultEquipmentParameters = EquipmentParameters{
	PlasticRatio:      4,
	AluminiumRatio:    7,
	ProductionRate:    200,
	CaseMachineWeight: 1500,
}

// Merge replaces p wholesale with next, keeping the machine weight when next does not carry one.
func (p EquipmentParameters) Merge(next EquipmentParameters) EquipmentParameters {
	if next.CaseMachineWeight <= 0 {
		next.CaseMachineWeight = p.CaseMachineWeight
	}
	return next
}

func (p EquipmentParameters) Valid() bool {
	return p.PlasticRatio > 0 && p.AluminiumRatio > 0 && p.ProductionRate > 0
}

// MaterialPerCase returns kg of plastic and aluminium consumed per case.
func (p EquipmentParameters) MaterialPerCase() (plastic decimal.Decimal, aluminium decimal.Decimal) {
	if p.ProductionRate <= 0 {
		return decimal.Zero, decimal.Zero
	}
	rate := decimal.NewFromInt(int64(p.ProductionRate))
	return decimal.NewFromInt(int64(p.PlasticRatio)).Div(rate), decimal.NewFromInt(int64(p.AluminiumRatio)).Div(rate)
}

// MachinesForWeight converts a delivered weight into whole machines, rounding up.
func (p EquipmentParameters) MachinesForWeight(weightKg int) int {
	if weightKg <= 0 {
		return 0
	}
	if p.CaseMachineWeight <= 0 {
		return weightKg
	}
	return (weightKg + p.CaseMachineWeight - 1) / p.CaseMachineWeight
}
