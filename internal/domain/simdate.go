package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Simulated calendars use fixed-length months: 30 days per month, 12 months per year.
const (
	DaysPerMonth  = 30
	MonthsPerYear = 12
	DaysPerYear   = DaysPerMonth * MonthsPerYear
)

// SimEpoch is day zero of every simulation.
var SimEpoch = SimDate{Year: 2050, Month: 1, Day: 1}

type SimDate struct {
	Year  int
	Month int
	Day   int
}

func ParseSimDate(raw string) (SimDate, error) {
	var d SimDate
	raw = strings.TrimSpace(raw)
	if _, err := fmt.Sscanf(raw, "%d-%d-%d", &d.Year, &d.Month, &d.Day); err != nil {
		return SimDate{}, fmt.Errorf("invalid simulation date %q: expected YYYY-MM-DD", raw)
	}
	if d.Month < 1 || d.Month > MonthsPerYear || d.Day < 1 || d.Day > DaysPerMonth {
		return SimDate{}, fmt.Errorf("invalid simulation date %q: out of range", raw)
	}
	if d.DayNumber() < 0 {
		return SimDate{}, fmt.Errorf("invalid simulation date %q: before %s", raw, SimEpoch)
	}
	return d, nil
}

// DayNumber is the number of simulated days elapsed since SimEpoch.
func (d SimDate) DayNumber() int {
	return (d.Year-SimEpoch.Year)*DaysPerYear + (d.Month-SimEpoch.Month)*DaysPerMonth + (d.Day - SimEpoch.Day)
}

func SimDateFromDayNumber(n int) SimDate {
	if n < 0 {
		n = 0
	}
	return SimDate{
		Year:  SimEpoch.Year + n/DaysPerYear,
		Month: 1 + (n%DaysPerYear)/DaysPerMonth,
		Day:   1 + n%DaysPerMonth,
	}
}

func (d SimDate) AddDays(n int) SimDate {
	return SimDateFromDayNumber(d.DayNumber() + n)
}

func (d SimDate) IsZero() bool {
	return d == SimDate{}
}

func (d SimDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

func (d SimDate) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *SimDate) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseSimDate(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value stores the date as its YYYY-MM-DD text form; simulated months have
// 30 days, so dates like 2050-02-30 are not valid SQL dates.
func (d SimDate) Value() (driver.Value, error) {
	return d.String(), nil
}

func (d *SimDate) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	case nil:
		*d = SimDate{}
		return nil
	default:
		return fmt.Errorf("cannot scan %T into SimDate", src)
	}
	parsed, err := ParseSimDate(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
