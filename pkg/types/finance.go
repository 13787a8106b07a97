package types

import (
	"encoding/json"
	"math"

	"github.com/shopspring/decimal"
)

// HorizonYears is the fixed length of every payback projection.
const HorizonYears = 25

// Ranges accepted from the user for financial assumptions. The calculators
// themselves only require the weaker constraints in Validate.
var (
	ElectricityCostRange     = Range{Min: 1.0, Max: 10.0}
	AnnualInflationRateRange = Range{Min: 0, Max: 0.20}
	OpportunityCostRateRange = Range{Min: 0, Max: 0.10}
	SellBackRateRange        = Range{Min: 0, Max: 1}
)

// FinancialAssumptions are the tariff and capital assumptions for a payback
// projection. SellBackRate must be 0 unless SellToGrid is set.
type FinancialAssumptions struct {
	ElectricityCostPerKWh float64 `json:"electricityCostPerKwh" yaml:"electricity_cost_per_kwh"`
	AnnualInflationRate   float64 `json:"annualInflationRate" yaml:"annual_inflation_rate"`
	OpportunityCostRate   float64 `json:"opportunityCostRate" yaml:"opportunity_cost_rate"`
	SellToGrid            bool    `json:"sellToGrid" yaml:"sell_to_grid"`
	SellBackRate          float64 `json:"sellBackRate" yaml:"sell_back_rate"`
	HorizonYears          int     `json:"horizonYears" yaml:"-"`
}

// Validate checks the constraints the payback simulation depends on.
func (a FinancialAssumptions) Validate() error {
	if !(a.ElectricityCostPerKWh > 0) || math.IsInf(a.ElectricityCostPerKWh, 0) {
		return &InvalidInputError{Field: "electricityCostPerKwh", Value: a.ElectricityCostPerKWh, Constraint: "> 0"}
	}
	if !(a.AnnualInflationRate >= 0) || math.IsInf(a.AnnualInflationRate, 0) {
		return &InvalidInputError{Field: "annualInflationRate", Value: a.AnnualInflationRate, Constraint: ">= 0"}
	}
	if !(a.OpportunityCostRate >= 0) || math.IsInf(a.OpportunityCostRate, 0) {
		return &InvalidInputError{Field: "opportunityCostRate", Value: a.OpportunityCostRate, Constraint: ">= 0"}
	}
	if a.SellToGrid {
		if err := SellBackRateRange.check("sellBackRate", a.SellBackRate); err != nil {
			return err
		}
	} else if a.SellBackRate != 0 {
		return &InvalidInputError{Field: "sellBackRate", Value: a.SellBackRate, Constraint: "0 when sellToGrid is false"}
	}
	if a.HorizonYears < 1 {
		return &InvalidInputError{Field: "horizonYears", Value: float64(a.HorizonYears), Constraint: ">= 1"}
	}
	return nil
}

// ValidateKnobs checks the assumptions against the ranges offered to users, in
// addition to Validate.
func (a FinancialAssumptions) ValidateKnobs() error {
	if err := ElectricityCostRange.check("electricityCostPerKwh", a.ElectricityCostPerKWh); err != nil {
		return err
	}
	if err := AnnualInflationRateRange.check("annualInflationRate", a.AnnualInflationRate); err != nil {
		return err
	}
	if err := OpportunityCostRateRange.check("opportunityCostRate", a.OpportunityCostRate); err != nil {
		return err
	}
	return a.Validate()
}

// YearProjection is one year of the payback projection. Year is 1-based.
// Money values are unrounded.
type YearProjection struct {
	Year                     int             `json:"year"`
	ElectricityPrice         decimal.Decimal `json:"electricityPrice"`
	AnnualSavings            decimal.Decimal `json:"annualSavings"`
	OpportunityCostOfCapital decimal.Decimal `json:"opportunityCostOfCapital"`
	CumulativeSavings        decimal.Decimal `json:"cumulativeSavings"`
	SimpleNetSavings         decimal.Decimal `json:"simpleNetSavings"`
	InvestmentAdjustedNet    decimal.Decimal `json:"investmentAdjustedNet"`
}

// PaybackYear is the 1-based year in which a payback was first reached. The
// zero value means it was not reached within the horizon.
type PaybackYear int

// NotReached is the PaybackYear for a payback outside the horizon.
const NotReached PaybackYear = 0

// Reached returns true if the payback happened within the horizon.
func (p PaybackYear) Reached() bool {
	return p > NotReached
}

// MarshalJSON encodes NotReached as null.
func (p PaybackYear) MarshalJSON() ([]byte, error) {
	if !p.Reached() {
		return []byte("null"), nil
	}
	return json.Marshal(int(p))
}

// UnmarshalJSON decodes null as NotReached.
func (p *PaybackYear) UnmarshalJSON(b []byte) error {
	var v *int
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if v == nil {
		*p = NotReached
		return nil
	}
	*p = PaybackYear(*v)
	return nil
}

// PaybackResult holds the two break-even years.
type PaybackResult struct {
	SimplePaybackYear     PaybackYear `json:"simplePaybackYear"`
	InvestmentPaybackYear PaybackYear `json:"investmentPaybackYear"`
}

// Projection is the full output of a payback simulation.
type Projection struct {
	Assumptions    FinancialAssumptions `json:"assumptions"`
	TotalCost      decimal.Decimal      `json:"totalCost"`
	AnnualUsageKWh float64              `json:"annualUsageKwh"`
	Years          []YearProjection     `json:"years"`
	Payback        PaybackResult        `json:"payback"`
}
