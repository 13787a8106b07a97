// Package payback projects the savings of a solar system over a fixed horizon
// and finds when it pays for itself, both against its cost and against what
// the same capital would have earned invested elsewhere.
package payback

import (
	"math"

	"github.com/raterudder/solarpayback/pkg/types"
	"github.com/shopspring/decimal"
)

// ExcessGenerationFraction is the share of annual usage assumed to be exported
// when selling to the grid is enabled. It is a placeholder estimate, not a
// modelled value.
const ExcessGenerationFraction = 0.2

// DaysPerYear converts daily usage to annual usage.
const DaysPerYear = 365

var (
	one            = decimal.NewFromInt(1)
	excessFraction = decimal.NewFromFloat(ExcessGenerationFraction)
)

// AnnualUsageKWh returns the yearly consumption for a daily usage.
func AnnualUsageKWh(dailyUsageKWh float64) float64 {
	return dailyUsageKWh * DaysPerYear
}

// Simulate projects a.HorizonYears years of savings for a system costing
// totalCost that offsets annualUsageKWh of grid consumption per year.
//
// Prices escalate by a.AnnualInflationRate with a zero-based exponent, so year
// 1 uses today's price. The payback years are the first year whose net is
// >= 0; later years are not re-checked. All money is computed in decimal
// without rounding.
func Simulate(a types.FinancialAssumptions, totalCost decimal.Decimal, annualUsageKWh float64) (types.Projection, error) {
	if err := a.Validate(); err != nil {
		return types.Projection{}, err
	}
	if totalCost.IsNegative() {
		return types.Projection{}, &types.InvalidInputError{Field: "totalCost", Value: totalCost.InexactFloat64(), Constraint: ">= 0"}
	}
	if !(annualUsageKWh >= 0) || math.IsInf(annualUsageKWh, 0) {
		return types.Projection{}, &types.InvalidInputError{Field: "annualUsageKwh", Value: annualUsageKWh, Constraint: ">= 0"}
	}

	proj := types.Projection{
		Assumptions:    a,
		TotalCost:      totalCost,
		AnnualUsageKWh: annualUsageKWh,
		Years:          make([]types.YearProjection, 0, a.HorizonYears),
	}

	usage := decimal.NewFromFloat(annualUsageKWh)
	// savings per unit of price: usage plus the exported share when selling
	savingsPerPrice := usage
	if a.SellToGrid {
		sellBack := decimal.NewFromFloat(a.SellBackRate)
		savingsPerPrice = usage.Add(usage.Mul(excessFraction).Mul(sellBack))
	}
	inflation := one.Add(decimal.NewFromFloat(a.AnnualInflationRate))
	opportunity := one.Add(decimal.NewFromFloat(a.OpportunityCostRate))

	// running (1+rate)^year factors, starting at year 0
	price := decimal.NewFromFloat(a.ElectricityCostPerKWh)
	growth := one
	cumulative := decimal.Zero
	for year := 0; year < a.HorizonYears; year++ {
		if year > 0 {
			price = price.Mul(inflation)
			growth = growth.Mul(opportunity)
		}

		savings := savingsPerPrice.Mul(price)
		cumulative = cumulative.Add(savings)
		investmentValue := totalCost.Mul(growth)

		yp := types.YearProjection{
			Year:                     year + 1,
			ElectricityPrice:         price,
			AnnualSavings:            savings,
			OpportunityCostOfCapital: investmentValue.Sub(totalCost),
			CumulativeSavings:        cumulative,
			SimpleNetSavings:         cumulative.Sub(totalCost),
			InvestmentAdjustedNet:    cumulative.Sub(investmentValue),
		}
		proj.Years = append(proj.Years, yp)

		if !proj.Payback.SimplePaybackYear.Reached() && !yp.SimpleNetSavings.IsNegative() {
			proj.Payback.SimplePaybackYear = types.PaybackYear(yp.Year)
		}
		if !proj.Payback.InvestmentPaybackYear.Reached() && !yp.InvestmentAdjustedNet.IsNegative() {
			proj.Payback.InvestmentPaybackYear = types.PaybackYear(yp.Year)
		}
	}

	return proj, nil
}
