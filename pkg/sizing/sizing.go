// Package sizing turns a household's consumption, backup and insolation
// profile into battery, solar and inverter capacities and their cost.
//
// Every capacity is rounded up so the system is never undersized. The
// arithmetic is done in decimal so a value that is already a multiple of its
// rounding unit stays where it is.
package sizing

import (
	"github.com/raterudder/solarpayback/pkg/types"
	"github.com/shopspring/decimal"
)

const (
	// BatteryStepKWh is the battery capacity increment.
	BatteryStepKWh = 5
	// PanelWatts is the rating of the panel used for the panel count.
	PanelWatts = 400
)

var (
	hoursPerDay     = decimal.NewFromInt(24)
	batteryStep     = decimal.NewFromInt(BatteryStepKWh)
	solarStepsPerKW = decimal.NewFromInt(2) // 0.5 kWp increments
	panelsPerKWp    = decimal.NewFromInt(1000).Div(decimal.NewFromInt(PanelWatts))

	// peak load is approximated as daily energy / 5, plus a 25% margin
	inverterMargin    = decimal.RequireFromString("1.25")
	peakLoadDivisorKW = decimal.NewFromInt(5)
)

// Calculator sizes systems against a fixed set of rates. It holds no mutable
// state and is safe for concurrent use.
type Calculator struct {
	rates Rates
}

// NewCalculator returns a Calculator that costs systems with rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Rates returns the rates used for costing.
func (c *Calculator) Rates() Rates {
	return c.rates
}

// Compute sizes and costs a system for in. It returns a
// *types.InvalidInputError if any field is outside its documented range.
func (c *Calculator) Compute(in types.SizingInput) (types.SizingResult, error) {
	if err := in.Validate(); err != nil {
		return types.SizingResult{}, err
	}

	usage := decimal.NewFromFloat(in.DailyUsageKWh)
	backupHours := decimal.NewFromFloat(in.BackupHours)
	sunHours := decimal.NewFromFloat(in.AvgSunHours)
	dod := decimal.NewFromFloat(in.BatteryDoD)

	// usage * (hours / 24) / dod, with a single division so exact multiples
	// of the step survive the ceiling
	batteryDenom := hoursPerDay.Mul(dod)
	rawBattery := usage.Mul(backupHours).Div(batteryDenom)
	battery := usage.Mul(backupHours).Div(batteryDenom.Mul(batteryStep)).Ceil().Mul(batteryStep)

	rawSolar := usage.Div(sunHours)
	solar := usage.Mul(solarStepsPerKW).Div(sunHours).Ceil().Div(solarStepsPerKW)

	panels := solar.Mul(panelsPerKWp).Round(0)

	inverter := usage.Mul(inverterMargin).Div(peakLoadDivisorKW).Ceil()

	breakdown := []types.CostItem{
		{Component: ComponentSolar, Cost: solar.Mul(c.rates.SolarPerKWp)},
		{Component: ComponentBattery, Cost: battery.Mul(c.rates.BatteryPerKWh)},
		{Component: ComponentInverter, Cost: inverter.Mul(c.rates.InverterPerKVA)},
		{Component: ComponentInstallation, Cost: c.rates.Installation},
	}
	total := decimal.Zero
	for _, item := range breakdown {
		total = total.Add(item.Cost)
	}

	return types.SizingResult{
		BackupDays:    backupHours.Div(hoursPerDay).InexactFloat64(),
		BatteryDoD:    in.BatteryDoD,
		RawBatteryKWh: rawBattery.InexactFloat64(),
		BatteryKWh:    battery.InexactFloat64(),
		RawSolarKWp:   rawSolar.InexactFloat64(),
		SolarKWp:      solar.InexactFloat64(),
		PanelCount:    int(panels.IntPart()),
		PanelWatts:    PanelWatts,
		InverterKVA:   inverter.InexactFloat64(),
		Currency:      c.rates.Currency,
		CostBreakdown: breakdown,
		TotalCost:     total,
	}, nil
}
