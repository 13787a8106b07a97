package types

import (
	"github.com/shopspring/decimal"
)

// BatteryDoD is the usable fraction of battery capacity (LiFePO4 typical).
const BatteryDoD = 0.8

// Documented input ranges for system sizing.
var (
	DailyUsageKWhRange = Range{Min: 5, Max: 100}
	BackupHoursRange   = Range{Min: 0, Max: 72}
	AvgSunHoursRange   = Range{Min: 4.5, Max: 6.0}
)

// SizingInput is the household's consumption, backup and insolation profile.
type SizingInput struct {
	DailyUsageKWh float64 `json:"dailyUsageKwh" yaml:"daily_usage_kwh"`
	BackupHours   float64 `json:"backupHours" yaml:"backup_hours"`
	AvgSunHours   float64 `json:"avgSunHours" yaml:"avg_sun_hours"`
	BatteryDoD    float64 `json:"batteryDoD" yaml:"-"`
}

// Validate checks every field against its documented range.
func (in SizingInput) Validate() error {
	if err := DailyUsageKWhRange.check("dailyUsageKwh", in.DailyUsageKWh); err != nil {
		return err
	}
	if err := BackupHoursRange.check("backupHours", in.BackupHours); err != nil {
		return err
	}
	if err := AvgSunHoursRange.check("avgSunHours", in.AvgSunHours); err != nil {
		return err
	}
	// NaN fails both comparisons
	if !(in.BatteryDoD > 0 && in.BatteryDoD <= 1) {
		return &InvalidInputError{Field: "batteryDoD", Value: in.BatteryDoD, Constraint: "in (0, 1]"}
	}
	return nil
}

// CostItem is one line of the cost breakdown.
type CostItem struct {
	Component string          `json:"component"`
	Cost      decimal.Decimal `json:"cost"`
}

// SizingResult is the recommended system and what it costs.
type SizingResult struct {
	BackupDays    float64 `json:"backupDays"`
	BatteryDoD    float64 `json:"batteryDoD"`
	RawBatteryKWh float64 `json:"rawBatteryKwh"`
	BatteryKWh    float64 `json:"batteryKwh"`
	RawSolarKWp   float64 `json:"rawSolarKwp"`
	SolarKWp      float64 `json:"solarKwp"`
	PanelCount    int     `json:"panelCount"`
	PanelWatts    int     `json:"panelWatts"`
	InverterKVA   float64 `json:"inverterKva"`

	Currency      string          `json:"currency"`
	CostBreakdown []CostItem      `json:"costBreakdown"`
	TotalCost     decimal.Decimal `json:"totalCost"`
}
