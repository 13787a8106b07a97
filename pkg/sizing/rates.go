package sizing

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Component names, in the order they appear in a cost breakdown.
const (
	ComponentSolar        = "Solar Panels"
	ComponentBattery      = "Battery Storage"
	ComponentInverter     = "Hybrid Inverter"
	ComponentInstallation = "Installation & Misc."
)

// Rates are the per-unit prices used to cost a system. They are indicative
// averages for residential installations in South Africa.
type Rates struct {
	Currency       string
	SolarPerKWp    decimal.Decimal
	BatteryPerKWh  decimal.Decimal
	InverterPerKVA decimal.Decimal
	Installation   decimal.Decimal
}

// DefaultRates returns the built-in ZAR price list.
func DefaultRates() Rates {
	return Rates{
		Currency:       "ZAR",
		SolarPerKWp:    decimal.NewFromInt(12000),
		BatteryPerKWh:  decimal.NewFromInt(5000),
		InverterPerKVA: decimal.NewFromInt(3500),
		Installation:   decimal.NewFromInt(20000),
	}
}

// Validate returns an error if any rate is negative.
func (r Rates) Validate() error {
	if r.Currency == "" {
		return errors.New("currency is required")
	}
	if r.SolarPerKWp.IsNegative() {
		return errors.New("solar rate must be >= 0")
	}
	if r.BatteryPerKWh.IsNegative() {
		return errors.New("battery rate must be >= 0")
	}
	if r.InverterPerKVA.IsNegative() {
		return errors.New("inverter rate must be >= 0")
	}
	if r.Installation.IsNegative() {
		return errors.New("installation cost must be >= 0")
	}
	return nil
}
