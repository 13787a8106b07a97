// Package config loads the cost rates and the default inputs offered to users
// from a YAML file. Fields left out of the file keep their built-in values.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/solarpayback/pkg/sizing"
	"github.com/raterudder/solarpayback/pkg/types"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration shape (YAML).
type Config struct {
	Currency string      `yaml:"currency"`
	Rates    RatesConfig `yaml:"rates"`
	Defaults Defaults    `yaml:"defaults"`
}

// RatesConfig holds the per-unit costs in Currency.
type RatesConfig struct {
	SolarPerKWp    float64 `yaml:"solar_per_kwp"`
	BatteryPerKWh  float64 `yaml:"battery_per_kwh"`
	InverterPerKVA float64 `yaml:"inverter_per_kva"`
	Installation   float64 `yaml:"installation"`
}

// Defaults are the inputs a new session starts with.
type Defaults struct {
	Sizing      types.SizingInput          `yaml:"sizing"`
	Assumptions types.FinancialAssumptions `yaml:"assumptions"`

	// SellBackRate is offered once selling to the grid is enabled. It is
	// split out of Assumptions so a disabled sell-back keeps a zero rate.
	SellBackRate float64 `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() Config {
	c := unnormalized()
	c.normalize()
	return c
}

func unnormalized() Config {
	r := sizing.DefaultRates()
	assumptions := types.DefaultAssumptions()
	assumptions.SellBackRate = types.DefaultSellBackRate
	return Config{
		Currency: r.Currency,
		Rates: RatesConfig{
			SolarPerKWp:    r.SolarPerKWp.InexactFloat64(),
			BatteryPerKWh:  r.BatteryPerKWh.InexactFloat64(),
			InverterPerKVA: r.InverterPerKVA.InexactFloat64(),
			Installation:   r.Installation.InexactFloat64(),
		},
		Defaults: Defaults{
			Sizing:      types.DefaultSizingInput(),
			Assumptions: assumptions,
		},
	}
}

// normalize moves the suggested sell-back rate out of the assumptions when
// selling to the grid is off by default.
func (c *Config) normalize() {
	c.Defaults.SellBackRate = c.Defaults.Assumptions.SellBackRate
	if !c.Defaults.Assumptions.SellToGrid {
		c.Defaults.Assumptions.SellBackRate = 0
	}
}

// Load reads path on top of the built-in configuration and validates it.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes raw YAML on top of the built-in configuration and validates
// the result.
func Parse(raw []byte) (*Config, error) {
	c := unnormalized()
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the rates are usable and that every default lies inside
// the ranges offered to users.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if err := c.SizingRates().Validate(); err != nil {
		return fmt.Errorf("rates invalid: %w", err)
	}
	if err := c.Defaults.Sizing.Validate(); err != nil {
		return fmt.Errorf("defaults.sizing invalid: %w", err)
	}
	if err := c.Defaults.Assumptions.ValidateKnobs(); err != nil {
		return fmt.Errorf("defaults.assumptions invalid: %w", err)
	}
	if !types.SellBackRateRange.Contains(c.Defaults.SellBackRate) {
		return fmt.Errorf("defaults.assumptions.sell_back_rate must be %s", types.SellBackRateRange)
	}
	return nil
}

// SizingRates converts the configured rates for the calculator.
func (c *Config) SizingRates() sizing.Rates {
	return sizing.Rates{
		Currency:       c.Currency,
		SolarPerKWp:    decimal.NewFromFloat(c.Rates.SolarPerKWp),
		BatteryPerKWh:  decimal.NewFromFloat(c.Rates.BatteryPerKWh),
		InverterPerKVA: decimal.NewFromFloat(c.Rates.InverterPerKVA),
		Installation:   decimal.NewFromFloat(c.Rates.Installation),
	}
}

// Configured registers the config flag and returns the configuration, which
// is loaded once flags are parsed.
func Configured() *Config {
	path := lflag.String("config", "", "Path to a YAML file with cost rates and default inputs")

	c := Default()
	lflag.Do(func() {
		if *path == "" {
			return
		}
		loaded, err := Load(*path)
		if err != nil {
			panic(fmt.Sprintf("config load failed: %v", err))
		}
		c = *loaded
	})
	return &c
}
