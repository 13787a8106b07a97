// Command solarcalc sizes a solar and battery system from the command line
// and prints its cost and payback projection.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
	"github.com/raterudder/solarpayback/pkg/config"
	"github.com/raterudder/solarpayback/pkg/log"
	"github.com/raterudder/solarpayback/pkg/payback"
	"github.com/raterudder/solarpayback/pkg/sizing"
	"github.com/raterudder/solarpayback/pkg/types"
)

// options are the resolved command-line inputs.
type options struct {
	rates       sizing.Rates
	sizing      types.SizingInput
	assumptions types.FinancialAssumptions
	csvPath     string
}

// flagValues holds the raw flag strings. An empty string keeps the
// configured default.
type flagValues struct {
	dailyUsage  string
	backupHours string
	sunHours    string
	price       string
	inflation   string
	opportunity string
	sellToGrid  string
	sellBack    string
	csvPath     string
}

func main() {
	cfg := config.Configured()

	dailyUsage := lflag.String("daily-usage", "", "Average daily energy usage in kWh (5-100)")
	backupHours := lflag.String("backup-hours", "", "Hours of backup needed during outages (0-72)")
	sunHours := lflag.String("sun-hours", "", "Average peak sun hours per day (4.5-6.0)")
	price := lflag.String("electricity-cost", "", "Current electricity cost per kWh (1.00-10.00)")
	inflation := lflag.String("inflation", "", "Annual electricity price increase in percent (0-20)")
	opportunity := lflag.String("opportunity-cost", "", "Expected return on alternative investments in percent (0-10)")
	sellToGrid := lflag.String("sell-to-grid", "", "Sell excess energy back to the grid (true or false)")
	sellBack := lflag.String("sell-back-rate", "", "Sell-back rate as a percent of the electricity price (0-100)")
	csvPath := lflag.String("csv", "", "Also write the yearly projection to this CSV file")

	lflag.Configure()

	level, err := log.LevelFromLLog(llog.GetLevel())
	if err != nil {
		panic(err)
	}
	log.SetDefaultLogLevel(level)

	fv := flagValues{
		dailyUsage:  *dailyUsage,
		backupHours: *backupHours,
		sunHours:    *sunHours,
		price:       *price,
		inflation:   *inflation,
		opportunity: *opportunity,
		sellToGrid:  *sellToGrid,
		sellBack:    *sellBack,
		csvPath:     *csvPath,
	}

	ctx := context.Background()
	opts, err := resolveOptions(cfg, fv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := run(ctx, os.Stdout, opts); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "solarcalc failed", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseFloat(name, raw string, def float64) (float64, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid -%s %q: %w", name, raw, err)
	}
	return v, nil
}

// parsePercent parses a percent flag into a fraction.
func parsePercent(name, raw string, def float64) (float64, error) {
	if raw == "" {
		return def, nil
	}
	v, err := parseFloat(name, raw, 0)
	if err != nil {
		return 0, err
	}
	return v / 100, nil
}

// resolveOptions applies the flags over the configured defaults and checks
// them against the ranges offered to users.
func resolveOptions(cfg *config.Config, fv flagValues) (options, error) {
	opts := options{
		rates:       cfg.SizingRates(),
		sizing:      cfg.Defaults.Sizing,
		assumptions: cfg.Defaults.Assumptions,
		csvPath:     fv.csvPath,
	}
	var err error
	if opts.sizing.DailyUsageKWh, err = parseFloat("daily-usage", fv.dailyUsage, opts.sizing.DailyUsageKWh); err != nil {
		return options{}, err
	}
	if opts.sizing.BackupHours, err = parseFloat("backup-hours", fv.backupHours, opts.sizing.BackupHours); err != nil {
		return options{}, err
	}
	if opts.sizing.AvgSunHours, err = parseFloat("sun-hours", fv.sunHours, opts.sizing.AvgSunHours); err != nil {
		return options{}, err
	}
	opts.sizing.BatteryDoD = types.BatteryDoD

	a := &opts.assumptions
	if a.ElectricityCostPerKWh, err = parseFloat("electricity-cost", fv.price, a.ElectricityCostPerKWh); err != nil {
		return options{}, err
	}
	if a.AnnualInflationRate, err = parsePercent("inflation", fv.inflation, a.AnnualInflationRate); err != nil {
		return options{}, err
	}
	if a.OpportunityCostRate, err = parsePercent("opportunity-cost", fv.opportunity, a.OpportunityCostRate); err != nil {
		return options{}, err
	}
	if fv.sellToGrid != "" {
		if a.SellToGrid, err = strconv.ParseBool(fv.sellToGrid); err != nil {
			return options{}, fmt.Errorf("invalid -sell-to-grid %q: %w", fv.sellToGrid, err)
		}
	}
	if a.SellToGrid {
		if a.SellBackRate, err = parsePercent("sell-back-rate", fv.sellBack, cfg.Defaults.SellBackRate); err != nil {
			return options{}, err
		}
	} else {
		a.SellBackRate = 0
	}
	a.HorizonYears = types.HorizonYears

	if err := a.ValidateKnobs(); err != nil {
		return options{}, err
	}
	return opts, nil
}

// run sizes the system, projects its payback and prints both to w.
func run(ctx context.Context, w io.Writer, opts options) error {
	res, err := sizing.NewCalculator(opts.rates).Compute(opts.sizing)
	if err != nil {
		return err
	}
	proj, err := payback.Simulate(opts.assumptions, res.TotalCost, payback.AnnualUsageKWh(opts.sizing.DailyUsageKWh))
	if err != nil {
		return err
	}
	log.Ctx(ctx).DebugContext(ctx, "computed plan", slog.String("totalCost", res.TotalCost.String()))

	if err := printPlan(w, res, proj); err != nil {
		return err
	}

	if opts.csvPath != "" {
		f, err := os.Create(opts.csvPath)
		if err != nil {
			return fmt.Errorf("failed to create csv: %w", err)
		}
		if err := payback.WriteCSV(f, proj); err != nil {
			f.Close()
			return fmt.Errorf("failed to write csv: %w", err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to close csv: %w", err)
		}
	}
	return nil
}

func printPlan(w io.Writer, res types.SizingResult, proj types.Projection) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "Recommended system")
	fmt.Fprintf(tw, "Battery storage\t%g kWh\t(%.2f kWh usable need at %.0f%% DoD, %.2f days backup)\n",
		res.BatteryKWh, res.RawBatteryKWh, res.BatteryDoD*100, res.BackupDays)
	fmt.Fprintf(tw, "Solar array\t%.1f kWp\t(%d x %d W panels)\n", res.SolarKWp, res.PanelCount, res.PanelWatts)
	fmt.Fprintf(tw, "Hybrid inverter\t%g kVA\t\n", res.InverterKVA)
	fmt.Fprintln(tw)

	fmt.Fprintf(tw, "Estimated cost (%s)\n", res.Currency)
	for _, item := range res.CostBreakdown {
		fmt.Fprintf(tw, "%s\t%s\t\n", item.Component, item.Cost.StringFixed(2))
	}
	fmt.Fprintf(tw, "Total\t%s\t\n", res.TotalCost.StringFixed(2))
	fmt.Fprintln(tw)

	fmt.Fprintf(tw, "Payback over %d years\n", len(proj.Years))
	fmt.Fprintln(tw, "Year\tPrice/kWh\tSavings\tOpportunity cost\tCumulative\tSimple net\tInvestment net\t")
	for _, y := range proj.Years {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			y.Year, y.ElectricityPrice.StringFixed(2), y.AnnualSavings.StringFixed(2),
			y.OpportunityCostOfCapital.StringFixed(2), y.CumulativeSavings.StringFixed(2),
			y.SimpleNetSavings.StringFixed(2), y.InvestmentAdjustedNet.StringFixed(2))
	}
	fmt.Fprintln(tw)
	fmt.Fprintf(tw, "Simple payback\t%s\t\n", describePayback(proj.Payback.SimplePaybackYear, len(proj.Years)))
	fmt.Fprintf(tw, "Investment-adjusted payback\t%s\t\n", describePayback(proj.Payback.InvestmentPaybackYear, len(proj.Years)))

	return tw.Flush()
}

func describePayback(p types.PaybackYear, horizon int) string {
	if !p.Reached() {
		return fmt.Sprintf("not reached within %d years", horizon)
	}
	return fmt.Sprintf("year %d", int(p))
}
