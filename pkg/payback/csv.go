package payback

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/raterudder/solarpayback/pkg/types"
)

var csvHeader = []string{
	"year",
	"electricity_price",
	"annual_savings",
	"opportunity_cost",
	"cumulative_savings",
	"simple_net_savings",
	"investment_adjusted_net",
}

// WriteCSV writes one row per projected year to w. Money is rounded to
// cents.
func WriteCSV(w io.Writer, p types.Projection) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, y := range p.Years {
		row := []string{
			strconv.Itoa(y.Year),
			y.ElectricityPrice.StringFixed(2),
			y.AnnualSavings.StringFixed(2),
			y.OpportunityCostOfCapital.StringFixed(2),
			y.CumulativeSavings.StringFixed(2),
			y.SimpleNetSavings.StringFixed(2),
			y.InvestmentAdjustedNet.StringFixed(2),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
