package types

import "time"

// Session is what the presentation layer remembers between requests from the
// same browser: the most recent sizing and the assumptions last used. It is
// the explicit replacement for sharing totalCost through global state.
type Session struct {
	ID          string                `json:"id"`
	Sizing      *SizingInput          `json:"sizing,omitempty"`
	Result      *SizingResult         `json:"result,omitempty"`
	Assumptions *FinancialAssumptions `json:"assumptions,omitempty"`
	UpdatedAt   time.Time             `json:"updatedAt"`
	ExpiresAt   time.Time             `json:"expiresAt"`
}

// Expired returns true if the session is no longer valid at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// DefaultSizingInput returns the sizing defaults offered to a new user.
func DefaultSizingInput() SizingInput {
	return SizingInput{
		DailyUsageKWh: 20,
		BackupHours:   12,
		AvgSunHours:   5.0,
		BatteryDoD:    BatteryDoD,
	}
}

// DefaultAssumptions returns the financial defaults offered to a new user.
// The sell-back rate default only applies once selling to the grid is enabled.
func DefaultAssumptions() FinancialAssumptions {
	return FinancialAssumptions{
		ElectricityCostPerKWh: 3.35,
		AnnualInflationRate:   0.05,
		OpportunityCostRate:   0.05,
		SellToGrid:            false,
		SellBackRate:          0,
		HorizonYears:          HorizonYears,
	}
}

// DefaultSellBackRate is the sell-back rate suggested when selling to the grid
// is first enabled.
const DefaultSellBackRate = 0.15
