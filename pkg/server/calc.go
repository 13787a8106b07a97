package server

import (
	"log/slog"
	"net/http"

	"github.com/raterudder/solarpayback/pkg/common"
	"github.com/raterudder/solarpayback/pkg/log"
	"github.com/raterudder/solarpayback/pkg/payback"
	"github.com/raterudder/solarpayback/pkg/types"
	"github.com/shopspring/decimal"
)

// assumptionsInput is FinancialAssumptions as sent by clients. A missing
// sellBackRate falls back to the configured suggestion once selling is on.
type assumptionsInput struct {
	types.FinancialAssumptions
	SellBackRate *float64 `json:"sellBackRate,omitempty"`
}

func (s *Server) defaultAssumptionsInput() assumptionsInput {
	return assumptionsInput{FinancialAssumptions: s.cfg.Defaults.Assumptions}
}

// resolveAssumptions fixes the horizon, zeroes the sell-back rate when not
// selling and checks every knob against its offered range.
func (s *Server) resolveAssumptions(in assumptionsInput) (types.FinancialAssumptions, error) {
	a := in.FinancialAssumptions
	a.HorizonYears = types.HorizonYears
	switch {
	case !a.SellToGrid:
		a.SellBackRate = 0
	case in.SellBackRate != nil:
		a.SellBackRate = *in.SellBackRate
	default:
		a.SellBackRate = s.cfg.Defaults.SellBackRate
	}
	if err := a.ValidateKnobs(); err != nil {
		return types.FinancialAssumptions{}, err
	}
	return a, nil
}

// resolveSizing fixes the depth of discharge; clients can't change it.
func resolveSizing(in types.SizingInput) types.SizingInput {
	in.BatteryDoD = types.BatteryDoD
	return in
}

type ratesResponse struct {
	SolarPerKWp    decimal.Decimal `json:"solarPerKwp"`
	BatteryPerKWh  decimal.Decimal `json:"batteryPerKwh"`
	InverterPerKVA decimal.Decimal `json:"inverterPerKva"`
	Installation   decimal.Decimal `json:"installation"`
}

// DefaultsRes is the response type for GetDefaults
type DefaultsRes struct {
	Currency              string                     `json:"currency"`
	Rates                 ratesResponse              `json:"rates"`
	Sizing                types.SizingInput          `json:"sizing"`
	Assumptions           types.FinancialAssumptions `json:"assumptions"`
	SuggestedSellBackRate float64                    `json:"suggestedSellBackRate"`
	HorizonYears          int                        `json:"horizonYears"`
	Ranges                map[string]types.Range     `json:"ranges"`
	Release               string                     `json:"release"`
	Version               string                     `json:"version"`
}

func (s *Server) handleDefaults(w http.ResponseWriter, r *http.Request) {
	rates := s.calc.Rates()
	resp := DefaultsRes{
		Currency: rates.Currency,
		Rates: ratesResponse{
			SolarPerKWp:    rates.SolarPerKWp,
			BatteryPerKWh:  rates.BatteryPerKWh,
			InverterPerKVA: rates.InverterPerKVA,
			Installation:   rates.Installation,
		},
		Sizing:                s.cfg.Defaults.Sizing,
		Assumptions:           s.cfg.Defaults.Assumptions,
		SuggestedSellBackRate: s.cfg.Defaults.SellBackRate,
		HorizonYears:          types.HorizonYears,
		Ranges: map[string]types.Range{
			"dailyUsageKwh":         types.DailyUsageKWhRange,
			"backupHours":           types.BackupHoursRange,
			"avgSunHours":           types.AvgSunHoursRange,
			"electricityCostPerKwh": types.ElectricityCostRange,
			"annualInflationRate":   types.AnnualInflationRateRange,
			"opportunityCostRate":   types.OpportunityCostRateRange,
			"sellBackRate":          types.SellBackRateRange,
		},
		Release: s.release,
		Version: common.Version(),
	}

	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSizing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	in := s.cfg.Defaults.Sizing
	if err := decodeBody(w, r, &in); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode sizing input", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	in = resolveSizing(in)

	res, err := s.calc.Compute(in)
	if err != nil {
		writeCalcError(ctx, w, err)
		return
	}

	sess, err := s.loadSession(ctx, s.getSessionID(r))
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get session", slog.Any("error", err))
		writeJSONError(w, "failed to get session", http.StatusInternalServerError)
		return
	}
	sess.Sizing = &in
	sess.Result = &res
	if err := s.saveSession(ctx, sess); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save session", slog.Any("error", err))
		writeJSONError(w, "failed to save session", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// PaybackReq is the request type for Payback. TotalCost and AnnualUsageKWh
// default to the session's last sizing.
type PaybackReq struct {
	assumptionsInput
	TotalCost      *decimal.Decimal `json:"totalCost,omitempty"`
	AnnualUsageKWh *float64         `json:"annualUsageKwh,omitempty"`
}

func (s *Server) handlePayback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := PaybackReq{assumptionsInput: s.defaultAssumptionsInput()}
	if err := decodeBody(w, r, &req); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode payback input", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	a, err := s.resolveAssumptions(req.assumptionsInput)
	if err != nil {
		writeCalcError(ctx, w, err)
		return
	}

	sess, err := s.loadSession(ctx, s.getSessionID(r))
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get session", slog.Any("error", err))
		writeJSONError(w, "failed to get session", http.StatusInternalServerError)
		return
	}

	totalCost, usage := req.TotalCost, req.AnnualUsageKWh
	if sess.Result != nil && sess.Sizing != nil {
		if totalCost == nil {
			tc := sess.Result.TotalCost
			totalCost = &tc
		}
		if usage == nil {
			u := payback.AnnualUsageKWh(sess.Sizing.DailyUsageKWh)
			usage = &u
		}
	}
	if totalCost == nil || usage == nil {
		writeJSONError(w, "no system sized yet: run a sizing first or provide totalCost and annualUsageKwh", http.StatusConflict)
		return
	}

	proj, err := payback.Simulate(a, *totalCost, *usage)
	if err != nil {
		writeCalcError(ctx, w, err)
		return
	}

	sess.Assumptions = &a
	if err := s.saveSession(ctx, sess); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save session", slog.Any("error", err))
		writeJSONError(w, "failed to save session", http.StatusInternalServerError)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="payback.csv"`)
		if err := payback.WriteCSV(w, proj); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to write csv", slog.Any("error", err))
			panic(http.ErrAbortHandler)
		}
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

// PlanReq is the request type for Plan.
type PlanReq struct {
	Sizing      types.SizingInput `json:"sizing"`
	Assumptions assumptionsInput  `json:"assumptions"`
}

// PlanRes is the response type for Plan.
type PlanRes struct {
	Sizing  types.SizingResult `json:"sizing"`
	Payback types.Projection   `json:"payback"`
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := PlanReq{
		Sizing:      s.cfg.Defaults.Sizing,
		Assumptions: s.defaultAssumptionsInput(),
	}
	if err := decodeBody(w, r, &req); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode plan input", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	in := resolveSizing(req.Sizing)
	a, err := s.resolveAssumptions(req.Assumptions)
	if err != nil {
		writeCalcError(ctx, w, err)
		return
	}

	res, proj, err := s.plan(in, a)
	if err != nil {
		writeCalcError(ctx, w, err)
		return
	}

	sess, err := s.loadSession(ctx, s.getSessionID(r))
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get session", slog.Any("error", err))
		writeJSONError(w, "failed to get session", http.StatusInternalServerError)
		return
	}
	sess.Sizing = &in
	sess.Result = &res
	sess.Assumptions = &a
	if err := s.saveSession(ctx, sess); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save session", slog.Any("error", err))
		writeJSONError(w, "failed to save session", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, PlanRes{Sizing: res, Payback: proj})
}

// plan sizes the system for in and projects its payback under a.
func (s *Server) plan(in types.SizingInput, a types.FinancialAssumptions) (types.SizingResult, types.Projection, error) {
	res, err := s.calc.Compute(in)
	if err != nil {
		return types.SizingResult{}, types.Projection{}, err
	}
	proj, err := payback.Simulate(a, res.TotalCost, payback.AnnualUsageKWh(in.DailyUsageKWh))
	if err != nil {
		return types.SizingResult{}, types.Projection{}, err
	}
	return res, proj, nil
}
