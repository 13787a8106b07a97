package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/raterudder/solarpayback/pkg/config"
	"github.com/raterudder/solarpayback/pkg/payback"
	"github.com/raterudder/solarpayback/pkg/sizing"
	"github.com/raterudder/solarpayback/pkg/storage"
	"github.com/raterudder/solarpayback/pkg/storage/storagemock"
	"github.com/raterudder/solarpayback/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

// newTestStore returns a memory store on the same fixed clock as
// newTestServer.
func newTestStore() *storage.MemoryProvider {
	return storage.NewMemoryProviderWithClock(func() time.Time { return testNow })
}

func newTestServer(db storage.Database) *Server {
	cfg := config.Default()
	return &Server{
		cfg:        &cfg,
		calc:       sizing.NewCalculator(cfg.SizingRates()),
		storage:    db,
		listenAddr: ":8080",
		release:    "test",
		serverName: "solarpayback",
		sessionTTL: time.Hour,
		now:        func() time.Time { return testNow },
	}
}

// doReq sends body as JSON through the full handler chain.
func doReq(t *testing.T, h http.Handler, method, target string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func sessionCookieFrom(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == sessionCookie {
			return c
		}
	}
	require.FailNow(t, "no session cookie set")
	return nil
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(newTestStore())
	w := doReq(t, srv.setupHandler(), "GET", "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.Equal(t, "solarpayback", w.Header().Get("Server"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestDefaults(t *testing.T) {
	srv := newTestServer(newTestStore())
	w := doReq(t, srv.setupHandler(), "GET", "/api/defaults", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp DefaultsRes
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ZAR", resp.Currency)
	assert.True(t, decimal.NewFromInt(12000).Equal(resp.Rates.SolarPerKWp))
	assert.Equal(t, types.DefaultSizingInput(), resp.Sizing)
	assert.Equal(t, types.DefaultAssumptions(), resp.Assumptions)
	assert.Equal(t, types.DefaultSellBackRate, resp.SuggestedSellBackRate)
	assert.Equal(t, types.HorizonYears, resp.HorizonYears)
	assert.Equal(t, types.AvgSunHoursRange, resp.Ranges["avgSunHours"])
	assert.Equal(t, "test", resp.Release)
	assert.NotEmpty(t, resp.Version)
}

func TestSizing(t *testing.T) {
	db := newTestStore()
	srv := newTestServer(db)
	h := srv.setupHandler()

	t.Run("Defaults", func(t *testing.T) {
		w := doReq(t, h, "POST", "/api/sizing", types.SizingInput{DailyUsageKWh: 20, BackupHours: 12, AvgSunHours: 5})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var res types.SizingResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.Equal(t, 15.0, res.BatteryKWh)
		assert.Equal(t, 4.0, res.SolarKWp)
		assert.Equal(t, 5.0, res.InverterKVA)
		assert.Equal(t, 10, res.PanelCount)
		assert.True(t, decimal.NewFromInt(160500).Equal(res.TotalCost), res.TotalCost.String())

		c := sessionCookieFrom(t, w)
		assert.True(t, c.HttpOnly)
		sess, err := db.GetSession(t.Context(), c.Value)
		require.NoError(t, err)
		require.NotNil(t, sess.Result)
		assert.Equal(t, 15.0, sess.Result.BatteryKWh)
		assert.Equal(t, types.BatteryDoD, sess.Sizing.BatteryDoD)
		assert.Equal(t, testNow.Add(time.Hour), sess.ExpiresAt)
	})

	t.Run("Empty Body Uses Defaults", func(t *testing.T) {
		w := doReq(t, h, "POST", "/api/sizing", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var res types.SizingResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.True(t, decimal.NewFromInt(160500).Equal(res.TotalCost))
	})

	t.Run("Depth Of Discharge Is Fixed", func(t *testing.T) {
		w := doReq(t, h, "POST", "/api/sizing", map[string]any{"dailyUsageKwh": 20, "backupHours": 12, "avgSunHours": 5, "batteryDoD": 0.1})
		require.Equal(t, http.StatusOK, w.Code)
		var res types.SizingResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.Equal(t, types.BatteryDoD, res.BatteryDoD)
		assert.Equal(t, 15.0, res.BatteryKWh)
	})

	t.Run("Out Of Range", func(t *testing.T) {
		w := doReq(t, h, "POST", "/api/sizing", map[string]any{"dailyUsageKwh": 150})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		var resp errorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "dailyUsageKwh", resp.Field)
		assert.Contains(t, resp.Error, "dailyUsageKwh")
	})

	t.Run("Invalid Body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/sizing", strings.NewReader("{"))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Wrong Method", func(t *testing.T) {
		w := doReq(t, h, "GET", "/api/sizing", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestPayback(t *testing.T) {
	db := newTestStore()
	srv := newTestServer(db)
	h := srv.setupHandler()

	decode := func(t *testing.T, w *httptest.ResponseRecorder) types.Projection {
		t.Helper()
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var proj types.Projection
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &proj))
		return proj
	}

	t.Run("No Sizing Yet", func(t *testing.T) {
		w := doReq(t, h, "POST", "/api/payback", map[string]any{})
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("Explicit Cost", func(t *testing.T) {
		proj := decode(t, doReq(t, h, "POST", "/api/payback", map[string]any{
			"electricityCostPerKwh": 3.35,
			"annualInflationRate":   0.05,
			"opportunityCostRate":   0.05,
			"totalCost":             175000,
			"annualUsageKwh":        7300,
		}))
		assert.Len(t, proj.Years, types.HorizonYears)
		assert.Equal(t, types.PaybackYear(7), proj.Payback.SimplePaybackYear)
		assert.Equal(t, types.PaybackYear(9), proj.Payback.InvestmentPaybackYear)
	})

	t.Run("Cost Keeps Its Cents", func(t *testing.T) {
		for _, cost := range []any{"160500.37", 160500.37} {
			proj := decode(t, doReq(t, h, "POST", "/api/payback", map[string]any{
				"totalCost":      cost,
				"annualUsageKwh": 7300,
			}))
			assert.True(t, decimal.RequireFromString("160500.37").Equal(proj.TotalCost), proj.TotalCost.String())
			// 7300 * 3.35 - 160500.37
			assert.True(t, decimal.RequireFromString("-136045.37").Equal(proj.Years[0].SimpleNetSavings), proj.Years[0].SimpleNetSavings.String())
		}
	})

	t.Run("Uses Session Sizing", func(t *testing.T) {
		w := doReq(t, h, "POST", "/api/sizing", types.SizingInput{DailyUsageKWh: 20, BackupHours: 12, AvgSunHours: 5})
		require.Equal(t, http.StatusOK, w.Code)
		c := sessionCookieFrom(t, w)

		proj := decode(t, doReq(t, h, "POST", "/api/payback", map[string]any{}, c))
		assert.True(t, decimal.NewFromInt(160500).Equal(proj.TotalCost), proj.TotalCost.String())
		assert.Equal(t, 7300.0, proj.AnnualUsageKWh)

		want, err := payback.Simulate(types.DefaultAssumptions(), decimal.NewFromInt(160500), 7300)
		require.NoError(t, err)
		assert.Equal(t, want.Payback, proj.Payback)

		sess, err := db.GetSession(t.Context(), c.Value)
		require.NoError(t, err)
		require.NotNil(t, sess.Assumptions)
		assert.Equal(t, types.DefaultAssumptions(), *sess.Assumptions)

		t.Run("CSV", func(t *testing.T) {
			w := doReq(t, h, "POST", "/api/payback?format=csv", map[string]any{}, c)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
			lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
			assert.Len(t, lines, types.HorizonYears+1)
			assert.True(t, strings.HasPrefix(lines[0], "year,"))
		})
	})

	t.Run("Sell Back Rate Ignored When Not Selling", func(t *testing.T) {
		proj := decode(t, doReq(t, h, "POST", "/api/payback", map[string]any{
			"sellToGrid":     false,
			"sellBackRate":   0.5,
			"totalCost":      100000,
			"annualUsageKwh": 7300,
		}))
		assert.Equal(t, 0.0, proj.Assumptions.SellBackRate)
	})

	t.Run("Sell Back Rate Defaults When Selling", func(t *testing.T) {
		proj := decode(t, doReq(t, h, "POST", "/api/payback", map[string]any{
			"sellToGrid":     true,
			"totalCost":      100000,
			"annualUsageKwh": 7300,
		}))
		assert.Equal(t, types.DefaultSellBackRate, proj.Assumptions.SellBackRate)

		proj = decode(t, doReq(t, h, "POST", "/api/payback", map[string]any{
			"sellToGrid":     true,
			"sellBackRate":   0.4,
			"totalCost":      100000,
			"annualUsageKwh": 7300,
		}))
		assert.Equal(t, 0.4, proj.Assumptions.SellBackRate)
	})

	t.Run("Knob Out Of Range", func(t *testing.T) {
		w := doReq(t, h, "POST", "/api/payback", map[string]any{
			"electricityCostPerKwh": 12,
			"totalCost":             100000,
			"annualUsageKwh":        7300,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		var resp errorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "electricityCostPerKwh", resp.Field)
	})

	t.Run("Negative Cost", func(t *testing.T) {
		w := doReq(t, h, "POST", "/api/payback", map[string]any{
			"totalCost":      -1,
			"annualUsageKwh": 7300,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		var resp errorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "totalCost", resp.Field)
	})
}

func TestPlan(t *testing.T) {
	db := newTestStore()
	srv := newTestServer(db)
	h := srv.setupHandler()

	w := doReq(t, h, "POST", "/api/plan", map[string]any{
		"sizing":      map[string]any{"dailyUsageKwh": 40, "backupHours": 12, "avgSunHours": 5},
		"assumptions": map[string]any{"electricityCostPerKwh": 4, "sellToGrid": true},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp PlanRes
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	// 40 * 0.5 / 0.8 = 25
	assert.Equal(t, 25.0, resp.Sizing.BatteryKWh)
	assert.Equal(t, 8.0, resp.Sizing.SolarKWp)
	assert.Equal(t, 10.0, resp.Sizing.InverterKVA)
	// 8 * 12000 + 25 * 5000 + 10 * 3500 + 20000
	assert.True(t, decimal.NewFromInt(276000).Equal(resp.Sizing.TotalCost))
	assert.True(t, decimal.NewFromInt(276000).Equal(resp.Payback.TotalCost), resp.Payback.TotalCost.String())
	assert.Equal(t, 14600.0, resp.Payback.AnnualUsageKWh)
	assert.Equal(t, 4.0, resp.Payback.Assumptions.ElectricityCostPerKWh)
	assert.Equal(t, types.DefaultSellBackRate, resp.Payback.Assumptions.SellBackRate)

	sess, err := db.GetSession(t.Context(), sessionCookieFrom(t, w).Value)
	require.NoError(t, err)
	assert.NotNil(t, sess.Sizing)
	assert.NotNil(t, sess.Result)
	assert.NotNil(t, sess.Assumptions)

	t.Run("Invalid Sizing", func(t *testing.T) {
		w := doReq(t, h, "POST", "/api/plan", map[string]any{
			"sizing": map[string]any{"avgSunHours": 7},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSession(t *testing.T) {
	db := newTestStore()
	srv := newTestServer(db)
	h := srv.setupHandler()

	w := doReq(t, h, "GET", "/api/session", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doReq(t, h, "POST", "/api/sizing", nil)
	require.Equal(t, http.StatusOK, w.Code)
	c := sessionCookieFrom(t, w)

	w = doReq(t, h, "GET", "/api/session", nil, c)
	require.Equal(t, http.StatusOK, w.Code)
	var sess types.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	assert.Equal(t, c.Value, sess.ID)
	require.NotNil(t, sess.Result)
	assert.Equal(t, 15.0, sess.Result.BatteryKWh)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	t.Run("Malformed Cookie Gets A New Session", func(t *testing.T) {
		w := doReq(t, h, "GET", "/api/session", nil, &http.Cookie{Name: sessionCookie, Value: "not-a-uuid"})
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NotEqual(t, "not-a-uuid", sessionCookieFrom(t, w).Value)
	})

	t.Run("Delete", func(t *testing.T) {
		w := doReq(t, h, "DELETE", "/api/session", nil, c)
		assert.Equal(t, http.StatusNoContent, w.Code)
		cookies := w.Result().Cookies()
		require.NotEmpty(t, cookies)
		assert.Equal(t, -1, cookies[len(cookies)-1].MaxAge)

		w = doReq(t, h, "GET", "/api/session", nil, c)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestStorageFailures(t *testing.T) {
	db := new(storagemock.MockDatabase)
	db.On("GetSession", mock.Anything, mock.Anything).Return(types.Session{}, assert.AnError)
	db.On("DeleteSession", mock.Anything, mock.Anything).Return(assert.AnError)
	srv := newTestServer(db)
	h := srv.setupHandler()

	w := doReq(t, h, "POST", "/api/sizing", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = doReq(t, h, "GET", "/api/session", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = doReq(t, h, "DELETE", "/api/session", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	t.Run("Save Fails", func(t *testing.T) {
		db := new(storagemock.MockDatabase)
		db.On("GetSession", mock.Anything, mock.Anything).Return(types.Session{}, storage.ErrSessionNotFound)
		db.On("PutSession", mock.Anything, mock.Anything).Return(assert.AnError)
		h := newTestServer(db).setupHandler()

		w := doReq(t, h, "POST", "/api/plan", nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		db.AssertExpectations(t)
	})
}

func TestPurgeOnce(t *testing.T) {
	db := new(storagemock.MockDatabase)
	db.On("DeleteExpiredSessions", mock.Anything, testNow).Return(3, nil).Once()
	db.On("DeleteExpiredSessions", mock.Anything, testNow).Return(0, assert.AnError).Once()
	srv := newTestServer(db)

	srv.purgeOnce(t.Context())
	srv.purgeOnce(t.Context())
	db.AssertExpectations(t)
}

func TestCORS(t *testing.T) {
	srv := newTestServer(newTestStore())
	srv.corsOrigins = []string{"https://app.example.com"}
	h := srv.setupHandler()

	req := httptest.NewRequest("OPTIONS", "/api/sizing", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest("GET", "/api/defaults", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSessionCookieSameSite(t *testing.T) {
	t.Run("Same Site", func(t *testing.T) {
		h := newTestServer(newTestStore()).setupHandler()
		c := sessionCookieFrom(t, doReq(t, h, "POST", "/api/sizing", nil))
		assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
		assert.False(t, c.Secure)
	})

	t.Run("Cross Site Front End", func(t *testing.T) {
		srv := newTestServer(newTestStore())
		srv.corsOrigins = []string{"https://app.example.com"}
		h := srv.setupHandler()

		w := doReq(t, h, "POST", "/api/sizing", nil)
		require.Equal(t, http.StatusOK, w.Code)
		c := sessionCookieFrom(t, w)
		assert.Equal(t, http.SameSiteNoneMode, c.SameSite)
		assert.True(t, c.Secure)

		w = doReq(t, h, "DELETE", "/api/session", nil, c)
		require.Equal(t, http.StatusNoContent, w.Code)
		cookies := w.Result().Cookies()
		require.NotEmpty(t, cookies)
		cleared := cookies[len(cookies)-1]
		assert.Equal(t, -1, cleared.MaxAge)
		assert.Equal(t, http.SameSiteNoneMode, cleared.SameSite)
		assert.True(t, cleared.Secure)
	})
}
