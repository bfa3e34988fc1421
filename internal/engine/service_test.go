package engine_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/sabr-engine/internal/calibrate"
	"github.com/atmx/sabr-engine/internal/engine"
	"github.com/atmx/sabr-engine/internal/model"
	"github.com/atmx/sabr-engine/internal/pricer"
	"github.com/atmx/sabr-engine/internal/sabr"
	"github.com/atmx/sabr-engine/internal/store"
	"github.com/atmx/sabr-engine/internal/surface"
)

var (
	truth   = model.SABRParams{Alpha: 0.035, Beta: 0.5, Rho: -0.25, Nu: 0.45}
	strikes = []float64{0.01, 0.015, 0.02, 0.025, 0.03, 0.035, 0.04, 0.045}
)

const fwd = 0.025

// newTestEnv creates a test Service with in-memory store and chi router.
func newTestEnv(t *testing.T) (*engine.Service, *store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	cal, err := calibrate.New(0.5, calibrate.WithWorkers(2))
	if err != nil {
		t.Fatalf("calibrator: %v", err)
	}
	svc := engine.NewService(ms, cal, engine.DefaultOptions(), nil)

	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	return svc, ms, r
}

func do(t *testing.T, router chi.Router, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func doJSON(t *testing.T, router chi.Router, method, path string, v interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

// createWorkspace creates a workspace through the API and returns its base path.
func createWorkspace(t *testing.T, router chi.Router) (string, model.Workspace) {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/v1/workspaces", map[string]string{"name": "desk"})
	expectStatus(t, w, http.StatusCreated)
	var ws model.Workspace
	decode(t, w, &ws)
	return "/api/v1/workspaces/" + ws.ID, ws
}

// quotesCSV renders exact Hagan vols of truth on strikes for each expiry.
func quotesCSV(expiries ...float64) string {
	var b strings.Builder
	b.WriteString("expiry,forward,strike,vol\n")
	for _, T := range expiries {
		for _, k := range strikes {
			vol := sabr.ImpliedVol(fwd, k, T, truth)
			fmt.Fprintf(&b, "%s,%s,%s,%s\n",
				strconv.FormatFloat(T, 'g', -1, 64),
				strconv.FormatFloat(fwd, 'g', -1, 64),
				strconv.FormatFloat(k, 'g', -1, 64),
				strconv.FormatFloat(vol, 'g', -1, 64))
		}
	}
	return b.String()
}

// --- Workspace tests ---

func TestCreateWorkspace_Defaults(t *testing.T) {
	_, _, router := newTestEnv(t)
	_, ws := createWorkspace(t, router)

	if ws.ID == "" {
		t.Error("expected non-empty id")
	}
	if ws.Beta != 0.5 {
		t.Errorf("expected default beta 0.5, got %g", ws.Beta)
	}
	if ws.Curve.Kind != model.CurveFlat || ws.Curve.FlatRate != 0.02 {
		t.Errorf("expected default 2%% flat curve, got %+v", ws.Curve)
	}
}

func TestCreateWorkspace_ExplicitZeroBeta(t *testing.T) {
	_, _, router := newTestEnv(t)
	w := do(t, router, "POST", "/api/v1/workspaces", "application/json", `{"name":"normal","beta":0}`)
	expectStatus(t, w, http.StatusCreated)
	var ws model.Workspace
	decode(t, w, &ws)
	if ws.Beta != 0 {
		t.Errorf("expected beta 0, got %g", ws.Beta)
	}
}

func TestCreateWorkspace_Invalid(t *testing.T) {
	_, _, router := newTestEnv(t)
	for _, body := range []string{
		`{}`,
		`{"name":"x","beta":1.5}`,
		`{"name":"x","beta":-0.1}`,
		`not json`,
	} {
		w := do(t, router, "POST", "/api/v1/workspaces", "application/json", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, w.Code)
		}
	}
}

func TestGetWorkspace_NotFound(t *testing.T) {
	_, _, router := newTestEnv(t)
	w := do(t, router, "GET", "/api/v1/workspaces/nope", "", "")
	expectStatus(t, w, http.StatusNotFound)
}

func TestListWorkspaces(t *testing.T) {
	_, _, router := newTestEnv(t)
	w := do(t, router, "GET", "/api/v1/workspaces", "", "")
	expectStatus(t, w, http.StatusOK)
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected empty array, got %s", w.Body.String())
	}

	createWorkspace(t, router)
	var list []model.Workspace
	decode(t, do(t, router, "GET", "/api/v1/workspaces", "", ""), &list)
	if len(list) != 1 {
		t.Errorf("expected 1 workspace, got %d", len(list))
	}
}

// --- Curve tests ---

func TestPutCurve_Flat(t *testing.T) {
	_, _, router := newTestEnv(t)
	base, _ := createWorkspace(t, router)

	w := do(t, router, "PUT", base+"/curve", "application/json", `{"flat_rate":0.03}`)
	expectStatus(t, w, http.StatusOK)
	var resp engine.CurveResponse
	decode(t, w, &resp)
	if resp.Curve.Kind != model.CurveFlat || resp.Curve.FlatRate != 0.03 {
		t.Errorf("unexpected curve %+v", resp.Curve)
	}
	if len(resp.Grid) == 0 || resp.Grid[0].Maturity != 0.25 {
		t.Fatalf("unexpected grid %+v", resp.Grid)
	}
	if math.Abs(resp.Grid[0].DF-math.Exp(-0.03*0.25)) > 1e-12 {
		t.Errorf("DF(0.25) = %v", resp.Grid[0].DF)
	}
}

func TestPutCurve_CSV(t *testing.T) {
	_, _, router := newTestEnv(t)
	base, _ := createWorkspace(t, router)

	w := do(t, router, "PUT", base+"/curve", "text/csv", "maturity,zero_rate\n5,0.025\n1,0.02\n10,0.03\n")
	expectStatus(t, w, http.StatusOK)

	w = do(t, router, "GET", base+"/curve?max=1&step=0.5", "", "")
	expectStatus(t, w, http.StatusOK)
	var resp engine.CurveResponse
	decode(t, w, &resp)
	if resp.Curve.Kind != model.CurveZero || len(resp.Curve.Points) != 3 {
		t.Fatalf("unexpected curve %+v", resp.Curve)
	}
	if len(resp.Grid) != 2 {
		t.Fatalf("expected 2 grid points, got %d", len(resp.Grid))
	}
	// Below the first node the zero rate is clamped.
	if resp.Grid[0].ZeroRate != 0.02 {
		t.Errorf("zero rate at 6M: got %v", resp.Grid[0].ZeroRate)
	}
}

func TestPutCurve_Invalid(t *testing.T) {
	_, _, router := newTestEnv(t)
	base, _ := createWorkspace(t, router)

	tests := []struct {
		name, contentType, body string
	}{
		{"empty", "application/json", `{}`},
		{"both", "application/json", `{"flat_rate":0.02,"points":[{"maturity":1,"zero_rate":0.02}]}`},
		{"missing column", "text/csv", "maturity,rate\n1,0.02\n"},
		{"bad number", "text/csv", "maturity,zero_rate\n1,abc\n"},
	}
	for _, tt := range tests {
		w := do(t, router, "PUT", base+"/curve", tt.contentType, tt.body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d: %s", tt.name, w.Code, w.Body.String())
		}
	}

	w := do(t, router, "PUT", "/api/v1/workspaces/nope/curve", "application/json", `{"flat_rate":0.02}`)
	expectStatus(t, w, http.StatusNotFound)
}

// --- Quotes and calibration tests ---

func TestPutQuotes_CSV(t *testing.T) {
	_, _, router := newTestEnv(t)
	base, _ := createWorkspace(t, router)

	w := do(t, router, "PUT", base+"/quotes", "text/csv", quotesCSV(2, 1))
	expectStatus(t, w, http.StatusOK)
	var resp engine.QuotesResponse
	decode(t, w, &resp)
	if resp.Rows != 2*len(strikes) || !resp.HasVol || resp.HasPrice {
		t.Errorf("unexpected summary %+v", resp)
	}
	if len(resp.Expiries) != 2 || resp.Expiries[0] != 1 || resp.Expiries[1] != 2 {
		t.Errorf("expected expiries [1 2], got %v", resp.Expiries)
	}
}

func TestPutQuotes_Invalid(t *testing.T) {
	_, _, router := newTestEnv(t)
	base, _ := createWorkspace(t, router)

	w := do(t, router, "PUT", base+"/quotes", "text/csv", "expiry,forward,strike\n1,0.02,0.02\n")
	expectStatus(t, w, http.StatusBadRequest)

	w = do(t, router, "PUT", base+"/quotes", "application/json", `[]`)
	expectStatus(t, w, http.StatusBadRequest)
}

func TestCalibrate_WithoutQuotes(t *testing.T) {
	_, _, router := newTestEnv(t)
	base, _ := createWorkspace(t, router)

	w := do(t, router, "POST", base+"/calibrate", "application/json", "")
	expectStatus(t, w, http.StatusBadRequest)
}

func TestCalibrate_InvalidMode(t *testing.T) {
	_, _, router := newTestEnv(t)
	base, _ := createWorkspace(t, router)
	expectStatus(t, do(t, router, "PUT", base+"/quotes", "text/csv", quotesCSV(2)), http.StatusOK)

	w := do(t, router, "POST", base+"/calibrate", "application/json", `{"mode":"delta"}`)
	expectStatus(t, w, http.StatusBadRequest)

	w = do(t, router, "POST", base+"/calibrate", "application/json", `{"expiries":[3]}`)
	expectStatus(t, w, http.StatusBadRequest)
}

func TestCalibrate_VolRoundTrip(t *testing.T) {
	_, ms, router := newTestEnv(t)
	base, ws := createWorkspace(t, router)
	expectStatus(t, do(t, router, "PUT", base+"/quotes", "text/csv", quotesCSV(1, 2)), http.StatusOK)

	w := do(t, router, "POST", base+"/calibrate", "application/json", "")
	expectStatus(t, w, http.StatusOK)

	var resp engine.CalibrateResponse
	decode(t, w, &resp)
	if resp.Mode != model.ModeVol || resp.Beta != 0.5 {
		t.Errorf("unexpected mode/beta: %s %g", resp.Mode, resp.Beta)
	}
	if len(resp.Results) != 2 || resp.Results[0].Expiry != 1 || resp.Results[1].Expiry != 2 {
		t.Fatalf("expected results for [1 2], got %+v", resp.Results)
	}

	r2 := resp.Results[1]
	if !r2.Converged || r2.Loss >= 1e-10 {
		t.Errorf("expiry 2: converged=%v loss=%g", r2.Converged, r2.Loss)
	}
	if math.Abs(r2.Params.Alpha-truth.Alpha) > 1e-3 ||
		math.Abs(r2.Params.Rho-truth.Rho) > 1e-3 ||
		math.Abs(r2.Params.Nu-truth.Nu) > 1e-3 {
		t.Errorf("expiry 2: recovered %+v, want %+v", r2.Params, truth)
	}

	// The parameter table was persisted.
	cals, _ := ms.ListCalibrations(t.Context(), ws.ID)
	if len(cals) != 2 || cals[1].Mode != model.ModeVol || cals[1].Forward != fwd {
		t.Errorf("unexpected stored table %+v", cals)
	}

	// Smile on the calibrated expiry fits the market.
	w = do(t, router, "GET", base+"/smile/2", "", "")
	expectStatus(t, w, http.StatusOK)
	var smile engine.SmileResponse
	decode(t, w, &smile)
	if len(smile.Points) != len(strikes) {
		t.Fatalf("expected %d smile points, got %d", len(strikes), len(smile.Points))
	}
	for _, p := range smile.Points {
		if math.Abs(p.Market-p.Model) > 1e-5 {
			t.Errorf("strike %g: market %g model %g", p.Strike, p.Market, p.Model)
		}
	}

	// Price-mode smile is also available for a vol-only dataset.
	w = do(t, router, "GET", base+"/smile/2?mode=price", "", "")
	expectStatus(t, w, http.StatusOK)
}

func TestCalibrate_SelectedExpiryWithBetaOverride(t *testing.T) {
	_, _, router := newTestEnv(t)
	base, _ := createWorkspace(t, router)
	expectStatus(t, do(t, router, "PUT", base+"/quotes", "text/csv", quotesCSV(1, 2)), http.StatusOK)

	w := do(t, router, "POST", base+"/calibrate", "application/json", `{"expiries":[2],"beta":0.7}`)
	expectStatus(t, w, http.StatusOK)
	var resp engine.CalibrateResponse
	decode(t, w, &resp)
	if len(resp.Results) != 1 || resp.Results[0].Expiry != 2 {
		t.Fatalf("expected only expiry 2, got %+v", resp.Results)
	}
	if resp.Results[0].Params.Beta != 0.7 {
		t.Errorf("expected beta 0.7 in fitted params, got %g", resp.Results[0].Params.Beta)
	}
}

func TestSetParams_Manual(t *testing.T) {
	_, _, router := newTestEnv(t)
	base, _ := createWorkspace(t, router)

	w := do(t, router, "PUT", base+"/params/5", "application/json", `{"alpha":0.03,"rho":-0.2,"nu":0.3}`)
	expectStatus(t, w, http.StatusOK)

	var cals []model.Calibration
	decode(t, do(t, router, "GET", base+"/calibrations", "", ""), &cals)
	if len(cals) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(cals))
	}
	if cals[0].Expiry != 5 || cals[0].Mode != model.ModeManual || cals[0].Params.Beta != 0.5 {
		t.Errorf("unexpected entry %+v", cals[0])
	}

	// Setting the same expiry again replaces the entry.
	expectStatus(t, do(t, router, "PUT", base+"/params/5", "application/json", `{"alpha":0.05,"rho":0,"nu":0.2}`), http.StatusOK)
	decode(t, do(t, router, "GET", base+"/calibrations", "", ""), &cals)
	if len(cals) != 1 || cals[0].Params.Alpha != 0.05 {
		t.Errorf("expected replaced entry, got %+v", cals)
	}
}

func TestSetParams_Invalid(t *testing.T) {
	_, _, router := newTestEnv(t)
	base, _ := createWorkspace(t, router)

	for _, tt := range []struct{ path, body string }{
		{"/params/5", `{"alpha":0,"rho":0,"nu":0.3}`},
		{"/params/5", `{"alpha":0.03,"rho":1,"nu":0.3}`},
		{"/params/5", `{"alpha":0.03,"rho":0,"nu":-1}`},
		{"/params/-1", `{"alpha":0.03,"rho":0,"nu":0.3}`},
		{"/params/abc", `{"alpha":0.03,"rho":0,"nu":0.3}`},
	} {
		w := do(t, router, "PUT", base+tt.path, "application/json", tt.body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s %s: expected 400, got %d", tt.path, tt.body, w.Code)
		}
	}
}

func TestGetSmile_MissingParameters(t *testing.T) {
	_, _, router := newTestEnv(t)
	base, _ := createWorkspace(t, router)
	expectStatus(t, do(t, router, "PUT", base+"/quotes", "text/csv", quotesCSV(2)), http.StatusOK)

	w := do(t, router, "GET", base+"/smile/2", "", "")
	expectStatus(t, w, http.StatusUnprocessableEntity)

	w = do(t, router, "GET", base+"/smile/7", "", "")
	expectStatus(t, w, http.StatusNotFound)
}

// --- Surface and playground tests ---

func TestGetSurface_UsesFallback(t *testing.T) {
	_, _, router := newTestEnv(t)
	base, _ := createWorkspace(t, router)
	expectStatus(t, do(t, router, "PUT", base+"/quotes", "text/csv", quotesCSV(1, 2)), http.StatusOK)

	w := do(t, router, "GET", base+"/surface?n=5", "", "")
	expectStatus(t, w, http.StatusOK)
	var surf surface.Surface
	decode(t, w, &surf)
	if len(surf.Expiries) != 2 || len(surf.Strikes) != 5 || len(surf.Vols) != 2 || len(surf.Vols[0]) != 5 {
		t.Fatalf("unexpected surface shape %+v", surf)
	}
	fallback := surface.DefaultFallback(0.5)
	want := sabr.ImpliedVol(fwd, surf.Strikes[2], 1, fallback)
	if math.Abs(surf.Vols[0][2]-want) > 1e-12 {
		t.Errorf("fallback vol: got %v, want %v", surf.Vols[0][2], want)
	}

	expectStatus(t, do(t, router, "GET", base+"/surface?n=1", "", ""), http.StatusBadRequest)
}

func TestPlayground_Defaults(t *testing.T) {
	_, _, router := newTestEnv(t)
	base, _ := createWorkspace(t, router)

	w := do(t, router, "POST", base+"/playground", "application/json", `{}`)
	expectStatus(t, w, http.StatusOK)
	var res surface.PlaygroundResult
	decode(t, w, &res)
	if len(res.Expiries) != 10 || len(res.Strikes) != 35 || len(res.ATM) != 10 {
		t.Errorf("unexpected playground shape: %d expiries, %d strikes, %d atm",
			len(res.Expiries), len(res.Strikes), len(res.ATM))
	}

	w = do(t, router, "POST", base+"/playground", "application/json", `{"t_min":5,"t_max":1}`)
	expectStatus(t, w, http.StatusBadRequest)
}

// --- Pricing tests ---

func TestPriceSwaption(t *testing.T) {
	_, _, router := newTestEnv(t)
	base, _ := createWorkspace(t, router)
	expectStatus(t, do(t, router, "PUT", base+"/params/2", "application/json", `{"alpha":0.035,"rho":-0.25,"nu":0.45}`), http.StatusOK)

	w := do(t, router, "POST", base+"/price/swaption", "application/json",
		`{"notional":"1000000","expiry":2,"tenor":5,"strike":0.02,"payer":true}`)
	expectStatus(t, w, http.StatusOK)
	var resp engine.SwaptionResponse
	decode(t, w, &resp)
	if !resp.Price.IsPositive() {
		t.Errorf("expected positive price, got %s", resp.Price)
	}
	if resp.PricingID == "" || resp.Annuity <= 0 || resp.Vol <= 0 {
		t.Errorf("unexpected response %+v", resp)
	}

	// No parameters registered for 3Y.
	w = do(t, router, "POST", base+"/price/swaption", "application/json",
		`{"notional":"1000000","expiry":3,"tenor":5,"strike":0.02}`)
	expectStatus(t, w, http.StatusUnprocessableEntity)

	w = do(t, router, "POST", base+"/price/swaption", "application/json",
		`{"notional":"-5","expiry":2,"tenor":5,"strike":0.02}`)
	expectStatus(t, w, http.StatusBadRequest)
}

func TestPriceCapFloor_Parity(t *testing.T) {
	_, _, router := newTestEnv(t)
	base, _ := createWorkspace(t, router)

	body := `{"notional":"1000000","strike":0.02,"maturity":1,"freq":4}`
	w := do(t, router, "POST", base+"/price/cap", "application/json", body)
	expectStatus(t, w, http.StatusOK)
	var capResp engine.CapFloorResponse
	decode(t, w, &capResp)

	w = do(t, router, "POST", base+"/price/floor", "application/json", body)
	expectStatus(t, w, http.StatusOK)
	var floorResp engine.CapFloorResponse
	decode(t, w, &floorResp)

	if len(capResp.Legs) != 4 || capResp.FallbackLegs != 4 {
		t.Fatalf("expected 4 fallback legs, got %d/%d", capResp.FallbackLegs, len(capResp.Legs))
	}

	// cap - floor = sum of notional * tau * DF(T1) * (F - K) over the legs.
	var swap float64
	for _, l := range capResp.Legs {
		tau := l.End - l.Start
		swap += 1_000_000 * tau * math.Exp(-0.02*l.Start) * (l.Forward - 0.02)
	}
	diff := capResp.Price.Sub(floorResp.Price).InexactFloat64()
	if math.Abs(diff-swap) > 1e-6 {
		t.Errorf("parity: cap-floor = %v, swap = %v", diff, swap)
	}
}

func TestPriceCap_ExplicitGrid(t *testing.T) {
	_, _, router := newTestEnv(t)
	base, _ := createWorkspace(t, router)

	w := do(t, router, "POST", base+"/price/cap", "application/json",
		`{"notional":"100","strike":0.03,"maturities":[0,0.5,0.25]}`)
	expectStatus(t, w, http.StatusBadRequest)

	w = do(t, router, "POST", base+"/price/cap", "application/json", `{"notional":"100","strike":0.03}`)
	expectStatus(t, w, http.StatusBadRequest)
}

func TestPriceSwaption_PayerByDefault(t *testing.T) {
	_, _, router := newTestEnv(t)
	base, _ := createWorkspace(t, router)
	expectStatus(t, do(t, router, "PUT", base+"/params/2", "application/json", `{"alpha":0.035,"rho":-0.25,"nu":0.45}`), http.StatusOK)

	price := func(body string) engine.SwaptionResponse {
		t.Helper()
		w := do(t, router, "POST", base+"/price/swaption", "application/json", body)
		expectStatus(t, w, http.StatusOK)
		var resp engine.SwaptionResponse
		decode(t, w, &resp)
		return resp
	}
	omitted := price(`{"notional":"1000000","expiry":2,"tenor":5,"strike":0.02}`)
	payer := price(`{"notional":"1000000","expiry":2,"tenor":5,"strike":0.02,"payer":true}`)
	receiver := price(`{"notional":"1000000","expiry":2,"tenor":5,"strike":0.02,"payer":false}`)

	if !omitted.Payer || !omitted.Price.Equal(payer.Price) {
		t.Errorf("omitted payer should price a payer: %+v vs %+v", omitted, payer)
	}
	if receiver.Payer || receiver.Price.Equal(payer.Price) {
		t.Errorf("explicit receiver should differ from payer: %+v", receiver)
	}
}

func TestPricing_HorizonLimits(t *testing.T) {
	_, _, router := newTestEnv(t)
	base, _ := createWorkspace(t, router)
	expectStatus(t, do(t, router, "PUT", base+"/params/5", "application/json", `{"alpha":0.03,"rho":-0.2,"nu":0.3}`), http.StatusOK)

	tests := []struct {
		name, path, body string
	}{
		{"cap maturity", "/price/cap", `{"notional":"100","strike":0.03,"maturity":1e10,"freq":12}`},
		{"cap grid point", "/price/cap", `{"notional":"100","strike":0.03,"maturities":[0,40000]}`},
		{"swaption tenor", "/price/swaption", `{"notional":"100","expiry":5,"tenor":1e9,"strike":0.03}`},
		{"swaption expiry", "/price/swaption", `{"notional":"100","expiry":1e9,"tenor":5,"strike":0.03}`},
		{"cap ticker", "/price/ticker", `{"ticker":"CAP-5000Y-M-100BP","notional":"100"}`},
		{"swaption ticker", "/price/ticker", `{"ticker":"SWPT-5Yx9999Y-PAY-100BP","notional":"100"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, do(t, router, "POST", base+tt.path, "application/json", tt.body), http.StatusBadRequest)
		})
	}
}

func TestPricing_NonFinitePriceRejected(t *testing.T) {
	_, _, router := newTestEnv(t)
	base, _ := createWorkspace(t, router)
	// Discount factors underflow to zero past roughly 75 years at 1000%.
	expectStatus(t, do(t, router, "PUT", base+"/curve", "application/json", `{"flat_rate":10}`), http.StatusOK)
	expectStatus(t, do(t, router, "PUT", base+"/params/80", "application/json", `{"alpha":0.03,"rho":-0.2,"nu":0.3}`), http.StatusOK)

	w := do(t, router, "POST", base+"/price/cap", "application/json",
		`{"notional":"1000000","strike":0.03,"maturities":[0,80,100]}`)
	expectStatus(t, w, http.StatusBadRequest)

	w = do(t, router, "POST", base+"/price/swaption", "application/json",
		`{"notional":"1000000","expiry":80,"tenor":10,"strike":0.03}`)
	expectStatus(t, w, http.StatusBadRequest)

	var records []model.PricingRecord
	decode(t, do(t, router, "GET", base+"/pricings", "", ""), &records)
	if len(records) != 0 {
		t.Errorf("rejected pricings were recorded: %+v", records)
	}
}

func TestPriceTicker(t *testing.T) {
	_, _, router := newTestEnv(t)
	base, _ := createWorkspace(t, router)
	expectStatus(t, do(t, router, "PUT", base+"/params/5", "application/json", `{"alpha":0.03,"rho":-0.2,"nu":0.3}`), http.StatusOK)

	w := do(t, router, "POST", base+"/price/ticker", "application/json",
		`{"ticker":"SWPT-5Yx10Y-REC-250BP","notional":"1000000"}`)
	expectStatus(t, w, http.StatusOK)
	var resp engine.TickerResponse
	decode(t, w, &resp)
	if resp.Swaption == nil || resp.CapFloor != nil {
		t.Fatalf("expected swaption pricing, got %+v", resp)
	}
	if resp.Instrument.Strike != 0.025 || resp.Instrument.Payer {
		t.Errorf("unexpected instrument %+v", resp.Instrument)
	}

	w = do(t, router, "POST", base+"/price/ticker", "application/json",
		`{"ticker":"FLR-2Y-S-1.5BP","notional":"1000000"}`)
	expectStatus(t, w, http.StatusOK)
	decode(t, w, &resp)
	if resp.CapFloor == nil || resp.CapFloor.Instrument != "floor" || len(resp.CapFloor.Legs) != 4 {
		t.Errorf("unexpected floor pricing %+v", resp.CapFloor)
	}

	w = do(t, router, "POST", base+"/price/ticker", "application/json",
		`{"ticker":"SWPT-5Y-PAY","notional":"1000000"}`)
	expectStatus(t, w, http.StatusBadRequest)
}

func TestListPricings_Ledger(t *testing.T) {
	_, _, router := newTestEnv(t)
	base, ws := createWorkspace(t, router)

	expectStatus(t, do(t, router, "POST", base+"/price/cap", "application/json",
		`{"notional":"1000000","strike":0.02,"maturity":1}`), http.StatusOK)
	expectStatus(t, do(t, router, "POST", base+"/price/floor", "application/json",
		`{"notional":"2000000","strike":0.02,"maturity":1}`), http.StatusOK)

	var records []model.PricingRecord
	decode(t, do(t, router, "GET", base+"/pricings", "", ""), &records)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Instrument != "cap" || records[1].Instrument != "floor" {
		t.Errorf("unexpected order %s, %s", records[0].Instrument, records[1].Instrument)
	}
	if !records[1].Notional.Equal(decimal.NewFromInt(2_000_000)) || records[0].WorkspaceID != ws.ID {
		t.Errorf("unexpected record %+v", records[1])
	}
}

func TestDefaultOptions_MatchPackageFallbacks(t *testing.T) {
	opts := engine.DefaultOptions()
	if opts.CapFallback != [3]float64{pricer.DefaultFallbackAlpha, pricer.DefaultFallbackRho, pricer.DefaultFallbackNu} {
		t.Errorf("cap fallback %v", opts.CapFallback)
	}
	if opts.SurfaceFallback != [3]float64{0.035, -0.2, 0.35} {
		t.Errorf("surface fallback %v", opts.SurfaceFallback)
	}
}
