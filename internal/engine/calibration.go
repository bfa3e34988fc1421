package engine

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/atmx/sabr-engine/internal/calibrate"
	"github.com/atmx/sabr-engine/internal/curve"
	"github.com/atmx/sabr-engine/internal/metrics"
	"github.com/atmx/sabr-engine/internal/model"
	"github.com/atmx/sabr-engine/internal/pricer"
	"github.com/atmx/sabr-engine/internal/surface"
)

// CalibrateRequest is the JSON body for POST /calibrate. An empty body
// calibrates every expiry to vols with the workspace beta.
type CalibrateRequest struct {
	Mode     string    `json:"mode" default:"vol" validate:"oneof=vol price"`
	Expiries []float64 `json:"expiries" validate:"omitempty,dive,gt=0"`
	Beta     *float64  `json:"beta" validate:"omitempty,gte=0,lte=1"`
}

// CalibrationResult is one expiry's outcome. Error is set when the solver
// exhausted its budget; Params then hold the best iterate.
type CalibrationResult struct {
	Expiry     float64          `json:"expiry"`
	Forward    float64          `json:"forward"`
	Mode       string           `json:"mode"`
	Params     model.SABRParams `json:"params"`
	Loss       float64          `json:"loss"`
	Iterations int              `json:"iterations"`
	Converged  bool             `json:"converged"`
	DurationMS float64          `json:"duration_ms"`
	Error      string           `json:"error,omitempty"`
}

// CalibrateResponse is the JSON body returned from POST /calibrate.
type CalibrateResponse struct {
	WorkspaceID string              `json:"workspace_id"`
	Mode        string              `json:"mode"`
	Beta        float64             `json:"beta"`
	Results     []CalibrationResult `json:"results"`
}

// SetParamsRequest is the JSON body for PUT /params/{expiry}.
type SetParamsRequest struct {
	Alpha float64  `json:"alpha" validate:"gt=0"`
	Rho   float64  `json:"rho" validate:"gt=-1,lt=1"`
	Nu    float64  `json:"nu" validate:"gte=0"`
	Beta  *float64 `json:"beta" validate:"omitempty,gte=0,lte=1"` // nil uses the workspace beta
}

// SmileResponse compares market and model values on one expiry.
type SmileResponse struct {
	Expiry  float64              `json:"expiry"`
	Forward float64              `json:"forward"`
	Mode    string               `json:"mode"`
	Params  model.SABRParams     `json:"params"`
	Points  []surface.SmilePoint `json:"points"`
}

// Calibrate handles POST /api/v1/workspaces/{workspaceID}/calibrate
// Fits every requested expiry independently and replaces those entries of
// the parameter table. Non-converged slices are stored with converged=false.
func (s *Service) Calibrate(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.loadWorkspace(w, r)
	if !ok {
		return
	}

	var req CalibrateRequest
	if err := readRequest(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	ds, err := s.dataset(ws)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	crv, err := curve.FromSpec(ws.Curve, s.opts.DefaultRate)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	beta := ws.Beta
	if req.Beta != nil {
		beta = *req.Beta
	}
	cal, err := s.calibrator.With(calibrate.WithBeta(beta))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	start := time.Now()
	results, err := cal.CalibrateDataset(r.Context(), ds, req.Mode, crv, req.Expiries)
	if err != nil {
		metrics.ObserveCalibration(req.Mode, false, true, 0, time.Since(start))
		writeServiceError(w, err)
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	out := make([]CalibrationResult, 0, len(results))

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, res := range results {
		metrics.ObserveCalibration(res.Mode, res.Result.Converged, false, res.Result.Loss, res.Duration)

		c := &model.Calibration{
			WorkspaceID: ws.ID,
			Expiry:      res.Expiry,
			Mode:        res.Mode,
			Forward:     res.Forward,
			Params:      res.Result.Params,
			Loss:        res.Result.Loss,
			Iterations:  res.Result.Iterations,
			Converged:   res.Result.Converged,
			CreatedAt:   now,
		}
		if err := s.store.UpsertCalibration(ctx, c); err != nil {
			writeServiceError(w, fmt.Errorf("store calibration for expiry %g: %w", res.Expiry, err))
			return
		}

		cr := CalibrationResult{
			Expiry:     res.Expiry,
			Forward:    res.Forward,
			Mode:       res.Mode,
			Params:     res.Result.Params,
			Loss:       res.Result.Loss,
			Iterations: res.Result.Iterations,
			Converged:  res.Result.Converged,
			DurationMS: float64(res.Duration.Microseconds()) / 1000,
		}
		if res.Err != nil {
			cr.Error = res.Err.Error()
		}
		out = append(out, cr)
	}

	slog.Info("calibration completed",
		"workspace", ws.ID,
		"mode", req.Mode,
		"beta", beta,
		"slices", len(out),
		"elapsed", time.Since(start),
	)

	resp := CalibrateResponse{WorkspaceID: ws.ID, Mode: req.Mode, Beta: beta, Results: out}
	s.broadcast(EventCalibrationCompleted, ws.ID, resp)
	writeJSON(w, http.StatusOK, resp)
}

// ListCalibrations handles GET /api/v1/workspaces/{workspaceID}/calibrations
// Returns the parameter table by ascending expiry.
func (s *Service) ListCalibrations(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.loadWorkspace(w, r)
	if !ok {
		return
	}
	cals, err := s.store.ListCalibrations(r.Context(), ws.ID)
	if err != nil {
		writeError(w, "failed to list calibrations", http.StatusInternalServerError)
		return
	}
	if cals == nil {
		cals = []model.Calibration{}
	}
	writeJSON(w, http.StatusOK, cals)
}

// SetParams handles PUT /api/v1/workspaces/{workspaceID}/params/{expiry}
// Registers an explicit parameter set for one exact expiry.
func (s *Service) SetParams(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.loadWorkspace(w, r)
	if !ok {
		return
	}
	T, err := expiryParam(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	var req SetParamsRequest
	if err := readRequest(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	beta := ws.Beta
	if req.Beta != nil {
		beta = *req.Beta
	}
	params, err := model.NewSABRParams(req.Alpha, beta, req.Rho, req.Nu)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	c := &model.Calibration{
		WorkspaceID: ws.ID,
		Expiry:      T,
		Mode:        model.ModeManual,
		Params:      params,
		CreatedAt:   time.Now().UTC(),
	}
	if ds, err := s.dataset(ws); err == nil {
		if sl, ok := ds.Slice(T); ok {
			c.Forward = sl.Forward
		}
	}

	s.mu.Lock()
	err = s.store.UpsertCalibration(r.Context(), c)
	s.mu.Unlock()
	if err != nil {
		writeServiceError(w, err)
		return
	}

	slog.Info("parameters set",
		"workspace", ws.ID,
		"expiry", T,
		"alpha", params.Alpha,
		"beta", params.Beta,
		"rho", params.Rho,
		"nu", params.Nu,
	)

	s.broadcast(EventParamsSet, ws.ID, c)
	writeJSON(w, http.StatusOK, c)
}

// GetSmile handles GET /api/v1/workspaces/{workspaceID}/smile/{expiry}?mode=vol|price
func (s *Service) GetSmile(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.loadWorkspace(w, r)
	if !ok {
		return
	}
	T, err := expiryParam(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = model.ModeVol
	}

	ds, err := s.dataset(ws)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	sl, ok := ds.Slice(T)
	if !ok {
		writeError(w, fmt.Sprintf("no market quotes for expiry %g", T), http.StatusNotFound)
		return
	}
	table, err := s.paramTable(r.Context(), ws.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	params, ok := table[T]
	if !ok {
		writeServiceError(w, fmt.Errorf("%w: expiry %g", pricer.ErrMissingParameters, T))
		return
	}
	crv, err := curve.FromSpec(ws.Curve, s.opts.DefaultRate)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	points, err := surface.Smile(sl, params, mode, crv.DF(T))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SmileResponse{
		Expiry:  T,
		Forward: sl.Forward,
		Mode:    mode,
		Params:  params,
		Points:  points,
	})
}

// GetSurface handles GET /api/v1/workspaces/{workspaceID}/surface?n=35
// Expiries without calibrated parameters use the surface fallback.
func (s *Service) GetSurface(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.loadWorkspace(w, r)
	if !ok {
		return
	}
	n := 35
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 2 || parsed > 400 {
			writeError(w, "n must be an integer in [2, 400]", http.StatusBadRequest)
			return
		}
		n = parsed
	}

	ds, err := s.dataset(ws)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	table, err := s.paramTable(r.Context(), ws.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	fb := s.opts.SurfaceFallback
	fallback := model.SABRParams{Alpha: fb[0], Beta: ws.Beta, Rho: fb[1], Nu: fb[2]}

	surf, err := surface.Build(ds, table, fallback, n)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, surf)
}

// Playground handles POST /api/v1/workspaces/{workspaceID}/playground
// Evaluates one parameter set across expiries on the workspace curve. When
// params are omitted the surface fallback with the workspace beta is used.
func (s *Service) Playground(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.loadWorkspace(w, r)
	if !ok {
		return
	}

	var cfg surface.PlaygroundConfig
	if err := readRequest(r, &cfg); err != nil {
		writeServiceError(w, err)
		return
	}
	if cfg.Params == (model.SABRParams{}) {
		fb := s.opts.SurfaceFallback
		cfg.Params = model.SABRParams{Alpha: fb[0], Beta: ws.Beta, Rho: fb[1], Nu: fb[2]}
	}
	if err := cfg.Params.Validate(); err != nil {
		writeServiceError(w, err)
		return
	}

	crv, err := curve.FromSpec(ws.Curve, s.opts.DefaultRate)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	res, err := surface.Playground(crv, cfg)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
