// Package engine provides the HTTP handlers and orchestration for SABR
// workspaces: loading curves and market quotes, calibrating parameter
// tables, smile and surface views, and pricing swaptions, caps and floors
// into an immutable pricing ledger.
//
// Notionals and prices crossing the API use shopspring/decimal; the
// numerical core works in float64.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/atmx/sabr-engine/internal/calibrate"
	"github.com/atmx/sabr-engine/internal/curve"
	"github.com/atmx/sabr-engine/internal/instrument"
	"github.com/atmx/sabr-engine/internal/marketdata"
	"github.com/atmx/sabr-engine/internal/metrics"
	"github.com/atmx/sabr-engine/internal/model"
	"github.com/atmx/sabr-engine/internal/pricer"
	"github.com/atmx/sabr-engine/internal/store"
	"github.com/atmx/sabr-engine/internal/surface"
)

// Options holds engine-wide defaults.
type Options struct {
	DefaultBeta     float64
	DefaultRate     float64    // flat rate used until a workspace loads a curve
	CapFallback     [3]float64 // alpha, rho, nu for cap/floor legs without parameters
	SurfaceFallback [3]float64 // alpha, rho, nu for surface expiries without parameters
}

// DefaultOptions returns beta 0.5, a 2% flat curve and the package fallbacks.
func DefaultOptions() Options {
	return Options{
		DefaultBeta:     0.5,
		DefaultRate:     0.02,
		CapFallback:     [3]float64{pricer.DefaultFallbackAlpha, pricer.DefaultFallbackRho, pricer.DefaultFallbackNu},
		SurfaceFallback: [3]float64{surface.FallbackAlpha, surface.FallbackRho, surface.FallbackNu},
	}
}

const (
	defaultGridMax  = 30.0
	defaultGridStep = 0.25
)

// Service handles workspace operations. Workspace mutations (curve, quotes,
// parameter table) are serialised by a mutex (single-instance).
type Service struct {
	store      store.Store
	calibrator *calibrate.Calibrator
	opts       Options
	mu         sync.Mutex
	wsHub      *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new engine service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, cal *calibrate.Calibrator, opts Options, hub *WSHub) *Service {
	return &Service{
		store:      st,
		calibrator: cal,
		opts:       opts,
		wsHub:      hub,
	}
}

// --- Request/Response types ---

// CreateWorkspaceRequest is the JSON body for workspace creation.
type CreateWorkspaceRequest struct {
	Name string   `json:"name" validate:"required,max=128"`
	Beta *float64 `json:"beta" validate:"omitempty,gte=0,lte=1"` // nil uses the engine default
}

// CurveRequest is the JSON body for PUT /curve: exactly one of FlatRate or
// Points.
type CurveRequest struct {
	FlatRate *float64          `json:"flat_rate"`
	Points   []model.CurvePoint `json:"points" validate:"omitempty,min=1"`
}

// CurveResponse is a curve description plus a sampled display grid.
type CurveResponse struct {
	Curve model.CurveSpec   `json:"curve"`
	Grid  []curve.GridPoint `json:"grid"`
}

// QuotesResponse summarises a loaded market dataset.
type QuotesResponse struct {
	Rows     int       `json:"rows"`
	Expiries []float64 `json:"expiries"`
	HasVol   bool      `json:"has_vol"`
	HasPrice bool      `json:"has_price"`
}

// --- HTTP Handlers: workspaces ---

// CreateWorkspace handles POST /api/v1/workspaces
func (s *Service) CreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkspaceRequest
	if err := readRequest(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	beta := s.opts.DefaultBeta
	if req.Beta != nil {
		beta = *req.Beta
	}

	ws := &model.Workspace{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Beta:      beta,
		Curve:     model.CurveSpec{Kind: model.CurveFlat, FlatRate: s.opts.DefaultRate},
		Quotes:    []model.MarketQuote{},
		CreatedAt: time.Now().UTC(),
	}

	if err := s.store.CreateWorkspace(r.Context(), ws); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	metrics.Workspaces.Inc()

	slog.Info("workspace created",
		"id", ws.ID,
		"name", ws.Name,
		"beta", ws.Beta,
	)

	writeJSON(w, http.StatusCreated, ws)
}

// ListWorkspaces handles GET /api/v1/workspaces
func (s *Service) ListWorkspaces(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListWorkspaces(r.Context())
	if err != nil {
		writeError(w, "failed to list workspaces", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []model.Workspace{}
	}
	writeJSON(w, http.StatusOK, list)
}

// GetWorkspace handles GET /api/v1/workspaces/{workspaceID}
func (s *Service) GetWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.loadWorkspace(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

// --- HTTP Handlers: curve and quotes ---

// PutCurve handles PUT /api/v1/workspaces/{workspaceID}/curve
// Accepts a JSON CurveRequest or a text/csv body with maturity,zero_rate.
func (s *Service) PutCurve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workspaceID")

	spec, err := decodeCurve(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	c, err := curve.FromSpec(spec, s.opts.DefaultRate)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	s.mu.Lock()
	err = s.store.UpdateCurve(r.Context(), id, spec)
	s.mu.Unlock()
	if err != nil {
		writeServiceError(w, err)
		return
	}

	slog.Info("curve loaded", "workspace", id, "kind", spec.Kind, "points", len(spec.Points))
	writeJSON(w, http.StatusOK, CurveResponse{Curve: spec, Grid: curve.Grid(c, gridMax(spec, defaultGridMax), defaultGridStep)})
}

// GetCurve handles GET /api/v1/workspaces/{workspaceID}/curve?max=30&step=0.25
func (s *Service) GetCurve(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.loadWorkspace(w, r)
	if !ok {
		return
	}
	maxT, err := floatQuery(r, "max", gridMax(ws.Curve, defaultGridMax))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	step, err := floatQuery(r, "step", defaultGridStep)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if maxT <= 0 || step <= 0 || maxT/step > 10000 {
		writeError(w, "max and step must be positive with at most 10000 grid points", http.StatusBadRequest)
		return
	}
	c, err := curve.FromSpec(ws.Curve, s.opts.DefaultRate)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CurveResponse{Curve: ws.Curve, Grid: curve.Grid(c, maxT, step)})
}

// PutQuotes handles PUT /api/v1/workspaces/{workspaceID}/quotes
// Accepts a JSON array of quotes or a text/csv body.
func (s *Service) PutQuotes(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workspaceID")

	var (
		ds  *marketdata.Dataset
		err error
	)
	if isCSV(r) {
		ds, err = marketdata.ReadQuotesCSV(r.Body)
	} else {
		var quotes []model.MarketQuote
		if derr := json.NewDecoder(r.Body).Decode(&quotes); derr != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		ds, err = marketdata.NewDataset(quotes)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}

	s.mu.Lock()
	err = s.store.UpdateQuotes(r.Context(), id, ds.Quotes)
	s.mu.Unlock()
	if err != nil {
		writeServiceError(w, err)
		return
	}

	slog.Info("market quotes loaded",
		"workspace", id,
		"rows", len(ds.Quotes),
		"has_vol", ds.HasVol,
		"has_price", ds.HasPrice,
	)

	writeJSON(w, http.StatusOK, QuotesResponse{
		Rows:     len(ds.Quotes),
		Expiries: ds.Expiries(),
		HasVol:   ds.HasVol,
		HasPrice: ds.HasPrice,
	})
}

// --- Helpers ---

// loadWorkspace fetches the {workspaceID} workspace, writing the error
// response itself on failure.
func (s *Service) loadWorkspace(w http.ResponseWriter, r *http.Request) (*model.Workspace, bool) {
	ws, err := s.store.GetWorkspace(r.Context(), chi.URLParam(r, "workspaceID"))
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	return ws, true
}

func (s *Service) dataset(ws *model.Workspace) (*marketdata.Dataset, error) {
	if len(ws.Quotes) == 0 {
		return nil, fmt.Errorf("%w: workspace %s has no market quotes", model.ErrValidation, ws.ID)
	}
	return marketdata.NewDataset(ws.Quotes)
}

// paramTable returns the workspace parameter table keyed by exact expiry.
func (s *Service) paramTable(ctx context.Context, workspaceID string) (map[float64]model.SABRParams, error) {
	cals, err := s.store.ListCalibrations(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	table := make(map[float64]model.SABRParams, len(cals))
	for _, c := range cals {
		table[c.Expiry] = c.Params
	}
	return table, nil
}

// pricerFor builds a pricer over the workspace curve and parameter table.
func (s *Service) pricerFor(ctx context.Context, ws *model.Workspace) (*pricer.Pricer, error) {
	c, err := curve.FromSpec(ws.Curve, s.opts.DefaultRate)
	if err != nil {
		return nil, err
	}
	table, err := s.paramTable(ctx, ws.ID)
	if err != nil {
		return nil, err
	}
	fb := s.opts.CapFallback
	p := pricer.New(c, ws.Beta, pricer.WithFallback(fb[0], fb[1], fb[2]))
	for T, params := range table {
		if err := p.SetParams(T, params); err != nil {
			return nil, fmt.Errorf("workspace %s parameter table: %w", ws.ID, err)
		}
	}
	return p, nil
}

func (s *Service) broadcast(typ, workspaceID string, payload interface{}) {
	if s.wsHub == nil {
		return
	}
	s.wsHub.Broadcast(WSMessage{Type: typ, WorkspaceID: workspaceID, Payload: payload})
}

func decodeCurve(r *http.Request) (model.CurveSpec, error) {
	if isCSV(r) {
		points, err := marketdata.ReadCurveCSV(r.Body)
		if err != nil {
			return model.CurveSpec{}, err
		}
		return model.CurveSpec{Kind: model.CurveZero, Points: points}, nil
	}

	var req CurveRequest
	if err := readRequest(r, &req); err != nil {
		return model.CurveSpec{}, err
	}
	switch {
	case req.FlatRate != nil && len(req.Points) > 0:
		return model.CurveSpec{}, fmt.Errorf("%w: give either flat_rate or points, not both", model.ErrValidation)
	case req.FlatRate != nil:
		return model.CurveSpec{Kind: model.CurveFlat, FlatRate: *req.FlatRate}, nil
	case len(req.Points) > 0:
		return model.CurveSpec{Kind: model.CurveZero, Points: req.Points}, nil
	default:
		return model.CurveSpec{}, fmt.Errorf("%w: flat_rate or points is required", model.ErrValidation)
	}
}

// gridMax extends the display grid to the last curve node when it lies
// beyond def.
func gridMax(spec model.CurveSpec, def float64) float64 {
	for _, p := range spec.Points {
		if p.Maturity > def {
			def = p.Maturity
		}
	}
	return def
}

func isCSV(r *http.Request) bool {
	return strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "text/csv")
}

func floatQuery(r *http.Request, key string, def float64) (float64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: query parameter %s=%q is not a number", model.ErrValidation, key, v)
	}
	return f, nil
}

// expiryParam parses the {expiry} path segment as a positive year fraction.
func expiryParam(r *http.Request) (float64, error) {
	v := chi.URLParam(r, "expiry")
	T, err := strconv.ParseFloat(v, 64)
	if err != nil || !(T > 0) || math.IsInf(T, 0) {
		return 0, fmt.Errorf("%w: expiry %q must be a positive number of years", model.ErrValidation, v)
	}
	return T, nil
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeServiceError maps domain errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pricer.ErrMissingParameters):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrValidation),
		errors.Is(err, model.ErrInvalidParams),
		errors.Is(err, instrument.ErrInvalidTicker),
		errors.Is(err, instrument.ErrInvalidTenor):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
	}
	writeError(w, err.Error(), status)
}
