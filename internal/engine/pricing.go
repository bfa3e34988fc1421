package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/sabr-engine/internal/instrument"
	"github.com/atmx/sabr-engine/internal/metrics"
	"github.com/atmx/sabr-engine/internal/model"
	"github.com/atmx/sabr-engine/internal/pricer"
)

// Instrument names recorded in the pricing ledger.
const (
	instrumentSwaption = "swaption"
	instrumentCap      = "cap"
	instrumentFloor    = "floor"
)

// SwaptionRequest is the JSON body for POST /price/swaption. An omitted
// payer prices a payer swaption; "payer": false prices a receiver.
type SwaptionRequest struct {
	Notional decimal.Decimal `json:"notional"`
	Expiry   float64         `json:"expiry" validate:"gt=0,lte=100"`
	Tenor    float64         `json:"tenor" validate:"gt=0,lte=100"`
	Strike   float64         `json:"strike" validate:"gt=0"`
	Payer    *bool           `json:"payer"`
	Freq     int             `json:"freq" default:"1" validate:"oneof=1 2 4 12"`
}

// SwaptionResponse is the JSON body returned from POST /price/swaption.
type SwaptionResponse struct {
	PricingID string          `json:"pricing_id"`
	Notional  decimal.Decimal `json:"notional"`
	Payer     bool            `json:"payer"`
	Price     decimal.Decimal `json:"price"`
	Forward   float64         `json:"forward"`
	Vol       float64         `json:"vol"`
	Annuity   float64         `json:"annuity"`
}

// CapFloorRequest is the JSON body for POST /price/cap and /price/floor.
// Maturities, when given, is the explicit ascending grid; otherwise the
// grid is [0, 1/freq, ..., maturity].
type CapFloorRequest struct {
	Notional   decimal.Decimal `json:"notional"`
	Strike     float64         `json:"strike" validate:"gt=0"`
	Maturity   float64         `json:"maturity" validate:"gte=0,lte=100"`
	Freq       int             `json:"freq" default:"4" validate:"oneof=1 2 4 12"`
	Maturities []float64       `json:"maturities" validate:"omitempty,max=1201,dive,gte=0,lte=100"`
}

// CapFloorResponse is the JSON body returned from cap/floor pricing.
type CapFloorResponse struct {
	PricingID    string          `json:"pricing_id"`
	Instrument   string          `json:"instrument"`
	Notional     decimal.Decimal `json:"notional"`
	Price        decimal.Decimal `json:"price"`
	Legs         []pricer.Leg    `json:"legs"`
	FallbackLegs int             `json:"fallback_legs"`
}

// TickerRequest is the JSON body for POST /price/ticker.
type TickerRequest struct {
	Ticker   string          `json:"ticker" validate:"required"`
	Notional decimal.Decimal `json:"notional"`
}

// TickerResponse pairs the parsed instrument with its pricing.
type TickerResponse struct {
	Instrument *instrument.Instrument `json:"instrument"`
	Swaption   *SwaptionResponse      `json:"swaption,omitempty"`
	CapFloor   *CapFloorResponse      `json:"cap_floor,omitempty"`
}

// --- HTTP Handlers ---

// PriceSwaption handles POST /api/v1/workspaces/{workspaceID}/price/swaption
func (s *Service) PriceSwaption(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.loadWorkspace(w, r)
	if !ok {
		return
	}
	var req SwaptionRequest
	if err := readRequest(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	resp, err := s.priceSwaption(r.Context(), ws, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// PriceCap handles POST /api/v1/workspaces/{workspaceID}/price/cap
func (s *Service) PriceCap(w http.ResponseWriter, r *http.Request) {
	s.handleCapFloor(w, r, true)
}

// PriceFloor handles POST /api/v1/workspaces/{workspaceID}/price/floor
func (s *Service) PriceFloor(w http.ResponseWriter, r *http.Request) {
	s.handleCapFloor(w, r, false)
}

func (s *Service) handleCapFloor(w http.ResponseWriter, r *http.Request, isCap bool) {
	ws, ok := s.loadWorkspace(w, r)
	if !ok {
		return
	}
	var req CapFloorRequest
	if err := readRequest(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	resp, err := s.priceCapFloor(r.Context(), ws, req, isCap)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// PriceTicker handles POST /api/v1/workspaces/{workspaceID}/price/ticker
// e.g. {"ticker": "SWPT-5Yx10Y-PAY-300BP", "notional": "10000000"}.
func (s *Service) PriceTicker(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.loadWorkspace(w, r)
	if !ok {
		return
	}
	var req TickerRequest
	if err := readRequest(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	inst, err := instrument.ParseTicker(req.Ticker)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := TickerResponse{Instrument: inst}
	switch inst.Kind {
	case instrument.KindSwaption:
		resp.Swaption, err = s.priceSwaption(r.Context(), ws, SwaptionRequest{
			Notional: req.Notional,
			Expiry:   inst.Expiry,
			Tenor:    inst.Tenor,
			Strike:   inst.Strike,
			Payer:    &inst.Payer,
			Freq:     inst.Freq,
		})
	default:
		resp.CapFloor, err = s.priceCapFloor(r.Context(), ws, CapFloorRequest{
			Notional: req.Notional,
			Strike:   inst.Strike,
			Maturity: inst.Maturity,
			Freq:     inst.Freq,
		}, inst.Kind == instrument.KindCap)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListPricings handles GET /api/v1/workspaces/{workspaceID}/pricings
// Returns the workspace's immutable pricing ledger.
func (s *Service) ListPricings(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.loadWorkspace(w, r)
	if !ok {
		return
	}
	records, err := s.store.ListPricings(r.Context(), ws.ID)
	if err != nil {
		writeError(w, "failed to list pricings", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []model.PricingRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// --- Pricing ---

func (s *Service) priceSwaption(ctx context.Context, ws *model.Workspace, req SwaptionRequest) (*SwaptionResponse, error) {
	if err := checkNotional(req.Notional); err != nil {
		return nil, err
	}
	p, err := s.pricerFor(ctx, ws)
	if err != nil {
		return nil, err
	}
	payer := req.Payer == nil || *req.Payer
	q, err := p.QuoteSwaption(req.Notional.InexactFloat64(), req.Expiry, req.Tenor, req.Strike, payer, req.Freq)
	if err != nil {
		return nil, err
	}
	if !finite(q.Price, q.Forward, q.Vol, q.Annuity) {
		return nil, fmt.Errorf("%w: %gY x %gY swaption has no finite price on this curve", model.ErrValidation, req.Expiry, req.Tenor)
	}

	side := "receiver"
	if payer {
		side = "payer"
	}
	details := fmt.Sprintf("%gY x %gY %s freq=%d", req.Expiry, req.Tenor, side, req.Freq)
	price := decimal.NewFromFloat(q.Price)
	id, err := s.record(ctx, ws.ID, instrumentSwaption, req.Notional, req.Strike, details, price)
	if err != nil {
		return nil, err
	}
	return &SwaptionResponse{
		PricingID: id,
		Notional:  req.Notional,
		Payer:     payer,
		Price:     price,
		Forward:   q.Forward,
		Vol:       q.Vol,
		Annuity:   q.Annuity,
	}, nil
}

func (s *Service) priceCapFloor(ctx context.Context, ws *model.Workspace, req CapFloorRequest, isCap bool) (*CapFloorResponse, error) {
	if err := checkNotional(req.Notional); err != nil {
		return nil, err
	}
	maturities := req.Maturities
	if len(maturities) == 0 {
		if req.Maturity <= 0 {
			return nil, fmt.Errorf("%w: maturity or maturities is required", model.ErrValidation)
		}
		var err error
		maturities, err = pricer.CapSchedule(req.Maturity, req.Freq)
		if err != nil {
			return nil, err
		}
	}

	p, err := s.pricerFor(ctx, ws)
	if err != nil {
		return nil, err
	}
	legs, err := p.Legs(req.Notional.InexactFloat64(), req.Strike, maturities, isCap)
	if err != nil {
		return nil, err
	}

	total, fallbacks := 0.0, 0
	for _, l := range legs {
		if !finite(l.Forward, l.Vol, l.Price) {
			return nil, fmt.Errorf("%w: leg %g-%gY has no finite price on this curve", model.ErrValidation, l.Start, l.End)
		}
		total += l.Price
		if l.Fallback {
			fallbacks++
		}
	}
	if legs == nil {
		legs = []pricer.Leg{}
	}
	metrics.FallbackLegs.Add(float64(fallbacks))

	kind := instrumentFloor
	if isCap {
		kind = instrumentCap
	}
	details := fmt.Sprintf("%d legs to %gY", len(legs), maturities[len(maturities)-1])
	price := decimal.NewFromFloat(total)
	id, err := s.record(ctx, ws.ID, kind, req.Notional, req.Strike, details, price)
	if err != nil {
		return nil, err
	}
	return &CapFloorResponse{
		PricingID:    id,
		Instrument:   kind,
		Notional:     req.Notional,
		Price:        price,
		Legs:         legs,
		FallbackLegs: fallbacks,
	}, nil
}

// record appends an immutable ledger entry and announces it.
func (s *Service) record(ctx context.Context, workspaceID, kind string, notional decimal.Decimal, strike float64, details string, price decimal.Decimal) (string, error) {
	rec := &model.PricingRecord{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		Instrument:  kind,
		Notional:    notional,
		Strike:      strike,
		Details:     details,
		Price:       price,
		Timestamp:   time.Now().UTC(),
	}
	if err := s.store.InsertPricing(ctx, rec); err != nil {
		return "", fmt.Errorf("record pricing: %w", err)
	}
	metrics.PricingsTotal.WithLabelValues(kind).Inc()

	slog.Info("instrument priced",
		"pricing_id", rec.ID,
		"workspace", workspaceID,
		"instrument", kind,
		"notional", notional.String(),
		"strike", strike,
		"details", details,
		"price", price.String(),
	)

	s.broadcast(EventInstrumentPriced, workspaceID, rec)
	return rec.ID, nil
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func checkNotional(n decimal.Decimal) error {
	if !n.IsPositive() {
		return fmt.Errorf("%w: notional must be positive, got %s", model.ErrValidation, n.String())
	}
	return nil
}
