// Package surface builds the display-ready arrays around a calibration:
// market-vs-model smiles, an (expiry, strike) vol surface, and a
// parameter playground over the curve's forward swap rates.
package surface

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"

	"github.com/atmx/sabr-engine/internal/black"
	"github.com/atmx/sabr-engine/internal/curve"
	"github.com/atmx/sabr-engine/internal/marketdata"
	"github.com/atmx/sabr-engine/internal/model"
	"github.com/atmx/sabr-engine/internal/sabr"
)

// Fallback parameters for surface expiries without a calibration.
const (
	FallbackAlpha = 0.035
	FallbackRho   = -0.2
	FallbackNu    = 0.35
)

// DefaultFallback returns the surface fallback with the given beta.
func DefaultFallback(beta float64) model.SABRParams {
	return model.SABRParams{Alpha: FallbackAlpha, Beta: beta, Rho: FallbackRho, Nu: FallbackNu}
}

// SmilePoint pairs a market value with the model value at one strike.
type SmilePoint struct {
	Strike float64 `json:"strike"`
	Market float64 `json:"market"`
	Model  float64 `json:"model"`
}

// Smile compares a slice against params. In vol mode values are implied
// vols; in price mode they are call prices discounted with df, with market
// prices synthesised from vols when the slice has none.
func Smile(s marketdata.Slice, p model.SABRParams, mode string, df float64) ([]SmilePoint, error) {
	out := make([]SmilePoint, len(s.Strikes))
	switch mode {
	case model.ModeVol:
		if s.Vols == nil {
			return nil, fmt.Errorf("%w: slice has no vols", model.ErrValidation)
		}
		for i, k := range s.Strikes {
			out[i] = SmilePoint{Strike: k, Market: s.Vols[i], Model: sabr.ImpliedVol(s.Forward, k, s.Expiry, p)}
		}
	case model.ModePrice:
		market := s.MarketPrices(df, true)
		for i, k := range s.Strikes {
			vol := sabr.ImpliedVol(s.Forward, k, s.Expiry, p)
			out[i] = SmilePoint{Strike: k, Market: market[i], Model: black.Price(s.Forward, k, s.Expiry, vol, df, true)}
		}
	default:
		return nil, fmt.Errorf("%w: unknown smile mode %q", model.ErrValidation, mode)
	}
	return out, nil
}

// Surface is a grid of implied vols: Vols[i][j] is expiry i, strike j.
type Surface struct {
	Expiries []float64   `json:"expiries"`
	Strikes  []float64   `json:"strikes"`
	Vols     [][]float64 `json:"vols"`
}

// Build evaluates each dataset expiry on n strikes spanning the dataset's
// strike range, at that expiry's forward. Expiries missing from params use
// fallback.
func Build(ds *marketdata.Dataset, params map[float64]model.SABRParams, fallback model.SABRParams, n int) (Surface, error) {
	if n < 2 {
		return Surface{}, fmt.Errorf("%w: surface needs at least 2 strikes, got %d", model.ErrValidation, n)
	}
	kMin, kMax := math.Inf(1), math.Inf(-1)
	for _, q := range ds.Quotes {
		kMin = math.Min(kMin, q.Strike)
		kMax = math.Max(kMax, q.Strike)
	}
	strikes := floats.Span(make([]float64, n), kMin, kMax)

	slices := ds.Slices()
	surf := Surface{
		Expiries: make([]float64, len(slices)),
		Strikes:  strikes,
		Vols:     make([][]float64, len(slices)),
	}
	for i, s := range slices {
		p, ok := params[s.Expiry]
		if !ok {
			p = fallback
		}
		surf.Expiries[i] = s.Expiry
		surf.Vols[i] = sabr.Smile(s.Forward, s.Expiry, strikes, p)
	}
	return surf, nil
}

// PlaygroundConfig describes a what-if surface for one parameter set.
type PlaygroundConfig struct {
	TMin        float64          `json:"t_min" validate:"gt=0" default:"1"`
	TMax        float64          `json:"t_max" validate:"gtfield=TMin" default:"7"`
	NumExpiries int              `json:"num_expiries" validate:"min=2,max=200" default:"10"`
	Tenor       float64          `json:"tenor" validate:"gt=0" default:"5"`
	RelMin      float64          `json:"rel_min" validate:"gt=0" default:"0.7"`
	RelMax      float64          `json:"rel_max" validate:"gtfield=RelMin" default:"1.3"`
	NumStrikes  int              `json:"num_strikes" validate:"min=2,max=400" default:"35"`
	Params      model.SABRParams `json:"params"`
}

// PlaygroundResult is the regridded surface plus the ATM term structure.
type PlaygroundResult struct {
	Expiries []float64   `json:"expiries"`
	Forwards []float64   `json:"forwards"`
	Strikes  []float64   `json:"strikes"`
	Vols     [][]float64 `json:"vols"`
	ATM      []float64   `json:"atm"`
}

// minStrike keeps strike rows positive when a forward is non-positive.
const minStrike = 1e-6

// Playground evaluates cfg.Params on expiries spanning [TMin, TMax]. Each
// expiry gets strikes at RelMin..RelMax times its forward swap rate (annual
// fixed leg over Tenor); rows are then linearly re-interpolated onto one
// common strike grid, flat beyond each row's ends.
func Playground(c curve.Curve, cfg PlaygroundConfig) (PlaygroundResult, error) {
	if err := cfg.check(); err != nil {
		return PlaygroundResult{}, err
	}
	nT, nK := cfg.NumExpiries, cfg.NumStrikes
	res := PlaygroundResult{
		Expiries: floats.Span(make([]float64, nT), cfg.TMin, cfg.TMax),
		Forwards: make([]float64, nT),
		Vols:     make([][]float64, nT),
		ATM:      make([]float64, nT),
	}

	rows := make([][]float64, nT)
	raw := make([][]float64, nT)
	kLo, kHi := math.Inf(1), math.Inf(-1)
	for i, T := range res.Expiries {
		F := c.ForwardSwapRate(T, T+cfg.Tenor, 1)
		res.Forwards[i] = F
		base := math.Max(F, minStrike)
		row := floats.Span(make([]float64, nK),
			math.Max(minStrike, cfg.RelMin*base),
			math.Max(minStrike, cfg.RelMax*base))
		rows[i] = row
		raw[i] = sabr.Smile(F, T, row, cfg.Params)
		res.ATM[i] = sabr.ImpliedVol(F, F, T, cfg.Params)
		kLo = math.Min(kLo, row[0])
		kHi = math.Max(kHi, row[nK-1])
	}

	res.Strikes = floats.Span(make([]float64, nK), kLo, kHi)
	for i := range rows {
		vols, err := regrid(rows[i], raw[i], res.Strikes)
		if err != nil {
			return PlaygroundResult{}, fmt.Errorf("%w: expiry %g: %v", model.ErrValidation, res.Expiries[i], err)
		}
		res.Vols[i] = vols
	}
	return res, nil
}

func (cfg PlaygroundConfig) check() error {
	switch {
	case !(cfg.TMin > 0) || !(cfg.TMax > cfg.TMin):
		return fmt.Errorf("%w: need 0 < t_min < t_max", model.ErrValidation)
	case cfg.NumExpiries < 2 || cfg.NumStrikes < 2:
		return fmt.Errorf("%w: need at least 2 expiries and 2 strikes", model.ErrValidation)
	case !(cfg.Tenor > 0):
		return fmt.Errorf("%w: tenor must be positive", model.ErrValidation)
	case !(cfg.RelMin > 0) || !(cfg.RelMax > cfg.RelMin):
		return fmt.Errorf("%w: need 0 < rel_min < rel_max", model.ErrValidation)
	}
	if err := cfg.Params.Validate(); err != nil {
		return fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	return nil
}

// regrid maps (xs, ys) onto grid, holding end values outside [xs0, xsN].
func regrid(xs, ys, grid []float64) ([]float64, error) {
	out := make([]float64, len(grid))
	n := len(xs)
	if !(xs[n-1] > xs[0]) {
		for j := range out {
			out[j] = ys[0]
		}
		return out, nil
	}
	var pl interp.PiecewiseLinear
	if err := pl.Fit(xs, ys); err != nil {
		return nil, err
	}
	for j, k := range grid {
		switch {
		case k <= xs[0]:
			out[j] = ys[0]
		case k >= xs[n-1]:
			out[j] = ys[n-1]
		default:
			out[j] = pl.Predict(k)
		}
	}
	return out, nil
}
