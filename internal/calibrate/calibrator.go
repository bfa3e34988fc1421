// Package calibrate fits SABR (alpha, rho, nu) per expiry to a smile slice
// of market vols or prices, with beta held fixed.
package calibrate

import (
	"fmt"
	"math"
	"runtime"

	"github.com/atmx/sabr-engine/internal/black"
	"github.com/atmx/sabr-engine/internal/model"
	"github.com/atmx/sabr-engine/internal/sabr"
)

// Bounds is the box for (alpha, rho, nu), in that order.
type Bounds struct {
	Lower [3]float64 `json:"lower"`
	Upper [3]float64 `json:"upper"`
}

// DefaultBounds returns alpha in [1e-6, 5], rho in [-0.999, 0.999] and
// nu in [1e-6, 5].
func DefaultBounds() Bounds {
	return Bounds{
		Lower: [3]float64{1e-6, -0.999, 1e-6},
		Upper: [3]float64{5, 0.999, 5},
	}
}

// DefaultInitial is the starting (alpha, rho, nu).
var DefaultInitial = [3]float64{0.05, -0.2, 0.5}

// Validate checks that every point of the box is a valid SABR parameter set.
func (b Bounds) Validate() error {
	for i := range b.Lower {
		if !(b.Lower[i] <= b.Upper[i]) {
			return fmt.Errorf("%w: bound %d: lower %g > upper %g", model.ErrValidation, i, b.Lower[i], b.Upper[i])
		}
	}
	if !(b.Lower[0] > 0) || math.IsInf(b.Upper[0], 0) {
		return fmt.Errorf("%w: alpha bounds must be positive and finite", model.ErrValidation)
	}
	if !(b.Lower[1] > -1) || !(b.Upper[1] < 1) {
		return fmt.Errorf("%w: rho bounds must lie inside (-1, 1)", model.ErrValidation)
	}
	if !(b.Lower[2] >= 0) || math.IsInf(b.Upper[2], 0) {
		return fmt.Errorf("%w: nu bounds must be non-negative and finite", model.ErrValidation)
	}
	return nil
}

// Calibrator holds the fixed beta, start point, box and solver settings
// shared by every slice it fits.
type Calibrator struct {
	beta     float64
	initial  [3]float64
	bounds   Bounds
	settings Settings
	workers  int
}

// Option configures a Calibrator.
type Option func(*Calibrator)

// WithInitial overrides the starting (alpha, rho, nu).
func WithInitial(alpha, rho, nu float64) Option {
	return func(c *Calibrator) { c.initial = [3]float64{alpha, rho, nu} }
}

// WithBounds overrides the parameter box.
func WithBounds(b Bounds) Option {
	return func(c *Calibrator) { c.bounds = b }
}

// WithBeta overrides the fixed beta.
func WithBeta(beta float64) Option {
	return func(c *Calibrator) { c.beta = beta }
}

// WithSettings overrides the solver settings.
func WithSettings(s Settings) Option {
	return func(c *Calibrator) { c.settings = s }
}

// WithWorkers bounds the number of slices calibrated concurrently.
func WithWorkers(n int) Option {
	return func(c *Calibrator) { c.workers = n }
}

// New returns a calibrator with the given fixed beta.
func New(beta float64, opts ...Option) (*Calibrator, error) {
	c := &Calibrator{
		beta:     beta,
		initial:  DefaultInitial,
		bounds:   DefaultBounds(),
		settings: DefaultSettings(),
		workers:  runtime.GOMAXPROCS(0),
	}
	return c.apply(opts)
}

// With returns a copy of c with opts applied; c is unchanged.
func (c *Calibrator) With(opts ...Option) (*Calibrator, error) {
	cp := *c
	return cp.apply(opts)
}

func (c *Calibrator) apply(opts []Option) (*Calibrator, error) {
	for _, o := range opts {
		o(c)
	}
	if !(c.beta >= 0 && c.beta <= 1) {
		return nil, fmt.Errorf("%w: beta must be in [0, 1], got %g", model.ErrValidation, c.beta)
	}
	if err := c.bounds.Validate(); err != nil {
		return nil, err
	}
	if err := c.settings.Validate(); err != nil {
		return nil, err
	}
	if c.workers < 1 {
		c.workers = 1
	}
	return c, nil
}

// Beta returns the fixed beta.
func (c *Calibrator) Beta() float64 { return c.beta }

// CalibrateToVols fits the Hagan smile to market vols on one expiry.
// On budget exhaustion the best iterate is returned together with a
// *NonConvergenceError.
func (c *Calibrator) CalibrateToVols(F, T float64, strikes, vols []float64) (model.CalibResult, error) {
	if err := checkSlice(strikes, vols); err != nil {
		return model.CalibResult{}, err
	}
	residuals := func(x, dst []float64) {
		p := c.params(x)
		for i, k := range strikes {
			dst[i] = sabr.ImpliedVol(F, k, T, p) - vols[i]
		}
	}
	return c.solve(residuals, len(strikes))
}

// CalibrateToPrices fits Black prices of the Hagan smile to market prices
// on one expiry, discounting with df.
func (c *Calibrator) CalibrateToPrices(F, T float64, strikes, prices []float64, df float64, call bool) (model.CalibResult, error) {
	if err := checkSlice(strikes, prices); err != nil {
		return model.CalibResult{}, err
	}
	residuals := func(x, dst []float64) {
		p := c.params(x)
		for i, k := range strikes {
			vol := sabr.ImpliedVol(F, k, T, p)
			dst[i] = black.Price(F, k, T, vol, df, call) - prices[i]
		}
	}
	return c.solve(residuals, len(strikes))
}

func (c *Calibrator) params(x []float64) model.SABRParams {
	return model.SABRParams{Alpha: x[0], Beta: c.beta, Rho: x[1], Nu: x[2]}
}

func (c *Calibrator) solve(fn ResidualFunc, m int) (model.CalibResult, error) {
	res, err := Minimize(fn, m, c.initial[:], c.bounds.Lower[:], c.bounds.Upper[:], c.settings)
	if res.X == nil {
		return model.CalibResult{}, err
	}
	// Every point of a validated box is a valid parameter set.
	params := model.MustSABRParams(res.X[0], c.beta, res.X[1], res.X[2])
	out := model.CalibResult{
		Params:     params,
		Loss:       res.Cost,
		Iterations: res.Iterations,
		Converged:  res.Converged,
	}
	return out, err
}

func checkSlice(strikes, values []float64) error {
	if len(strikes) == 0 {
		return fmt.Errorf("%w: empty smile slice", model.ErrValidation)
	}
	if len(strikes) != len(values) {
		return fmt.Errorf("%w: %d strikes but %d quotes", model.ErrValidation, len(strikes), len(values))
	}
	for i := range strikes {
		if math.IsNaN(strikes[i]) || math.IsInf(strikes[i], 0) || math.IsNaN(values[i]) || math.IsInf(values[i], 0) {
			return fmt.Errorf("%w: non-finite quote at index %d", model.ErrValidation, i)
		}
	}
	return nil
}
