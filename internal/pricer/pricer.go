// Package pricer values swaptions, caps and floors from a discount curve
// and a per-expiry table of SABR parameters.
package pricer

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/atmx/sabr-engine/internal/black"
	"github.com/atmx/sabr-engine/internal/curve"
	"github.com/atmx/sabr-engine/internal/model"
	"github.com/atmx/sabr-engine/internal/sabr"
)

// ErrMissingParameters is returned when an expiry has no parameter entry
// and no fallback applies.
var ErrMissingParameters = errors.New("pricer: missing SABR parameters")

// MaxMaturity bounds every expiry, swap end and cap maturity, in years.
const MaxMaturity = 100.0

// Default cap/floor fallback, completed with the pricer's beta.
const (
	DefaultFallbackAlpha = 0.04
	DefaultFallbackRho   = -0.2
	DefaultFallbackNu    = 0.4
)

// Pricer is not safe for concurrent mutation; build one per request or
// guard SetParams externally.
type Pricer struct {
	curve    curve.Curve
	model    sabr.Model
	params   map[float64]model.SABRParams
	fallback model.SABRParams
}

// Option configures a Pricer.
type Option func(*Pricer)

// WithFallback sets the (alpha, rho, nu) used for cap/floor legs whose
// start has no parameter entry.
func WithFallback(alpha, rho, nu float64) Option {
	return func(p *Pricer) {
		p.fallback = model.SABRParams{Alpha: alpha, Beta: p.model.Beta, Rho: rho, Nu: nu}
	}
}

// New returns a pricer over c with fixed beta and an empty parameter table.
func New(c curve.Curve, beta float64, opts ...Option) *Pricer {
	p := &Pricer{
		curve:  c,
		model:  sabr.NewModel(beta),
		params: make(map[float64]model.SABRParams),
	}
	p.fallback = p.model.Params(DefaultFallbackAlpha, DefaultFallbackRho, DefaultFallbackNu)
	for _, o := range opts {
		o(p)
	}
	return p
}

// Curve returns the discount curve.
func (p *Pricer) Curve() curve.Curve { return p.curve }

// Beta returns the fixed beta.
func (p *Pricer) Beta() float64 { return p.model.Beta }

// Fallback returns the cap/floor fallback parameters.
func (p *Pricer) Fallback() model.SABRParams { return p.fallback }

// SetParams sets the parameters for exactly expiry T, replacing any entry.
func (p *Pricer) SetParams(T float64, params model.SABRParams) error {
	if !(T >= 0) || math.IsInf(T, 0) {
		return fmt.Errorf("%w: invalid expiry %g", model.ErrValidation, T)
	}
	if err := params.Validate(); err != nil {
		return fmt.Errorf("expiry %g: %w", T, err)
	}
	p.params[T] = params
	return nil
}

// Params returns the entry for exactly expiry T.
func (p *Pricer) Params(T float64) (model.SABRParams, bool) {
	params, ok := p.params[T]
	return params, ok
}

// Expiries returns the expiries with a parameter entry, ascending.
func (p *Pricer) Expiries() []float64 {
	out := make([]float64, 0, len(p.params))
	for T := range p.params {
		out = append(out, T)
	}
	sort.Float64s(out)
	return out
}

// ImpliedVol returns the SABR vol at (F, K) for expiry T. There is no
// interpolation across expiries.
func (p *Pricer) ImpliedVol(F, K, T float64) (float64, error) {
	params, ok := p.params[T]
	if !ok {
		return 0, fmt.Errorf("%w: no parameters for expiry %g", ErrMissingParameters, T)
	}
	return sabr.ImpliedVol(F, K, T, params), nil
}

// SwaptionQuote is a swaption price with the inputs that produced it.
type SwaptionQuote struct {
	Forward float64 `json:"forward"`
	Vol     float64 `json:"vol"`
	Annuity float64 `json:"annuity"`
	Price   float64 `json:"price"`
}

// PriceSwaption values a European swaption on a swap running from expiry to
// expiry+tenor with freq fixed payments per year. Payer swaptions are calls
// on the forward swap rate.
func (p *Pricer) PriceSwaption(notional, expiry, tenor, strike float64, payer bool, freq int) (float64, error) {
	q, err := p.QuoteSwaption(notional, expiry, tenor, strike, payer, freq)
	return q.Price, err
}

// QuoteSwaption is PriceSwaption with the forward, vol and annuity exposed.
func (p *Pricer) QuoteSwaption(notional, expiry, tenor, strike float64, payer bool, freq int) (SwaptionQuote, error) {
	if freq <= 0 {
		return SwaptionQuote{}, fmt.Errorf("%w: frequency must be positive, got %d", model.ErrValidation, freq)
	}
	if !(expiry >= 0) || !(tenor > 0) || expiry+tenor > MaxMaturity {
		return SwaptionQuote{}, fmt.Errorf("%w: %gY x %gY swaption must end within %g years", model.ErrValidation, expiry, tenor, MaxMaturity)
	}
	end := expiry + tenor
	F := p.curve.ForwardSwapRate(expiry, end, freq)
	vol, err := p.ImpliedVol(F, strike, expiry)
	if err != nil {
		return SwaptionQuote{}, err
	}
	annuity := curve.Annuity(p.curve, expiry, end, freq)
	dfExpiry := p.curve.DF(expiry)

	// Black discounts to expiry; the annuity already discounts every
	// payment, so the expiry factor is divided back out.
	unit := black.Price(F, strike, expiry, vol, dfExpiry, payer)
	return SwaptionQuote{
		Forward: F,
		Vol:     vol,
		Annuity: annuity,
		Price:   notional * annuity * unit / dfExpiry,
	}, nil
}

// Leg is one caplet or floorlet.
type Leg struct {
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Forward  float64 `json:"forward"`
	Vol      float64 `json:"vol"`
	Price    float64 `json:"price"`
	Fallback bool    `json:"fallback"`
}

// PriceCap values a cap over an ascending maturity grid as the sum of its
// caplets. Accruals come from the grid itself; freq is only checked, and
// CapSchedule builds a regular grid for it.
func (p *Pricer) PriceCap(notional, strike float64, maturities []float64, freq int) (float64, error) {
	if err := checkFreq(freq); err != nil {
		return 0, err
	}
	legs, err := p.Legs(notional, strike, maturities, true)
	return sumLegs(legs), err
}

// PriceFloor values a floor over an ascending maturity grid as the sum of
// its floorlets. freq is treated as in PriceCap.
func (p *Pricer) PriceFloor(notional, strike float64, maturities []float64, freq int) (float64, error) {
	if err := checkFreq(freq); err != nil {
		return 0, err
	}
	legs, err := p.Legs(notional, strike, maturities, false)
	return sumLegs(legs), err
}

// Legs decomposes a cap (isCap) or floor into one leg per adjacent pair
// (T1, T2) of maturities. Each leg fixes at T1 on the simple forward
// (DF(T1)/DF(T2)-1)/τ and uses the parameters for T1, or the fallback.
func (p *Pricer) Legs(notional, strike float64, maturities []float64, isCap bool) ([]Leg, error) {
	if err := checkGrid(maturities); err != nil {
		return nil, err
	}
	if len(maturities) < 2 {
		return nil, nil
	}
	legs := make([]Leg, 0, len(maturities)-1)
	for i := 0; i < len(maturities)-1; i++ {
		T1, T2 := maturities[i], maturities[i+1]
		tau := T2 - T1
		df1, df2 := p.curve.DF(T1), p.curve.DF(T2)
		F := (df1/df2 - 1) / tau

		params, ok := p.params[T1]
		if !ok {
			params = p.fallback
		}
		vol := sabr.ImpliedVol(F, strike, T1, params)
		legs = append(legs, Leg{
			Start:    T1,
			End:      T2,
			Forward:  F,
			Vol:      vol,
			Price:    notional * tau * black.Price(F, strike, T1, vol, df1, isCap),
			Fallback: !ok,
		})
	}
	return legs, nil
}

// CapSchedule returns [0, 1/freq, 2/freq, ..., years], each rounded to
// 8 decimals.
func CapSchedule(years float64, freq int) ([]float64, error) {
	if err := checkFreq(freq); err != nil {
		return nil, err
	}
	if !(years > 0) || years > MaxMaturity {
		return nil, fmt.Errorf("%w: cap length must be in (0, %g], got %g", model.ErrValidation, MaxMaturity, years)
	}
	step := 1 / float64(freq)
	var out []float64
	for i := 0; ; i++ {
		t := float64(i) * step
		if t > years+1e-12 {
			break
		}
		out = append(out, math.Round(t*1e8)/1e8)
	}
	return out, nil
}

func checkGrid(maturities []float64) error {
	for i, t := range maturities {
		if !(t >= 0) || t > MaxMaturity {
			return fmt.Errorf("%w: invalid maturity %g at index %d", model.ErrValidation, t, i)
		}
		if i > 0 && !(t > maturities[i-1]) {
			return fmt.Errorf("%w: maturities must be strictly ascending (index %d)", model.ErrValidation, i)
		}
	}
	return nil
}

func checkFreq(freq int) error {
	if freq <= 0 {
		return fmt.Errorf("%w: frequency must be positive, got %d", model.ErrValidation, freq)
	}
	return nil
}

func sumLegs(legs []Leg) float64 {
	var sum float64
	for _, l := range legs {
		sum += l.Price
	}
	return sum
}
