// Package curve provides discount curves for the SABR engine: a flat
// continuously-compounded curve and a piecewise-linear zero-rate curve.
//
// Both expose discount factors and par forward swap rates over a regular
// payment schedule. Degenerate schedules (zero length, non-positive
// frequency) yield a forward of 0 rather than an error.
package curve

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/interp"

	"github.com/atmx/sabr-engine/internal/model"
)

// scheduleTolerance absorbs floating round-off when the last payment time
// lands on the schedule end.
const scheduleTolerance = 1e-12

// Curve supplies discount factors and forward swap rates.
type Curve interface {
	// DF returns the discount factor to time t (years). DF(0) == 1.
	DF(t float64) float64

	// ForwardSwapRate returns the par rate of a swap starting at start,
	// ending at end, paying freq times per year.
	ForwardSwapRate(start, end float64, freq int) float64
}

// PaymentTimes returns start+1/freq, start+2/freq, ... not exceeding end.
func PaymentTimes(start, end float64, freq int) []float64 {
	if freq <= 0 {
		return nil
	}
	step := 1.0 / float64(freq)
	var times []float64
	for i := 1; ; i++ {
		t := start + float64(i)*step
		if t > end+scheduleTolerance {
			break
		}
		times = append(times, t)
	}
	return times
}

// Annuity returns (1/freq) * Σ DF(t_i) over the payment schedule.
func Annuity(c Curve, start, end float64, freq int) float64 {
	times := PaymentTimes(start, end, freq)
	if len(times) == 0 {
		return 0
	}
	var sum float64
	for _, t := range times {
		sum += c.DF(t)
	}
	return sum / float64(freq)
}

func forwardSwapRate(c Curve, start, end float64, freq int) float64 {
	annuity := Annuity(c, start, end, freq)
	if annuity <= 0 {
		return 0
	}
	return (c.DF(start) - c.DF(end)) / annuity
}

// Flat is a single continuously-compounded rate.
type Flat struct {
	Rate float64
}

// NewFlat returns a flat curve at rate r.
func NewFlat(r float64) *Flat {
	return &Flat{Rate: r}
}

// DF returns exp(-r*t).
func (f *Flat) DF(t float64) float64 {
	return math.Exp(-f.Rate * t)
}

// ForwardSwapRate implements Curve.
func (f *Flat) ForwardSwapRate(start, end float64, freq int) float64 {
	return forwardSwapRate(f, start, end, freq)
}

// Zero is a piecewise-linear zero-rate curve. Rates are flat-extrapolated
// outside [t_min, t_max]; the linear trend is never extended.
type Zero struct {
	maturities []float64
	rates      []float64
	pl         *interp.PiecewiseLinear // nil for a single-node curve
}

// NewZero builds a zero curve from (maturity, rate) nodes in any order.
// Maturities must be unique and every value finite.
func NewZero(points []model.CurvePoint) (*Zero, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: zero curve needs at least one point", model.ErrValidation)
	}
	sorted := make([]model.CurvePoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Maturity < sorted[j].Maturity })

	z := &Zero{
		maturities: make([]float64, len(sorted)),
		rates:      make([]float64, len(sorted)),
	}
	for i, p := range sorted {
		if !finite(p.Maturity) || !finite(p.ZeroRate) {
			return nil, fmt.Errorf("%w: non-finite curve point %+v", model.ErrValidation, p)
		}
		if i > 0 && p.Maturity == sorted[i-1].Maturity {
			return nil, fmt.Errorf("%w: duplicate maturity %g", model.ErrValidation, p.Maturity)
		}
		z.maturities[i] = p.Maturity
		z.rates[i] = p.ZeroRate
	}

	if len(sorted) > 1 {
		pl := &interp.PiecewiseLinear{}
		if err := pl.Fit(z.maturities, z.rates); err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrValidation, err)
		}
		z.pl = pl
	}
	return z, nil
}

// Zero returns the interpolated zero rate at t.
func (z *Zero) Zero(t float64) float64 {
	n := len(z.maturities)
	if t <= z.maturities[0] {
		return z.rates[0]
	}
	if t >= z.maturities[n-1] {
		return z.rates[n-1]
	}
	return z.pl.Predict(t)
}

// DF returns exp(-zero(t)*t), with DF(t<=0) = 1.
func (z *Zero) DF(t float64) float64 {
	if t <= 0 {
		return 1
	}
	return math.Exp(-z.Zero(t) * t)
}

// ForwardSwapRate implements Curve.
func (z *Zero) ForwardSwapRate(start, end float64, freq int) float64 {
	return forwardSwapRate(z, start, end, freq)
}

// Points returns the sorted curve nodes.
func (z *Zero) Points() []model.CurvePoint {
	out := make([]model.CurvePoint, len(z.maturities))
	for i := range z.maturities {
		out[i] = model.CurvePoint{Maturity: z.maturities[i], ZeroRate: z.rates[i]}
	}
	return out
}

// FromSpec rebuilds a Curve from its persisted description. An empty spec
// yields the given default flat curve.
func FromSpec(spec model.CurveSpec, defaultRate float64) (Curve, error) {
	switch spec.Kind {
	case "":
		return NewFlat(defaultRate), nil
	case model.CurveFlat:
		if !finite(spec.FlatRate) {
			return nil, fmt.Errorf("%w: non-finite flat rate", model.ErrValidation)
		}
		return NewFlat(spec.FlatRate), nil
	case model.CurveZero:
		return NewZero(spec.Points)
	default:
		return nil, fmt.Errorf("%w: unknown curve kind %q", model.ErrValidation, spec.Kind)
	}
}

// GridPoint is one row of a curve display grid.
type GridPoint struct {
	Maturity float64 `json:"maturity"`
	ZeroRate float64 `json:"zero_rate"`
	DF       float64 `json:"df"`
}

// Grid samples the curve at step, 2*step, ... up to maxT. The zero rate of a
// generic curve is recovered as -ln(DF)/t.
func Grid(c Curve, maxT, step float64) []GridPoint {
	if step <= 0 || maxT <= 0 {
		return nil
	}
	var out []GridPoint
	for i := 1; ; i++ {
		t := float64(i) * step
		if t > maxT+scheduleTolerance {
			break
		}
		df := c.DF(t)
		var zr float64
		switch cc := c.(type) {
		case *Zero:
			zr = cc.Zero(t)
		case *Flat:
			zr = cc.Rate
		default:
			zr = -math.Log(df) / t
		}
		out = append(out, GridPoint{Maturity: t, ZeroRate: zr, DF: df})
	}
	return out
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
