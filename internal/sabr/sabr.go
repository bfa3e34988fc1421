// Package sabr implements Hagan's asymptotic expansion mapping SABR
// parameters to a Black-equivalent implied volatility.
//
// The expansion is second order: accuracy degrades for long maturities and
// extreme skew or vol-of-vol. Negative outputs at extreme moneyness are
// floored at zero.
//
// Reference: Hagan, Kumar, Lesniewski, Woodward (2002) "Managing Smile Risk"
package sabr

import (
	"math"

	"github.com/atmx/sabr-engine/internal/model"
)

// ATMTolerance is the |F-K| below which the z/χ ratio is replaced by its
// limit value 1.
const ATMTolerance = 1e-12

// ImpliedVol returns the Hagan lognormal implied volatility for forward F,
// strike K and expiry T. Non-positive F, K or alpha give 0.
func ImpliedVol(F, K, T float64, p model.SABRParams) float64 {
	alpha, beta, rho, nu := p.Alpha, p.Beta, p.Rho, p.Nu
	if F <= 0 || K <= 0 || alpha <= 0 {
		return 0
	}

	oneMinusBeta := 1 - beta
	fkBeta := math.Pow(F*K, 0.5*oneMinusBeta) // (FK)^((1-β)/2)

	var logFK float64
	if F != K {
		logFK = math.Log(F / K)
	}
	logFK2 := logFK * logFK

	omb2 := oneMinusBeta * oneMinusBeta
	denom := fkBeta * (1 + omb2/24*logFK2 + omb2*omb2/1920*logFK2*logFK2)

	timeDecay := 1 + T*(omb2/24*alpha*alpha/(fkBeta*fkBeta)+
		rho*beta*nu*alpha/(4*fkBeta)+
		(2-3*rho*rho)/24*nu*nu)

	vol := alpha / denom * timeDecay
	if math.Abs(F-K) >= ATMTolerance {
		z := nu / alpha * fkBeta * logFK
		vol *= zOverChi(z, rho)
	}
	if !(vol > 0) { // also catches NaN from χ at extreme moneyness
		return 0
	}
	return vol
}

// zOverChi returns z/χ(z) with χ(z) = ln[(√(1-2ρz+z²)+z-ρ)/(1-ρ)].
// χ is evaluated through log1p so the ratio stays accurate as z goes to 0.
func zOverChi(z, rho float64) float64 {
	if z == 0 {
		return 1
	}
	s := math.Sqrt(1 - 2*rho*z + z*z)
	// (s + z - ρ)/(1-ρ) - 1 == (s - 1 + z)/(1-ρ), with s-1 rewritten to
	// avoid cancellation.
	sMinusOne := (z*z - 2*rho*z) / (s + 1)
	chi := math.Log1p((sMinusOne + z) / (1 - rho))
	if chi == 0 {
		return 1
	}
	return z / chi
}

// Model carries the exogenously fixed beta used across an engine.
type Model struct {
	Beta float64
}

// NewModel returns a model with the given beta.
func NewModel(beta float64) Model {
	return Model{Beta: beta}
}

// Params assembles a parameter set with the model's beta. Values are not
// range-checked; use model.NewSABRParams for that.
func (m Model) Params(alpha, rho, nu float64) model.SABRParams {
	return model.SABRParams{Alpha: alpha, Beta: m.Beta, Rho: rho, Nu: nu}
}

// Smile evaluates implied vols for each strike on one expiry.
func Smile(F, T float64, strikes []float64, p model.SABRParams) []float64 {
	out := make([]float64, len(strikes))
	for i, k := range strikes {
		out[i] = ImpliedVol(F, k, T, p)
	}
	return out
}
