// Package model defines the core domain types shared across the SABR engine.
// The numerical core works in float64; notionals and instrument prices
// crossing the service boundary use shopspring/decimal.
package model

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrValidation marks structural input errors: missing CSV columns,
	// malformed rows, unsorted grids. Always fatal for the request.
	ErrValidation = errors.New("validation error")

	// ErrInvalidParams is returned when a SABR parameter set falls outside
	// alpha>0, beta∈[0,1], rho∈(-1,1), nu>=0.
	ErrInvalidParams = errors.New("model: invalid SABR parameters")
)

// SABRParams is an immutable SABR parameter set. Build it through
// NewSABRParams so the ranges are enforced.
type SABRParams struct {
	Alpha float64 `json:"alpha"` // instantaneous vol level
	Beta  float64 `json:"beta"`  // CEV exponent
	Rho   float64 `json:"rho"`   // spot/vol correlation
	Nu    float64 `json:"nu"`    // vol-of-vol
}

// NewSABRParams validates and returns a parameter set.
func NewSABRParams(alpha, beta, rho, nu float64) (SABRParams, error) {
	p := SABRParams{Alpha: alpha, Beta: beta, Rho: rho, Nu: nu}
	if err := p.Validate(); err != nil {
		return SABRParams{}, err
	}
	return p, nil
}

// MustSABRParams is NewSABRParams for compile-time constants. It panics on
// invalid input.
func MustSABRParams(alpha, beta, rho, nu float64) SABRParams {
	p, err := NewSABRParams(alpha, beta, rho, nu)
	if err != nil {
		panic(err)
	}
	return p
}

// Validate reports whether p is inside the SABR parameter domain.
func (p SABRParams) Validate() error {
	for _, v := range []float64{p.Alpha, p.Beta, p.Rho, p.Nu} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value in %+v", ErrInvalidParams, p)
		}
	}
	switch {
	case p.Alpha <= 0:
		return fmt.Errorf("%w: alpha must be positive, got %g", ErrInvalidParams, p.Alpha)
	case p.Beta < 0 || p.Beta > 1:
		return fmt.Errorf("%w: beta must be in [0,1], got %g", ErrInvalidParams, p.Beta)
	case p.Rho <= -1 || p.Rho >= 1:
		return fmt.Errorf("%w: rho must be in (-1,1), got %g", ErrInvalidParams, p.Rho)
	case p.Nu < 0:
		return fmt.Errorf("%w: nu must be non-negative, got %g", ErrInvalidParams, p.Nu)
	}
	return nil
}

// CalibResult is the outcome of one (expiry, objective) calibration.
// Loss is the sum of squared residuals at Params.
type CalibResult struct {
	Params     SABRParams `json:"params"`
	Loss       float64    `json:"loss"`
	Iterations int        `json:"iterations"`
	Converged  bool       `json:"converged"`
}

// MarketQuote is one row of a market-quote dataset. Exactly the columns the
// dataset carries are non-nil.
type MarketQuote struct {
	Expiry  float64  `json:"expiry"`
	Forward float64  `json:"forward"`
	Strike  float64  `json:"strike"`
	Vol     *float64 `json:"vol,omitempty"`
	Price   *float64 `json:"price,omitempty"`
}

// CurvePoint is one (maturity, continuously-compounded zero rate) node.
type CurvePoint struct {
	Maturity float64 `json:"maturity"`
	ZeroRate float64 `json:"zero_rate"`
}

// Curve kinds.
const (
	CurveFlat = "flat"
	CurveZero = "zero"
)

// CurveSpec is the serialisable description of a curve.
type CurveSpec struct {
	Kind     string       `json:"kind"`
	FlatRate float64      `json:"flat_rate,omitempty"`
	Points   []CurvePoint `json:"points,omitempty"`
}

// Calibration modes.
const (
	ModeVol    = "vol"
	ModePrice  = "price"
	ModeManual = "manual" // parameters set explicitly, not fitted
)

// Workspace is the explicit pipeline context: a curve, a market dataset
// and, through its calibrations, a parameter table.
type Workspace struct {
	ID        string        `json:"id" db:"id"`
	Name      string        `json:"name" db:"name"`
	Beta      float64       `json:"beta" db:"beta"`
	Curve     CurveSpec     `json:"curve" db:"curve"`
	Quotes    []MarketQuote `json:"quotes" db:"quotes"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
}

// Calibration is the persisted parameter set for one workspace expiry.
// A later calibration or manual set for the same expiry replaces it.
type Calibration struct {
	WorkspaceID string     `json:"workspace_id" db:"workspace_id"`
	Expiry      float64    `json:"expiry" db:"expiry"`
	Mode        string     `json:"mode" db:"mode"`
	Forward     float64    `json:"forward" db:"forward"`
	Params      SABRParams `json:"params" db:"params"`
	Loss        float64    `json:"loss" db:"loss"`
	Iterations  int        `json:"iterations" db:"iterations"`
	Converged   bool       `json:"converged" db:"converged"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// PricingRecord is an immutable record of a priced instrument.
// Once created, these are never modified or deleted.
type PricingRecord struct {
	ID          string          `json:"id" db:"id"`
	WorkspaceID string          `json:"workspace_id" db:"workspace_id"`
	Instrument  string          `json:"instrument" db:"instrument"` // "swaption", "cap", "floor"
	Notional    decimal.Decimal `json:"notional" db:"notional"`
	Strike      float64         `json:"strike" db:"strike"`
	Details     string          `json:"details" db:"details"` // human-readable terms, e.g. "5Yx10Y payer"
	Price       decimal.Decimal `json:"price" db:"price"`
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
}
