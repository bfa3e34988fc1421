// Package marketdata reads curve and market-quote tables and groups quotes
// into per-expiry smile slices for calibration.
package marketdata

import (
	"fmt"
	"math"
	"sort"

	"github.com/atmx/sabr-engine/internal/black"
	"github.com/atmx/sabr-engine/internal/model"
)

// Dataset is a validated set of market quotes. At least one of HasVol or
// HasPrice is true: every row carries that value.
type Dataset struct {
	Quotes   []model.MarketQuote
	HasVol   bool
	HasPrice bool
}

// NewDataset validates quotes. Rows must have positive expiry and finite
// forward/strike; either every row has a vol or every row has a price.
func NewDataset(quotes []model.MarketQuote) (*Dataset, error) {
	if len(quotes) == 0 {
		return nil, fmt.Errorf("%w: market dataset is empty", model.ErrValidation)
	}
	hasVol, hasPrice := true, true
	for i, q := range quotes {
		if !finite(q.Expiry) || !finite(q.Forward) || !finite(q.Strike) {
			return nil, fmt.Errorf("%w: row %d: non-finite expiry/forward/strike", model.ErrValidation, i)
		}
		if q.Expiry <= 0 {
			return nil, fmt.Errorf("%w: row %d: expiry must be positive, got %g", model.ErrValidation, i, q.Expiry)
		}
		if q.Vol == nil || !finite(*q.Vol) {
			hasVol = false
		}
		if q.Price == nil || !finite(*q.Price) {
			hasPrice = false
		}
	}
	if !hasVol && !hasPrice {
		return nil, fmt.Errorf("%w: dataset must carry a vol or a price on every row", model.ErrValidation)
	}

	cp := make([]model.MarketQuote, len(quotes))
	copy(cp, quotes)
	return &Dataset{Quotes: cp, HasVol: hasVol, HasPrice: hasPrice}, nil
}

// Slice is one expiry's smile: a fixed forward and an ascending strike grid.
// Vols or Prices is nil when the dataset does not carry that column.
type Slice struct {
	Expiry  float64   `json:"expiry"`
	Forward float64   `json:"forward"`
	Strikes []float64 `json:"strikes"`
	Vols    []float64 `json:"vols,omitempty"`
	Prices  []float64 `json:"prices,omitempty"`
}

// Expiries returns the distinct expiries in ascending order.
func (d *Dataset) Expiries() []float64 {
	seen := make(map[float64]bool)
	var out []float64
	for _, q := range d.Quotes {
		if !seen[q.Expiry] {
			seen[q.Expiry] = true
			out = append(out, q.Expiry)
		}
	}
	sort.Float64s(out)
	return out
}

// Slices groups the dataset by expiry, ascending.
func (d *Dataset) Slices() []Slice {
	expiries := d.Expiries()
	out := make([]Slice, 0, len(expiries))
	for _, T := range expiries {
		s, _ := d.Slice(T)
		out = append(out, s)
	}
	return out
}

// Slice returns the smile for expiry T. The forward is taken from the
// lowest-strike row; quotes within an expiry share one forward.
func (d *Dataset) Slice(T float64) (Slice, bool) {
	var rows []model.MarketQuote
	for _, q := range d.Quotes {
		if q.Expiry == T {
			rows = append(rows, q)
		}
	}
	if len(rows) == 0 {
		return Slice{}, false
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Strike < rows[j].Strike })

	s := Slice{
		Expiry:  T,
		Forward: rows[0].Forward,
		Strikes: make([]float64, len(rows)),
	}
	if d.HasVol {
		s.Vols = make([]float64, len(rows))
	}
	if d.HasPrice {
		s.Prices = make([]float64, len(rows))
	}
	for i, q := range rows {
		s.Strikes[i] = q.Strike
		if d.HasVol {
			s.Vols[i] = *q.Vol
		}
		if d.HasPrice {
			s.Prices[i] = *q.Price
		}
	}
	return s, true
}

// MarketPrices returns the slice's quoted prices or, for a vol-only
// dataset, prices synthesised through Black with discount factor df.
func (s Slice) MarketPrices(df float64, call bool) []float64 {
	if s.Prices != nil {
		out := make([]float64, len(s.Prices))
		copy(out, s.Prices)
		return out
	}
	out := make([]float64, len(s.Strikes))
	for i, k := range s.Strikes {
		out[i] = black.Price(s.Forward, k, s.Expiry, s.Vols[i], df, call)
	}
	return out
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
