// Package instrument handles rates option ticker parsing and tenor
// conversion.
//
// Ticker formats:
//
//	SWPT-{expiry}x{tenor}-{PAY|REC}-{strike}   e.g. SWPT-5Yx10Y-PAY-0.03
//	{CAP|FLR}-{maturity}-{A|S|Q|M}-{strike}    e.g. CAP-5Y-Q-250BP
//
// Tenors are a number followed by M (months) or Y (years). Strikes are a
// decimal rate or a whole number of basis points with a BP suffix.
package instrument

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Instrument kinds.
const (
	KindSwaption = "SWAPTION"
	KindCap      = "CAP"
	KindFloor    = "FLOOR"
)

var frequencies = map[string]int{
	"A": 1,
	"S": 2,
	"Q": 4,
	"M": 12,
}

var (
	tenorRegex    = regexp.MustCompile(`^(\d+(?:\.\d+)?)([MY])$`)
	swaptionRegex = regexp.MustCompile(`^SWPT-([0-9.]+[MY])X([0-9.]+[MY])-(PAY|REC)-([0-9.]+(?:BP)?)$`)
	capFloorRegex = regexp.MustCompile(`^(CAP|FLR)-([0-9.]+[MY])-([A-Z])-([0-9.]+(?:BP)?)$`)
)

var (
	ErrInvalidTicker = errors.New("instrument: invalid ticker format")
	ErrInvalidTenor  = errors.New("instrument: invalid tenor")
)

var bpPerUnit = decimal.NewFromInt(10000)

// Instrument is a parsed ticker.
type Instrument struct {
	Ticker   string  `json:"ticker"`
	Kind     string  `json:"kind"`
	Expiry   float64 `json:"expiry,omitempty"`   // swaption option expiry, years
	Tenor    float64 `json:"tenor,omitempty"`    // swaption underlying length, years
	Maturity float64 `json:"maturity,omitempty"` // cap/floor final maturity, years
	Payer    bool    `json:"payer,omitempty"`
	Freq     int     `json:"freq"`
	Strike   float64 `json:"strike"`
}

// ParseTenor converts "6M", "18M", "5Y" or "2.5Y" into years.
func ParseTenor(s string) (float64, error) {
	m := tenorRegex.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(s)))
	if m == nil {
		return 0, fmt.Errorf("%w: %q (expected e.g. 6M or 5Y)", ErrInvalidTenor, s)
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTenor, s)
	}
	if m[2] == "M" {
		return n / 12, nil
	}
	return n, nil
}

// ParseStrike reads "0.03" or "300BP" as a decimal rate.
func ParseStrike(s string) (float64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	bp := strings.HasSuffix(s, "BP")
	d, err := decimal.NewFromString(strings.TrimSuffix(s, "BP"))
	if err != nil {
		return 0, fmt.Errorf("%w: strike %q", ErrInvalidTicker, s)
	}
	if bp {
		d = d.Div(bpPerUnit)
	}
	if !d.IsPositive() {
		return 0, fmt.Errorf("%w: strike must be positive, got %s", ErrInvalidTicker, s)
	}
	return d.InexactFloat64(), nil
}

// ParseTicker parses and validates a swaption, cap or floor ticker.
// Swaptions pay an annual fixed leg.
func ParseTicker(ticker string) (*Instrument, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))

	if m := swaptionRegex.FindStringSubmatch(ticker); m != nil {
		expiry, err := ParseTenor(m[1])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTicker, err)
		}
		tenor, err := ParseTenor(m[2])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTicker, err)
		}
		strike, err := ParseStrike(m[4])
		if err != nil {
			return nil, err
		}
		return &Instrument{
			Ticker: fmt.Sprintf("SWPT-%sx%s-%s-%s", m[1], m[2], m[3], m[4]),
			Kind:   KindSwaption,
			Expiry: expiry,
			Tenor:  tenor,
			Payer:  m[3] == "PAY",
			Freq:   1,
			Strike: strike,
		}, nil
	}

	if m := capFloorRegex.FindStringSubmatch(ticker); m != nil {
		maturity, err := ParseTenor(m[2])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTicker, err)
		}
		freq, ok := frequencies[m[3]]
		if !ok {
			return nil, fmt.Errorf("%w: unknown frequency %s (want A, S, Q or M)", ErrInvalidTicker, m[3])
		}
		strike, err := ParseStrike(m[4])
		if err != nil {
			return nil, err
		}
		kind := KindCap
		if m[1] == "FLR" {
			kind = KindFloor
		}
		return &Instrument{
			Ticker:   ticker,
			Kind:     kind,
			Maturity: maturity,
			Freq:     freq,
			Strike:   strike,
		}, nil
	}

	return nil, fmt.Errorf("%w: %s (expected SWPT-{exp}x{tenor}-{PAY|REC}-{strike} or {CAP|FLR}-{mat}-{freq}-{strike})",
		ErrInvalidTicker, ticker)
}
