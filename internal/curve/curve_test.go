package curve

import (
	"errors"
	"math"
	"testing"

	"github.com/atmx/sabr-engine/internal/model"
)

func approx(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

// --- Flat curve ---

func TestFlat_DF(t *testing.T) {
	c := NewFlat(0.02)
	if c.DF(0) != 1 {
		t.Errorf("DF(0) should be 1, got %v", c.DF(0))
	}
	if !approx(c.DF(5), math.Exp(-0.1), 1e-15) {
		t.Errorf("DF(5) = %v, want %v", c.DF(5), math.Exp(-0.1))
	}
}

func TestFlat_DFMonotone(t *testing.T) {
	c := NewFlat(0.035)
	prev := c.DF(0)
	for i := 1; i <= 120; i++ {
		df := c.DF(float64(i) * 0.25)
		if df > prev || df <= 0 || df > 1 {
			t.Fatalf("DF not in (0,1] or increasing at t=%v: %v (prev %v)", float64(i)*0.25, df, prev)
		}
		prev = df
	}
}

func TestFlat_ForwardSwapRateOneYearAnnual(t *testing.T) {
	for _, r := range []float64{0.0, 0.01, 0.02, 0.05} {
		c := NewFlat(r)
		got := c.ForwardSwapRate(0, 1, 1)
		want := math.Exp(r) - 1
		if !approx(got, want, 1e-9) {
			t.Errorf("r=%v: forward = %v, want %v", r, got, want)
		}
	}
}

func TestFlat_ForwardSwapRateDegenerate(t *testing.T) {
	c := NewFlat(0.02)
	tests := []struct {
		name       string
		start, end float64
		freq       int
	}{
		{"zero length", 5, 5, 1},
		{"shorter than one period", 5, 5.5, 1},
		{"zero frequency", 0, 5, 0},
		{"negative frequency", 0, 5, -2},
	}
	for _, tt := range tests {
		if got := c.ForwardSwapRate(tt.start, tt.end, tt.freq); got != 0 {
			t.Errorf("%s: expected 0, got %v", tt.name, got)
		}
	}
}

// --- Schedule ---

func TestPaymentTimes_BoundaryRoundOff(t *testing.T) {
	// 0.1 steps accumulate round-off; the last payment must still be kept.
	times := PaymentTimes(0, 1, 10)
	if len(times) != 10 {
		t.Fatalf("expected 10 payments, got %d: %v", len(times), times)
	}
	if !approx(times[9], 1, 1e-12) {
		t.Errorf("last payment should be 1, got %v", times[9])
	}
}

func TestPaymentTimes_Semiannual(t *testing.T) {
	times := PaymentTimes(5, 7, 2)
	want := []float64{5.5, 6, 6.5, 7}
	if len(times) != len(want) {
		t.Fatalf("got %v, want %v", times, want)
	}
	for i := range want {
		if !approx(times[i], want[i], 1e-12) {
			t.Errorf("times[%d] = %v, want %v", i, times[i], want[i])
		}
	}
}

func TestAnnuity_Flat(t *testing.T) {
	c := NewFlat(0.03)
	got := Annuity(c, 1, 3, 2)
	want := 0.5 * (c.DF(1.5) + c.DF(2) + c.DF(2.5) + c.DF(3))
	if !approx(got, want, 1e-15) {
		t.Errorf("annuity = %v, want %v", got, want)
	}
}

func TestForwardSwapRate_ParIdentity(t *testing.T) {
	// A swap struck at the forward has zero value: F * annuity == DF(s) - DF(e).
	c, err := NewZero([]model.CurvePoint{{Maturity: 1, ZeroRate: 0.015}, {Maturity: 5, ZeroRate: 0.025}, {Maturity: 10, ZeroRate: 0.03}})
	if err != nil {
		t.Fatal(err)
	}
	f := c.ForwardSwapRate(2, 7, 4)
	lhs := f * Annuity(c, 2, 7, 4)
	rhs := c.DF(2) - c.DF(7)
	if !approx(lhs, rhs, 1e-14) {
		t.Errorf("par identity broken: %v vs %v", lhs, rhs)
	}
}

// --- Zero curve ---

func TestNewZero_SortsUnsortedInput(t *testing.T) {
	c, err := NewZero([]model.CurvePoint{{Maturity: 10, ZeroRate: 0.03}, {Maturity: 1, ZeroRate: 0.01}, {Maturity: 5, ZeroRate: 0.02}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pts := c.Points()
	for i := 1; i < len(pts); i++ {
		if pts[i].Maturity <= pts[i-1].Maturity {
			t.Fatalf("points not sorted: %+v", pts)
		}
	}
	if !approx(c.Zero(3), 0.015, 1e-15) {
		t.Errorf("zero(3) = %v, want 0.015", c.Zero(3))
	}
}

func TestNewZero_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		points []model.CurvePoint
	}{
		{"empty", nil},
		{"duplicate maturity", []model.CurvePoint{{Maturity: 1, ZeroRate: 0.01}, {Maturity: 1, ZeroRate: 0.02}}},
		{"nan rate", []model.CurvePoint{{Maturity: 1, ZeroRate: math.NaN()}}},
		{"inf maturity", []model.CurvePoint{{Maturity: math.Inf(1), ZeroRate: 0.01}}},
	}
	for _, tt := range tests {
		_, err := NewZero(tt.points)
		if !errors.Is(err, model.ErrValidation) {
			t.Errorf("%s: expected ErrValidation, got %v", tt.name, err)
		}
	}
}

func TestZero_FlatExtrapolation(t *testing.T) {
	c, _ := NewZero([]model.CurvePoint{{Maturity: 1, ZeroRate: 0.01}, {Maturity: 2, ZeroRate: 0.02}})
	if got := c.Zero(0.25); got != 0.01 {
		t.Errorf("zero below range should clamp to 0.01, got %v", got)
	}
	// Linear extrapolation would give 0.05 at t=5.
	if got := c.Zero(5); got != 0.02 {
		t.Errorf("zero above range should clamp to 0.02, got %v", got)
	}
}

func TestZero_Interpolation(t *testing.T) {
	c, _ := NewZero([]model.CurvePoint{{Maturity: 1, ZeroRate: 0.01}, {Maturity: 3, ZeroRate: 0.03}})
	tests := []struct{ t, want float64 }{
		{1, 0.01},
		{1.5, 0.015},
		{2, 0.02},
		{2.75, 0.0275},
		{3, 0.03},
	}
	for _, tt := range tests {
		if got := c.Zero(tt.t); !approx(got, tt.want, 1e-15) {
			t.Errorf("zero(%v) = %v, want %v", tt.t, got, tt.want)
		}
	}
}

func TestZero_DF(t *testing.T) {
	c, _ := NewZero([]model.CurvePoint{{Maturity: 1, ZeroRate: 0.01}, {Maturity: 3, ZeroRate: 0.03}})
	if c.DF(0) != 1 {
		t.Errorf("DF(0) = %v, want 1", c.DF(0))
	}
	if c.DF(-1) != 1 {
		t.Errorf("DF(-1) = %v, want 1", c.DF(-1))
	}
	if !approx(c.DF(2), math.Exp(-0.04), 1e-15) {
		t.Errorf("DF(2) = %v, want %v", c.DF(2), math.Exp(-0.04))
	}
}

func TestZero_SinglePoint(t *testing.T) {
	c, err := NewZero([]model.CurvePoint{{Maturity: 5, ZeroRate: 0.025}})
	if err != nil {
		t.Fatal(err)
	}
	flat := NewFlat(0.025)
	for _, tt := range []float64{0.5, 5, 12} {
		if !approx(c.DF(tt), flat.DF(tt), 1e-15) {
			t.Errorf("single-point curve should behave flat at t=%v", tt)
		}
	}
}

func TestFromSpec(t *testing.T) {
	c, err := FromSpec(model.CurveSpec{}, 0.02)
	if err != nil {
		t.Fatal(err)
	}
	if f, ok := c.(*Flat); !ok || f.Rate != 0.02 {
		t.Errorf("empty curve spec should give default flat curve, got %#v", c)
	}

	c, err = FromSpec(model.CurveSpec{Kind: model.CurveZero, Points: []model.CurvePoint{{Maturity: 1, ZeroRate: 0.01}, {Maturity: 2, ZeroRate: 0.02}}}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(*Zero); !ok {
		t.Errorf("expected *Zero, got %T", c)
	}

	if _, err := FromSpec(model.CurveSpec{Kind: "spline"}, 0); !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected ErrValidation for unknown kind, got %v", err)
	}
}

func TestGrid(t *testing.T) {
	c, _ := NewZero([]model.CurvePoint{{Maturity: 1, ZeroRate: 0.01}, {Maturity: 3, ZeroRate: 0.03}})
	g := Grid(c, 3, 0.5)
	if len(g) != 6 {
		t.Fatalf("expected 6 grid rows, got %d", len(g))
	}
	last := g[len(g)-1]
	if last.Maturity != 3 || last.ZeroRate != 0.03 || !approx(last.DF, math.Exp(-0.09), 1e-15) {
		t.Errorf("unexpected last row %+v", last)
	}
	if Grid(c, 0, 0.5) != nil || Grid(c, 3, 0) != nil {
		t.Error("degenerate grid requests should return nil")
	}
}
