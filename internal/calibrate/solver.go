package calibrate

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/atmx/sabr-engine/internal/model"
)

// ErrNotConverged is returned (wrapped in *NonConvergenceError) when the
// solver exhausts its iteration budget.
var ErrNotConverged = errors.New("calibrate: solver did not converge")

// NonConvergenceError carries the best iterate found before the budget ran out.
type NonConvergenceError struct {
	Result Result
}

func (e *NonConvergenceError) Error() string {
	return fmt.Sprintf("%v after %d iterations (loss %g)", ErrNotConverged, e.Result.Iterations, e.Result.Cost)
}

func (e *NonConvergenceError) Unwrap() error { return ErrNotConverged }

// ResidualFunc writes the residual vector at x into dst.
type ResidualFunc func(x, dst []float64)

// Settings controls the Levenberg-Marquardt iteration.
type Settings struct {
	MaxIterations int     `yaml:"max_iterations" json:"max_iterations" default:"200"`
	FTol          float64 `yaml:"ftol" json:"ftol" default:"1e-12"`
	XTol          float64 `yaml:"xtol" json:"xtol" default:"1e-12"`
	GTol          float64 `yaml:"gtol" json:"gtol" default:"1e-15"`
	InitialLambda float64 `yaml:"initial_lambda" json:"initial_lambda" default:"0.001"`
}

// DefaultSettings returns the solver defaults.
func DefaultSettings() Settings {
	return Settings{
		MaxIterations: 200,
		FTol:          1e-12,
		XTol:          1e-12,
		GTol:          1e-15,
		InitialLambda: 1e-3,
	}
}

// Validate rejects budgets and tolerances the solver cannot run with.
func (s Settings) Validate() error {
	if s.MaxIterations < 1 {
		return fmt.Errorf("%w: max iterations must be >= 1, got %d", model.ErrValidation, s.MaxIterations)
	}
	if s.FTol < 0 || s.XTol < 0 || s.GTol < 0 || s.InitialLambda <= 0 {
		return fmt.Errorf("%w: solver tolerances must be non-negative and lambda positive", model.ErrValidation)
	}
	return nil
}

// Result is the solver's final state.
type Result struct {
	X           []float64
	Cost        float64 // sum of squared residuals
	Iterations  int
	Evaluations int
	Converged   bool
	Reason      string
}

const (
	fdStep     = 1e-6
	fdFloor    = 1e-3
	lambdaMin  = 1e-12
	lambdaMax  = 1e20
	lambdaUp   = 10.0
	lambdaDown = 10.0
	diagFloor  = 1e-30
	// costFloor is the sum of squares treated as an exact fit.
	costFloor = 1e-24
)

type problem struct {
	fn           ResidualFunc
	m            int
	lower, upper []float64
	evals        int
}

func (p *problem) eval(x, dst []float64) float64 {
	p.evals++
	p.fn(x, dst)
	return sumSquares(dst)
}

// Minimize runs a projected Levenberg-Marquardt iteration on m residuals
// over the box [lower, upper]. The start point is clamped into the box, and
// every objective evaluation (trial steps and Jacobian probes) stays inside.
// The iteration is fully deterministic.
func Minimize(fn ResidualFunc, m int, x0, lower, upper []float64, s Settings) (Result, error) {
	n := len(x0)
	if n == 0 || len(lower) != n || len(upper) != n {
		return Result{}, fmt.Errorf("%w: start point and bounds must have equal non-zero length", model.ErrValidation)
	}
	if m < 1 {
		return Result{}, fmt.Errorf("%w: need at least one residual", model.ErrValidation)
	}
	for i := range lower {
		if !(lower[i] <= upper[i]) {
			return Result{}, fmt.Errorf("%w: bound %d: lower %g > upper %g", model.ErrValidation, i, lower[i], upper[i])
		}
	}
	if err := s.Validate(); err != nil {
		return Result{}, err
	}

	p := &problem{fn: fn, m: m, lower: lower, upper: upper}
	x := clampInto(make([]float64, n), x0, lower, upper)
	r := make([]float64, m)
	cost := p.eval(x, r)
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return Result{}, fmt.Errorf("%w: residuals are not finite at the start point", model.ErrValidation)
	}

	var (
		J      = mat.NewDense(m, n, nil)
		jtj    = mat.NewSymDense(n, nil)
		sys    = mat.NewSymDense(n, nil)
		grad   = mat.NewVecDense(n, nil)
		rhs    = mat.NewVecDense(n, nil)
		delta  = mat.NewVecDense(n, nil)
		trial  = make([]float64, n)
		step   = make([]float64, n)
		rTrial = make([]float64, m)
		fixed  = make([]bool, n)
		chol   mat.Cholesky
		lambda = s.InitialLambda
		res    = Result{}
	)
	p.jacobian(x, r, J)

	finish := func(reason string) (Result, error) {
		res.X = append([]float64(nil), x...)
		res.Cost = cost
		res.Evaluations = p.evals
		res.Converged = true
		res.Reason = reason
		return res, nil
	}

	for iter := 1; iter <= s.MaxIterations; iter++ {
		res.Iterations = iter
		if cost <= costFloor {
			return finish("exact fit")
		}

		grad.MulVec(J.T(), mat.NewVecDense(m, r))
		pgNorm := 0.0
		for j := 0; j < n; j++ {
			g := grad.AtVec(j)
			fixed[j] = lower[j] == upper[j] ||
				(x[j] <= lower[j] && g > 0) ||
				(x[j] >= upper[j] && g < 0)
			if !fixed[j] {
				pgNorm = math.Max(pgNorm, math.Abs(g))
			}
		}
		if pgNorm <= s.GTol {
			return finish("gradient below gtol")
		}

		jtj.SymOuterK(1, J.T())

		// Damping is at least lambda times the mean free curvature.
		meanDiag, free := 0.0, 0
		for j := 0; j < n; j++ {
			if !fixed[j] {
				meanDiag += jtj.At(j, j)
				free++
			}
		}
		if free > 0 {
			meanDiag /= float64(free)
		}
		meanDiag = math.Max(meanDiag, diagFloor)

		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				switch {
				case fixed[i] || fixed[j]:
					sys.SetSym(i, j, 0)
				case i == j:
					d := jtj.At(i, i)
					sys.SetSym(i, i, d+lambda*math.Max(d, meanDiag))
				default:
					sys.SetSym(i, j, jtj.At(i, j))
				}
			}
			if fixed[i] {
				sys.SetSym(i, i, 1)
				rhs.SetVec(i, 0)
			} else {
				rhs.SetVec(i, -grad.AtVec(i))
			}
		}

		if ok := chol.Factorize(sys); !ok || !solveStep(&chol, delta, rhs) {
			lambda *= lambdaUp
			if lambda > lambdaMax {
				return finish("no further descent")
			}
			continue
		}

		for j := 0; j < n; j++ {
			trial[j] = x[j] + delta.AtVec(j)
		}
		clampInto(trial, trial, lower, upper)
		floats.SubTo(step, trial, x)
		if floats.Norm(step, 2) <= s.XTol*(s.XTol+floats.Norm(x, 2)) {
			return finish("step below xtol")
		}

		trialCost := p.eval(trial, rTrial)
		if !(trialCost < cost) {
			lambda *= lambdaUp
			if lambda > lambdaMax {
				return finish("no further descent")
			}
			continue
		}

		reduction := cost - trialCost
		prev := cost
		copy(x, trial)
		copy(r, rTrial)
		cost = trialCost
		lambda = math.Max(lambda/lambdaDown, lambdaMin)
		if reduction <= s.FTol*prev {
			return finish("loss change below ftol")
		}
		p.jacobian(x, r, J)
	}

	res.X = append([]float64(nil), x...)
	res.Cost = cost
	res.Evaluations = p.evals
	res.Reason = "iteration budget exhausted"
	return res, &NonConvergenceError{Result: res}
}

// solveStep solves the damped system into delta. A poor condition estimate
// is not fatal; the step is used as long as it is finite.
func solveStep(chol *mat.Cholesky, delta, rhs *mat.VecDense) bool {
	if err := chol.SolveVecTo(delta, rhs); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return false
		}
	}
	for j := 0; j < delta.Len(); j++ {
		if v := delta.AtVec(j); math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// jacobian fills J by finite differences around x, where r holds the
// residuals at x. Central differences are used inside the box; at a bound
// the probe flips to the side with room.
func (p *problem) jacobian(x, r []float64, J *mat.Dense) {
	n := len(x)
	probe := append([]float64(nil), x...)
	rp := make([]float64, p.m)
	rm := make([]float64, p.m)

	for j := 0; j < n; j++ {
		h := fdStep * math.Max(math.Abs(x[j]), fdFloor)
		lo, hi := p.lower[j], p.upper[j]
		up := x[j]+h <= hi
		down := x[j]-h >= lo
		if !up && !down {
			// Box narrower than the probe: use whichever side is wider.
			if hi-x[j] >= x[j]-lo {
				h, up = hi-x[j], true
			} else {
				h, down = x[j]-lo, true
			}
		}

		switch {
		case h == 0:
			for i := 0; i < p.m; i++ {
				J.Set(i, j, 0)
			}
		case up && down:
			probe[j] = x[j] + h
			p.eval(probe, rp)
			xp := probe[j]
			probe[j] = x[j] - h
			p.eval(probe, rm)
			width := xp - probe[j]
			for i := 0; i < p.m; i++ {
				J.Set(i, j, (rp[i]-rm[i])/width)
			}
		case up:
			probe[j] = x[j] + h
			p.eval(probe, rp)
			width := probe[j] - x[j]
			for i := 0; i < p.m; i++ {
				J.Set(i, j, (rp[i]-r[i])/width)
			}
		default:
			probe[j] = x[j] - h
			p.eval(probe, rm)
			width := x[j] - probe[j]
			for i := 0; i < p.m; i++ {
				J.Set(i, j, (r[i]-rm[i])/width)
			}
		}
		probe[j] = x[j]
	}
}

func clampInto(dst, x, lower, upper []float64) []float64 {
	for i, v := range x {
		dst[i] = math.Min(math.Max(v, lower[i]), upper[i])
	}
	return dst
}

func sumSquares(v []float64) float64 {
	return floats.Dot(v, v)
}
