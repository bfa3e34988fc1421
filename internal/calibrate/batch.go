package calibrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/atmx/sabr-engine/internal/curve"
	"github.com/atmx/sabr-engine/internal/marketdata"
	"github.com/atmx/sabr-engine/internal/model"
)

// SliceResult is the calibration outcome for one expiry. Err is nil or a
// *NonConvergenceError; Result holds the best iterate either way.
type SliceResult struct {
	Expiry   float64
	Forward  float64
	Mode     string
	Result   model.CalibResult
	Duration time.Duration
	Err      error
}

// CalibrateDataset calibrates the requested expiries (all when empty) of ds
// concurrently. Price mode discounts with c.DF(T) and synthesises prices
// from vols when the dataset has none. Results are in ascending expiry
// order. Structural errors fail the whole batch; non-convergence does not.
func (c *Calibrator) CalibrateDataset(ctx context.Context, ds *marketdata.Dataset, mode string, crv curve.Curve, expiries []float64) ([]SliceResult, error) {
	switch mode {
	case model.ModeVol:
		if !ds.HasVol {
			return nil, fmt.Errorf("%w: vol calibration needs a vol column", model.ErrValidation)
		}
	case model.ModePrice:
		if crv == nil {
			return nil, fmt.Errorf("%w: price calibration needs a curve", model.ErrValidation)
		}
	default:
		return nil, fmt.Errorf("%w: unknown calibration mode %q", model.ErrValidation, mode)
	}

	slices, err := selectSlices(ds, expiries)
	if err != nil {
		return nil, err
	}

	results := make([]SliceResult, len(slices))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, s := range slices {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			var (
				res model.CalibResult
				err error
			)
			if mode == model.ModeVol {
				res, err = c.CalibrateToVols(s.Forward, s.Expiry, s.Strikes, s.Vols)
			} else {
				df := crv.DF(s.Expiry)
				res, err = c.CalibrateToPrices(s.Forward, s.Expiry, s.Strikes, s.MarketPrices(df, true), df, true)
			}
			var nce *NonConvergenceError
			if err != nil && !errors.As(err, &nce) {
				return fmt.Errorf("expiry %g: %w", s.Expiry, err)
			}
			results[i] = SliceResult{
				Expiry:   s.Expiry,
				Forward:  s.Forward,
				Mode:     mode,
				Result:   res,
				Duration: time.Since(start),
				Err:      err,
			}
			slog.Debug("slice calibrated",
				"expiry", s.Expiry,
				"mode", mode,
				"loss", res.Loss,
				"iterations", res.Iterations,
				"converged", res.Converged,
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func selectSlices(ds *marketdata.Dataset, expiries []float64) ([]marketdata.Slice, error) {
	if len(expiries) == 0 {
		return ds.Slices(), nil
	}
	want := append([]float64(nil), expiries...)
	seen := make(map[float64]bool, len(want))
	out := make([]marketdata.Slice, 0, len(want))
	for _, T := range ds.Expiries() {
		for _, w := range want {
			if w == T && !seen[T] {
				seen[T] = true
				s, _ := ds.Slice(T)
				out = append(out, s)
			}
		}
	}
	for _, w := range want {
		if !seen[w] {
			return nil, fmt.Errorf("%w: no quotes for expiry %g", model.ErrValidation, w)
		}
	}
	return out, nil
}
