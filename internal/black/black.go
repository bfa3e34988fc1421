// Package black implements the lognormal Black-76 formula for European
// options on a forward.
package black

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Price returns the discounted Black price of a European call (call=true)
// or put on forward F struck at K, expiring in T years with lognormal vol.
//
// With no time or no vol the option is worth its discounted intrinsic
// value. Non-positive forwards or strikes price at 0.
func Price(F, K, T, vol, df float64, call bool) float64 {
	if T <= 0 || vol <= 0 {
		return df * Intrinsic(F, K, call)
	}
	if F <= 0 || K <= 0 {
		return 0
	}

	sigmaSqrtT := vol * math.Sqrt(T)
	d1 := (math.Log(F/K) + 0.5*sigmaSqrtT*sigmaSqrtT) / sigmaSqrtT
	d2 := d1 - sigmaSqrtT

	if call {
		return df * (F*distuv.UnitNormal.CDF(d1) - K*distuv.UnitNormal.CDF(d2))
	}
	return df * (K*distuv.UnitNormal.CDF(-d2) - F*distuv.UnitNormal.CDF(-d1))
}

// Intrinsic returns max(F-K, 0) for a call and max(K-F, 0) for a put.
func Intrinsic(F, K float64, call bool) float64 {
	if call {
		return math.Max(F-K, 0)
	}
	return math.Max(K-F, 0)
}
