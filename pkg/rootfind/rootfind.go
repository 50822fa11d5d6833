// Package rootfind inverts the radial distortion polynomial with
// Newton-Raphson iteration.
//
// The iteration has no guard against oscillation or a derivative that
// changes sign; it stops at the iteration cap or when the estimate
// leaves Bound and returns whatever it has.
package rootfind

import "math"

const (
	// MaxIterations caps the Newton-Raphson loop.
	MaxIterations = 1000

	// Tolerance is the relative step below which the root is converged.
	Tolerance = 1e-12

	// Bound is the magnitude beyond which iteration is abandoned.
	Bound = 3e6
)

// Result describes a solve.
type Result struct {
	Root       float64
	Iterations int
	Converged  bool
}

// Invert solves a*r + b*r^2 + c*r^3 + e*r^4 = target for r, starting
// from r = target. A non-converged estimate is returned as is.
func Invert(a, b, c, e, target float64) float64 {
	return Solve([]float64{a, b, c, e}, target).Root
}

// Solve finds r with sum(coeffs[i] * r^(i+1)) = target. The polynomial
// has no constant term, so target 0 always has the root 0.
func Solve(coeffs []float64, target float64) Result {
	if target == 0 {
		return Result{Converged: true}
	}

	r := target
	for i := 1; i <= MaxIterations; i++ {
		f, df := eval(coeffs, r)
		if df == 0 {
			return Result{Root: r, Iterations: i}
		}
		next := r - (f-target)/df
		if math.Abs(next) > Bound || math.IsNaN(next) {
			return Result{Root: r, Iterations: i}
		}

		prev := r
		r = next
		if prev != 0 && math.Abs(r-prev)/math.Abs(prev) < Tolerance {
			return Result{Root: r, Iterations: i, Converged: true}
		}
		if r == prev {
			return Result{Root: r, Iterations: i, Converged: true}
		}
	}
	return Result{Root: r, Iterations: MaxIterations}
}

// eval returns p(r) and p'(r) for p(r) = sum(coeffs[i] * r^(i+1)).
func eval(coeffs []float64, r float64) (f, df float64) {
	// Horner on p(r)/r, then p = r*q and p' = q + r*q'.
	var q, dq float64
	for i := len(coeffs) - 1; i >= 0; i-- {
		dq = dq*r + q
		q = q*r + coeffs[i]
	}
	return r * q, q + r*dq
}
