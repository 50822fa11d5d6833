// Package distortion corrects radial lens distortion by resampling each
// frame through a lookup table built from a polynomial ratio model.
//
// The table maps every OUTPUT pixel to the SOURCE coordinates it is read
// from: a pixel at distance d from the optical center samples the source
// at distance d*Ratio(d) along the same ray. Unmap answers the reverse
// question, which output radius a given source radius lands on.
package distortion

import (
	"math"

	"tomoprep/pkg/rootfind"
)

// Polynomial holds the ratio coefficients a, b, c, e, f of
//
//	Ratio(d) = a + b*d + c*d^2 + e*d^3 + f*d^4
type Polynomial [5]float64

// Identity leaves every pixel where it is.
var Identity = Polynomial{1, 0, 0, 0, 0}

// Ratio evaluates the scale factor at distance d.
func (p Polynomial) Ratio(d float64) float64 {
	return p[0] + d*(p[1]+d*(p[2]+d*(p[3]+d*p[4])))
}

// Radius returns the source distance d*Ratio(d) for output distance d.
func (p Polynomial) Radius(d float64) float64 {
	return d * p.Ratio(d)
}

// Map returns the source coordinates for output pixel (x, y) around the
// center (cx, cy).
func (p Polynomial) Map(cx, cy, x, y float64) (xp, yp float64) {
	dx, dy := x-cx, y-cy
	ratio := p.Ratio(math.Hypot(dx, dy))
	return cx + dx*ratio, cy + dy*ratio
}

// Unmap returns the output distance whose source distance is rd, and
// whether the inversion converged. An unconverged result is the best
// estimate available.
func (p Polynomial) Unmap(rd float64) (float64, bool) {
	res := rootfind.Solve(p[:], rd)
	return res.Root, res.Converged
}

// Mapper returns p.Map bound to a center, as a table mapping.
func (p Polynomial) Mapper(cx, cy float64) func(x, y float64) (float64, float64) {
	return func(x, y float64) (float64, float64) {
		return p.Map(cx, cy, x, y)
	}
}
