// Package interpolation implements resampling of a frame through a fixed
// per-pixel coordinate mapping. The mapping is evaluated once into a
// lookup Table of bilinear source offsets and weights, which is then
// applied to any number of frames of the same geometry.
package interpolation

import (
	"fmt"
	"math"

	"tomoprep/internal/models"
	"tomoprep/pkg/logging"
)

// Corner indices into Entry.Offsets and Entry.Weights. "Up" is the row
// below in memory (y+1); "right" is the next column (x+1).
const (
	DownLeft = iota
	DownRight
	UpLeft
	UpRight
)

// Background is written for output pixels whose source lies outside the
// frame.
const Background = 0

// Mapper returns the source coordinates sampled for output pixel (x, y).
type Mapper func(x, y float64) (xp, yp float64)

// Entry is the precomputed resampling recipe for one output pixel.
type Entry struct {
	// Offsets are flat pixel offsets into the source frame, by corner
	Offsets [4]int32

	// Weights are the bilinear weights, by corner
	Weights [4]float32

	// Outside marks pixels that take the background value
	Outside bool
}

// Table is an immutable width*height grid of entries. It is safe to
// share between goroutines once built.
type Table struct {
	width   int
	height  int
	entries []Entry

	outside  int
	negative int
}

// Width returns the frame width the table was built for.
func (t *Table) Width() int { return t.width }

// Height returns the frame height the table was built for.
func (t *Table) Height() int { return t.height }

// Entry returns the recipe for output pixel (x, y).
func (t *Table) Entry(x, y int) Entry {
	return t.entries[y*t.width+x]
}

// OutsideCount returns the number of background pixels.
func (t *Table) OutsideCount() int { return t.outside }

// NegativeWeights returns the number of entries that had a negative or
// non-finite weight when the table was built.
func (t *Table) NegativeWeights() int { return t.negative }

// Build evaluates mapper for every output pixel. A pixel is outside when
// any of its four neighbours falls outside [0,width)x[0,height). Negative
// weights indicate a broken mapping and are reported to sink.
func Build(width, height int, mapper Mapper, sink logging.Sink) (*Table, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid table geometry %dx%d", width, height)
	}
	if width*height > math.MaxInt32 {
		return nil, fmt.Errorf("table geometry %dx%d exceeds 32-bit offsets", width, height)
	}
	if sink == nil {
		sink = logging.Nop()
	}

	t := &Table{
		width:   width,
		height:  height,
		entries: make([]Entry, width*height),
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			e := &t.entries[y*width+x]
			xp, yp := mapper(float64(x), float64(y))

			left := math.Floor(xp)
			down := math.Floor(yp)
			right := left + 1
			up := down + 1

			if math.IsNaN(xp) || math.IsNaN(yp) ||
				left < 0 || right >= float64(width) || down < 0 || up >= float64(height) {
				e.Outside = true
				t.outside++
				continue
			}

			l, r := int32(left), int32(right)
			d, u := int32(down), int32(up)
			w := int32(width)
			e.Offsets[DownLeft] = d*w + l
			e.Offsets[DownRight] = d*w + r
			e.Offsets[UpLeft] = u*w + l
			e.Offsets[UpRight] = u*w + r

			weights := [4]float64{
				DownLeft:  (right - xp) * (up - yp),
				DownRight: (xp - left) * (up - yp),
				UpLeft:    (right - xp) * (yp - down),
				UpRight:   (xp - left) * (yp - down),
			}
			for i, wt := range weights {
				if wt < 0 || math.IsInf(wt, 0) {
					t.negative++
					logging.Logf(sink, logging.Error,
						"ERROR: negative weight %g at corner %d of pixel (%d,%d) sampling (%g,%g)", wt, i, x, y, xp, yp)
				}
				e.Weights[i] = float32(wt)
			}
		}
	}

	logging.Logf(sink, logging.Debug, "interpolation table %dx%d built, %d pixels outside", width, height, t.outside)
	return t, nil
}

// Apply resamples src into dst through the table. Both slices hold one
// frame of the table's geometry. Weighted sums are clamped to the range
// of T before conversion.
func Apply[T models.Sample](t *Table, src, dst []T) {
	n := t.width * t.height
	if len(src) < n || len(dst) < n {
		panic(fmt.Sprintf("interpolation: frame buffers of %d and %d samples for a %dx%d table",
			len(src), len(dst), t.width, t.height))
	}
	for i := range t.entries {
		e := &t.entries[i]
		if e.Outside {
			dst[i] = Background
			continue
		}
		var sum float64
		for c := 0; c < 4; c++ {
			sum += float64(e.Weights[c]) * float64(src[e.Offsets[c]])
		}
		dst[i] = models.Convert[T](sum)
	}
}
