package interpolation

import (
	"math"
	"strings"
	"sync"
	"testing"

	"tomoprep/pkg/logging"
)

type captureSink struct {
	mu   sync.Mutex
	msgs []string
}

func (c *captureSink) Log(level logging.Level, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, level.String()+": "+msg)
}

func identity(x, y float64) (float64, float64) { return x, y }

// TestIdentityTable verifies that an identity mapping puts all the weight
// on the pixel's own corner
func TestIdentityTable(t *testing.T) {
	width, height := 6, 5
	table, err := Build(width, height, identity, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			e := table.Entry(x, y)

			// The right column and bottom row have no right/up neighbour.
			if x == width-1 || y == height-1 {
				if !e.Outside {
					t.Errorf("pixel (%d,%d) should be outside", x, y)
				}
				continue
			}
			if e.Outside {
				t.Errorf("pixel (%d,%d) unexpectedly outside", x, y)
				continue
			}
			if got := int(e.Offsets[DownLeft]); got != y*width+x {
				t.Errorf("pixel (%d,%d): down-left offset %d, want %d", x, y, got, y*width+x)
			}
			want := [4]float32{DownLeft: 1}
			if e.Weights != want {
				t.Errorf("pixel (%d,%d): weights %v, want %v", x, y, e.Weights, want)
			}
		}
	}

	if table.OutsideCount() != width+height-1 {
		t.Errorf("Expected %d outside pixels, got %d", width+height-1, table.OutsideCount())
	}
}

// TestConstantRoundTrip verifies that a constant frame survives resampling
// everywhere except the background border
func TestConstantRoundTrip(t *testing.T) {
	width, height := 8, 8
	halfShift := func(x, y float64) (float64, float64) { return x + 0.5, y + 0.5 }

	for name, mapper := range map[string]Mapper{"identity": identity, "half pixel": halfShift} {
		table, err := Build(width, height, mapper, nil)
		if err != nil {
			t.Fatalf("%s: Build failed: %v", name, err)
		}

		src := make([]uint16, width*height)
		for i := range src {
			src[i] = 4321
		}
		dst := make([]uint16, width*height)
		Apply(table, src, dst)

		for i, v := range dst {
			want := uint16(4321)
			if table.entries[i].Outside {
				want = Background
			}
			if v != want {
				t.Errorf("%s: pixel %d = %d, want %d", name, i, v, want)
			}
		}
	}
}

// TestHalfPixelWeights checks the bilinear weights at a pixel midpoint
func TestHalfPixelWeights(t *testing.T) {
	table, err := Build(4, 4, func(x, y float64) (float64, float64) { return x + 0.5, y + 0.5 }, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	e := table.Entry(1, 1)
	for c, w := range e.Weights {
		if w != 0.25 {
			t.Errorf("corner %d weight %f, want 0.25", c, w)
		}
	}
	want := [4]int32{DownLeft: 5, DownRight: 6, UpLeft: 9, UpRight: 10}
	if e.Offsets != want {
		t.Errorf("offsets %v, want %v", e.Offsets, want)
	}

	src := []float32{
		0, 0, 0, 0,
		0, 1, 2, 0,
		0, 3, 4, 0,
		0, 0, 0, 0,
	}
	dst := make([]float32, 16)
	Apply(table, src, dst)
	if dst[5] != 2.5 {
		t.Errorf("interpolated value %f, want 2.5", dst[5])
	}
}

// TestClampOnApply verifies that sums beyond the sample range saturate
func TestClampOnApply(t *testing.T) {
	table, err := Build(3, 3, identity, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	// Corrupt the weights to force an overflow.
	table.entries[0].Weights = [4]float32{DownLeft: 2}

	src := []uint16{60000, 0, 0, 0, 0, 0, 0, 0, 0}
	dst := make([]uint16, 9)
	Apply(table, src, dst)
	if dst[0] != 65535 {
		t.Errorf("Expected saturation at 65535, got %d", dst[0])
	}
}

// TestNonFiniteCoordinatesOutside verifies that a mapping producing
// infinite or NaN coordinates marks pixels as background without
// reporting bad weights
func TestNonFiniteCoordinatesOutside(t *testing.T) {
	sink := &captureSink{}
	broken := func(x, y float64) (float64, float64) {
		if x == 0 {
			return math.NaN(), y
		}
		return math.Inf(1), y
	}
	table, err := Build(3, 3, broken, sink)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if table.NegativeWeights() != 0 || table.OutsideCount() != 9 {
		t.Errorf("Expected 9 outside pixels and no bad weights, got %d and %d",
			table.OutsideCount(), table.NegativeWeights())
	}
	for _, m := range sink.msgs {
		if strings.HasPrefix(m, "error") {
			t.Errorf("unexpected error log %q", m)
		}
	}
}

// TestBuildRejectsBadGeometry verifies input validation
func TestBuildRejectsBadGeometry(t *testing.T) {
	if _, err := Build(0, 4, identity, nil); err == nil {
		t.Error("Expected an error for zero width")
	}
}
