package visualization

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"
)

// SinogramCollector gathers one detector row from every frame that passes
// through the pipeline, so a sinogram preview can be written without
// keeping the frames.
type SinogramCollector struct {
	mu    sync.Mutex
	row   int
	width int
	rows  map[int][]uint16
}

// NewSinogramCollector collects row row of width-wide frames.
func NewSinogramCollector(row, width int) *SinogramCollector {
	return &SinogramCollector{row: row, width: width, rows: make(map[int][]uint16)}
}

// Row returns the detector row being collected.
func (s *SinogramCollector) Row() int { return s.row }

// Add records the collected row of frame index.
func (s *SinogramCollector) Add(index int, frame []uint16) error {
	start := s.row * s.width
	if s.row < 0 || start+s.width > len(frame) {
		return fmt.Errorf("row %d is outside a frame of %d samples", s.row, len(frame))
	}
	line := append([]uint16(nil), frame[start:start+s.width]...)

	s.mu.Lock()
	s.rows[index] = line
	s.mu.Unlock()
	return nil
}

// Len returns the number of frames collected.
func (s *SinogramCollector) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// Image renders the sinogram with one line per collected frame in index
// order. With stretch set, the 1st to 99th percentile of the data is
// mapped onto the full 16-bit range.
func (s *SinogramCollector) Image(stretch bool) (*image.Gray16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.rows) == 0 {
		return nil, fmt.Errorf("no frames collected")
	}
	indices := make([]int, 0, len(s.rows))
	for k := range s.rows {
		indices = append(indices, k)
	}
	sort.Ints(indices)

	lo, hi := 0.0, 65535.0
	if stretch {
		lo, hi = s.percentiles(0.01, 0.99)
	}
	scale := 1.0
	if hi > lo {
		scale = 65535 / (hi - lo)
	}

	img := image.NewGray16(image.Rect(0, 0, s.width, len(indices)))
	for y, k := range indices {
		for x, v := range s.rows[k] {
			f := math.Round((float64(v) - lo) * scale)
			if f < 0 {
				f = 0
			} else if f > 65535 {
				f = 65535
			}
			img.SetGray16(x, y, color.Gray16{Y: uint16(f)})
		}
	}
	return img, nil
}

func (s *SinogramCollector) percentiles(p, q float64) (float64, float64) {
	data := make([]float64, 0, len(s.rows)*s.width)
	for _, line := range s.rows {
		for _, v := range line {
			data = append(data, float64(v))
		}
	}
	sort.Float64s(data)
	return stat.Quantile(p, stat.Empirical, data, nil), stat.Quantile(q, stat.Empirical, data, nil)
}

// Save writes the stretched sinogram as a PNG file, creating the directory.
func (s *SinogramCollector) Save(path string) error {
	img, err := s.Image(true)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return savePNG(img, path)
}
