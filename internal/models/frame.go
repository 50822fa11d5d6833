package models

import (
	"fmt"
	"math"
)

// Sample is the set of pixel types a frame stack can hold.
// uint16 is the detector's native type; float32 is used for
// intermediate or already-normalised data.
type Sample interface {
	~uint16 | ~float32
}

// Limits returns the range a value is clamped to before it is stored
// as a sample of type T.
func Limits[T Sample]() (lo, hi float64) {
	var zero T
	switch any(zero).(type) {
	case float32:
		return -1e10, 1e10
	default:
		return 0, 65535
	}
}

// Convert clamps v into the representable range of T and truncates it.
// NaN is stored as the lower limit.
func Convert[T Sample](v float64) T {
	lo, hi := Limits[T]()
	if math.IsNaN(v) || v < lo {
		return T(lo)
	}
	if v > hi {
		return T(hi)
	}
	return T(v)
}

// FrameStack is a contiguous run of frames of identical geometry.
// Data is stored frame-major and row-major within a frame, with no
// padding between rows or frames.
type FrameStack[T Sample] struct {
	// data holds width*height*frames samples
	data []T

	// Width and Height of every frame in pixels
	width  int
	height int

	// frames is the number of frames in the stack
	frames int
}

// NewFrameStack allocates a zeroed stack.
func NewFrameStack[T Sample](width, height, frames int) *FrameStack[T] {
	if width <= 0 || height <= 0 || frames < 0 {
		panic(fmt.Sprintf("models: invalid frame stack geometry %dx%dx%d", width, height, frames))
	}
	return &FrameStack[T]{
		data:   make([]T, width*height*frames),
		width:  width,
		height: height,
		frames: frames,
	}
}

// WrapFrameStack borrows an existing buffer as a frame stack. The
// buffer length must be an exact multiple of width*height.
func WrapFrameStack[T Sample](data []T, width, height int) (*FrameStack[T], error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame geometry %dx%d", width, height)
	}
	size := width * height
	if len(data)%size != 0 {
		return nil, fmt.Errorf("buffer of %d samples is not a whole number of %dx%d frames", len(data), width, height)
	}
	return &FrameStack[T]{
		data:   data,
		width:  width,
		height: height,
		frames: len(data) / size,
	}, nil
}

// Width returns the frame width in pixels.
func (s *FrameStack[T]) Width() int { return s.width }

// Height returns the frame height in pixels.
func (s *FrameStack[T]) Height() int { return s.height }

// Len returns the number of frames in the stack.
func (s *FrameStack[T]) Len() int { return s.frames }

// FrameSize returns the number of samples in one frame.
func (s *FrameStack[T]) FrameSize() int { return s.width * s.height }

// Data exposes the backing buffer.
func (s *FrameStack[T]) Data() []T { return s.data }

// Frame returns the samples of frame k. The returned slice aliases the
// stack's storage.
func (s *FrameStack[T]) Frame(k int) []T {
	if k < 0 || k >= s.frames {
		panic(fmt.Sprintf("models: frame %d out of range [0,%d)", k, s.frames))
	}
	size := s.width * s.height
	return s.data[k*size : (k+1)*size : (k+1)*size]
}

// Index returns the flat offset of pixel (x,y) in frame k.
func (s *FrameStack[T]) Index(k, x, y int) int {
	if k < 0 || k >= s.frames || x < 0 || x >= s.width || y < 0 || y >= s.height {
		panic(fmt.Sprintf("models: pixel (%d,%d) of frame %d outside %dx%dx%d stack",
			x, y, k, s.width, s.height, s.frames))
	}
	return (k*s.height+y)*s.width + x
}

// Pixel returns the sample at (x,y) of frame k.
func (s *FrameStack[T]) Pixel(k, x, y int) T {
	return s.data[s.Index(k, x, y)]
}

// SetPixel stores v at (x,y) of frame k.
func (s *FrameStack[T]) SetPixel(k, x, y int, v T) {
	s.data[s.Index(k, x, y)] = v
}

// SameShape reports whether o has the same frame geometry as s.
func (s *FrameStack[T]) SameShape(o *FrameStack[T]) bool {
	return o != nil && s.width == o.width && s.height == o.height
}
