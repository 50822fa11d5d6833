// Package frameio reads and writes individual projection frames. Frames
// live one per file as 16-bit grayscale TIFF images whose names are
// produced from the projection index with a printf-style pattern.
package frameio

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/image/tiff"

	"tomoprep/pkg/logging"
)

// DefaultPattern is the filename pattern used when none is configured.
const DefaultPattern = "p_%05d.tif"

// Crop is the window of the detector frame that is kept.
type Crop struct {
	Left   int
	Top    int
	Width  int
	Height int
}

// Source supplies frames of a fixed geometry by projection index.
type Source interface {
	Width() int
	Height() int
	ReadFrame(ctx context.Context, index int) ([]uint16, error)
}

// Sink persists processed frames.
type Sink interface {
	WriteFrame(index int, frame []uint16) error
}

// DirSource reads frames from a directory, optionally waiting for them to
// appear when the acquisition is still running.
type DirSource struct {
	dir     string
	pattern string
	crop    Crop
	waiter  *Waiter
}

// NewDirSource returns a source for dir. waiter may be nil when every
// frame is already on disk.
func NewDirSource(dir, pattern string, crop Crop, waiter *Waiter) (*DirSource, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if crop.Width <= 0 || crop.Height <= 0 || crop.Left < 0 || crop.Top < 0 {
		return nil, fmt.Errorf("invalid crop window %+v", crop)
	}
	return &DirSource{dir: dir, pattern: pattern, crop: crop, waiter: waiter}, nil
}

// Width returns the cropped frame width.
func (s *DirSource) Width() int { return s.crop.Width }

// Height returns the cropped frame height.
func (s *DirSource) Height() int { return s.crop.Height }

// Path returns the file name of frame index.
func (s *DirSource) Path(index int) string {
	return filepath.Join(s.dir, fmt.Sprintf(s.pattern, index))
}

// ReadFrame decodes frame index and crops it.
func (s *DirSource) ReadFrame(ctx context.Context, index int) ([]uint16, error) {
	path := s.Path(index)
	if s.waiter != nil {
		wait := s.waiter.WaitIndex
		if s.waiter.Pattern == nil {
			wait = func(ctx context.Context, _ int) error { return s.waiter.Wait(ctx, path) }
		}
		if err := wait(ctx, index); err != nil {
			return nil, err
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open frame %d: %w", index, err)
	}
	defer f.Close()

	img, err := tiff.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return cropGray16(img, s.crop)
}

// cropGray16 copies the crop window of img into a flat row-major buffer.
func cropGray16(img image.Image, crop Crop) ([]uint16, error) {
	b := img.Bounds()
	if crop.Left+crop.Width > b.Dx() || crop.Top+crop.Height > b.Dy() {
		return nil, fmt.Errorf("crop window %+v exceeds %dx%d frame", crop, b.Dx(), b.Dy())
	}

	out := make([]uint16, crop.Width*crop.Height)
	if g, ok := img.(*image.Gray16); ok {
		for y := 0; y < crop.Height; y++ {
			row := g.Pix[g.PixOffset(b.Min.X+crop.Left, b.Min.Y+crop.Top+y):]
			for x := 0; x < crop.Width; x++ {
				out[y*crop.Width+x] = uint16(row[2*x])<<8 | uint16(row[2*x+1])
			}
		}
		return out, nil
	}

	// Other encodings (8-bit, paletted) go through the color model.
	for y := 0; y < crop.Height; y++ {
		for x := 0; x < crop.Width; x++ {
			c := img.At(b.Min.X+crop.Left+x, b.Min.Y+crop.Top+y)
			out[y*crop.Width+x] = grayModel16(c)
		}
	}
	return out, nil
}

func grayModel16(c color.Color) uint16 {
	return color.Gray16Model.Convert(c).(color.Gray16).Y
}

// DirSink writes frames as 16-bit TIFF files into a directory.
type DirSink struct {
	dir     string
	pattern string
	width   int
	height  int
	sink    logging.Sink

	once sync.Once
	err  error
}

// NewDirSink returns a sink writing width x height frames into dir. The
// directory is created on the first write.
func NewDirSink(dir, pattern string, width, height int, sink logging.Sink) *DirSink {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if sink == nil {
		sink = logging.Nop()
	}
	return &DirSink{dir: dir, pattern: pattern, width: width, height: height, sink: sink}
}

// Path returns the file name of frame index.
func (s *DirSink) Path(index int) string {
	return filepath.Join(s.dir, fmt.Sprintf(s.pattern, index))
}

// WriteFrame encodes frame as an uncompressed 16-bit grayscale TIFF.
func (s *DirSink) WriteFrame(index int, frame []uint16) error {
	if len(frame) != s.width*s.height {
		return fmt.Errorf("frame %d has %d samples, want %dx%d", index, len(frame), s.width, s.height)
	}
	s.once.Do(func() {
		s.err = os.MkdirAll(s.dir, 0755)
	})
	if s.err != nil {
		return fmt.Errorf("failed to create output directory: %w", s.err)
	}

	img := image.NewGray16(image.Rect(0, 0, s.width, s.height))
	for i, v := range frame {
		img.Pix[2*i] = uint8(v >> 8)
		img.Pix[2*i+1] = uint8(v)
	}

	path := s.Path(index)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := tiff.Encode(f, img, &tiff.Options{Compression: tiff.Uncompressed}); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	logging.Logf(s.sink, logging.Debug, "wrote frame %d to %s", index, path)
	return nil
}
