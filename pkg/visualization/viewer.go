// Package visualization renders 2D previews of projection stacks: single
// projections, sinograms (one detector row across all projections) and
// their transpose.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"tomoprep/internal/models"
)

// Viewer cuts 2D slices out of a projection stack.
type Viewer struct {
	// stack holds the projections, frame-major
	stack *models.FrameStack[uint16]

	// dimensions of the stack
	width  int
	height int
	depth  int
}

// NewViewer creates a viewer over stack. The stack is not copied.
func NewViewer(stack *models.FrameStack[uint16]) *Viewer {
	return &Viewer{
		stack:  stack,
		width:  stack.Width(),
		height: stack.Height(),
		depth:  stack.Len(),
	}
}

// ExtractSlice extracts a 2D slice from the stack along the specified axis.
//
//   - "z": projection number position, width x height
//   - "y": the sinogram of detector row position, width x projections
//   - "x": detector column position, projections x height
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	var img *image.Gray16

	switch axis {
	case "x", "X":
		if position >= v.width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, v.width)
		}

		img = image.NewGray16(image.Rect(0, 0, v.depth, v.height))
		for y := 0; y < v.height; y++ {
			for z := 0; z < v.depth; z++ {
				img.SetGray16(z, y, color.Gray16{Y: v.stack.Pixel(z, position, y)})
			}
		}

	case "y", "Y":
		if position >= v.height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, v.height)
		}

		img = image.NewGray16(image.Rect(0, 0, v.width, v.depth))
		for z := 0; z < v.depth; z++ {
			for x := 0; x < v.width; x++ {
				img.SetGray16(x, z, color.Gray16{Y: v.stack.Pixel(z, x, position)})
			}
		}

	case "z", "Z":
		if position >= v.depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, v.depth)
		}

		img = image.NewGray16(image.Rect(0, 0, v.width, v.height))
		frame := v.stack.Frame(position)
		for y := 0; y < v.height; y++ {
			for x := 0; x < v.width; x++ {
				img.SetGray16(x, y, color.Gray16{Y: frame[y*v.width+x]})
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// ExtractRegion copies a box out of the stack into a new stack.
func (v *Viewer) ExtractRegion(startX, startY, startZ, sizeX, sizeY, sizeZ int) (*models.FrameStack[uint16], error) {
	if startX < 0 || startY < 0 || startZ < 0 {
		return nil, fmt.Errorf("start coordinates must be non-negative")
	}

	if sizeX <= 0 || sizeY <= 0 || sizeZ <= 0 {
		return nil, fmt.Errorf("size dimensions must be positive")
	}

	if startX+sizeX > v.width || startY+sizeY > v.height || startZ+sizeZ > v.depth {
		return nil, fmt.Errorf("region extends beyond stack boundaries")
	}

	region := models.NewFrameStack[uint16](sizeX, sizeY, sizeZ)
	for z := 0; z < sizeZ; z++ {
		for y := 0; y < sizeY; y++ {
			for x := 0; x < sizeX; x++ {
				region.SetPixel(z, x, y, v.stack.Pixel(startZ+z, startX+x, startY+y))
			}
		}
	}

	return region, nil
}

// SaveSlice saves an extracted slice as a 16-bit PNG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	return savePNG(img, filename)
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.width
	case "y", "Y":
		maxPos = v.height
	case "z", "Z":
		maxPos = v.depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%04d.png", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}

func savePNG(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
