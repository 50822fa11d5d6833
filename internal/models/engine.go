package models

// DezingMode selects what the dezinger writes for each pixel.
type DezingMode int

const (
	// ModeCorrect writes the corrected value (the normal mode).
	ModeCorrect DezingMode = iota

	// ModeZScore writes the outlier test value scaled by 1000 so it is
	// meaningful as an unsigned 16-bit sample.
	ModeZScore

	// ModeReplacedMask writes a marker for replaced pixels and 0 elsewhere.
	ModeReplacedMask
)

// String returns the name used in configuration files and flags.
func (m DezingMode) String() string {
	switch m {
	case ModeZScore:
		return "zscore"
	case ModeReplacedMask:
		return "mask"
	default:
		return "correct"
	}
}

// ParseDezingMode is the inverse of DezingMode.String.
func ParseDezingMode(s string) (DezingMode, bool) {
	switch s {
	case "", "correct":
		return ModeCorrect, true
	case "zscore":
		return ModeZScore, true
	case "mask":
		return ModeReplacedMask, true
	}
	return ModeCorrect, false
}

// EngineConfig is the read-only parameter snapshot handed to an engine
// at Setup. Engines copy it and never modify it afterwards.
type EngineConfig struct {
	// Width and Height are the cropped frame dimensions in pixels
	Width  int
	Height int

	// CropLeft and CropTop locate the crop window in the detector frame
	CropLeft int
	CropTop  int

	// Mu is the outlier threshold of the dezinger
	Mu float64

	// Mode selects normal correction or one of the diagnostic outputs
	Mode DezingMode

	// ZeroVarianceFloor replaces a standard deviation of exactly zero
	ZeroVarianceFloor float64

	// Coefficients of the radial distortion ratio polynomial a..f
	Coefficients [5]float64

	// CenterX and CenterY give the optical center in detector coordinates,
	// the same frame the crop window is expressed in
	CenterX float64
	CenterY float64

	// CropEdges forces this many border pixels to background after unwarping
	CropEdges int

	// Pad is the number of context frames at each end of a batch
	Pad int

	// Threads is the requested thread count; 0 lets the engine decide
	Threads int
}

// CroppedCenter returns the optical center relative to the crop window.
func (c EngineConfig) CroppedCenter() (cx, cy float64) {
	return c.CenterX - float64(c.CropLeft), c.CenterY - float64(c.CropTop)
}
