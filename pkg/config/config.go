// Package config provides configuration loading and management for tomoprep.
// It handles loading configuration from YAML files, provides default values
// and produces the immutable engine parameters used by each processing stage.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"tomoprep/internal/models"
	"tomoprep/pkg/dezinger"
	"tomoprep/pkg/distortion"
)

// Stage names accepted by Processing.Stage.
const (
	StageDezing = "dezing"
	StageUnwarp = "unwarp"
	StageBoth   = "both"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// Threads is the number of worker threads; 0 detects it from the
		// queue slot count or the CPU count
		Threads int `yaml:"threads"`

		// Stage selects which engines run: dezing, unwarp or both
		Stage string `yaml:"stage"`

		// Segments and ProjectionsPerSegment give the total projection count
		Segments              int `yaml:"segments"`
		ProjectionsPerSegment int `yaml:"projectionsPerSegment"`

		// Chunks is the number of workers the projections are split across;
		// MyChunk is the index of this worker's chunk
		Chunks  int `yaml:"chunks"`
		MyChunk int `yaml:"myChunk"`

		// Batch is the number of frames held in memory at once, padding included
		Batch int `yaml:"batch"`

		// Pad is the number of context frames on each side of a chunk or batch
		Pad int `yaml:"pad"`
	} `yaml:"processing"`

	// Crop window applied to every frame as it is read
	Crop struct {
		Left   int `yaml:"left"`
		Top    int `yaml:"top"`
		Width  int `yaml:"width"`
		Height int `yaml:"height"`
	} `yaml:"crop"`

	// Dezinger parameters
	Dezing struct {
		// Mu is the outlier threshold in standard deviations
		Mu float64 `yaml:"mu"`

		// Mode is correct, zscore or mask
		Mode string `yaml:"mode"`

		// ZeroVarianceFloor replaces a standard deviation of exactly zero
		ZeroVarianceFloor float64 `yaml:"zeroVarianceFloor"`
	} `yaml:"dezing"`

	// Distortion correction parameters
	Distortion struct {
		// Coefficients of the ratio polynomial, lowest order first
		Coefficients []float64 `yaml:"coefficients"`

		// CenterX and CenterY locate the optical center in detector
		// coordinates, before cropping; unset means the middle of the crop
		// window
		CenterX *float64 `yaml:"centerX,omitempty"`
		CenterY *float64 `yaml:"centerY,omitempty"`

		// CoefficientFile, when set, overrides the center and coefficients.
		// Its center is in detector coordinates as well
		CoefficientFile string `yaml:"coefficientFile,omitempty"`

		// CropEdges forces this many border pixels to background
		CropEdges int `yaml:"cropEdges"`
	} `yaml:"distortion"`

	// Acquisition parameters for reading input frames
	Acquisition struct {
		InputDir     string `yaml:"inputDir"`
		InputPattern string `yaml:"inputPattern"`

		// Live waits for frames that have not been written yet
		Live bool `yaml:"live"`

		// Timeout and Interval of the wait for a frame, in seconds
		Timeout  float64 `yaml:"timeout"`
		Interval float64 `yaml:"interval"`
	} `yaml:"acquisition"`

	// Output parameters
	Output struct {
		OutputDir     string `yaml:"outputDir"`
		OutputPattern string `yaml:"outputPattern"`

		// JobName decorates log entries and preview file names
		JobName string `yaml:"jobName"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// PreviewRow is the detector row collected into a sinogram
		// preview; negative disables the preview
		PreviewRow int    `yaml:"previewRow"`
		PreviewDir string `yaml:"previewDir"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.Threads = 0
	cfg.Processing.Stage = StageDezing
	cfg.Processing.Segments = 1
	cfg.Processing.ProjectionsPerSegment = 100
	cfg.Processing.Chunks = 8
	cfg.Processing.MyChunk = 0
	cfg.Processing.Batch = 10
	cfg.Processing.Pad = 2

	// Full detector frame
	cfg.Crop.Width = 4008
	cfg.Crop.Height = 2672

	cfg.Dezing.Mu = 2.5
	cfg.Dezing.Mode = models.ModeCorrect.String()
	cfg.Dezing.ZeroVarianceFloor = 1.0

	cfg.Distortion.Coefficients = []float64{1, 0, 0, 0, 0}

	cfg.Acquisition.InputPattern = "p_%05d.tif"
	cfg.Acquisition.Timeout = 3
	cfg.Acquisition.Interval = 1

	cfg.Output.OutputPattern = "p_%05d.tif"
	cfg.Output.JobName = fmt.Sprintf("p%d", os.Getpid())
	cfg.Output.PreviewRow = -1

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// TotalProjections returns the number of projections in the scan.
func (c *Config) TotalProjections() int {
	return c.Processing.Segments * c.Processing.ProjectionsPerSegment
}

// TimeoutDuration returns the frame wait timeout.
func (c *Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Acquisition.Timeout * float64(time.Second))
}

// IntervalDuration returns the frame poll interval.
func (c *Config) IntervalDuration() time.Duration {
	return time.Duration(c.Acquisition.Interval * float64(time.Second))
}

// Validate checks the configuration for values that cannot be processed.
func (c *Config) Validate() error {
	p := c.Processing
	switch p.Stage {
	case StageDezing, StageUnwarp, StageBoth:
	default:
		return fmt.Errorf("unknown stage %q", p.Stage)
	}
	if p.Threads < 0 {
		return fmt.Errorf("threads must not be negative, got %d", p.Threads)
	}
	if p.Segments < 1 || p.ProjectionsPerSegment < 1 {
		return fmt.Errorf("need at least one segment of one projection, got %d x %d", p.Segments, p.ProjectionsPerSegment)
	}
	if p.Chunks < 1 {
		return fmt.Errorf("chunk count must be positive, got %d", p.Chunks)
	}
	if p.MyChunk < 0 || p.MyChunk >= p.Chunks {
		return fmt.Errorf("chunk %d out of range [0,%d)", p.MyChunk, p.Chunks)
	}
	if c.TotalProjections() < p.Chunks {
		return fmt.Errorf("%d projections cannot be split into %d chunks", c.TotalProjections(), p.Chunks)
	}
	if p.Pad < 0 {
		return fmt.Errorf("pad must not be negative, got %d", p.Pad)
	}
	if p.Stage != StageUnwarp && p.Pad < dezinger.Radius {
		return fmt.Errorf("dezinging needs a pad of at least %d frames, got %d", dezinger.Radius, p.Pad)
	}
	if p.Batch <= 2*p.Pad {
		return fmt.Errorf("batch of %d frames leaves no room inside padding of %d", p.Batch, p.Pad)
	}
	if c.Crop.Width <= 0 || c.Crop.Height <= 0 || c.Crop.Left < 0 || c.Crop.Top < 0 {
		return fmt.Errorf("invalid crop window %dx%d at (%d,%d)", c.Crop.Width, c.Crop.Height, c.Crop.Left, c.Crop.Top)
	}
	if _, ok := models.ParseDezingMode(c.Dezing.Mode); !ok {
		return fmt.Errorf("unknown dezing mode %q", c.Dezing.Mode)
	}
	if c.Dezing.Mu <= 0 {
		return fmt.Errorf("outlier threshold must be positive, got %g", c.Dezing.Mu)
	}
	if n := len(c.Distortion.Coefficients); n > len(distortion.Polynomial{}) {
		return fmt.Errorf("at most %d distortion coefficients are supported, got %d", len(distortion.Polynomial{}), n)
	}
	if c.Distortion.CropEdges < 0 {
		return fmt.Errorf("crop edges must not be negative, got %d", c.Distortion.CropEdges)
	}
	if c.Acquisition.Live && c.Acquisition.Interval <= 0 {
		return fmt.Errorf("live acquisition needs a positive check interval")
	}
	return nil
}

// ResolveCoefficients loads the coefficient file, if one is configured,
// into the distortion section.
func (c *Config) ResolveCoefficients() error {
	if c.Distortion.CoefficientFile == "" {
		return nil
	}
	coeffs, err := distortion.LoadCoefficients(c.Distortion.CoefficientFile)
	if err != nil {
		return err
	}
	cx, cy := coeffs.CenterX, coeffs.CenterY
	c.Distortion.CenterX = &cx
	c.Distortion.CenterY = &cy
	c.Distortion.Coefficients = append([]float64(nil), coeffs.Polynomial[:]...)
	return nil
}

// EngineConfig returns the parameter snapshot handed to the engines for
// frames of the given size. The center stays in detector coordinates;
// the distortion engine shifts it by the crop offset.
func (c *Config) EngineConfig(width, height int) models.EngineConfig {
	mode, _ := models.ParseDezingMode(c.Dezing.Mode)
	ec := models.EngineConfig{
		Width:             width,
		Height:            height,
		CropLeft:          c.Crop.Left,
		CropTop:           c.Crop.Top,
		Mu:                c.Dezing.Mu,
		Mode:              mode,
		ZeroVarianceFloor: c.Dezing.ZeroVarianceFloor,
		CenterX:           float64(c.Crop.Left) + float64(width-1)/2,
		CenterY:           float64(c.Crop.Top) + float64(height-1)/2,
		CropEdges:         c.Distortion.CropEdges,
		Pad:               c.Processing.Pad,
		Threads:           c.Processing.Threads,
	}
	copy(ec.Coefficients[:], c.Distortion.Coefficients)
	if c.Distortion.CenterX != nil {
		ec.CenterX = *c.Distortion.CenterX
	}
	if c.Distortion.CenterY != nil {
		ec.CenterY = *c.Distortion.CenterY
	}
	return ec
}
