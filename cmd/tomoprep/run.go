package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tomoprep/pkg/config"
	"tomoprep/pkg/frameio"
	"tomoprep/pkg/logging"
	"tomoprep/pkg/pipeline"
	"tomoprep/pkg/visualization"
)

// runFlags mirrors the configuration keys that can be overridden on the
// command line. Only flags the user actually set are applied.
type runFlags struct {
	input, output         string
	inPattern, outPattern string
	stage, mode           string
	segments, perSegment  int
	chunks, myChunk       int
	batch, pad            int
	cropLeft, cropTop     int
	cropWidth, cropHeight int
	mu                    float64
	live                  bool
	timeout, interval     float64
	coefficients          []float64
	centerX, centerY      float64
	coefficientFile       string
	cropEdges             int
	previewRow            int
	previewDir            string
}

var runOpts runFlags

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process this worker's chunk of the scan",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		applyRunFlags(cmd, cfg, &runOpts)
		if err := cfg.ResolveCoefficients(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		stats, err := runPipeline(ctx, cfg, logger)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "chunk %d: wrote %d frames in %d batches (%.2fs)\n",
			stats.Chunk.Index, stats.FramesWritten, stats.Batches, stats.Elapsed.Seconds())
		return nil
	},
}

func registerRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&runOpts.input, "input", "i", "", "Directory holding the raw projections")
	f.StringVarP(&runOpts.output, "output", "o", "", "Directory for the processed projections")
	f.StringVar(&runOpts.inPattern, "input-pattern", frameio.DefaultPattern, "Printf pattern of input file names")
	f.StringVar(&runOpts.outPattern, "output-pattern", frameio.DefaultPattern, "Printf pattern of output file names")
	f.StringVar(&runOpts.stage, "stage", config.StageDezing, "Stages to run: dezing, unwarp or both")
	f.StringVar(&runOpts.mode, "mode", "correct", "Dezinger output: correct, zscore or mask")
	f.IntVar(&runOpts.segments, "segments", 1, "Number of scan segments")
	f.IntVar(&runOpts.perSegment, "projections", 100, "Projections per segment")
	f.IntVar(&runOpts.chunks, "chunks", 8, "Number of chunks the scan is split into")
	f.IntVar(&runOpts.myChunk, "my-chunk", 0, "Chunk processed by this worker")
	f.IntVar(&runOpts.batch, "batch", 10, "Frames held in memory at once, padding included")
	f.IntVar(&runOpts.pad, "pad", 2, "Context frames on each side of a chunk or batch")
	f.IntVar(&runOpts.cropLeft, "crop-left", 0, "Left edge of the crop window")
	f.IntVar(&runOpts.cropTop, "crop-top", 0, "Top edge of the crop window")
	f.IntVar(&runOpts.cropWidth, "crop-width", 4008, "Width of the crop window")
	f.IntVar(&runOpts.cropHeight, "crop-height", 2672, "Height of the crop window")
	f.Float64Var(&runOpts.mu, "mu", 2.5, "Outlier threshold in standard deviations")
	f.BoolVar(&runOpts.live, "live", false, "Wait for frames still being acquired")
	f.Float64Var(&runOpts.timeout, "timeout", 3, "Seconds to wait for a frame in live mode")
	f.Float64Var(&runOpts.interval, "interval", 1, "Seconds between checks for a frame in live mode")
	f.Float64SliceVar(&runOpts.coefficients, "coefficients", nil, "Distortion polynomial, lowest order first")
	f.Float64Var(&runOpts.centerX, "center-x", 0, "Optical center column in detector coordinates (default: crop middle)")
	f.Float64Var(&runOpts.centerY, "center-y", 0, "Optical center row in detector coordinates (default: crop middle)")
	f.StringVar(&runOpts.coefficientFile, "coefficient-file", "", "File holding the center and polynomial")
	f.IntVar(&runOpts.cropEdges, "crop-edges", 0, "Border pixels forced to background after unwarping")
	f.IntVar(&runOpts.previewRow, "preview-row", -1, "Detector row saved as a sinogram preview (-1: off)")
	f.StringVar(&runOpts.previewDir, "preview-dir", "", "Directory for the sinogram preview")
}

// applyRunFlags copies every flag the user set into cfg.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config, o *runFlags) {
	f := cmd.Flags()
	set := func(name string, apply func()) {
		if f.Changed(name) {
			apply()
		}
	}
	set("input", func() { cfg.Acquisition.InputDir = o.input })
	set("output", func() { cfg.Output.OutputDir = o.output })
	set("input-pattern", func() { cfg.Acquisition.InputPattern = o.inPattern })
	set("output-pattern", func() { cfg.Output.OutputPattern = o.outPattern })
	set("stage", func() { cfg.Processing.Stage = o.stage })
	set("mode", func() { cfg.Dezing.Mode = o.mode })
	set("segments", func() { cfg.Processing.Segments = o.segments })
	set("projections", func() { cfg.Processing.ProjectionsPerSegment = o.perSegment })
	set("chunks", func() { cfg.Processing.Chunks = o.chunks })
	set("my-chunk", func() { cfg.Processing.MyChunk = o.myChunk })
	set("batch", func() { cfg.Processing.Batch = o.batch })
	set("pad", func() { cfg.Processing.Pad = o.pad })
	set("crop-left", func() { cfg.Crop.Left = o.cropLeft })
	set("crop-top", func() { cfg.Crop.Top = o.cropTop })
	set("crop-width", func() { cfg.Crop.Width = o.cropWidth })
	set("crop-height", func() { cfg.Crop.Height = o.cropHeight })
	set("mu", func() { cfg.Dezing.Mu = o.mu })
	set("live", func() { cfg.Acquisition.Live = o.live })
	set("timeout", func() { cfg.Acquisition.Timeout = o.timeout })
	set("interval", func() { cfg.Acquisition.Interval = o.interval })
	set("coefficients", func() { cfg.Distortion.Coefficients = o.coefficients })
	set("center-x", func() {
		cx := o.centerX
		cfg.Distortion.CenterX = &cx
	})
	set("center-y", func() {
		cy := o.centerY
		cfg.Distortion.CenterY = &cy
	})
	set("coefficient-file", func() { cfg.Distortion.CoefficientFile = o.coefficientFile })
	set("crop-edges", func() { cfg.Distortion.CropEdges = o.cropEdges })
	set("preview-row", func() { cfg.Output.PreviewRow = o.previewRow })
	set("preview-dir", func() { cfg.Output.PreviewDir = o.previewDir })
}

// runPipeline processes the configured chunk from disk to disk.
func runPipeline(ctx context.Context, cfg *config.Config, log *zap.Logger) (pipeline.Stats, error) {
	if cfg.Acquisition.InputDir == "" || cfg.Output.OutputDir == "" {
		return pipeline.Stats{}, fmt.Errorf("input and output directories are required")
	}
	sink := logging.NewZapSink(log)

	var waiter *frameio.Waiter
	if cfg.Acquisition.Live {
		waiter = frameio.NewWaiter(cfg.TimeoutDuration(), cfg.IntervalDuration(), sink)
	}
	crop := frameio.Crop{
		Left:   cfg.Crop.Left,
		Top:    cfg.Crop.Top,
		Width:  cfg.Crop.Width,
		Height: cfg.Crop.Height,
	}
	src, err := frameio.NewDirSource(cfg.Acquisition.InputDir, cfg.Acquisition.InputPattern, crop, waiter)
	if err != nil {
		return pipeline.Stats{}, err
	}
	if waiter != nil {
		waiter.WithLookahead(cfg.TotalProjections(), src.Path)
	}
	dst := frameio.NewDirSink(cfg.Output.OutputDir, cfg.Output.OutputPattern, crop.Width, crop.Height, sink)

	var preview *visualization.SinogramCollector
	if cfg.Output.PreviewRow >= 0 {
		if cfg.Output.PreviewRow >= crop.Height {
			return pipeline.Stats{}, fmt.Errorf("preview row %d outside frame of height %d", cfg.Output.PreviewRow, crop.Height)
		}
		preview = visualization.NewSinogramCollector(cfg.Output.PreviewRow, crop.Width)
	}

	proc, err := pipeline.NewProcessor(&pipeline.Params{
		Config:  cfg,
		Source:  src,
		Sink:    dst,
		Log:     sink,
		Preview: preview,
	})
	if err != nil {
		return pipeline.Stats{}, err
	}

	log.Info("Processing chunk",
		zap.Int("chunk", cfg.Processing.MyChunk),
		zap.Int("chunks", cfg.Processing.Chunks),
		zap.String("stage", cfg.Processing.Stage),
		zap.String("input", cfg.Acquisition.InputDir),
		zap.String("output", cfg.Output.OutputDir))

	if err := proc.Process(ctx); err != nil {
		return proc.Stats(), err
	}
	stats := proc.Stats()
	log.Info("Chunk complete",
		zap.Int("frames_read", stats.FramesRead),
		zap.Int("frames_written", stats.FramesWritten),
		zap.Int("batches", stats.Batches),
		zap.Int("warnings", stats.Warnings),
		zap.Int64("changed_pixels", stats.Metrics.ChangedPixels),
		zap.Float64("rmse", stats.Metrics.RMSE),
		zap.Duration("elapsed", stats.Elapsed))

	if preview != nil && preview.Len() > 0 {
		dir := cfg.Output.PreviewDir
		if dir == "" {
			dir = cfg.Output.OutputDir
		}
		path := filepath.Join(dir, fmt.Sprintf("sinogram_%s_chunk%02d_row%04d.png",
			cfg.Output.JobName, stats.Chunk.Index, preview.Row()))
		if err := preview.Save(path); err != nil {
			return stats, fmt.Errorf("failed to save preview: %w", err)
		}
		log.Info("Saved sinogram preview", zap.String("path", path))
	}
	return stats, nil
}
