// Package pipeline drives the pre-processing of one chunk of a scan.
//
// The projection sequence is split into overlapping chunks, one per
// worker process. A Processor handles its own chunk batch by batch:
// frames are read (indices outside the scan are clamped to its ends),
// passed through the configured stages and the interior frames of each
// batch are written out. Padded frames only supply temporal context.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"tomoprep/internal/models"
	"tomoprep/pkg/chunk"
	"tomoprep/pkg/config"
	"tomoprep/pkg/dezinger"
	"tomoprep/pkg/distortion"
	"tomoprep/pkg/frameio"
	"tomoprep/pkg/lifecycle"
	"tomoprep/pkg/logging"
	"tomoprep/pkg/visualization"
)

// Params holds everything a Processor needs.
type Params struct {
	// Config is validated by NewProcessor and not modified afterwards.
	Config *config.Config

	// Source supplies the cropped input frames.
	Source frameio.Source

	// Sink receives the processed interior frames.
	Sink frameio.Sink

	// Log receives progress and diagnostics; nil discards them.
	Log logging.Sink

	// Preview, when set, collects a sinogram of the written frames.
	Preview *visualization.SinogramCollector

	// Env overrides thread detection.
	Env *lifecycle.Environment
}

// Stats summarises a run.
type Stats struct {
	Chunk         chunk.Chunk
	Batches       int
	FramesRead    int
	FramesWritten int

	// Warnings counts stages whose Setup raised a configuration warning
	Warnings int

	Elapsed time.Duration
	Metrics Metrics
}

// stage pairs an engine with its name for logging.
type stage struct {
	name   string
	engine lifecycle.Engine[uint16]
}

type warner interface {
	Warned() bool
}

// Processor runs the stages over one chunk.
type Processor struct {
	params *Params
	log    logging.Sink
	stats  Stats
	acc    metricsAccumulator
}

// NewProcessor validates the parameters and returns a processor.
func NewProcessor(params *Params) (*Processor, error) {
	if params.Config == nil || params.Source == nil || params.Sink == nil {
		return nil, fmt.Errorf("config, source and sink are required")
	}
	if err := params.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	log := params.Log
	if log == nil {
		log = logging.Nop()
	}
	return &Processor{params: params, log: log}, nil
}

// Stats returns the statistics of the last Process call.
func (p *Processor) Stats() Stats { return p.stats }

// Process runs the whole chunk. Cancelling ctx stops the run between
// batches; a batch in progress always completes.
func (p *Processor) Process(ctx context.Context) (err error) {
	start := time.Now()
	p.stats = Stats{}
	p.acc = metricsAccumulator{}
	// Partial runs still report their timing and metrics.
	defer p.finish(start)

	cfg := p.params.Config
	total := cfg.TotalProjections()
	pad := cfg.Processing.Pad

	plan, err := chunk.New(cfg.Processing.Chunks, total, pad)
	if err != nil {
		return err
	}
	for _, row := range plan.Rows() {
		logging.Logf(p.log, logging.Debug, "chunk %s", row)
	}
	c, err := plan.Chunk(cfg.Processing.MyChunk)
	if err != nil {
		return err
	}
	p.stats.Chunk = c

	windows, err := chunk.Batches(c.Start, c.End, cfg.Processing.Batch, pad)
	if err != nil {
		return err
	}
	logging.Logf(p.log, logging.Info, "chunk %d: frames [%d,%d) in %d batches of up to %d",
		c.Index, c.DataStart(), c.DataEnd(), len(windows), cfg.Processing.Batch)

	width, height := p.params.Source.Width(), p.params.Source.Height()
	stages, err := p.setupStages(cfg.EngineConfig(width, height))
	if err != nil {
		return err
	}
	defer func() {
		for _, s := range stages {
			err = multierr.Append(err, s.engine.Cleanup())
		}
	}()

	// One buffer per stage boundary: input, then each stage's output.
	buffers := make([]*models.FrameStack[uint16], len(stages)+1)
	for i := range buffers {
		buffers[i] = models.NewFrameStack[uint16](width, height, cfg.Processing.Batch)
	}

	for i, win := range windows {
		if err := ctx.Err(); err != nil {
			return err
		}
		logging.Logf(p.log, logging.Debug, "batch %d: frames [%d,%d)", i, win.Start, win.End)
		if err := p.runBatch(ctx, win, c, total, stages, buffers); err != nil {
			return fmt.Errorf("batch %d: %w", i, err)
		}
		p.stats.Batches++
	}

	p.finish(start)
	logging.Logf(p.log, logging.Info, "chunk %d done: %d frames written in %s, %d pixels changed",
		c.Index, p.stats.FramesWritten, p.stats.Elapsed, p.stats.Metrics.ChangedPixels)
	return nil
}

func (p *Processor) finish(start time.Time) {
	p.stats.Elapsed = time.Since(start)
	p.stats.Metrics = p.acc.result()
}

// setupStages creates and sets up the engines for the configured stage.
// On failure the engines already set up are cleaned up again.
func (p *Processor) setupStages(ec models.EngineConfig) ([]stage, error) {
	var stages []stage
	s := p.params.Config.Processing.Stage
	if s == config.StageDezing || s == config.StageBoth {
		e := dezinger.New[uint16](p.log)
		if p.params.Env != nil {
			e.WithEnvironment(*p.params.Env)
		}
		stages = append(stages, stage{name: "dezing", engine: e})
	}
	if s == config.StageUnwarp || s == config.StageBoth {
		e := distortion.New[uint16](p.log)
		if p.params.Env != nil {
			e.WithEnvironment(*p.params.Env)
		}
		stages = append(stages, stage{name: "unwarp", engine: e})
	}

	for i, st := range stages {
		if err := st.engine.Setup(ec); err != nil {
			var errs error = fmt.Errorf("%s setup: %w", st.name, err)
			for _, done := range stages[:i] {
				errs = multierr.Append(errs, done.engine.Cleanup())
			}
			return nil, errs
		}
		if w, ok := st.engine.(warner); ok && w.Warned() {
			p.stats.Warnings++
		}
	}
	return stages, nil
}

func (p *Processor) runBatch(ctx context.Context, win chunk.Window, c chunk.Chunk, total int,
	stages []stage, buffers []*models.FrameStack[uint16]) error {

	in := buffers[0]
	n := win.Len()
	for k := 0; k < n; k++ {
		idx := chunk.Clamp(win.Start+k, total)
		frame, err := p.params.Source.ReadFrame(ctx, idx)
		if err != nil {
			return err
		}
		if len(frame) != in.FrameSize() {
			return fmt.Errorf("frame %d has %d samples, want %d", idx, len(frame), in.FrameSize())
		}
		copy(in.Frame(k), frame)
		p.stats.FramesRead++
	}

	cur := in
	for i, st := range stages {
		out := buffers[i+1]
		if err := st.engine.Run(n, cur, out); err != nil {
			return fmt.Errorf("%s: %w", st.name, err)
		}
		cur = out
	}

	lo := max(win.DataStart(), c.DataStart(), 0)
	hi := min(win.DataEnd(), c.DataEnd(), total)
	for g := lo; g < hi; g++ {
		k := g - win.Start
		frame := cur.Frame(k)
		if err := p.params.Sink.WriteFrame(g, frame); err != nil {
			return err
		}
		p.acc.add(in.Frame(k), frame)
		if p.params.Preview != nil {
			if err := p.params.Preview.Add(g, frame); err != nil {
				return err
			}
		}
		p.stats.FramesWritten++
	}
	return nil
}
