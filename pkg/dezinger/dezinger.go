// Package dezinger removes zingers: single-frame pixel artifacts such as
// cosmic-ray hits. Each pixel of frame k is compared against the same
// pixel in frames k-2, k-1, k+1 and k+2; if it deviates from their mean
// by more than mu standard deviations it is replaced by that mean.
package dezinger

import (
	"math"
	"sync/atomic"

	"gonum.org/v1/gonum/stat"

	"tomoprep/internal/models"
	"tomoprep/pkg/lifecycle"
	"tomoprep/pkg/logging"
)

const (
	// Radius is the neighbourhood half-width along the frame axis. Batches
	// and chunks must be padded by at least this many frames.
	Radius = 2

	// neighbourhood is the number of frames in a test window.
	neighbourhood = 2*Radius + 1

	// zScoreScale maps a z-score onto the sample range in ModeZScore.
	zScoreScale = 1000

	// replacedMarker is written for replaced pixels in ModeReplacedMask.
	replacedMarker = 50000
)

// Result is the outcome of the outlier test on one neighbourhood.
type Result struct {
	Mean     float64
	StdDev   float64
	Z        float64
	Replaced bool
}

// Test runs the outlier test on a neighbourhood whose center element is
// window[Radius]. The mean and standard deviation are taken over the four
// other values; the variance divisor is n-1 over those four (n-2 over the
// whole window).
//
// A standard deviation of exactly zero is raised to floor before the
// division so that a flat neighbourhood flags a differing center only if
// it is more than mu*floor away. With floor <= 0 a flat neighbourhood
// never flags anything.
func Test(window [neighbourhood]float64, mu, floor float64) Result {
	var others [neighbourhood - 1]float64
	n := 0
	for i, v := range window {
		if i != Radius {
			others[n] = v
			n++
		}
	}
	center := window[Radius]

	mean, variance := stat.MeanVariance(others[:], nil)
	sdev := math.Sqrt(variance)
	if sdev == 0 {
		sdev = floor
	}

	res := Result{Mean: mean, StdDev: sdev}
	diff := math.Abs(mean - center)
	switch {
	case sdev > 0:
		res.Z = diff / sdev
	case diff == 0:
		res.Z = 0
	default:
		// Flat neighbourhood with no floor: report the deviation as
		// unbounded but never act on it.
		res.Z = math.Inf(1)
		return res
	}
	res.Replaced = res.Z > mu
	return res
}

// Engine is the multithreaded dezinger. One instance is set up once,
// run for every batch, and cleaned up at the end of the chunk.
type Engine[T models.Sample] struct {
	guard *lifecycle.Guard
	sink  logging.Sink
	env   lifecycle.Environment

	cfg    models.EngineConfig
	pool   *lifecycle.Pool
	warned bool

	framesDone atomic.Int64
}

// New returns an engine in the Uninitialized state. sink may be nil.
func New[T models.Sample](sink logging.Sink) *Engine[T] {
	if sink == nil {
		sink = logging.Nop()
	}
	return &Engine[T]{
		guard: lifecycle.NewGuard("dezinger", sink),
		sink:  sink,
		env:   lifecycle.DetectEnvironment(),
	}
}

// WithEnvironment overrides the detected slot and core counts.
func (e *Engine[T]) WithEnvironment(env lifecycle.Environment) *Engine[T] {
	e.env = env
	return e
}

// Setup sizes the thread pool and stores a copy of cfg.
func (e *Engine[T]) Setup(cfg models.EngineConfig) error {
	if err := e.guard.Setup(); err != nil {
		return err
	}
	res := lifecycle.Resolve(cfg.Threads, e.env, e.sink)
	e.cfg = cfg
	e.warned = res.Warned
	e.pool = lifecycle.NewPool("dezinger", res.Max, e.sink)

	e.sink.Log(logging.Info, "allocating the memory in dezing functions")
	logging.Logf(e.sink, logging.Debug, "Threads available: %d", res.Max)
	logging.Logf(e.sink, logging.Debug, "Threads requested: %d", cfg.Threads)
	logging.Logf(e.sink, logging.Debug, "set outlier mu to %f, mode %s", cfg.Mu, cfg.Mode)
	return nil
}

// Run filters frames [pad, thisBatchSize-pad) of in into out. Padded
// frames of out are not written.
func (e *Engine[T]) Run(thisBatchSize int, in, out *models.FrameStack[T]) error {
	if err := e.guard.BeginRun(); err != nil {
		return err
	}
	defer e.guard.EndRun()

	if in == nil || out == nil || !in.SameShape(out) {
		return e.guard.Fail(errShape(in, out))
	}
	if thisBatchSize > in.Len() || thisBatchSize > out.Len() {
		return e.guard.Fail(errBatchSize(thisBatchSize, in.Len(), out.Len()))
	}

	nthreads := lifecycle.ForBatch(e.pool.Max(), thisBatchSize)
	if nthreads == 0 {
		return e.guard.Fail(lifecycle.ErrZeroThreads)
	}

	pad := e.cfg.Pad
	if pad < Radius {
		pad = Radius
	}
	lo, hi := pad, thisBatchSize-pad
	logging.Logf(e.sink, logging.Info, "thisbatch %d, Threads used: %d", thisBatchSize, nthreads)
	if hi <= lo {
		logging.Logf(e.sink, logging.Warn, "batch of %d frames has no interior with padding %d", thisBatchSize, pad)
		return nil
	}

	cfg := e.cfg
	err := e.pool.Run(nthreads, lo, hi, func(r lifecycle.ThreadRange) error {
		filterRange(cfg, in, out, r.Start, r.End)
		e.framesDone.Add(int64(r.Len()))
		return nil
	})
	if err != nil {
		return err
	}
	e.sink.Log(logging.Info, "finished waiting for dezing threads")
	return nil
}

// Cleanup releases the pool.
func (e *Engine[T]) Cleanup() error {
	if err := e.guard.Cleanup(); err != nil {
		return err
	}
	e.sink.Log(logging.Info, "freeing the memory in dezing functions")
	e.pool = nil
	return nil
}

// Warned reports whether Setup raised a configuration warning.
func (e *Engine[T]) Warned() bool { return e.warned }

// FramesProcessed returns the number of frames filtered so far.
func (e *Engine[T]) FramesProcessed() int64 { return e.framesDone.Load() }

// State returns the lifecycle state.
func (e *Engine[T]) State() lifecycle.State { return e.guard.State() }

// filterRange applies the outlier test to frames [start, end). It reads
// frames start-Radius .. end+Radius-1 of in and writes only frames
// start .. end-1 of out.
func filterRange[T models.Sample](cfg models.EngineConfig, in, out *models.FrameStack[T], start, end int) {
	size := in.FrameSize()
	src := in.Data()
	dst := out.Data()

	var window [neighbourhood]float64
	for k := start; k < end; k++ {
		base := k * size
		for idx := 0; idx < size; idx++ {
			for j := -Radius; j <= Radius; j++ {
				window[j+Radius] = float64(src[base+idx+j*size])
			}
			dst[base+idx] = decide[T](cfg, window)
		}
	}
}

// decide converts a test result into the value written for the pixel.
func decide[T models.Sample](cfg models.EngineConfig, window [neighbourhood]float64) T {
	res := Test(window, cfg.Mu, cfg.ZeroVarianceFloor)
	switch cfg.Mode {
	case models.ModeZScore:
		return models.Convert[T](res.Z * zScoreScale)
	case models.ModeReplacedMask:
		if res.Replaced {
			return models.Convert[T](replacedMarker)
		}
		return 0
	}
	if res.Replaced {
		return models.Convert[T](res.Mean)
	}
	return models.Convert[T](window[Radius])
}
