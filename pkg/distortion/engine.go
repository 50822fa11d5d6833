package distortion

import (
	"fmt"
	"sync/atomic"

	"tomoprep/internal/models"
	"tomoprep/pkg/interpolation"
	"tomoprep/pkg/lifecycle"
	"tomoprep/pkg/logging"
)

// tableKey is everything the lookup table depends on.
type tableKey struct {
	width, height int
	cx, cy        float64
	poly          Polynomial
	cropEdges     int
}

func keyOf(cfg models.EngineConfig) tableKey {
	cx, cy := cfg.CroppedCenter()
	return tableKey{
		width:     cfg.Width,
		height:    cfg.Height,
		cx:        cx,
		cy:        cy,
		poly:      Polynomial(cfg.Coefficients),
		cropEdges: cfg.CropEdges,
	}
}

// Engine resamples every frame of a batch through a cached table.
//
// The table is built on the first Setup and kept across Cleanup, so a
// later Setup with the same geometry, center and coefficients reuses it.
// Any change to those rebuilds it.
type Engine[T models.Sample] struct {
	guard *lifecycle.Guard
	sink  logging.Sink
	env   lifecycle.Environment

	cfg    models.EngineConfig
	pool   *lifecycle.Pool
	warned bool

	table  *interpolation.Table
	key    tableKey
	builds int

	framesDone atomic.Int64
}

// New returns an engine in the Uninitialized state. sink may be nil.
func New[T models.Sample](sink logging.Sink) *Engine[T] {
	if sink == nil {
		sink = logging.Nop()
	}
	return &Engine[T]{
		guard: lifecycle.NewGuard("distortion", sink),
		sink:  sink,
		env:   lifecycle.DetectEnvironment(),
	}
}

// WithEnvironment overrides the detected slot and core counts.
func (e *Engine[T]) WithEnvironment(env lifecycle.Environment) *Engine[T] {
	e.env = env
	return e
}

// Setup sizes the pool and makes sure the table matches cfg.
func (e *Engine[T]) Setup(cfg models.EngineConfig) error {
	if err := e.guard.Setup(); err != nil {
		return err
	}

	key := keyOf(cfg)
	if e.table == nil || e.key != key {
		table, err := e.buildTable(key)
		if err != nil {
			// Roll the guard back so Setup can be retried with a fixed config.
			_ = e.guard.Cleanup()
			return e.guard.Fail(err)
		}
		e.table, e.key = table, key
		e.builds++
	} else {
		e.sink.Log(logging.Debug, "reusing cached interpolation table")
	}

	res := lifecycle.Resolve(cfg.Threads, e.env, e.sink)
	e.cfg = cfg
	e.warned = res.Warned
	e.pool = lifecycle.NewPool("distortion", res.Max, e.sink)
	logging.Logf(e.sink, logging.Debug, "unwarp setup %dx%d center (%g,%g) in crop (%g,%g) coefficients %v",
		cfg.Width, cfg.Height, cfg.CenterX, cfg.CenterY, key.cx, key.cy, cfg.Coefficients)
	return nil
}

func (e *Engine[T]) buildTable(key tableKey) (*interpolation.Table, error) {
	logging.Logf(e.sink, logging.Info, "calculating interpolation table for %dx%d frames", key.width, key.height)
	mapper := key.poly.Mapper(key.cx, key.cy)
	if key.cropEdges > 0 {
		inner := mapper
		crop := float64(key.cropEdges)
		maxX := float64(key.width) - crop
		maxY := float64(key.height) - crop
		mapper = func(x, y float64) (float64, float64) {
			if x < crop || y < crop || x >= maxX || y >= maxY {
				return -1, -1
			}
			return inner(x, y)
		}
	}
	return interpolation.Build(key.width, key.height, mapper, e.sink)
}

// Run resamples frames [0, thisBatchSize) of in into out.
func (e *Engine[T]) Run(thisBatchSize int, in, out *models.FrameStack[T]) error {
	if err := e.guard.BeginRun(); err != nil {
		return err
	}
	defer e.guard.EndRun()

	if in == nil || out == nil {
		return e.guard.Fail(fmt.Errorf("input and output frame stacks are required"))
	}
	if !in.SameShape(out) || in.Width() != e.key.width || in.Height() != e.key.height {
		return e.guard.Fail(fmt.Errorf("frames of %dx%d do not match the %dx%d table",
			in.Width(), in.Height(), e.key.width, e.key.height))
	}
	if thisBatchSize > in.Len() || thisBatchSize > out.Len() {
		return e.guard.Fail(fmt.Errorf("batch of %d frames does not fit buffers of %d input and %d output frames",
			thisBatchSize, in.Len(), out.Len()))
	}

	nthreads := lifecycle.ForBatch(e.pool.Max(), thisBatchSize)
	if nthreads == 0 {
		return e.guard.Fail(lifecycle.ErrZeroThreads)
	}

	table := e.table
	return e.pool.Run(nthreads, 0, thisBatchSize, func(r lifecycle.ThreadRange) error {
		for k := r.Start; k < r.End; k++ {
			interpolation.Apply(table, in.Frame(k), out.Frame(k))
		}
		e.framesDone.Add(int64(r.Len()))
		return nil
	})
}

// Cleanup releases the pool. The table stays cached.
func (e *Engine[T]) Cleanup() error {
	if err := e.guard.Cleanup(); err != nil {
		return err
	}
	e.pool = nil
	return nil
}

// TableBuilds returns how many times the table has been computed.
func (e *Engine[T]) TableBuilds() int { return e.builds }

// Table returns the cached table, or nil before the first Setup.
func (e *Engine[T]) Table() *interpolation.Table { return e.table }

// Warned reports whether Setup raised a configuration warning.
func (e *Engine[T]) Warned() bool { return e.warned }

// FramesProcessed returns the number of frames resampled so far.
func (e *Engine[T]) FramesProcessed() int64 { return e.framesDone.Load() }

// State returns the lifecycle state.
func (e *Engine[T]) State() lifecycle.State { return e.guard.State() }
