package lifecycle

import (
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"tomoprep/pkg/logging"
)

// ThreadRange is the half-open range [Start, End) of batch-local frame
// indices assigned to worker ID.
type ThreadRange struct {
	ID    int
	Start int
	End   int
}

// Len returns the number of frames in the range.
func (r ThreadRange) Len() int { return r.End - r.Start }

// Partition splits [lo, hi) into n disjoint contiguous ranges. The first
// (hi-lo) mod n ranges receive one extra index, so sizes differ by at
// most one. Ranges may be empty when there are fewer indices than n.
func Partition(lo, hi, n int) []ThreadRange {
	if n <= 0 {
		return nil
	}
	total := hi - lo
	if total < 0 {
		total = 0
	}
	size := total / n
	extra := total - size*n

	ranges := make([]ThreadRange, n)
	start := lo
	for i := 0; i < n; i++ {
		end := start + size
		if i < extra {
			end++
		}
		ranges[i] = ThreadRange{ID: i, Start: start, End: end}
		start = end
	}
	return ranges
}

// Pool runs fork-join batches of work. It is sized once, at engine
// Setup, to the most threads any run may use; the per-thread range
// bookkeeping is reused across runs.
type Pool struct {
	name   string
	max    int
	ranges []ThreadRange
	sink   logging.Sink
}

// NewPool allocates a pool for up to max workers.
func NewPool(name string, max int, sink logging.Sink) *Pool {
	if sink == nil {
		sink = logging.Nop()
	}
	return &Pool{
		name:   name,
		max:    max,
		ranges: make([]ThreadRange, 0, max),
		sink:   sink,
	}
}

// Max returns the pool size.
func (p *Pool) Max() int { return p.max }

// Ranges returns the ranges of the most recent Run.
func (p *Pool) Ranges() []ThreadRange { return p.ranges }

// Run partitions [lo, hi) into threads ranges and calls work once per
// non-empty range, each on its own goroutine. It returns only after every
// worker has finished. A worker that fails or panics does not stop the
// others: its error is logged and accumulated into the returned error,
// and the output of the remaining workers is kept.
func (p *Pool) Run(threads, lo, hi int, work func(r ThreadRange) error) error {
	if threads <= 0 {
		return ErrZeroThreads
	}
	if threads > p.max {
		threads = p.max
	}
	p.ranges = append(p.ranges[:0], Partition(lo, hi, threads)...)

	var (
		mu     sync.Mutex
		runErr error
	)
	var g errgroup.Group
	for _, r := range p.ranges {
		if r.Len() == 0 {
			continue
		}
		logging.Logf(p.sink, logging.Debug, "%s: launching thread %d for frames [%d,%d)", p.name, r.ID, r.Start, r.End)
		r := r // per-iteration copy; go.mod targets go 1.21 loop semantics
		g.Go(func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("%s: thread %d panicked: %v\n%s", p.name, r.ID, rec, debug.Stack())
				}
				if err != nil {
					p.sink.Log(logging.Error, fmt.Sprintf("ERROR: %s: thread %d: %v", p.name, r.ID, err))
					mu.Lock()
					runErr = multierr.Append(runErr, err)
					mu.Unlock()
				}
			}()
			return work(r)
		})
	}
	_ = g.Wait()
	return runErr
}
