package frameio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"tomoprep/pkg/logging"
)

// ErrFrameTimeout is returned when a frame does not appear in time.
var ErrFrameTimeout = errors.New("timed out waiting for frame")

// Lookahead is how many frames past the requested one must exist before
// the requested one is considered completely written.
const Lookahead = 5

// Waiter blocks until a frame file exists during live acquisition. It
// listens for filesystem events and also polls, since events are not
// delivered on every filesystem (network mounts in particular).
type Waiter struct {
	Timeout  time.Duration
	Interval time.Duration

	// Limit is one past the last index that will ever be written; the
	// lookahead index is clamped below it
	Limit int

	// Pattern builds a file name from an index for the lookahead check
	Pattern func(index int) string

	sink logging.Sink
}

// NewWaiter returns a waiter with the given timeout and poll interval.
func NewWaiter(timeout, interval time.Duration, sink logging.Sink) *Waiter {
	if sink == nil {
		sink = logging.Nop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Waiter{Timeout: timeout, Interval: interval, sink: sink}
}

// WithLookahead enables the look-ahead check: before frame index is read,
// frame min(index+Lookahead, limit-1) must exist.
func (w *Waiter) WithLookahead(limit int, pattern func(index int) string) *Waiter {
	w.Limit = limit
	w.Pattern = pattern
	return w
}

// lookaheadPath returns the path that must exist before frame index at
// path is read.
func (w *Waiter) lookaheadPath(path string, index int) string {
	if w.Pattern == nil {
		return path
	}
	next := index + Lookahead
	if w.Limit > 0 && next > w.Limit-1 {
		next = w.Limit - 1
	}
	if next < index {
		next = index
	}
	return w.Pattern(next)
}

// WaitIndex waits for the look-ahead frame of index and then for frame
// index itself.
func (w *Waiter) WaitIndex(ctx context.Context, index int) error {
	if w.Pattern == nil {
		return fmt.Errorf("waiter has no filename pattern")
	}
	path := w.Pattern(index)
	if err := w.wait(ctx, w.lookaheadPath(path, index)); err != nil {
		return err
	}
	return w.wait(ctx, path)
}

// Wait blocks until path exists, the timeout elapses or ctx is done.
func (w *Waiter) Wait(ctx context.Context, path string) error {
	return w.wait(ctx, path)
}

func (w *Waiter) wait(ctx context.Context, path string) error {
	if exists(path) {
		return nil
	}
	logging.Logf(w.sink, logging.Debug, "waiting for %s", path)

	// The watcher is an optimisation; polling alone is correct.
	var events <-chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(path)); err == nil {
			events = watcher.Events
		} else {
			logging.Logf(w.sink, logging.Debug, "cannot watch %s, polling: %v", filepath.Dir(path), err)
		}
	}

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	var timeout <-chan time.Time
	if w.Timeout > 0 {
		timer := time.NewTimer(w.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	want := filepath.Clean(path)
	for {
		// Re-check after the watch is registered so a file created in
		// between is not missed.
		if exists(path) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			logging.Logf(w.sink, logging.Error, "ERROR: timed out after %s waiting for %s", w.Timeout, path)
			return fmt.Errorf("%w: %s", ErrFrameTimeout, path)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == want && ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				if exists(path) {
					return nil
				}
			}
		case <-ticker.C:
		}
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
