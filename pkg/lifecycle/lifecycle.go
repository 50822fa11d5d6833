// Package lifecycle holds the Setup/Run/Cleanup contract shared by the
// processing engines, together with the thread pool they fork work onto.
//
// An engine is a long-lived instance driven through three states:
//
//	Uninitialized --Setup--> Ready --Run--> Ready --Cleanup--> Uninitialized
//
// Run passes through a transient Running state. Calls made from the wrong
// state fail with one of the sentinel errors below, are logged at error
// level, and leave the state as it was.
package lifecycle

import (
	"errors"
	"fmt"
	"sync"

	"tomoprep/internal/models"
	"tomoprep/pkg/logging"
)

var (
	// ErrDoubleSetup is returned by Setup on an engine that is already set up.
	ErrDoubleSetup = errors.New("attempted to double-allocate")

	// ErrNotSetup is returned by Run before a successful Setup.
	ErrNotSetup = errors.New("attempted to run without allocating")

	// ErrDoubleCleanup is returned by Cleanup without a matching Setup.
	ErrDoubleCleanup = errors.New("attempted to double-free")

	// ErrBusy is returned when Setup or Cleanup races a Run in progress.
	ErrBusy = errors.New("engine is running")

	// ErrZeroThreads is returned by Run when no worker thread can be used.
	ErrZeroThreads = errors.New("attempted to run with zero threads")
)

// Engine is the contract implemented by every stateful processing stage.
type Engine[T models.Sample] interface {
	// Setup allocates pool resources for the given configuration.
	Setup(cfg models.EngineConfig) error

	// Run processes the first thisBatchSize frames of in into out. The
	// engine borrows both stacks for the duration of the call only.
	Run(thisBatchSize int, in, out *models.FrameStack[T]) error

	// Cleanup releases what Setup allocated.
	Cleanup() error
}

// State is the lifecycle state of an engine.
type State int

const (
	Uninitialized State = iota
	Ready
	Running
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Running:
		return "running"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Guard enforces the lifecycle state machine for one engine.
type Guard struct {
	mu    sync.Mutex
	name  string
	state State
	sink  logging.Sink
}

// NewGuard returns a guard in the Uninitialized state. name prefixes
// every error so logs show which engine was misused.
func NewGuard(name string, sink logging.Sink) *Guard {
	if sink == nil {
		sink = logging.Nop()
	}
	return &Guard{name: name, sink: sink}
}

// State returns the current state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Guard) fail(err error) error {
	err = fmt.Errorf("%s: %w", g.name, err)
	g.sink.Log(logging.Error, "ERROR: "+err.Error())
	return err
}

// Setup moves Uninitialized to Ready.
func (g *Guard) Setup() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.state {
	case Ready:
		return g.fail(ErrDoubleSetup)
	case Running:
		return g.fail(ErrBusy)
	}
	g.state = Ready
	return nil
}

// BeginRun moves Ready to Running. The caller must call EndRun when the
// run finishes, whatever its outcome.
func (g *Guard) BeginRun() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.state {
	case Uninitialized:
		return g.fail(ErrNotSetup)
	case Running:
		return g.fail(ErrBusy)
	}
	g.state = Running
	return nil
}

// EndRun moves Running back to Ready.
func (g *Guard) EndRun() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == Running {
		g.state = Ready
	}
}

// Cleanup moves Ready to Uninitialized.
func (g *Guard) Cleanup() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.state {
	case Uninitialized:
		return g.fail(ErrDoubleCleanup)
	case Running:
		return g.fail(ErrBusy)
	}
	g.state = Uninitialized
	return nil
}

// Fail logs err against the engine name and returns it wrapped. Engines
// use it for run-time errors that do not change state.
func (g *Guard) Fail(err error) error {
	return g.fail(err)
}
