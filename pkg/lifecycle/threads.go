package lifecycle

import (
	"os"
	"runtime"
	"strconv"

	"tomoprep/pkg/logging"
)

// DefaultThreads is used when neither a hint nor a core count is usable.
const DefaultThreads = 2

// SlotsEnv names the environment variable a queue system uses to tell a
// job how many slots it was given.
const SlotsEnv = "NSLOTS"

// Environment describes the parallelism available to this process.
type Environment struct {
	// Slots is the queue-system slot count, 0 when not running in a queue
	Slots int

	// Cores is the number of online processors, 0 if detection failed
	Cores int
}

// DetectEnvironment reads the slot hint from NSLOTS and the core count
// from the runtime.
func DetectEnvironment() Environment {
	env := Environment{Cores: runtime.NumCPU()}
	if s, ok := os.LookupEnv(SlotsEnv); ok {
		// A malformed value counts as "in a queue with no slots", which
		// Resolve reports as a warning.
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			env.Slots = -1
		} else {
			env.Slots = n
		}
	}
	return env
}

// Resolution is the outcome of thread-count negotiation.
type Resolution struct {
	// Max is the pool size: the most threads any run may use
	Max int

	// Warned is set when the configuration deserved a warning
	Warned bool
}

// Resolve picks the maximum thread count. A pinned request wins, with a
// warning if it exceeds the slots or cores available; otherwise the
// queue slot hint is used, then the detected core count, then
// DefaultThreads with a warning.
func Resolve(requested int, env Environment, sink logging.Sink) Resolution {
	if sink == nil {
		sink = logging.Nop()
	}
	var res Resolution

	if requested > 0 {
		if env.Slots > 0 && requested > env.Slots {
			logging.Logf(sink, logging.Warn, "WARNING: nthreads %d > nslots %d", requested, env.Slots)
			res.Warned = true
		}
		if env.Cores > 0 && requested > env.Cores {
			logging.Logf(sink, logging.Warn, "WARNING: nthreads %d > nproc %d", requested, env.Cores)
			res.Warned = true
		}
		res.Max = requested
		return res
	}

	switch {
	case env.Slots > 0:
		res.Max = env.Slots
	case env.Slots < 0:
		logging.Logf(sink, logging.Warn, "WARNING: no processors detected, %s is unusable; using %d threads", SlotsEnv, DefaultThreads)
		res.Max = DefaultThreads
		res.Warned = true
	case env.Cores > 0:
		res.Max = env.Cores
	default:
		logging.Logf(sink, logging.Warn, "WARNING: processor count unavailable; using %d threads", DefaultThreads)
		res.Max = DefaultThreads
		res.Warned = true
	}
	return res
}

// ForBatch returns the number of threads a batch of the given size uses.
// A batch smaller than the pool gets one thread per frame.
func ForBatch(max, batchSize int) int {
	if batchSize < 0 {
		return 0
	}
	if batchSize < max {
		return batchSize
	}
	return max
}
