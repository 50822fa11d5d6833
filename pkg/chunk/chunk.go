// Package chunk splits the global projection sequence into overlapping
// chunks for parallel workers, and a chunk into overlapping batches.
//
// A chunk's padded span duplicates pad frames of each neighbour so a
// temporal filter of radius pad never has to cross a chunk boundary.
// Only the interior [DataStart, DataEnd) of a chunk is ever emitted.
package chunk

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidChunkCount is returned when fewer than one chunk is requested.
var ErrInvalidChunkCount = errors.New("chunk count must be at least 1")

// Chunk is one worker's padded range of projection indices.
type Chunk struct {
	// Index is the chunk number, 0-based
	Index int

	// Start and End delimit the padded span [Start, End). Either may lie
	// outside [0, total); callers clamp before reading frames.
	Start int
	End   int

	// Pad is the context width at each end
	Pad int
}

// DataStart is the first index owned by this chunk.
func (c Chunk) DataStart() int { return c.Start + c.Pad }

// DataEnd is one past the last index owned by this chunk.
func (c Chunk) DataEnd() int { return c.End - c.Pad }

// Len returns the padded span length.
func (c Chunk) Len() int { return c.End - c.Start }

// Plan is the ordered list of chunks for a run. It is created once and
// read-only afterwards.
type Plan struct {
	Chunks   []Chunk
	PerChunk int
	Total    int
	Pad      int
}

// New computes the chunk plan for total projections split into
// chunkCount chunks, each padded by pad frames at both ends.
//
// The planner does not clamp: the last chunk may extend past total and
// the first starts at -pad. Identical inputs always give identical plans.
func New(chunkCount, total, pad int) (Plan, error) {
	if chunkCount <= 0 {
		return Plan{}, fmt.Errorf("%w: got %d", ErrInvalidChunkCount, chunkCount)
	}

	perChunk := (total + chunkCount - 1) / chunkCount
	plan := Plan{
		Chunks:   make([]Chunk, chunkCount),
		PerChunk: perChunk,
		Total:    total,
		Pad:      pad,
	}

	start := -pad
	for i := 0; i < chunkCount; i++ {
		plan.Chunks[i] = Chunk{
			Index: i,
			Start: start,
			End:   start + perChunk + 2*pad,
			Pad:   pad,
		}
		start += perChunk
	}
	return plan, nil
}

// Chunk returns chunk i of the plan.
func (p Plan) Chunk(i int) (Chunk, error) {
	if i < 0 || i >= len(p.Chunks) {
		return Chunk{}, fmt.Errorf("chunk %d out of range: plan has %d chunks", i, len(p.Chunks))
	}
	return p.Chunks[i], nil
}

// Rows renders the plan one line per chunk as
// "index,start,end,dataStart,dataEnd".
func (p Plan) Rows() []string {
	rows := make([]string, len(p.Chunks))
	for i, c := range p.Chunks {
		rows[i] = fmt.Sprintf("%d,%d,%d,%d,%d", c.Index, c.Start, c.End, c.DataStart(), c.DataEnd())
	}
	return rows
}

func (p Plan) String() string {
	return strings.Join(p.Rows(), "\n")
}

// Clamp saturates a projection index into [0, total-1] so that padding
// beyond either end of the sequence repeats the edge frame instead of
// reading a frame that does not exist.
func Clamp(index, total int) int {
	if index < 0 || total <= 0 {
		return 0
	}
	if index >= total {
		return total - 1
	}
	return index
}
