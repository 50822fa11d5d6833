package frameio

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-memory frame store. It serves as both Source and Sink,
// for tests and for chaining stages without touching disk.
type Memory struct {
	mu     sync.RWMutex
	width  int
	height int
	frames map[int][]uint16
}

// NewMemory returns an empty store for width x height frames.
func NewMemory(width, height int) *Memory {
	return &Memory{width: width, height: height, frames: make(map[int][]uint16)}
}

// Width returns the frame width.
func (m *Memory) Width() int { return m.width }

// Height returns the frame height.
func (m *Memory) Height() int { return m.height }

// ReadFrame returns a copy of frame index.
func (m *Memory) ReadFrame(ctx context.Context, index int) ([]uint16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.frames[index]
	if !ok {
		return nil, fmt.Errorf("frame %d not found", index)
	}
	return append([]uint16(nil), f...), nil
}

// WriteFrame stores a copy of frame.
func (m *Memory) WriteFrame(index int, frame []uint16) error {
	if len(frame) != m.width*m.height {
		return fmt.Errorf("frame %d has %d samples, want %dx%d", index, len(frame), m.width, m.height)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames[index] = append([]uint16(nil), frame...)
	return nil
}

// Indices returns the stored frame indices in ascending order.
func (m *Memory) Indices() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]int, 0, len(m.frames))
	for k := range m.frames {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
