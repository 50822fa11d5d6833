package chunk

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewRejectsBadChunkCount verifies the only failure mode of the planner
func TestNewRejectsBadChunkCount(t *testing.T) {
	for _, n := range []int{0, -1} {
		_, err := New(n, 100, 2)
		if !errors.Is(err, ErrInvalidChunkCount) {
			t.Errorf("New(%d, ...) error = %v, want ErrInvalidChunkCount", n, err)
		}
	}
}

// TestInteriorsCoverRange checks that the unpadded spans tile
// [0, ceil(total/n)*n) exactly once for a spread of inputs
func TestInteriorsCoverRange(t *testing.T) {
	for _, tc := range []struct{ chunks, total, pad int }{
		{1, 1, 2}, {1, 100, 2}, {8, 100, 2}, {16, 1801, 2}, {7, 7, 0}, {3, 10, 5}, {5, 3, 2},
	} {
		t.Run(fmt.Sprintf("n%d_total%d_pad%d", tc.chunks, tc.total, tc.pad), func(t *testing.T) {
			plan, err := New(tc.chunks, tc.total, tc.pad)
			require.NoError(t, err)
			require.Len(t, plan.Chunks, tc.chunks)

			covered := make(map[int]int)
			for _, c := range plan.Chunks {
				for i := c.DataStart(); i < c.DataEnd(); i++ {
					covered[i]++
				}
			}
			limit := plan.PerChunk * tc.chunks
			assert.Len(t, covered, limit)
			for i := 0; i < limit; i++ {
				assert.Equal(t, 1, covered[i], "index %d", i)
			}
		})
	}
}

// TestPaddedOverlap checks neighbouring padded spans share exactly 2*pad indices
func TestPaddedOverlap(t *testing.T) {
	plan, err := New(6, 1000, 3)
	require.NoError(t, err)

	for i := 1; i < len(plan.Chunks); i++ {
		prev, cur := plan.Chunks[i-1], plan.Chunks[i]
		assert.Equal(t, 2*plan.Pad, prev.End-cur.Start)
		assert.Equal(t, prev.DataEnd(), cur.DataStart())
	}
	assert.Equal(t, -3, plan.Chunks[0].Start)
}

// TestPlanMatchesFormula pins the exact spans for a small plan
func TestPlanMatchesFormula(t *testing.T) {
	plan, err := New(3, 10, 2)
	require.NoError(t, err)

	assert.Equal(t, 4, plan.PerChunk)
	assert.Equal(t, []string{
		"0,-2,6,0,4",
		"1,2,10,4,8",
		"2,6,14,8,12",
	}, plan.Rows())
}

func TestPlanDeterministic(t *testing.T) {
	a, err := New(9, 12345, 2)
	require.NoError(t, err)
	b, err := New(9, 12345, 2)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, a.String(), b.String())
}

func TestPlanChunkLookup(t *testing.T) {
	plan, err := New(2, 10, 2)
	require.NoError(t, err)

	c, err := plan.Chunk(1)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Index)
	assert.Equal(t, 9, c.Len())

	_, err = plan.Chunk(2)
	assert.Error(t, err)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0, Clamp(-2, 10))
	assert.Equal(t, 5, Clamp(5, 10))
	assert.Equal(t, 9, Clamp(10, 10))
	assert.Equal(t, 9, Clamp(14, 10))
	assert.Equal(t, 0, Clamp(3, 0))
}
