package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchesTileInterior(t *testing.T) {
	for _, tc := range []struct{ start, end, batch, pad int }{
		{-2, 30, 10, 2},
		{-2, 7, 10, 2},
		{0, 100, 5, 2},
		{6, 14, 7, 2},
		{0, 50, 3, 0},
	} {
		windows, err := Batches(tc.start, tc.end, tc.batch, tc.pad)
		require.NoError(t, err)
		require.NotEmpty(t, windows)

		next := tc.start + tc.pad
		for _, w := range windows {
			assert.LessOrEqual(t, w.Len(), tc.batch)
			assert.Greater(t, w.Len(), 2*tc.pad)
			assert.Equal(t, next, w.DataStart(), "gap or overlap at %+v", w)
			next = w.DataEnd()
		}
		assert.Equal(t, tc.end-tc.pad, next)
		assert.Equal(t, tc.end, windows[len(windows)-1].End)
	}
}

func TestBatchesOverlapByTwicePad(t *testing.T) {
	windows, err := Batches(-2, 40, 12, 2)
	require.NoError(t, err)
	for i := 1; i < len(windows); i++ {
		assert.Equal(t, 4, windows[i-1].End-windows[i].Start)
	}
}

func TestBatchesRejectsSmallBatch(t *testing.T) {
	_, err := Batches(0, 10, 4, 2)
	assert.Error(t, err)

	_, err = Batches(0, 10, 4, -1)
	assert.Error(t, err)
}

func TestBatchesEmptySpan(t *testing.T) {
	windows, err := Batches(0, 4, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, windows)
}
