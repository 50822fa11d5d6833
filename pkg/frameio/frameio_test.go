package frameio

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/image/tiff"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeGray16(t *testing.T, path string, w, h int, value func(x, y int) uint16) {
	t.Helper()
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray16(x, y, color.Gray16{Y: value(x, y)})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, tiff.Encode(f, img, nil))
	require.NoError(t, f.Close())
}

func TestDirSinkSourceRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	sink := NewDirSink(dir, "", 4, 3, nil)

	frame := make([]uint16, 12)
	for i := range frame {
		frame[i] = uint16(i*5000 + 7)
	}
	require.NoError(t, sink.WriteFrame(42, frame))
	assert.FileExists(t, filepath.Join(dir, "p_00042.tif"))

	src, err := NewDirSource(dir, "", Crop{Width: 4, Height: 3}, nil)
	require.NoError(t, err)
	got, err := src.ReadFrame(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, frame, got)
}

func TestDirSourceCrops(t *testing.T) {
	dir := t.TempDir()
	writeGray16(t, filepath.Join(dir, "img_3.tif"), 6, 5, func(x, y int) uint16 {
		return uint16(100*y + x)
	})

	src, err := NewDirSource(dir, "img_%d.tif", Crop{Left: 2, Top: 1, Width: 3, Height: 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, src.Width())
	assert.Equal(t, 2, src.Height())

	got, err := src.ReadFrame(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, []uint16{102, 103, 104, 202, 203, 204}, got)

	tooWide, err := NewDirSource(dir, "img_%d.tif", Crop{Left: 4, Width: 3, Height: 1}, nil)
	require.NoError(t, err)
	_, err = tooWide.ReadFrame(context.Background(), 3)
	assert.Error(t, err)
}

func TestNewDirSourceRejectsCrop(t *testing.T) {
	_, err := NewDirSource(t.TempDir(), "", Crop{Width: 0, Height: 4}, nil)
	assert.Error(t, err)
}

func TestDirSinkRejectsWrongSize(t *testing.T) {
	sink := NewDirSink(t.TempDir(), "", 2, 2, nil)
	assert.Error(t, sink.WriteFrame(0, []uint16{1, 2, 3}))
}

func TestMemory(t *testing.T) {
	m := NewMemory(2, 1)
	require.NoError(t, m.WriteFrame(5, []uint16{1, 2}))
	require.NoError(t, m.WriteFrame(1, []uint16{3, 4}))
	assert.Error(t, m.WriteFrame(2, []uint16{1}))

	got, err := m.ReadFrame(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 2}, got)
	got[0] = 99
	again, _ := m.ReadFrame(context.Background(), 5)
	assert.Equal(t, uint16(1), again[0])

	_, err = m.ReadFrame(context.Background(), 9)
	assert.Error(t, err)
	assert.Equal(t, []int{1, 5}, m.Indices())
}

func TestWaiterExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, nil, 0644))
	w := NewWaiter(10*time.Millisecond, time.Millisecond, nil)
	assert.NoError(t, w.Wait(context.Background(), path))
}

func TestWaiterSeesLateFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "late.tif")

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(30 * time.Millisecond)
		_ = os.WriteFile(path, []byte("x"), 0644)
	}()

	w := NewWaiter(5*time.Second, 20*time.Millisecond, nil)
	require.NoError(t, w.Wait(context.Background(), path))
	<-done
}

func TestWaiterTimeout(t *testing.T) {
	w := NewWaiter(30*time.Millisecond, 5*time.Millisecond, nil)
	err := w.Wait(context.Background(), filepath.Join(t.TempDir(), "never"))
	assert.True(t, errors.Is(err, ErrFrameTimeout))
}

func TestWaiterCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := NewWaiter(0, 5*time.Millisecond, nil)
	err := w.Wait(ctx, filepath.Join(t.TempDir(), "never"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaiterLookahead(t *testing.T) {
	dir := t.TempDir()
	name := func(i int) string { return filepath.Join(dir, "p_"+string(rune('a'+i))) }
	w := NewWaiter(20*time.Millisecond, 5*time.Millisecond, nil).WithLookahead(8, name)

	// Frame 1 needs frame 6; frame 4 needs the last frame, 7.
	assert.Equal(t, name(6), w.lookaheadPath(name(1), 1))
	assert.Equal(t, name(7), w.lookaheadPath(name(4), 4))
	assert.Equal(t, name(7), w.lookaheadPath(name(7), 7))

	require.NoError(t, os.WriteFile(name(1), nil, 0644))
	assert.ErrorIs(t, w.WaitIndex(context.Background(), 1), ErrFrameTimeout)
	require.NoError(t, os.WriteFile(name(6), nil, 0644))
	assert.NoError(t, w.WaitIndex(context.Background(), 1))

	// The look-ahead frame alone is not enough.
	require.NoError(t, os.WriteFile(name(7), nil, 0644))
	assert.ErrorIs(t, w.WaitIndex(context.Background(), 2), ErrFrameTimeout)
	require.NoError(t, os.WriteFile(name(2), nil, 0644))
	assert.NoError(t, w.WaitIndex(context.Background(), 2))
}

func TestLiveDirSourceWaitsForLookahead(t *testing.T) {
	dir := t.TempDir()
	waiter := NewWaiter(20*time.Millisecond, 5*time.Millisecond, nil)
	src, err := NewDirSource(dir, "", Crop{Width: 2, Height: 2}, waiter)
	require.NoError(t, err)
	waiter.WithLookahead(10, src.Path)

	writeGray16(t, src.Path(0), 2, 2, func(x, y int) uint16 { return 9 })
	_, err = src.ReadFrame(context.Background(), 0)
	assert.ErrorIs(t, err, ErrFrameTimeout)

	writeGray16(t, src.Path(5), 2, 2, func(x, y int) uint16 { return 9 })
	frame, err := src.ReadFrame(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []uint16{9, 9, 9, 9}, frame)
}
