package distortion

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"tomoprep/internal/models"
	"tomoprep/pkg/interpolation"
	"tomoprep/pkg/lifecycle"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testEnv = lifecycle.Environment{Cores: 4}

func engineConfig(w, h int, poly Polynomial) models.EngineConfig {
	return models.EngineConfig{
		Width:        w,
		Height:       h,
		CenterX:      float64(w-1) / 2,
		CenterY:      float64(h-1) / 2,
		Coefficients: poly,
	}
}

func TestPolynomial(t *testing.T) {
	p := Polynomial{1, 0.5, 0.25, 0, 0}
	assert.Equal(t, 1.0+1+1, p.Ratio(2))
	assert.Equal(t, 6.0, p.Radius(2))

	xp, yp := Identity.Map(3.5, 3.5, 1, 6)
	assert.Equal(t, 1.0, xp)
	assert.Equal(t, 6.0, yp)

	// Ratio 2 everywhere doubles the distance from the center.
	xp, yp = Polynomial{2}.Map(10, 10, 13, 6)
	assert.Equal(t, 16.0, xp)
	assert.Equal(t, 2.0, yp)
}

func TestUnmapInvertsRadius(t *testing.T) {
	p := Polynomial{0.99, 1e-5, 1e-7, 1e-9}
	for _, d := range []float64{1, 10, 250, 1000, 2000} {
		got, ok := p.Unmap(p.Radius(d))
		assert.True(t, ok)
		assert.InEpsilon(t, d, got, 1e-6)
	}
	got, ok := p.Unmap(0)
	assert.True(t, ok)
	assert.Zero(t, got)
}

func TestIdentityEngine(t *testing.T) {
	const w, h, frames = 8, 6, 3
	e := New[uint16](nil).WithEnvironment(testEnv)
	require.NoError(t, e.Setup(engineConfig(w, h, Identity)))

	in := models.NewFrameStack[uint16](w, h, frames)
	for i := range in.Data() {
		in.Data()[i] = uint16(i)
	}
	out := models.NewFrameStack[uint16](w, h, frames)
	require.NoError(t, e.Run(frames, in, out))
	require.NoError(t, e.Cleanup())

	for k := 0; k < frames; k++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				want := in.Pixel(k, x, y)
				if x == w-1 || y == h-1 {
					want = interpolation.Background
				}
				assert.Equal(t, want, out.Pixel(k, x, y), "frame %d (%d,%d)", k, x, y)
			}
		}
	}
	assert.Equal(t, int64(frames), e.FramesProcessed())
}

func TestTableCache(t *testing.T) {
	e := New[uint16](nil).WithEnvironment(testEnv)
	cfg := engineConfig(16, 16, Polynomial{1, 1e-4})

	require.NoError(t, e.Setup(cfg))
	table := e.Table()
	in := models.NewFrameStack[uint16](16, 16, 2)
	out := models.NewFrameStack[uint16](16, 16, 2)
	for i := 0; i < 3; i++ {
		require.NoError(t, e.Run(2, in, out))
	}
	require.NoError(t, e.Cleanup())

	// Same key after Cleanup: no rebuild.
	cfg.Threads = 2
	require.NoError(t, e.Setup(cfg))
	require.NoError(t, e.Cleanup())
	assert.Equal(t, 1, e.TableBuilds())
	assert.Same(t, table, e.Table())

	cfg.Width = 12
	require.NoError(t, e.Setup(cfg))
	require.NoError(t, e.Cleanup())
	assert.Equal(t, 2, e.TableBuilds())

	cfg.Coefficients[1] = 2e-4
	require.NoError(t, e.Setup(cfg))
	require.NoError(t, e.Cleanup())
	assert.Equal(t, 3, e.TableBuilds())
}

func TestCropEdges(t *testing.T) {
	const w, h = 10, 10
	cfg := engineConfig(w, h, Identity)
	cfg.CropEdges = 2

	e := New[float32](nil).WithEnvironment(testEnv)
	require.NoError(t, e.Setup(cfg))
	defer func() { require.NoError(t, e.Cleanup()) }()

	in := models.NewFrameStack[float32](w, h, 1)
	for i := range in.Data() {
		in.Data()[i] = 3
	}
	out := models.NewFrameStack[float32](w, h, 1)
	require.NoError(t, e.Run(1, in, out))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			want := float32(3)
			if x < 2 || y < 2 || x >= w-2 || y >= h-2 {
				want = 0
			}
			assert.Equal(t, want, out.Pixel(0, x, y), "(%d,%d)", x, y)
		}
	}
}

func TestRunChecksGeometry(t *testing.T) {
	e := New[uint16](nil).WithEnvironment(testEnv)
	assert.ErrorIs(t, e.Run(1, nil, nil), lifecycle.ErrNotSetup)

	require.NoError(t, e.Setup(engineConfig(4, 4, Identity)))
	defer func() { require.NoError(t, e.Cleanup()) }()

	in := models.NewFrameStack[uint16](5, 4, 1)
	out := models.NewFrameStack[uint16](5, 4, 1)
	assert.Error(t, e.Run(1, in, out))
	assert.Equal(t, lifecycle.Ready, e.State())
}

func TestCenterInDetectorCoordinates(t *testing.T) {
	const w, h = 12, 9
	poly := Polynomial{1, 2e-3}

	plain := New[uint16](nil).WithEnvironment(testEnv)
	ref := engineConfig(w, h, poly)
	ref.CenterX, ref.CenterY = 4, 3
	require.NoError(t, plain.Setup(ref))
	require.NoError(t, plain.Cleanup())

	cropped := New[uint16](nil).WithEnvironment(testEnv)
	cfg := engineConfig(w, h, poly)
	cfg.CropLeft, cfg.CropTop = 100, 50
	cfg.CenterX, cfg.CenterY = 104, 53
	require.NoError(t, cropped.Setup(cfg))
	require.NoError(t, cropped.Cleanup())

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			assert.Equal(t, plain.Table().Entry(x, y), cropped.Table().Entry(x, y), "(%d,%d)", x, y)
		}
	}

	// Moving the crop window moves the center inside it.
	cfg.CropLeft = 101
	require.NoError(t, cropped.Setup(cfg))
	require.NoError(t, cropped.Cleanup())
	assert.Equal(t, 2, cropped.TableBuilds())
}

func TestRunRejectsMissingBuffers(t *testing.T) {
	e := New[uint16](nil).WithEnvironment(testEnv)
	require.NoError(t, e.Setup(engineConfig(4, 4, Identity)))
	defer func() { require.NoError(t, e.Cleanup()) }()

	buf := models.NewFrameStack[uint16](4, 4, 1)
	assert.NotPanics(t, func() {
		assert.Error(t, e.Run(1, nil, buf))
		assert.Error(t, e.Run(1, buf, nil))
	})
	assert.Equal(t, lifecycle.Ready, e.State())
}

func TestSetupFailureIsRetryable(t *testing.T) {
	e := New[uint16](nil).WithEnvironment(testEnv)
	assert.Error(t, e.Setup(engineConfig(0, 4, Identity)))
	assert.Equal(t, lifecycle.Uninitialized, e.State())
	require.NoError(t, e.Setup(engineConfig(4, 4, Identity)))
	require.NoError(t, e.Cleanup())
}

func TestLoadCoefficients(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coefficients.txt")
	content := "xcenter: 1252.18\nycenter: 1008.91\n\n# polynomial\nfactor0: 1.00015\nfactor1: -1.9e-6\nfactor2 = 3.5e-9\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	c, err := LoadCoefficients(path)
	require.NoError(t, err)
	assert.Equal(t, 1252.18, c.CenterX)
	assert.Equal(t, 1008.91, c.CenterY)
	assert.Equal(t, Polynomial{1.00015, -1.9e-6, 3.5e-9, 0, 0}, c.Polynomial)
}

func TestLoadCoefficientsErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadCoefficients(filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)

	short := filepath.Join(dir, "short.txt")
	require.NoError(t, os.WriteFile(short, []byte("1\n2\n"), 0644))
	_, err = LoadCoefficients(short)
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte("1\n2\nfactor0: one\n"), 0644))
	_, err = LoadCoefficients(bad)
	assert.ErrorContains(t, err, "bad.txt:3")
}
