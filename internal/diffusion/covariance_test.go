package diffusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/nanotrack/internal/testutil"
	"github.com/banshee-data/nanotrack/internal/tracks"
)

func TestCovariance_Estimate(t *testing.T) {
	t.Parallel()
	c, err := NewCovariance(1)
	require.NoError(t, err)

	// Δx = 1, 2, 3: ⟨Δx²⟩ = 14/3, ⟨ΔxΔx'⟩ = 4.
	d, err := c.Estimate(trackFrom(0, 1, 3, 6), tracks.Drift{})
	require.NoError(t, err)
	assert.InDelta(t, (14.0/6+4)/2, d, 1e-12)

	_, err = c.Estimate(trackFrom(0, 1), tracks.Drift{})
	assert.ErrorIs(t, err, ErrTrackTooShort)
}

func TestCovariance_LocalizationNoise(t *testing.T) {
	t.Parallel()
	c, err := NewCovariance(1)
	require.NoError(t, err)
	tr := trackFrom(0, 1, 3, 6)

	nx, ny, err := c.LocalizationNoise(tr, 0, tracks.Drift{})
	require.NoError(t, err)
	assert.InDelta(t, 4.0, nx, 1e-12)
	assert.Zero(t, ny)

	nx, _, err = c.LocalizationNoise(tr, DefaultMotionBlur, tracks.Drift{})
	require.NoError(t, err)
	assert.InDelta(t, 17.0/9, nx, 1e-12)

	_, _, err = c.LocalizationNoise(trackFrom(0, 1), 0, tracks.Drift{})
	assert.ErrorIs(t, err, ErrTrackTooShort)
}

func ensembleMean(t *testing.T, est Estimator, walks []*tracks.Track) float64 {
	t.Helper()
	ds := make([]float64, 0, len(walks))
	for _, w := range walks {
		d, err := est.Estimate(w, tracks.Drift{})
		require.NoError(t, err)
		ds = append(ds, d)
	}
	return stat.Mean(ds, nil)
}

func TestCovariance_UnbiasedUnderLocalizationNoise(t *testing.T) {
	t.Parallel()
	const trueD, fps = 30.0, 30.0
	walks := testutil.RandomWalks(1000, testutil.WalkParams{
		Steps: 100, D: trueD, FrameRate: fps, Noise: 1, Seed: 11,
	})

	cov, err := NewCovariance(fps)
	require.NoError(t, err)
	naive, err := NewRegression(fps, 1, 1)
	require.NoError(t, err)

	covMean := ensembleMean(t, cov, walks)
	naiveMean := ensembleMean(t, naive, walks)

	assert.InEpsilon(t, trueD, covMean, 0.05)
	// MSD(1)/4Δt carries 2σ²·fps/2 of noise bias per axis.
	assert.Greater(t, naiveMean, 1.5*trueD)
}
