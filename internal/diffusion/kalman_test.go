package diffusion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/nanotrack/internal/testutil"
	"github.com/banshee-data/nanotrack/internal/tracks"
)

func TestKalmanCovariance_ConstantVelocityIsStationary(t *testing.T) {
	t.Parallel()
	k, err := NewKalmanCovariance(30, 0)
	require.NoError(t, err)

	tr := tracks.NewTrack(1, 1)
	for i := 0; i < 8; i++ {
		tr.Append(tracks.NewDetection(10+float64(i), 5-0.5*float64(i), i+1))
	}
	drift := tracks.Drift{X: -1, Y: 0.5, Samples: 7}

	smoothed, err := k.Smooth(tr, drift)
	require.NoError(t, err)
	require.Equal(t, tr.Len(), smoothed.Len())
	for i, s := range smoothed.Steps() {
		assert.InDelta(t, 10.0, s.X, 1e-9, "step %d", i)
		assert.InDelta(t, 5.0, s.Y, 1e-9, "step %d", i)
		assert.Equal(t, i+1, s.Frame)
	}

	d, err := k.Estimate(tr, drift)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, d, 1e-9)
}

func TestKalmanCovariance_SmoothLeavesInputUntouched(t *testing.T) {
	t.Parallel()
	k, err := NewKalmanCovariance(30, DefaultMotionBlur)
	require.NoError(t, err)
	tr := testutil.RandomWalk(testutil.WalkParams{Steps: 20, D: 10, FrameRate: 30, Noise: 0.5, Seed: 3})
	before := positions(tr)

	smoothed, err := k.Smooth(tr, tracks.Drift{})
	require.NoError(t, err)
	assert.Equal(t, before, positions(tr))
	assert.Equal(t, tr.ID, smoothed.ID)
	assert.Equal(t, before[0], positions(smoothed)[0])

	_, err = k.Smooth(trackFrom(0, 1), tracks.Drift{})
	assert.ErrorIs(t, err, ErrTrackTooShort)
}

func positions(t *tracks.Track) []tracks.Point {
	out := make([]tracks.Point, 0, t.Len())
	for _, s := range t.Steps() {
		out = append(out, tracks.Point{X: s.X, Y: s.Y})
	}
	return out
}

func TestKalmanCovariance_ReducesNoiseBias(t *testing.T) {
	t.Parallel()
	const trueD, fps = 30.0, 30.0
	walks := testutil.RandomWalks(400, testutil.WalkParams{
		Steps: 100, D: trueD, FrameRate: fps, Noise: 1, Seed: 500,
	})

	k, err := NewKalmanCovariance(fps, 0)
	require.NoError(t, err)
	naive, err := NewRegression(fps, 1, 1)
	require.NoError(t, err)

	kalmanMean := ensembleMean(t, k, walks)
	naiveMean := ensembleMean(t, naive, walks)

	assert.Greater(t, kalmanMean, 0.0)
	assert.Less(t, math.Abs(kalmanMean-trueD), math.Abs(naiveMean-trueD))
	assert.InEpsilon(t, trueD, kalmanMean, 0.3)
}
