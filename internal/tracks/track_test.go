package tracks

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trackFrom(positions ...[2]float64) *Track {
	t := NewTrack(1, 1)
	for i, p := range positions {
		t.Append(NewDetection(p[0], p[1], i+1))
	}
	return t
}

func TestTrack_AppendMovesEndFrame(t *testing.T) {
	t.Parallel()
	tr := NewTrack(7, 3)
	tr.Append(NewDetection(0, 0, 3))
	tr.Append(NewDetection(1, 0, 4))
	tr.Append(NewDetection(2, 0, 9))

	assert.Equal(t, 3, tr.StartFrame)
	assert.Equal(t, 9, tr.EndFrame)
	assert.Equal(t, 3, tr.Len())
	assert.Equal(t, 2.0, tr.Last().X)
}

func TestTrack_MeanSquareDisplacement(t *testing.T) {
	t.Parallel()

	t.Run("single step is zero for any lag", func(t *testing.T) {
		t.Parallel()
		tr := trackFrom([2]float64{4, 4})
		for _, lag := range []int{0, 1, 5} {
			msd, err := tr.MeanSquareDisplacement(Drift{X: 1, Y: 1}, lag)
			require.NoError(t, err)
			assert.Zero(t, msd)
		}
	})

	t.Run("linear motion", func(t *testing.T) {
		t.Parallel()
		tr := trackFrom([2]float64{0, 0}, [2]float64{1, 0}, [2]float64{2, 0}, [2]float64{3, 0})
		msd, err := tr.MeanSquareDisplacement(Drift{}, 1)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, msd, 1e-12)

		msd, err = tr.MeanSquareDisplacement(Drift{}, 2)
		require.NoError(t, err)
		assert.InDelta(t, 4.0, msd, 1e-12)
	})

	t.Run("drift correction removes linear motion", func(t *testing.T) {
		t.Parallel()
		tr := trackFrom([2]float64{0, 0}, [2]float64{1, 2}, [2]float64{2, 4}, [2]float64{3, 6})
		for lag := 1; lag < tr.Len(); lag++ {
			msd, err := tr.MeanSquareDisplacement(Drift{X: -1, Y: -2}, lag)
			require.NoError(t, err)
			assert.InDelta(t, 0.0, msd, 1e-12, "lag %d", lag)
		}
	})

	t.Run("stationary particle is zero", func(t *testing.T) {
		t.Parallel()
		tr := trackFrom([2]float64{5, 5}, [2]float64{5, 5}, [2]float64{5, 5}, [2]float64{5, 5})
		for lag := 1; lag < tr.Len(); lag++ {
			msd, err := tr.MeanSquareDisplacement(Drift{}, lag)
			require.NoError(t, err)
			assert.Zero(t, msd)
		}
	})

	t.Run("never negative", func(t *testing.T) {
		t.Parallel()
		tr := trackFrom([2]float64{0, 0}, [2]float64{3, -1}, [2]float64{-2, 4}, [2]float64{1, 1}, [2]float64{7, -3})
		for lag := 1; lag < tr.Len(); lag++ {
			msd, err := tr.MeanSquareDisplacement(Drift{X: 0.3, Y: -0.7}, lag)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, msd, 0.0)
		}
	})

	t.Run("degenerate lags", func(t *testing.T) {
		t.Parallel()
		tr := trackFrom([2]float64{0, 0}, [2]float64{1, 1}, [2]float64{2, 2})
		_, err := tr.MeanSquareDisplacement(Drift{}, 0)
		assert.ErrorIs(t, err, ErrInvalidLag)
		_, err = tr.MeanSquareDisplacement(Drift{}, 3)
		assert.ErrorIs(t, err, ErrLagExceedsTrack)
	})
}

func TestTrack_MeanSquareDisplacementSD(t *testing.T) {
	t.Parallel()
	// Squared displacements at lag 1: 1, 4, 9.
	tr := trackFrom([2]float64{0, 0}, [2]float64{1, 0}, [2]float64{3, 0}, [2]float64{6, 0})
	sd, n, err := tr.MeanSquareDisplacementSD(Drift{}, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.InDelta(t, math.Sqrt(49.0/3.0), sd, 1e-12)

	sd, n, err = tr.MeanSquareDisplacementSD(Drift{}, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, sd)
}

func TestTrack_Distances(t *testing.T) {
	t.Parallel()
	tr := trackFrom([2]float64{0, 0}, [2]float64{2, 1}, [2]float64{-1, 3}, [2]float64{0, 1})
	assert.Equal(t, 4.0, tr.MaxDistanceFromStart())
	assert.Equal(t, 3.0+5.0+3.0, tr.SumOfAbsoluteDisplacements())

	assert.Zero(t, trackFrom([2]float64{1, 1}).MaxDistanceFromStart())
}

func TestTrack_Polyline(t *testing.T) {
	t.Parallel()
	tr := NewTrack(1, 2)
	tr.Append(NewDetection(1, 1, 2))
	tr.Append(NewDetection(2, 2, 3))
	tr.Append(NewDetection(3, 3, 4))

	assert.Equal(t, []Point{{1, 1}, {2, 2}}, tr.Polyline(4))
	assert.Len(t, tr.Polyline(0), 3)
	assert.Empty(t, tr.Polyline(2))
}

func TestTrack_MedianHue(t *testing.T) {
	t.Parallel()
	tr := NewTrack(1, 1)
	assert.True(t, math.IsNaN(tr.MedianHue()))

	for i, h := range []float64{30, math.NaN(), 10, 20, 50} {
		d := NewDetection(0, 0, i+1)
		d.Hue = h
		tr.Append(d)
	}
	assert.Equal(t, 25.0, tr.MedianHue())
}

func TestTrack_MemoizeKeyedOnStepCount(t *testing.T) {
	t.Parallel()
	tr := trackFrom([2]float64{0, 0}, [2]float64{1, 1})
	calls := 0
	compute := func() (float64, error) {
		calls++
		return float64(tr.Len()), nil
	}

	v, err := tr.Memoize("d", compute)
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)
	v, _ = tr.Memoize("d", compute)
	assert.Equal(t, 2.0, v)
	assert.Equal(t, 1, calls)

	tr.Append(NewDetection(2, 2, 3))
	v, _ = tr.Memoize("d", compute)
	assert.Equal(t, 3.0, v)
	assert.Equal(t, 2, calls)

	_, _ = tr.Memoize("other", compute)
	assert.Equal(t, 3, calls)
}
