package diffusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/nanotrack/internal/tracks"
)

func trackFrom(xs ...float64) *tracks.Track {
	t := tracks.NewTrack(1, 1)
	for i, x := range xs {
		t.Append(tracks.NewDetection(x, 0, i+1))
	}
	return t
}

func TestNew(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		cfg      Config
		wantKind Kind
		wantErr  bool
	}{
		{"regression", Config{Kind: KindRegression, FrameRate: 30, MinLag: 1, MaxLag: 2}, KindRegression, false},
		{"covariance", Config{Kind: KindCovariance, FrameRate: 30}, KindCovariance, false},
		{"kalman", Config{Kind: KindKalman, FrameRate: 30, MotionBlur: DefaultMotionBlur}, KindKalman, false},
		{"none selected", Config{FrameRate: 30}, "", true},
		{"unknown", Config{Kind: "mle", FrameRate: 30}, "", true},
		{"zero frame rate", Config{Kind: KindCovariance}, "", true},
		{"inverted lags", Config{Kind: KindRegression, FrameRate: 30, MinLag: 3, MaxLag: 2}, "", true},
		{"lag zero", Config{Kind: KindRegression, FrameRate: 30, MinLag: 0, MaxLag: 2}, "", true},
		{"blur too large", Config{Kind: KindKalman, FrameRate: 30, MotionBlur: 0.5}, "", true},
		{"negative blur", Config{Kind: KindKalman, FrameRate: 30, MotionBlur: -0.1}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est, err := New(tt.cfg)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidEstimatorConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, est.Kind())
		})
	}
}

func TestEstimators_SingleStepIsZero(t *testing.T) {
	t.Parallel()
	single := trackFrom(3)
	for _, cfg := range []Config{
		{Kind: KindRegression, FrameRate: 30, MinLag: 1, MaxLag: 2},
		{Kind: KindCovariance, FrameRate: 30},
		{Kind: KindKalman, FrameRate: 30},
	} {
		est, err := New(cfg)
		require.NoError(t, err)
		d, err := est.Estimate(single, tracks.Drift{X: 1, Y: 1, Samples: 10})
		require.NoError(t, err, cfg.Kind)
		assert.Zero(t, d, cfg.Kind)
	}
}
