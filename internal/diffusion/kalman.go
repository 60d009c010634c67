package diffusion

import (
	"fmt"

	"github.com/banshee-data/nanotrack/internal/tracks"
)

// DefaultMotionBlur is R for a camera that integrates over the whole frame.
const DefaultMotionBlur = 1.0 / 6

// KalmanCovariance smooths a trajectory with a per-axis scalar Kalman
// filter and runs the covariance estimator on the smoothed positions.
//
// The filter's process and observation variances come from a plain
// covariance estimate on the raw track, so the raw estimate bootstraps the
// smoothing.
type KalmanCovariance struct {
	MotionBlur float64
	cov        *Covariance
}

var _ Estimator = (*KalmanCovariance)(nil)

// NewKalmanCovariance returns a Kalman-smoothed covariance estimator with
// motion-blur coefficient r in [0, 1/6].
func NewKalmanCovariance(frameRate, r float64) (*KalmanCovariance, error) {
	cov, err := NewCovariance(frameRate)
	if err != nil {
		return nil, err
	}
	if r < 0 || r > DefaultMotionBlur+1e-12 {
		return nil, fmt.Errorf("%w: motion blur R must be in [0, 1/6], got %v", ErrInvalidEstimatorConfig, r)
	}
	return &KalmanCovariance{MotionBlur: r, cov: cov}, nil
}

func (k *KalmanCovariance) Kind() Kind { return KindKalman }

// Estimate smooths t and estimates D on the smoothed track with zero drift,
// since the filter already removes it.
func (k *KalmanCovariance) Estimate(t *tracks.Track, drift tracks.Drift) (float64, error) {
	if t.Len() <= 1 {
		return 0, nil
	}
	smoothed, err := k.Smooth(t, drift)
	if err != nil {
		return 0, err
	}
	return k.cov.Estimate(smoothed, tracks.Drift{})
}

// axisFilter is a scalar Kalman filter on one coordinate.
type axisFilter struct {
	x        float64 // posterior state
	mse      float64 // posterior mean squared error
	process  float64 // process variance per frame
	observed float64 // observation variance
	velocity float64 // deterministic motion per frame
}

func (f *axisFilter) step(z float64) float64 {
	// Predict
	prior := f.x + f.velocity
	priorMSE := f.mse + f.process

	// Update
	gain := 1.0
	if s := priorMSE + f.observed; s > 0 {
		gain = priorMSE / s
	}
	f.x = prior + gain*(z-prior)
	f.mse = (1 - gain) * priorMSE
	return f.x
}

// Smooth returns the forward-filtered copy of t with the ensemble drift
// removed. Process variance is 2·D·Δt from the raw covariance estimate,
// observation variance and the initial posterior MSE are the localization
// noise, and the first raw position seeds the state.
func (k *KalmanCovariance) Smooth(t *tracks.Track, drift tracks.Drift) (*tracks.Track, error) {
	noiseX, noiseY, err := k.cov.LocalizationNoise(t, k.MotionBlur, drift)
	if err != nil {
		return nil, err
	}
	d, err := k.cov.Estimate(t, drift)
	if err != nil {
		return nil, err
	}
	process := 2 * d / k.cov.FrameRate
	if process < 0 {
		process = 0
	}

	first := t.Step(0)
	// Drift uses the previous-minus-current convention, so the particle's
	// deterministic motion per frame is its negation.
	fx := axisFilter{x: first.X, mse: noiseX, process: process, observed: noiseX, velocity: -drift.X}
	fy := axisFilter{x: first.Y, mse: noiseY, process: process, observed: noiseY, velocity: -drift.Y}

	out := tracks.NewTrack(t.ID, t.StartFrame)
	out.Append(first.Detection)
	for i := 1; i < t.Len(); i++ {
		s := t.Step(i)
		x := fx.step(s.X)
		y := fy.step(s.Y)

		smoothed := s.Detection
		smoothed.X = x + float64(i)*drift.X
		smoothed.Y = y + float64(i)*drift.Y
		out.Append(smoothed)
	}
	return out, nil
}
