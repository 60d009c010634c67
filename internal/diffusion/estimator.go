package diffusion

import (
	"errors"
	"fmt"

	"github.com/banshee-data/nanotrack/internal/tracks"
)

var (
	// ErrTrackTooShort is returned when a track has too few steps for the
	// statistics an estimator needs (single-step tracks return 0 instead).
	ErrTrackTooShort = errors.New("diffusion: track too short")
	// ErrNoUsableLags is returned when no configured lag fits inside a track.
	ErrNoUsableLags = errors.New("diffusion: no usable time lags")
	// ErrInvalidEstimatorConfig wraps estimator configuration problems.
	ErrInvalidEstimatorConfig = errors.New("diffusion: invalid estimator config")
)

// Kind names an estimator variant.
type Kind string

const (
	KindRegression Kind = "regression"
	KindCovariance Kind = "covariance"
	KindKalman     Kind = "kalman"
)

// Estimator turns one trajectory and the ensemble drift into a diffusion
// coefficient in px²/s at the estimator's frame rate. A single-step track
// yields 0.
type Estimator interface {
	Kind() Kind
	Estimate(t *tracks.Track, drift tracks.Drift) (float64, error)
}

// Config selects and parameterises an estimator.
type Config struct {
	Kind       Kind
	FrameRate  float64 // frames per second
	MinLag     int     // regression only
	MaxLag     int     // regression only
	MotionBlur float64 // Kalman only: R, 1/6 for full-frame exposure, 0 for instantaneous
}

// New builds the estimator described by cfg.
func New(cfg Config) (Estimator, error) {
	switch cfg.Kind {
	case KindRegression:
		return NewRegression(cfg.FrameRate, cfg.MinLag, cfg.MaxLag)
	case KindCovariance:
		return NewCovariance(cfg.FrameRate)
	case KindKalman:
		return NewKalmanCovariance(cfg.FrameRate, cfg.MotionBlur)
	case "":
		return nil, fmt.Errorf("%w: no estimator selected", ErrInvalidEstimatorConfig)
	default:
		return nil, fmt.Errorf("%w: unknown estimator %q", ErrInvalidEstimatorConfig, cfg.Kind)
	}
}

func validateFrameRate(fps float64) error {
	if !(fps > 0) {
		return fmt.Errorf("%w: frame rate must be > 0, got %v", ErrInvalidEstimatorConfig, fps)
	}
	return nil
}
