package diffusion

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/nanotrack/internal/tracks"
)

// Regression fits MSD(τ) = 4·D·t + c by ordinary least squares over the
// configured lags, with t = τ / frame rate, and returns D = slope / 4.
type Regression struct {
	FrameRate float64
	Lags      []int
}

var _ Estimator = (*Regression)(nil)

// NewRegression returns a regression estimator over the lags minLag..maxLag.
func NewRegression(frameRate float64, minLag, maxLag int) (*Regression, error) {
	if err := validateFrameRate(frameRate); err != nil {
		return nil, err
	}
	if minLag < 1 || maxLag < minLag {
		return nil, fmt.Errorf("%w: lag range [%d, %d]", ErrInvalidEstimatorConfig, minLag, maxLag)
	}
	lags := make([]int, 0, maxLag-minLag+1)
	for l := minLag; l <= maxLag; l++ {
		lags = append(lags, l)
	}
	return &Regression{FrameRate: frameRate, Lags: lags}, nil
}

func (r *Regression) Kind() Kind { return KindRegression }

// Estimate computes the MSD of t at every configured lag shorter than the
// track and fits the line. Lags that do not fit inside the track are
// skipped.
func (r *Regression) Estimate(t *tracks.Track, drift tracks.Drift) (float64, error) {
	if t.Len() <= 1 {
		return 0, nil
	}
	lags := make([]int, 0, len(r.Lags))
	msd := make([]float64, 0, len(r.Lags))
	for _, lag := range r.Lags {
		m, err := t.MeanSquareDisplacement(drift, lag)
		if errors.Is(err, tracks.ErrLagExceedsTrack) {
			continue
		}
		if err != nil {
			return 0, err
		}
		lags = append(lags, lag)
		msd = append(msd, m)
	}
	if len(lags) == 0 {
		return 0, fmt.Errorf("%w: %d steps, lags %v", ErrNoUsableLags, t.Len(), r.Lags)
	}
	return r.fit(lags, msd), nil
}

// FromMSD fits precomputed MSD values, one per configured lag.
func (r *Regression) FromMSD(msd []float64) (float64, error) {
	if len(msd) != len(r.Lags) {
		return 0, fmt.Errorf("%w: %d MSD values for %d lags", ErrNoUsableLags, len(msd), len(r.Lags))
	}
	return r.fit(r.Lags, msd), nil
}

// fit regresses msd on lag time. A single point is anchored at the origin
// so the line is defined.
func (r *Regression) fit(lags []int, msd []float64) float64 {
	xs := make([]float64, 0, len(lags)+1)
	ys := make([]float64, 0, len(lags)+1)
	if len(lags) == 1 {
		xs = append(xs, 0)
		ys = append(ys, 0)
	}
	for i, lag := range lags {
		xs = append(xs, float64(lag)/r.FrameRate)
		ys = append(ys, msd[i])
	}
	_, slope := stat.LinearRegression(xs, ys, nil, false)
	return slope / 4
}
