package diffusion

import (
	"fmt"
	"math"

	"github.com/banshee-data/nanotrack/internal/tracks"
)

// Covariance is the covariance-based diffusion estimator described in
// Vestergaard, Blainey & Flyvbjerg, "Optimal estimation of diffusion
// coefficients from single-particle trajectories", Phys. Rev. E 89 (2014).
// Using the lag-one covariance of successive displacements cancels the
// localization-noise bias carried by MSD/4t.
type Covariance struct {
	FrameRate float64
}

var _ Estimator = (*Covariance)(nil)

// NewCovariance returns a covariance estimator for the given frame rate.
func NewCovariance(frameRate float64) (*Covariance, error) {
	if err := validateFrameRate(frameRate); err != nil {
		return nil, err
	}
	return &Covariance{FrameRate: frameRate}, nil
}

func (c *Covariance) Kind() Kind { return KindCovariance }

// displacementStats holds per-axis moments of drift-corrected displacements
// Δx[n] = x[n] - x[n-1] + drift.X.
type displacementStats struct {
	meanSqX, meanSqY float64 // avg Δ[n]·Δ[n]
	covX, covY       float64 // avg Δ[n]·Δ[n+1]
}

// stats requires at least three steps so that one consecutive pair of
// displacements exists.
func (c *Covariance) stats(t *tracks.Track, drift tracks.Drift) (displacementStats, error) {
	var s displacementStats
	n := t.Len()
	if n < 3 {
		return s, fmt.Errorf("%w: covariance needs 3 steps, have %d", ErrTrackTooShort, n)
	}

	dx := make([]float64, n-1)
	dy := make([]float64, n-1)
	for i := 1; i < n; i++ {
		a, b := t.Step(i-1), t.Step(i)
		dx[i-1] = b.X - a.X + drift.X
		dy[i-1] = b.Y - a.Y + drift.Y
	}

	for i := range dx {
		s.meanSqX += dx[i] * dx[i]
		s.meanSqY += dy[i] * dy[i]
		if i+1 < len(dx) {
			s.covX += dx[i] * dx[i+1]
			s.covY += dy[i] * dy[i+1]
		}
	}
	steps := float64(len(dx))
	pairs := float64(len(dx) - 1)
	s.meanSqX /= steps
	s.meanSqY /= steps
	s.covX /= pairs
	s.covY /= pairs
	return s, nil
}

// Estimate returns D = ((⟨Δx²⟩/2 + ⟨ΔxΔx'⟩) + (⟨Δy²⟩/2 + ⟨ΔyΔy'⟩)) / 2 · fps.
// Tracks with two steps have no displacement pair and return
// ErrTrackTooShort.
func (c *Covariance) Estimate(t *tracks.Track, drift tracks.Drift) (float64, error) {
	if t.Len() <= 1 {
		return 0, nil
	}
	s, err := c.stats(t, drift)
	if err != nil {
		return 0, err
	}
	dX := s.meanSqX/2 + s.covX
	dY := s.meanSqY/2 + s.covY
	return (dX + dY) / 2 * c.FrameRate, nil
}

// LocalizationNoise returns the per-axis localization variance (px²)
// σ² = |R·⟨Δ²⟩ + (2R−1)·⟨ΔΔ'⟩| for motion-blur coefficient R.
func (c *Covariance) LocalizationNoise(t *tracks.Track, r float64, drift tracks.Drift) (noiseX, noiseY float64, err error) {
	s, err := c.stats(t, drift)
	if err != nil {
		return 0, 0, err
	}
	noiseX = math.Abs(r*s.meanSqX + (2*r-1)*s.covX)
	noiseY = math.Abs(r*s.meanSqY + (2*r-1)*s.covY)
	return noiseX, noiseY, nil
}
