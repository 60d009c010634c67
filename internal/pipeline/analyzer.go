package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/nanotrack/internal/config"
	"github.com/banshee-data/nanotrack/internal/diffusion"
	"github.com/banshee-data/nanotrack/internal/monitoring"
	"github.com/banshee-data/nanotrack/internal/tracks"
	"github.com/banshee-data/nanotrack/internal/units"
)

// Analyzer answers diffusion and size queries over a registry using one
// configuration. It is safe for concurrent use once the frame loop that
// feeds the registry has finished.
type Analyzer struct {
	cfg     *config.TuningConfig
	reg     *tracks.Registry
	primary diffusion.Estimator
	kalman  diffusion.Estimator
	physics diffusion.Physics
	metrics *monitoring.Metrics
}

// NewAnalyzer validates cfg and builds the configured estimator plus the
// Kalman variant. metrics may be nil.
func NewAnalyzer(cfg *config.TuningConfig, reg *tracks.Registry, metrics *monitoring.Metrics) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	primary, err := diffusion.New(cfg.EstimatorConfig(""))
	if err != nil {
		return nil, err
	}
	kalman, err := diffusion.New(cfg.EstimatorConfig(diffusion.KindKalman))
	if err != nil {
		return nil, err
	}
	physics := cfg.Physics()
	if err := physics.Validate(); err != nil {
		return nil, err
	}
	return &Analyzer{cfg: cfg, reg: reg, primary: primary, kalman: kalman, physics: physics, metrics: metrics}, nil
}

// FinishedTracks returns the closed trajectories in closing order.
func (a *Analyzer) FinishedTracks() []*tracks.Track {
	return a.reg.Finished()
}

// Drift returns the ensemble drift over open and finished tracks.
func (a *Analyzer) Drift() tracks.Drift {
	return a.reg.Drift()
}

func (a *Analyzer) estimator(useKalman bool) diffusion.Estimator {
	if useKalman {
		return a.kalman
	}
	return a.primary
}

// EstimateDiffusionCoefficient returns D for t in px²/s. The Kalman
// estimator always smooths with the ensemble drift, so correctDrift only
// selects the drift for the other estimators. The result is cached on the
// track per estimator and drift value until t grows.
func (a *Analyzer) EstimateDiffusionCoefficient(t *tracks.Track, correctDrift, useKalman bool) (float64, error) {
	est := a.estimator(useKalman)
	return a.estimate(t, est, a.driftFor(correctDrift, est))
}

func (a *Analyzer) driftFor(correctDrift bool, est diffusion.Estimator) tracks.Drift {
	if correctDrift || est.Kind() == diffusion.KindKalman {
		return a.reg.Drift()
	}
	return tracks.Drift{}
}

func (a *Analyzer) estimate(t *tracks.Track, est diffusion.Estimator, drift tracks.Drift) (float64, error) {
	key := fmt.Sprintf("%s/drift=%g,%g", est.Kind(), drift.X, drift.Y)
	return t.Memoize(key, func() (float64, error) {
		start := time.Now()
		d, err := est.Estimate(t, drift)
		a.metrics.ObserveEstimate(string(est.Kind()), err, time.Since(start))
		return d, err
	})
}

// DiffusionMicron2 converts D from px²/s to µm²/s with the configured
// calibration.
func (a *Analyzer) DiffusionMicron2(dPx float64) float64 {
	return units.PixelDiffusionToMicron2(dPx, a.cfg.GetNmPerPixel())
}

// Diameter converts D in px²/s to a hydrodynamic diameter in nm.
func (a *Analyzer) Diameter(dPx float64) (float64, error) {
	return a.physics.DiameterNm(a.DiffusionMicron2(dPx))
}

// IsValid reports whether a track with estimate d is long enough, diffuses,
// and moves further than the configured minimum from its first step.
func (a *Analyzer) IsValid(t *tracks.Track, d float64) bool {
	return t.Len() >= a.cfg.GetMinTrackLength() &&
		d > 0 &&
		t.MaxDistanceFromStart() > a.cfg.GetMinMovingDistance()
}

// InHueWindow reports whether the track's median hue lies strictly inside
// the configured window. Without a window every track passes.
func (a *Analyzer) InHueWindow(t *tracks.Track) bool {
	lo, hi, ok := a.cfg.HueWindow()
	if !ok {
		return true
	}
	h := t.MedianHue()
	return h > lo && h < hi
}

// Row is one reported track.
type Row struct {
	TrackID    int
	Steps      int
	StartFrame int
	EndFrame   int
	DPx        float64 // px²/s
	DMicron2   float64 // µm²/s
	DiameterNm float64
	MedianHue  float64
}

// Report is the per-track result table of one analysis.
type Report struct {
	Estimator diffusion.Kind
	Drift     tracks.Drift
	Rows      []Row
	Short     int // finished tracks below the minimum length
	Rejected  int // estimated but failed the validity or hue filter
	Failed    int // estimator returned an error
}

// Report estimates every finished track of at least the minimum length in
// parallel and returns the rows that pass the validity and hue filters, in
// closing order.
func (a *Analyzer) Report(ctx context.Context, useKalman bool) (*Report, error) {
	est := a.estimator(useKalman)
	rep := &Report{Estimator: est.Kind(), Drift: a.driftFor(a.cfg.GetCorrectDrift(), est)}

	var candidates []*tracks.Track
	for _, t := range a.reg.Finished() {
		if t.Len() < a.cfg.GetMinTrackLength() {
			rep.Short++
			continue
		}
		candidates = append(candidates, t)
	}

	results, err := diffusion.EstimateAllFunc(ctx, candidates, a.cfg.GetWorkers(), func(t *tracks.Track) (float64, error) {
		return a.estimate(t, est, rep.Drift)
	})
	if err != nil {
		return nil, err
	}

	for i, r := range results {
		t := candidates[i]
		if r.Err != nil {
			rep.Failed++
			logf("track %d: %v", t.ID, r.Err)
			continue
		}
		if !a.IsValid(t, r.D) || !a.InHueWindow(t) {
			rep.Rejected++
			continue
		}
		diam, err := a.Diameter(r.D)
		if err != nil {
			rep.Failed++
			logf("track %d: %v", t.ID, err)
			continue
		}
		rep.Rows = append(rep.Rows, Row{
			TrackID:    t.ID,
			Steps:      t.Len(),
			StartFrame: t.StartFrame,
			EndFrame:   t.EndFrame,
			DPx:        r.D,
			DMicron2:   a.DiffusionMicron2(r.D),
			DiameterNm: diam,
			MedianHue:  t.MedianHue(),
		})
	}
	return rep, nil
}

// Quantity selects what a histogram bins.
type Quantity string

const (
	QuantityDiameter  Quantity = "diameter"  // nm
	QuantityDiffusion Quantity = "diffusion" // 1e-10 cm²/s
)

// DefaultBinSize returns the customary bin width for q.
func DefaultBinSize(q Quantity) float64 {
	if q == QuantityDiffusion {
		return 10
	}
	return 4
}

// Histogram bins the report rows by q, weighting each track by its length.
func (rep *Report) Histogram(q Quantity, binSize float64) ([]diffusion.Bin, error) {
	values := make([]float64, 0, len(rep.Rows))
	weights := make([]float64, 0, len(rep.Rows))
	for _, r := range rep.Rows {
		switch q {
		case QuantityDiameter:
			values = append(values, r.DiameterNm)
		case QuantityDiffusion:
			values = append(values, units.ConvertDiffusion(r.DMicron2, units.CM2E10PerSec))
		default:
			return nil, fmt.Errorf("%w: unknown quantity %q", diffusion.ErrInvalidHistogram, q)
		}
		weights = append(weights, float64(r.Steps))
	}
	return diffusion.Histogram(values, weights, binSize)
}
