package diffusion

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/nanotrack/internal/tracks"
)

// Result is the estimate for one track. Err carries per-track degenerate
// statistics and does not abort the batch.
type Result struct {
	TrackID int
	D       float64 // px²/s
	Err     error
}

// EstimateFunc estimates one track.
type EstimateFunc func(t *tracks.Track) (float64, error)

// EstimateAll runs est over every track with up to workers goroutines
// (GOMAXPROCS when workers ≤ 0). Results are in input order. The drift is
// shared read-only. Only context cancellation fails the batch.
func EstimateAll(ctx context.Context, est Estimator, trks []*tracks.Track, drift tracks.Drift, workers int) ([]Result, error) {
	return EstimateAllFunc(ctx, trks, workers, func(t *tracks.Track) (float64, error) {
		return est.Estimate(t, drift)
	})
}

// EstimateAllFunc is EstimateAll with an arbitrary per-track function.
func EstimateAllFunc(ctx context.Context, trks []*tracks.Track, workers int, fn EstimateFunc) ([]Result, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	results := make([]Result, len(trks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, t := range trks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			d, err := fn(t)
			results[i] = Result{TrackID: t.ID, D: d, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
