package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/banshee-data/nanotrack/internal/monitoring"
	"github.com/banshee-data/nanotrack/internal/tracks"
)

var logf = monitoring.Component("pipeline")

// Options tunes Run. The zero value runs silently without metrics.
type Options struct {
	// ProgressEvery logs a progress line every N frames; 0 disables it.
	ProgressEvery int
	// OnFrame is called after each associated frame.
	OnFrame func(tracks.FrameStats)
	Metrics *monitoring.Metrics
}

// Summary totals a Run.
type Summary struct {
	Frames        int
	Detections    int
	Started       int
	Finished      int
	Dropped       int
	Ambiguous     int
	SkippedFrames int
}

func (s *Summary) add(fs tracks.FrameStats) {
	s.Frames++
	s.Detections += fs.Detections
	s.Started += fs.Started
	s.Finished += fs.Finished
	s.Dropped += fs.Dropped
	s.Ambiguous += fs.AmbiguousDetections
}

// Run feeds every frame from src through assoc into reg and closes the
// remaining open tracks when src is exhausted. The context is checked
// between frames only, so a cancelled run leaves reg consistent as of the
// last completed frame, with its open tracks still open.
//
// A frame the associator rejects is logged and skipped. Source errors
// other than io.EOF abort the run.
func Run(ctx context.Context, src FrameSource, reg *tracks.Registry, assoc tracks.Associator, opts Options) (Summary, error) {
	var sum Summary
	for {
		if err := ctx.Err(); err != nil {
			logf("cancelled after %d frames", sum.Frames)
			return sum, err
		}
		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sum, fmt.Errorf("reading frame %d: %w", sum.Frames+sum.SkippedFrames+1, err)
		}

		stats, err := assoc.Update(reg, frame)
		if err != nil {
			sum.SkippedFrames++
			logf("skipping frame %d: %v", frame.Index, err)
			continue
		}
		sum.add(stats)
		opts.Metrics.ObserveFrame(stats)
		if opts.OnFrame != nil {
			opts.OnFrame(stats)
		}
		if opts.ProgressEvery > 0 && sum.Frames%opts.ProgressEvery == 0 {
			open, finished := reg.Counts()
			logf("frame %d: %d open, %d finished tracks", frame.Index, open, finished)
		}
	}

	closed := assoc.Finish(reg)
	sum.Finished += closed
	opts.Metrics.ObserveFinish(closed)
	logf("processed %d frames (%d skipped), %d detections, %d tracks", sum.Frames, sum.SkippedFrames, sum.Detections, sum.Started)
	return sum, nil
}
