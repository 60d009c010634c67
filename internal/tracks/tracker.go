package tracks

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTrackerConfig is returned by TrackerConfig.Validate.
	ErrInvalidTrackerConfig = errors.New("tracks: invalid tracker config")
	// ErrFrameOrder is returned when frames are not delivered in increasing order.
	ErrFrameOrder = errors.New("tracks: frames out of order")
)

// AmbiguityPolicy decides what happens to a detection that could not be
// linked because its candidate set, or its candidate track's, was not a
// one-to-one match.
type AmbiguityPolicy string

const (
	// AmbiguityStartNew starts a fresh track at every unlinked detection.
	AmbiguityStartNew AmbiguityPolicy = "start_new"
	// AmbiguityDrop discards ambiguous detections; only detections with no
	// candidate track at all start new tracks.
	AmbiguityDrop AmbiguityPolicy = "drop"
)

// TrackerConfig holds the data associator parameters.
type TrackerConfig struct {
	SearchRadius    float64         // gating radius in pixels, strict (<)
	Policy          AmbiguityPolicy // defaults to AmbiguityStartNew
	UseSpatialIndex bool            // grid acceleration; same output as brute force
}

// DefaultTrackerConfig returns the associator defaults.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		SearchRadius: 15,
		Policy:       AmbiguityStartNew,
	}
}

// Validate checks the configuration before any frame is processed.
func (c TrackerConfig) Validate() error {
	if !(c.SearchRadius > 0) {
		return fmt.Errorf("%w: search radius must be > 0, got %v", ErrInvalidTrackerConfig, c.SearchRadius)
	}
	switch c.Policy {
	case "", AmbiguityStartNew, AmbiguityDrop:
	default:
		return fmt.Errorf("%w: unknown ambiguity policy %q", ErrInvalidTrackerConfig, c.Policy)
	}
	return nil
}

// FrameStats summarises one association pass.
type FrameStats struct {
	Frame               int
	Detections          int
	Extended            int // detections appended to open tracks
	Started             int // new tracks
	Dropped             int // ambiguous detections discarded under AmbiguityDrop
	AmbiguousDetections int // detections with more than one candidate track
	AmbiguousTracks     int // tracks with more than one candidate detection
	Finished            int // tracks closed at the end of the pass
}

// Associator links one frame of detections into a registry and closes the
// remaining open tracks at the end of a stack.
type Associator interface {
	Update(reg *Registry, frame Frame) (FrameStats, error)
	Finish(reg *Registry) int
}

var _ Associator = (*Tracker)(nil)

// Tracker is the gating data associator. A detection extends a track only
// when each is the other's sole candidate within the search radius;
// ambiguity is resolved by rejection, never by nearest distance.
type Tracker struct {
	Config TrackerConfig

	lastFrame int
	index     *SpatialIndex
}

// NewTracker validates cfg and returns a tracker.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Policy == "" {
		cfg.Policy = AmbiguityStartNew
	}
	t := &Tracker{Config: cfg}
	if cfg.UseSpatialIndex {
		t.index = NewSpatialIndex(cfg.SearchRadius)
	}
	return t, nil
}

// Update processes one frame. Frame 1 resets the registry. Frames must
// arrive in increasing order; an out-of-order frame is rejected before the
// registry is touched.
func (t *Tracker) Update(reg *Registry, frame Frame) (FrameStats, error) {
	stats := FrameStats{Frame: frame.Index, Detections: len(frame.Detections)}

	if frame.Index == 1 {
		reg.Reset()
		t.lastFrame = 0
	} else if frame.Index <= t.lastFrame {
		return stats, fmt.Errorf("%w: frame %d after %d", ErrFrameOrder, frame.Index, t.lastFrame)
	}
	t.lastFrame = frame.Index

	open := reg.Open()
	trackCands, detCands := t.candidates(open, frame.Detections)

	for _, c := range trackCands {
		if len(c) > 1 {
			stats.AmbiguousTracks++
		}
	}

	// Assign detections in input order.
	for j, d := range frame.Detections {
		d.Frame = frame.Index
		cands := detCands[j]
		switch {
		case len(cands) == 0:
			reg.CreateAndOpen(frame.Index).Append(d)
			stats.Started++
		case len(cands) == 1 && len(trackCands[cands[0]]) == 1:
			open[cands[0]].Append(d)
			stats.Extended++
		default:
			if len(cands) > 1 {
				stats.AmbiguousDetections++
			}
			if t.Config.Policy == AmbiguityDrop {
				stats.Dropped++
				continue
			}
			reg.CreateAndOpen(frame.Index).Append(d)
			stats.Started++
		}
	}

	// Tracks that received nothing this frame are finished.
	stats.Finished = reg.closeStale(frame.Index)
	return stats, nil
}

// Finish closes every open track after the last frame of a stack.
func (t *Tracker) Finish(reg *Registry) int {
	return reg.CloseAll()
}

// candidates returns, for every open track, the detections within the
// search radius of its last step, and for every detection, the tracks
// whose last step is within the radius. Both lists are in ascending index
// order regardless of the search strategy.
func (t *Tracker) candidates(open []*Track, dets []Detection) (trackCands, detCands [][]int) {
	trackCands = make([][]int, len(open))
	detCands = make([][]int, len(dets))
	radius := t.Config.SearchRadius

	if t.index != nil {
		t.index.Build(dets)
	}
	for i, tr := range open {
		tip := tr.Last().Detection
		var near []int
		if t.index != nil {
			near = t.index.Within(dets, tip.X, tip.Y, radius)
		} else {
			for j, d := range dets {
				if tip.distanceTo(d) < radius {
					near = append(near, j)
				}
			}
		}
		trackCands[i] = near
		for _, j := range near {
			detCands[j] = append(detCands[j], i)
		}
	}
	return trackCands, detCands
}
