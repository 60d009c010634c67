package tracks

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"
)

var (
	// ErrInvalidLag is returned for a time lag below 1.
	ErrInvalidLag = errors.New("tracks: time lag must be >= 1")
	// ErrLagExceedsTrack is returned when a lag leaves no displacement pairs.
	ErrLagExceedsTrack = errors.New("tracks: time lag exceeds track length")
)

// Track is the ordered sequence of steps that share one particle identity.
// Steps are append-only and insertion order is temporal order.
type Track struct {
	ID         int
	StartFrame int
	EndFrame   int // frame of the last appended step

	steps []Step

	memoMu sync.Mutex
	memo   map[string]memoEntry
}

// memoEntry caches a derived value together with the step count it was
// computed for. A changed step count invalidates the entry.
type memoEntry struct {
	steps int
	value float64
}

// NewTrack creates an empty track that starts at startFrame. Tracks that
// take part in association are created through Registry.CreateAndOpen;
// this constructor is for derived tracks such as smoothed copies.
func NewTrack(id, startFrame int) *Track {
	return &Track{
		ID:         id,
		StartFrame: startFrame,
		EndFrame:   startFrame,
	}
}

// Append adds a step at the end of the track and moves EndFrame to the
// step's frame.
func (t *Track) Append(d Detection) {
	t.steps = append(t.steps, Step{Detection: d})
	t.EndFrame = d.Frame
}

// Len returns the number of steps.
func (t *Track) Len() int {
	return len(t.steps)
}

// Step returns the i-th step.
func (t *Track) Step(i int) Step {
	return t.steps[i]
}

// Steps returns a copy of the step sequence.
func (t *Track) Steps() []Step {
	out := make([]Step, len(t.steps))
	copy(out, t.steps)
	return out
}

// Last returns the most recent step. It panics on an empty track, which
// the registry never produces.
func (t *Track) Last() Step {
	return t.steps[len(t.steps)-1]
}

// Polyline returns the positions of all steps recorded strictly before
// untilFrame. A non-positive untilFrame returns the whole track.
func (t *Track) Polyline(untilFrame int) []Point {
	pts := make([]Point, 0, len(t.steps))
	for _, s := range t.steps {
		if untilFrame > 0 && s.Frame >= untilFrame {
			break
		}
		pts = append(pts, Point{X: s.X, Y: s.Y})
	}
	return pts
}

// MeanSquareDisplacement returns the mean squared displacement at the given
// lag, with the per-frame drift removed:
//
//	avg over i in [lag, len) of (x[i-lag]-x[i]-lag·dx)² + (y[i-lag]-y[i]-lag·dy)²
//
// A single-step track returns 0 for any lag.
func (t *Track) MeanSquareDisplacement(drift Drift, lag int) (float64, error) {
	sq, err := t.squaredDisplacements(drift, lag)
	if err != nil || sq == nil {
		return 0, err
	}
	return stat.Mean(sq, nil), nil
}

// MeanSquareDisplacementSD returns the sample standard deviation of the
// per-pair squared displacements at the given lag and the number of pairs.
// It is used for error bars next to MeanSquareDisplacement.
func (t *Track) MeanSquareDisplacementSD(drift Drift, lag int) (sd float64, n int, err error) {
	sq, err := t.squaredDisplacements(drift, lag)
	if err != nil || sq == nil {
		return 0, 0, err
	}
	if len(sq) < 2 {
		return 0, len(sq), nil
	}
	return stat.StdDev(sq, nil), len(sq), nil
}

func (t *Track) squaredDisplacements(drift Drift, lag int) ([]float64, error) {
	if len(t.steps) <= 1 {
		return nil, nil
	}
	if lag < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLag, lag)
	}
	if lag >= len(t.steps) {
		return nil, fmt.Errorf("%w: lag %d, %d steps", ErrLagExceedsTrack, lag, len(t.steps))
	}
	l := float64(lag)
	sq := make([]float64, 0, len(t.steps)-lag)
	for i := lag; i < len(t.steps); i++ {
		a, b := t.steps[i-lag], t.steps[i]
		dx := a.X - b.X - l*drift.X
		dy := a.Y - b.Y - l*drift.Y
		sq = append(sq, dx*dx+dy*dy)
	}
	return sq, nil
}

// MaxDistanceFromStart returns the largest Manhattan distance between the
// first step and any later step. Callers use it to reject stuck particles.
func (t *Track) MaxDistanceFromStart() float64 {
	var maxD float64
	if len(t.steps) == 0 {
		return 0
	}
	first := t.steps[0]
	for _, s := range t.steps[1:] {
		d := math.Abs(first.X-s.X) + math.Abs(first.Y-s.Y)
		if d > maxD {
			maxD = d
		}
	}
	return maxD
}

// SumOfAbsoluteDisplacements returns the Manhattan path length of the track.
func (t *Track) SumOfAbsoluteDisplacements() float64 {
	var sum float64
	for i := 1; i < len(t.steps); i++ {
		sum += math.Abs(t.steps[i-1].X-t.steps[i].X) + math.Abs(t.steps[i-1].Y-t.steps[i].Y)
	}
	return sum
}

// MedianHue returns the median hue over steps that carry one, or NaN when
// no step has a hue.
func (t *Track) MedianHue() float64 {
	hues := make([]float64, 0, len(t.steps))
	for _, s := range t.steps {
		if s.HasHue() {
			hues = append(hues, s.Hue)
		}
	}
	n := len(hues)
	if n == 0 {
		return math.NaN()
	}
	sort.Float64s(hues)
	if n%2 == 1 {
		return hues[n/2]
	}
	return (hues[n/2-1] + hues[n/2]) / 2
}

// Memoize returns the value cached under key if it was computed at the
// current step count, otherwise it calls compute and caches a successful
// result. Errors are never cached.
func (t *Track) Memoize(key string, compute func() (float64, error)) (float64, error) {
	n := len(t.steps)
	t.memoMu.Lock()
	e, ok := t.memo[key]
	t.memoMu.Unlock()
	if ok && e.steps == n {
		return e.value, nil
	}

	v, err := compute()
	if err != nil {
		return 0, err
	}

	t.memoMu.Lock()
	defer t.memoMu.Unlock()
	if t.memo == nil {
		t.memo = make(map[string]memoEntry)
	}
	t.memo[key] = memoEntry{steps: n, value: v}
	return v, nil
}
