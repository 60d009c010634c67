package tracks

import "sync"

// minDriftTrackLength is the step count a track must exceed before its
// displacements contribute to the drift estimate.
const minDriftTrackLength = 5

// Drift is the mean per-frame displacement shared by all particles.
// X and Y follow the previous-minus-current convention: a stack that moves
// by +1 px/frame in x has Drift.X == -1. Samples is the number of
// displacements averaged; zero means no track qualified and X, Y are 0.
type Drift struct {
	X       float64
	Y       float64
	Samples int
}

// Valid reports whether at least one displacement contributed.
func (d Drift) Valid() bool {
	return d.Samples > 0
}

// Registry holds the open (still extendable) and finished (closed) tracks
// of one image stack. Every track is in exactly one of the two collections
// and a finished track is never reopened.
//
// Construction is single-threaded and frame-ordered; the lock only guards
// readers such as estimation workers and progress reporters.
type Registry struct {
	open     []*Track
	finished []*Track
	nextID   int

	mu sync.RWMutex
}

// NewRegistry returns an empty registry whose first track gets ID 1.
func NewRegistry() *Registry {
	return &Registry{nextID: 1}
}

// Reset clears both collections and restarts ID allocation. It is used
// when a new stack starts on an existing registry.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = nil
	r.finished = nil
	r.nextID = 1
}

// CreateAndOpen allocates a track with the next ID, starting at frame,
// and places it in the open collection.
func (r *Registry) CreateAndOpen(frame int) *Track {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := NewTrack(r.nextID, frame)
	r.nextID++
	r.open = append(r.open, t)
	return t
}

// Close moves an open track to the finished collection. It returns false
// if the track is not open.
func (r *Registry) Close(t *Track) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, o := range r.open {
		if o == t {
			r.open = append(r.open[:i], r.open[i+1:]...)
			r.finished = append(r.finished, t)
			return true
		}
	}
	return false
}

// CloseAll finishes every open track, preserving their order.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.open)
	r.finished = append(r.finished, r.open...)
	r.open = nil
	return n
}

// closeStale finishes every open track whose last step is older than
// frame and returns how many were closed.
func (r *Registry) closeStale(frame int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.open[:0]
	closed := 0
	for _, t := range r.open {
		if t.EndFrame < frame {
			r.finished = append(r.finished, t)
			closed++
			continue
		}
		kept = append(kept, t)
	}
	for i := len(kept); i < len(r.open); i++ {
		r.open[i] = nil
	}
	r.open = kept
	return closed
}

// Open returns a snapshot of the open tracks in creation order.
func (r *Registry) Open() []*Track {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Track, len(r.open))
	copy(out, r.open)
	return out
}

// Finished returns a snapshot of the finished tracks in closing order.
func (r *Registry) Finished() []*Track {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Track, len(r.finished))
	copy(out, r.finished)
	return out
}

// FinishedByID returns the finished track with the given ID, or nil.
func (r *Registry) FinishedByID(id int) *Track {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.finished {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Counts returns the sizes of the open and finished collections.
func (r *Registry) Counts() (open, finished int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.open), len(r.finished)
}

// Drift averages consecutive-step displacements (previous minus current)
// over every open and finished track longer than five steps. It is
// recomputed on each call.
func (r *Registry) Drift() Drift {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var d Drift
	accumulate := func(ts []*Track) {
		for _, t := range ts {
			if t.Len() <= minDriftTrackLength {
				continue
			}
			for j := 1; j < len(t.steps); j++ {
				d.X += t.steps[j-1].X - t.steps[j].X
				d.Y += t.steps[j-1].Y - t.steps[j].Y
				d.Samples++
			}
		}
	}
	accumulate(r.finished)
	accumulate(r.open)

	if d.Samples == 0 {
		return Drift{}
	}
	n := float64(d.Samples)
	d.X /= n
	d.Y /= n
	return d
}
