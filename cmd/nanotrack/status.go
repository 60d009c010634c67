package main

import (
	"net/http"
	"sync"

	"github.com/banshee-data/nanotrack/internal/httputil"
	"github.com/banshee-data/nanotrack/internal/tracks"
)

type progressSnapshot struct {
	Stage      string `json:"stage"`
	Frame      int    `json:"frame"`
	Detections int    `json:"detections"`
	Started    int    `json:"tracks_started"`
	Finished   int    `json:"tracks_finished"`
}

// progress is the live state served on /status while a run is in flight.
type progress struct {
	mu   sync.Mutex
	snap progressSnapshot
}

func newProgress() *progress {
	return &progress{snap: progressSnapshot{Stage: "tracking"}}
}

func (p *progress) observe(fs tracks.FrameStats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap.Frame = fs.Frame
	p.snap.Detections += fs.Detections
	p.snap.Started += fs.Started
	p.snap.Finished += fs.Finished
}

func (p *progress) setStage(stage string) {
	p.mu.Lock()
	p.snap.Stage = stage
	p.mu.Unlock()
}

func (p *progress) snapshot() progressSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

func (p *progress) handleStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, p.snapshot())
}
