// Package testutil provides shared test fixtures: simulated Brownian
// trajectories with localization noise, and detection frames built from
// them.
package testutil

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/nanotrack/internal/tracks"
)

// WalkParams describes a simulated 2D Brownian particle observed by a
// camera with an instantaneous shutter.
type WalkParams struct {
	Steps     int
	D         float64 // true diffusion coefficient, px²/s
	FrameRate float64 // frames per second
	Noise     float64 // localization noise standard deviation, px
	VX, VY    float64 // deterministic motion per frame, px
	StartX    float64
	StartY    float64
	Seed      uint64
}

// RandomWalk simulates one trajectory starting at frame 1.
func RandomWalk(p WalkParams) *tracks.Track {
	src := rand.NewPCG(p.Seed, p.Seed*0x9e3779b97f4a7c15+1)
	step := distuv.Normal{Mu: 0, Sigma: math.Sqrt(2 * p.D / p.FrameRate), Src: src}
	noise := distuv.Normal{Mu: 0, Sigma: p.Noise, Src: src}

	t := tracks.NewTrack(int(p.Seed)+1, 1)
	x, y := p.StartX, p.StartY
	for i := 0; i < p.Steps; i++ {
		if i > 0 {
			x += p.VX + step.Rand()
			y += p.VY + step.Rand()
		}
		ox, oy := x, y
		if p.Noise > 0 {
			ox += noise.Rand()
			oy += noise.Rand()
		}
		t.Append(tracks.NewDetection(ox, oy, i+1))
	}
	return t
}

// RandomWalks simulates n independent trajectories with seeds p.Seed,
// p.Seed+1, ...
func RandomWalks(n int, p WalkParams) []*tracks.Track {
	out := make([]*tracks.Track, n)
	for i := range out {
		q := p
		q.Seed = p.Seed + uint64(i)
		out[i] = RandomWalk(q)
	}
	return out
}

// FramesFromWalks interleaves trajectories into per-frame detection sets,
// frame 1 first. Particles are spread out by offsetting each walk by
// spacing pixels in x so that their gates do not overlap.
func FramesFromWalks(walks []*tracks.Track, spacing float64) []tracks.Frame {
	last := 0
	for _, w := range walks {
		if w.EndFrame > last {
			last = w.EndFrame
		}
	}
	frames := make([]tracks.Frame, last)
	for i := range frames {
		frames[i].Index = i + 1
	}
	for wi, w := range walks {
		for _, s := range w.Steps() {
			d := s.Detection
			d.X += float64(wi) * spacing
			frames[d.Frame-1].Detections = append(frames[d.Frame-1].Detections, d)
		}
	}
	return frames
}
