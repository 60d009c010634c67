package tracks

import "math"

// Detection is a single particle observation in one frame, produced by an
// external detector. Intensity and Hue are NaN when the detector did not
// supply them.
type Detection struct {
	X         float64
	Y         float64
	Frame     int
	Intensity float64
	Hue       float64 // degrees in [0, 360), or NaN
}

// NewDetection returns a detection at (x, y) without intensity or hue.
func NewDetection(x, y float64, frame int) Detection {
	return Detection{
		X:         x,
		Y:         y,
		Frame:     frame,
		Intensity: math.NaN(),
		Hue:       math.NaN(),
	}
}

// HasHue reports whether the detector measured a hue for this detection.
func (d Detection) HasHue() bool {
	return !math.IsNaN(d.Hue)
}

// distanceTo returns the Euclidean distance between two detections.
func (d Detection) distanceTo(o Detection) float64 {
	return math.Hypot(d.X-o.X, d.Y-o.Y)
}

// Step is a detection bound into exactly one track.
type Step struct {
	Detection
}

// Point is a 2D position, used for overlay polylines.
type Point struct {
	X float64
	Y float64
}

// Frame is the set of detections found in one image of a stack.
// Index starts at 1; index 1 marks the beginning of a new stack.
type Frame struct {
	Index      int
	Detections []Detection
}
