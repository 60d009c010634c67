// Package tracks owns the trajectory layer of the particle tracking data model.
//
// Responsibilities: per-frame detections, trajectories built from them,
// the registry of open and finished trajectories, ensemble drift, and the
// frame-to-frame data associator that links detections into trajectories.
// Key types: Detection, Track, Registry, Tracker.
//
// Dependency rule: tracks never depends on diffusion estimation or
// persistence. No SQL/database code is allowed in this package.
package tracks
