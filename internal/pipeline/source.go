// Package pipeline drives detections through the associator frame by
// frame, then estimates, filters and sizes the finished trajectories.
package pipeline

import (
	"context"
	"io"

	"github.com/banshee-data/nanotrack/internal/tracks"
)

// FrameSource yields frames in increasing index order and io.EOF at the
// end of the stack.
type FrameSource interface {
	Next(ctx context.Context) (tracks.Frame, error)
}

// SliceSource serves frames from memory.
type SliceSource struct {
	Frames []tracks.Frame
	pos    int
}

// NewSliceSource returns a source over frames.
func NewSliceSource(frames []tracks.Frame) *SliceSource {
	return &SliceSource{Frames: frames}
}

func (s *SliceSource) Next(ctx context.Context) (tracks.Frame, error) {
	if err := ctx.Err(); err != nil {
		return tracks.Frame{}, err
	}
	if s.pos >= len(s.Frames) {
		return tracks.Frame{}, io.EOF
	}
	f := s.Frames[s.pos]
	s.pos++
	return f, nil
}
