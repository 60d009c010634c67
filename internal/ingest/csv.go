// Package ingest reads particle detections produced by an upstream detector
// and groups them into frames for the associator.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/nanotrack/internal/tracks"
)

// ErrMalformedRow is wrapped by every parse error, with the line number.
var ErrMalformedRow = errors.New("ingest: malformed detection row")

// CSVSource reads rows of frame,x,y[,intensity[,hue]] and yields one Frame
// per index starting at 1. Frames with no rows are emitted empty, so the
// associator sees every frame. Rows must be grouped by non-decreasing frame
// index. An optional header row starting with "frame" and lines starting
// with '#' are skipped. Empty intensity or hue fields are unknown.
type CSVSource struct {
	r       *csv.Reader
	next    int
	pending *tracks.Detection
	started bool
	done    bool
}

// NewCSVSource wraps r.
func NewCSVSource(r io.Reader) *CSVSource {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'
	cr.ReuseRecord = true
	return &CSVSource{r: cr, next: 1}
}

// Next returns the next frame, or io.EOF once all rows are consumed.
func (s *CSVSource) Next(ctx context.Context) (tracks.Frame, error) {
	if err := ctx.Err(); err != nil {
		return tracks.Frame{}, err
	}
	frame := tracks.Frame{Index: s.next}
	for {
		if s.pending == nil {
			if s.done {
				break
			}
			d, err := s.read()
			if errors.Is(err, io.EOF) {
				s.done = true
				break
			}
			if err != nil {
				return tracks.Frame{}, err
			}
			s.pending = &d
		}
		if s.pending.Frame < s.next {
			return tracks.Frame{}, fmt.Errorf("%w: frame %d appears after frame %d", ErrMalformedRow, s.pending.Frame, s.next-1)
		}
		if s.pending.Frame > s.next {
			break
		}
		frame.Detections = append(frame.Detections, *s.pending)
		s.pending = nil
	}
	if s.done && s.pending == nil && len(frame.Detections) == 0 {
		return tracks.Frame{}, io.EOF
	}
	s.next++
	return frame, nil
}

func (s *CSVSource) read() (tracks.Detection, error) {
	for {
		rec, err := s.r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return tracks.Detection{}, io.EOF
			}
			return tracks.Detection{}, fmt.Errorf("%w: %w", ErrMalformedRow, err)
		}
		line, _ := s.r.FieldPos(0)
		if !s.started {
			s.started = true
			if strings.EqualFold(strings.TrimSpace(rec[0]), "frame") {
				continue
			}
		}
		return parseRow(rec, line)
	}
}

func parseRow(rec []string, line int) (tracks.Detection, error) {
	if len(rec) < 3 || len(rec) > 5 {
		return tracks.Detection{}, fmt.Errorf("%w: line %d: want 3 to 5 fields, got %d", ErrMalformedRow, line, len(rec))
	}
	frame, err := strconv.Atoi(strings.TrimSpace(rec[0]))
	if err != nil || frame < 1 {
		return tracks.Detection{}, fmt.Errorf("%w: line %d: frame %q must be a positive integer", ErrMalformedRow, line, rec[0])
	}
	vals := [4]float64{math.NaN(), math.NaN(), math.NaN(), math.NaN()}
	for i, field := range rec[1:] {
		field = strings.TrimSpace(field)
		if field == "" && i >= 2 {
			continue
		}
		v, err := strconv.ParseFloat(field, 64)
		if err != nil || math.IsInf(v, 0) || (math.IsNaN(v) && i < 2) {
			return tracks.Detection{}, fmt.Errorf("%w: line %d: field %d %q is not a number", ErrMalformedRow, line, i+2, field)
		}
		vals[i] = v
	}
	d := tracks.NewDetection(vals[0], vals[1], frame)
	d.Intensity = vals[2]
	d.Hue = vals[3]
	return d, nil
}
