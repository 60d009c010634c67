package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/nanotrack/internal/config"
	"github.com/banshee-data/nanotrack/internal/diffusion"
	"github.com/banshee-data/nanotrack/internal/pipeline"
	"github.com/banshee-data/nanotrack/internal/tracks"
)

// ErrRunNotFound is returned for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// Run is one persisted analysis.
type Run struct {
	RunID        string          `json:"run_id"`
	Source       string          `json:"source"`
	Estimator    diffusion.Kind  `json:"estimator"`
	ConfigJSON   json.RawMessage `json:"config_json"`
	Frames       int             `json:"frames"`
	Detections   int             `json:"detections"`
	Drift        tracks.Drift    `json:"drift"`
	CreatedAtNs  int64           `json:"created_at_ns"`
	FinishedAtNs *int64          `json:"finished_at_ns,omitempty"`
}

// CreatedAt returns the creation time in UTC.
func (r *Run) CreatedAt() time.Time {
	return time.Unix(0, r.CreatedAtNs).UTC()
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// CreateRun records the start of an analysis of source with cfg.
func (db *DB) CreateRun(ctx context.Context, source string, estimator diffusion.Kind, cfg *config.TuningConfig) (*Run, error) {
	return db.createRun(ctx, db.DB, source, estimator, cfg)
}

func (db *DB) createRun(ctx context.Context, q execer, source string, estimator diffusion.Kind, cfg *config.TuningConfig) (*Run, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	run := &Run{
		RunID:       uuid.New().String(),
		Source:      source,
		Estimator:   estimator,
		ConfigJSON:  cfgJSON,
		CreatedAtNs: db.clock.Now().UnixNano(),
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO analysis_runs (run_id, source, estimator, config_json, created_at_ns)
		VALUES (?, ?, ?, ?, ?)
	`, run.RunID, run.Source, string(run.Estimator), string(run.ConfigJSON), run.CreatedAtNs)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// FinishRun stores the frame-loop totals and the drift used for estimation.
func (db *DB) FinishRun(ctx context.Context, runID string, sum pipeline.Summary, drift tracks.Drift) error {
	_, err := db.finishRun(ctx, db.DB, runID, sum, drift)
	return err
}

func (db *DB) finishRun(ctx context.Context, q execer, runID string, sum pipeline.Summary, drift tracks.Drift) (int64, error) {
	finishedAt := db.clock.Now().UnixNano()
	res, err := q.ExecContext(ctx, `
		UPDATE analysis_runs
		SET frames = ?, detections = ?, drift_x = ?, drift_y = ?, drift_samples = ?, finished_at_ns = ?
		WHERE run_id = ?
	`, sum.Frames, sum.Detections, drift.X, drift.Y, drift.Samples, finishedAt, runID)
	if err != nil {
		return 0, fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return finishedAt, nil
}

// SaveTracks stores trajectories and all their steps in one transaction.
func (db *DB) SaveTracks(ctx context.Context, runID string, trks []*tracks.Track) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		return saveTracks(ctx, tx, runID, trks)
	})
}

func saveTracks(ctx context.Context, q execer, runID string, trks []*tracks.Track) error {
	trackStmt, err := q.PrepareContext(ctx, `
		INSERT INTO run_tracks (run_id, track_id, start_frame, end_frame, steps)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer trackStmt.Close()
	stepStmt, err := q.PrepareContext(ctx, `
		INSERT INTO track_steps (run_id, track_id, seq, frame, x, y, intensity, hue)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stepStmt.Close()

	for _, t := range trks {
		if _, err := trackStmt.ExecContext(ctx, runID, t.ID, t.StartFrame, t.EndFrame, t.Len()); err != nil {
			return fmt.Errorf("insert track %d: %w", t.ID, err)
		}
		for i, s := range t.Steps() {
			if _, err := stepStmt.ExecContext(ctx, runID, t.ID, i, s.Frame, s.X, s.Y,
				nullFloat64(s.Intensity), nullFloat64(s.Hue)); err != nil {
				return fmt.Errorf("insert track %d step %d: %w", t.ID, i, err)
			}
		}
	}
	return nil
}

// SaveReport stores the reported rows. Their tracks must already be saved.
func (db *DB) SaveReport(ctx context.Context, runID string, rep *pipeline.Report) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		return saveReport(ctx, tx, runID, rep)
	})
}

func saveReport(ctx context.Context, q execer, runID string, rep *pipeline.Report) error {
	stmt, err := q.PrepareContext(ctx, `
		INSERT INTO track_estimates (run_id, track_id, d_px2_per_s, d_um2_per_s, diameter_nm, median_hue)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rep.Rows {
		if _, err := stmt.ExecContext(ctx, runID, r.TrackID, r.DPx, r.DMicron2, r.DiameterNm, nullFloat64(r.MedianHue)); err != nil {
			return fmt.Errorf("insert estimate for track %d: %w", r.TrackID, err)
		}
	}
	return nil
}

// RunRecord is a complete analysis to store with RecordRun.
type RunRecord struct {
	Source  string
	Config  *config.TuningConfig
	Summary pipeline.Summary
	Tracks  []*tracks.Track
	Report  *pipeline.Report
}

// RecordRun stores a finished analysis, its tracks and its report in a
// single transaction. On error nothing is written.
func (db *DB) RecordRun(ctx context.Context, rec RunRecord) (*Run, error) {
	var run *Run
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		r, err := db.createRun(ctx, tx, rec.Source, rec.Report.Estimator, rec.Config)
		if err != nil {
			return err
		}
		if err := saveTracks(ctx, tx, r.RunID, rec.Tracks); err != nil {
			return err
		}
		if err := saveReport(ctx, tx, r.RunID, rec.Report); err != nil {
			return err
		}
		finishedAt, err := db.finishRun(ctx, tx, r.RunID, rec.Summary, rec.Report.Drift)
		if err != nil {
			return err
		}
		r.Frames = rec.Summary.Frames
		r.Detections = rec.Summary.Detections
		r.Drift = rec.Report.Drift
		r.FinishedAtNs = &finishedAt
		run = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (db *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

const runColumns = `run_id, source, estimator, config_json, frames, detections,
	drift_x, drift_y, drift_samples, created_at_ns, finished_at_ns`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (*Run, error) {
	var r Run
	var estimator, cfgJSON string
	var finished sql.NullInt64
	if err := s.Scan(&r.RunID, &r.Source, &estimator, &cfgJSON, &r.Frames, &r.Detections,
		&r.Drift.X, &r.Drift.Y, &r.Drift.Samples, &r.CreatedAtNs, &finished); err != nil {
		return nil, err
	}
	r.Estimator = diffusion.Kind(estimator)
	r.ConfigJSON = json.RawMessage(cfgJSON)
	if finished.Valid {
		v := finished.Int64
		r.FinishedAtNs = &v
	}
	return &r, nil
}

// GetRun retrieves a run by ID.
func (db *DB) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM analysis_runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns every run, newest first.
func (db *DB) ListRuns(ctx context.Context) ([]*Run, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+runColumns+` FROM analysis_runs ORDER BY created_at_ns DESC, run_id`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run with its tracks, steps and estimates.
func (db *DB) DeleteRun(ctx context.Context, runID string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM analysis_runs WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// LoadTrack rebuilds a stored trajectory.
func (db *DB) LoadTrack(ctx context.Context, runID string, trackID int) (*tracks.Track, error) {
	var start int
	err := db.QueryRowContext(ctx, `SELECT start_frame FROM run_tracks WHERE run_id = ? AND track_id = ?`, runID, trackID).Scan(&start)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("track %d not found in run %s", trackID, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get track: %w", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT frame, x, y, intensity, hue FROM track_steps
		WHERE run_id = ? AND track_id = ?
		ORDER BY seq
	`, runID, trackID)
	if err != nil {
		return nil, fmt.Errorf("get steps: %w", err)
	}
	defer rows.Close()

	t := tracks.NewTrack(trackID, start)
	for rows.Next() {
		var frame int
		var x, y float64
		var intensity, hue sql.NullFloat64
		if err := rows.Scan(&frame, &x, &y, &intensity, &hue); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		d := tracks.NewDetection(x, y, frame)
		if intensity.Valid {
			d.Intensity = intensity.Float64
		}
		if hue.Valid {
			d.Hue = hue.Float64
		}
		t.Append(d)
	}
	return t, rows.Err()
}

// Estimates returns the stored report rows for a run in track order.
func (db *DB) Estimates(ctx context.Context, runID string) ([]pipeline.Row, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT e.track_id, t.steps, t.start_frame, t.end_frame,
		       e.d_px2_per_s, e.d_um2_per_s, e.diameter_nm, e.median_hue
		FROM track_estimates e
		JOIN run_tracks t ON t.run_id = e.run_id AND t.track_id = e.track_id
		WHERE e.run_id = ?
		ORDER BY e.track_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("get estimates: %w", err)
	}
	defer rows.Close()

	var out []pipeline.Row
	for rows.Next() {
		var r pipeline.Row
		var hue sql.NullFloat64
		if err := rows.Scan(&r.TrackID, &r.Steps, &r.StartFrame, &r.EndFrame,
			&r.DPx, &r.DMicron2, &r.DiameterNm, &hue); err != nil {
			return nil, fmt.Errorf("scan estimate: %w", err)
		}
		r.MedianHue = math.NaN()
		if hue.Valid {
			r.MedianHue = hue.Float64
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
