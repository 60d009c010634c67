package db

import (
	"context"
	"encoding/json"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/nanotrack/internal/config"
	"github.com/banshee-data/nanotrack/internal/diffusion"
	"github.com/banshee-data/nanotrack/internal/monitoring"
	"github.com/banshee-data/nanotrack/internal/pipeline"
	"github.com/banshee-data/nanotrack/internal/timeutil"
	"github.com/banshee-data/nanotrack/internal/tracks"
)

func init() {
	monitoring.SetLogger(nil)
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nanotrack.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_AppliesMigrations(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	for _, table := range []string{"analysis_runs", "run_tracks", "track_steps", "track_estimates"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		assert.NoError(t, err, table)
	}

	// Reopening an up-to-date database is a no-op.
	require.NoError(t, db.MigrateUp())
}

func TestMigrateDown(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	require.NoError(t, db.MigrateDown())

	version, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = 'track_estimates'`).Scan(&n))
	assert.Zero(t, n)
}

func sampleTrack(id int) *tracks.Track {
	t := tracks.NewTrack(id, 3)
	for i := 0; i < 4; i++ {
		d := tracks.NewDetection(float64(i), 2*float64(i), 3+i)
		if i%2 == 0 {
			d.Hue = 120
			d.Intensity = 900
		}
		t.Append(d)
	}
	return t
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestDB(t)
	start := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(start)
	db.SetClock(clock)

	cfg := config.DefaultTuningConfig()
	run, err := db.CreateRun(ctx, "detections.csv", diffusion.KindCovariance, cfg)
	require.NoError(t, err)
	assert.Len(t, run.RunID, 36)
	assert.Equal(t, start, run.CreatedAt())

	trks := []*tracks.Track{sampleTrack(1), sampleTrack(2)}
	require.NoError(t, db.SaveTracks(ctx, run.RunID, trks))

	rep := &pipeline.Report{Rows: []pipeline.Row{
		{TrackID: 2, Steps: 4, StartFrame: 3, EndFrame: 6, DPx: 10, DMicron2: 0.27, DiameterNm: 1600, MedianHue: math.NaN()},
	}}
	require.NoError(t, db.SaveReport(ctx, run.RunID, rep))

	clock.Advance(2 * time.Second)
	drift := tracks.Drift{X: -0.5, Y: 0.25, Samples: 30}
	require.NoError(t, db.FinishRun(ctx, run.RunID, pipeline.Summary{Frames: 6, Detections: 8}, drift))

	got, err := db.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, "detections.csv", got.Source)
	assert.Equal(t, diffusion.KindCovariance, got.Estimator)
	assert.Equal(t, 6, got.Frames)
	assert.Equal(t, drift, got.Drift)
	require.NotNil(t, got.FinishedAtNs)
	assert.Equal(t, start.Add(2*time.Second).UnixNano(), *got.FinishedAtNs)

	var stored config.TuningConfig
	require.NoError(t, json.Unmarshal(got.ConfigJSON, &stored))
	assert.Equal(t, cfg, &stored)

	loaded, err := db.LoadTrack(ctx, run.RunID, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.StartFrame)
	assert.Equal(t, 6, loaded.EndFrame)
	require.Equal(t, 4, loaded.Len())
	assert.Equal(t, 120.0, loaded.Step(0).Hue)
	assert.Equal(t, 900.0, loaded.Step(0).Intensity)
	assert.True(t, math.IsNaN(loaded.Step(1).Hue))
	assert.Equal(t, 6.0, loaded.Step(3).Y)

	rows, err := db.Estimates(ctx, run.RunID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].TrackID)
	assert.Equal(t, 4, rows[0].Steps)
	assert.Equal(t, 1600.0, rows[0].DiameterNm)
	assert.True(t, math.IsNaN(rows[0].MedianHue))

	require.NoError(t, db.DeleteRun(ctx, run.RunID))
	_, err = db.GetRun(ctx, run.RunID)
	assert.ErrorIs(t, err, ErrRunNotFound)
	var steps int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM track_steps`).Scan(&steps))
	assert.Zero(t, steps, "steps cascade with their run")
}

func TestListRuns_NewestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestDB(t)
	clock := timeutil.NewMockClock(time.Unix(1_700_000_000, 0))
	db.SetClock(clock)

	var ids []string
	for i := 0; i < 3; i++ {
		run, err := db.CreateRun(ctx, "stack.csv", diffusion.KindRegression, config.EmptyTuningConfig())
		require.NoError(t, err)
		ids = append(ids, run.RunID)
		clock.Advance(time.Minute)
	}

	runs, err := db.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, []string{runs[0].RunID, runs[1].RunID, runs[2].RunID})
	assert.Nil(t, runs[0].FinishedAtNs)
}

func TestMissingRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestDB(t)

	assert.ErrorIs(t, db.FinishRun(ctx, "nope", pipeline.Summary{}, tracks.Drift{}), ErrRunNotFound)
	assert.ErrorIs(t, db.DeleteRun(ctx, "nope"), ErrRunNotFound)
	_, err := db.LoadTrack(ctx, "nope", 1)
	assert.Error(t, err)

	// Estimates need their track rows.
	err = db.SaveReport(ctx, "nope", &pipeline.Report{Rows: []pipeline.Row{{TrackID: 1}}})
	assert.Error(t, err)
}

func TestRecordRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestDB(t)
	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	db.SetClock(clock)

	drift := tracks.Drift{X: -1, Samples: 6}
	rep := &pipeline.Report{
		Estimator: diffusion.KindKalman,
		Drift:     drift,
		Rows:      []pipeline.Row{{TrackID: 1, Steps: 4, DPx: 12, DMicron2: 0.33, DiameterNm: 1300, MedianHue: 120}},
	}
	run, err := db.RecordRun(ctx, RunRecord{
		Source:  "stack.csv",
		Config:  config.DefaultTuningConfig(),
		Summary: pipeline.Summary{Frames: 6, Detections: 8},
		Tracks:  []*tracks.Track{sampleTrack(1), sampleTrack(2)},
		Report:  rep,
	})
	require.NoError(t, err)
	require.NotNil(t, run.FinishedAtNs)

	got, err := db.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, diffusion.KindKalman, got.Estimator)
	assert.Equal(t, 8, got.Detections)
	assert.Equal(t, drift, got.Drift)
	assert.Equal(t, run.FinishedAtNs, got.FinishedAtNs)

	rows, err := db.Estimates(ctx, run.RunID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestRecordRun_FailureWritesNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTestDB(t)

	// Two tracks with the same ID violate the run_tracks primary key.
	_, err := db.RecordRun(ctx, RunRecord{
		Source:  "stack.csv",
		Config:  config.DefaultTuningConfig(),
		Summary: pipeline.Summary{Frames: 6, Detections: 8},
		Tracks:  []*tracks.Track{sampleTrack(1), sampleTrack(1)},
		Report:  &pipeline.Report{Estimator: diffusion.KindCovariance},
	})
	require.Error(t, err)

	runs, err := db.ListRuns(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM track_steps`).Scan(&n))
	assert.Zero(t, n)
}
