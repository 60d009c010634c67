// Package db persists analysis runs, their trajectories and per-track
// estimates in SQLite.
package db

import (
	"database/sql"
	"fmt"
	"math"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/nanotrack/internal/timeutil"
)

// DB wraps a SQLite connection with the nanotrack schema applied.
type DB struct {
	*sql.DB
	clock timeutil.Clock
}

// Open opens (or creates) the database at path, applies connection pragmas
// and runs pending migrations. Use ":memory:" for a throwaway database.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps pragmas and in-memory databases consistent.
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	db := &DB{DB: sqlDB, clock: timeutil.RealClock{}}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// SetClock replaces the clock used for run timestamps.
func (db *DB) SetClock(c timeutil.Clock) {
	db.clock = c
}

func nullFloat64(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: !math.IsNaN(v)}
}
