// Package prunelog keeps a journal of eviction passes in SQLite.
package prunelog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"time"

	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/logger"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Run is one recorded prune pass.
type Run struct {
	StartedAt    time.Time     `json:"startedAt"`
	Duration     time.Duration `json:"duration"`
	Mode         string        `json:"mode"`
	BudgetBytes  int64         `json:"budgetBytes"`
	BytesBefore  int64         `json:"bytesBefore"`
	BytesAfter   int64         `json:"bytesAfter"`
	BytesDeleted int64         `json:"bytesDeleted"`
	FilesDeleted int           `json:"filesDeleted"`
	Failures     int           `json:"failures"`
	ReferenceLat *float64      `json:"referenceLat,omitempty"`
	ReferenceLon *float64      `json:"referenceLon,omitempty"`
}

type SQLiteJournal struct {
	db     *sql.DB
	logger logger.Logger
}

func NewSQLiteJournal(path string, l logger.Logger) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	err = db.Ping()
	if err != nil {
		db.Close()
		return nil, err
	}

	j := &SQLiteJournal{
		db:     db,
		logger: l,
	}

	err = j.runMigrations()
	if err != nil {
		db.Close()
		return nil, err
	}

	l.Info("prune journal initialized", "path", path)

	return j, nil
}

func (j *SQLiteJournal) runMigrations() error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	err := goose.SetDialect("sqlite3")
	if err != nil {
		return err
	}

	return goose.Up(j.db, "migrations")
}

func (j *SQLiteJournal) Record(ctx context.Context, r Run) error {
	query := `INSERT INTO prune_runs (
		started_at, duration_ms, mode, budget_bytes, bytes_before, bytes_after,
		bytes_deleted, files_deleted, failures, reference_lat, reference_lon
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := j.db.ExecContext(ctx, query,
		r.StartedAt.UnixMilli(), r.Duration.Milliseconds(), r.Mode, r.BudgetBytes,
		r.BytesBefore, r.BytesAfter, r.BytesDeleted, r.FilesDeleted, r.Failures,
		nullFloat(r.ReferenceLat), nullFloat(r.ReferenceLon),
	)
	if err != nil {
		j.logger.Error("failed to record prune run", "error", err)
		return err
	}

	return nil
}

// Last returns the most recent pass.
func (j *SQLiteJournal) Last(ctx context.Context) (Run, bool, error) {
	query := `SELECT started_at, duration_ms, mode, budget_bytes, bytes_before, bytes_after,
		bytes_deleted, files_deleted, failures, reference_lat, reference_lon
	FROM prune_runs
	ORDER BY id DESC
	LIMIT 1`

	var (
		r                Run
		startedAt, durMs int64
		refLat, refLon   sql.NullFloat64
	)
	err := j.db.QueryRowContext(ctx, query).Scan(
		&startedAt, &durMs, &r.Mode, &r.BudgetBytes, &r.BytesBefore, &r.BytesAfter,
		&r.BytesDeleted, &r.FilesDeleted, &r.Failures, &refLat, &refLon,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, false, nil
		}
		j.logger.Error("failed to read last prune run", "error", err)
		return Run{}, false, err
	}

	r.StartedAt = time.UnixMilli(startedAt).UTC()
	r.Duration = time.Duration(durMs) * time.Millisecond
	if refLat.Valid && refLon.Valid {
		r.ReferenceLat = &refLat.Float64
		r.ReferenceLon = &refLon.Float64
	}

	return r, true, nil
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
