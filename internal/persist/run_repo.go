package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// RunRow is one engine process lifetime.
type RunRow struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt *time.Time
	Host       string
	TickRate   uint32
	FrameRate  uint32
	Modules    []string
}

// StageRow records the moment a run entered a lifecycle stage.
type StageRow struct {
	RunID uuid.UUID
	Stage string
	At    time.Time
}

// SampleRow is a periodic frame counter sample.
type SampleRow struct {
	RunID        uuid.UUID
	At           time.Time
	UpdateFrames uint64
	RenderFrames uint64
	UpdateAvg    time.Duration
	RenderAvg    time.Duration
}

type RunRepo struct {
	db *DB
}

func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

func (r *RunRepo) StartRun(ctx context.Context, run RunRow) error {
	modules := run.Modules
	if modules == nil {
		modules = []string{}
	}
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO engine_runs (id, started_at, host, tick_rate, frame_rate, modules)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.StartedAt, run.Host, int32(run.TickRate), int32(run.FrameRate), modules,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (r *RunRepo) RecordStage(ctx context.Context, s StageRow) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO engine_run_stages (run_id, stage, at) VALUES ($1, $2, $3)`,
		s.RunID, s.Stage, s.At,
	)
	if err != nil {
		return fmt.Errorf("insert stage: %w", err)
	}
	return nil
}

func (r *RunRepo) RecordSample(ctx context.Context, s SampleRow) error {
	return insertSample(ctx, r.db.Pool, s)
}

// FinishRun writes the final sample and closes the run in one transaction.
func (r *RunRepo) FinishRun(ctx context.Context, final SampleRow) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("finish run begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertSample(ctx, tx, final); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx,
		`UPDATE engine_runs SET finished_at = $2 WHERE id = $1`,
		final.RunID, final.At,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish run %s: %w", final.RunID, pgx.ErrNoRows)
	}
	return tx.Commit(ctx)
}

// RecentRuns returns up to limit runs, newest first.
func (r *RunRepo) RecentRuns(ctx context.Context, limit int) ([]RunRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, started_at, finished_at, host, tick_rate, frame_rate, modules
		 FROM engine_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var (
			run       RunRow
			tick, fps int32
		)
		if err := rows.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.Host, &tick, &fps, &run.Modules); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.TickRate, run.FrameRate = uint32(tick), uint32(fps)
		out = append(out, run)
	}
	return out, rows.Err()
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertSample(ctx context.Context, db execer, s SampleRow) error {
	_, err := db.Exec(ctx,
		`INSERT INTO engine_run_samples (run_id, at, update_frames, render_frames, update_avg_us, render_avg_us)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		s.RunID, s.At, int64(s.UpdateFrames), int64(s.RenderFrames),
		s.UpdateAvg.Microseconds(), s.RenderAvg.Microseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}
