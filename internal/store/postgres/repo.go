package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"productelt/internal/store"
)

// Repo implements store.Repository for Postgres, the production backend for
// all three pipeline databases.
//
// Dates are native DATE columns and the open-row sentinel is the literal
// date 9999-12-31, so comparisons and ordering need no dialect tricks here.
type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	store.Register("postgres", New)
}

func New(ctx context.Context, cfg store.Config) (store.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

func (r *Repo) Close() { r.pool.Close() }

func (r *Repo) EnsureControlTables(ctx context.Context) error {
	const configDDL = `CREATE TABLE IF NOT EXISTS file_config (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL,
  source TEXT NOT NULL,
  source_file_location TEXT NOT NULL,
  destination_table_staging TEXT NOT NULL,
  destination_table_dw TEXT NOT NULL,
  bucket_name TEXT,
  folder_b2_name TEXT,
  bucket_id TEXT
);`
	const logsDDL = `CREATE TABLE IF NOT EXISTS file_logs (
  id BIGSERIAL PRIMARY KEY,
  id_config BIGINT NOT NULL,
  file_name TEXT,
  time DATE NOT NULL,
  status VARCHAR(10) NOT NULL,
  count BIGINT,
  file_size_kb BIGINT,
  dt_update TIMESTAMPTZ NOT NULL
);`
	for _, ddl := range []string{configDDL, logsDDL} {
		if _, err := r.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("postgres: ensure control tables: %w", err)
		}
	}
	return nil
}

func (r *Repo) ImportConfigs(ctx context.Context, cfgs []store.PipelineConfig) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inserted := 0
	for _, c := range cfgs {
		cmd, err := tx.Exec(ctx, `INSERT INTO file_config
(name, source, source_file_location, destination_table_staging, destination_table_dw, bucket_name, folder_b2_name, bucket_id)
SELECT $1, $2, $3, $4, $5, $6, $7, $8
WHERE NOT EXISTS (SELECT 1 FROM file_config
  WHERE name = $1 AND source = $2 AND source_file_location = $3
    AND destination_table_staging = $4 AND destination_table_dw = $5
    AND bucket_name = $6 AND folder_b2_name = $7 AND bucket_id = $8)`,
			c.Name, c.Source, c.SourceFileLocation,
			c.DestinationTableStaging, c.DestinationTableDW,
			c.BucketName, c.FolderB2Name, c.BucketID)
		if err != nil {
			return inserted, fmt.Errorf("postgres: import config %q: %w", c.Name, err)
		}
		inserted += int(cmd.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return inserted, err
	}
	return inserted, nil
}

const configColumns = `id, name, source, source_file_location, destination_table_staging, destination_table_dw,
COALESCE(bucket_name, ''), COALESCE(folder_b2_name, ''), COALESCE(bucket_id, '')`

func (r *Repo) GetConfig(ctx context.Context, id int64) (store.PipelineConfig, error) {
	var c store.PipelineConfig
	err := r.pool.QueryRow(ctx,
		`SELECT `+configColumns+` FROM file_config WHERE id = $1`, id).Scan(
		&c.ID, &c.Name, &c.Source, &c.SourceFileLocation,
		&c.DestinationTableStaging, &c.DestinationTableDW,
		&c.BucketName, &c.FolderB2Name, &c.BucketID)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.PipelineConfig{}, fmt.Errorf("file_config id=%d: %w", id, store.ErrNotFound)
	}
	return c, err
}

func (r *Repo) ListConfigs(ctx context.Context) ([]store.PipelineConfig, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+configColumns+` FROM file_config ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.PipelineConfig
	for rows.Next() {
		var c store.PipelineConfig
		if err := rows.Scan(&c.ID, &c.Name, &c.Source, &c.SourceFileLocation,
			&c.DestinationTableStaging, &c.DestinationTableDW,
			&c.BucketName, &c.FolderB2Name, &c.BucketID); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repo) LatestRun(ctx context.Context, idConfig int64, date time.Time) (store.RunLog, error) {
	var (
		l      store.RunLog
		status string
	)
	err := r.pool.QueryRow(ctx, `SELECT id, id_config, COALESCE(file_name, ''), time, status,
COALESCE(count, 0), COALESCE(file_size_kb, 0), dt_update
FROM file_logs WHERE id_config = $1 AND time = $2
ORDER BY id DESC LIMIT 1`, idConfig, date).Scan(
		&l.ID, &l.IDConfig, &l.FileName, &l.Time, &status,
		&l.Count, &l.FileSizeKB, &l.DTUpdate)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.RunLog{}, fmt.Errorf("file_logs id_config=%d time=%s: %w",
			idConfig, date.Format("2006-01-02"), store.ErrNotFound)
	}
	if err != nil {
		return store.RunLog{}, err
	}
	l.Status = store.Status(status)
	return l, nil
}

func (r *Repo) CreateRun(ctx context.Context, idConfig int64, date time.Time, status store.Status, meta store.RunMeta) (int64, error) {
	if !status.Valid() {
		return 0, fmt.Errorf("postgres: create run: invalid status %q", status)
	}

	var id int64
	err := r.pool.QueryRow(ctx, buildCreateRunSQL(),
		idConfig, meta.FileName, date, string(status),
		meta.Count, meta.FileSizeKB, time.Now(),
		idConfig, date,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("run for id_config=%d time=%s already exists: %w",
			idConfig, date.Format("2006-01-02"), store.ErrGuard)
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *Repo) Transition(ctx context.Context, runID int64, from, to store.Status, meta store.RunMeta) error {
	if err := store.CheckTransition(from, to); err != nil {
		return err
	}

	q, args := buildTransitionSQL(runID, from, to, meta, time.Now())
	cmd, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("run %d is not in status %s: %w", runID, from, store.ErrGuard)
	}
	return nil
}

func (r *Repo) AppendRun(ctx context.Context, idConfig int64, date time.Time, status store.Status, meta store.RunMeta) (int64, error) {
	if !status.Valid() {
		return 0, fmt.Errorf("postgres: append run: invalid status %q", status)
	}

	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO file_logs
(id_config, file_name, time, status, count, file_size_kb, dt_update)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`,
		idConfig, meta.FileName, date, string(status),
		meta.Count, meta.FileSizeKB, time.Now(),
	).Scan(&id)
	return id, err
}
