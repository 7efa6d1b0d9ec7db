package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"productelt/internal/store"
)

// Repo implements store.Repository for SQL Server.
//
// Dialect notes vs Postgres:
//   - No RETURNING: inserts that need the generated id use OUTPUT INSERTED.id.
//   - No LIMIT: LatestRun uses SELECT TOP 1.
//   - No array binds: changed-key filters expand to IN lists in chunks.
type Repo struct {
	db *sql.DB
}

func init() {
	store.Register("mssql", New)
}

func New(ctx context.Context, cfg store.Config) (store.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) EnsureControlTables(ctx context.Context) error {
	const configDDL = `IF OBJECT_ID(N'file_config', N'U') IS NULL
CREATE TABLE file_config (
  id BIGINT IDENTITY(1,1) PRIMARY KEY,
  name NVARCHAR(255) NOT NULL,
  source NVARCHAR(1024) NOT NULL,
  source_file_location NVARCHAR(1024) NOT NULL,
  destination_table_staging NVARCHAR(255) NOT NULL,
  destination_table_dw NVARCHAR(255) NOT NULL,
  bucket_name NVARCHAR(255),
  folder_b2_name NVARCHAR(255),
  bucket_id NVARCHAR(255)
);`
	const logsDDL = `IF OBJECT_ID(N'file_logs', N'U') IS NULL
CREATE TABLE file_logs (
  id BIGINT IDENTITY(1,1) PRIMARY KEY,
  id_config BIGINT NOT NULL,
  file_name NVARCHAR(1024),
  time DATE NOT NULL,
  status VARCHAR(10) NOT NULL,
  count BIGINT,
  file_size_kb BIGINT,
  dt_update DATETIMEOFFSET NOT NULL
);`
	for _, ddl := range []string{configDDL, logsDDL} {
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("mssql: ensure control tables: %w", err)
		}
	}
	return nil
}

func (r *Repo) ImportConfigs(ctx context.Context, cfgs []store.PipelineConfig) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	inserted := 0
	for _, c := range cfgs {
		res, err := tx.ExecContext(ctx, `INSERT INTO file_config
(name, source, source_file_location, destination_table_staging, destination_table_dw, bucket_name, folder_b2_name, bucket_id)
SELECT @p1, @p2, @p3, @p4, @p5, @p6, @p7, @p8
WHERE NOT EXISTS (SELECT 1 FROM file_config
  WHERE name = @p1 AND source = @p2 AND source_file_location = @p3
    AND destination_table_staging = @p4 AND destination_table_dw = @p5
    AND bucket_name = @p6 AND folder_b2_name = @p7 AND bucket_id = @p8)`,
			c.Name, c.Source, c.SourceFileLocation,
			c.DestinationTableStaging, c.DestinationTableDW,
			c.BucketName, c.FolderB2Name, c.BucketID)
		if err != nil {
			return inserted, fmt.Errorf("mssql: import config %q: %w", c.Name, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, err
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return inserted, err
	}
	return inserted, nil
}

const configColumns = `id, name, source, source_file_location, destination_table_staging, destination_table_dw,
COALESCE(bucket_name, ''), COALESCE(folder_b2_name, ''), COALESCE(bucket_id, '')`

func (r *Repo) GetConfig(ctx context.Context, id int64) (store.PipelineConfig, error) {
	var c store.PipelineConfig
	err := r.db.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM file_config WHERE id = @p1`, id).Scan(
		&c.ID, &c.Name, &c.Source, &c.SourceFileLocation,
		&c.DestinationTableStaging, &c.DestinationTableDW,
		&c.BucketName, &c.FolderB2Name, &c.BucketID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.PipelineConfig{}, fmt.Errorf("file_config id=%d: %w", id, store.ErrNotFound)
	}
	return c, err
}

func (r *Repo) ListConfigs(ctx context.Context) ([]store.PipelineConfig, error) {
	rows, err := r.db.QueryContext(ctx,
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
	err := r.db.QueryRowContext(ctx, `SELECT TOP 1 id, id_config, COALESCE(file_name, ''), time, status,
COALESCE(count, 0), COALESCE(file_size_kb, 0), dt_update
FROM file_logs WHERE id_config = @p1 AND time = @p2
ORDER BY id DESC`, idConfig, date).Scan(
		&l.ID, &l.IDConfig, &l.FileName, &l.Time, &status,
		&l.Count, &l.FileSizeKB, &l.DTUpdate)
	if errors.Is(err, sql.ErrNoRows) {
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
		return 0, fmt.Errorf("mssql: create run: invalid status %q", status)
	}

	var id int64
	err := r.db.QueryRowContext(ctx, buildCreateRunSQL(),
		idConfig, meta.FileName, date, string(status),
		meta.Count, meta.FileSizeKB, time.Now(),
		idConfig, date,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
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
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %d is not in status %s: %w", runID, from, store.ErrGuard)
	}
	return nil
}

func (r *Repo) AppendRun(ctx context.Context, idConfig int64, date time.Time, status store.Status, meta store.RunMeta) (int64, error) {
	if !status.Valid() {
		return 0, fmt.Errorf("mssql: append run: invalid status %q", status)
	}

	var id int64
	err := r.db.QueryRowContext(ctx, `INSERT INTO file_logs
(id_config, file_name, time, status, count, file_size_kb, dt_update)
OUTPUT INSERTED.id
VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p7)`,
		idConfig, meta.FileName, date, string(status),
		meta.Count, meta.FileSizeKB, time.Now(),
	).Scan(&id)
	return id, err
}
