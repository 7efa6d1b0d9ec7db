package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"productelt/internal/store"
)

// Repo implements store.Repository for SQLite.
//
// Key design points vs Postgres:
//   - SQLite has no DATE type. All pipeline dates are stored as TEXT in
//     YYYY-MM-DD form and dt_update as RFC3339Nano; both orders sort
//     chronologically, which the sentinel end-date comparison needs.
//   - "INTEGER PRIMARY KEY AUTOINCREMENT" provides the monotonic file_logs
//     id sequence the coordinator orders on.
type Repo struct {
	db *sql.DB
}

func init() {
	store.Register("sqlite", New)
}

func New(ctx context.Context, cfg store.Config) (store.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
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
	const configDDL = `CREATE TABLE IF NOT EXISTS file_config (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
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
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  id_config INTEGER NOT NULL,
  file_name TEXT,
  time TEXT NOT NULL,
  status TEXT NOT NULL,
  count INTEGER,
  file_size_kb INTEGER,
  dt_update TEXT NOT NULL
);`
	for _, ddl := range []string{configDDL, logsDDL} {
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("sqlite: ensure control tables: %w", err)
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
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_config
WHERE name = ? AND source = ? AND source_file_location = ?
  AND destination_table_staging = ? AND destination_table_dw = ?
  AND bucket_name = ? AND folder_b2_name = ? AND bucket_id = ?`,
			c.Name, c.Source, c.SourceFileLocation,
			c.DestinationTableStaging, c.DestinationTableDW,
			c.BucketName, c.FolderB2Name, c.BucketID,
		).Scan(&exists)
		if err != nil {
			return inserted, fmt.Errorf("sqlite: import config %q: %w", c.Name, err)
		}
		if exists > 0 {
			continue
		}

		_, err = tx.ExecContext(ctx, `INSERT INTO file_config
(name, source, source_file_location, destination_table_staging, destination_table_dw, bucket_name, folder_b2_name, bucket_id)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.Name, c.Source, c.SourceFileLocation,
			c.DestinationTableStaging, c.DestinationTableDW,
			c.BucketName, c.FolderB2Name, c.BucketID)
		if err != nil {
			return inserted, fmt.Errorf("sqlite: import config %q: %w", c.Name, err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return inserted, err
	}
	return inserted, nil
}

const configColumns = `id, name, source, source_file_location, destination_table_staging, destination_table_dw,
COALESCE(bucket_name, ''), COALESCE(folder_b2_name, ''), COALESCE(bucket_id, '')`

func scanConfig(row interface{ Scan(...any) error }) (store.PipelineConfig, error) {
	var c store.PipelineConfig
	err := row.Scan(&c.ID, &c.Name, &c.Source, &c.SourceFileLocation,
		&c.DestinationTableStaging, &c.DestinationTableDW,
		&c.BucketName, &c.FolderB2Name, &c.BucketID)
	return c, err
}

func (r *Repo) GetConfig(ctx context.Context, id int64) (store.PipelineConfig, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM file_config WHERE id = ?`, id)
	c, err := scanConfig(row)
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
		c, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repo) LatestRun(ctx context.Context, idConfig int64, date time.Time) (store.RunLog, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, id_config, COALESCE(file_name, ''), time, status,
COALESCE(count, 0), COALESCE(file_size_kb, 0), dt_update
FROM file_logs WHERE id_config = ? AND time = ?
ORDER BY id DESC LIMIT 1`, idConfig, fmtDate(date))

	return scanRunLog(row, idConfig, date)
}

func scanRunLog(row interface{ Scan(...any) error }, idConfig int64, date time.Time) (store.RunLog, error) {
	var (
		l          store.RunLog
		rawTime    string
		rawStatus  string
		rawUpdated string
	)
	err := row.Scan(&l.ID, &l.IDConfig, &l.FileName, &rawTime, &rawStatus,
		&l.Count, &l.FileSizeKB, &rawUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return store.RunLog{}, fmt.Errorf("file_logs id_config=%d time=%s: %w",
			idConfig, fmtDate(date), store.ErrNotFound)
	}
	if err != nil {
		return store.RunLog{}, err
	}

	if l.Time, err = parseDate(rawTime); err != nil {
		return store.RunLog{}, fmt.Errorf("file_logs.time: %w", err)
	}
	if l.DTUpdate, err = parseTime(rawUpdated); err != nil {
		return store.RunLog{}, fmt.Errorf("file_logs.dt_update: %w", err)
	}
	l.Status = store.Status(rawStatus)
	return l, nil
}

func (r *Repo) CreateRun(ctx context.Context, idConfig int64, date time.Time, status store.Status, meta store.RunMeta) (int64, error) {
	if !status.Valid() {
		return 0, fmt.Errorf("sqlite: create run: invalid status %q", status)
	}

	var id int64
	err := r.db.QueryRowContext(ctx, buildCreateRunSQL(),
		idConfig, meta.FileName, fmtDate(date), string(status),
		meta.Count, meta.FileSizeKB, fmtTime(time.Now()),
		idConfig, fmtDate(date),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("run for id_config=%d time=%s already exists: %w",
			idConfig, fmtDate(date), store.ErrGuard)
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
		return 0, fmt.Errorf("sqlite: append run: invalid status %q", status)
	}

	var id int64
	err := r.db.QueryRowContext(ctx, `INSERT INTO file_logs
(id_config, file_name, time, status, count, file_size_kb, dt_update)
VALUES (?, ?, ?, ?, ?, ?, ?)
RETURNING id`,
		idConfig, meta.FileName, fmtDate(date), string(status),
		meta.Count, meta.FileSizeKB, fmtTime(time.Now()),
	).Scan(&id)
	return id, err
}
