package mssql

import (
	"context"
	"fmt"
	"strings"
	"time"

	"productelt/internal/store"
)

func (r *Repo) EnsureWarehouseTables(ctx context.Context) error {
	const tempDDL = `IF OBJECT_ID(N'temp_dw', N'U') IS NULL
CREATE TABLE temp_dw (
  natural_key NVARCHAR(1024) NOT NULL,
  sku NVARCHAR(255),
  product_name NVARCHAR(1024),
  price FLOAT,
  brand NVARCHAR(255),
  material NVARCHAR(255),
  shape NVARCHAR(255),
  dimension NVARCHAR(255),
  origin NVARCHAR(255),
  quantity_available BIGINT,
  product_url NVARCHAR(1024),
  id_config BIGINT NOT NULL,
  dt_extract DATE NOT NULL,
  dt_load DATE NOT NULL
);`
	const dwDDL = `IF OBJECT_ID(N'dw', N'U') IS NULL
CREATE TABLE dw (
  natural_key NVARCHAR(1024) NOT NULL,
  sku NVARCHAR(255),
  product_name NVARCHAR(1024),
  price FLOAT,
  brand NVARCHAR(255),
  material NVARCHAR(255),
  shape NVARCHAR(255),
  dimension NVARCHAR(255),
  origin NVARCHAR(255),
  quantity_available BIGINT,
  product_url NVARCHAR(1024),
  id_config BIGINT NOT NULL,
  dt_extract DATE NOT NULL,
  dt_load DATE NOT NULL,
  dt_load_to_dw DATE NOT NULL,
  dt_last_update DATE NOT NULL,
  dt_dim BIGINT
);`
	const dimDDL = `IF OBJECT_ID(N'date_dim', N'U') IS NULL
CREATE TABLE date_dim (
  id BIGINT IDENTITY(1,1) PRIMARY KEY,
  full_date DATE NOT NULL UNIQUE,
  day_of_month INT,
  month INT,
  day_name NVARCHAR(32),
  month_name NVARCHAR(32),
  year INT,
  start_of_week DATE,
  day_of_week INT,
  day_of_year INT,
  iso_week INT,
  iso_week_year INT,
  start_of_iso_week DATE,
  iso_week_alt INT,
  iso_week_year_alt INT,
  start_of_iso_alt DATE,
  quarter NVARCHAR(8),
  quarter_num INT,
  holiday_flag BIT,
  is_weekend BIT
);`
	const openIdx = `IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = 'idx_dw_open' AND object_id = OBJECT_ID(N'dw'))
CREATE INDEX idx_dw_open ON dw (natural_key, dt_last_update);`

	for _, ddl := range []string{tempDDL, dwDDL, dimDDL, openIdx} {
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("mssql: ensure warehouse tables: %w", err)
		}
	}
	return nil
}

// Merge runs one SCD Type-2 pass in a single transaction. Change detection
// compares the buffer against the open dw rows: rows inserted for new keys
// in the same pass equal their buffer row by construction, so they never
// register as changed, and a rerun of the same buffer is a no-op.
func (r *Repo) Merge(ctx context.Context, rows []store.StagedProduct, idConfig int64, loadDate time.Time) (store.MergeStats, error) {
	var stats store.MergeStats
	stats.BufferRows = int64(len(rows))

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, err
	}
	defer func() { _ = tx.Rollback() }()

	open := store.OpenEndDate

	// 1. Rebuild the buffer.
	if _, err := tx.ExecContext(ctx, `DELETE FROM temp_dw`); err != nil {
		return stats, fmt.Errorf("mssql: clear temp_dw: %w", err)
	}
	for start := 0; start < len(rows); start += insertChunk {
		end := start + insertChunk
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		args := make([]any, 0, len(chunk)*len(dwDataColumns))
		for _, p := range chunk {
			args = append(args,
				p.NaturalKey, p.SKU, p.ProductName, p.Price, p.Brand,
				p.Material, p.Shape, p.Dimension, p.Origin,
				p.QuantityAvailable, p.ProductURL,
				p.IDConfig, p.DTExtract, p.DTLoad)
		}

		cols := len(dwDataColumns)
		values := make([]string, 0, len(chunk))
		for i := 0; i < len(chunk); i++ {
			values = append(values, placeholderRow(i*cols+1, cols))
		}
		q := fmt.Sprintf(`INSERT INTO temp_dw (%s) VALUES %s`,
			identList(dwDataColumns), strings.Join(values, ", "))
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return stats, fmt.Errorf("mssql: fill temp_dw: %w", err)
		}
	}

	// 2. First version for never-seen keys.
	res, err := tx.ExecContext(ctx, buildNewKeysSQL(), loadDate, open, idConfig)
	if err != nil {
		return stats, fmt.Errorf("mssql: insert new keys: %w", err)
	}
	if stats.NewKeys, err = res.RowsAffected(); err != nil {
		return stats, err
	}

	// 3. Changed keys against the open rows.
	keyRows, err := tx.QueryContext(ctx, buildChangedKeysSQL(), idConfig, open)
	if err != nil {
		return stats, fmt.Errorf("mssql: detect changed keys: %w", err)
	}
	var changed []string
	for keyRows.Next() {
		var k string
		if err := keyRows.Scan(&k); err != nil {
			keyRows.Close()
			return stats, err
		}
		changed = append(changed, k)
	}
	if err := keyRows.Err(); err != nil {
		keyRows.Close()
		return stats, err
	}
	keyRows.Close()
	stats.ChangedKeys = int64(len(changed))

	// 4+5. Close the open row and open the buffer's version, in IN-list
	// chunks to stay under the parameter limit.
	for start := 0; start < len(changed); start += insertChunk {
		end := start + insertChunk
		if end > len(changed) {
			end = len(changed)
		}
		keys := changed[start:end]

		closeArgs := make([]any, 0, len(keys)+2)
		closeArgs = append(closeArgs, loadDate, open)
		for _, k := range keys {
			closeArgs = append(closeArgs, k)
		}
		if _, err := tx.ExecContext(ctx, buildCloseChangedSQL(len(keys)), closeArgs...); err != nil {
			return stats, fmt.Errorf("mssql: close changed keys: %w", err)
		}

		insArgs := make([]any, 0, len(keys)+3)
		insArgs = append(insArgs, loadDate, open, idConfig)
		for _, k := range keys {
			insArgs = append(insArgs, k)
		}
		if _, err := tx.ExecContext(ctx, buildInsertChangedSQL(len(keys)), insArgs...); err != nil {
			return stats, fmt.Errorf("mssql: insert changed versions: %w", err)
		}
	}

	// 6. Resolve calendar surrogate keys.
	res, err = tx.ExecContext(ctx, buildBackfillSQL())
	if err != nil {
		return stats, fmt.Errorf("mssql: backfill dt_dim: %w", err)
	}
	if stats.Backfilled, err = res.RowsAffected(); err != nil {
		return stats, err
	}

	if err := tx.Commit(); err != nil {
		return stats, err
	}
	return stats, nil
}

func (r *Repo) ExportWarehouse(ctx context.Context) ([]string, [][]string, error) {
	header := []string{"natural_key", "sku", "product_name", "price", "brand", "material",
		"shape", "dimension", "origin", "quantity_available", "product_url",
		"id_config", "dt_extract", "dt_load", "dt_load_to_dw", "dt_last_update", "dt_dim"}

	q := fmt.Sprintf(`SELECT %s FROM dw ORDER BY natural_key, dt_load_to_dw, dt_last_update`,
		identList(header))
	return r.exportQuery(ctx, header, q)
}

func (r *Repo) InsertDateDim(ctx context.Context, header []string, rows [][]string) error {
	for _, c := range header {
		if !store.ValidDateDimColumn(c) {
			return fmt.Errorf("mssql: date_dim: unknown column %q", c)
		}
	}

	fullDateIdx := -1
	for i, c := range header {
		if c == "full_date" {
			fullDateIdx = i
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Guard on full_date keeps calendar loads rerunnable.
	q := fmt.Sprintf(`INSERT INTO date_dim (%s) SELECT %s`,
		identList(header), strings.Trim(placeholderRow(1, len(header)), "()"))
	if fullDateIdx >= 0 {
		q += fmt.Sprintf(` WHERE NOT EXISTS (SELECT 1 FROM date_dim WHERE full_date = @p%d)`,
			fullDateIdx+1)
	}

	for i, row := range rows {
		if len(row) != len(header) {
			return fmt.Errorf("mssql: date_dim row %d has %d cells, header has %d",
				i+1, len(row), len(header))
		}
		args := make([]any, len(row))
		for j, cell := range row {
			v, err := store.ParseDateDimValue(header[j], cell)
			if err != nil {
				return fmt.Errorf("mssql: date_dim row %d: %w", i+1, err)
			}
			args[j] = v
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("mssql: date_dim row %d: %w", i+1, err)
		}
	}

	return tx.Commit()
}
