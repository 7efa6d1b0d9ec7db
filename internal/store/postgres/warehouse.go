package postgres

import (
	"context"
	"fmt"
	"time"

	"productelt/internal/store"
)

func (r *Repo) EnsureWarehouseTables(ctx context.Context) error {
	const tempDDL = `CREATE TABLE IF NOT EXISTS temp_dw (
  natural_key TEXT NOT NULL,
  sku TEXT,
  product_name TEXT,
  price DOUBLE PRECISION,
  brand TEXT,
  material TEXT,
  shape TEXT,
  dimension TEXT,
  origin TEXT,
  quantity_available BIGINT,
  product_url TEXT,
  id_config BIGINT NOT NULL,
  dt_extract DATE NOT NULL,
  dt_load DATE NOT NULL
);`
	const dwDDL = `CREATE TABLE IF NOT EXISTS dw (
  natural_key TEXT NOT NULL,
  sku TEXT,
  product_name TEXT,
  price DOUBLE PRECISION,
  brand TEXT,
  material TEXT,
  shape TEXT,
  dimension TEXT,
  origin TEXT,
  quantity_available BIGINT,
  product_url TEXT,
  id_config BIGINT NOT NULL,
  dt_extract DATE NOT NULL,
  dt_load DATE NOT NULL,
  dt_load_to_dw DATE NOT NULL,
  dt_last_update DATE NOT NULL,
  dt_dim BIGINT
);`
	const dimDDL = `CREATE TABLE IF NOT EXISTS date_dim (
  id BIGSERIAL PRIMARY KEY,
  full_date DATE NOT NULL UNIQUE,
  day_of_month INT,
  month INT,
  day_name TEXT,
  month_name TEXT,
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
  quarter TEXT,
  quarter_num INT,
  holiday_flag BOOLEAN,
  is_weekend BOOLEAN
);`
	const openIdx = `CREATE INDEX IF NOT EXISTS idx_dw_open ON dw (natural_key, dt_last_update);`

	for _, ddl := range []string{tempDDL, dwDDL, dimDDL, openIdx} {
		if _, err := r.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("postgres: ensure warehouse tables: %w", err)
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

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return stats, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	open := store.OpenEndDate

	// 1. Rebuild the buffer.
	if _, err := tx.Exec(ctx, `DELETE FROM temp_dw`); err != nil {
		return stats, fmt.Errorf("postgres: clear temp_dw: %w", err)
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

		var q string
		{
			cols := len(dwDataColumns)
			values := ""
			for i := 0; i < len(chunk); i++ {
				if i > 0 {
					values += ", "
				}
				values += placeholderRow(i*cols+1, cols)
			}
			q = fmt.Sprintf(`INSERT INTO temp_dw (%s) VALUES %s`, identList(dwDataColumns), values)
		}
		if _, err := tx.Exec(ctx, q, args...); err != nil {
			return stats, fmt.Errorf("postgres: fill temp_dw: %w", err)
		}
	}

	// 2. First version for never-seen keys.
	cmd, err := tx.Exec(ctx, buildNewKeysSQL(), loadDate, open, idConfig)
	if err != nil {
		return stats, fmt.Errorf("postgres: insert new keys: %w", err)
	}
	stats.NewKeys = cmd.RowsAffected()

	// 3. Changed keys against the open rows.
	keyRows, err := tx.Query(ctx, buildChangedKeysSQL(), idConfig, open)
	if err != nil {
		return stats, fmt.Errorf("postgres: detect changed keys: %w", err)
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

	// 4+5. Close the open row and open the buffer's version.
	if len(changed) > 0 {
		if _, err := tx.Exec(ctx, buildCloseChangedSQL(), loadDate, open, changed); err != nil {
			return stats, fmt.Errorf("postgres: close changed keys: %w", err)
		}
		if _, err := tx.Exec(ctx, buildInsertChangedSQL(), loadDate, open, idConfig, changed); err != nil {
			return stats, fmt.Errorf("postgres: insert changed versions: %w", err)
		}
	}

	// 6. Resolve calendar surrogate keys.
	cmd, err = tx.Exec(ctx, buildBackfillSQL())
	if err != nil {
		return stats, fmt.Errorf("postgres: backfill dt_dim: %w", err)
	}
	stats.Backfilled = cmd.RowsAffected()

	if err := tx.Commit(ctx); err != nil {
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
			return fmt.Errorf("postgres: date_dim: unknown column %q", c)
		}
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// ON CONFLICT keeps calendar loads rerunnable; the natural unique key
	// is full_date.
	q := fmt.Sprintf(`INSERT INTO date_dim (%s) VALUES %s ON CONFLICT (full_date) DO NOTHING`,
		identList(header), placeholderRow(1, len(header)))

	for i, row := range rows {
		if len(row) != len(header) {
			return fmt.Errorf("postgres: date_dim row %d has %d cells, header has %d",
				i+1, len(row), len(header))
		}
		args := make([]any, len(row))
		for j, cell := range row {
			v, err := store.ParseDateDimValue(header[j], cell)
			if err != nil {
				return fmt.Errorf("postgres: date_dim row %d: %w", i+1, err)
			}
			args[j] = v
		}
		if _, err := tx.Exec(ctx, q, args...); err != nil {
			return fmt.Errorf("postgres: date_dim row %d: %w", i+1, err)
		}
	}

	return tx.Commit(ctx)
}
