package sqlite

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
  price REAL,
  brand TEXT,
  material TEXT,
  shape TEXT,
  dimension TEXT,
  origin TEXT,
  quantity_available INTEGER,
  product_url TEXT,
  id_config INTEGER NOT NULL,
  dt_extract TEXT NOT NULL,
  dt_load TEXT NOT NULL
);`
	const dwDDL = `CREATE TABLE IF NOT EXISTS dw (
  natural_key TEXT NOT NULL,
  sku TEXT,
  product_name TEXT,
  price REAL,
  brand TEXT,
  material TEXT,
  shape TEXT,
  dimension TEXT,
  origin TEXT,
  quantity_available INTEGER,
  product_url TEXT,
  id_config INTEGER NOT NULL,
  dt_extract TEXT NOT NULL,
  dt_load TEXT NOT NULL,
  dt_load_to_dw TEXT NOT NULL,
  dt_last_update TEXT NOT NULL,
  dt_dim INTEGER
);`
	const dimDDL = `CREATE TABLE IF NOT EXISTS date_dim (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  full_date TEXT NOT NULL UNIQUE,
  day_of_month INTEGER,
  month INTEGER,
  day_name TEXT,
  month_name TEXT,
  year INTEGER,
  start_of_week TEXT,
  day_of_week INTEGER,
  day_of_year INTEGER,
  iso_week INTEGER,
  iso_week_year INTEGER,
  start_of_iso_week TEXT,
  iso_week_alt INTEGER,
  iso_week_year_alt INTEGER,
  start_of_iso_alt TEXT,
  quarter TEXT,
  quarter_num INTEGER,
  holiday_flag INTEGER,
  is_weekend INTEGER
);`
	const openIdx = `CREATE INDEX IF NOT EXISTS idx_dw_open ON dw (natural_key, dt_last_update);`

	for _, ddl := range []string{tempDDL, dwDDL, dimDDL, openIdx} {
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("sqlite: ensure warehouse tables: %w", err)
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

	open := fmtDate(store.OpenEndDate)
	load := fmtDate(loadDate)

	// 1. Rebuild the buffer.
	if _, err := tx.ExecContext(ctx, `DELETE FROM temp_dw`); err != nil {
		return stats, fmt.Errorf("sqlite: clear temp_dw: %w", err)
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
				p.IDConfig, fmtDate(p.DTExtract), fmtDate(p.DTLoad))
		}
		q := fmt.Sprintf(`INSERT INTO temp_dw (%s) VALUES %s`,
			identList(dwDataColumns), multiRow(len(chunk), len(dwDataColumns)))
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return stats, fmt.Errorf("sqlite: fill temp_dw: %w", err)
		}
	}

	// 2. First version for never-seen keys.
	res, err := tx.ExecContext(ctx, buildNewKeysSQL(), load, open, idConfig)
	if err != nil {
		return stats, fmt.Errorf("sqlite: insert new keys: %w", err)
	}
	if stats.NewKeys, err = res.RowsAffected(); err != nil {
		return stats, err
	}

	// 3. Changed keys against the pre-insert open rows.
	keyRows, err := tx.QueryContext(ctx, buildChangedKeysSQL(), idConfig, open)
	if err != nil {
		return stats, fmt.Errorf("sqlite: detect changed keys: %w", err)
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

	// 4+5. Close the open row and open the buffer's version, chunked to stay
	// under the bind limit.
	for start := 0; start < len(changed); start += insertChunk {
		end := start + insertChunk
		if end > len(changed) {
			end = len(changed)
		}
		keys := changed[start:end]

		closeArgs := make([]any, 0, len(keys)+2)
		closeArgs = append(closeArgs, load, open)
		for _, k := range keys {
			closeArgs = append(closeArgs, k)
		}
		if _, err := tx.ExecContext(ctx, buildCloseChangedSQL(len(keys)), closeArgs...); err != nil {
			return stats, fmt.Errorf("sqlite: close changed keys: %w", err)
		}

		insArgs := make([]any, 0, len(keys)+3)
		insArgs = append(insArgs, load, open, idConfig)
		for _, k := range keys {
			insArgs = append(insArgs, k)
		}
		if _, err := tx.ExecContext(ctx, buildInsertChangedSQL(len(keys)), insArgs...); err != nil {
			return stats, fmt.Errorf("sqlite: insert changed versions: %w", err)
		}
	}

	// 6. Resolve calendar surrogate keys.
	res, err = tx.ExecContext(ctx, buildBackfillSQL())
	if err != nil {
		return stats, fmt.Errorf("sqlite: backfill dt_dim: %w", err)
	}
	if stats.Backfilled, err = res.RowsAffected(); err != nil {
		return stats, err
	}

	if err := tx.Commit(); err != nil {
		return stats, err
	}
	return stats, nil
}

func multiRow(rows, cols int) string {
	ph := placeholderRow(cols)
	out := ph
	for i := 1; i < rows; i++ {
		out += ", " + ph
	}
	return out
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
			return fmt.Errorf("sqlite: date_dim: unknown column %q", c)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	q := fmt.Sprintf(`INSERT INTO date_dim (%s) VALUES %s`,
		identList(header), placeholderRow(len(header)))
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, row := range rows {
		if len(row) != len(header) {
			return fmt.Errorf("sqlite: date_dim row %d has %d cells, header has %d",
				i+1, len(row), len(header))
		}
		args := make([]any, len(row))
		for j, cell := range row {
			v, err := store.ParseDateDimValue(header[j], cell)
			if err != nil {
				return fmt.Errorf("sqlite: date_dim row %d: %w", i+1, err)
			}
			// Dates go in as YYYY-MM-DD text so they compare against
			// dw.dt_extract during backfill.
			if t, ok := v.(time.Time); ok {
				v = fmtDate(t)
			}
			args[j] = v
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("sqlite: date_dim row %d: %w", i+1, err)
		}
	}

	return tx.Commit()
}
