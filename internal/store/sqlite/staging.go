package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"productelt/internal/store"
)

// insertChunk caps the rows per multi-row INSERT so the bind count stays
// well under SQLite's default variable limit.
const insertChunk = 500

func (r *Repo) EnsureStagingTable(ctx context.Context, table string) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  load_seq INTEGER PRIMARY KEY AUTOINCREMENT,
  product_name TEXT,
  price REAL,
  brand TEXT,
  sku TEXT,
  material TEXT,
  shape TEXT,
  dimension TEXT,
  origin TEXT,
  quantity_available INTEGER,
  product_url TEXT,
  natural_key TEXT NOT NULL,
  id_config INTEGER NOT NULL,
  dt_extract TEXT NOT NULL,
  dt_load TEXT NOT NULL
);`, sqlIdent(table))

	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("sqlite: ensure staging table %s: %w", table, err)
	}
	return nil
}

func (r *Repo) LoadStaging(ctx context.Context, table string, recs []store.ExtractRecord, idConfig int64, dtExtract, dtLoad time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	t := sqlIdent(table)

	// Replace the slice: a rerun of the same load date must not stack rows.
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id_config = ? AND dt_load = ?`, t),
		idConfig, fmtDate(dtLoad)); err != nil {
		return 0, fmt.Errorf("sqlite: clear staging slice: %w", err)
	}

	for start := 0; start < len(recs); start += insertChunk {
		end := start + insertChunk
		if end > len(recs) {
			end = len(recs)
		}
		chunk := recs[start:end]

		args := make([]any, 0, len(chunk)*len(stagingColumns))
		for _, rec := range chunk {
			args = append(args,
				rec.ProductName, rec.Price, rec.Brand, rec.SKU,
				rec.Material, rec.Shape, rec.Dimension, rec.Origin,
				rec.QuantityAvailable, rec.ProductURL,
				rec.NaturalKey(), idConfig, fmtDate(dtExtract), fmtDate(dtLoad))
		}
		if _, err := tx.ExecContext(ctx, buildStagingInsertSQL(table, len(chunk)), args...); err != nil {
			return 0, fmt.Errorf("sqlite: insert staging rows: %w", err)
		}
	}

	transformSQL, transformArgs := buildTransformSQL(table)
	transformArgs = append(transformArgs, idConfig, fmtDate(dtLoad))
	if _, err := tx.ExecContext(ctx, transformSQL, transformArgs...); err != nil {
		return 0, fmt.Errorf("sqlite: staging transform: %w", err)
	}

	if _, err := tx.ExecContext(ctx, buildDedupeSQL(table),
		idConfig, fmtDate(dtLoad), idConfig, fmtDate(dtLoad)); err != nil {
		return 0, fmt.Errorf("sqlite: staging dedupe: %w", err)
	}

	var count int64
	if err := tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE id_config = ? AND dt_load = ?`, t),
		idConfig, fmtDate(dtLoad)).Scan(&count); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *Repo) SelectStaged(ctx context.Context, table string, idConfig int64, dtLoad time.Time) ([]store.StagedProduct, error) {
	q := fmt.Sprintf(`SELECT natural_key, sku, product_name, price, brand, material, shape,
dimension, origin, quantity_available, product_url, id_config, dt_extract, dt_load
FROM %s WHERE id_config = ? AND dt_load = ? ORDER BY load_seq`, sqlIdent(table))

	rows, err := r.db.QueryContext(ctx, q, idConfig, fmtDate(dtLoad))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.StagedProduct
	for rows.Next() {
		var (
			p                  store.StagedProduct
			rawExtract, rawLoad string
		)
		if err := rows.Scan(&p.NaturalKey, &p.SKU, &p.ProductName, &p.Price,
			&p.Brand, &p.Material, &p.Shape, &p.Dimension, &p.Origin,
			&p.QuantityAvailable, &p.ProductURL, &p.IDConfig,
			&rawExtract, &rawLoad); err != nil {
			return nil, err
		}
		if p.DTExtract, err = parseDate(rawExtract); err != nil {
			return nil, fmt.Errorf("%s.dt_extract: %w", table, err)
		}
		if p.DTLoad, err = parseDate(rawLoad); err != nil {
			return nil, fmt.Errorf("%s.dt_load: %w", table, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) ExportStaging(ctx context.Context, table string) ([]string, [][]string, error) {
	header := []string{"product_name", "price", "brand", "sku", "material", "shape",
		"dimension", "origin", "quantity_available", "product_url",
		"natural_key", "id_config", "dt_extract", "dt_load"}

	q := fmt.Sprintf(`SELECT %s FROM %s ORDER BY load_seq`, identList(header), sqlIdent(table))
	return r.exportQuery(ctx, header, q)
}

func (r *Repo) exportQuery(ctx context.Context, header []string, q string) ([]string, [][]string, error) {
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		vals := make([]any, len(header))
		scan := make([]any, len(header))
		for i := range vals {
			scan[i] = &vals[i]
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, nil, err
		}
		out = append(out, store.RenderRow(vals))
	}
	return header, out, rows.Err()
}

func (r *Repo) TruncateStaging(ctx context.Context, table string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM `+sqlIdent(table)); err != nil {
		return fmt.Errorf("sqlite: truncate %s: %w", table, err)
	}

	// Reset load_seq. sqlite_sequence does not exist until the first
	// AUTOINCREMENT insert anywhere in the database.
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM sqlite_sequence WHERE name = ?`, table); err != nil &&
		!strings.Contains(err.Error(), "no such table") {
		return fmt.Errorf("sqlite: reset sequence for %s: %w", table, err)
	}
	return nil
}
