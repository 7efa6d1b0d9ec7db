package postgres

import (
	"context"
	"fmt"
	"time"

	"productelt/internal/store"
)

const insertChunk = 500

func (r *Repo) EnsureStagingTable(ctx context.Context, table string) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  load_seq BIGSERIAL PRIMARY KEY,
  product_name TEXT,
  price DOUBLE PRECISION,
  brand TEXT,
  sku TEXT,
  material TEXT,
  shape TEXT,
  dimension TEXT,
  origin TEXT,
  quantity_available BIGINT,
  product_url TEXT,
  natural_key TEXT NOT NULL,
  id_config BIGINT NOT NULL,
  dt_extract DATE NOT NULL,
  dt_load DATE NOT NULL
);`, pgIdent(table))

	if _, err := r.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres: ensure staging table %s: %w", table, err)
	}
	return nil
}

func (r *Repo) LoadStaging(ctx context.Context, table string, recs []store.ExtractRecord, idConfig int64, dtExtract, dtLoad time.Time) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	t := pgIdent(table)

	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id_config = $1 AND dt_load = $2`, t),
		idConfig, dtLoad); err != nil {
		return 0, fmt.Errorf("postgres: clear staging slice: %w", err)
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
				rec.NaturalKey(), idConfig, dtExtract, dtLoad)
		}
		if _, err := tx.Exec(ctx, buildStagingInsertSQL(table, len(chunk)), args...); err != nil {
			return 0, fmt.Errorf("postgres: insert staging rows: %w", err)
		}
	}

	transformSQL, transformArgs := buildTransformSQL(table)
	transformArgs = append(transformArgs, idConfig, dtLoad)
	if _, err := tx.Exec(ctx, transformSQL, transformArgs...); err != nil {
		return 0, fmt.Errorf("postgres: staging transform: %w", err)
	}

	if _, err := tx.Exec(ctx, buildDedupeSQL(table), idConfig, dtLoad); err != nil {
		return 0, fmt.Errorf("postgres: staging dedupe: %w", err)
	}

	var count int64
	if err := tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE id_config = $1 AND dt_load = $2`, t),
		idConfig, dtLoad).Scan(&count); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *Repo) SelectStaged(ctx context.Context, table string, idConfig int64, dtLoad time.Time) ([]store.StagedProduct, error) {
	q := fmt.Sprintf(`SELECT natural_key, sku, product_name, price, brand, material, shape,
dimension, origin, quantity_available, product_url, id_config, dt_extract, dt_load
FROM %s WHERE id_config = $1 AND dt_load = $2 ORDER BY load_seq`, pgIdent(table))

	rows, err := r.pool.Query(ctx, q, idConfig, dtLoad)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.StagedProduct
	for rows.Next() {
		var p store.StagedProduct
		if err := rows.Scan(&p.NaturalKey, &p.SKU, &p.ProductName, &p.Price,
			&p.Brand, &p.Material, &p.Shape, &p.Dimension, &p.Origin,
			&p.QuantityAvailable, &p.ProductURL, &p.IDConfig,
			&p.DTExtract, &p.DTLoad); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) ExportStaging(ctx context.Context, table string) ([]string, [][]string, error) {
	header := []string{"product_name", "price", "brand", "sku", "material", "shape",
		"dimension", "origin", "quantity_available", "product_url",
		"natural_key", "id_config", "dt_extract", "dt_load"}

	q := fmt.Sprintf(`SELECT %s FROM %s ORDER BY load_seq`, identList(header), pgIdent(table))
	return r.exportQuery(ctx, header, q)
}

func (r *Repo) exportQuery(ctx context.Context, header []string, q string) ([]string, [][]string, error) {
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, nil, err
		}
		out = append(out, store.RenderRow(vals))
	}
	return header, out, rows.Err()
}

func (r *Repo) TruncateStaging(ctx context.Context, table string) error {
	if _, err := r.pool.Exec(ctx,
		fmt.Sprintf(`TRUNCATE TABLE %s RESTART IDENTITY`, pgIdent(table))); err != nil {
		return fmt.Errorf("postgres: truncate %s: %w", table, err)
	}
	return nil
}
