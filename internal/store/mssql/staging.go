package mssql

import (
	"context"
	"fmt"
	"strings"
	"time"

	"productelt/internal/store"
)

// insertChunk caps rows per multi-row INSERT; SQL Server allows at most
// 2100 parameters per statement.
const insertChunk = 100

func (r *Repo) EnsureStagingTable(ctx context.Context, table string) error {
	ddl := fmt.Sprintf(`IF OBJECT_ID(N'%s', N'U') IS NULL
CREATE TABLE %s (
  load_seq BIGINT IDENTITY(1,1) PRIMARY KEY,
  product_name NVARCHAR(1024),
  price FLOAT,
  brand NVARCHAR(255),
  sku NVARCHAR(255),
  material NVARCHAR(255),
  shape NVARCHAR(255),
  dimension NVARCHAR(255),
  origin NVARCHAR(255),
  quantity_available BIGINT,
  product_url NVARCHAR(1024),
  natural_key NVARCHAR(1024) NOT NULL,
  id_config BIGINT NOT NULL,
  dt_extract DATE NOT NULL,
  dt_load DATE NOT NULL
);`, strings.ReplaceAll(table, "'", "''"), msIdent(table))

	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("mssql: ensure staging table %s: %w", table, err)
	}
	return nil
}

func (r *Repo) LoadStaging(ctx context.Context, table string, recs []store.ExtractRecord, idConfig int64, dtExtract, dtLoad time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	t := msIdent(table)

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id_config = @p1 AND dt_load = @p2`, t),
		idConfig, dtLoad); err != nil {
		return 0, fmt.Errorf("mssql: clear staging slice: %w", err)
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
		if _, err := tx.ExecContext(ctx, buildStagingInsertSQL(table, len(chunk)), args...); err != nil {
			return 0, fmt.Errorf("mssql: insert staging rows: %w", err)
		}
	}

	transformSQL, transformArgs := buildTransformSQL(table)
	transformArgs = append(transformArgs, idConfig, dtLoad)
	if _, err := tx.ExecContext(ctx, transformSQL, transformArgs...); err != nil {
		return 0, fmt.Errorf("mssql: staging transform: %w", err)
	}

	if _, err := tx.ExecContext(ctx, buildDedupeSQL(table), idConfig, dtLoad); err != nil {
		return 0, fmt.Errorf("mssql: staging dedupe: %w", err)
	}

	var count int64
	if err := tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE id_config = @p1 AND dt_load = @p2`, t),
		idConfig, dtLoad).Scan(&count); err != nil {
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
FROM %s WHERE id_config = @p1 AND dt_load = @p2 ORDER BY load_seq`, msIdent(table))

	rows, err := r.db.QueryContext(ctx, q, idConfig, dtLoad)
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

	q := fmt.Sprintf(`SELECT %s FROM %s ORDER BY load_seq`, identList(header), msIdent(table))
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
	if _, err := r.db.ExecContext(ctx, `TRUNCATE TABLE `+msIdent(table)); err != nil {
		return fmt.Errorf("mssql: truncate %s: %w", table, err)
	}
	return nil
}
