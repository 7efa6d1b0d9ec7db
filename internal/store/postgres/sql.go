package postgres

import (
	"fmt"
	"strings"
	"time"

	"productelt/internal/store"
)

func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func identList(cols []string) string {
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		out = append(out, pgIdent(c))
	}
	return strings.Join(out, ", ")
}

// placeholderRow renders ($start, $start+1, ...) for n binds.
func placeholderRow(start, n int) string {
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		parts = append(parts, fmt.Sprintf("$%d", start+i))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

var stagingColumns = []string{
	"product_name", "price", "brand", "sku", "material", "shape",
	"dimension", "origin", "quantity_available", "product_url",
	"natural_key", "id_config", "dt_extract", "dt_load",
}

var dwDataColumns = []string{
	"natural_key", "sku", "product_name", "price", "brand", "material",
	"shape", "dimension", "origin", "quantity_available", "product_url",
	"id_config", "dt_extract", "dt_load",
}

func buildCreateRunSQL() string {
	return `INSERT INTO file_logs (id_config, file_name, time, status, count, file_size_kb, dt_update)
SELECT $1, $2, $3, $4, $5, $6, $7
WHERE NOT EXISTS (SELECT 1 FROM file_logs WHERE id_config = $8 AND time = $9)
RETURNING id`
}

// buildTransitionSQL builds the compare-and-swap update with the optional
// meta columns folded into the same statement.
func buildTransitionSQL(runID int64, from, to store.Status, meta store.RunMeta, now time.Time) (string, []any) {
	sets := []string{"status = $1", "dt_update = $2"}
	args := []any{string(to), now}

	n := 3
	if meta.FileName != nil {
		sets = append(sets, fmt.Sprintf("file_name = $%d", n))
		args = append(args, *meta.FileName)
		n++
	}
	if meta.Count != nil {
		sets = append(sets, fmt.Sprintf("count = $%d", n))
		args = append(args, *meta.Count)
		n++
	}
	if meta.FileSizeKB != nil {
		sets = append(sets, fmt.Sprintf("file_size_kb = $%d", n))
		args = append(args, *meta.FileSizeKB)
		n++
	}

	q := fmt.Sprintf(`UPDATE file_logs SET %s WHERE id = $%d AND status = $%d`,
		strings.Join(sets, ", "), n, n+1)
	args = append(args, runID, string(from))
	return q, args
}

func buildStagingInsertSQL(table string, rows int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgIdent(table))
	b.WriteString(" (")
	b.WriteString(identList(stagingColumns))
	b.WriteString(") VALUES ")
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholderRow(i*len(stagingColumns)+1, len(stagingColumns)))
	}
	return b.String()
}

func buildTransformSQL(table string) (string, []any) {
	numeric := map[string]bool{"price": true, "quantity_available": true}

	var (
		sets []string
		args []any
	)
	n := 1
	for _, c := range store.BusinessColumns() {
		sets = append(sets, fmt.Sprintf("%s = COALESCE(%s, $%d)", pgIdent(c), pgIdent(c), n))
		if numeric[c] {
			args = append(args, store.NullNumber)
		} else {
			args = append(args, store.NullText)
		}
		n++
	}

	q := fmt.Sprintf(`UPDATE %s SET %s WHERE id_config = $%d AND dt_load = $%d`,
		pgIdent(table), strings.Join(sets, ", "), n, n+1)
	return q, args
}

func buildDedupeSQL(table string) string {
	t := pgIdent(table)
	return fmt.Sprintf(`DELETE FROM %s
WHERE id_config = $1 AND dt_load = $2 AND load_seq NOT IN (
  SELECT MIN(load_seq) FROM %s WHERE id_config = $1 AND dt_load = $2 GROUP BY natural_key
)`, t, t)
}

func buildNewKeysSQL() string {
	cols := append(append([]string{}, dwDataColumns...), "dt_load_to_dw", "dt_last_update")
	sel := make([]string, 0, len(dwDataColumns))
	for _, c := range dwDataColumns {
		sel = append(sel, "t."+pgIdent(c))
	}
	return fmt.Sprintf(`INSERT INTO dw (%s)
SELECT %s, $1, $2
FROM temp_dw t
WHERE t.id_config = $3 AND NOT EXISTS (SELECT 1 FROM dw d WHERE d.natural_key = t.natural_key)`,
		identList(cols), strings.Join(sel, ", "))
}

func buildChangedKeysSQL() string {
	diffs := make([]string, 0, len(store.BusinessColumns()))
	for _, c := range store.BusinessColumns() {
		diffs = append(diffs, fmt.Sprintf("d.%s <> t.%s", pgIdent(c), pgIdent(c)))
	}
	return fmt.Sprintf(`SELECT d.natural_key
FROM dw d
JOIN temp_dw t ON t.natural_key = d.natural_key
WHERE t.id_config = $1 AND d.dt_last_update = $2 AND (%s)
ORDER BY d.natural_key`, strings.Join(diffs, " OR "))
}

func buildCloseChangedSQL() string {
	return `UPDATE dw SET dt_last_update = $1
WHERE dt_last_update = $2 AND natural_key = ANY($3)`
}

func buildInsertChangedSQL() string {
	cols := append(append([]string{}, dwDataColumns...), "dt_load_to_dw", "dt_last_update")
	sel := make([]string, 0, len(dwDataColumns))
	for _, c := range dwDataColumns {
		sel = append(sel, "t."+pgIdent(c))
	}
	return fmt.Sprintf(`INSERT INTO dw (%s)
SELECT %s, $1, $2
FROM temp_dw t
WHERE t.id_config = $3 AND t.natural_key = ANY($4)`,
		identList(cols), strings.Join(sel, ", "))
}

func buildBackfillSQL() string {
	return `UPDATE dw SET dt_dim = dd.id
FROM date_dim dd
WHERE dw.dt_dim IS NULL AND dd.full_date = dw.dt_extract`
}
