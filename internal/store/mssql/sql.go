package mssql

import (
	"fmt"
	"strings"
	"time"

	"productelt/internal/store"
)

func msIdent(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}

func identList(cols []string) string {
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		out = append(out, msIdent(c))
	}
	return strings.Join(out, ", ")
}

// placeholderRow renders (@p<start>, ...) for n binds.
func placeholderRow(start, n int) string {
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		parts = append(parts, fmt.Sprintf("@p%d", start+i))
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
OUTPUT INSERTED.id
SELECT @p1, @p2, @p3, @p4, @p5, @p6, @p7
WHERE NOT EXISTS (SELECT 1 FROM file_logs WHERE id_config = @p8 AND time = @p9)`
}

func buildTransitionSQL(runID int64, from, to store.Status, meta store.RunMeta, now time.Time) (string, []any) {
	sets := []string{"status = @p1", "dt_update = @p2"}
	args := []any{string(to), now}

	n := 3
	if meta.FileName != nil {
		sets = append(sets, fmt.Sprintf("file_name = @p%d", n))
		args = append(args, *meta.FileName)
		n++
	}
	if meta.Count != nil {
		sets = append(sets, fmt.Sprintf("count = @p%d", n))
		args = append(args, *meta.Count)
		n++
	}
	if meta.FileSizeKB != nil {
		sets = append(sets, fmt.Sprintf("file_size_kb = @p%d", n))
		args = append(args, *meta.FileSizeKB)
		n++
	}

	q := fmt.Sprintf(`UPDATE file_logs SET %s WHERE id = @p%d AND status = @p%d`,
		strings.Join(sets, ", "), n, n+1)
	args = append(args, runID, string(from))
	return q, args
}

func buildStagingInsertSQL(table string, rows int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(msIdent(table))
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
		sets = append(sets, fmt.Sprintf("%s = COALESCE(%s, @p%d)", msIdent(c), msIdent(c), n))
		if numeric[c] {
			args = append(args, store.NullNumber)
		} else {
			args = append(args, store.NullText)
		}
		n++
	}

	q := fmt.Sprintf(`UPDATE %s SET %s WHERE id_config = @p%d AND dt_load = @p%d`,
		msIdent(table), strings.Join(sets, ", "), n, n+1)
	return q, args
}

func buildDedupeSQL(table string) string {
	t := msIdent(table)
	return fmt.Sprintf(`DELETE FROM %s
WHERE id_config = @p1 AND dt_load = @p2 AND load_seq NOT IN (
  SELECT MIN(load_seq) FROM %s WHERE id_config = @p1 AND dt_load = @p2 GROUP BY natural_key
)`, t, t)
}

func buildNewKeysSQL() string {
	cols := append(append([]string{}, dwDataColumns...), "dt_load_to_dw", "dt_last_update")
	sel := make([]string, 0, len(dwDataColumns))
	for _, c := range dwDataColumns {
		sel = append(sel, "t."+msIdent(c))
	}
	return fmt.Sprintf(`INSERT INTO dw (%s)
SELECT %s, @p1, @p2
FROM temp_dw t
WHERE t.id_config = @p3 AND NOT EXISTS (SELECT 1 FROM dw d WHERE d.natural_key = t.natural_key)`,
		identList(cols), strings.Join(sel, ", "))
}

func buildChangedKeysSQL() string {
	diffs := make([]string, 0, len(store.BusinessColumns()))
	for _, c := range store.BusinessColumns() {
		diffs = append(diffs, fmt.Sprintf("d.%s <> t.%s", msIdent(c), msIdent(c)))
	}
	return fmt.Sprintf(`SELECT d.natural_key
FROM dw d
JOIN temp_dw t ON t.natural_key = d.natural_key
WHERE t.id_config = @p1 AND d.dt_last_update = @p2 AND (%s)
ORDER BY d.natural_key`, strings.Join(diffs, " OR "))
}

// buildCloseChangedSQL closes the open rows for a chunk of changed keys.
// Key placeholders start at @p3.
func buildCloseChangedSQL(keys int) string {
	return fmt.Sprintf(`UPDATE dw SET dt_last_update = @p1
WHERE dt_last_update = @p2 AND natural_key IN %s`, placeholderRow(3, keys))
}

// buildInsertChangedSQL opens the buffer's version for a chunk of changed
// keys. Key placeholders start at @p4.
func buildInsertChangedSQL(keys int) string {
	cols := append(append([]string{}, dwDataColumns...), "dt_load_to_dw", "dt_last_update")
	sel := make([]string, 0, len(dwDataColumns))
	for _, c := range dwDataColumns {
		sel = append(sel, "t."+msIdent(c))
	}
	return fmt.Sprintf(`INSERT INTO dw (%s)
SELECT %s, @p1, @p2
FROM temp_dw t
WHERE t.id_config = @p3 AND t.natural_key IN %s`,
		identList(cols), strings.Join(sel, ", "), placeholderRow(4, keys))
}

func buildBackfillSQL() string {
	return `UPDATE dw SET dt_dim = dd.id
FROM dw
JOIN date_dim dd ON dd.full_date = dw.dt_extract
WHERE dw.dt_dim IS NULL`
}
