package sqlite

import (
	"fmt"
	"strings"
	"time"

	"productelt/internal/store"
)

// SQLite stores DATE columns as TEXT in ISO form and timestamps as
// RFC3339Nano strings. Lexicographic order on both matches chronological
// order, which the open-row sentinel comparison relies on.
const dateLayout = "2006-01-02"

func fmtDate(t time.Time) string { return t.UTC().Format(dateLayout) }

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseDate(s string) (time.Time, error) {
	return time.Parse(dateLayout, strings.TrimSpace(s))
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", s)
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func identList(cols []string) string {
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		out = append(out, sqlIdent(c))
	}
	return strings.Join(out, ", ")
}

func placeholderRow(n int) string {
	return "(" + strings.TrimRight(strings.Repeat("?,", n), ",") + ")"
}

// stagingColumns is the bind order used by the staging insert; load_seq is
// never listed so SQLite assigns it.
var stagingColumns = []string{
	"product_name", "price", "brand", "sku", "material", "shape",
	"dimension", "origin", "quantity_available", "product_url",
	"natural_key", "id_config", "dt_extract", "dt_load",
}

// dwDataColumns is every dw column carried over from the buffer, in schema
// order. The three SCD bookkeeping columns (dt_load_to_dw, dt_last_update,
// dt_dim) are handled separately.
var dwDataColumns = []string{
	"natural_key", "sku", "product_name", "price", "brand", "material",
	"shape", "dimension", "origin", "quantity_available", "product_url",
	"id_config", "dt_extract", "dt_load",
}

func buildCreateRunSQL() string {
	return `INSERT INTO file_logs (id_config, file_name, time, status, count, file_size_kb, dt_update)
SELECT ?, ?, ?, ?, ?, ?, ?
WHERE NOT EXISTS (SELECT 1 FROM file_logs WHERE id_config = ? AND time = ?)
RETURNING id`
}

// buildTransitionSQL builds the compare-and-swap update. Optional meta
// columns are appended to the SET list only when provided, keeping the guard
// and the payload in one statement.
func buildTransitionSQL(runID int64, from, to store.Status, meta store.RunMeta, now time.Time) (string, []any) {
	sets := []string{"status = ?", "dt_update = ?"}
	args := []any{string(to), fmtTime(now)}

	if meta.FileName != nil {
		sets = append(sets, "file_name = ?")
		args = append(args, *meta.FileName)
	}
	if meta.Count != nil {
		sets = append(sets, "count = ?")
		args = append(args, *meta.Count)
	}
	if meta.FileSizeKB != nil {
		sets = append(sets, "file_size_kb = ?")
		args = append(args, *meta.FileSizeKB)
	}

	q := fmt.Sprintf(`UPDATE file_logs SET %s WHERE id = ? AND status = ?`, strings.Join(sets, ", "))
	args = append(args, runID, string(from))
	return q, args
}

func buildStagingInsertSQL(table string, rows int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(identList(stagingColumns))
	b.WriteString(") VALUES ")
	ph := placeholderRow(len(stagingColumns))
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(ph)
	}
	return b.String()
}

// buildTransformSQL replaces NULLs with the pipeline sentinels in the slice
// just loaded. Text columns get 'N/A', numeric columns get -1.
func buildTransformSQL(table string) (string, []any) {
	numeric := map[string]bool{"price": true, "quantity_available": true}

	sets := make([]string, 0, len(store.BusinessColumns()))
	args := make([]any, 0, len(sets)+2)
	for _, c := range store.BusinessColumns() {
		sets = append(sets, fmt.Sprintf("%s = COALESCE(%s, ?)", sqlIdent(c), sqlIdent(c)))
		if numeric[c] {
			args = append(args, store.NullNumber)
		} else {
			args = append(args, store.NullText)
		}
	}

	q := fmt.Sprintf(`UPDATE %s SET %s WHERE id_config = ? AND dt_load = ?`,
		sqlIdent(table), strings.Join(sets, ", "))
	return q, args
}

// buildDedupeSQL keeps the first-inserted row per natural key within the
// (id_config, dt_load) slice and deletes the rest.
func buildDedupeSQL(table string) string {
	t := sqlIdent(table)
	return fmt.Sprintf(`DELETE FROM %s
WHERE id_config = ? AND dt_load = ? AND load_seq NOT IN (
  SELECT MIN(load_seq) FROM %s WHERE id_config = ? AND dt_load = ? GROUP BY natural_key
)`, t, t)
}

// buildNewKeysSQL inserts buffer rows whose natural key has never been seen,
// opening their first version.
func buildNewKeysSQL() string {
	cols := append(append([]string{}, dwDataColumns...), "dt_load_to_dw", "dt_last_update")
	sel := make([]string, 0, len(dwDataColumns))
	for _, c := range dwDataColumns {
		sel = append(sel, "t."+sqlIdent(c))
	}
	return fmt.Sprintf(`INSERT INTO dw (%s)
SELECT %s, ?, ?
FROM temp_dw t
WHERE t.id_config = ? AND NOT EXISTS (SELECT 1 FROM dw d WHERE d.natural_key = t.natural_key)`,
		identList(cols), strings.Join(sel, ", "))
}

// buildChangedKeysSQL compares the buffer against the OPEN dw rows
// field-by-field. The staging transform guarantees no NULLs in the compared
// columns, so plain <> is safe.
func buildChangedKeysSQL() string {
	diffs := make([]string, 0, len(store.BusinessColumns()))
	for _, c := range store.BusinessColumns() {
		diffs = append(diffs, fmt.Sprintf("d.%s <> t.%s", sqlIdent(c), sqlIdent(c)))
	}
	return fmt.Sprintf(`SELECT d.natural_key
FROM dw d
JOIN temp_dw t ON t.natural_key = d.natural_key
WHERE t.id_config = ? AND d.dt_last_update = ? AND (%s)
ORDER BY d.natural_key`, strings.Join(diffs, " OR "))
}

// buildCloseChangedSQL closes the open row of each changed key at the load
// date.
func buildCloseChangedSQL(keys int) string {
	return fmt.Sprintf(`UPDATE dw SET dt_last_update = ?
WHERE dt_last_update = ? AND natural_key IN %s`, placeholderRow(keys))
}

// buildInsertChangedSQL opens the buffer's version of each changed key.
func buildInsertChangedSQL(keys int) string {
	cols := append(append([]string{}, dwDataColumns...), "dt_load_to_dw", "dt_last_update")
	sel := make([]string, 0, len(dwDataColumns))
	for _, c := range dwDataColumns {
		sel = append(sel, "t."+sqlIdent(c))
	}
	return fmt.Sprintf(`INSERT INTO dw (%s)
SELECT %s, ?, ?
FROM temp_dw t
WHERE t.id_config = ? AND t.natural_key IN %s`,
		identList(cols), strings.Join(sel, ", "), placeholderRow(keys))
}

// buildBackfillSQL resolves dt_dim for rows whose extract date has a
// date_dim entry. Rows without a calendar entry stay NULL until the calendar
// is extended.
func buildBackfillSQL() string {
	return `UPDATE dw SET dt_dim = (SELECT dd.id FROM date_dim dd WHERE dd.full_date = dw.dt_extract)
WHERE dt_dim IS NULL
  AND EXISTS (SELECT 1 FROM date_dim dd WHERE dd.full_date = dw.dt_extract)`
}
