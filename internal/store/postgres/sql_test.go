package postgres

import (
	"strings"
	"testing"
	"time"

	"productelt/internal/store"
)

func TestPlaceholderRow_Numbering(t *testing.T) {
	t.Parallel()

	if got := placeholderRow(1, 3); got != "($1, $2, $3)" {
		t.Fatalf("placeholderRow(1,3)=%q", got)
	}
	if got := placeholderRow(15, 2); got != "($15, $16)" {
		t.Fatalf("placeholderRow(15,2)=%q", got)
	}
}

func TestBuildStagingInsertSQL_NumbersAcrossRows(t *testing.T) {
	t.Parallel()

	q := buildStagingInsertSQL("stg_products", 2)
	if !strings.Contains(q, "($1, ") || !strings.Contains(q, "$14)") {
		t.Fatalf("first row placeholders wrong: %s", q)
	}
	if !strings.Contains(q, "($15, ") || !strings.Contains(q, "$28)") {
		t.Fatalf("second row must continue numbering: %s", q)
	}
}

func TestBuildTransitionSQL_MetaShiftsGuardPlaceholders(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	q, args := buildTransitionSQL(7, store.StatusExtractSuccess, store.StatusRunning, store.RunMeta{}, now)
	if !strings.HasSuffix(q, "WHERE id = $3 AND status = $4") {
		t.Fatalf("guard placeholders wrong: %s", q)
	}
	if len(args) != 4 || args[3] != "ES" {
		t.Fatalf("args=%v", args)
	}

	name := "f.csv"
	size := int64(34)
	q, args = buildTransitionSQL(7, store.StatusRunning, store.StatusLoadSuccess,
		store.RunMeta{FileName: &name, FileSizeKB: &size}, now)
	if !strings.Contains(q, "file_name = $3") || !strings.Contains(q, "file_size_kb = $4") {
		t.Fatalf("meta placeholders wrong: %s", q)
	}
	if !strings.HasSuffix(q, "WHERE id = $5 AND status = $6") {
		t.Fatalf("guard must shift past meta: %s", q)
	}
	if len(args) != 6 {
		t.Fatalf("args=%d want 6", len(args))
	}
}

func TestBuildTransformSQL_TrailingSliceFilter(t *testing.T) {
	t.Parallel()

	q, args := buildTransformSQL("stg_products")
	if !strings.HasSuffix(q, "WHERE id_config = $11 AND dt_load = $12") {
		t.Fatalf("slice filter placeholders wrong: %s", q)
	}
	if len(args) != 10 {
		t.Fatalf("args=%d want 10", len(args))
	}
}

func TestBuildChangedKeysSQL_OpenRowsOnly(t *testing.T) {
	t.Parallel()

	q := buildChangedKeysSQL()
	if !strings.Contains(q, "d.dt_last_update = $2") {
		t.Fatalf("change detection must see open rows only: %s", q)
	}
	for _, c := range store.BusinessColumns() {
		if !strings.Contains(q, `d."`+c+`" <> t."`+c+`"`) {
			t.Fatalf("missing comparison for %s: %s", c, q)
		}
	}
}

func TestBuildCloseAndInsertChanged_UseKeyArrays(t *testing.T) {
	t.Parallel()

	if q := buildCloseChangedSQL(); !strings.Contains(q, "natural_key = ANY($3)") {
		t.Fatalf("close must filter by key array: %s", q)
	}
	if q := buildInsertChangedSQL(); !strings.Contains(q, "t.natural_key = ANY($4)") {
		t.Fatalf("insert must filter by key array: %s", q)
	}
}

func TestBuildCreateRunSQL_GuardCoversWholeKey(t *testing.T) {
	t.Parallel()

	q := buildCreateRunSQL()
	if !strings.Contains(q, "WHERE NOT EXISTS (SELECT 1 FROM file_logs WHERE id_config = $8 AND time = $9)") {
		t.Fatalf("guard wrong: %s", q)
	}
	if !strings.HasSuffix(q, "RETURNING id") {
		t.Fatalf("missing RETURNING: %s", q)
	}
}
