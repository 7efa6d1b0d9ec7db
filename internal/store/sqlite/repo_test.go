package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"productelt/internal/store"
)

func newTestRepo(t *testing.T) store.Repository {
	t.Helper()

	ctx := context.Background()
	r, err := New(ctx, store.Config{DSN: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(r.Close)

	if err := r.EnsureControlTables(ctx); err != nil {
		t.Fatalf("ensure control tables: %v", err)
	}
	if err := r.EnsureWarehouseTables(ctx); err != nil {
		t.Fatalf("ensure warehouse tables: %v", err)
	}
	return r
}

func strPtr(s string) *string    { return &s }
func i64Ptr(n int64) *int64      { return &n }
func f64Ptr(f float64) *float64  { return &f }

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestConfigImport_SkipsFullRowDuplicates(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	ctx := context.Background()

	cfgs := []store.PipelineConfig{
		{Name: "kinhmat", Source: "https://kinhmatviettin.vn/", SourceFileLocation: "data/kinhmat",
			DestinationTableStaging: "stg_products", DestinationTableDW: "dw",
			BucketName: "etl-extracts", FolderB2Name: "kinhmat", BucketID: "b2-001"},
		{Name: "other", Source: "https://example.com/", SourceFileLocation: "data/other",
			DestinationTableStaging: "stg_other", DestinationTableDW: "dw"},
	}

	n, err := r.ImportConfigs(ctx, cfgs)
	if err != nil || n != 2 {
		t.Fatalf("first import: n=%d err=%v", n, err)
	}
	n, err = r.ImportConfigs(ctx, cfgs)
	if err != nil || n != 0 {
		t.Fatalf("re-import must skip duplicates: n=%d err=%v", n, err)
	}

	got, err := r.GetConfig(ctx, 1)
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if got.Name != "kinhmat" || got.DestinationTableStaging != "stg_products" {
		t.Fatalf("GetConfig=%+v", got)
	}

	if _, err := r.GetConfig(ctx, 99); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing config: err=%v want ErrNotFound", err)
	}

	all, err := r.ListConfigs(ctx)
	if err != nil || len(all) != 2 {
		t.Fatalf("ListConfigs: n=%d err=%v", len(all), err)
	}
}

func TestRunLifecycle_GuardedCreateAndCAS(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	ctx := context.Background()
	day := date(2026, 8, 28)

	id, err := r.CreateRun(ctx, 1, day, store.StatusExtractSuccess, store.RunMeta{
		FileName: strPtr("daily_data_2026_08_28_kinhmatviettin.csv"),
		Count:    i64Ptr(120),
	})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	// Second create for the same (config, date) must lose the guard no
	// matter its intended status.
	if _, err := r.CreateRun(ctx, 1, day, store.StatusExtractReady, store.RunMeta{}); !errors.Is(err, store.ErrGuard) {
		t.Fatalf("duplicate CreateRun: err=%v want ErrGuard", err)
	}

	// A different date is a fresh key.
	if _, err := r.CreateRun(ctx, 1, date(2026, 8, 29), store.StatusExtractSuccess, store.RunMeta{}); err != nil {
		t.Fatalf("CreateRun next day: %v", err)
	}

	latest, err := r.LatestRun(ctx, 1, day)
	if err != nil {
		t.Fatalf("LatestRun: %v", err)
	}
	if latest.ID != id || latest.Status != store.StatusExtractSuccess || latest.Count != 120 {
		t.Fatalf("LatestRun=%+v", latest)
	}

	if err := r.Transition(ctx, id, store.StatusExtractSuccess, store.StatusRunning, store.RunMeta{}); err != nil {
		t.Fatalf("ES->RUNNING: %v", err)
	}
	// Losing racer: the row is no longer in ES.
	if err := r.Transition(ctx, id, store.StatusExtractSuccess, store.StatusRunning, store.RunMeta{}); !errors.Is(err, store.ErrGuard) {
		t.Fatalf("stale CAS: err=%v want ErrGuard", err)
	}
	// Illegal edge is rejected before touching the database.
	if err := r.Transition(ctx, id, store.StatusRunning, store.StatusExtractReady, store.RunMeta{}); err == nil || errors.Is(err, store.ErrGuard) {
		t.Fatalf("illegal edge: err=%v want transition error", err)
	}

	if err := r.Transition(ctx, id, store.StatusRunning, store.StatusLoadSuccess, store.RunMeta{
		FileName: strPtr("lr_stg_products_2026_08_28_kinhmatviettin.csv"),
		Count:    i64Ptr(118),
	}); err != nil {
		t.Fatalf("RUNNING->LS: %v", err)
	}

	latest, err = r.LatestRun(ctx, 1, day)
	if err != nil {
		t.Fatalf("LatestRun after LS: %v", err)
	}
	if latest.Status != store.StatusLoadSuccess || latest.Count != 118 {
		t.Fatalf("LatestRun=%+v", latest)
	}

	// The warehouse stage appends a snapshot row; it becomes the latest.
	appendID, err := r.AppendRun(ctx, 1, day, store.StatusWarehouseSuccess, store.RunMeta{
		FileName: strPtr("lws_dw_2026_08_28_kinhmatviettin.csv"),
	})
	if err != nil {
		t.Fatalf("AppendRun: %v", err)
	}
	if appendID <= id {
		t.Fatalf("append id=%d not after run id=%d", appendID, id)
	}
	latest, err = r.LatestRun(ctx, 1, day)
	if err != nil || latest.ID != appendID || latest.Status != store.StatusWarehouseSuccess {
		t.Fatalf("LatestRun after append=%+v err=%v", latest, err)
	}

	if _, err := r.LatestRun(ctx, 2, day); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown config: err=%v want ErrNotFound", err)
	}
}

func TestLoadStaging_TransformAndDedupe(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	ctx := context.Background()
	const table = "stg_products"

	if err := r.EnsureStagingTable(ctx, table); err != nil {
		t.Fatalf("EnsureStagingTable: %v", err)
	}

	day := date(2026, 8, 28)
	recs := []store.ExtractRecord{
		{ProductName: strPtr("Gọng kính Titan"), SKU: strPtr("GK-120"),
			Price: f64Ptr(1250000), Brand: strPtr("Titan"), QuantityAvailable: i64Ptr(4),
			ProductURL: strPtr("https://kinhmatviettin.vn/gong-kinh-titan")},
		// Same natural key, different price: the later row must lose.
		{ProductName: strPtr("Gọng kính  Titan"), SKU: strPtr("GK-120"), Price: f64Ptr(999000)},
		// Sparse row: sentinels fill the gaps.
		{ProductName: strPtr("Tròng kính"), SKU: strPtr("TK-01")},
	}

	n, err := r.LoadStaging(ctx, table, recs, 1, day, day)
	if err != nil {
		t.Fatalf("LoadStaging: %v", err)
	}
	if n != 2 {
		t.Fatalf("surviving rows=%d want 2", n)
	}

	staged, err := r.SelectStaged(ctx, table, 1, day)
	if err != nil {
		t.Fatalf("SelectStaged: %v", err)
	}
	if len(staged) != 2 {
		t.Fatalf("staged=%d want 2", len(staged))
	}

	first := staged[0]
	if first.NaturalKey != "Gọng kính Titan-GK-120" {
		t.Fatalf("natural key=%q", first.NaturalKey)
	}
	if first.Price != 1250000 {
		t.Fatalf("dedupe kept wrong row: price=%v", first.Price)
	}
	if first.Material != store.NullText || first.Shape != store.NullText {
		t.Fatalf("text sentinels not applied: %+v", first)
	}

	sparse := staged[1]
	if sparse.Price != store.NullNumber || sparse.QuantityAvailable != store.NullNumber {
		t.Fatalf("numeric sentinels not applied: %+v", sparse)
	}
	if sparse.Brand != store.NullText || sparse.ProductURL != store.NullText {
		t.Fatalf("text sentinels not applied: %+v", sparse)
	}

	// Reloading the same date replaces the slice instead of stacking it.
	n, err = r.LoadStaging(ctx, table, recs[:1], 1, day, day)
	if err != nil || n != 1 {
		t.Fatalf("reload: n=%d err=%v", n, err)
	}

	header, rows, err := r.ExportStaging(ctx, table)
	if err != nil {
		t.Fatalf("ExportStaging: %v", err)
	}
	if len(header) != 14 || len(rows) != 1 {
		t.Fatalf("export header=%d rows=%d", len(header), len(rows))
	}

	if err := r.TruncateStaging(ctx, table); err != nil {
		t.Fatalf("TruncateStaging: %v", err)
	}
	if _, rows, err = r.ExportStaging(ctx, table); err != nil || len(rows) != 0 {
		t.Fatalf("after truncate: rows=%d err=%v", len(rows), err)
	}
}

func stagedRow(key, sku, name string, price float64, idConfig int64, day time.Time) store.StagedProduct {
	return store.StagedProduct{
		NaturalKey: key, SKU: sku, ProductName: name, Price: price,
		Brand: store.NullText, Material: store.NullText, Shape: store.NullText,
		Dimension: store.NullText, Origin: store.NullText,
		QuantityAvailable: store.NullNumber, ProductURL: store.NullText,
		IDConfig: idConfig, DTExtract: day, DTLoad: day,
	}
}

func TestMerge_SCD2FlowAndIdempotence(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	ctx := context.Background()

	d1 := date(2026, 8, 27)
	d2 := date(2026, 8, 28)

	// Day 1: two brand-new keys.
	day1 := []store.StagedProduct{
		stagedRow("Gọng kính Titan-GK-120", "GK-120", "Gọng kính Titan", 1250000, 1, d1),
		stagedRow("Tròng kính-TK-01", "TK-01", "Tròng kính", 450000, 1, d1),
	}
	stats, err := r.Merge(ctx, day1, 1, d1)
	if err != nil {
		t.Fatalf("merge day1: %v", err)
	}
	if stats.NewKeys != 2 || stats.ChangedKeys != 0 {
		t.Fatalf("day1 stats=%+v", stats)
	}

	// Day 2: GK-120 changes price, TK-01 is unchanged, VK-77 is new.
	day2 := []store.StagedProduct{
		stagedRow("Gọng kính Titan-GK-120", "GK-120", "Gọng kính Titan", 1190000, 1, d2),
		stagedRow("Tròng kính-TK-01", "TK-01", "Tròng kính", 450000, 1, d2),
		stagedRow("Ví kính da-VK-77", "VK-77", "Ví kính da", 150000, 1, d2),
	}
	stats, err = r.Merge(ctx, day2, 1, d2)
	if err != nil {
		t.Fatalf("merge day2: %v", err)
	}
	if stats.NewKeys != 1 || stats.ChangedKeys != 1 {
		t.Fatalf("day2 stats=%+v", stats)
	}

	rows := warehouseByKey(t, r)
	if got := len(rows["Gọng kính Titan-GK-120"]); got != 2 {
		t.Fatalf("changed key versions=%d want 2", got)
	}
	if got := len(rows["Tròng kính-TK-01"]); got != 1 {
		t.Fatalf("unchanged key versions=%d want 1", got)
	}

	gk := rows["Gọng kính Titan-GK-120"]
	if gk[0]["dt_last_update"] != "2026-08-28" || gk[0]["price"] != "1250000" {
		t.Fatalf("old version not closed at load date: %v", gk[0])
	}
	if gk[1]["dt_last_update"] != "9999-12-31" || gk[1]["price"] != "1190000" {
		t.Fatalf("new version not open: %v", gk[1])
	}

	// Rerun of the same buffer is a no-op.
	stats, err = r.Merge(ctx, day2, 1, d2)
	if err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if stats.NewKeys != 0 || stats.ChangedKeys != 0 {
		t.Fatalf("rerun stats=%+v, merge is not idempotent", stats)
	}
	if total := warehouseRowCount(t, r); total != 4 {
		t.Fatalf("dw rows=%d want 4", total)
	}

	// Calendar arrives late: the next pass backfills every row.
	err = r.InsertDateDim(ctx, []string{"full_date", "year", "iso_week", "is_weekend"}, [][]string{
		{"2026-08-27", "2026", "35", "false"},
		{"2026-08-28", "2026", "35", "false"},
	})
	if err != nil {
		t.Fatalf("InsertDateDim: %v", err)
	}
	stats, err = r.Merge(ctx, day2, 1, d2)
	if err != nil {
		t.Fatalf("backfill pass: %v", err)
	}
	if stats.Backfilled != 4 {
		t.Fatalf("backfilled=%d want 4", stats.Backfilled)
	}
}

func warehouseByKey(t *testing.T, r store.Repository) map[string][]map[string]string {
	t.Helper()

	header, rows, err := r.ExportWarehouse(context.Background())
	if err != nil {
		t.Fatalf("ExportWarehouse: %v", err)
	}
	out := map[string][]map[string]string{}
	for _, row := range rows {
		m := map[string]string{}
		for i, col := range header {
			m[col] = row[i]
		}
		out[m["natural_key"]] = append(out[m["natural_key"]], m)
	}
	return out
}

func warehouseRowCount(t *testing.T, r store.Repository) int {
	t.Helper()

	_, rows, err := r.ExportWarehouse(context.Background())
	if err != nil {
		t.Fatalf("ExportWarehouse: %v", err)
	}
	return len(rows)
}
