// Package pipeline coordinates the three run stages (extract, stage-load,
// warehouse-load) over the file_logs state machine. Each stage claims the
// run with a guarded control-table write before touching data, so two
// invocations racing on the same (id_config, date) collapse to one winner;
// the loser skips, notifies and exits clean.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/google/uuid"

	"productelt/internal/filestore"
	"productelt/internal/metrics"
	"productelt/internal/notifier"
	csvparse "productelt/internal/parser/csv"
	"productelt/internal/store"
)

// ErrSkipped wraps every guard-driven no-op so commands can tell "nothing
// to do" from a real failure.
var ErrSkipped = errors.New("pipeline: run skipped")

// ErrStageFailed wraps stage errors that were already recorded on the run
// row (EF) and notified. Commands exit clean on it; the state machine holds
// the failure.
var ErrStageFailed = errors.New("pipeline: stage failed")

// Scraper produces the extract records for one run.
type Scraper interface {
	Scrape(ctx context.Context) ([]store.ExtractRecord, error)
}

// Logger matches the stdlib log.Logger surface.
type Logger interface {
	Printf(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Deps wires a Coordinator. Control and Files are always required; the
// stage methods additionally need the facet they operate on (Scraper for
// extract, Staging for stage-load, Staging+Warehouse for warehouse-load).
type Deps struct {
	Control   store.ControlStore
	Staging   store.StagingStore
	Warehouse store.WarehouseStore
	Files     filestore.Store
	Scraper   Scraper
	Notifier  notifier.Notifier
	Logger    Logger
	Now       func() time.Time
}

// Coordinator runs pipeline stages for one pipeline config.
type Coordinator struct {
	control   store.ControlStore
	staging   store.StagingStore
	warehouse store.WarehouseStore
	files     filestore.Store
	scraper   Scraper
	notify    notifier.Notifier
	log       Logger
	now       func() time.Time
}

func New(d Deps) *Coordinator {
	c := &Coordinator{
		control:   d.Control,
		staging:   d.Staging,
		warehouse: d.Warehouse,
		files:     d.Files,
		scraper:   d.Scraper,
		notify:    d.Notifier,
		log:       d.Logger,
		now:       d.Now,
	}
	if c.notify == nil {
		c.notify = notifier.Nop{}
	}
	if c.log == nil {
		c.log = nopLogger{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// RunExtract claims a fresh run for (cfg.ID, date), scrapes the source and
// registers the extract file. Any existing run row for the key means the
// extract already happened (or is happening); that is a skip, not an error.
func (c *Coordinator) RunExtract(ctx context.Context, cfg store.PipelineConfig, date time.Time) error {
	const stage = "extract"
	run := uuid.NewString()
	start := c.now()
	metrics.IncCounter(metrics.RunsTotal, 1, nil)

	runID, err := c.control.CreateRun(ctx, cfg.ID, date, store.StatusRunning, store.RunMeta{})
	if errors.Is(err, store.ErrGuard) {
		return c.skip(ctx, stage, run, cfg, date, "a run row already exists for this date")
	}
	if err != nil {
		return fmt.Errorf("claim run: %w", err)
	}

	recs, err := c.scraper.Scrape(ctx)
	if err != nil {
		return c.fail(ctx, stage, run, cfg, date, runID, fmt.Errorf("scrape: %w", err))
	}

	name := ExtractFileName(date, Domain(cfg.Source))
	data, err := renderExtractCSV(recs)
	if err != nil {
		return c.fail(ctx, stage, run, cfg, date, runID, fmt.Errorf("render %s: %w", name, err))
	}
	if err := c.files.Put(ctx, c.fileKey(cfg, name), data); err != nil {
		return c.fail(ctx, stage, run, cfg, date, runID, fmt.Errorf("store %s: %w", name, err))
	}

	count := int64(len(recs))
	size := filestore.SizeKB(len(data))
	meta := store.RunMeta{FileName: &name, Count: &count, FileSizeKB: &size}
	if err := c.control.Transition(ctx, runID, store.StatusRunning, store.StatusExtractSuccess, meta); err != nil {
		return fmt.Errorf("mark extract success: %w", err)
	}

	metrics.IncCounter(metrics.RowsTotal, float64(count), metrics.Labels{"kind": "scraped"})
	metrics.ObserveHistogram(metrics.FileSizeKB, float64(size), metrics.Labels{"kind": "extract"})
	c.observe(stage, "ok", start)
	c.log.Printf("stage=%s ok run=%s id_config=%d date=%s file=%s rows=%d duration=%s",
		stage, run, cfg.ID, date.Format(dateLayout), name, count, c.since(start))
	return nil
}

// RegisterFile records an out-of-band extract file as an ER run so the
// stage loader will pick it up. The file must already exist in the object
// store and must parse; a run row for the key blocks registration.
func (c *Coordinator) RegisterFile(ctx context.Context, cfg store.PipelineConfig, date time.Time, name string) error {
	const stage = "register"
	run := uuid.NewString()

	key := c.fileKey(cfg, name)
	ok, err := c.files.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("register %s: file not found in object store", key)
	}

	data, err := c.files.Fetch(ctx, key)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", key, err)
	}
	recs, err := csvparse.ReadProducts(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}

	count := int64(len(recs))
	size := filestore.SizeKB(len(data))
	meta := store.RunMeta{FileName: &name, Count: &count, FileSizeKB: &size}
	if _, err := c.control.CreateRun(ctx, cfg.ID, date, store.StatusExtractReady, meta); err != nil {
		if errors.Is(err, store.ErrGuard) {
			return c.skip(ctx, stage, run, cfg, date, "a run row already exists for this date")
		}
		return fmt.Errorf("register run: %w", err)
	}

	c.log.Printf("stage=%s ok run=%s id_config=%d date=%s file=%s rows=%d",
		stage, run, cfg.ID, date.Format(dateLayout), name, count)
	return nil
}

// RunStageLoad moves a run from ES (or ER) through the staging load. The
// latest run row for the key is the authority: wrong status means another
// stage owns the run right now, or it already moved on.
func (c *Coordinator) RunStageLoad(ctx context.Context, cfg store.PipelineConfig, date time.Time) error {
	const stage = "stage_load"
	run := uuid.NewString()
	start := c.now()

	latest, err := c.control.LatestRun(ctx, cfg.ID, date)
	if errors.Is(err, store.ErrNotFound) {
		return c.skip(ctx, stage, run, cfg, date, "no extract run for this date")
	}
	if err != nil {
		return fmt.Errorf("read latest run: %w", err)
	}
	if !latest.Status.ReadyForStaging() {
		return c.skip(ctx, stage, run, cfg, date, fmt.Sprintf("latest run is %s, want ES or ER", latest.Status))
	}

	if err := c.control.Transition(ctx, latest.ID, latest.Status, store.StatusRunning, store.RunMeta{}); err != nil {
		if errors.Is(err, store.ErrGuard) {
			return c.skip(ctx, stage, run, cfg, date, "run claimed by a concurrent invocation")
		}
		return fmt.Errorf("claim run: %w", err)
	}

	data, err := c.files.Fetch(ctx, c.fileKey(cfg, latest.FileName))
	if err != nil {
		return c.fail(ctx, stage, run, cfg, date, latest.ID, fmt.Errorf("fetch %s: %w", latest.FileName, err))
	}
	recs, err := csvparse.ReadProducts(bytes.NewReader(data))
	if err != nil {
		return c.fail(ctx, stage, run, cfg, date, latest.ID, fmt.Errorf("parse %s: %w", latest.FileName, err))
	}

	table := cfg.DestinationTableStaging
	if err := c.staging.EnsureStagingTable(ctx, table); err != nil {
		return c.fail(ctx, stage, run, cfg, date, latest.ID, fmt.Errorf("ensure staging table: %w", err))
	}
	count, err := c.staging.LoadStaging(ctx, table, recs, cfg.ID, date, date)
	if err != nil {
		return c.fail(ctx, stage, run, cfg, date, latest.ID, fmt.Errorf("load staging: %w", err))
	}

	exportName := StagingExportName(table, date, Domain(cfg.Source))
	size, err := c.exportTable(ctx, cfg, exportName, c.staging.ExportStaging, table)
	if err != nil {
		return c.fail(ctx, stage, run, cfg, date, latest.ID, err)
	}

	meta := store.RunMeta{FileName: &exportName, Count: &count, FileSizeKB: &size}
	if err := c.control.Transition(ctx, latest.ID, store.StatusRunning, store.StatusLoadSuccess, meta); err != nil {
		return fmt.Errorf("mark load success: %w", err)
	}

	metrics.IncCounter(metrics.RowsTotal, float64(count), metrics.Labels{"kind": "staged"})
	metrics.ObserveHistogram(metrics.FileSizeKB, float64(size), metrics.Labels{"kind": "staging"})
	c.observe(stage, "ok", start)
	c.log.Printf("stage=%s ok run=%s id_config=%d date=%s table=%s rows=%d duration=%s",
		stage, run, cfg.ID, date.Format(dateLayout), table, count, c.since(start))
	return nil
}

// RunWarehouseLoad moves a run from LS through the SCD merge. The staging
// table is snapshotted and truncated before the merge; the snapshot is the
// recovery artifact if the merge then fails.
func (c *Coordinator) RunWarehouseLoad(ctx context.Context, cfg store.PipelineConfig, date time.Time) error {
	const stage = "warehouse_load"
	run := uuid.NewString()
	start := c.now()

	latest, err := c.control.LatestRun(ctx, cfg.ID, date)
	if errors.Is(err, store.ErrNotFound) {
		return c.skip(ctx, stage, run, cfg, date, "no run for this date")
	}
	if err != nil {
		return fmt.Errorf("read latest run: %w", err)
	}
	if latest.Status != store.StatusLoadSuccess {
		return c.skip(ctx, stage, run, cfg, date, fmt.Sprintf("latest run is %s, want LS", latest.Status))
	}

	if err := c.control.Transition(ctx, latest.ID, store.StatusLoadSuccess, store.StatusRunning, store.RunMeta{}); err != nil {
		if errors.Is(err, store.ErrGuard) {
			return c.skip(ctx, stage, run, cfg, date, "run claimed by a concurrent invocation")
		}
		return fmt.Errorf("claim run: %w", err)
	}

	table := cfg.DestinationTableStaging
	rows, err := c.staging.SelectStaged(ctx, table, cfg.ID, date)
	if err != nil {
		return c.fail(ctx, stage, run, cfg, date, latest.ID, fmt.Errorf("select staged: %w", err))
	}
	if err := c.warehouse.EnsureWarehouseTables(ctx); err != nil {
		return c.fail(ctx, stage, run, cfg, date, latest.ID, fmt.Errorf("ensure warehouse tables: %w", err))
	}

	domain := Domain(cfg.Source)
	snapName := StagingSnapshotName(table, date, domain)
	if _, err := c.exportTable(ctx, cfg, snapName, c.staging.ExportStaging, table); err != nil {
		return c.fail(ctx, stage, run, cfg, date, latest.ID, err)
	}
	if err := c.staging.TruncateStaging(ctx, table); err != nil {
		return c.fail(ctx, stage, run, cfg, date, latest.ID, fmt.Errorf("truncate staging: %w", err))
	}

	stats, err := c.warehouse.Merge(ctx, rows, cfg.ID, date)
	if err != nil {
		return c.fail(ctx, stage, run, cfg, date, latest.ID, fmt.Errorf("merge: %w", err))
	}

	dwName := WarehouseSnapshotName(cfg.DestinationTableDW, date, domain)
	dwSize, err := c.exportWarehouse(ctx, cfg, dwName)
	if err != nil {
		return c.fail(ctx, stage, run, cfg, date, latest.ID, err)
	}

	count := stats.BufferRows
	if err := c.control.Transition(ctx, latest.ID, store.StatusRunning, store.StatusWarehouseSuccess, store.RunMeta{Count: &count}); err != nil {
		return fmt.Errorf("mark warehouse success: %w", err)
	}
	snapMeta := store.RunMeta{FileName: &dwName, Count: &count, FileSizeKB: &dwSize}
	if _, err := c.control.AppendRun(ctx, cfg.ID, date, store.StatusWarehouseSuccess, snapMeta); err != nil {
		return fmt.Errorf("append snapshot run: %w", err)
	}

	metrics.IncCounter(metrics.RowsTotal, float64(stats.NewKeys), metrics.Labels{"kind": "new_keys"})
	metrics.IncCounter(metrics.RowsTotal, float64(stats.ChangedKeys), metrics.Labels{"kind": "changed_keys"})
	metrics.IncCounter(metrics.RowsTotal, float64(stats.Backfilled), metrics.Labels{"kind": "backfilled"})
	metrics.ObserveHistogram(metrics.FileSizeKB, float64(dwSize), metrics.Labels{"kind": "warehouse"})
	c.observe(stage, "ok", start)
	c.log.Printf("stage=%s ok run=%s id_config=%d date=%s buffer=%d new=%d changed=%d backfilled=%d duration=%s",
		stage, run, cfg.ID, date.Format(dateLayout),
		stats.BufferRows, stats.NewKeys, stats.ChangedKeys, stats.Backfilled, c.since(start))
	return nil
}

// fileKey prefixes an artifact name with the config's storage location.
func (c *Coordinator) fileKey(cfg store.PipelineConfig, name string) string {
	if cfg.SourceFileLocation == "" {
		return name
	}
	return path.Join(cfg.SourceFileLocation, name)
}

// exportTable exports one table to CSV and stores it, returning the size.
func (c *Coordinator) exportTable(ctx context.Context, cfg store.PipelineConfig, name string,
	export func(ctx context.Context, table string) ([]string, [][]string, error), table string) (int64, error) {

	header, rows, err := export(ctx, table)
	if err != nil {
		return 0, fmt.Errorf("export %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := csvparse.WriteTable(&buf, header, rows); err != nil {
		return 0, fmt.Errorf("render %s: %w", name, err)
	}
	if err := c.files.Put(ctx, c.fileKey(cfg, name), buf.Bytes()); err != nil {
		return 0, fmt.Errorf("store %s: %w", name, err)
	}
	return filestore.SizeKB(buf.Len()), nil
}

func (c *Coordinator) exportWarehouse(ctx context.Context, cfg store.PipelineConfig, name string) (int64, error) {
	header, rows, err := c.warehouse.ExportWarehouse(ctx)
	if err != nil {
		return 0, fmt.Errorf("export %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := csvparse.WriteTable(&buf, header, rows); err != nil {
		return 0, fmt.Errorf("render %s: %w", name, err)
	}
	if err := c.files.Put(ctx, c.fileKey(cfg, name), buf.Bytes()); err != nil {
		return 0, fmt.Errorf("store %s: %w", name, err)
	}
	return filestore.SizeKB(buf.Len()), nil
}

// skip logs and notifies a guard-driven no-op. The returned error wraps
// ErrSkipped; commands exit clean on it.
func (c *Coordinator) skip(ctx context.Context, stage, run string, cfg store.PipelineConfig, date time.Time, reason string) error {
	metrics.IncCounter(metrics.StageTotal, 1, metrics.Labels{"stage": stage, "status": "skipped"})
	c.log.Printf("stage=%s skipped run=%s id_config=%d date=%s reason=%q",
		stage, run, cfg.ID, date.Format(dateLayout), reason)

	subject := fmt.Sprintf("elt %s skipped: %s id_config=%d", stage, cfg.Name, cfg.ID)
	body := fmt.Sprintf("stage=%s id_config=%d date=%s run=%s\n\n%s",
		stage, cfg.ID, date.Format(dateLayout), run, reason)
	if err := c.notify.Notify(ctx, subject, body); err != nil {
		c.log.Printf("stage=%s notify error: %v", stage, err)
	}
	return fmt.Errorf("%w: %s", ErrSkipped, reason)
}

// fail marks the claimed run EF, notifies and returns the original error.
func (c *Coordinator) fail(ctx context.Context, stage, run string, cfg store.PipelineConfig, date time.Time, runID int64, cause error) error {
	metrics.IncCounter(metrics.StageTotal, 1, metrics.Labels{"stage": stage, "status": "error"})
	c.log.Printf("stage=%s error run=%s id_config=%d date=%s err=%v",
		stage, run, cfg.ID, date.Format(dateLayout), cause)

	if err := c.control.Transition(ctx, runID, store.StatusRunning, store.StatusExtractFailed, store.RunMeta{}); err != nil {
		c.log.Printf("stage=%s mark-failed error run=%s: %v", stage, run, err)
	}

	subject := fmt.Sprintf("elt %s failed: %s id_config=%d", stage, cfg.Name, cfg.ID)
	body := fmt.Sprintf("stage=%s id_config=%d date=%s run=%s\n\n%v",
		stage, cfg.ID, date.Format(dateLayout), run, cause)
	if err := c.notify.Notify(ctx, subject, body); err != nil {
		c.log.Printf("stage=%s notify error: %v", stage, err)
	}
	return errors.Join(ErrStageFailed, cause)
}

func (c *Coordinator) observe(stage, status string, start time.Time) {
	metrics.IncCounter(metrics.StageTotal, 1, metrics.Labels{"stage": stage, "status": status})
	metrics.ObserveHistogram(metrics.StageDurationSeconds, c.since(start).Seconds(),
		metrics.Labels{"stage": stage, "status": status})
}

func (c *Coordinator) since(start time.Time) time.Duration {
	return c.now().Sub(start).Truncate(time.Millisecond)
}

// extractHeader matches the canonical column names ReadProducts accepts.
var extractHeader = []string{
	"product_name", "price", "brand", "sku", "material", "shape",
	"dimension", "origin", "quantity_available", "product_url",
}

func renderExtractCSV(recs []store.ExtractRecord) ([]byte, error) {
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, []string{
			strOr(r.ProductName),
			floatOr(r.Price),
			strOr(r.Brand),
			strOr(r.SKU),
			strOr(r.Material),
			strOr(r.Shape),
			strOr(r.Dimension),
			strOr(r.Origin),
			intOr(r.QuantityAvailable),
			strOr(r.ProductURL),
		})
	}
	var buf bytes.Buffer
	if err := csvparse.WriteTable(&buf, extractHeader, rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func strOr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func floatOr(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}

func intOr(p *int64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatInt(*p, 10)
}
