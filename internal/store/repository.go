package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrGuard is returned when a conditional control-table write affected no
// rows: another invoker holds the run, the prerequisite stage has not
// completed, or the run already advanced past this stage. Callers treat it
// as a skip-with-notification, not a failure.
var ErrGuard = errors.New("store: guard rejected")

// ErrNotFound is returned when a requested file_config or file_logs row does
// not exist.
var ErrNotFound = errors.New("store: not found")

// Config is the minimal configuration needed to open a repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is
//     backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// ControlStore is the file_config / file_logs backbone the run coordinator
// operates on. All writes are single-statement; the conditional forms
// (CreateRun, Transition) are the pipeline's only concurrency mechanism.
type ControlStore interface {
	// EnsureControlTables creates file_config and file_logs if missing.
	EnsureControlTables(ctx context.Context) error

	// ImportConfigs inserts pipeline definitions that are not already
	// present (full-row duplicate check). Returns the number inserted.
	ImportConfigs(ctx context.Context, cfgs []PipelineConfig) (int, error)

	// GetConfig returns one pipeline definition or ErrNotFound.
	GetConfig(ctx context.Context, id int64) (PipelineConfig, error)

	ListConfigs(ctx context.Context) ([]PipelineConfig, error)

	// LatestRun returns the highest-id file_logs row for (idConfig, date),
	// or ErrNotFound when the key has never run.
	LatestRun(ctx context.Context, idConfig int64, date time.Time) (RunLog, error)

	// CreateRun inserts a new run row in the given status, guarded so that
	// it fails with ErrGuard if ANY row already exists for (idConfig, date).
	// The guard and the insert are a single statement.
	CreateRun(ctx context.Context, idConfig int64, date time.Time, status Status, meta RunMeta) (int64, error)

	// Transition is a compare-and-swap on one run row: the status column is
	// moved from -> to only if it still equals from. Zero rows affected
	// yields ErrGuard. Meta fields with non-nil pointers are written in the
	// same statement. Illegal from/to pairs are rejected before touching
	// the database.
	Transition(ctx context.Context, runID int64, from, to Status, meta RunMeta) error

	// AppendRun unconditionally inserts an additional row for the key,
	// used to tag derived artifacts such as the warehouse snapshot export.
	AppendRun(ctx context.Context, idConfig int64, date time.Time, status Status, meta RunMeta) (int64, error)
}

// StagingStore manages a pipeline's staging table for one load cycle.
type StagingStore interface {
	EnsureStagingTable(ctx context.Context, table string) error

	// LoadStaging replaces the (idConfig, dtLoad) slice of the staging
	// table with the given extract records in ONE transaction: delete the
	// slice, insert every record with its natural key and run tags, apply
	// the sentinel transform, then deduplicate by natural key keeping the
	// first inserted row per key. Any failure rolls the whole load back.
	// Returns the surviving row count.
	LoadStaging(ctx context.Context, table string, recs []ExtractRecord, idConfig int64, dtExtract, dtLoad time.Time) (int64, error)

	// SelectStaged returns the transformed rows for (idConfig, dtLoad) in
	// insertion order.
	SelectStaged(ctx context.Context, table string, idConfig int64, dtLoad time.Time) ([]StagedProduct, error)

	// ExportStaging returns the full table content for CSV export.
	ExportStaging(ctx context.Context, table string) (header []string, rows [][]string, err error)

	// TruncateStaging empties the staging table and resets its sequence.
	TruncateStaging(ctx context.Context, table string) error
}

// WarehouseStore owns the dw, temp_dw and date_dim tables.
type WarehouseStore interface {
	EnsureWarehouseTables(ctx context.Context) error

	// Merge applies one SCD Type-2 merge pass for (idConfig, loadDate) in a
	// single transaction, in strict order: load the temp_dw buffer, insert
	// rows for natural keys absent from dw, detect changed keys against the
	// PRE-INSERT open rows, close those open rows at loadDate, insert the
	// buffer's version of each changed key with the open sentinel end date,
	// then backfill dt_dim from date_dim.
	//
	// Merge is idempotent: after a successful pass the open row for every
	// buffered key equals the buffer, so a rerun detects nothing.
	Merge(ctx context.Context, rows []StagedProduct, idConfig int64, loadDate time.Time) (MergeStats, error)

	// ExportWarehouse returns the dw content for CSV export.
	ExportWarehouse(ctx context.Context) (header []string, rows [][]string, err error)

	// InsertDateDim bulk-loads calendar rows. Header names the date_dim
	// columns present in the input.
	InsertDateDim(ctx context.Context, header []string, rows [][]string) error
}

// Repository is the full backend surface. One Repository wraps one database
// connection; the controls, staging and warehouse databases are usually
// separate connections, so callers open one Repository per logical database
// and use only the facet that lives there.
type Repository interface {
	ControlStore
	StagingStore
	WarehouseStore

	// Close releases the backend's resources. Call once at shutdown.
	Close()
}

// ---- backend factories (postgres, sqlite, mssql register here) ----

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
// Called from init() in backend packages. Registering the same kind twice
// panics to fail fast on ambiguous backend selection.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("store: Register called with empty kind")
	}
	if f == nil {
		panic("store: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("store: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("store: missing Kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported store.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
