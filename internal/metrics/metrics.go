// Package metrics is the thin instrumentation facade the pipeline emits
// through. The core packages depend only on this package; concrete backends
// (Datadog, nop) are wired in by the command entrypoints via SetBackend.
package metrics

import "sync"

// Labels attaches dimensions to a metric, e.g. {"stage": "extract"}.
type Labels map[string]string

// Backend receives metric updates. Implementations must be safe for
// concurrent use; IncCounter and ObserveHistogram sit on hot paths and
// must not block on network I/O.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)

	// Flush pushes buffered metrics out. Nop for backends that do not buffer.
	Flush() error
}

// Nop discards every metric. It is the default backend.
type Nop struct{}

func (Nop) IncCounter(string, float64, Labels)       {}
func (Nop) ObserveHistogram(string, float64, Labels) {}
func (Nop) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = Nop{}
)

// SetBackend installs the process-wide backend. Call once at startup,
// before the pipeline starts emitting.
func SetBackend(b Backend) {
	if b == nil {
		b = Nop{}
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter adds delta to a counter on the installed backend.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample on the installed backend.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush flushes the installed backend.
func Flush() error {
	return current().Flush()
}

// Metric names shared between emitters and backends. Backends that only
// understand a subset ignore the rest.
const (
	// StageTotal counts stage executions, labelled stage + status
	// (ok, error, skipped).
	StageTotal = "elt_stage_total"

	// RowsTotal counts data rows, labelled kind (scraped, staged,
	// deduped, new_keys, changed_keys, backfilled).
	RowsTotal = "elt_rows_total"

	// RunsTotal counts pipeline runs started.
	RunsTotal = "elt_runs_total"

	// StageDurationSeconds samples stage wall time, labelled stage + status.
	StageDurationSeconds = "elt_stage_duration_seconds"

	// FetchDurationSeconds samples page and file fetch latency,
	// labelled status.
	FetchDurationSeconds = "elt_fetch_duration_seconds"

	// FileSizeKB samples exported file sizes, labelled kind
	// (extract, staging, warehouse).
	FileSizeKB = "elt_file_size_kb"
)
