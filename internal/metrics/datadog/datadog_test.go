package datadog

import (
	"context"
	"net/http"
	"os"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"productelt/internal/metrics"
)

// fakeSubmitter captures payloads submitted by Backend.Flush.
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(_ context.Context, body datadogV2.MetricPayload, _ ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSubmitter) last() (datadogV2.MetricPayload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return datadogV2.MetricPayload{}, false
	}
	return f.payloads[len(f.payloads)-1], true
}

func newTestBackend(t *testing.T, fs *fakeSubmitter) *Backend {
	t.Helper()
	b, err := NewBackend(context.Background(), Options{
		JobName:    "elt-test",
		FlushEvery: 24 * time.Hour,
		submitter:  fs,
		now:        func() time.Time { return time.Unix(1000, 0) },
		newTicker:  func(time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) },
	})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestResolveEnvTag(t *testing.T) {
	oldENV := os.Getenv("ENV")
	oldDDENV := os.Getenv("DD_ENV")
	t.Cleanup(func() {
		_ = os.Setenv("ENV", oldENV)
		_ = os.Setenv("DD_ENV", oldDDENV)
	})

	tests := []struct {
		name string
		env  string
		dd   string
		want string
	}{
		{name: "ENV_wins", env: "prod", dd: "stage", want: "env:prod"},
		{name: "DD_ENV_when_ENV_empty", env: "", dd: "stage", want: "env:stage"},
		{name: "whitespace_ignored", env: "   ", dd: "\n\t", want: "env:unknown"},
		{name: "default_unknown", env: "", dd: "", want: "env:unknown"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_ = os.Setenv("ENV", tc.env)
			_ = os.Setenv("DD_ENV", tc.dd)
			if got := resolveEnvTag(); got != tc.want {
				t.Fatalf("resolveEnvTag()=%q, want %q", got, tc.want)
			}
		})
	}
}

func TestStageStatusKeyRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		stage  string
		status string
	}{
		{"extract", "ok"},
		{"", "ok"},
		{"warehouse_load", ""},
		{"", ""},
	}
	for _, tc := range tests {
		stage, status := splitStageStatusKey(stageStatusKey(tc.stage, tc.status))
		if stage != tc.stage || status != tc.status {
			t.Fatalf("roundtrip got=(%q,%q), want=(%q,%q)", stage, status, tc.stage, tc.status)
		}
	}

	stage, status := splitStageStatusKey("no-sep")
	if stage != "no-sep" || status != "unknown" {
		t.Fatalf("split without separator=(%q,%q)", stage, status)
	}
}

func TestWithTags(t *testing.T) {
	t.Parallel()

	base := []string{"env:test", "job:elt"}
	got := withTags(base, "stage:extract", "status:ok")
	want := []string{"env:test", "job:elt", "stage:extract", "status:ok"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("withTags()=%v, want %v", got, want)
	}

	got[0] = "env:mutated"
	if base[0] != "env:test" {
		t.Fatalf("withTags output aliases base slice")
	}
}

func TestPercentileNearestRank(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		s    []float64
		p    float64
		want float64
	}{
		{name: "empty", s: nil, p: 0.50, want: 0},
		{name: "single", s: []float64{7}, p: 0.95, want: 7},
		{name: "p_le_0", s: []float64{1, 2, 3}, p: -1, want: 1},
		{name: "p_ge_1", s: []float64{1, 2, 3}, p: 2, want: 3},
		{name: "median", s: []float64{1, 2, 3, 4, 5}, p: 0.50, want: 3},
		{name: "p90_small_n", s: []float64{1, 2, 3, 4, 5}, p: 0.90, want: 5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := percentileNearestRank(tc.s, tc.p); got != tc.want {
				t.Fatalf("percentileNearestRank(%v,%v)=%v, want %v", tc.s, tc.p, got, tc.want)
			}
		})
	}
}

func TestAddPercentilesDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	orig := []float64{5, 1, 3, 2, 4}
	in := append([]float64(nil), orig...)

	var series []datadogV2.MetricSeries
	addPercentiles(&series, "elt.stage.duration_seconds", in, []string{"env:test"}, 999)

	if len(series) != 6 {
		t.Fatalf("series.len=%d, want 6 (p50,p90,p95,p99,max,samples)", len(series))
	}
	if !reflect.DeepEqual(in, orig) {
		t.Fatalf("samples mutated: %v", in)
	}
	for _, s := range series {
		if s.Metric == "elt.stage.duration_seconds.samples" {
			if s.Points[0].Value == nil || *s.Points[0].Value != 5 {
				t.Fatalf("samples gauge=%v, want 5", s.Points[0].Value)
			}
			return
		}
	}
	t.Fatalf("missing samples gauge series")
}

func TestNewBackend_Defaults(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), Options{
		Tags:      []string{"service:elt"},
		submitter: fs,
		now:       func() time.Time { return time.Unix(123, 0) },
		newTicker: func(time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) },
	})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	defer func() { _ = b.Close() }()

	if !contains(b.baseTags, "job:productelt") {
		t.Fatalf("baseTags missing job default: %v", b.baseTags)
	}
	if !contains(b.baseTags, "service:elt") {
		t.Fatalf("baseTags missing provided tag: %v", b.baseTags)
	}
	if b.flushEvery != 60*time.Second {
		t.Fatalf("flushEvery=%s, want 60s", b.flushEvery)
	}
}

func TestFlush_SubmitsAndResets(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)

	b.IncCounter(metrics.StageTotal, 2, metrics.Labels{"stage": "extract", "status": "ok"})
	b.IncCounter(metrics.RowsTotal, 3, metrics.Labels{"kind": "staged"})
	b.IncCounter(metrics.RunsTotal, 1, nil)
	b.ObserveHistogram(metrics.StageDurationSeconds, 0.5, metrics.Labels{"stage": "extract", "status": "ok"})
	b.ObserveHistogram(metrics.FetchDurationSeconds, 0.1, metrics.Labels{"status": "200"})
	b.ObserveHistogram(metrics.FileSizeKB, 42, metrics.Labels{"kind": "extract"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if fs.count() != 1 {
		t.Fatalf("submit calls=%d, want 1", fs.count())
	}
	if len(b.stageCounts) != 0 || len(b.rowCounts) != 0 || b.runCount != 0 ||
		len(b.stageDur) != 0 || len(b.fetchDur) != 0 || len(b.fileSizeKB) != 0 {
		t.Fatalf("buffers not reset after Flush")
	}

	payload, ok := fs.last()
	if !ok {
		t.Fatalf("missing payload")
	}
	var names []string
	for _, s := range payload.Series {
		names = append(names, s.Metric)
	}
	sort.Strings(names)

	for _, w := range []string{
		"elt.stage.total",
		"elt.rows.total",
		"elt.runs.total",
		"elt.stage.duration_seconds.p50",
		"elt.stage.duration_seconds.samples",
		"elt.fetch.duration_seconds.p50",
		"elt.file.size_kb.max",
	} {
		if !contains(names, w) {
			t.Fatalf("payload missing metric %q; got=%v", w, names)
		}
	}
}

func TestFlush_NoDataDoesNotSubmit(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if fs.count() != 0 {
		t.Fatalf("submissions=%d, want 0", fs.count())
	}
}

func TestLoopAndClose(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), Options{
		JobName:    "elt-test",
		FlushEvery: 5 * time.Millisecond,
		submitter:  fs,
		now:        func() time.Time { return time.Unix(2000, 0) },
	})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}

	b.IncCounter(metrics.RunsTotal, 1, nil)

	deadline := time.Now().Add(250 * time.Millisecond)
	for time.Now().Before(deadline) {
		if fs.count() >= 1 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if fs.count() < 1 {
		_ = b.Close()
		t.Fatalf("expected at least one background flush; got %d", fs.count())
	}

	b.IncCounter(metrics.RunsTotal, 1, nil)
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if fs.count() < 2 {
		t.Fatalf("expected final flush on Close; submissions=%d", fs.count())
	}
}

func TestBackend_ConcurrentAccess(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)

	const workers = 8
	const iters = 1000

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iters; j++ {
				b.IncCounter(metrics.RunsTotal, 1, nil)
				b.IncCounter(metrics.StageTotal, 1, metrics.Labels{"stage": "stage_load", "status": "ok"})
				b.IncCounter(metrics.RowsTotal, 1, metrics.Labels{"kind": "staged"})
				b.ObserveHistogram(metrics.StageDurationSeconds, 0.01, metrics.Labels{"stage": "stage_load", "status": "ok"})
				b.ObserveHistogram(metrics.FetchDurationSeconds, 0.02, metrics.Labels{"status": "200"})
			}
		}()
	}
	wg.Wait()

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if fs.count() != 1 {
		t.Fatalf("submit calls=%d, want 1", fs.count())
	}
}

func TestIncCounterAndObserveHistogram_EdgeCases(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)

	// Non-positive counters, missing kinds and unknown metric names drop.
	b.IncCounter(metrics.RunsTotal, 0, nil)
	b.IncCounter(metrics.RowsTotal, 1, metrics.Labels{})
	b.IncCounter("unknown_total", 1, metrics.Labels{"x": "y"})
	b.ObserveHistogram(metrics.StageDurationSeconds, -1, metrics.Labels{"stage": "extract", "status": "ok"})

	// Missing status defaults to "unknown".
	b.ObserveHistogram(metrics.FetchDurationSeconds, 0.1, metrics.Labels{})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	payload, ok := fs.last()
	if !ok {
		t.Fatalf("missing payload")
	}
	var sawP50 bool
	for _, s := range payload.Series {
		if s.Metric == "elt.fetch.duration_seconds.p50" && contains(s.Tags, "status:unknown") {
			sawP50 = true
		}
		if s.Metric == "elt.rows.total" || s.Metric == "elt.runs.total" || s.Metric == "elt.stage.duration_seconds.p50" {
			t.Fatalf("dropped metric leaked into payload: %q", s.Metric)
		}
	}
	if !sawP50 {
		t.Fatalf("expected elt.fetch.duration_seconds.p50 for status:unknown")
	}
}

func TestParseTagsCSV(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty_returns_nil", in: "", want: nil},
		{name: "trims_and_skips_empty", in: " env:prod , ,service:elt,  ,team:data ", want: []string{"env:prod", "service:elt", "team:data"}},
		{name: "single_tag", in: "service:elt", want: []string{"service:elt"}},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := ParseTagsCSV(tc.in)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ParseTagsCSV(%q)=%v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func contains[T comparable](xs []T, v T) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
