// Package datadog implements a Datadog backend for the internal/metrics
// facade.
//
// The backend buffers metrics in memory, submits them on a ticker (default
// once per minute) and flushes one final time on Close. Long pipeline runs
// get a real time series instead of a single spike at exit; short commands
// still get their tail flush. If the process dies without Close, the last
// window is lost.
//
// Concurrency: emitters call IncCounter/ObserveHistogram under a mutex;
// Flush snapshots and resets the buffers under that mutex, then submits
// out of lock.
package datadog

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"productelt/internal/metrics"
)

// Options configures the backend.
type Options struct {
	// JobName becomes the "job:<name>" tag on every series. Defaults to
	// "productelt".
	JobName string

	// Tags are extra Datadog tags, e.g. []string{"env:prod"}.
	Tags []string

	// FlushEvery is the submit interval. Defaults to 60s.
	FlushEvery time.Duration

	// Unexported test seams. Production never sets these; tests inject
	// them to avoid real clocks, tickers and HTTP.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the slice of the Datadog SDK the backend needs. The
// SDK hands out a concrete *datadogV2.MetricsApi; depending on this
// interface instead lets tests stub submission.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, o ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu sync.Mutex

	stageCounts map[string]float64 // stage\x00status -> count
	rowCounts   map[string]float64 // kind -> count
	runCount    float64
	stageDur    map[string][]float64 // stage\x00status -> seconds
	fetchDur    map[string][]float64 // status -> seconds
	fileSizeKB  map[string][]float64 // kind -> KB
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a Datadog backend using the official client and
// starts its flush loop. Credentials come from the SDK's default context
// (DD_API_KEY etc.); network errors surface from Flush, not from here.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "productelt"
	}

	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	submitter := opts.submitter
	if submitter == nil {
		cfg := dd.NewConfiguration()
		client := dd.NewAPIClient(cfg)
		submitter = datadogV2.NewMetricsApi(client)
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),

		baseTags: baseTags,

		now:       nowFn,
		newTicker: newTicker,

		stageCounts: make(map[string]float64),
		rowCounts:   make(map[string]float64),
		stageDur:    make(map[string][]float64),
		fetchDur:    make(map[string][]float64),
		fileSizeKB:  make(map[string][]float64),
	}

	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop and performs one final Flush. Close once;
// a second Close panics on the already-closed stop channel.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.StageTotal:
		k := stageStatusKey(labels["stage"], labels["status"])
		b.stageCounts[k] += delta

	case metrics.RowsTotal:
		kind := labels["kind"]
		if kind == "" {
			return
		}
		b.rowCounts[kind] += delta

	case metrics.RunsTotal:
		b.runCount += delta

	default:
		// Unknown counters are dropped.
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.StageDurationSeconds:
		k := stageStatusKey(labels["stage"], labels["status"])
		b.stageDur[k] = append(b.stageDur[k], value)

	case metrics.FetchDurationSeconds:
		status := labels["status"]
		if status == "" {
			status = "unknown"
		}
		b.fetchDur[status] = append(b.fetchDur[status], value)

	case metrics.FileSizeKB:
		kind := labels["kind"]
		if kind == "" {
			kind = "unknown"
		}
		b.fileSizeKB[kind] = append(b.fileSizeKB[kind], value)

	default:
		// Unknown histograms are dropped.
	}
}

// snapshot is the detached buffer state a single Flush submits. Flush must
// reset buffers under the lock but submit out of lock; the snapshot is the
// hand-off between the two.
type snapshot struct {
	stageCounts map[string]float64
	rowCounts   map[string]float64
	runCount    float64
	stageDur    map[string][]float64
	fetchDur    map[string][]float64
	fileSizeKB  map[string][]float64
}

func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{
		stageCounts: b.stageCounts,
		rowCounts:   b.rowCounts,
		runCount:    b.runCount,
		stageDur:    b.stageDur,
		fetchDur:    b.fetchDur,
		fileSizeKB:  b.fileSizeKB,
	}

	b.stageCounts = make(map[string]float64)
	b.rowCounts = make(map[string]float64)
	b.runCount = 0
	b.stageDur = make(map[string][]float64)
	b.fetchDur = make(map[string][]float64)
	b.fileSizeKB = make(map[string][]float64)

	return s
}

func (s snapshot) isEmpty() bool {
	return len(s.stageCounts) == 0 &&
		len(s.rowCounts) == 0 &&
		s.runCount == 0 &&
		len(s.stageDur) == 0 &&
		len(s.fetchDur) == 0 &&
		len(s.fileSizeKB) == 0
}

// Flush submits buffered metrics and resets the buffers. Buffers are reset
// even when submission fails; delivery is best effort so the pipeline never
// blocks behind a slow intake.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	nowUnix := b.now().Unix()
	payload := datadogV2.MetricPayload{Series: b.buildSeries(snap, nowUnix)}

	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries turns a snapshot into Datadog series at a fixed timestamp.
// Pure on purpose: the naming and tagging here is an operational contract
// and the unit tests pin it.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(s.stageCounts)+len(s.rowCounts)+32)

	for k, v := range s.stageCounts {
		if v == 0 {
			continue
		}
		stage, status := splitStageStatusKey(k)
		tags := withTags(b.baseTags, "stage:"+stage, "status:"+status)
		series = append(series, countSeries("elt.stage.total", v, tags, nowUnix))
	}

	for kind, v := range s.rowCounts {
		if v == 0 {
			continue
		}
		tags := withTags(b.baseTags, "kind:"+kind)
		series = append(series, countSeries("elt.rows.total", v, tags, nowUnix))
	}

	if s.runCount != 0 {
		series = append(series, countSeries("elt.runs.total", s.runCount, b.baseTags, nowUnix))
	}

	for k, samples := range s.stageDur {
		stage, status := splitStageStatusKey(k)
		tags := withTags(b.baseTags, "stage:"+stage, "status:"+status)
		addPercentiles(&series, "elt.stage.duration_seconds", samples, tags, nowUnix)
	}
	for status, samples := range s.fetchDur {
		tags := withTags(b.baseTags, "status:"+status)
		addPercentiles(&series, "elt.fetch.duration_seconds", samples, tags, nowUnix)
	}
	for kind, samples := range s.fileSizeKB {
		tags := withTags(b.baseTags, "kind:"+kind)
		addPercentiles(&series, "elt.file.size_kb", samples, tags, nowUnix)
	}

	return series
}

// addPercentiles appends the fixed percentile gauge set for one sample set.
// Sorts a copy, never the input.
func addPercentiles(series *[]datadogV2.MetricSeries, metricPrefix string, samples []float64, tags []string, nowUnix int64) {
	if len(samples) == 0 {
		return
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	*series = append(*series, gaugeSeries(metricPrefix+".p50", percentileNearestRank(cp, 0.50), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p90", percentileNearestRank(cp, 0.90), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p95", percentileNearestRank(cp, 0.95), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p99", percentileNearestRank(cp, 0.99), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".max", cp[len(cp)-1], tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".samples", float64(len(cp)), tags, nowUnix))
}

func countSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func stageStatusKey(stage, status string) string {
	return stage + "\x00" + status
}

func splitStageStatusKey(k string) (stage, status string) {
	parts := strings.SplitN(k, "\x00", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return k, "unknown"
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,service:elt".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
