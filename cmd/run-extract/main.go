package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"productelt/internal/config"
	"productelt/internal/filestore"
	"productelt/internal/metrics"
	"productelt/internal/metrics/datadog"
	"productelt/internal/notifier"
	"productelt/internal/pipeline"
	"productelt/internal/scraper"
	"productelt/internal/store"

	// register all database backends with the store factory.
	_ "productelt/internal/store/all"
)

// main runs the extract stage for one pipeline config: claim the run,
// scrape the source, register the extract file.
func main() {
	var (
		cfgPath        string
		idConfig       int64
		dateFlg        string
		metricsBackend string
	)

	flag.StringVar(&cfgPath, "config", "configs/pipeline.json", "pipeline config JSON path")
	flag.Int64Var(&idConfig, "id", 0, "file_config id to run")
	flag.StringVar(&dateFlg, "date", "", "run date YYYY-MM-DD (default today)")
	flag.StringVar(&metricsBackend, "metrics-backend", "none", "metrics backend (datadog, none)")
	flag.Parse()

	if idConfig <= 0 {
		fatalf("usage: run-extract -id <id_config> -config path/to/pipeline.json [-date YYYY-MM-DD]")
	}

	p := mustLoadConfig(cfgPath)
	date := mustParseDate(dateFlg)
	closeMetrics := setupMetrics(metricsBackend, p.Job)
	defer closeMetrics()

	ctx := context.Background()

	controls := mustOpenRepo(ctx, p, config.RoleControls)
	defer controls.Close()
	if err := controls.EnsureControlTables(ctx); err != nil {
		fatalf("ensure control tables: %v", err)
	}

	cfg, err := controls.GetConfig(ctx, idConfig)
	if err != nil {
		fatalf("load file_config %d: %v", idConfig, err)
	}

	files, err := filestore.New(ctx, p.ObjectStoreConfig())
	if err != nil {
		fatalf("open object store: %v", err)
	}

	site := scraper.New(cfg.Source,
		scraper.WithPages(p.Scraper.Pages),
		scraper.WithLogger(log.Default()))

	coord := pipeline.New(pipeline.Deps{
		Control:  controls,
		Files:    files,
		Scraper:  site,
		Notifier: buildNotifier(p),
		Logger:   log.Default(),
	})

	finish(coord.RunExtract(ctx, cfg, date))
}

func mustLoadConfig(path string) config.Pipeline {
	p, err := config.Load(path)
	if err != nil {
		fatalf("%v", err)
	}
	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintln(os.Stderr, iss)
	}
	if config.HasError(issues) {
		fatalf("configuration is invalid: %s", path)
	}
	return p
}

func mustParseDate(s string) time.Time {
	if s == "" {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		fatalf("bad -date %q: %v", s, err)
	}
	return d
}

func mustOpenRepo(ctx context.Context, p config.Pipeline, role string) store.Repository {
	cfg, err := p.Database(role)
	if err != nil {
		fatalf("%v", err)
	}
	repo, err := store.New(ctx, cfg)
	if err != nil {
		fatalf("open %s database: %v", role, err)
	}
	return repo
}

func buildNotifier(p config.Pipeline) notifier.Notifier {
	cfg, ok := p.NotifierConfig()
	if !ok {
		return notifier.Nop{}
	}
	n, err := notifier.NewSMTP(cfg)
	if err != nil {
		log.Printf("notifier: %v; alerts disabled", err)
		return notifier.Nop{}
	}
	return n
}

// setupMetrics installs the requested backend and returns its shutdown func.
func setupMetrics(backend, job string) func() {
	switch backend {
	case "datadog":
		b, err := datadog.NewBackend(context.Background(), datadog.Options{
			JobName: job,
			Tags:    datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS")),
		})
		if err != nil {
			log.Printf("metrics: datadog init: %v; metrics disabled", err)
			return func() {}
		}
		metrics.SetBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				log.Printf("metrics: close/flush error: %v", err)
			}
		}
	case "", "none":
		return func() {}
	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backend)
		return func() {}
	}
}

// finish maps a stage result to an exit code: skips and recorded stage
// failures are clean exits, the state machine already holds the outcome.
func finish(err error) {
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrSkipped):
		log.Printf("%v", err)
	case errors.Is(err, pipeline.ErrStageFailed):
		log.Printf("%v", err)
	default:
		fatalf("%v", err)
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
