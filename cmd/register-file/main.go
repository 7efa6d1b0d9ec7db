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
	"productelt/internal/notifier"
	"productelt/internal/pipeline"
	"productelt/internal/store"

	_ "productelt/internal/store/all"
)

// main registers an extract file that was produced out of band (manual
// scrape, backfill) so the stage loader will pick it up as an ER run.
func main() {
	var (
		cfgPath  string
		idConfig int64
		dateFlg  string
		fileName string
	)

	flag.StringVar(&cfgPath, "config", "configs/pipeline.json", "pipeline config JSON path")
	flag.Int64Var(&idConfig, "id", 0, "file_config id")
	flag.StringVar(&dateFlg, "date", "", "run date YYYY-MM-DD (default today)")
	flag.StringVar(&fileName, "file", "", "extract file name in the object store")
	flag.Parse()

	if idConfig <= 0 || fileName == "" {
		fatalf("usage: register-file -id <id_config> -file <name.csv> -config path/to/pipeline.json [-date YYYY-MM-DD]")
	}

	p, err := config.Load(cfgPath)
	if err != nil {
		fatalf("%v", err)
	}
	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintln(os.Stderr, iss)
	}
	if config.HasError(issues) {
		fatalf("configuration is invalid: %s", cfgPath)
	}

	date := time.Now().UTC().Truncate(24 * time.Hour)
	if dateFlg != "" {
		date, err = time.Parse("2006-01-02", dateFlg)
		if err != nil {
			fatalf("bad -date %q: %v", dateFlg, err)
		}
	}

	ctx := context.Background()
	dbCfg, err := p.Database(config.RoleControls)
	if err != nil {
		fatalf("%v", err)
	}
	controls, err := store.New(ctx, dbCfg)
	if err != nil {
		fatalf("open controls database: %v", err)
	}
	defer controls.Close()

	cfg, err := controls.GetConfig(ctx, idConfig)
	if err != nil {
		fatalf("load file_config %d: %v", idConfig, err)
	}

	files, err := filestore.New(ctx, p.ObjectStoreConfig())
	if err != nil {
		fatalf("open object store: %v", err)
	}

	coord := pipeline.New(pipeline.Deps{
		Control:  controls,
		Files:    files,
		Notifier: notifier.Nop{},
		Logger:   log.Default(),
	})

	if err := coord.RegisterFile(ctx, cfg, date, fileName); err != nil {
		if errors.Is(err, pipeline.ErrSkipped) {
			log.Printf("%v", err)
			return
		}
		fatalf("%v", err)
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
