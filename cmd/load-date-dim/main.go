package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"productelt/internal/config"
	"productelt/internal/datedim"
	"productelt/internal/store"

	_ "productelt/internal/store/all"
)

// main loads the calendar dimension CSV into the warehouse's date_dim
// table. Run once per deployment (or when extending the calendar); rows
// already present are left alone by the backends that support it.
func main() {
	var cfgPath, csvPath string
	flag.StringVar(&cfgPath, "config", "configs/pipeline.json", "pipeline config JSON path")
	flag.StringVar(&csvPath, "csv", "", "date dimension CSV path")
	flag.Parse()

	if csvPath == "" {
		fatalf("usage: load-date-dim -csv path/to/date_dim.csv -config path/to/pipeline.json")
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

	f, err := os.Open(csvPath)
	if err != nil {
		fatalf("open csv: %v", err)
	}
	defer f.Close()

	header, rows, err := datedim.ReadCSV(f)
	if err != nil {
		fatalf("%v", err)
	}

	ctx := context.Background()
	dbCfg, err := p.Database(config.RoleDW)
	if err != nil {
		fatalf("%v", err)
	}
	dw, err := store.New(ctx, dbCfg)
	if err != nil {
		fatalf("open dw database: %v", err)
	}
	defer dw.Close()

	if err := dw.EnsureWarehouseTables(ctx); err != nil {
		fatalf("ensure warehouse tables: %v", err)
	}
	if err := dw.InsertDateDim(ctx, header, rows); err != nil {
		fatalf("insert date_dim: %v", err)
	}

	fmt.Printf("loaded %d date_dim rows\n", len(rows))
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
