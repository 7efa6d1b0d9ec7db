package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"productelt/internal/config"
	"productelt/internal/store"

	_ "productelt/internal/store/all"
)

// pipelineDef mirrors one file_config row in the pipelines JSON file.
type pipelineDef struct {
	Name                    string `json:"name"`
	Source                  string `json:"source"`
	SourceFileLocation      string `json:"source_file_location"`
	DestinationTableStaging string `json:"destination_table_staging"`
	DestinationTableDW      string `json:"destination_table_dw"`
	BucketName              string `json:"bucket_name"`
	FolderB2Name            string `json:"folder_b2_name"`
	BucketID                string `json:"bucket_id"`
}

// main imports pipeline definitions into file_config. Rows already present
// (full-row match) are skipped, so reruns are safe.
func main() {
	var cfgPath, pipelinesPath string
	flag.StringVar(&cfgPath, "config", "configs/pipeline.json", "pipeline config JSON path")
	flag.StringVar(&pipelinesPath, "pipelines", "", "JSON file with an array of pipeline definitions")
	flag.Parse()

	if pipelinesPath == "" {
		fatalf("usage: import-config -pipelines path/to/pipelines.json -config path/to/pipeline.json")
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

	raw, err := os.ReadFile(pipelinesPath)
	if err != nil {
		fatalf("read pipelines: %v", err)
	}
	var defs []pipelineDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		fatalf("parse pipelines: %v", err)
	}
	if len(defs) == 0 {
		fatalf("no pipeline definitions in %s", pipelinesPath)
	}

	cfgs := make([]store.PipelineConfig, 0, len(defs))
	for i, d := range defs {
		if d.Name == "" || d.Source == "" || d.DestinationTableStaging == "" || d.DestinationTableDW == "" {
			fatalf("pipelines[%d]: name, source and destination tables are required", i)
		}
		cfgs = append(cfgs, store.PipelineConfig{
			Name:                    d.Name,
			Source:                  d.Source,
			SourceFileLocation:      d.SourceFileLocation,
			DestinationTableStaging: d.DestinationTableStaging,
			DestinationTableDW:      d.DestinationTableDW,
			BucketName:              d.BucketName,
			FolderB2Name:            d.FolderB2Name,
			BucketID:                d.BucketID,
		})
	}

	ctx := context.Background()
	dbCfg, err := p.Database(config.RoleControls)
	if err != nil {
		fatalf("%v", err)
	}
	repo, err := store.New(ctx, dbCfg)
	if err != nil {
		fatalf("open controls database: %v", err)
	}
	defer repo.Close()

	if err := repo.EnsureControlTables(ctx); err != nil {
		fatalf("ensure control tables: %v", err)
	}
	inserted, err := repo.ImportConfigs(ctx, cfgs)
	if err != nil {
		fatalf("import configs: %v", err)
	}

	fmt.Printf("imported %d of %d pipeline configs\n", inserted, len(cfgs))
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
