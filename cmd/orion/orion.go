package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/orion/pkg/catalog"
	"github.com/cyclopcam/orion/pkg/config"
	"github.com/cyclopcam/orion/pkg/export"
	"github.com/cyclopcam/orion/pkg/pipeline"
)

func main() {
	parser := argparse.NewParser("orion", "Build a military vehicle object detection dataset from several public sources")
	configFile := parser.String("c", "config", &argparse.Options{Help: "JSON configuration file (optional)", Default: ""})

	searchCmd := parser.NewCommand("search", "Search ImageNet classes by name")
	keywords := searchCmd.StringList("k", "keyword", &argparse.Options{Help: "Regular expression matched against class names (repeatable)", Required: true})

	acquireCmd := parser.NewCommand("acquire", "Download ImageNet classes with bounding box annotations")
	acquireIDs := acquireCmd.StringList("i", "id", &argparse.Options{Help: "Wordnet ID, eg n04389033 (repeatable). Defaults to the configured IDs"})

	prepareCmd := parser.NewCommand("prepare", "Acquire all sources, merge, split and export")
	prepareIDs := prepareCmd.StringList("i", "id", &argparse.Options{Help: "Wordnet ID to include (repeatable). Defaults to the configured IDs"})
	prepareDest := prepareCmd.String("d", "dest", &argparse.Options{Help: "Export destination: directory, gs://bucket/prefix or s3://bucket/prefix", Default: ""})
	prepareOverwrite := prepareCmd.Flag("", "overwrite", &argparse.Options{Help: "Replace an existing export", Default: false})
	prepareSeed := prepareCmd.Int("", "seed", &argparse.Options{Help: "Split seed. Zero for a random split", Default: 0})

	exportCmd := parser.NewCommand("export", "Export a previous run again, with the same split")
	exportRun := exportCmd.String("r", "run", &argparse.Options{Help: "Run ID. Defaults to the latest run", Default: ""})
	exportDest := exportCmd.String("d", "dest", &argparse.Options{Help: "Export destination", Default: ""})
	exportOverwrite := exportCmd.Flag("", "overwrite", &argparse.Options{Help: "Replace an existing export", Default: false})

	runsCmd := parser.NewCommand("runs", "List the runs in the catalog")

	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	if *prepareDest != "" {
		cfg.ExportDestination = *prepareDest
	}
	if *prepareOverwrite {
		cfg.Overwrite = true
	}
	seed, err := parseSeed(*prepareSeed)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	if seed != 0 {
		cfg.Seed = seed
	}

	p, err := pipeline.New(logger, cfg)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case searchCmd.Happened():
		_, err = p.Search(ctx, *keywords)
	case acquireCmd.Happened():
		var annotated []string
		annotated, err = p.Acquire(ctx, *acquireIDs)
		if err == nil {
			logger.Infof("Acquired %v classes with annotations: %v", len(annotated), annotated)
		}
	case prepareCmd.Happened():
		var res *pipeline.Result
		res, err = p.Prepare(ctx, *prepareIDs)
		if err == nil {
			logger.Infof("Run %v: %v samples exported to %v", res.RunID, res.Corpus.Len(), res.Export.Location)
		}
	case exportCmd.Happened():
		var summary *export.Summary
		summary, err = p.Reexport(ctx, *exportRun, *exportDest, *exportOverwrite)
		if err == nil {
			logger.Infof("Exported %v boxes to %v", summary.Boxes, summary.Location)
		}
	case runsCmd.Happened():
		err = listRuns(logger, p.Catalog)
	}

	if err != nil {
		logger.Errorf("%v", err)
		// Deferred calls don't run after os.Exit
		p.Close()
		os.Exit(1)
	}
}

// parseSeed rejects negative seeds, which would otherwise wrap to huge unsigned values
func parseSeed(v int) (uint64, error) {
	if v < 0 {
		return 0, fmt.Errorf("Invalid --seed %v: must be zero or positive", v)
	}
	return uint64(v), nil
}

func listRuns(log logs.Log, cat *catalog.Catalog) error {
	runs, err := cat.ListRuns()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		log.Infof("No runs")
		return nil
	}
	for _, r := range runs {
		log.Infof("%v  %v  seed %v  %v samples  classes %v", r.ID, r.CreatedAt.Get().Format("2006-01-02 15:04:05"), uint64(r.Seed), r.Samples, r.Classes.Data)
	}
	return nil
}
