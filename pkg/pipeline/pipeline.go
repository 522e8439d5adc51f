// Package pipeline builds the military vehicle dataset end to end: acquire each source,
// normalize it, map its labels, merge, clean, split, record the run and export.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/orion/pkg/catalog"
	"github.com/cyclopcam/orion/pkg/config"
	"github.com/cyclopcam/orion/pkg/dataset"
	"github.com/cyclopcam/orion/pkg/export"
	"github.com/cyclopcam/orion/pkg/fetch"
	"github.com/cyclopcam/orion/pkg/metrics"
	"github.com/cyclopcam/orion/pkg/sources"
	"github.com/cyclopcam/orion/pkg/storage"
	"github.com/cyclopcam/orion/pkg/taxonomy"
	"golang.org/x/sync/errgroup"
)

type Pipeline struct {
	Log     logs.Log
	Config  *config.Config
	Fetcher *fetch.Client
	Metrics *metrics.Metrics
	Catalog *catalog.Catalog
}

// Result of Prepare
type Result struct {
	RunID   string
	Seed    uint64
	Corpus  *dataset.Corpus
	Removed int // Orphan labels and dead samples removed by cleaning
	Export  *export.Summary
}

// New creates a pipeline and opens its run catalog
func New(log logs.Log, cfg *config.Config) (*Pipeline, error) {
	chunkSize, err := cfg.ChunkSize()
	if err != nil {
		return nil, err
	}
	m := metrics.New()
	client := fetch.NewClient(log)
	if chunkSize != 0 {
		client.ChunkSize = chunkSize
	}
	client.Observer = fetch.MultiObserver{fetch.NewLogObserver(log), m}
	cat, err := catalog.Open(log, cfg.CatalogFile)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		Log:     log,
		Config:  cfg,
		Fetcher: client,
		Metrics: m,
		Catalog: cat,
	}, nil
}

func (p *Pipeline) Close() {
	if err := p.Catalog.Close(); err != nil {
		p.Log.Warnf("Failed to close catalog: %v", err)
	}
}

func (p *Pipeline) imageNet() *sources.ImageNet {
	n := sources.NewImageNet(p.Log, p.Fetcher, p.Config.ImageNetDir())
	n.URLs = p.Config.ImageNet
	return n
}

// Search logs and returns the ImageNet classes whose names match any of the keywords
func (p *Pipeline) Search(ctx context.Context, keywords []string) ([]sources.Class, error) {
	classes, err := p.imageNet().Search(ctx, keywords)
	if err != nil {
		return nil, err
	}
	for _, c := range classes {
		p.Log.Infof("%v: %v", c.ID, c.Name)
	}
	if len(classes) == 0 {
		p.Log.Infof("No classes match %v", keywords)
	}
	return classes, nil
}

// Acquire downloads the given ImageNet classes, and returns the ones that have annotations.
// If ids is empty, the configured IDs are used.
func (p *Pipeline) Acquire(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		ids = p.Config.ImageNetIDs
	}
	return p.imageNet().Acquire(ctx, ids)
}

// One source, as it comes off the network
type acquisition struct {
	source  string
	acquire func(ctx context.Context) (dataset.SourceDataset, error)
}

// Sources in merge order
func (p *Pipeline) acquisitions(ids []string) []acquisition {
	return []acquisition{
		{sources.SourceImageNet, func(ctx context.Context) (dataset.SourceDataset, error) {
			n := p.imageNet()
			if _, err := n.Acquire(ctx, ids); err != nil {
				return dataset.SourceDataset{}, err
			}
			return n.Dataset(), nil
		}},
		{sources.SourceRoboflow, func(ctx context.Context) (dataset.SourceDataset, error) {
			r := &sources.Roboflow{Log: p.Log, Fetcher: p.Fetcher, Dir: p.Config.RoboflowDir(), Config: p.Config.Roboflow}
			return r.Acquire(ctx)
		}},
		{sources.SourceGoogle, func(ctx context.Context) (dataset.SourceDataset, error) {
			g := &sources.Google{Log: p.Log, Fetcher: p.Fetcher, Dir: p.Config.GoogleDir(), Config: p.Config.Google}
			return g.Acquire(ctx)
		}},
	}
}

type normalized struct {
	src     dataset.SourceDataset
	samples []*dataset.Sample
}

// Prepare acquires and normalizes all sources concurrently, then merges them in a fixed order,
// cleans and splits the corpus, saves the run to the catalog, and exports it.
// If any source fails, the others are cancelled and nothing is merged.
// If ids is empty, the configured ImageNet IDs are used.
func (p *Pipeline) Prepare(ctx context.Context, ids []string) (*Result, error) {
	if len(ids) == 0 {
		ids = p.Config.ImageNetIDs
	}
	start := time.Now()
	acqs := p.acquisitions(ids)
	results := make([]normalized, len(acqs))

	g, gctx := errgroup.WithContext(ctx)
	for i, a := range acqs {
		g.Go(func() error {
			src, err := a.acquire(gctx)
			if err != nil {
				return fmt.Errorf("Failed to acquire %v: %w", a.source, err)
			}
			samples, err := sources.Normalize(gctx, p.Log, src)
			if err != nil {
				return fmt.Errorf("Failed to normalize %v: %w", a.source, err)
			}
			results[i] = normalized{src: src, samples: samples}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	corpus := dataset.NewCorpus()
	for _, r := range results {
		mapped, unmapped := taxonomy.Apply(r.src.Source, r.samples)
		if unmapped != 0 {
			p.Log.Infof("%v: %v annotations have no unified class, and will not be exported", r.src.Source, unmapped)
		}
		p.Log.Debugf("%v: relabeled %v annotations", r.src.Source, mapped)
		before := corpus.Len()
		total, err := corpus.Merge(r.src, r.samples)
		if err != nil {
			return nil, err
		}
		p.Metrics.Merged(r.src.Source, total-before, total)
		p.Log.Infof("Merged %v samples from %v. Dataset currently contains %v samples", total-before, r.src.Source, total)
	}

	removed, err := corpus.Clean(p.Log)
	if err != nil {
		return nil, err
	}
	p.Metrics.OrphansRemoved(removed)

	seed := p.Config.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	proportions := p.Config.Proportions()
	if _, err := dataset.RandomSplit(corpus, proportions, dataset.NewRand(seed)); err != nil {
		return nil, err
	}
	counts := corpus.CountByTag()
	for _, split := range proportions.Order() {
		p.Log.Infof("%v: %v samples", split, counts[split])
	}

	res := &Result{
		RunID:   catalog.NewRunID(),
		Seed:    seed,
		Corpus:  corpus,
		Removed: removed,
	}
	if _, err := p.Catalog.SaveRun(res.RunID, seed, corpus); err != nil {
		return nil, err
	}

	res.Export, err = p.export(ctx, corpus, p.Config.ExportDestination, p.Config.Overwrite)
	if err != nil {
		return nil, err
	}
	p.Log.Infof("Run %v prepared in %.1f seconds", res.RunID, time.Since(start).Seconds())
	return res, nil
}

// Reexport writes the corpus of an earlier run to destination, with the same split.
// An empty runID selects the latest run, and an empty destination selects the configured one.
func (p *Pipeline) Reexport(ctx context.Context, runID, destination string, overwrite bool) (*export.Summary, error) {
	if runID == "" {
		latest, err := p.Catalog.LatestRun()
		if err != nil {
			return nil, err
		}
		runID = latest.ID
	}
	if destination == "" {
		destination = p.Config.ExportDestination
	}
	_, corpus, err := p.Catalog.LoadRun(runID)
	if err != nil {
		return nil, err
	}
	p.Log.Infof("Exporting run %v (%v samples)", runID, corpus.Len())
	return p.export(ctx, corpus, destination, overwrite)
}

func (p *Pipeline) export(ctx context.Context, corpus *dataset.Corpus, destination string, overwrite bool) (*export.Summary, error) {
	dest, err := storage.Open(ctx, p.Log, destination, p.Config.Storage)
	if err != nil {
		return nil, err
	}
	summary, err := export.Export(ctx, p.Log, corpus, dest, export.Options{
		Classes:   p.Config.Classes,
		Splits:    p.Config.Proportions().Order(),
		Overwrite: overwrite,
	})
	if err != nil {
		return nil, err
	}
	p.Metrics.Exported(summary.Images, summary.Boxes)
	if err := p.Metrics.WriteTextfile(p.Config.MetricsFile); err != nil {
		p.Log.Warnf("Failed to write metrics to %v: %v", p.Config.MetricsFile, err)
	}
	return summary, nil
}
