// Package catalog records every prepared corpus in an SQLite database, so that an
// identical split can be exported again later, without acquiring the sources again.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/orion/pkg/dataset"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrNoRuns = errors.New("No runs in the catalog")

type Catalog struct {
	Log logs.Log
	DB  *gorm.DB
}

func Open(log logs.Log, dbFilename string) (*Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(dbFilename), 0755); err != nil {
		return nil, fmt.Errorf("Failed to create directory for database %v: %w", dbFilename, err)
	}
	db, err := dbh.OpenDB(log, dbh.MakeSqliteConfig(dbFilename), Migrations(log), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open database %v: %w", dbFilename, err)
	}
	return &Catalog{
		Log: log,
		DB:  db,
	}, nil
}

func (c *Catalog) Close() error {
	db, err := c.DB.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

// NewRunID returns a fresh, random run ID
func NewRunID() string {
	return uuid.NewString()
}

// SaveRun stores the corpus, including its split tags, under runID
func (c *Catalog) SaveRun(runID string, seed uint64, corpus *dataset.Corpus) (*Run, error) {
	if _, err := uuid.Parse(runID); err != nil {
		return nil, fmt.Errorf("Invalid run ID '%v': %w", runID, err)
	}
	run := &Run{
		ID:        runID,
		CreatedAt: dbh.MakeIntTime(time.Now()),
		Seed:      int64(seed),
		Samples:   corpus.Len(),
		Classes:   &dbh.JSONField[[]string]{Data: corpus.Classes()},
		Sources:   &dbh.JSONField[[]dataset.SourceDataset]{Data: corpus.Sources()},
	}
	rows := make([]*Sample, 0, corpus.Len())
	for _, s := range corpus.Samples() {
		rows = append(rows, &Sample{
			RunID:       runID,
			SampleID:    s.ID,
			Source:      s.Source,
			ImagePath:   s.ImagePath,
			Width:       s.Width,
			Height:      s.Height,
			Tag:         string(s.Tag),
			Annotations: &dbh.JSONField[[]dataset.Annotation]{Data: s.Annotations},
		})
	}
	err := c.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return err
		}
		if len(rows) != 0 {
			if err := tx.CreateInBatches(rows, 500).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Failed to save run %v: %w", runID, err)
	}
	c.Log.Infof("Saved run %v (%v samples) to catalog", runID, run.Samples)
	return run, nil
}

// LoadRun rebuilds the frozen corpus of a run, with its split tags intact
func (c *Catalog) LoadRun(runID string) (*Run, *dataset.Corpus, error) {
	run := &Run{}
	if err := c.DB.Where("id = ?", runID).First(run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, fmt.Errorf("Run %v not found", runID)
		}
		return nil, nil, err
	}
	rows := []*Sample{}
	if err := c.DB.Where("run_id = ?", runID).Order("id").Find(&rows).Error; err != nil {
		return nil, nil, err
	}

	sources := map[string]dataset.SourceDataset{}
	if run.Sources != nil {
		for _, src := range run.Sources.Data {
			sources[src.Source] = src
		}
	}
	corpus := dataset.NewCorpus()
	for _, r := range rows {
		s := &dataset.Sample{
			ID:        r.SampleID,
			Source:    r.Source,
			ImagePath: r.ImagePath,
			Width:     r.Width,
			Height:    r.Height,
			Tag:       dataset.Split(r.Tag),
		}
		if r.Annotations != nil {
			s.Annotations = r.Annotations.Data
		}
		src, ok := sources[r.Source]
		if !ok {
			src = dataset.SourceDataset{Source: r.Source}
		}
		if _, err := corpus.Merge(src, []*dataset.Sample{s}); err != nil {
			return nil, nil, err
		}
	}
	corpus.Freeze()
	return run, corpus, nil
}

// LatestRun returns the most recently saved run
func (c *Catalog) LatestRun() (*Run, error) {
	run := &Run{}
	err := c.DB.Order("created_at DESC").Order("rowid DESC").First(run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoRuns
	} else if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns all runs, newest first
func (c *Catalog) ListRuns() ([]*Run, error) {
	runs := []*Run{}
	if err := c.DB.Order("created_at DESC").Order("rowid DESC").Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}
