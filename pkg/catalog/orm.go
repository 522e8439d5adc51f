package catalog

import (
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/orion/pkg/dataset"
)

// Run is one execution of the prepare pipeline, and the frozen corpus that it exported
type Run struct {
	ID        string                                   `gorm:"primaryKey" json:"id"` // UUID
	CreatedAt dbh.IntTime                              `json:"createdAt"`
	Seed      int64                                    `json:"seed"` // Split seed. Zero if the split was not seeded.
	Samples   int                                      `json:"samples"`
	Classes   *dbh.JSONField[[]string]                 `json:"classes"` // Corpus vocabulary
	Sources   *dbh.JSONField[[]dataset.SourceDataset] `json:"sources"`
}

// Sample is one row per corpus sample of a run
type Sample struct {
	ID          int64                                 `gorm:"primaryKey" json:"id"`
	RunID       string                                `json:"runID"`
	SampleID    string                                `json:"sampleID"`
	Source      string                                `json:"source"`
	ImagePath   string                                `json:"imagePath"`
	Width       int                                   `json:"width"`
	Height      int                                   `json:"height"`
	Tag         string                                `json:"tag"`
	Annotations *dbh.JSONField[[]dataset.Annotation] `json:"annotations"`
}
