package sources

import (
	"context"
	"path/filepath"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/orion/pkg/dataset"
	"github.com/cyclopcam/orion/pkg/fetch"
)

// GoogleConfig locates the military vehicles dataset that was scraped from Google Images.
// It ships with YOLO labels, already using our class names.
type GoogleConfig struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	SHA256   string `json:"sha256"` // Optional
	Subdir   string `json:"subdir"` // Directory inside the archive that holds the dataset
}

var DefaultGoogleConfig = GoogleConfig{
	URL:      "https://github.com/jonasrenault/adomvi/releases/download/v1.2.0/military-vehicles-dataset.tar.gz",
	Filename: "military-vehicles-dataset.tar.gz",
	Subdir:   "dataset",
}

// Google acquires the Google Images dataset into Dir
type Google struct {
	Log     logs.Log
	Fetcher Fetcher
	Dir     string
	Config  GoogleConfig
}

func (g *Google) Acquire(ctx context.Context) (dataset.SourceDataset, error) {
	g.Log.Infof("Downloading Google Images dataset into %v", g.Dir)
	if _, err := g.Fetcher.FetchAndExtract(ctx, g.Config.URL, g.Config.Filename, g.Dir, fetch.Options{SHA256: g.Config.SHA256}); err != nil {
		return dataset.SourceDataset{}, err
	}
	return dataset.SourceDataset{Source: SourceGoogle, Root: filepath.Join(g.Dir, g.Config.Subdir), Schema: dataset.SchemaCanonical}, nil
}
