package sources

import (
	"context"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/orion/pkg/dataset"
	"github.com/cyclopcam/orion/pkg/fetch"
)

// RoboflowConfig locates the Roboflow export (Pascal VOC format, split into train/valid/test)
type RoboflowConfig struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	SHA256   string `json:"sha256"` // Optional
}

var DefaultRoboflowConfig = RoboflowConfig{
	URL:      "https://universe.roboflow.com/ds/P2jPq32qKU?key=E4MIo8mavP",
	Filename: "dataset_rf.zip",
}

// Roboflow acquires a Roboflow dataset export into Dir
type Roboflow struct {
	Log     logs.Log
	Fetcher Fetcher
	Dir     string
	Config  RoboflowConfig
}

func (r *Roboflow) Acquire(ctx context.Context) (dataset.SourceDataset, error) {
	r.Log.Infof("Downloading Roboflow dataset into %v", r.Dir)
	if _, err := r.Fetcher.FetchAndExtract(ctx, r.Config.URL, r.Config.Filename, r.Dir, fetch.Options{SHA256: r.Config.SHA256}); err != nil {
		return dataset.SourceDataset{}, err
	}
	return dataset.SourceDataset{Source: SourceRoboflow, Root: r.Dir, Schema: dataset.SchemaSplitFolders}, nil
}
