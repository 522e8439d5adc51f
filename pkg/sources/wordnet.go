package sources

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/orion/pkg/dataset"
)

// WordnetNormalizer reads a dataset laid out as
//
//	<root>/data/<class>/<stem>.JPEG
//	<root>/labels/<class>/<stem>.xml
//
// with Pascal VOC labels. Files directly inside data/ and labels/ are read too,
// so the flattened split-folder layout is handled by the same code.
type WordnetNormalizer struct {
	Log    logs.Log
	Source string
}

func (n *WordnetNormalizer) Normalize(ctx context.Context, rawDir string) ([]*dataset.Sample, error) {
	dataDir := filepath.Join(rawDir, "data")
	labelsDir := filepath.Join(rawDir, "labels")

	samples, err := readVOCDir(ctx, n.Log, n.Source, dataDir, labelsDir)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(labelsDir)
	if os.IsNotExist(err) {
		return samples, nil
	} else if err != nil {
		return nil, err
	}
	classes := []string{}
	for _, e := range entries {
		if e.IsDir() {
			classes = append(classes, e.Name())
		}
	}
	sort.Strings(classes)
	for _, class := range classes {
		cs, err := readVOCDir(ctx, n.Log, n.Source, filepath.Join(dataDir, class), filepath.Join(labelsDir, class))
		if err != nil {
			return nil, err
		}
		samples = append(samples, cs...)
	}
	n.Log.Infof("Read %v %v samples from %v", len(samples), n.Source, rawDir)
	return samples, nil
}
