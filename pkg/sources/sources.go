// Package sources acquires the raw datasets that make up the corpus, and normalizes
// each raw layout into dataset.Sample records.
package sources

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/orion/pkg/dataset"
	"github.com/cyclopcam/orion/pkg/fetch"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Source names. These are part of every sample ID, and they select the taxonomy table.
const (
	SourceImageNet   = "imagenet"
	SourceRoboflow   = "roboflow"
	SourceGoogle     = "google"
	SourceOpenImages = "openimages"
)

// Normalizer converts one raw dataset layout into samples.
// Labels are returned exactly as the source spells them. Taxonomy mapping happens later.
type Normalizer interface {
	Normalize(ctx context.Context, rawDir string) ([]*dataset.Sample, error)
}

// Fetcher is the subset of fetch.Client that the acquirers need
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string, opts fetch.Options) (string, error)
	FetchAndExtract(ctx context.Context, url, filename, dir string, opts fetch.Options) (string, error)
}

// NormalizerFor returns the normalizer for a raw layout.
// source is stamped onto every sample that the normalizer produces.
func NormalizerFor(log logs.Log, schema dataset.Schema, source string) (Normalizer, error) {
	switch schema {
	case dataset.SchemaWordnet:
		return &WordnetNormalizer{Log: log, Source: source}, nil
	case dataset.SchemaSplitFolders:
		return &SplitFolderNormalizer{Log: log, Source: source}, nil
	case dataset.SchemaCanonical:
		return &CanonicalNormalizer{Log: log, Source: source}, nil
	}
	return nil, fmt.Errorf("Unknown dataset schema '%v'", schema)
}

// Normalize runs the appropriate normalizer over a source dataset.
// Two samples with the same ID are an error, since the corpus would keep only the first.
func Normalize(ctx context.Context, log logs.Log, src dataset.SourceDataset) ([]*dataset.Sample, error) {
	n, err := NormalizerFor(log, src.Schema, src.Source)
	if err != nil {
		return nil, err
	}
	samples, err := n.Normalize(ctx, src.Root)
	if err != nil {
		return nil, err
	}
	if err := checkUniqueIDs(src.Source, samples); err != nil {
		return nil, err
	}
	return samples, nil
}

func checkUniqueIDs(source string, samples []*dataset.Sample) error {
	seen := make(map[string]string, len(samples))
	for _, s := range samples {
		if other, ok := seen[s.ID]; ok {
			return fmt.Errorf("%v: images %v and %v both have sample ID %v", source, other, s.ImagePath, s.ID)
		}
		seen[s.ID] = s.ImagePath
	}
	return nil
}

// readLines returns the non-empty, trimmed lines of a text file
func readLines(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	lines := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

// imageSize reads only the image header
func imageSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(bufio.NewReader(f))
	if err != nil {
		return 0, 0, fmt.Errorf("Failed to read image header of %v: %w", path, err)
	}
	return cfg.Width, cfg.Height, nil
}

// imagesByStem maps file stem to path, for every image file directly inside dir
func imagesByStem(dir string) (map[string]string, error) {
	images := map[string]string{}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return images, nil
	} else if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if !e.IsDir() && dataset.IsImageFile(e.Name()) {
			images[dataset.Stem(e.Name())] = filepath.Join(dir, e.Name())
		}
	}
	return images, nil
}
