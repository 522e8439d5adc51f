package sources

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/orion/pkg/dataset"
)

// SplitFolders are the sub-directories that a split-organized dataset ships with
var SplitFolders = []string{"test", "train", "valid"}

// SplitFolderNormalizer reads a dataset whose images and VOC labels sit side by side
// in train/, valid/ and test/. The split folders are first flattened into data/ and labels/,
// after which the dataset is read exactly like a wordnet dataset.
type SplitFolderNormalizer struct {
	Log    logs.Log
	Source string
}

func (n *SplitFolderNormalizer) Normalize(ctx context.Context, rawDir string) ([]*dataset.Sample, error) {
	if err := Restructure(n.Log, rawDir); err != nil {
		return nil, err
	}
	w := WordnetNormalizer{Log: n.Log, Source: n.Source}
	return w.Normalize(ctx, rawDir)
}

// Restructure moves images from each split folder into dir/data, and .xml files into dir/labels,
// and then deletes the split folder. The original split is discarded.
// Missing split folders are ignored, so running this a second time does nothing.
func Restructure(log logs.Log, dir string) error {
	dataDir := filepath.Join(dir, "data")
	labelsDir := filepath.Join(dir, "labels")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return err
	}
	if err := os.MkdirAll(labelsDir, 0755); err != nil {
		return err
	}

	for _, split := range SplitFolders {
		splitDir := filepath.Join(dir, split)
		entries, err := os.ReadDir(splitDir)
		if os.IsNotExist(err) {
			continue
		} else if err != nil {
			return err
		}
		log.Infof("Restructuring %v", splitDir)
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			var target string
			if dataset.IsImageFile(e.Name()) {
				target = filepath.Join(dataDir, e.Name())
			} else if strings.EqualFold(filepath.Ext(e.Name()), ".xml") {
				target = filepath.Join(labelsDir, e.Name())
			} else {
				continue
			}
			if err := moveFile(filepath.Join(splitDir, e.Name()), target); err != nil {
				return fmt.Errorf("Failed to restructure %v: %w", splitDir, err)
			}
		}
		if err := os.RemoveAll(splitDir); err != nil {
			return err
		}
	}
	return nil
}

// Rename, or copy and delete if the rename fails (eg across devices)
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	in.Close()
	return os.Remove(src)
}
