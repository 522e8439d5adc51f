package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyclopcam/logs"
)

// CleanOrphans deletes label files that have no matching image.
// root is a dataset directory with images under root/data and labels under root/labels.
// Each class subdirectory (eg root/data/n04389033 and root/labels/n04389033) is treated as
// its own partition, and so are the files directly inside root/data and root/labels.
// Image files are never deleted. Returns the number of label files removed.
func CleanOrphans(log logs.Log, root string) (int, error) {
	dataDir := filepath.Join(root, "data")
	labelsDir := filepath.Join(root, "labels")

	removed, err := cleanPartition(log, dataDir, labelsDir)
	if err != nil {
		return removed, err
	}

	entries, err := os.ReadDir(dataDir)
	if errors.Is(err, os.ErrNotExist) {
		return removed, nil
	} else if err != nil {
		return removed, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, err := cleanPartition(log, filepath.Join(dataDir, e.Name()), filepath.Join(labelsDir, e.Name()))
		removed += n
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// Delete the label files in labelsDir whose stem does not match an image file in imagesDir.
// Subdirectories are not visited.
func cleanPartition(log logs.Log, imagesDir, labelsDir string) (int, error) {
	images, err := fileStems(imagesDir)
	if err != nil {
		return 0, err
	}
	labels, err := os.ReadDir(labelsDir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	} else if err != nil {
		return 0, err
	}

	orphans := []string{}
	for _, l := range labels {
		if l.IsDir() {
			continue
		}
		if !images[Stem(l.Name())] {
			orphans = append(orphans, l.Name())
		}
	}
	if len(orphans) != 0 {
		log.Infof("Deleting %v labels without images in %v", len(orphans), labelsDir)
	}
	removed := 0
	for _, name := range orphans {
		if err := os.Remove(filepath.Join(labelsDir, name)); err != nil {
			return removed, fmt.Errorf("Failed to delete orphaned label: %w", err)
		}
		removed++
	}
	return removed, nil
}

// Returns the set of stems of all files (not directories) in dir
func fileStems(dir string) (map[string]bool, error) {
	stems := map[string]bool{}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return stems, nil
	} else if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			stems[Stem(e.Name())] = true
		}
	}
	return stems, nil
}
