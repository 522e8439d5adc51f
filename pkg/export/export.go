// Package export writes a split corpus out as a YOLO detection dataset:
//
//	<split>/images/<source>_<stem>.<ext>
//	<split>/labels/<source>_<stem>.txt
//	dataset.yaml
package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/orion/pkg/dataset"
	"github.com/cyclopcam/orion/pkg/storage"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// ManifestName is the name of the dataset description file, at the root of the export
const ManifestName = "dataset.yaml"

// ExistsError is returned when the destination already holds files, and overwrite was not requested.
// Nothing is written when this error is returned.
type ExistsError struct {
	Location string
	Files    int
}

func (e *ExistsError) Error() string {
	return fmt.Sprintf("Export destination %v is not empty (%v files). Enable overwrite to replace it", e.Location, e.Files)
}

type Options struct {
	Classes     []string        // Whitelist, in class index order. Annotations with other labels are not exported.
	Splits      []dataset.Split // Partitions to export
	Overwrite   bool            // Delete existing files at the destination first
	Concurrency int             // Number of files copied at once (default 8)
}

// Summary describes a completed export
type Summary struct {
	Location     string
	Images       map[dataset.Split]int
	Boxes        int
	SkippedBoxes int // Annotations whose label is not in the whitelist
	Manifest     Manifest
}

// Manifest is the content of dataset.yaml
type Manifest struct {
	Path  string         `yaml:"path"`
	Train string         `yaml:"train,omitempty"`
	Val   string         `yaml:"val,omitempty"`
	Test  string         `yaml:"test,omitempty"`
	Names map[int]string `yaml:"names"`
}

// Export writes every sample whose tag is one of opts.Splits to dest.
func Export(ctx context.Context, log logs.Log, corpus *dataset.Corpus, dest storage.Storage, opts Options) (*Summary, error) {
	if len(opts.Classes) == 0 {
		return nil, fmt.Errorf("No classes to export")
	}
	if len(opts.Splits) == 0 {
		opts.Splits = dataset.DefaultSplits
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	classIndex := map[string]int{}
	for i, c := range opts.Classes {
		if _, dup := classIndex[c]; dup {
			return nil, fmt.Errorf("Class %v appears twice in the export class list", c)
		}
		classIndex[c] = i
	}
	wantSplit := map[dataset.Split]bool{}
	for _, s := range opts.Splits {
		wantSplit[s] = true
	}

	selected := []*dataset.Sample{}
	untagged := 0
	for _, s := range corpus.Samples() {
		if s.Tag == dataset.SplitNone {
			untagged++
		}
		if wantSplit[s.Tag] {
			selected = append(selected, s)
		}
	}
	if corpus.Len() != 0 && untagged == corpus.Len() {
		return nil, fmt.Errorf("Corpus has not been split")
	}

	existing, err := dest.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("Failed to list %v: %w", dest.Location(), err)
	}
	if len(existing) != 0 {
		if !opts.Overwrite {
			return nil, &ExistsError{Location: dest.Location(), Files: len(existing)}
		}
		log.Infof("Deleting %v existing files from %v", len(existing), dest.Location())
		for _, name := range existing {
			if err := dest.DeleteFile(ctx, name); err != nil {
				return nil, fmt.Errorf("Failed to delete %v: %w", name, err)
			}
		}
	}

	summary := &Summary{
		Location: dest.Location(),
		Images:   map[dataset.Split]int{},
	}
	var lock sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, s := range selected {
		g.Go(func() error {
			boxes, skipped, err := exportSample(gctx, dest, s, classIndex)
			if err != nil {
				return fmt.Errorf("Failed to export %v: %w", s.ID, err)
			}
			lock.Lock()
			summary.Images[s.Tag]++
			summary.Boxes += boxes
			summary.SkippedBoxes += skipped
			lock.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary.Manifest = makeManifest(dest.Location(), opts.Classes, opts.Splits)
	manifest, err := yaml.Marshal(summary.Manifest)
	if err != nil {
		return nil, err
	}
	if err := storage.WriteFile(ctx, dest, ManifestName, bytes.NewReader(manifest)); err != nil {
		return nil, err
	}

	for _, split := range opts.Splits {
		log.Infof("Exported %v %v images to %v", summary.Images[split], split, dest.Location())
	}
	if summary.SkippedBoxes != 0 {
		log.Infof("Skipped %v boxes with labels outside of %v", summary.SkippedBoxes, opts.Classes)
	}
	return summary, nil
}

// ExportedName is the base filename of a sample inside the export, without extension.
// It is the sample ID flattened, eg "google/val/0001" becomes "google_val_0001".
func ExportedName(s *dataset.Sample) string {
	return strings.ReplaceAll(s.ID, "/", "_")
}

func exportSample(ctx context.Context, dest storage.Storage, s *dataset.Sample, classIndex map[string]int) (boxes, skipped int, err error) {
	name := ExportedName(s)
	src, err := os.Open(s.ImagePath)
	if err != nil {
		return 0, 0, err
	}
	defer src.Close()
	imageName := fmt.Sprintf("%v/images/%v%v", s.Tag, name, filepath.Ext(s.ImagePath))
	if err := storage.WriteFile(ctx, dest, imageName, src); err != nil {
		return 0, 0, err
	}

	// An image without any whitelisted boxes still gets a label file, which marks it as a negative
	labels := bytes.Buffer{}
	for _, a := range s.Annotations {
		idx, ok := classIndex[a.Label]
		if !ok {
			skipped++
			continue
		}
		labels.WriteString(LabelLine(idx, a.Box))
		boxes++
	}
	labelName := fmt.Sprintf("%v/labels/%v.txt", s.Tag, name)
	if err := storage.WriteFile(ctx, dest, labelName, &labels); err != nil {
		return 0, 0, err
	}
	return boxes, skipped, nil
}

// LabelLine formats one YOLO label line: "class cx cy w h", normalized to [0,1]
func LabelLine(classIndex int, box dataset.Box) string {
	b := box.Clip()
	cx, cy := b.Center()
	return fmt.Sprintf("%d %.6f %.6f %.6f %.6f\n", classIndex, cx, cy, b.Width, b.Height)
}

func makeManifest(location string, classes []string, splits []dataset.Split) Manifest {
	m := Manifest{
		Path:  location,
		Names: map[int]string{},
	}
	for i, c := range classes {
		m.Names[i] = c
	}
	for _, s := range splits {
		dir := string(s) + "/images"
		switch s {
		case dataset.SplitTrain:
			m.Train = dir
		case dataset.SplitVal:
			m.Val = dir
		case dataset.SplitTest:
			m.Test = dir
		}
	}
	return m
}
