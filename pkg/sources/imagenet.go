package sources

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/orion/pkg/archive"
	"github.com/cyclopcam/orion/pkg/dataset"
	"github.com/cyclopcam/orion/pkg/fetch"
)

// ImageNetURLs are the remote locations of the ImageNet files that we use
type ImageNetURLs struct {
	ClassIDs    string `json:"classIDs"`    // One wordnet ID per line
	ClassNames  string `json:"classNames"`  // One lemma list per line, parallel to ClassIDs
	Annotations string `json:"annotations"` // tar.gz of per-class tar.gz bounding box files
	Images      string `json:"images"`      // Per-class image tar. %v is replaced by the wordnet ID
}

var DefaultImageNetURLs = ImageNetURLs{
	ClassIDs:    "https://storage.googleapis.com/bit_models/imagenet21k_wordnet_ids.txt",
	ClassNames:  "https://storage.googleapis.com/bit_models/imagenet21k_wordnet_lemmas.txt",
	Annotations: "https://image-net.org/data/bboxes_annotations.tar.gz",
	Images:      "https://image-net.org/data/winter21_whole/%v.tar",
}

const (
	imageNetIDFile          = "imagenet21k_wordnet_ids.txt"
	imageNetNameFile        = "imagenet21k_wordnet_lemmas.txt"
	imageNetAnnotationsFile = "bboxes_annotations.tar.gz"
	imageNetAnnotationsDir  = "bboxes_annotations"
)

var wordnetIDRegex = regexp.MustCompile(`^n\d{8}$`)

// Class is an ImageNet class
type Class struct {
	ID   string // Wordnet ID, eg "n04389033"
	Name string // Comma separated lemmas, eg "tank, army tank, armored combat vehicle, armoured combat vehicle"
}

// ImageNet acquires classes of ImageNet images that have bounding box annotations.
// Everything is stored under Dir:
//
//	Dir/data/<id>/*.JPEG
//	Dir/labels/<id>/*.xml
type ImageNet struct {
	Log     logs.Log
	Fetcher Fetcher
	Dir     string
	URLs    ImageNetURLs
}

func NewImageNet(log logs.Log, fetcher Fetcher, dir string) *ImageNet {
	return &ImageNet{
		Log:     log,
		Fetcher: fetcher,
		Dir:     dir,
		URLs:    DefaultImageNetURLs,
	}
}

// Dataset describes the acquired raw dataset
func (n *ImageNet) Dataset() dataset.SourceDataset {
	return dataset.SourceDataset{Source: SourceImageNet, Root: n.Dir, Schema: dataset.SchemaWordnet}
}

// Classes returns every ImageNet class, downloading the class lists if they are not yet present
func (n *ImageNet) Classes(ctx context.Context) ([]Class, error) {
	idFile, err := n.Fetcher.Fetch(ctx, n.URLs.ClassIDs, filepath.Join(n.Dir, imageNetIDFile), fetch.Options{})
	if err != nil {
		return nil, err
	}
	nameFile, err := n.Fetcher.Fetch(ctx, n.URLs.ClassNames, filepath.Join(n.Dir, imageNetNameFile), fetch.Options{})
	if err != nil {
		return nil, err
	}
	ids, err := readLines(idFile)
	if err != nil {
		return nil, err
	}
	names, err := readLines(nameFile)
	if err != nil {
		return nil, err
	}
	if len(ids) != len(names) {
		return nil, fmt.Errorf("ImageNet class lists disagree: %v ids but %v names", len(ids), len(names))
	}
	classes := make([]Class, len(ids))
	for i := range ids {
		classes[i] = Class{ID: ids[i], Name: names[i]}
	}
	return classes, nil
}

// Search returns the classes whose name matches any of the patterns.
// Patterns are case insensitive regular expressions.
func (n *ImageNet) Search(ctx context.Context, patterns []string) ([]Class, error) {
	res := []*regexp.Regexp{}
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("Invalid search pattern '%v': %w", p, err)
		}
		res = append(res, re)
	}
	all, err := n.Classes(ctx)
	if err != nil {
		return nil, err
	}
	matches := []Class{}
	for _, c := range all {
		for _, re := range res {
			if re.MatchString(c.Name) {
				matches = append(matches, c)
				break
			}
		}
	}
	return matches, nil
}

// Acquire downloads the bounding box annotations and images of the given classes,
// and then deletes any label without an image.
// Classes that have no annotations are logged and left out.
// Returns the IDs of the classes that have annotations, in the order requested.
func (n *ImageNet) Acquire(ctx context.Context, ids []string) ([]string, error) {
	for _, id := range ids {
		if !wordnetIDRegex.MatchString(id) {
			return nil, fmt.Errorf("Invalid wordnet ID '%v'", id)
		}
	}
	dataDir := filepath.Join(n.Dir, "data")
	labelsDir := filepath.Join(n.Dir, "labels")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(labelsDir, 0755); err != nil {
		return nil, err
	}

	annotated, err := n.acquireAnnotations(ctx, ids)
	if err != nil {
		return nil, err
	}

	for _, id := range annotated {
		classDir := filepath.Join(dataDir, id)
		if exists(classDir) {
			n.Log.Infof("Directory %v already exists. Skipping download", classDir)
			continue
		}
		url := strings.ReplaceAll(n.URLs.Images, "%v", id)
		tarFile, err := n.Fetcher.Fetch(ctx, url, filepath.Join(n.Dir, id+".tar"), fetch.Options{})
		if err != nil {
			return nil, err
		}
		if err := archive.Extract(ctx, tarFile, classDir); err != nil {
			// Don't leave a partial directory behind, because that would be skipped next time
			os.RemoveAll(classDir)
			return nil, err
		}
		n.Log.Infof("Extracted %v", classDir)
	}

	if _, err := dataset.CleanOrphans(n.Log, n.Dir); err != nil {
		return nil, err
	}
	return annotated, nil
}

func (n *ImageNet) acquireAnnotations(ctx context.Context, ids []string) ([]string, error) {
	labelsDir := filepath.Join(n.Dir, "labels")
	annotationsDir := filepath.Join(n.Dir, imageNetAnnotationsDir)

	// The master archive is large, so only touch it if we need it
	needMaster := false
	for _, id := range ids {
		if !exists(filepath.Join(labelsDir, id)) {
			needMaster = true
		}
	}
	if needMaster {
		masterFile, err := n.Fetcher.Fetch(ctx, n.URLs.Annotations, filepath.Join(n.Dir, imageNetAnnotationsFile), fetch.Options{})
		if err != nil {
			return nil, err
		}
		n.Log.Infof("Extracting %v", masterFile)
		if err := archive.Extract(ctx, masterFile, annotationsDir); err != nil {
			os.RemoveAll(annotationsDir)
			return nil, err
		}
	}
	defer func() {
		if needMaster {
			n.Log.Infof("Deleting annotations dir")
			os.RemoveAll(annotationsDir)
		}
	}()

	annotated := []string{}
	for _, id := range ids {
		classLabelDir := filepath.Join(labelsDir, id)
		if exists(classLabelDir) {
			n.Log.Infof("Annotations directory %v already exists. Skipping extract", classLabelDir)
			annotated = append(annotated, id)
			continue
		}
		classFile := filepath.Join(annotationsDir, id+".tar.gz")
		if !exists(classFile) {
			n.Log.Infof("There are no annotations for class %v", id)
			continue
		}
		if err := archive.Extract(ctx, classFile, annotationsDir); err != nil {
			return nil, err
		}
		if err := os.Rename(filepath.Join(annotationsDir, "Annotation", id), classLabelDir); err != nil {
			return nil, fmt.Errorf("Failed to move annotations of %v: %w", id, err)
		}
		n.Log.Infof("Extracted annotations for %v to %v", id, classLabelDir)
		annotated = append(annotated, id)
	}
	return annotated, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}
