// Package dataset holds the common record shape that every source is normalized into,
// and the Corpus that accumulates those records before they are split and exported.
package dataset

import (
	"path/filepath"
	"strings"
)

// Schema identifies the raw layout of an acquired source dataset
type Schema string

const (
	SchemaWordnet      Schema = "wordnet"       // <root>/data/<class>/*.jpg + <root>/labels/<class>/*.xml
	SchemaSplitFolders Schema = "split-folders" // <root>/{train,valid,test}/ with images and xml side by side
	SchemaCanonical    Schema = "canonical"     // <root>/<split>/{images,labels} with YOLO text labels
)

// Split is a partition tag
type Split string

const (
	SplitNone  Split = ""
	SplitTrain Split = "train"
	SplitVal   Split = "val"
	SplitTest  Split = "test"
)

// DefaultSplits is the order in which partitions are sized and exported
var DefaultSplits = []Split{SplitTrain, SplitVal, SplitTest}

// SourceDataset is one externally acquired raw dataset, prior to normalization
type SourceDataset struct {
	Source string // eg "imagenet"
	Root   string // Directory that the normalizer reads from
	Schema Schema
}

// Annotation is one labeled bounding box inside a Sample
type Annotation struct {
	Label string `json:"label"`
	Box   Box    `json:"box"`
}

// Sample is one image plus zero or more bounding box annotations
type Sample struct {
	ID          string       `json:"id"`     // Unique within a corpus, eg "imagenet/n04389033_1234"
	Source      string       `json:"source"` // eg "imagenet"
	ImagePath   string       `json:"imagePath"`
	Width       int          `json:"width"` // Zero if unknown
	Height      int          `json:"height"`
	Annotations []Annotation `json:"annotations"`
	Tag         Split        `json:"tag"`
}

// SampleID builds a source-scoped sample identity from an image filename.
// Samples from different sources can never collide, because the source is part of the ID.
// Folders (eg a split directory) are inserted between the source and the stem, so that
// images with the same stem in different folders of one source stay distinct.
func SampleID(source, imagePath string, folders ...string) string {
	parts := append([]string{source}, folders...)
	return strings.Join(append(parts, Stem(imagePath)), "/")
}

// Stem returns the base filename without its extension
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Labels returns the distinct labels of the sample, in order of first appearance
func (s *Sample) Labels() []string {
	seen := map[string]bool{}
	labels := []string{}
	for _, a := range s.Annotations {
		if !seen[a.Label] {
			seen[a.Label] = true
			labels = append(labels, a.Label)
		}
	}
	return labels
}

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".webp": true,
	".gif":  true,
}

// IsImageFile returns true if the filename has an image extension that we recognize
func IsImageFile(filename string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(filename))]
}
