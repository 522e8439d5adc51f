package dataset

import (
	"errors"
	"fmt"
	"os"

	"github.com/cyclopcam/logs"
)

// ErrFrozen is returned when trying to merge into a corpus that has already been cleaned or split
var ErrFrozen = errors.New("corpus is frozen")

// Corpus is the merged collection of samples from all sources.
// A Corpus is mutated by successive merges, and then frozen before it is cleaned, split and exported.
// A Corpus is not safe for concurrent use. The pipeline serializes merges.
type Corpus struct {
	samples []*Sample
	index   map[string]int // Sample ID -> index in samples
	classes []string       // Vocabulary, in order of first appearance
	known   map[string]bool
	sources []SourceDataset
	frozen  bool
}

func NewCorpus() *Corpus {
	return &Corpus{
		index: map[string]int{},
		known: map[string]bool{},
	}
}

// Merge adds the samples of one source dataset to the corpus, and returns the resulting sample count.
// Samples whose ID is already present are ignored, so merging the same source twice is a no-op.
// Merge never removes samples or classes.
func (c *Corpus) Merge(src SourceDataset, samples []*Sample) (int, error) {
	if c.frozen {
		return len(c.samples), ErrFrozen
	}
	for _, s := range samples {
		if s.ID == "" {
			return len(c.samples), fmt.Errorf("Sample with image '%v' from %v has no ID", s.ImagePath, src.Source)
		}
		if _, exists := c.index[s.ID]; exists {
			continue
		}
		c.index[s.ID] = len(c.samples)
		c.samples = append(c.samples, s)
		for _, a := range s.Annotations {
			if !c.known[a.Label] {
				c.known[a.Label] = true
				c.classes = append(c.classes, a.Label)
			}
		}
	}
	if src.Root != "" && !c.hasSource(src) {
		c.sources = append(c.sources, src)
	}
	return len(c.samples), nil
}

func (c *Corpus) hasSource(src SourceDataset) bool {
	for _, s := range c.sources {
		if s == src {
			return true
		}
	}
	return false
}

// Len returns the number of samples
func (c *Corpus) Len() int {
	return len(c.samples)
}

// Samples returns the samples in merge order. The slice must not be modified.
func (c *Corpus) Samples() []*Sample {
	return c.samples
}

// Get returns the sample with the given ID, or nil
func (c *Corpus) Get(id string) *Sample {
	if i, ok := c.index[id]; ok {
		return c.samples[i]
	}
	return nil
}

// Classes returns every label observed in the corpus, in order of first appearance
func (c *Corpus) Classes() []string {
	return append([]string(nil), c.classes...)
}

// Sources returns the source datasets that have been merged into the corpus
func (c *Corpus) Sources() []SourceDataset {
	return append([]SourceDataset(nil), c.sources...)
}

// CountBySource returns the number of samples contributed by each source
func (c *Corpus) CountBySource() map[string]int {
	counts := map[string]int{}
	for _, s := range c.samples {
		counts[s.Source]++
	}
	return counts
}

// Freeze prevents any further merges
func (c *Corpus) Freeze() {
	c.frozen = true
}

func (c *Corpus) IsFrozen() bool {
	return c.frozen
}

// Clean freezes the corpus, deletes orphaned label files in every merged source that keeps
// images and labels in separate directories, and drops any sample whose image no longer exists.
// Returns the number of label files and samples removed.
func (c *Corpus) Clean(log logs.Log) (int, error) {
	c.Freeze()
	removed := 0
	for _, src := range c.sources {
		if src.Schema != SchemaWordnet && src.Schema != SchemaSplitFolders {
			continue
		}
		n, err := CleanOrphans(log, src.Root)
		if err != nil {
			return removed, fmt.Errorf("Failed to clean orphans of %v: %w", src.Source, err)
		}
		removed += n
	}

	kept := c.samples[:0]
	for _, s := range c.samples {
		if _, err := os.Stat(s.ImagePath); err != nil {
			log.Warnf("Dropping sample %v: image %v is missing", s.ID, s.ImagePath)
			removed++
			continue
		}
		kept = append(kept, s)
	}
	c.samples = kept
	c.reindex()
	return removed, nil
}

func (c *Corpus) reindex() {
	c.index = make(map[string]int, len(c.samples))
	for i, s := range c.samples {
		c.index[s.ID] = i
	}
}

// Assignment returns the current split tag of every sample
func (c *Corpus) Assignment() Assignment {
	a := make(Assignment, len(c.samples))
	for _, s := range c.samples {
		a[s.ID] = s.Tag
	}
	return a
}

// CountByTag returns the number of samples carrying each split tag
func (c *Corpus) CountByTag() map[Split]int {
	counts := map[Split]int{}
	for _, s := range c.samples {
		counts[s.Tag]++
	}
	return counts
}
