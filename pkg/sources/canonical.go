package sources

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/orion/pkg/dataset"
	"gopkg.in/yaml.v3"
)

// CanonicalNormalizer reads a dataset that already uses YOLO text labels
// ("class cx cy w h", normalized). Two layouts are understood:
//
//	<root>/<split>/images/*.jpg + <root>/<split>/labels/*.txt
//	<root>/obj.names + <root>/data/*.jpg with a .txt beside each image (YOLOv4)
//
// Images without a label file become samples with no annotations.
type CanonicalNormalizer struct {
	Log    logs.Log
	Source string
}

func (n *CanonicalNormalizer) Normalize(ctx context.Context, rawDir string) ([]*dataset.Sample, error) {
	names, err := LoadClassNames(rawDir)
	if err != nil {
		return nil, err
	}

	samples := []*dataset.Sample{}
	flatData := filepath.Join(rawDir, "data")
	if st, err := os.Stat(flatData); err == nil && st.IsDir() {
		s, err := n.readPair(ctx, names, flatData, flatData, "")
		if err != nil {
			return nil, err
		}
		samples = append(samples, s...)
	}

	entries, err := os.ReadDir(rawDir)
	if err != nil {
		return nil, err
	}
	splits := []string{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if st, err := os.Stat(filepath.Join(rawDir, e.Name(), "images")); err == nil && st.IsDir() {
			splits = append(splits, e.Name())
		}
	}
	sort.Strings(splits)
	for _, split := range splits {
		s, err := n.readPair(ctx, names, filepath.Join(rawDir, split, "images"), filepath.Join(rawDir, split, "labels"), split)
		if err != nil {
			return nil, err
		}
		samples = append(samples, s...)
	}

	if len(samples) == 0 {
		return nil, fmt.Errorf("No images found in %v", rawDir)
	}
	n.Log.Infof("Read %v %v samples from %v", len(samples), n.Source, rawDir)
	return samples, nil
}

// folder is empty for the flat layout, and the split name otherwise
func (n *CanonicalNormalizer) readPair(ctx context.Context, names []string, imagesDir, labelsDir, folder string) ([]*dataset.Sample, error) {
	images, err := imagesByStem(imagesDir)
	if err != nil {
		return nil, err
	}
	stems := make([]string, 0, len(images))
	for stem := range images {
		stems = append(stems, stem)
	}
	sort.Strings(stems)

	samples := []*dataset.Sample{}
	for _, stem := range stems {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		imagePath := images[stem]
		s := &dataset.Sample{
			ID:          sampleID(n.Source, imagePath, folder),
			Source:      n.Source,
			ImagePath:   imagePath,
			Annotations: []dataset.Annotation{},
		}
		labelFile := filepath.Join(labelsDir, stem+".txt")
		lines, err := readLines(labelFile)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		for i, line := range lines {
			a, err := parseYOLOLine(line, names)
			if err != nil {
				n.Log.Warnf("%v:%v: %v", labelFile, i+1, err)
				continue
			}
			s.Annotations = append(s.Annotations, a)
		}
		samples = append(samples, s)
	}
	return samples, nil
}

func sampleID(source, imagePath, folder string) string {
	if folder == "" {
		return dataset.SampleID(source, imagePath)
	}
	return dataset.SampleID(source, imagePath, folder)
}

func parseYOLOLine(line string, names []string) (dataset.Annotation, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return dataset.Annotation{}, fmt.Errorf("Expected 5 fields, but found %v", len(fields))
	}
	cls, err := strconv.Atoi(fields[0])
	if err != nil || cls < 0 || cls >= len(names) {
		return dataset.Annotation{}, fmt.Errorf("Invalid class index '%v'", fields[0])
	}
	v := [4]float32{}
	for i := 0; i < 4; i++ {
		f, err := strconv.ParseFloat(fields[i+1], 32)
		if err != nil {
			return dataset.Annotation{}, fmt.Errorf("Invalid coordinate '%v'", fields[i+1])
		}
		v[i] = float32(f)
	}
	box := dataset.BoxFromCenter(v[0], v[1], v[2], v[3])
	if !box.Valid() {
		return dataset.Annotation{}, fmt.Errorf("Degenerate box")
	}
	return dataset.Annotation{Label: names[cls], Box: box.Clip()}, nil
}

// LoadClassNames reads the class list of a YOLO dataset, from the first of
// dataset.yaml, data.yaml, obj.names or classes.txt that exists in dir.
func LoadClassNames(dir string) ([]string, error) {
	for _, name := range []string{"dataset.yaml", "data.yaml"} {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if os.IsNotExist(err) {
			continue
		} else if err != nil {
			return nil, err
		}
		return parseYAMLNames(raw)
	}
	for _, name := range []string{"obj.names", "classes.txt"} {
		lines, err := readLines(filepath.Join(dir, name))
		if os.IsNotExist(err) {
			continue
		}
		return lines, err
	}
	return nil, fmt.Errorf("No class names file found in %v", dir)
}

// The "names" key is either a list, or a map from index to name
func parseYAMLNames(raw []byte) ([]string, error) {
	doc := struct {
		Names yaml.Node `yaml:"names"`
	}{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	switch doc.Names.Kind {
	case yaml.SequenceNode:
		names := []string{}
		if err := doc.Names.Decode(&names); err != nil {
			return nil, err
		}
		return names, nil
	case yaml.MappingNode:
		m := map[int]string{}
		if err := doc.Names.Decode(&m); err != nil {
			return nil, err
		}
		names := make([]string, len(m))
		for i, name := range m {
			if i < 0 || i >= len(m) {
				return nil, fmt.Errorf("Class indices must be contiguous from 0, but found %v", i)
			}
			names[i] = name
		}
		return names, nil
	}
	return nil, fmt.Errorf("Dataset manifest has no 'names' list")
}
