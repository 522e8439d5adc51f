package sources

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/orion/pkg/dataset"
)

// A Pascal VOC annotation file
type vocFile struct {
	Filename string
	Width    int
	Height   int
	Objects  []vocObject
}

// One <object> of a VOC file, in absolute pixels
type vocObject struct {
	Name string
	XMin float32
	YMin float32
	XMax float32
	YMax float32
}

func parseVOC(filename string) (*vocFile, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(filename); err != nil {
		return nil, fmt.Errorf("Failed to parse %v: %w", filename, err)
	}
	root := doc.SelectElement("annotation")
	if root == nil {
		return nil, fmt.Errorf("%v is not a VOC annotation: no <annotation> element", filename)
	}
	voc := &vocFile{}
	if e := root.SelectElement("filename"); e != nil {
		voc.Filename = strings.TrimSpace(e.Text())
	}
	if size := root.SelectElement("size"); size != nil {
		voc.Width = elementInt(size, "width")
		voc.Height = elementInt(size, "height")
	}
	for _, obj := range root.SelectElements("object") {
		name := obj.SelectElement("name")
		box := obj.SelectElement("bndbox")
		if name == nil || box == nil {
			continue
		}
		o := vocObject{Name: strings.TrimSpace(name.Text())}
		var err error
		if o.XMin, err = elementFloat(box, "xmin"); err != nil {
			return nil, fmt.Errorf("%v: %w", filename, err)
		}
		if o.YMin, err = elementFloat(box, "ymin"); err != nil {
			return nil, fmt.Errorf("%v: %w", filename, err)
		}
		if o.XMax, err = elementFloat(box, "xmax"); err != nil {
			return nil, fmt.Errorf("%v: %w", filename, err)
		}
		if o.YMax, err = elementFloat(box, "ymax"); err != nil {
			return nil, fmt.Errorf("%v: %w", filename, err)
		}
		voc.Objects = append(voc.Objects, o)
	}
	return voc, nil
}

func elementInt(parent *etree.Element, tag string) int {
	e := parent.SelectElement(tag)
	if e == nil {
		return 0
	}
	// Some tools write "500.0"
	f, err := strconv.ParseFloat(strings.TrimSpace(e.Text()), 64)
	if err != nil {
		return 0
	}
	return int(f)
}

func elementFloat(parent *etree.Element, tag string) (float32, error) {
	e := parent.SelectElement(tag)
	if e == nil {
		return 0, fmt.Errorf("<bndbox> has no <%v>", tag)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(e.Text()), 32)
	if err != nil {
		return 0, fmt.Errorf("Invalid <%v> '%v'", tag, e.Text())
	}
	return float32(f), nil
}

// Read every VOC file directly inside labelsDir, and pair it with the image of the same stem in imagesDir.
// Label files without an image are skipped.
func readVOCDir(ctx context.Context, log logs.Log, source, imagesDir, labelsDir string) ([]*dataset.Sample, error) {
	entries, err := os.ReadDir(labelsDir)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	images, err := imagesByStem(imagesDir)
	if err != nil {
		return nil, err
	}

	names := []string{}
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".xml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	samples := []*dataset.Sample{}
	missing := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		imagePath, ok := images[dataset.Stem(name)]
		if !ok {
			missing++
			continue
		}
		voc, err := parseVOC(filepath.Join(labelsDir, name))
		if err != nil {
			return nil, err
		}
		samples = append(samples, vocSample(log, source, imagePath, voc))
	}
	if missing != 0 {
		log.Warnf("%v labels in %v have no image", missing, labelsDir)
	}
	return samples, nil
}

func vocSample(log logs.Log, source, imagePath string, voc *vocFile) *dataset.Sample {
	width, height := voc.Width, voc.Height
	if width <= 0 || height <= 0 {
		var err error
		width, height, err = imageSize(imagePath)
		if err != nil {
			log.Warnf("Skipping boxes of %v: %v", imagePath, err)
			width, height = 0, 0
		}
	}
	s := &dataset.Sample{
		ID:          dataset.SampleID(source, imagePath),
		Source:      source,
		ImagePath:   imagePath,
		Width:       width,
		Height:      height,
		Annotations: []dataset.Annotation{},
	}
	if width == 0 || height == 0 {
		return s
	}
	for _, o := range voc.Objects {
		box := dataset.BoxFromPixels(o.XMin, o.YMin, o.XMax, o.YMax, width, height)
		if !box.Valid() {
			log.Debugf("Ignoring degenerate box %v in %v", o, imagePath)
			continue
		}
		s.Annotations = append(s.Annotations, dataset.Annotation{Label: o.Name, Box: box.Clip()})
	}
	return s
}
