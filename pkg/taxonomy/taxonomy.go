// Package taxonomy maps the class names of each source onto our own small set of vehicle classes
package taxonomy

import (
	"github.com/cyclopcam/orion/pkg/dataset"
)

// Our unified classes
const (
	AFV = "AFV" // Armored fighting vehicle
	APC = "APC" // Armored personnel carrier
	MEV = "MEV" // Military engineering vehicle
	LAV = "LAV" // Light armored vehicle
)

// Classes is the export whitelist, in class index order
var Classes = []string{AFV, APC, MEV, LAV}

// Per-source lookup tables. A source without a table passes its labels through unchanged.
var tables = map[string]map[string]string{
	"imagenet": {
		"n04389033": AFV, // tank, army tank, armored combat vehicle
	},
	"openimages": {
		"Tank": AFV,
	},
	"roboflow": {
		"bm-21":  AFV,
		"t-80":   AFV,
		"t-64":   AFV,
		"t-72":   AFV,
		"bmp-1":  AFV,
		"bmp-2":  AFV,
		"bmd-2":  AFV,
		"btr-70": APC,
		"btr-80": APC,
		"mt-lb":  APC,
	},
}

// MapLabel returns the unified label for a raw label of the given source.
// ok is false if the source has a table, and the label is not in it.
// Sources without a table already use the unified names, so their labels are returned as-is.
func MapLabel(source, raw string) (string, bool) {
	table, ok := tables[source]
	if !ok {
		return raw, true
	}
	unified, ok := table[raw]
	return unified, ok
}

// HasTable returns true if the source's labels are remapped
func HasTable(source string) bool {
	_, ok := tables[source]
	return ok
}

// Apply rewrites the labels of every sample from source.
// Labels with no mapping are left unchanged, so that they stay in the corpus
// and are later dropped by the export whitelist.
// Returns the number of annotations that were relabeled, and the number left unmapped.
func Apply(source string, samples []*dataset.Sample) (mapped, unmapped int) {
	for _, s := range samples {
		for i := range s.Annotations {
			a := &s.Annotations[i]
			unified, ok := MapLabel(source, a.Label)
			if !ok {
				unmapped++
				continue
			}
			if unified != a.Label {
				a.Label = unified
				mapped++
			}
		}
	}
	return
}
