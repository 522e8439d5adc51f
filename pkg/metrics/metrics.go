// Package metrics counts what a pipeline run did, and writes the counts in the
// Prometheus textfile format, for node_exporter to pick up.
package metrics

import (
	"os"
	"path/filepath"

	"github.com/cyclopcam/orion/pkg/dataset"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics uses its own registry, so that several pipelines (eg in tests) don't collide
type Metrics struct {
	Registry *prometheus.Registry

	downloads      *prometheus.CounterVec
	downloadBytes  prometheus.Counter
	corpusSamples  prometheus.Gauge
	mergedSamples  *prometheus.CounterVec
	orphansRemoved prometheus.Counter
	exportedImages *prometheus.CounterVec
	exportedBoxes  prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		downloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orion_downloads_total",
				Help: "Downloads by result (ok, skipped, failed)",
			},
			[]string{"result"},
		),
		downloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orion_download_bytes_total",
			Help: "Bytes downloaded",
		}),
		corpusSamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orion_corpus_samples",
			Help: "Number of samples in the merged corpus",
		}),
		mergedSamples: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orion_merged_samples_total",
				Help: "Samples contributed to the corpus, by source",
			},
			[]string{"source"},
		),
		orphansRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orion_orphans_removed_total",
			Help: "Label files and samples removed because their image was missing",
		}),
		exportedImages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orion_exported_images_total",
				Help: "Images exported, by split",
			},
			[]string{"split"},
		),
		exportedBoxes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orion_exported_boxes_total",
			Help: "Bounding boxes exported",
		}),
	}
	m.Registry.MustRegister(
		m.downloads,
		m.downloadBytes,
		m.corpusSamples,
		m.mergedSamples,
		m.orphansRemoved,
		m.exportedImages,
		m.exportedBoxes,
	)
	return m
}

// Started is part of fetch.Observer
func (m *Metrics) Started(name string, total int64) {}

// Progress is part of fetch.Observer
func (m *Metrics) Progress(name string, written, total int64) {}

// Finished is part of fetch.Observer
func (m *Metrics) Finished(name string, written int64, err error) {
	m.downloadBytes.Add(float64(written))
	if err != nil {
		m.downloads.WithLabelValues("failed").Inc()
	} else {
		m.downloads.WithLabelValues("ok").Inc()
	}
}

// Skipped is part of fetch.Observer
func (m *Metrics) Skipped(name string) {
	m.downloads.WithLabelValues("skipped").Inc()
}

// Merged records the result of merging added samples from source, which brought the corpus to total
func (m *Metrics) Merged(source string, added, total int) {
	m.mergedSamples.WithLabelValues(source).Add(float64(added))
	m.corpusSamples.Set(float64(total))
}

func (m *Metrics) OrphansRemoved(n int) {
	m.orphansRemoved.Add(float64(n))
}

func (m *Metrics) Exported(images map[dataset.Split]int, boxes int) {
	for split, n := range images {
		m.exportedImages.WithLabelValues(string(split)).Add(float64(n))
	}
	m.exportedBoxes.Add(float64(boxes))
}

// WriteTextfile writes all metrics to filename, atomically
func (m *Metrics) WriteTextfile(filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(filename, m.Registry)
}
