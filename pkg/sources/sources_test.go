package sources

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/orion/pkg/dataset"
	"github.com/cyclopcam/orion/pkg/fetch"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

type file struct {
	name string
	body []byte
}

func tarOf(t *testing.T, files []file) []byte {
	buf := bytes.Buffer{}
	w := tar.NewWriter(&buf)
	for _, f := range files {
		require.NoError(t, w.WriteHeader(&tar.Header{Name: f.name, Mode: 0644, Size: int64(len(f.body)), Typeflag: tar.TypeReg}))
		_, err := w.Write(f.body)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func gzipOf(t *testing.T, b []byte) []byte {
	buf := bytes.Buffer{}
	w := gzip.NewWriter(&buf)
	_, err := w.Write(b)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func zipOf(t *testing.T, files []file) []byte {
	buf := bytes.Buffer{}
	w := zip.NewWriter(&buf)
	for _, f := range files {
		fw, err := w.Create(f.name)
		require.NoError(t, err)
		_, err = fw.Write(f.body)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func vocXML(filename, label string, width, height int, xmin, ymin, xmax, ymax int) []byte {
	size := ""
	if width != 0 {
		size = fmt.Sprintf("<size><width>%v</width><height>%v</height><depth>3</depth></size>", width, height)
	}
	return []byte(fmt.Sprintf(`<annotation>
	<folder>%v</folder>
	<filename>%v</filename>
	%v
	<object>
		<name>%v</name>
		<bndbox><xmin>%v</xmin><ymin>%v</ymin><xmax>%v</xmax><ymax>%v</ymax></bndbox>
	</object>
</annotation>`, label, filename, size, label, xmin, ymin, xmax, ymax))
}

func pngImage(t *testing.T, width, height int) []byte {
	buf := bytes.Buffer{}
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, width, height))))
	return buf.Bytes()
}

// A static file server that records which paths were requested
type fakeHost struct {
	lock     sync.Mutex
	files    map[string][]byte
	requests []string
	srv      *httptest.Server
}

func newFakeHost(t *testing.T, files map[string][]byte) *fakeHost {
	h := &fakeHost{files: files}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.lock.Lock()
		h.requests = append(h.requests, r.URL.Path)
		h.lock.Unlock()
		body, ok := h.files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *fakeHost) requestCount() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.requests)
}

func tankHost(t *testing.T) *fakeHost {
	classAnnotations := gzipOf(t, tarOf(t, []file{
		{"Annotation/n04389033/n04389033_1.xml", vocXML("n04389033_1", "n04389033", 200, 100, 20, 10, 120, 60)},
		{"Annotation/n04389033/n04389033_2.xml", vocXML("n04389033_2", "n04389033", 0, 0, 0, 0, 50, 50)},
		{"Annotation/n04389033/n04389033_3.xml", vocXML("n04389033_3", "n04389033", 200, 100, 0, 0, 10, 10)},
	}))
	master := gzipOf(t, tarOf(t, []file{
		{"n04389033.tar.gz", classAnnotations},
		{"n02121808.tar.gz", gzipOf(t, tarOf(t, []file{{"Annotation/n02121808/n02121808_1.xml", vocXML("n02121808_1", "n02121808", 10, 10, 0, 0, 5, 5)}}))},
	}))
	images := tarOf(t, []file{
		{"n04389033_1.JPEG", []byte("not really a jpeg")},
		{"n04389033_2.JPEG", pngImage(t, 100, 100)},
		{"n04389033_4.JPEG", []byte("image without a label")},
	})
	return newFakeHost(t, map[string][]byte{
		"/ids.txt":                      []byte("n02121808\nn04389033\nn03000000\n"),
		"/lemmas.txt":                   []byte("domestic cat, house cat\ntank, army tank, armored combat vehicle\nthink tank\n"),
		"/bboxes_annotations.tar.gz":    master,
		"/winter21_whole/n04389033.tar": images,
	})
}

func newTestImageNet(t *testing.T, h *fakeHost) *ImageNet {
	log := logs.NewTestingLog(t)
	n := NewImageNet(log, fetch.NewClient(log), filepath.Join(t.TempDir(), "imagenet"))
	n.URLs = ImageNetURLs{
		ClassIDs:    h.srv.URL + "/ids.txt",
		ClassNames:  h.srv.URL + "/lemmas.txt",
		Annotations: h.srv.URL + "/bboxes_annotations.tar.gz",
		Images:      h.srv.URL + "/winter21_whole/%v.tar",
	}
	return n
}

func TestImageNetSearch(t *testing.T) {
	h := tankHost(t)
	n := newTestImageNet(t, h)
	classes, err := n.Search(context.Background(), []string{"TANK"})
	require.NoError(t, err)
	require.Equal(t, []Class{
		{ID: "n04389033", Name: "tank, army tank, armored combat vehicle"},
		{ID: "n03000000", Name: "think tank"},
	}, classes)

	classes, err = n.Search(context.Background(), []string{"^tank", "cat"})
	require.NoError(t, err)
	require.Len(t, classes, 2)
	require.Equal(t, "n02121808", classes[0].ID)
	require.Equal(t, "n04389033", classes[1].ID)

	// Class lists are only downloaded once
	require.Equal(t, 2, h.requestCount())

	_, err = n.Search(context.Background(), []string{"("})
	require.Error(t, err)
}

func TestImageNetAcquire(t *testing.T) {
	h := tankHost(t)
	n := newTestImageNet(t, h)
	ctx := context.Background()

	annotated, err := n.Acquire(ctx, []string{"n04389033", "n09999999"})
	require.NoError(t, err)
	require.Equal(t, []string{"n04389033"}, annotated)

	labels := filepath.Join(n.Dir, "labels", "n04389033")
	data := filepath.Join(n.Dir, "data", "n04389033")
	require.FileExists(t, filepath.Join(labels, "n04389033_1.xml"))
	require.FileExists(t, filepath.Join(labels, "n04389033_2.xml"))
	require.NoFileExists(t, filepath.Join(labels, "n04389033_3.xml"), "label without an image must be cleaned up")
	require.FileExists(t, filepath.Join(data, "n04389033_4.JPEG"), "images are never deleted")
	require.NoDirExists(t, filepath.Join(n.Dir, "labels", "n09999999"))
	require.NoDirExists(t, filepath.Join(n.Dir, "data", "n09999999"))
	require.NoDirExists(t, filepath.Join(n.Dir, imageNetAnnotationsDir))

	samples, err := Normalize(ctx, n.Log, n.Dataset())
	require.NoError(t, err)
	require.Len(t, samples, 2)
	sort.Slice(samples, func(i, j int) bool { return samples[i].ID < samples[j].ID })

	s := samples[0]
	require.Equal(t, "imagenet/n04389033_1", s.ID)
	require.Equal(t, 200, s.Width)
	require.Len(t, s.Annotations, 1)
	require.Equal(t, "n04389033", s.Annotations[0].Label)
	require.InDelta(t, 0.1, s.Annotations[0].Box.X, 1e-6)
	require.InDelta(t, 0.1, s.Annotations[0].Box.Y, 1e-6)
	require.InDelta(t, 0.5, s.Annotations[0].Box.Width, 1e-6)
	require.InDelta(t, 0.5, s.Annotations[0].Box.Height, 1e-6)

	// No <size> in the xml, so the dimensions come from the image itself
	s = samples[1]
	require.Equal(t, 100, s.Width)
	require.Equal(t, 100, s.Height)
	require.InDelta(t, 0.5, s.Annotations[0].Box.Width, 1e-6)

	// Running again touches nothing on the network
	before := h.requestCount()
	annotated, err = n.Acquire(ctx, []string{"n04389033"})
	require.NoError(t, err)
	require.Equal(t, []string{"n04389033"}, annotated)
	require.Equal(t, before, h.requestCount())
}

func TestImageNetAcquireOnlyUnannotated(t *testing.T) {
	h := tankHost(t)
	n := newTestImageNet(t, h)
	annotated, err := n.Acquire(context.Background(), []string{"n09999999"})
	require.NoError(t, err)
	require.Empty(t, annotated)
	require.NoDirExists(t, filepath.Join(n.Dir, imageNetAnnotationsDir))
}

func TestImageNetInvalidID(t *testing.T) {
	n := newTestImageNet(t, tankHost(t))
	_, err := n.Acquire(context.Background(), []string{"../etc"})
	require.Error(t, err)
}

func TestRoboflow(t *testing.T) {
	archive := zipOf(t, []file{
		{"train/a.jpg", []byte("a")},
		{"train/a.xml", vocXML("a.jpg", "t-72", 100, 100, 10, 10, 60, 60)},
		{"valid/b.jpg", []byte("b")},
		{"valid/b.xml", vocXML("b.jpg", "btr-80", 100, 100, 0, 0, 100, 100)},
		{"test/c.jpg", []byte("c")},
		{"test/orphan.xml", vocXML("orphan.jpg", "t-80", 100, 100, 0, 0, 10, 10)},
		{"README.roboflow.txt", []byte("readme")},
	})
	h := newFakeHost(t, map[string][]byte{"/ds": archive})
	log := logs.NewTestingLog(t)
	r := &Roboflow{
		Log:     log,
		Fetcher: fetch.NewClient(log),
		Dir:     filepath.Join(t.TempDir(), "roboflow"),
		Config:  RoboflowConfig{URL: h.srv.URL + "/ds", Filename: "dataset_rf.zip"},
	}
	src, err := r.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, dataset.SchemaSplitFolders, src.Schema)

	for i := 0; i < 2; i++ {
		samples, err := Normalize(context.Background(), log, src)
		require.NoError(t, err)
		require.Len(t, samples, 2)
		labels := map[string]string{}
		for _, s := range samples {
			labels[s.ID] = s.Annotations[0].Label
		}
		require.Equal(t, map[string]string{"roboflow/a": "t-72", "roboflow/b": "btr-80"}, labels)
		for _, split := range SplitFolders {
			require.NoDirExists(t, filepath.Join(src.Root, split))
		}
		require.FileExists(t, filepath.Join(src.Root, "data", "c.jpg"))
	}
}

func writeFiles(t *testing.T, root string, files []file) {
	for _, f := range files {
		path := filepath.Join(root, f.name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, f.body, 0644))
	}
}

func TestCanonicalSplitLayout(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, []file{
		{"dataset.yaml", []byte("path: .\nnames:\n  0: AFV\n  1: APC\n  2: MEV\n  3: LAV\n")},
		{"train/images/x.jpg", []byte("x")},
		{"train/labels/x.txt", []byte("0 0.5 0.5 0.2 0.4\n3 0.25 0.25 0.5 0.5\n")},
		{"val/images/y.png", []byte("y")},
		{"val/labels/y.txt", []byte("9 0.5 0.5 0.2 0.2\n1 0.5 0.5 oops 0.1\n")},
		{"test/images/z.jpg", []byte("z")},
	})
	samples, err := Normalize(context.Background(), logs.NewTestingLog(t), dataset.SourceDataset{Source: "google", Root: root, Schema: dataset.SchemaCanonical})
	require.NoError(t, err)
	require.Len(t, samples, 3)

	byID := map[string]*dataset.Sample{}
	for _, s := range samples {
		byID[s.ID] = s
		require.Equal(t, dataset.SplitNone, s.Tag)
	}
	x := byID["google/train/x"]
	require.Equal(t, []string{"AFV", "LAV"}, x.Labels())
	require.InDelta(t, 0.4, x.Annotations[0].Box.X, 1e-6)
	require.InDelta(t, 0.3, x.Annotations[0].Box.Y, 1e-6)
	require.Empty(t, byID["google/val/y"].Annotations)
	require.Empty(t, byID["google/test/z"].Annotations)
}

func TestCanonicalSplitsShareStem(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, []file{
		{"data.yaml", []byte("names: [AFV, APC]\n")},
		{"train/images/0001.jpg", []byte("a")},
		{"train/labels/0001.txt", []byte("0 0.5 0.5 0.2 0.2\n")},
		{"val/images/0001.jpg", []byte("b")},
		{"val/labels/0001.txt", []byte("1 0.5 0.5 0.2 0.2\n")},
	})
	src := dataset.SourceDataset{Source: "google", Root: root, Schema: dataset.SchemaCanonical}
	samples, err := Normalize(context.Background(), logs.NewTestingLog(t), src)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	require.Equal(t, "google/train/0001", samples[0].ID)
	require.Equal(t, "google/val/0001", samples[1].ID)

	corpus := dataset.NewCorpus()
	n, err := corpus.Merge(src, samples)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []string{"AFV", "APC"}, corpus.Classes())
}

func TestDuplicateSampleIDs(t *testing.T) {
	samples := []*dataset.Sample{
		{ID: "google/0001", ImagePath: "/a/train/images/0001.jpg"},
		{ID: "google/0002", ImagePath: "/a/train/images/0002.jpg"},
	}
	require.NoError(t, checkUniqueIDs("google", samples))
	samples = append(samples, &dataset.Sample{ID: "google/0001", ImagePath: "/a/val/images/0001.jpg"})
	err := checkUniqueIDs("google", samples)
	require.Error(t, err)
	require.Contains(t, err.Error(), "/a/val/images/0001.jpg")
}

func TestCanonicalYOLOv4Layout(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, []file{
		{"obj.names", []byte("AFV\nAPC\nMEV\nLAV\n")},
		{"images.txt", []byte("data/a.jpg\ndata/b.jpg\n")},
		{"data/a.jpg", []byte("a")},
		{"data/a.txt", []byte("2 0.5 0.5 1 1\n")},
		{"data/b.jpg", []byte("b")},
		{"data/b.txt", []byte("")},
	})
	n := &CanonicalNormalizer{Log: logs.NewTestingLog(t), Source: "google"}
	samples, err := n.Normalize(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	require.Equal(t, "google/a", samples[0].ID)
	require.Equal(t, []string{"MEV"}, samples[0].Labels())
	require.Empty(t, samples[1].Annotations)
}

func TestLoadClassNames(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadClassNames(dir)
	require.Error(t, err)

	writeFiles(t, dir, []file{{"dataset.yaml", []byte("names: [AFV, APC]\n")}})
	names, err := LoadClassNames(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"AFV", "APC"}, names)

	other := t.TempDir()
	writeFiles(t, other, []file{{"data.yaml", []byte("names:\n  0: AFV\n  2: LAV\n")}})
	_, err = LoadClassNames(other)
	require.Error(t, err)
}

func TestNormalizerForUnknown(t *testing.T) {
	_, err := NormalizerFor(logs.NewTestingLog(t), "coco", "x")
	require.Error(t, err)
}
