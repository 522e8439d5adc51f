package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/orion/pkg/dataset"
	"github.com/stretchr/testify/require"
)

func createTestCatalog(t *testing.T) *Catalog {
	c, err := Open(logs.NewTestingLog(t), filepath.Join(t.TempDir(), "catalog.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func testCorpus(t *testing.T) *dataset.Corpus {
	c := dataset.NewCorpus()
	for _, source := range []string{"imagenet", "google"} {
		samples := []*dataset.Sample{}
		for i := 0; i < 5; i++ {
			img := filepath.Join("/data", source, "img"+string(rune('a'+i))+".jpg")
			samples = append(samples, &dataset.Sample{
				ID:          dataset.SampleID(source, img),
				Source:      source,
				ImagePath:   img,
				Width:       640,
				Height:      480,
				Annotations: []dataset.Annotation{{Label: "AFV", Box: dataset.Box{X: 0.1, Y: 0.2, Width: 0.3, Height: 0.4}}},
			})
		}
		_, err := c.Merge(dataset.SourceDataset{Source: source, Root: "/data/" + source, Schema: dataset.SchemaWordnet}, samples)
		require.NoError(t, err)
	}
	_, err := dataset.RandomSplit(c, dataset.DefaultProportions, dataset.NewRand(11))
	require.NoError(t, err)
	return c
}

func TestSaveAndLoadRun(t *testing.T) {
	cat := createTestCatalog(t)
	corpus := testCorpus(t)
	runID := NewRunID()

	run, err := cat.SaveRun(runID, 11, corpus)
	require.NoError(t, err)
	require.Equal(t, 10, run.Samples)

	loadedRun, loaded, err := cat.LoadRun(runID)
	require.NoError(t, err)
	require.Equal(t, int64(11), loadedRun.Seed)
	require.Equal(t, []string{"AFV"}, loadedRun.Classes.Data)
	require.True(t, loaded.IsFrozen())
	require.Equal(t, corpus.Assignment(), loaded.Assignment())
	require.Equal(t, corpus.Sources(), loaded.Sources())
	for _, s := range corpus.Samples() {
		require.Equal(t, s, loaded.Get(s.ID))
	}

	_, _, err = cat.LoadRun(NewRunID())
	require.Error(t, err)
}

func TestRunListing(t *testing.T) {
	cat := createTestCatalog(t)
	_, err := cat.LatestRun()
	require.True(t, errors.Is(err, ErrNoRuns))

	first := NewRunID()
	second := NewRunID()
	_, err = cat.SaveRun(first, 0, testCorpus(t))
	require.NoError(t, err)
	_, err = cat.SaveRun(second, 0, testCorpus(t))
	require.NoError(t, err)

	latest, err := cat.LatestRun()
	require.NoError(t, err)
	require.Equal(t, second, latest.ID)

	runs, err := cat.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, second, runs[0].ID)
	require.Equal(t, first, runs[1].ID)

	// Run IDs are unique
	_, err = cat.SaveRun(first, 0, testCorpus(t))
	require.Error(t, err)
	_, err = cat.SaveRun("not-a-uuid", 0, testCorpus(t))
	require.Error(t, err)
}

func TestOpenUncreatableDirectory(t *testing.T) {
	// A regular file where the database directory should be
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	_, err := Open(logs.NewTestingLog(t), filepath.Join(blocker, "sub", "catalog.sqlite"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "Failed to create directory")
}
