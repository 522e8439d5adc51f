package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/orion/pkg/dataset"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv(HomeDirEnv, "")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, []string{"AFV", "APC", "MEV", "LAV"}, cfg.Classes)
	require.Equal(t, []string{"n04389033"}, cfg.ImageNetIDs)
	require.Equal(t, dataset.DefaultProportions, cfg.Proportions())
	require.Equal(t, filepath.Join(cfg.HomeDir, "dataset"), cfg.ExportDestination)
	require.Equal(t, filepath.Join(cfg.HomeDir, "imagenet"), cfg.ImageNetDir())
	require.Equal(t, "dataset_rf.zip", cfg.Roboflow.Filename)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "orion.json")
	require.NoError(t, os.WriteFile(filename, []byte(`{
		"homeDir": "/srv/orion",
		"seed": 42,
		"splits": {"train": 0.7, "val": 0.2, "test": 0.1},
		"exportDestination": "gs://datasets/military"
	}`), 0644))

	t.Setenv(HomeDirEnv, "")
	cfg, err := LoadConfig(filename)
	require.NoError(t, err)
	require.Equal(t, "/srv/orion", cfg.HomeDir)
	require.Equal(t, uint64(42), cfg.Seed)
	require.Equal(t, 0.7, cfg.Splits["train"])
	require.Equal(t, "gs://datasets/military", cfg.ExportDestination)
	require.Equal(t, "/srv/orion/catalog.sqlite", cfg.CatalogFile)
	// Fields that the file doesn't mention keep their defaults
	require.Equal(t, []string{"AFV", "APC", "MEV", "LAV"}, cfg.Classes)

	t.Setenv(HomeDirEnv, dir)
	cfg, err = LoadConfig(filename)
	require.NoError(t, err)
	require.Equal(t, dir, cfg.HomeDir)
}

func TestInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"splits": {"train": -1, "val": 1}}`), 0644))
	_, err := LoadConfig(bad)
	require.Error(t, err)

	only := filepath.Join(dir, "only.json")
	require.NoError(t, os.WriteFile(only, []byte(`{"splits": {"test": 1}}`), 0644))
	cfg, err := LoadConfig(only)
	require.NoError(t, err)
	require.Equal(t, dataset.Proportions{dataset.SplitTest: 1}, cfg.Proportions())

	_, err = LoadConfig(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}

func TestChunkSize(t *testing.T) {
	cfg := Default()
	n, err := cfg.ChunkSize()
	require.NoError(t, err)
	require.Equal(t, 0, n)

	cfg.DownloadChunkSize = "64 KB"
	n, err = cfg.ChunkSize()
	require.NoError(t, err)
	require.Equal(t, 64*1024, n)

	cfg.DownloadChunkSize = "1 GB"
	require.Error(t, cfg.Validate())
	cfg.DownloadChunkSize = "lots"
	require.Error(t, cfg.Validate())
}
