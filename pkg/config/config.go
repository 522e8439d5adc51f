package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyclopcam/orion/pkg/dataset"
	"github.com/cyclopcam/orion/pkg/kibi"
	"github.com/cyclopcam/orion/pkg/sources"
	"github.com/cyclopcam/orion/pkg/storage"
	"github.com/cyclopcam/orion/pkg/taxonomy"
)

// HomeDirEnv overrides Config.HomeDir
const HomeDirEnv = "ORION_HOME_DIR"

type Config struct {
	HomeDir           string                 `json:"homeDir"`           // Root of all downloaded data. Default ~/.cache/orion
	CatalogFile       string                 `json:"catalogFile"`       // SQLite run catalog. Default <homeDir>/catalog.sqlite
	ExportDestination string                 `json:"exportDestination"` // Directory, gs://bucket/prefix or s3://bucket/prefix. Default <homeDir>/dataset
	MetricsFile       string                 `json:"metricsFile"`       // Prometheus textfile. Default <homeDir>/metrics.prom
	Classes           []string               `json:"classes"`           // Export whitelist, in class index order
	Splits            map[string]float64     `json:"splits"`            // eg {"train": 0.8, "val": 0.1, "test": 0.1}
	Seed              uint64                 `json:"seed"`              // Split seed. Zero for a different split every run.
	Overwrite         bool                   `json:"overwrite"`         // Replace an existing export
	DownloadChunkSize string                 `json:"downloadChunkSize"` // Read size of downloads, eg "64 KB". Empty for the default.
	ImageNetIDs       []string               `json:"imageNetIDs"`       // Wordnet IDs to acquire
	ImageNet          sources.ImageNetURLs   `json:"imageNet"`
	Roboflow          sources.RoboflowConfig `json:"roboflow"`
	Google            sources.GoogleConfig   `json:"google"`
	Storage           storage.Options        `json:"storage"`
}

// Default returns the configuration that reproduces the standard military vehicle dataset
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	cfg := &Config{
		HomeDir:     filepath.Join(home, ".cache", "orion"),
		Classes:     append([]string(nil), taxonomy.Classes...),
		Splits:      map[string]float64{},
		ImageNetIDs: []string{"n04389033"},
		ImageNet:    sources.DefaultImageNetURLs,
		Roboflow:    sources.DefaultRoboflowConfig,
		Google:      sources.DefaultGoogleConfig,
	}
	for split, f := range dataset.DefaultProportions {
		cfg.Splits[string(split)] = f
	}
	return cfg
}

// LoadConfig reads a JSON config file over the defaults.
// If filename is empty, only the defaults and the environment are used.
// The ORION_HOME_DIR environment variable takes precedence over the file.
func LoadConfig(filename string) (*Config, error) {
	cfg := Default()
	if filename != "" {
		raw, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("Error loading %v: %w", filename, err)
		}
		// json merges into an existing map, so a file must replace the default splits entirely
		defaultSplits := cfg.Splits
		cfg.Splits = nil
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("Error loading as JSON %v: %w", filename, err)
		}
		if cfg.Splits == nil {
			cfg.Splits = defaultSplits
		}
	}
	if home := os.Getenv(HomeDirEnv); home != "" {
		cfg.HomeDir = home
	}
	cfg.resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Fill in the paths that default to somewhere inside HomeDir
func (c *Config) resolve() {
	if c.CatalogFile == "" {
		c.CatalogFile = filepath.Join(c.HomeDir, "catalog.sqlite")
	}
	if c.ExportDestination == "" {
		c.ExportDestination = filepath.Join(c.HomeDir, "dataset")
	}
	if c.MetricsFile == "" {
		c.MetricsFile = filepath.Join(c.HomeDir, "metrics.prom")
	}
}

func (c *Config) Validate() error {
	if c.HomeDir == "" {
		return fmt.Errorf("homeDir may not be empty")
	}
	if len(c.Classes) == 0 {
		return fmt.Errorf("No export classes configured")
	}
	if err := c.Proportions().Validate(); err != nil {
		return err
	}
	if _, err := c.ChunkSize(); err != nil {
		return fmt.Errorf("Invalid downloadChunkSize: %w", err)
	}
	return nil
}

// ChunkSize returns DownloadChunkSize in bytes, or zero if it is empty
func (c *Config) ChunkSize() (int, error) {
	if c.DownloadChunkSize == "" {
		return 0, nil
	}
	n, err := kibi.ParseBytes(c.DownloadChunkSize)
	if err != nil {
		return 0, err
	}
	if n <= 0 || n > 64*1024*1024 {
		return 0, fmt.Errorf("%v is outside of 1 byte to 64 MB", c.DownloadChunkSize)
	}
	return int(n), nil
}

func (c *Config) Proportions() dataset.Proportions {
	p := dataset.Proportions{}
	for split, f := range c.Splits {
		p[dataset.Split(split)] = f
	}
	return p
}

// Source directories inside HomeDir

func (c *Config) ImageNetDir() string {
	return filepath.Join(c.HomeDir, sources.SourceImageNet)
}

func (c *Config) RoboflowDir() string {
	return filepath.Join(c.HomeDir, sources.SourceRoboflow)
}

func (c *Config) GoogleDir() string {
	return filepath.Join(c.HomeDir, sources.SourceGoogle)
}
