// Package config handles workspace configuration, environment profiles and
// the device catalog for mobile-harness.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/mobile-harness/pkg/core"
)

// Config represents the workspace configuration (harness.yaml).
type Config struct {
	// Target selection
	Environment string `yaml:"environment"` // local, ci, cloud (saucelabs)
	Device      string `yaml:"device"`      // Device catalog entry name

	// Directory holding <env>.toml profiles and devices.yaml
	ConfigDir string `yaml:"configDir"`

	Artifacts ArtifactsConfig     `yaml:"artifacts"`
	Capture   core.ArtifactConfig `yaml:"capture"`
	Timeouts  TimeoutsConfig      `yaml:"timeouts"`
	History   HistoryConfig       `yaml:"history"`
	Log       LogConfig           `yaml:"log"`

	// Workers is the number of parallel test workers.
	Workers int `yaml:"workers"`
}

// ArtifactsConfig locates the artifact store and the run marker.
type ArtifactsConfig struct {
	ScreenshotDir string `yaml:"screenshotDir"`
	ResultsDir    string `yaml:"resultsDir"`
	MarkerFile    string `yaml:"markerFile"`
}

// TimeoutsConfig holds interaction timeouts.
type TimeoutsConfig struct {
	Default      time.Duration `yaml:"default"`
	Long         time.Duration `yaml:"long"`
	Probe        time.Duration `yaml:"probe"`
	PollInterval time.Duration `yaml:"pollInterval"`
}

// HistoryConfig controls the optional run history database.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LogConfig controls log output.
type LogConfig struct {
	Path   string `yaml:"path"`
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns the configuration used when no harness.yaml exists.
func Defaults() *Config {
	cfg := &Config{Capture: core.DefaultArtifactConfig()}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = "local"
	}
	if c.Device == "" {
		c.Device = "android_pixel_7"
	}
	if c.ConfigDir == "" {
		c.ConfigDir = "config"
	}
	if c.Artifacts.ScreenshotDir == "" {
		c.Artifacts.ScreenshotDir = filepath.Join("target", "screenshots")
	}
	if c.Artifacts.ResultsDir == "" {
		c.Artifacts.ResultsDir = filepath.Join("target", "allure-results")
	}
	if c.Artifacts.MarkerFile == "" {
		c.Artifacts.MarkerFile = filepath.Join("target", ".cleanup-performed")
	}
	if c.Timeouts.Default <= 0 {
		c.Timeouts.Default = 15 * time.Second
	}
	if c.Timeouts.Long <= 0 {
		c.Timeouts.Long = 30 * time.Second
	}
	if c.Timeouts.Probe <= 0 {
		c.Timeouts.Probe = 5 * time.Second
	}
	if c.Timeouts.PollInterval <= 0 {
		c.Timeouts.PollInterval = 250 * time.Millisecond
	}
	if c.History.Path == "" {
		c.History.Path = filepath.Join("target", "history.db")
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
}

// ResolvePaths makes every relative path absolute against base.
func (c *Config) ResolvePaths(base string) {
	for _, p := range []*string{
		&c.ConfigDir,
		&c.Artifacts.ScreenshotDir,
		&c.Artifacts.ResultsDir,
		&c.Artifacts.MarkerFile,
		&c.History.Path,
		&c.Log.Path,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

// Load loads configuration from a file and fills in defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	// Booleans have no zero-value default, so capture starts from its defaults.
	cfg := Config{Capture: core.DefaultArtifactConfig()}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return &cfg, nil
}

// configNames are the workspace config file names, in lookup order.
var configNames = []string{"harness.yaml", "harness.yml"}

// LoadFromDir looks for harness.yaml or harness.yml in the directory.
// Relative paths in the result are resolved against dir.
func LoadFromDir(dir string) (*Config, error) {
	var cfg *Config
	for _, name := range configNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
		break
	}

	// No config file found, use defaults
	if cfg == nil {
		cfg = Defaults()
	}
	cfg.ResolvePaths(dir)
	return cfg, nil
}
