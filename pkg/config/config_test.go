package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "harness.yaml")

	content := `
environment: ci
device: pixel_7
configDir: conf
workers: 4
artifacts:
  screenshotDir: out/shots
timeouts:
  default: 20s
  probe: 2s
history:
  enabled: true
log:
  level: debug
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Environment != "ci" {
		t.Errorf("expected environment ci, got %s", cfg.Environment)
	}
	if cfg.Device != "pixel_7" {
		t.Errorf("expected device pixel_7, got %s", cfg.Device)
	}
	if cfg.Workers != 4 {
		t.Errorf("expected 4 workers, got %d", cfg.Workers)
	}
	if cfg.Artifacts.ScreenshotDir != "out/shots" {
		t.Errorf("expected screenshotDir out/shots, got %s", cfg.Artifacts.ScreenshotDir)
	}
	if cfg.Timeouts.Default != 20*time.Second {
		t.Errorf("expected default timeout 20s, got %s", cfg.Timeouts.Default)
	}
	if cfg.Timeouts.Probe != 2*time.Second {
		t.Errorf("expected probe timeout 2s, got %s", cfg.Timeouts.Probe)
	}
	// Unset values fall back to defaults
	if cfg.Timeouts.Long != 30*time.Second {
		t.Errorf("expected long timeout default 30s, got %s", cfg.Timeouts.Long)
	}
	if !cfg.Capture.CaptureOnFailure || !cfg.Capture.PersistScreenshots {
		t.Errorf("expected capture defaults, got %+v", cfg.Capture)
	}
	if cfg.Artifacts.ResultsDir != filepath.Join("target", "allure-results") {
		t.Errorf("unexpected results dir default: %s", cfg.Artifacts.ResultsDir)
	}
	if !cfg.History.Enabled {
		t.Error("expected history enabled")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Log.Level)
	}
}

func TestLoad_CaptureSettings(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "harness.yaml")
	content := "capture:\n  persistScreenshots: false\n  captureOnSuccess: true\n"
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Capture.PersistScreenshots {
		t.Error("expected persistScreenshots false")
	}
	if !cfg.Capture.CaptureOnSuccess {
		t.Error("expected captureOnSuccess true")
	}
	// Unset keys keep their defaults
	if !cfg.Capture.CaptureOnFailure {
		t.Error("expected captureOnFailure to stay true")
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/harness.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "harness.yaml")

	if err := os.WriteFile(configPath, []byte(`workers: [invalid yaml`), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadFromDir_HarnessYml(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "harness.yml"), []byte(`environment: cloud`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Environment != "cloud" {
		t.Errorf("expected environment cloud, got %s", cfg.Environment)
	}
}

func TestLoadFromDir_NoConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadFromDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Environment != "local" {
		t.Errorf("expected default environment local, got %s", cfg.Environment)
	}
	if cfg.Device != "android_pixel_7" {
		t.Errorf("expected default device android_pixel_7, got %s", cfg.Device)
	}
	if cfg.ConfigDir != filepath.Join(dir, "config") {
		t.Errorf("expected config dir resolved against workspace, got %s", cfg.ConfigDir)
	}
	if cfg.Artifacts.MarkerFile != filepath.Join(dir, "target", ".cleanup-performed") {
		t.Errorf("unexpected marker path: %s", cfg.Artifacts.MarkerFile)
	}
}

func TestLoadFromDir_PrefersYamlOverYml(t *testing.T) {
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "harness.yaml"), []byte(`environment: ci`), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "harness.yml"), []byte(`environment: local`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Environment != "ci" {
		t.Errorf("expected environment ci (from harness.yaml), got %s", cfg.Environment)
	}
}

func TestResolvePaths_KeepsAbsolute(t *testing.T) {
	cfg := Defaults()
	cfg.Artifacts.ScreenshotDir = "/abs/shots"
	cfg.ResolvePaths("/work")

	if cfg.Artifacts.ScreenshotDir != "/abs/shots" {
		t.Errorf("absolute path rewritten: %s", cfg.Artifacts.ScreenshotDir)
	}
	if cfg.Artifacts.ResultsDir != filepath.Join("/work", "target", "allure-results") {
		t.Errorf("relative path not resolved: %s", cfg.Artifacts.ResultsDir)
	}
	if cfg.Log.Path != "" {
		t.Errorf("empty log path should stay empty, got %s", cfg.Log.Path)
	}
}
