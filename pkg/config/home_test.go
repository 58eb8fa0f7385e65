package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindWorkspace_EnvVar(t *testing.T) {
	t.Setenv(EnvHome, "/custom/path")

	if got := FindWorkspace(t.TempDir()); got != "/custom/path" {
		t.Errorf("FindWorkspace() = %q, want %q", got, "/custom/path")
	}
}

func TestFindWorkspace_NearestAncestorWithConfig(t *testing.T) {
	t.Setenv(EnvHome, "")
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "harness.yml"), []byte("environment: ci\n"), 0644); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "suites", "login")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	if got := FindWorkspace(nested); got != root {
		t.Errorf("FindWorkspace() = %q, want %q", got, root)
	}
}

func TestFindWorkspace_ConfigDirectoryIsIgnored(t *testing.T) {
	t.Setenv(EnvHome, "")
	dir := t.TempDir()
	// A directory named harness.yaml does not mark a workspace
	if err := os.Mkdir(filepath.Join(dir, "harness.yaml"), 0755); err != nil {
		t.Fatal(err)
	}

	if hasConfig(dir) {
		t.Error("expected directory named harness.yaml to be ignored")
	}
}

func TestFindWorkspace_FallsBackToStart(t *testing.T) {
	t.Setenv(EnvHome, "")
	dir := t.TempDir()

	if _, ok := ancestorWithConfig(dir); ok {
		t.Skip("a harness.yaml exists above the temp dir")
	}
	if _, ok := installRoot(); ok {
		t.Skip("test binary is installed beside a harness.yaml")
	}
	if got := FindWorkspace(dir); got != dir {
		t.Errorf("FindWorkspace() = %q, want %q", got, dir)
	}
}
