package config

import (
	"os"
	"path/filepath"
)

// EnvHome overrides workspace discovery.
const EnvHome = "HARNESS_HOME"

// FindWorkspace returns the workspace directory for a process started in dir.
//
// $HARNESS_HOME wins. Otherwise the nearest directory at or above dir that
// holds harness.yaml is used, then the install root when the binary lives in
// <root>/bin next to a harness.yaml. Failing all of those, dir itself.
func FindWorkspace(dir string) string {
	if env := os.Getenv(EnvHome); env != "" {
		return env
	}
	if root, ok := ancestorWithConfig(dir); ok {
		return root
	}
	if root, ok := installRoot(); ok {
		return root
	}
	return dir
}

// CurrentWorkspace is FindWorkspace for the working directory.
func CurrentWorkspace() string {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return FindWorkspace(cwd)
}

func ancestorWithConfig(dir string) (string, bool) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}
	for {
		if hasConfig(abs) {
			return abs, true
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", false
		}
		abs = parent
	}
}

func installRoot() (string, bool) {
	exe, err := os.Executable()
	if err != nil {
		return "", false
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	bin := filepath.Dir(exe)
	if filepath.Base(bin) != "bin" {
		return "", false
	}
	root := filepath.Dir(bin)
	return root, hasConfig(root)
}

func hasConfig(dir string) bool {
	for _, name := range configNames {
		if fi, err := os.Stat(filepath.Join(dir, name)); err == nil && !fi.IsDir() {
			return true
		}
	}
	return false
}
