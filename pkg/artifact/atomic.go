package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// maxNameAttempts bounds the _2, _3 suffix search in CreateUnique.
const maxNameAttempts = 1000

// WriteFileAtomic replaces path with b. The bytes land in a hidden temp file
// in the same directory first, so a reader sees the old content or the new.
func WriteFileAtomic(path string, b []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := writeAndSync(tmp, b); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	committed = true
	syncDir(dir)
	return nil
}

// CreateUnique writes b to dir/<base><ext>, falling back to <base>_2<ext>,
// <base>_3<ext> and so on when the name is taken. The name is claimed with
// O_EXCL before anything is written, so concurrent writers never share one.
func CreateUnique(dir, base, ext string, b []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	for n := 1; n <= maxNameAttempts; n++ {
		name := base + ext
		if n > 1 {
			name = fmt.Sprintf("%s_%d%s", base, n, ext)
		}
		path := filepath.Join(dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644) //#nosec G304 -- path under artifact dirs
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		_ = f.Close()

		if err := WriteFileAtomic(path, b); err != nil {
			_ = os.Remove(path)
			return "", err
		}
		return path, nil
	}
	return "", fmt.Errorf("no free file name for %s%s in %s", base, ext, dir)
}

func writeAndSync(f *os.File, b []byte) error {
	_, err := f.Write(b)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// syncDir flushes the directory entry after a rename. Best effort.
func syncDir(dir string) {
	d, err := os.Open(dir) //#nosec G304 -- artifact dir
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
