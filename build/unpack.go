package build

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// Unpack extracts archive into dest with update semantics: an entry is
// written only when the destination file is missing or older than the
// entry. Modes and modification times are preserved. It returns the number
// of files written.
func Unpack(archive, dest string) (int, error) {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return 0, fmt.Errorf("failed to open archive: %w", err)
	}
	defer r.Close()

	root, err := filepath.Abs(dest)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, f := range r.File {
		target, err := entryPath(root, f.Name)
		if err != nil {
			return written, err
		}
		info := f.FileInfo()

		if info.IsDir() {
			if err := os.MkdirAll(target, dirMode(info.Mode())); err != nil {
				return written, err
			}
			continue
		}
		if !info.Mode().IsRegular() {
			// Links and devices are not part of a distribution archive.
			continue
		}

		if existing, err := os.Stat(target); err == nil && !existing.ModTime().Before(f.Modified) {
			continue
		}
		if err := extractFile(f, target); err != nil {
			return written, fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
		written++
	}
	return written, nil
}

func entryPath(root, name string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(name))
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes destination", name)
	}
	return target, nil
}

// extractFile writes the entry to a temporary file next to target and
// renames it into place only once the contents, mode and times are all set.
// A failed extraction never leaves a partial target behind.
func extractFile(f *zip.File, target string) (err error) {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = io.Copy(tmp, src); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmpPath, mode); err != nil {
		return err
	}
	if err = os.Chtimes(tmpPath, f.Modified, f.Modified); err != nil {
		return err
	}
	return os.Rename(tmpPath, target)
}

func dirMode(mode os.FileMode) os.FileMode {
	if perm := mode.Perm(); perm != 0 {
		return perm | 0o700
	}
	return 0o755
}
