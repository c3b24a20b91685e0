package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// CopyDir recursively copies the contents of src into dst, creating dst if
// it does not exist. Each file named in skip (matched against the file's
// base name) is omitted from the copy; this lets callers exclude bookkeeping
// files such as completion markers from a directory tree meant to become an
// independent, mutable working copy.
func CopyDir(src, dst string, skip ...string) error {
	if src == "" {
		return ErrEmptySrc
	}
	if dst == "" {
		return ErrEmptyDst
	}
	skipSet := make(map[string]struct{}, len(skip))
	for _, s := range skip {
		skipSet[s] = struct{}{}
	}

	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %w", path, err)
		}
		if _, ok := skipSet[info.Name()]; ok {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return fmt.Errorf("relativize %s: %w", path, err)
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return EnsureDir(target)
		}
		mode := info.Mode()
		return CopyFile(path, target, &CopyFileOptions{Mode: &mode})
	})
}
