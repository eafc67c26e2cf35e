// Package ioutils provides file system utilities for bundle-fetch.
//
// This package contains functions for:
//   - Saving bundles below an output directory
//   - Atomic file writing
//   - Directory creation
//
// All functions that accept a context.Context check it before touching the
// disk, though file operations themselves are not interruptible.
package ioutils

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/handiism/bundle-fetcher/internal/model"
)

// ErrEmptyName is returned by SaveBundle for a name with no usable segment.
var ErrEmptyName = errors.New("io: bundle name is empty after sanitizing")

// SaveBundle writes data for the bundle name below dir and returns the path
// written.
//
// Each '/'-separated segment of name becomes a sub-directory and is
// sanitized, so "characters/hero" is saved as dir/characters/hero and
// "../x" cannot leave dir.
//
// Returns an error if:
//   - ctx is already done
//   - name has no usable segment
//   - The directory or file cannot be written
//
// Example:
//
//	path, err := SaveBundle(ctx, "./bundles/Android", "characters/hero", data)
func SaveBundle(ctx context.Context, dir, name string, data []byte) (string, error) {
	rel := model.SanitizePath(name)
	if rel == "" {
		return "", errors.Wrapf(ErrEmptyName, "%q", name)
	}
	path := filepath.Join(dir, filepath.FromSlash(rel))
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return "", errors.Wrapf(err, "create directory for %s", name)
	}
	if err := WriteFile(ctx, path, data); err != nil {
		return "", err
	}
	return path, nil
}

// WriteFile writes data to a file, creating it if necessary.
//
// The data goes to a temporary file in the same directory which is then
// renamed over path, so readers never see a partial file. The result has
// mode 0644.
//
// Example:
//
//	err := WriteFile(ctx, "/srv/bundles/Android/ui", data)
func WriteFile(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return errors.Wrapf(os.Rename(tmp.Name(), path), "write %s", path)
}

// EnsureDir creates a directory and all parent directories if they don't exist.
//
// Directories are created with mode 0755 (rwxr-xr-x).
// If the directory already exists, no error is returned.
//
// Example:
//
//	err := EnsureDir("/srv/bundles/Android/characters")
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
