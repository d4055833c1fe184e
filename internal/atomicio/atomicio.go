// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package atomicio provides atomic file writing with optional backups.
package atomicio

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"
)

const backupTimeFormat = "20060102150405.999999999"

// Options control [WriteFileOptions].
type Options struct {
	// Backups is the number of backups of previous contents to keep. Zero
	// disables backups.
	Backups int
}

// WriteFile writes data to a file atomically: readers observe either the old
// or the new contents, and the new contents are on disk when WriteFile
// returns.
func WriteFile(name string, data []byte, perm fs.FileMode) error {
	return WriteFileOptions(name, data, perm, Options{})
}

// WriteFileOptions is like [WriteFile], but keeps backups of the previous
// contents as configured by opts.
func WriteFileOptions(name string, data []byte, perm fs.FileMode, opts Options) (err error) {
	// Create a temporary file in the same directory to ensure that it's on the
	// same filesystem, which is a requirement for an atomic os.Rename.
	f, err := os.CreateTemp(filepath.Dir(name), "."+filepath.Base(name)+".tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if _, err := f.Write(data); err != nil {
		return err
	}
	if err := f.Chmod(perm); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if opts.Backups > 0 {
		if err := backup(name); err != nil {
			return err
		}
	}

	if err := os.Rename(f.Name(), name); err != nil {
		return err
	}
	syncDir(filepath.Dir(name))

	if opts.Backups > 0 {
		return pruneBackups(name, opts.Backups)
	}
	return nil
}

func backup(name string) error {
	b, err := os.ReadFile(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	backupName := name + "." + time.Now().UTC().Format(backupTimeFormat) + ".bak"
	return os.WriteFile(backupName, b, 0o600)
}

// syncDir makes the rename durable. Not every platform supports syncing a
// directory, so errors are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}

func pruneBackups(name string, keep int) error {
	backups, err := filepath.Glob(name + ".*.bak")
	if err != nil {
		return err
	}

	if len(backups) <= keep {
		return nil
	}

	slices.Sort(backups)

	for _, b := range backups[:len(backups)-keep] {
		if err := os.Remove(b); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	return nil
}
