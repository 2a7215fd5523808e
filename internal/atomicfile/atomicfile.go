// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package atomicfile writes files so that readers either see the previous complete version
// or the new complete version, never a partially written one.
package atomicfile

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// FilePermMode used for the files written.
const FilePermMode = 0644

// Write creates filePath by calling writeFn on a buffered temporary file in the same directory,
// and renaming it over filePath once writeFn returns successfully and the data is synced.
//
// If writeFn fails, the temporary file is removed and filePath is left untouched.
func Write(filePath string, writeFn func(w io.Writer) error) (err error) {
	dir := filepath.Dir(filePath)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(filePath)+".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "failed to create temporary file for %q", filePath)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if err != nil {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	buf := bufio.NewWriter(tmpFile)
	if err = writeFn(buf); err != nil {
		return errors.WithMessagef(err, "failed writing %q", filePath)
	}
	if err = buf.Flush(); err != nil {
		return errors.Wrapf(err, "failed to flush %q", tmpPath)
	}
	if err = tmpFile.Sync(); err != nil {
		return errors.Wrapf(err, "failed to sync %q", tmpPath)
	}
	if err = tmpFile.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %q", tmpPath)
	}
	if err = os.Chmod(tmpPath, FilePermMode); err != nil {
		return errors.Wrapf(err, "failed to set permissions of %q", tmpPath)
	}
	if err = os.Rename(tmpPath, filePath); err != nil {
		return errors.Wrapf(err, "failed to rename %q to %q", tmpPath, filePath)
	}
	return nil
}

// WriteBytes is a convenience wrapper around Write for contents already in memory.
func WriteBytes(filePath string, data []byte) error {
	return Write(filePath, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}
