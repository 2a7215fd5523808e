// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reader

import (
	"bufio"
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
)

// CountLines counts the non-empty lines (examples) of a path-contexts file.
// If showProgress is true, it displays a progress bar over the bytes read.
func CountLines(filePath string, showProgress bool) (int, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to open %q to count examples", filePath)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if showProgress {
		info, err := f.Stat()
		if err != nil {
			return 0, errors.Wrapf(err, "failed to stat %q", filePath)
		}
		bar := progressbar.DefaultBytes(info.Size(), "counting examples")
		defer func() { _ = bar.Finish() }()
		r = io.TeeReader(f, bar)
	}

	count := 0
	lineHasContent := false
	buf := make([]byte, 1024*1024)
	br := bufio.NewReader(r)
	for {
		n, err := br.Read(buf)
		chunk := buf[:n]
		for len(chunk) > 0 {
			pos := bytes.IndexByte(chunk, '\n')
			if pos < 0 {
				lineHasContent = lineHasContent || len(bytes.TrimSpace(chunk)) > 0
				break
			}
			if lineHasContent || len(bytes.TrimSpace(chunk[:pos])) > 0 {
				count++
			}
			lineHasContent = false
			chunk = chunk[pos+1:]
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, errors.Wrapf(err, "failed to read %q", filePath)
		}
	}
	if lineHasContent {
		count++
	}
	return count, nil
}
