// Package manifest implements the append-only recording manifests:
// line-oriented YAML files with tail-read crash recovery, hierarchical
// segment lists with index files, and the chunk list/chunker.
package manifest

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"strings"
)

const tailBlockSize = 4096

// TailLines returns up to maxLines complete lines from the end of the
// file, most recent first, reading backwards in fixed-size blocks. A
// missing file yields no lines and no error.
func TailLines(path string, maxLines int) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	left := fi.Size()
	if left == 0 {
		return nil, nil
	}

	var buf []byte
	for left > 0 && bytes.Count(buf, []byte{'\n'}) <= maxLines {
		n := int64(tailBlockSize)
		if n > left {
			n = left
		}
		left -= n
		block := make([]byte, n)
		if _, err := f.ReadAt(block, left); err != nil {
			return nil, err
		}
		buf = append(block, buf...)
	}

	text := strings.TrimRight(string(buf), "\n")
	if text == "" {
		return nil, nil
	}
	lines := strings.Split(text, "\n")
	if left > 0 && len(lines) > 0 {
		// the first line may be a fragment of a line crossing the
		// read boundary
		lines = lines[1:]
	}
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	// most recent first
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines, nil
}
