package fileio

import (
	"bytes"
	"io"
	"os"
)

// tailChunkSize is the block size used when scanning backwards.
const tailChunkSize = 8192

// TailLines returns the last n non-empty lines of the file at path, in file
// order. It reads backwards in chunks so large progress logs are not loaded
// whole.
func TailLines(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size == 0 {
		return nil, nil
	}

	var buf []byte
	offset := size
	for offset > 0 {
		chunk := int64(tailChunkSize)
		if offset < chunk {
			chunk = offset
		}
		offset -= chunk
		part := make([]byte, chunk)
		if _, err := f.ReadAt(part, offset); err != nil && err != io.EOF {
			return nil, err
		}
		buf = append(part, buf...)
		if bytes.Count(buf, []byte{'\n'}) > n {
			break
		}
	}

	raw := bytes.Split(buf, []byte{'\n'})
	lines := make([]string, 0, n)
	for _, line := range raw {
		trimmed := bytes.TrimRight(line, "\r")
		if len(trimmed) == 0 {
			continue
		}
		lines = append(lines, string(trimmed))
	}
	// Drop a possibly-partial first line when we stopped mid-file.
	if offset > 0 && len(lines) > 0 {
		lines = lines[1:]
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
