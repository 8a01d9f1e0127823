package batch

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Source provides byte-range reads over one input file. Each call opens an
// independent single-pass stream.
type Source interface {
	OpenRange(offset, length int64) (io.ReadCloser, error)
}

// PathSource reads from a file on disk.
type PathSource string

// OpenRange opens the file and limits the stream to the range.
func (p PathSource) OpenRange(offset, length int64) (io.ReadCloser, error) {
	f, err := os.Open(string(p))
	if err != nil {
		return nil, err
	}
	return &sectionReadCloser{SectionReader: io.NewSectionReader(f, offset, length), f: f}, nil
}

type sectionReadCloser struct {
	*io.SectionReader
	f *os.File
}

func (s *sectionReadCloser) Close() error {
	return s.f.Close()
}

// BytesSource serves an in-memory file.
type BytesSource []byte

// OpenRange returns a reader over the requested range.
func (b BytesSource) OpenRange(offset, length int64) (io.ReadCloser, error) {
	if offset < 0 || length < 0 || offset+length > int64(len(b)) {
		return nil, fmt.Errorf("batch: range %d+%d out of bounds (%d bytes)", offset, length, len(b))
	}
	return io.NopCloser(bytes.NewReader(b[offset : offset+length])), nil
}
