package unpack

import (
	"errors"
	"io"
	"os"
	"path/filepath"
)

// Sink receives the exported tree of a piece. Paths are slash separated and
// relative to the dataset root; "." is the root itself.
type Sink interface {
	Mkdir(path string) error
	Create(path string) (io.WriteCloser, error)
}

// DirSink writes the tree below a directory.
type DirSink struct {
	Root string
}

func (s DirSink) resolve(p string) (string, error) {
	local := filepath.FromSlash(p)
	if !filepath.IsLocal(local) {
		return "", errors.New("unpack: path escapes output directory: " + p)
	}
	return filepath.Join(s.Root, local), nil
}

func (s DirSink) Mkdir(p string) error {
	path, err := s.resolve(p)
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0o755)
}

func (s DirSink) Create(p string) (io.WriteCloser, error) {
	path, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	return os.Create(path)
}

// DiscardSink drops all content.
type DiscardSink struct{}

func (DiscardSink) Mkdir(string) error { return nil }

func (DiscardSink) Create(string) (io.WriteCloser, error) {
	return nopWriteCloser{io.Discard}, nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
