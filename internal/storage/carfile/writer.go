// Package carfile writes and reads pieces: CARv1 archives holding the blocks
// of one UnixFS DAG under a single root.
package carfile

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ipfs/go-cid"
	format "github.com/ipfs/go-ipld-format"
	car "github.com/ipld/go-car"
	"github.com/ipld/go-car/util"
	carv2 "github.com/ipld/go-car/v2"

	"github.com/kk-code-lab/carpack/internal/storage/fs"
)

// PlaceholderRoot is written into the header while blocks are streamed. It
// has the same encoded length as a CIDv1 dag-pb sha2-256 root, so the real
// root can be patched in place.
var PlaceholderRoot = cid.MustParse("bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi")

var errWriterClosed = errors.New("carfile: writer closed")

// Writer streams blocks into a temporary CAR file. It implements
// format.DAGService so DAG builders can add nodes directly; nodes are
// write-only and repeated CIDs are stored once.
type Writer struct {
	layout  fs.Layout
	tmpPath string
	file    *os.File
	buf     *bufio.Writer
	seen    map[cid.Cid]struct{}
	written int64
	blocks  int
	closed  bool
	renamed bool
}

var _ format.DAGService = (*Writer)(nil)

// NewWriter creates the temporary piece file for id and writes the header
// with the placeholder root. Caller owns Close or Abort.
func NewWriter(layout fs.Layout, id string) (*Writer, error) {
	tmpPath := layout.TempPiecePath(id)
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		layout:  layout,
		tmpPath: tmpPath,
		file:    file,
		buf:     bufio.NewWriterSize(file, 1<<20),
		seen:    make(map[cid.Cid]struct{}),
	}
	header := &car.CarHeader{Roots: []cid.Cid{PlaceholderRoot}, Version: 1}
	if err := car.WriteHeader(header, w.buf); err != nil {
		w.Abort()
		return nil, fmt.Errorf("carfile: write header: %w", err)
	}
	size, err := car.HeaderSize(header)
	if err != nil {
		w.Abort()
		return nil, err
	}
	w.written = int64(size)
	return w, nil
}

// TempPath is the path of the file being written.
func (w *Writer) TempPath() string {
	return w.tmpPath
}

// Size is the number of bytes written so far.
func (w *Writer) Size() int64 {
	return w.written
}

// Blocks is the number of distinct blocks written so far.
func (w *Writer) Blocks() int {
	return w.blocks
}

func (w *Writer) Add(_ context.Context, nd format.Node) error {
	if w.closed {
		return errWriterClosed
	}
	c := nd.Cid()
	if _, ok := w.seen[c]; ok {
		return nil
	}
	data := nd.RawData()
	if err := util.LdWrite(w.buf, c.Bytes(), data); err != nil {
		return fmt.Errorf("carfile: write block %s: %w", c, err)
	}
	w.seen[c] = struct{}{}
	w.written += int64(util.LdSize(c.Bytes(), data))
	w.blocks++
	return nil
}

func (w *Writer) AddMany(ctx context.Context, nds []format.Node) error {
	for _, nd := range nds {
		if err := w.Add(ctx, nd); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) Get(_ context.Context, c cid.Cid) (format.Node, error) {
	return nil, format.ErrNotFound{Cid: c}
}

func (w *Writer) GetMany(_ context.Context, cids []cid.Cid) <-chan *format.NodeOption {
	out := make(chan *format.NodeOption, len(cids))
	for _, c := range cids {
		out <- &format.NodeOption{Err: format.ErrNotFound{Cid: c}}
	}
	close(out)
	return out
}

func (w *Writer) Remove(context.Context, cid.Cid) error {
	return errors.New("carfile: remove not supported")
}

func (w *Writer) RemoveMany(context.Context, []cid.Cid) error {
	return errors.New("carfile: remove not supported")
}

// Close flushes the blocks, closes the file and rewrites the header root.
func (w *Writer) Close(root cid.Cid) error {
	if w.closed {
		return errWriterClosed
	}
	w.closed = true
	if err := w.buf.Flush(); err != nil {
		_ = w.file.Close()
		return err
	}
	if err := w.file.Sync(); err != nil {
		_ = w.file.Close()
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}
	if len(root.Bytes()) != len(PlaceholderRoot.Bytes()) {
		return fmt.Errorf("carfile: root %s does not fit the placeholder", root)
	}
	if err := carv2.ReplaceRootsInFile(w.tmpPath, []cid.Cid{root}); err != nil {
		return fmt.Errorf("carfile: replace root: %w", err)
	}
	return nil
}

// Rename moves a closed piece to its final, self-identifying path.
func (w *Writer) Rename(root cid.Cid) (string, error) {
	if !w.closed {
		return "", errors.New("carfile: writer not closed")
	}
	path := w.layout.PiecePath(root.String())
	if err := os.Rename(w.tmpPath, path); err != nil {
		return "", err
	}
	w.tmpPath = path
	w.renamed = true
	return path, nil
}

// Abort closes and removes the temporary file. It is a no-op after Rename.
func (w *Writer) Abort() {
	if !w.closed {
		w.closed = true
		_ = w.file.Close()
	}
	if w.renamed {
		return
	}
	_ = os.Remove(w.tmpPath)
}
