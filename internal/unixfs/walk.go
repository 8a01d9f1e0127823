package unixfs

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"

	"github.com/ipfs/boxo/ipld/merkledag"
	ft "github.com/ipfs/boxo/ipld/unixfs"
	uio "github.com/ipfs/boxo/ipld/unixfs/io"
	"github.com/ipfs/go-cid"
	format "github.com/ipfs/go-ipld-format"
)

var ErrUnsupportedNode = errors.New("unixfs: unsupported node type")

// EntryKind distinguishes exported files from directories.
type EntryKind int

const (
	KindFile EntryKind = iota
	KindDirectory
)

func (k EntryKind) String() string {
	if k == KindDirectory {
		return "directory"
	}
	return "file"
}

// Entry is one node reached while walking a UnixFS DAG. Path is "." for the
// root and slash separated below it.
type Entry struct {
	Path string
	Kind EntryKind
	CID  cid.Cid
	// Size is the content length of files; zero for directories.
	Size uint64

	node format.Node
	dag  format.DAGService
}

// Open streams the content of a file entry.
func (e Entry) Open(ctx context.Context) (uio.DagReader, error) {
	if e.Kind != KindFile {
		return nil, fmt.Errorf("unixfs: %s is not a file", e.Path)
	}
	return uio.NewDagReader(ctx, e.node, e.dag)
}

// Walk visits the DAG under root depth first, calling fn for each directory
// before its children. Children are visited in name order.
func Walk(ctx context.Context, dag format.DAGService, root cid.Cid, fn func(Entry) error) error {
	nd, err := dag.Get(ctx, root)
	if err != nil {
		return err
	}
	return walk(ctx, dag, ".", nd, fn)
}

func walk(ctx context.Context, dag format.DAGService, p string, nd format.Node, fn func(Entry) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry := Entry{Path: p, CID: nd.Cid(), node: nd, dag: dag}
	switch n := nd.(type) {
	case *merkledag.RawNode:
		entry.Kind = KindFile
		entry.Size = uint64(len(n.RawData()))
		return fn(entry)
	case *merkledag.ProtoNode:
		fsn, err := ft.FSNodeFromBytes(n.Data())
		if err != nil {
			return fmt.Errorf("unixfs: %s: %w", p, err)
		}
		switch fsn.Type() {
		case ft.TFile, ft.TRaw:
			entry.Kind = KindFile
			entry.Size = fsn.FileSize()
			return fn(entry)
		case ft.TDirectory, ft.THAMTShard:
			entry.Kind = KindDirectory
			if err := fn(entry); err != nil {
				return err
			}
			return walkDir(ctx, dag, p, n, fn)
		default:
			return fmt.Errorf("%w: %s is %s", ErrUnsupportedNode, p, fsn.Type())
		}
	default:
		return fmt.Errorf("%w: %s is %T", ErrUnsupportedNode, p, nd)
	}
}

func walkDir(ctx context.Context, dag format.DAGService, p string, nd *merkledag.ProtoNode, fn func(Entry) error) error {
	dir, err := uio.NewDirectoryFromNode(dag, nd)
	if err != nil {
		return fmt.Errorf("unixfs: %s: %w", p, err)
	}
	var links []*format.Link
	if err := dir.ForEachLink(ctx, func(l *format.Link) error {
		links = append(links, l)
		return nil
	}); err != nil {
		return err
	}
	sort.Slice(links, func(i, j int) bool { return links[i].Name < links[j].Name })
	for _, l := range links {
		child, err := l.GetNode(ctx, dag)
		if err != nil {
			return err
		}
		childPath := l.Name
		if p != "." {
			childPath = path.Join(p, l.Name)
		}
		if err := walk(ctx, dag, childPath, child, fn); err != nil {
			return err
		}
	}
	return nil
}

// Cat streams the content of the file rooted at c.
func Cat(ctx context.Context, dag format.DAGService, c cid.Cid) (uio.DagReader, error) {
	nd, err := dag.Get(ctx, c)
	if err != nil {
		return nil, err
	}
	return uio.NewDagReader(ctx, nd, dag)
}
