// Package unixfs encodes batches of files into UnixFS DAGs and walks them back.
package unixfs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	chunker "github.com/ipfs/boxo/chunker"
	"github.com/ipfs/boxo/ipld/merkledag"
	ft "github.com/ipfs/boxo/ipld/unixfs"
	"github.com/ipfs/boxo/ipld/unixfs/hamt"
	"github.com/ipfs/boxo/ipld/unixfs/importer/balanced"
	"github.com/ipfs/boxo/ipld/unixfs/importer/helpers"
	"github.com/ipfs/go-cid"
	format "github.com/ipfs/go-ipld-format"
	"github.com/multiformats/go-multihash"

	"github.com/kk-code-lab/carpack/internal/batch"
	"github.com/kk-code-lab/carpack/internal/storage/chunk"
	"github.com/kk-code-lab/carpack/internal/storage/fs"
	"github.com/kk-code-lab/carpack/internal/storage/manifest"
)

const (
	// ShardThreshold is the largest directory stored as a single node.
	ShardThreshold = 1000
	// MaxLinks is the fan-out of file DAGs.
	MaxLinks = 1024
	// ShardWidth is the fan-out of sharded directories.
	ShardWidth = 256
)

var (
	ErrSizeMismatch = errors.New("unixfs: file size mismatch")
	ErrReservedName = errors.New("unixfs: reserved name")
)

// CidBuilder builds every non-leaf CID: CIDv1, dag-pb, sha2-256.
var CidBuilder = cid.V1Builder{Codec: cid.DagProtobuf, MhType: multihash.SHA2_256}

type treeNode struct {
	name     string
	file     *batch.File
	children []*treeNode
	byName   map[string]*treeNode
}

func newDir(name string) *treeNode {
	return &treeNode{name: name, byName: make(map[string]*treeNode)}
}

func (n *treeNode) isDir() bool {
	return n.file == nil
}

func (n *treeNode) add(child *treeNode) {
	n.children = append(n.children, child)
	n.byName[child.name] = child
}

// buildTree arranges files by their slash separated names, keeping the
// order in which names are first seen.
func buildTree(files batch.Batch) (*treeNode, error) {
	root := newDir(".")
	for i := range files {
		file := &files[i]
		segments := strings.Split(file.Name, "/")
		if segments[0] == "" || segments[0] == "." {
			segments = segments[1:]
		}
		if len(segments) == 0 {
			return nil, fmt.Errorf("unixfs: invalid file name %q", file.Name)
		}
		dir := root
		for j, name := range segments {
			if name == "" || name == "." || name == ".." {
				return nil, fmt.Errorf("unixfs: invalid file name %q", file.Name)
			}
			existing := dir.byName[name]
			if j == len(segments)-1 {
				if dir == root && name == fs.ManifestName {
					return nil, fmt.Errorf("%w: %q", ErrReservedName, file.Name)
				}
				if existing != nil {
					if existing.isDir() {
						return nil, fmt.Errorf("unixfs: %q cannot be a file and a directory", name)
					}
					return nil, fmt.Errorf("unixfs: duplicate file %q", file.Name)
				}
				dir.add(&treeNode{name: name, file: file})
				break
			}
			if existing == nil {
				existing = newDir(name)
				dir.add(existing)
			}
			if !existing.isDir() {
				return nil, fmt.Errorf("unixfs: %q cannot be a file and a directory", name)
			}
			dir = existing
		}
	}
	return root, nil
}

type link struct {
	name string
	node format.Node
}

type encoder struct {
	dag       format.DAGService
	chunkSize int64
}

// Encode writes the DAG of files, followed by a manifest.json holding sub,
// into dag and returns the root CID. sub.Contents is filled in unless it is
// nil, which marks a lite manifest.
func Encode(ctx context.Context, dag format.DAGService, files batch.Batch, sub *manifest.SubManifest) (cid.Cid, error) {
	tree, err := buildTree(files)
	if err != nil {
		return cid.Undef, err
	}
	e := &encoder{dag: dag, chunkSize: chunk.DefaultSize}
	contents := manifest.Entries{}
	links, err := e.children(ctx, tree, &contents)
	if err != nil {
		return cid.Undef, err
	}
	if sub.Contents != nil {
		sub.Contents = contents
	}

	mf, err := e.manifestFile(ctx, sub)
	if err != nil {
		return cid.Undef, err
	}
	// The root shards on user entries alone; manifest.json does not count.
	sharded := len(links) > ShardThreshold
	links = append(links, link{name: fs.ManifestName, node: mf})
	root, err := e.directory(ctx, links, sharded)
	if err != nil {
		return cid.Undef, err
	}
	return root.Cid(), nil
}

func (e *encoder) children(ctx context.Context, dir *treeNode, entries *manifest.Entries) ([]link, error) {
	links := make([]link, 0, len(dir.children)+1)
	for _, child := range dir.children {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var nd format.Node
		var err error
		if child.isDir() {
			nd, err = e.encodeDir(ctx, child, entries)
		} else {
			nd, err = e.encodeFile(ctx, child, entries)
		}
		if err != nil {
			return nil, err
		}
		links = append(links, link{name: child.name, node: nd})
	}
	return links, nil
}

func (e *encoder) encodeDir(ctx context.Context, dir *treeNode, entries *manifest.Entries) (format.Node, error) {
	contents := manifest.Entries{}
	links, err := e.children(ctx, dir, &contents)
	if err != nil {
		return nil, err
	}
	nd, err := e.directory(ctx, links, len(links) > ShardThreshold)
	if err != nil {
		return nil, err
	}
	*entries = append(*entries, &manifest.Directory{Name: dir.name, Contents: contents})
	return nd, nil
}

func (e *encoder) encodeFile(ctx context.Context, n *treeNode, entries *manifest.Entries) (format.Node, error) {
	f := n.file
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	nd, hash, size, err := e.importStream(ctx, rc)
	if err != nil {
		return nil, fmt.Errorf("unixfs: encode %s: %w", f.Name, err)
	}
	if size != f.Size {
		return nil, fmt.Errorf("%w: %s encoded %d bytes, expected %d", ErrSizeMismatch, f.Name, size, f.Size)
	}
	if f.IsPart() {
		*entries = append(*entries, &manifest.FilePart{
			Name:                   n.name,
			ByteLength:             size,
			CID:                    nd.Cid().String(),
			OriginalFileName:       baseName(f.Original.Name),
			OriginalFileHash:       f.Original.Hash,
			OriginalFileByteLength: f.Original.Size,
		})
	} else {
		*entries = append(*entries, &manifest.File{
			Name:       n.name,
			Hash:       hash,
			ByteLength: size,
			CID:        nd.Cid().String(),
		})
	}
	return nd, nil
}

// importStream chunks r into a balanced file DAG while hashing the raw bytes.
func (e *encoder) importStream(ctx context.Context, r io.Reader) (format.Node, string, uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", 0, err
	}
	h := sha256.New()
	splitter := chunker.NewSizeSplitter(io.TeeReader(r, h), e.chunkSize)
	params := helpers.DagBuilderParams{
		Dagserv:    e.dag,
		Maxlinks:   MaxLinks,
		RawLeaves:  true,
		CidBuilder: CidBuilder,
	}
	db, err := params.New(splitter)
	if err != nil {
		return nil, "", 0, err
	}
	nd, err := balanced.Layout(db)
	if err != nil {
		return nil, "", 0, err
	}
	size, err := FileSize(nd)
	if err != nil {
		return nil, "", 0, err
	}
	return nd, hex.EncodeToString(h.Sum(nil)), size, nil
}

func (e *encoder) manifestFile(ctx context.Context, sub *manifest.SubManifest) (format.Node, error) {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(manifest.EncodeSub(pw, sub))
	}()
	defer func() { _ = pr.Close() }()
	nd, _, _, err := e.importStream(ctx, pr)
	if err != nil {
		return nil, fmt.Errorf("unixfs: encode %s: %w", fs.ManifestName, err)
	}
	return nd, nil
}

// directory stores links as a flat directory node, or as a HAMT shard.
func (e *encoder) directory(ctx context.Context, links []link, sharded bool) (format.Node, error) {
	if !sharded {
		dir := ft.EmptyDirNode()
		dir.SetCidBuilder(CidBuilder)
		for _, l := range links {
			if err := dir.AddNodeLink(l.name, l.node); err != nil {
				return nil, err
			}
		}
		if err := e.dag.Add(ctx, dir); err != nil {
			return nil, err
		}
		return dir, nil
	}
	shard, err := hamt.NewShard(e.dag, ShardWidth)
	if err != nil {
		return nil, err
	}
	shard.SetCidBuilder(CidBuilder)
	for _, l := range links {
		if err := shard.Set(ctx, l.name, l.node); err != nil {
			return nil, err
		}
	}
	return shard.Node()
}

// FileSize returns the content length of a UnixFS file node.
func FileSize(nd format.Node) (uint64, error) {
	switch n := nd.(type) {
	case *merkledag.RawNode:
		return uint64(len(n.RawData())), nil
	case *merkledag.ProtoNode:
		fsn, err := ft.FSNodeFromBytes(n.Data())
		if err != nil {
			return 0, err
		}
		return fsn.FileSize(), nil
	default:
		return 0, fmt.Errorf("unixfs: unexpected node type %T", nd)
	}
}

func baseName(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}
