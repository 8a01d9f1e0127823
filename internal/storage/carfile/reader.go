package carfile

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/boxo/ipld/merkledag"
	"github.com/ipfs/go-cid"
	format "github.com/ipfs/go-ipld-format"
	carv2 "github.com/ipld/go-car/v2"
	"github.com/ipld/go-car/v2/blockstore"
)

// ErrCorrupt marks a piece whose blocks are missing or do not match their CIDs.
var ErrCorrupt = errors.New("carfile: corrupt piece")

// Reader gives indexed access to the blocks of a piece without loading them.
type Reader struct {
	path  string
	store *blockstore.ReadOnly
}

// Open indexes the CAR file at path. Caller owns Close.
func Open(path string) (*Reader, error) {
	store, err := blockstore.OpenReadOnly(path,
		carv2.ZeroLengthSectionAsEOF(true),
		blockstore.UseWholeCIDs(true),
	)
	if err != nil {
		return nil, fmt.Errorf("carfile: open %s: %w", path, err)
	}
	return &Reader{path: path, store: store}, nil
}

// Roots returns the roots declared in the header.
func (r *Reader) Roots() ([]cid.Cid, error) {
	if r.store == nil {
		return nil, errors.New("carfile: reader closed")
	}
	return r.store.Roots()
}

// Root returns the single root of a piece.
func (r *Reader) Root() (cid.Cid, error) {
	roots, err := r.Roots()
	if err != nil {
		return cid.Undef, err
	}
	if len(roots) != 1 {
		return cid.Undef, fmt.Errorf("carfile: %s has %d roots, expected 1", r.path, len(roots))
	}
	return roots[0], nil
}

// DAG returns a read-only node getter that validates every block it fetches.
func (r *Reader) DAG() format.DAGService {
	return &dag{store: r.store}
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	if r.store == nil {
		return nil
	}
	err := r.store.Close()
	r.store = nil
	return err
}

type dag struct {
	store *blockstore.ReadOnly
}

func (d *dag) Get(ctx context.Context, c cid.Cid) (format.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	blk, err := d.store.Get(ctx, c)
	if err != nil {
		if format.IsNotFound(err) {
			return nil, fmt.Errorf("%w: block %s not found", ErrCorrupt, c)
		}
		return nil, err
	}
	sum, err := c.Prefix().Sum(blk.RawData())
	if err != nil {
		return nil, err
	}
	if !sum.Equals(c) {
		return nil, fmt.Errorf("%w: block %s hash mismatch", ErrCorrupt, c)
	}
	switch c.Prefix().Codec {
	case cid.DagProtobuf:
		return merkledag.DecodeProtobufBlock(blk)
	case cid.Raw:
		return merkledag.DecodeRawBlock(blk)
	default:
		return nil, fmt.Errorf("carfile: unsupported codec %x for %s", c.Prefix().Codec, c)
	}
}

func (d *dag) GetMany(ctx context.Context, cids []cid.Cid) <-chan *format.NodeOption {
	out := make(chan *format.NodeOption, len(cids))
	go func() {
		defer close(out)
		for _, c := range cids {
			nd, err := d.Get(ctx, c)
			select {
			case out <- &format.NodeOption{Node: nd, Err: err}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (d *dag) Add(context.Context, format.Node) error {
	return errors.New("carfile: piece is read-only")
}

func (d *dag) AddMany(context.Context, []format.Node) error {
	return errors.New("carfile: piece is read-only")
}

func (d *dag) Remove(context.Context, cid.Cid) error {
	return errors.New("carfile: piece is read-only")
}

func (d *dag) RemoveMany(context.Context, []cid.Cid) error {
	return errors.New("carfile: piece is read-only")
}
