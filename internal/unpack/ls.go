package unpack

import (
	"context"
	"fmt"
	"io"

	"github.com/ipfs/go-cid"

	"github.com/kk-code-lab/carpack/internal/storage/carfile"
	"github.com/kk-code-lab/carpack/internal/unixfs"
)

// List prints the tree of a piece, one "./path" per line. Verbose lines are
// "cid<TAB>size<TAB>./path" with "-" as the size of directories. root
// overrides the root declared in the header when non-empty.
func List(ctx context.Context, car, root string, verbose bool, w io.Writer) error {
	r, err := carfile.Open(car)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	var rootCID cid.Cid
	if root != "" {
		rootCID, err = cid.Decode(root)
	} else {
		rootCID, err = r.Root()
	}
	if err != nil {
		return fmt.Errorf("unpack: no usable root for %s: %w", car, err)
	}
	return unixfs.Walk(ctx, r.DAG(), rootCID, func(e unixfs.Entry) error {
		p := "."
		if e.Path != "." {
			p = "./" + e.Path
		}
		if !verbose {
			_, err := fmt.Fprintln(w, p)
			return err
		}
		size := "-"
		if e.Kind == unixfs.KindFile {
			size = fmt.Sprint(e.Size)
		}
		_, err := fmt.Fprintf(w, "%s\t%s\t%s\n", e.CID, size, p)
		return err
	})
}
