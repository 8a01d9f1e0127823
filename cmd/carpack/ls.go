package main

import (
	"context"
	"fmt"
	"io"

	"github.com/kk-code-lab/carpack/internal/unpack"
)

func runList(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlagSet("ls")
	root := fs.StringP("root", "r", "", "Root CID (defaults to the CAR header root)")
	verbose := fs.Bool("verbose", false, "Print CID and size of every entry")
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: ls takes exactly one CAR", ErrUsage)
	}
	return unpack.List(ctx, fs.Arg(0), *root, *verbose, stdout)
}
