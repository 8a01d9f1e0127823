package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/dustin/go-humanize"

	"github.com/kk-code-lab/carpack/internal/storage/manifest"
	"github.com/kk-code-lab/carpack/internal/unpack"
)

func runUnpack(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlagSet("unpack")
	output := fs.StringP("output", "o", "", "Directory receiving the restored files")
	superPath := fs.StringP("super-manifest", "s", "", "Dataset manifest.json to verify against")
	verbose := fs.Bool("verbose", false, "Log every exported file")
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return ErrInputRequired
	}
	if *output == "" {
		return ErrOutputRequired
	}
	super, err := readSuper(*superPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(*verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	res, err := unpack.Run(ctx, fs.Args(), unpack.Options{
		Output:        *output,
		SuperManifest: super,
		Verbose:       *verbose,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	return printPieces(stdout, res)
}

func runVerify(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlagSet("verify")
	superPath := fs.StringP("super-manifest", "s", "", "Dataset manifest.json to verify against")
	verbose := fs.Bool("verbose", false, "Verbose logging")
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return ErrInputRequired
	}
	super, err := readSuper(*superPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(*verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	res, err := unpack.Verify(ctx, fs.Args(), super, logger)
	if err != nil {
		return err
	}
	return printPieces(stdout, res)
}

func readSuper(path string) (*manifest.SuperManifest, error) {
	if path == "" {
		return nil, nil
	}
	return manifest.ReadSuperFile(path)
}

func printPieces(w io.Writer, res *unpack.Result) error {
	for _, p := range res.Pieces {
		if _, err := fmt.Fprintf(w, "ok\t%s\t%s\t%d files\t%s\n", p.PieceCID, p.PayloadCID, p.Files, humanize.IBytes(p.Bytes)); err != nil {
			return err
		}
	}
	names := make([]string, 0, len(res.Joined))
	for name := range res.Joined {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		j := res.Joined[name]
		if _, err := fmt.Fprintf(w, "joined\t%s\t%s\t%s\n", j.Hash, humanize.IBytes(j.ByteLength), name); err != nil {
			return err
		}
	}
	return nil
}
