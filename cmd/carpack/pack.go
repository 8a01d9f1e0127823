package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/kk-code-lab/carpack/internal/bytesize"
	"github.com/kk-code-lab/carpack/internal/meta"
	"github.com/kk-code-lab/carpack/internal/pack"
	"github.com/kk-code-lab/carpack/internal/storage/manifest"
)

func runPack(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlagSet("pack")
	metadataPath := fs.StringP("metadata", "m", "", "JSON file with dataset metadata")
	output := fs.StringP("output", "o", "", "Output directory for pieces and manifest.json")
	hidden := fs.BoolP("hidden", "H", false, "Include hidden files")
	lite := fs.BoolP("lite", "l", false, "Omit file listings from manifests")
	specVersion := fs.String("spec-version", manifest.SupportedVersion, "Manifest specification version")
	targetSize := fs.String("target-car-size", "32GB", "Target payload size per piece")
	catalogPath := fs.String("catalog", "", "Record the dataset in this SQLite catalog")
	verbose := fs.Bool("verbose", false, "Verbose logging")
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return ErrInputRequired
	}
	if *metadataPath == "" {
		return ErrMetadataRequired
	}
	if *output == "" {
		return ErrOutputRequired
	}
	if err := manifest.CheckVersion(*specVersion); err != nil {
		return err
	}
	budget, err := bytesize.Parse(*targetSize)
	if err != nil {
		return err
	}
	metadata, err := readMetadata(*metadataPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(*verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	opts := pack.Options{
		Output:      *output,
		Metadata:    metadata,
		SpecVersion: *specVersion,
		TargetSize:  budget,
		Lite:        *lite,
		Hidden:      *hidden,
		Logger:      logger,
	}
	if *catalogPath != "" {
		store, err := meta.Open(*catalogPath)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		opts.Catalog = store
	}

	res, err := pack.Run(ctx, fs.Args(), opts)
	if err != nil {
		return err
	}
	for _, p := range res.Pieces {
		fmt.Fprintf(stdout, "%s\t%s\t%s\t%s\n", p.PieceCID, p.PayloadCID, humanize.IBytes(uint64(p.Size)), p.Path)
	}
	_, err = fmt.Fprintf(stdout, "manifest\t%s\n", res.ManifestPath)
	return err
}

func readMetadata(path string) (manifest.UserMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return manifest.UserMetadata{}, fmt.Errorf("metadata: %w", err)
	}
	defer func() { _ = f.Close() }()
	return manifest.ReadMetadata(f)
}
