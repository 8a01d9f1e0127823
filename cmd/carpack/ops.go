package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/kk-code-lab/carpack/internal/meta"
	"github.com/kk-code-lab/carpack/internal/ops"
)

type opsFlags struct {
	catalog string
	output  string
	jsonOut bool
	verbose bool
}

func runStatus(ctx context.Context, args []string, stdout io.Writer) error {
	return runOps(ctx, "status", args, stdout)
}

func runScrub(ctx context.Context, args []string, stdout io.Writer) error {
	return runOps(ctx, "scrub", args, stdout)
}

func runSnapshot(ctx context.Context, args []string, stdout io.Writer) error {
	return runOps(ctx, "snapshot", args, stdout)
}

func runOps(ctx context.Context, mode string, args []string, stdout io.Writer) error {
	var f opsFlags
	fs := newFlagSet(mode)
	fs.StringVar(&f.catalog, "catalog", "", "Path to the SQLite piece catalog")
	if mode == "snapshot" {
		fs.StringVarP(&f.output, "output", "o", "", "Snapshot output directory")
	}
	fs.BoolVar(&f.jsonOut, "json", false, "Output report as JSON")
	fs.BoolVar(&f.verbose, "verbose", false, "Verbose logging")
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: unknown arguments %v", ErrUsage, fs.Args())
	}
	if f.catalog == "" {
		return ErrCatalogRequired
	}

	store, err := meta.Open(f.catalog)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	var report *ops.Report
	switch mode {
	case "status":
		report, err = ops.Status(ctx, store)
	case "scrub":
		logger, lerr := newLogger(f.verbose)
		if lerr != nil {
			return lerr
		}
		defer func() { _ = logger.Sync() }()
		report, err = ops.Scrub(ctx, store, logger)
	case "snapshot":
		if f.output == "" {
			f.output = filepath.Join(filepath.Dir(f.catalog), "snapshots", "snapshot-"+fmtTime())
		}
		report, err = ops.Snapshot(ctx, store, f.catalog, f.output)
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
	if err != nil {
		return err
	}
	if f.jsonOut {
		err = writeJSON(stdout, report)
	} else {
		_, err = fmt.Fprintln(stdout, formatReport(report))
	}
	if err != nil {
		return err
	}
	if report.Errors > 0 {
		return &exitCodeError{code: 1, msg: fmt.Sprintf("%s: %d errors", mode, report.Errors), quiet: f.jsonOut}
	}
	return nil
}

func fmtTime() string {
	return fmt.Sprintf("%d", time.Now().UTC().Unix())
}

func formatReport(report *ops.Report) string {
	if report == nil {
		return ""
	}
	s := fmt.Sprintf("mode=%s datasets=%d pieces=%d bytes=%s errors=%d",
		report.Mode, report.Datasets, report.Pieces, humanize.IBytes(uint64(report.Bytes)), report.Errors)
	if report.Checked > 0 || report.Damaged > 0 || report.Missing > 0 {
		s += fmt.Sprintf(" checked=%d damaged=%d missing=%d", report.Checked, report.Damaged, report.Missing)
	}
	for _, e := range report.ErrorSample {
		s += "\n  " + e
	}
	return s
}
