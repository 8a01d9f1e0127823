// Package pack turns a set of input files into pieces and a super-manifest.
package pack

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
	"go.uber.org/zap"

	"github.com/kk-code-lab/carpack/internal/batch"
	"github.com/kk-code-lab/carpack/internal/commp"
	"github.com/kk-code-lab/carpack/internal/meta"
	"github.com/kk-code-lab/carpack/internal/storage/carfile"
	"github.com/kk-code-lab/carpack/internal/storage/fs"
	"github.com/kk-code-lab/carpack/internal/storage/manifest"
	"github.com/kk-code-lab/carpack/internal/unixfs"
)

// DefaultTargetSize is the default piece payload budget (32 GiB).
const DefaultTargetSize = 32 << 30

var ErrNoFiles = errors.New("pack: no files to pack")

// State is a step of a pack run.
type State int

const (
	StateInit State = iota
	StateScanningMetadata
	StateEncoding
	StateWriting
	StateCommitting
	StateRenaming
	StateWritingManifest
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateScanningMetadata:
		return "scanning-metadata"
	case StateEncoding:
		return "encoding"
	case StateWriting:
		return "writing"
	case StateCommitting:
		return "committing"
	case StateRenaming:
		return "renaming"
	case StateWritingManifest:
		return "writing-manifest"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures a pack run.
type Options struct {
	// Output is the directory receiving pieces and manifest.json.
	Output   string
	Metadata manifest.UserMetadata
	// SpecVersion defaults to manifest.SupportedVersion.
	SpecVersion string
	// TargetSize is the per-piece payload budget in bytes.
	TargetSize uint64
	// Lite omits manifest contents; files are never split.
	Lite bool
	// Hidden includes dot files when listing paths.
	Hidden bool
	// Catalog, if set, records the dataset and its pieces.
	Catalog *meta.Store
	Logger  *zap.Logger
	// NewUUID generates manifest uuids; defaults to uuid.New.
	NewUUID func() uuid.UUID
	// OnState observes state transitions.
	OnState func(State)
}

// Piece describes one written piece.
type Piece struct {
	Path       string
	PayloadCID cid.Cid
	PieceCID   cid.Cid
	Size       int64
	PaddedSize uint64
	Blake3     []byte
	Files      int
}

// Result is the outcome of a pack run.
type Result struct {
	Manifest     *manifest.SuperManifest
	ManifestPath string
	Pieces       []Piece
}

// Run lists paths and packs the files found.
func Run(ctx context.Context, paths []string, opts Options) (*Result, error) {
	files, err := batch.List(paths, batch.ListOptions{Hidden: opts.Hidden})
	if err != nil {
		return nil, err
	}
	return RunFiles(ctx, files, opts)
}

type packer struct {
	opts   Options
	layout fs.Layout
	logger *zap.Logger
	super  *manifest.SuperManifest
	state  State
}

func (p *packer) enter(s State) {
	p.state = s
	p.logger.Debug("pack: state", zap.Stringer("state", s))
	if p.opts.OnState != nil {
		p.opts.OnState(s)
	}
}

// RunFiles packs an already listed set of files. A failure aborts the run:
// the in-flight temporary piece is removed, finished pieces stay on disk and
// no manifest.json is written.
func RunFiles(ctx context.Context, files []batch.File, opts Options) (*Result, error) {
	if opts.Output == "" {
		return nil, errors.New("pack: output directory required")
	}
	if opts.SpecVersion == "" {
		opts.SpecVersion = manifest.SupportedVersion
	}
	if opts.TargetSize == 0 {
		opts.TargetSize = DefaultTargetSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &packer{opts: opts, layout: fs.NewLayout(opts.Output), logger: logger}
	p.enter(StateInit)

	p.enter(StateScanningMetadata)
	if err := opts.Metadata.Validate(); err != nil {
		return nil, err
	}
	super, err := manifest.New(opts.Metadata, opts.SpecVersion, manifest.Options{Lite: opts.Lite, NewUUID: opts.NewUUID})
	if err != nil {
		return nil, err
	}
	p.super = super
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	batcher, err := batch.New(files, opts.TargetSize, batch.Options{NoSplit: opts.Lite})
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(opts.Output, 0o755); err != nil {
		return nil, err
	}
	if err := p.recordDataset(ctx); err != nil {
		return nil, err
	}
	logger.Info("pack: start",
		zap.Int("files", len(files)),
		zap.String("target_size", humanize.IBytes(opts.TargetSize)),
		zap.Bool("lite", opts.Lite),
		zap.String("uuid", super.UUID))

	result := &Result{Manifest: super}
	for {
		b, ok, err := batcher.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if len(b) == 0 {
			continue
		}
		piece, err := p.packBatch(ctx, b)
		if err != nil {
			return nil, err
		}
		result.Pieces = append(result.Pieces, piece)
	}

	p.enter(StateWritingManifest)
	result.ManifestPath = p.layout.ManifestPath()
	if err := manifest.WriteSuperFile(result.ManifestPath, super); err != nil {
		return nil, fmt.Errorf("pack: write manifest: %w", err)
	}
	if err := p.recordDataset(ctx); err != nil {
		return nil, err
	}
	p.enter(StateDone)
	logger.Info("pack: done", zap.Int("pieces", len(result.Pieces)), zap.String("manifest", result.ManifestPath))
	return result, nil
}

func (p *packer) packBatch(ctx context.Context, b batch.Batch) (piece Piece, err error) {
	sub := p.super.NewSubManifest()
	w, err := carfile.NewWriter(p.layout, uuid.NewString())
	if err != nil {
		return Piece{}, err
	}
	defer func() {
		if err != nil {
			w.Abort()
		}
	}()

	p.enter(StateEncoding)
	root, err := unixfs.Encode(ctx, w, b, sub)
	if err != nil {
		return Piece{}, err
	}

	p.enter(StateWriting)
	if err = w.Close(root); err != nil {
		return Piece{}, err
	}

	p.enter(StateCommitting)
	sums, err := commp.SumFile(w.TempPath())
	if err != nil {
		return Piece{}, err
	}
	if sums.Size != w.Size() {
		return Piece{}, fmt.Errorf("pack: %s holds %d bytes, wrote %d", w.TempPath(), sums.Size, w.Size())
	}

	p.enter(StateRenaming)
	path, err := w.Rename(root)
	if err != nil {
		return Piece{}, err
	}
	if err = p.super.AddPiece(sub, sums.PieceCID, root); err != nil {
		return Piece{}, err
	}
	piece = Piece{
		Path:       path,
		PayloadCID: root,
		PieceCID:   sums.PieceCID,
		Size:       sums.Size,
		PaddedSize: sums.PaddedSize,
		Blake3:     sums.Blake3,
		Files:      len(b),
	}
	if err = p.recordPiece(ctx, piece); err != nil {
		return Piece{}, err
	}
	p.logger.Info("pack: piece written",
		zap.String("payload_cid", root.String()),
		zap.String("piece_cid", sums.PieceCID.String()),
		zap.String("size", humanize.IBytes(uint64(sums.Size))),
		zap.Int("files", len(b)),
		zap.Int("blocks", w.Blocks()))
	return piece, nil
}

func (p *packer) recordDataset(ctx context.Context) error {
	if p.opts.Catalog == nil {
		return nil
	}
	return p.opts.Catalog.RecordDataset(ctx, meta.Dataset{
		UUID:         p.super.UUID,
		Name:         p.super.Name,
		SpecVersion:  p.super.SpecVersion,
		NPieces:      p.super.NPieces,
		ManifestPath: p.layout.ManifestPath(),
	})
}

func (p *packer) recordPiece(ctx context.Context, piece Piece) error {
	if p.opts.Catalog == nil {
		return nil
	}
	path, err := filepath.Abs(piece.Path)
	if err != nil {
		return err
	}
	return p.opts.Catalog.RecordPiece(ctx, meta.Piece{
		PieceCID:    piece.PieceCID.String(),
		PayloadCID:  piece.PayloadCID.String(),
		DatasetUUID: p.super.UUID,
		Path:        path,
		Size:        piece.Size,
		Blake3:      piece.Blake3,
	})
}
