// Package unpack restores datasets from pieces, verifying every piece against
// its embedded sub-manifest and, when given, the dataset's super-manifest.
package unpack

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/ipfs/go-cid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kk-code-lab/carpack/internal/commp"
	"github.com/kk-code-lab/carpack/internal/storage/carfile"
	"github.com/kk-code-lab/carpack/internal/storage/fs"
	"github.com/kk-code-lab/carpack/internal/storage/manifest"
	"github.com/kk-code-lab/carpack/internal/unixfs"
	"github.com/kk-code-lab/carpack/internal/verify"
)

// Options configures an unpack run.
type Options struct {
	// Output is the directory receiving the files. Empty means verify only.
	Output string
	// SuperManifest, if set, is checked against every piece.
	SuperManifest *manifest.SuperManifest
	// Verbose logs every exported file.
	Verbose bool
	Logger  *zap.Logger
}

// Piece is the outcome of decoding one piece.
type Piece struct {
	Path       string
	PayloadCID cid.Cid
	PieceCID   cid.Cid
	Manifest   *manifest.SubManifest
	Parts      []verify.FilePart
	Files      int
	Bytes      uint64
}

// Result is the outcome of an unpack run.
type Result struct {
	Pieces []Piece
	// Joined holds every rejoined split file by path.
	Joined map[string]verify.Joined
}

// Run decodes and verifies every piece into opts.Output, then rejoins split
// files and checks them against their recorded hash and size.
func Run(ctx context.Context, cars []string, opts Options) (*Result, error) {
	if opts.Output == "" {
		return nil, errors.New("unpack: output directory required")
	}
	return run(ctx, cars, opts, DirSink{Root: opts.Output})
}

// Verify decodes and verifies every piece without writing anything. Split
// files are rejoined by streaming their parts from the pieces.
func Verify(ctx context.Context, cars []string, super *manifest.SuperManifest, logger *zap.Logger) (*Result, error) {
	return run(ctx, cars, Options{SuperManifest: super, Logger: logger}, DiscardSink{})
}

func run(ctx context.Context, cars []string, opts Options, sink Sink) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cars) == 0 {
		return nil, errors.New("unpack: no CAR files given")
	}
	if opts.SuperManifest != nil {
		if err := manifest.CheckVersion(opts.SuperManifest.SpecVersion); err != nil {
			return nil, err
		}
	}
	v := verify.New(opts.SuperManifest)
	if err := v.ExpectPieces(len(cars)); err != nil {
		return nil, err
	}

	result := &Result{}
	partSources := make(map[string]string)
	var parts []verify.FilePart
	for _, car := range cars {
		piece, err := DecodePiece(ctx, car, v, sink, logger, opts.Verbose)
		if err != nil {
			return nil, err
		}
		result.Pieces = append(result.Pieces, *piece)
		for _, part := range piece.Parts {
			partSources[part.Name] = car
		}
		parts = append(parts, piece.Parts...)
	}

	groups, err := groupParts(parts)
	if err != nil {
		return nil, err
	}
	var j joiner
	if opts.Output != "" {
		j = dirJoiner{root: opts.Output}
	} else {
		j = carJoiner{sources: partSources}
	}
	result.Joined, err = joinAll(ctx, groups, j, logger)
	if err != nil {
		return nil, err
	}
	if err := v.VerifyPieces(result.Joined); err != nil {
		return nil, err
	}
	logger.Info("unpack: verified", zap.Int("pieces", len(result.Pieces)), zap.Int("split_files", len(result.Joined)))
	return result, nil
}

func integrity(car string, err error) error {
	if errors.Is(err, verify.ErrIntegrity) {
		return err
	}
	if errors.Is(err, carfile.ErrCorrupt) || errors.Is(err, unixfs.ErrUnsupportedNode) {
		return fmt.Errorf("%w: %s: %w", verify.ErrIntegrity, car, err)
	}
	return fmt.Errorf("unpack: %s: %w", car, err)
}

// DecodePiece exports one piece into sink and verifies it. The embedded
// manifest.json is parsed and not exported.
func DecodePiece(ctx context.Context, car string, v *verify.Verifier, sink Sink, logger *zap.Logger, verbose bool) (*Piece, error) {
	pieceCID, err := commp.CommitFile(car)
	if err != nil {
		return nil, fmt.Errorf("unpack: %s: %w", car, err)
	}
	r, err := carfile.Open(car)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	root, err := r.Root()
	if err != nil {
		return nil, integrity(car, err)
	}
	if named, ok := fs.PayloadCIDFromPath(car); ok && named != root.String() {
		return nil, fmt.Errorf("%w: %s is named for payload %s but its root is %s", verify.ErrIntegrity, car, named, root)
	}
	pv, err := v.NewPieceVerifier(car, root, pieceCID)
	if err != nil {
		return nil, err
	}

	piece := &Piece{Path: car, PayloadCID: root, PieceCID: pieceCID}
	dag := r.DAG()
	err = unixfs.Walk(ctx, dag, root, func(e unixfs.Entry) error {
		if e.Kind == unixfs.KindDirectory {
			if err := sink.Mkdir(e.Path); err != nil {
				return err
			}
			pv.AddDirectory(e.Path)
			return nil
		}
		content, err := e.Open(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = content.Close() }()
		if e.Path == fs.ManifestName {
			sub, err := manifest.DecodeSub(content)
			if errors.Is(err, manifest.ErrUnsupportedVersion) {
				return err
			}
			if err != nil {
				return fmt.Errorf("%w: invalid sub manifest: %w", verify.ErrIntegrity, err)
			}
			piece.Manifest = sub
			return nil
		}
		info, err := export(sink, e.Path, content)
		if err != nil {
			return err
		}
		if info.ByteLength != e.Size {
			return fmt.Errorf("%w: %s exported %d bytes, node declares %d", verify.ErrIntegrity, e.Path, info.ByteLength, e.Size)
		}
		info.CID = e.CID.String()
		pv.AddFile(e.Path, info)
		piece.Files++
		piece.Bytes += info.ByteLength
		if verbose {
			logger.Info("unpack: file", zap.String("path", e.Path), zap.String("size", humanize.IBytes(info.ByteLength)))
		}
		return nil
	})
	if err != nil {
		return nil, integrity(car, err)
	}
	if piece.Manifest == nil {
		return nil, fmt.Errorf("%w: sub manifest not found in CAR %q", verify.ErrIntegrity, car)
	}
	piece.Parts, err = pv.Verify(piece.Manifest)
	if err != nil {
		return nil, err
	}
	logger.Info("unpack: piece verified",
		zap.String("car", car),
		zap.String("payload_cid", root.String()),
		zap.String("piece_cid", pieceCID.String()),
		zap.Int("files", piece.Files),
		zap.String("size", humanize.IBytes(piece.Bytes)))
	return piece, nil
}

func export(sink Sink, p string, r io.Reader) (verify.FileInfo, error) {
	w, err := sink.Create(p)
	if err != nil {
		return verify.FileInfo{}, err
	}
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(w, h), r)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return verify.FileInfo{}, err
	}
	return verify.FileInfo{Hash: hex.EncodeToString(h.Sum(nil)), ByteLength: uint64(n)}, nil
}

type splitGroup struct {
	name  string
	hash  string
	size  uint64
	parts []verify.FilePart
}

// groupParts collects parts by original file, requiring that every part
// agrees on the original's hash and size and that the sizes add up.
func groupParts(parts []verify.FilePart) ([]*splitGroup, error) {
	byName := make(map[string]*splitGroup)
	var groups []*splitGroup
	for _, part := range parts {
		g, ok := byName[part.OriginalFileName]
		if !ok {
			g = &splitGroup{name: part.OriginalFileName, hash: part.OriginalFileHash, size: part.OriginalFileByteLength}
			byName[g.name] = g
			groups = append(groups, g)
		}
		if part.OriginalFileHash != g.hash || part.OriginalFileByteLength != g.size {
			return nil, fmt.Errorf("%w: part %q disagrees on the original of %q", verify.ErrIntegrity, part.Name, g.name)
		}
		g.parts = append(g.parts, part)
	}
	for _, g := range groups {
		sort.Slice(g.parts, func(i, j int) bool { return g.parts[i].Name < g.parts[j].Name })
		var total uint64
		for _, part := range g.parts {
			total += part.ByteLength
		}
		if total != g.size {
			return nil, fmt.Errorf("%w: parts of %q add up to %d bytes, expected %d", verify.ErrIntegrity, g.name, total, g.size)
		}
	}
	return groups, nil
}

// joiner concatenates the parts of one split file into w.
type joiner interface {
	join(ctx context.Context, g *splitGroup, w io.Writer) error
	create(g *splitGroup) (io.WriteCloser, error)
}

func joinAll(ctx context.Context, groups []*splitGroup, j joiner, logger *zap.Logger) (map[string]verify.Joined, error) {
	joined := make(map[string]verify.Joined, len(groups))
	var mu sync.Mutex
	eg, ctx := errgroup.WithContext(ctx)
	for _, g := range groups {
		eg.Go(func() error {
			out, err := j.create(g)
			if err != nil {
				return err
			}
			h := sha256.New()
			cw := &countingWriter{w: io.MultiWriter(out, h)}
			err = j.join(ctx, g, cw)
			if cerr := out.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("unpack: join %s: %w", g.name, err)
			}
			hash := hex.EncodeToString(h.Sum(nil))
			if hash != g.hash || cw.n != g.size {
				return fmt.Errorf("%w: joined %q has hash %s and size %d, expected %s and %d",
					verify.ErrIntegrity, g.name, hash, cw.n, g.hash, g.size)
			}
			mu.Lock()
			joined[g.name] = verify.Joined{Hash: hash, ByteLength: cw.n}
			mu.Unlock()
			logger.Debug("unpack: joined", zap.String("file", g.name), zap.Int("parts", len(g.parts)))
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return joined, nil
}

type countingWriter struct {
	w io.Writer
	n uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += uint64(n)
	return n, err
}

// dirJoiner joins exported part files and removes them.
type dirJoiner struct {
	root string
}

func (d dirJoiner) path(p string) string {
	return filepath.Join(d.root, filepath.FromSlash(p))
}

func (d dirJoiner) create(g *splitGroup) (io.WriteCloser, error) {
	return DirSink{Root: d.root}.Create(g.name)
}

func (d dirJoiner) join(ctx context.Context, g *splitGroup, w io.Writer) error {
	for _, part := range g.parts {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := os.Open(d.path(part.Name))
		if err != nil {
			return err
		}
		_, err = io.Copy(w, f)
		_ = f.Close()
		if err != nil {
			return err
		}
		if err := os.Remove(d.path(part.Name)); err != nil {
			return err
		}
	}
	return nil
}

// carJoiner streams parts directly from the pieces holding them.
type carJoiner struct {
	sources map[string]string
}

func (carJoiner) create(*splitGroup) (io.WriteCloser, error) {
	return nopWriteCloser{io.Discard}, nil
}

func (c carJoiner) join(ctx context.Context, g *splitGroup, w io.Writer) error {
	for _, part := range g.parts {
		if err := c.copyPart(ctx, part, w); err != nil {
			return err
		}
	}
	return nil
}

func (c carJoiner) copyPart(ctx context.Context, part verify.FilePart, w io.Writer) error {
	partCID, err := cid.Decode(part.CID)
	if err != nil {
		return err
	}
	r, err := carfile.Open(c.sources[part.Name])
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()
	content, err := unixfs.Cat(ctx, r.DAG(), partCID)
	if err != nil {
		return err
	}
	defer func() { _ = content.Close() }()
	_, err = io.Copy(w, content)
	return err
}
