// Package batch partitions an ordered set of input files into batches that
// each fit a byte budget, splitting files that do not fit into ordered parts.
package batch

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/kk-code-lab/carpack/internal/storage/chunk"
	"github.com/kk-code-lab/carpack/internal/storage/fs"
)

// SplitThresholdPercent is the share of the budget above which a file that
// would straddle a batch boundary starts a fresh batch instead.
const SplitThresholdPercent = 50

var (
	// ErrInvalidBudget is returned for budgets smaller than one byte.
	ErrInvalidBudget = errors.New("batch: target size must be at least 1 byte")
	// ErrTooLarge is returned when splitting is disabled and a file exceeds the budget.
	ErrTooLarge = errors.New("batch: file too large to fit")
)

// Original records the provenance of a split file part.
type Original struct {
	Name string
	Hash string
	Size uint64
}

// File is one input file, or one part of a split input file.
type File struct {
	Name   string
	Size   uint64
	Source Source
	// Offset is the start of this file's bytes within Source.
	Offset uint64
	// Original is set for split parts only.
	Original *Original
}

// Span returns the byte range of Source that holds this file.
func (f File) Span() chunk.Span {
	return chunk.Span{Offset: int64(f.Offset), Len: int64(f.Size)}
}

// Open returns a single-pass stream over the file's bytes.
func (f File) Open() (io.ReadCloser, error) {
	span := f.Span()
	return f.Source.OpenRange(span.Offset, span.Len)
}

// IsPart reports whether the file is a part of a split file.
func (f File) IsPart() bool {
	return f.Original != nil
}

// Batch is an ordered group of files whose sizes sum to at most the budget.
type Batch []File

// Size returns the sum of file sizes in the batch.
func (b Batch) Size() uint64 {
	var n uint64
	for _, f := range b {
		n += f.Size
	}
	return n
}

// Options tunes batching.
type Options struct {
	// NoSplit rejects files larger than the budget instead of splitting them;
	// files that do not fit the current batch start a new one.
	NoSplit bool
}

type splitState struct {
	file      File
	original  Original
	remaining uint64
	offset    uint64
	index     int
	width     int
}

// Batcher yields batches lazily. It is not restartable: construct a new
// Batcher over the same files to iterate again.
type Batcher struct {
	files  []File
	budget uint64
	opts   Options

	next     int
	cur      Batch
	bytes    uint64
	split    *splitState
	finished bool
}

// New creates a Batcher over files with the given byte budget.
func New(files []File, budget uint64, opts Options) (*Batcher, error) {
	if budget < 1 {
		return nil, ErrInvalidBudget
	}
	return &Batcher{files: files, budget: budget, opts: opts}, nil
}

// Next returns the next batch. ok is false once every batch was returned.
// The final batch is always returned and may be empty when there were no files.
func (b *Batcher) Next() (batch Batch, ok bool, err error) {
	for {
		if b.split != nil {
			if out, sealed := b.emitPart(); sealed {
				return out, true, nil
			}
			continue
		}
		if b.next == len(b.files) {
			if b.finished {
				return nil, false, nil
			}
			b.finished = true
			return b.seal(), true, nil
		}
		f := b.files[b.next]
		b.next++

		if b.opts.NoSplit {
			if f.Size > b.budget {
				return nil, false, fmt.Errorf("%w: %s is %d bytes, budget is %d", ErrTooLarge, f.Name, f.Size, b.budget)
			}
			if b.bytes+f.Size > b.budget {
				b.next--
				return b.seal(), true, nil
			}
			b.append(f)
			continue
		}

		rem := f.Size % b.budget
		if rem == 0 {
			rem = b.budget
		}
		if b.bytes == b.budget || (f.Size > b.budget/2 && rem > b.budget-b.bytes) {
			// Not much room left, start a new batch with this file.
			b.next--
			return b.seal(), true, nil
		}
		if b.bytes+f.Size <= b.budget {
			b.append(f)
			continue
		}
		if err := b.startSplit(f); err != nil {
			return nil, false, err
		}
	}
}

func (b *Batcher) append(f File) {
	b.cur = append(b.cur, f)
	b.bytes += f.Size
}

func (b *Batcher) seal() Batch {
	out := b.cur
	b.cur = nil
	b.bytes = 0
	return out
}

// startSplit hashes the whole file, then prepares to emit it part by part.
func (b *Batcher) startSplit(f File) error {
	hash, err := hashFile(f)
	if err != nil {
		return err
	}
	room := b.budget - b.bytes
	parts := 1 + (f.Size-room+b.budget-1)/b.budget
	b.split = &splitState{
		file:      f,
		original:  Original{Name: f.Name, Hash: hash, Size: f.Size},
		remaining: f.Size,
		offset:    f.Offset,
		width:     len(strconv.FormatUint(parts-1, 10)),
	}
	return nil
}

// emitPart appends the next part and reports whether a full batch was sealed.
func (b *Batcher) emitPart() (Batch, bool) {
	s := b.split
	size := min(b.budget-b.bytes, s.remaining)
	original := s.original
	b.append(File{
		Name:     fs.PartName(s.file.Name, s.index, s.width),
		Size:     size,
		Source:   s.file.Source,
		Offset:   s.offset,
		Original: &original,
	})
	s.offset += size
	s.remaining -= size
	s.index++
	if s.remaining == 0 {
		b.split = nil
		return nil, false
	}
	if b.bytes == b.budget {
		return b.seal(), true
	}
	return nil, false
}

func hashFile(f File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer func() { _ = rc.Close() }()
	h := sha256.New()
	n, err := io.Copy(h, rc)
	if err != nil {
		return "", err
	}
	if uint64(n) != f.Size {
		return "", fmt.Errorf("batch: %s changed while hashing: read %d bytes, expected %d", f.Name, n, f.Size)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
