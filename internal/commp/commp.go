// Package commp computes Filecoin piece commitments over a byte stream.
package commp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/filecoin-project/go-fil-commcid"
	commhash "github.com/filecoin-project/go-fil-commp-hashhash"
	"github.com/ipfs/go-cid"
	"github.com/zeebo/blake3"
)

var ErrNoCommitment = errors.New("commp: failed to get commitment")

// Committer is an io.Writer that accumulates a piece commitment.
type Committer struct {
	calc    commhash.Calc
	written uint64
}

// NewCommitter returns an empty committer.
func NewCommitter() *Committer {
	return &Committer{}
}

func (c *Committer) Write(p []byte) (int, error) {
	n, err := c.calc.Write(p)
	c.written += uint64(n)
	return n, err
}

// Commitment returns the piece CID of everything written so far.
func (c *Committer) Commitment() (cid.Cid, error) {
	if c.written == 0 {
		return cid.Undef, ErrNoCommitment
	}
	raw, _, err := c.calc.Digest()
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %v", ErrNoCommitment, err)
	}
	pieceCID, err := commcid.DataCommitmentV1ToCID(raw)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %v", ErrNoCommitment, err)
	}
	return pieceCID, nil
}

// PaddedSize returns the padded piece size of everything written so far.
func (c *Committer) PaddedSize() (uint64, error) {
	_, size, err := c.calc.Digest()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoCommitment, err)
	}
	return size, nil
}

// Commit drains r and returns its piece CID.
func Commit(r io.Reader) (cid.Cid, error) {
	c := NewCommitter()
	if _, err := io.Copy(c, r); err != nil {
		return cid.Undef, err
	}
	return c.Commitment()
}

// CommitFile returns the piece CID of the file at path.
func CommitFile(path string) (cid.Cid, error) {
	f, err := os.Open(path)
	if err != nil {
		return cid.Undef, err
	}
	defer func() { _ = f.Close() }()
	return Commit(bufio.NewReaderSize(f, 1<<20))
}

// Sums are the checksums of a finished piece file.
type Sums struct {
	PieceCID   cid.Cid
	PaddedSize uint64
	Size       int64
	Blake3     []byte
}

// SumFile computes the piece commitment and the BLAKE3 checksum of the file
// at path in a single read.
func SumFile(path string) (Sums, error) {
	f, err := os.Open(path)
	if err != nil {
		return Sums{}, err
	}
	defer func() { _ = f.Close() }()

	c := NewCommitter()
	h := blake3.New()
	n, err := io.Copy(io.MultiWriter(c, h), bufio.NewReaderSize(f, 1<<20))
	if err != nil {
		return Sums{}, err
	}
	pieceCID, err := c.Commitment()
	if err != nil {
		return Sums{}, err
	}
	padded, err := c.PaddedSize()
	if err != nil {
		return Sums{}, err
	}
	return Sums{PieceCID: pieceCID, PaddedSize: padded, Size: n, Blake3: h.Sum(nil)}, nil
}
