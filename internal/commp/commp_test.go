package commp

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/zeebo/blake3"
)

func payload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i * 7)
	}
	return data
}

func TestCommitmentIsDeterministic(t *testing.T) {
	data := payload(4096)
	a, err := Commit(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	c := NewCommitter()
	for off := 0; off < len(data); off += 100 {
		end := min(off+100, len(data))
		if _, err := c.Write(data[off:end]); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	b, err := c.Commitment()
	if err != nil {
		t.Fatalf("Commitment: %v", err)
	}
	if !a.Equals(b) {
		t.Fatalf("chunked writes changed commitment: %s != %s", a, b)
	}
	if a.Prefix().Codec != cid.FilCommitmentUnsealed {
		t.Fatalf("unexpected codec %x", a.Prefix().Codec)
	}
	size, err := c.PaddedSize()
	if err != nil {
		t.Fatalf("PaddedSize: %v", err)
	}
	if size != 8192 {
		t.Fatalf("PaddedSize=%d", size)
	}
}

func TestCommitmentDiffersOnContent(t *testing.T) {
	data := payload(1000)
	a, err := Commit(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	data[500] ^= 1
	b, err := Commit(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if a.Equals(b) {
		t.Fatalf("expected different commitments")
	}
}

func TestCommitmentWithoutInput(t *testing.T) {
	if _, err := NewCommitter().Commitment(); !errors.Is(err, ErrNoCommitment) {
		t.Fatalf("expected ErrNoCommitment, got %v", err)
	}
	if _, err := Commit(bytes.NewReader(payload(10))); !errors.Is(err, ErrNoCommitment) {
		t.Fatalf("expected ErrNoCommitment for short payload, got %v", err)
	}
}

func TestCommitFile(t *testing.T) {
	data := payload(2000)
	path := filepath.Join(t.TempDir(), "piece.car")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	a, err := CommitFile(path)
	if err != nil {
		t.Fatalf("CommitFile: %v", err)
	}
	b, err := Commit(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !a.Equals(b) {
		t.Fatalf("CommitFile=%s Commit=%s", a, b)
	}
	if _, err := CommitFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestSumFile(t *testing.T) {
	data := payload(3000)
	path := filepath.Join(t.TempDir(), "piece.car")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	sums, err := SumFile(path)
	if err != nil {
		t.Fatalf("SumFile: %v", err)
	}
	want, err := Commit(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !sums.PieceCID.Equals(want) {
		t.Fatalf("PieceCID=%s want %s", sums.PieceCID, want)
	}
	digest := blake3.Sum256(data)
	if !bytes.Equal(sums.Blake3, digest[:]) {
		t.Fatalf("blake3 mismatch")
	}
	if sums.Size != 3000 || sums.PaddedSize != 4096 {
		t.Fatalf("Size=%d PaddedSize=%d", sums.Size, sums.PaddedSize)
	}
}
