package batch

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

func memFile(name string, data []byte) File {
	return File{Name: name, Size: uint64(len(data)), Source: BytesSource(data)}
}

func collect(t *testing.T, files []File, budget uint64, opts Options) []Batch {
	t.Helper()
	b, err := New(files, budget, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var out []Batch
	for {
		batch, ok, err := b.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			return out
		}
		out = append(out, batch)
	}
}

func names(b Batch) []string {
	var out []string
	for _, f := range b {
		out = append(out, f.Name)
	}
	return out
}

func TestSmallFilesShareOneBatch(t *testing.T) {
	files := []File{
		memFile("file1.txt", []byte("Hello World")),
		memFile("file2.txt", []byte("Another file")),
	}
	batches := collect(t, files, 1<<20, Options{})
	if len(batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(batches))
	}
	if got := names(batches[0]); len(got) != 2 || got[0] != "file1.txt" || got[1] != "file2.txt" {
		t.Fatalf("unexpected batch: %v", got)
	}
}

func TestSplitAcrossSmallBudget(t *testing.T) {
	one := []byte("Hello World")
	two := []byte("Another file")
	batches := collect(t, []File{memFile("file1.txt", one), memFile("file2.txt", two)}, 10, Options{})

	want := [][]string{
		{"file1.txt.part.0"},
		{"file1.txt.part.1", "file2.txt.part.0"},
		{"file2.txt.part.1"},
	}
	if len(batches) != len(want) {
		t.Fatalf("expected %d batches, got %d", len(want), len(batches))
	}
	for i := range want {
		got := names(batches[i])
		if fmt.Sprint(got) != fmt.Sprint(want[i]) {
			t.Fatalf("batch %d: got %v want %v", i, got, want[i])
		}
		if batches[i].Size() > 10 {
			t.Fatalf("batch %d over budget: %d", i, batches[i].Size())
		}
	}

	sum := sha256.Sum256(one)
	var rebuilt []byte
	var total uint64
	for _, b := range batches {
		for _, f := range b {
			if f.Original == nil {
				t.Fatalf("%s: missing provenance", f.Name)
			}
			if f.Original.Name != "file1.txt" {
				continue
			}
			if f.Original.Hash != hex.EncodeToString(sum[:]) || f.Original.Size != 11 {
				t.Fatalf("%s: bad provenance %+v", f.Name, f.Original)
			}
			total += f.Size
			rc, err := f.Open()
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			data, _ := io.ReadAll(rc)
			_ = rc.Close()
			rebuilt = append(rebuilt, data...)
		}
	}
	if total != 11 || !bytes.Equal(rebuilt, one) {
		t.Fatalf("parts do not rebuild file1: %q (%d)", rebuilt, total)
	}
}

func TestNoSplitRejectsOversizedFile(t *testing.T) {
	b, err := New([]File{memFile("file1.txt", []byte("Hello World"))}, 10, Options{NoSplit: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, _, err := b.Next(); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestNoSplitStartsNewBatch(t *testing.T) {
	files := []File{
		memFile("a", make([]byte, 6)),
		memFile("b", make([]byte, 6)),
		memFile("c", make([]byte, 4)),
	}
	batches := collect(t, files, 10, Options{NoSplit: true})
	if len(batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(batches))
	}
	if fmt.Sprint(names(batches[1])) != "[b c]" {
		t.Fatalf("unexpected second batch: %v", names(batches[1]))
	}
}

func TestExactBudgetFileIsNotSplit(t *testing.T) {
	files := []File{
		memFile("small", make([]byte, 3)),
		memFile("exact", make([]byte, 10)),
	}
	batches := collect(t, files, 10, Options{})
	if len(batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(batches))
	}
	if got := names(batches[1]); len(got) != 1 || got[0] != "exact" {
		t.Fatalf("exact-size file was split: %v", got)
	}
}

func TestLargeFileStartsFreshBatch(t *testing.T) {
	files := []File{
		memFile("small", make([]byte, 8)),
		memFile("large", make([]byte, 16)),
	}
	batches := collect(t, files, 10, Options{})
	want := []string{"[small]", "[large.part.0]", "[large.part.1]"}
	if len(batches) != len(want) {
		t.Fatalf("expected %d batches, got %d: %v", len(want), len(batches), batches)
	}
	for i := range want {
		if fmt.Sprint(names(batches[i])) != want[i] {
			t.Fatalf("batch %d: got %v want %s", i, names(batches[i]), want[i])
		}
	}
}

func TestPartIndexWidth(t *testing.T) {
	batches := collect(t, []File{memFile("big", make([]byte, 25))}, 2, Options{})
	if len(batches) != 13 {
		t.Fatalf("expected 13 batches, got %d", len(batches))
	}
	if got := batches[0][0].Name; got != "big.part.00" {
		t.Fatalf("first part: %s", got)
	}
	if got := batches[12][0].Name; got != "big.part.12" {
		t.Fatalf("last part: %s", got)
	}
}

func TestEmptyInputYieldsEmptyBatch(t *testing.T) {
	batches := collect(t, nil, 10, Options{})
	if len(batches) != 1 || len(batches[0]) != 0 {
		t.Fatalf("expected one empty batch, got %v", batches)
	}
}

func TestInvalidBudget(t *testing.T) {
	if _, err := New(nil, 0, Options{}); !errors.Is(err, ErrInvalidBudget) {
		t.Fatalf("expected ErrInvalidBudget, got %v", err)
	}
}

func TestSizeAccountingProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for iter := 0; iter < 200; iter++ {
		budget := uint64(rng.Intn(64) + 1)
		var files []File
		var want uint64
		n := rng.Intn(8)
		for i := 0; i < n; i++ {
			data := make([]byte, rng.Intn(150))
			files = append(files, memFile(fmt.Sprintf("f%d", i), data))
			want += uint64(len(data))
		}
		var got uint64
		for _, b := range collect(t, files, budget, Options{}) {
			if b.Size() > budget {
				t.Fatalf("budget %d: batch over budget: %d", budget, b.Size())
			}
			for _, f := range b {
				if f.IsPart() && f.Size == 0 {
					t.Fatalf("budget %d: zero-byte part %s", budget, f.Name)
				}
			}
			got += b.Size()
		}
		if got != want {
			t.Fatalf("budget %d: sum of batches %d != sum of inputs %d", budget, got, want)
		}
	}
}

func TestListSkipsHidden(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "data")
	for _, p := range []string{"a.txt", "sub/b.txt", ".hidden/c.txt", "sub/.d.txt"} {
		full := filepath.Join(root, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(full, []byte(p), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	files, err := List([]string{root}, ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if fmt.Sprint(fileNames(files)) != "[data/a.txt data/sub/b.txt]" {
		t.Fatalf("unexpected files: %v", fileNames(files))
	}

	files, err = List([]string{root}, ListOptions{Hidden: true})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 4 {
		t.Fatalf("expected 4 files with hidden, got %v", fileNames(files))
	}
	rc, err := files[0].Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = rc.Close() }()
	data, _ := io.ReadAll(rc)
	if uint64(len(data)) != files[0].Size {
		t.Fatalf("size mismatch for %s", files[0].Name)
	}
}

func TestListMissingPath(t *testing.T) {
	if _, err := List([]string{filepath.Join(t.TempDir(), "nope")}, ListOptions{}); err == nil {
		t.Fatalf("expected error for missing path")
	}
}

func fileNames(files []File) []string {
	var out []string
	for _, f := range files {
		out = append(out, f.Name)
	}
	return out
}
