package meta

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	if err := store.RecordDataset(ctx, Dataset{UUID: "d1", Name: "n", SpecVersion: "0.1.0"}); err != nil {
		t.Fatalf("RecordDataset: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	store, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	ds, err := store.GetDataset(ctx, "d1")
	if err != nil {
		t.Fatalf("GetDataset: %v", err)
	}
	if ds.Name != "n" || ds.CreatedAt == "" {
		t.Fatalf("unexpected dataset: %+v", ds)
	}
}

func TestRecordAndListPieces(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	for _, id := range []string{"d1", "d2"} {
		if err := store.RecordDataset(ctx, Dataset{UUID: id, Name: id, SpecVersion: "0.1.0", NPieces: 1}); err != nil {
			t.Fatalf("RecordDataset: %v", err)
		}
	}
	pieces := []Piece{
		{PieceCID: "p1", PayloadCID: "r1", DatasetUUID: "d1", Path: "/x/1.car", Size: 100, Blake3: []byte{1}},
		{PieceCID: "p2", PayloadCID: "r2", DatasetUUID: "d1", Path: "/x/2.car", Size: 50, Blake3: []byte{2}},
		{PieceCID: "p3", PayloadCID: "r3", DatasetUUID: "d2", Path: "/y/3.car", Size: 7, Blake3: []byte{3}},
	}
	for _, p := range pieces {
		if err := store.RecordPiece(ctx, p); err != nil {
			t.Fatalf("RecordPiece: %v", err)
		}
	}
	if err := store.RecordPiece(ctx, Piece{PieceCID: "p4", Path: "/z"}); err == nil {
		t.Fatalf("expected error without dataset")
	}

	got, err := store.ListPieces(ctx, "d1")
	if err != nil {
		t.Fatalf("ListPieces: %v", err)
	}
	if len(got) != 2 || got[0].PieceCID != "p1" || got[1].PieceCID != "p2" {
		t.Fatalf("unexpected pieces: %+v", got)
	}
	all, err := store.ListPieces(ctx, "")
	if err != nil {
		t.Fatalf("ListPieces: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 pieces, got %d", len(all))
	}

	p, err := store.GetPiece(ctx, "p2")
	if err != nil {
		t.Fatalf("GetPiece: %v", err)
	}
	if p.State != StateOK || p.Size != 50 || p.Blake3[0] != 2 {
		t.Fatalf("unexpected piece: %+v", p)
	}
	if _, err := store.GetPiece(ctx, "nope"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestMarkPieceAndStats(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	if err := store.RecordDataset(ctx, Dataset{UUID: "d1", Name: "n", SpecVersion: "0.1.0"}); err != nil {
		t.Fatalf("RecordDataset: %v", err)
	}
	for _, p := range []Piece{
		{PieceCID: "p1", DatasetUUID: "d1", Path: "a", Size: 10, Blake3: []byte{1}},
		{PieceCID: "p2", DatasetUUID: "d1", Path: "b", Size: 20, Blake3: []byte{2}},
	} {
		if err := store.RecordPiece(ctx, p); err != nil {
			t.Fatalf("RecordPiece: %v", err)
		}
	}
	if err := store.MarkPiece(ctx, "p2", StateDamaged); err != nil {
		t.Fatalf("MarkPiece: %v", err)
	}
	if err := store.MarkPiece(ctx, "nope", StateDamaged); err == nil {
		t.Fatalf("expected error for unknown piece")
	}
	p, err := store.GetPiece(ctx, "p2")
	if err != nil {
		t.Fatalf("GetPiece: %v", err)
	}
	if p.State != StateDamaged || p.CheckedAt == "" {
		t.Fatalf("piece not marked: %+v", p)
	}
	st, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Datasets != 1 || st.Pieces != 2 || st.Bytes != 30 || st.Damaged != 1 || st.Missing != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if err := store.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}
