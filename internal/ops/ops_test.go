package ops

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/kk-code-lab/carpack/internal/commp"
	"github.com/kk-code-lab/carpack/internal/meta"
)

func seedCatalog(t *testing.T, dir string, n int) (*meta.Store, []string) {
	t.Helper()
	ctx := context.Background()
	store, err := meta.Open(filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatalf("meta.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.RecordDataset(ctx, meta.Dataset{UUID: "d1", Name: "test", SpecVersion: "0.1.0", NPieces: n}); err != nil {
		t.Fatalf("RecordDataset: %v", err)
	}
	var paths []string
	for i := 0; i < n; i++ {
		data := make([]byte, 200+i)
		for j := range data {
			data[j] = byte(i + j)
		}
		path := filepath.Join(dir, "piece-"+string(rune('a'+i))+".car")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		sums, err := commp.SumFile(path)
		if err != nil {
			t.Fatalf("SumFile: %v", err)
		}
		if err := store.RecordPiece(ctx, meta.Piece{
			PieceCID:    sums.PieceCID.String(),
			PayloadCID:  "root",
			DatasetUUID: "d1",
			Path:        path,
			Size:        sums.Size,
			Blake3:      sums.Blake3,
		}); err != nil {
			t.Fatalf("RecordPiece: %v", err)
		}
		paths = append(paths, path)
	}
	return store, paths
}

func TestStatus(t *testing.T) {
	store, _ := seedCatalog(t, t.TempDir(), 2)
	report, err := Status(context.Background(), store)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if report.Datasets != 1 || report.Pieces != 2 || report.Bytes != 401 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if _, err := Status(context.Background(), nil); err == nil {
		t.Fatalf("expected error without catalog")
	}
}

func TestScrubHealthyPieces(t *testing.T) {
	store, _ := seedCatalog(t, t.TempDir(), 3)
	report, err := Scrub(context.Background(), store, nil)
	if err != nil {
		t.Fatalf("Scrub: %v", err)
	}
	if report.Errors != 0 || report.Checked != 3 || report.Damaged != 0 || report.Missing != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestScrubReportsDamagedAndMissing(t *testing.T) {
	ctx := context.Background()
	store, paths := seedCatalog(t, t.TempDir(), 3)

	data, err := os.ReadFile(paths[0])
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	data[10] ^= 0xff
	if err := os.WriteFile(paths[0], data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.Remove(paths[1]); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	report, err := Scrub(ctx, store, nil)
	if err != nil {
		t.Fatalf("Scrub: %v", err)
	}
	if report.Checked != 3 || report.Damaged != 1 || report.Missing != 1 || report.Errors != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(report.ErrorSample) != 2 {
		t.Fatalf("expected error samples: %+v", report.ErrorSample)
	}

	st, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Damaged != 1 || st.Missing != 1 {
		t.Fatalf("states not recorded: %+v", st)
	}
}

func TestSnapshot(t *testing.T) {
	dir := t.TempDir()
	store, _ := seedCatalog(t, dir, 1)
	out := filepath.Join(dir, "snap")
	report, err := Snapshot(context.Background(), store, filepath.Join(dir, "catalog.db"), out)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if report.Mode != "snapshot" || report.Pieces != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if _, err := os.Stat(filepath.Join(out, "catalog.db")); err != nil {
		t.Fatalf("catalog not copied: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(out, "snapshot.json"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var decoded Report
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Pieces != 1 {
		t.Fatalf("unexpected snapshot report: %+v", decoded)
	}
}
