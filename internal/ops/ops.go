// Package ops runs maintenance over the piece catalog.
package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/kk-code-lab/carpack/internal/commp"
	"github.com/kk-code-lab/carpack/internal/meta"
)

const errorSampleSize = 5

// Report summarizes an ops run.
type Report struct {
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Mode        string    `json:"mode"`
	Datasets    int       `json:"datasets"`
	Pieces      int       `json:"pieces"`
	Bytes       int64     `json:"bytes"`
	Checked     int       `json:"checked,omitempty"`
	Damaged     int       `json:"damaged,omitempty"`
	Missing     int       `json:"missing,omitempty"`
	Errors      int       `json:"errors"`
	ErrorSample []string  `json:"error_sample,omitempty"`
}

func (r *Report) addError(err error) {
	r.Errors++
	if len(r.ErrorSample) < errorSampleSize {
		r.ErrorSample = append(r.ErrorSample, err.Error())
	}
}

// Status collects counts from the catalog.
func Status(ctx context.Context, store *meta.Store) (*Report, error) {
	if store == nil {
		return nil, errors.New("ops: catalog required")
	}
	report := &Report{Mode: "status", StartedAt: time.Now().UTC()}
	st, err := store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	report.Datasets = st.Datasets
	report.Pieces = st.Pieces
	report.Bytes = st.Bytes
	report.Damaged = st.Damaged
	report.Missing = st.Missing
	report.FinishedAt = time.Now().UTC()
	return report, nil
}

// Scrub re-reads every catalogued piece, recomputes its checksum and piece
// commitment and records the outcome. Failures are counted, not returned.
func Scrub(ctx context.Context, store *meta.Store, logger *zap.Logger) (*Report, error) {
	if store == nil {
		return nil, errors.New("ops: catalog required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	report := &Report{Mode: "scrub", StartedAt: time.Now().UTC()}
	pieces, err := store.ListPieces(ctx, "")
	if err != nil {
		return nil, err
	}
	report.Pieces = len(pieces)

	for _, p := range pieces {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		state := meta.StateOK
		sums, err := commp.SumFile(p.Path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			state = meta.StateMissing
			report.Missing++
			report.addError(fmt.Errorf("missing piece %s at %s", p.PieceCID, p.Path))
		case err != nil:
			state = meta.StateDamaged
			report.Damaged++
			report.addError(fmt.Errorf("piece %s: %w", p.PieceCID, err))
		case !bytes.Equal(sums.Blake3, p.Blake3):
			state = meta.StateDamaged
			report.Damaged++
			report.addError(fmt.Errorf("checksum mismatch piece=%s", p.PieceCID))
		case sums.PieceCID.String() != p.PieceCID:
			state = meta.StateDamaged
			report.Damaged++
			report.addError(fmt.Errorf("piece cid mismatch piece=%s got=%s", p.PieceCID, sums.PieceCID))
		default:
			report.Bytes += sums.Size
		}
		report.Checked++
		if state != meta.StateOK {
			logger.Warn("scrub: piece failed", zap.String("piece_cid", p.PieceCID), zap.String("state", state))
		}
		if err := store.MarkPiece(ctx, p.PieceCID, state); err != nil {
			report.addError(err)
		}
	}
	report.FinishedAt = time.Now().UTC()
	return report, nil
}

// Snapshot copies the catalog files and writes a status report next to them.
func Snapshot(ctx context.Context, store *meta.Store, catalogPath, outDir string) (*Report, error) {
	if outDir == "" {
		return nil, errors.New("ops: snapshot output dir required")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	if err := store.Flush(); err != nil {
		return nil, err
	}
	report, err := Status(ctx, store)
	if err != nil {
		return nil, err
	}
	report.Mode = "snapshot"
	base := filepath.Base(catalogPath)
	if err := copyFile(catalogPath, filepath.Join(outDir, base)); err != nil {
		return nil, err
	}
	_ = copyFile(catalogPath+"-wal", filepath.Join(outDir, base+"-wal"))
	_ = copyFile(catalogPath+"-shm", filepath.Join(outDir, base+"-shm"))
	if err := writeJSON(filepath.Join(outDir, "snapshot.json"), report); err != nil {
		return nil, err
	}
	return report, nil
}

func writeJSON(path string, v any) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
