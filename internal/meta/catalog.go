package meta

import (
	"context"
	"errors"
)

// Piece states.
const (
	StateOK      = "OK"
	StateDamaged = "DAMAGED"
	StateMissing = "MISSING"
)

// Dataset holds one packed dataset.
type Dataset struct {
	UUID         string
	Name         string
	SpecVersion  string
	NPieces      int
	ManifestPath string
	CreatedAt    string
}

// Piece holds one piece file and its checksums.
type Piece struct {
	PieceCID    string
	PayloadCID  string
	DatasetUUID string
	Path        string
	Size        int64
	Blake3      []byte
	State       string
	CreatedAt   string
	CheckedAt   string
}

// Stats summarizes the catalog.
type Stats struct {
	Datasets int
	Pieces   int
	Bytes    int64
	Damaged  int
	Missing  int
}

// RecordDataset inserts or updates a dataset.
func (s *Store) RecordDataset(ctx context.Context, ds Dataset) error {
	if ds.UUID == "" {
		return errors.New("meta: dataset uuid required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO datasets(uuid, name, spec_version, n_pieces, manifest_path, created_at)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(uuid) DO UPDATE SET
	name=excluded.name,
	spec_version=excluded.spec_version,
	n_pieces=excluded.n_pieces,
	manifest_path=excluded.manifest_path`,
		ds.UUID, ds.Name, ds.SpecVersion, ds.NPieces, ds.ManifestPath, now())
	return err
}

// GetDataset returns dataset metadata.
func (s *Store) GetDataset(ctx context.Context, uuid string) (*Dataset, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT uuid, name, spec_version, n_pieces, COALESCE(manifest_path, ''), created_at
FROM datasets
WHERE uuid=?`, uuid)
	var ds Dataset
	if err := row.Scan(&ds.UUID, &ds.Name, &ds.SpecVersion, &ds.NPieces, &ds.ManifestPath, &ds.CreatedAt); err != nil {
		return nil, err
	}
	return &ds, nil
}

// RecordPiece inserts or updates a piece. Re-packing identical content
// produces the same piece CID and refreshes the row.
func (s *Store) RecordPiece(ctx context.Context, p Piece) error {
	if p.PieceCID == "" || p.Path == "" || p.DatasetUUID == "" {
		return errors.New("meta: piece cid, path and dataset required")
	}
	state := p.State
	if state == "" {
		state = StateOK
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO pieces(piece_cid, payload_cid, dataset_uuid, path, size, blake3, state, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(piece_cid) DO UPDATE SET
	payload_cid=excluded.payload_cid,
	dataset_uuid=excluded.dataset_uuid,
	path=excluded.path,
	size=excluded.size,
	blake3=excluded.blake3,
	state=excluded.state`,
		p.PieceCID, p.PayloadCID, p.DatasetUUID, p.Path, p.Size, p.Blake3, state, now())
	return err
}

const pieceColumns = `piece_cid, payload_cid, dataset_uuid, path, size, blake3, state, created_at, COALESCE(checked_at, '')`

type scanner interface {
	Scan(dest ...any) error
}

func scanPiece(row scanner) (Piece, error) {
	var p Piece
	err := row.Scan(&p.PieceCID, &p.PayloadCID, &p.DatasetUUID, &p.Path, &p.Size, &p.Blake3, &p.State, &p.CreatedAt, &p.CheckedAt)
	return p, err
}

// GetPiece returns piece metadata.
func (s *Store) GetPiece(ctx context.Context, pieceCID string) (*Piece, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pieceColumns+` FROM pieces WHERE piece_cid=?`, pieceCID)
	p, err := scanPiece(row)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPieces returns the pieces of a dataset, or of every dataset when
// datasetUUID is empty, in insertion order.
func (s *Store) ListPieces(ctx context.Context, datasetUUID string) ([]Piece, error) {
	query := `SELECT ` + pieceColumns + ` FROM pieces`
	var args []any
	if datasetUUID != "" {
		query += ` WHERE dataset_uuid=?`
		args = append(args, datasetUUID)
	}
	query += ` ORDER BY rowid`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Piece
	for rows.Next() {
		p, err := scanPiece(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkPiece records the outcome of a check.
func (s *Store) MarkPiece(ctx context.Context, pieceCID, state string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE pieces SET state=?, checked_at=? WHERE piece_cid=?`, state, now(), pieceCID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("meta: piece not found")
	}
	return nil
}

// Stats counts datasets, pieces and bytes.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM datasets`).Scan(&st.Datasets); err != nil {
		return Stats{}, err
	}
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*),
	COALESCE(SUM(size), 0),
	COALESCE(SUM(CASE WHEN state=? THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN state=? THEN 1 ELSE 0 END), 0)
FROM pieces`, StateDamaged, StateMissing).Scan(&st.Pieces, &st.Bytes, &st.Damaged, &st.Missing)
	if err != nil {
		return Stats{}, err
	}
	return st, nil
}
