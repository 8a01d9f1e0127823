// Package verify checks unpacked pieces against their sub-manifests and a set
// of pieces against the dataset's super-manifest.
package verify

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/ipfs/go-cid"

	"github.com/kk-code-lab/carpack/internal/storage/manifest"
)

// ErrIntegrity is wrapped by every verification failure.
var ErrIntegrity = errors.New("verify: integrity check failed")

func failf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrIntegrity}, args...)...)
}

// FileInfo describes a file as found in a piece.
type FileInfo struct {
	Hash       string
	CID        string
	ByteLength uint64
}

// FilePart is a verified part of a split file. Names are paths relative to
// the dataset root.
type FilePart struct {
	Name                   string
	ByteLength             uint64
	CID                    string
	OriginalFileName       string
	OriginalFileHash       string
	OriginalFileByteLength uint64
}

// Joined describes a split file after its parts were concatenated.
type Joined struct {
	Hash       string
	ByteLength uint64
}

// PieceVerifier collects what was found in one piece and compares it with
// the piece's sub-manifest.
type PieceVerifier struct {
	file  string
	super *manifest.SuperManifest
	files map[string]FileInfo
	dirs  map[string]struct{}
}

// AddFile records a file found at p.
func (v *PieceVerifier) AddFile(p string, info FileInfo) {
	v.files[p] = info
}

// AddDirectory records a directory found at p.
func (v *PieceVerifier) AddDirectory(p string) {
	v.dirs[p] = struct{}{}
}

// metadataKeys are compared between a sub-manifest and the super-manifest.
// uuid is generated per manifest and never matches.
var metadataKeys = []struct {
	key string
	get func(manifest.Header) string
}{
	{"@spec_version", func(h manifest.Header) string { return h.SpecVersion }},
	{"@spec", func(h manifest.Header) string { return h.Spec }},
	{"name", func(h manifest.Header) string { return h.Name }},
	{"description", func(h manifest.Header) string { return h.Description }},
	{"version", func(h manifest.Header) string { return h.Version }},
	{"license", func(h manifest.Header) string { return h.License }},
	{"project_url", func(h manifest.Header) string { return h.ProjectURL }},
	{"open_with", func(h manifest.Header) string { return h.OpenWith }},
}

// Verify checks that every manifest entry was found with matching size, hash
// and CID, and that nothing else was found. It returns the piece's file parts
// for rejoining. Lite manifests skip the content check.
func (v *PieceVerifier) Verify(sub *manifest.SubManifest) ([]FilePart, error) {
	if sub == nil {
		return nil, failf("sub manifest not found in CAR %q", v.file)
	}
	if v.super != nil {
		for _, k := range metadataKeys {
			want, got := k.get(v.super.Header), k.get(sub.Header)
			if want != got {
				return nil, failf("manifest %q check failed for CAR %q, expected %q, got %q", k.key, v.file, want, got)
			}
		}
	}
	if sub.Contents == nil {
		return nil, nil
	}

	var parts []FilePart
	if err := v.check("", sub.Contents, &parts); err != nil {
		return nil, err
	}
	if len(v.files) > 0 {
		return nil, failf("unpacked files that are not in the sub manifest: %s", keys(v.files))
	}
	delete(v.dirs, ".")
	if len(v.dirs) > 0 {
		return nil, failf("unpacked directories that are not in the sub manifest: %s", keys(v.dirs))
	}
	return parts, nil
}

func (v *PieceVerifier) check(dir string, entries manifest.Entries, parts *[]FilePart) error {
	for _, entry := range entries {
		p := path.Join(dir, entry.EntryName())
		switch e := entry.(type) {
		case *manifest.File:
			actual, ok := v.files[p]
			if !ok {
				return failf("file %q in sub manifest but not found in CAR %q", p, v.file)
			}
			if actual.ByteLength != e.ByteLength {
				return failf("file %q has size %d but sub manifest size is %d", p, actual.ByteLength, e.ByteLength)
			}
			if actual.Hash != e.Hash {
				return failf("file %q has hash %s but sub manifest hash is %s", p, actual.Hash, e.Hash)
			}
			if actual.CID != e.CID {
				return failf("file %q has CID %s but sub manifest CID is %s", p, actual.CID, e.CID)
			}
			delete(v.files, p)
		case *manifest.FilePart:
			actual, ok := v.files[p]
			if !ok {
				return failf("file part %q in sub manifest but not found in CAR %q", p, v.file)
			}
			if actual.ByteLength != e.ByteLength {
				return failf("file part %q has size %d but sub manifest size is %d", p, actual.ByteLength, e.ByteLength)
			}
			if actual.CID != e.CID {
				return failf("file part %q has CID %s but sub manifest CID is %s", p, actual.CID, e.CID)
			}
			*parts = append(*parts, FilePart{
				Name:                   p,
				ByteLength:             e.ByteLength,
				CID:                    e.CID,
				OriginalFileName:       path.Join(dir, e.OriginalFileName),
				OriginalFileHash:       e.OriginalFileHash,
				OriginalFileByteLength: e.OriginalFileByteLength,
			})
			delete(v.files, p)
		case *manifest.Directory:
			if _, ok := v.dirs[p]; !ok {
				return failf("directory %q in sub manifest but not found in CAR %q", p, v.file)
			}
			if err := v.check(p, e.Contents, parts); err != nil {
				return err
			}
			delete(v.dirs, p)
		default:
			return fmt.Errorf("verify: unexpected entry type %T in sub manifest", entry)
		}
	}
	return nil
}

// Verifier tracks the pieces of one dataset.
type Verifier struct {
	super  *manifest.SuperManifest
	pieces map[string]struct{}
}

// New creates a verifier. super may be nil, in which case only per-piece
// checks are possible.
func New(super *manifest.SuperManifest) *Verifier {
	return &Verifier{super: super, pieces: make(map[string]struct{})}
}

// ExpectPieces fails early when the number of supplied pieces cannot match
// the super-manifest.
func (v *Verifier) ExpectPieces(n int) error {
	if v.super != nil && v.super.NPieces != n {
		return failf("wrong number of CARs (pieces) %d provided, expected %d", n, v.super.NPieces)
	}
	return nil
}

// NewPieceVerifier registers a piece and returns its verifier. Pieces may be
// registered once; with a super-manifest they must be listed in it.
func (v *Verifier) NewPieceVerifier(file string, payloadCID, pieceCID cid.Cid) (*PieceVerifier, error) {
	key := pieceCID.String()
	if _, dup := v.pieces[key]; dup {
		return nil, failf("piece CID (CommP) %s already processed, only provide unique pieces", key)
	}
	if v.super != nil {
		ref, ok := v.super.FindPiece(key)
		if !ok {
			return nil, failf("piece CID (CommP) %s of %q does not match any piece in the super manifest", key, file)
		}
		if ref.PayloadCID != payloadCID.String() {
			return nil, failf("payload CID %s of %q does not match the super manifest piece %s (payload %s)",
				payloadCID, file, ref.PieceCID, ref.PayloadCID)
		}
	}
	v.pieces[key] = struct{}{}
	return &PieceVerifier{
		file:  file,
		super: v.super,
		files: make(map[string]FileInfo),
		dirs:  make(map[string]struct{}),
	}, nil
}

// VerifyPieces checks the piece count and that every split file of the
// super-manifest was joined with the declared hash and size, and nothing else.
// joined is keyed by path relative to the dataset root.
func (v *Verifier) VerifyPieces(joined map[string]Joined) error {
	if v.super == nil {
		return nil
	}
	if v.super.NPieces != len(v.pieces) {
		return failf("wrong number of CARs (pieces) %d provided, expected %d", len(v.pieces), v.super.NPieces)
	}
	if v.super.Contents == nil {
		return nil
	}
	remaining := make(map[string]Joined, len(joined))
	for k, j := range joined {
		remaining[k] = j
	}
	if err := checkSplit("", v.super.Contents, remaining); err != nil {
		return err
	}
	if len(remaining) > 0 {
		return failf("unpacked split files that are not in the super manifest: %s", keys(remaining))
	}
	return nil
}

func checkSplit(dir string, entries manifest.Entries, joined map[string]Joined) error {
	for _, entry := range entries {
		p := path.Join(dir, entry.EntryName())
		switch e := entry.(type) {
		case *manifest.SplitFile:
			actual, ok := joined[p]
			if !ok {
				return failf("split file %q in super manifest but not found in any CAR", p)
			}
			if actual.ByteLength != e.ByteLength {
				return failf("split file %q has size %d but super manifest size is %d", p, actual.ByteLength, e.ByteLength)
			}
			if actual.Hash != e.Hash {
				return failf("split file %q has hash %s but super manifest hash is %s", p, actual.Hash, e.Hash)
			}
			delete(joined, p)
		case *manifest.Directory:
			if err := checkSplit(p, e.Contents, joined); err != nil {
				return err
			}
		case *manifest.File:
		default:
			return fmt.Errorf("verify: unexpected entry type %T in super manifest", entry)
		}
	}
	return nil
}

func keys[V any](m map[string]V) string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}
