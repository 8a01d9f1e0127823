// Package manifest models the dataset manifests: one sub-manifest per piece,
// embedded in that piece, and one super-manifest per dataset that merges every
// sub-manifest's contents and indexes the pieces.
package manifest

import (
	"errors"
	"fmt"
	"regexp"
	"slices"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
)

// SupportedVersion is the only manifest specification version produced.
const SupportedVersion = "0.1.0"

var (
	ErrUnsupportedVersion = errors.New("manifest: unsupported spec version")
	ErrInvalidMetadata    = errors.New("manifest: invalid metadata")
)

var majorVersion = regexp.MustCompile(`^([0-9]+)\.`)

// CheckVersion rejects every version other than SupportedVersion.
func CheckVersion(version string) error {
	if version != SupportedVersion {
		return fmt.Errorf("%w: %q (only %s is supported)", ErrUnsupportedVersion, version, SupportedVersion)
	}
	return nil
}

// SpecURL returns the specification document for a version.
func SpecURL(version string) (string, error) {
	m := majorVersion.FindStringSubmatch(version)
	if m == nil {
		return "", fmt.Errorf("%w: invalid spec version %q", ErrUnsupportedVersion, version)
	}
	return "https://raw.githubusercontent.com/fidlabs/data-prep-standard/refs/heads/main/specification/v" +
		m[1] + "/FilecoinDataPreparationManifestSpecification.md", nil
}

// UserMetadata describes the dataset; it is supplied by the caller.
type UserMetadata struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Version     string   `json:"version"`
	License     string   `json:"license"`
	ProjectURL  string   `json:"project_url"`
	OpenWith    string   `json:"open_with"`
	Tags        []string `json:"tags,omitempty"`
}

// Validate checks that every required field is set.
func (m UserMetadata) Validate() error {
	required := []struct{ key, value string }{
		{"name", m.Name},
		{"description", m.Description},
		{"version", m.Version},
		{"license", m.License},
		{"project_url", m.ProjectURL},
		{"open_with", m.OpenWith},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%w: %q is required", ErrInvalidMetadata, r.key)
		}
	}
	return nil
}

// Header is shared by sub- and super-manifests.
type Header struct {
	Spec        string `json:"@spec"`
	SpecVersion string `json:"@spec_version"`
	UserMetadata
	UUID string `json:"uuid"`
}

// SubManifest describes one piece. Contents is nil in lite mode.
type SubManifest struct {
	Header
	Contents Entries `json:"contents,omitempty"`
}

// PieceRef identifies one piece of the dataset.
type PieceRef struct {
	PieceCID   string `json:"piece_cid"`
	PayloadCID string `json:"payload_cid"`
}

// SuperManifest describes the whole dataset.
type SuperManifest struct {
	Header
	NPieces  int        `json:"n_pieces"`
	Pieces   []PieceRef `json:"pieces"`
	Contents Entries    `json:"contents,omitempty"`

	lite    bool
	newUUID func() uuid.UUID
}

// Options configures a new super-manifest.
type Options struct {
	// Lite omits contents from every manifest.
	Lite bool
	// NewUUID generates manifest uuids; defaults to uuid.New.
	NewUUID func() uuid.UUID
}

// New creates an empty super-manifest. Unsupported versions are rejected.
func New(meta UserMetadata, specVersion string, opts Options) (*SuperManifest, error) {
	if err := CheckVersion(specVersion); err != nil {
		return nil, err
	}
	spec, err := SpecURL(specVersion)
	if err != nil {
		return nil, err
	}
	newUUID := opts.NewUUID
	if newUUID == nil {
		newUUID = uuid.New
	}
	return &SuperManifest{
		Header: Header{
			Spec:         spec,
			SpecVersion:  specVersion,
			UserMetadata: meta,
			UUID:         newUUID().String(),
		},
		Pieces:  []PieceRef{},
		lite:    opts.Lite,
		newUUID: newUUID,
	}, nil
}

// Lite reports whether contents are omitted.
func (m *SuperManifest) Lite() bool {
	return m.lite
}

// NewSubManifest returns a sub-manifest carrying the dataset metadata and a
// fresh uuid.
func (m *SuperManifest) NewSubManifest() *SubManifest {
	header := m.Header
	header.Tags = slices.Clone(m.Tags)
	newUUID := m.newUUID
	if newUUID == nil {
		newUUID = uuid.New
	}
	header.UUID = newUUID().String()
	sub := &SubManifest{Header: header}
	if !m.lite {
		sub.Contents = Entries{}
	}
	return sub
}

// AddPiece records a finished piece and merges its contents.
func (m *SuperManifest) AddPiece(sub *SubManifest, pieceCID, payloadCID cid.Cid) error {
	m.NPieces++
	m.Pieces = append(m.Pieces, PieceRef{
		PieceCID:   pieceCID.String(),
		PayloadCID: payloadCID.String(),
	})
	if m.lite {
		return nil
	}
	if m.Contents == nil {
		m.Contents = Entries{}
	}
	return merge(&m.Contents, pieceCID.String(), sub.Contents)
}

// FindPiece returns the piece with the given piece CID.
func (m *SuperManifest) FindPiece(pieceCID string) (PieceRef, bool) {
	for _, p := range m.Pieces {
		if p.PieceCID == pieceCID {
			return p, true
		}
	}
	return PieceRef{}, false
}

func merge(target *Entries, pieceCID string, sources Entries) error {
	for _, source := range sources {
		switch src := source.(type) {
		case *File:
			f := *src
			f.PieceCID = pieceCID
			*target = append(*target, &f)
		case *FilePart:
			split := findSplitFile(*target, src.OriginalFileName)
			if split == nil {
				split = &SplitFile{
					Name:       src.OriginalFileName,
					Hash:       src.OriginalFileHash,
					ByteLength: src.OriginalFileByteLength,
				}
				*target = append(*target, split)
			}
			split.Parts = append(split.Parts, PartRef{
				Name:       src.Name,
				ByteLength: src.ByteLength,
				CID:        src.CID,
				PieceCID:   pieceCID,
			})
		case *Directory:
			dir := findDirectory(*target, src.Name)
			if dir == nil {
				dir = &Directory{Name: src.Name, Contents: Entries{}}
				*target = append(*target, dir)
			}
			if err := merge(&dir.Contents, pieceCID, src.Contents); err != nil {
				return err
			}
		default:
			return fmt.Errorf("manifest: unexpected source type %T", source)
		}
	}
	return nil
}

func findSplitFile(entries Entries, name string) *SplitFile {
	for _, e := range entries {
		if s, ok := e.(*SplitFile); ok && s.Name == name {
			return s
		}
	}
	return nil
}

func findDirectory(entries Entries, name string) *Directory {
	for _, e := range entries {
		if d, ok := e.(*Directory); ok && d.Name == name {
			return d
		}
	}
	return nil
}
