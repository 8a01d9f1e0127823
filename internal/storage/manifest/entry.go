package manifest

import (
	"encoding/json"
	"fmt"
)

// Entry type tags as they appear in "@type".
const (
	TypeFile      = "file"
	TypeFilePart  = "file-part"
	TypeDirectory = "directory"
	TypeSplitFile = "split-file"
)

// Entry is one node of a manifest contents tree: *File, *FilePart,
// *Directory or *SplitFile. Consumers switch over all four and treat
// anything else as a programming error.
type Entry interface {
	EntryType() string
	EntryName() string
}

// File is a whole file. PieceCID is only set in super-manifests.
type File struct {
	Name       string `json:"name"`
	Hash       string `json:"hash"`
	ByteLength uint64 `json:"byte_length"`
	CID        string `json:"cid"`
	PieceCID   string `json:"piece_cid,omitempty"`
	MediaType  string `json:"media_type,omitempty"`
}

// FilePart is one part of a split file, as recorded in a sub-manifest.
// OriginalFileName is relative to the directory holding the part.
type FilePart struct {
	Name                   string `json:"name"`
	ByteLength             uint64 `json:"byte_length"`
	CID                    string `json:"cid"`
	OriginalFileName       string `json:"original_file_name"`
	OriginalFileHash       string `json:"original_file_hash"`
	OriginalFileByteLength uint64 `json:"original_file_byte_length"`
}

// Directory holds entries in insertion order.
type Directory struct {
	Name     string  `json:"name"`
	Contents Entries `json:"contents"`
}

// SplitFile is the super-manifest view of a file whose parts may live in
// several pieces. Parts are in merge order, not byte order.
type SplitFile struct {
	Name       string    `json:"name"`
	Hash       string    `json:"hash"`
	ByteLength uint64    `json:"byte_length"`
	MediaType  string    `json:"media_type,omitempty"`
	Parts      []PartRef `json:"parts"`
}

// PartRef locates one part of a SplitFile.
type PartRef struct {
	Name       string `json:"name"`
	ByteLength uint64 `json:"byte_length"`
	CID        string `json:"cid"`
	PieceCID   string `json:"piece_cid"`
}

func (*File) EntryType() string      { return TypeFile }
func (*FilePart) EntryType() string  { return TypeFilePart }
func (*Directory) EntryType() string { return TypeDirectory }
func (*SplitFile) EntryType() string { return TypeSplitFile }

func (f *File) EntryName() string      { return f.Name }
func (f *FilePart) EntryName() string  { return f.Name }
func (d *Directory) EntryName() string { return d.Name }
func (s *SplitFile) EntryName() string { return s.Name }

func (f *File) MarshalJSON() ([]byte, error) {
	type plain File
	return json.Marshal(struct {
		Type string `json:"@type"`
		*plain
	}{TypeFile, (*plain)(f)})
}

func (f *FilePart) MarshalJSON() ([]byte, error) {
	type plain FilePart
	return json.Marshal(struct {
		Type string `json:"@type"`
		*plain
	}{TypeFilePart, (*plain)(f)})
}

func (d *Directory) MarshalJSON() ([]byte, error) {
	type plain Directory
	p := plain(*d)
	if p.Contents == nil {
		p.Contents = Entries{}
	}
	return json.Marshal(struct {
		Type string `json:"@type"`
		*plain
	}{TypeDirectory, &p})
}

func (s *SplitFile) MarshalJSON() ([]byte, error) {
	type plain SplitFile
	p := plain(*s)
	if p.Parts == nil {
		p.Parts = []PartRef{}
	}
	return json.Marshal(struct {
		Type string `json:"@type"`
		*plain
	}{TypeSplitFile, &p})
}

// Entries is a list of manifest entries that decodes by "@type".
type Entries []Entry

func (es *Entries) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*es = nil
		return nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	out := make(Entries, 0, len(raws))
	for _, raw := range raws {
		entry, err := decodeEntry(raw)
		if err != nil {
			return err
		}
		out = append(out, entry)
	}
	*es = out
	return nil
}

func decodeEntry(raw json.RawMessage) (Entry, error) {
	var head struct {
		Type string `json:"@type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}
	var entry Entry
	switch head.Type {
	case TypeFile:
		entry = &File{}
	case TypeFilePart:
		entry = &FilePart{}
	case TypeDirectory:
		entry = &Directory{}
	case TypeSplitFile:
		entry = &SplitFile{}
	default:
		return nil, fmt.Errorf("manifest: unexpected entry type %q", head.Type)
	}
	if err := json.Unmarshal(raw, entry); err != nil {
		return nil, err
	}
	return entry, nil
}
