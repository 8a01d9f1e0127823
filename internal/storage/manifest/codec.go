package manifest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
)

const indentStep = "  "

// EncodeSub writes a sub-manifest as indented JSON.
func EncodeSub(w io.Writer, m *SubManifest) error {
	if m == nil {
		return errors.New("manifest: nil manifest")
	}
	return encode(w, m.Header, m.Contents)
}

// EncodeSuper writes a super-manifest as indented JSON.
func EncodeSuper(w io.Writer, m *SuperManifest) error {
	if m == nil {
		return errors.New("manifest: nil manifest")
	}
	pieces := m.Pieces
	if pieces == nil {
		pieces = []PieceRef{}
	}
	head := struct {
		Header
		NPieces int        `json:"n_pieces"`
		Pieces  []PieceRef `json:"pieces"`
	}{m.Header, m.NPieces, pieces}
	return encode(w, head, m.Contents)
}

// encode streams the manifest one entry at a time so the encoded form of a
// large contents tree is never held in memory. The head object is marshalled
// whole and the contents array is spliced in before its closing brace.
func encode(w io.Writer, head any, contents Entries) error {
	data, err := json.MarshalIndent(head, "", indentStep)
	if err != nil {
		return err
	}
	data = bytes.TrimSuffix(data, []byte("\n}"))
	e := &encoder{w: bufio.NewWriter(w)}
	e.write(data)
	if contents != nil {
		e.writeString(",\n" + indentStep + `"contents": `)
		e.entries(contents, indentStep)
	}
	e.writeString("\n}\n")
	if e.err != nil {
		return e.err
	}
	return e.w.Flush()
}

type encoder struct {
	w   *bufio.Writer
	err error
}

func (e *encoder) write(p []byte) {
	if e.err == nil {
		_, e.err = e.w.Write(p)
	}
}

func (e *encoder) writeString(s string) {
	if e.err == nil {
		_, e.err = e.w.WriteString(s)
	}
}

func (e *encoder) entries(list Entries, indent string) {
	if len(list) == 0 {
		e.writeString("[]")
		return
	}
	inner := indent + indentStep
	e.writeString("[\n")
	for i, entry := range list {
		e.writeString(inner)
		if dir, ok := entry.(*Directory); ok {
			e.directory(dir, inner)
		} else {
			data, err := json.MarshalIndent(entry, inner, indentStep)
			if err != nil && e.err == nil {
				e.err = err
			}
			e.write(data)
		}
		if i < len(list)-1 {
			e.writeString(",")
		}
		e.writeString("\n")
	}
	e.writeString(indent + "]")
}

func (e *encoder) directory(d *Directory, indent string) {
	name, err := json.Marshal(d.Name)
	if err != nil && e.err == nil {
		e.err = err
	}
	inner := indent + indentStep
	e.writeString("{\n" + inner + `"@type": "` + TypeDirectory + `",` + "\n")
	e.writeString(inner + `"name": `)
	e.write(name)
	e.writeString(",\n" + inner + `"contents": `)
	e.entries(d.Contents, inner)
	e.writeString("\n" + indent + "}")
}

// DecodeSub reads a sub-manifest. Unsupported versions are rejected.
func DecodeSub(r io.Reader) (*SubManifest, error) {
	var m SubManifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, err
	}
	if err := CheckVersion(m.SpecVersion); err != nil {
		return nil, err
	}
	return &m, nil
}

// DecodeSuper reads a super-manifest. Unsupported versions are rejected.
func DecodeSuper(r io.Reader) (*SuperManifest, error) {
	var m SuperManifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, err
	}
	if err := CheckVersion(m.SpecVersion); err != nil {
		return nil, err
	}
	m.lite = m.Contents == nil
	return &m, nil
}

// ReadSuperFile loads a super-manifest from disk.
func ReadSuperFile(path string) (*SuperManifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return DecodeSuper(bufio.NewReader(f))
}

// WriteSuperFile writes a super-manifest via a temporary file in the same
// directory, so a partially written manifest never appears at path.
func WriteSuperFile(path string, m *SuperManifest) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*.json")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if err = EncodeSuper(tmp, m); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadMetadata loads user metadata from JSON.
func ReadMetadata(r io.Reader) (UserMetadata, error) {
	var meta UserMetadata
	if err := json.NewDecoder(r).Decode(&meta); err != nil {
		return UserMetadata{}, err
	}
	if err := meta.Validate(); err != nil {
		return UserMetadata{}, err
	}
	return meta, nil
}
