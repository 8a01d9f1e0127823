package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func sampleSub() *SubManifest {
	return &SubManifest{
		Header: Header{
			Spec:         "https://example.com/spec",
			SpecVersion:  SupportedVersion,
			UserMetadata: testMetadata(),
			UUID:         "3f1c8f5e-0000-4000-8000-000000000001",
		},
		Contents: Entries{
			&File{Name: "a.txt", Hash: "aa", ByteLength: 11, CID: "bafkreia"},
			&Directory{Name: "sub", Contents: Entries{
				&FilePart{
					Name:                   "big.bin.part.0",
					ByteLength:             10,
					CID:                    "bafkreib",
					OriginalFileName:       "big.bin",
					OriginalFileHash:       "bb",
					OriginalFileByteLength: 12,
				},
				&Directory{Name: "empty"},
			}},
		},
	}
}

func TestSubManifestRoundTrip(t *testing.T) {
	sub := sampleSub()
	var buf bytes.Buffer
	if err := EncodeSub(&buf, sub); err != nil {
		t.Fatalf("EncodeSub: %v", err)
	}
	if !json.Valid(buf.Bytes()) {
		t.Fatalf("EncodeSub produced invalid JSON:\n%s", buf.String())
	}
	got, err := DecodeSub(&buf)
	if err != nil {
		t.Fatalf("DecodeSub: %v", err)
	}
	sub.Contents[1].(*Directory).Contents[1].(*Directory).Contents = Entries{}
	if !reflect.DeepEqual(got, sub) {
		t.Fatalf("round-trip mismatch:\n got %+v\nwant %+v", got, sub)
	}
}

func TestStreamedEncodingMatchesMarshalIndent(t *testing.T) {
	sub := sampleSub()
	var buf bytes.Buffer
	if err := EncodeSub(&buf, sub); err != nil {
		t.Fatalf("EncodeSub: %v", err)
	}
	want, err := json.MarshalIndent(sub, "", "  ")
	if err != nil {
		t.Fatalf("MarshalIndent: %v", err)
	}
	if strings.TrimSpace(buf.String()) != string(want) {
		t.Fatalf("streamed encoding differs:\n got %s\nwant %s", buf.String(), want)
	}
}

func TestLiteSubManifestOmitsContents(t *testing.T) {
	sub := sampleSub()
	sub.Contents = nil
	var buf bytes.Buffer
	if err := EncodeSub(&buf, sub); err != nil {
		t.Fatalf("EncodeSub: %v", err)
	}
	if strings.Contains(buf.String(), "contents") {
		t.Fatalf("lite manifest has contents: %s", buf.String())
	}
	got, err := DecodeSub(&buf)
	if err != nil {
		t.Fatalf("DecodeSub: %v", err)
	}
	if got.Contents != nil {
		t.Fatalf("expected nil contents")
	}
}

func TestSuperManifestFileRoundTrip(t *testing.T) {
	super, err := New(testMetadata(), SupportedVersion, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := super.AddPiece(sampleSub(), mustCID(t, "piece"), mustCID(t, "root")); err != nil {
		t.Fatalf("AddPiece: %v", err)
	}
	path := filepath.Join(t.TempDir(), "manifest.json")
	if err := WriteSuperFile(path, super); err != nil {
		t.Fatalf("WriteSuperFile: %v", err)
	}
	got, err := ReadSuperFile(path)
	if err != nil {
		t.Fatalf("ReadSuperFile: %v", err)
	}
	if got.NPieces != 1 || len(got.Pieces) != 1 || got.Pieces[0] != super.Pieces[0] {
		t.Fatalf("pieces mismatch: %+v", got.Pieces)
	}
	if got.UUID != super.UUID || got.Name != super.Name {
		t.Fatalf("header mismatch: %+v", got.Header)
	}
	if !reflect.DeepEqual(got.Contents, super.Contents) {
		t.Fatalf("contents mismatch")
	}
	if got.Lite() {
		t.Fatalf("decoded manifest with contents reported lite")
	}
}

func TestDecodeRejectsUnknownEntryType(t *testing.T) {
	doc := `{"@spec_version":"0.1.0","contents":[{"@type":"symlink","name":"x"}]}`
	if _, err := DecodeSub(strings.NewReader(doc)); err == nil {
		t.Fatalf("expected error for unknown entry type")
	}
}

func TestDecodeRejectsUnsupportedVersion(t *testing.T) {
	sub := `{"@spec_version":"9.9.9","uuid":"u","contents":[]}`
	if _, err := DecodeSub(strings.NewReader(sub)); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("DecodeSub: expected ErrUnsupportedVersion, got %v", err)
	}
	super := `{"@spec_version":"9.9.9","uuid":"u","n_pieces":0,"pieces":[]}`
	if _, err := DecodeSuper(strings.NewReader(super)); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("DecodeSuper: expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestReadMetadataRequiresFields(t *testing.T) {
	if _, err := ReadMetadata(strings.NewReader(`{"name":"x"}`)); err == nil {
		t.Fatalf("expected error for incomplete metadata")
	}
	data, _ := json.Marshal(testMetadata())
	meta, err := ReadMetadata(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	if meta.Name != "test dataset" || len(meta.Tags) != 2 {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
}
