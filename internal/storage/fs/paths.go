package fs

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ManifestName is the file name of both sub- and super-manifests.
const ManifestName = "manifest.json"

const (
	piecePrefix = "piece-"
	pieceExt    = ".car"
	tempExt     = ".tmp"
	partInfix   = ".part."
)

// Layout defines the on-disk layout of a packed dataset.
type Layout struct {
	Root string
}

// NewLayout builds a layout under the given root.
func NewLayout(root string) Layout {
	return Layout{Root: root}
}

// PiecePath is the final, self-identifying path of a piece.
func (l Layout) PiecePath(payloadCID string) string {
	return filepath.Join(l.Root, piecePrefix+payloadCID+pieceExt)
}

// TempPiecePath is where a piece is streamed before its root is known.
func (l Layout) TempPiecePath(id string) string {
	return filepath.Join(l.Root, piecePrefix+id+pieceExt+tempExt)
}

func (l Layout) ManifestPath() string {
	return filepath.Join(l.Root, ManifestName)
}

// PayloadCIDFromPath extracts the payload CID from a piece file name.
func PayloadCIDFromPath(path string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasPrefix(base, piecePrefix) || !strings.HasSuffix(base, pieceExt) {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(base, piecePrefix), pieceExt), true
}

// PartName names part index of a split file. Indexes are zero padded to
// width so that a lexicographic sort restores byte order.
func PartName(name string, index, width int) string {
	return fmt.Sprintf("%s%s%0*d", name, partInfix, width, index)
}
