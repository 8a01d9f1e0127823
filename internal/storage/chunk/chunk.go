// Package chunk holds the leaf size for file DAGs and the byte spans that
// split files are cut into.
package chunk

// DefaultSize is the default leaf size (1 MiB).
const DefaultSize = 1 << 20

// Span describes a byte range within a source file.
type Span struct {
	Offset int64
	Len    int64
}
