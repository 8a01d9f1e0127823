package batch

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// ListOptions controls file enumeration.
type ListOptions struct {
	// Hidden includes paths with a segment starting with ".".
	Hidden bool
}

// List enumerates regular files under the given paths in lexical order.
// A file's name is its path relative to the parent of the input path it was
// found under, with forward slashes, so "data/a/b.txt" for input "data".
func List(paths []string, opts ListOptions) ([]File, error) {
	var files []File
	seen := make(map[string]string)
	for _, input := range paths {
		clean := filepath.Clean(input)
		base := filepath.Dir(clean)
		err := filepath.WalkDir(clean, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(base, p)
			if err != nil {
				return err
			}
			name := filepath.ToSlash(rel)
			if !opts.Hidden && isHidden(name) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if !d.Type().IsRegular() {
				return fmt.Errorf("batch: %s is not a regular file", p)
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			if prev, ok := seen[name]; ok {
				return fmt.Errorf("batch: %s and %s both map to %q", prev, p, name)
			}
			seen[name] = p
			files = append(files, File{
				Name:   name,
				Size:   uint64(info.Size()),
				Source: PathSource(p),
			})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

func isHidden(name string) bool {
	for _, seg := range strings.Split(name, "/") {
		if seg != "." && seg != ".." && strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
