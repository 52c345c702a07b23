// Package zip bundles generated artifacts into a single archive.
package zip

import (
	"archive/zip"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
)

// Entry is one file of an archive. Open is called lazily while writing.
type Entry struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// WriteArchive streams entries into w as a zip archive and returns the names
// that were skipped because they could not be opened. Duplicate names get a
// numeric suffix.
func WriteArchive(w io.Writer, entries []Entry) ([]string, error) {
	zw := zip.NewWriter(w)
	used := make(map[string]int, len(entries))
	var skipped []string
	for _, entry := range entries {
		rc, err := entry.Open()
		if err != nil {
			skipped = append(skipped, entry.Name)
			continue
		}
		name := uniqueName(used, path.Base(entry.Name))
		fw, err := zw.Create(name)
		if err != nil {
			rc.Close()
			return skipped, fmt.Errorf("zip: create %s: %w", name, err)
		}
		_, err = io.Copy(fw, rc)
		rc.Close()
		if err != nil {
			return skipped, fmt.Errorf("zip: write %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return skipped, fmt.Errorf("zip: finish: %w", err)
	}
	return skipped, nil
}

func uniqueName(used map[string]int, name string) string {
	n := used[name]
	used[name] = n + 1
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	return strings.TrimSuffix(name, ext) + "-" + strconv.Itoa(n+1) + ext
}
