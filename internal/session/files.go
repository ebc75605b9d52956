package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"pdfchat/internal/domain"
)

// ExpandPaths resolves glob patterns to .pdf file paths, in argument order.
// A pattern without matches is kept as a literal path. Duplicates are dropped.
func ExpandPaths(patterns []string) ([]string, error) {
	var out []string
	seen := map[string]struct{}{}
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", p, err)
		}
		if matches == nil {
			matches = []string{p}
		}
		sort.Strings(matches)
		for _, m := range matches {
			if !domain.IsPDF(m) {
				return nil, fmt.Errorf("%w: %s", domain.ErrNotPDF, m)
			}
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	return out, nil
}

// ReadDocuments loads each path into a Document named after its base name.
func ReadDocuments(paths []string) ([]domain.Document, error) {
	docs := make([]domain.Document, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		docs = append(docs, domain.Document{Name: filepath.Base(p), Data: data})
	}
	return docs, nil
}
