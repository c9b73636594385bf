// Package filestore persists uploaded files under a local directory.
package filestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/xiaot623/dataquery/internal/domain"
)

// Store writes uploads to Root, overwriting files with the same name.
type Store struct {
	Root string
}

// New creates a Store rooted at dir. The directory is created on first save.
func New(dir string) *Store {
	return &Store{Root: dir}
}

// Save writes every upload and returns the path/name mapping in upload order.
// names[i], when present and non-empty, overrides the name derived from the
// filename of files[i]. Extra names are ignored.
func (s *Store) Save(files []domain.UploadedFile, names []string) (domain.TableMapping, error) {
	if err := os.MkdirAll(s.Root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}

	mapping := make(domain.TableMapping, 0, len(files))
	for i, f := range files {
		base := filepath.Base(f.Filename)
		if base == "." || base == string(filepath.Separator) || base == "" {
			return mapping, fmt.Errorf("invalid upload filename %q", f.Filename)
		}
		path := filepath.Join(s.Root, base)
		if err := os.WriteFile(path, f.Content, 0o644); err != nil {
			return mapping, fmt.Errorf("failed to store %s: %w", base, err)
		}

		name := DeriveName(base)
		if i < len(names) && strings.TrimSpace(names[i]) != "" {
			name = names[i]
		}
		mapping = append(mapping, domain.TableSource{Path: path, Name: name})
	}
	return mapping, nil
}

// DeriveName strips the extension from a filename: "sales.q1.csv" -> "sales.q1".
func DeriveName(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Cleanup removes the given paths. Missing files are ignored and other
// failures are logged; it never fails.
func (s *Store) Cleanup(paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Str("path", p).Err(err).Msg("failed to remove upload")
		}
	}
}
