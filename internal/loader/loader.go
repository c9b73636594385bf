// Package loader parses stored upload files into tables.
package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/dataquery/internal/domain"
	"github.com/xiaot623/dataquery/internal/table"
)

// Loader reads tables from disk, several files at a time.
type Loader struct {
	workers int
}

// New creates a Loader with at most workers concurrent parses.
func New(workers int) *Loader {
	if workers < 1 {
		workers = 1
	}
	return &Loader{workers: workers}
}

// Load parses every file of the mapping. Files with unsupported extensions are
// skipped silently; unreadable ones are logged and skipped. The result keeps upload order;
// when a name repeats, the later file's content replaces the earlier one in
// the earlier position.
func (l *Loader) Load(ctx context.Context, mapping domain.TableMapping) []*table.Table {
	parsed := make([]*table.Table, len(mapping))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for i, src := range mapping {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !Supported(src.Path) {
				return nil
			}
			t, err := LoadFile(src.Path, src.Name)
			if err != nil {
				log.Error().Err(&domain.FileParseError{Path: src.Path, Err: err}).Str("table", src.Name).Msg("skipping file")
				return nil
			}
			parsed[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Warn().Err(err).Msg("table loading interrupted")
	}

	var out []*table.Table
	index := make(map[string]int, len(parsed))
	for _, t := range parsed {
		if t == nil {
			continue
		}
		if pos, ok := index[t.Name]; ok {
			out[pos] = t
			continue
		}
		index[t.Name] = len(out)
		out = append(out, t)
	}
	return out
}

// Supported reports whether the file extension has a parser.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".xlsx", ".xls":
		return true
	}
	return false
}

// LoadFile parses one file by extension.
func LoadFile(path, name string) (*table.Table, error) {
	var (
		records [][]string
		err     error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		records, err = readCSV(path)
	case ".xlsx":
		records, err = readXLSX(path)
	case ".xls":
		records, err = readXLS(path)
	default:
		return nil, fmt.Errorf("unsupported file type %q", ext)
	}
	if err != nil {
		return nil, err
	}
	return fromRecords(name, records)
}

// fromRecords treats the first non-empty record as the header.
func fromRecords(name string, records [][]string) (*table.Table, error) {
	for len(records) > 0 && blank(records[0]) {
		records = records[1:]
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no columns to parse")
	}

	header := records[0]
	width := len(header)
	for _, r := range records[1:] {
		if len(r) > width {
			width = len(r)
		}
	}
	rows := make([][]string, 0, len(records)-1)
	for _, r := range records[1:] {
		if blank(r) {
			continue
		}
		rows = append(rows, r)
	}
	return table.New(name, headerNames(header, width), rows), nil
}

// headerNames fills blank headers with "Unnamed: i" and suffixes repeats
// with ".1", ".2", ...
func headerNames(header []string, width int) []string {
	names := make([]string, width)
	seen := make(map[string]int, width)
	for i := 0; i < width; i++ {
		n := ""
		if i < len(header) {
			n = strings.TrimSpace(header[i])
		}
		if n == "" {
			n = fmt.Sprintf("Unnamed: %d", i)
		}
		if c, ok := seen[n]; ok {
			seen[n] = c + 1
			n = fmt.Sprintf("%s.%d", n, c+1)
		} else {
			seen[n] = 0
		}
		names[i] = n
	}
	return names
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
