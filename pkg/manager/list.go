package manager

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Listing holds the files found by List, grouped by category.
type Listing struct {
	// Files maps each scanned category to its entries, newest first.
	Files map[string][]FileInfo `json:"files"`
	// Warnings records files that could not be inspected.
	Warnings []string `json:"warnings,omitempty"`
}

// List scans one category (or all, when selector is empty or "all") for
// regular files, skipping dotfiles. The scan is non-recursive; nested
// directories hold derived artifacts that the other operations manage.
// Results are sorted by modification time, newest first.
func (m *Manager) List(selector, filter string) (*Listing, error) {
	archives, err := m.resolveArchives(selector)
	if err != nil {
		return nil, err
	}
	f, err := ParseFilter(filter)
	if err != nil {
		return nil, err
	}

	listing := &Listing{Files: make(map[string][]FileInfo, len(archives))}
	for _, name := range archives {
		root := m.ArchivePath(name)
		entries, err := os.ReadDir(root)
		if err != nil {
			if os.IsNotExist(err) {
				listing.Files[name] = []FileInfo{}
				continue
			}
			return nil, fmt.Errorf("failed to read archive %s: %w", name, err)
		}

		files := []FileInfo{}
		for _, entry := range entries {
			if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			st, err := entry.Info()
			if err != nil {
				listing.Warnings = append(listing.Warnings,
					fmt.Sprintf("cannot stat %s: %v", filepath.Join(root, entry.Name()), err))
				continue
			}
			if !st.Mode().IsRegular() {
				continue
			}
			info := fileInfo(filepath.Join(root, entry.Name()), st)
			if f != nil && !f.Matches(info) {
				continue
			}
			files = append(files, info)
		}
		sort.Slice(files, func(i, j int) bool {
			return files[i].Modified.After(files[j].Modified)
		})
		listing.Files[name] = files
	}
	return listing, nil
}

// Filter selects files by a field:value expression.
//
// Supported fields:
//   - type: matches the inferred type or the document's metadata type
//   - tag: matches documents whose metadata tags contain the value
//   - date: matches files modified on the given day (YYYY-MM-DD)
//   - size: compares the byte size; value starts with >, <, or =
type Filter struct {
	Field string
	Value string
}

// ParseFilter parses a field:value expression. An empty expression means
// no filtering and returns nil.
func ParseFilter(s string) (*Filter, error) {
	if s == "" {
		return nil, nil
	}
	field, value, ok := strings.Cut(s, ":")
	if !ok || field == "" || value == "" {
		return nil, fmt.Errorf("invalid filter %q: want field:value", s)
	}
	switch field {
	case "type", "tag", "date":
	case "size":
		if _, _, err := parseSizeFilter(value); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown filter field %q", field)
	}
	return &Filter{Field: field, Value: value}, nil
}

// Matches reports whether the file satisfies the filter.
func (f *Filter) Matches(info FileInfo) bool {
	switch f.Field {
	case "type":
		return info.Type == f.Value || info.DocType == f.Value
	case "tag":
		for _, tag := range info.Tags {
			if tag == f.Value {
				return true
			}
		}
		return false
	case "date":
		return info.Modified.Format("2006-01-02") == f.Value
	case "size":
		op, n, err := parseSizeFilter(f.Value)
		if err != nil {
			return false
		}
		switch op {
		case '>':
			return info.Size > n
		case '<':
			return info.Size < n
		case '=':
			return info.Size == n
		}
	}
	return false
}

// parseSizeFilter splits a size expression into its operator and operand.
func parseSizeFilter(value string) (byte, int64, error) {
	if len(value) < 2 {
		return 0, 0, fmt.Errorf("invalid size filter %q: want >N, <N, or =N", value)
	}
	op := value[0]
	if op != '>' && op != '<' && op != '=' {
		return 0, 0, fmt.Errorf("invalid size filter %q: want >N, <N, or =N", value)
	}
	n, err := strconv.ParseInt(value[1:], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid size filter %q: %v", value, err)
	}
	return op, n, nil
}
