package manager

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Stats aggregates archive tree statistics.
type Stats struct {
	Summary   Summary                  `json:"summary"`
	ByArchive map[string]*ArchiveStats `json:"by_archive"`
	// Duplicates groups byte-identical files across the whole tree,
	// most copies first (detailed mode only).
	Duplicates []DuplicateGroup `json:"duplicates,omitempty"`
	// Warnings records files that could not be inspected.
	Warnings []string `json:"warnings,omitempty"`
}

// Summary totals the whole tree.
type Summary struct {
	TotalArchives  int    `json:"total_archives"`
	TotalFiles     int    `json:"total_files"`
	TotalSizeBytes int64  `json:"total_size_bytes"`
	OldestFile     string `json:"oldest_file,omitempty"`
	NewestFile     string `json:"newest_file,omitempty"`
}

// ArchiveStats describes one category.
type ArchiveStats struct {
	FileCount   int            `json:"file_count"`
	TotalSize   int64          `json:"total_size"`
	FileTypes   map[string]int `json:"file_types"`
	AvgFileSize float64        `json:"avg_file_size"`
	// Files carries per-file detail in detailed mode.
	Files []FileInfo `json:"files,omitempty"`
}

// DuplicateGroup lists byte-identical files found across the tree.
type DuplicateGroup struct {
	// Hash is the hex SHA-256 of the shared content.
	Hash string `json:"hash"`
	// Size is the size of one copy in bytes.
	Size int64 `json:"size"`
	// Paths lists every file carrying this content.
	Paths []string `json:"paths"`
	// Count is the number of copies.
	Count int `json:"count"`
}

// Statistics walks the archive tree and aggregates per-category and
// overall numbers. Detailed mode adds per-file entries and duplicate
// content groups (empty files are never grouped).
func (m *Manager) Statistics(ctx context.Context, detailed bool) (*Stats, error) {
	stats := &Stats{
		Summary:   Summary{TotalArchives: len(m.archives)},
		ByArchive: make(map[string]*ArchiveStats, len(m.archives)),
	}

	var oldest, newest time.Time
	hashes := make(map[string][]string)
	sizes := make(map[string]int64)

	for _, name := range m.archives {
		as := &ArchiveStats{FileTypes: make(map[string]int)}
		stats.ByArchive[name] = as

		err := filepath.WalkDir(m.ArchivePath(name), func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			st, err := d.Info()
			if err != nil {
				stats.Warnings = append(stats.Warnings, fmt.Sprintf("cannot stat %s: %v", path, err))
				return nil
			}

			as.FileCount++
			as.TotalSize += st.Size()
			as.FileTypes[fileType(path)]++

			mtime := st.ModTime()
			if oldest.IsZero() || mtime.Before(oldest) {
				oldest = mtime
				stats.Summary.OldestFile = path
			}
			if newest.IsZero() || mtime.After(newest) {
				newest = mtime
				stats.Summary.NewestFile = path
			}

			if detailed {
				as.Files = append(as.Files, fileInfo(path, st))
				if st.Size() > 0 {
					if sum, err := hashFile(path); err == nil {
						hashes[sum] = append(hashes[sum], path)
						sizes[sum] = st.Size()
					} else {
						stats.Warnings = append(stats.Warnings, fmt.Sprintf("cannot hash %s: %v", path, err))
					}
				}
			}
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to scan archive %s: %w", name, err)
		}

		if as.FileCount > 0 {
			as.AvgFileSize = float64(as.TotalSize) / float64(as.FileCount)
		}
		stats.Summary.TotalFiles += as.FileCount
		stats.Summary.TotalSizeBytes += as.TotalSize
	}

	if detailed {
		stats.Duplicates = duplicateGroups(hashes, sizes)
	}
	return stats, nil
}

// duplicateGroups keeps hashes shared by more than one file, sorted by
// copy count descending with the hash as tie-breaker.
func duplicateGroups(hashes map[string][]string, sizes map[string]int64) []DuplicateGroup {
	var groups []DuplicateGroup
	for sum, paths := range hashes {
		if len(paths) <= 1 {
			continue
		}
		sort.Strings(paths)
		groups = append(groups, DuplicateGroup{
			Hash:  sum,
			Size:  sizes[sum],
			Paths: paths,
			Count: len(paths),
		})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Count != groups[j].Count {
			return groups[i].Count > groups[j].Count
		}
		return groups[i].Hash < groups[j].Hash
	})
	return groups
}

// hashFile returns the hex SHA-256 of the file contents.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
