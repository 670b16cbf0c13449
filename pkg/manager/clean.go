package manager

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/onepai/onepai/pkg/journal"
)

// CleanOptions configures Clean.
type CleanOptions struct {
	// OlderThanDays removes files whose modification time is more than
	// this many days in the past.
	OlderThanDays int
	// Archive restricts cleaning to one category; empty or "all" cleans
	// every category.
	Archive string
	// DryRun reports removal candidates without deleting anything.
	DryRun bool
}

// CleanResult maps each cleaned category to the removed paths (or, in a
// dry run, the paths that would be removed).
type CleanResult struct {
	Removed map[string][]string `json:"removed"`
	DryRun  bool                `json:"dry_run"`
}

// Clean removes files older than the retention cutoff. The walk is
// recursive so derived artifacts in nested directories age out too.
// Unlike the bulk read operations, any filesystem error aborts the run.
func (m *Manager) Clean(ctx context.Context, opts CleanOptions) (*CleanResult, error) {
	result, err := m.clean(ctx, opts)
	target := opts.Archive
	if target == "" {
		target = "all"
	}
	m.logOp(journal.OpArchiveClean, target, err, map[string]any{
		"older_than_days": opts.OlderThanDays,
		"dry_run":         opts.DryRun,
	})
	return result, err
}

func (m *Manager) clean(ctx context.Context, opts CleanOptions) (*CleanResult, error) {
	if opts.OlderThanDays <= 0 {
		return nil, fmt.Errorf("retention must be a positive number of days")
	}
	archives, err := m.resolveArchives(opts.Archive)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-time.Duration(opts.OlderThanDays) * 24 * time.Hour)
	result := &CleanResult{
		Removed: make(map[string][]string, len(archives)),
		DryRun:  opts.DryRun,
	}

	for _, name := range archives {
		removed := []string{}
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
			info, err := d.Info()
			if err != nil {
				return err
			}
			if !info.ModTime().Before(cutoff) {
				return nil
			}
			if !opts.DryRun {
				if err := os.Remove(path); err != nil {
					return err
				}
			}
			removed = append(removed, path)
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to clean archive %s: %w", name, err)
		}
		result.Removed[name] = removed
	}
	return result, nil
}
