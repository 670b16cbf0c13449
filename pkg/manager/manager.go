// Package manager operates on the on-disk archive tree: listing, backup
// and restore, retention cleanup, integrity verification, and bulk
// import/export through the exchange codecs.
//
// Layout:
//   - One directory per archive category under the data directory
//   - Category directories are created on construction (0700)
//   - Default categories: treasures, shadows, silences, voids
//
// Long-running operations take a context.Context and stop between file
// copies when it is cancelled. Bulk read operations (list, export, stats,
// verify) skip unreadable files and record warnings; mutating operations
// (backup, restore, clean) propagate the first error.
package manager

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/onepai/onepai/pkg/journal"
)

// DefaultArchives are the categories managed when Config.Archives is empty.
var DefaultArchives = []string{"treasures", "shadows", "silences", "voids"}

// Version is stamped into backup manifests and export envelopes.
const Version = "1.0.0"

// Config configures a Manager.
type Config struct {
	// DataDir is the root directory holding one subdirectory per category.
	DataDir string
	// Archives lists the managed categories (defaults to DefaultArchives).
	Archives []string
	// Version overrides the version stamped into backups and exports.
	Version string
}

// Manager operates on the archive tree rooted at a data directory.
type Manager struct {
	dataDir  string
	archives []string
	version  string
	journal  *journal.Journal
}

// Option configures optional Manager behavior.
type Option func(*Manager)

// WithJournal records the outcome of every mutating operation in the
// given journal. Journal write failures never fail the operation itself.
func WithJournal(j *journal.Journal) Option {
	return func(m *Manager) { m.journal = j }
}

// New creates a Manager and ensures every category directory exists.
func New(cfg Config, opts ...Option) (*Manager, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	archives := cfg.Archives
	if len(archives) == 0 {
		archives = DefaultArchives
	}
	version := cfg.Version
	if version == "" {
		version = Version
	}

	m := &Manager{
		dataDir:  cfg.DataDir,
		archives: append([]string(nil), archives...),
		version:  version,
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, name := range m.archives {
		if err := os.MkdirAll(m.ArchivePath(name), 0700); err != nil {
			return nil, fmt.Errorf("failed to create archive directory %s: %w", name, err)
		}
	}
	return m, nil
}

// DataDir returns the root data directory.
func (m *Manager) DataDir() string { return m.dataDir }

// Archives returns the managed category names in configured order.
func (m *Manager) Archives() []string {
	return append([]string(nil), m.archives...)
}

// ArchivePath returns the directory of one category.
func (m *Manager) ArchivePath(name string) string {
	return filepath.Join(m.dataDir, name)
}

// knownArchive reports whether name is a managed category.
func (m *Manager) knownArchive(name string) bool {
	for _, a := range m.archives {
		if a == name {
			return true
		}
	}
	return false
}

// resolveArchives returns the categories an operation applies to. An
// empty selector or "all" means every managed category.
func (m *Manager) resolveArchives(selector string) ([]string, error) {
	if selector == "" || selector == "all" {
		return m.Archives(), nil
	}
	if !m.knownArchive(selector) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownArchive, selector)
	}
	return []string{selector}, nil
}

// logOp records the outcome of a mutating operation. Best effort: a
// journal that cannot be written must not turn a finished operation into
// a failure.
func (m *Manager) logOp(op, target string, opErr error, ctx map[string]any) {
	if m.journal == nil {
		return
	}
	if opErr != nil {
		_ = m.journal.LogError(op, journal.SourceManager, target, "operation_failed", opErr.Error())
		return
	}
	_ = m.journal.Log(op, journal.SourceManager, journal.ResultSuccess, target, nil, ctx)
}

// dirNonEmpty reports whether path is a directory containing any entry.
// A missing directory counts as empty.
func dirNonEmpty(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return len(entries) > 0, nil
}
