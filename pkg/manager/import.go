package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/onepai/onepai/pkg/exchange"
	"github.com/onepai/onepai/pkg/journal"
)

// ImportOptions configures Import.
type ImportOptions struct {
	// Merge adds documents alongside existing ones, skipping ids that
	// already exist. Without it, any non-empty target category aborts
	// with a *ConflictError.
	Merge bool
}

// ImportResult summarizes an import.
type ImportResult struct {
	// Imported is the number of documents written.
	Imported int `json:"imported"`
	// Skipped is the number of documents left out (existing ids in
	// merge mode).
	Skipped int `json:"skipped"`
	// Warnings records documents or categories that could not be
	// imported.
	Warnings []string `json:"warnings,omitempty"`
}

// Import reads an export envelope and writes its documents into the
// archive tree as <id>.json. The codec is picked from the file
// extension. Ids come from each document's metadata block, sanitized for
// filesystem use; documents without a usable id get a generated one.
func (m *Manager) Import(ctx context.Context, path string, opts ImportOptions) (*ImportResult, error) {
	result, err := m.importEnvelope(ctx, path, opts)
	m.logOp(journal.OpArchiveImport, path, err, map[string]any{"merge": opts.Merge})
	return result, err
}

func (m *Manager) importEnvelope(ctx context.Context, path string, opts ImportOptions) (*ImportResult, error) {
	format, err := exchange.DetectFormat(path)
	if err != nil {
		return nil, err
	}
	codec, err := exchange.ForFormat(string(format))
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	env, err := codec.Decode(f)
	f.Close()
	if err != nil {
		return nil, err
	}

	// Conflict check before any write
	if !opts.Merge {
		var conflicts []string
		for _, name := range m.archives {
			if len(env.Archives[name]) == 0 {
				continue
			}
			nonEmpty, err := dirNonEmpty(m.ArchivePath(name))
			if err != nil {
				return nil, err
			}
			if nonEmpty {
				conflicts = append(conflicts, m.ArchivePath(name))
			}
		}
		if len(conflicts) > 0 {
			return nil, &ConflictError{Paths: conflicts}
		}
	}

	names := make([]string, 0, len(env.Archives))
	for name := range env.Archives {
		names = append(names, name)
	}
	sort.Strings(names)

	result := &ImportResult{}
	for _, name := range names {
		if !m.knownArchive(name) {
			result.Warnings = append(result.Warnings, fmt.Sprintf("skipping unknown archive category %q", name))
			continue
		}
		dir := m.ArchivePath(name)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create archive directory %s: %w", name, err)
		}

		for _, doc := range env.Archives[name] {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			id := exchange.SanitizeID(exchange.DocumentID(doc))
			if id == "" {
				id = uuid.NewString()
			}
			target := filepath.Join(dir, id+".json")
			if _, err := os.Stat(target); err == nil {
				result.Skipped++
				continue
			}
			data, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("cannot encode document %s: %v", id, err))
				continue
			}
			if err := os.WriteFile(target, data, 0600); err != nil {
				return nil, fmt.Errorf("failed to write %s: %w", target, err)
			}
			result.Imported++
		}
	}
	return result, nil
}
