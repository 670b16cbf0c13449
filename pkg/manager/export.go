package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/onepai/onepai/pkg/exchange"
	"github.com/onepai/onepai/pkg/journal"
)

// ExportOptions configures Export.
type ExportOptions struct {
	// Format selects the exchange codec (defaults to json).
	Format string
	// Output is the destination file. Defaults to
	// onepai_export_<timestamp>.<format> in the working directory.
	Output string
	// IncludeMetadata attaches per-file stat information to each
	// document under the _file_metadata key.
	IncludeMetadata bool
}

// ExportResult describes the written export.
type ExportResult struct {
	// Path is the written export file.
	Path string `json:"path"`
	// Documents is the number of documents exported.
	Documents int `json:"documents"`
	// Warnings records documents that could not be read or parsed.
	Warnings []string `json:"warnings,omitempty"`
}

// Export gathers every parseable .json document in the tree into a
// single envelope and writes it through the selected exchange codec.
// Unreadable documents are skipped and reported as warnings.
func (m *Manager) Export(ctx context.Context, opts ExportOptions) (*ExportResult, error) {
	result, err := m.export(ctx, opts)
	target := opts.Output
	if result != nil {
		target = result.Path
	}
	m.logOp(journal.OpArchiveExport, target, err, map[string]any{"format": opts.Format})
	return result, err
}

func (m *Manager) export(ctx context.Context, opts ExportOptions) (*ExportResult, error) {
	format := opts.Format
	if format == "" {
		format = string(exchange.FormatJSON)
	}
	codec, err := exchange.ForFormat(format)
	if err != nil {
		return nil, err
	}

	output := opts.Output
	if output == "" {
		output = fmt.Sprintf("onepai_export_%s.%s", time.Now().Format(backupNameFormat), codec.Format())
	}

	env := &exchange.Envelope{
		Meta: exchange.EnvelopeMeta{
			Timestamp:       time.Now().UTC(),
			Version:         m.version,
			Format:          string(codec.Format()),
			IncludeMetadata: opts.IncludeMetadata,
		},
		Archives: make(map[string][]exchange.Document, len(m.archives)),
	}

	result := &ExportResult{Path: output}
	for _, name := range m.archives {
		docs, warnings, err := m.gatherDocuments(ctx, name, opts.IncludeMetadata)
		if err != nil {
			return nil, err
		}
		env.Archives[name] = docs
		result.Documents += len(docs)
		result.Warnings = append(result.Warnings, warnings...)
	}

	if dir := filepath.Dir(output); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	f, err := os.OpenFile(output, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create export file: %w", err)
	}
	encErr := codec.Encode(f, env)
	if cerr := f.Close(); encErr == nil {
		encErr = cerr
	}
	if encErr != nil {
		os.Remove(output)
		return nil, encErr
	}
	return result, nil
}

// gatherDocuments loads every parseable .json document under one
// category, recursively. Documents whose root is not a JSON object are
// skipped with a warning.
func (m *Manager) gatherDocuments(ctx context.Context, name string, includeMeta bool) ([]exchange.Document, []string, error) {
	docs := []exchange.Document{}
	var warnings []string

	err := filepath.WalkDir(m.ArchivePath(name), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() || strings.ToLower(filepath.Ext(path)) != ".json" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("cannot read %s: %v", path, err))
			return nil
		}
		var doc exchange.Document
		if err := json.Unmarshal(data, &doc); err != nil {
			warnings = append(warnings, fmt.Sprintf("cannot parse %s: %v", path, err))
			return nil
		}
		if includeMeta {
			if st, err := d.Info(); err == nil {
				doc["_file_metadata"] = map[string]any{
					"name":     st.Name(),
					"size":     st.Size(),
					"type":     fileType(path),
					"modified": st.ModTime().UTC().Format(time.RFC3339),
				}
			}
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("failed to scan archive %s: %w", name, err)
	}
	return docs, warnings, nil
}
