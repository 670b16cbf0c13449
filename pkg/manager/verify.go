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

	"github.com/onepai/onepai/pkg/archive"
	"github.com/onepai/onepai/pkg/crypto"
	"github.com/onepai/onepai/pkg/journal"
)

// VerifyReport summarizes an integrity pass over the archive tree.
type VerifyReport struct {
	// TotalFiles is the number of regular files inspected.
	TotalFiles int `json:"total_files"`
	// CorruptedFiles lists unparseable documents and record archives
	// with damaged frames.
	CorruptedFiles []string `json:"corrupted_files"`
	// MissingMetadata lists documents without an embedded metadata block.
	MissingMetadata []string `json:"missing_metadata"`
	// OrphanedKeys lists key sidecars whose encrypted counterpart is gone.
	OrphanedKeys []string `json:"orphaned_keys"`
	// FixedIssues describes each repair applied in fix mode.
	FixedIssues []string `json:"fixed_issues"`
	// Warnings records files that could not be inspected or repaired.
	Warnings []string `json:"warnings,omitempty"`
}

// Verify walks every category checking document parseability, metadata
// presence, key sidecar pairing, and record archive framing. With fix
// set it synthesizes missing metadata blocks, deletes orphaned key
// files, and truncates damaged record archives to their valid prefix.
func (m *Manager) Verify(ctx context.Context, fix bool) (*VerifyReport, error) {
	report, err := m.verify(ctx, fix)
	m.logOp(journal.OpArchiveVerify, "all", err, map[string]any{"fix": fix})
	return report, err
}

func (m *Manager) verify(ctx context.Context, fix bool) (*VerifyReport, error) {
	report := &VerifyReport{
		CorruptedFiles:  []string{},
		MissingMetadata: []string{},
		OrphanedKeys:    []string{},
		FixedIssues:     []string{},
	}

	for _, name := range m.archives {
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
			report.TotalFiles++
			switch strings.ToLower(filepath.Ext(path)) {
			case ".json":
				verifyDocument(path, fix, report)
			case ".key":
				verifyKeySidecar(path, fix, report)
			case ".onepai":
				verifyRecordArchive(path, fix, report)
			}
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to verify archive %s: %w", name, err)
		}
	}
	return report, nil
}

// verifyDocument checks a .json document parses and carries a metadata
// block, synthesizing a minimal one in fix mode.
func verifyDocument(path string, fix bool, report *VerifyReport) {
	data, err := os.ReadFile(path)
	if err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("cannot read %s: %v", path, err))
		return
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		// Valid JSON with a non-object root is intact but cannot carry a
		// metadata block, so fix mode leaves it alone.
		var generic any
		if json.Unmarshal(data, &generic) == nil {
			report.MissingMetadata = append(report.MissingMetadata, path)
			return
		}
		report.CorruptedFiles = append(report.CorruptedFiles, path)
		return
	}
	if _, ok := doc["metadata"]; ok {
		return
	}

	report.MissingMetadata = append(report.MissingMetadata, path)
	if !fix {
		return
	}

	created := time.Now()
	if st, err := os.Stat(path); err == nil {
		created = st.ModTime()
	}
	doc["metadata"] = map[string]any{
		"id":         strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		"created_at": created.UTC().Format(time.RFC3339),
		"type":       "unknown",
		"version":    "1.0",
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("cannot fix %s: %v", path, err))
		return
	}
	if err := os.WriteFile(path, out, 0600); err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("cannot fix %s: %v", path, err))
		return
	}
	report.FixedIssues = append(report.FixedIssues, fmt.Sprintf("added metadata to %s", path))
}

// verifyKeySidecar flags key files whose encrypted counterpart is gone,
// deleting them in fix mode.
func verifyKeySidecar(path string, fix bool, report *VerifyReport) {
	if _, err := os.Stat(crypto.EncryptedPathFor(path)); err == nil {
		return
	}
	report.OrphanedKeys = append(report.OrphanedKeys, path)
	if !fix {
		return
	}
	if err := os.Remove(path); err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("cannot remove %s: %v", path, err))
		return
	}
	report.FixedIssues = append(report.FixedIssues, fmt.Sprintf("removed orphaned key %s", path))
}

// verifyRecordArchive streams every frame of a record archive through
// checksum verification, salvaging the valid prefix in fix mode.
func verifyRecordArchive(path string, fix bool, report *VerifyReport) {
	if _, err := archive.Scan(path); err == nil {
		return
	}
	report.CorruptedFiles = append(report.CorruptedFiles, path)
	if !fix {
		return
	}
	kept, err := archive.Salvage(path)
	if err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("cannot salvage %s: %v", path, err))
		return
	}
	report.FixedIssues = append(report.FixedIssues, fmt.Sprintf("salvaged %d records from %s", kept, path))
}
