package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/onepai/onepai/pkg/archive"
	"github.com/onepai/onepai/pkg/journal"
	"github.com/onepai/onepai/pkg/manager"
)

// ArchiveListInput represents input for the archive_list tool.
type ArchiveListInput struct {
	// Archive selects one category; empty means every visible category.
	Archive string `json:"archive,omitempty"`
	// Filter is a field:value expression, e.g. "type:shadow" or "size:>1024".
	Filter string `json:"filter,omitempty"`
}

// ArchiveListOutput represents output for the archive_list tool.
type ArchiveListOutput struct {
	Files    []ArchiveFile `json:"files"`
	Warnings []string      `json:"warnings,omitempty"`
}

// ArchiveFile is the per-file metadata returned by archive_list (no contents).
type ArchiveFile struct {
	Archive      string   `json:"archive"`
	Name         string   `json:"name"`
	Size         int64    `json:"size"`
	Modified     string   `json:"modified"`
	Type         string   `json:"type"`
	DocType      string   `json:"doc_type,omitempty"`
	Significance float64  `json:"significance,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Source       string   `json:"source,omitempty"`
}

// ArchiveStatsInput represents input for the archive_stats tool.
type ArchiveStatsInput struct {
	// Detailed adds duplicate content groups to the output.
	Detailed bool `json:"detailed,omitempty"`
}

// ArchiveStatsOutput represents output for the archive_stats tool.
type ArchiveStatsOutput struct {
	TotalArchives  int                       `json:"total_archives"`
	TotalFiles     int                       `json:"total_files"`
	TotalSizeBytes int64                     `json:"total_size_bytes"`
	OldestFile     string                    `json:"oldest_file,omitempty"`
	NewestFile     string                    `json:"newest_file,omitempty"`
	Archives       map[string]ArchiveSummary `json:"archives"`
	Duplicates     []DuplicateInfo           `json:"duplicates,omitempty"`
	Warnings       []string                  `json:"warnings,omitempty"`
}

// ArchiveSummary describes one category in archive_stats output.
type ArchiveSummary struct {
	FileCount   int            `json:"file_count"`
	TotalSize   int64          `json:"total_size"`
	FileTypes   map[string]int `json:"file_types"`
	AvgFileSize float64        `json:"avg_file_size"`
}

// DuplicateInfo lists byte-identical files, paths relative to the data dir.
type DuplicateInfo struct {
	Hash  string   `json:"hash"`
	Size  int64    `json:"size"`
	Count int      `json:"count"`
	Paths []string `json:"paths"`
}

// ArchiveVerifyInput represents input for the archive_verify tool.
type ArchiveVerifyInput struct{}

// ArchiveVerifyOutput represents output for the archive_verify tool.
type ArchiveVerifyOutput struct {
	TotalFiles      int      `json:"total_files"`
	Clean           bool     `json:"clean"`
	CorruptedFiles  []string `json:"corrupted_files,omitempty"`
	MissingMetadata []string `json:"missing_metadata,omitempty"`
	OrphanedKeys    []string `json:"orphaned_keys,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
}

// RecordReadInput represents input for the record_read tool.
type RecordReadInput struct {
	Archive string `json:"archive"`
	File    string `json:"file"`
	// Limit caps the number of records returned; the policy max_records
	// cap applies on top of it.
	Limit int `json:"limit,omitempty"`
}

// RecordReadOutput represents output for the record_read tool.
type RecordReadOutput struct {
	Archive string       `json:"archive"`
	File    string       `json:"file"`
	Records []RecordInfo `json:"records"`
	// Truncated is set when the file holds more records than were returned.
	Truncated bool `json:"truncated,omitempty"`
}

// RecordInfo is one record with its payload rendered as a JSON preview.
type RecordInfo struct {
	Name             string            `json:"name"`
	Timestamp        string            `json:"timestamp"`
	Payload          string            `json:"payload"`
	PayloadTruncated bool              `json:"payload_truncated,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// handleArchiveList handles the archive_list tool call.
func (s *Server) handleArchiveList(_ context.Context, _ *mcp.CallToolRequest, input ArchiveListInput) (*mcp.CallToolResult, ArchiveListOutput, error) {
	m, err := s.visibleManager()
	if err != nil {
		return nil, ArchiveListOutput{}, err
	}

	if input.Archive != "" && s.policy != nil {
		if allowed, reason := s.policy.IsArchiveAllowed(input.Archive); !allowed {
			return nil, ArchiveListOutput{}, fmt.Errorf("archive not allowed by policy: %s", reason)
		}
	}

	listing, err := m.List(input.Archive, input.Filter)
	if err != nil {
		return nil, ArchiveListOutput{}, fmt.Errorf("failed to list archives: %w", err)
	}

	output := ArchiveListOutput{Files: make([]ArchiveFile, 0)}
	for _, name := range m.Archives() {
		for _, info := range listing.Files[name] {
			output.Files = append(output.Files, toArchiveFile(name, info))
		}
	}
	output.Warnings = listing.Warnings

	return nil, output, nil
}

// toArchiveFile converts manager file metadata to the tool output shape.
func toArchiveFile(archiveName string, info manager.FileInfo) ArchiveFile {
	return ArchiveFile{
		Archive:      archiveName,
		Name:         info.Name,
		Size:         info.Size,
		Modified:     info.Modified.Format(time.RFC3339),
		Type:         info.Type,
		DocType:      info.DocType,
		Significance: info.Significance,
		Tags:         info.Tags,
		Source:       info.Source,
	}
}

// handleArchiveStats handles the archive_stats tool call.
func (s *Server) handleArchiveStats(ctx context.Context, _ *mcp.CallToolRequest, input ArchiveStatsInput) (*mcp.CallToolResult, ArchiveStatsOutput, error) {
	m, err := s.visibleManager()
	if err != nil {
		return nil, ArchiveStatsOutput{}, err
	}

	stats, err := m.Statistics(ctx, input.Detailed)
	if err != nil {
		return nil, ArchiveStatsOutput{}, fmt.Errorf("failed to compute statistics: %w", err)
	}

	output := ArchiveStatsOutput{
		TotalArchives:  stats.Summary.TotalArchives,
		TotalFiles:     stats.Summary.TotalFiles,
		TotalSizeBytes: stats.Summary.TotalSizeBytes,
		OldestFile:     s.relToData(stats.Summary.OldestFile),
		NewestFile:     s.relToData(stats.Summary.NewestFile),
		Archives:       make(map[string]ArchiveSummary, len(stats.ByArchive)),
	}
	for name, as := range stats.ByArchive {
		output.Archives[name] = ArchiveSummary{
			FileCount:   as.FileCount,
			TotalSize:   as.TotalSize,
			FileTypes:   as.FileTypes,
			AvgFileSize: as.AvgFileSize,
		}
	}
	for _, group := range stats.Duplicates {
		output.Duplicates = append(output.Duplicates, DuplicateInfo{
			Hash:  group.Hash,
			Size:  group.Size,
			Count: group.Count,
			Paths: s.relAll(group.Paths),
		})
	}
	output.Warnings = stats.Warnings

	return nil, output, nil
}

// handleArchiveVerify handles the archive_verify tool call.
func (s *Server) handleArchiveVerify(ctx context.Context, _ *mcp.CallToolRequest, _ ArchiveVerifyInput) (*mcp.CallToolResult, ArchiveVerifyOutput, error) {
	m, err := s.visibleManager()
	if err != nil {
		return nil, ArchiveVerifyOutput{}, err
	}

	// Fix mode is never exposed over MCP; repairs stay a CLI decision.
	report, err := m.Verify(ctx, false)
	if err != nil {
		return nil, ArchiveVerifyOutput{}, fmt.Errorf("failed to verify archives: %w", err)
	}

	output := ArchiveVerifyOutput{
		TotalFiles:      report.TotalFiles,
		CorruptedFiles:  s.relAll(report.CorruptedFiles),
		MissingMetadata: s.relAll(report.MissingMetadata),
		OrphanedKeys:    s.relAll(report.OrphanedKeys),
		Warnings:        report.Warnings,
	}
	output.Clean = len(output.CorruptedFiles) == 0 &&
		len(output.MissingMetadata) == 0 &&
		len(output.OrphanedKeys) == 0

	return nil, output, nil
}

// handleRecordRead handles the record_read tool call. Every call lands in
// the journal when one is attached, denied attempts included.
func (s *Server) handleRecordRead(_ context.Context, _ *mcp.CallToolRequest, input RecordReadInput) (*mcp.CallToolResult, RecordReadOutput, error) {
	output, err := s.readRecords(input)
	s.logRecordRead(input, output, err)
	if err != nil {
		return nil, RecordReadOutput{}, err
	}
	return nil, output, nil
}

// readRecords validates a record_read request against the policy and
// streams up to the capped number of records.
func (s *Server) readRecords(input RecordReadInput) (RecordReadOutput, error) {
	if s.policy == nil {
		return RecordReadOutput{}, errors.New("record_read requires an MCP policy. Create " + PolicyFileName + " in the data directory to enable it")
	}
	if !s.policy.AllowRecordRead {
		return RecordReadOutput{}, errors.New("record_read is not enabled by policy (set allow_record_read: true)")
	}

	if input.Archive == "" {
		return RecordReadOutput{}, errors.New("archive is required")
	}
	if input.File == "" {
		return RecordReadOutput{}, errors.New("file is required")
	}
	if input.File != filepath.Base(input.File) || strings.HasPrefix(input.File, ".") {
		return RecordReadOutput{}, errors.New("file must be a plain file name inside the archive")
	}

	if allowed, reason := s.policy.IsArchiveAllowed(input.Archive); !allowed {
		return RecordReadOutput{}, fmt.Errorf("archive not allowed by policy: %s", reason)
	}

	m, err := s.visibleManager()
	if err != nil {
		return RecordReadOutput{}, err
	}
	if !managedArchive(m, input.Archive) {
		return RecordReadOutput{}, fmt.Errorf("unknown archive: %s", input.Archive)
	}

	limit := input.Limit
	if limit <= 0 || limit > s.policy.MaxRecords {
		limit = s.policy.MaxRecords
	}

	path := filepath.Join(m.ArchivePath(input.Archive), input.File)
	// archive.Open would create a missing file; a read-only tool must not.
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return RecordReadOutput{}, fmt.Errorf("no such file in archive %s: %s", input.Archive, input.File)
		}
		return RecordReadOutput{}, fmt.Errorf("failed to stat archive file: %w", err)
	}

	a, err := archive.Open(path)
	if err != nil {
		return RecordReadOutput{}, fmt.Errorf("failed to open archive file: %w", err)
	}
	it, err := a.Iterate()
	if err != nil {
		return RecordReadOutput{}, fmt.Errorf("failed to read archive file: %w", err)
	}
	defer it.Close()

	output := RecordReadOutput{
		Archive: input.Archive,
		File:    input.File,
		Records: make([]RecordInfo, 0, limit),
	}
	for it.Next() {
		if len(output.Records) >= limit {
			output.Truncated = true
			break
		}
		rec := it.Record()
		payload, cut, err := previewPayload(rec.Payload, s.policy.MaxPreviewBytes)
		if err != nil {
			return RecordReadOutput{}, err
		}
		output.Records = append(output.Records, RecordInfo{
			Name:             rec.Name,
			Timestamp:        rec.Timestamp.Format(time.RFC3339Nano),
			Payload:          payload,
			PayloadTruncated: cut,
			Metadata:         rec.Metadata,
		})
	}
	if err := it.Err(); err != nil {
		return RecordReadOutput{}, fmt.Errorf("failed to read records: %w", err)
	}

	return output, nil
}

// previewPayload renders a payload as canonical JSON cut to at most max
// bytes. The cut lands on a rune boundary so the preview stays valid UTF-8.
func previewPayload(v archive.Value, max int) (payload string, truncated bool, err error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", false, fmt.Errorf("failed to encode payload: %w", err)
	}
	if len(b) <= max {
		return string(b), false, nil
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(b[cut]) {
		cut--
	}
	return string(b[:cut]), true, nil
}

// logRecordRead notes a content access in the journal. Best effort: a
// journal that cannot be written must not fail the read itself.
func (s *Server) logRecordRead(input RecordReadInput, output RecordReadOutput, opErr error) {
	if s.journal == nil {
		return
	}
	target := input.Archive + "/" + input.File
	if opErr != nil {
		_ = s.journal.LogError(journal.OpRecordRead, journal.SourceMCP, target, "operation_failed", opErr.Error())
		return
	}
	_ = s.journal.Log(journal.OpRecordRead, journal.SourceMCP, journal.ResultSuccess, target, nil,
		map[string]any{"records": len(output.Records), "truncated": output.Truncated})
}

// managedArchive reports whether the scoped manager carries the category.
func managedArchive(m *manager.Manager, name string) bool {
	for _, a := range m.Archives() {
		if a == name {
			return true
		}
	}
	return false
}

// relAll rewrites a path list relative to the data directory.
func (s *Server) relAll(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, s.relToData(p))
	}
	return out
}

// relToData rewrites an absolute tree path relative to the data directory,
// keeping agent-facing output free of host filesystem layout.
func (s *Server) relToData(path string) string {
	if path == "" {
		return ""
	}
	rel, err := filepath.Rel(s.dataDir, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}
