// Package manager operates on the archive tree as a whole.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/onepai/onepai/pkg/archive"
)

// newTestManager builds a manager rooted in a fresh temp directory.
func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(Config{DataDir: filepath.Join(t.TempDir(), "data")})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return m
}

// writeDoc writes a JSON document into a category.
func writeDoc(t *testing.T, m *Manager, category, name string, doc map[string]any) string {
	t.Helper()
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		t.Fatalf("failed to marshal document: %v", err)
	}
	path := filepath.Join(m.ArchivePath(category), name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("failed to write document: %v", err)
	}
	return path
}

func writeRaw(t *testing.T, m *Manager, category, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(m.ArchivePath(category), name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	return path
}

func TestNew(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	m, err := New(Config{DataDir: dataDir})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if m.DataDir() != dataDir {
		t.Errorf("expected data dir %s, got %s", dataDir, m.DataDir())
	}

	archives := m.Archives()
	if len(archives) != len(DefaultArchives) {
		t.Fatalf("expected %d default archives, got %d", len(DefaultArchives), len(archives))
	}
	for _, name := range archives {
		info, err := os.Stat(m.ArchivePath(name))
		if err != nil {
			t.Errorf("expected archive dir %s to exist: %v", name, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("expected %s to be a directory", name)
		}
	}
}

func TestNewRequiresDataDir(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for empty data dir")
	}
}

func TestNewCustomArchives(t *testing.T) {
	m, err := New(Config{
		DataDir:  filepath.Join(t.TempDir(), "data"),
		Archives: []string{"alpha", "beta"},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	archives := m.Archives()
	if len(archives) != 2 || archives[0] != "alpha" || archives[1] != "beta" {
		t.Errorf("unexpected archives: %v", archives)
	}
}

func TestList(t *testing.T) {
	m := newTestManager(t)

	older := writeDoc(t, m, "treasures", "older.json", map[string]any{"content": "a"})
	newer := writeDoc(t, m, "treasures", "newer.json", map[string]any{"content": "b"})
	writeRaw(t, m, "shadows", "trace.shadow", []byte("shadow data"))

	// Dotfiles and nested directories are not listed
	writeRaw(t, m, "treasures", ".hidden", []byte("x"))
	if err := os.MkdirAll(filepath.Join(m.ArchivePath("treasures"), "nested"), 0700); err != nil {
		t.Fatalf("failed to create nested dir: %v", err)
	}

	// Force a stable ordering
	now := time.Now()
	if err := os.Chtimes(older, now.Add(-2*time.Hour), now.Add(-2*time.Hour)); err != nil {
		t.Fatalf("failed to set mtime: %v", err)
	}
	if err := os.Chtimes(newer, now, now); err != nil {
		t.Fatalf("failed to set mtime: %v", err)
	}

	listing, err := m.List("", "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	if len(listing.Files) != len(DefaultArchives) {
		t.Errorf("expected %d categories, got %d", len(DefaultArchives), len(listing.Files))
	}

	treasures := listing.Files["treasures"]
	if len(treasures) != 2 {
		t.Fatalf("expected 2 treasures, got %d", len(treasures))
	}
	if treasures[0].Name != "newer.json" {
		t.Errorf("expected newest first, got %s", treasures[0].Name)
	}
	if treasures[0].Type != "record" {
		t.Errorf("expected type record, got %s", treasures[0].Type)
	}

	shadows := listing.Files["shadows"]
	if len(shadows) != 1 || shadows[0].Type != "shadow" {
		t.Errorf("unexpected shadows listing: %+v", shadows)
	}

	// Empty categories come back as empty slices, not nil lookups
	if listing.Files["voids"] == nil {
		t.Error("expected empty slice for empty category")
	}
}

func TestListSingleArchive(t *testing.T) {
	m := newTestManager(t)
	writeDoc(t, m, "silences", "gap.json", map[string]any{"content": "quiet"})

	listing, err := m.List("silences", "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(listing.Files) != 1 {
		t.Fatalf("expected 1 category, got %d", len(listing.Files))
	}
	if len(listing.Files["silences"]) != 1 {
		t.Errorf("expected 1 file, got %d", len(listing.Files["silences"]))
	}

	if _, err := m.List("nonexistent", ""); !errors.Is(err, ErrUnknownArchive) {
		t.Errorf("expected ErrUnknownArchive, got %v", err)
	}
}

func TestListFilters(t *testing.T) {
	m := newTestManager(t)

	writeDoc(t, m, "treasures", "tagged.json", map[string]any{
		"content": "observation",
		"metadata": map[string]any{
			"type": "observation",
			"tags": []string{"sparse", "residual"},
		},
	})
	writeRaw(t, m, "treasures", "blob.shadow", []byte(strings.Repeat("x", 500)))

	cases := []struct {
		name   string
		filter string
		want   []string
	}{
		{"by inferred type", "type:shadow", []string{"blob.shadow"}},
		{"by document type", "type:observation", []string{"tagged.json"}},
		{"by tag", "tag:sparse", []string{"tagged.json"}},
		{"by date today", "date:" + time.Now().Format("2006-01-02"), []string{"tagged.json", "blob.shadow"}},
		{"by size greater", "size:>400", []string{"blob.shadow"}},
		{"by size less", "size:<400", []string{"tagged.json"}},
		{"by size exact", "size:=500", []string{"blob.shadow"}},
		{"no match", "tag:missing", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			listing, err := m.List("treasures", tc.filter)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			got := listing.Files["treasures"]
			if len(got) != len(tc.want) {
				t.Fatalf("expected %d files, got %d: %+v", len(tc.want), len(got), got)
			}
			for _, want := range tc.want {
				found := false
				for _, info := range got {
					if info.Name == want {
						found = true
						break
					}
				}
				if !found {
					t.Errorf("expected %s in results", want)
				}
			}
		})
	}
}

func TestParseFilter(t *testing.T) {
	cases := []struct {
		input   string
		wantErr bool
	}{
		{"", false},
		{"type:record", false},
		{"tag:sparse", false},
		{"date:2024-01-01", false},
		{"size:>100", false},
		{"size:100", true},    // missing comparison operator
		{"size:>abc", true},   // not a number
		{"owner:me", true},    // unknown field
		{"noseparator", true}, // no field:value shape
	}

	for _, tc := range cases {
		f, err := ParseFilter(tc.input)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseFilter(%q): expected error", tc.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseFilter(%q): unexpected error: %v", tc.input, err)
			continue
		}
		if tc.input == "" && f != nil {
			t.Error("expected nil filter for empty input")
		}
	}
}

func TestClean(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	old := writeDoc(t, m, "treasures", "old.json", map[string]any{"content": "stale"})
	fresh := writeDoc(t, m, "treasures", "fresh.json", map[string]any{"content": "new"})

	// Nested artifacts age out too
	nestedDir := filepath.Join(m.ArchivePath("shadows"), "derived")
	if err := os.MkdirAll(nestedDir, 0700); err != nil {
		t.Fatalf("failed to create nested dir: %v", err)
	}
	nested := filepath.Join(nestedDir, "artifact.bin")
	if err := os.WriteFile(nested, []byte("derived"), 0600); err != nil {
		t.Fatalf("failed to write nested file: %v", err)
	}

	stale := time.Now().Add(-10 * 24 * time.Hour)
	for _, path := range []string{old, nested} {
		if err := os.Chtimes(path, stale, stale); err != nil {
			t.Fatalf("failed to age %s: %v", path, err)
		}
	}

	// Dry run reports without deleting
	result, err := m.Clean(ctx, CleanOptions{OlderThanDays: 7, DryRun: true})
	if err != nil {
		t.Fatalf("Clean dry run failed: %v", err)
	}
	if !result.DryRun {
		t.Error("expected DryRun to be set")
	}
	if len(result.Removed["treasures"]) != 1 || len(result.Removed["shadows"]) != 1 {
		t.Errorf("unexpected dry run candidates: %+v", result.Removed)
	}
	if _, err := os.Stat(old); err != nil {
		t.Error("dry run must not delete files")
	}

	// Real run deletes the aged files only
	result, err = m.Clean(ctx, CleanOptions{OlderThanDays: 7})
	if err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	if len(result.Removed["treasures"]) != 1 {
		t.Errorf("expected 1 removed treasure, got %v", result.Removed["treasures"])
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("expected aged file to be removed")
	}
	if _, err := os.Stat(nested); !os.IsNotExist(err) {
		t.Error("expected aged nested file to be removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("expected fresh file to survive")
	}
}

func TestCleanSingleArchive(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	stale := time.Now().Add(-48 * time.Hour)
	inTreasures := writeDoc(t, m, "treasures", "a.json", map[string]any{})
	inShadows := writeRaw(t, m, "shadows", "b.shadow", []byte("x"))
	for _, path := range []string{inTreasures, inShadows} {
		if err := os.Chtimes(path, stale, stale); err != nil {
			t.Fatalf("failed to age %s: %v", path, err)
		}
	}

	if _, err := m.Clean(ctx, CleanOptions{OlderThanDays: 1, Archive: "shadows"}); err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	if _, err := os.Stat(inTreasures); err != nil {
		t.Error("expected treasures to be untouched")
	}
	if _, err := os.Stat(inShadows); !os.IsNotExist(err) {
		t.Error("expected shadows file to be removed")
	}
}

func TestCleanRejectsBadRetention(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Clean(context.Background(), CleanOptions{OlderThanDays: 0}); err == nil {
		t.Error("expected error for zero retention")
	}
	if _, err := m.Clean(context.Background(), CleanOptions{OlderThanDays: -3}); err == nil {
		t.Error("expected error for negative retention")
	}
}

func TestVerifyMissingMetadata(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	bare := writeDoc(t, m, "treasures", "bare.json", map[string]any{"content": "no metadata"})
	writeDoc(t, m, "treasures", "full.json", map[string]any{
		"content":  "has metadata",
		"metadata": map[string]any{"id": "full", "type": "observation"},
	})

	report, err := m.Verify(ctx, false)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if report.TotalFiles != 2 {
		t.Errorf("expected 2 files, got %d", report.TotalFiles)
	}
	if len(report.MissingMetadata) != 1 {
		t.Fatalf("expected 1 missing metadata, got %v", report.MissingMetadata)
	}
	if len(report.FixedIssues) != 0 {
		t.Errorf("expected no fixes without fix mode, got %v", report.FixedIssues)
	}

	// Fix mode synthesizes a metadata block
	report, err = m.Verify(ctx, true)
	if err != nil {
		t.Fatalf("Verify with fix failed: %v", err)
	}
	if len(report.FixedIssues) != 1 {
		t.Fatalf("expected 1 fix, got %v", report.FixedIssues)
	}

	data, err := os.ReadFile(bare)
	if err != nil {
		t.Fatalf("failed to read fixed document: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("fixed document is not valid JSON: %v", err)
	}
	meta, ok := doc["metadata"].(map[string]any)
	if !ok {
		t.Fatal("expected metadata block after fix")
	}
	if meta["id"] != "bare" {
		t.Errorf("expected id 'bare', got %v", meta["id"])
	}
	if meta["type"] != "unknown" {
		t.Errorf("expected type 'unknown', got %v", meta["type"])
	}

	// A second pass finds nothing to report
	report, err = m.Verify(ctx, false)
	if err != nil {
		t.Fatalf("re-Verify failed: %v", err)
	}
	if len(report.MissingMetadata) != 0 {
		t.Errorf("expected no missing metadata after fix, got %v", report.MissingMetadata)
	}
}

func TestVerifyCorruptedDocument(t *testing.T) {
	m := newTestManager(t)

	writeRaw(t, m, "treasures", "broken.json", []byte("{not json"))

	report, err := m.Verify(context.Background(), true)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if len(report.CorruptedFiles) != 1 {
		t.Fatalf("expected 1 corrupted file, got %v", report.CorruptedFiles)
	}
	// Corrupted documents are reported, never rewritten
	data, _ := os.ReadFile(filepath.Join(m.ArchivePath("treasures"), "broken.json"))
	if string(data) != "{not json" {
		t.Error("expected corrupted document to be left untouched")
	}
}

func TestVerifyOrphanedKey(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	orphan := writeRaw(t, m, "voids", "lost.key", []byte("password"))
	writeRaw(t, m, "voids", "paired.key", []byte("password"))
	writeRaw(t, m, "voids", "paired.encrypted", []byte("blob"))

	report, err := m.Verify(ctx, false)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if len(report.OrphanedKeys) != 1 {
		t.Fatalf("expected 1 orphaned key, got %v", report.OrphanedKeys)
	}
	if report.OrphanedKeys[0] != orphan {
		t.Errorf("expected orphan %s, got %s", orphan, report.OrphanedKeys[0])
	}

	// Fix removes the orphan and keeps the pair
	if _, err := m.Verify(ctx, true); err != nil {
		t.Fatalf("Verify with fix failed: %v", err)
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Error("expected orphaned key to be removed")
	}
	if _, err := os.Stat(filepath.Join(m.ArchivePath("voids"), "paired.key")); err != nil {
		t.Error("expected paired key to survive")
	}
}

func TestVerifyRecordArchive(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	path := filepath.Join(m.ArchivePath("treasures"), "traces.onepai")
	a, err := archive.Open(path)
	if err != nil {
		t.Fatalf("archive.Open failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		rec := archive.NewRecord("trace", archive.Mapping(map[string]archive.Value{
			"layer": archive.Int(int64(i)),
		}))
		if err := a.Append(rec); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	// Intact archives pass
	report, err := m.Verify(ctx, false)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if len(report.CorruptedFiles) != 0 {
		t.Fatalf("expected intact archive, got %v", report.CorruptedFiles)
	}

	// Truncate into the middle of the last frame
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if err := os.Truncate(path, info.Size()-5); err != nil {
		t.Fatalf("truncate failed: %v", err)
	}

	report, err = m.Verify(ctx, false)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if len(report.CorruptedFiles) != 1 {
		t.Fatalf("expected 1 corrupted archive, got %v", report.CorruptedFiles)
	}

	// Fix salvages the valid prefix
	report, err = m.Verify(ctx, true)
	if err != nil {
		t.Fatalf("Verify with fix failed: %v", err)
	}
	if len(report.FixedIssues) != 1 {
		t.Fatalf("expected 1 fix, got %v", report.FixedIssues)
	}

	count, err := archive.Scan(path)
	if err != nil {
		t.Fatalf("expected salvaged archive to scan cleanly: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 salvaged records, got %d", count)
	}
}

func TestStatistics(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	writeDoc(t, m, "treasures", "a.json", map[string]any{"content": "one"})
	writeDoc(t, m, "treasures", "b.json", map[string]any{"content": "two"})
	writeRaw(t, m, "shadows", "s.shadow", []byte("shadow bytes"))

	stats, err := m.Statistics(ctx, false)
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}

	if stats.Summary.TotalArchives != len(DefaultArchives) {
		t.Errorf("expected %d archives, got %d", len(DefaultArchives), stats.Summary.TotalArchives)
	}
	if stats.Summary.TotalFiles != 3 {
		t.Errorf("expected 3 files, got %d", stats.Summary.TotalFiles)
	}
	if stats.Summary.TotalSizeBytes == 0 {
		t.Error("expected non-zero total size")
	}

	treasures := stats.ByArchive["treasures"]
	if treasures == nil || treasures.FileCount != 2 {
		t.Fatalf("unexpected treasures stats: %+v", treasures)
	}
	if treasures.FileTypes["record"] != 2 {
		t.Errorf("expected 2 record files, got %d", treasures.FileTypes["record"])
	}
	if treasures.AvgFileSize <= 0 {
		t.Error("expected positive average file size")
	}
	if len(treasures.Files) != 0 {
		t.Error("expected no per-file detail without detailed mode")
	}
}

func TestStatisticsDuplicates(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	shared := []byte("identical content")
	writeRaw(t, m, "treasures", "copy1.bin", shared)
	writeRaw(t, m, "shadows", "copy2.bin", shared)
	writeRaw(t, m, "voids", "unique.bin", []byte("different"))

	// Empty files are never counted as duplicates of each other
	writeRaw(t, m, "silences", "empty1", nil)
	writeRaw(t, m, "silences", "empty2", nil)

	stats, err := m.Statistics(ctx, true)
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}

	if len(stats.Duplicates) != 1 {
		t.Fatalf("expected 1 duplicate group, got %d", len(stats.Duplicates))
	}
	group := stats.Duplicates[0]
	if group.Count != 2 || len(group.Paths) != 2 {
		t.Errorf("unexpected group: %+v", group)
	}
	if group.Size != int64(len(shared)) {
		t.Errorf("expected size %d, got %d", len(shared), group.Size)
	}

	if len(stats.ByArchive["treasures"].Files) != 1 {
		t.Error("expected per-file detail in detailed mode")
	}
}
