package mcp

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/onepai/onepai/pkg/archive"
	"github.com/onepai/onepai/pkg/manager"
)

func TestPreviewPayload(t *testing.T) {
	tests := []struct {
		name      string
		value     archive.Value
		max       int
		expected  string
		truncated bool
	}{
		{
			name:      "fits",
			value:     archive.String("short"),
			max:       100,
			expected:  `"short"`,
			truncated: false,
		},
		{
			name:      "exact fit",
			value:     archive.String("abc"),
			max:       5, // len(`"abc"`)
			expected:  `"abc"`,
			truncated: false,
		},
		{
			name:      "cut",
			value:     archive.String("abcdefghij"),
			max:       5,
			expected:  `"abcd`,
			truncated: true,
		},
		{
			name:      "null scalar",
			value:     archive.Null(),
			max:       10,
			expected:  "null",
			truncated: false,
		},
		{
			name: "mapping keys sorted",
			value: archive.Mapping(map[string]archive.Value{
				"b": archive.Int(2),
				"a": archive.Int(1),
			}),
			max:       100,
			expected:  `{"a":1,"b":2}`,
			truncated: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, truncated, err := previewPayload(tt.value, tt.max)
			if err != nil {
				t.Fatalf("previewPayload failed: %v", err)
			}
			if payload != tt.expected {
				t.Errorf("previewPayload = %q, want %q", payload, tt.expected)
			}
			if truncated != tt.truncated {
				t.Errorf("truncated = %v, want %v", truncated, tt.truncated)
			}
		})
	}
}

func TestPreviewPayload_RuneBoundary(t *testing.T) {
	// Each 日 is three bytes; the JSON form is `"日日..."`
	value := archive.String(strings.Repeat("日", 10))

	for max := 1; max <= 12; max++ {
		payload, truncated, err := previewPayload(value, max)
		if err != nil {
			t.Fatalf("previewPayload failed at max %d: %v", max, err)
		}
		if !truncated {
			t.Fatalf("expected truncation at max %d", max)
		}
		if len(payload) > max {
			t.Errorf("max %d: preview is %d bytes", max, len(payload))
		}
		if !utf8.ValidString(payload) {
			t.Errorf("max %d: preview is not valid UTF-8: %q", max, payload)
		}
	}
}

func TestToArchiveFile(t *testing.T) {
	modified := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)
	info := manager.FileInfo{
		Name:         "finding.json",
		Path:         "/anywhere/treasures/finding.json",
		Size:         421,
		Modified:     modified,
		Type:         "record",
		DocType:      "observation",
		Significance: 0.9,
		Tags:         []string{"sparse"},
		Source:       "layer4:head3",
	}

	got := toArchiveFile("treasures", info)

	if got.Archive != "treasures" {
		t.Errorf("archive = %s, want treasures", got.Archive)
	}
	if got.Name != "finding.json" {
		t.Errorf("name = %s, want finding.json", got.Name)
	}
	if got.Size != 421 {
		t.Errorf("size = %d, want 421", got.Size)
	}
	if got.Modified != modified.Format(time.RFC3339) {
		t.Errorf("modified = %s, want %s", got.Modified, modified.Format(time.RFC3339))
	}
	if got.DocType != "observation" {
		t.Errorf("doc type = %s, want observation", got.DocType)
	}
	if got.Significance != 0.9 {
		t.Errorf("significance = %v, want 0.9", got.Significance)
	}
}

func TestRelToData(t *testing.T) {
	s := &Server{dataDir: "data"}

	tests := []struct {
		path     string
		expected string
	}{
		{"", ""},
		{"data/treasures/finding.json", "treasures/finding.json"},
		{"data/shadows/nested/trace.shadow", "shadows/nested/trace.shadow"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := s.relToData(tt.path); got != tt.expected {
				t.Errorf("relToData(%q) = %q, want %q", tt.path, got, tt.expected)
			}
		})
	}
}

func TestRelAll(t *testing.T) {
	s := &Server{dataDir: "data"}

	if got := s.relAll(nil); got != nil {
		t.Errorf("expected nil for empty input, got %v", got)
	}

	got := s.relAll([]string{"data/voids/a.json", "data/voids/b.json"})
	if len(got) != 2 || got[0] != "voids/a.json" || got[1] != "voids/b.json" {
		t.Errorf("unexpected paths: %v", got)
	}
}

func TestManagedArchive(t *testing.T) {
	m, err := manager.New(manager.Config{DataDir: t.TempDir(), Archives: []string{"treasures", "shadows"}})
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	if !managedArchive(m, "treasures") {
		t.Error("expected treasures to be managed")
	}
	if managedArchive(m, "voids") {
		t.Error("expected voids to not be managed")
	}
}
