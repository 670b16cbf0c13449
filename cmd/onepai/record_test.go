package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/onepai/onepai/pkg/archive"
)

func TestIndexTrace(t *testing.T) {
	withDataDir(t, t.TempDir())

	rec := archive.NewRecord("layer3:attn", archive.Mapping(map[string]archive.Value{
		"weight": archive.Float(0.5),
	}))

	if err := indexTrace(rec, "data/treasures/run.onepai"); err != nil {
		t.Fatalf("indexTrace failed: %v", err)
	}

	r, err := openRegistry()
	if err != nil {
		t.Fatalf("failed to open registry: %v", err)
	}
	defer r.Close()

	traces, err := r.Get("layer3", 0)
	if err != nil {
		t.Fatalf("failed to query traces: %v", err)
	}
	if len(traces) != 1 {
		t.Fatalf("expected 1 trace, got %d", len(traces))
	}

	tr := traces[0]
	if tr.Source != "layer3:attn" {
		t.Errorf("source = %q, want %q", tr.Source, "layer3:attn")
	}
	if tr.Archive != "data/treasures/run.onepai" {
		t.Errorf("archive = %q, want %q", tr.Archive, "data/treasures/run.onepai")
	}
	if !tr.RecordedAt.Equal(rec.Timestamp) {
		t.Errorf("recorded at = %v, want %v", tr.RecordedAt, rec.Timestamp)
	}

	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	sum := sha256.Sum256(payload)
	if expected := hex.EncodeToString(sum[:]); tr.Checksum != expected {
		t.Errorf("checksum = %q, want %q", tr.Checksum, expected)
	}
}
