// Package journal records archive operations in an append-only log with
// an HMAC chain for tamper detection.
package journal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestOpen(t *testing.T) {
	tmpDir := t.TempDir()
	j, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if j.Path() != tmpDir {
		t.Errorf("expected path %s, got %s", tmpDir, j.Path())
	}
	if j.prevHash != "genesis" {
		t.Errorf("expected prevHash 'genesis', got %s", j.prevHash)
	}
	if j.sessionID == "" {
		t.Error("expected non-empty sessionID")
	}
	if len(j.hmacKey) != 32 {
		t.Errorf("expected hmacKey length 32, got %d", len(j.hmacKey))
	}

	// Opening must create the key file with restricted permissions
	keyPath := filepath.Join(tmpDir, "journal.key")
	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("expected key file to exist: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected key file mode 0600, got %v", info.Mode().Perm())
	}
}

func TestOpenReusesKey(t *testing.T) {
	tmpDir := t.TempDir()

	j1, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	j2, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}

	if string(j1.hmacKey) != string(j2.hmacKey) {
		t.Error("expected both journals to derive the same signing key")
	}
}

func TestLogSuccess(t *testing.T) {
	tmpDir := t.TempDir()
	j, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := j.LogSuccess(OpBackupCreate, SourceCLI, "onepai_backup_20240101_120000.tar.gz"); err != nil {
		t.Fatalf("LogSuccess failed: %v", err)
	}

	// Verify log file was created
	files, err := filepath.Glob(filepath.Join(tmpDir, "*.jsonl"))
	if err != nil {
		t.Fatalf("failed to list log files: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 log file, got %d", len(files))
	}

	// Read and parse the log entry
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	var event Event
	if err := json.Unmarshal(data[:len(data)-1], &event); err != nil { // -1 to remove trailing newline
		t.Fatalf("failed to parse log entry: %v", err)
	}

	if event.Version != 1 {
		t.Errorf("expected version 1, got %d", event.Version)
	}
	if event.Operation != OpBackupCreate {
		t.Errorf("expected operation %s, got %s", OpBackupCreate, event.Operation)
	}
	if event.Result != ResultSuccess {
		t.Errorf("expected result %s, got %s", ResultSuccess, event.Result)
	}
	if event.Target != "onepai_backup_20240101_120000.tar.gz" {
		t.Errorf("unexpected target %s", event.Target)
	}
	if event.Actor.Source != SourceCLI {
		t.Errorf("expected source %s, got %s", SourceCLI, event.Actor.Source)
	}
	if event.Chain.Sequence != 1 {
		t.Errorf("expected sequence 1, got %d", event.Chain.Sequence)
	}
	if event.Chain.PrevHash != "genesis" {
		t.Errorf("expected prevHash 'genesis', got %s", event.Chain.PrevHash)
	}
	if event.Chain.HMAC == "" {
		t.Error("expected non-empty HMAC")
	}
}

func TestLogError(t *testing.T) {
	tmpDir := t.TempDir()
	j, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := j.LogError(OpBackupRestore, SourceManager, "backup.tar.gz", "operation_failed", "password required"); err != nil {
		t.Fatalf("LogError failed: %v", err)
	}

	files, _ := filepath.Glob(filepath.Join(tmpDir, "*.jsonl"))
	data, _ := os.ReadFile(files[0])

	var event Event
	json.Unmarshal(data[:len(data)-1], &event)

	if event.Result != ResultError {
		t.Errorf("expected result %s, got %s", ResultError, event.Result)
	}
	if event.Error == nil {
		t.Error("expected error info to be set")
	} else {
		if event.Error.Code != "operation_failed" {
			t.Errorf("expected error code operation_failed, got %s", event.Error.Code)
		}
		if event.Error.Message != "password required" {
			t.Errorf("expected error message 'password required', got %s", event.Error.Message)
		}
	}
}

func TestChainIntegrity(t *testing.T) {
	tmpDir := t.TempDir()
	j, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	// Log multiple events
	for i := 0; i < 5; i++ {
		if err := j.LogSuccess(OpArchiveClean, SourceCLI, "treasures"); err != nil {
			t.Fatalf("LogSuccess failed on iteration %d: %v", i, err)
		}
	}

	result, err := j.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	if !result.Valid {
		t.Errorf("expected valid chain, got errors: %v", result.Errors)
	}
	if result.RecordsTotal != 5 {
		t.Errorf("expected 5 records, got %d", result.RecordsTotal)
	}
	if result.RecordsVerified != 5 {
		t.Errorf("expected 5 verified records, got %d", result.RecordsVerified)
	}
}

func TestChainPersistence(t *testing.T) {
	tmpDir := t.TempDir()

	// First session: log some events
	j1, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := j1.LogSuccess(OpArchiveExport, SourceCLI, "export.json"); err != nil {
			t.Fatalf("LogSuccess failed: %v", err)
		}
	}

	// Second session: continue the chain
	j2, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := j2.LogSuccess(OpArchiveImport, SourceCLI, "export.json"); err != nil {
			t.Fatalf("LogSuccess failed: %v", err)
		}
	}

	// Verify entire chain
	result, err := j2.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	if !result.Valid {
		t.Errorf("expected valid chain after session resume, got errors: %v", result.Errors)
	}
	if result.RecordsTotal != 5 {
		t.Errorf("expected 5 total records, got %d", result.RecordsTotal)
	}
}

func TestGenerateEventID(t *testing.T) {
	id1 := generateEventID()
	id2 := generateEventID()

	if id1 == "" {
		t.Error("expected non-empty event ID")
	}
	if len(id1) != 32 { // 16 bytes * 2 (hex encoding)
		t.Errorf("expected event ID length 32, got %d", len(id1))
	}
	if id1 == id2 {
		t.Error("expected unique event IDs")
	}
}

func TestGenerateSessionID(t *testing.T) {
	id1 := generateSessionID()
	id2 := generateSessionID()

	if id1 == "" {
		t.Error("expected non-empty session ID")
	}
	if id1 == id2 {
		t.Error("expected unique session IDs")
	}
}

// TestTamperingDetection tests that the HMAC chain detects various forms
// of after-the-fact edits to the log files.
func TestTamperingDetection(t *testing.T) {
	t.Run("detect modified record", func(t *testing.T) {
		tmpDir := t.TempDir()
		j, err := Open(tmpDir)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}

		for i := 0; i < 3; i++ {
			if err := j.LogSuccess(OpBackupCreate, SourceCLI, "backup-one"); err != nil {
				t.Fatalf("LogSuccess failed: %v", err)
			}
		}

		result, err := j.Verify()
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if !result.Valid {
			t.Fatalf("expected valid chain before tampering: %v", result.Errors)
		}

		// Change one record's operation in place
		files, _ := filepath.Glob(filepath.Join(tmpDir, "*.jsonl"))
		if len(files) == 0 {
			t.Fatal("no log files found")
		}
		data, err := os.ReadFile(files[0])
		if err != nil {
			t.Fatalf("failed to read log file: %v", err)
		}
		tampered := strings.Replace(string(data), "backup.create", "backup.restore", 1)
		if err := os.WriteFile(files[0], []byte(tampered), 0600); err != nil {
			t.Fatalf("failed to write tampered file: %v", err)
		}

		result, err = j.Verify()
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if result.Valid {
			t.Error("expected invalid chain after tampering, but verification passed")
		}
		if len(result.Errors) == 0 {
			t.Error("expected errors to be reported")
		}
	})

	t.Run("detect deleted record (chain break)", func(t *testing.T) {
		tmpDir := t.TempDir()
		j, err := Open(tmpDir)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}

		for i := 0; i < 5; i++ {
			if err := j.LogSuccess(OpArchiveVerify, SourceCLI, "all"); err != nil {
				t.Fatalf("LogSuccess failed: %v", err)
			}
		}

		// Remove the middle line
		files, _ := filepath.Glob(filepath.Join(tmpDir, "*.jsonl"))
		data, _ := os.ReadFile(files[0])
		lines := strings.SplitAfter(string(data), "\n")
		shortened := strings.Join(append(lines[:2], lines[3:]...), "")
		if err := os.WriteFile(files[0], []byte(shortened), 0600); err != nil {
			t.Fatalf("failed to write modified file: %v", err)
		}

		result, err := j.Verify()
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if result.Valid {
			t.Error("expected invalid chain after record deletion")
		}
	})

	t.Run("detect wrong signing key", func(t *testing.T) {
		tmpDir := t.TempDir()
		j, err := Open(tmpDir)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}

		for i := 0; i < 3; i++ {
			if err := j.LogSuccess(OpRecordAppend, SourceCLI, "treasures.onepai"); err != nil {
				t.Fatalf("LogSuccess failed: %v", err)
			}
		}

		// Replace the key file so the next Open derives a different key
		if err := os.Remove(filepath.Join(tmpDir, "journal.key")); err != nil {
			t.Fatalf("failed to remove key file: %v", err)
		}

		j2, err := Open(tmpDir)
		if err != nil {
			t.Fatalf("second Open failed: %v", err)
		}

		result, err := j2.Verify()
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if result.Valid {
			t.Error("expected invalid chain with replaced signing key")
		}
	})

	t.Run("detect inserted record", func(t *testing.T) {
		tmpDir := t.TempDir()
		j, err := Open(tmpDir)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}

		for i := 0; i < 3; i++ {
			if err := j.LogSuccess(OpBackupCreate, SourceCLI, "backup-two"); err != nil {
				t.Fatalf("LogSuccess failed: %v", err)
			}
		}

		// Splice a fabricated event after the first line
		files, _ := filepath.Glob(filepath.Join(tmpDir, "*.jsonl"))
		data, _ := os.ReadFile(files[0])
		fakeEvent := `{"v":1,"id":"fake123","ts":"2025-01-01T00:00:00Z","op":"backup.create","actor":{"type":"user","source":"cli","session_id":"fake"},"result":"success","chain":{"seq":999,"prev":"fake_prev","hmac":"fake_hmac"}}` + "\n"
		lines := strings.SplitAfter(string(data), "\n")
		spliced := lines[0] + fakeEvent + strings.Join(lines[1:], "")
		if err := os.WriteFile(files[0], []byte(spliced), 0600); err != nil {
			t.Fatalf("failed to write modified file: %v", err)
		}

		result, err := j.Verify()
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if result.Valid {
			t.Error("expected invalid chain after record insertion")
		}
	})
}

// TestVerifyEmptyJournal tests verification behavior with no records
func TestVerifyEmptyJournal(t *testing.T) {
	tmpDir := t.TempDir()
	j, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	result, err := j.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Valid {
		t.Errorf("expected valid result for empty journal: %v", result.Errors)
	}
	if result.RecordsTotal != 0 {
		t.Errorf("expected 0 records, got %d", result.RecordsTotal)
	}
}

// TestList tests event listing with limit and since filters
func TestList(t *testing.T) {
	tmpDir := t.TempDir()
	j, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	_ = j.LogSuccess(OpBackupCreate, SourceCLI, "b1")
	_ = j.LogSuccess(OpArchiveClean, SourceManager, "treasures")
	_ = j.LogError(OpBackupRestore, SourceCLI, "b1", "operation_failed", "conflict")
	_ = j.LogSuccess(OpArchiveExport, SourceMCP, "export.json")
	_ = j.LogSuccess(OpRecordAppend, SourceCLI, "treasures.onepai")

	var zeroTime time.Time
	events, err := j.List(100, zeroTime)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(events) != 5 {
		t.Errorf("expected 5 events, got %d", len(events))
	}

	// Limit keeps the most recent events
	events, err = j.List(2, zeroTime)
	if err != nil {
		t.Fatalf("List with limit failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[1].Operation != OpRecordAppend {
		t.Errorf("expected newest event last, got %s", events[1].Operation)
	}

	// Since in the future filters everything out
	events, err = j.List(100, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("List with since failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected 0 events after future cutoff, got %d", len(events))
	}
}

func TestExportJSON(t *testing.T) {
	tmpDir := t.TempDir()
	j, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	_ = j.LogSuccess(OpBackupCreate, SourceCLI, "b1")
	_ = j.LogSuccess(OpArchiveClean, SourceCLI, "shadows")

	var zero time.Time
	data, err := j.Export("json", zero, zero)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("expected 2 exported events, got %d", len(events))
	}
}

func TestExportCSV(t *testing.T) {
	tmpDir := t.TempDir()
	j, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	// A target starting with '=' must be quoted in the CSV output
	_ = j.LogSuccess(OpArchiveImport, SourceCLI, "=cmd()")

	var zero time.Time
	data, err := j.Export("csv", zero, zero)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	out := string(data)
	if !strings.HasPrefix(out, "timestamp,operation,target,result\n") {
		t.Errorf("unexpected CSV header in %q", out)
	}
	if !strings.Contains(out, `"=cmd()"`) {
		t.Errorf("expected formula target to be quoted, got %q", out)
	}

	if _, err := j.Export("xml", zero, zero); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestPrune(t *testing.T) {
	tmpDir := t.TempDir()
	j, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	for i := 0; i < 4; i++ {
		if err := j.LogSuccess(OpArchiveClean, SourceCLI, "voids"); err != nil {
			t.Fatalf("LogSuccess failed: %v", err)
		}
	}

	// Nothing is older than an hour yet
	count, err := j.PrunePreview(time.Hour)
	if err != nil {
		t.Fatalf("PrunePreview failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 prunable events, got %d", count)
	}

	// A negative retention puts the cutoff in the future, covering all
	count, err = j.PrunePreview(-time.Hour)
	if err != nil {
		t.Fatalf("PrunePreview failed: %v", err)
	}
	if count != 4 {
		t.Errorf("expected 4 prunable events, got %d", count)
	}

	deleted, err := j.Prune(-time.Hour)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if deleted != 4 {
		t.Errorf("expected 4 deleted events, got %d", deleted)
	}

	files, _ := filepath.Glob(filepath.Join(tmpDir, "*.jsonl"))
	if len(files) != 0 {
		t.Errorf("expected log files to be removed, found %d", len(files))
	}
}
