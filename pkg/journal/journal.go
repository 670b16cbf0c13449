// Package journal records archive operations in an append-only log with
// an HMAC chain for tamper detection. Events are grouped into monthly
// JSON Lines files; the chain state and the signing key live beside them.
package journal

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"
)

// MinDiskSpace is the least free space required before a write.
const MinDiskSpace = 1024 * 1024

// Operation types recorded in the journal
const (
	OpBackupCreate  = "backup.create"
	OpBackupRestore = "backup.restore"

	OpArchiveClean  = "archive.clean"
	OpArchiveVerify = "archive.verify"
	OpArchiveExport = "archive.export"
	OpArchiveImport = "archive.import"

	OpRecordAppend = "record.append"
	OpRecordRead   = "record.read"
)

// Source identifies where the operation originated
const (
	SourceCLI     = "cli"
	SourceMCP     = "mcp"
	SourceManager = "manager"
)

// Result indicates the outcome of an operation
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

const (
	keyFileName  = "journal.key"
	metaFileName = "journal.meta"
	hkdfInfo     = "onepai-journal-v1"
	chainGenesis = "genesis"
	keyLength    = 32
)

// Event is a single journal record.
type Event struct {
	Version   int    `json:"v"`  // Schema version (1)
	ID        string `json:"id"` // Time-sortable event ID
	Timestamp string `json:"ts"` // RFC 3339 nanosecond precision

	Operation string `json:"op"`
	Target    string `json:"target,omitempty"` // Path or category the op acted on

	Actor Actor `json:"actor"`

	Result string     `json:"result"`
	Error  *ErrorInfo `json:"error,omitempty"`

	Context map[string]any `json:"ctx,omitempty"`

	Chain Chain `json:"chain"`
}

// Actor identifies what initiated the operation.
type Actor struct {
	Type      string `json:"type"`   // user | system
	Source    string `json:"source"` // cli | mcp | manager
	SessionID string `json:"session_id"`
}

// ErrorInfo contains error details for failed operations.
type ErrorInfo struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Chain provides the HMAC chain for tamper detection.
type Chain struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
	HMAC     string `json:"hmac"`
}

// Journal writes HMAC-chained events into a directory of monthly files.
type Journal struct {
	dir       string
	hmacKey   []byte
	mu        sync.Mutex // Protects concurrent writes
	sequence  int64
	prevHash  string
	sessionID string
}

// Open creates or reopens the journal in dir. The signing key is
// generated on first use and kept beside the log files; the chain
// continues from the persisted state in journal.meta.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("journal: failed to create directory: %w", err)
	}
	key, err := loadOrCreateKey(filepath.Join(dir, keyFileName))
	if err != nil {
		return nil, err
	}

	// Derive the signing key so the raw key file never signs directly
	r := hkdf.New(sha256.New, key, nil, []byte(hkdfInfo))
	hmacKey := make([]byte, keyLength)
	if _, err := io.ReadFull(r, hmacKey); err != nil {
		return nil, fmt.Errorf("journal: failed to derive signing key: %w", err)
	}

	j := &Journal{
		dir:       dir,
		hmacKey:   hmacKey,
		prevHash:  chainGenesis,
		sessionID: generateSessionID(),
	}
	if err := j.loadChainState(); err != nil {
		// First run or missing metadata: start a fresh chain
		j.sequence = 0
		j.prevHash = chainGenesis
	}
	return j, nil
}

// loadOrCreateKey reads the journal key, creating it on first use.
func loadOrCreateKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != keyLength {
			return nil, fmt.Errorf("journal: key file is %d bytes, want %d", len(key), keyLength)
		}
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("journal: failed to read key file: %w", err)
	}

	key = make([]byte, keyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("journal: failed to generate key: %w", err)
	}
	if err := os.WriteFile(path, key, 0600); err != nil {
		return nil, fmt.Errorf("journal: failed to write key file: %w", err)
	}
	return key, nil
}

// Path returns the journal directory.
func (j *Journal) Path() string {
	return j.dir
}

// Log appends one event to the current month's log file and advances the
// HMAC chain.
func (j *Journal) Log(op, source, result, target string, errInfo *ErrorInfo, ctx map[string]any) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(j.dir, 0700); err != nil {
		return fmt.Errorf("journal: failed to create directory: %w", err)
	}
	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	event := Event{
		Version:   1,
		ID:        generateEventID(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Operation: op,
		Target:    target,
		Actor: Actor{
			Type:      "user",
			Source:    source,
			SessionID: j.sessionID,
		},
		Result:  result,
		Error:   errInfo,
		Context: ctx,
	}

	j.sequence++
	event.Chain.Sequence = j.sequence
	event.Chain.PrevHash = j.prevHash
	event.Chain.HMAC = j.signEvent(&event)
	j.prevHash = event.Chain.HMAC

	if err := j.writeEvent(&event); err != nil {
		return err
	}
	return j.saveChainState()
}

// LogSuccess is a convenience method for successful operations.
func (j *Journal) LogSuccess(op, source, target string) error {
	return j.Log(op, source, ResultSuccess, target, nil, nil)
}

// LogError is a convenience method for failed operations.
func (j *Journal) LogError(op, source, target, errCode, errMsg string) error {
	return j.Log(op, source, ResultError, target, &ErrorInfo{Code: errCode, Message: errMsg}, nil)
}

// signEvent computes the record HMAC over every significant field.
// Context keys are signed in sorted order so the signature is
// deterministic.
func (j *Journal) signEvent(event *Event) string {
	actorData := event.Actor.Type + "|" + event.Actor.Source + "|" + event.Actor.SessionID

	errorData := ""
	if event.Error != nil {
		errorData = event.Error.Code + "|" + event.Error.Message
	}

	contextData := ""
	if event.Context != nil {
		keys := make([]string, 0, len(event.Context))
		for k := range event.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			contextData += fmt.Sprintf("%s=%v|", k, event.Context[k])
		}
	}

	data := fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%s|%s|%d|%s",
		event.Version,
		event.ID,
		event.Timestamp,
		event.Operation,
		event.Target,
		actorData,
		event.Result,
		errorData,
		contextData,
		event.Chain.Sequence,
		event.Chain.PrevHash,
	)

	mac := hmac.New(sha256.New, j.hmacKey)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// writeEvent appends an event to the current month's log file.
func (j *Journal) writeEvent(event *Event) error {
	name := time.Now().UTC().Format("2006-01") + ".jsonl"
	path := filepath.Join(j.dir, name)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("journal: failed to open log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("journal: failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("journal: failed to write event: %w", err)
	}
	return nil
}

// chainState is the persisted chain position.
type chainState struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
}

func (j *Journal) loadChainState() error {
	data, err := os.ReadFile(filepath.Join(j.dir, metaFileName))
	if err != nil {
		return err
	}
	var state chainState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	j.sequence = state.Sequence
	j.prevHash = state.PrevHash
	return nil
}

func (j *Journal) saveChainState() error {
	data, err := json.Marshal(chainState{Sequence: j.sequence, PrevHash: j.prevHash})
	if err != nil {
		return fmt.Errorf("journal: failed to marshal chain state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(j.dir, metaFileName), data, 0600); err != nil {
		return fmt.Errorf("journal: failed to save chain state: %w", err)
	}
	return nil
}

// generateSessionID creates a unique session identifier.
func generateSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("session-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// generateEventID creates a time-sortable unique identifier: 48 bits of
// millisecond timestamp followed by 80 random bits, hex encoded.
func generateEventID() string {
	ts := time.Now().UnixMilli()
	tsBytes := make([]byte, 6)
	for i := 5; i >= 0; i-- {
		tsBytes[i] = byte(ts & 0xFF)
		ts >>= 8
	}

	randBytes := make([]byte, 10)
	if _, err := rand.Read(randBytes); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(append(tsBytes, randBytes...))
}

// VerifyResult contains the results of chain verification.
type VerifyResult struct {
	Valid           bool     `json:"valid"`
	RecordsTotal    int      `json:"records_total"`
	RecordsVerified int      `json:"records_verified"`
	Errors          []string `json:"errors,omitempty"`
}

// Verify re-walks the whole chain checking sequence continuity, link
// hashes, and each record's HMAC.
func (j *Journal) Verify() (*VerifyResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	result := &VerifyResult{Valid: true}

	files, err := j.logFiles()
	if err != nil {
		return nil, err
	}

	expectedPrev := chainGenesis
	var expectedSeq int64 = 1

	for _, file := range files {
		events, err := readLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("journal: failed to read %s: %w", file, err)
		}

		for i := range events {
			event := &events[i]
			result.RecordsTotal++

			if event.Chain.Sequence != expectedSeq {
				result.Valid = false
				result.Errors = append(result.Errors, fmt.Sprintf(
					"sequence gap at record %s: expected %d, got %d",
					event.ID, expectedSeq, event.Chain.Sequence))
			}
			if event.Chain.PrevHash != expectedPrev {
				result.Valid = false
				result.Errors = append(result.Errors, fmt.Sprintf(
					"chain broken at record %s: expected prev %s, got %s",
					event.ID, expectedPrev, event.Chain.PrevHash))
			}
			if event.Chain.HMAC != j.signEvent(event) {
				result.Valid = false
				result.Errors = append(result.Errors, fmt.Sprintf(
					"HMAC mismatch at record %s: possible tampering", event.ID))
			}

			expectedPrev = event.Chain.HMAC
			expectedSeq++
		}
	}

	result.RecordsVerified = result.RecordsTotal
	return result, nil
}

// List returns journal events in chronological order.
// limit: maximum number of events to return, keeping the most recent
// (0 = all). since: only return events after this time (zero = no
// filter).
func (j *Journal) List(limit int, since time.Time) ([]Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	events, err := j.readAll()
	if err != nil {
		return nil, err
	}

	if !since.IsZero() {
		var filtered []Event
		for _, event := range events {
			ts, err := time.Parse(time.RFC3339Nano, event.Timestamp)
			if err != nil {
				continue
			}
			if ts.After(since) {
				filtered = append(filtered, event)
			}
		}
		events = filtered
	}

	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

// Export renders events in the given format (json or csv). since and
// until bound the range; zero values mean no bound.
func (j *Journal) Export(format string, since, until time.Time) ([]byte, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	all, err := j.readAll()
	if err != nil {
		return nil, err
	}

	var events []Event
	for _, event := range all {
		ts, err := time.Parse(time.RFC3339Nano, event.Timestamp)
		if err != nil {
			continue
		}
		if !since.IsZero() && ts.Before(since) {
			continue
		}
		if !until.IsZero() && ts.After(until) {
			continue
		}
		events = append(events, event)
	}

	switch format {
	case "csv":
		return formatCSV(events), nil
	case "json":
		return json.MarshalIndent(events, "", "  ")
	default:
		return nil, fmt.Errorf("journal: unsupported format: %s", format)
	}
}

// formatCSV renders events as CSV with injection-safe escaping.
func formatCSV(events []Event) []byte {
	var out []byte
	out = append(out, []byte("timestamp,operation,target,result\n")...)
	for _, event := range events {
		line := fmt.Sprintf("%s,%s,%s,%s\n",
			csvEscape(event.Timestamp),
			csvEscape(event.Operation),
			csvEscape(event.Target),
			csvEscape(event.Result),
		)
		out = append(out, []byte(line)...)
	}
	return out
}

// csvEscape quotes a field when it contains CSV structure or starts with
// a spreadsheet formula character.
func csvEscape(field string) string {
	if field == "" {
		return field
	}

	needsQuoting := false
	switch field[0] {
	case '=', '+', '-', '@':
		needsQuoting = true
	}
	if !needsQuoting {
		for _, c := range field {
			if c == ',' || c == '"' || c == '\n' || c == '\r' {
				needsQuoting = true
				break
			}
		}
	}
	if !needsQuoting {
		return field
	}

	var escaped []byte
	escaped = append(escaped, '"')
	for _, c := range field {
		if c == '"' {
			escaped = append(escaped, '"', '"')
		} else {
			escaped = append(escaped, byte(c))
		}
	}
	escaped = append(escaped, '"')
	return string(escaped)
}

// Prune deletes journal entries older than the given duration. Whole
// files of old entries are removed; mixed files are rewritten through a
// temporary file. Returns the number of deleted entries.
func (j *Journal) Prune(olderThan time.Duration) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	files, err := j.logFiles()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, file := range files {
		events, err := readLogFile(file)
		if err != nil {
			return deleted, fmt.Errorf("journal: failed to read %s: %w", file, err)
		}

		allOld := true
		for _, event := range events {
			ts, err := time.Parse(time.RFC3339Nano, event.Timestamp)
			if err != nil {
				continue
			}
			if ts.After(cutoff) {
				allOld = false
				break
			}
		}

		if allOld && len(events) > 0 {
			if err := os.Remove(file); err != nil {
				return deleted, fmt.Errorf("journal: failed to delete %s: %w", file, err)
			}
			deleted += len(events)
			continue
		}

		if !allOld {
			var remaining []Event
			for _, event := range events {
				ts, err := time.Parse(time.RFC3339Nano, event.Timestamp)
				if err != nil {
					remaining = append(remaining, event)
					continue
				}
				if ts.After(cutoff) {
					remaining = append(remaining, event)
				} else {
					deleted++
				}
			}

			if len(remaining) == 0 {
				if err := os.Remove(file); err != nil {
					return deleted, fmt.Errorf("journal: failed to delete %s: %w", file, err)
				}
			} else if len(remaining) < len(events) {
				if err := rewriteLogFile(file, remaining); err != nil {
					return deleted, fmt.Errorf("journal: failed to rewrite %s: %w", file, err)
				}
			}
		}
	}
	return deleted, nil
}

// PrunePreview returns the count of entries Prune would delete.
func (j *Journal) PrunePreview(olderThan time.Duration) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	files, err := j.logFiles()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, file := range files {
		events, err := readLogFile(file)
		if err != nil {
			return 0, fmt.Errorf("journal: failed to read %s: %w", file, err)
		}
		for _, event := range events {
			ts, err := time.Parse(time.RFC3339Nano, event.Timestamp)
			if err != nil {
				continue
			}
			if ts.Before(cutoff) {
				count++
			}
		}
	}
	return count, nil
}

// logFiles lists the monthly log files in chronological order. The
// YYYY-MM naming makes lexical order chronological.
func (j *Journal) logFiles() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(j.dir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("journal: failed to list log files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// readAll loads every event across all monthly files.
func (j *Journal) readAll() ([]Event, error) {
	files, err := j.logFiles()
	if err != nil {
		return nil, err
	}
	var all []Event
	for _, file := range files {
		events, err := readLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("journal: failed to read %s: %w", file, err)
		}
		all = append(all, events...)
	}
	return all, nil
}

// readLogFile parses one JSON Lines file.
func readLogFile(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var events []Event
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("failed to parse line: %w", err)
		}
		events = append(events, event)
	}
	return events, nil
}

// rewriteLogFile replaces a log file's contents through a temp file and
// rename.
func rewriteLogFile(path string, events []Event) error {
	tempPath := path + ".tmp"
	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}

	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			f.Close()
			os.Remove(tempPath)
			return err
		}
		if _, err := f.Write(append(data, '\n')); err != nil {
			f.Close()
			os.Remove(tempPath)
			return err
		}
	}

	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return err
	}
	return os.Rename(tempPath, path)
}
