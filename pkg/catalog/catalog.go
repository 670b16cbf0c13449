// Package catalog stores generated-but-withheld items in a directory of
// JSON content files under a single index. The index is the authority:
// item lookups, queries, and statistics never scan the content files.
package catalog

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no item has the requested id.
	ErrNotFound = errors.New("catalog: item not found")

	// ErrNoItems is returned when an export matches no items.
	ErrNoItems = errors.New("catalog: no items to export")
)

const (
	indexFile = "index.json"
	itemsDir  = "items"

	dirMode  = 0700
	fileMode = 0600
)

// Item is one withheld content sample.
type Item struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	ContentType string         `json:"content_type"`
	Content     any            `json:"content"`
	Context     map[string]any `json:"context,omitempty"`
	// Confidence estimates how pertinent the withheld content was (0-1).
	Confidence      float64 `json:"confidence"`
	RejectionReason string  `json:"rejection_reason,omitempty"`
}

// indexEntry carries everything about an item except its content.
type indexEntry struct {
	Timestamp       time.Time      `json:"timestamp"`
	ContentType     string         `json:"content_type"`
	ContentHash     string         `json:"content_hash"`
	Context         map[string]any `json:"context,omitempty"`
	Confidence      float64        `json:"confidence"`
	RejectionReason string         `json:"rejection_reason,omitempty"`
}

// Catalog is a directory-backed item store.
type Catalog struct {
	dir   string
	index map[string]indexEntry
}

// Open opens or creates a catalog rooted at dir.
func Open(dir string) (*Catalog, error) {
	if err := os.MkdirAll(filepath.Join(dir, itemsDir), dirMode); err != nil {
		return nil, fmt.Errorf("catalog: failed to create directory: %w", err)
	}

	c := &Catalog{dir: dir, index: make(map[string]indexEntry)}

	data, err := os.ReadFile(filepath.Join(dir, indexFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c, nil
		}
		return nil, fmt.Errorf("catalog: failed to read index: %w", err)
	}
	if err := json.Unmarshal(data, &c.index); err != nil {
		return nil, fmt.Errorf("catalog: failed to parse index: %w", err)
	}
	return c, nil
}

// Dir returns the catalog root directory.
func (c *Catalog) Dir() string {
	return c.dir
}

// Len returns the number of indexed items.
func (c *Catalog) Len() int {
	return len(c.index)
}

// AddOptions carries the optional fields of a new item.
type AddOptions struct {
	// Context records the circumstances the content was generated in.
	Context map[string]any
	// Confidence estimates pertinence (0-1).
	Confidence float64
	// RejectionReason states why the content was withheld.
	RejectionReason string
}

// Add stores a new item and returns it with its assigned id. The content
// must be JSON-serializable; it is written to its own file before the
// index is updated, so a crash between the two leaves the index
// consistent.
func (c *Catalog) Add(contentType string, content any, opts AddOptions) (*Item, error) {
	item := &Item{
		ID:              uuid.NewString(),
		Timestamp:       time.Now().UTC(),
		ContentType:     contentType,
		Content:         content,
		Context:         opts.Context,
		Confidence:      opts.Confidence,
		RejectionReason: opts.RejectionReason,
	}

	hash, err := contentHash(content)
	if err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to encode content: %w", err)
	}
	if err := os.WriteFile(c.itemPath(item.ID), data, fileMode); err != nil {
		return nil, fmt.Errorf("catalog: failed to write item: %w", err)
	}

	c.index[item.ID] = indexEntry{
		Timestamp:       item.Timestamp,
		ContentType:     item.ContentType,
		ContentHash:     hash,
		Context:         item.Context,
		Confidence:      item.Confidence,
		RejectionReason: item.RejectionReason,
	}
	if err := c.saveIndex(); err != nil {
		return nil, err
	}
	return item, nil
}

// Get loads one item by id.
func (c *Catalog) Get(id string) (*Item, error) {
	entry, ok := c.index[id]
	if !ok {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(c.itemPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: content file missing for %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("catalog: failed to read item %s: %w", id, err)
	}

	var content any
	if err := json.Unmarshal(data, &content); err != nil {
		return nil, fmt.Errorf("catalog: failed to parse item %s: %w", id, err)
	}

	return &Item{
		ID:              id,
		Timestamp:       entry.Timestamp,
		ContentType:     entry.ContentType,
		Content:         content,
		Context:         entry.Context,
		Confidence:      entry.Confidence,
		RejectionReason: entry.RejectionReason,
	}, nil
}

// Filter restricts Query results. Zero values leave a dimension open.
type Filter struct {
	// Since keeps items at or after this time.
	Since time.Time
	// Until keeps items at or before this time.
	Until time.Time
	// ContentTypes keeps items of any listed type.
	ContentTypes []string
	// MinConfidence keeps items at or above this confidence.
	MinConfidence float64
}

func (f Filter) matches(entry indexEntry) bool {
	if !f.Since.IsZero() && entry.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && entry.Timestamp.After(f.Until) {
		return false
	}
	if len(f.ContentTypes) > 0 {
		found := false
		for _, ct := range f.ContentTypes {
			if entry.ContentType == ct {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if entry.Confidence < f.MinConfidence {
		return false
	}
	return true
}

// Query returns the items matching the filter, newest first. limit caps
// the result when positive; it is applied after sorting, so the newest
// matches win.
func (c *Catalog) Query(filter Filter, limit int) ([]*Item, error) {
	var ids []string
	for id, entry := range c.index {
		if filter.matches(entry) {
			ids = append(ids, id)
		}
	}

	sort.Slice(ids, func(i, j int) bool {
		a, b := c.index[ids[i]], c.index[ids[j]]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return ids[i] < ids[j]
	})
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	items := make([]*Item, 0, len(ids))
	for _, id := range ids {
		item, err := c.Get(id)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Stats summarizes the catalog contents.
type Stats struct {
	TotalItems int `json:"total_items"`
	// ContentTypes counts items per content type.
	ContentTypes map[string]int `json:"content_types"`
	// RejectionReasons counts items per withholding reason; items with
	// no recorded reason count under "unknown".
	RejectionReasons map[string]int `json:"rejection_reasons"`
	// ConfidenceMean averages confidence across all items.
	ConfidenceMean float64 `json:"confidence_mean"`
	// ByMonth counts items per YYYY-MM bucket.
	ByMonth map[string]int `json:"by_month"`
}

// Statistics aggregates counts from the index alone.
func (c *Catalog) Statistics() *Stats {
	stats := &Stats{
		TotalItems:       len(c.index),
		ContentTypes:     make(map[string]int),
		RejectionReasons: make(map[string]int),
		ByMonth:          make(map[string]int),
	}

	sum := 0.0
	for _, entry := range c.index {
		stats.ContentTypes[entry.ContentType]++

		reason := entry.RejectionReason
		if reason == "" {
			reason = "unknown"
		}
		stats.RejectionReasons[reason]++

		sum += entry.Confidence
		stats.ByMonth[entry.Timestamp.Format("2006-01")]++
	}
	if stats.TotalItems > 0 {
		stats.ConfidenceMean = sum / float64(stats.TotalItems)
	}
	return stats
}

// Export writes the listed items to path in the given format (json or
// csv). Unknown ids are skipped; an export that matches nothing fails
// with ErrNoItems.
func (c *Catalog) Export(ids []string, path, format string) error {
	var items []*Item
	for _, id := range ids {
		item, err := c.Get(id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return err
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return ErrNoItems
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, dirMode); err != nil {
			return fmt.Errorf("catalog: failed to create export directory: %w", err)
		}
	}

	switch format {
	case "json", "":
		return exportJSON(items, path)
	case "csv":
		return exportCSV(items, path)
	default:
		return fmt.Errorf("catalog: unsupported export format: %s", format)
	}
}

func exportJSON(items []*Item, path string) error {
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("catalog: failed to encode export: %w", err)
	}
	if err := os.WriteFile(path, data, fileMode); err != nil {
		return fmt.Errorf("catalog: failed to write export: %w", err)
	}
	return nil
}

func exportCSV(items []*Item, path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fileMode)
	if err != nil {
		return fmt.Errorf("catalog: failed to create export: %w", err)
	}

	w := csv.NewWriter(f)
	werr := func() error {
		if err := w.Write([]string{"id", "timestamp", "content_type", "confidence", "rejection_reason", "content"}); err != nil {
			return err
		}
		for _, item := range items {
			content, err := json.Marshal(item.Content)
			if err != nil {
				return err
			}
			record := []string{
				item.ID,
				item.Timestamp.UTC().Format(time.RFC3339),
				item.ContentType,
				strconv.FormatFloat(item.Confidence, 'f', -1, 64),
				item.RejectionReason,
				string(content),
			}
			if err := w.Write(record); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	}()
	if werr != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("catalog: failed to write export: %w", werr)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("catalog: failed to close export: %w", err)
	}
	return nil
}

func (c *Catalog) itemPath(id string) string {
	return filepath.Join(c.dir, itemsDir, id+".json")
}

// saveIndex rewrites the index through a temp file and rename.
func (c *Catalog) saveIndex() error {
	data, err := json.MarshalIndent(c.index, "", "  ")
	if err != nil {
		return fmt.Errorf("catalog: failed to encode index: %w", err)
	}

	tempPath := filepath.Join(c.dir, indexFile+".tmp")
	if err := os.WriteFile(tempPath, data, fileMode); err != nil {
		return fmt.Errorf("catalog: failed to write index: %w", err)
	}
	if err := os.Rename(tempPath, filepath.Join(c.dir, indexFile)); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("catalog: failed to replace index: %w", err)
	}
	return nil
}

// contentHash is the hex SHA-256 of the content's canonical JSON form.
// encoding/json emits map keys in sorted order, which is canonical
// enough for identity here.
func contentHash(content any) (string, error) {
	data, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("catalog: content is not JSON-serializable: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
