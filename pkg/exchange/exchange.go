// Package exchange implements the export/import envelope codecs.
// Supports JSON, YAML, CSV, and XML; JSON and YAML round-trip the full
// document structure, while CSV and XML are flattened views.
package exchange

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Format identifies an exchange encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCSV  Format = "csv"
	FormatXML  Format = "xml"
)

// ErrUnknownFormat indicates a format name or file extension that no codec
// handles.
var ErrUnknownFormat = errors.New("exchange: unknown format")

// Document is one exported archive document, as decoded from its .json
// file. Arbitrary nesting is allowed.
type Document map[string]any

// EnvelopeMeta describes one export operation.
type EnvelopeMeta struct {
	Timestamp       time.Time `json:"timestamp" yaml:"timestamp"`
	Version         string    `json:"version" yaml:"version"`
	Format          string    `json:"format" yaml:"format"`
	IncludeMetadata bool      `json:"include_metadata" yaml:"include_metadata"`
}

// Envelope is the full exchange payload: metadata plus every category's
// documents.
type Envelope struct {
	Meta     EnvelopeMeta          `json:"export_metadata" yaml:"export_metadata"`
	Archives map[string][]Document `json:"archives" yaml:"archives"`
}

// Codec encodes and decodes envelopes in one format.
type Codec interface {
	// Encode writes the envelope to w.
	Encode(w io.Writer, env *Envelope) error

	// Decode reads an envelope from r.
	Decode(r io.Reader) (*Envelope, error)

	// Format returns the format this codec handles.
	Format() Format
}

// ForFormat returns the codec for a format name.
func ForFormat(format string) (Codec, error) {
	switch Format(strings.ToLower(format)) {
	case FormatJSON:
		return jsonCodec{}, nil
	case FormatYAML:
		return yamlCodec{}, nil
	case FormatCSV:
		return csvCodec{}, nil
	case FormatXML:
		return xmlCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
}

// ValidFormats returns the supported format names.
func ValidFormats() []string {
	return []string{
		string(FormatJSON),
		string(FormatYAML),
		string(FormatCSV),
		string(FormatXML),
	}
}

// DetectFormat infers the format from a file extension.
func DetectFormat(path string) (Format, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "yml" {
		ext = "yaml"
	}
	c, err := ForFormat(ext)
	if err != nil {
		return "", fmt.Errorf("%w: extension %q", ErrUnknownFormat, filepath.Ext(path))
	}
	return c.Format(), nil
}

// Lossy reports whether a format drops document structure on encode.
func Lossy(f Format) bool {
	return f == FormatCSV || f == FormatXML
}

// idCharRegex matches characters not allowed in document ids.
var idCharRegex = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// MaxIDLength is the maximum length of a sanitized document id.
const MaxIDLength = 128

// SanitizeID normalizes an imported document id into a safe file stem:
// Unicode NFC, spaces to underscores, invalid characters removed, leading
// and trailing dots stripped so ids never become dotfiles or path
// navigation, truncated to MaxIDLength.
func SanitizeID(id string) string {
	id = norm.NFC.String(id)
	id = strings.ReplaceAll(id, " ", "_")
	id = idCharRegex.ReplaceAllString(id, "")
	id = strings.Trim(id, ".")
	if len(id) > MaxIDLength {
		id = id[:MaxIDLength]
	}
	return id
}

// DocumentMetadata returns the document's embedded metadata block, if any.
func DocumentMetadata(doc Document) map[string]any {
	if m, ok := doc["metadata"].(map[string]any); ok {
		return m
	}
	return nil
}

// DocumentID extracts the document id from its metadata block.
func DocumentID(doc Document) string {
	meta := DocumentMetadata(doc)
	if meta == nil {
		return ""
	}
	if id, ok := meta["id"].(string); ok {
		return id
	}
	return ""
}
