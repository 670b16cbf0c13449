package manager

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileInfo describes one regular file in an archive category.
type FileInfo struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Created   time.Time `json:"created_time"`
	Modified  time.Time `json:"modified_time"`
	Extension string    `json:"extension"`
	Type      string    `json:"type"`

	// Filled from the embedded metadata block of parseable .json
	// documents.
	DocType      string   `json:"doc_type,omitempty"`
	Significance float64  `json:"significance,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Source       string   `json:"source,omitempty"`
}

// fileTypes maps extensions to inferred content types.
var fileTypes = map[string]string{
	".json":      "record",
	".onepai":    "archive",
	".encrypted": "encrypted",
	".key":       "key",
	".backup":    "backup",
	".shadow":    "shadow",
	".silence":   "silence",
	".void":      "void",
}

// fileType infers the content type from the file extension.
func fileType(path string) string {
	if t, ok := fileTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return t
	}
	return "unknown"
}

// fileInfo builds a FileInfo from a path and its stat result. Birth time
// is not portable, so Created carries the modification time.
func fileInfo(path string, st os.FileInfo) FileInfo {
	info := FileInfo{
		Name:      st.Name(),
		Path:      path,
		Size:      st.Size(),
		Created:   st.ModTime(),
		Modified:  st.ModTime(),
		Extension: filepath.Ext(path),
		Type:      fileType(path),
	}
	if strings.EqualFold(info.Extension, ".json") {
		enrichFromDocument(&info)
	}
	return info
}

// enrichFromDocument copies type, significance, tags, and source out of a
// document's metadata block. Parse failures leave the fields empty.
func enrichFromDocument(info *FileInfo) {
	data, err := os.ReadFile(info.Path)
	if err != nil {
		return
	}
	var doc struct {
		Metadata *struct {
			Type         string   `json:"type"`
			Significance float64  `json:"significance"`
			Tags         []string `json:"tags"`
			Source       string   `json:"source"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(data, &doc); err != nil || doc.Metadata == nil {
		return
	}
	info.DocType = doc.Metadata.Type
	info.Significance = doc.Metadata.Significance
	info.Tags = doc.Metadata.Tags
	info.Source = doc.Metadata.Source
}
